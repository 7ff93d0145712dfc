package domain

import "time"

// SelectionReport describes one greedy core selection run.
type SelectionReport struct {
	Category        string   `json:"category"`
	PoolSize        int      `json:"pool_size"`
	Requested       int      `json:"requested"`
	Selected        []string `json:"selected"`
	FailedBaselines []string `json:"failed_baselines,omitempty"`
	FailedCells     int      `json:"failed_cells"`
	Shortfall       bool     `json:"shortfall"`
	ArchivePath     string   `json:"archive_path,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// RefinementState is the durable part of a refinement search.
// Selected and Remaining never share a name.
type RefinementState struct {
	Selected  []string `json:"selected"`
	Remaining []string `json:"remaining"`
	Iteration int      `json:"iteration"`
}

type RefinementStatus string

const (
	RefinementConverged RefinementStatus = "converged"
	RefinementSatisfied RefinementStatus = "satisfied"
)

type RefinementStep struct {
	Iteration    int     `json:"iteration"`
	Accepted     string  `json:"accepted"`
	Accuracy     float64 `json:"accuracy"`
	Trials       int     `json:"trials"`
	FailedTrials int     `json:"failed_trials"`
	DroppedStub  string  `json:"dropped_stub,omitempty"`
}

type RefinementReport struct {
	Category            string           `json:"category"`
	Status              RefinementStatus `json:"status"`
	TargetSize          int              `json:"target_size"`
	Selected            []string         `json:"selected"`
	Iteration           int              `json:"iteration"`
	BestAccuracy        float64          `json:"best_accuracy"`
	Resumed             bool             `json:"resumed"`
	CheckpointDiscarded bool             `json:"checkpoint_discarded"`
	StubsSampled        int              `json:"stubs_sampled"`
	StubShortfall       bool             `json:"stub_shortfall"`
	Steps               []RefinementStep `json:"steps"`
	ArchivePath         string           `json:"archive_path,omitempty"`
	StartedAt           time.Time        `json:"started_at"`
	FinishedAt          time.Time        `json:"finished_at"`
}
