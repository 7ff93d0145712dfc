package domain

import (
	"sort"
	"time"
)

// Verdict is the outcome of probing one document against every core.
type Verdict struct {
	Document     string            `json:"document"`
	Category     string            `json:"category,omitempty"`
	Costs        map[string]int64  `json:"costs"`
	Failures     map[string]string `json:"failures,omitempty"`
	Undetermined bool              `json:"undetermined"`
}

type CategoryStats struct {
	Total        int `json:"total"`
	Correct      int `json:"correct"`
	Undetermined int `json:"undetermined"`
}

// Accuracy is the share of correct predictions in percent.
func (s CategoryStats) Accuracy() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Correct) / float64(s.Total) * 100
}

type Prediction struct {
	Document     string `json:"document"`
	Category     string `json:"category"`
	Predicted    string `json:"predicted,omitempty"`
	Undetermined bool   `json:"undetermined"`
}

type EvaluationReport struct {
	RunID        string                   `json:"run_id"`
	StartedAt    time.Time                `json:"started_at"`
	FinishedAt   time.Time                `json:"finished_at"`
	Total        int                      `json:"total"`
	Correct      int                      `json:"correct"`
	Undetermined int                      `json:"undetermined"`
	PerCategory  map[string]CategoryStats `json:"per_category"`
	Predictions  []Prediction             `json:"predictions"`
}

func (r EvaluationReport) Accuracy() float64 {
	return CategoryStats{Total: r.Total, Correct: r.Correct}.Accuracy()
}

func (r EvaluationReport) CategoryAccuracy(category string) float64 {
	return r.PerCategory[category].Accuracy()
}

// CategoriesByAccuracy lists categories from the best to the worst accuracy.
// Equal accuracies keep name order.
func (r EvaluationReport) CategoriesByAccuracy() []string {
	names := make([]string, 0, len(r.PerCategory))
	for name := range r.PerCategory {
		names = append(names, name)
	}
	sort.Strings(names)
	sort.SliceStable(names, func(i, j int) bool {
		return r.PerCategory[names[i]].Accuracy() > r.PerCategory[names[j]].Accuracy()
	})
	return names
}

// WorstCategory returns the category with the lowest accuracy, the
// lexicographically smallest one on ties.
func (r EvaluationReport) WorstCategory() (string, bool) {
	ordered := r.CategoriesByAccuracy()
	if len(ordered) == 0 {
		return "", false
	}
	worst := ordered[len(ordered)-1]
	worstAcc := r.PerCategory[worst].Accuracy()
	for _, name := range ordered {
		if r.PerCategory[name].Accuracy() == worstAcc {
			return name, true
		}
	}
	return worst, true
}
