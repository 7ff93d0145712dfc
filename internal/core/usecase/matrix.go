package usecase

import "math"

// DistanceMatrix holds normalized incremental costs over a document pool.
// Cell (i, j) is the cost of appending document j to a blob seeded with
// document i, divided by the standalone size of j. Missing measurements are NaN.
type DistanceMatrix struct {
	cells [][]float64
}

func NewDistanceMatrix(n int) *DistanceMatrix {
	cells := make([][]float64, n)
	for i := range cells {
		cells[i] = make([]float64, n)
		for j := range cells[i] {
			cells[i][j] = math.NaN()
		}
	}
	return &DistanceMatrix{cells: cells}
}

func (m *DistanceMatrix) Len() int { return len(m.cells) }

func (m *DistanceMatrix) Set(i, j int, v float64) { m.cells[i][j] = v }

func (m *DistanceMatrix) At(i, j int) float64 { return m.cells[i][j] }

// columnMean averages column j over the active rows other than j, skipping
// missing cells. A column without any measurement has mean +Inf.
func (m *DistanceMatrix) columnMean(j int, active []int) float64 {
	sum := 0.0
	count := 0
	for _, i := range active {
		if i == j {
			continue
		}
		v := m.cells[i][j]
		if math.IsNaN(v) {
			continue
		}
		sum += v
		count++
	}
	if count == 0 {
		return math.Inf(1)
	}
	return sum / float64(count)
}

// Peel greedily extracts up to k indices. Each round takes the active
// document that is cheapest to explain with the rest of the active pool and
// drops its row and column. Ties go to the lowest index.
func (m *DistanceMatrix) Peel(k int) []int {
	active := make([]int, m.Len())
	for i := range active {
		active[i] = i
	}

	selected := make([]int, 0, min(k, len(active)))
	for len(selected) < k && len(active) > 0 {
		bestPos := 0
		bestMean := m.columnMean(active[0], active)
		for pos := 1; pos < len(active); pos++ {
			mean := m.columnMean(active[pos], active)
			if mean < bestMean {
				bestPos, bestMean = pos, mean
			}
		}
		selected = append(selected, active[bestPos])
		active = append(active[:bestPos], active[bestPos+1:]...)
	}
	return selected
}
