package plagiarism

import (
	"math"
	"sort"

	"github.com/RishiKendai/plagcode/internal/models"
	"gonum.org/v1/gonum/stat"
)

// Label thresholds on the 0-100 similarity scale
const (
	HighThreshold   = 70.0
	MediumThreshold = 40.0
)

// GetLabel classifies a similarity score
func GetLabel(similarity float64) models.Label {
	if similarity >= HighThreshold {
		return models.LabelHigh
	} else if similarity >= MediumThreshold {
		return models.LabelMedium
	}
	return models.LabelLow
}

// RoundSimilarity rounds to one decimal and clamps to [0, 100]
func RoundSimilarity(v float64) float64 {
	v = math.Round(v*10) / 10
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Summary aggregates the pair rows of a scan
type Summary struct {
	HighRiskCount  int
	TopSimilarity  float64
	MeanSimilarity float64
}

// Summarize computes the history fields for a finished scan
func Summarize(rows []models.PairResult) Summary {
	if len(rows) == 0 {
		return Summary{}
	}

	sims := make([]float64, len(rows))
	var s Summary
	for i, row := range rows {
		sims[i] = row.Similarity
		if row.Label == models.LabelHigh {
			s.HighRiskCount++
		}
		if row.Similarity > s.TopSimilarity {
			s.TopSimilarity = row.Similarity
		}
	}
	s.MeanSimilarity = RoundSimilarity(stat.Mean(sims, nil))
	return s
}

// SortResults orders rows by similarity descending, then by file names
func SortResults(rows []models.PairResult) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if a.FileA != b.FileA {
			return a.FileA < b.FileA
		}
		return a.FileB < b.FileB
	})
}
