package session

import (
	"math"
	"sort"

	"github.com/cloo-solutions/interviewcoach/internal/domain"
)

// Stats summarizes a user's sessions
type Stats struct {
	Total       int     `json:"total"`
	Average     float64 `json:"average"`
	Improvement float64 `json:"improvement"`
}

// ComputeStats averages the overall scores of scored sessions. Improvement is
// the mean of the newer half of the scores minus the mean of the older half;
// with an odd count the middle score belongs to the older half.
func ComputeStats(sessions []*domain.Session) Stats {
	scored := make([]*domain.Session, 0, len(sessions))
	for _, s := range sessions {
		if s.OverallScore != nil {
			scored = append(scored, s)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].CreatedAt.After(scored[j].CreatedAt)
	})

	stats := Stats{Total: len(sessions)}
	if len(scored) == 0 {
		return stats
	}

	scores := make([]float64, len(scored))
	for i, s := range scored {
		scores[i] = *s.OverallScore
	}
	stats.Average = round2(mean(scores))
	if len(scores) >= 2 {
		mid := len(scores) / 2
		stats.Improvement = round2(mean(scores[:mid]) - mean(scores[mid:]))
	}
	return stats
}

func mean(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
