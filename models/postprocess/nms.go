package postprocess

import (
	"sort"

	"github.com/chewxy/math32"

	"github.com/nvr-ai/go-seg/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold  float32 // Overlap above which the lower scoring box is suppressed.
	ClassAware    bool    // If true, suppress only within same class.
	MaxDetections int     // Upper bound on kept boxes. Zero means no limit.
}

// SortByScore orders candidates by descending score, NaN scores last.
//
// The sort is stable, so candidates with equal scores keep their anchor order
// and repeated runs on the same input always agree.
func SortByScore(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i].Score, candidates[j].Score
		return a > b || (math32.IsNaN(b) && !math32.IsNaN(a))
	})
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// The highest scoring remaining candidate is kept and every later candidate
// overlapping it by more than the threshold is dropped, until none remain.
//
// Arguments:
//   - candidates: Candidates in any order. The slice is not modified.
//   - config: NMS configuration.
//
// Returns:
//   - Kept candidates, highest score first. If no candidates are provided, returns nil.
func ApplyGreedyNMS(candidates []Candidate, config NMSConfig) []Candidate {
	n := len(candidates)
	if n == 0 {
		return nil
	}

	sorted := append([]Candidate(nil), candidates...)
	SortByScore(sorted)

	filtered := make([]Candidate, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := sorted[i]
		filtered = append(filtered, anchor)
		used[i] = true
		if config.MaxDetections > 0 && len(filtered) == config.MaxDetections {
			break
		}

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if config.ClassAware && sorted[j].Class != anchor.Class {
				continue
			}

			// Suppress if IoU exceeds threshold
			if images.CalculateIoU(anchor.Box, sorted[j].Box) > config.IoUThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}
