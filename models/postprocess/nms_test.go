package postprocess

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-seg/images"
)

func cand(index, class int, score float32, box images.Box) Candidate {
	return Candidate{Index: index, Class: class, Score: score, Box: box}
}

func indices(cs []Candidate) []int {
	out := make([]int, len(cs))
	for i, c := range cs {
		out[i] = c.Index
	}
	return out
}

func TestApplyGreedyNMS(t *testing.T) {
	a := images.Box{X1: 0, Y1: 0, X2: 100, Y2: 100}
	aShift := images.Box{X1: 5, Y1: 5, X2: 105, Y2: 105}
	far := images.Box{X1: 300, Y1: 300, X2: 400, Y2: 400}

	tests := []struct {
		name       string
		candidates []Candidate
		config     NMSConfig
		want       []int
	}{
		{
			name:       "empty",
			candidates: nil,
			config:     NMSConfig{IoUThreshold: 0.45, ClassAware: true},
			want:       nil,
		},
		{
			name: "suppresses lower score overlap",
			candidates: []Candidate{
				cand(0, 0, 0.6, aShift),
				cand(1, 0, 0.9, a),
			},
			config: NMSConfig{IoUThreshold: 0.45, ClassAware: true},
			want:   []int{1},
		},
		{
			name: "keeps disjoint boxes",
			candidates: []Candidate{
				cand(0, 0, 0.6, a),
				cand(1, 0, 0.9, far),
			},
			config: NMSConfig{IoUThreshold: 0.45, ClassAware: true},
			want:   []int{1, 0},
		},
		{
			name: "class aware keeps other classes",
			candidates: []Candidate{
				cand(0, 0, 0.9, a),
				cand(1, 2, 0.8, aShift),
			},
			config: NMSConfig{IoUThreshold: 0.45, ClassAware: true},
			want:   []int{0, 1},
		},
		{
			name: "class agnostic suppresses across classes",
			candidates: []Candidate{
				cand(0, 0, 0.9, a),
				cand(1, 2, 0.8, aShift),
			},
			config: NMSConfig{IoUThreshold: 0.45, ClassAware: false},
			want:   []int{0},
		},
		{
			name: "overlap at threshold is kept",
			candidates: []Candidate{
				cand(0, 0, 0.9, images.Box{X1: 0, Y1: 0, X2: 100, Y2: 100}),
				cand(1, 0, 0.8, images.Box{X1: 0, Y1: 0, X2: 100, Y2: 50}),
			},
			config: NMSConfig{IoUThreshold: 0.5, ClassAware: true},
			want:   []int{0, 1},
		},
		{
			name: "nan scores sort last",
			candidates: []Candidate{
				cand(0, 0, math32.NaN(), a),
				cand(1, 0, 0.9, aShift),
			},
			config: NMSConfig{IoUThreshold: 0.45, ClassAware: true},
			want:   []int{1},
		},
		{
			name: "max detections",
			candidates: []Candidate{
				cand(0, 0, 0.5, a),
				cand(1, 1, 0.7, a),
				cand(2, 2, 0.9, a),
			},
			config: NMSConfig{IoUThreshold: 0.45, ClassAware: true, MaxDetections: 2},
			want:   []int{2, 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ApplyGreedyNMS(tt.candidates, tt.config)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			assert.Equal(t, tt.want, indices(got))
		})
	}
}

func TestApplyGreedyNMSStableTies(t *testing.T) {
	box := images.Box{X1: 10, Y1: 10, X2: 50, Y2: 50}
	candidates := []Candidate{
		cand(0, 0, 0.7, box),
		cand(1, 0, 0.7, box),
		cand(2, 0, 0.7, box),
		cand(3, 1, 0.7, box),
	}

	first := ApplyGreedyNMS(candidates, NMSConfig{IoUThreshold: 0.45, ClassAware: true})
	require.Equal(t, []int{0, 3}, indices(first), "ties must resolve to the earliest candidate")

	for i := 0; i < 20; i++ {
		again := ApplyGreedyNMS(candidates, NMSConfig{IoUThreshold: 0.45, ClassAware: true})
		assert.Equal(t, first, again)
	}

	assert.Equal(t, []int{0, 1, 2, 3}, indices(candidates), "input must not be reordered")
}

func TestApplyGreedyNMSNoSurvivingOverlap(t *testing.T) {
	var candidates []Candidate
	for i := 0; i < 40; i++ {
		off := float32(i * 7)
		candidates = append(candidates, cand(i, i%3, float32(i%11)/11, images.Box{X1: off, Y1: 0, X2: off + 60, Y2: 60}))
	}

	config := NMSConfig{IoUThreshold: 0.45, ClassAware: true}
	kept := ApplyGreedyNMS(candidates, config)
	for i := range kept {
		for j := i + 1; j < len(kept); j++ {
			if kept[i].Class != kept[j].Class {
				continue
			}
			assert.LessOrEqual(t, images.CalculateIoU(kept[i].Box, kept[j].Box), config.IoUThreshold)
		}
	}
	for i := 1; i < len(kept); i++ {
		assert.GreaterOrEqual(t, kept[i-1].Score, kept[i].Score)
	}
}
