package images

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestIoU_Correctness validates the IoU implementation against known test cases
func TestIoU_Correctness(t *testing.T) {
	tests := []struct {
		name     string
		r1       Box
		r2       Box
		expected float32
	}{
		{
			name:     "Identical boxes",
			r1:       Box{0, 0, 100, 100},
			r2:       Box{0, 0, 100, 100},
			expected: 1.0,
		},
		{
			name:     "No overlap",
			r1:       Box{0, 0, 100, 100},
			r2:       Box{200, 200, 300, 300},
			expected: 0.0,
		},
		{
			name:     "Touching edges",
			r1:       Box{0, 0, 100, 100},
			r2:       Box{100, 0, 200, 100},
			expected: 0.0,
		},
		{
			name:     "Half overlap",
			r1:       Box{0, 0, 100, 100},
			r2:       Box{50, 50, 150, 150},
			expected: 0.142857, // 2500 / (10000 + 10000 - 2500)
		},
		{
			name:     "One inside other",
			r1:       Box{0, 0, 100, 100},
			r2:       Box{25, 25, 75, 75},
			expected: 0.25,
		},
		{
			name:     "Fractional coordinates",
			r1:       Box{0, 0, 10.5, 10},
			r2:       Box{0, 0, 10.5, 5},
			expected: 0.5,
		},
		{
			name:     "Empty boxes",
			r1:       Box{},
			r2:       Box{},
			expected: 0.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, CalculateIoU(tt.r1, tt.r2), 0.001)
			assert.InDelta(t, tt.expected, CalculateIoU(tt.r2, tt.r1), 0.001, "IoU must be symmetric")
		})
	}
}

func TestBoxFromCenter(t *testing.T) {
	b := BoxFromCenter(50, 40, 20, 10)
	assert.Equal(t, Box{X1: 40, Y1: 35, X2: 60, Y2: 45}, b)
	assert.Equal(t, float32(200), b.Area())
}

func TestBoxClamp(t *testing.T) {
	b := Box{X1: -5, Y1: 10, X2: 700, Y2: 500}.Clamp(640, 480)
	assert.Equal(t, Box{X1: 0, Y1: 10, X2: 640, Y2: 480}, b)

	inverted := Box{X1: 10, Y1: 10, X2: 5, Y2: 5}
	assert.True(t, inverted.Empty())
	assert.Equal(t, float32(0), inverted.Area())
}

func TestBoxBounds(t *testing.T) {
	b := Box{X1: 1.2, Y1: 2.8, X2: 10.1, Y2: 20}
	assert.Equal(t, image.Rect(1, 2, 11, 20), b.Bounds())
}
