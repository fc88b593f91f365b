package inference

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ErrPoolExhausted is returned when a bounded pool has no buffer left to lend.
var ErrPoolExhausted = errors.New("tensor pool exhausted")

// maxIdlePerSize bounds how many released buffers of one length are kept for reuse.
const maxIdlePerSize = 4

// Pool lends float32 buffers for tensors and tracks how many are outstanding.
//
// Tensor memory on accelerators is scarce, so every acquisition must be paired
// with a release. Live reports the number of unreleased tensors, which makes
// leaks observable in tests.
type Pool struct {
	capacity int64
	live     atomic.Int64
	acquired atomic.Int64

	mu   sync.Mutex
	idle map[int][][]float32
}

// NewPool creates a pool.
//
// Arguments:
//   - capacity: The maximum number of live tensors, or 0 for no limit.
//
// Returns:
//   - *Pool: The pool.
func NewPool(capacity int) *Pool {
	return &Pool{
		capacity: int64(capacity),
		idle:     make(map[int][][]float32),
	}
}

// Acquire lends a zeroed tensor of the given shape.
//
// Arguments:
//   - shape: The tensor dimensions. All must be positive.
//
// Returns:
//   - *Tensor: The tensor. The caller must Release it.
//   - error: ErrPoolExhausted when the pool is at capacity, or an error for an invalid shape.
func (p *Pool) Acquire(shape ...int64) (*Tensor, error) {
	n := ShapeSize(shape)
	if n == 0 {
		return nil, errors.Errorf("invalid tensor shape %v", shape)
	}

	if err := p.reserve(); err != nil {
		return nil, err
	}

	data := p.take(n)
	clear(data)

	return &Tensor{Shape: append([]int64(nil), shape...), Data: data, pool: p}, nil
}

// Adopt takes ownership of data and returns it as a pooled tensor. Backends use
// it to hand their outputs to callers under the same accounting as inputs.
//
// Arguments:
//   - shape: The tensor dimensions.
//   - data: The elements. Its length must match the shape.
//
// Returns:
//   - *Tensor: The tensor. The caller must Release it.
//   - error: An error if the shape and data disagree or the pool is at capacity.
func (p *Pool) Adopt(shape []int64, data []float32) (*Tensor, error) {
	if ShapeSize(shape) != len(data) {
		return nil, errors.Errorf("shape %v does not match %d elements", shape, len(data))
	}

	if err := p.reserve(); err != nil {
		return nil, err
	}

	return &Tensor{Shape: append([]int64(nil), shape...), Data: data, pool: p}, nil
}

// Live returns the number of tensors acquired and not yet released.
func (p *Pool) Live() int64 {
	return p.live.Load()
}

// Acquired returns the total number of tensors ever lent by the pool.
func (p *Pool) Acquired() int64 {
	return p.acquired.Load()
}

func (p *Pool) reserve() error {
	if n := p.live.Inc(); p.capacity > 0 && n > p.capacity {
		p.live.Dec()
		return ErrPoolExhausted
	}
	p.acquired.Inc()
	return nil
}

func (p *Pool) take(n int) []float32 {
	p.mu.Lock()
	defer p.mu.Unlock()

	free := p.idle[n]
	if len(free) == 0 {
		return make([]float32, n)
	}

	buf := free[len(free)-1]
	p.idle[n] = free[:len(free)-1]
	return buf
}

func (p *Pool) put(buf []float32) {
	p.live.Dec()

	if buf == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle[len(buf)]) < maxIdlePerSize {
		p.idle[len(buf)] = append(p.idle[len(buf)], buf)
	}
}

// CollectMetrics reports pool usage for the runtime profiler.
func (p *Pool) CollectMetrics() map[string]float64 {
	return map[string]float64{
		"tensors.live":     float64(p.live.Load()),
		"tensors.acquired": float64(p.acquired.Load()),
	}
}
