// Package codememory hands out page-aligned memory for machine code and read-only data, and
// drives each allocation through a write-then-publish protocol.
package codememory

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wasmforge/universal/internal/platform"
)

// maxFreeMappings bounds how many released mappings are kept for reuse.
const maxFreeMappings = 16

// ResourceError is returned when an allocation would exceed the pool budget.
type ResourceError struct {
	// Requested is the size asked for, in bytes.
	Requested int
	// Charged is Requested rounded up to the page size, what the budget would have been charged.
	Charged int
	// Available is what remained of the budget at the time of the request.
	Available int
}

// Error implements error.
func (e *ResourceError) Error() string {
	return fmt.Sprintf("code memory budget exhausted: requested %d bytes charged as %d, %d available", e.Requested, e.Charged, e.Available)
}

// Pool allocates code regions under a fixed size budget.
type Pool struct {
	mu       sync.Mutex
	budget   int
	inUse    int
	free     [][]byte
	pageSize int
	metrics  *metrics
	logger   *zap.Logger
	mmap     func(int) ([]byte, error)
	munmap   func([]byte) error
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger used for allocation events.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pool) {
		p.logger = l
	}
}

// WithMetricsRegisterer registers the pool collectors with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pool) {
		p.metrics = newMetrics(reg)
	}
}

// WithPageSize overrides the host page size. Only for tests on the layout algorithm; it must be a
// multiple of the host page size.
func WithPageSize(size int) Option {
	return func(p *Pool) {
		p.pageSize = size
	}
}

// NewPool returns a pool that never holds more than budget bytes in live regions.
func NewPool(budget int, opts ...Option) *Pool {
	p := &Pool{
		budget:   budget,
		pageSize: platform.PageSize(),
		logger:   zap.NewNop(),
		mmap:     platform.MmapCodeSegment,
		munmap:   platform.MunmapCodeSegment,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PageSize returns the page granularity of the regions this pool hands out.
func (p *Pool) PageSize() int {
	return p.pageSize
}

// Budget returns the configured budget in bytes.
func (p *Pool) Budget() int {
	return p.budget
}

// Available returns the part of the budget not held by live regions.
func (p *Pool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.budget - p.inUse
}

// Allocate returns a writable region of exactly size bytes. The pool budget is charged the size
// rounded up to the page size. When that exceeds what is available, a *ResourceError is returned
// and nothing is charged.
func (p *Pool) Allocate(size int) (*Region, error) {
	if size < 0 {
		return nil, errors.Errorf("invalid region size %d", size)
	}
	capacity := RoundUp(size, p.pageSize)

	p.mu.Lock()
	defer p.mu.Unlock()

	if available := p.budget - p.inUse; capacity > available {
		p.metrics.reject()
		return nil, &ResourceError{Requested: size, Charged: capacity, Available: available}
	}

	r := &Region{pool: p, size: size, pageSize: p.pageSize}
	if capacity == 0 {
		return r, nil
	}

	mem, recycled := p.takeFree(capacity)
	if !recycled {
		var err error
		if mem, err = p.mmap(capacity); err != nil {
			return nil, errors.Wrapf(err, "mmap %d bytes", capacity)
		}
	}
	r.mem = mem
	p.inUse += capacity
	p.metrics.allocated(capacity, recycled)
	p.logger.Debug("code region allocated",
		zap.Int("size", size), zap.Int("capacity", capacity), zap.Bool("recycled", recycled))
	return r, nil
}

// takeFree returns a released mapping of the given capacity, made writable and zeroed.
func (p *Pool) takeFree(capacity int) ([]byte, bool) {
	for i, mem := range p.free {
		if len(mem) != capacity {
			continue
		}
		if err := platform.MprotectRW(mem); err != nil {
			continue
		}
		p.free = append(p.free[:i], p.free[i+1:]...)
		clear(mem)
		return mem, true
	}
	return nil, false
}

func (p *Pool) release(mem []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inUse -= len(mem)
	p.metrics.released(len(mem))
	if len(p.free) < maxFreeMappings {
		p.free = append(p.free, mem)
		return nil
	}
	return p.munmap(mem)
}

// Close unmaps every cached mapping. Live regions are unaffected.
func (p *Pool) Close() (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, mem := range p.free {
		if e := p.munmap(mem); e != nil && err == nil {
			err = e
		}
	}
	p.free = nil
	return
}

// RoundUp rounds size up to a multiple of the power-of-two multiple.
func RoundUp(size, multiple int) int {
	return (size + multiple - 1) &^ (multiple - 1)
}
