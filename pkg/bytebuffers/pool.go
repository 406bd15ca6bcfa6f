// Package bytebuffers provides the bounded pool of fixed-size buffers used for packet frames
// and library-owned receive buffers.
package bytebuffers

import (
	"sync"
	"sync/atomic"

	"github.com/brickingsoft/errors"
)

const (
	DefaultSize  = 2048
	DefaultLimit = 1024
)

var ErrExhausted = errors.Define("buffer pool exhausted")

func IsExhausted(err error) bool {
	return errors.Is(err, ErrExhausted)
}

// Pool hands out buffers of one size. At most limit buffers may be out at once.
type Pool struct {
	size  int
	limit int64
	inUse atomic.Int64
	pool  sync.Pool
}

func New(size int, limit int) *Pool {
	if size < 1 {
		size = DefaultSize
	}
	if limit < 1 {
		limit = DefaultLimit
	}
	p := &Pool{
		size:  size,
		limit: int64(limit),
	}
	p.pool.New = func() interface{} {
		b := make([]byte, p.size)
		return &b
	}
	return p
}

// Get returns a buffer of Size bytes, or ErrExhausted when limit buffers are already out.
func (p *Pool) Get() ([]byte, error) {
	if p.inUse.Add(1) > p.limit {
		p.inUse.Add(-1)
		return nil, ErrExhausted
	}
	b := p.pool.Get().(*[]byte)
	return (*b)[:p.size], nil
}

// Put gives b back. b must come from Get and must not be used afterwards.
func (p *Pool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
	p.inUse.Add(-1)
}

func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) InUse() int64 {
	return p.inUse.Load()
}

func (p *Pool) Limit() int64 {
	return p.limit
}
