// Package sga describes the scatter-gather arrays pushed to and popped from queues.
//
// An Array never allocates on its own. Segments either point at caller memory, or at a
// library-owned buffer built with Owned, which the holder must give back with Free.
package sga

import (
	"net/netip"

	"github.com/brickingsoft/errors"
)

// MaxSegments is the number of segments a single Array may carry.
const MaxSegments = 4

var (
	ErrEmpty            = errors.Define("scatter-gather array has no segments")
	ErrTooManySegments  = errors.Define("scatter-gather array has too many segments")
	ErrEmptySegment     = errors.Define("scatter-gather array has a zero-length segment")
	ErrInsufficientRoom = errors.Define("scatter-gather array is full")
)

type segment struct {
	buf     []byte
	release func()
}

// Array is an ordered list of segments plus an optional peer address.
//
// On push, Addr is the destination of a datagram; on pop it holds the source.
type Array struct {
	segs []segment
	Addr netip.AddrPort
}

// New
// builds an Array over caller memory. It does not validate; Push and Pop do.
func New(bufs ...[]byte) Array {
	a := Array{segs: make([]segment, 0, len(bufs))}
	for _, b := range bufs {
		a.segs = append(a.segs, segment{buf: b})
	}
	return a
}

// Owned
// builds a single segment Array whose buffer is owned by a pool. release is called once by Free.
func Owned(b []byte, release func()) Array {
	return Array{segs: []segment{{buf: b, release: release}}}
}

// Append adds a segment, refusing to grow past MaxSegments.
func (a *Array) Append(b []byte) error {
	if len(a.segs) >= MaxSegments {
		return ErrInsufficientRoom
	}
	a.segs = append(a.segs, segment{buf: b})
	return nil
}

func (a *Array) Validate() error {
	n := len(a.segs)
	if n == 0 {
		return ErrEmpty
	}
	if n > MaxSegments {
		return ErrTooManySegments
	}
	for _, s := range a.segs {
		if len(s.buf) == 0 {
			return ErrEmptySegment
		}
	}
	return nil
}

func (a *Array) NumBufs() int {
	return len(a.segs)
}

// Segment returns the i-th segment. It panics when i is out of range, like a slice index.
func (a *Array) Segment(i int) []byte {
	return a.segs[i].buf
}

func (a *Array) Segments() [][]byte {
	bufs := make([][]byte, len(a.segs))
	for i, s := range a.segs {
		bufs[i] = s.buf
	}
	return bufs
}

// Len is the total number of bytes advertised by all segments.
func (a *Array) Len() (n int) {
	for _, s := range a.segs {
		n += len(s.buf)
	}
	return
}

// Bytes gathers every segment into one contiguous slice.
// A single segment is returned as is, without copying.
func (a *Array) Bytes() []byte {
	switch len(a.segs) {
	case 0:
		return nil
	case 1:
		return a.segs[0].buf
	default:
		p := make([]byte, 0, a.Len())
		for _, s := range a.segs {
			p = append(p, s.buf...)
		}
		return p
	}
}

// Scatter copies p across the segments in order and trims the last touched segment,
// so that Len reports what was written. Segments that received nothing are dropped.
func (a *Array) Scatter(p []byte) (n int) {
	used := 0
	for i := range a.segs {
		if len(p) == 0 {
			break
		}
		c := copy(a.segs[i].buf, p)
		a.segs[i].buf = a.segs[i].buf[:c]
		p = p[c:]
		n += c
		used++
	}
	a.segs = a.segs[:used]
	return
}

// Truncate shrinks an Owned array to its first n bytes.
func (a *Array) Truncate(n int) {
	if len(a.segs) == 0 {
		return
	}
	if n < len(a.segs[0].buf) {
		a.segs[0].buf = a.segs[0].buf[:n]
	}
}

// Free releases library-owned segments and empties the array.
// Calling it on caller memory only empties the array.
func (a *Array) Free() {
	for i := range a.segs {
		if release := a.segs[i].release; release != nil {
			a.segs[i].release = nil
			release()
		}
		a.segs[i].buf = nil
	}
	a.segs = a.segs[:0]
}
