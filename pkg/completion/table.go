// Package completion keeps the operation records behind completion tokens.
//
// A record is reserved when an operation is submitted, moves from Pending to Ready exactly
// once, and is handed out exactly once by Take or TakeAny. Consumed IDs are never reissued.
package completion

import (
	"sync"

	"github.com/brickingsoft/errors"
)

var (
	ErrInvalidToken    = errors.Define("invalid token")
	ErrAlreadyConsumed = errors.Define("token already consumed")
	ErrUncompleted     = errors.Define("uncompleted")
	ErrExhausted       = errors.Define("operation table is full")
)

func IsUncompleted(err error) bool {
	return errors.Is(err, ErrUncompleted)
}

// ID identifies one outstanding operation. Zero is never issued.
type ID uint64

type Kind int

const (
	Push Kind = iota + 1
	Pop
)

func (k Kind) String() string {
	switch k {
	case Push:
		return "push"
	case Pop:
		return "pop"
	default:
		return "unknown"
	}
}

type State int

const (
	Pending State = iota
	Ready
)

type record[T any] struct {
	owner int
	kind  Kind
	state State
	value T
	err   error
}

// Table is the single source of truth for operation state.
type Table[T any] struct {
	mu       sync.Mutex
	records  map[ID]*record[T]
	next     ID
	capacity int
	signal   chan struct{}
}

// New returns a table holding at most capacity unconsumed records. capacity < 1 means 4096.
func New[T any](capacity int) *Table[T] {
	if capacity < 1 {
		capacity = 4096
	}
	return &Table[T]{
		records:  make(map[ID]*record[T], capacity),
		next:     1,
		capacity: capacity,
		signal:   make(chan struct{}),
	}
}

// Reserve registers a Pending record for owner.
func (t *Table[T]) Reserve(owner int, kind Kind) (id ID, err error) {
	t.mu.Lock()
	if len(t.records) >= t.capacity {
		t.mu.Unlock()
		err = ErrExhausted
		return
	}
	id = t.next
	t.next++
	t.records[id] = &record[T]{owner: owner, kind: kind}
	t.mu.Unlock()
	return
}

// Forget drops a record that was reserved but completed synchronously and never handed out.
func (t *Table[T]) Forget(id ID) {
	t.mu.Lock()
	delete(t.records, id)
	t.mu.Unlock()
}

// Complete moves a Pending record to Ready. It reports false when the record is unknown
// or already Ready, in which case value and err are dropped.
func (t *Table[T]) Complete(id ID, value T, err error) bool {
	t.mu.Lock()
	r, has := t.records[id]
	if !has || r.state != Pending {
		t.mu.Unlock()
		return false
	}
	r.state = Ready
	r.value = value
	r.err = err
	t.notifyLocked()
	t.mu.Unlock()
	return true
}

// Take hands out the result of a Ready record and removes it.
// A Pending record yields ErrUncompleted and stays in place.
func (t *Table[T]) Take(id ID) (value T, err error) {
	t.mu.Lock()
	value, err = t.takeLocked(id)
	t.mu.Unlock()
	return
}

// TakeAny hands out the first Ready record among ids, scanning in order.
// index is -1 and err is ErrUncompleted when none is ready. An invalid or consumed id
// fails the whole call with its index.
func (t *Table[T]) TakeAny(ids []ID) (index int, value T, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, id := range ids {
		if _, checkErr := t.stateLocked(id); checkErr != nil {
			index, err = i, checkErr
			return
		}
	}
	for i, id := range ids {
		if t.records[id].state == Ready {
			index = i
			value, err = t.takeLocked(id)
			return
		}
	}
	index, err = -1, ErrUncompleted
	return
}

func (t *Table[T]) takeLocked(id ID) (value T, err error) {
	r, stateErr := t.stateLocked(id)
	if stateErr != nil {
		err = stateErr
		return
	}
	if r.state == Pending {
		err = ErrUncompleted
		return
	}
	delete(t.records, id)
	value, err = r.value, r.err
	return
}

func (t *Table[T]) stateLocked(id ID) (*record[T], error) {
	if r, has := t.records[id]; has {
		return r, nil
	}
	if id == 0 || id >= t.next {
		return nil, ErrInvalidToken
	}
	return nil, ErrAlreadyConsumed
}

// State reports the state of an unconsumed record.
func (t *Table[T]) State(id ID) (State, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, err := t.stateLocked(id)
	if err != nil {
		return Pending, err
	}
	return r.state, nil
}

// CancelOwner resolves every Pending record of owner with err and returns how many it touched.
// Ready records keep their original result.
func (t *Table[T]) CancelOwner(owner int, err error) (n int) {
	var zero T
	t.mu.Lock()
	for _, r := range t.records {
		if r.owner == owner && r.state == Pending {
			r.state = Ready
			r.value = zero
			r.err = err
			n++
		}
	}
	if n > 0 {
		t.notifyLocked()
	}
	t.mu.Unlock()
	return
}

// Pending counts the Pending records of owner.
func (t *Table[T]) Pending(owner int) (n int) {
	t.mu.Lock()
	for _, r := range t.records {
		if r.owner == owner && r.state == Pending {
			n++
		}
	}
	t.mu.Unlock()
	return
}

// Len counts every unconsumed record.
func (t *Table[T]) Len() int {
	t.mu.Lock()
	n := len(t.records)
	t.mu.Unlock()
	return n
}

// Signal returns a channel that is closed the next time any record becomes Ready, which
// wakes every waiter holding it. Fetch it before checking the records, then wait on it.
func (t *Table[T]) Signal() <-chan struct{} {
	t.mu.Lock()
	ch := t.signal
	t.mu.Unlock()
	return ch
}

func (t *Table[T]) notifyLocked() {
	close(t.signal)
	t.signal = make(chan struct{})
}
