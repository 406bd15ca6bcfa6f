package completion_test

import (
	"sync"
	"testing"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/zeus/pkg/completion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_TakeOnce(t *testing.T) {
	table := completion.New[int](8)
	id, err := table.Reserve(1, completion.Push)
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = table.Take(id)
	assert.True(t, completion.IsUncompleted(err))

	assert.True(t, table.Complete(id, 12, nil))
	assert.False(t, table.Complete(id, 13, nil), "a ready record must not be completed twice")

	v, err := table.Take(id)
	require.NoError(t, err)
	assert.Equal(t, 12, v)

	_, err = table.Take(id)
	assert.True(t, errors.Is(err, completion.ErrAlreadyConsumed))

	_, err = table.Take(id + 100)
	assert.True(t, errors.Is(err, completion.ErrInvalidToken))
	_, err = table.Take(0)
	assert.True(t, errors.Is(err, completion.ErrInvalidToken))
}

func TestTable_Exhausted(t *testing.T) {
	table := completion.New[int](2)
	a, err := table.Reserve(1, completion.Push)
	require.NoError(t, err)
	_, err = table.Reserve(1, completion.Pop)
	require.NoError(t, err)
	_, err = table.Reserve(1, completion.Pop)
	assert.True(t, errors.Is(err, completion.ErrExhausted))

	table.Forget(a)
	_, err = table.Reserve(1, completion.Pop)
	assert.NoError(t, err)
}

func TestTable_CancelOwner(t *testing.T) {
	table := completion.New[int](8)
	cancelled := errors.Define("cancelled")

	done, _ := table.Reserve(1, completion.Push)
	pending, _ := table.Reserve(1, completion.Pop)
	other, _ := table.Reserve(2, completion.Pop)
	table.Complete(done, 5, nil)
	signal := table.Signal()

	assert.Equal(t, 1, table.CancelOwner(1, cancelled))
	assert.Equal(t, 0, table.Pending(1))
	assert.Equal(t, 1, table.Pending(2))

	v, err := table.Take(done)
	assert.NoError(t, err)
	assert.Equal(t, 5, v)

	_, err = table.Take(pending)
	assert.True(t, errors.Is(err, cancelled))

	state, err := table.State(other)
	require.NoError(t, err)
	assert.Equal(t, completion.Pending, state)

	select {
	case <-signal:
	default:
		t.Error("signal was not raised")
	}
}

func TestTable_SignalWakesEveryWaiter(t *testing.T) {
	table := completion.New[int](8)
	id, _ := table.Reserve(1, completion.Pop)
	signal := table.Signal()

	const waiters = 4
	woken := make(chan struct{}, waiters)
	wg := new(sync.WaitGroup)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-signal
			woken <- struct{}{}
		}()
	}
	require.True(t, table.Complete(id, 1, nil))
	wg.Wait()
	assert.Len(t, woken, waiters)

	select {
	case <-table.Signal():
		t.Error("a fresh signal must stay open until the next completion")
	default:
	}
}

func TestTable_TakeAny(t *testing.T) {
	table := completion.New[string](8)
	a, _ := table.Reserve(1, completion.Push)
	b, _ := table.Reserve(1, completion.Push)
	c, _ := table.Reserve(1, completion.Pop)

	idx, _, err := table.TakeAny([]completion.ID{a, b, c})
	assert.Equal(t, -1, idx)
	assert.True(t, completion.IsUncompleted(err))

	table.Complete(c, "c", nil)
	table.Complete(b, "b", nil)
	idx, v, err := table.TakeAny([]completion.ID{a, b, c})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, "b", v)

	idx, _, err = table.TakeAny([]completion.ID{a, b, c})
	assert.Equal(t, 1, idx)
	assert.True(t, errors.Is(err, completion.ErrAlreadyConsumed))

	idx, v, err = table.TakeAny([]completion.ID{a, c})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	assert.Equal(t, "c", v)
	assert.Equal(t, 1, table.Len())
}

func TestTable_ConcurrentTake(t *testing.T) {
	table := completion.New[int](1024)
	ids := make([]completion.ID, 512)
	for i := range ids {
		ids[i], _ = table.Reserve(0, completion.Pop)
		table.Complete(ids[i], i, nil)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[completion.ID]int)
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, id := range ids {
				if _, err := table.Take(id); err == nil {
					mu.Lock()
					seen[id]++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, len(ids))
	for id, n := range seen {
		assert.Equal(t, 1, n, "id %d delivered more than once", id)
	}
}
