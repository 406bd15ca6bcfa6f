package zeus_test

import (
	"context"
	"io"
	"net/netip"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/brickingsoft/errors"
	"github.com/brickingsoft/zeus"
	"github.com/brickingsoft/zeus/pkg/completion"
	"github.com/brickingsoft/zeus/pkg/process"
	"github.com/brickingsoft/zeus/pkg/sga"
	"github.com/brickingsoft/zeus/pkg/transport/bypass"
	"github.com/rcrowley/go-metrics"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var echoPeer = netip.MustParseAddrPort("12.12.12.4:12345")

func newTestLogger() *logrus.Logger {
	l := logrus.New()
	if os.Getenv("TEST_LOGS") == "" {
		l.SetOutput(io.Discard)
		return l
	}
	l.SetLevel(logrus.DebugLevel)
	return l
}

func setup(t *testing.T, options ...zeus.Option) *zeus.Runtime {
	t.Helper()
	options = append([]zeus.Option{zeus.WithLogger(newTestLogger())}, options...)
	rt, err := zeus.Initialize(options...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = rt.Shutdown()
	})
	return rt
}

func deferredTx() zeus.Option {
	config := zeus.DefaultConfig()
	config.Backend = zeus.BackendBypass
	config.Bypass.DeferTx = true
	return zeus.WithConfig(config)
}

func openDatagram(t *testing.T, rt *zeus.Runtime) zeus.QDesc {
	t.Helper()
	qd, err := rt.Open(syscall.AF_INET, syscall.SOCK_DGRAM, 0)
	require.NoError(t, err)
	return qd
}

func message(s string) sga.Array {
	a := sga.New([]byte(s))
	a.Addr = echoPeer
	return a
}

func TestRoundTrip(t *testing.T) {
	rt := setup(t, zeus.WithLink(bypass.NewEchoLink(1)))
	assert.Equal(t, bypass.Name, rt.Backend())
	qd := openDatagram(t, rt)

	// the payload carries its terminating NUL, hence 12 bytes
	tok, err := rt.Push(qd, message("hello world\x00"))
	require.NoError(t, err)
	n := 0
	if tok.IsPending() {
		n, err = rt.Wait(tok, nil)
		require.NoError(t, err)
	} else {
		result, ok := tok.Result()
		require.True(t, ok)
		n = result.N
	}
	assert.Equal(t, 12, n)

	var out sga.Array
	tok, err = rt.Pop(qd, &out)
	require.NoError(t, err)
	if tok.IsPending() {
		n, err = rt.Wait(tok, &out)
		require.NoError(t, err)
	} else {
		result, _ := tok.Result()
		n = result.N
	}
	assert.Equal(t, 12, n)
	require.Equal(t, 1, out.NumBufs())
	assert.Equal(t, "hello world\x00", string(out.Bytes()))
	assert.Equal(t, echoPeer, out.Addr)
	out.Free()

	immediate := rt.Metrics().Get("zeus.push.immediate").(metrics.Counter)
	assert.Equal(t, int64(1), immediate.Count())
	assert.Zero(t, rt.Outstanding())
}

func TestPush_DeferredWaitReturnsLength(t *testing.T) {
	rt := setup(t, deferredTx())
	qd := openDatagram(t, rt)

	for _, s := range []string{"a", "hello", "a longer payload of some bytes"} {
		tok, err := rt.Push(qd, message(s))
		require.NoError(t, err)
		require.True(t, tok.IsPending())

		var pushed sga.Array
		n, err := rt.Wait(tok, &pushed)
		require.NoError(t, err)
		assert.Equal(t, len(s), n)
		assert.Equal(t, s, string(pushed.Bytes()))
	}
}

func TestWait_AlreadyConsumed(t *testing.T) {
	rt := setup(t, deferredTx())
	qd := openDatagram(t, rt)

	tok, err := rt.Push(qd, message("once"))
	require.NoError(t, err)
	require.True(t, tok.IsPending())

	_, err = rt.Wait(tok, nil)
	require.NoError(t, err)
	_, err = rt.Wait(tok, nil)
	assert.True(t, zeus.IsAlreadyConsumed(err), err)
}

func TestWait_InvalidTokens(t *testing.T) {
	rt := setup(t, zeus.WithLink(bypass.NewEchoLink(0)))
	qd := openDatagram(t, rt)

	_, err := rt.Wait(zeus.Token{}, nil)
	assert.True(t, zeus.IsInvalidToken(err))

	tok, err := rt.Push(qd, message("now"))
	require.NoError(t, err)
	require.True(t, tok.IsImmediate())
	_, err = rt.Wait(tok, nil)
	assert.True(t, zeus.IsInvalidToken(err))

	_, _, err = rt.WaitAny(context.Background(), nil, nil)
	assert.True(t, zeus.IsInvalidArgument(err))
}

func TestTwoPushesOneReceive(t *testing.T) {
	rt := setup(t, deferredTx())
	qd := openDatagram(t, rt)

	first, err := rt.Push(qd, message("first"))
	require.NoError(t, err)
	second, err := rt.Push(qd, message("second!"))
	require.NoError(t, err)
	var out sga.Array
	pop, err := rt.Pop(qd, &out)
	require.NoError(t, err)
	require.True(t, first.IsPending())
	require.True(t, second.IsPending())
	require.True(t, pop.IsPending())

	tokens := []zeus.Token{first, second, pop}
	expected := []int{5, 7, 5}
	seen := make(map[uint64]bool)
	for len(tokens) > 0 {
		var result sga.Array
		index, n, waitErr := rt.WaitAny(context.Background(), tokens, &result)
		require.NoError(t, waitErr)
		tok := tokens[index]
		assert.False(t, seen[tok.ID()])
		seen[tok.ID()] = true
		assert.Equal(t, expected[index], n)
		if tok.ID() == pop.ID() {
			assert.Equal(t, "first", string(result.Bytes()))
			result.Free()
		}
		tokens = append(tokens[:index], tokens[index+1:]...)
		expected = append(expected[:index], expected[index+1:]...)
	}
	assert.Len(t, seen, 3)
	assert.Zero(t, rt.Outstanding())
}

func TestPop_EmptyQueueIsPending(t *testing.T) {
	rt := setup(t, zeus.WithLink(bypass.NewEchoLink(0)))
	qd := openDatagram(t, rt)

	var out sga.Array
	tok, err := rt.Pop(qd, &out)
	require.NoError(t, err)
	require.True(t, tok.IsPending())
	assert.Zero(t, out.NumBufs(), "out must stay untouched until the token resolves")

	_, err = rt.TimedWait(tok, 20*time.Millisecond, &out)
	assert.True(t, zeus.IsTimedOut(err), err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = rt.WaitContext(ctx, tok, &out)
	assert.True(t, zeus.IsUncompleted(err), err)

	_, err = rt.Push(qd, message("late"))
	require.NoError(t, err)
	n, err := rt.Wait(tok, &out)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, "late", string(out.Bytes()))
	out.Free()
}

func TestPop_CallerSegments(t *testing.T) {
	rt := setup(t, zeus.WithLink(bypass.NewEchoLink(0)))
	qd := openDatagram(t, rt)

	_, err := rt.Push(qd, message("hello world\x00"))
	require.NoError(t, err)

	head, tail := make([]byte, 5), make([]byte, 16)
	out := sga.New(head, tail)
	n, err := rt.BlockingPop(qd, &out)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	require.Equal(t, 2, out.NumBufs())
	assert.Equal(t, "hello", string(out.Segment(0)))
	assert.Equal(t, " world\x00", string(out.Segment(1)))
	assert.Equal(t, "hello", string(head))
}

func TestPop_FIFO(t *testing.T) {
	rt := setup(t, deferredTx())
	qd := openDatagram(t, rt)

	var a, b sga.Array
	first, err := rt.Pop(qd, &a)
	require.NoError(t, err)
	second, err := rt.Pop(qd, &b)
	require.NoError(t, err)

	for _, s := range []string{"one", "two"} {
		_, err = rt.Push(qd, message(s))
		require.NoError(t, err)
	}
	_, err = rt.Wait(second, &b)
	require.NoError(t, err)
	_, err = rt.Wait(first, &a)
	require.NoError(t, err)
	assert.Equal(t, "one", string(a.Bytes()))
	assert.Equal(t, "two", string(b.Bytes()))
	a.Free()
	b.Free()
}

func TestClose_CancelsPending(t *testing.T) {
	rt := setup(t, deferredTx())
	qd := openDatagram(t, rt)

	push, err := rt.Push(qd, message("never sent"))
	require.NoError(t, err)
	pop, err := rt.Pop(qd, nil)
	require.NoError(t, err)
	require.True(t, push.IsPending())
	require.True(t, pop.IsPending())

	require.NoError(t, rt.Close(qd))
	_, err = rt.Wait(push, nil)
	assert.True(t, zeus.IsCancelled(err), err)
	_, err = rt.Wait(pop, nil)
	assert.True(t, zeus.IsCancelled(err), err)
	_, err = rt.Wait(pop, nil)
	assert.True(t, zeus.IsAlreadyConsumed(err), err)
	assert.Zero(t, rt.Outstanding())

	assert.True(t, zeus.IsInvalidDescriptor(rt.Close(qd)))
	_, err = rt.Push(qd, message("x"))
	assert.True(t, zeus.IsInvalidDescriptor(err))
	_, err = rt.Pop(qd, nil)
	assert.True(t, zeus.IsInvalidDescriptor(err))

	next := openDatagram(t, rt)
	assert.Greater(t, next, qd, "descriptors are never reused")
}

func TestClose_DropsDeferredSends(t *testing.T) {
	config := zeus.DefaultConfig()
	config.Backend = zeus.BackendBypass
	config.Bypass.Peer = "loopback"
	config.Bypass.DeferTx = true
	rt := setup(t, zeus.WithConfig(config))

	srv := openDatagram(t, rt)
	cli := openDatagram(t, rt)
	srvAddr, err := rt.LocalAddr(srv)
	require.NoError(t, err)

	a := sga.New([]byte("dropped"))
	a.Addr = srvAddr
	push, err := rt.Push(cli, a)
	require.NoError(t, err)
	require.True(t, push.IsPending())

	require.NoError(t, rt.Close(cli))
	_, err = rt.Wait(push, nil)
	assert.True(t, zeus.IsCancelled(err), err)

	for i := 0; i < 3; i++ {
		_, err = rt.PollTransport()
		require.NoError(t, err)
	}
	pop, err := rt.Pop(srv, nil)
	require.NoError(t, err)
	assert.True(t, pop.IsPending(), "a cancelled send must not reach the wire")
}

type brokenLink struct{}

func (brokenLink) Transmit([]byte) error {
	return errors.New("link down")
}

func (brokenLink) Receive([]byte) (int, bool) {
	return 0, false
}

func TestPush_DeferredTransportFailure(t *testing.T) {
	config := zeus.DefaultConfig()
	config.Bypass.DeferTx = true
	rt := setup(t, zeus.WithConfig(config), zeus.WithLink(brokenLink{}))
	qd := openDatagram(t, rt)

	push, err := rt.Push(qd, message("lost"))
	require.NoError(t, err, "the failure only shows once the frame leaves the ring")
	require.True(t, push.IsPending())

	_, err = rt.TimedWait(push, time.Second, nil)
	assert.True(t, zeus.IsTransport(err), err)
	_, err = rt.Wait(push, nil)
	assert.True(t, zeus.IsAlreadyConsumed(err), err)

	failures := rt.Metrics().Get("zeus.transport.errors").(metrics.Counter)
	assert.Equal(t, int64(1), failures.Count())
	assert.Zero(t, rt.Outstanding())
}

func TestInvalidArrays(t *testing.T) {
	rt := setup(t, zeus.WithLink(bypass.NewEchoLink(0)))
	qd := openDatagram(t, rt)

	empty := sga.New()
	empty.Addr = echoPeer
	zeroLen := sga.New([]byte("x"), []byte{})
	zeroLen.Addr = echoPeer
	tooMany := sga.New([]byte("1"), []byte("2"), []byte("3"), []byte("4"), []byte("5"))
	tooMany.Addr = echoPeer

	for _, a := range []sga.Array{empty, zeroLen, tooMany} {
		_, err := rt.Push(qd, a)
		assert.True(t, zeus.IsInvalidArgument(err), err)
	}
	for _, a := range []sga.Array{zeroLen, tooMany} {
		out := a
		_, err := rt.Pop(qd, &out)
		assert.True(t, zeus.IsInvalidArgument(err), err)
	}
	assert.Zero(t, rt.Outstanding())

	_, err := rt.Push(qd, sga.New([]byte("no destination")))
	assert.True(t, zeus.IsInvalidArgument(err), err)
	_, err = rt.Push(qd, message(string(make([]byte, 4096))))
	assert.True(t, zeus.IsInvalidArgument(err), err)

	require.NoError(t, rt.Connect(qd, echoPeer))
	tok, err := rt.Push(qd, sga.New([]byte("connected")))
	require.NoError(t, err)
	result, ok := tok.Result()
	require.True(t, ok)
	assert.Equal(t, 9, result.N)
}

func TestOpen(t *testing.T) {
	rt := setup(t, zeus.WithLink(bypass.NewEchoLink(0)), zeus.WithMaxQueues(2))

	_, err := rt.Open(syscall.AF_UNIX, syscall.SOCK_DGRAM, 0)
	assert.True(t, zeus.IsInvalidArgument(err))
	_, err = rt.Open(syscall.AF_INET, syscall.SOCK_RAW, 0)
	assert.True(t, zeus.IsInvalidArgument(err))
	_, err = rt.Open(syscall.AF_INET, syscall.SOCK_DGRAM, syscall.IPPROTO_TCP)
	assert.True(t, zeus.IsInvalidArgument(err))
	_, err = rt.Open(syscall.AF_INET, syscall.SOCK_STREAM, 0)
	assert.True(t, zeus.IsInvalidArgument(err), "the bypass device carries datagrams only")

	first, err := rt.Open(syscall.AF_INET, syscall.SOCK_DGRAM, syscall.IPPROTO_UDP)
	require.NoError(t, err)
	assert.Equal(t, zeus.QDesc(1), first)
	_ = openDatagram(t, rt)
	_, err = rt.Open(syscall.AF_INET, syscall.SOCK_DGRAM, 0)
	assert.True(t, zeus.IsResourceExhausted(err))
}

func TestTokens_Exhausted(t *testing.T) {
	rt := setup(t, deferredTx(), zeus.WithMaxTokens(1))
	qd := openDatagram(t, rt)

	_, err := rt.Push(qd, message("one"))
	require.NoError(t, err)
	_, err = rt.Push(qd, message("two"))
	assert.True(t, zeus.IsResourceExhausted(err), err)
}

func TestBackgroundPolling(t *testing.T) {
	rt := setup(t, zeus.WithLink(bypass.NewEchoLink(3)), zeus.WithBackgroundPolling(time.Millisecond))
	qd := openDatagram(t, rt)

	var out sga.Array
	pop, err := rt.Pop(qd, &out)
	require.NoError(t, err)
	require.True(t, pop.IsPending())
	_, err = rt.Push(qd, message("background"))
	require.NoError(t, err)

	n, err := rt.TimedWait(pop, 2*time.Second, &out)
	require.NoError(t, err)
	assert.Equal(t, 10, n)
	assert.Equal(t, "background", string(out.Bytes()))
	out.Free()
}

func TestBackgroundPolling_Restart(t *testing.T) {
	for i := 0; i < 2; i++ {
		rt, err := zeus.Initialize(
			zeus.WithLogger(newTestLogger()),
			zeus.WithLink(bypass.NewEchoLink(0)),
			zeus.WithBackgroundPolling(time.Millisecond),
			zeus.WithMaxGoroutines(2),
			zeus.WithCloseTimeout(time.Second),
		)
		require.NoError(t, err)
		qd := openDatagram(t, rt)
		_, err = rt.Push(qd, message("again"))
		require.NoError(t, err)
		var out sga.Array
		n, err := rt.BlockingPop(qd, &out)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		out.Free()
		require.NoError(t, rt.Shutdown(), "the poller stops and its executors close")
	}
}

func TestBackgroundPolling_ConcurrentWaiters(t *testing.T) {
	rt := setup(t, zeus.WithLink(bypass.NewEchoLink(2)), zeus.WithBackgroundPolling(50*time.Millisecond))

	const waiters = 4
	pops := make([]zeus.Token, waiters)
	qds := make([]zeus.QDesc, waiters)
	for i := range qds {
		qds[i] = openDatagram(t, rt)
		pop, err := rt.Pop(qds[i], nil)
		require.NoError(t, err)
		require.True(t, pop.IsPending())
		pops[i] = pop
	}

	results := make(chan error, waiters)
	for i := range pops {
		go func(tok zeus.Token) {
			var out sga.Array
			_, err := rt.TimedWait(tok, 2*time.Second, &out)
			out.Free()
			results <- err
		}(pops[i])
	}
	for _, qd := range qds {
		_, err := rt.Push(qd, message("fan"))
		require.NoError(t, err)
	}
	for i := 0; i < waiters; i++ {
		assert.NoError(t, <-results)
	}
	assert.Zero(t, rt.Outstanding())
}

func TestBackgroundPolling_Pinned(t *testing.T) {
	cpus, err := process.CurrentCPUs()
	if err != nil || len(cpus) == 0 {
		t.Skip("cpu affinity not available")
	}
	rt := setup(t, zeus.WithLink(bypass.NewEchoLink(1)), zeus.WithPollerCPU(cpus[len(cpus)-1]))
	qd := openDatagram(t, rt)

	_, err = rt.Push(qd, message("pinned"))
	require.NoError(t, err)
	var out sga.Array
	n, err := rt.BlockingPop(qd, &out)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	out.Free()
}

func TestLoopbackQueues(t *testing.T) {
	config := zeus.DefaultConfig()
	config.Backend = zeus.BackendBypass
	config.Bypass.Peer = "loopback"
	config.Bypass.Address = "10.1.0.1"
	rt := setup(t, zeus.WithConfig(config))

	srv := openDatagram(t, rt)
	cli := openDatagram(t, rt)
	require.NoError(t, rt.Bind(srv, netip.MustParseAddrPort("10.1.0.1:9000")))
	cliAddr, err := rt.LocalAddr(cli)
	require.NoError(t, err)

	a := sga.New([]byte("ping"))
	a.Addr = netip.MustParseAddrPort("10.1.0.1:9000")
	_, err = rt.BlockingPush(cli, a)
	require.NoError(t, err)

	var out sga.Array
	n, err := rt.BlockingPop(srv, &out)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, cliAddr, out.Addr)
	out.Free()
}

func TestInitialize_Lifecycle(t *testing.T) {
	rt, err := zeus.Initialize(zeus.WithLogger(newTestLogger()), zeus.WithLink(bypass.NewEchoLink(0)))
	require.NoError(t, err)

	_, err = zeus.Initialize(zeus.WithLogger(newTestLogger()))
	assert.True(t, zeus.IsAlreadyInitialized(err))

	qd := openDatagram(t, rt)
	pop, err := rt.Pop(qd, nil)
	require.NoError(t, err)
	require.True(t, pop.IsPending())

	require.NoError(t, rt.Shutdown())
	assert.True(t, zeus.IsNotInitialized(rt.Shutdown()))
	_, err = rt.Open(syscall.AF_INET, syscall.SOCK_DGRAM, 0)
	assert.True(t, zeus.IsNotInitialized(err))
	_, err = rt.Wait(pop, nil)
	assert.True(t, zeus.IsNotInitialized(err))
	_, err = rt.PollTransport()
	assert.True(t, zeus.IsNotInitialized(err))

	again, err := zeus.Initialize(zeus.WithLogger(newTestLogger()), zeus.WithLink(bypass.NewEchoLink(0)))
	require.NoError(t, err)
	require.NoError(t, again.Shutdown())
}

func TestWait_TokenFromEarlierRuntime(t *testing.T) {
	old, err := zeus.Initialize(zeus.WithLogger(newTestLogger()), zeus.WithLink(bypass.NewEchoLink(0)))
	require.NoError(t, err)
	stale, err := old.Pop(openDatagram(t, old), nil)
	require.NoError(t, err)
	require.True(t, stale.IsPending())
	require.NoError(t, old.Shutdown())

	rt := setup(t, zeus.WithLink(bypass.NewEchoLink(0)))
	qd := openDatagram(t, rt)
	pop, err := rt.Pop(qd, nil)
	require.NoError(t, err)
	require.True(t, pop.IsPending())
	require.Equal(t, stale.ID(), pop.ID(), "both runtimes number records from the start")
	_, err = rt.Push(qd, message("mine"))
	require.NoError(t, err)

	_, err = rt.TimedWait(stale, time.Second, nil)
	assert.True(t, zeus.IsInvalidToken(err), err)
	index, _, err := rt.WaitAny(context.Background(), []zeus.Token{stale, pop}, nil)
	assert.True(t, zeus.IsInvalidToken(err), err)
	assert.Equal(t, 0, index)

	var out sga.Array
	n, err := rt.TimedWait(pop, time.Second, &out)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	out.Free()
}

func TestResultKinds(t *testing.T) {
	rt := setup(t, zeus.WithLink(bypass.NewEchoLink(0)))
	qd := openDatagram(t, rt)

	tok, err := rt.Push(qd, message("kind"))
	require.NoError(t, err)
	result, ok := tok.Result()
	require.True(t, ok)
	assert.Equal(t, completion.Push, result.Kind)
	assert.Equal(t, qd, result.QD)

	tok, err = rt.Pop(qd, nil)
	require.NoError(t, err)
	if tok.IsImmediate() {
		result, _ = tok.Result()
		assert.Equal(t, completion.Pop, result.Kind)
		result.SGA.Free()
	} else {
		var out sga.Array
		_, err = rt.Wait(tok, &out)
		require.NoError(t, err)
		out.Free()
	}
}
