//go:build linux

package uring_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/brickingsoft/zeus/pkg/transport"
	"github.com/brickingsoft/zeus/pkg/transport/socket"
	"github.com/brickingsoft/zeus/pkg/transport/uring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestBinding_SendInOrder(t *testing.T) {
	backend, err := uring.New(uring.Options{Entries: 8})
	if err != nil {
		t.Skip("io_uring unavailable:", err)
	}
	defer backend.Close()

	srv, err := socket.New(socket.Options{}).Open(transport.Datagram, unix.AF_INET)
	require.NoError(t, err)
	defer srv.Close()
	require.NoError(t, srv.Bind(netip.MustParseAddrPort("127.0.0.1:0")))

	cli, err := backend.Open(transport.Datagram, unix.AF_INET)
	require.NoError(t, err)
	defer cli.Close()

	var completions []transport.Completion
	cli.RegisterCompletionCallback(func(c transport.Completion) {
		completions = append(completions, c)
	})

	for i, msg := range []string{"one", "two", "three"} {
		d, sErr := cli.Send(uint64(i+1), []byte(msg), srv.LocalAddr())
		require.NoError(t, sErr)
		assert.Equal(t, transport.Deferred, d)
	}

	p := make([]byte, 64)
	var got []string
	deadline := time.Now().Add(2 * time.Second)
	for (len(got) < 3 || len(completions) < 3) && time.Now().Before(deadline) {
		require.NoError(t, cli.Poll())
		n, _, ok, rErr := srv.TryReceive(p)
		require.NoError(t, rErr)
		if ok {
			got = append(got, string(p[:n]))
		}
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
	require.Len(t, completions, 3)
	for i, c := range completions {
		assert.NoError(t, c.Err)
		assert.Equal(t, uint64(i+1), c.ID)
	}
	assert.Equal(t, 3, completions[0].N)
}

func TestBinding_StreamFallsBackToSocket(t *testing.T) {
	backend, err := uring.New(uring.Options{})
	if err != nil {
		t.Skip("io_uring unavailable:", err)
	}
	b, err := backend.Open(transport.Stream, unix.AF_INET)
	require.NoError(t, err)
	defer b.Close()
	_, isSocket := b.(*socket.Binding)
	assert.True(t, isSocket)
}
