package main

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Echo(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)

	for _, connect := range []bool{false, true} {
		out := &bytes.Buffer{}
		err := run(clientOptions{
			addr:    "12.12.12.4:12345",
			message: "hello world",
			timeout: time.Second,
			connect: connect,
		}, l, out)
		require.NoError(t, err)
		assert.Contains(t, out.String(), "client qd:\t1\n")
		assert.Contains(t, out.String(), "client: sent\thello world\n")
		assert.Contains(t, out.String(), "client: rcvd\thello world\n")
	}
}

func TestRun_BadAddress(t *testing.T) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	err := run(clientOptions{addr: "nowhere", message: "x", timeout: time.Second}, l, io.Discard)
	assert.Error(t, err)
}
