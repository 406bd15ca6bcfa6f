// Command udpclient opens a datagram queue, pushes one message and prints the reply.
//
// With the default bypass backend the peer is the simulated echo link, so the reply is
// the message itself.
package main

import (
	"flag"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/brickingsoft/zeus"
	"github.com/brickingsoft/zeus/pkg/sga"
	"github.com/sirupsen/logrus"
)

type clientOptions struct {
	configPath string
	backend    string
	addr       string
	message    string
	timeout    time.Duration
	connect    bool
}

func main() {
	opts := clientOptions{}
	flag.StringVar(&opts.configPath, "config", "", "Path to a YAML configuration file")
	flag.StringVar(&opts.backend, "backend", "", "Transport backend: auto, bypass, uring or socket (overrides the config)")
	flag.StringVar(&opts.addr, "addr", "12.12.12.4:12345", "Destination address")
	flag.StringVar(&opts.message, "message", "hello world", "Message to send")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Second, "How long to wait for each operation")
	flag.BoolVar(&opts.connect, "connect", false, "Connect the queue instead of addressing every push")
	flag.Parse()

	l := logrus.New()
	l.Out = os.Stderr

	if err := run(opts, l, os.Stdout); err != nil {
		l.WithError(err).Error("udpclient failed")
		os.Exit(1)
	}
}

func run(opts clientOptions, l *logrus.Logger, w io.Writer) (err error) {
	dst, err := netip.ParseAddrPort(opts.addr)
	if err != nil {
		return fmt.Errorf("bad -addr: %w", err)
	}

	options := []zeus.Option{zeus.WithLogger(l), zeus.WithWaitTimeout(opts.timeout)}
	if opts.configPath != "" {
		options = append([]zeus.Option{zeus.WithConfigFile(opts.configPath)}, options...)
	} else if opts.backend == "" {
		opts.backend = zeus.BackendBypass
	}
	if opts.backend != "" {
		options = append(options, zeus.WithBackend(strings.ToLower(opts.backend)))
	}

	rt, err := zeus.Initialize(options...)
	if err != nil {
		return err
	}
	defer func() {
		if shutdownErr := rt.Shutdown(); shutdownErr != nil && err == nil {
			err = shutdownErr
		}
	}()

	qd, err := rt.Open(syscall.AF_INET, syscall.SOCK_DGRAM, 0)
	if err != nil {
		return err
	}
	defer rt.Close(qd)
	_, _ = fmt.Fprintf(w, "client qd:\t%d\n", qd)

	// the message goes out with its terminating NUL
	payload := append([]byte(opts.message), 0)
	a := sga.New(payload)
	if opts.connect {
		if err = rt.Connect(qd, dst); err != nil {
			return err
		}
	} else {
		a.Addr = dst
	}

	tok, err := rt.Push(qd, a)
	if err != nil {
		return err
	}
	if tok.IsPending() {
		_, _ = fmt.Fprintln(w, "client: wait for push")
		if _, err = rt.Wait(tok, &a); err != nil {
			return err
		}
	}
	_, _ = fmt.Fprintf(w, "client: sent\t%s\n", opts.message)

	var res sga.Array
	tok, err = rt.Pop(qd, &res)
	if err != nil {
		return err
	}
	if tok.IsPending() {
		_, _ = fmt.Fprintln(w, "client: wait for pop")
		if _, err = rt.Wait(tok, &res); err != nil {
			return err
		}
	}
	defer res.Free()
	if res.NumBufs() != 1 {
		return fmt.Errorf("expected one segment, got %d", res.NumBufs())
	}
	_, _ = fmt.Fprintf(w, "client: rcvd\t%s\n", strings.TrimRight(string(res.Bytes()), "\x00"))
	return nil
}
