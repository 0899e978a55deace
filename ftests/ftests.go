//go:build !windows

// Package ftests runs a real pty host behind the invoke API and drives it
// with the client package.
package ftests

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/olebedev/emitter"
	"github.com/owenthereal/ptyhost/client"
	"github.com/owenthereal/ptyhost/host"
	"github.com/owenthereal/ptyhost/internal/logging"
	"github.com/owenthereal/ptyhost/memlistener"
	"github.com/owenthereal/ptyhost/server"
	"github.com/owenthereal/ptyhost/utils"
)

const testToken = "ftest-token"

var memHosts atomic.Int64

// Host is a session served on a listener.
type Host struct {
	Session *host.Session
	Client  *client.Client

	server *server.Server
	errCh  chan error
}

// Transport starts a listener and returns a client dialing it.
type Transport func(t *testing.T, ctx context.Context) (net.Listener, []client.Option)

func tcpTransport(t *testing.T, ctx context.Context) (net.Listener, []client.Option) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	return ln, nil
}

func memTransport(t *testing.T, ctx context.Context) (net.Listener, []client.Option) {
	ln, err := memlistener.Listen(fmt.Sprintf("ftest-%d", memHosts.Add(1)))
	if err != nil {
		t.Fatal(err)
	}

	return ln, []client.Option{client.WithDialer(memlistener.DialContext)}
}

// StartHost serves a new session with a POSIX shell over transport. The host
// is shut down when the test finishes.
func StartHost(t *testing.T, transport Transport) *Host {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger := logging.Discard()
	em := emitter.New(16)

	sess, err := host.Open(host.Options{
		Shell:        []string{"/bin/sh"},
		EventEmitter: em,
		Logger:       logger.Logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	ln, opts := transport(t, ctx)
	srv := &server.Server{
		Session:      sess,
		Token:        testToken,
		EventEmitter: em,
		PollInterval: 10 * time.Millisecond,
		Logger:       logger.With("component", "server").Logger,
	}

	h := &Host{
		Session: sess,
		Client:  client.New(ln.Addr().String(), testToken, opts...),
		server:  srv,
		errCh:   make(chan error, 1),
	}
	go func() {
		h.errCh <- srv.Serve(ln)
	}()

	if ln.Addr().Network() == "tcp" {
		if err := utils.WaitForServer(ctx, ln.Addr().String()); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := h.Client.WaitReady(ctx); err != nil {
		t.Fatal(err)
	}

	t.Cleanup(h.Close)

	return h
}

func (h *Host) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = h.server.Shutdown(ctx)
	_ = h.Session.Close()
	<-h.errCh
}

// ReadUntil polls read_from_pty until the accumulated output contains want.
func (h *Host) ReadUntil(ctx context.Context, want string) (string, error) {
	var out strings.Builder

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		b, err := h.Client.Read(ctx)
		if err != nil {
			return out.String(), err
		}
		out.Write(b)

		if strings.Contains(out.String(), want) {
			return out.String(), nil
		}

		select {
		case <-ctx.Done():
			return out.String(), fmt.Errorf("waiting for %q in %q: %w", want, out.String(), ctx.Err())
		case <-ticker.C:
		}
	}
}
