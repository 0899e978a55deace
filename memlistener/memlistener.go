// Package memlistener provides named in-process listeners so HTTP servers and
// clients can be wired together without opening sockets.
package memlistener

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"google.golang.org/grpc/test/bufconn"
)

// Network is the network name accepted by Listen and DialContext.
const Network = "mem"

const defaultBufferSize = 256 * 1024

var (
	registry = struct {
		sync.Mutex
		listeners map[string]*Listener
	}{listeners: make(map[string]*Listener)}

	errMissingAddress = errors.New("missing address")
)

type addr string

func (addr) Network() string  { return Network }
func (a addr) String() string { return string(a) }

// Listener is a bufconn listener registered under an address until closed.
type Listener struct {
	*bufconn.Listener
	address string
	once    sync.Once
}

func (l *Listener) Addr() net.Addr {
	return addr(l.address)
}

func (l *Listener) Close() error {
	l.once.Do(func() {
		registry.Lock()
		delete(registry.listeners, l.address)
		registry.Unlock()
	})

	return l.Listener.Close()
}

// Listen registers a listener under address.
func Listen(address string) (*Listener, error) {
	return ListenSize(address, defaultBufferSize)
}

func ListenSize(address string, sz int) (*Listener, error) {
	if address == "" {
		return nil, opError("listen", address, errMissingAddress)
	}

	registry.Lock()
	defer registry.Unlock()

	if _, ok := registry.listeners[address]; ok {
		return nil, opError("listen", address, fmt.Errorf("listener with address %s already exists", address))
	}

	ln := &Listener{
		Listener: bufconn.Listen(sz),
		address:  address,
	}
	registry.listeners[address] = ln

	return ln, nil
}

// DialContext connects to the listener registered under address. Its
// signature matches net.Dialer.DialContext so it can back an http.Transport
// or a websocket.Dialer; the host part of an address like "name:80" is used.
func DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if network != Network && network != "tcp" {
		return nil, opError("dial", address, net.UnknownNetworkError(network))
	}

	if host, _, err := net.SplitHostPort(address); err == nil {
		address = host
	}
	if address == "" {
		return nil, opError("dial", address, errMissingAddress)
	}

	registry.Lock()
	ln, ok := registry.listeners[address]
	registry.Unlock()
	if !ok {
		return nil, opError("dial", address, fmt.Errorf("listener with address %s not found", address))
	}

	return ln.DialContext(ctx)
}

func opError(op, address string, err error) error {
	return &net.OpError{Op: op, Net: Network, Addr: addr(address), Err: err}
}
