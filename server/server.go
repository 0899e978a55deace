package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/kit/metrics/provider"
	"github.com/olebedev/emitter"
	"github.com/owenthereal/ptyhost/host/api"
	"github.com/owenthereal/ptyhost/metrics"
)

const (
	defaultPollInterval = 20 * time.Millisecond
	readHeaderTimeout   = 10 * time.Second
)

// Session is the pty session served by the invoke API. *host.Session
// implements it.
type Session interface {
	CreateShell(directory string) error
	Write(p []byte) error
	Resize(rows, cols uint16) error
	DrainRead() ([]byte, error)
}

// Server exposes a Session over HTTP. Every route except /healthz and
// /metrics requires Token.
type Server struct {
	Session         Session
	Token           string
	EventEmitter    *emitter.Emitter
	MetricsProvider provider.Provider
	// PollInterval is how often /stream drains the session.
	PollInterval time.Duration
	Logger       *slog.Logger

	once    sync.Once
	handler http.Handler

	srv *http.Server
	mux sync.Mutex

	streams sync.WaitGroup
}

func (s *Server) Serve(ln net.Listener) error {
	// Streams are hijacked connections that Shutdown doesn't wait for;
	// cancelling their base context ends them.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.mux.Lock()
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.srv.RegisterOnShutdown(cancel)
	s.mux.Unlock()

	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

// Shutdown stops the server and waits for open streams to say goodbye, or
// for ctx to be done.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mux.Lock()
	srv := s.srv
	s.mux.Unlock()

	if srv == nil {
		return nil
	}

	if err := srv.Shutdown(ctx); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		s.streams.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler returns the server's routes. Instruments are created once.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() {
		s.handler = s.routes()
	})

	return s.handler
}

func (s *Server) routes() http.Handler {
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	pollInterval := s.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	inst := metrics.New(s.MetricsProvider)

	mux := http.NewServeMux()
	mux.Handle("POST /invoke/{command}", s.authenticate(&invokeHandler{
		session: s.Session,
		inst:    inst,
		logger:  logger.With("component", "invoke"),
	}))
	mux.Handle("GET /stream", s.authenticate(&streamHandler{
		session:      s.Session,
		eventEmitter: s.EventEmitter,
		pollInterval: pollInterval,
		inst:         inst,
		logger:       logger.With("component", "stream"),
		active:       &s.streams,
	}))
	mux.Handle("GET /metrics", metricsHandler())
	mux.HandleFunc("GET /healthz", healthz)

	return mux
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := requestToken(r)
		if s.Token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, api.KindUnauthorized, "missing or invalid token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requestToken reads the bearer token. Browsers can't set headers on a
// websocket handshake, so the token query parameter is accepted as well.
func requestToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return token
		}
		return ""
	}

	return r.URL.Query().Get("token")
}
