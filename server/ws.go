package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/oklog/run"
	"github.com/olebedev/emitter"
	"github.com/owenthereal/ptyhost/host"
	"github.com/owenthereal/ptyhost/host/api"
	"github.com/owenthereal/ptyhost/metrics"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Longest time output is flushed ahead of a shell exit event.
	maxFlush = time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	allEvents = "*"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// streamHandler pushes drained output and session events to a websocket
// client and writes what the client sends to the pty.
type streamHandler struct {
	session      Session
	eventEmitter *emitter.Emitter
	pollInterval time.Duration
	inst         *metrics.Instruments
	logger       *slog.Logger

	// active tracks open streams for Server.Shutdown.
	active *sync.WaitGroup
}

func (h *streamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.active.Add(1)
	defer h.active.Done()

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Info("ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	h.inst.Streams.Add(1)
	defer h.inst.Streams.Add(-1)

	logger := h.logger.With("remote", r.RemoteAddr)
	logger.Info("stream opened")

	conn := &frameWriter{ws: ws}
	out := &outputPump{session: h.session, conn: conn, inst: h.inst}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var g run.Group
	{
		g.Add(func() error {
			return out.run(ctx, h.pollInterval)
		}, func(err error) {
			cancel()
		})
	}
	{
		if h.eventEmitter != nil {
			events := h.eventEmitter.On(allEvents)
			g.Add(func() error {
				return relayEvents(conn, out, h.pollInterval, events, cancel)
			}, func(err error) {
				h.eventEmitter.Off(allEvents, events)
			})
		}
	}
	{
		g.Add(func() error {
			return h.pumpInput(ws)
		}, func(err error) {
			// Unblock ReadMessage.
			_ = ws.SetReadDeadline(time.Now())
		})
	}
	{
		g.Add(func() error {
			return keepAlive(ctx, ws)
		}, func(err error) {
			cancel()
		})
	}

	err = g.Run()
	// Sent last so it follows any flushed output and the exit event.
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Info("stream closed", "error", err)
		return
	}
	logger.Info("stream closed")
}

// outputPump drains the session into output frames. Drain and send happen
// under one lock so frames keep the order of the output.
type outputPump struct {
	mu      sync.Mutex
	session Session
	conn    *frameWriter
	inst    *metrics.Instruments
}

func (p *outputPump) run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if _, err := p.drain(); err != nil {
			return err
		}
	}
}

// drain sends what is buffered and returns the number of bytes sent.
func (p *outputPump) drain() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	b, err := p.session.DrainRead()
	if err != nil {
		_, kind := errorStatus(err)
		if werr := p.conn.write(api.Frame{
			Type:  api.FrameError,
			Error: &api.ErrorBody{Kind: kind, Message: err.Error()},
		}); werr != nil {
			return 0, werr
		}

		// Invalid bytes are dropped and the stream goes on.
		var decodeErr *host.DecodeError
		if errors.As(err, &decodeErr) {
			return 0, nil
		}
		return 0, err
	}

	if len(b) == 0 {
		return 0, nil
	}

	p.inst.BytesRead.Add(float64(len(b)))
	if err := p.conn.write(api.Frame{Type: api.FrameOutput, Data: string(b)}); err != nil {
		return 0, err
	}

	return len(b), nil
}

// flush sends pending output until the session has been quiet for one poll
// interval, so output written right before an exit is not outrun by it.
func (p *outputPump) flush(interval time.Duration) error {
	deadline := time.Now().Add(maxFlush)
	for time.Now().Before(deadline) {
		n, err := p.drain()
		if err != nil {
			return err
		}
		if n > 0 {
			continue
		}

		time.Sleep(interval)
		if n, err = p.drain(); err != nil || n == 0 {
			return err
		}
	}

	return nil
}

func (h *streamHandler) pumpInput(ws *websocket.Conn) error {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, b, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}

		if err := h.session.Write(b); err != nil {
			return err
		}
		h.inst.BytesWritten.Add(float64(len(b)))
	}
}

// relayEvents forwards events until the listener is closed. The shell's
// output is flushed before its exit is sent. It keeps draining after a failed
// write: a pending delivery holds the emitter's lock, which Off needs.
func relayEvents(conn *frameWriter, out *outputPump, interval time.Duration, events <-chan emitter.Event, cancel func()) error {
	var err error
	for e := range events {
		if err != nil {
			continue
		}

		if e.OriginalTopic == host.EventShellExited {
			err = out.flush(interval)
		}
		if err != nil {
			cancel()
			continue
		}

		frame := api.Frame{Type: api.FrameEvent, Topic: e.OriginalTopic}
		if len(e.Args) > 0 {
			frame.Event, err = json.Marshal(e.Args[0])
		}
		if err == nil {
			err = conn.write(frame)
		}
		if err != nil {
			cancel()
		}
	}

	return err
}

func keepAlive(ctx context.Context, ws *websocket.Conn) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

// frameWriter serializes frame writes; a websocket allows one writer at a
// time.
type frameWriter struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (w *frameWriter) write(f api.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	_ = w.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return w.ws.WriteJSON(f)
}
