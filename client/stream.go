package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/owenthereal/ptyhost/host/api"
)

// Stream opens the host's output stream. Frames are read with Next; Write
// sends pty input.
func (c *Client) Stream(ctx context.Context) (*Stream, error) {
	dialer := *websocket.DefaultDialer
	if c.dial != nil {
		dialer.NetDialContext = c.dial
		dialer.Proxy = nil
	}

	header := make(http.Header)
	header.Set("Authorization", "Bearer "+c.token)

	ws, resp, err := dialer.DialContext(ctx, c.url("ws", "/stream").String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, fmt.Errorf("error opening stream: %w", err)
	}

	return &Stream{ws: ws}, nil
}

type Stream struct {
	ws *websocket.Conn
	mu sync.Mutex
}

// Next blocks for the next frame from the host.
func (s *Stream) Next() (*api.Frame, error) {
	var f api.Frame
	if err := s.ws.ReadJSON(&f); err != nil {
		return nil, err
	}

	return &f, nil
}

func (s *Stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}

	return len(p), nil
}

// Close says goodbye and closes the connection.
func (s *Stream) Close() error {
	s.mu.Lock()
	_ = s.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.mu.Unlock()

	return s.ws.Close()
}
