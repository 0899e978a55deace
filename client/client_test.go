package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/owenthereal/ptyhost/host"
	"github.com/owenthereal/ptyhost/host/api"
	"github.com/owenthereal/ptyhost/memlistener"
	"github.com/owenthereal/ptyhost/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "token"

type fakeSession struct {
	mu       sync.Mutex
	dir      string
	input    []byte
	rows     uint16
	cols     uint16
	output   []byte
	spawnErr error
}

func (s *fakeSession) CreateShell(directory string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.spawnErr != nil {
		return s.spawnErr
	}
	s.dir = directory
	return nil
}

func (s *fakeSession) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.input = append(s.input, p...)
	// Echo like a tty in cooked mode.
	s.output = append(s.output, p...)
	return nil
}

func (s *fakeSession) Resize(rows, cols uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rows, s.cols = rows, cols
	return nil
}

func (s *fakeSession) DrainRead() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.output) == 0 {
		return nil, nil
	}

	b := s.output
	s.output = nil
	return b, nil
}

func startServer(t *testing.T, sess *fakeSession) *Client {
	t.Helper()

	ln, err := memlistener.Listen(t.Name())
	require.NoError(t, err)

	s := &server.Server{
		Session:      sess,
		Token:        testToken,
		PollInterval: 5 * time.Millisecond,
	}
	go func() { _ = s.Serve(ln) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		_ = ln.Close()
	})

	return New(t.Name(), testToken, WithDialer(memlistener.DialContext))
}

func TestClient_Invoke(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	sess := &fakeSession{}
	c := startServer(t, sess)
	ctx := context.Background()

	h, err := c.WaitReady(ctx)
	require.NoError(err)
	assert.Equal("ok", h.Status)

	require.NoError(c.CreateShell(ctx, "/repo"))
	require.NoError(c.Resize(ctx, 30, 100))

	b, err := c.Read(ctx)
	require.NoError(err)
	assert.Nil(b, "no output yet")

	require.NoError(c.Write(ctx, []byte("ls\n")))

	b, err = c.Read(ctx)
	require.NoError(err)
	assert.Equal("ls\n", string(b))

	sess.mu.Lock()
	defer sess.mu.Unlock()
	assert.Equal("/repo", sess.dir)
	assert.Equal(uint16(30), sess.rows)
	assert.Equal(uint16(100), sess.cols)
}

func TestClient_Error(t *testing.T) {
	sess := &fakeSession{spawnErr: &host.SpawnError{Shell: "bash", Err: errors.New("no such file")}}
	c := startServer(t, sess)

	err := c.CreateShell(context.Background(), "")

	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Equal(t, api.KindSpawn, apiErr.Kind)
	assert.Contains(t, apiErr.Message, "no such file")
}

func TestClient_BadToken(t *testing.T) {
	c := startServer(t, &fakeSession{})
	bad := New(c.addr, "wrong", WithDialer(memlistener.DialContext))

	_, err := bad.Read(context.Background())
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, api.KindUnauthorized, apiErr.Kind)

	_, err = bad.Stream(context.Background())
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
}

func TestClient_Stream(t *testing.T) {
	c := startServer(t, &fakeSession{})

	s, err := c.Stream(context.Background())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Write([]byte("echo hi\n"))
	require.NoError(t, err)

	var got string
	for got != "echo hi\n" {
		f, err := s.Next()
		require.NoError(t, err)
		if f.Type == api.FrameOutput {
			got += f.Data
		}
	}
}

func TestClient_WaitReadyTimeout(t *testing.T) {
	c := New("nowhere", testToken, WithDialer(memlistener.DialContext))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := c.WaitReady(ctx)
	assert.Error(t, err)
}
