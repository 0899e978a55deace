package host

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/olebedev/emitter"
	"github.com/owenthereal/ptyhost/host/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession_DrainReadBeforeShell(t *testing.T) {
	s, _ := newFakeSession(t)

	b, err := s.DrainRead()
	assert.NoError(t, err)
	assert.Nil(t, b)
}

func TestSession_DecodeError(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	s, p := newFakeSession(t)
	p.output("ok\xff")

	b := eventuallyDrain(t, s, "ok")
	assert.Equal("ok", string(b))

	_, err := s.DrainRead()
	var decodeErr *DecodeError
	require.ErrorAs(err, &decodeErr)
	assert.Equal([]byte("\xff"), decodeErr.Bytes)

	p.output("fine")
	assert.Equal("fine", string(eventuallyDrain(t, s, "fine")))
}

func TestSession_SplitSequence(t *testing.T) {
	s, p := newFakeSession(t)

	p.output("\xe2\x82")
	p.output("\xac")

	assert.Equal(t, "€", string(eventuallyDrain(t, s, "€")))
}

func TestSession_ReadError(t *testing.T) {
	s, p := newFakeSession(t)

	readErr := errors.New("device gone")
	p.fail(readErr)

	require.Eventually(t, func() bool {
		_, err := s.DrainRead()
		var e *ReadError
		return errors.As(err, &e) && errors.Is(err, readErr)
	}, time.Second, 10*time.Millisecond)
}

func TestSession_WriteError(t *testing.T) {
	s, p := newFakeSession(t)

	p.writeErr = errors.New("broken")

	err := s.Write([]byte("ls\n"))
	var writeErr *WriteError
	require.ErrorAs(t, err, &writeErr)
	assert.ErrorIs(t, err, p.writeErr)
}

func TestSession_ResizeError(t *testing.T) {
	s, p := newFakeSession(t)

	p.sizeErr = errors.New("bad ioctl")

	err := s.Resize(10, 20)
	var resizeErr *ResizeError
	require.ErrorAs(t, err, &resizeErr)
	assert.Equal(t, uint16(10), resizeErr.Rows)
	assert.Equal(t, uint16(20), resizeErr.Cols)
}

func TestSession_ResizeEmitsEvent(t *testing.T) {
	em := emitter.New(1)
	events := em.On(EventPtyResized)
	t.Cleanup(func() { em.Off(EventPtyResized, events) })

	s, p := newFakeSessionWithOptions(t, Options{EventEmitter: em})

	require.NoError(t, s.Resize(30, 100))
	assert.Equal(t, Size{Rows: 30, Cols: 100}, p.size())

	select {
	case e := <-events:
		assert.Equal(t, ResizeEvent{Rows: 30, Cols: 100}, e.Args[0])
	case <-time.After(time.Second):
		t.Fatal("no resize event")
	}
}

func TestSession_InvalidDirectory(t *testing.T) {
	s, p := newFakeSession(t)

	missing := filepath.Join(t.TempDir(), "missing")
	err := s.CreateShell(missing)
	var dirErr *InvalidDirectoryError
	require.ErrorAs(t, err, &dirErr)
	assert.Equal(t, missing, dirErr.Dir)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	err = s.CreateShell(file)
	require.ErrorAs(t, err, &dirErr)
	assert.ErrorIs(t, err, errNotDirectory)

	assert.Zero(t, p.spawned())
}

func TestSession_SpawnError(t *testing.T) {
	s, p := newFakeSession(t)
	s.spec = internal.PosixShellSpec{Shell: "/nonexistent/shell"}

	err := s.CreateShell("")
	var spawnErr *SpawnError
	require.ErrorAs(t, err, &spawnErr)
	assert.Equal(t, "/nonexistent/shell", spawnErr.Shell)
	assert.Zero(t, p.spawned())
}

func TestSession_TranscriptTap(t *testing.T) {
	var transcript lockedBuffer
	s, p := newFakeSessionWithOptions(t, Options{Transcript: &transcript})

	p.output("hello")
	eventuallyDrain(t, s, "hello")

	assert.Equal(t, "hello", transcript.String())
}

func TestSession_FailingTranscriptIsDropped(t *testing.T) {
	var calls atomic.Int32
	transcript := transcriptFunc(func(b []byte) (int, error) {
		calls.Add(1)
		return 0, errors.New("disk full")
	})
	s, p := newFakeSessionWithOptions(t, Options{Transcript: transcript})

	p.output("hello")
	assert.Equal(t, "hello", string(eventuallyDrain(t, s, "hello")))

	p.output("world")
	assert.Equal(t, "world", string(eventuallyDrain(t, s, "world")))

	assert.Equal(t, int32(1), calls.Load(), "failed transcript should be dropped")
}

// transcriptFunc is not comparable, like any func-typed writer.
type transcriptFunc func(p []byte) (int, error)

func (f transcriptFunc) Write(p []byte) (int, error) { return f(p) }

func TestSession_ResizeDuringSupersede(t *testing.T) {
	child := newStubbornChild()
	s, p := newFakeSessionWithOptions(t, Options{SupersedeTimeout: 500 * time.Millisecond})
	p.child = child
	t.Cleanup(child.release)

	require.NoError(t, s.CreateShell(""))

	replaced := make(chan error, 1)
	go func() {
		replaced <- s.CreateShell("")
	}()
	// Let the replacement start waiting on the stubborn shell.
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, s.Resize(30, 100))
	assert.Less(t, time.Since(start), 200*time.Millisecond, "resize should not wait for the old shell")

	select {
	case err := <-replaced:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("create_shell did not finish")
	}
	assert.Equal(t, 2, p.spawned())
}

// stubbornChild ignores Kill and exits only when released.
type stubbornChild struct {
	once sync.Once
	done chan struct{}
}

func newStubbornChild() *stubbornChild {
	return &stubbornChild{done: make(chan struct{})}
}

func (c *stubbornChild) ID() string  { return "stubborn" }
func (c *stubbornChild) Pid() int    { return 1 }
func (c *stubbornChild) Kill() error { return nil }

func (c *stubbornChild) Wait() (int, error) {
	<-c.done
	return 0, nil
}

func (c *stubbornChild) release() {
	c.once.Do(func() { close(c.done) })
}

func eventuallyDrain(t *testing.T, s *Session, want string) []byte {
	t.Helper()

	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		b, err := s.DrainRead()
		if err != nil {
			t.Fatalf("unexpected drain error: %s", err)
		}
		got = append(got, b...)
		if len(got) >= len(want) {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("timed out draining %q, got %q", want, got)
	return nil
}

func newFakeSession(t *testing.T) (*Session, *fakePty) {
	return newFakeSessionWithOptions(t, Options{})
}

func newFakeSessionWithOptions(t *testing.T, opts Options) (*Session, *fakePty) {
	t.Helper()

	p := newFakePty()
	s := newSession(p, internal.PosixShellSpec{Shell: "/bin/sh"}, opts)
	t.Cleanup(func() { _ = s.Close() })

	return s, p
}

func newFakePty() *fakePty {
	r, w := io.Pipe()
	return &fakePty{r: r, w: w}
}

type fakePty struct {
	r *io.PipeReader
	w *io.PipeWriter

	writeErr error
	sizeErr  error

	// child is returned by Spawn when set.
	child internal.Child

	mu       sync.Mutex
	sz       Size
	children int
}

func (p *fakePty) output(s string) {
	go func() { _, _ = p.w.Write([]byte(s)) }()
	// Keep writes ordered.
	time.Sleep(10 * time.Millisecond)
}

func (p *fakePty) fail(err error) {
	_ = p.w.CloseWithError(err)
}

func (p *fakePty) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePty) Write(b []byte) (int, error) {
	if p.writeErr != nil {
		return 0, p.writeErr
	}
	return len(b), nil
}

func (p *fakePty) Close() error {
	return p.w.Close()
}

func (p *fakePty) Setsize(sz Size) error {
	if p.sizeErr != nil {
		return p.sizeErr
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sz = sz

	return nil
}

func (p *fakePty) Spawn(c *internal.Command) (internal.Child, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.children++

	if p.child != nil {
		return p.child, nil
	}
	return nil, errors.New("fake pty cannot spawn")
}

func (p *fakePty) size() Size {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.sz
}

func (p *fakePty) spawned() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.children
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return string(b.buf)
}
