package io

import (
	"fmt"
	"io"
	"sync"
	"unicode/utf8"
)

// DefaultBufferLimit is the default number of pending bytes a DrainBuffer
// holds before its writer has to wait.
const DefaultBufferLimit = 1 << 20

// InvalidUTF8Error reports bytes that were dropped from a DrainBuffer because
// they are not valid UTF-8.
type InvalidUTF8Error struct {
	Bytes []byte
}

func (e *InvalidUTF8Error) Error() string {
	return fmt.Sprintf("invalid utf-8 sequence % x", e.Bytes)
}

// NewDrainBuffer returns a DrainBuffer that accepts writes until limit bytes
// are pending.
func NewDrainBuffer(limit int) *DrainBuffer {
	if limit <= 0 {
		limit = DefaultBufferLimit
	}

	b := &DrainBuffer{limit: limit}
	b.space = sync.NewCond(&b.mu)

	return b
}

// DrainBuffer sits between a producer that blocks (a PTY output pump) and a
// consumer that must not (a UI poll). Write waits while the buffer is full;
// Drain never waits.
//
// Drain only hands out whole UTF-8 text: a multi-byte sequence split across
// two writes is held back until its remaining bytes arrive.
type DrainBuffer struct {
	mu    sync.Mutex
	space *sync.Cond
	buf   []byte
	limit int

	done bool
	err  error
}

// Write appends p to the buffer.
func (b *DrainBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for len(b.buf) >= b.limit && !b.done {
		b.space.Wait()
	}

	if b.done {
		return 0, io.ErrClosedPipe
	}

	b.buf = append(b.buf, p...)

	return len(p), nil
}

// CloseWithError marks the end of input. A nil err is a clean end of stream;
// a non-nil err is returned by Drain once the buffered text is consumed.
func (b *DrainBuffer) CloseWithError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return
	}

	b.done = true
	b.err = err
	b.space.Broadcast()
}

// pending returns the number of buffered bytes.
func (b *DrainBuffer) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.buf)
}

// Drain consumes and returns the longest valid UTF-8 prefix of the pending
// bytes. It returns nil, nil when there is nothing to hand out yet. When the
// pending bytes start with an invalid sequence, that sequence is consumed and
// reported as *InvalidUTF8Error so later text is not held up behind it.
func (b *DrainBuffer) Drain() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.buf) == 0 {
		return nil, b.err
	}

	if n := validPrefix(b.buf); n > 0 {
		out := make([]byte, n)
		copy(out, b.buf)
		b.consume(n)

		return out, nil
	}

	if n := invalidPrefix(b.buf, b.done); n > 0 {
		bad := make([]byte, n)
		copy(bad, b.buf)
		b.consume(n)

		return nil, &InvalidUTF8Error{Bytes: bad}
	}

	// Only the start of a multi-byte sequence is pending.
	return nil, nil
}

func (b *DrainBuffer) consume(n int) {
	b.buf = append(b.buf[:0], b.buf[n:]...)
	b.space.Broadcast()
}

// validPrefix returns the length of the longest prefix of p made of complete,
// valid UTF-8 sequences.
func validPrefix(p []byte) int {
	i := 0
	for i < len(p) {
		if p[i] < utf8.RuneSelf {
			i++
			continue
		}

		r, size := utf8.DecodeRune(p[i:])
		if r == utf8.RuneError && size == 1 {
			return i
		}
		i += size
	}

	return i
}

// invalidPrefix returns the number of leading bytes of p that can never form
// valid UTF-8. Unless final, a truncated sequence at the end of p may still be
// completed and is not counted.
func invalidPrefix(p []byte, final bool) int {
	n := 0
	for n < len(p) {
		r, size := utf8.DecodeRune(p[n:])
		if r != utf8.RuneError || size != 1 {
			break
		}
		if !final && !utf8.FullRune(p[n:]) {
			break
		}
		n++
	}

	return n
}
