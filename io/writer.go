package io

import (
	"io"
	"sync"
)

// NewMultiWriter returns a MultiWriter writing to primary.
func NewMultiWriter(primary io.Writer) *MultiWriter {
	return &MultiWriter{primary: primary}
}

// MultiWriter is a concurrent safe writer that duplicates writes to a primary
// writer and any number of taps. A tap that fails is dropped and the write
// carries on; only a failing primary fails the write.
type MultiWriter struct {
	mu      sync.Mutex
	primary io.Writer
	taps    []io.Writer

	// OnTapError is called with a tap that has been dropped.
	OnTapError func(w io.Writer, err error)
}

func (t *MultiWriter) Append(taps ...io.Writer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.taps = append(t.taps, taps...)
}

func (t *MultiWriter) Write(p []byte) (n int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Taps are matched by position; writers need not be comparable.
	kept := t.taps[:0]
	for _, w := range t.taps {
		n, err := w.Write(p)
		if err == nil && n != len(p) {
			err = io.ErrShortWrite
		}
		if err != nil {
			if t.OnTapError != nil {
				t.OnTapError(w, err)
			}
			continue
		}
		kept = append(kept, w)
	}
	for i := len(kept); i < len(t.taps); i++ {
		t.taps[i] = nil
	}
	t.taps = kept

	n, err = t.primary.Write(p)
	if err == nil && n != len(p) {
		err = io.ErrShortWrite
	}

	return n, err
}
