package io

import (
	"context"
	"io"
)

// NewContextReader returns a reader whose Read returns ctx.Err() as soon as
// ctx is done, even while the underlying Read is still blocked.
func NewContextReader(ctx context.Context, r io.Reader) io.Reader {
	return contextReader{
		Reader: r,
		ctx:    ctx,
	}
}

type contextReader struct {
	io.Reader
	ctx context.Context
}

type readResult struct {
	n   int
	err error
}

func (r contextReader) Read(p []byte) (n int, err error) {
	// return early if context is done
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}

	// The read goes into its own buffer so that an abandoned read can't
	// write into p after we return.
	buf := make([]byte, len(p))
	c := make(chan readResult, 1)
	go func() {
		n, err := r.Reader.Read(buf)
		c <- readResult{n, err}
	}()

	select {
	case rr := <-c:
		copy(p, buf[:rr.n])
		return rr.n, rr.err
	case <-r.ctx.Done():
		return 0, r.ctx.Err()
	}
}
