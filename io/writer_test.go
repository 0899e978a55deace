package io

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func Test_MultiWriter(t *testing.T) {
	t.Parallel()

	primary := bytes.NewBuffer(nil)
	w := NewMultiWriter(primary)

	_, _ = io.Copy(w, bytes.NewBufferString("hello1"))

	// append a tap
	tap := bytes.NewBuffer(nil)
	w.Append(tap)
	_, _ = io.Copy(w, bytes.NewBufferString("hello2"))

	if diff := cmp.Diff("hello1hello2", primary.String()); diff != "" {
		t.Errorf("primary:\n%s", diff)
	}
	if diff := cmp.Diff("hello2", tap.String()); diff != "" {
		t.Errorf("tap only sees writes after it was appended:\n%s", diff)
	}
}

func Test_MultiWriter_FailingTap(t *testing.T) {
	t.Parallel()

	primary := bytes.NewBuffer(nil)
	w := NewMultiWriter(primary)

	tapErr := errors.New("disk full")
	var dropped []error
	w.OnTapError = func(_ io.Writer, err error) {
		dropped = append(dropped, err)
	}

	calls := 0
	w.Append(writeFunc(func(p []byte) (int, error) {
		calls++
		return 0, tapErr
	}))
	healthy := bytes.NewBuffer(nil)
	w.Append(healthy)

	for _, s := range []string{"a", "b"} {
		n, err := w.Write([]byte(s))
		if err != nil {
			t.Fatalf("write should not fail because of a tap: %s", err)
		}
		if n != 1 {
			t.Fatalf("unexpected write count %d", n)
		}
	}

	if diff := cmp.Diff("ab", primary.String()); diff != "" {
		t.Errorf("primary:\n%s", diff)
	}
	if diff := cmp.Diff("ab", healthy.String()); diff != "" {
		t.Errorf("healthy tap should keep receiving writes:\n%s", diff)
	}
	if calls != 1 {
		t.Errorf("failing tap should be dropped after first error, called %d times", calls)
	}
	if len(dropped) != 1 || !errors.Is(dropped[0], tapErr) {
		t.Errorf("unexpected dropped errors %v", dropped)
	}
}

func Test_MultiWriter_FailingPrimary(t *testing.T) {
	t.Parallel()

	primaryErr := errors.New("closed")
	w := NewMultiWriter(writeFunc(func(p []byte) (int, error) {
		return 0, primaryErr
	}))

	if _, err := w.Write([]byte("x")); !errors.Is(err, primaryErr) {
		t.Errorf("want primary error, got %v", err)
	}
}

type writeFunc func(p []byte) (n int, err error)

func (wf writeFunc) Write(p []byte) (n int, err error) { return wf(p) }
