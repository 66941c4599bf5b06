package assert

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// recorder captures failures instead of failing the enclosing test.
type recorder struct {
	testing.TB
	failures []string
}

func (r *recorder) Helper()           {}
func (r *recorder) Error(args ...any) { r.failures = append(r.failures, fmt.Sprint(args...)) }

func TestPanicsWith(t *testing.T) {
	sentinel := errors.New("boom")
	r := &recorder{TB: t}

	if !PanicsWith(r, sentinel, func() { panic(fmt.Errorf("wrapped: %w", sentinel)) }) {
		t.Fatalf("wrapped sentinel not matched: %v", r.failures)
	}
	if PanicsWith(r, sentinel, func() { panic("not an error") }) {
		t.Fatal("string panic matched an error target")
	}
	if PanicsWith(r, sentinel, func() {}) {
		t.Fatal("no panic reported as panic")
	}
	if len(r.failures) != 2 {
		t.Fatalf("got %d failures, want 2", len(r.failures))
	}
}

func TestEqualAndEventually(t *testing.T) {
	r := &recorder{TB: t}
	if Equal(r, 1, 2) {
		t.Fatal("1 == 2")
	}
	if !Contains(r, r.failures[0], "got=1 want=2") {
		t.Fatalf("message %q", r.failures[0])
	}

	n := 0
	if !Eventually(t, func() bool { n++; return n > 3 }, time.Second, time.Millisecond) {
		t.Fatal("eventually failed")
	}
}
