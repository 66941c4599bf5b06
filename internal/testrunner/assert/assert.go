// Package assert holds the assertion helpers shared by the runtime tests.
// Every helper reports through t.Errorf and returns whether it passed, so a
// test can bail out with `if !assert.X(...) { return }`.
package assert

import (
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"
)

// Equal asserts that two comparable values are equal.
func Equal[T comparable](t testing.TB, got, want T, msgAndArgs ...any) bool {
	t.Helper()
	if got != want {
		failMsg(t, "Equal", fmt.Sprintf("got=%v want=%v", got, want), msgAndArgs...)
		return false
	}
	return true
}

// Nil asserts that v is nil, including typed nil pointers, maps and slices.
func Nil(t testing.TB, v any, msgAndArgs ...any) bool {
	t.Helper()
	if !isNil(v) {
		failMsg(t, "Nil", fmt.Sprintf("expected nil, got %T(%v)", v, v), msgAndArgs...)
		return false
	}
	return true
}

// NotNil asserts that v is not nil.
func NotNil(t testing.TB, v any, msgAndArgs ...any) bool {
	t.Helper()
	if isNil(v) {
		failMsg(t, "NotNil", "unexpected nil", msgAndArgs...)
		return false
	}
	return true
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Func, reflect.Map, reflect.Slice, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

// True asserts that cond is true.
func True(t testing.TB, cond bool, msgAndArgs ...any) bool {
	t.Helper()
	if !cond {
		failMsg(t, "True", "condition is false", msgAndArgs...)
		return false
	}
	return true
}

// False asserts that cond is false.
func False(t testing.TB, cond bool, msgAndArgs ...any) bool {
	t.Helper()
	if cond {
		failMsg(t, "False", "condition is true", msgAndArgs...)
		return false
	}
	return true
}

// NoError asserts that err is nil.
func NoError(t testing.TB, err error, msgAndArgs ...any) bool {
	t.Helper()
	if err != nil {
		failMsg(t, "NoError", fmt.Sprintf("unexpected error: %v", err), msgAndArgs...)
		return false
	}
	return true
}

// ErrorIs asserts that err matches target via errors.Is.
func ErrorIs(t testing.TB, err, target error, msgAndArgs ...any) bool {
	t.Helper()
	if !errors.Is(err, target) {
		failMsg(t, "ErrorIs", fmt.Sprintf("%v is not %v", err, target), msgAndArgs...)
		return false
	}
	return true
}

// Contains asserts that s contains substr.
func Contains(t testing.TB, s, substr string, msgAndArgs ...any) bool {
	t.Helper()
	if !strings.Contains(s, substr) {
		failMsg(t, "Contains", fmt.Sprintf("%q does not contain %q", s, substr), msgAndArgs...)
		return false
	}
	return true
}

// Panics asserts that fn panics.
func Panics(t testing.TB, fn func(), msgAndArgs ...any) bool {
	t.Helper()
	if _, ok := recovered(fn); !ok {
		failMsg(t, "Panics", "function did not panic", msgAndArgs...)
		return false
	}
	return true
}

// PanicsWith asserts that fn panics with an error matching target. The
// runtime panics with error values, so this is the usual way to check
// invariant violations.
func PanicsWith(t testing.TB, target error, fn func(), msgAndArgs ...any) bool {
	t.Helper()
	v, ok := recovered(fn)
	if !ok {
		failMsg(t, "PanicsWith", "function did not panic", msgAndArgs...)
		return false
	}
	err, isErr := v.(error)
	if !isErr || !errors.Is(err, target) {
		failMsg(t, "PanicsWith", fmt.Sprintf("panic value %v is not %v", v, target), msgAndArgs...)
		return false
	}
	return true
}

// NotPanics asserts that fn returns normally.
func NotPanics(t testing.TB, fn func(), msgAndArgs ...any) bool {
	t.Helper()
	if v, ok := recovered(fn); ok {
		failMsg(t, "NotPanics", fmt.Sprintf("unexpected panic: %v", v), msgAndArgs...)
		return false
	}
	return true
}

func recovered(fn func()) (v any, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			v, panicked = r, true
		}
	}()
	fn()
	return nil, false
}

// Eventually asserts that condition becomes true within duration, checking every interval.
func Eventually(t testing.TB, condition func() bool, within, interval time.Duration, msgAndArgs ...any) bool {
	t.Helper()
	deadline := time.Now().Add(within)
	for !condition() {
		if time.Now().After(deadline) {
			failMsg(t, "Eventually", "condition not met within "+within.String(), msgAndArgs...)
			return false
		}
		time.Sleep(interval)
	}
	return true
}

func failMsg(t testing.TB, op string, detail string, msgAndArgs ...any) {
	base := fmt.Sprintf("%s: %s at %s", op, detail, caller())
	if len(msgAndArgs) > 0 {
		base += ": " + fmt.Sprint(msgAndArgs...)
	}
	t.Error(base)
}

func caller() string {
	// Skip assertion frames to point at the test site.
	for i := 2; i < 10; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if fn := runtime.FuncForPC(pc); fn != nil && strings.Contains(fn.Name(), "assert.") {
			continue
		}
		return fmt.Sprintf("%s:%d", file, line)
	}
	return "unknown:0"
}
