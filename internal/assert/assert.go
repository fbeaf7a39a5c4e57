// Package assert is a small hand-rolled test-assertion helper, kept
// deliberately tiny so the main module's go.mod never needs to pull in a
// third-party assertion library just for _test.go files.
package assert

import (
	"reflect"
	"testing"
)

// NoError fails the test if err is non-nil.
func NoError(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err != nil {
		t.Fatalf("expected no error, got %v%s", err, format(msgAndArgs))
	}
}

// Error fails the test if err is nil.
func Error(t *testing.T, err error, msgAndArgs ...interface{}) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected an error, got nil%s", format(msgAndArgs))
	}
}

// True fails the test if cond is false.
func True(t *testing.T, cond bool, msgAndArgs ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf("expected condition to be true%s", format(msgAndArgs))
	}
}

// False fails the test if cond is true.
func False(t *testing.T, cond bool, msgAndArgs ...interface{}) {
	t.Helper()
	if cond {
		t.Fatalf("expected condition to be false%s", format(msgAndArgs))
	}
}

// Nil fails the test if got is not nil.
func Nil(t *testing.T, got interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if !isNil(got) {
		t.Fatalf("expected nil, got %v%s", got, format(msgAndArgs))
	}
}

// NotNil fails the test if got is nil.
func NotNil(t *testing.T, got interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if isNil(got) {
		t.Fatalf("expected a non-nil value%s", format(msgAndArgs))
	}
}

// Equal fails the test if want and got are not deeply equal.
func Equal(t *testing.T, want, got interface{}, msgAndArgs ...interface{}) {
	t.Helper()
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("expected %v, got %v%s", want, got, format(msgAndArgs))
	}
}

func isNil(v interface{}) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}

func format(msgAndArgs []interface{}) string {
	if len(msgAndArgs) == 0 {
		return ""
	}
	if msg, ok := msgAndArgs[0].(string); ok {
		return ": " + msg
	}
	return ""
}
