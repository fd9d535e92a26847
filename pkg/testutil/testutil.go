// Package testutil provides testing utilities for the data store packages.
package testutil

import (
	"iter"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/datastore/pkg/types"
)

// TestLogger creates a test logger that writes to the test output.
// The logger is automatically cleaned up when the test completes.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// AssertEventually asserts that a condition becomes true within the specified timeout.
// It checks the condition every 10ms until it succeeds or the timeout expires.
func AssertEventually(t *testing.T, condition func() bool, timeout time.Duration, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("condition not met within %v: %s", timeout, msg)
}

// Record builds a record from native values and fails the test on
// unsupported kinds.
func Record(t testing.TB, fields map[string]any) types.Record {
	t.Helper()
	r, err := types.RecordOf(fields)
	if err != nil {
		t.Fatalf("build record: %v", err)
	}
	return r
}

// Collect drains seq and returns its records, stopping at the first error.
func Collect(seq iter.Seq2[types.Record, error]) ([]types.Record, error) {
	var out []types.Record
	for r, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, r)
	}
	return out, nil
}

// Plain converts records to native maps for readable assertions. Values
// become their Any form, so ints compare as int64 and floats as float64.
func Plain(records []types.Record) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		m := make(map[string]any, len(r))
		for k, v := range r {
			m[k] = v.Any()
		}
		out = append(out, m)
	}
	return out
}

// MustCollect is Collect that fails the test on error.
func MustCollect(t testing.TB, seq iter.Seq2[types.Record, error]) []map[string]any {
	t.Helper()
	records, err := Collect(seq)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	return Plain(records)
}
