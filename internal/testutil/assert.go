// Package testutil holds helpers shared by the package tests.
package testutil

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// MustNoErr stops the test when err is set.
func MustNoErr(t testing.TB, err error, what string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", what, err)
	}
}

// AssertStrings reports a diff when got differs from want. A nil slice
// equals an empty one.
func AssertStrings(t testing.TB, got []string, want ...string) {
	t.Helper()
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("strings mismatch (-want +got):\n%s", diff)
	}
}

// AssertValidUTF8 flags s when it is not valid UTF-8.
func AssertValidUTF8(t testing.TB, s string) {
	t.Helper()
	if !utf8.ValidString(s) {
		t.Errorf("invalid UTF-8: %q", s)
	}
}

// AssertContainsAll reports every sub missing from got.
func AssertContainsAll(t testing.TB, got string, subs ...string) {
	t.Helper()
	var missing []string
	for _, sub := range subs {
		if !strings.Contains(got, sub) {
			missing = append(missing, sub)
		}
	}
	if len(missing) > 0 {
		t.Errorf("missing %q in:\n%s", missing, got)
	}
}
