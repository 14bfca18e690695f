// Package testutil holds small helpers shared across this module's
// _test.go files.
package testutil

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
)

var dumpConfig = func() *spew.ConfigState {
	c := spew.NewDefaultConfig()
	c.DisablePointerAddresses = true
	c.SortKeys = true
	return c
}()

// Dump renders v the way the donor's inspect/debug commands do for a human
// reading terminal output, for use in a failure message.
func Dump(v any) string {
	return dumpConfig.Sdump(v)
}

// RequireEqualDump fails the test with a deep dump of want/got when they
// differ, for structs too large for testify's default diff to read.
func RequireEqualDump(t *testing.T, want, got any, msg string) {
	t.Helper()
	if dumpConfig.Sdump(want) != dumpConfig.Sdump(got) {
		t.Fatalf("%s:\nwant: %s\ngot:  %s", msg, Dump(want), Dump(got))
	}
}
