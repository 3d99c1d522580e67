package test

import (
	"os"
	"testing"
)

// SkipIfShort skips a test if testing in short mode
func SkipIfShort(t *testing.T) {
	if testing.Short() {
		// t.Skip() kills the goroutine
		t.Skip("Skipping " + t.Name() + " since it's not a unit test.")
	}
}

// RequireEnv returns the value of the environment variable `name`. Tests that
// need a running bitcoind are skipped when it is not set or in short mode.
func RequireEnv(t *testing.T, name string) string {
	SkipIfShort(t)
	value := os.Getenv(name)
	if value == "" {
		t.Skip("Skipping " + t.Name() + " since " + name + " is not set.")
	}
	return value
}
