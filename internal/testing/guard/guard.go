// Package guard switches entrypoints into test mode when imported by a test
// binary, so calling main never dials postgres, redis or the job queue.
package guard

import "os"

// Env mirrors app.TestModeEnv.
const Env = "BACKOFFICE_TEST_MODE"

func init() {
	if _, set := os.LookupEnv(Env); !set {
		_ = os.Setenv(Env, "1")
	}
}
