package app

import (
	"os"
	"sync"
	"sync/atomic"
)

// testModeEnv makes cmd/sitebill and cmd/worker return before dialing
// PostgreSQL, Redis or Gotenberg, so their packages can be built and
// exercised in CI without backing services.
const testModeEnv = "SITEBILL_TEST_MODE"

var (
	testMode     atomic.Bool
	testModeOnce sync.Once
)

func loadTestMode() {
	testMode.Store(os.Getenv(testModeEnv) == "1")
}

// InTestMode reports whether SITEBILL_TEST_MODE=1. The variable is read once.
func InTestMode() bool {
	testModeOnce.Do(loadTestMode)
	return testMode.Load()
}

// RefreshTestMode re-reads SITEBILL_TEST_MODE, for tests that change it.
func RefreshTestMode() {
	loadTestMode()
}
