package bootstrap

import (
	"fmt"
	"time"
)

// LockTimeoutError reports that another process held the build lock for
// longer than the configured timeout.
type LockTimeoutError struct {
	LockPath string
	Timeout  time.Duration
}

func (e *LockTimeoutError) Error() string {
	return fmt.Sprintf("build lock %s still held after %s", e.LockPath, e.Timeout)
}
