package sqltransport

import (
	"math/rand"
	"strings"
	"time"
)

// retryConfig controls retry behavior for transient SQLite errors.
type retryConfig struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// roundWriteRetryConfig backs every insert on the hot collective path
// (insertGatherRow, insertBroadcastRow, insertReduceRow): some other rank
// in the same round is racing the same table, so contention is expected
// and should clear within a few backoffs.
var roundWriteRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  50 * time.Millisecond,
	maxDelay:   500 * time.Millisecond,
}

// pointstampRetryConfig backs progress/prune writes (recordProgress,
// pruneRoundsBelow): these aren't on a rank's critical path for advancing
// its own round, they just keep the frontier and the row tables from
// growing without bound, so a contention loss can afford to wait longer
// before giving up the write (noteProgress only logs such a failure).
var pointstampRetryConfig = retryConfig{
	maxRetries: 5,
	baseDelay:  100 * time.Millisecond,
	maxDelay:   2 * time.Second,
}

// isTransientSQLiteErr returns true if the error is a transient SQLite error
// that can be resolved by retrying. This includes:
//   - SQLITE_BUSY (5) — another connection holds a lock
//   - SQLITE_LOCKED (6) — table-level lock conflict
//   - SQLITE_IOERR_SHORT_READ (522) — WAL contention read failure
//   - database is locked — text-level detection for the busy_timeout fallthrough
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
		"(522)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// retryOp executes fn with exponential backoff + jitter for transient
// errors, scoped to this store's connection. If fn succeeds or returns a
// non-transient error, it returns immediately.
func (s *store) retryOp(cfg retryConfig, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= cfg.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransientSQLiteErr(lastErr) {
			return lastErr
		}
		if attempt < cfg.maxRetries {
			time.Sleep(backoffDelay(cfg, attempt))
		}
	}
	return lastErr
}

// backoffDelay computes the delay for a given retry attempt using exponential
// backoff with jitter: delay = min(baseDelay * 2^attempt, maxDelay) +
// random([0, baseDelay)).
func backoffDelay(cfg retryConfig, attempt int) time.Duration {
	delay := cfg.baseDelay << uint(attempt)
	if delay > cfg.maxDelay {
		delay = cfg.maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(cfg.baseDelay)))
	return delay + jitter
}
