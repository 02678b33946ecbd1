package render

import (
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Default chunk write retry parameters.
const (
	defaultChunkAttempts = 5
	defaultChunkBackoff  = 20 * time.Millisecond
	maxChunkBackoff      = time.Second
)

// retryWriter retries every Write until the whole chunk is written or the
// attempt budget is spent. A short write resumes where the last attempt
// stopped, so no byte is written twice.
type retryWriter struct {
	w        io.Writer
	attempts int
	backoff  time.Duration
	sleep    func(time.Duration)

	chunks int
}

func (r *retryWriter) Write(p []byte) (int, error) {
	r.chunks++
	written := 0
	backoff := r.backoff
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		var n int
		n, err = r.w.Write(p[written:])
		written += n
		if written == len(p) {
			return written, nil
		}
		if err == nil {
			err = io.ErrShortWrite
		}
		if attempt == r.attempts {
			break
		}
		slog.Warn("render: chunk write failed, retrying",
			"chunk", r.chunks, "attempt", attempt, "written", written, "size", len(p), "err", err)
		if backoff > 0 {
			r.sleep(backoff)
			backoff = min(backoff*2, maxChunkBackoff)
		}
	}
	return written, fmt.Errorf("render: chunk %d: giving up after %d attempts: %w", r.chunks, r.attempts, err)
}
