package progress

import (
	"context"
	"errors"
	"time"

	"videoscope/internal/models"
)

// ErrJobNotFound is returned when no job record exists for the id.
var ErrJobNotFound = errors.New("job not found")

// jobTTL is refreshed on every publish; records expire an hour after the
// last write regardless of reads.
const jobTTL = time.Hour

// Stream delivers a single job's events to one subscriber in publish order.
type Stream interface {
	// Next blocks up to timeout for the next event payload. ok is false when
	// the wait timed out without a message; err is terminal.
	Next(ctx context.Context, timeout time.Duration) (payload []byte, ok bool, err error)
	Close() error
}

// Store is the shared job-state substrate: a point-readable record per job
// plus a best-effort event channel. The snapshot read is the correctness
// guarantee; events are a live feed only.
type Store interface {
	// Publish overwrites the job record with pct/msg/status, refreshes its
	// TTL, and broadcasts a progress event. The record write and the
	// broadcast are not atomic; fresh subscribers must re-read the record.
	Publish(ctx context.Context, jobID string, pct int, msg string, extra map[string]string) error

	// GetJob point-reads the current record, ErrJobNotFound when absent.
	GetJob(ctx context.Context, jobID string) (*models.Job, error)

	// SetFilePath registers the reassembled input for the worker to pick up.
	SetFilePath(ctx context.Context, jobID, path string) error

	// SetResult stores the final result payload on a completed job.
	SetResult(ctx context.Context, jobID, result string) error

	// Subscribe opens an ordered event stream for one job.
	Subscribe(ctx context.Context, jobID string) (Stream, error)

	// AcquireLease takes the single-writer lease for a job run. It fails
	// (false, nil) when another run already holds it.
	AcquireLease(ctx context.Context, jobID, token string, ttl time.Duration) (bool, error)

	// ReleaseLease drops the lease if still held by token.
	ReleaseLease(ctx context.Context, jobID, token string) error
}

func statusFromExtra(extra map[string]string) string {
	if s, ok := extra["status"]; ok && s != "" {
		return s
	}
	return string(models.StatusProcessing)
}
