package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cascade-labs/cascade-go/internal/backend"
	"github.com/cascade-labs/cascade-go/internal/metrics"
)

// ArtifactCounter discovers the fan-out width by polling the storage
// backend's listing. The execution backend's "job succeeded" and the store's
// "objects listable" are not synchronized; polling absorbs the propagation
// delay instead of assuming read-after-write consistency.
type ArtifactCounter struct {
	lister backend.ArtifactLister
	logger *slog.Logger

	TransientDelay time.Duration
	TransientCap   int
}

func NewArtifactCounter(lister backend.ArtifactLister, logger *slog.Logger) *ArtifactCounter {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArtifactCounter{lister: lister, logger: logger}
}

// WaitForCount returns as soon as the listing reaches minCount. The count is
// recomputed on every attempt and never cached. A count still below minCount
// after maxAttempts is ErrNoArtifacts, which callers treat as a hard setup
// failure rather than a zero-width fan-out.
func (c *ArtifactCounter) WaitForCount(ctx context.Context, prefix string, minCount int, interval time.Duration, maxAttempts int) (int, error) {
	if minCount < 1 {
		minCount = 1
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	transientDelay := c.TransientDelay
	if transientDelay <= 0 {
		transientDelay = defaultTransientDelay
	}
	transientCap := c.TransientCap
	if transientCap < 1 {
		transientCap = defaultTransientCap
	}

	attempt := 0
	transient := 0
	for attempt < maxAttempts {
		metrics.PollAttempts.WithLabelValues(string(StageSetup)).Inc()
		count, err := c.lister.Count(ctx, prefix)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			transient++
			metrics.TransientBackendErrors.WithLabelValues("storage").Inc()
			if transient > transientCap {
				return 0, &PollingUnavailableError{Stage: StageSetup, Cause: err}
			}
			c.logger.Warn("artifact list failed, retrying",
				"prefix", prefix, "transient", transient, "error", err)
			if err := sleepCtx(ctx, transientDelay); err != nil {
				return 0, err
			}
			continue
		}
		transient = 0

		if count >= minCount {
			return count, nil
		}

		attempt++
		if attempt >= maxAttempts {
			break
		}
		if err := sleepCtx(ctx, interval); err != nil {
			return 0, err
		}
	}
	return 0, fmt.Errorf("%w under %s after %d attempts", ErrNoArtifacts, prefix, maxAttempts)
}
