package receptionist

import (
	"context"
	"time"

	"github.com/wolfman30/voice-receptionist/internal/session"
	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

// Janitor deletes abandoned sessions: calls that hung up mid-flow and
// were never updated again within the retention window.
type Janitor struct {
	sessions  session.Store
	retention time.Duration
	interval  time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

func NewJanitor(sessions session.Store, retention, interval time.Duration, logger *logging.Logger) *Janitor {
	if logger == nil {
		logger = logging.Default()
	}
	if retention <= 0 {
		retention = 72 * time.Hour
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{sessions: sessions, retention: retention, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps on every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				j.logger.Warn("session sweep failed", "error", err)
			}
		}
	}
}

// Sweep expires sessions last updated before now minus the retention.
func (j *Janitor) Sweep(ctx context.Context) (int64, error) {
	cutoff := j.now().Add(-j.retention)
	n, err := j.sessions.ExpireBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		j.logger.Info("expired abandoned sessions", "count", n, "cutoff", cutoff)
	}
	return n, nil
}
