package jobs

import (
	"context"
	"time"
)

// RunJanitor sweeps expired artifacts every interval until ctx ends.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Debug("janitor started", "interval", interval.String(), "retention", m.retention.String())
	for {
		select {
		case <-ctx.Done():
			m.log.Debug("janitor stopped")
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}
