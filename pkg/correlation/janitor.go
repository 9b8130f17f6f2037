package correlation

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/deskclaw/pkg/logger"
)

// Janitor periodically sweeps expired ActiveRequests from the store on a
// cron schedule. The store already hides expired entries from readers; the
// sweep just reclaims the memory.
type Janitor struct {
	store    Store
	schedule string
	gron     *gronx.Gronx
}

func NewJanitor(store Store, schedule string) (*Janitor, error) {
	g := gronx.New()
	if !g.IsValid(schedule) {
		return nil, &ScheduleError{Schedule: schedule}
	}
	return &Janitor{store: store, schedule: schedule, gron: g}, nil
}

// ScheduleError reports an invalid sweep cron expression.
type ScheduleError struct {
	Schedule string
}

func (e *ScheduleError) Error() string {
	return "correlation: invalid sweep schedule " + e.Schedule
}

// Run blocks until ctx is cancelled, sweeping whenever the schedule is due.
func (j *Janitor) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			due, err := j.gron.IsDue(j.schedule, time.Now())
			if err != nil || !due {
				continue
			}
			if removed := j.store.Sweep(); removed > 0 {
				logger.DebugCF("correlation", "swept expired requests", map[string]any{
					"removed": removed,
				})
			}
		}
	}
}
