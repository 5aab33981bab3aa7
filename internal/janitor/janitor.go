// Package janitor runs the periodic sweeps that keep in-memory state
// bounded: rate-limiter maps, expired skill sessions, and stale one-shot
// listeners.
package janitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/adhocore/gronx"
)

// Task is one scheduled sweep. Run returns how many entries it touched.
type Task struct {
	Name string
	// Cron is a standard five-field cron expression.
	Cron string
	Run  func() int
}

type Janitor struct {
	tasks []Task
	gron  *gronx.Gronx
	tick  time.Duration
}

func New(tasks ...Task) *Janitor {
	return &Janitor{
		tasks: tasks,
		gron:  gronx.New(),
		tick:  time.Minute,
	}
}

// Start runs the sweep loop until ctx is cancelled. Schedules are checked
// once per minute; a sweep runs when its cron expression is due.
func (j *Janitor) Start(ctx context.Context) {
	for _, t := range j.tasks {
		if !j.gron.IsValid(t.Cron) {
			slog.Error("janitor task has invalid schedule, skipping", "task", t.Name, "cron", t.Cron)
		}
	}
	ticker := time.NewTicker(j.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			j.runDue(now)
		}
	}
}

func (j *Janitor) runDue(now time.Time) {
	for _, t := range j.tasks {
		due, err := j.gron.IsDue(t.Cron, now)
		if err != nil || !due {
			continue
		}
		n := t.Run()
		if n > 0 {
			slog.Debug("janitor sweep", "task", t.Name, "purged", n)
		}
	}
}
