package blobstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"podiumgo/internal/logger"
)

// Janitor runs periodic cleanup jobs on a cron schedule.
type Janitor struct {
	cron    *cron.Cron
	log     *slog.Logger
	timeout time.Duration
}

func NewJanitor(log *slog.Logger) *Janitor {
	return &Janitor{cron: cron.New(), log: logger.OrNop(log), timeout: 5 * time.Minute}
}

// Add registers fn under name. schedule uses cron syntax or descriptors such
// as "@every 10m".
func (j *Janitor) Add(schedule, name string, fn func(ctx context.Context) (int, error)) error {
	_, err := j.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		defer cancel()
		n, err := fn(ctx)
		if err != nil {
			j.log.Error("cleanup job failed", "job", name, "error", err)
			return
		}
		if n > 0 {
			j.log.Info("cleanup job", "job", name, "removed", n)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, schedule, err)
	}
	return nil
}

func (j *Janitor) Start() { j.cron.Start() }

// Stop halts scheduling and waits for running jobs.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}
