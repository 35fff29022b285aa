// Package scheduler runs the recurring jobs: plug collection, vendor device
// sync, the evening summary and the morning announcement.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/guivega7/Goodwe-Challenge/pkg/log"
	"github.com/guivega7/Goodwe-Challenge/pkg/metrics"
)

// Job names as they appear in logs and metrics.
const (
	JobPlugCollect     = "plug_collect"
	JobDeviceSync      = "device_sync"
	JobDailySummary    = "daily_summary"
	JobMorningAnnounce = "morning_announce"
)

// Tasks are the operations the scheduler drives. The server implements them
// so the jobs share its storage, clients and settings handling.
type Tasks interface {
	CollectPlugs(ctx context.Context) error
	SyncDevices(ctx context.Context) error
	SendDailySummary(ctx context.Context) error
	MorningAnnounce(ctx context.Context) error
}

type wallClock struct {
	hour, minute int
}

// Scheduler fires the recurring jobs until its context is canceled. Each job
// runs on its own goroutine; a slow job only delays itself.
type Scheduler struct {
	tasks Tasks
	loc   *time.Location

	enabled      bool
	syncEnabled  bool
	collectEvery time.Duration
	syncEvery    time.Duration
	summaryAt    wallClock
	announceAt   wallClock
}

// Configured initializes the Scheduler and registers its flags.
func Configured(tasks Tasks) *Scheduler {
	s := &Scheduler{tasks: tasks}

	enabled := lflag.Bool("enable-scheduler", true, "Run the recurring jobs")
	syncEnabled := lflag.Bool("enable-device-sync", true, "Run the periodic vendor device sync")
	collectEvery := lflag.Duration("plug-collect-interval", time.Minute, "How often to collect plug readings. 0 disables collection.")
	syncEvery := lflag.Duration("device-sync-interval", 30*time.Minute, "How often to sync devices from the vendor cloud")
	summaryAt := lflag.String("daily-summary-time", "21:30", `Local "HH:MM" to send the daily summary`)
	announceAt := lflag.String("morning-announce-time", "08:00", `Local "HH:MM" for the morning announcement`)
	timezone := lflag.String("timezone", "America/Sao_Paulo", "IANA timezone for the daily jobs")

	lflag.Do(func() {
		s.enabled = *enabled
		s.syncEnabled = *syncEnabled
		s.collectEvery = *collectEvery
		s.syncEvery = *syncEvery
		s.summaryAt = parseWallClock(*summaryAt, "21:30")
		s.announceAt = parseWallClock(*announceAt, "08:00")

		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			slog.Warn("failed to load timezone, defaulting to UTC",
				slog.String("timezone", *timezone),
				slog.Any("error", err))
			loc = time.UTC
		}
		s.loc = loc
	})
	return s
}

func parseWallClock(s, fallback string) wallClock {
	parsed, err := time.Parse("15:04", s)
	if err != nil {
		parsed, _ = time.Parse("15:04", fallback)
	}
	return wallClock{hour: parsed.Hour(), minute: parsed.Minute()}
}

// Run starts every enabled job and blocks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.enabled {
		log.Ctx(ctx).InfoContext(ctx, "scheduler disabled")
		<-ctx.Done()
		return nil
	}

	var wg sync.WaitGroup
	interval := func(name string, every time.Duration, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runEvery(ctx, name, every, run)
		}()
	}
	daily := func(name string, at wallClock, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runDaily(ctx, name, at, run)
		}()
	}

	if s.collectEvery > 0 {
		interval(JobPlugCollect, s.collectEvery, s.tasks.CollectPlugs)
	}
	if s.syncEnabled && s.syncEvery > 0 {
		interval(JobDeviceSync, s.syncEvery, s.tasks.SyncDevices)
	}
	daily(JobDailySummary, s.summaryAt, s.tasks.SendDailySummary)
	daily(JobMorningAnnounce, s.announceAt, s.tasks.MorningAnnounce)

	log.Ctx(ctx).InfoContext(ctx, "scheduler started",
		slog.Duration("collect_interval", s.collectEvery),
		slog.Duration("sync_interval", s.syncEvery),
		slog.String("summary_at", fmtWallClock(s.summaryAt)),
		slog.String("announce_at", fmtWallClock(s.announceAt)),
		slog.String("timezone", s.loc.String()))

	wg.Wait()
	return nil
}

func (s *Scheduler) runEvery(ctx context.Context, name string, every time.Duration, run func(context.Context) error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runJob(ctx, name, run)
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context, name string, at wallClock, run func(context.Context) error) {
	for {
		next := nextOccurrence(time.Now().In(s.loc), at)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runJob(ctx, name, run)
		}
	}
}

// nextOccurrence returns the next time the wall clock reads at, strictly
// after now so a job that just fired waits a full day.
func nextOccurrence(now time.Time, at wallClock) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), at.hour, at.minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s *Scheduler) runJob(ctx context.Context, name string, run func(context.Context) error) {
	start := time.Now()
	err := run(ctx)
	metrics.SchedulerRuns.WithLabelValues(name, metrics.ResultLabel(err)).Inc()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "job failed",
			slog.String("job", name),
			slog.Duration("took", time.Since(start)),
			slog.Any("error", err))
		return
	}
	log.Ctx(ctx).DebugContext(ctx, "job finished",
		slog.String("job", name),
		slog.Duration("took", time.Since(start)))
}

func fmtWallClock(w wallClock) string {
	return time.Date(0, 1, 1, w.hour, w.minute, 0, 0, time.UTC).Format("15:04")
}
