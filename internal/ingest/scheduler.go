package ingest

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/lox/saddleweather/internal/forecast"
	"github.com/lox/saddleweather/internal/logger"
)

const refreshTimeout = 30 * time.Second

// Refresher runs one scoring pass and stores its snapshots.
type Refresher interface {
	Refresh(ctx context.Context) error
}

type Tuner interface {
	CheckAndTune() (forecast.TuneResult, error)
}

// Pruner drops stored snapshots and archived payloads past retention.
type Pruner interface {
	PruneSnapshots(retentionDays int, now time.Time) (int64, error)
	PruneForecastPayloads(retentionDays int, now time.Time) (int64, error)
}

type SchedulerConfig struct {
	RefreshInterval time.Duration
	// DailyAt is the local "15:04" time for tuning and pruning.
	DailyAt       string
	RetentionDays int
	Location      *time.Location
}

// Scheduler keeps snapshots fresh so rider feedback has a prediction to grade, and
// runs the once-a-day tuner and snapshot retention.
type Scheduler struct {
	cron      *gocron.Scheduler
	cfg       SchedulerConfig
	refresher Refresher
	tuner     Tuner
	pruner    Pruner
	log       *logger.Logger
	now       func() time.Time
}

func NewScheduler(cfg SchedulerConfig, refresher Refresher, tuner Tuner, pruner Pruner, log *logger.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 30 * time.Minute
	}
	if cfg.DailyAt == "" {
		cfg.DailyAt = "03:00"
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 90
	}
	cron := gocron.NewScheduler(cfg.Location)
	cron.SingletonModeAll()
	return &Scheduler{
		cron:      cron,
		cfg:       cfg,
		refresher: refresher,
		tuner:     tuner,
		pruner:    pruner,
		log:       log.With("component", "scheduler"),
		now:       time.Now,
	}
}

// Start schedules both jobs. The refresh runs immediately, the daily job at DailyAt.
func (s *Scheduler) Start() error {
	minutes := int(s.cfg.RefreshInterval.Minutes())
	if minutes <= 0 {
		minutes = 1
	}

	if _, err := s.cron.Every(minutes).Minutes().Do(s.RunRefresh); err != nil {
		return err
	}
	if _, err := s.cron.Every(1).Day().At(s.cfg.DailyAt).Do(s.RunDaily); err != nil {
		return err
	}

	s.log.Info("scheduler: starting", "refresh_every", s.cfg.RefreshInterval, "daily_at", s.cfg.DailyAt)
	s.cron.StartAsync()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
		s.log.Info("scheduler: stopped")
	}
}

func (s *Scheduler) RunRefresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	start := time.Now()
	if err := s.refresher.Refresh(ctx); err != nil {
		s.log.Error("scheduler: refresh failed", "error", err)
		return
	}
	s.log.Info("scheduler: refresh complete", "took", time.Since(start).Round(time.Millisecond))
}

// RunDaily tunes the drying rate and prunes old snapshots and payloads. A failure in
// one step does not stop the next.
func (s *Scheduler) RunDaily() {
	result, err := s.tuner.CheckAndTune()
	if err != nil {
		s.log.Error("scheduler: tune failed", "error", err)
	} else {
		s.log.Info("scheduler: tune complete", "adjusted", result.Adjusted, "reason", result.Reason)
	}

	now := s.now()
	if deleted, err := s.pruner.PruneSnapshots(s.cfg.RetentionDays, now); err != nil {
		s.log.Error("scheduler: prune snapshots failed", "error", err)
	} else {
		s.log.Info("scheduler: pruned snapshots", "deleted", deleted, "retention_days", s.cfg.RetentionDays)
	}

	if deleted, err := s.pruner.PruneForecastPayloads(s.cfg.RetentionDays, now); err != nil {
		s.log.Error("scheduler: prune payloads failed", "error", err)
	} else {
		s.log.Info("scheduler: pruned forecast payloads", "deleted", deleted)
	}
}
