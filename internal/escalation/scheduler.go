// Package escalation widens the reach of alerts that stay open too long.
package escalation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bloodnet/platform/internal/bloodbank/domain"
	"github.com/bloodnet/platform/internal/shared/config"
	"github.com/bloodnet/platform/internal/shared/events"
	"github.com/bloodnet/platform/internal/shared/lock"
	"github.com/bloodnet/platform/internal/shared/metrics"
	"github.com/bloodnet/platform/internal/shared/types"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// LockKey is the lease that keeps sweeps from overlapping across replicas
const LockKey = "escalation-sweep"

// Notifier announces an escalated alert to the wider region
type Notifier interface {
	Escalated(ctx context.Context, alert *domain.Alert, raising *domain.Organization)
}

// Config holds scheduler configuration
type Config struct {
	// Schedule is a cron expression, "@every 15m" by default
	Schedule string

	// LockTTL bounds how long a crashed sweep can hold the lease
	LockTTL time.Duration
}

// DefaultConfig returns the default schedule
func DefaultConfig() Config {
	return Config{
		Schedule: "@every 15m",
		LockTTL:  10 * time.Minute,
	}
}

// ConfigFrom maps the application configuration onto Config
func ConfigFrom(cfg config.EscalationConfig) Config {
	c := DefaultConfig()
	if cfg.Schedule != "" {
		c.Schedule = cfg.Schedule
	}
	if cfg.LockTTL > 0 {
		c.LockTTL = cfg.LockTTL
	}
	return c
}

// Result summarizes one sweep
type Result struct {
	Checked   int  `json:"checked"`
	Escalated int  `json:"escalated"`
	Failed    int  `json:"failed"`
	Skipped   bool `json:"skipped"`
}

// Scheduler periodically escalates open alerts.
//
// Rules, applied one level per sweep:
//   - level 0 to 1 when the alert is CRITICAL or has been open 12h
//   - level 1 to 2 when the alert has been open 24h
type Scheduler struct {
	store    domain.Store
	locker   lock.Locker
	notifier Notifier
	bus      events.Publisher
	logger   *zap.Logger
	config   Config

	// sweeping guards against overlapping Ticks inside one process
	sweeping sync.Mutex

	mu   sync.Mutex
	cron *cron.Cron
}

// NewScheduler creates a scheduler. notifier and bus may be nil.
func NewScheduler(store domain.Store, locker lock.Locker, notifier Notifier, bus events.Publisher, cfg Config, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		locker:   locker,
		notifier: notifier,
		bus:      bus,
		logger:   logger.Named("escalation"),
		config:   cfg,
	}
}

// Tick runs one sweep as of now. A sweep already running in this process
// or on another replica makes Tick return a skipped Result.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) (Result, error) {
	if !s.sweeping.TryLock() {
		return Result{Skipped: true}, nil
	}
	defer s.sweeping.Unlock()

	release, acquired, err := s.locker.TryLock(ctx, LockKey, s.config.LockTTL)
	if err != nil {
		metrics.RecordSchedulerRun("error", 0)
		return Result{}, fmt.Errorf("acquire escalation lock: %w", err)
	}
	if !acquired {
		s.logger.Debug("escalation sweep held elsewhere, skipping")
		metrics.RecordSchedulerRun("skipped", 0)
		return Result{Skipped: true}, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			s.logger.Warn("failed to release escalation lock", zap.Error(err))
		}
	}()

	started := time.Now()
	var res Result

	var open []domain.Alert
	falseVal := false
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		open, err = tx.Alerts().List(ctx, domain.AlertFilter{Resolved: &falseVal})
		return err
	})
	if err != nil {
		metrics.RecordSchedulerRun("error", time.Since(started))
		return res, fmt.Errorf("list unresolved alerts: %w", err)
	}

	for _, a := range open {
		res.Checked++
		escalated, err := s.escalate(ctx, a.ID, now)
		if err != nil {
			res.Failed++
			s.logger.Error("failed to escalate alert", zap.String("alert_id", a.ID.String()), zap.Error(err))
			continue
		}
		if escalated {
			res.Escalated++
		}
	}

	result := "ok"
	if res.Failed > 0 {
		result = "partial"
	}
	metrics.RecordSchedulerRun(result, time.Since(started))
	s.logger.Info("escalation sweep finished",
		zap.Int("checked", res.Checked),
		zap.Int("escalated", res.Escalated),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

// escalate re-reads the alert under lock, since it may have been resolved
// or escalated after the listing, and applies at most one step.
func (s *Scheduler) escalate(ctx context.Context, alertID types.ID, now time.Time) (bool, error) {
	escalated := false
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		a, err := tx.Alerts().GetForUpdate(ctx, alertID)
		if err != nil {
			return err
		}
		level, ok := a.NextEscalation(now)
		if !ok {
			return nil
		}
		if err := a.EscalateTo(level, now); err != nil {
			return err
		}
		if err := tx.Alerts().Update(ctx, a); err != nil {
			return err
		}
		raising, err := tx.Organizations().Get(ctx, a.RaisingOrgID)
		if err != nil {
			return err
		}
		escalated = true

		tx.AfterCommit(func(ctx context.Context) {
			metrics.RecordAlertEscalated(a.EscalationLevel.String())
			events.Emit(ctx, s.bus, s.logger, events.NewEvent(domain.EventAlertEscalated, "escalation", a).ForOrganization(a.RaisingOrgID))
			s.logger.Info("alert escalated",
				zap.String("alert_id", a.ID.String()),
				zap.Stringer("level", a.EscalationLevel),
				zap.String("urgency", string(a.Urgency)),
			)
			if s.notifier != nil {
				s.notifier.Escalated(ctx, a, raising)
			}
		})
		return nil
	})
	return escalated, err
}

// Start schedules Tick on the configured cron expression. Runs that would overlap
// a still-running sweep are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("escalation scheduler already started")
	}

	cl := cronLogger{s.logger.Sugar()}
	c := cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	_, err := c.AddFunc(s.config.Schedule, func() {
		if _, err := s.Tick(ctx, time.Now().UTC()); err != nil {
			s.logger.Error("escalation sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid escalation schedule %q: %w", s.config.Schedule, err)
	}
	c.Start()
	s.cron = c

	s.logger.Info("escalation scheduler started", zap.String("schedule", s.config.Schedule))
	return nil
}

// Stop stops scheduling and waits for a running sweep to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("escalation scheduler stopped")
}

// cronLogger adapts zap to cron.Logger
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
