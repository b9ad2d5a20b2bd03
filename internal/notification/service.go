package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bloodnet/platform/internal/shared/config"
	"github.com/bloodnet/platform/internal/shared/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Service is an asynchronous Sink: Send validates and enqueues, a pool of
// workers hands messages to the provider and retries failures.
type Service struct {
	provider Provider
	logger   *zap.Logger
	config   ServiceConfig

	notifCh chan *Message

	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	wg      sync.WaitGroup

	queued    atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
	skipped   atomic.Int64
	dropped   atomic.Int64
}

// ServiceConfig holds service configuration
type ServiceConfig struct {
	Workers       int
	BufferSize    int
	RetryAttempts int
	RetryDelay    time.Duration
}

// DefaultServiceConfig returns default configuration
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Workers:       4,
		BufferSize:    1000,
		RetryAttempts: 3,
		RetryDelay:    5 * time.Second,
	}
}

// ConfigFrom maps the application configuration onto ServiceConfig
func ConfigFrom(cfg config.NotificationConfig) ServiceConfig {
	sc := DefaultServiceConfig()
	if cfg.Workers > 0 {
		sc.Workers = cfg.Workers
	}
	if cfg.BufferSize > 0 {
		sc.BufferSize = cfg.BufferSize
	}
	if cfg.RetryAttempts > 0 {
		sc.RetryAttempts = cfg.RetryAttempts
	}
	if cfg.RetryDelay > 0 {
		sc.RetryDelay = cfg.RetryDelay
	}
	return sc
}

// NewService creates a new notification service
func NewService(provider Provider, cfg ServiceConfig, logger *zap.Logger) *Service {
	return &Service{
		provider: provider,
		logger:   logger.Named("notification"),
		config:   cfg,
		notifCh:  make(chan *Message, cfg.BufferSize),
		stopCh:   make(chan struct{}),
	}
}

// Start starts the worker pool
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("service already started")
	}
	s.started = true

	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}

	s.logger.Info("notification workers started",
		zap.Int("workers", s.config.Workers),
		zap.String("provider", s.provider.Name()),
	)
	return nil
}

// Stop stops accepting messages, delivers what is already queued and
// waits for the workers to exit.
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return fmt.Errorf("service not started")
	}
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

// Send implements Sink
func (s *Service) Send(ctx context.Context, to, subject, body string) {
	to = strings.TrimSpace(to)
	if !ValidAddress(to) {
		s.skipped.Add(1)
		s.logger.Warn("skipping notification with invalid address",
			zap.String("to", to),
			zap.String("subject", subject),
		)
		return
	}

	msg := &Message{
		ID:        uuid.NewString(),
		To:        to,
		Subject:   subject,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		s.drop(msg, "service stopped")
		return
	}

	select {
	case s.notifCh <- msg:
		s.queued.Add(1)
	default:
		s.drop(msg, "notification buffer full")
	}
}

func (s *Service) drop(msg *Message, reason string) {
	s.dropped.Add(1)
	metrics.RecordNotification(s.provider.Name(), false)
	s.logger.Error("dropping notification",
		zap.String("reason", reason),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
}

// worker processes notifications from the channel
func (s *Service) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case msg := <-s.notifCh:
			s.deliver(ctx, msg)
		case <-s.stopCh:
			s.drain(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Service) drain(ctx context.Context) {
	for {
		select {
		case msg := <-s.notifCh:
			s.deliver(ctx, msg)
		default:
			return
		}
	}
}

// deliver sends msg, retrying in place up to RetryAttempts. The delay
// between attempts is cut short when the service stops.
func (s *Service) deliver(ctx context.Context, msg *Message) {
	attempts := max(1, s.config.RetryAttempts)

	for msg.Attempts < attempts {
		msg.Attempts++
		err := s.provider.Send(ctx, msg)
		if err == nil {
			s.delivered.Add(1)
			metrics.RecordNotification(s.provider.Name(), true)
			return
		}

		msg.LastError = err.Error()
		s.logger.Warn("notification delivery failed",
			zap.String("id", msg.ID),
			zap.String("to", msg.To),
			zap.Int("attempt", msg.Attempts),
			zap.Error(err),
		)

		if msg.Attempts >= attempts {
			break
		}
		select {
		case <-time.After(s.config.RetryDelay):
		case <-s.stopCh:
		case <-ctx.Done():
			msg.Attempts = attempts
		}
	}

	s.failed.Add(1)
	metrics.RecordNotification(s.provider.Name(), false)
	s.logger.Error("notification abandoned",
		zap.String("id", msg.ID),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("error", msg.LastError),
	)
}

// Stats returns notification statistics
func (s *Service) Stats() Stats {
	return Stats{
		Queued:    s.queued.Load(),
		Delivered: s.delivered.Load(),
		Failed:    s.failed.Load(),
		Skipped:   s.skipped.Load(),
		Dropped:   s.dropped.Load(),
	}
}

// ValidAddress reports whether to looks like a deliverable e-mail address
func ValidAddress(to string) bool {
	at := strings.IndexByte(to, '@')
	return at > 0 && at < len(to)-1 && !strings.ContainsAny(to, " \t\r\n")
}

var _ Sink = (*Service)(nil)
