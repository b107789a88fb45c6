package supervisor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"price-divergence/internal/config"
	"price-divergence/internal/metrics"
	"price-divergence/internal/storage"
	"price-divergence/internal/stream"
)

// Runner executes one tracking attempt against a session and reports how many cycles it persisted.
type Runner interface {
	Run(ctx context.Context, sess storage.Session) (int, error)
}

// Options tune retry behaviour.
type Options struct {
	StorageCooldown time.Duration
	BackoffInitial  time.Duration
	BackoffMax      time.Duration
	JitterFactor    float64
}

// OptionsFromConfig maps runtime settings onto Options.
func OptionsFromConfig(cfg config.SupervisorConfig) Options {
	return Options{
		StorageCooldown: cfg.StorageCooldown,
		BackoffInitial:  cfg.BackoffInitial,
		BackoffMax:      cfg.BackoffMax,
		JitterFactor:    cfg.JitterFactor,
	}
}

// Attempt outcomes.
const (
	OutcomeCancelled          = "cancelled"
	OutcomeConnectionLost     = "connection_lost"
	OutcomeWriteFailed        = "write_failed"
	OutcomeStorageUnavailable = "storage_unavailable"
	OutcomeFatal              = "fatal"
)

// Supervisor restarts tracking attempts until ctx is cancelled or an unclassified error occurs.
type Supervisor struct {
	opener  storage.SessionOpener
	runner  Runner
	opts    Options
	metrics *metrics.Metrics
	logger  zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a Supervisor.
func New(opener storage.SessionOpener, runner Runner, opts Options, m *metrics.Metrics, logger zerolog.Logger) *Supervisor {
	return &Supervisor{
		opener:  opener,
		runner:  runner,
		opts:    opts,
		metrics: m,
		logger:  logger.With().Str("component", "supervisor").Logger(),
		sleep:   sleepContext,
	}
}

// Run blocks until ctx is cancelled (returning nil) or an attempt fails in a way that must not be retried.
func (s *Supervisor) Run(ctx context.Context) error {
	retry := s.newBackOff()
	failures := 0
	for {
		attemptID := uuid.NewString()
		logger := s.logger.With().Str("attempt_id", attemptID).Logger()

		persisted, err := s.attempt(ctx, logger)
		if ctx.Err() != nil {
			s.metrics.ObserveAttempt(OutcomeCancelled)
			logger.Info().Int("persisted", persisted).Msg("user interrupted program")
			return nil
		}

		var delay time.Duration
		var writeErr *storage.WriteError
		switch {
		case errors.Is(err, storage.ErrStorageUnavailable):
			s.metrics.ObserveAttempt(OutcomeStorageUnavailable)
			delay = s.opts.StorageCooldown
			logger.Error().Err(err).Dur("cooldown", delay).Msg("storage unavailable, cooling down")
		case errors.Is(err, stream.ErrConnectionLost), errors.As(err, &writeErr):
			outcome := OutcomeConnectionLost
			if writeErr != nil {
				outcome = OutcomeWriteFailed
			}
			s.metrics.ObserveAttempt(outcome)
			if persisted > 0 {
				failures = 0
				retry.Reset()
			}
			delay = s.reconnectDelay(retry, failures)
			failures++
			logger.Error().Err(err).
				Int("persisted", persisted).
				Int("consecutive_failures", failures).
				Dur("retry_in", delay).
				Msg("tracking attempt ended, reconnecting")
		default:
			s.metrics.ObserveAttempt(OutcomeFatal)
			logger.Error().Err(err).Msg("unrecoverable error, stopping")
			return fmt.Errorf("tracking attempt %s: %w", attemptID, err)
		}

		if err := s.sleep(ctx, delay); err != nil {
			logger.Info().Msg("user interrupted program")
			return nil
		}
	}
}

// attempt runs the tracker inside a fresh session.
func (s *Supervisor) attempt(ctx context.Context, logger zerolog.Logger) (int, error) {
	sess, err := s.opener.OpenSession(ctx)
	if err != nil {
		return 0, fmt.Errorf("open storage session: %w", err)
	}
	defer sess.Close()

	logger.Debug().Msg("storage session opened")
	return s.runner.Run(ctx, sess)
}

// newBackOff builds the reconnect schedule; it never gives up on its own.
func (s *Supervisor) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     s.opts.BackoffInitial,
		RandomizationFactor: s.opts.JitterFactor,
		Multiplier:          2,
		MaxInterval:         s.opts.BackoffMax,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	if b.MaxInterval < b.InitialInterval {
		b.MaxInterval = b.InitialInterval
	}
	b.Reset()
	return b
}

// reconnectDelay is zero for the first failure in a row, then follows the exponential schedule.
func (s *Supervisor) reconnectDelay(b backoff.BackOff, failures int) time.Duration {
	if failures <= 0 || s.opts.BackoffInitial <= 0 {
		return 0
	}
	delay := b.NextBackOff()
	if delay == backoff.Stop {
		return s.opts.BackoffMax
	}
	return delay
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
