// Package manager supervises a Session's lifetime: it reconnects on
// failure with bounded, jittered retry, rate-limits reconnect attempts
// so a persistently unreachable camera doesn't spin, and forwards every
// demultiplexed frame to a caller-supplied sink. Grounded on the
// lifecycle style of the teacher's stream manager, generalized from a
// registry of named streams to a single supervised reconnect loop.
package manager

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/dahuastream/dahuastream/internal/media"
	"github.com/dahuastream/dahuastream/internal/metrics"
	"github.com/dahuastream/dahuastream/internal/session"
)

// Sink receives frames as they are demultiplexed. Implementations must
// not block indefinitely; Manager calls Sink from the session's single
// read loop.
type Sink func(frame *media.Frame)

// Manager owns one Session and keeps it running, reconnecting with
// backoff when the connection drops, until its context is cancelled.
type Manager struct {
	cfg     session.Config
	dialer  session.Dialer
	log     *slog.Logger
	metrics *metrics.Metrics
	sink    Sink

	reconnectLimiter *rate.Limiter
}

// New creates a Manager. If log is nil, slog.Default() is used. If m is
// nil, a private Metrics is created.
func New(cfg session.Config, dialer session.Dialer, log *slog.Logger, m *metrics.Metrics, sink Sink) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Manager{
		cfg:              cfg,
		dialer:           dialer,
		log:              log.With("component", "manager", "host", cfg.Host),
		metrics:          m,
		sink:             sink,
		reconnectLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Run blocks, maintaining a connected session until ctx is cancelled.
// Each connection attempt gets a fresh correlation id for log
// correlation across the handshake and the read loop.
func (mgr *Manager) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		for {
			if err := mgr.reconnectLimiter.Wait(ctx); err != nil {
				return ctx.Err()
			}

			attemptID := uuid.NewString()
			log := mgr.log.With("attempt_id", attemptID)

			err := mgr.runOnce(ctx, log)
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}

			log.Warn("session ended, reconnecting", "error", err)
			mgr.metrics.ReconnectTotal.Inc()
		}
	})

	return g.Wait()
}

// runOnce starts a single session (with bounded retry on the initial
// handshake) and drains frames from it until it fails.
func (mgr *Manager) runOnce(ctx context.Context, log *slog.Logger) error {
	var s *session.Session

	err := retry.Do(
		func() error {
			candidate := session.New(mgr.cfg, mgr.dialer, log, mgr.metrics)
			if err := candidate.Start(ctx); err != nil {
				return err
			}
			s = candidate
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(10*time.Second),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("handshake attempt failed", "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return err
	}
	defer s.Stop()

	mgr.metrics.ActiveSessions.Inc()
	defer mgr.metrics.ActiveSessions.Dec()

	for {
		frame, err := s.NextFrame(ctx)
		if err != nil {
			return err
		}
		mgr.metrics.FramesDemuxed.WithLabelValues(frame.Kind.String()).Inc()
		if mgr.sink != nil {
			mgr.sink(frame)
		}
	}
}
