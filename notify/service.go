package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/polyflow/metrics"
)

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATION SERVICE - two-lane priority dispatch
// ═══════════════════════════════════════════════════════════════════════════════
//
// Producers enqueue without blocking; a full lane drops the message and bumps
// a counter. Delivery is at-most-once, matching the delivery posture of the
// rest of the pipeline. The dispatcher always drains the high lane before
// touching the normal one.
// ═══════════════════════════════════════════════════════════════════════════════

// Priority orders delivery. High-priority messages preempt everything else.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

// Kind names the message template.
type Kind string

const (
	KindTPSLTrigger  Kind = "TPSL_TRIGGER"
	KindTPSLFailed   Kind = "TPSL_FAILED"
	KindCopyExecuted Kind = "COPY_EXECUTED"
	KindCopySkipped  Kind = "COPY_SKIPPED"
	KindSystemAlert  Kind = "SYSTEM_ALERT"
)

// Notification is one user-facing message.
type Notification struct {
	UserID    int64
	Priority  Priority
	Kind      Kind
	Title     string
	Body      string
	CreatedAt time.Time
}

// Sender delivers a formatted notification to the outside world.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

const (
	highLaneSize   = 64
	normalLaneSize = 256
)

// Service is the process-wide notification queue.
type Service struct {
	sender Sender
	high   chan Notification
	normal chan Notification
}

// NewService builds a service around a sender. A nil sender is allowed and
// turns dispatch into a log-only sink, useful when Telegram is not
// configured.
func NewService(sender Sender) *Service {
	return &Service{
		sender: sender,
		high:   make(chan Notification, highLaneSize),
		normal: make(chan Notification, normalLaneSize),
	}
}

// Enqueue queues a notification without blocking. Returns false when the
// lane is full and the message was dropped.
func (s *Service) Enqueue(n Notification) bool {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	lane := s.normal
	if n.Priority == PriorityHigh {
		lane = s.high
	}
	select {
	case lane <- n:
		return true
	default:
		metrics.NotifyDrops.Inc()
		log.Warn().Str("kind", string(n.Kind)).Int64("user", n.UserID).
			Msg("⚠️ Notification dropped, lane full")
		return false
	}
}

// Run dispatches queued notifications until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	log.Info().Bool("sender", s.sender != nil).Msg("📣 Notification service started")
	for {
		// High lane drains completely before the normal lane is touched.
		select {
		case <-ctx.Done():
			return nil
		case n := <-s.high:
			s.dispatch(ctx, n)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case n := <-s.high:
			s.dispatch(ctx, n)
		case n := <-s.normal:
			s.dispatch(ctx, n)
		}
	}
}

func (s *Service) dispatch(ctx context.Context, n Notification) {
	if s.sender == nil {
		log.Info().Str("kind", string(n.Kind)).Str("title", n.Title).
			Msg("📣 Notification (no sender configured)")
		return
	}
	if err := s.sender.Send(ctx, n); err != nil {
		log.Warn().Err(err).Str("kind", string(n.Kind)).Int64("user", n.UserID).
			Msg("⚠️ Notification delivery failed")
		return
	}
	metrics.NotifySent.WithLabelValues(string(n.Kind)).Inc()
}
