// Package scheduler orchestrates delivery passes: coalesced immediate
// triggers plus a periodic network-gated backstop.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Deliverer runs one pass over all pending records.
type Deliverer interface {
	DeliverPending(ctx context.Context) error
}

// Scheduler fans multiple asynchronous triggers (capture, network
// transition, timer) into delivery passes.
type Scheduler struct {
	deliverer    Deliverer
	online       func() bool
	initialDelay time.Duration

	immediate chan struct{}

	mu              sync.Mutex
	periodicStarted bool
}

// New creates a scheduler. online may be nil, meaning always connected.
func New(deliverer Deliverer, online func() bool) *Scheduler {
	return &Scheduler{
		deliverer:    deliverer,
		online:       online,
		initialDelay: time.Minute,
		immediate:    make(chan struct{}, 1),
	}
}

// TriggerImmediate requests a pass over all pending records now.
// Concurrent requests collapse into the one already queued; at most one
// immediate pass runs at a time.
func (s *Scheduler) TriggerImmediate() {
	select {
	case s.immediate <- struct{}{}:
	default:
		// A pass is already queued; this trigger coalesces into it.
	}
}

// Run consumes immediate triggers until ctx is cancelled. It is the
// single worker for immediate passes.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.immediate:
			s.runPass(ctx, "immediate")
		}
	}
}

// SchedulePeriodic establishes the recurring backstop pass. Re-calling is
// a no-op (keep semantics); the existing schedule is never duplicated.
// Each tick launches its pass independently so a stuck pass cannot delay
// the next cadence.
func (s *Scheduler) SchedulePeriodic(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.periodicStarted {
		logrus.Debug("Periodic sync already scheduled, keeping existing schedule")
		return
	}
	s.periodicStarted = true

	go func() {
		select {
		case <-time.After(s.initialDelay):
		case <-ctx.Done():
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				go s.runPass(ctx, "periodic")
			}
		}
	}()

	logrus.WithField("interval", interval).Info("Periodic sync scheduled")
}

// SetInitialDelay overrides the delay before the first periodic tick.
func (s *Scheduler) SetInitialDelay(d time.Duration) {
	s.initialDelay = d
}

func (s *Scheduler) runPass(ctx context.Context, trigger string) {
	if s.online != nil && !s.online() {
		logrus.WithField("trigger", trigger).Debug("Skipping sync pass, network unavailable")
		return
	}

	passID := uuid.New().String()[:8]
	log := logrus.WithFields(logrus.Fields{
		"pass":    passID,
		"trigger": trigger,
	})
	log.Debug("Starting sync pass")

	if err := s.deliverer.DeliverPending(ctx); err != nil {
		log.WithError(err).Error("Sync pass failed")
		return
	}

	log.Debug("Sync pass finished")
}
