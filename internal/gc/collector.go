// Package gc releases recording locks that nothing justifies holding any more: the room's engine
// session is gone and no recording is in progress for it.
package gc

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aura-webinar/recordings/internal/egress"
	"github.com/aura-webinar/recordings/internal/metrics"
	"github.com/aura-webinar/recordings/pkg/clock"
	"github.com/aura-webinar/recordings/pkg/lock"
)

// Decision is the outcome of evaluating one lock.
type Decision string

const (
	DecisionGone           Decision = "gone"
	DecisionTooYoung       Decision = "too_young"
	DecisionActiveSession  Decision = "kept_active_session"
	DecisionHasPublishers  Decision = "kept_publishers"
	DecisionReleased       Decision = "released"
	DecisionHolderReplaced Decision = "holder_replaced"
	DecisionError          Decision = "error"
)

// Engine is what the collector asks the media engine.
type Engine interface {
	RoomExists(ctx context.Context, roomID string) (bool, error)
	GetRoom(ctx context.Context, roomID string) (egress.Room, error)
	ListInProgress(ctx context.Context, roomID string) ([]egress.Info, error)
}

// Config configures the collector.
type Config struct {
	Prefix   string        // lock name prefix; the rest of the name is the room id
	Interval time.Duration // time between sweeps
	Grace    time.Duration // locks younger than this are never touched
}

// Result is one lock's evaluation.
type Result struct {
	Lock     string
	RoomID   string
	Decision Decision
	Err      error
}

// Collector is the orphaned-lock garbage collector.
type Collector struct {
	locks   *lock.Manager
	engine  Engine
	clock   clock.Clock
	metrics *metrics.Metrics
	cfg     Config
	logger  *zap.Logger
}

// NewCollector creates a collector. A nil clock uses the real clock; m may be nil.
func NewCollector(locks *lock.Manager, engine Engine, clk clock.Clock, m *metrics.Metrics, cfg Config, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Collector{locks: locks, engine: engine, clock: clk, metrics: m, cfg: cfg, logger: logger}
}

// Run sweeps every Interval until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	c.logger.Info("lock collector started", zap.Duration("interval", c.cfg.Interval), zap.Duration("grace", c.cfg.Grace))
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("lock collector stopping")
			return
		case <-c.clock.After(c.cfg.Interval):
		}
		if _, err := c.Sweep(ctx); err != nil {
			c.logger.Error("lock sweep aborted", zap.Error(err))
		}
	}
}

// Sweep evaluates every lock under the prefix once. A failure on one lock does not stop the others;
// only failing to list the locks aborts the sweep.
func (c *Collector) Sweep(ctx context.Context) ([]Result, error) {
	held, err := c.locks.GetLocksByPrefix(ctx, c.cfg.Prefix)
	if err != nil {
		c.metrics.Sweep("list_failed")
		return nil, err
	}

	results := make([]Result, 0, len(held))
	failed := 0
	for _, l := range held {
		roomID := strings.TrimPrefix(l.Name, c.cfg.Prefix)
		decision, err := c.evaluate(ctx, l.Name, roomID)
		c.metrics.LockEvaluated(string(decision))
		results = append(results, Result{Lock: l.Name, RoomID: roomID, Decision: decision, Err: err})

		log := c.logger.With(zap.String("lock", l.Name), zap.String("room_id", roomID), zap.String("decision", string(decision)))
		switch {
		case err != nil:
			failed++
			log.Warn("lock evaluation failed", zap.Error(err))
		case decision == DecisionReleased:
			log.Info("released orphaned recording lock")
		default:
			log.Debug("lock kept")
		}
	}

	if failed > 0 {
		c.metrics.Sweep("partial")
	} else {
		c.metrics.Sweep("ok")
	}
	return results, nil
}

func (c *Collector) evaluate(ctx context.Context, name, roomID string) (Decision, error) {
	current, err := c.locks.GetLock(ctx, name)
	if err != nil {
		return DecisionError, err
	}
	if current == nil {
		return DecisionGone, nil
	}
	if current.Age(c.clock.Now()) < c.cfg.Grace {
		return DecisionTooYoung, nil
	}

	exists, err := c.engine.RoomExists(ctx, roomID)
	if err != nil {
		return DecisionError, err
	}
	publishers := 0
	if exists {
		room, err := c.engine.GetRoom(ctx, roomID)
		switch {
		case errors.Is(err, egress.ErrRoomNotFound):
			exists = false
		case err != nil:
			return DecisionError, err
		default:
			publishers = room.NumPublishers
		}
	}
	sessions, err := c.engine.ListInProgress(ctx, roomID)
	if err != nil {
		return DecisionError, err
	}

	// an in-progress session always keeps the lock, whether or not the room still exists
	if len(sessions) > 0 {
		return DecisionActiveSession, nil
	}
	if exists && publishers > 0 {
		return DecisionHasPublishers, nil
	}

	err = c.locks.Release(ctx, current)
	if errors.Is(err, lock.ErrLockMismatch) {
		return DecisionHolderReplaced, nil
	}
	if err != nil {
		return DecisionError, err
	}
	c.metrics.LockReleased(metrics.ReleaseGC)
	return DecisionReleased, nil
}
