package decoy

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/metrics"
)

// Sweeper periodically flips overdue sessions to expired. It is storage
// hygiene only: reads already expire sessions lazily, so nothing depends on
// it running.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(engine *Engine, interval time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		engine:   engine,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (s *Sweeper) Running() bool {
	return s.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (s *Sweeper) Start(ctx context.Context) {
	s.running.Store(true)
	defer s.running.Store(false)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.safeSweep(ctx)
		}
	}
}

// Stop signals the sweeper to stop.
func (s *Sweeper) Stop() {
	select {
	case s.stop <- struct{}{}:
	default:
	}
}

func (s *Sweeper) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in decoy sweeper", "panic", fmt.Sprint(r))
		}
	}()
	s.sweep(ctx)
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.engine.ExpireDue(ctx)
	if err != nil {
		s.logger.Warn("decoy sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("expired overdue decoy sessions", "count", n)
	}

	active, err := s.engine.ListActive(ctx)
	if err != nil {
		s.logger.Warn("decoy inventory sample failed", "error", err)
		return
	}
	metrics.ActiveDecoySessions.Set(float64(len(active)))
}
