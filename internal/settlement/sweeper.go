package settlement

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper runs ReleasePendingIncome on a cron schedule. Releases are
// idempotent at the store level, so overlapping or restarted sweeps are
// harmless.
type Sweeper struct {
	engine *Engine
	cron   *cron.Cron
}

// NewSweeper creates a sweeper for the engine. The schedule uses cron
// syntax, e.g. "@every 1m" or "0 * * * *".
func NewSweeper(engine *Engine, schedule string) (*Sweeper, error) {
	s := &Sweeper{
		engine: engine,
		cron:   cron.New(),
	}

	_, err := s.cron.AddFunc(schedule, s.sweep)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Start begins the schedule in its own goroutine.
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	released, err := s.engine.ReleasePendingIncome(ctx, time.Now().UTC())
	if err != nil {
		slog.Error("income release sweep failed", "err", err)
		return
	}
	if len(released) > 0 {
		slog.Info("income release sweep completed", "released", len(released))
	}
}
