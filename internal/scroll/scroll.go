package scroll

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/v0xg/gridfill/internal/clock"
	"github.com/v0xg/gridfill/internal/grid"
)

// Outcome of a recovery attempt
type Outcome int

const (
	// Advanced means the viewport moved and the settling delay has passed.
	Advanced Outcome = iota
	// Unavailable means there is no scrollable viewport; treat it as end of work.
	Unavailable
)

func (o Outcome) String() string {
	if o == Advanced {
		return "advanced"
	}
	return "unavailable"
}

// Options configures a Strategy
type Options struct {
	Increment   float64
	SettleDelay time.Duration
}

// Strategy asks the grid to render more rows by scrolling its viewport.
type Strategy struct {
	grid   grid.Accessor
	clock  clock.Clock
	opts   Options
	logger *zap.Logger
}

// New creates a Strategy
func New(g grid.Accessor, c clock.Clock, opts Options, logger *zap.Logger) *Strategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Strategy{grid: g, clock: c, opts: opts, logger: logger.Named("scroll")}
}

// Attempt scrolls by the configured increment and waits for the grid to settle.
func (s *Strategy) Attempt(ctx context.Context) (Outcome, error) {
	moved, err := s.grid.ScrollBy(ctx, s.opts.Increment)
	if err != nil {
		return Unavailable, fmt.Errorf("scrolling viewport: %w", err)
	}
	if !moved {
		s.logger.Debug("no scrollable viewport")
		return Unavailable, nil
	}
	s.logger.Debug("viewport advanced", zap.Float64("increment", s.opts.Increment), zap.Duration("settle", s.opts.SettleDelay))
	if err := s.clock.Wait(ctx, s.opts.SettleDelay); err != nil {
		return Advanced, err
	}
	return Advanced, nil
}
