package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/v0xg/gridfill/internal/grid"
)

// ErrNotFound is returned when no strategy resolves the hint.
var ErrNotFound = errors.New("resolver: no control matches the hint")

// rescueOffset is how far from the recorded point the domain rescue re-hit-tests.
var rescueOffset = grid.Point{X: 4, Y: 4}

// Strategy names, in priority order
const (
	StrategyCoordinates = "grid-coordinates"
	StrategyID          = "id"
	StrategyClass       = "class-name"
	StrategyTag         = "tag-name"
	StrategyPoint       = "point"
	StrategyRescue      = "domain-rescue"
	StrategyGlobal      = "global-fallback"
)

// Options configures a Resolver
type Options struct {
	// TargetLabel is the option label the automation wants to select.
	TargetLabel string
}

// Resolver finds the live control that best matches an ElementHint.
type Resolver struct {
	grid   grid.Accessor
	opts   Options
	logger *zap.Logger
}

// Resolution is a successful lookup and the strategy that produced it.
type Resolution struct {
	Control  grid.ControlRef
	Strategy string
}

type strategy struct {
	name string
	run  func(ctx context.Context, h grid.ElementHint) (grid.ControlRef, error)
}

// New creates a Resolver over g.
func New(g grid.Accessor, opts Options, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{grid: g, opts: opts, logger: logger.Named("resolver")}
}

// Resolve tries each strategy in strict priority order and returns the first hit.
// It never panics: a strategy that fails or panics counts as a miss.
func (r *Resolver) Resolve(ctx context.Context, hint grid.ElementHint) (Resolution, error) {
	if hint.Empty() {
		return Resolution{}, ErrNotFound
	}

	strategies := []strategy{
		{StrategyCoordinates, r.byCoordinates},
		{StrategyID, r.byID},
		{StrategyClass, r.byClass},
		{StrategyTag, r.byTag},
		{StrategyPoint, r.byPoint},
		{StrategyRescue, r.byRescue},
		{StrategyGlobal, func(ctx context.Context, _ grid.ElementHint) (grid.ControlRef, error) {
			return r.similar(ctx)
		}},
	}

	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return Resolution{}, err
		}
		c, err := r.attempt(ctx, s, hint)
		if err != nil {
			if !errors.Is(err, grid.ErrNotFound) {
				r.logger.Debug("strategy failed", zap.String("strategy", s.name), zap.Error(err))
			}
			continue
		}
		if c == nil {
			continue
		}
		r.logger.Debug("control resolved", zap.String("strategy", s.name), zap.String("control", c.Key()))
		return Resolution{Control: c, Strategy: s.name}, nil
	}
	return Resolution{}, ErrNotFound
}

// Similar returns any visible option list, preferring one that offers the target label.
// The controller uses it to replace a target that was detached by a re-render.
func (r *Resolver) Similar(ctx context.Context) (grid.ControlRef, error) {
	c, err := r.attempt(ctx, strategy{name: StrategyGlobal, run: func(ctx context.Context, _ grid.ElementHint) (grid.ControlRef, error) {
		return r.similar(ctx)
	}}, grid.ElementHint{})
	if err != nil || c == nil {
		return nil, ErrNotFound
	}
	return c, nil
}

func (r *Resolver) attempt(ctx context.Context, s strategy, hint grid.ElementHint) (c grid.ControlRef, err error) {
	defer func() {
		if p := recover(); p != nil {
			c, err = nil, fmt.Errorf("strategy %s panicked: %v", s.name, p)
		}
	}()
	return s.run(ctx, hint)
}

func (r *Resolver) byCoordinates(ctx context.Context, h grid.ElementHint) (grid.ControlRef, error) {
	if !h.HasCoordinates() {
		return nil, grid.ErrNotFound
	}
	return r.grid.FindControlAt(ctx, *h.RowIndex, strings.TrimSpace(h.ColumnID))
}

func (r *Resolver) byID(ctx context.Context, h grid.ElementHint) (grid.ControlRef, error) {
	id := strings.TrimSpace(h.ID)
	if id == "" {
		return nil, grid.ErrNotFound
	}
	return r.grid.FindByID(ctx, id)
}

func (r *Resolver) byClass(ctx context.Context, h grid.ElementHint) (grid.ControlRef, error) {
	class := strings.TrimSpace(h.ClassName)
	if class == "" {
		return nil, grid.ErrNotFound
	}
	matches, err := r.grid.FindByClass(ctx, class)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, grid.ErrNotFound
	}
	return matches[0], nil
}

func (r *Resolver) byTag(ctx context.Context, h grid.ElementHint) (grid.ControlRef, error) {
	tag := strings.ToLower(strings.TrimSpace(h.TagName))
	if tag == "" {
		return nil, grid.ErrNotFound
	}
	candidates, err := r.grid.FindAllByTag(ctx, tag)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		st, err := r.grid.Inspect(ctx, c)
		if err != nil || !st.Attached {
			continue
		}
		if st.Kind == grid.KindOptionList {
			return c, nil
		}
	}
	return nil, grid.ErrNotFound
}

func (r *Resolver) byPoint(ctx context.Context, h grid.ElementHint) (grid.ControlRef, error) {
	if h.Rect == nil {
		return nil, grid.ErrNotFound
	}
	c, err := r.grid.HitTest(ctx, h.Rect.Center())
	if err != nil {
		return nil, err
	}
	st, err := r.grid.Inspect(ctx, c)
	if err != nil {
		return nil, err
	}
	if !st.Attached || st.Kind != grid.KindOptionList {
		return nil, grid.ErrNotFound
	}
	return c, nil
}

func (r *Resolver) byRescue(ctx context.Context, h grid.ElementHint) (grid.ControlRef, error) {
	if h.Rect != nil {
		center := h.Rect.Center()
		p := grid.Point{X: center.X + rescueOffset.X, Y: center.Y + rescueOffset.Y}
		if hit, err := r.grid.HitTest(ctx, p); err == nil && hit != nil {
			if c, err := r.grid.ClosestOfKind(ctx, hit, grid.KindOptionList); err == nil && c != nil {
				return c, nil
			}
		}
	}

	// the marker scan runs for every hint, with or without a recorded rect

	marked, err := r.grid.FindByMarker(ctx)
	if err != nil {
		return nil, err
	}
	return r.firstVisible(ctx, marked, nil)
}

func (r *Resolver) similar(ctx context.Context) (grid.ControlRef, error) {
	lists, err := r.grid.FindAllOfKind(ctx, grid.KindOptionList)
	if err != nil {
		return nil, err
	}
	if c, err := r.firstVisible(ctx, lists, func(st grid.ControlState) bool {
		return st.HasLabel(r.opts.TargetLabel)
	}); err == nil {
		return c, nil
	}
	return r.firstVisible(ctx, lists, nil)
}

func (r *Resolver) firstVisible(ctx context.Context, candidates []grid.ControlRef, accept func(grid.ControlState) bool) (grid.ControlRef, error) {
	for _, c := range candidates {
		st, err := r.grid.Inspect(ctx, c)
		if err != nil || !st.Attached || !st.Visible() {
			continue
		}
		if accept == nil || accept(st) {
			return c, nil
		}
	}
	return nil, grid.ErrNotFound
}
