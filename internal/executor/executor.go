package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/v0xg/gridfill/internal/clock"
	"github.com/v0xg/gridfill/internal/grid"
)

// ErrNoMatchingOption is returned when keyboard search finds no option at all.
var ErrNoMatchingOption = errors.New("executor: no option matches the target label or initial letter")

// Options configures execution behavior
type Options struct {
	TargetLabel string
	// InitiatingKey is the key pressed to start keyboard search. Defaults to the first
	// letter of TargetLabel.
	InitiatingKey string
	// AdvanceRepetitions is how many times the fallback presses ArrowDown after searching.
	AdvanceRepetitions int
	// ActionDelay is the pause between simulated key presses.
	ActionDelay time.Duration
}

// Executor applies the target selection to a control.
type Executor struct {
	grid   grid.Accessor
	clock  clock.Clock
	opts   Options
	logger *zap.Logger
}

// New creates an Executor
func New(g grid.Accessor, c clock.Clock, opts Options, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.InitiatingKey == "" {
		if r, _ := utf8.DecodeRuneInString(strings.TrimSpace(opts.TargetLabel)); r != utf8.RuneError {
			opts.InitiatingKey = string(r)
		}
	}
	return &Executor{grid: g, clock: c, opts: opts, logger: logger.Named("executor")}
}

// Apply selects the target option on c. It never panics: any failure while driving the
// control is reported as Failed together with the cause.
func (e *Executor) Apply(ctx context.Context, c grid.ControlRef) (out Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = Failed, fmt.Errorf("applying selection panicked: %v", p)
		}
	}()

	st, err := e.grid.Inspect(ctx, c)
	if err != nil {
		return Failed, fmt.Errorf("inspecting control: %w", err)
	}
	if !st.Attached {
		return Failed, grid.ErrDetached
	}

	if idx := st.IndexOfLabel(e.opts.TargetLabel); idx >= 0 {
		if err := e.grid.SetSelectedIndex(ctx, c, idx); err != nil {
			return Failed, fmt.Errorf("setting option %d: %w", idx, err)
		}
		if err := e.grid.NotifyChanged(ctx, c, grid.ChangeEvents()...); err != nil {
			return Failed, fmt.Errorf("raising change events: %w", err)
		}
		e.logger.Debug("option selected", zap.String("control", c.Key()), zap.Int("index", idx))
		return Selected, nil
	}

	e.logger.Debug("target label not offered, emulating keyboard", zap.String("control", c.Key()))
	if err := e.emulateKeys(ctx, c, st); err != nil {
		return Failed, err
	}
	return FallbackUsed, nil
}

func (e *Executor) emulateKeys(ctx context.Context, c grid.ControlRef, st grid.ControlState) error {
	if err := e.grid.Focus(ctx, c); err != nil {
		return fmt.Errorf("focusing control: %w", err)
	}

	index := st.SelectedIndex
	for i, action := range keyScript(e.opts.InitiatingKey, e.opts.AdvanceRepetitions) {
		if i > 0 {
			if err := e.clock.Wait(ctx, e.opts.ActionDelay); err != nil {
				return err
			}
		}
		if err := e.grid.NotifyChanged(ctx, c, grid.Event{Type: grid.EventKeyDown, Key: action.Key}); err != nil {
			return fmt.Errorf("pressing %s: %w", action.Key, err)
		}

		next := index
		switch action.kind() {
		case actionSearch:
			next = search(st.Options, e.opts.TargetLabel, action.Key)
			if next < 0 {
				return ErrNoMatchingOption
			}
		case actionAdvance:
			if index+1 < len(st.Options) {
				next = index + 1
			}
		}

		if next != index || action.kind() == actionCommit {
			if err := e.grid.SetSelectedIndex(ctx, c, next); err != nil {
				return fmt.Errorf("selecting option %d: %w", next, err)
			}
			if err := e.grid.NotifyChanged(ctx, c, grid.ChangeEvents()...); err != nil {
				return fmt.Errorf("raising change events: %w", err)
			}
			index = next
		}

		if err := e.grid.NotifyChanged(ctx, c, grid.Event{Type: grid.EventKeyUp, Key: action.Key}); err != nil {
			return fmt.Errorf("releasing %s: %w", action.Key, err)
		}

		if action.kind() == actionCommit {
			if err := e.grid.Blur(ctx, c); err != nil {
				return fmt.Errorf("blurring control: %w", err)
			}
		}
	}
	return nil
}

// search looks for an option in three passes: exact label, label containing the target,
// label starting with the typed letter.
func search(options []grid.Option, target, letter string) int {
	want := grid.Normalize(target)
	if want != "" {
		for _, o := range options {
			if grid.Normalize(o.Label) == want {
				return o.Index
			}
		}
		for _, o := range options {
			if strings.Contains(grid.Normalize(o.Label), want) {
				return o.Index
			}
		}
	}
	initial := grid.Normalize(letter)
	if initial == "" {
		return -1
	}
	for _, o := range options {
		if strings.HasPrefix(grid.Normalize(o.Label), initial) {
			return o.Index
		}
	}
	return -1
}
