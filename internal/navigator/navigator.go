package navigator

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/v0xg/gridfill/internal/grid"
)

var (
	// ErrEndOfWork means the next row already carries an unrelated value: everything beyond
	// it was handled by another process.
	ErrEndOfWork = errors.New("navigator: reached a row holding another value")
	// ErrRowAbsent means no row after the current one is rendered yet.
	ErrRowAbsent = errors.New("navigator: no rendered row after the current one")
	// ErrControlMissing means a rendered row has no subject control.
	ErrControlMissing = errors.New("navigator: row has no subject control")
	// ErrUnknownRow means the current control is not inside a row container.
	ErrUnknownRow = errors.New("navigator: cannot determine the row of the current control")
	// ErrSkipLimit means more rows were skipped than are rendered, which only happens
	// when the grid reports a cycle of row indices.
	ErrSkipLimit = errors.New("navigator: skipped more rows than are rendered")
)

// Options configures a Navigator
type Options struct {
	// Column is the column id of the subject column.
	Column string
	// TargetLabel is the label written by the automation; rows already holding it are skipped.
	TargetLabel string
}

// Navigator walks a virtualized grid row by row.
type Navigator struct {
	grid   grid.Accessor
	opts   Options
	logger *zap.Logger
}

// New creates a Navigator over g.
func New(g grid.Accessor, opts Options, logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Navigator{grid: g, opts: opts, logger: logger.Named("navigator")}
}

// RowIndex returns the row index of the row containing c, or -1 when it is unknown.
func (n *Navigator) RowIndex(ctx context.Context, c grid.ControlRef) int {
	if c == nil {
		return -1
	}
	idx, err := n.grid.RowIndexOf(ctx, c)
	if err != nil {
		return -1
	}
	return idx
}

// FindNext returns the subject control of the next row that still needs work.
func (n *Navigator) FindNext(ctx context.Context, current grid.ControlRef) (grid.ControlRef, error) {
	idx := n.RowIndex(ctx, current)
	if idx < 0 {
		return nil, ErrUnknownRow
	}
	return n.FindNextAfter(ctx, idx)
}

// FindNextAfter is FindNext for a known row index. The controller uses it after scrolling,
// when the current control may already have been recycled by the grid.
func (n *Navigator) FindNextAfter(ctx context.Context, index int) (grid.ControlRef, error) {
	if index < 0 {
		return nil, ErrUnknownRow
	}

	rendered, err := n.grid.RenderedRowIndices(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing rendered rows: %w", err)
	}
	limit := len(rendered) + 1

	for skipped := 0; ; skipped++ {
		if skipped > limit {
			return nil, ErrSkipLimit
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		row, err := n.nextRow(ctx, index)
		if err != nil {
			return nil, err
		}

		c, err := n.grid.FindControlAt(ctx, row, n.opts.Column)
		if err != nil {
			if errors.Is(err, grid.ErrNotFound) {
				return nil, fmt.Errorf("row %d: %w", row, ErrControlMissing)
			}
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		st, err := n.grid.Inspect(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("inspecting row %d: %w", row, err)
		}
		if !st.Attached {
			return nil, fmt.Errorf("row %d: %w", row, ErrControlMissing)
		}

		switch state := grid.Classify(st, n.opts.TargetLabel); state {
		case grid.RowTargetAlreadySet:
			n.logger.Debug("skipping row already set", zap.Int("row", row))
			index = row
		case grid.RowOtherValueSet:
			n.logger.Debug("boundary row found", zap.Int("row", row), zap.String("value", st.Value))
			return nil, ErrEndOfWork
		default:
			return c, nil
		}
	}
}

// nextRow returns the index of the first rendered row after index.
func (n *Navigator) nextRow(ctx context.Context, index int) (int, error) {
	ok, err := n.grid.HasRow(ctx, index+1)
	if err != nil {
		return -1, fmt.Errorf("looking up row %d: %w", index+1, err)
	}
	if ok {
		return index + 1, nil
	}

	rows, err := n.grid.RenderedRowIndices(ctx)
	if err != nil {
		return -1, fmt.Errorf("listing rendered rows: %w", err)
	}
	sort.Ints(rows)
	for _, r := range rows {
		if r > index {
			return r, nil
		}
	}
	return -1, ErrRowAbsent
}
