package grid

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/text/cases"
)

var (
	// ErrNotFound is returned by lookups that match nothing on the page.
	ErrNotFound = errors.New("grid: element not found")
	// ErrDetached is returned when a ControlRef no longer points at a node in the document.
	ErrDetached = errors.New("grid: element is detached from the document")
)

// Kind classifies a control by how it can be driven.
type Kind int

const (
	KindOther Kind = iota
	KindOptionList
)

func (k Kind) String() string {
	if k == KindOptionList {
		return "option-list"
	}
	return "other"
}

// Point is a screen-space coordinate in CSS pixels
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is a screen-space bounding rectangle in CSS pixels
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the midpoint of the rectangle
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Contains reports whether p lies inside the rectangle (right and bottom edges excluded)
func (r Rect) Contains(p Point) bool {
	return p.X >= r.X && p.X < r.X+r.Width && p.Y >= r.Y && p.Y < r.Y+r.Height
}

// ElementHint is a best-effort description of a control, captured when a user designated it.
// Every field is optional.
type ElementHint struct {
	RowIndex  *int   `json:"rowIndex,omitempty"`
	ColumnID  string `json:"columnId,omitempty"`
	ID        string `json:"id,omitempty"`
	ClassName string `json:"className,omitempty"`
	TagName   string `json:"tagName,omitempty"`
	Rect      *Rect  `json:"rect,omitempty"`
}

// Empty reports whether the hint carries no usable field at all.
func (h ElementHint) Empty() bool {
	return h.RowIndex == nil &&
		strings.TrimSpace(h.ColumnID) == "" &&
		strings.TrimSpace(h.ID) == "" &&
		strings.TrimSpace(h.ClassName) == "" &&
		strings.TrimSpace(h.TagName) == "" &&
		h.Rect == nil
}

// HasCoordinates reports whether both the row index and the column id are known.
func (h ElementHint) HasCoordinates() bool {
	return h.RowIndex != nil && strings.TrimSpace(h.ColumnID) != ""
}

// ControlRef is an opaque, revocable reference to a live control.
// The widget destroys and recreates nodes while scrolling, so a ControlRef
// must be re-inspected before every use.
type ControlRef interface {
	// Key identifies the node for logging. It is not stable across re-renders.
	Key() string
}

// Option is one entry of an option list
type Option struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// ControlState is a point-in-time view of a control.
type ControlState struct {
	Attached      bool     `json:"attached"`
	Kind          Kind     `json:"kind"`
	Bounds        Rect     `json:"bounds"`
	Options       []Option `json:"options"`
	SelectedIndex int      `json:"selectedIndex"`
	Value         string   `json:"value"`
}

// Visible reports whether the control has a non-zero rendered size.
func (s ControlState) Visible() bool {
	return s.Bounds.Width > 0 && s.Bounds.Height > 0
}

// SelectedLabel returns the label of the selected option, or "" when nothing is selected.
func (s ControlState) SelectedLabel() string {
	if s.SelectedIndex < 0 || s.SelectedIndex >= len(s.Options) {
		return ""
	}
	return s.Options[s.SelectedIndex].Label
}

// HasLabel reports whether one of the options carries exactly the given label (normalized).
func (s ControlState) HasLabel(label string) bool {
	return s.IndexOfLabel(label) >= 0
}

// IndexOfLabel returns the index of the first option whose normalized label equals label, or -1.
func (s ControlState) IndexOfLabel(label string) int {
	want := Normalize(label)
	if want == "" {
		return -1
	}
	for _, o := range s.Options {
		if Normalize(o.Label) == want {
			return o.Index
		}
	}
	return -1
}

// RowState is derived from a control's current value every time a row is inspected.
type RowState int

const (
	RowEmpty RowState = iota
	RowTargetAlreadySet
	RowOtherValueSet
	RowAbsent
)

func (s RowState) String() string {
	switch s {
	case RowEmpty:
		return "empty"
	case RowTargetAlreadySet:
		return "target-already-set"
	case RowOtherValueSet:
		return "other-value-set"
	case RowAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// Classify derives the RowState of a control holding state, for the given target label.
func Classify(state ControlState, target string) RowState {
	if strings.TrimSpace(state.Value) == "" {
		return RowEmpty
	}
	want := Normalize(target)
	if Normalize(state.SelectedLabel()) == want || Normalize(state.Value) == want {
		return RowTargetAlreadySet
	}
	return RowOtherValueSet
}

// Normalize trims and case-folds a label for comparison.
func Normalize(s string) string {
	return cases.Fold().String(strings.TrimSpace(s))
}

// Accessor is the capability interface the automation engine uses to reach the page.
// The DOM-backed implementation lives in the browser package; tests use gridtest.
type Accessor interface {
	FindControlAt(ctx context.Context, row int, column string) (ControlRef, error)
	FindByID(ctx context.Context, id string) (ControlRef, error)
	FindByClass(ctx context.Context, class string) ([]ControlRef, error)
	FindAllByTag(ctx context.Context, tag string) ([]ControlRef, error)
	FindAllOfKind(ctx context.Context, kind Kind) ([]ControlRef, error)
	// FindByMarker returns every control carrying the subject selector marker class.
	FindByMarker(ctx context.Context) ([]ControlRef, error)
	HitTest(ctx context.Context, p Point) (ControlRef, error)
	// ClosestOfKind returns c itself or its nearest ancestor of the given kind.
	ClosestOfKind(ctx context.Context, c ControlRef, kind Kind) (ControlRef, error)
	Inspect(ctx context.Context, c ControlRef) (ControlState, error)
	// RowIndexOf returns the index of the nearest enclosing row container, or -1.
	RowIndexOf(ctx context.Context, c ControlRef) (int, error)
	ColumnOf(ctx context.Context, c ControlRef) (string, error)
	HasRow(ctx context.Context, index int) (bool, error)
	RenderedRowIndices(ctx context.Context) ([]int, error)
	SetSelectedIndex(ctx context.Context, c ControlRef, index int) error
	Focus(ctx context.Context, c ControlRef) error
	Blur(ctx context.Context, c ControlRef) error
	// NotifyChanged raises synthetic DOM events on c so the host page's own listeners observe the change.
	NotifyChanged(ctx context.Context, c ControlRef, events ...Event) error
	// ScrollBy advances the grid viewport. It returns false when no scrollable viewport exists.
	ScrollBy(ctx context.Context, delta float64) (bool, error)
}
