// Package gridtest provides an in-memory grid.Accessor that mimics a virtualized data grid.
package gridtest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/v0xg/gridfill/internal/grid"
)

// Node is a fake DOM node.
type Node struct {
	ID       string
	Class    string
	Tag      string
	Marker   bool
	Kind     grid.Kind
	Bounds   grid.Rect
	Options  []grid.Option
	Selected int
	Parent   *Node

	key      string
	row      int
	column   string
	detached bool
}

func (n *Node) Key() string { return n.key }

// Detach removes the node from the fake document.
func (n *Node) Detach() { n.detached = true }

// Grid is an in-memory grid.Accessor. Rows hold their value in a data model that survives
// re-rendering; only rows inside the rendered window have live controls.
type Grid struct {
	mu sync.Mutex

	// Column is the column id of the subject column.
	Column string
	// Labels are the option labels offered by every row control. Labels[0] is the empty placeholder.
	Labels []string
	// Scrollable controls whether ScrollBy finds a viewport.
	Scrollable bool
	// RowsPerScroll is how far the rendered window moves per ScrollBy call.
	RowsPerScroll int
	// OnScroll, if set, runs after every successful ScrollBy.
	OnScroll func(g *Grid)

	values   []string
	rendered map[int]bool
	controls map[int]*Node
	missing  map[int]bool
	nodes    []*Node
	nextKey  int

	events      map[string][]grid.Event
	fail        map[string]error
	panics      map[string]bool
	ScrollCalls int
}

// New returns a grid whose rows carry the given values ("" for empty).
// Every row is rendered until Render narrows the window.
func New(values ...string) *Grid {
	g := &Grid{
		Column:        "subject",
		Labels:        []string{"", "Math", "Art", "X"},
		RowsPerScroll: 1,
		rendered:      map[int]bool{},
		controls:      map[int]*Node{},
		missing:       map[int]bool{},
		events:        map[string][]grid.Event{},
		fail:          map[string]error{},
		panics:        map[string]bool{},
	}
	g.values = append(g.values, values...)
	for i, v := range g.values {
		g.rendered[i] = true
		if g.labelIndex(v) == 0 && v != "" {
			g.Labels = append(g.Labels, v)
		}
	}
	return g
}

// Render limits the rendered window to rows [from, to).
func (g *Grid) Render(from, to int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.renderLocked(from, to)
}

func (g *Grid) renderLocked(from, to int) {
	for i := range g.values {
		in := i >= from && i < to
		if !in && g.rendered[i] {
			if n, ok := g.controls[i]; ok {
				n.detached = true
				delete(g.controls, i)
			}
		}
		g.rendered[i] = in
	}
}

// RemoveControl keeps row rendered but strips its subject control.
func (g *Grid) RemoveControl(row int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.missing[row] = true
	if n, ok := g.controls[row]; ok {
		n.detached = true
		delete(g.controls, row)
	}
}

// Recycle detaches a row's current control. The next lookup creates a fresh node, the way
// a grid re-renders a row without changing its data.
func (g *Grid) Recycle(row int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n, ok := g.controls[row]; ok {
		n.detached = true
		delete(g.controls, row)
	}
}

// Add appends a free-standing node to the document and returns it.
func (g *Grid) Add(n *Node) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextKey++
	n.key = fmt.Sprintf("node-%d", g.nextKey)
	n.row = -1
	if n.Parent != nil {
		n.row = n.Parent.row
		n.column = n.Parent.column
	}
	g.nodes = append(g.nodes, n)
	return n
}

// Control returns the live control of a rendered row, creating it on first access.
func (g *Grid) Control(row int) *Node {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.controlLocked(row)
}

func (g *Grid) controlLocked(row int) *Node {
	if row < 0 || row >= len(g.values) || !g.rendered[row] || g.missing[row] {
		return nil
	}
	if n, ok := g.controls[row]; ok {
		return n
	}
	g.nextKey++
	n := &Node{
		Tag:    "select",
		Class:  "subject-select",
		Marker: true,
		Kind:   grid.KindOptionList,
		Bounds: grid.Rect{X: 0, Y: float64(row) * 30, Width: 120, Height: 24},
		key:    fmt.Sprintf("row-%d-%d", row, g.nextKey),
		row:    row,
		column: g.Column,
	}
	g.controls[row] = n
	return n
}

// Value returns the data-model value of a row.
func (g *Grid) Value(row int) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.values[row]
}

// Values returns a copy of all row values.
func (g *Grid) Values() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.values...)
}

// Events returns the synthetic events raised on a control.
func (g *Grid) Events(c grid.ControlRef) []grid.Event {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]grid.Event(nil), g.events[c.Key()]...)
}

// FailOn makes the named method return err.
func (g *Grid) FailOn(method string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail[method] = err
}

// PanicOn makes the named method panic.
func (g *Grid) PanicOn(method string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.panics[method] = true
}

func (g *Grid) check(method string) error {
	if g.panics[method] {
		panic("gridtest: injected panic in " + method)
	}
	return g.fail[method]
}

func (g *Grid) all() []*Node {
	var out []*Node
	rows := make([]int, 0, len(g.rendered))
	for r, ok := range g.rendered {
		if ok {
			rows = append(rows, r)
		}
	}
	sort.Ints(rows)
	for _, r := range rows {
		if n := g.controlLocked(r); n != nil {
			out = append(out, n)
		}
	}
	for _, n := range g.nodes {
		if !n.detached {
			out = append(out, n)
		}
	}
	return out
}

func (g *Grid) node(c grid.ControlRef) (*Node, error) {
	n, ok := c.(*Node)
	if !ok || n == nil {
		return nil, fmt.Errorf("gridtest: foreign control %v", c)
	}
	if n.detached {
		return nil, grid.ErrDetached
	}
	return n, nil
}

func (g *Grid) FindControlAt(ctx context.Context, row int, column string) (grid.ControlRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check("FindControlAt"); err != nil {
		return nil, err
	}
	if column == g.Column {
		if n := g.controlLocked(row); n != nil {
			return n, nil
		}
	}
	for _, n := range g.nodes {
		if !n.detached && n.row == row && n.column == column && row >= 0 {
			return n, nil
		}
	}
	return nil, grid.ErrNotFound
}

func (g *Grid) FindByID(ctx context.Context, id string) (grid.ControlRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check("FindByID"); err != nil {
		return nil, err
	}
	for _, n := range g.all() {
		if n.ID == id {
			return n, nil
		}
	}
	return nil, grid.ErrNotFound
}

func (g *Grid) FindByClass(ctx context.Context, class string) ([]grid.ControlRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check("FindByClass"); err != nil {
		return nil, err
	}
	return g.filter(func(n *Node) bool { return n.Class == class }), nil
}

func (g *Grid) FindAllByTag(ctx context.Context, tag string) ([]grid.ControlRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check("FindAllByTag"); err != nil {
		return nil, err
	}
	return g.filter(func(n *Node) bool { return n.Tag == tag }), nil
}

func (g *Grid) FindAllOfKind(ctx context.Context, kind grid.Kind) ([]grid.ControlRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check("FindAllOfKind"); err != nil {
		return nil, err
	}
	return g.filter(func(n *Node) bool { return n.Kind == kind }), nil
}

func (g *Grid) FindByMarker(ctx context.Context) ([]grid.ControlRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check("FindByMarker"); err != nil {
		return nil, err
	}
	return g.filter(func(n *Node) bool { return n.Marker }), nil
}

func (g *Grid) filter(keep func(*Node) bool) []grid.ControlRef {
	var out []grid.ControlRef
	for _, n := range g.all() {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

// HitTest returns the last-added node containing p, mimicking paint order.
func (g *Grid) HitTest(ctx context.Context, p grid.Point) (grid.ControlRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check("HitTest"); err != nil {
		return nil, err
	}
	all := g.all()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Bounds.Contains(p) {
			return all[i], nil
		}
	}
	return nil, grid.ErrNotFound
}

func (g *Grid) ClosestOfKind(ctx context.Context, c grid.ControlRef, kind grid.Kind) (grid.ControlRef, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check("ClosestOfKind"); err != nil {
		return nil, err
	}
	n, err := g.node(c)
	if err != nil {
		return nil, err
	}
	for ; n != nil; n = n.Parent {
		if n.Kind == kind && !n.detached {
			return n, nil
		}
	}
	return nil, grid.ErrNotFound
}

func (g *Grid) Inspect(ctx context.Context, c grid.ControlRef) (grid.ControlState, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check("Inspect"); err != nil {
		return grid.ControlState{}, err
	}
	n, ok := c.(*Node)
	if !ok || n == nil {
		return grid.ControlState{}, fmt.Errorf("gridtest: foreign control %v", c)
	}
	if n.detached {
		return grid.ControlState{Attached: false}, nil
	}
	st := grid.ControlState{
		Attached:      true,
		Kind:          n.Kind,
		Bounds:        n.Bounds,
		Options:       n.Options,
		SelectedIndex: n.Selected,
	}
	if n.row >= 0 && g.controls[n.row] == n {
		st.Options = g.rowOptions()
		st.SelectedIndex = g.labelIndex(g.values[n.row])
	}
	if st.SelectedIndex >= 0 && st.SelectedIndex < len(st.Options) {
		st.Value = st.Options[st.SelectedIndex].Value
	}
	return st, nil
}

func (g *Grid) rowOptions() []grid.Option {
	opts := make([]grid.Option, len(g.Labels))
	for i, l := range g.Labels {
		opts[i] = grid.Option{Index: i, Label: l, Value: l}
	}
	return opts
}

func (g *Grid) labelIndex(label string) int {
	for i, l := range g.Labels {
		if l == label {
			return i
		}
	}
	return 0
}

func (g *Grid) RowIndexOf(ctx context.Context, c grid.ControlRef) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check("RowIndexOf"); err != nil {
		return -1, err
	}
	n, err := g.node(c)
	if err != nil {
		return -1, err
	}
	return n.row, nil
}

func (g *Grid) ColumnOf(ctx context.Context, c grid.ControlRef) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, err := g.node(c)
	if err != nil {
		return "", err
	}
	return n.column, nil
}

func (g *Grid) HasRow(ctx context.Context, index int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check("HasRow"); err != nil {
		return false, err
	}
	return g.rendered[index], nil
}

func (g *Grid) RenderedRowIndices(ctx context.Context) ([]int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check("RenderedRowIndices"); err != nil {
		return nil, err
	}
	var rows []int
	for r, ok := range g.rendered {
		if ok {
			rows = append(rows, r)
		}
	}
	// map order, callers must sort
	return rows, nil
}

func (g *Grid) SetSelectedIndex(ctx context.Context, c grid.ControlRef, index int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check("SetSelectedIndex"); err != nil {
		return err
	}
	n, err := g.node(c)
	if err != nil {
		return err
	}
	if n.row >= 0 && g.controls[n.row] == n {
		if index < 0 || index >= len(g.Labels) {
			return fmt.Errorf("gridtest: index %d out of range", index)
		}
		g.values[n.row] = g.Labels[index]
		return nil
	}
	n.Selected = index
	return nil
}

func (g *Grid) Focus(ctx context.Context, c grid.ControlRef) error {
	return g.record(c, "Focus", grid.Event{Type: grid.EventFocus})
}

func (g *Grid) Blur(ctx context.Context, c grid.ControlRef) error {
	return g.record(c, "Blur", grid.Event{Type: grid.EventBlur})
}

func (g *Grid) NotifyChanged(ctx context.Context, c grid.ControlRef, events ...grid.Event) error {
	return g.record(c, "NotifyChanged", events...)
}

func (g *Grid) record(c grid.ControlRef, method string, events ...grid.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if err := g.check(method); err != nil {
		return err
	}
	if _, err := g.node(c); err != nil {
		return err
	}
	g.events[c.Key()] = append(g.events[c.Key()], events...)
	return nil
}

// ScrollBy moves the rendered window forward by RowsPerScroll rows, keeping its width.
func (g *Grid) ScrollBy(ctx context.Context, delta float64) (bool, error) {
	g.mu.Lock()
	g.ScrollCalls++
	if err := g.check("ScrollBy"); err != nil {
		g.mu.Unlock()
		return false, err
	}
	if !g.Scrollable {
		g.mu.Unlock()
		return false, nil
	}
	from, to := -1, -1
	for i := range g.values {
		if g.rendered[i] {
			if from < 0 {
				from = i
			}
			to = i + 1
		}
	}
	if from >= 0 {
		g.renderLocked(from+g.RowsPerScroll, to+g.RowsPerScroll)
	}
	hook := g.OnScroll
	g.mu.Unlock()
	if hook != nil {
		hook(g)
	}
	return true, nil
}

var _ grid.Accessor = (*Grid)(nil)
