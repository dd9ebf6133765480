// Package snapshot implements grid.Accessor over a saved HTML page, so a session can be
// planned offline. The document has no layout and no scripts: controls report a nominal size,
// hit testing finds nothing and the viewport never scrolls.
package snapshot

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/v0xg/gridfill/internal/config"
	"github.com/v0xg/gridfill/internal/grid"
)

// nominal is the size reported for every control that is not hidden.
var nominal = grid.Rect{Width: 1, Height: 1}

type control struct {
	n   *html.Node
	key string
}

func (c *control) Key() string { return c.key }

// Change records how a row's selection moved during a plan.
type Change struct {
	Row    int
	Column string
	From   string
	To     string
}

// Accessor is a grid.Accessor backed by a goquery document.
type Accessor struct {
	doc    *goquery.Document
	cfg    config.GridConfig
	logger *zap.Logger

	mu       sync.Mutex
	controls map[*html.Node]*control
	changes  map[*html.Node]*Change
	order    []*html.Node
}

var _ grid.Accessor = (*Accessor)(nil)

// Load parses a saved page.
func Load(r io.Reader, cfg config.GridConfig, logger *zap.Logger) (*Accessor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}
	return &Accessor{
		doc:      doc,
		cfg:      cfg,
		logger:   logger.Named("snapshot"),
		controls: map[*html.Node]*control{},
		changes:  map[*html.Node]*Change{},
	}, nil
}

// Render writes the document, including every selection made so far.
func (a *Accessor) Render(w io.Writer) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, n := range a.doc.Nodes {
		if err := html.Render(w, n); err != nil {
			return fmt.Errorf("rendering snapshot: %w", err)
		}
	}
	return nil
}

// Changes returns one entry per control whose selection differs from the loaded page,
// ordered by row.
func (a *Accessor) Changes() []Change {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []Change
	for _, n := range a.order {
		if c := a.changes[n]; c.From != c.To {
			out = append(out, *c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Row < out[j].Row })
	return out
}

func (a *Accessor) ref(n *html.Node) grid.ControlRef {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.controls[n]; ok {
		return c
	}
	c := &control{n: n, key: "n" + strconv.Itoa(len(a.controls)+1)}
	a.controls[n] = c
	return c
}

func (a *Accessor) refs(s *goquery.Selection) []grid.ControlRef {
	out := make([]grid.ControlRef, 0, s.Length())
	for _, n := range s.Nodes {
		out = append(out, a.ref(n))
	}
	return out
}

func (a *Accessor) first(s *goquery.Selection) (grid.ControlRef, error) {
	if s.Length() == 0 {
		return nil, grid.ErrNotFound
	}
	return a.ref(s.Nodes[0]), nil
}

func (a *Accessor) node(c grid.ControlRef) (*html.Node, error) {
	ctl, ok := c.(*control)
	if !ok || ctl == nil {
		return nil, fmt.Errorf("snapshot: foreign control %T", c)
	}
	if !attached(ctl.n) {
		return nil, grid.ErrDetached
	}
	return ctl.n, nil
}

func attached(n *html.Node) bool {
	for ; n != nil; n = n.Parent {
		if n.Type == html.DocumentNode {
			return true
		}
	}
	return false
}

func (a *Accessor) withAttr(attr, value string) *goquery.Selection {
	return a.doc.Find("[" + attr + "]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr(attr)
		return v == value
	})
}

func (a *Accessor) FindControlAt(_ context.Context, row int, column string) (grid.ControlRef, error) {
	for _, r := range a.withAttr(a.cfg.RowIndexAttr, strconv.Itoa(row)).EachIter() {
		for _, cell := range r.Find("["+a.cfg.ColumnIDAttr+"]").EachIter() {
			if v, _ := cell.Attr(a.cfg.ColumnIDAttr); v != column {
				continue
			}
			if cell.Is(a.cfg.OptionListSelector) {
				return a.ref(cell.Nodes[0]), nil
			}
			if list := cell.Find(a.cfg.OptionListSelector).First(); list.Length() > 0 {
				return a.ref(list.Nodes[0]), nil
			}
		}
	}
	return nil, grid.ErrNotFound
}

func (a *Accessor) FindByID(_ context.Context, id string) (grid.ControlRef, error) {
	return a.first(a.withAttr("id", id))
}

func (a *Accessor) FindByClass(_ context.Context, class string) ([]grid.ControlRef, error) {
	return a.refs(a.doc.Find("[class]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("class")
		for _, f := range strings.Fields(v) {
			if f == class {
				return true
			}
		}
		return false
	})), nil
}

func (a *Accessor) FindAllByTag(_ context.Context, tag string) ([]grid.ControlRef, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	return a.refs(a.doc.Find("*").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return goquery.NodeName(s) == tag
	})), nil
}

func (a *Accessor) FindAllOfKind(_ context.Context, kind grid.Kind) ([]grid.ControlRef, error) {
	if kind != grid.KindOptionList {
		return nil, nil
	}
	return a.refs(a.doc.Find(a.cfg.OptionListSelector)), nil
}

func (a *Accessor) FindByMarker(ctx context.Context) ([]grid.ControlRef, error) {
	return a.FindByClass(ctx, a.cfg.MarkerClass)
}

// HitTest finds nothing: a snapshot has no layout.
func (a *Accessor) HitTest(context.Context, grid.Point) (grid.ControlRef, error) {
	return nil, grid.ErrNotFound
}

func (a *Accessor) ClosestOfKind(_ context.Context, c grid.ControlRef, kind grid.Kind) (grid.ControlRef, error) {
	n, err := a.node(c)
	if err != nil {
		return nil, err
	}
	if kind != grid.KindOptionList {
		return nil, grid.ErrNotFound
	}
	return a.first(a.doc.FindNodes(n).Closest(a.cfg.OptionListSelector))
}

func (a *Accessor) Inspect(_ context.Context, c grid.ControlRef) (grid.ControlState, error) {
	ctl, ok := c.(*control)
	if !ok || ctl == nil {
		return grid.ControlState{}, fmt.Errorf("snapshot: foreign control %T", c)
	}
	if !attached(ctl.n) {
		return grid.ControlState{Attached: false, SelectedIndex: -1}, nil
	}
	s := a.doc.FindNodes(ctl.n)
	st := grid.ControlState{Attached: true, SelectedIndex: -1}
	if s.Is(a.cfg.OptionListSelector) {
		st.Kind = grid.KindOptionList
	}
	if !hidden(s) {
		st.Bounds = nominal
	}

	opts := options(s)
	for i, o := range opts.EachIter() {
		st.Options = append(st.Options, grid.Option{Index: i, Label: strings.TrimSpace(o.Text()), Value: optionValue(o)})
	}
	st.SelectedIndex = selectedIndex(s, opts)
	if st.SelectedIndex >= 0 {
		st.Value = st.Options[st.SelectedIndex].Value
	} else if v, ok := s.Attr("value"); ok {
		st.Value = v
	}
	return st, nil
}

func (a *Accessor) RowIndexOf(_ context.Context, c grid.ControlRef) (int, error) {
	n, err := a.node(c)
	if err != nil {
		return -1, err
	}
	row := a.doc.FindNodes(n).Closest("[" + a.cfg.RowIndexAttr + "]")
	if row.Length() == 0 {
		return -1, nil
	}
	v, _ := row.Attr(a.cfg.RowIndexAttr)
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return -1, nil
	}
	return i, nil
}

func (a *Accessor) ColumnOf(_ context.Context, c grid.ControlRef) (string, error) {
	n, err := a.node(c)
	if err != nil {
		return "", err
	}
	v, _ := a.doc.FindNodes(n).Closest("[" + a.cfg.ColumnIDAttr + "]").Attr(a.cfg.ColumnIDAttr)
	return v, nil
}

func (a *Accessor) HasRow(_ context.Context, index int) (bool, error) {
	return a.withAttr(a.cfg.RowIndexAttr, strconv.Itoa(index)).Length() > 0, nil
}

func (a *Accessor) RenderedRowIndices(context.Context) ([]int, error) {
	seen := map[int]bool{}
	var rows []int
	for _, s := range a.doc.Find("[" + a.cfg.RowIndexAttr + "]").EachIter() {
		v, _ := s.Attr(a.cfg.RowIndexAttr)
		i, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil || seen[i] {
			continue
		}
		seen[i] = true
		rows = append(rows, i)
	}
	return rows, nil
}

// SetSelectedIndex marks option index as selected in the markup.
func (a *Accessor) SetSelectedIndex(ctx context.Context, c grid.ControlRef, index int) error {
	n, err := a.node(c)
	if err != nil {
		return err
	}
	before, err := a.Inspect(ctx, c)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(before.Options) {
		return fmt.Errorf("snapshot: option %d out of range [0,%d)", index, len(before.Options))
	}

	s := a.doc.FindNodes(n)
	isSelect := goquery.NodeName(s) == "select"
	a.mu.Lock()
	for i, o := range options(s).EachIter() {
		switch {
		case isSelect && i == index:
			o.SetAttr("selected", "selected")
		case isSelect:
			o.RemoveAttr("selected")
		default:
			o.SetAttr("aria-selected", strconv.FormatBool(i == index))
		}
	}
	a.mu.Unlock()

	row, _ := a.RowIndexOf(ctx, c)
	col, _ := a.ColumnOf(ctx, c)
	a.mu.Lock()
	ch, ok := a.changes[n]
	if !ok {
		ch = &Change{Row: row, Column: col, From: before.SelectedLabel()}
		a.changes[n] = ch
		a.order = append(a.order, n)
	}
	ch.To = before.Options[index].Label
	a.mu.Unlock()

	a.logger.Debug("option selected", zap.Int("row", row), zap.String("label", ch.To))
	return nil
}

func (a *Accessor) Focus(_ context.Context, c grid.ControlRef) error {
	_, err := a.node(c)
	return err
}

func (a *Accessor) Blur(_ context.Context, c grid.ControlRef) error {
	_, err := a.node(c)
	return err
}

// NotifyChanged has no listeners to reach; events are only logged.
func (a *Accessor) NotifyChanged(_ context.Context, c grid.ControlRef, events ...grid.Event) error {
	if _, err := a.node(c); err != nil {
		return err
	}
	if ce := a.logger.Check(zap.DebugLevel, "events raised"); ce != nil {
		types := make([]string, 0, len(events))
		for _, e := range events {
			types = append(types, string(e.Type))
		}
		ce.Write(zap.String("control", c.Key()), zap.Strings("events", types))
	}
	return nil
}

// ScrollBy reports that no viewport can scroll: a snapshot holds only the rows it was saved with.
func (a *Accessor) ScrollBy(context.Context, float64) (bool, error) {
	return false, nil
}

func options(s *goquery.Selection) *goquery.Selection {
	if goquery.NodeName(s) == "select" {
		return s.Find("option")
	}
	return s.Find(`[role="option"]`)
}

func optionValue(o *goquery.Selection) string {
	if goquery.NodeName(o) == "option" {
		if v, ok := o.Attr("value"); ok {
			return v
		}
		return strings.TrimSpace(o.Text())
	}
	if v, ok := o.Attr("data-value"); ok && v != "" {
		return v
	}
	return strings.TrimSpace(o.Text())
}

// selectedIndex follows browser rules: a single-choice select with no explicit
// selection shows its first option.
func selectedIndex(s, opts *goquery.Selection) int {
	if goquery.NodeName(s) == "select" {
		idx := -1
		for i, o := range opts.EachIter() {
			if _, ok := o.Attr("selected"); ok {
				idx = i
			}
		}
		if idx < 0 && opts.Length() > 0 {
			_, multiple := s.Attr("multiple")
			if !multiple {
				idx = 0
			}
		}
		return idx
	}
	for i, o := range opts.EachIter() {
		if v, _ := o.Attr("aria-selected"); v == "true" {
			return i
		}
	}
	return -1
}

func hidden(s *goquery.Selection) bool {
	for n := s.Nodes[0]; n != nil; n = n.Parent {
		for _, attr := range n.Attr {
			switch {
			case attr.Key == "hidden":
				return true
			case attr.Key == "style" && strings.Contains(strings.ReplaceAll(attr.Val, " ", ""), "display:none"):
				return true
			}
		}
	}
	return false
}
