package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"go.uber.org/zap"

	"github.com/v0xg/gridfill/internal/config"
	"github.com/v0xg/gridfill/internal/grid"
)

// control is a live DOM element
type control struct {
	el *rod.Element
}

func (c *control) Key() string { return string(c.el.Object.ObjectID) }

// Accessor implements grid.Accessor on a live page through the DevTools protocol.
// Lookups never wait for elements to appear: the controller owns all timing.
type Accessor struct {
	page   *rod.Page
	cfg    config.GridConfig
	logger *zap.Logger
}

// NewAccessor creates an Accessor for the grid on page
func NewAccessor(page *rod.Page, cfg config.GridConfig, logger *zap.Logger) *Accessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accessor{page: page, cfg: cfg, logger: logger.Named("dom")}
}

var _ grid.Accessor = (*Accessor)(nil)

func (a *Accessor) p(ctx context.Context) *rod.Page {
	return a.page.Context(ctx).Sleeper(rod.NotFoundSleeper)
}

func (a *Accessor) element(c grid.ControlRef) (*rod.Element, error) {
	ctl, ok := c.(*control)
	if !ok || ctl == nil {
		return nil, fmt.Errorf("browser: foreign control %T", c)
	}
	return ctl.el, nil
}

func (a *Accessor) one(ctx context.Context, js string, args ...any) (grid.ControlRef, error) {
	el, err := a.p(ctx).ElementByJS(rod.Eval(js, args...))
	if err != nil {
		if notFound(err) {
			return nil, grid.ErrNotFound
		}
		return nil, classify(err)
	}
	return &control{el: el}, nil
}

func (a *Accessor) many(ctx context.Context, js string, args ...any) ([]grid.ControlRef, error) {
	els, err := a.p(ctx).ElementsByJS(rod.Eval(js, args...))
	if err != nil {
		return nil, classify(err)
	}
	out := make([]grid.ControlRef, 0, len(els))
	for _, el := range els {
		out = append(out, &control{el: el})
	}
	return out, nil
}

func (a *Accessor) FindControlAt(ctx context.Context, row int, column string) (grid.ControlRef, error) {
	return a.one(ctx, jsControlAt, a.cfg.RowIndexAttr, row, a.cfg.ColumnIDAttr, column, a.cfg.OptionListSelector)
}

func (a *Accessor) FindByID(ctx context.Context, id string) (grid.ControlRef, error) {
	return a.one(ctx, `(id) => document.getElementById(id)`, id)
}

func (a *Accessor) FindByClass(ctx context.Context, class string) ([]grid.ControlRef, error) {
	return a.many(ctx, `(c) => Array.from(document.getElementsByClassName(c))`, class)
}

func (a *Accessor) FindAllByTag(ctx context.Context, tag string) ([]grid.ControlRef, error) {
	return a.many(ctx, `(t) => Array.from(document.getElementsByTagName(t))`, tag)
}

func (a *Accessor) FindAllOfKind(ctx context.Context, kind grid.Kind) ([]grid.ControlRef, error) {
	if kind != grid.KindOptionList {
		return nil, nil
	}
	return a.many(ctx, `(sel) => Array.from(document.querySelectorAll(sel))`, a.cfg.OptionListSelector)
}

func (a *Accessor) FindByMarker(ctx context.Context) ([]grid.ControlRef, error) {
	return a.FindByClass(ctx, a.cfg.MarkerClass)
}

func (a *Accessor) HitTest(ctx context.Context, p grid.Point) (grid.ControlRef, error) {
	return a.one(ctx, `(x, y) => document.elementFromPoint(x, y)`, p.X, p.Y)
}

func (a *Accessor) ClosestOfKind(ctx context.Context, c grid.ControlRef, kind grid.Kind) (grid.ControlRef, error) {
	el, err := a.element(c)
	if err != nil {
		return nil, err
	}
	if kind != grid.KindOptionList {
		return nil, grid.ErrNotFound
	}
	found, err := el.Context(ctx).Sleeper(rod.NotFoundSleeper).ElementByJS(rod.Eval(`(sel) => this.closest(sel)`, a.cfg.OptionListSelector))
	if err != nil {
		if notFound(err) {
			return nil, grid.ErrNotFound
		}
		return nil, classify(err)
	}
	return &control{el: found}, nil
}

func (a *Accessor) Inspect(ctx context.Context, c grid.ControlRef) (grid.ControlState, error) {
	el, err := a.element(c)
	if err != nil {
		return grid.ControlState{}, err
	}
	res, err := el.Context(ctx).Eval(jsInspect, a.cfg.OptionListSelector)
	if err != nil {
		if err = classify(err); errors.Is(err, grid.ErrDetached) {
			return grid.ControlState{Attached: false}, nil
		}
		return grid.ControlState{}, err
	}
	var raw rawState
	if err := res.Value.Unmarshal(&raw); err != nil {
		return grid.ControlState{}, fmt.Errorf("decoding control state: %w", err)
	}
	return raw.state(), nil
}

func (a *Accessor) RowIndexOf(ctx context.Context, c grid.ControlRef) (int, error) {
	el, err := a.element(c)
	if err != nil {
		return -1, err
	}
	res, err := el.Context(ctx).Eval(`(attr) => {
		if (!this.isConnected) return -2;
		const row = this.closest('[' + attr + ']');
		if (!row) return -1;
		const n = parseInt(row.getAttribute(attr), 10);
		return isNaN(n) ? -1 : n;
	}`, a.cfg.RowIndexAttr)
	if err != nil {
		return -1, classify(err)
	}
	if n := res.Value.Int(); n != -2 {
		return n, nil
	}
	return -1, grid.ErrDetached
}

func (a *Accessor) ColumnOf(ctx context.Context, c grid.ControlRef) (string, error) {
	el, err := a.element(c)
	if err != nil {
		return "", err
	}
	res, err := el.Context(ctx).Eval(`(attr) => {
		const cell = this.closest('[' + attr + ']');
		return cell ? cell.getAttribute(attr) : '';
	}`, a.cfg.ColumnIDAttr)
	if err != nil {
		return "", classify(err)
	}
	return res.Value.Str(), nil
}

func (a *Accessor) HasRow(ctx context.Context, index int) (bool, error) {
	res, err := a.page.Context(ctx).Eval(`(attr, i) => document.querySelector('[' + attr + '="' + i + '"]') !== null`, a.cfg.RowIndexAttr, index)
	if err != nil {
		return false, classify(err)
	}
	return res.Value.Bool(), nil
}

func (a *Accessor) RenderedRowIndices(ctx context.Context) ([]int, error) {
	res, err := a.page.Context(ctx).Eval(`(attr) => {
		const seen = new Set();
		document.querySelectorAll('[' + attr + ']').forEach(el => {
			const n = parseInt(el.getAttribute(attr), 10);
			if (!isNaN(n)) seen.add(n);
		});
		return Array.from(seen);
	}`, a.cfg.RowIndexAttr)
	if err != nil {
		return nil, classify(err)
	}
	var rows []int
	if err := res.Value.Unmarshal(&rows); err != nil {
		return nil, fmt.Errorf("decoding row indices: %w", err)
	}
	return rows, nil
}

func (a *Accessor) SetSelectedIndex(ctx context.Context, c grid.ControlRef, index int) error {
	return a.mutate(ctx, c, jsSetSelected, index)
}

func (a *Accessor) Focus(ctx context.Context, c grid.ControlRef) error {
	return a.mutate(ctx, c, `() => { if (!this.isConnected) return false; this.focus(); return true; }`)
}

func (a *Accessor) Blur(ctx context.Context, c grid.ControlRef) error {
	return a.mutate(ctx, c, `() => { if (!this.isConnected) return false; this.blur(); return true; }`)
}

func (a *Accessor) NotifyChanged(ctx context.Context, c grid.ControlRef, events ...grid.Event) error {
	return a.mutate(ctx, c, jsDispatch, events)
}

func (a *Accessor) ScrollBy(ctx context.Context, delta float64) (bool, error) {
	res, err := a.page.Context(ctx).Eval(`(sel, d) => {
		const v = document.querySelector(sel);
		if (!v || v.scrollHeight <= v.clientHeight) return false;
		const before = v.scrollTop;
		v.scrollTop = before + d;
		v.dispatchEvent(new Event('scroll'));
		return v.scrollTop !== before;
	}`, a.cfg.ViewportSelector, delta)
	if err != nil {
		return false, classify(err)
	}
	return res.Value.Bool(), nil
}

// mutate runs js on the element. The script returns false when the element is detached.
func (a *Accessor) mutate(ctx context.Context, c grid.ControlRef, js string, args ...any) error {
	el, err := a.element(c)
	if err != nil {
		return err
	}
	res, err := el.Context(ctx).Eval(js, args...)
	if err != nil {
		return classify(err)
	}
	if !res.Value.Bool() {
		return grid.ErrDetached
	}
	return nil
}

func notFound(err error) bool {
	var nf *rod.ElementNotFoundError
	return errors.As(err, &nf)
}

// classify maps protocol errors about vanished objects to grid.ErrDetached.
func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, s := range []string{
		"Could not find object with given id",
		"Could not find node with given id",
		"No node with given id",
		"Cannot find context with specified id",
	} {
		if strings.Contains(msg, s) {
			return fmt.Errorf("%w: %v", grid.ErrDetached, err)
		}
	}
	return err
}

type rawState struct {
	Attached      bool        `json:"attached"`
	IsList        bool        `json:"isList"`
	Rect          grid.Rect   `json:"rect"`
	Options       []rawOption `json:"options"`
	SelectedIndex int         `json:"selectedIndex"`
	Value         string      `json:"value"`
}

type rawOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

func (r rawState) state() grid.ControlState {
	st := grid.ControlState{
		Attached:      r.Attached,
		Bounds:        r.Rect,
		SelectedIndex: r.SelectedIndex,
		Value:         r.Value,
	}
	if r.IsList {
		st.Kind = grid.KindOptionList
	}
	for i, o := range r.Options {
		st.Options = append(st.Options, grid.Option{Index: i, Label: strings.TrimSpace(o.Label), Value: o.Value})
	}
	return st
}
