package snapshot_test

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/v0xg/gridfill/internal/clock"
	"github.com/v0xg/gridfill/internal/config"
	"github.com/v0xg/gridfill/internal/controller"
	"github.com/v0xg/gridfill/internal/grid"
	"github.com/v0xg/gridfill/internal/snapshot"
)

func row(i int, selected string) string {
	var opts strings.Builder
	for _, o := range []struct{ value, label string }{{"", ""}, {"math", "Math"}, {"art", "Art"}} {
		attr := ""
		if o.label == selected && selected != "" {
			attr = " selected"
		}
		fmt.Fprintf(&opts, `<option value="%s"%s>%s</option>`, o.value, attr, o.label)
	}
	return fmt.Sprintf(`<div role="row" row-index="%d"><div col-id="name">Student %d</div>`+
		`<div col-id="subject"><select class="subject-select" id="s%d">%s</select></div></div>`, i, i, i, opts.String())
}

func page(rows ...string) string {
	return `<html><body><div class="ag-body-viewport">` + strings.Join(rows, "") + `</div></body></html>`
}

func load(t *testing.T, doc string) *snapshot.Accessor {
	t.Helper()
	a, err := snapshot.Load(strings.NewReader(doc), config.NewDefaultConfig().Grid, zaptest.NewLogger(t))
	require.NoError(t, err)
	return a
}

func TestLookups(t *testing.T) {
	ctx := context.Background()
	a := load(t, page(row(0, ""), row(1, "Art"), `<select hidden class="subject-select"><option>Math</option></select>`))

	c, err := a.FindControlAt(ctx, 1, "subject")
	require.NoError(t, err)
	st, err := a.Inspect(ctx, c)
	require.NoError(t, err)
	assert.True(t, st.Attached)
	assert.Equal(t, grid.KindOptionList, st.Kind)
	assert.True(t, st.Visible())
	assert.Equal(t, "Art", st.SelectedLabel())
	assert.Equal(t, "art", st.Value)

	same, err := a.FindByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, c.Key(), same.Key())

	idx, err := a.RowIndexOf(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
	col, err := a.ColumnOf(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "subject", col)

	_, err = a.FindControlAt(ctx, 1, "name")
	assert.ErrorIs(t, err, grid.ErrNotFound)
	_, err = a.FindByID(ctx, "nope")
	assert.ErrorIs(t, err, grid.ErrNotFound)
	_, err = a.HitTest(ctx, grid.Point{X: 1, Y: 1})
	assert.ErrorIs(t, err, grid.ErrNotFound)

	marked, err := a.FindByMarker(ctx)
	require.NoError(t, err)
	assert.Len(t, marked, 3)
	hiddenState, err := a.Inspect(ctx, marked[2])
	require.NoError(t, err)
	assert.False(t, hiddenState.Visible())
	outside, err := a.RowIndexOf(ctx, marked[2])
	require.NoError(t, err)
	assert.Equal(t, -1, outside)

	selects, err := a.FindAllByTag(ctx, "SELECT")
	require.NoError(t, err)
	assert.Len(t, selects, 3)

	rows, err := a.RenderedRowIndices(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, rows)
	ok, err := a.HasRow(ctx, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	scrolled, err := a.ScrollBy(ctx, 120)
	require.NoError(t, err)
	assert.False(t, scrolled)
}

func TestEmptySelectShowsFirstOption(t *testing.T) {
	ctx := context.Background()
	a := load(t, page(row(0, "")))
	c, err := a.FindControlAt(ctx, 0, "subject")
	require.NoError(t, err)

	st, err := a.Inspect(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 0, st.SelectedIndex)
	assert.Equal(t, grid.RowEmpty, grid.Classify(st, "Math"))
}

func TestListbox(t *testing.T) {
	ctx := context.Background()
	a := load(t, page(`<div row-index="0"><div col-id="subject"><div role="listbox">`+
		`<div role="option" data-value="m">Math</div><div role="option" aria-selected="true">Art</div>`+
		`</div></div></div>`))

	c, err := a.FindControlAt(ctx, 0, "subject")
	require.NoError(t, err)
	st, err := a.Inspect(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, 1, st.SelectedIndex)
	assert.Equal(t, "Art", st.Value)

	require.NoError(t, a.SetSelectedIndex(ctx, c, 0))
	st, err = a.Inspect(ctx, c)
	require.NoError(t, err)
	assert.Equal(t, "m", st.Value)

	var out bytes.Buffer
	require.NoError(t, a.Render(&out))
	assert.Contains(t, out.String(), `<div role="option" data-value="m" aria-selected="true">Math</div>`)
	assert.Contains(t, out.String(), `<div role="option" aria-selected="false">Art</div>`)

	assert.Error(t, a.SetSelectedIndex(ctx, c, 5))
}

func TestPlan(t *testing.T) {
	a := load(t, page(row(0, ""), row(1, ""), row(2, "Math"), row(3, ""), row(4, "Art"), row(5, "")))

	cfg := config.NewDefaultConfig()
	auto := cfg.Automation
	auto.ActionDelay, auto.CycleDelay, auto.ScrollSettleDelay = 0, 0, 0
	ctrl := controller.New(a, clock.Real{}, controller.Options{
		Column:     cfg.Grid.SubjectColumn,
		Automation: auto,
	}, zaptest.NewLogger(t))

	start := 0
	ctrl.Start(context.Background(), grid.ElementHint{RowIndex: &start, ColumnID: "subject"}, controller.ModeAuto)
	res := ctrl.Wait()
	require.Equal(t, controller.Completed, res.Reason, "err: %v", res.Err)
	assert.Equal(t, 3, res.Actions)

	assert.Equal(t, []snapshot.Change{
		{Row: 0, Column: "subject", From: "", To: "Math"},
		{Row: 1, Column: "subject", From: "", To: "Math"},
		{Row: 3, Column: "subject", From: "", To: "Math"},
	}, a.Changes())

	var out bytes.Buffer
	require.NoError(t, a.Render(&out))
	again := load(t, out.String())
	for i, want := range []string{"Math", "Math", "Math", "Math", "Art", ""} {
		c, err := again.FindControlAt(context.Background(), i, "subject")
		require.NoError(t, err)
		st, err := again.Inspect(context.Background(), c)
		require.NoError(t, err)
		assert.Equal(t, want, st.SelectedLabel(), "row %d", i)
	}
}
