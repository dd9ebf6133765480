package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/v0xg/gridfill/internal/clock"
	"github.com/v0xg/gridfill/internal/grid"
	"github.com/v0xg/gridfill/internal/grid/gridtest"
)

func TestApplyDirect(t *testing.T) {
	g := gridtest.New("", "Art")
	fc := clock.NewFake(time.Time{})
	e := New(g, fc, Options{TargetLabel: "math", ActionDelay: time.Second}, zaptest.NewLogger(t))

	c := g.Control(0)
	out, err := e.Apply(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, Selected, out)
	assert.Equal(t, "Math", g.Value(0))
	assert.Equal(t, grid.ChangeEvents(), g.Events(c))
	assert.Empty(t, fc.Waits())

	// overwrites whatever was there
	c = g.Control(1)
	out, err = e.Apply(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, Selected, out)
	assert.Equal(t, "Math", g.Value(1))
}

func TestApplyFallback(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		key      string
		advances int
		want     string
	}{
		{"initial letter", "Mathematics", "", 0, "Math"},
		{"initial letter then advance", "Mathematics", "", 1, "Art"},
		{"advance clamps at last option", "Mathematics", "", 5, "X"},
		{"contains", "ar", "", 0, "Art"},
		{"explicit initiating key", "Zoology", "x", 0, "X"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gridtest.New("")
			fc := clock.NewFake(time.Time{})
			e := New(g, fc, Options{
				TargetLabel:        tt.target,
				InitiatingKey:      tt.key,
				AdvanceRepetitions: tt.advances,
				ActionDelay:        50 * time.Millisecond,
			}, zaptest.NewLogger(t))

			out, err := e.Apply(context.Background(), g.Control(0))
			require.NoError(t, err)
			assert.Equal(t, FallbackUsed, out)
			assert.Equal(t, tt.want, g.Value(0))
			assert.Len(t, fc.Waits(), tt.advances+1)
		})
	}
}

func TestApplyFallbackEvents(t *testing.T) {
	g := gridtest.New("")
	e := New(g, clock.NewFake(time.Time{}), Options{TargetLabel: "Mathematics"}, zaptest.NewLogger(t))

	c := g.Control(0)
	_, err := e.Apply(context.Background(), c)
	require.NoError(t, err)

	assert.Equal(t, []grid.Event{
		{Type: grid.EventFocus},
		{Type: grid.EventKeyDown, Key: "M"},
		{Type: grid.EventChange},
		{Type: grid.EventInput},
		{Type: grid.EventKeyUp, Key: "M"},
		{Type: grid.EventKeyDown, Key: grid.KeyEnter},
		{Type: grid.EventChange},
		{Type: grid.EventInput},
		{Type: grid.EventKeyUp, Key: grid.KeyEnter},
		{Type: grid.EventBlur},
	}, g.Events(c))
}

func TestApplyFailures(t *testing.T) {
	t.Run("no matching option", func(t *testing.T) {
		g := gridtest.New("")
		e := New(g, clock.NewFake(time.Time{}), Options{TargetLabel: "Zoology"}, zaptest.NewLogger(t))

		out, err := e.Apply(context.Background(), g.Control(0))
		assert.ErrorIs(t, err, ErrNoMatchingOption)
		assert.Equal(t, Failed, out)
		assert.Equal(t, "", g.Value(0))
	})

	t.Run("detached control", func(t *testing.T) {
		g := gridtest.New("")
		e := New(g, clock.NewFake(time.Time{}), Options{TargetLabel: "Math"}, zaptest.NewLogger(t))
		c := g.Control(0)
		c.Detach()

		out, err := e.Apply(context.Background(), c)
		assert.ErrorIs(t, err, grid.ErrDetached)
		assert.Equal(t, Failed, out)
	})

	t.Run("accessor error", func(t *testing.T) {
		g := gridtest.New("")
		boom := errors.New("boom")
		g.FailOn("NotifyChanged", boom)
		e := New(g, clock.NewFake(time.Time{}), Options{TargetLabel: "Math"}, zaptest.NewLogger(t))

		out, err := e.Apply(context.Background(), g.Control(0))
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, Failed, out)
	})

	t.Run("panic is recovered", func(t *testing.T) {
		g := gridtest.New("")
		g.PanicOn("SetSelectedIndex")
		e := New(g, clock.NewFake(time.Time{}), Options{TargetLabel: "Math"}, zaptest.NewLogger(t))

		var (
			out Outcome
			err error
		)
		assert.NotPanics(t, func() { out, err = e.Apply(context.Background(), g.Control(0)) })
		assert.Error(t, err)
		assert.Equal(t, Failed, out)
	})

	t.Run("cancelled between keys", func(t *testing.T) {
		g := gridtest.New("")
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		fc := clock.NewFake(time.Time{})
		fc.OnWait = func(time.Duration) { cancel() }
		e := New(g, fc, Options{TargetLabel: "Mathematics", AdvanceRepetitions: 2}, zaptest.NewLogger(t))

		out, err := e.Apply(ctx, g.Control(0))
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, Failed, out)
		assert.Len(t, fc.Waits(), 1)
	})
}

func TestKeyScript(t *testing.T) {
	script := keyScript("m", 2)
	require.Len(t, script, 4)
	assert.Equal(t, actionSearch, script[0].kind())
	assert.Equal(t, actionAdvance, script[1].kind())
	assert.Equal(t, actionAdvance, script[2].kind())
	assert.Equal(t, actionCommit, script[3].kind())

	assert.Equal(t, actionCommit, Action{Key: grid.KeyTab}.kind())
	assert.Equal(t, actionIgnore, Action{Key: grid.KeyEscape}.kind())
	assert.Equal(t, actionIgnore, Action{Key: ""}.kind())
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "selected", Selected.String())
	assert.Equal(t, "fallback", FallbackUsed.String())
	assert.Equal(t, "failed", Failed.String())
}
