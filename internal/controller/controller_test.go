package controller

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/v0xg/gridfill/internal/clock"
	"github.com/v0xg/gridfill/internal/config"
	"github.com/v0xg/gridfill/internal/grid"
	"github.com/v0xg/gridfill/internal/grid/gridtest"
	"github.com/v0xg/gridfill/internal/notify"
	"github.com/v0xg/gridfill/internal/resolver"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recording observes a controller and checks the session invariant on every action.
type recording struct {
	t    *testing.T
	ctrl *Controller

	mu      sync.Mutex
	rows    []int
	results []Result
}

func (r *recording) ActionApplied(_ context.Context, ev ActionEvent) {
	st := r.ctrl.Status()
	if st.Session != nil && st.Session.Running {
		assert.NotNil(r.t, st.Session.Current, "running session without a current control")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, ev.Row)
}

func (r *recording) SessionEnded(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
}

func (r *recording) Rows() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.rows...)
}

type fixture struct {
	grid    *gridtest.Grid
	clock   *clock.Fake
	ctrl    *Controller
	obs     *recording
	notices *notify.Recorder
	cfg     config.AutomationConfig
}

func newFixture(t *testing.T, clk clock.Clock, values ...string) *fixture {
	t.Helper()
	f := &fixture{
		grid:    gridtest.New(values...),
		notices: &notify.Recorder{},
		cfg:     config.NewDefaultConfig().Automation,
	}
	if clk == nil {
		f.clock = clock.NewFake(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
		clk = f.clock
	}
	f.obs = &recording{t: t}
	f.ctrl = New(f.grid, clk, Options{
		Column:     "subject",
		Automation: f.cfg,
		Notifier:   f.notices,
		Observers:  []Observer{f.obs},
	}, zaptest.NewLogger(t))
	f.obs.ctrl = f.ctrl
	return f
}

func at(row int) grid.ElementHint {
	return grid.ElementHint{RowIndex: &row, ColumnID: "subject"}
}

func TestStopsAtBoundaryRow(t *testing.T) {
	f := newFixture(t, nil, "", "", "", "X", "")

	f.ctrl.Start(context.Background(), at(0), ModeAuto)
	res := f.ctrl.Wait()

	require.NoError(t, res.Err)
	assert.Equal(t, Completed, res.Reason)
	assert.Equal(t, 3, res.Actions)
	assert.Equal(t, 2, res.Cycles)
	assert.Equal(t, []string{"Math", "Math", "Math", "X", ""}, f.grid.Values())
	assert.Equal(t, []int{0, 1, 2}, f.obs.Rows())
	assert.Zero(t, f.grid.ScrollCalls, "a boundary row must not trigger scrolling")

	important := f.notices.Important()
	require.Len(t, important, 1)
	assert.Equal(t, notify.SeveritySuccess, important[0].Severity)
	assert.Equal(t, f.cfg.CompletedDismiss, important[0].DismissAfter)
	assert.Equal(t, res.SessionID, important[0].SessionID)

	st := f.ctrl.Status()
	assert.Equal(t, Idle, st.State)
	assert.Nil(t, st.Session)
	require.NotNil(t, st.Last)
	assert.Equal(t, res.SessionID, st.Last.SessionID)
}

func TestSkipsRowsAlreadySet(t *testing.T) {
	f := newFixture(t, nil, "Math", "Math", "")

	f.ctrl.Start(context.Background(), at(0), ModeAuto)
	res := f.ctrl.Wait()

	assert.Equal(t, Completed, res.Reason)
	assert.Equal(t, 1, res.Actions)
	assert.Equal(t, []int{2}, f.obs.Rows())
	assert.Equal(t, []string{"Math", "Math", "Math"}, f.grid.Values())
}

func TestDelays(t *testing.T) {
	f := newFixture(t, nil, "", "", "X")

	f.ctrl.Start(context.Background(), at(0), ModeAuto)
	f.ctrl.Wait()

	a, c := f.cfg.ActionDelay, f.cfg.CycleDelay
	assert.Equal(t, []time.Duration{a, c, a}, f.clock.Waits())
}

func TestScrollRecovery(t *testing.T) {
	t.Run("row appears after scrolling", func(t *testing.T) {
		f := newFixture(t, nil, "", "", "")
		f.grid.Render(0, 2)
		f.grid.Scrollable = true

		f.ctrl.Start(context.Background(), at(0), ModeAuto)
		res := f.ctrl.Wait()

		assert.Equal(t, Completed, res.Reason)
		assert.Equal(t, 3, res.Actions)
		assert.Equal(t, []string{"Math", "Math", "Math"}, f.grid.Values())
		assert.Equal(t, []int{0, 1, 2}, f.obs.Rows())
		// one recovery to reach row 2, one more before concluding
		assert.Equal(t, 2, f.grid.ScrollCalls)
		assert.Contains(t, f.clock.Waits(), f.cfg.ScrollSettleDelay)
	})

	t.Run("row stays absent", func(t *testing.T) {
		f := newFixture(t, nil, "", "")
		f.grid.Scrollable = true

		f.ctrl.Start(context.Background(), at(0), ModeAuto)
		res := f.ctrl.Wait()

		assert.Equal(t, Completed, res.Reason)
		assert.Equal(t, 2, res.Actions)
		assert.Equal(t, 1, f.grid.ScrollCalls)
	})

	t.Run("no viewport", func(t *testing.T) {
		f := newFixture(t, nil, "", "")

		f.ctrl.Start(context.Background(), at(0), ModeAuto)
		res := f.ctrl.Wait()

		assert.Equal(t, Completed, res.Reason)
		assert.Equal(t, 1, f.grid.ScrollCalls)
		assert.NotContains(t, f.clock.Waits(), f.cfg.ScrollSettleDelay)
	})

	t.Run("scroll error is fatal", func(t *testing.T) {
		f := newFixture(t, nil, "")
		f.grid.FailOn("ScrollBy", errors.New("viewport vanished"))

		f.ctrl.Start(context.Background(), at(0), ModeAuto)
		res := f.ctrl.Wait()

		assert.Equal(t, Fatal, res.Reason)
		assert.ErrorContains(t, res.Err, "viewport vanished")
	})
}

func TestCancellation(t *testing.T) {
	t.Run("stop key during the action delay", func(t *testing.T) {
		f := newFixture(t, nil, "", "", "")
		var once sync.Once
		f.clock.OnWait = func(time.Duration) {
			once.Do(func() {
				assert.False(t, f.ctrl.HandleKey("Enter"))
				assert.True(t, f.ctrl.HandleKey("escape"))
			})
		}

		f.ctrl.Start(context.Background(), at(0), ModeAuto)
		res := f.ctrl.Wait()

		assert.Equal(t, Cancelled, res.Reason)
		assert.NoError(t, res.Err)
		assert.Equal(t, 1, res.Actions)
		assert.Equal(t, []string{"Math", "", ""}, f.grid.Values())
		assert.Len(t, f.clock.Waits(), 1)

		important := f.notices.Important()
		require.Len(t, important, 1)
		assert.Equal(t, notify.SeverityInfo, important[0].Severity)
		assert.Equal(t, f.cfg.StoppedDismiss, important[0].DismissAfter)
		assert.False(t, f.ctrl.HandleKey("Escape"), "no session left to stop")
	})

	t.Run("stop while waiting", func(t *testing.T) {
		gate := newGateClock()
		f := newFixture(t, gate, "", "", "")

		f.ctrl.Start(context.Background(), at(0), ModeAuto)
		<-gate.entered
		assert.Equal(t, Running, f.ctrl.Status().State)

		f.ctrl.Stop()
		assert.Equal(t, Idle, f.ctrl.Status().State)
		res := f.ctrl.Wait()
		assert.Equal(t, Cancelled, res.Reason)
		assert.Equal(t, []string{"Math", "", ""}, f.grid.Values())

		f.ctrl.Stop()
	})

	t.Run("caller context cancellation does not stop the session", func(t *testing.T) {
		f := newFixture(t, nil, "", "X")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		f.ctrl.Start(ctx, at(0), ModeAuto)
		res := f.ctrl.Wait()
		assert.Equal(t, Completed, res.Reason)
		assert.Equal(t, 1, res.Actions)
	})
}

func TestStartReplacesRunningSession(t *testing.T) {
	gate := newGateClock()
	f := newFixture(t, gate, "", "", "")

	first := f.ctrl.Start(context.Background(), at(0), ModeAuto)
	<-gate.entered
	second := f.ctrl.Start(context.Background(), at(1), ModeAuto)
	assert.NotEqual(t, first, second)

	f.obs.mu.Lock()
	require.Len(t, f.obs.results, 1, "first session must be torn down before Start returns")
	assert.Equal(t, first, f.obs.results[0].SessionID)
	assert.Equal(t, Cancelled, f.obs.results[0].Reason)
	f.obs.mu.Unlock()

	<-gate.entered
	st := f.ctrl.Status()
	require.NotNil(t, st.Session)
	assert.Equal(t, second, st.Session.ID)
	assert.True(t, st.Session.Running)
	assert.Equal(t, 1, st.Session.StartRow)

	f.ctrl.Stop()
	assert.Equal(t, second, f.ctrl.Wait().SessionID)
}

func TestSingleMode(t *testing.T) {
	f := newFixture(t, nil, "", "", "")

	f.ctrl.Start(context.Background(), at(1), ModeSingle)
	res := f.ctrl.Wait()

	assert.Equal(t, Completed, res.Reason)
	assert.Equal(t, 1, res.Actions)
	assert.Equal(t, []string{"", "Math", ""}, f.grid.Values())
	assert.Empty(t, f.clock.Waits())
}

func TestFatalStops(t *testing.T) {
	t.Run("unresolvable start", func(t *testing.T) {
		f := newFixture(t, nil, "")

		f.ctrl.Start(context.Background(), grid.ElementHint{}, ModeAuto)
		res := f.ctrl.Wait()

		assert.Equal(t, Fatal, res.Reason)
		assert.ErrorIs(t, res.Err, resolver.ErrNotFound)
		assert.Empty(t, f.obs.Rows())

		important := f.notices.Important()
		require.Len(t, important, 1)
		assert.Equal(t, notify.SeverityError, important[0].Severity)
		assert.Equal(t, f.cfg.StoppedDismiss, important[0].DismissAfter)
	})

	t.Run("missing sub-control", func(t *testing.T) {
		f := newFixture(t, nil, "", "", "")
		f.grid.RemoveControl(1)

		f.ctrl.Start(context.Background(), at(0), ModeAuto)
		res := f.ctrl.Wait()

		assert.Equal(t, Fatal, res.Reason)
		assert.Equal(t, 1, res.Actions)
		assert.ErrorContains(t, res.Err, "no subject control")
	})

	t.Run("executor failure", func(t *testing.T) {
		f := newFixture(t, nil, "", "")
		f.grid.FailOn("SetSelectedIndex", errors.New("read only"))

		f.ctrl.Start(context.Background(), at(0), ModeAuto)
		res := f.ctrl.Wait()

		assert.Equal(t, Fatal, res.Reason)
		assert.Zero(t, res.Actions)
		assert.ErrorContains(t, res.Err, "read only")
	})
}

func TestDetachedControlRescue(t *testing.T) {
	t.Run("similar control found", func(t *testing.T) {
		f := newFixture(t, nil, "", "", "")
		var once sync.Once
		f.clock.OnWait = func(d time.Duration) {
			if d == f.cfg.CycleDelay {
				once.Do(func() { f.grid.Recycle(1) })
			}
		}

		f.ctrl.Start(context.Background(), at(0), ModeAuto)
		res := f.ctrl.Wait()

		require.NoError(t, res.Err)
		assert.Equal(t, Completed, res.Reason)
		assert.Equal(t, []string{"Math", "Math", "Math"}, f.grid.Values())
	})

	t.Run("nothing similar", func(t *testing.T) {
		f := newFixture(t, nil, "", "", "")
		var once sync.Once
		f.clock.OnWait = func(d time.Duration) {
			if d == f.cfg.CycleDelay {
				once.Do(func() {
					f.grid.RemoveControl(1)
					f.grid.FailOn("FindAllOfKind", errors.New("page gone"))
				})
			}
		}

		f.ctrl.Start(context.Background(), at(0), ModeAuto)
		res := f.ctrl.Wait()

		assert.Equal(t, Fatal, res.Reason)
		assert.ErrorIs(t, res.Err, resolver.ErrNotFound)
		assert.Equal(t, 1, res.Actions)
	})
}

func TestDetachedControlKeepsRowOrder(t *testing.T) {
	tests := []struct {
		name       string
		values     []string
		start      int
		disturb    func(g *gridtest.Grid)
		wantReason Reason
		wantErr    error
		wantRows   []int
		wantValues []string
	}{
		{
			name:       "re-rendered row is found again",
			values:     []string{"", "", "", "", ""},
			start:      2,
			disturb:    func(g *gridtest.Grid) { g.Recycle(3) },
			wantReason: Completed,
			wantRows:   []int{2, 3, 4},
			wantValues: []string{"", "", "Math", "Math", "Math"},
		},
		{
			name:   "rows above the start stay untouched",
			values: []string{"", "", "", ""},
			start:  2,
			disturb: func(g *gridtest.Grid) {
				g.RemoveControl(3)
			},
			wantReason: Fatal,
			wantErr:    ErrRescueRejected,
			wantRows:   []int{2},
			wantValues: []string{"", "", "Math", ""},
		},
		{
			name:   "similar control further down is accepted",
			values: []string{"", "", "", ""},
			start:  1,
			disturb: func(g *gridtest.Grid) {
				g.Recycle(2)
				g.Render(3, 4)
			},
			wantReason: Completed,
			wantRows:   []int{1, 3},
			wantValues: []string{"", "Math", "", "Math"},
		},
		{
			name:   "similar control outside the subject column",
			values: []string{"", "", ""},
			start:  1,
			disturb: func(g *gridtest.Grid) {
				g.Render(0, 0)
				g.Add(&gridtest.Node{
					Tag:    "select",
					Kind:   grid.KindOptionList,
					Bounds: grid.Rect{X: 300, Y: 0, Width: 120, Height: 24},
					Options: []grid.Option{
						{Index: 0, Label: ""},
						{Index: 1, Label: "Math", Value: "math"},
					},
				})
			},
			wantReason: Fatal,
			wantErr:    ErrRescueRejected,
			wantRows:   []int{1},
			wantValues: []string{"", "Math", ""},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil, tt.values...)
			var once sync.Once
			f.clock.OnWait = func(d time.Duration) {
				if d == f.cfg.CycleDelay {
					once.Do(func() { tt.disturb(f.grid) })
				}
			}

			f.ctrl.Start(context.Background(), at(tt.start), ModeAuto)
			res := f.ctrl.Wait()

			assert.Equal(t, tt.wantReason, res.Reason)
			if tt.wantErr != nil {
				assert.ErrorIs(t, res.Err, tt.wantErr)
			} else {
				assert.NoError(t, res.Err)
			}
			assert.Equal(t, tt.wantRows, f.obs.Rows())
			assert.Equal(t, tt.wantValues, f.grid.Values())
		})
	}
}

func TestConfigure(t *testing.T) {
	f := newFixture(t, nil, "", "", "")
	label := "Art"
	var once sync.Once
	f.clock.OnWait = func(d time.Duration) {
		if d == f.cfg.CycleDelay {
			once.Do(func() {
				assert.NoError(t, f.ctrl.Configure(config.AutomationPatch{TargetLabel: &label}))
			})
		}
	}

	f.ctrl.Start(context.Background(), at(0), ModeAuto)
	f.ctrl.Wait()

	assert.Equal(t, []string{"Math", "Art", "Art"}, f.grid.Values())
	assert.Equal(t, "Art", f.ctrl.Config().TargetLabel)

	empty := " "
	assert.Error(t, f.ctrl.Configure(config.AutomationPatch{TargetLabel: &empty}))
	assert.Equal(t, "Art", f.ctrl.Config().TargetLabel)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeAuto, m)

	m, err = ParseMode(" Single ")
	require.NoError(t, err)
	assert.Equal(t, ModeSingle, m)

	_, err = ParseMode("burst")
	assert.Error(t, err)
}

func TestResultJSON(t *testing.T) {
	data, err := json.Marshal(Result{SessionID: "s", Reason: Fatal, Actions: 2, Err: errors.New("boom"), Duration: 1500 * time.Millisecond})
	require.NoError(t, err)
	assert.JSONEq(t, `{"sessionId":"s","reason":"fatal","actions":2,"cycles":0,"error":"boom","durationMs":1500}`, string(data))
}

// gateClock blocks every Wait until the context is cancelled and signals each entry.
type gateClock struct {
	entered chan struct{}
}

func newGateClock() *gateClock {
	return &gateClock{entered: make(chan struct{}, 1)}
}

func (g *gateClock) Now() time.Time { return time.Unix(0, 0) }

func (g *gateClock) Wait(ctx context.Context, _ time.Duration) error {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return ctx.Err()
}
