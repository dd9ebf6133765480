package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/v0xg/gridfill/internal/clock"
	"github.com/v0xg/gridfill/internal/config"
	"github.com/v0xg/gridfill/internal/executor"
	"github.com/v0xg/gridfill/internal/grid"
	"github.com/v0xg/gridfill/internal/navigator"
	"github.com/v0xg/gridfill/internal/notify"
	"github.com/v0xg/gridfill/internal/resolver"
	"github.com/v0xg/gridfill/internal/scroll"
)

// ErrRescueRejected reports that the only control found to replace a detached one sits before
// the current row or outside the subject column.
var ErrRescueRejected = errors.New("controller: replacement control is outside the rows left to fill")

// Observer is told about every action and about the end of every session. Calls come from
// the session goroutine, in order.
type Observer interface {
	ActionApplied(ctx context.Context, ev ActionEvent)
	SessionEnded(res Result)
}

// Options configures a Controller
type Options struct {
	// Column is the subject column id.
	Column     string
	Automation config.AutomationConfig
	Notifier   notify.Notifier
	Observers  []Observer
}

// Status is a point-in-time copy of the controller state.
type Status struct {
	State   State                   `json:"state"`
	Session *Session                `json:"session,omitempty"`
	Config  config.AutomationConfig `json:"config"`
	Last    *Result                 `json:"last,omitempty"`
}

// Controller runs automation sessions against a grid, one at a time.
type Controller struct {
	grid      grid.Accessor
	clock     clock.Clock
	column    string
	notifier  notify.Notifier
	observers []Observer
	logger    *zap.Logger

	// lifecycle serializes Start and Stop so that tearing down one session and installing
	// the next cannot interleave with another caller.
	lifecycle sync.Mutex

	mu      sync.Mutex
	cfg     config.AutomationConfig
	state   State
	session Session
	last    *Result
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a Controller
func New(g grid.Accessor, clk clock.Clock, opts Options, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.Discard
	}
	return &Controller{
		grid:      g,
		clock:     clk,
		column:    opts.Column,
		notifier:  opts.Notifier,
		observers: opts.Observers,
		logger:    logger.Named("controller"),
		cfg:       opts.Automation,
	}
}

// Start tears down any running session and begins a new one from the control matching hint.
// It returns as soon as the session goroutine is launched; resolution failures are reported
// through the session result and notices. The session outlives ctx's cancellation but
// keeps its values.
func (c *Controller) Start(ctx context.Context, hint grid.ElementHint, mode Mode) string {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.teardown()

	if mode == "" {
		mode = ModeAuto
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	sess := Session{
		ID:         uuid.NewString(),
		Mode:       mode,
		Column:     c.column,
		StartRow:   -1,
		CurrentRow: -1,
		StartedAt:  c.clock.Now(),
	}

	c.mu.Lock()
	c.state = Resolving
	c.session = sess
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	c.logger.Info("session starting", zap.String("session", sess.ID), zap.String("mode", string(mode)))
	go c.run(runCtx, sess, hint, done)
	return sess.ID
}

// Stop cancels the running session, if any, and waits for it to finish. It is idempotent.
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	c.teardown()
}

func (c *Controller) teardown() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	if cancel != nil && c.state != Idle {
		c.state = Stopping
	}
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// HandleKey cancels the running session when key is the configured stop key. It does not
// wait for the session to wind down, so it is safe to call from any goroutine, including
// callbacks running inside the session. It reports whether the key was consumed.
func (c *Controller) HandleKey(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil || c.state == Idle {
		return false
	}
	if grid.Normalize(key) == "" || grid.Normalize(key) != grid.Normalize(c.cfg.StopKey) {
		return false
	}
	c.logger.Info("stop key pressed", zap.String("key", key))
	c.state = Stopping
	c.cancel()
	return true
}

// Configure merges patch into the active configuration. Running sessions pick it up at
// their next cycle.
func (c *Controller) Configure(patch config.AutomationPatch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := patch.Apply(c.cfg)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	c.cfg = next
	return nil
}

// Config returns the active configuration
func (c *Controller) Config() config.AutomationConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// Status returns a copy of the controller state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{State: c.state, Config: c.cfg}
	if c.state != Idle {
		sess := c.session
		st.Session = &sess
	}
	if c.last != nil {
		last := *c.last
		st.Last = &last
	}
	return st
}

// Wait blocks until the most recently started session has ended and returns its result.
// Without any session it returns the zero Result immediately.
func (c *Controller) Wait() Result {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		return Result{}
	}
	return *c.last
}

// Done is closed when the most recently started session ends. It is nil before the first Start.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

// engine holds the per-cycle components built from one configuration snapshot.
type engine struct {
	cfg       config.AutomationConfig
	resolver  *resolver.Resolver
	navigator *navigator.Navigator
	executor  *executor.Executor
	scroll    *scroll.Strategy
}

func (c *Controller) engine() engine {
	c.mu.Lock()
	cfg := c.cfg
	c.mu.Unlock()

	return engine{
		cfg:       cfg,
		resolver:  resolver.New(c.grid, resolver.Options{TargetLabel: cfg.TargetLabel}, c.logger),
		navigator: navigator.New(c.grid, navigator.Options{Column: c.column, TargetLabel: cfg.TargetLabel}, c.logger),
		executor: executor.New(c.grid, c.clock, executor.Options{
			TargetLabel:        cfg.TargetLabel,
			InitiatingKey:      cfg.InitiatingKey,
			AdvanceRepetitions: cfg.AdvanceRepetitions,
			ActionDelay:        cfg.ActionDelay,
		}, c.logger),
		scroll: scroll.New(c.grid, c.clock, scroll.Options{
			Increment:   cfg.ScrollIncrement,
			SettleDelay: cfg.ScrollSettleDelay,
		}, c.logger),
	}
}

func (c *Controller) update(fn func(s *Session)) Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(&c.session)
	return c.session
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Stopping {
		c.state = s
	}
}

func (c *Controller) run(ctx context.Context, sess Session, hint grid.ElementHint, done chan struct{}) {
	defer close(done)

	logger := c.logger.With(zap.String("session", sess.ID))
	res := Result{SessionID: sess.ID}
	reason, err := c.drive(ctx, sess, hint, &res, logger)
	res.Reason, res.Err = reason, err
	res.Duration = c.clock.Now().Sub(sess.StartedAt)

	c.mu.Lock()
	res.Cycles = c.session.CycleCount
	c.session = Session{}
	c.state = Idle
	c.last = &res
	c.cancel = nil
	c.mu.Unlock()

	logger.Info("session ended",
		zap.Stringer("reason", res.Reason),
		zap.Int("actions", res.Actions),
		zap.Int("cycles", res.Cycles),
		zap.Duration("duration", res.Duration),
		zap.Error(res.Err))
	c.notifier.Notify(c.finalNotice(res))
	for _, o := range c.observers {
		o.SessionEnded(res)
	}
}

// drive runs resolution and the cycle loop. It returns the stop reason and, for fatal
// stops, the cause.
func (c *Controller) drive(ctx context.Context, sess Session, hint grid.ElementHint, res *Result, logger *zap.Logger) (Reason, error) {
	eng := c.engine()
	resolution, err := eng.resolver.Resolve(ctx, hint)
	if ctx.Err() != nil {
		return Cancelled, nil
	}
	if err != nil {
		return Fatal, fmt.Errorf("resolving start control: %w", err)
	}

	row := eng.navigator.RowIndex(ctx, resolution.Control)
	sess = c.update(func(s *Session) {
		s.Running = true
		s.Current = resolution.Control
		s.StartRow = row
		s.CurrentRow = row
	})
	c.setState(Running)
	logger.Info("start control resolved", zap.String("strategy", resolution.Strategy), zap.Int("row", row))
	c.notify(sess.ID, notify.SeverityInfo, false, fmt.Sprintf("started at row %d (%s)", row, resolution.Strategy))

	for {
		if ctx.Err() != nil {
			return Cancelled, nil
		}
		eng = c.engine()

		next, reason, err := c.cycle(ctx, eng, sess, res, logger)
		if err != nil || next == nil {
			if ctx.Err() != nil {
				return Cancelled, nil
			}
			return reason, err
		}

		nextRow := eng.navigator.RowIndex(ctx, next)
		sess = c.update(func(s *Session) {
			s.Current = next
			s.CurrentRow = nextRow
			s.CycleCount++
		})
		logger.Debug("advanced", zap.Int("row", nextRow), zap.Int("cycle", sess.CycleCount))

		if err := c.clock.Wait(ctx, eng.cfg.CycleDelay); err != nil {
			return Cancelled, nil
		}
	}
}

// cycle is one Running step. It returns the next control, or nil with the reason the
// session has to stop.
func (c *Controller) cycle(ctx context.Context, eng engine, sess Session, res *Result, logger *zap.Logger) (grid.ControlRef, Reason, error) {
	current, row := sess.Current, sess.CurrentRow

	st, err := c.grid.Inspect(ctx, current)
	if err != nil && !errors.Is(err, grid.ErrDetached) {
		return nil, Fatal, fmt.Errorf("inspecting row %d: %w", row, err)
	}
	if err != nil || !st.Attached {
		current, row, err = c.rescue(ctx, eng, row, logger)
		if err != nil {
			return nil, Fatal, err
		}
		sess = c.update(func(s *Session) {
			s.Current = current
			s.CurrentRow = row
		})
		if st, err = c.grid.Inspect(ctx, current); err != nil {
			return nil, Fatal, fmt.Errorf("inspecting rescued control: %w", err)
		}
	}

	if grid.Classify(st, eng.cfg.TargetLabel) == grid.RowTargetAlreadySet {
		logger.Debug("row already holds the target", zap.Int("row", row))
		if sess.Mode == ModeSingle {
			return nil, Completed, nil
		}
	} else {
		outcome, err := eng.executor.Apply(ctx, current)
		ev := ActionEvent{SessionID: sess.ID, Row: row, Control: current, Bounds: st.Bounds, Outcome: outcome, Err: err}
		for _, o := range c.observers {
			o.ActionApplied(ctx, ev)
		}
		if outcome == executor.Failed {
			if ctx.Err() != nil {
				return nil, Cancelled, ctx.Err()
			}
			return nil, Fatal, fmt.Errorf("applying %q at row %d: %w", eng.cfg.TargetLabel, row, err)
		}
		res.Actions++
		logger.Debug("row set", zap.Int("row", row), zap.Stringer("outcome", outcome))
		c.notify(sess.ID, notify.SeverityInfo, false, fmt.Sprintf("row %d set to %s", row, eng.cfg.TargetLabel))

		if sess.Mode == ModeSingle {
			return nil, Completed, nil
		}
		if err := c.clock.Wait(ctx, eng.cfg.ActionDelay); err != nil {
			return nil, Cancelled, err
		}
	}

	next, err := c.findNext(ctx, eng, current, row)
	if errors.Is(err, navigator.ErrRowAbsent) {
		outcome, serr := eng.scroll.Attempt(ctx)
		if ctx.Err() != nil {
			return nil, Cancelled, ctx.Err()
		}
		if serr != nil {
			return nil, Fatal, serr
		}
		if outcome == scroll.Unavailable {
			logger.Debug("no rendered row left and nothing to scroll", zap.Int("row", row))
			return nil, Completed, nil
		}
		next, err = c.findNext(ctx, eng, current, row)
		if errors.Is(err, navigator.ErrRowAbsent) {
			logger.Debug("still no row after scrolling", zap.Int("row", row))
			return nil, Completed, nil
		}
	}
	switch {
	case err == nil:
		return next, Completed, nil
	case errors.Is(err, navigator.ErrEndOfWork):
		return nil, Completed, nil
	default:
		return nil, Fatal, err
	}
}

// rescue replaces a detached current control. The row index survives re-rendering, so the
// row is looked up again first. A similar control is accepted only in the subject column and
// never before row, so rows are still visited in increasing order.
func (c *Controller) rescue(ctx context.Context, eng engine, row int, logger *zap.Logger) (grid.ControlRef, int, error) {
	if row >= 0 {
		if ctl, err := c.grid.FindControlAt(ctx, row, c.column); err == nil {
			if st, err := c.grid.Inspect(ctx, ctl); err == nil && st.Attached {
				logger.Debug("current control re-rendered, found it again", zap.Int("row", row))
				return ctl, row, nil
			}
		}
	}

	logger.Debug("current control detached, looking for a similar one", zap.Int("row", row))
	ctl, err := eng.resolver.Similar(ctx)
	if err != nil {
		return nil, -1, fmt.Errorf("control at row %d detached and no similar control found: %w", row, err)
	}
	if c.column != "" {
		if col, err := c.grid.ColumnOf(ctx, ctl); err != nil || col != c.column {
			return nil, -1, fmt.Errorf("control at row %d detached and the similar control is outside column %q: %w", row, c.column, ErrRescueRejected)
		}
	}
	rescued := eng.navigator.RowIndex(ctx, ctl)
	if row >= 0 && rescued < row {
		return nil, -1, fmt.Errorf("control at row %d detached and the similar control sits at row %d: %w", row, rescued, ErrRescueRejected)
	}
	return ctl, rescued, nil
}

// findNext prefers the remembered row index over the control, which scrolling may
// have recycled.
func (c *Controller) findNext(ctx context.Context, eng engine, current grid.ControlRef, row int) (grid.ControlRef, error) {
	if row >= 0 {
		return eng.navigator.FindNextAfter(ctx, row)
	}
	return eng.navigator.FindNext(ctx, current)
}

func (c *Controller) notify(sessionID string, sev notify.Severity, important bool, msg string) {
	c.notifier.Notify(notify.Notice{
		Severity:  sev,
		Important: important,
		Message:   msg,
		SessionID: sessionID,
		Time:      c.clock.Now(),
	})
}

func (c *Controller) finalNotice(res Result) notify.Notice {
	cfg := c.Config()
	n := notify.Notice{
		Important: true,
		SessionID: res.SessionID,
		Time:      c.clock.Now(),
	}
	switch res.Reason {
	case Completed:
		n.Severity = notify.SeveritySuccess
		n.DismissAfter = cfg.CompletedDismiss
		n.Message = fmt.Sprintf("finished: %d rows set to %s", res.Actions, cfg.TargetLabel)
	case Cancelled:
		n.Severity = notify.SeverityInfo
		n.DismissAfter = cfg.StoppedDismiss
		n.Message = fmt.Sprintf("stopped after %d rows", res.Actions)
	default:
		n.Severity = notify.SeverityError
		n.DismissAfter = cfg.StoppedDismiss
		n.Message = fmt.Sprintf("stopped: %v", res.Err)
	}
	return n
}
