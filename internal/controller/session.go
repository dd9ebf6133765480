package controller

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/v0xg/gridfill/internal/executor"
	"github.com/v0xg/gridfill/internal/grid"
)

// State of the controller
type State int

const (
	Idle State = iota
	Resolving
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Resolving:
		return "resolving"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "unknown"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Mode selects how many rows a session handles.
type Mode string

const (
	// ModeAuto walks the grid until no eligible row is left.
	ModeAuto Mode = "auto"
	// ModeSingle applies the target to the resolved control only.
	ModeSingle Mode = "single"
)

// ParseMode accepts "auto", "single" or "" (auto).
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeSingle:
		return ModeSingle, nil
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// Reason explains why a session ended.
type Reason int

const (
	// Completed is a normal stop: the grid was exhausted or a boundary row was found.
	Completed Reason = iota
	// Fatal means the session lost its control or the grid structure did not match.
	Fatal
	// Cancelled means the session was stopped from outside.
	Cancelled
)

func (r Reason) String() string {
	switch r {
	case Completed:
		return "completed"
	case Fatal:
		return "fatal"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (r Reason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Session is the state of one automation run. The loop goroutine owns it; everyone else
// sees copies.
type Session struct {
	ID         string          `json:"id"`
	Running    bool            `json:"running"`
	Mode       Mode            `json:"mode"`
	CycleCount int             `json:"cycleCount"`
	Current    grid.ControlRef `json:"-"`
	CurrentRow int             `json:"currentRow"`
	StartRow   int             `json:"startRow"`
	Column     string          `json:"column"`
	StartedAt  time.Time       `json:"startedAt"`
}

// Result summarizes a finished session.
type Result struct {
	SessionID string
	Reason    Reason
	// Actions counts rows the executor changed.
	Actions  int
	Cycles   int
	Err      error
	Duration time.Duration
}

func (r Result) MarshalJSON() ([]byte, error) {
	out := struct {
		SessionID  string `json:"sessionId"`
		Reason     Reason `json:"reason"`
		Actions    int    `json:"actions"`
		Cycles     int    `json:"cycles"`
		Error      string `json:"error,omitempty"`
		DurationMS int64  `json:"durationMs"`
	}{
		SessionID:  r.SessionID,
		Reason:     r.Reason,
		Actions:    r.Actions,
		Cycles:     r.Cycles,
		DurationMS: r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// ActionEvent describes one executor application.
type ActionEvent struct {
	SessionID string
	Row       int
	Control   grid.ControlRef
	// Bounds are the control's bounds as inspected just before the action.
	Bounds  grid.Rect
	Outcome executor.Outcome
	Err     error
}
