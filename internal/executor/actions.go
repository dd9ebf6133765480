package executor

import (
	"unicode"
	"unicode/utf8"

	"github.com/v0xg/gridfill/internal/grid"
)

// Outcome reports how Apply changed the control
type Outcome int

const (
	// Selected means the target option was set directly.
	Selected Outcome = iota
	// FallbackUsed means keyboard emulation committed a selection.
	FallbackUsed
	// Failed means the control could not be driven.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Selected:
		return "selected"
	case FallbackUsed:
		return "fallback"
	default:
		return "failed"
	}
}

// Action is a single simulated key press against a focused option list
type Action struct {
	Key string
}

// actionType groups keys by their effect on the option list
type actionType int

const (
	actionSearch actionType = iota
	actionAdvance
	actionCommit
	actionIgnore
)

func (a Action) kind() actionType {
	switch a.Key {
	case grid.KeyArrowDown:
		return actionAdvance
	case grid.KeyEnter, grid.KeyTab:
		return actionCommit
	}
	if utf8.RuneCountInString(a.Key) == 1 {
		r, _ := utf8.DecodeRuneInString(a.Key)
		if unicode.IsPrint(r) {
			return actionSearch
		}
	}
	return actionIgnore
}

// keyScript builds the fallback key sequence: the initiating key, then the configured
// number of advances, then a commit.
func keyScript(initiatingKey string, advances int) []Action {
	script := []Action{{Key: initiatingKey}}
	for i := 0; i < advances; i++ {
		script = append(script, Action{Key: grid.KeyArrowDown})
	}
	return append(script, Action{Key: grid.KeyEnter})
}
