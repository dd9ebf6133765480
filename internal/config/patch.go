package config

import (
	"encoding/json"
	"time"
)

// AutomationPatch is a partial AutomationConfig, as sent by the host's configure message.
// Nil fields leave the current value untouched. Durations are given in milliseconds.
type AutomationPatch struct {
	TargetLabel         *string  `json:"targetLabel,omitempty"`
	InitiatingKey       *string  `json:"initiatingKey,omitempty"`
	AdvanceRepetitions  *int     `json:"advanceRepetitions,omitempty"`
	ActionDelayMS       *int64   `json:"actionDelayMs,omitempty"`
	CycleDelayMS        *int64   `json:"cycleDelayMs,omitempty"`
	ScrollIncrement     *float64 `json:"scrollIncrement,omitempty"`
	ScrollSettleDelayMS *int64   `json:"scrollSettleDelayMs,omitempty"`
	StopKey             *string  `json:"stopKey,omitempty"`
}

// Apply merges the patch into c and returns the result. c is not modified.
func (p AutomationPatch) Apply(c AutomationConfig) AutomationConfig {
	if p.TargetLabel != nil {
		c.TargetLabel = *p.TargetLabel
	}
	if p.InitiatingKey != nil {
		c.InitiatingKey = *p.InitiatingKey
	}
	if p.AdvanceRepetitions != nil {
		c.AdvanceRepetitions = *p.AdvanceRepetitions
	}
	if p.ActionDelayMS != nil {
		c.ActionDelay = ms(*p.ActionDelayMS)
	}
	if p.CycleDelayMS != nil {
		c.CycleDelay = ms(*p.CycleDelayMS)
	}
	if p.ScrollIncrement != nil {
		c.ScrollIncrement = *p.ScrollIncrement
	}
	if p.ScrollSettleDelayMS != nil {
		c.ScrollSettleDelay = ms(*p.ScrollSettleDelayMS)
	}
	if p.StopKey != nil {
		c.StopKey = *p.StopKey
	}
	return c
}

// automationJSON is the wire form of AutomationConfig.
type automationJSON struct {
	TargetLabel         string  `json:"targetLabel"`
	InitiatingKey       string  `json:"initiatingKey"`
	AdvanceRepetitions  int     `json:"advanceRepetitions"`
	ActionDelayMS       int64   `json:"actionDelayMs"`
	CycleDelayMS        int64   `json:"cycleDelayMs"`
	ScrollIncrement     float64 `json:"scrollIncrement"`
	ScrollSettleDelayMS int64   `json:"scrollSettleDelayMs"`
	StopKey             string  `json:"stopKey"`
	CompletedDismissMS  int64   `json:"completedDismissMs"`
	StoppedDismissMS    int64   `json:"stoppedDismissMs"`
}

func (c AutomationConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(automationJSON{
		TargetLabel:         c.TargetLabel,
		InitiatingKey:       c.InitiatingKey,
		AdvanceRepetitions:  c.AdvanceRepetitions,
		ActionDelayMS:       c.ActionDelay.Milliseconds(),
		CycleDelayMS:        c.CycleDelay.Milliseconds(),
		ScrollIncrement:     c.ScrollIncrement,
		ScrollSettleDelayMS: c.ScrollSettleDelay.Milliseconds(),
		StopKey:             c.StopKey,
		CompletedDismissMS:  c.CompletedDismiss.Milliseconds(),
		StoppedDismissMS:    c.StoppedDismiss.Milliseconds(),
	})
}

func (c *AutomationConfig) UnmarshalJSON(data []byte) error {
	var w automationJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = AutomationConfig{
		TargetLabel:        w.TargetLabel,
		InitiatingKey:      w.InitiatingKey,
		AdvanceRepetitions: w.AdvanceRepetitions,
		ActionDelay:        ms(w.ActionDelayMS),
		CycleDelay:         ms(w.CycleDelayMS),
		ScrollIncrement:    w.ScrollIncrement,
		ScrollSettleDelay:  ms(w.ScrollSettleDelayMS),
		StopKey:            w.StopKey,
		CompletedDismiss:   ms(w.CompletedDismissMS),
		StoppedDismiss:     ms(w.StoppedDismissMS),
	}
	return nil
}

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }
