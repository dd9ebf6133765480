package grid

// EventType names a synthetic DOM event
type EventType string

const (
	EventChange  EventType = "change"
	EventInput   EventType = "input"
	EventFocus   EventType = "focus"
	EventBlur    EventType = "blur"
	EventKeyDown EventType = "keydown"
	EventKeyUp   EventType = "keyup"
)

// Event is a synthetic notification raised on a control. Key is set for keyboard events only.
type Event struct {
	Type EventType `json:"type"`
	Key  string    `json:"key,omitempty"`
}

// Key names understood by the keyboard emulation
const (
	KeyArrowDown = "ArrowDown"
	KeyEnter     = "Enter"
	KeyTab       = "Tab"
	KeyEscape    = "Escape"
)

// ChangeEvents are raised after a value is set directly.
func ChangeEvents() []Event {
	return []Event{{Type: EventChange}, {Type: EventInput}}
}

// KeyPress returns the keydown/keyup pair for key.
func KeyPress(key string) []Event {
	return []Event{{Type: EventKeyDown, Key: key}, {Type: EventKeyUp, Key: key}}
}
