package gen

// Event types emitted over the generate stream, one JSON object per line.
const (
	EventLog    = "log"
	EventResult = "result"
	EventError  = "error"
)

// Event is a single life-cycle notification relayed to the caller while a
// generation request is in flight.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	TaskID  string `json:"taskId,omitempty"`
	Status  string `json:"status,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
	Model   string `json:"model,omitempty"`
}

// Sink receives life-cycle events. Implementations flush each event
// immediately so callers can render incremental status.
type Sink func(Event)

func logEvent(message string) Event {
	return Event{Type: EventLog, Message: message}
}

func errorEvent(message string) Event {
	return Event{Type: EventError, Message: message}
}
