package pipeline

// EventType distinguishes pipeline events
type EventType string

const (
	EventStateChanged EventType = "state"
	EventProgress     EventType = "progress"
	EventRecognized   EventType = "recognized"
)

// Event is delivered to the EventSink in the order it happened.
type Event struct {
	RunID    string    `json:"runId"`
	Type     EventType `json:"type"`
	State    State     `json:"state"`
	From     State     `json:"from,omitempty"`
	Stage    string    `json:"stage,omitempty"`
	Progress float64   `json:"progress,omitempty"`
	Code     string    `json:"code,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// EventSink receives pipeline events synchronously.
type EventSink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Publish(ev Event) { f(ev) }

// Sinks fans events out to several sinks in order.
type Sinks []EventSink

func (s Sinks) Publish(ev Event) {
	for _, sink := range s {
		sink.Publish(ev)
	}
}
