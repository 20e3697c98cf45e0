package session

import "time"

// Event types published on the registry's session bus.
const (
	EventCreated      = "session_created"
	EventRenamed      = "session_renamed"
	EventStateChanged = "session_state"
	EventConfigSaved  = "session_config"
	EventDeleted      = "session_deleted"
)

// Event announces a session lifecycle change.
type Event struct {
	EventType  string    `json:"type"`
	SessionID  string    `json:"sessionId"`
	Name       string    `json:"name"`
	State      string    `json:"state"`
	OccurredAt time.Time `json:"occurredAt"`
}

func NewEvent(eventType string, sessionID, name, state string) Event {
	return Event{
		EventType:  eventType,
		SessionID:  sessionID,
		Name:       name,
		State:      state,
		OccurredAt: time.Now().UTC(),
	}
}

func (e Event) Type() string { return e.EventType }

func (e Event) Timestamp() time.Time { return e.OccurredAt }

// LogBatch is one flush interval's output for one session: entries appended
// to or updated in the session log, plus how many old entries fell off the
// front to make room.
type LogBatch struct {
	SessionID  string     `json:"sessionId"`
	Entries    []LogEntry `json:"entries"`
	Evicted    int        `json:"evicted,omitempty"`
	OccurredAt time.Time  `json:"occurredAt"`
}

func (b LogBatch) Type() string { return "session_log" }

func (b LogBatch) Timestamp() time.Time { return b.OccurredAt }
