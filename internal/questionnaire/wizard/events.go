package wizard

import "time"

type EventKind string

const (
	EventMilestone EventKind = "milestone"
	EventFinished  EventKind = "finished"
)

// Event is published to observers of an engine; the UI uses milestones for
// encouragement messages and finished to leave the wizard.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"sessionId"`
	Ordinal   int       `json:"ordinal"`
	At        time.Time `json:"at"`
}
