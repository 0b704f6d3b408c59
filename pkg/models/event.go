package models

import "time"

// EventType classifies an intelligence event.
type EventType string

// Intelligence event types.
const (
	EventTypeNew         EventType = "NEW"
	EventTypeReactivated EventType = "REACTIVATED"
	EventTypeDisappeared EventType = "DISAPPEARED"
)

// IntelEvent is one append-only intelligence event. NEW is emitted at most
// once per (actor, technique) lifetime; REACTIVATED and DISAPPEARED on each
// active-flag transition.
type IntelEvent struct {
	ID          int64     `json:"id"`
	ActorID     int64     `json:"actor_id"`
	TechniqueID int64     `json:"technique_id"`
	EventType   EventType `json:"event_type"`
	CreatedAt   time.Time `json:"created_at"`
}

// TimelineEntry is one row of an actor's event timeline, ascending by date.
type TimelineEntry struct {
	Technique string    `json:"technique"`
	Tactic    string    `json:"tactic"`
	EventType EventType `json:"event_type"`
	Date      time.Time `json:"date"`
}
