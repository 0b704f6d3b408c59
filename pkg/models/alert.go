package models

import "time"

// Severity grades an alert.
type Severity string

// Alert severities.
const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// Alert is an operator-facing notification. Actor and technique are nil for
// alerts not tied to a single pair (risk-change alerts).
type Alert struct {
	ID          int64     `json:"id"`
	ActorID     *int64    `json:"actor_id"`
	TechniqueID *int64    `json:"technique_id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	CreatedAt   time.Time `json:"created_at"`
}

// AlertState is the debouncer's memory: the last time an alert was emitted
// for a given (actor, technique, event_type) triple.
type AlertState struct {
	ID          int64
	ActorID     int64
	TechniqueID int64
	EventType   EventType
	LastAlertAt time.Time
}

// AlertThresholds is the confirmation rule in force for a technique,
// with the reason it was selected (watchlist, tactic_override, default).
type AlertThresholds struct {
	MinSightings    int    `json:"min_sightings"`
	MinDistinctDays int    `json:"min_distinct_days"`
	Reason          string `json:"reason"`
}

// AlertDetail is an alert enriched for the operator list: names, the pair's
// current counters, the thresholds in force, the latest event type at or
// before the alert, and up to three newest evidence hashes.
type AlertDetail struct {
	ID             int64            `json:"id"`
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Severity       Severity         `json:"severity"`
	CreatedAt      time.Time        `json:"created_at"`
	Actor          string           `json:"actor,omitempty"`
	Technique      string           `json:"technique,omitempty"`
	TechniqueName  string           `json:"technique_name,omitempty"`
	Tactic         string           `json:"tactic,omitempty"`
	SightingsCount *int             `json:"sightings_count,omitempty"`
	SeenDaysCount  *int             `json:"seen_days_count,omitempty"`
	Thresholds     *AlertThresholds `json:"thresholds,omitempty"`
	LastEventType  EventType        `json:"last_event_type,omitempty"`
	Evidence       []string         `json:"evidence,omitempty"`
}
