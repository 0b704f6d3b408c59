package models

import "time"

// ThreatActor is a monitored adversary. Deactivation is soft: inactive actors
// keep their technique history and can be revived by POST /actors.
type ThreatActor struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	ExternalID *string   `json:"external_id"`
	Country    string    `json:"country"`
	Aliases    *string   `json:"aliases,omitempty"`
	Source     string    `json:"source"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

// ActorResponse is a ThreatActor plus the most recent collection touch
// across its technique rows (null when the actor was never scanned).
type ActorResponse struct {
	ThreatActor
	LastScanAt *time.Time `json:"last_scan_at"`
}

// CreateActorRequest contains fields for creating (or reviving) an actor
type CreateActorRequest struct {
	Name       string  `json:"name"`
	ExternalID *string `json:"external_id,omitempty"`
	Country    string  `json:"country,omitempty"`
	Aliases    *string `json:"aliases,omitempty"`
	Source     string  `json:"source,omitempty"`
}

// UpdateActorRequest contains optional fields for a partial actor update
type UpdateActorRequest struct {
	Name       *string `json:"name,omitempty"`
	ExternalID *string `json:"external_id,omitempty"`
	Country    *string `json:"country,omitempty"`
	Aliases    *string `json:"aliases,omitempty"`
	Source     *string `json:"source,omitempty"`
}

// SetActorActiveRequest toggles the actor's active flag
type SetActorActiveRequest struct {
	Active *bool `json:"active"`
}
