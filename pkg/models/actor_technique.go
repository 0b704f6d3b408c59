package models

import "time"

// ActorTechnique is the presence record for one (actor, technique) pair.
//
// Invariants maintained by the reconciliation engine:
// first_seen <= last_seen <= last_collected; seen_days_count <=
// sightings_count; NewAlertSent is write-once true (nil marks a legacy row
// created before confirmation tracking existed).
type ActorTechnique struct {
	ID             int64     `json:"id"`
	ActorID        int64     `json:"actor_id"`
	TechniqueID    int64     `json:"technique_id"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	LastCollected  time.Time `json:"last_collected"`
	Active         bool      `json:"active"`
	SightingsCount int       `json:"sightings_count"`
	SeenDaysCount  int       `json:"seen_days_count"`
	NewAlertSent   *bool     `json:"new_alert_sent"`
}
