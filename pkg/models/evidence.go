package models

import "time"

// TechniqueEvidence links an (actor, technique) observation to the sample
// hash that exhibited it. Populated only by the files-fallback collection
// path; rows are append-only and deduplicated on (actor, technique, hash).
type TechniqueEvidence struct {
	ID          int64     `json:"id"`
	ActorID     int64     `json:"actor_id"`
	TechniqueID int64     `json:"technique_id"`
	SampleHash  string    `json:"sample_hash"`
	Source      string    `json:"source"`
	ObservedAt  time.Time `json:"observed_at"`
}
