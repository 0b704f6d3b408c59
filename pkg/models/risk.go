package models

import "time"

// CountryRiskSnapshot is one point of a country's risk time series.
type CountryRiskSnapshot struct {
	ID             int64     `json:"id"`
	Country        string    `json:"country"`
	RiskScore      float64   `json:"risk_score"`
	TechniqueCount int       `json:"technique_count"`
	ActorCount     int       `json:"actor_count"`
	CreatedAt      time.Time `json:"created_at"`
}

// TechniqueRisk is the computed risk contribution of one technique among a
// country's active actors.
type TechniqueRisk struct {
	TechniqueID     int64   `json:"technique_id"`
	Code            string  `json:"code"`
	Name            string  `json:"name"`
	Adoption        int     `json:"adoption"`
	New7d           int     `json:"new_7d"`
	Reactivated7d   int     `json:"reactivated_7d"`
	PersistenceDays float64 `json:"persistence_days"`
	RiskScore       float64 `json:"risk_score"`
}
