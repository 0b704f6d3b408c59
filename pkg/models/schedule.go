package models

import "time"

// ScheduleConfig is the collector scheduler's singleton row. Days is a
// comma-joined list of lowercase weekday keys (mon..sun). Running and
// LockUntil implement the cross-process execution lease.
type ScheduleConfig struct {
	ID        int64      `json:"id"`
	TimeHHMM  string     `json:"time_hhmm"`
	Days      string     `json:"days"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at"`
	Running   bool       `json:"running"`
	LockUntil *time.Time `json:"lock_until"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// MitreSyncConfig is the MITRE sync scheduler's singleton row.
type MitreSyncConfig struct {
	ID        int64      `json:"id"`
	DayOfWeek string     `json:"day_of_week"`
	TimeHHMM  string     `json:"time_hhmm"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at"`
	Running   bool       `json:"running"`
	LockUntil *time.Time `json:"lock_until"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// ScheduleResponse is the collector schedule as exposed by the API
type ScheduleResponse struct {
	TimeHHMM  string     `json:"time_hhmm"`
	Days      []string   `json:"days"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at"`
}

// UpdateScheduleRequest contains optional collector schedule changes
type UpdateScheduleRequest struct {
	TimeHHMM *string  `json:"time_hhmm,omitempty"`
	Days     []string `json:"days,omitempty"`
	Enabled  *bool    `json:"enabled,omitempty"`
}

// MitreScheduleResponse is the MITRE sync schedule as exposed by the API
type MitreScheduleResponse struct {
	DayOfWeek string     `json:"day_of_week"`
	TimeHHMM  string     `json:"time_hhmm"`
	Enabled   bool       `json:"enabled"`
	LastRunAt *time.Time `json:"last_run_at"`
}

// UpdateMitreScheduleRequest contains optional MITRE schedule changes
type UpdateMitreScheduleRequest struct {
	DayOfWeek *string `json:"day_of_week,omitempty"`
	TimeHHMM  *string `json:"time_hhmm,omitempty"`
	Enabled   *bool   `json:"enabled,omitempty"`
}
