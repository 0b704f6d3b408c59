package models

import "time"

// JobType identifies what a JobRun executed.
type JobType string

// Job types.
const (
	JobTypeCollector JobType = "collector"
	JobTypeActorScan JobType = "actor_scan"
	JobTypeMitreSync JobType = "mitre_sync"
)

// JobTrigger records how a JobRun was started.
type JobTrigger string

// Job triggers.
const (
	TriggerManual    JobTrigger = "manual"
	TriggerScheduler JobTrigger = "scheduler"
)

// JobStatus is a JobRun's lifecycle state.
type JobStatus string

// Job statuses.
const (
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusError   JobStatus = "ERROR"
)

// JobRun is one ledger entry for an executed job. UpdatedAt doubles as the
// progress heartbeat used by startup orphan recovery.
type JobRun struct {
	ID             string     `json:"id"`
	JobType        JobType    `json:"job_type"`
	Trigger        JobTrigger `json:"trigger"`
	Status         JobStatus  `json:"status"`
	ActorID        *int64     `json:"actor_id"`
	ActorName      *string    `json:"actor_name"`
	TotalItems     int        `json:"total_items"`
	ProcessedItems int        `json:"processed_items"`
	Details        *string    `json:"details"`
	Error          *string    `json:"error"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// JobResponse is a JobRun with the completion percentage computed on read
// (nil when total_items is zero).
type JobResponse struct {
	JobRun
	ProgressPct *float64 `json:"progress_pct"`
}
