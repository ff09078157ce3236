package models

import (
	"time"

	"gorm.io/datatypes"
)

// ReconcileRun records one pass of the reconciliation poller.
type ReconcileRun struct {
	ID          uint           `gorm:"primary_key" json:"id"`
	Status      string         `gorm:"size:20;not null;index" json:"status"`
	TriggeredBy string         `gorm:"size:20" json:"triggered_by"`
	Checked     int            `json:"checked"`
	Succeeded   int            `json:"succeeded"`
	Reviewed    int            `json:"reviewed"`
	TimedOut    int            `json:"timed_out"`
	Skipped     int            `json:"skipped"`
	Unchanged   int            `json:"unchanged"`
	ErrorCount  int            `json:"error_count"`
	StatsJSON   datatypes.JSON `json:"stats"`
	StartedAt   *time.Time     `json:"started_at"`
	FinishedAt  *time.Time     `json:"finished_at"`
	DurationMs  int64          `json:"duration_ms"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

type ReconcileError struct {
	ID          uint           `gorm:"primary_key" json:"id"`
	RunId       uint           `gorm:"index;not null" json:"run_id"`
	RequestId   string         `gorm:"size:36;index" json:"request_id"`
	ReferenceId string         `gorm:"size:64;index" json:"reference_id"`
	Platform    Platform       `gorm:"size:20" json:"platform"`
	ErrorCode   string         `gorm:"size:64" json:"error_code"`
	Message     string         `gorm:"type:text" json:"message"`
	PayloadJSON datatypes.JSON `json:"payload"`
	Retryable   bool           `gorm:"default:false" json:"retryable"`
	CreatedAt   time.Time      `gorm:"autoCreateTime" json:"created_at"`
}
