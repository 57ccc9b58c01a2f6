package models

import (
	"time"

	"github.com/google/uuid"
)

// TrainingRun is the API-facing view of an experiment run.
type TrainingRun struct {
	ID           uuid.UUID              `json:"id"`
	ExperimentID uuid.UUID              `json:"experiment_id"`
	Name         string                 `json:"name,omitempty"`
	Status       string                 `json:"status"`
	Config       map[string]interface{} `json:"config,omitempty"`
	FinalLoss    *float64               `json:"final_loss,omitempty"`
	Error        string                 `json:"error,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
}

// RunSummary is the compact run snapshot cached in Redis for dashboard reads.
type RunSummary struct {
	RunID       uuid.UUID  `json:"run_id"`
	Status      string     `json:"status"`
	FinalLoss   *float64   `json:"final_loss,omitempty"`
	LogSize     int        `json:"log_size"`
	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Event is the envelope published to the event bus.
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // training.run.started, training.run.completed, ...
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// TrainingLogResponse is the full-log payload for a run.
type TrainingLogResponse struct {
	RunID     uuid.UUID `json:"run_id"`
	Data      string    `json:"data"` // base64 encoded bytes
	Size      int       `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}
