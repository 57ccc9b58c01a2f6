// Package training observes external fine-tuning subprocesses: it captures
// their raw output, extracts metric series, persists both, and streams
// incremental log updates to connected clients.
package training

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/voiceforge-ai/platform/pkg/common/models"
	"github.com/voiceforge-ai/platform/pkg/metricparse"
	"gorm.io/datatypes"
)

// Run statuses. Transitions are monotonic: pending -> running -> one of the
// terminal states; nothing transitions out of a terminal state.
const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// IsTerminal reports whether a run status admits no further transitions.
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type RunModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	ExperimentID uuid.UUID         `gorm:"type:uuid;column:experiment_id"`
	Name         string            `gorm:"column:name"`
	Status       string            `gorm:"column:status"`
	Config       datatypes.JSONMap `gorm:"column:config"`
	Metrics      datatypes.JSON    `gorm:"column:metrics"`
	FinalLoss    *float64          `gorm:"column:final_loss"`
	ErrorMessage string            `gorm:"column:error"`
	CreatedAt    time.Time         `gorm:"column:created_at"`
	StartedAt    *time.Time        `gorm:"column:started_at"`
	CompletedAt  *time.Time        `gorm:"column:completed_at"`
}

func (RunModel) TableName() string {
	return "experiment_runs"
}

// MetricSeries decodes the run's persisted metrics JSON.
func (r *RunModel) MetricSeries() (metricparse.Metrics, error) {
	if len(r.Metrics) == 0 {
		return metricparse.Metrics{}, nil
	}
	var series metricparse.Metrics
	if err := json.Unmarshal(r.Metrics, &series); err != nil {
		return nil, err
	}
	return series, nil
}

type CreateRunInput struct {
	ExperimentID uuid.UUID
	Name         string
	Config       map[string]interface{}
}

func toDomain(run *RunModel) models.TrainingRun {
	result := models.TrainingRun{
		ID:           run.ID,
		ExperimentID: run.ExperimentID,
		Name:         run.Name,
		Status:       run.Status,
		FinalLoss:    run.FinalLoss,
		Error:        run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		StartedAt:    run.StartedAt,
		CompletedAt:  run.CompletedAt,
	}
	if run.Config != nil {
		result.Config = map[string]interface{}(run.Config)
	}
	return result
}
