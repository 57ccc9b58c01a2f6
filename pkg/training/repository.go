package training

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/voiceforge-ai/platform/pkg/logstore"
	"github.com/voiceforge-ai/platform/pkg/metricparse"
	"gorm.io/gorm"
)

var ErrRunNotFound = errors.New("training run not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&RunModel{})
}

func (r *Repository) Create(ctx context.Context, run *RunModel) error {
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *Repository) Get(ctx context.Context, runID uuid.UUID) (*RunModel, error) {
	var run RunModel
	result := r.db.WithContext(ctx).First(&run, "id = ?", runID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	return &run, result.Error
}

func (r *Repository) List(ctx context.Context, limit int) ([]RunModel, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []RunModel
	result := r.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&runs)
	return runs, result.Error
}

func (r *Repository) UpdateStatus(ctx context.Context, runID uuid.UUID, status, errorMessage string) error {
	updates := map[string]interface{}{
		"status": status,
		"error":  errorMessage,
	}
	return r.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", runID).Updates(updates).Error
}

func (r *Repository) SetTimestamps(ctx context.Context, runID uuid.UUID, startedAt, completedAt *time.Time) error {
	updates := map[string]interface{}{}
	if startedAt != nil {
		updates["started_at"] = *startedAt
	}
	if completedAt != nil {
		updates["completed_at"] = *completedAt
	}
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", runID).Updates(updates).Error
}

func (r *Repository) SetFinalLoss(ctx context.Context, runID uuid.UUID, loss float64) error {
	return r.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", runID).
		Update("final_loss", loss).Error
}

// MergeMetrics folds new metric points into the run's persisted metrics
// JSON. Points whose step is already present in a series are ignored, so
// re-flushing an accumulator that covers previously written data is safe
// (batched writes accumulate, never regress).
func (r *Repository) MergeMetrics(ctx context.Context, runID uuid.UUID, metrics metricparse.Metrics) error {
	run, err := r.Get(ctx, runID)
	if err != nil {
		return err
	}

	existing, err := run.MetricSeries()
	if err != nil {
		return err
	}

	for name, points := range metrics {
		series := existing[name]
		seen := make(map[int]struct{}, len(series))
		for _, pt := range series {
			seen[pt.Step] = struct{}{}
		}
		for _, pt := range points {
			if _, dup := seen[pt.Step]; !dup {
				series = append(series, pt)
			}
		}
		existing[name] = series
	}

	encoded, err := json.Marshal(existing)
	if err != nil {
		return err
	}
	return r.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", runID).
		Update("metrics", encoded).Error
}

// Delete removes a run and its training log in one transaction; a run is
// never left stranded without its log row or vice versa.
func (r *Repository) Delete(ctx context.Context, runID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&logstore.LogModel{}, "run_id = ?", runID).Error; err != nil {
			return err
		}
		return tx.Delete(&RunModel{}, "id = ?", runID).Error
	})
}
