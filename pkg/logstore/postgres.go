package logstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// LogModel is the gorm mapping for a run's raw log bytes. Rows are removed
// by the cascading delete of their run.
type LogModel struct {
	RunID     uuid.UUID `gorm:"type:uuid;primaryKey;column:run_id"`
	Data      []byte    `gorm:"column:data;type:bytea"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (LogModel) TableName() string {
	return "training_logs"
}

// Postgres stores log ledgers in a bytea column. Appends for a run are
// serialized through a per-run mutex and applied as a single
// data = data || chunk update, so readers never see interleaved ranges.
type Postgres struct {
	db    *gorm.DB
	locks sync.Map // uuid.UUID -> *sync.Mutex
}

func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

func (s *Postgres) AutoMigrate() error {
	return s.db.AutoMigrate(&LogModel{})
}

func (s *Postgres) Append(ctx context.Context, runID uuid.UUID, chunk []byte) (int, error) {
	mu := s.runLock(runID)
	mu.Lock()
	defer mu.Unlock()

	now := time.Now().UTC()
	result := s.db.WithContext(ctx).Model(&LogModel{}).
		Where("run_id = ?", runID).
		Updates(map[string]interface{}{
			"data":       gorm.Expr("data || ?", chunk),
			"updated_at": now,
		})
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected == 0 {
		record := &LogModel{RunID: runID, Data: chunk, UpdatedAt: now}
		if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
			return 0, err
		}
		return len(chunk), nil
	}

	var size int64
	err := s.db.WithContext(ctx).Model(&LogModel{}).
		Where("run_id = ?", runID).
		Select("octet_length(data)").
		Scan(&size).Error
	if err != nil {
		return 0, err
	}
	return int(size), nil
}

func (s *Postgres) Read(ctx context.Context, runID uuid.UUID) ([]byte, error) {
	record, ok, err := s.Get(ctx, runID)
	if err != nil || !ok {
		return nil, err
	}
	return record.Data, nil
}

func (s *Postgres) Size(ctx context.Context, runID uuid.UUID) (int, error) {
	var size int64
	result := s.db.WithContext(ctx).Model(&LogModel{}).
		Where("run_id = ?", runID).
		Select("octet_length(data)").
		Scan(&size)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(size), nil
}

func (s *Postgres) Get(ctx context.Context, runID uuid.UUID) (Log, bool, error) {
	var record LogModel
	result := s.db.WithContext(ctx).First(&record, "run_id = ?", runID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return Log{}, false, nil
	}
	if result.Error != nil {
		return Log{}, false, result.Error
	}
	return Log{RunID: record.RunID, Data: record.Data, UpdatedAt: record.UpdatedAt}, true, nil
}

func (s *Postgres) runLock(runID uuid.UUID) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(runID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
