package logstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store used by tests and local development.
type Memory struct {
	mu   sync.Mutex
	logs map[uuid.UUID]*Log
}

func NewMemory() *Memory {
	return &Memory{logs: make(map[uuid.UUID]*Log)}
}

func (s *Memory) Append(ctx context.Context, runID uuid.UUID, chunk []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.logs[runID]
	if !ok {
		record = &Log{RunID: runID}
		s.logs[runID] = record
	}
	record.Data = append(record.Data, chunk...)
	record.UpdatedAt = time.Now().UTC()
	return len(record.Data), nil
}

func (s *Memory) Read(ctx context.Context, runID uuid.UUID) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.logs[runID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), record.Data...), nil
}

func (s *Memory) Size(ctx context.Context, runID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.logs[runID]; ok {
		return len(record.Data), nil
	}
	return 0, nil
}

func (s *Memory) Get(ctx context.Context, runID uuid.UUID) (Log, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.logs[runID]
	if !ok {
		return Log{}, false, nil
	}
	return Log{
		RunID:     record.RunID,
		Data:      append([]byte(nil), record.Data...),
		UpdatedAt: record.UpdatedAt,
	}, true, nil
}
