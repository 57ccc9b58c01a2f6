package training

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/google/uuid"
	"github.com/voiceforge-ai/platform/pkg/common/logger"
	"github.com/voiceforge-ai/platform/pkg/common/models"
	"github.com/voiceforge-ai/platform/pkg/logstore"
	"github.com/voiceforge-ai/platform/pkg/metricparse"
	"gorm.io/datatypes"
)

// Event types published on the bus.
const (
	EventRunStarted   = "training.run.started"
	EventRunCompleted = "training.run.completed"
	EventRunFailed    = "training.run.failed"
	EventRunCancelled = "training.run.cancelled"
)

var ErrRunActive = errors.New("training run is still active")

// EventPublisher publishes run lifecycle events. Nil disables publishing.
type EventPublisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// RunStore is the run persistence surface the service needs. *Repository is
// the production implementation.
type RunStore interface {
	Create(ctx context.Context, run *RunModel) error
	Get(ctx context.Context, runID uuid.UUID) (*RunModel, error)
	List(ctx context.Context, limit int) ([]RunModel, error)
	UpdateStatus(ctx context.Context, runID uuid.UUID, status, errorMessage string) error
	SetTimestamps(ctx context.Context, runID uuid.UUID, startedAt, completedAt *time.Time) error
	SetFinalLoss(ctx context.Context, runID uuid.UUID, loss float64) error
	Delete(ctx context.Context, runID uuid.UUID) error
}

type ServiceConfig struct {
	PythonBin     string
	TrainerModule string
	MaxConcurrent int
	Profiles      ProfilesConfig
}

// Service owns the run lifecycle: it creates runs, spawns the training
// subprocess, hands its output to Capture, and finalizes the run record
// from the capture result.
type Service struct {
	repo          RunStore
	logs          logstore.Store
	capture       *Capture
	registry      *Registry
	producer      EventPublisher
	summaries     *SummaryCache
	profiles      ProfilesConfig
	pythonBin     string
	trainerModule string
	workerSem     chan struct{}
}

func NewService(repo RunStore, logs logstore.Store, capture *Capture, registry *Registry, producer EventPublisher, summaries *SummaryCache, cfg ServiceConfig) *Service {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.PythonBin == "" {
		cfg.PythonBin = "python3"
	}
	if cfg.TrainerModule == "" {
		cfg.TrainerModule = "trainer.cli"
	}
	return &Service{
		repo:          repo,
		logs:          logs,
		capture:       capture,
		registry:      registry,
		producer:      producer,
		summaries:     summaries,
		profiles:      cfg.Profiles,
		pythonBin:     cfg.PythonBin,
		trainerModule: cfg.TrainerModule,
		workerSem:     make(chan struct{}, cfg.MaxConcurrent),
	}
}

func (s *Service) CreateRun(ctx context.Context, input CreateRunInput) (models.TrainingRun, error) {
	run := &RunModel{
		ID:           uuid.New(),
		ExperimentID: input.ExperimentID,
		Name:         input.Name,
		Status:       StatusPending,
		Config:       datatypes.JSONMap(input.Config),
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, run); err != nil {
		return models.TrainingRun{}, err
	}
	go s.run(run.ID)
	return toDomain(run), nil
}

func (s *Service) Get(ctx context.Context, runID uuid.UUID) (models.TrainingRun, error) {
	run, err := s.repo.Get(ctx, runID)
	if err != nil {
		return models.TrainingRun{}, err
	}
	return toDomain(run), nil
}

func (s *Service) List(ctx context.Context, limit int) ([]models.TrainingRun, error) {
	runs, err := s.repo.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	results := make([]models.TrainingRun, 0, len(runs))
	for i := range runs {
		results = append(results, toDomain(&runs[i]))
	}
	return results, nil
}

// Cancel requests cancellation. A run with a live subprocess is killed and
// finalized by its capture loop; a pending run is marked cancelled directly.
// Cancelling a terminal run is a no-op.
func (s *Service) Cancel(ctx context.Context, runID uuid.UUID) error {
	run, err := s.repo.Get(ctx, runID)
	if err != nil {
		return err
	}
	if IsTerminal(run.Status) {
		return nil
	}

	if active := s.registry.Cancel(runID); !active {
		now := time.Now().UTC()
		if err := s.repo.UpdateStatus(ctx, runID, StatusCancelled, ""); err != nil {
			return err
		}
		if err := s.repo.SetTimestamps(ctx, runID, nil, &now); err != nil {
			return err
		}
		s.publish(ctx, EventRunCancelled, runID, StatusCancelled, nil)
		s.cacheSummary(ctx, runID)
	}
	return nil
}

// Delete removes a terminal run and, by cascade, its training log.
func (s *Service) Delete(ctx context.Context, runID uuid.UUID) error {
	run, err := s.repo.Get(ctx, runID)
	if err != nil {
		return err
	}
	if !IsTerminal(run.Status) {
		return ErrRunActive
	}
	return s.repo.Delete(ctx, runID)
}

// Summary serves the cached snapshot, falling back to Postgres on a miss.
func (s *Service) Summary(ctx context.Context, runID uuid.UUID) (models.RunSummary, error) {
	if s.summaries != nil {
		if cached, err := s.summaries.Get(ctx, runID); err == nil && cached != nil {
			return *cached, nil
		}
	}
	return s.buildSummary(ctx, runID)
}

func (s *Service) run(runID uuid.UUID) {
	s.workerSem <- struct{}{}
	defer func() { <-s.workerSem }()

	// The cancellable context only governs the subprocess; persistence
	// keeps working after a kill so the tail of the log survives.
	procCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.registry.Track(runID, cancel)
	defer s.registry.Release(runID)

	ctx := context.Background()
	run, err := s.repo.Get(ctx, runID)
	if err != nil {
		logger.Log.WithError(err).WithField("run_id", runID).Error("run vanished before start")
		return
	}

	// A cancellation can land while the run is still queued behind the
	// worker semaphore. A terminal run never leaves its state, so check
	// both the record and the registry before any transition or launch.
	if IsTerminal(run.Status) {
		return
	}
	if s.registry.Cancelled(runID) {
		s.finalize(ctx, runID, StatusCancelled, "")
		return
	}

	started := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, runID, StatusRunning, ""); err != nil {
		logger.Log.WithError(err).WithField("run_id", runID).Error("failed to mark run running")
	}
	if err := s.repo.SetTimestamps(ctx, runID, &started, nil); err != nil {
		logger.Log.WithError(err).WithField("run_id", runID).Error("failed to set start timestamp")
	}
	s.publish(ctx, EventRunStarted, runID, StatusRunning, nil)

	proc, err := s.launch(procCtx, run)
	if err != nil {
		s.finalize(ctx, runID, StatusFailed, fmt.Sprintf("failed to launch trainer: %v", err))
		return
	}

	exitCode, err := s.capture.Run(ctx, runID, proc)

	switch {
	case err != nil:
		s.finalize(ctx, runID, StatusFailed, err.Error())
	case s.registry.Cancelled(runID):
		s.finalize(ctx, runID, StatusCancelled, "")
	case exitCode == 0:
		s.finalize(ctx, runID, StatusCompleted, "")
	default:
		s.finalize(ctx, runID, StatusFailed, fmt.Sprintf("training process exited with code %d", exitCode))
	}
}

func (s *Service) finalize(ctx context.Context, runID uuid.UUID, status, errorMessage string) {
	completed := time.Now().UTC()
	if err := s.repo.UpdateStatus(ctx, runID, status, errorMessage); err != nil {
		logger.Log.WithError(err).WithField("run_id", runID).Error("failed to finalize run status")
	}
	if err := s.repo.SetTimestamps(ctx, runID, nil, &completed); err != nil {
		logger.Log.WithError(err).WithField("run_id", runID).Error("failed to set completion timestamp")
	}

	var finalLoss *float64
	if status == StatusCompleted {
		if run, err := s.repo.Get(ctx, runID); err == nil {
			if series, err := run.MetricSeries(); err == nil {
				if loss, ok := metricparse.FinalLoss(series); ok {
					if err := s.repo.SetFinalLoss(ctx, runID, loss); err != nil {
						logger.Log.WithError(err).WithField("run_id", runID).Error("failed to record final loss")
					} else {
						finalLoss = &loss
					}
				}
			}
		}
	}

	eventType := EventRunFailed
	switch status {
	case StatusCompleted:
		eventType = EventRunCompleted
	case StatusCancelled:
		eventType = EventRunCancelled
	}
	extra := map[string]interface{}{}
	if finalLoss != nil {
		extra["final_loss"] = *finalLoss
	}
	if errorMessage != "" {
		extra["error"] = errorMessage
	}
	s.publish(ctx, eventType, runID, status, extra)
	s.cacheSummary(ctx, runID)

	logger.Log.WithFields(map[string]interface{}{
		"run_id": runID,
		"status": status,
	}).Info("Training run finished")
}

func (s *Service) launch(ctx context.Context, run *RunModel) (*execProcess, error) {
	cmd := exec.CommandContext(ctx, s.pythonBin, s.buildArgs(run)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

func (s *Service) buildArgs(run *RunModel) []string {
	config := map[string]interface{}{}
	modelType, _ := run.Config["model_type"].(string)
	if profile, ok := s.profiles.ForModelType(modelType); ok {
		for k, v := range profile.Defaults {
			config[k] = v
		}
	}
	for k, v := range run.Config {
		config[k] = v
	}

	args := []string{
		"-m", s.trainerModule, "train",
		"--run-id", run.ID.String(),
		"--experiment-id", run.ExperimentID.String(),
	}
	if len(config) > 0 {
		if payload, err := json.Marshal(config); err == nil {
			args = append(args, "--config", string(payload))
		}
	}
	return args
}

func (s *Service) publish(ctx context.Context, eventType string, runID uuid.UUID, status string, extra map[string]interface{}) {
	if s.producer == nil {
		return
	}
	data := map[string]interface{}{
		"run_id": runID.String(),
		"status": status,
	}
	for k, v := range extra {
		data[k] = v
	}
	// Producer logs its own failures; lifecycle events are best effort.
	_ = s.producer.PublishEvent(ctx, eventType, "training-service", data)
}

func (s *Service) cacheSummary(ctx context.Context, runID uuid.UUID) {
	if s.summaries == nil {
		return
	}
	summary, err := s.buildSummary(ctx, runID)
	if err != nil {
		logger.Log.WithError(err).WithField("run_id", runID).Warn("failed to build run summary")
		return
	}
	if err := s.summaries.Put(ctx, summary); err != nil {
		logger.Log.WithError(err).WithField("run_id", runID).Warn("failed to cache run summary")
	}
}

func (s *Service) buildSummary(ctx context.Context, runID uuid.UUID) (models.RunSummary, error) {
	run, err := s.repo.Get(ctx, runID)
	if err != nil {
		return models.RunSummary{}, err
	}
	size, err := s.logs.Size(ctx, runID)
	if err != nil {
		return models.RunSummary{}, err
	}
	return models.RunSummary{
		RunID:       run.ID,
		Status:      run.Status,
		FinalLoss:   run.FinalLoss,
		LogSize:     size,
		Error:       run.ErrorMessage,
		StartedAt:   run.StartedAt,
		CompletedAt: run.CompletedAt,
	}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

// Wait reaps the subprocess and returns its exit code. A non-zero exit is
// data, not an error.
func (p *execProcess) Wait() (int, error) {
	err := p.cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return 0, err
}
