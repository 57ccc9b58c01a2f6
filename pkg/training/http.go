package training

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/voiceforge-ai/platform/pkg/common/logger"
	"github.com/voiceforge-ai/platform/pkg/common/models"
	"github.com/voiceforge-ai/platform/pkg/logstore"
	"github.com/voiceforge-ai/platform/pkg/observability/metrics"
)

type HTTPHandler struct {
	service  *Service
	streamer *Streamer
	logs     logstore.Store
	maxBody  int64
}

func NewHTTPHandler(service *Service, streamer *Streamer, logs logstore.Store, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, streamer: streamer, logs: logs, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/api/v1/runs", h.handleCreateRun).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/runs", h.handleListRuns).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/runs/{id}", h.handleGetRun).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/runs/{id}", h.handleDeleteRun).Methods(http.MethodDelete)
	router.HandleFunc("/api/v1/runs/{id}/cancel", h.handleCancelRun).Methods(http.MethodPost)
	router.HandleFunc("/api/v1/runs/{id}/summary", h.handleRunSummary).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/runs/{id}/logs", h.handleGetLogs).Methods(http.MethodGet)
	router.HandleFunc("/api/v1/runs/{id}/logs/stream", h.handleStreamLogs).Methods(http.MethodGet)
}

func (h *HTTPHandler) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	var req struct {
		ExperimentID uuid.UUID              `json:"experiment_id"`
		Name         string                 `json:"name"`
		Config       map[string]interface{} `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Log.WithError(err).Warn("invalid run payload")
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	run, err := h.service.CreateRun(r.Context(), CreateRunInput{
		ExperimentID: req.ExperimentID,
		Name:         req.Name,
		Config:       req.Config,
	})
	if err != nil {
		logger.Log.WithError(err).Error("failed to create run")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(run)
}

func (h *HTTPHandler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.service.List(r.Context(), 50)
	if err != nil {
		logger.Log.WithError(err).Error("failed to list runs")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(runs)
}

func (h *HTTPHandler) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	run, err := h.service.Get(r.Context(), runID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(run)
}

func (h *HTTPHandler) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), runID); err != nil {
		if errors.Is(err, ErrRunActive) {
			http.Error(w, "run is still active", http.StatusConflict)
			return
		}
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	if err := h.service.Cancel(r.Context(), runID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *HTTPHandler) handleRunSummary(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	summary, err := h.service.Summary(r.Context(), runID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(summary)
}

// handleGetLogs returns the full log history for a run, base64 encoded. A
// run without a log yet yields an empty payload, not a 404.
func (h *HTTPHandler) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	if _, err := h.service.Get(r.Context(), runID); err != nil {
		h.writeError(w, err)
		return
	}

	record, found, err := h.logs.Get(r.Context(), runID)
	if err != nil {
		logger.Log.WithError(err).Error("failed to read training log")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	response := models.TrainingLogResponse{RunID: runID, UpdatedAt: time.Now().UTC()}
	if found {
		response.Data = base64.StdEncoding.EncodeToString(record.Data)
		response.Size = len(record.Data)
		response.UpdatedAt = record.UpdatedAt
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleStreamLogs tails the run's log over Server-Sent Events, emitting
// log, heartbeat, and done events per the streamer's state machine.
func (h *HTTPHandler) handleStreamLogs(w http.ResponseWriter, r *http.Request) {
	runID, ok := h.runID(w, r)
	if !ok {
		return
	}
	if _, err := h.service.Get(r.Context(), runID); err != nil {
		h.writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	// Disable buffering in nginx so events reach the client immediately.
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	metrics.AddActiveStream()
	defer metrics.RemoveActiveStream()

	err := h.streamer.Stream(r.Context(), runID, func(event Event) error {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, payload); err != nil {
			return err
		}
		flusher.Flush()
		metrics.AddStreamEvent()
		return nil
	})
	if err != nil {
		logger.Log.WithError(err).WithField("run_id", runID).Warn("log stream ended with error")
	}
}

func (h *HTTPHandler) runID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	runID, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return runID, true
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	logger.Log.WithError(err).Error("training request failed")
	http.Error(w, "internal error", http.StatusInternalServerError)
}
