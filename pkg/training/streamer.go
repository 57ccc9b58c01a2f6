package training

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/voiceforge-ai/platform/pkg/logstore"
)

// RunGetter reads the current run record. *Repository is the production
// implementation.
type RunGetter interface {
	Get(ctx context.Context, runID uuid.UUID) (*RunModel, error)
}

// Stream event names.
const (
	EventLog       = "log"
	EventHeartbeat = "heartbeat"
	EventDone      = "done"
)

// Event is one outbound stream event; Data marshals to the event's JSON
// payload.
type Event struct {
	Name string
	Data interface{}
}

type LogEventData struct {
	Chunk string `json:"chunk"` // base64 encoded bytes
}

type DoneEventData struct {
	ExitCode  int `json:"exit_code"`
	FinalSize int `json:"final_size"`
}

// Streamer turns the log store and run status into an event stream. It only
// reads; many streamers may tail the same run concurrently.
type Streamer struct {
	runs              RunGetter
	logs              logstore.Store
	pollInterval      time.Duration
	heartbeatInterval time.Duration
}

func NewStreamer(runs RunGetter, logs logstore.Store, pollInterval, heartbeatInterval time.Duration) *Streamer {
	if pollInterval <= 0 {
		pollInterval = 200 * time.Millisecond
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = 15 * time.Second
	}
	return &Streamer{runs: runs, logs: logs, pollInterval: pollInterval, heartbeatInterval: heartbeatInterval}
}

// Stream polls the run until a terminal status, delivering each new byte
// range exactly once as a log event and heartbeats while idle. On a
// terminal status it flushes the remaining delta and emits a single done
// event; the reported exit code is 0 only for a completed run, an
// approximation of the subprocess's real code. A missing run ends the
// stream silently, as does context cancellation (a disconnecting client
// needs no terminal event). An emit error stops the stream and propagates.
func (s *Streamer) Stream(ctx context.Context, runID uuid.UUID, emit func(Event) error) error {
	lastSent := 0
	lastHeartbeat := time.Now()

	for {
		run, err := s.runs.Get(ctx, runID)
		if err != nil {
			if errors.Is(err, ErrRunNotFound) {
				return nil
			}
			return err
		}

		data, err := s.logs.Read(ctx, runID)
		if err != nil {
			return err
		}

		sentDelta := false
		if len(data) > lastSent {
			chunk := base64.StdEncoding.EncodeToString(data[lastSent:])
			if err := emit(Event{Name: EventLog, Data: LogEventData{Chunk: chunk}}); err != nil {
				return err
			}
			lastSent = len(data)
			sentDelta = true
		}

		if IsTerminal(run.Status) {
			exitCode := 1
			if run.Status == StatusCompleted {
				exitCode = 0
			}
			return emit(Event{Name: EventDone, Data: DoneEventData{ExitCode: exitCode, FinalSize: lastSent}})
		}

		if !sentDelta && time.Since(lastHeartbeat) >= s.heartbeatInterval {
			if err := emit(Event{Name: EventHeartbeat, Data: struct{}{}}); err != nil {
				return err
			}
			lastHeartbeat = time.Now()
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.pollInterval):
		}
	}
}
