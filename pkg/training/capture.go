package training

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/voiceforge-ai/platform/pkg/common/logger"
	"github.com/voiceforge-ai/platform/pkg/logstore"
	"github.com/voiceforge-ai/platform/pkg/metricparse"
	"github.com/voiceforge-ai/platform/pkg/observability/metrics"
	"golang.org/x/sync/errgroup"
)

const captureBlockSize = 4096

// MetricSink persists extracted metric points for a run. *Repository is the
// production implementation.
type MetricSink interface {
	MergeMetrics(ctx context.Context, runID uuid.UUID, m metricparse.Metrics) error
}

// Process is the handle Capture drains. Either stream may be nil when the
// caller merged stderr into stdout at spawn time.
type Process interface {
	Stdout() io.Reader
	Stderr() io.Reader
	Wait() (int, error)
}

// Capture drains a training subprocess's output into the log store while
// extracting metrics from it. One Capture is shared across runs; all
// per-run state lives inside Run.
type Capture struct {
	logs           logstore.Store
	sink           MetricSink
	updateInterval int
	maxPoints      int
}

func NewCapture(logs logstore.Store, sink MetricSink, updateInterval, maxPoints int) *Capture {
	if updateInterval <= 0 {
		updateInterval = 5
	}
	if maxPoints <= 0 {
		maxPoints = 2000
	}
	return &Capture{logs: logs, sink: sink, updateInterval: updateInterval, maxPoints: maxPoints}
}

// Run drains stdout and stderr concurrently in fixed-size blocks until both
// streams close, then awaits the process and returns its real exit code.
// Every block is appended to the log store before metric parsing; an append
// failure is fatal and propagates, while parsing problems only lose that
// block's metrics. Extracted metrics are flushed to the sink every
// updateInterval parsed blocks and once more, downsampled, after the
// process exits, so the tail of a run is never lost to the batching window.
func (c *Capture) Run(ctx context.Context, runID uuid.UUID, proc Process) (int, error) {
	parser := metricparse.NewParser()
	accumulated := metricparse.Metrics{}
	blocks := 0

	// The parser carries step state across blocks, so parsing and
	// accumulation are serialized even though the two drain loops run
	// concurrently. Step attribution across interleaved stdout/stderr
	// blocks is order-dependent by nature.
	var mu sync.Mutex

	drain := func(stream io.Reader) error {
		buf := make([]byte, captureBlockSize)
		for {
			n, err := stream.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])

				if _, aerr := c.logs.Append(ctx, runID, chunk); aerr != nil {
					return fmt.Errorf("append training log: %w", aerr)
				}
				metrics.AddCapturedBytes(n)

				mu.Lock()
				parsed := parser.ParseChunk(chunk, "")
				if len(parsed) > 0 {
					accumulated = metricparse.Merge(accumulated, parsed)
					blocks++
					if blocks >= c.updateInterval {
						if serr := c.sink.MergeMetrics(ctx, runID, accumulated); serr != nil {
							// Retried with the next block; raw bytes are
							// already durable.
							logger.Log.WithError(serr).WithField("run_id", runID).Warn("metric flush failed")
						} else {
							metrics.AddMetricFlush()
							blocks = 0
						}
					}
				}
				mu.Unlock()
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					logger.Log.WithError(err).WithField("run_id", runID).Warn("stream read ended")
				}
				return nil
			}
		}
	}

	g := new(errgroup.Group)
	if stdout := proc.Stdout(); stdout != nil {
		g.Go(func() error { return drain(stdout) })
	}
	if stderr := proc.Stderr(); stderr != nil {
		g.Go(func() error { return drain(stderr) })
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	if len(accumulated) > 0 {
		final := metricparse.Downsample(accumulated, c.maxPoints)
		if err := c.sink.MergeMetrics(ctx, runID, final); err != nil {
			return 0, fmt.Errorf("final metric flush: %w", err)
		}
		metrics.AddMetricFlush()
	}

	return proc.Wait()
}
