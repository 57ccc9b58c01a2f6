package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	capturedBytes atomic.Int64
	metricFlushes atomic.Int64
	activeStreams atomic.Int64
	streamEvents  atomic.Int64
)

func AddCapturedBytes(n int) {
	capturedBytes.Add(int64(n))
}

func AddMetricFlush() {
	metricFlushes.Add(1)
}

func AddActiveStream() {
	activeStreams.Add(1)
}

func RemoveActiveStream() {
	activeStreams.Add(-1)
}

func AddStreamEvent() {
	streamEvents.Add(1)
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP voiceforge_training_captured_bytes_total Raw subprocess output bytes appended to training logs.\n")
	fmt.Fprintf(w, "# TYPE voiceforge_training_captured_bytes_total counter\n")
	fmt.Fprintf(w, "voiceforge_training_captured_bytes_total %d\n", capturedBytes.Load())

	fmt.Fprintf(w, "# HELP voiceforge_training_metric_flushes_total Batched metric writes persisted to run records.\n")
	fmt.Fprintf(w, "# TYPE voiceforge_training_metric_flushes_total counter\n")
	fmt.Fprintf(w, "voiceforge_training_metric_flushes_total %d\n", metricFlushes.Load())

	fmt.Fprintf(w, "# HELP voiceforge_training_active_log_streams Currently connected log stream clients.\n")
	fmt.Fprintf(w, "# TYPE voiceforge_training_active_log_streams gauge\n")
	fmt.Fprintf(w, "voiceforge_training_active_log_streams %d\n", activeStreams.Load())

	fmt.Fprintf(w, "# HELP voiceforge_training_stream_events_total Events emitted across all log streams.\n")
	fmt.Fprintf(w, "# TYPE voiceforge_training_stream_events_total counter\n")
	fmt.Fprintf(w, "voiceforge_training_stream_events_total %d\n", streamEvents.Load())
}
