// Package metricparse extracts numeric training metrics (loss, learning
// rate, gradient norm, preference-reward margins) from unstructured trainer
// log output. It understands the common log shapes emitted by supervised and
// preference (DPO) fine-tuning runs: explicit per-step lines, epoch summary
// lines, tqdm progress bars, and huggingface trainer dicts.
package metricparse

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Point is a single sample in a named metric series.
type Point struct {
	Step      int     `json:"step"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// Metrics maps a metric name to its ordered series of points.
type Metrics map[string][]Point

// Series names produced by the parser.
const (
	SeriesLoss            = "loss"
	SeriesLearningRate    = "learning_rate"
	SeriesGradNorm        = "grad_norm"
	SeriesEpoch           = "epoch"
	SeriesRewardsChosen   = "rewards_chosen"
	SeriesRewardsRejected = "rewards_rejected"
)

const floatPattern = `([0-9]+\.?[0-9]*(?:[eE][+-]?\d+)?)`

var (
	// "Step 100: loss=1.2345", "Step 100 - loss: 1.2345", "step 100, loss 1.2345"
	stepLossRe = regexp.MustCompile(`(?i)step[\s:]+(\d+).*?loss[=:\s]+` + floatPattern)
	// "Epoch 2 average loss: 9.0916"
	epochAvgLossRe = regexp.MustCompile(`(?i)epoch[\s:]+(\d+)\s+average\s+loss[=:\s]+` + floatPattern)
	// tqdm progress bar: "Epoch 1: 100%|##########| 1/1 [00:01<00:00, loss=9.09]"
	epochProgressLossRe = regexp.MustCompile(`(?i)epoch[\s:]+(\d+).*\|.*loss[=:\s]+` + floatPattern)
	// huggingface trainer dict: {'loss': 1.234, 'learning_rate': 0.0001}
	trainerDictLossRe = regexp.MustCompile(`(?i)['"]loss['"]:\s*` + floatPattern)
	// "lr=1.00e-04", "learning_rate: 0.0001"
	learningRateRe = regexp.MustCompile(`(?i)(?:lr|learning[_\s]?rate)[=:\s]+` + floatPattern)
	// "grad_norm=1.234", "gradient norm: 1.234"
	gradNormRe = regexp.MustCompile(`(?i)(?:grad[_\s]?norm|gradient[_\s]?norm)[=:\s]+` + floatPattern)
	// "Step 100", "iteration: 100" - bare step marker
	stepOnlyRe = regexp.MustCompile(`(?i)(?:step|iteration)[\s:]+(\d+)`)
	// "global_step = 100" - takes priority over the bare step marker
	globalStepRe = regexp.MustCompile(`(?i)global[_\s]?step[\s=:]+(\d+)`)
	// DPO reward margins: "rewards/chosen=1.234", "rewards_rejected: -0.5"
	rewardsChosenRe   = regexp.MustCompile(`(?i)rewards[/_]chosen[=:\s]+(-?[0-9]+\.?[0-9]*(?:[eE][+-]?\d+)?)`)
	rewardsRejectedRe = regexp.MustCompile(`(?i)rewards[/_]rejected[=:\s]+(-?[0-9]+\.?[0-9]*(?:[eE][+-]?\d+)?)`)
)

// Parser extracts metrics from one run's log output. It carries the most
// recent step number across calls so metrics logged on bare lines ("lr=1e-4")
// can be attributed to the right step. Not safe for concurrent use; chunks
// must be fed in arrival order.
type Parser struct {
	currentStep int
}

func NewParser() *Parser {
	return &Parser{}
}

// ParseLine extracts metrics from a single log line. At most one loss point
// is produced per line; explicit step-loss lines win over epoch summaries,
// which win over progress-bar values, which win over the trainer-dict form.
// Epoch summary lines use the epoch number directly as the step, so a run
// emitting both per-step and per-epoch loss produces a series with mixed
// x-axis scales. That mirrors the trainer output and is kept deliberately.
func (p *Parser) ParseLine(line, timestamp string) Metrics {
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	metrics := Metrics{}

	if step, ok := extractStep(line); ok {
		p.currentStep = step
	}

	if g := stepLossRe.FindStringSubmatch(line); g != nil {
		step, serr := strconv.Atoi(g[1])
		value, verr := strconv.ParseFloat(g[2], 64)
		if serr == nil && verr == nil {
			p.currentStep = step
			metrics[SeriesLoss] = []Point{{Step: step, Value: value, Timestamp: timestamp}}
		}
	}

	if _, found := metrics[SeriesLoss]; !found {
		if g := epochAvgLossRe.FindStringSubmatch(line); g != nil {
			epoch, serr := strconv.Atoi(g[1])
			value, verr := strconv.ParseFloat(g[2], 64)
			if serr == nil && verr == nil {
				// Epoch number doubles as the step for epoch-based training.
				metrics[SeriesLoss] = []Point{{Step: epoch, Value: value, Timestamp: timestamp}}
				metrics[SeriesEpoch] = []Point{{Step: epoch, Value: float64(epoch), Timestamp: timestamp}}
				p.currentStep = epoch
			}
		}
	}

	if _, found := metrics[SeriesLoss]; !found {
		if g := epochProgressLossRe.FindStringSubmatch(line); g != nil {
			epoch, serr := strconv.Atoi(g[1])
			value, verr := strconv.ParseFloat(g[2], 64)
			if serr == nil && verr == nil {
				metrics[SeriesLoss] = []Point{{Step: epoch, Value: value, Timestamp: timestamp}}
				metrics[SeriesEpoch] = []Point{{Step: epoch, Value: float64(epoch), Timestamp: timestamp}}
				p.currentStep = epoch
			}
		}
	}

	if _, found := metrics[SeriesLoss]; !found {
		if g := trainerDictLossRe.FindStringSubmatch(line); g != nil {
			if value, err := strconv.ParseFloat(g[1], 64); err == nil {
				metrics[SeriesLoss] = []Point{{Step: p.stepOrDefault(), Value: value, Timestamp: timestamp}}
			}
		}
	}

	if g := learningRateRe.FindStringSubmatch(line); g != nil {
		if value, err := strconv.ParseFloat(g[1], 64); err == nil {
			metrics[SeriesLearningRate] = []Point{{Step: p.stepOrDefault(), Value: value, Timestamp: timestamp}}
		}
	}

	if g := gradNormRe.FindStringSubmatch(line); g != nil {
		if value, err := strconv.ParseFloat(g[1], 64); err == nil {
			metrics[SeriesGradNorm] = []Point{{Step: p.stepOrDefault(), Value: value, Timestamp: timestamp}}
		}
	}

	if g := rewardsChosenRe.FindStringSubmatch(line); g != nil {
		if value, err := strconv.ParseFloat(g[1], 64); err == nil {
			metrics[SeriesRewardsChosen] = []Point{{Step: p.stepOrDefault(), Value: value, Timestamp: timestamp}}
		}
	}

	if g := rewardsRejectedRe.FindStringSubmatch(line); g != nil {
		if value, err := strconv.ParseFloat(g[1], 64); err == nil {
			metrics[SeriesRewardsRejected] = []Point{{Step: p.stepOrDefault(), Value: value, Timestamp: timestamp}}
		}
	}

	return metrics
}

// ParseChunk extracts metrics from a block of log output that may span
// multiple lines. Blocks can split a line at an arbitrary byte boundary;
// each non-empty line is parsed best-effort and a malformed line simply
// yields no metrics.
func (p *Parser) ParseChunk(chunk []byte, timestamp string) Metrics {
	if timestamp == "" {
		timestamp = time.Now().UTC().Format(time.RFC3339)
	}

	combined := Metrics{}
	for _, line := range strings.Split(string(chunk), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		combined = Merge(combined, p.ParseLine(line, timestamp))
	}
	return combined
}

func (p *Parser) stepOrDefault() int {
	if p.currentStep > 0 {
		return p.currentStep
	}
	return 1
}

func extractStep(line string) (int, bool) {
	if g := globalStepRe.FindStringSubmatch(line); g != nil {
		if step, err := strconv.Atoi(g[1]); err == nil {
			return step, true
		}
	}
	if g := stepOnlyRe.FindStringSubmatch(line); g != nil {
		if step, err := strconv.Atoi(g[1]); err == nil {
			return step, true
		}
	}
	return 0, false
}

// Merge folds incoming points into existing, deduplicating by step. When the
// same step appears on both sides the value with strictly more digits after
// the decimal point wins (explicit log lines carry more precision than
// truncated progress-bar values); ties keep the existing point. Each touched
// series is re-sorted ascending by step. Merge is idempotent:
// Merge(Merge(a, b), b) equals Merge(a, b). The existing map is mutated and
// returned; a nil map is allocated.
func Merge(existing, incoming Metrics) Metrics {
	if existing == nil {
		existing = Metrics{}
	}

	for name, points := range incoming {
		byStep := make(map[int]Point, len(existing[name])+len(points))
		for _, pt := range existing[name] {
			byStep[pt.Step] = pt
		}
		for _, pt := range points {
			current, seen := byStep[pt.Step]
			if !seen || decimalDigits(pt.Value) > decimalDigits(current.Value) {
				byStep[pt.Step] = pt
			}
		}

		merged := make([]Point, 0, len(byStep))
		for _, pt := range byStep {
			merged = append(merged, pt)
		}
		sort.Slice(merged, func(i, j int) bool { return merged[i].Step < merged[j].Step })
		existing[name] = merged
	}

	return existing
}

func decimalDigits(v float64) int {
	s := strconv.FormatFloat(v, 'g', -1, 64)
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	frac := s[dot+1:]
	if e := strings.IndexAny(frac, "eE"); e >= 0 {
		frac = frac[:e]
	}
	return len(frac)
}

// Downsample bounds each series to at most maxPoints entries. Series already
// within the budget pass through unchanged; longer series keep their first
// and last points with the middle sampled at even index spacing.
func Downsample(metrics Metrics, maxPoints int) Metrics {
	out := make(Metrics, len(metrics))
	for name, points := range metrics {
		if maxPoints <= 0 || len(points) <= maxPoints {
			out[name] = points
			continue
		}

		stride := float64(len(points)) / float64(maxPoints)
		sampled := make([]Point, 0, maxPoints)
		for i := 0; i < maxPoints-1; i++ {
			sampled = append(sampled, points[int(float64(i)*stride)])
		}
		sampled = append(sampled, points[len(points)-1])
		out[name] = sampled
	}
	return out
}

// FinalLoss returns the loss value at the highest step, regardless of the
// series' current ordering. The second return is false when no loss data
// exists.
func FinalLoss(metrics Metrics) (float64, bool) {
	points := metrics[SeriesLoss]
	if len(points) == 0 {
		return 0, false
	}

	best := points[0]
	for _, pt := range points[1:] {
		if pt.Step >= best.Step {
			best = pt
		}
	}
	return best.Value, true
}
