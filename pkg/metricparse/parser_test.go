package metricparse

import (
	"reflect"
	"testing"
)

const ts = "2026-01-02T03:04:05Z"

func TestParseLineStepLoss(t *testing.T) {
	p := NewParser()
	m := p.ParseLine("Step 100: loss=1.2345", ts)

	loss := m[SeriesLoss]
	if len(loss) != 1 {
		t.Fatalf("expected one loss point, got %v", m)
	}
	if loss[0].Step != 100 || loss[0].Value != 1.2345 {
		t.Fatalf("unexpected loss point %+v", loss[0])
	}
}

func TestParseLineInheritsCurrentStep(t *testing.T) {
	p := NewParser()
	p.ParseLine("Step 100: loss=1.2345", ts)

	m := p.ParseLine("lr=1.00e-04", ts)
	lr := m[SeriesLearningRate]
	if len(lr) != 1 {
		t.Fatalf("expected one learning_rate point, got %v", m)
	}
	if lr[0].Step != 100 || lr[0].Value != 0.0001 {
		t.Fatalf("unexpected learning_rate point %+v", lr[0])
	}
}

func TestParseLineDefaultsToStepOne(t *testing.T) {
	p := NewParser()
	m := p.ParseLine("grad_norm=2.5", ts)

	gn := m[SeriesGradNorm]
	if len(gn) != 1 || gn[0].Step != 1 || gn[0].Value != 2.5 {
		t.Fatalf("expected grad_norm at default step 1, got %v", m)
	}
}

func TestParseLineEpochAverageLoss(t *testing.T) {
	p := NewParser()
	m := p.ParseLine("INFO - Epoch 2 average loss: 9.0916", ts)

	loss := m[SeriesLoss]
	if len(loss) != 1 || loss[0].Step != 2 || loss[0].Value != 9.0916 {
		t.Fatalf("unexpected loss %v", m)
	}
	epoch := m[SeriesEpoch]
	if len(epoch) != 1 || epoch[0].Step != 2 || epoch[0].Value != 2.0 {
		t.Fatalf("unexpected epoch %v", m)
	}
}

func TestParseLineProgressBarFallback(t *testing.T) {
	p := NewParser()
	m := p.ParseLine("Epoch 1: 100%|##########| 1/1 [00:01<00:00,  1.65s/it, loss=9.09]", ts)

	loss := m[SeriesLoss]
	if len(loss) != 1 || loss[0].Step != 1 || loss[0].Value != 9.09 {
		t.Fatalf("unexpected loss %v", m)
	}
	if len(m[SeriesEpoch]) != 1 {
		t.Fatalf("expected epoch point, got %v", m)
	}
}

func TestParseLineAveragePrecedesProgressBar(t *testing.T) {
	p := NewParser()
	m := p.ParseLine("Epoch 3 average loss: 1.54321 |##| loss=1.5", ts)

	loss := m[SeriesLoss]
	if len(loss) != 1 || loss[0].Value != 1.54321 {
		t.Fatalf("expected the average-loss value to win, got %v", m)
	}
}

func TestParseLineTrainerDictFallback(t *testing.T) {
	p := NewParser()
	m := p.ParseLine("{'loss': 1.234, 'learning_rate': 0.0001, 'epoch': 1.0}", ts)

	loss := m[SeriesLoss]
	if len(loss) != 1 || loss[0].Step != 1 || loss[0].Value != 1.234 {
		t.Fatalf("unexpected loss %v", m)
	}
	// The quoted 'learning_rate' key does not match the bare lr pattern.
	if len(m[SeriesLearningRate]) != 0 {
		t.Fatalf("did not expect learning_rate from quoted dict keys, got %v", m)
	}
}

func TestParseLineRewards(t *testing.T) {
	p := NewParser()
	p.ParseLine("global_step = 40", ts)
	m := p.ParseLine("rewards/chosen=1.234 rewards/rejected=-0.5", ts)

	chosen := m[SeriesRewardsChosen]
	if len(chosen) != 1 || chosen[0].Step != 40 || chosen[0].Value != 1.234 {
		t.Fatalf("unexpected rewards_chosen %v", m)
	}
	rejected := m[SeriesRewardsRejected]
	if len(rejected) != 1 || rejected[0].Value != -0.5 {
		t.Fatalf("unexpected rewards_rejected %v", m)
	}
}

func TestParseLineGlobalStepBeatsBareStep(t *testing.T) {
	p := NewParser()
	p.ParseLine("step 5 global_step = 50", ts)

	m := p.ParseLine("lr: 0.001", ts)
	if m[SeriesLearningRate][0].Step != 50 {
		t.Fatalf("expected global_step to win, got %+v", m[SeriesLearningRate][0])
	}
}

func TestParseLineMalformedValueSkipped(t *testing.T) {
	p := NewParser()
	// A digit run long enough to overflow int on 64-bit is still parsed as a
	// float step in other frameworks; here it must just not blow up.
	m := p.ParseLine("Step 99999999999999999999999999: loss=1.0", ts)
	if len(m[SeriesLoss]) != 0 {
		t.Fatalf("expected malformed step to be skipped, got %v", m)
	}
}

func TestParseChunkMultiline(t *testing.T) {
	p := NewParser()
	chunk := []byte("Step 10: loss=2.5\nlr=0.001\n\nStep 20: loss=2.0\n")
	m := p.ParseChunk(chunk, ts)

	loss := m[SeriesLoss]
	if len(loss) != 2 || loss[0].Step != 10 || loss[1].Step != 20 {
		t.Fatalf("unexpected loss series %v", loss)
	}
	lr := m[SeriesLearningRate]
	if len(lr) != 1 || lr[0].Step != 10 {
		t.Fatalf("unexpected learning_rate series %v", lr)
	}
}

func TestParseChunkCarriesStepAcrossChunks(t *testing.T) {
	p := NewParser()
	p.ParseChunk([]byte("Step 7: loss=3.1\n"), ts)
	m := p.ParseChunk([]byte("grad_norm: 0.9\n"), ts)

	if m[SeriesGradNorm][0].Step != 7 {
		t.Fatalf("expected step carried over, got %+v", m[SeriesGradNorm][0])
	}
}

func TestMergePrecisionTieBreak(t *testing.T) {
	low := Metrics{SeriesLoss: {{Step: 5, Value: 1.2, Timestamp: ts}}}
	high := Metrics{SeriesLoss: {{Step: 5, Value: 1.234, Timestamp: ts}}}

	merged := Merge(Metrics{SeriesLoss: {{Step: 5, Value: 1.2, Timestamp: ts}}}, high)
	if merged[SeriesLoss][0].Value != 1.234 {
		t.Fatalf("expected higher precision to win, got %+v", merged[SeriesLoss][0])
	}

	merged = Merge(Metrics{SeriesLoss: {{Step: 5, Value: 1.234, Timestamp: ts}}}, low)
	if merged[SeriesLoss][0].Value != 1.234 {
		t.Fatalf("expected higher precision to win on reverse order, got %+v", merged[SeriesLoss][0])
	}
}

func TestMergeTiesKeepExisting(t *testing.T) {
	merged := Merge(
		Metrics{SeriesLoss: {{Step: 3, Value: 1.5, Timestamp: "old"}}},
		Metrics{SeriesLoss: {{Step: 3, Value: 2.5, Timestamp: "new"}}},
	)
	if merged[SeriesLoss][0].Timestamp != "old" {
		t.Fatalf("expected equal precision to keep existing point, got %+v", merged[SeriesLoss][0])
	}
}

func TestMergeSortsByStep(t *testing.T) {
	merged := Merge(
		Metrics{SeriesLoss: {{Step: 10, Value: 1.0}}},
		Metrics{SeriesLoss: {{Step: 2, Value: 3.0}, {Step: 7, Value: 2.0}}},
	)
	steps := []int{merged[SeriesLoss][0].Step, merged[SeriesLoss][1].Step, merged[SeriesLoss][2].Step}
	if !reflect.DeepEqual(steps, []int{2, 7, 10}) {
		t.Fatalf("expected ascending steps, got %v", steps)
	}
}

func TestMergeIdempotent(t *testing.T) {
	a := Metrics{
		SeriesLoss:         {{Step: 1, Value: 2.5}, {Step: 5, Value: 1.2}},
		SeriesLearningRate: {{Step: 1, Value: 0.001}},
	}
	b := Metrics{
		SeriesLoss:     {{Step: 5, Value: 1.234}, {Step: 10, Value: 0.9}},
		SeriesGradNorm: {{Step: 10, Value: 1.1}},
	}

	once := Merge(cloneMetrics(a), b)
	twice := Merge(cloneMetrics(once), b)
	if !reflect.DeepEqual(once, twice) {
		t.Fatalf("merge not idempotent:\nonce:  %v\ntwice: %v", once, twice)
	}
}

func TestDownsampleBounds(t *testing.T) {
	series := make([]Point, 100)
	for i := range series {
		series[i] = Point{Step: i, Value: float64(i)}
	}
	out := Downsample(Metrics{SeriesLoss: series}, 10)

	got := out[SeriesLoss]
	if len(got) != 10 {
		t.Fatalf("expected exactly 10 points, got %d", len(got))
	}
	if got[0].Step != 0 {
		t.Fatalf("expected first point retained, got %+v", got[0])
	}
	if got[len(got)-1].Step != 99 {
		t.Fatalf("expected last point retained, got %+v", got[len(got)-1])
	}
}

func TestDownsamplePassThrough(t *testing.T) {
	series := []Point{{Step: 1, Value: 1.0}, {Step: 2, Value: 0.5}}
	out := Downsample(Metrics{SeriesLoss: series}, 2000)
	if !reflect.DeepEqual(out[SeriesLoss], series) {
		t.Fatalf("expected short series untouched, got %v", out[SeriesLoss])
	}
}

func TestFinalLoss(t *testing.T) {
	m := Metrics{SeriesLoss: {
		{Step: 1, Value: 2.5},
		{Step: 10, Value: 1.5},
		{Step: 5, Value: 2.0},
	}}
	value, ok := FinalLoss(m)
	if !ok || value != 1.5 {
		t.Fatalf("expected final loss 1.5, got %v ok=%v", value, ok)
	}
}

func TestFinalLossAbsent(t *testing.T) {
	if _, ok := FinalLoss(Metrics{}); ok {
		t.Fatal("expected no final loss on empty metrics")
	}
	if _, ok := FinalLoss(Metrics{SeriesLoss: {}}); ok {
		t.Fatal("expected no final loss on empty series")
	}
}

func cloneMetrics(m Metrics) Metrics {
	out := make(Metrics, len(m))
	for name, points := range m {
		out[name] = append([]Point(nil), points...)
	}
	return out
}
