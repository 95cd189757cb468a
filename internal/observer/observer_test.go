package observer

import (
	"encoding/json"
	"math"
	"testing"

	"anima/internal/tools"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func record(status tools.Status, durationMS int64, cost float64) tools.Record {
	return tools.Record{
		Tool:       "echo",
		Action:     "do something",
		Status:     status,
		DurationMS: durationMS,
		CostSpent:  cost,
	}
}

func seedLedger(records ...tools.Record) *tools.Ledger {
	l := tools.NewLedger(len(records) + 10)
	for _, rec := range records {
		l.Append(rec)
	}
	return l
}

func TestEmptyLedgerIsQuiet(t *testing.T) {
	o := New(seedLedger(), 0)
	sum := o.Evaluate()

	if sum.PainScore != 0 {
		t.Errorf("pain = %v, want 0", sum.PainScore)
	}
	if len(sum.PressureSources) != 0 {
		t.Errorf("pressures = %v, want none", sum.PressureSources)
	}
	if sum.Trend != TrendStable {
		t.Errorf("trend = %s, want STABLE", sum.Trend)
	}
	if sum.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5", sum.Confidence)
	}
}

func TestErrorRateScoring(t *testing.T) {
	// 10 records, 4 failed: error rate 0.4 trips both error rules.
	records := make([]tools.Record, 0, 10)
	for i := 0; i < 6; i++ {
		records = append(records, record(tools.StatusCompleted, 10, 0.1))
	}
	for i := 0; i < 4; i++ {
		records = append(records, record(tools.StatusFailed, 10, 0.1))
	}

	o := New(seedLedger(records...), 100)
	sum := o.Evaluate()

	if sum.PainScore < 0.4 {
		t.Errorf("pain = %v, want >= 0.4", sum.PainScore)
	}
	if !almostEqual(sum.PainScore, 0.7) {
		t.Errorf("pain = %v, want 0.7 (0.4 + 0.3 for error rate 0.4)", sum.PainScore)
	}
	if !sum.HasPressure(PressureErrors) {
		t.Error("ERRORS pressure missing")
	}
	if sum.Confidence != 0.5 {
		t.Errorf("confidence = %v, want 0.5 for 10 samples", sum.Confidence)
	}
	if sum.Raw.ErrorRate != 0.4 {
		t.Errorf("raw error rate = %v, want 0.4", sum.Raw.ErrorRate)
	}
}

func TestMinorErrorRateScoresOnce(t *testing.T) {
	// 10 records, 2 failed: error rate 0.2 trips only the first rule.
	records := make([]tools.Record, 0, 10)
	for i := 0; i < 8; i++ {
		records = append(records, record(tools.StatusCompleted, 10, 0.1))
	}
	for i := 0; i < 2; i++ {
		records = append(records, record(tools.StatusTimedOut, 10, 0.1))
	}

	sum := New(seedLedger(records...), 100).Evaluate()
	if sum.PainScore != 0.4 {
		t.Errorf("pain = %v, want 0.4", sum.PainScore)
	}
}

func TestLatencyAndCostScoring(t *testing.T) {
	records := []tools.Record{
		record(tools.StatusCompleted, 3000, 3.0),
		record(tools.StatusCompleted, 2500, 3.0),
	}

	sum := New(seedLedger(records...), 100).Evaluate()

	if !sum.HasPressure(PressureLatency) {
		t.Error("LATENCY pressure missing for avg latency 2750ms")
	}
	if !sum.HasPressure(PressureCost) {
		t.Error("COST pressure missing for total cost 6.0")
	}
	if sum.PainScore != 0.4 {
		t.Errorf("pain = %v, want 0.4 (0.2 latency + 0.2 cost)", sum.PainScore)
	}
}

func TestPainCapsAtOne(t *testing.T) {
	// Every rule fires: error 1.0 (+0.7), latency (+0.2), cost (+0.2),
	// plus an injected pressure (+0.2). Sum 1.3, clamped to 1.0.
	records := make([]tools.Record, 0, 10)
	for i := 0; i < 10; i++ {
		records = append(records, record(tools.StatusFailed, 5000, 1.0))
	}

	o := New(seedLedger(records...), 100)
	o.ReportPressure(PressureMemory)
	sum := o.Evaluate()

	if sum.PainScore != 1.0 {
		t.Errorf("pain = %v, want clamp at 1.0", sum.PainScore)
	}
	for _, want := range []PressureSource{PressureCost, PressureErrors, PressureLatency, PressureMemory} {
		if !sum.HasPressure(want) {
			t.Errorf("pressure %s missing", want)
		}
	}
}

func TestInjectedPressureIsConsumedOnce(t *testing.T) {
	o := New(seedLedger(record(tools.StatusCompleted, 10, 0.1)), 100)
	o.ReportPressure(PressureMemory)

	first := o.Evaluate()
	if !first.HasPressure(PressureMemory) {
		t.Fatal("injected pressure missing from first read")
	}
	if first.PainScore != 0.2 {
		t.Errorf("pain = %v, want 0.2 from injection alone", first.PainScore)
	}

	second := o.Evaluate()
	if second.HasPressure(PressureMemory) {
		t.Error("injected pressure should not survive into the second read")
	}
}

func TestTrendDegrading(t *testing.T) {
	// 90 clean older records, then 10 recent with 3 failures.
	records := make([]tools.Record, 0, 100)
	for i := 0; i < 90; i++ {
		records = append(records, record(tools.StatusCompleted, 10, 0.01))
	}
	for i := 0; i < 7; i++ {
		records = append(records, record(tools.StatusCompleted, 10, 0.01))
	}
	for i := 0; i < 3; i++ {
		records = append(records, record(tools.StatusFailed, 10, 0.01))
	}

	sum := New(seedLedger(records...), 100).Evaluate()

	if sum.Trend != TrendDegrading {
		t.Errorf("trend = %s, want DEGRADING", sum.Trend)
	}
	if sum.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9 for 100 samples", sum.Confidence)
	}
	if sum.Raw.RecentErrorRate != 0.3 {
		t.Errorf("recent error rate = %v, want 0.3", sum.Raw.RecentErrorRate)
	}
}

func TestTrendImproving(t *testing.T) {
	// 90 older records with a third failing, then 10 clean recent ones.
	records := make([]tools.Record, 0, 100)
	for i := 0; i < 90; i++ {
		status := tools.StatusCompleted
		if i%3 == 0 {
			status = tools.StatusFailed
		}
		records = append(records, record(status, 10, 0.01))
	}
	for i := 0; i < 10; i++ {
		records = append(records, record(tools.StatusCompleted, 10, 0.01))
	}

	sum := New(seedLedger(records...), 100).Evaluate()
	if sum.Trend != TrendImproving {
		t.Errorf("trend = %s, want IMPROVING", sum.Trend)
	}
}

func TestTrendStableWhenFlat(t *testing.T) {
	records := make([]tools.Record, 0, 40)
	for i := 0; i < 40; i++ {
		status := tools.StatusCompleted
		if i%5 == 0 {
			status = tools.StatusFailed
		}
		records = append(records, record(status, 10, 0.01))
	}

	sum := New(seedLedger(records...), 100).Evaluate()
	if sum.Trend != TrendStable {
		t.Errorf("trend = %s, want STABLE for a flat failure rate", sum.Trend)
	}
}

func TestWindowBoundsEvaluation(t *testing.T) {
	// 30 old failures followed by 20 clean records; a window of 20 sees
	// only the clean tail.
	records := make([]tools.Record, 0, 50)
	for i := 0; i < 30; i++ {
		records = append(records, record(tools.StatusFailed, 10, 0.01))
	}
	for i := 0; i < 20; i++ {
		records = append(records, record(tools.StatusCompleted, 10, 0.01))
	}

	sum := New(seedLedger(records...), 20).Evaluate()
	if sum.PainScore != 0 {
		t.Errorf("pain = %v, want 0 inside the clean window", sum.PainScore)
	}
	if sum.Raw.WindowSize != 20 {
		t.Errorf("window size = %d, want 20", sum.Raw.WindowSize)
	}
}

func TestTrendJSONRoundTrip(t *testing.T) {
	for _, tr := range []Trend{TrendStable, TrendImproving, TrendDegrading} {
		data, err := json.Marshal(tr)
		if err != nil {
			t.Fatalf("marshal %v: %v", tr, err)
		}
		var back Trend
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		if back != tr {
			t.Errorf("round trip: got %v, want %v", back, tr)
		}
	}

	var bad Trend
	if err := json.Unmarshal([]byte(`"SIDEWAYS"`), &bad); err == nil {
		t.Error("expected error for unknown trend name")
	}
}
