package evolution

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportSerializesAttemptsAndFreezeState(t *testing.T) {
	eng := NewEngine(EngineConfig{Policy: Policy{MustSimulate: false}})
	ctx := context.Background()

	eng.Evaluate(ctx, NewProposal(cleanFiles(1), "a", "test"))
	eng.Evaluate(ctx, NewProposal(cleanFiles(6), "b", "test"))
	eng.Freeze()

	r := eng.Report()
	assert.Len(t, r.Attempts, 2)
	assert.True(t, r.Frozen)
	assert.Equal(t, FreezeReason, r.FreezeReason)
	assert.False(t, r.GeneratedAt.IsZero())

	assert.Len(t, eng.Attempts(), 2, "Report must not clear attempts")
}

func TestReportFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports", "evolution_report.json")

	want := Report{
		Frozen:       true,
		FreezeReason: FreezeReason,
		HarmCount:    2,
		Attempts: []Attempt{
			{ID: "mut_aaaa1111", State: StateRejected, Reason: "touches 6 files, policy allows 5"},
		},
	}
	require.NoError(t, SaveReport(path, want))

	got, err := LoadReport(path)
	require.NoError(t, err)
	assert.Equal(t, want.Frozen, got.Frozen)
	assert.Equal(t, want.HarmCount, got.HarmCount)
	require.Len(t, got.Attempts, 1)
	assert.Equal(t, "mut_aaaa1111", got.Attempts[0].ID)
	assert.Equal(t, StateRejected, got.Attempts[0].State)
}

func TestLoadReportMissingFile(t *testing.T) {
	r, err := LoadReport(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.False(t, r.Frozen)
	assert.Empty(t, r.Attempts)
}

// A freeze must survive a restart: the replacement engine reads the report
// file and comes up frozen with the harm counter intact.
func TestFreezeSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evolution_report.json")
	ctx := context.Background()

	first := NewEngine(EngineConfig{
		Policy:     Policy{MustSimulate: false},
		ReportPath: path,
	})
	first.Evaluate(ctx, NewProposal(cleanFiles(1), "tweak", "test"))
	first.Freeze()

	second := NewEngine(EngineConfig{
		Policy:     Policy{MustSimulate: false},
		ReportPath: path,
	})
	frozen, reason := second.Frozen()
	require.True(t, frozen, "freeze must survive construction from the report")
	assert.Equal(t, FreezeReason, reason)
	assert.Len(t, second.Attempts(), 1, "attempt history restored")

	a := second.Evaluate(ctx, NewProposal(cleanFiles(1), "again", "test"))
	assert.Equal(t, StateRejected, a.State)
	assert.Equal(t, FreezeReason, a.Reason)

	second.Unfreeze()
	third := NewEngine(EngineConfig{
		Policy:     Policy{MustSimulate: false},
		ReportPath: path,
	})
	frozen, _ = third.Frozen()
	assert.False(t, frozen, "unfreeze persists too")
	assert.Equal(t, 0, third.HarmCount())
}

func TestEngineStartsCleanOnCorruptReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evolution_report.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	eng := NewEngine(EngineConfig{
		Policy:     Policy{MustSimulate: false},
		ReportPath: path,
	})
	frozen, _ := eng.Frozen()
	assert.False(t, frozen)
	assert.Empty(t, eng.Attempts())
}
