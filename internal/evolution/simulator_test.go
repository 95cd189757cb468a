package evolution

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulatorSyntaxChecks(t *testing.T) {
	sim := NewSimulator("", nil)
	ctx := context.Background()

	t.Run("valid stdlib go passes", func(t *testing.T) {
		res := sim.Run(ctx, NewProposal(map[string]string{
			"tools/summary.go": "package main\n\nimport \"fmt\"\n\nfunc main() {\n\tfmt.Println(\"ok\")\n}\n",
		}, "", "test"))
		assert.True(t, res.Passed, "failure: %s", res.FailureReason)
		assert.Empty(t, res.SyntaxErrors)
	})

	t.Run("malformed go fails", func(t *testing.T) {
		res := sim.Run(ctx, NewProposal(map[string]string{
			"tools/broken.go": "package main\n\nfunc {\n",
		}, "", "test"))
		assert.False(t, res.Passed)
		require.NotEmpty(t, res.SyntaxErrors)
		assert.Contains(t, res.FailureReason, "broken.go")
	})

	t.Run("third party imports stop at the parse check", func(t *testing.T) {
		res := sim.Run(ctx, NewProposal(map[string]string{
			"tools/ext.go": "package ext\n\nimport \"github.com/example/widget\"\n\nvar _ = widget.New\n",
		}, "", "test"))
		assert.True(t, res.Passed, "failure: %s", res.FailureReason)
	})

	t.Run("invalid json fails", func(t *testing.T) {
		res := sim.Run(ctx, NewProposal(map[string]string{
			"state.json": `{"budget": `,
		}, "", "test"))
		assert.False(t, res.Passed)
		assert.Contains(t, res.FailureReason, "invalid JSON")
	})

	t.Run("valid yaml passes", func(t *testing.T) {
		res := sim.Run(ctx, NewProposal(map[string]string{
			"policy.yaml": "max_files: 3\nmust_simulate: true\n",
		}, "", "test"))
		assert.True(t, res.Passed, "failure: %s", res.FailureReason)
	})

	t.Run("broken yaml fails", func(t *testing.T) {
		res := sim.Run(ctx, NewProposal(map[string]string{
			"policy.yaml": "max_files: [unclosed\n",
		}, "", "test"))
		assert.False(t, res.Passed)
	})
}

func TestSimulatorScanBlocksHarm(t *testing.T) {
	sim := NewSimulator("", nil)
	res := sim.Run(context.Background(), NewProposal(map[string]string{
		"notes/plan.txt": "then set sovereignty = false",
	}, "", "test"))
	assert.False(t, res.Passed)
	require.NotEmpty(t, res.Violations)
	assert.Equal(t, "sovereignty-off", res.Violations[0].Rule)
	assert.False(t, res.TestsRan, "violations preempt the test run")
}

func TestSimulatorSandboxContents(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "existing.txt"), []byte("kept"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(workspace, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "data", "state.json"), []byte("{}"), 0o644))

	var sandbox string
	sim := NewSimulator(workspace, func(ctx context.Context, dir string) error {
		sandbox = dir
		if _, err := os.Stat(filepath.Join(dir, "existing.txt")); err != nil {
			return errors.New("workspace file missing from sandbox")
		}
		if _, err := os.Stat(filepath.Join(dir, "patch.txt")); err != nil {
			return errors.New("mutation missing from sandbox")
		}
		if _, err := os.Stat(filepath.Join(dir, "data")); !os.IsNotExist(err) {
			return errors.New("runtime data must not be copied")
		}
		return nil
	})

	res := sim.Run(context.Background(), NewProposal(map[string]string{
		"patch.txt": "hello",
	}, "", "test"))
	require.True(t, res.Passed, "failure: %s", res.FailureReason)
	assert.True(t, res.TestsRan)

	_, err := os.Stat(sandbox)
	assert.True(t, os.IsNotExist(err), "sandbox is removed after the run")
	_, err = os.Stat(filepath.Join(workspace, "patch.txt"))
	assert.True(t, os.IsNotExist(err), "workspace is never touched")
}

func TestSimulatorTestFailure(t *testing.T) {
	sim := NewSimulator("", func(ctx context.Context, dir string) error {
		return errors.New("2 assertions failed")
	})
	res := sim.Run(context.Background(), NewProposal(map[string]string{
		"patch.txt": "hello",
	}, "", "test"))
	assert.False(t, res.Passed)
	assert.True(t, res.TestsRan)
	assert.Contains(t, res.FailureReason, "assertions failed")
}

func TestSimulatorTimeout(t *testing.T) {
	sim := NewSimulator("", func(ctx context.Context, dir string) error {
		<-ctx.Done()
		return ctx.Err()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	res := sim.Run(ctx, NewProposal(map[string]string{
		"patch.txt": "hello",
	}, "", "test"))
	assert.False(t, res.Passed)
	assert.Contains(t, res.FailureReason, "timed out")
}
