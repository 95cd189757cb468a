package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"go/parser"
	"go/token"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"gopkg.in/yaml.v3"

	"anima/internal/logging"
)

// TestRunner executes the unit tests of a sandboxed workspace. The engine
// never shells out on its own; the embedding process decides how tests run.
type TestRunner func(ctx context.Context, dir string) error

// SimulationResult is the outcome of one sandbox run.
type SimulationResult struct {
	Passed        bool          `json:"passed"`
	SyntaxErrors  []string      `json:"syntax_errors,omitempty"`
	Violations    []Violation   `json:"violations,omitempty"`
	TestsRan      bool          `json:"tests_ran"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Duration      time.Duration `json:"duration"`
}

// Simulator applies a mutation to a throwaway copy of the workspace and
// checks it: syntax per file, canon scan, then unit tests if a runner is
// wired. Interpreting stdlib-only Go files catches a class of errors the
// parser alone misses.
type Simulator struct {
	workspace string
	tests     TestRunner
}

// NewSimulator returns a simulator rooted at workspace. An empty workspace
// sandbox holds only the mutation itself. tests may be nil; syntax and scan
// checks still run.
func NewSimulator(workspace string, tests TestRunner) *Simulator {
	return &Simulator{workspace: workspace, tests: tests}
}

// Run evaluates the proposal in a sandbox. The caller bounds the run with
// ctx; expiry fails the simulation.
func (s *Simulator) Run(ctx context.Context, p Proposal) SimulationResult {
	start := time.Now()
	res := SimulationResult{}

	dir, err := os.MkdirTemp("", "anima-sim-")
	if err != nil {
		res.FailureReason = fmt.Sprintf("sandbox create: %v", err)
		res.Duration = time.Since(start)
		return res
	}
	defer os.RemoveAll(dir)

	if s.workspace != "" {
		if err := copyTree(s.workspace, dir); err != nil {
			res.FailureReason = fmt.Sprintf("sandbox copy: %v", err)
			res.Duration = time.Since(start)
			return res
		}
	}

	paths := make([]string, 0, len(p.Files))
	for path := range p.Files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		target := filepath.Join(dir, filepath.FromSlash(path))
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			res.FailureReason = fmt.Sprintf("sandbox apply %s: %v", path, err)
			res.Duration = time.Since(start)
			return res
		}
		if err := os.WriteFile(target, []byte(p.Files[path]), 0o644); err != nil {
			res.FailureReason = fmt.Sprintf("sandbox apply %s: %v", path, err)
			res.Duration = time.Since(start)
			return res
		}
	}

	for _, path := range paths {
		if ctx.Err() != nil {
			res.FailureReason = "simulation timed out"
			res.Duration = time.Since(start)
			return res
		}
		if msg := checkSyntax(path, p.Files[path]); msg != "" {
			res.SyntaxErrors = append(res.SyntaxErrors, msg)
		}
	}

	res.Violations = Scan(p.Files)

	if len(res.SyntaxErrors) == 0 && len(res.Violations) == 0 && s.tests != nil {
		res.TestsRan = true
		if err := runTests(ctx, s.tests, dir); err != nil {
			res.FailureReason = fmt.Sprintf("tests: %v", err)
			res.Duration = time.Since(start)
			return res
		}
	}
	if s.tests == nil {
		logging.EvolutionDebug("simulation for %s ran without a test runner", p.ID)
	}

	switch {
	case len(res.SyntaxErrors) > 0:
		res.FailureReason = res.SyntaxErrors[0]
	case len(res.Violations) > 0:
		res.FailureReason = res.Violations[0].String()
	default:
		res.Passed = true
	}
	res.Duration = time.Since(start)
	return res
}

// runTests invokes the runner in a goroutine so a stuck runner cannot
// outlive the simulation deadline.
func runTests(ctx context.Context, tests TestRunner, dir string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- tests(ctx, dir)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("timed out: %w", ctx.Err())
	}
}

// checkSyntax validates one proposed file by extension. Unknown extensions
// pass; the scanner still sees their content.
func checkSyntax(path, content string) string {
	switch {
	case strings.HasSuffix(path, ".go"):
		return checkGoSource(path, content)
	case strings.HasSuffix(path, ".json"):
		if !json.Valid([]byte(content)) {
			return fmt.Sprintf("%s: invalid JSON", path)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		var v any
		if err := yaml.Unmarshal([]byte(content), &v); err != nil {
			return fmt.Sprintf("%s: %v", path, err)
		}
	}
	return ""
}

// checkGoSource parses the file, then interprets it when every import is
// stdlib. Files importing module-internal or third-party packages stop at
// the parse check; the interpreter cannot resolve those.
func checkGoSource(path, content string) string {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, content, parser.AllErrors)
	if err != nil {
		return fmt.Sprintf("%s: %v", path, err)
	}

	for _, imp := range f.Imports {
		p := strings.Trim(imp.Path.Value, `"`)
		first, _, _ := strings.Cut(p, "/")
		if strings.Contains(first, ".") {
			return ""
		}
	}

	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return ""
	}
	if _, err := i.Compile(content); err != nil {
		return fmt.Sprintf("%s: %v", path, err)
	}
	return ""
}

// copyTree copies src into dst, skipping dot directories and runtime data.
func copyTree(src, dst string) error {
	skip := map[string]bool{"data": true, "node_modules": true}
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") || skip[name] {
				return filepath.SkipDir
			}
			return os.MkdirAll(filepath.Join(dst, rel), 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(path, filepath.Join(dst, rel))
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
