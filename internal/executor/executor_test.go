package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgebuild/forge/internal/cache"
	"github.com/forgebuild/forge/internal/cas"
	"github.com/forgebuild/forge/internal/concurrent"
	"github.com/forgebuild/forge/internal/fingerprint"
	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/rule"
)

func newTestExecutor(t *testing.T) (*Executor, string) {
	t.Helper()
	dir := t.TempDir()
	c := cache.New()
	store, err := cas.New(filepath.Join(dir, ".cas"))
	require.NoError(t, err)
	outputMap := concurrent.NewMap[string, string]()
	fp := fingerprint.New(dir, c, outputMap)
	return New(dir, c, store, fp, nil), dir
}

func TestRunExecutesSimpleRule(t *testing.T) {
	ex, dir := newTestExecutor(t)
	r := &rule.Rule{
		Name:    "touch-out",
		Command: "sh",
		Args:    []string{"-c", "echo hello > out.txt"},
		Outputs: []string{"out.txt"},
	}
	batches := graph.Batches{{"touch-out"}}
	rulesByName := map[string]*rule.Rule{"touch-out": r}

	err := ex.Run(context.Background(), batches, rulesByName)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "hello")
}

func TestRunSkipsUpToDateRule(t *testing.T) {
	ex, dir := newTestExecutor(t)
	r := &rule.Rule{
		Name:    "touch-out",
		Command: "sh",
		Args:    []string{"-c", "echo hello > out.txt"},
		Outputs: []string{"out.txt"},
	}
	batches := graph.Batches{{"touch-out"}}
	rulesByName := map[string]*rule.Rule{"touch-out": r}

	var events []ProgressEvent
	ex.Progress = func(e ProgressEvent) { events = append(events, e) }

	require.NoError(t, ex.Run(context.Background(), batches, rulesByName))
	require.NoError(t, ex.Run(context.Background(), batches, rulesByName))

	require.Len(t, events, 2)
	assert.Equal(t, OutcomeExecuted, events[0].Outcome)
	assert.Equal(t, OutcomeSkipped, events[1].Outcome)

	_ = dir
}

func TestRunCreatesNestedOutputDirectoryBeforeExecuting(t *testing.T) {
	ex, dir := newTestExecutor(t)
	r := &rule.Rule{
		Name:    "nested-out",
		Command: "sh",
		Args:    []string{"-c", "echo hi > build/obj/x.o"},
		Outputs: []string{"build/obj/x.o"},
	}
	batches := graph.Batches{{"nested-out"}}
	rulesByName := map[string]*rule.Rule{"nested-out": r}

	err := ex.Run(context.Background(), batches, rulesByName)
	require.NoError(t, err)

	content, err := os.ReadFile(filepath.Join(dir, "build", "obj", "x.o"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "hi")
}

func TestRunReportsFailureForBadCommand(t *testing.T) {
	ex, _ := newTestExecutor(t)
	r := &rule.Rule{
		Name:    "broken",
		Command: "sh",
		Args:    []string{"-c", "exit 1"},
	}
	batches := graph.Batches{{"broken"}}
	rulesByName := map[string]*rule.Rule{"broken": r}

	err := ex.Run(context.Background(), batches, rulesByName)
	require.Error(t, err)
}

func TestRunRestoresFromCASWithoutReexecuting(t *testing.T) {
	ex, dir := newTestExecutor(t)
	r := &rule.Rule{
		Name:    "gen",
		Command: "sh",
		Args:    []string{"-c", "echo v1 > gen.txt"},
		Outputs: []string{"gen.txt"},
	}
	batches := graph.Batches{{"gen"}}
	rulesByName := map[string]*rule.Rule{"gen": r}

	require.NoError(t, ex.Run(context.Background(), batches, rulesByName))

	// Remove the output on disk but keep the cache/CAS entries, simulating
	// a clean checkout that still has a warm cache.
	require.NoError(t, os.Remove(filepath.Join(dir, "gen.txt")))

	var events []ProgressEvent
	ex.Progress = func(e ProgressEvent) { events = append(events, e) }
	require.NoError(t, ex.Run(context.Background(), batches, rulesByName))

	require.Len(t, events, 1)
	assert.Equal(t, OutcomeRestored, events[0].Outcome)

	content, err := os.ReadFile(filepath.Join(dir, "gen.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(content), "v1")
}
