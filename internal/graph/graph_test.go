package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgebuild/forge/internal/rule"
)

func outputMapFor(rules []*rule.Rule) map[string]string {
	m := make(map[string]string)
	for _, r := range rules {
		for _, out := range r.Outputs {
			m[out] = r.Name
		}
	}
	return m
}

func TestAnalyzeLinearChain(t *testing.T) {
	rules := []*rule.Rule{
		{Name: "compile", Command: "cc", Inputs: []string{"main.c"}, Outputs: []string{"main.o"}},
		{Name: "link", Command: "cc", Inputs: []string{"main.o"}, Outputs: []string{"main"}},
	}
	batches, err := Analyze(rules, outputMapFor(rules))
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"compile"}, batches[0])
	assert.Equal(t, []string{"link"}, batches[1])
}

func TestAnalyzeIndependentRulesShareABatch(t *testing.T) {
	rules := []*rule.Rule{
		{Name: "a", Command: "echo", Outputs: []string{"a.out"}},
		{Name: "b", Command: "echo", Outputs: []string{"b.out"}},
	}
	batches, err := Analyze(rules, outputMapFor(rules))
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.ElementsMatch(t, []string{"a", "b"}, batches[0])
}

func TestAnalyzeDetectsCycle(t *testing.T) {
	rules := []*rule.Rule{
		{Name: "a", Command: "cc", Inputs: []string{"b.out"}, Outputs: []string{"a.out"}},
		{Name: "b", Command: "cc", Inputs: []string{"a.out"}, Outputs: []string{"b.out"}},
	}
	_, err := Analyze(rules, outputMapFor(rules))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular dependency")
}

func TestAnalyzeCycleErrorIncludesDownstreamRules(t *testing.T) {
	rules := []*rule.Rule{
		{Name: "a", Command: "cc", Inputs: []string{"b.out"}, Outputs: []string{"a.out"}},
		{Name: "b", Command: "cc", Inputs: []string{"a.out"}, Outputs: []string{"b.out"}},
		{Name: "c", Command: "cc", Dependencies: []string{"a"}, Outputs: []string{"c.out"}},
	}
	_, err := Analyze(rules, outputMapFor(rules))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a")
	assert.Contains(t, err.Error(), "b")
	assert.Contains(t, err.Error(), "c")
}

func TestAnalyzeDetectsOutputConflict(t *testing.T) {
	rules := []*rule.Rule{
		{Name: "a", Command: "cc", Outputs: []string{"shared.out"}},
		{Name: "b", Command: "cc", Outputs: []string{"shared.out"}},
	}
	_, err := Analyze(rules, outputMapFor(rules))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shared.out")
}

func TestAnalyzeExplicitDependencyWithoutSharedInputOutput(t *testing.T) {
	rules := []*rule.Rule{
		{Name: "setup", Command: "echo", Outputs: []string{"marker"}},
		{Name: "build", Command: "cc", Dependencies: []string{"setup"}, Outputs: []string{"out"}},
	}
	batches, err := Analyze(rules, outputMapFor(rules))
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"setup"}, batches[0])
	assert.Equal(t, []string{"build"}, batches[1])
}

func TestAnalyzeNeverProducesEmptyBatch(t *testing.T) {
	rules := []*rule.Rule{
		{Name: "only", Command: "echo", Outputs: []string{"x"}},
	}
	batches, err := Analyze(rules, outputMapFor(rules))
	require.NoError(t, err)
	for _, b := range batches {
		assert.NotEmpty(t, b)
	}
}

func TestAnalyzeSplitsExpensiveBatchByCost(t *testing.T) {
	var rules []*rule.Rule
	for i := 0; i < 20; i++ {
		rules = append(rules, &rule.Rule{
			Name:    "compile" + string(rune('a'+i)),
			Command: "rustc",
			Outputs: []string{"out" + string(rune('a'+i))},
		})
	}
	batches, err := Analyze(rules, outputMapFor(rules))
	require.NoError(t, err)
	// 20 rustc-cost rules (cost 6.1 each) must not all land in one batch
	// given a 10.0 per-batch cost budget.
	assert.Greater(t, len(batches), 1)
}
