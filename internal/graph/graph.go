// Package graph implements the rule-graph analyzer: cycle detection,
// output-conflict detection, and cost-balanced topological batching for
// parallel execution.
package graph

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"github.com/forgebuild/forge/internal/ferrors"
	"github.com/forgebuild/forge/internal/rule"
)

// costBudgetPerBatch bounds how much estimated work a single batch may
// absorb before it is split, so that one batch doesn't starve the worker
// pool by bundling every cheap rule together.
const costBudgetPerBatch = 10.0

// Batches is an ordered list of rule-name groups: every rule in Batches[i]
// may run concurrently, and Batches[i] must fully complete before
// Batches[i+1] starts.
type Batches [][]string

// Analyze builds the dependency graph over rules (keyed by output path via
// outputMap, which maps an output path to the name of the rule producing
// it) and returns rules grouped into ordered, cost-balanced batches.
//
// It fails with a cycle error (naming the cycle and a heuristic suggestion)
// or a conflict error (two rules declaring the same output) before any
// batching is attempted.
func Analyze(rules []*rule.Rule, outputMap map[string]string) (Batches, error) {
	if err := detectOutputConflicts(rules, outputMap); err != nil {
		return nil, err
	}

	byName := make(map[string]*rule.Rule, len(rules))
	for _, r := range rules {
		byName[r.Name] = r
	}

	// dependents[x] = set of rules that depend on x (reverse edges), and
	// indegree[x] = number of not-yet-satisfied dependencies of x.
	dependents := make(map[string][]string)
	indegree := make(map[string]int)
	for _, r := range rules {
		if _, ok := indegree[r.Name]; !ok {
			indegree[r.Name] = 0
		}
		deps := dependencyRuleNames(r, outputMap)
		for _, dep := range deps {
			// Only registered rules form edges; a dependency naming no
			// known rule must not leave r stuck as if it were in a cycle.
			if _, ok := byName[dep]; !ok {
				continue
			}
			dependents[dep] = append(dependents[dep], r.Name)
			indegree[r.Name]++
		}
	}

	batches, stillRemaining := kahnBatches(rules, dependents, indegree)
	if len(stillRemaining) > 0 {
		stuck := make([]string, 0, len(stillRemaining))
		for name := range stillRemaining {
			stuck = append(stuck, name)
		}
		sort.Strings(stuck)
		_, suggestion := findCycle(stillRemaining, outputMap)
		return nil, ferrors.NewCircularDependency(stuck, suggestion)
	}

	return rebalanceByCost(batches, byName), nil
}

// dependencyRuleNames resolves a rule's Inputs and explicit Dependencies
// into the set of rule names it must wait on.
func dependencyRuleNames(r *rule.Rule, outputMap map[string]string) []string {
	seen := make(map[string]bool)
	var names []string
	add := func(name string) {
		if name == "" || name == r.Name || seen[name] {
			return
		}
		seen[name] = true
		names = append(names, name)
	}
	for _, input := range r.Inputs {
		add(outputMap[input])
	}
	for _, dep := range r.Dependencies {
		add(dep)
	}
	return names
}

// detectOutputConflicts returns an error if two distinct rules declare the
// same output path.
func detectOutputConflicts(rules []*rule.Rule, outputMap map[string]string) error {
	producers := make(map[string][]string)
	for _, r := range rules {
		for _, out := range r.Outputs {
			producers[out] = append(producers[out], r.Name)
		}
	}
	var conflictOutput string
	var conflictRules []string
	for out, owners := range producers {
		if len(owners) > 1 {
			conflictOutput = out
			conflictRules = owners
			break
		}
	}
	if conflictRules != nil {
		sort.Strings(conflictRules)
		return ferrors.NewDependencyConflict(conflictOutput, conflictRules)
	}
	return nil
}

// kahnBatches runs Kahn's algorithm, but instead of producing a flat order
// it groups each round's zero-indegree frontier into one batch, giving the
// maximal parallelism the dependency graph allows before cost rebalancing.
// It returns the batches and the names of any rules that never reached
// zero indegree (a non-empty result means a cycle exists among them).
func kahnBatches(rules []*rule.Rule, dependents map[string][]string, indegree map[string]int) (Batches, map[string]*rule.Rule) {
	remaining := make(map[string]int, len(indegree))
	done := make(map[string]bool, len(indegree))
	for k, v := range indegree {
		remaining[k] = v
	}

	var batches Batches
	left := len(rules)
	for left > 0 {
		var frontier []string
		for _, r := range rules {
			if done[r.Name] {
				continue
			}
			if remaining[r.Name] == 0 {
				frontier = append(frontier, r.Name)
			}
		}
		if len(frontier) == 0 {
			break
		}
		sort.Strings(frontier)
		batches = append(batches, frontier)
		for _, name := range frontier {
			done[name] = true
			left--
		}
		for _, name := range frontier {
			for _, dependent := range dependents[name] {
				remaining[dependent]--
			}
		}
	}

	stuck := make(map[string]*rule.Rule)
	for _, r := range rules {
		if !done[r.Name] {
			stuck[r.Name] = r
		}
	}
	return batches, stuck
}

// findCycle walks the remaining (un-batchable) rules to identify one
// concrete cycle for the error message, and suggests the dependency edge
// most likely to be spurious.
func findCycle(remaining map[string]*rule.Rule, outputMap map[string]string) ([]string, string) {
	visiting := make(map[string]bool)
	visited := make(map[string]bool)
	var path []string

	var visit func(name string) []string
	visit = func(name string) []string {
		r, ok := remaining[name]
		if !ok {
			return nil
		}
		visiting[name] = true
		path = append(path, name)
		for _, dep := range dependencyRuleNames(r, outputMap) {
			if _, ok := remaining[dep]; !ok {
				continue
			}
			if visiting[dep] {
				cycleStart := 0
				for i, n := range path {
					if n == dep {
						cycleStart = i
						break
					}
				}
				cycle := append([]string{}, path[cycleStart:]...)
				return append(cycle, dep)
			}
			if !visited[dep] {
				if found := visit(dep); found != nil {
					return found
				}
			}
		}
		visiting[name] = false
		visited[name] = true
		path = path[:len(path)-1]
		return nil
	}

	names := make([]string, 0, len(remaining))
	for name := range remaining {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if visited[name] {
			continue
		}
		if cycle := visit(name); cycle != nil {
			suggestion := fmt.Sprintf("consider removing the dependency from %q back to %q to break the cycle", cycle[len(cycle)-2], cycle[len(cycle)-1])
			return cycle, suggestion
		}
	}
	// Should not happen if remaining is genuinely non-empty after Kahn's
	// algorithm stalls, but guard against it for a clear error regardless.
	return names, "inspect the rules' inputs/outputs and dependencies for an unintended cycle"
}

// ruleCost estimates a rule's execution weight so batches can be
// rebalanced toward an even distribution of work rather than just maximal
// parallelism.
func ruleCost(r *rule.Rule) float64 {
	cost := 1.0
	cost += 0.1 * float64(len(r.Inputs))
	cost += 0.1 * float64(len(r.Outputs))
	cost += 0.05 * float64(len(r.Env))

	switch {
	case isOneOf(r.Command, "rustc", "gcc", "clang", "cc", "clang++", "g++"):
		cost += 5.0
	case isOneOf(r.Command, "cargo"):
		cost += 3.0
	default:
		cost += 1.0
	}
	return cost
}

func isOneOf(command string, candidates ...string) bool {
	base := command
	if idx := strings.LastIndexByte(command, '/'); idx >= 0 {
		base = command[idx+1:]
	}
	for _, c := range candidates {
		if base == c {
			return true
		}
	}
	return false
}

// rebalanceByCost splits any batch whose accumulated estimated cost exceeds
// costBudgetPerBatch into several smaller batches, bounded by the host's
// CPU count, while preserving the dependency order Kahn's algorithm
// established (a rule never moves earlier than its own batch).
func rebalanceByCost(batches Batches, byName map[string]*rule.Rule) Batches {
	maxParallel := runtime.NumCPU()
	if maxParallel < 1 {
		maxParallel = 1
	}

	var result Batches
	for _, batch := range batches {
		var current []string
		currentCost := 0.0
		for _, name := range batch {
			r := byName[name]
			c := 1.0
			if r != nil {
				c = ruleCost(r)
			}
			wouldOverflow := len(current) > 0 && (currentCost+c > costBudgetPerBatch || len(current) >= maxParallel)
			if wouldOverflow {
				result = append(result, current)
				current = nil
				currentCost = 0
			}
			current = append(current, name)
			currentCost += c
		}
		if len(current) > 0 {
			result = append(result, current)
		}
	}
	return result
}
