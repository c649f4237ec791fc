// Package executor implements the parallel batch executor: it runs each
// graph.Batches group concurrently, bounded by host CPU count, restoring
// cached artifacts from the CAS where possible and shelling out to run a
// rule's command otherwise.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/forgebuild/forge/internal/argexpand"
	"github.com/forgebuild/forge/internal/cache"
	"github.com/forgebuild/forge/internal/cas"
	"github.com/forgebuild/forge/internal/ferrors"
	"github.com/forgebuild/forge/internal/fingerprint"
	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/logging"
	"github.com/forgebuild/forge/internal/rule"
)

// Outcome describes what happened to a single rule during Run.
type Outcome string

const (
	OutcomeSkipped  Outcome = "skipped"  // up to date, nothing to do
	OutcomeRestored Outcome = "restored" // outputs restored verbatim from the CAS
	OutcomeExecuted Outcome = "executed" // command actually ran
	OutcomeFailed   Outcome = "failed"
)

// ProgressEvent is reported once per rule as it finishes, letting a caller
// render build progress and an ETA: the rule's own duration, the batch
// position, the completed/total rule counts, and the elapsed run time.
type ProgressEvent struct {
	Rule     string
	Outcome  Outcome
	Err      error
	Duration time.Duration

	Done  int
	Total int

	BatchIndex   int
	TotalBatches int

	ElapsedTotal time.Duration
	ETA          time.Duration
}

// Executor runs rule batches to completion.
type Executor struct {
	ProjectRoot string
	Cache       *cache.Cache
	CAS         *cas.Store
	Fingerprint *fingerprint.Engine
	Logger      *logging.Logger
	Progress    func(ProgressEvent)

	progressMu   sync.Mutex
	done         int
	total        int
	batchIndex   int
	totalBatches int
	runStart     time.Time
}

// New returns an Executor wired to the given project's cache, CAS, and
// fingerprint engine.
func New(projectRoot string, c *cache.Cache, store *cas.Store, fp *fingerprint.Engine, logger *logging.Logger) *Executor {
	return &Executor{ProjectRoot: projectRoot, Cache: c, CAS: store, Fingerprint: fp, Logger: logger}
}

// Run executes every batch in order; within a batch, rules run
// concurrently bounded by runtime.NumCPU(). If any rule in a batch fails,
// the batch's remaining in-flight rules are allowed to finish before Run
// returns the first error — a failure never aborts sibling work that was
// already scheduled.
func (ex *Executor) Run(ctx context.Context, batches graph.Batches, rulesByName map[string]*rule.Rule) error {
	ex.done = 0
	ex.total = 0
	ex.totalBatches = len(batches)
	ex.runStart = time.Now()
	for _, batch := range batches {
		ex.total += len(batch)
	}

	limit := runtime.NumCPU()
	if limit < 1 {
		limit = 1
	}

	for batchIdx, batch := range batches {
		ex.batchIndex = batchIdx
		// A plain Group (no derived context): a failing rule must not cancel
		// the commands of its siblings in the same batch.
		var g errgroup.Group
		g.SetLimit(limit)

		for _, name := range batch {
			name := name
			r, ok := rulesByName[name]
			if !ok {
				continue
			}
			g.Go(func() error {
				return ex.runRule(ctx, r)
			})
		}

		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

func (ex *Executor) runRule(ctx context.Context, r *rule.Rule) error {
	start := time.Now()

	needsRebuild, fingerprintValue, err := ex.Fingerprint.NeedsRebuild(r, ex.Cache.ArtifactMetadata)
	if err != nil {
		ex.report(r.Name, OutcomeFailed, err, time.Since(start))
		return err
	}

	if !needsRebuild {
		ex.report(r.Name, OutcomeSkipped, nil, time.Since(start))
		return nil
	}

	if ex.Logger != nil {
		ex.Logger.Debug("rule needs rebuild", logging.RuleField(r.Name), logging.FingerprintField(fingerprintValue))
	}

	outputPaths := make(map[string]string, len(r.Outputs))
	for _, out := range r.Outputs {
		outputPaths[out] = filepath.Join(ex.ProjectRoot, out)
	}

	if ex.CAS.Has(fingerprintValue) {
		meta, _ := ex.Cache.ArtifactMetadata.Get(r.Name)
		if err := ex.CAS.Restore(fingerprintValue, outputPaths, meta.Compressed); err != nil {
			ex.report(r.Name, OutcomeFailed, err, time.Since(start))
			return err
		}
		ex.commitSuccess(r, fingerprintValue, meta.Compressed, sumSizes(outputPaths))
		ex.report(r.Name, OutcomeRestored, nil, time.Since(start))
		return nil
	}

	for _, output := range r.Outputs {
		if err := os.MkdirAll(filepath.Dir(filepath.Join(ex.ProjectRoot, output)), 0o755); err != nil {
			ex.report(r.Name, OutcomeFailed, err, time.Since(start))
			return err
		}
	}

	if err := ex.execute(ctx, r); err != nil {
		wrapped := ferrors.NewBuildFailed(r.Name, "", err.Error())
		ex.report(r.Name, OutcomeFailed, wrapped, time.Since(start))
		return wrapped
	}

	compressed, totalSize, err := ex.CAS.Put(fingerprintValue, outputPaths)
	if err != nil {
		ex.report(r.Name, OutcomeFailed, err, time.Since(start))
		return err
	}

	ex.commitSuccess(r, fingerprintValue, compressed, totalSize)
	ex.report(r.Name, OutcomeExecuted, nil, time.Since(start))
	return nil
}

// execute runs a rule's command after expanding any @file arguments, with
// its declared environment merged over the process environment and its
// working directory used as given when absolute, resolved relative to the
// project root otherwise, and defaulting to the project root when empty.
func (ex *Executor) execute(ctx context.Context, r *rule.Rule) error {
	args, err := argexpand.Expand(ex.ProjectRoot, r.Args)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, r.Command, args...)
	cmd.Dir = ex.ProjectRoot
	if filepath.IsAbs(r.Workdir) {
		cmd.Dir = r.Workdir
	} else if r.Workdir != "" {
		cmd.Dir = filepath.Join(ex.ProjectRoot, r.Workdir)
	}

	cmd.Env = os.Environ()
	for k, v := range r.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w\nstdout:\n%s\nstderr:\n%s", err, stdout.String(), stderr.String())
	}
	return nil
}

// commitSuccess records the cache state a successful rebuild or restore
// leaves behind: the rule's new fingerprint, its artifact metadata, and
// fresh mtimes for its inputs so the next run's staleness check sees them
// as current.
func (ex *Executor) commitSuccess(r *rule.Rule, fingerprintValue string, compressed bool, size uint64) {
	ex.Cache.RuleHashes.Set(r.Name, fingerprintValue)
	ex.Cache.ArtifactMetadata.Set(r.Name, cache.ArtifactMetadata{
		Size:       size,
		Created:    time.Now(),
		Compressed: compressed,
		Inputs:     r.Inputs,
	})
	for _, input := range r.Inputs {
		inputPath := filepath.Join(ex.ProjectRoot, input)
		if info, err := os.Stat(inputPath); err == nil {
			ex.Cache.MTimes.Set(input, info.ModTime())
		}
	}
}

func sumSizes(paths map[string]string) uint64 {
	var total uint64
	for _, p := range paths {
		if info, err := os.Stat(p); err == nil {
			total += uint64(info.Size())
		}
	}
	return total
}

func (ex *Executor) report(name string, outcome Outcome, err error, d time.Duration) {
	ex.progressMu.Lock()
	ex.done++
	done := ex.done
	elapsed := time.Since(ex.runStart)
	var eta time.Duration
	if done > 0 && done < ex.total {
		perRule := elapsed / time.Duration(done)
		eta = perRule * time.Duration(ex.total-done)
	}
	ex.progressMu.Unlock()

	if ex.Progress != nil {
		ex.Progress(ProgressEvent{
			Rule:         name,
			Outcome:      outcome,
			Err:          err,
			Duration:     d,
			Done:         done,
			Total:        ex.total,
			BatchIndex:   ex.batchIndex,
			TotalBatches: ex.totalBatches,
			ElapsedTotal: elapsed,
			ETA:          eta,
		})
	}
	if ex.Logger != nil {
		batch := logging.BatchField(ex.batchIndex, ex.totalBatches)
		if err != nil {
			ex.Logger.Error("rule failed", logging.RuleField(name), batch, logging.Error(err))
		} else {
			ex.Logger.Debug("rule finished", logging.RuleField(name), batch, logging.OutcomeField(string(outcome)))
		}
	}
}
