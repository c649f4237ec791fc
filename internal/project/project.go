// Package project ties the rule model, cache, CAS, script loader,
// fingerprint engine, graph analyzer, and executor into a single build
// engine.
package project

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/forgebuild/forge/internal/cache"
	"github.com/forgebuild/forge/internal/cas"
	"github.com/forgebuild/forge/internal/concurrent"
	"github.com/forgebuild/forge/internal/executor"
	"github.com/forgebuild/forge/internal/ferrors"
	"github.com/forgebuild/forge/internal/fingerprint"
	"github.com/forgebuild/forge/internal/forgeconfig"
	"github.com/forgebuild/forge/internal/graph"
	"github.com/forgebuild/forge/internal/logging"
	"github.com/forgebuild/forge/internal/rule"
	"github.com/forgebuild/forge/internal/script"
)

const (
	forgeRootFilename = "FORGE_ROOT"
	preludeDirName    = "prelude"
	cacheFilename     = "cache.json"
	casDirName        = "cas"
)

// RunOptions customizes a single Project.Run invocation. When TargetFilters
// or ComponentFilters are non-empty, execution is restricted to rules
// matching a filter (by name or by an output path) plus their transitive
// dependencies — the filter set an external frontend passes to the core.
type RunOptions struct {
	TargetFilters    []string
	ComponentFilters []string
}

// Project is the build engine rooted at a single project directory.
type Project struct {
	Root   string
	Logger *logging.Logger

	Config *forgeconfig.ForgeRootConfig
	Rules  *concurrent.Map[string, *rule.Rule]
	Output *concurrent.Map[string, string] // output path -> producing rule name

	Cache       *cache.Cache
	CAS         *cas.Store
	Fingerprint *fingerprint.Engine
	Executor    *executor.Executor

	Progress func(executor.ProgressEvent)
}

// New constructs a Project rooted at root. It does not touch disk beyond
// what New itself needs; FORGE_ROOT loading happens in Run.
func New(root string, logger *logging.Logger) *Project {
	return &Project{
		Root:   root,
		Logger: logger,
		Rules:  concurrent.NewMap[string, *rule.Rule](),
		Output: concurrent.NewMap[string, string](),
	}
}

// Run performs a full build: FORGE_ROOT load, prelude check, FORGE file
// discovery, script loading, graph analysis, parallel execution, and a
// final cache save. Any failure to save the cache is surfaced to the
// caller — cache writes are never silently swallowed.
func (p *Project) Run(ctx context.Context, opts RunOptions) error {
	cfg, err := forgeconfig.Load(filepath.Join(p.Root, forgeRootFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return ferrors.NewForgeRootNotFound(p.Root)
		}
		return ferrors.NewForgeRootConfigError(err)
	}
	p.Config = cfg

	preludePath := filepath.Join(p.Root, preludeDirName)
	if _, err := os.Stat(preludePath); err != nil {
		return ferrors.NewPreludeNotFound(preludePath)
	}

	cachePath := filepath.Join(p.Root, cfg.Build.CacheDir, cacheFilename)
	p.Cache = cache.Load(cachePath)
	p.Cache.ValidateAndClean(p.Root)

	store, err := cas.New(filepath.Join(p.Root, cfg.Build.CacheDir, casDirName))
	if err != nil {
		return ferrors.NewIOError("initialize CAS", err)
	}
	p.CAS = store

	files, err := p.discoverForgeFiles()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return ferrors.NewNoForgeFilesFound(strings.Join(cfg.Discovery.Include, ", "))
	}

	loader := script.NewLoader(p.Root, p.Logger)
	rules, err := loader.LoadFiles(files)
	if err != nil {
		return err
	}
	for _, r := range rules {
		p.Rules.Set(r.Name, r)
	}
	// A later rule with an already-registered name replaces the earlier one
	// (last write wins): only the surviving rule is kept for analysis and
	// only its outputs enter the output map.
	unique := make([]*rule.Rule, 0, len(rules))
	for _, r := range rules {
		if current, _ := p.Rules.Get(r.Name); current != r {
			continue
		}
		unique = append(unique, r)
		for _, out := range r.Outputs {
			p.Output.Set(out, r.Name)
		}
	}
	rules = unique

	p.Fingerprint = fingerprint.New(p.Root, p.Cache, p.Output)
	p.Executor = executor.New(p.Root, p.Cache, p.CAS, p.Fingerprint, p.Logger)
	p.Executor.Progress = p.Progress

	selected, err := p.applyFilters(rules, opts)
	if err != nil {
		return err
	}

	outputMap := p.Output.Snapshot()
	batches, err := graph.Analyze(selected, outputMap)
	if err != nil {
		return err
	}

	rulesByName := make(map[string]*rule.Rule, len(selected))
	for _, r := range selected {
		rulesByName[r.Name] = r
	}

	runErr := p.Executor.Run(ctx, batches, rulesByName)

	if err := p.Cache.Save(cachePath); err != nil {
		if runErr != nil {
			if p.Logger != nil {
				p.Logger.Error("failed to save cache after a build failure", logging.Error(err))
			}
			return runErr
		}
		return ferrors.NewIOError("save cache", err)
	}

	return runErr
}

// Clean removes the project's cache directory entirely (cache.json and the
// CAS tree), forcing every rule to rebuild on the next run.
func (p *Project) Clean() error {
	cfg := p.Config
	if cfg == nil {
		loaded, err := forgeconfig.Load(filepath.Join(p.Root, forgeRootFilename))
		if err != nil {
			if os.IsNotExist(err) {
				return ferrors.NewForgeRootNotFound(p.Root)
			}
			return ferrors.NewForgeRootConfigError(err)
		}
		cfg = loaded
	}
	cacheDir := filepath.Join(p.Root, cfg.Build.CacheDir)
	if err := os.RemoveAll(cacheDir); err != nil {
		return ferrors.NewIOError("clean cache directory", err)
	}
	return nil
}

// applyFilters restricts rules to those matching TargetFilters (by rule
// name) or ComponentFilters (by output path), transitively closed over
// their dependencies. An empty RunOptions selects every rule.
func (p *Project) applyFilters(rules []*rule.Rule, opts RunOptions) ([]*rule.Rule, error) {
	if len(opts.TargetFilters) == 0 && len(opts.ComponentFilters) == 0 {
		return rules, nil
	}

	byName := make(map[string]*rule.Rule, len(rules))
	for _, r := range rules {
		byName[r.Name] = r
	}
	outputMap := p.Output.Snapshot()

	matches := func(r *rule.Rule) bool {
		for _, f := range opts.TargetFilters {
			if r.Name == f {
				return true
			}
		}
		for _, f := range opts.ComponentFilters {
			for _, out := range r.Outputs {
				if out == f || strings.HasPrefix(out, f) {
					return true
				}
			}
		}
		return false
	}

	selectedNames := make(map[string]bool)
	var include func(name string)
	include = func(name string) {
		if selectedNames[name] {
			return
		}
		r, ok := byName[name]
		if !ok {
			return
		}
		selectedNames[name] = true
		for _, input := range r.Inputs {
			if producer, ok := outputMap[input]; ok {
				include(producer)
			}
		}
		for _, dep := range r.Dependencies {
			include(dep)
		}
	}

	for _, r := range rules {
		if matches(r) {
			include(r.Name)
		}
	}

	var selected []*rule.Rule
	for _, r := range rules {
		if selectedNames[r.Name] {
			selected = append(selected, r)
		}
	}
	return selected, nil
}

// discoverForgeFiles walks each Discovery.Include directory (a plain path
// relative to the project root, not a glob pattern), skipping files that
// match a Discovery.Exclude glob pattern, directories deeper than
// Discovery.MaxDepth, and (if UseGitignore) paths ignored by the project's
// .gitignore.
func (p *Project) discoverForgeFiles() ([]string, error) {
	cfg := p.Config.Discovery

	var gitIgnore *ignore.GitIgnore
	if cfg.UseGitignore {
		gitignorePath := filepath.Join(p.Root, ".gitignore")
		if _, err := os.Stat(gitignorePath); err == nil {
			compiled, err := ignore.CompileIgnoreFile(gitignorePath)
			if err == nil {
				gitIgnore = compiled
			}
		}
	}

	maxDepth := -1
	if cfg.MaxDepth != nil {
		maxDepth = *cfg.MaxDepth
	}

	seen := make(map[string]bool)
	var files []string

	for _, includeDir := range cfg.Include {
		root := filepath.Join(p.Root, includeDir)
		info, err := os.Stat(root)
		if err != nil {
			continue // include entries may legitimately not exist yet
		}
		if !info.IsDir() {
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			relPath, relErr := filepath.Rel(p.Root, path)
			if relErr != nil {
				return relErr
			}

			if d.IsDir() {
				if maxDepth >= 0 && depthOf(relPath) > maxDepth {
					return filepath.SkipDir
				}
				if gitIgnore != nil && gitIgnore.MatchesPath(relPath) {
					return filepath.SkipDir
				}
				return nil
			}

			if !strings.HasSuffix(d.Name(), ".forge") && d.Name() != "FORGE" {
				return nil
			}
			if gitIgnore != nil && gitIgnore.MatchesPath(relPath) {
				return nil
			}
			if matchesAny(cfg.Exclude, relPath) {
				return nil
			}

			if seen[path] {
				return nil
			}
			seen[path] = true
			files = append(files, path)
			return nil
		})
		if err != nil {
			return nil, ferrors.NewIOError("discover forge files", err)
		}
	}

	sort.Strings(files)
	return files, nil
}

func depthOf(relPath string) int {
	if relPath == "." {
		return 0
	}
	return strings.Count(relPath, string(filepath.Separator)) + 1
}

func matchesAny(patterns []string, relPath string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, relPath); err == nil && ok {
			return true
		}
	}
	return false
}
