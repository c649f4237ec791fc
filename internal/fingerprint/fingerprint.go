// Package fingerprint implements the fingerprint and invalidation engine:
// the per-rule digest over command, arguments, environment, and input
// contents, and the staleness checks that decide whether a rule must be
// rebuilt.
package fingerprint

import (
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/forgebuild/forge/internal/cache"
	"github.com/forgebuild/forge/internal/concurrent"
	"github.com/forgebuild/forge/internal/rule"
	"github.com/forgebuild/forge/internal/workerpool"
)

// SmallFileThreshold is the input size below which file contents are
// absorbed into the fingerprint directly, rather than just size+mtime:
// strictly less than 1 MiB.
const SmallFileThreshold = 1024 * 1024

// Engine computes fingerprints and rebuild decisions for rules, given the
// project root, the persistent cache, and the output-to-rule map that lets
// a rule's fingerprint depend on its producer's fingerprint.
type Engine struct {
	ProjectRoot string
	Cache       *cache.Cache
	OutputMap   *concurrent.Map[string, string] // output path -> producing rule name
}

// New returns a fingerprint Engine.
func New(projectRoot string, c *cache.Cache, outputMap *concurrent.Map[string, string]) *Engine {
	return &Engine{ProjectRoot: projectRoot, Cache: c, OutputMap: outputMap}
}

// NeedsRebuild runs four ordered staleness checks and returns whether r
// must run and, if so, the fingerprint it would be stored under on success.
func (e *Engine) NeedsRebuild(r *rule.Rule, artifactMeta *concurrent.Map[string, cache.ArtifactMetadata]) (bool, string, error) {
	if e.dependenciesAreStale(r, artifactMeta) {
		fp, err := e.ComputeFingerprint(r)
		return true, fp, err
	}

	for _, input := range r.Inputs {
		inputPath := filepath.Join(e.ProjectRoot, input)
		info, err := os.Stat(inputPath)
		if err != nil {
			continue // doesn't exist on disk; handled via producer fingerprint below
		}
		cachedMTime, ok := e.Cache.MTimes.Get(input)
		if !ok || info.ModTime().After(cachedMTime) {
			e.Cache.FileHashes.Delete(input)
			fp, err := e.ComputeFingerprint(r)
			return true, fp, err
		}
	}

	for _, output := range r.Outputs {
		if _, err := os.Stat(filepath.Join(e.ProjectRoot, output)); err != nil {
			fp, err := e.ComputeFingerprint(r)
			return true, fp, err
		}
	}

	newFingerprint, err := e.ComputeFingerprint(r)
	if err != nil {
		return false, "", err
	}
	if oldFingerprint, ok := e.Cache.RuleHashes.Get(r.Name); ok && oldFingerprint == newFingerprint {
		return false, "", nil
	}
	return true, newFingerprint, nil
}

// dependenciesAreStale reports whether any input's producing rule has an
// artifact newer than this rule's own last-recorded artifact.
func (e *Engine) dependenciesAreStale(r *rule.Rule, artifactMeta *concurrent.Map[string, cache.ArtifactMetadata]) bool {
	ownMeta, ownOK := artifactMeta.Get(r.Name)
	if !ownOK {
		return false
	}
	for _, input := range r.Inputs {
		producer, ok := e.OutputMap.Get(input)
		if !ok {
			continue
		}
		producerMeta, ok := artifactMeta.Get(producer)
		if !ok {
			continue
		}
		if producerMeta.Created.After(ownMeta.Created) {
			return true
		}
	}
	return false
}

// ComputeFingerprint computes the hex-encoded BLAKE3 digest for r, absorbing
// command, args, sorted env pairs, and per-input digests in input-list
// order.
func (e *Engine) ComputeFingerprint(r *rule.Rule) (string, error) {
	h := blake3.New()
	h.Write([]byte(r.Command))
	for _, arg := range r.Args {
		h.Write([]byte(arg))
	}

	// env pairs must be sorted by key so fingerprints are deterministic
	// across runs, since Go's map iteration order is randomized.
	envKeys := make([]string, 0, len(r.Env))
	for k := range r.Env {
		envKeys = append(envKeys, k)
	}
	sort.Strings(envKeys)
	for _, k := range envKeys {
		h.Write([]byte(k))
		h.Write([]byte(r.Env[k]))
	}

	inputDigests, err := e.computeInputDigests(r)
	if err != nil {
		return "", err
	}
	for _, digest := range inputDigests {
		h.Write(digest)
	}

	sum := h.Sum(nil)
	return hexEncode(sum), nil
}

// computeInputDigests computes a per-input digest for each of r's inputs in
// parallel, bounded by workerpool's host-CPU worker cap, but returns them
// in original input-list order regardless of completion order — the pool
// returns results index-aligned with the submitted tasks.
func (e *Engine) computeInputDigests(r *rule.Rule) ([][]byte, error) {
	pool := workerpool.New(workerpool.DefaultMaxWorkers)

	tasks := make([]workerpool.Task, len(r.Inputs))
	for i, input := range r.Inputs {
		input := input
		tasks[i] = func(ctx context.Context) (interface{}, error) {
			return e.digestInput(input)
		}
	}

	results := pool.Run(context.Background(), tasks)
	digests := make([][]byte, len(results))
	for i, res := range results {
		if res.Error != nil {
			return nil, res.Error
		}
		if res.Value != nil {
			digests[i] = res.Value.([]byte)
		}
	}
	return digests, nil
}

// digestInput computes a per-input digest: size+mtime (+contents if small)
// for inputs that exist on disk, or the producing rule's current
// fingerprint for generated inputs, or an empty digest otherwise.
func (e *Engine) digestInput(input string) ([]byte, error) {
	inputPath := filepath.Join(e.ProjectRoot, input)
	info, err := os.Stat(inputPath)
	if err != nil {
		if producer, ok := e.OutputMap.Get(input); ok {
			fp, _ := e.Cache.RuleHashes.Get(producer)
			return []byte(fp), nil
		}
		return nil, nil
	}

	modTime := info.ModTime()
	if cachedHash, ok := e.Cache.FileHashes.Get(input); ok {
		if cachedMTime, ok := e.Cache.MTimes.Get(input); ok && !modTime.After(cachedMTime) {
			return []byte(cachedHash), nil
		}
	}

	fh := blake3.New()
	var sizeBuf [8]byte
	binary.LittleEndian.PutUint64(sizeBuf[:], uint64(info.Size()))
	fh.Write(sizeBuf[:])

	var mtimeBuf [8]byte
	binary.LittleEndian.PutUint64(mtimeBuf[:], uint64(modTime.UnixNano()))
	fh.Write(mtimeBuf[:])

	if info.Size() < SmallFileThreshold {
		content, err := os.ReadFile(inputPath)
		if err != nil {
			return nil, err
		}
		fh.Write(content)
	}

	digest := fh.Sum(nil)
	hexDigest := hexEncode(digest)
	e.Cache.FileHashes.Set(input, hexDigest)
	e.Cache.MTimes.Set(input, modTime)
	return []byte(hexDigest), nil
}

func hexEncode(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}
