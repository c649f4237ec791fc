// Package argexpand implements the @file dynamic argument expander: a rule
// argument of the form "@path/to/file" is replaced, at execution time, by
// directives read back from that file — the mechanism build scripts use to
// report extra linker flags discovered only after a prior rule has run
// (mirroring Cargo's build-script output protocol).
package argexpand

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	linkLibPrefix    = "cargo:rustc-link-lib="
	linkSearchPrefix = "cargo:rustc-link-search="
	cfgPrefix        = "cargo:rustc-cfg="
)

// Expand resolves every "@file" argument in args relative to projectRoot,
// replacing it in place with the flags its directive lines describe.
// Arguments that do not start with "@" pass through unchanged.
func Expand(projectRoot string, args []string) ([]string, error) {
	expanded := make([]string, 0, len(args))
	for _, arg := range args {
		if !strings.HasPrefix(arg, "@") {
			expanded = append(expanded, arg)
			continue
		}

		relPath := arg[1:]
		path := relPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(projectRoot, relPath)
		}

		flags, err := expandFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to expand %q: %w", arg, err)
		}
		expanded = append(expanded, flags...)
	}
	return expanded, nil
}

// expandFile reads a directive file and returns the command-line flags its
// lines translate to, in file order.
func expandFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var flags []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, linkLibPrefix):
			flags = append(flags, "-l", strings.TrimPrefix(line, linkLibPrefix))
		case strings.HasPrefix(line, linkSearchPrefix):
			flags = append(flags, "-L", strings.TrimPrefix(line, linkSearchPrefix))
		case strings.HasPrefix(line, cfgPrefix):
			flags = append(flags, "--cfg="+strings.TrimPrefix(line, cfgPrefix))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return flags, nil
}
