// Package cas implements the content-addressed artifact store: a directory
// tree keyed by rule fingerprint, holding (optionally LZ4-compressed)
// copies of each rule's declared outputs.
package cas

import (
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/pierrec/lz4/v4"
)

// CompressionThreshold is the output size above which an artifact is stored
// LZ4-compressed instead of verbatim: strictly greater than 1 MiB.
const CompressionThreshold = 1024 * 1024

// Store is a CAS rooted at a single directory, typically
// <project_root>/<cache_dir>/cas.
type Store struct {
	root string
}

// New returns a Store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create CAS root: %w", err)
	}
	return &Store{root: root}, nil
}

// Path returns the directory a given fingerprint would live under.
func (s *Store) Path(fingerprint string) string {
	return filepath.Join(s.root, fingerprint)
}

// Has reports whether a complete entry exists for fingerprint.
func (s *Store) Has(fingerprint string) bool {
	info, err := os.Stat(s.Path(fingerprint))
	return err == nil && info.IsDir()
}

// Put stores outputs (a map of output-relative-path -> absolute source
// path on disk) under fingerprint. Each file larger than
// CompressionThreshold is LZ4-compressed; if any output is compressed, the
// whole rule is reported compressed (a per-rule, not per-file, flag). The
// entry is staged to a sibling temp directory and renamed into place so a
// reader never observes a partial write.
func (s *Store) Put(fingerprint string, outputs map[string]string) (compressed bool, totalSize uint64, err error) {
	finalDir := s.Path(fingerprint)
	stagingDir := filepath.Join(s.root, fmt.Sprintf(".%s.tmp-%d", fingerprint, rand.Int63()))
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		return false, 0, fmt.Errorf("failed to create CAS staging directory: %w", err)
	}
	defer os.RemoveAll(stagingDir)

	for outputRelPath, srcPath := range outputs {
		filename := filepath.Base(outputRelPath)
		info, statErr := os.Stat(srcPath)
		if statErr != nil {
			return false, 0, fmt.Errorf("failed to stat output %s: %w", srcPath, statErr)
		}
		totalSize += uint64(info.Size())

		if info.Size() > CompressionThreshold {
			destPath := filepath.Join(stagingDir, filename+".lz4")
			if err := compressFile(srcPath, destPath); err != nil {
				return false, 0, err
			}
			compressed = true
		} else {
			destPath := filepath.Join(stagingDir, filename)
			if err := copyFile(srcPath, destPath); err != nil {
				return false, 0, err
			}
		}
	}

	// If a previous, never-committed staging dir or entry exists at the
	// final path, clear it before the atomic rename.
	_ = os.RemoveAll(finalDir)
	if err := os.Rename(stagingDir, finalDir); err != nil {
		return false, 0, fmt.Errorf("failed to commit CAS entry: %w", err)
	}
	return compressed, totalSize, nil
}

// Restore copies (or decompresses) every file under fingerprint's entry
// into the declared destination paths (outputs: output-relative-path ->
// absolute destination path). compressed selects whether the `.lz4`
// companion is read back or the file is copied verbatim.
func (s *Store) Restore(fingerprint string, outputs map[string]string, compressed bool) error {
	entryDir := s.Path(fingerprint)
	for outputRelPath, destPath := range outputs {
		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return fmt.Errorf("failed to create output directory for %s: %w", destPath, err)
		}

		filename := filepath.Base(outputRelPath)
		if compressed {
			compressedPath := filepath.Join(entryDir, filename+".lz4")
			if _, err := os.Stat(compressedPath); err == nil {
				if err := decompressFile(compressedPath, destPath); err != nil {
					return err
				}
				continue
			}
		}

		srcPath := filepath.Join(entryDir, filename)
		if err := copyFile(srcPath, destPath); err != nil {
			return fmt.Errorf("failed to restore cached artifact %s: %w", destPath, err)
		}
	}
	return nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dest, err)
	}
	return nil
}

func compressFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	w := lz4.NewWriter(out)
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return fmt.Errorf("failed to compress %s: %w", src, err)
	}
	return w.Close()
}

func decompressFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dest, err)
	}
	defer out.Close()

	r := lz4.NewReader(in)
	if _, err := io.Copy(out, r); err != nil {
		return fmt.Errorf("failed to decompress %s: %w", src, err)
	}
	return nil
}
