// Package fsutil provides the small set of filesystem helpers shared by the
// scene composer, talker discovery and render driver.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Exists checks if a file or directory exists.
func Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// IsHidden reports whether a base name starts with a dot.
func IsHidden(name string) bool {
	return strings.HasPrefix(filepath.Base(name), ".")
}

// GlobVisible returns the sorted matches of pattern inside dir, skipping
// dotfiles (macOS resource forks and editor leftovers live next to the data).
func GlobVisible(dir, pattern string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}
	out := matches[:0]
	for _, m := range matches {
		if !IsHidden(m) {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

// VisibleSubdirs returns the sorted names of the non-hidden directories
// directly under dir.
func VisibleSubdirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && !IsHidden(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// WriteFileAtomic replaces path with data. The content is written to a
// temporary file in the same directory, synced, then renamed over path, so a
// reader sees either the old file or the complete new one.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteAtomic(path, perm, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
}

// WriteAtomic is WriteFileAtomic for callers that stream their output.
func WriteAtomic(path string, perm os.FileMode, write func(f *os.File) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	if err := write(tmp); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("failed to sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	committed = true
	return nil
}
