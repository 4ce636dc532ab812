package render

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// DefaultShmDir is the memory-backed directory preferred for intermediates.
const DefaultShmDir = "/dev/shm"

// EphemeralProvider places the large ambisonic intermediates.
type EphemeralProvider interface {
	// Allocate returns a fresh path for the intermediate called name. dir is
	// the minute's working directory.
	Allocate(dir, name string) (string, error)
	Release(path string) error
	Kind() string
}

// ShmProvider allocates unique files in a memory-backed directory.
type ShmProvider struct {
	Dir string
}

func (p ShmProvider) Allocate(_ string, name string) (string, error) {
	f, err := os.CreateTemp(p.Dir, name+"_*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to allocate intermediate in %s: %w", p.Dir, err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

func (ShmProvider) Release(path string) error { return release(path) }

func (ShmProvider) Kind() string { return "shm" }

// DirProvider writes intermediates beside the minute's scene files.
type DirProvider struct{}

func (DirProvider) Allocate(dir, name string) (string, error) {
	return filepath.Join(dir, name+".wav"), nil
}

func (DirProvider) Release(path string) error { return release(path) }

func (DirProvider) Kind() string { return "dir" }

func release(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// SelectEphemeral returns a ShmProvider when shmDir accepts files and a
// DirProvider otherwise.
func SelectEphemeral(shmDir string, logger *slog.Logger) EphemeralProvider {
	if shmDir != "" {
		f, err := os.CreateTemp(shmDir, ".scenebatch-probe-*")
		if err == nil {
			name := f.Name()
			f.Close()
			os.Remove(name)
			logger.Info("intermediates in memory-backed storage", "dir", shmDir)
			return ShmProvider{Dir: shmDir}
		}
		logger.Info("memory-backed storage unavailable, using working directories", "dir", shmDir, "error", err)
	}
	return DirProvider{}
}
