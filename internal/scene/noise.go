package scene

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"path/filepath"

	"github.com/spearsim/scenebatch/internal/fsutil"
)

var ErrEmptyNoisePool = errors.New("noise pool is empty")

// NoisePool is the sorted set of ambient-noise recordings of a partition.
type NoisePool struct {
	Dir   string
	Files []string // base names
}

// LoadNoisePool lists the visible wav files of dir.
func LoadNoisePool(dir string) (*NoisePool, error) {
	matches, err := fsutil.GlobVisible(dir, "*.wav")
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyNoisePool, dir)
	}
	pool := &NoisePool{Dir: dir, Files: make([]string, len(matches))}
	for i, m := range matches {
		pool.Files[i] = filepath.Base(m)
	}
	return pool, nil
}

// Choose draws n files with replacement. Draw order is fixed so a given
// seed always yields the same assignment.
func (p *NoisePool) Choose(rng *rand.Rand, n int) ([]string, error) {
	if len(p.Files) == 0 {
		return nil, ErrEmptyNoisePool
	}
	out := make([]string, n)
	for i := range out {
		out[i] = p.Files[rng.IntN(len(p.Files))]
	}
	return out, nil
}

// RelativeTo returns the paths of files as seen from dir, with forward
// slashes so the scene files stay portable.
func (p *NoisePool) RelativeTo(dir string, files []string) ([]string, error) {
	rel, err := filepath.Rel(dir, p.Dir)
	if err != nil {
		return nil, fmt.Errorf("noise pool %s not reachable from %s: %w", p.Dir, dir, err)
	}
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = filepath.ToSlash(filepath.Join(rel, f))
	}
	return out, nil
}
