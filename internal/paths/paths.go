// Package paths resolves the canonical directories of the SPEAR tree.
// The tree itself is scaffolded by a separate tool; this package only maps
// (dataset, session, category) to the directory that tool created.
package paths

import (
	"fmt"
	"path/filepath"
)

// Category names one kind of directory in the tree.
type Category string

const (
	NoisePool       Category = "noise"
	TransferConfig  Category = "hoa"
	ArrayOutput     Category = "array"
	ReferenceOutput Category = "reference"
	SceneWorking    Category = "tascar"
)

// Partitions of the dataset, selected by session index.
const (
	Train = "Train"
	Dev   = "Dev"
	Eval  = "Eval"
)

// Resolver maps a unit of work to a directory.
type Resolver interface {
	Resolve(dataset, session int, cat Category) (string, error)
}

// Partition returns the split a session belongs to: sessions 1-9 are
// training, 10-12 development and 13 onwards evaluation.
func Partition(session int) string {
	switch {
	case session < 10:
		return Train
	case session < 13:
		return Dev
	default:
		return Eval
	}
}

// SessionName is the directory name used for a session.
func SessionName(session int) string {
	return fmt.Sprintf("Session_%d", session)
}

// SPEARResolver follows the layout produced by the directory scaffolding:
//
//	<root>/Main/<Set>/Dataset_<d>/Microphone_Array_Audio/Session_<s>
//	<root>/Extra/<Set>/Dataset_<d>/Reference_Audio/Session_<s>
//	<root>/Extra/<Set>/Dataset_<d>/TASCAR/Session_<s>
//	<root>/Miscellaneous/AmbientNoise/<Set>
//	<root>/Miscellaneous/HOA_weights
type SPEARResolver struct {
	Root string
}

// NewSPEARResolver creates a resolver rooted at the SPEAR directory.
func NewSPEARResolver(root string) *SPEARResolver {
	return &SPEARResolver{Root: root}
}

func (r *SPEARResolver) Resolve(dataset, session int, cat Category) (string, error) {
	if r.Root == "" {
		return "", fmt.Errorf("SPEAR root is not configured")
	}
	misc := filepath.Join(r.Root, "Miscellaneous")

	switch cat {
	case NoisePool:
		return filepath.Join(misc, "AmbientNoise", Partition(session)), nil
	case TransferConfig:
		return filepath.Join(misc, "HOA_weights"), nil
	}

	if dataset < 1 {
		return "", fmt.Errorf("invalid dataset %d", dataset)
	}
	if session < 1 {
		return "", fmt.Errorf("invalid session %d", session)
	}
	set := Partition(session)
	ds := fmt.Sprintf("Dataset_%d", dataset)
	sess := SessionName(session)

	switch cat {
	case ArrayOutput:
		return filepath.Join(r.Root, "Main", set, ds, "Microphone_Array_Audio", sess), nil
	case ReferenceOutput:
		return filepath.Join(r.Root, "Extra", set, ds, "Reference_Audio", sess), nil
	case SceneWorking:
		return filepath.Join(r.Root, "Extra", set, ds, "TASCAR", sess), nil
	default:
		return "", fmt.Errorf("unknown path category %q", cat)
	}
}
