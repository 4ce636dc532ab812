// Package scene turns per-minute room parameters, talkers and noise
// assignments into the TASCAR descriptions rendered for one minute.
package scene

import (
	"fmt"
	"path/filepath"

	"github.com/spearsim/scenebatch/internal/config"
	"github.com/spearsim/scenebatch/internal/scene/blocks"
)

type Vec3 = blocks.Vec3

// Parameters are the room acoustics of one minute.
type Parameters struct {
	Room       Vec3
	Center     Vec3
	Scattering float64
	Absorption float64
	Damping    float64
}

// LoudspeakerLayout places the noise loudspeakers. X and Y offsets are
// relative to the room center; Z is the absolute height.
type LoudspeakerLayout struct {
	Offsets []Vec3
	Levels  []float64
}

// Validate checks that offsets and levels pair up.
func (l LoudspeakerLayout) Validate() error {
	if len(l.Offsets) != len(l.Levels) {
		return fmt.Errorf("loudspeaker layout has %d offsets but %d levels", len(l.Offsets), len(l.Levels))
	}
	return nil
}

// Positions returns the absolute loudspeaker positions for a room center.
func (l LoudspeakerLayout) Positions(center Vec3) []Vec3 {
	out := make([]Vec3, len(l.Offsets))
	for i, o := range l.Offsets {
		out[i] = Vec3{X: center.X + o.X, Y: center.Y + o.Y, Z: o.Z}
	}
	return out
}

// MinuteParameters is everything numeric a minute's scene needs.
type MinuteParameters struct {
	Scene        Parameters
	Loudspeakers LoudspeakerLayout
}

// ParameterSource resolves the parameters of a minute by its index.
type ParameterSource interface {
	Parameters(minute int) (MinuteParameters, error)
}

// FixedSource serves the same constants for every minute.
type FixedSource struct {
	params MinuteParameters
}

// NewFixedSource builds the constant dataset-2 room.
func NewFixedSource(s config.Settings) *FixedSource {
	return &FixedSource{params: FixedParameters(s)}
}

func (f *FixedSource) Parameters(int) (MinuteParameters, error) {
	return f.params, nil
}

// FixedParameters returns the dataset-2 room: a 6.11 x 7.74 x 3.44 m room
// with ten loudspeakers along the walls, all at the loudspeaker level.
func FixedParameters(s config.Settings) MinuteParameters {
	room := Vec3{X: 6.11, Y: 7.74, Z: 3.44}
	hx, hy := room.X/2, room.Y/2

	xs := []float64{hx - 1, hx - 3, hx - 5, hx - 5, hx - 5, hx - 5, hx - 4, hx - 1, hx - 1, hx - 1}
	ys := []float64{-hy + 1, -hy + 1, -hy + 1, -hy + 2.5, -hy + 4, -hy + 5.5, -hy + 6, -hy + 6, -hy + 5, -hy + 2.5}
	zs := []float64{0.5, 1.3, 1.5, 1.37, 1.16, 1.23, 0.63, 1.79, 1.83, 0.87}

	layout := LoudspeakerLayout{
		Offsets: make([]Vec3, len(xs)),
		Levels:  make([]float64, len(xs)),
	}
	for i := range xs {
		layout.Offsets[i] = Vec3{X: xs[i], Y: ys[i], Z: zs[i]}
		layout.Levels[i] = s.LoudspeakerLevel()
	}

	return MinuteParameters{
		Scene: Parameters{
			Room:       room,
			Center:     Vec3{X: 0.5, Y: -0.91, Z: room.Z / 2},
			Scattering: 0,
			Absorption: 0.6,
			Damping:    0.3,
		},
		Loudspeakers: layout,
	}
}

// TableSource serves rows of a modifier table.
type TableSource struct {
	table *ModifierTable
}

func NewTableSource(t *ModifierTable) *TableSource {
	return &TableSource{table: t}
}

func (t *TableSource) Parameters(minute int) (MinuteParameters, error) {
	row, err := t.table.Row(minute)
	if err != nil {
		return MinuteParameters{}, err
	}
	return row.Parameters()
}

// NewParameterSource picks the source for a dataset: dataset 1 is recorded
// audio, dataset 2 uses FixedParameters and later datasets read the session's
// modifier table from sceneRoot.
func NewParameterSource(dataset int, sceneRoot string, s config.Settings) (ParameterSource, error) {
	switch {
	case dataset == 1:
		return nil, fmt.Errorf("dataset %d: %w", dataset, ErrNoSimulation)
	case dataset == 2:
		return NewFixedSource(s), nil
	case dataset > 2:
		table, err := LoadModifierTable(filepath.Join(sceneRoot, ModifierTableFile))
		if err != nil {
			return nil, err
		}
		return NewTableSource(table), nil
	default:
		return nil, fmt.Errorf("invalid dataset %d", dataset)
	}
}
