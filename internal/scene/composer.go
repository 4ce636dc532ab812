package scene

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spearsim/scenebatch/internal/config"
	"github.com/spearsim/scenebatch/internal/fsutil"
	"github.com/spearsim/scenebatch/internal/scene/blocks"
	"github.com/spearsim/scenebatch/internal/variant"
)

const (
	BatchFile      = "Tascar_scenes.tsc"
	InspectionFile = "Tascar_scenes_gui.tsc"
)

// MinuteInput is everything that varies between minutes.
type MinuteInput struct {
	Params     MinuteParameters
	Talkers    []int
	NoiseFiles []string // one per loudspeaker, relative to the minute dir
}

// Descriptions are the two scene files of a minute.
type Descriptions struct {
	Batch      string
	Inspection string
}

// Composer binds fragments into complete scene descriptions.
type Composer struct {
	binder   *blocks.Binder
	settings config.Settings
}

func NewComposer(binder *blocks.Binder, settings config.Settings) *Composer {
	return &Composer{binder: binder, settings: settings}
}

// Compose builds both descriptions. Interferers that are not talking in this
// minute still get a slot, bound to the empty string.
func (c *Composer) Compose(in MinuteInput) (Descriptions, error) {
	p := in.Params.Scene
	layout := in.Params.Loudspeakers
	if err := layout.Validate(); err != nil {
		return Descriptions{}, err
	}
	if len(in.NoiseFiles) != len(layout.Offsets) {
		return Descriptions{}, fmt.Errorf("%d noise files for %d loudspeakers", len(in.NoiseFiles), len(layout.Offsets))
	}

	table, err := c.binder.Bind(blocks.Table{Scattering: p.Scattering})
	if err != nil {
		return Descriptions{}, err
	}
	room, err := c.binder.Bind(blocks.Room{Size: p.Room, Center: p.Center})
	if err != nil {
		return Descriptions{}, err
	}
	reverb, err := c.binder.Bind(blocks.Reverb{Size: p.Room, Center: p.Center, Absorption: p.Absorption, Damping: p.Damping})
	if err != nil {
		return Descriptions{}, err
	}

	active := make(map[int]bool, len(in.Talkers))
	for _, id := range in.Talkers {
		if !c.settings.IsInterferer(id) {
			return Descriptions{}, fmt.Errorf("talker %d is not in the interferer pool", id)
		}
		active[id] = true
	}
	slots := make(map[int]string, len(c.settings.Interferers))
	for _, id := range c.settings.Interferers {
		if !active[id] {
			slots[id] = ""
			continue
		}
		slots[id], err = c.binder.Bind(blocks.Source{TalkerID: id, Level: c.settings.SourceLevel})
		if err != nil {
			return Descriptions{}, err
		}
	}

	var noise strings.Builder
	for i, pos := range layout.Positions(p.Center) {
		ls, err := c.binder.Bind(blocks.Loudspeaker{
			Index:     i,
			Position:  pos,
			Level:     layout.Levels[i],
			NoiseFile: in.NoiseFiles[i],
		})
		if err != nil {
			return Descriptions{}, err
		}
		noise.WriteString(ls)
	}

	hoa, err := c.binder.Bind(blocks.ReceiverHOA{ReceiverID: c.settings.ReceiverID, Order: c.settings.AmbisonicOrder})
	if err != nil {
		return Descriptions{}, err
	}
	hrtf, err := c.binder.Bind(blocks.ReceiverHRTF{ReceiverID: c.settings.ReceiverID})
	if err != nil {
		return Descriptions{}, err
	}

	duration := c.settings.MinuteDuration.Seconds()
	batchScene := blocks.BatchScene{
		DurationSeconds: duration,
		Pool:            c.settings.Interferers,
		Slots:           slots,
		Noise:           noise.String(),
		Table:           table,
		Room:            room,
		Reverb:          reverb,
		Receiver:        hoa,
	}
	batch, err := c.binder.Bind(batchScene)
	if err != nil {
		return Descriptions{}, err
	}
	inspection, err := c.binder.Bind(blocks.InspectionScene{
		DurationSeconds: duration,
		Sources:         batchScene.SourceAll(),
		Noise:           noise.String(),
		Table:           table,
		Room:            room,
		Reverb:          reverb,
		Receiver:        hrtf,
		Center:          p.Center,
	})
	if err != nil {
		return Descriptions{}, err
	}

	for _, v := range variant.Enumerate(in.Talkers) {
		if !HasScene(batch, v.SceneName()) {
			return Descriptions{}, fmt.Errorf("batch description has no scene %s", v.SceneName())
		}
	}
	return Descriptions{Batch: batch, Inspection: inspection}, nil
}

// HasScene reports whether a description declares the named scene.
func HasScene(description, name string) bool {
	return strings.Contains(description, fmt.Sprintf(`<scene name="%s"`, name))
}

// Write replaces both scene files in dir.
func Write(dir string, d Descriptions) error {
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, BatchFile), []byte(d.Batch), 0o644); err != nil {
		return fmt.Errorf("failed to write batch description: %w", err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(dir, InspectionFile), []byte(d.Inspection), 0o644); err != nil {
		return fmt.Errorf("failed to write inspection description: %w", err)
	}
	return nil
}
