package blocks

import "fmt"

// Vec3 is a point or extent in room coordinates, metres.
type Vec3 struct {
	X, Y, Z float64
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

// Table is the reflecting table surface.
type Table struct {
	Scattering float64
}

func (Table) Kind() Kind { return KindTable }

func (Table) Fields() []Field { return []Field{{Name: "t_scattering", Quoted: true}} }

func (t Table) Values() map[string]any {
	return map[string]any{"t_scattering": t.Scattering}
}

var geometryFields = []Field{
	{Name: "room_x"}, {Name: "room_y"}, {Name: "room_z"},
	{Name: "center_x"}, {Name: "center_y"}, {Name: "center_z"},
}

func geometryValues(size, center Vec3) map[string]any {
	return map[string]any{
		"room_x": size.X, "room_y": size.Y, "room_z": size.Z,
		"center_x": center.X, "center_y": center.Y, "center_z": center.Z,
	}
}

// Room is the geometric part of the reverberation: the wall shoebox.
type Room struct {
	Size   Vec3
	Center Vec3
}

func (Room) Kind() Kind { return KindRoom }

func (Room) Fields() []Field { return geometryFields }

func (r Room) Values() map[string]any { return geometryValues(r.Size, r.Center) }

// Reverb is the late reverberation; it shares the room geometry.
type Reverb struct {
	Size       Vec3
	Center     Vec3
	Absorption float64
	Damping    float64
}

func (Reverb) Kind() Kind { return KindReverb }

func (Reverb) Fields() []Field {
	return append(append([]Field(nil), geometryFields...),
		Field{Name: "absorption", Quoted: true},
		Field{Name: "damping", Quoted: true},
	)
}

func (r Reverb) Values() map[string]any {
	v := geometryValues(r.Size, r.Center)
	v["absorption"] = r.Absorption
	v["damping"] = r.Damping
	return v
}

// Source is one talker. Every file name is derived from the talker id.
type Source struct {
	TalkerID int
	Level    float64
}

func (s Source) Name() string            { return fmt.Sprintf("ID%d", s.TalkerID) }
func (s Source) PositionFile() string    { return PositionFile(s.TalkerID) }
func (s Source) OrientationFile() string { return fmt.Sprintf("ori_ID%d.csv", s.TalkerID) }
func (s Source) AudioFile() string       { return fmt.Sprintf("audio_ID%d.wav", s.TalkerID) }

// PositionFile is the trajectory file of a talker or of the receiver.
func PositionFile(id int) string { return fmt.Sprintf("pos_ID%d.csv", id) }

func (Source) Kind() Kind { return KindSource }

func (Source) Fields() []Field {
	return []Field{
		{Name: "source_name", Quoted: true},
		{Name: "source_level", Quoted: true},
		{Name: "source_pos", Quoted: true},
		{Name: "source_ori", Quoted: true},
		{Name: "source_audio", Quoted: true},
	}
}

func (s Source) Values() map[string]any {
	return map[string]any{
		"source_name":  s.Name(),
		"source_level": s.Level,
		"source_pos":   s.PositionFile(),
		"source_ori":   s.OrientationFile(),
		"source_audio": s.AudioFile(),
	}
}

// ReceiverHOA is the ambisonic listener used for batch rendering.
type ReceiverHOA struct {
	ReceiverID int
	Order      int
}

func (ReceiverHOA) Kind() Kind { return KindReceiverHOA }

func (ReceiverHOA) Fields() []Field {
	return []Field{
		{Name: "receiver_name", Quoted: true},
		{Name: "receiver_pos", Quoted: true},
		{Name: "receiver_ori", Quoted: true},
		{Name: "hoa_order"},
	}
}

func (r ReceiverHOA) Values() map[string]any {
	return map[string]any{
		"receiver_name": "Ambisonic",
		"receiver_pos":  PositionFile(r.ReceiverID),
		"receiver_ori":  fmt.Sprintf("ori_ID%d.csv", r.ReceiverID),
		"hoa_order":     r.Order,
	}
}

// ReceiverHRTF is the binaural listener of the inspection scene.
type ReceiverHRTF struct {
	ReceiverID int
}

func (ReceiverHRTF) Kind() Kind { return KindReceiverHRTF }

func (ReceiverHRTF) Fields() []Field {
	return []Field{
		{Name: "receiver_name", Quoted: true},
		{Name: "receiver_pos", Quoted: true},
		{Name: "receiver_ori", Quoted: true},
	}
}

func (r ReceiverHRTF) Values() map[string]any {
	return map[string]any{
		"receiver_name": "HRTF",
		"receiver_pos":  PositionFile(r.ReceiverID),
		"receiver_ori":  fmt.Sprintf("ori_ID%d.csv", r.ReceiverID),
	}
}

// Loudspeaker is one ambient-noise loudspeaker at an absolute position.
type Loudspeaker struct {
	Index     int
	Position  Vec3
	Level     float64
	NoiseFile string // relative to the scene file
}

func (Loudspeaker) Kind() Kind { return KindLoudspeaker }

func (Loudspeaker) Fields() []Field {
	return []Field{
		{Name: "ls_num"},
		{Name: "ls_x", Quoted: true},
		{Name: "ls_y", Quoted: true},
		{Name: "ls_z", Quoted: true},
		{Name: "noise_level", Quoted: true},
		{Name: "noise_file", Quoted: true},
	}
}

func (l Loudspeaker) Values() map[string]any {
	return map[string]any{
		"ls_num":      l.Index,
		"ls_x":        l.Position.X,
		"ls_y":        l.Position.Y,
		"ls_z":        l.Position.Z,
		"noise_level": l.Level,
		"noise_file":  l.NoiseFile,
	}
}

// SlotField is the batch placeholder holding one interferer's source block.
func SlotField(talkerID int) string { return fmt.Sprintf("source_id%d", talkerID) }

// BatchScene is the multi-scene description rendered in batch. Slots must
// hold an entry for every id in Pool; inactive interferers map to "".
type BatchScene struct {
	DurationSeconds float64
	Pool            []int
	Slots           map[int]string
	Noise           string
	Table           string
	Room            string
	Reverb          string
	Receiver        string
}

func (BatchScene) Kind() Kind { return KindBatch }

func (b BatchScene) Fields() []Field {
	fields := []Field{{Name: "duration"}, {Name: "source_all"}}
	for _, id := range b.Pool {
		fields = append(fields, Field{Name: SlotField(id)})
	}
	return append(fields,
		Field{Name: "noise"}, Field{Name: "table"}, Field{Name: "room"},
		Field{Name: "reverb"}, Field{Name: "receiver"},
	)
}

// SourceAll concatenates the slots in pool order.
func (b BatchScene) SourceAll() string {
	var all string
	for _, id := range b.Pool {
		all += b.Slots[id]
	}
	return all
}

func (b BatchScene) Values() map[string]any {
	v := map[string]any{
		"duration":   b.DurationSeconds,
		"source_all": b.SourceAll(),
		"noise":      b.Noise,
		"table":      b.Table,
		"room":       b.Room,
		"reverb":     b.Reverb,
		"receiver":   b.Receiver,
	}
	for id, block := range b.Slots {
		v[SlotField(id)] = block
	}
	return v
}

// InspectionScene is the single-scene HRTF description opened in the GUI.
type InspectionScene struct {
	DurationSeconds float64
	Sources         string
	Noise           string
	Table           string
	Room            string
	Reverb          string
	Receiver        string
	Center          Vec3
}

func (InspectionScene) Kind() Kind { return KindInspection }

func (InspectionScene) Fields() []Field {
	return []Field{
		{Name: "duration"}, {Name: "source_all"}, {Name: "source_idX"},
		{Name: "noise"}, {Name: "table"}, {Name: "room"}, {Name: "reverb"}, {Name: "receiver"},
		{Name: "center_x"}, {Name: "center_y"}, {Name: "center_z"},
	}
}

func (s InspectionScene) Values() map[string]any {
	return map[string]any{
		"duration":   s.DurationSeconds,
		"source_all": s.Sources,
		"source_idX": s.Sources,
		"noise":      s.Noise,
		"table":      s.Table,
		"room":       s.Room,
		"reverb":     s.Reverb,
		"receiver":   s.Receiver,
		"center_x":   s.Center.X,
		"center_y":   s.Center.Y,
		"center_z":   s.Center.Z,
	}
}
