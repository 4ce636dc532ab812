package scene

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

// ModifierTableFile sits in each session's scene-working directory.
const ModifierTableFile = "session_modif.csv"

var ErrMinuteNotInTable = errors.New("minute not found in modifier table")

// ModifierRow is one minute of the modifier table. List columns are stored
// as bracketed, comma-separated strings on disk; they are parsed here once.
// Loudspeaker positions are absolute room coordinates.
type ModifierRow struct {
	Minute            int
	Scattering        float64
	Room              Vec3
	Center            Vec3
	Absorption        float64
	Damping           float64
	LoudspeakerLevels []float64
	LoudspeakerX      []float64
	LoudspeakerY      []float64
	LoudspeakerZ      []float64
}

// Parameters converts the row, re-centering loudspeaker x/y on the room
// center (rounded to centimetres).
func (r ModifierRow) Parameters() (MinuteParameters, error) {
	n := len(r.LoudspeakerLevels)
	if len(r.LoudspeakerX) != n || len(r.LoudspeakerY) != n || len(r.LoudspeakerZ) != n {
		return MinuteParameters{}, fmt.Errorf("minute %d: loudspeaker columns differ in length (levels %d, x %d, y %d, z %d)",
			r.Minute, n, len(r.LoudspeakerX), len(r.LoudspeakerY), len(r.LoudspeakerZ))
	}

	layout := LoudspeakerLayout{
		Offsets: make([]Vec3, n),
		Levels:  append([]float64(nil), r.LoudspeakerLevels...),
	}
	for i := 0; i < n; i++ {
		layout.Offsets[i] = Vec3{
			X: round2(r.LoudspeakerX[i] - r.Center.X),
			Y: round2(r.LoudspeakerY[i] - r.Center.Y),
			Z: r.LoudspeakerZ[i],
		}
	}

	return MinuteParameters{
		Scene: Parameters{
			Room:       r.Room,
			Center:     r.Center,
			Scattering: r.Scattering,
			Absorption: r.Absorption,
			Damping:    r.Damping,
		},
		Loudspeakers: layout,
	}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// ModifierTable holds the raw records of a session. A record is parsed
// only when its minute is looked up, so a malformed row fails that minute
// alone.
type ModifierTable struct {
	idx     map[string]int
	records []modifierRecord
}

type modifierRecord struct {
	line      int
	minute    int
	minuteErr error
	fields    []string
}

var modifierColumns = []string{
	"minute", "t_scattering",
	"room_x", "room_y", "room_z",
	"center_x", "center_y", "center_z",
	"absorption", "damping",
	"ls_levels", "ls_x_all", "ls_y_all", "ls_z_all",
}

// LoadModifierTable reads a modifier table CSV file.
func LoadModifierTable(path string) (*ModifierTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open modifier table: %w", err)
	}
	defer f.Close()

	t, err := ReadModifierTable(f)
	if err != nil {
		return nil, fmt.Errorf("modifier table %s: %w", path, err)
	}
	return t, nil
}

// ReadModifierTable reads the CSV form. Columns are matched by header
// name, so an unnamed leading index column is ignored. Only the header and
// the CSV framing are checked here; cell values are checked by Row.
func ReadModifierTable(r io.Reader) (*ModifierTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	for _, col := range modifierColumns {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	t := &ModifierTable{idx: idx}
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		mr := modifierRecord{line: line, fields: rec}
		p := &rowParser{rec: rec, idx: idx}
		mr.minute, mr.minuteErr = parseMinute(p.field("minute"))
		if p.err != nil {
			mr.minuteErr = p.err
		}
		t.records = append(t.records, mr)
	}
	return t, nil
}

type rowParser struct {
	rec []string
	idx map[string]int
	err error
}

func (p *rowParser) field(col string) string {
	i := p.idx[col]
	if i >= len(p.rec) {
		if p.err == nil {
			p.err = fmt.Errorf("column %q missing from record", col)
		}
		return ""
	}
	return strings.TrimSpace(p.rec[i])
}

func (p *rowParser) float(col string) float64 {
	s := p.field(col)
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		p.err = fmt.Errorf("column %q: %w", col, err)
	}
	return v
}

func (p *rowParser) list(col string) []float64 {
	s := p.field(col)
	if p.err != nil {
		return nil
	}
	v, err := ParseList(s)
	if err != nil {
		p.err = fmt.Errorf("column %q: %w", col, err)
	}
	return v
}

func parseRow(rec []string, idx map[string]int) (ModifierRow, error) {
	p := &rowParser{rec: rec, idx: idx}

	m, err := parseMinute(p.field("minute"))
	if p.err != nil {
		return ModifierRow{}, p.err
	}
	if err != nil {
		return ModifierRow{}, err
	}
	row := ModifierRow{
		Minute:            m,
		Scattering:        p.float("t_scattering"),
		Room:              Vec3{X: p.float("room_x"), Y: p.float("room_y"), Z: p.float("room_z")},
		Center:            Vec3{X: p.float("center_x"), Y: p.float("center_y"), Z: p.float("center_z")},
		Absorption:        p.float("absorption"),
		Damping:           p.float("damping"),
		LoudspeakerLevels: p.list("ls_levels"),
		LoudspeakerX:      p.list("ls_x_all"),
		LoudspeakerY:      p.list("ls_y_all"),
		LoudspeakerZ:      p.list("ls_z_all"),
	}
	if p.err != nil {
		return ModifierRow{}, p.err
	}
	return row, nil
}

func parseMinute(s string) (int, error) {
	m, err := strconv.Atoi(s)
	if err == nil {
		return m, nil
	}
	// pandas may write integer columns as floats
	f, ferr := strconv.ParseFloat(s, 64)
	if ferr != nil || f != math.Trunc(f) {
		return 0, fmt.Errorf("column \"minute\": invalid index %q", s)
	}
	return int(f), nil
}

// ParseList parses "[1.0, 2.5, 3]" (brackets optional) into numbers.
func ParseList(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if strings.TrimSpace(s) == "" {
		return []float64{}, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// FormatList is the inverse of ParseList.
func FormatList(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Row parses and returns the single row for minute. Records whose minute
// cell is unreadable never match.
func (t *ModifierTable) Row(minute int) (ModifierRow, error) {
	var found []modifierRecord
	for _, r := range t.records {
		if r.minuteErr == nil && r.minute == minute {
			found = append(found, r)
		}
	}
	switch len(found) {
	case 0:
		return ModifierRow{}, fmt.Errorf("%w: %d", ErrMinuteNotInTable, minute)
	case 1:
		row, err := parseRow(found[0].fields, t.idx)
		if err != nil {
			return ModifierRow{}, fmt.Errorf("modifier table line %d: %w", found[0].line, err)
		}
		return row, nil
	default:
		return ModifierRow{}, fmt.Errorf("minute %d appears %d times in modifier table", minute, len(found))
	}
}

// Len returns the number of records.
func (t *ModifierTable) Len() int { return len(t.records) }

// WriteModifierTable writes rows in the on-disk CSV form.
func WriteModifierTable(w io.Writer, rows []ModifierRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(modifierColumns); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, r := range rows {
		rec := []string{
			strconv.Itoa(r.Minute), f(r.Scattering),
			f(r.Room.X), f(r.Room.Y), f(r.Room.Z),
			f(r.Center.X), f(r.Center.Y), f(r.Center.Z),
			f(r.Absorption), f(r.Damping),
			FormatList(r.LoudspeakerLevels), FormatList(r.LoudspeakerX),
			FormatList(r.LoudspeakerY), FormatList(r.LoudspeakerZ),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
