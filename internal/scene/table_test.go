package scene

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spearsim/scenebatch/internal/config"
)

const sampleTable = `,minute,t_scattering,room_x,room_y,room_z,center_x,center_y,center_z,absorption,damping,ls_levels,ls_x_all,ls_y_all,ls_z_all
0,0,0.1,5.0,6.0,3.0,0.5,-1.0,1.5,0.5,0.2,"[60.0, 61.5]","[1.26, -2.0]","[0.0, 1.0]","[0.9, 1.1]"
1,1.0,0.2,5.5,6.5,3.2,0.0,0.0,1.6,0.4,0.3,[62],[1.0],[2.0],[1.2]
`

func TestReadModifierTable_ParsesListsOnce(t *testing.T) {
	table, err := ReadModifierTable(strings.NewReader(sampleTable))
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())

	row, err := table.Row(0)
	require.NoError(t, err)
	assert.Equal(t, []float64{60, 61.5}, row.LoudspeakerLevels)
	assert.Equal(t, Vec3{X: 5, Y: 6, Z: 3}, row.Room)

	row, err = table.Row(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{62}, row.LoudspeakerLevels)
}

func TestModifierRow_OffsetsRelativeToCenter(t *testing.T) {
	table, err := ReadModifierTable(strings.NewReader(sampleTable))
	require.NoError(t, err)
	row, err := table.Row(0)
	require.NoError(t, err)

	params, err := row.Parameters()
	require.NoError(t, err)
	assert.Equal(t, []Vec3{{X: 0.76, Y: 1, Z: 0.9}, {X: -2.5, Y: 2, Z: 1.1}}, params.Loudspeakers.Offsets)

	// x/y come back to the absolute coordinates, z stays absolute
	pos := params.Loudspeakers.Positions(params.Scene.Center)
	assert.InDelta(t, 1.26, pos[0].X, 1e-9)
	assert.InDelta(t, 0.0, pos[0].Y, 1e-9)
	assert.InDelta(t, 0.9, pos[0].Z, 1e-9)
}

func TestModifierTable_RowLookup(t *testing.T) {
	dup := sampleTable + "2,1,0.2,5.5,6.5,3.2,0.0,0.0,1.6,0.4,0.3,[62],[1.0],[2.0],[1.2]\n"
	table, err := ReadModifierTable(strings.NewReader(dup))
	require.NoError(t, err)

	_, err = table.Row(7)
	assert.True(t, errors.Is(err, ErrMinuteNotInTable))

	_, err = table.Row(1)
	assert.ErrorContains(t, err, "appears 2 times")
}

func TestReadModifierTable_Errors(t *testing.T) {
	_, err := ReadModifierTable(strings.NewReader("minute,room_x\n0,1\n"))
	assert.ErrorContains(t, err, "missing column")

	_, err = ReadModifierTable(strings.NewReader(""))
	assert.Error(t, err)
}

func TestModifierTable_MalformedRowFailsOnlyItsMinute(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		bad    int
		good   int
		substr string
	}{
		{"bad number", strings.Replace(sampleTable, "0.5,-1.0,1.5", "0.5,abc,1.5", 1), 0, 1, `line 2: column "center_y"`},
		{"bad list", strings.Replace(sampleTable, "[1.26, -2.0]", "[1.26; -2.0]", 1), 0, 1, `column "ls_x_all"`},
		{"bad list element", strings.Replace(sampleTable, "[1.0],[2.0]", "\"[1, oops]\",[2.0]", 1), 1, 0, `line 3: column "ls_x_all": element 1`},
		{"fractional minute", strings.Replace(sampleTable, "\n1,1.0,", "\n1,1.5,", 1), 1, 0, "minute not found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := ReadModifierTable(strings.NewReader(tt.in))
			require.NoError(t, err)
			assert.Equal(t, 2, table.Len())

			_, err = table.Row(tt.bad)
			assert.ErrorContains(t, err, tt.substr)

			_, err = table.Row(tt.good)
			assert.NoError(t, err)
		})
	}
}

func TestModifierRow_MismatchedLists(t *testing.T) {
	row := ModifierRow{LoudspeakerLevels: []float64{1, 2}, LoudspeakerX: []float64{1}, LoudspeakerY: []float64{1, 2}, LoudspeakerZ: []float64{1, 2}}
	_, err := row.Parameters()
	assert.Error(t, err)
}

func TestWriteModifierTable_ReadsBack(t *testing.T) {
	rows := []ModifierRow{{
		Minute: 3, Scattering: 0.25,
		Room: Vec3{X: 4, Y: 5, Z: 2.8}, Center: Vec3{X: 0.1, Y: 0.2, Z: 1.4},
		Absorption: 0.5, Damping: 0.1,
		LoudspeakerLevels: []float64{67}, LoudspeakerX: []float64{1.5},
		LoudspeakerY: []float64{-1}, LoudspeakerZ: []float64{0.8},
	}}
	var buf bytes.Buffer
	require.NoError(t, WriteModifierTable(&buf, rows))

	table, err := ReadModifierTable(&buf)
	require.NoError(t, err)
	got, err := table.Row(3)
	require.NoError(t, err)
	assert.Equal(t, rows[0], got)
}

func TestParseList(t *testing.T) {
	got, err := ParseList(" [1, 2.5 ,-3] ")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2.5, -3}, got)

	got, err = ParseList("[]")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestFixedParameters(t *testing.T) {
	p := FixedParameters(config.DefaultSettings())

	assert.Equal(t, Vec3{X: 6.11, Y: 7.74, Z: 3.44}, p.Scene.Room)
	assert.Equal(t, Vec3{X: 0.5, Y: -0.91, Z: 1.72}, p.Scene.Center)
	assert.Equal(t, 0.6, p.Scene.Absorption)
	assert.Equal(t, 0.3, p.Scene.Damping)
	require.Len(t, p.Loudspeakers.Offsets, 10)
	for _, l := range p.Loudspeakers.Levels {
		assert.Equal(t, 67.0, l)
	}
	assert.InDelta(t, 2.055, p.Loudspeakers.Offsets[0].X, 1e-9)
	assert.InDelta(t, -2.87, p.Loudspeakers.Offsets[0].Y, 1e-9)
	assert.Equal(t, 0.87, p.Loudspeakers.Offsets[9].Z)
}

func TestNewParameterSource(t *testing.T) {
	s := config.DefaultSettings()

	_, err := NewParameterSource(1, "", s)
	assert.ErrorIs(t, err, ErrNoSimulation)

	src, err := NewParameterSource(2, "", s)
	require.NoError(t, err)
	p, err := src.Parameters(42)
	require.NoError(t, err)
	assert.Equal(t, 6.11, p.Scene.Room.X)

	dir := t.TempDir()
	_, err = NewParameterSource(3, dir, s)
	assert.Error(t, err, "missing modifier table")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ModifierTableFile), []byte(sampleTable), 0o644))
	src, err = NewParameterSource(3, dir, s)
	require.NoError(t, err)
	p, err = src.Parameters(1)
	require.NoError(t, err)
	assert.Equal(t, 5.5, p.Scene.Room.X)
}
