package paths

import (
	"path/filepath"
	"testing"
)

func TestPartition(t *testing.T) {
	tests := []struct {
		session int
		want    string
	}{
		{1, Train},
		{2, Train},
		{9, Train},
		{10, Dev},
		{11, Dev},
		{12, Dev},
		{13, Eval},
		{14, Eval},
		{15, Eval},
	}
	for _, tt := range tests {
		if got := Partition(tt.session); got != tt.want {
			t.Errorf("Partition(%d) = %q, want %q", tt.session, got, tt.want)
		}
	}
}

func TestSPEARResolver_Resolve(t *testing.T) {
	r := NewSPEARResolver("/spear")
	tests := []struct {
		dataset, session int
		cat              Category
		want             string
	}{
		{2, 11, NoisePool, "/spear/Miscellaneous/AmbientNoise/Dev"},
		{0, 0, TransferConfig, "/spear/Miscellaneous/HOA_weights"},
		{2, 1, ArrayOutput, "/spear/Main/Train/Dataset_2/Microphone_Array_Audio/Session_1"},
		{3, 14, ReferenceOutput, "/spear/Extra/Eval/Dataset_3/Reference_Audio/Session_14"},
		{4, 10, SceneWorking, "/spear/Extra/Dev/Dataset_4/TASCAR/Session_10"},
	}
	for _, tt := range tests {
		got, err := r.Resolve(tt.dataset, tt.session, tt.cat)
		if err != nil {
			t.Errorf("Resolve(%d, %d, %s) error = %v", tt.dataset, tt.session, tt.cat, err)
			continue
		}
		if got != filepath.FromSlash(tt.want) {
			t.Errorf("Resolve(%d, %d, %s) = %q, want %q", tt.dataset, tt.session, tt.cat, got, tt.want)
		}
	}
}

func TestSPEARResolver_Errors(t *testing.T) {
	if _, err := NewSPEARResolver("").Resolve(2, 1, SceneWorking); err == nil {
		t.Error("expected error for empty root")
	}
	r := NewSPEARResolver("/spear")
	if _, err := r.Resolve(2, 1, Category("bogus")); err == nil {
		t.Error("expected error for unknown category")
	}
	if _, err := r.Resolve(0, 1, SceneWorking); err == nil {
		t.Error("expected error for dataset 0")
	}
}
