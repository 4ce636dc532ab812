// Package variant enumerates the render targets of one minute.
//
// A minute is rendered as a full mixture with every source, a full mixture
// with the noise loudspeakers only, one reverberant render per talker, and
// one anechoic reference per talker. Each variant names a scene inside the
// batch description and the artifact it produces.
package variant

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Mixture is the kind of render.
type Mixture string

const (
	Full      Mixture = "full"
	Reference Mixture = "ref"
)

// Selector picks the active sources of a render.
type Selector string

const (
	All          Selector = "All"
	Loudspeakers Selector = "Ls"
	Talker       Selector = "ID"
)

// Variant is one (mixture, source selection) pair.
type Variant struct {
	Mixture  Mixture
	Selector Selector
	TalkerID int // only for Selector == Talker
}

// Validate rejects combinations that have no scene.
func (v Variant) Validate() error {
	switch v.Mixture {
	case Full, Reference:
	default:
		return fmt.Errorf("unknown mixture %q", v.Mixture)
	}
	switch v.Selector {
	case All, Loudspeakers:
		if v.Mixture == Reference {
			return fmt.Errorf("reference variants need a single talker, got %q", v.Selector)
		}
		if v.TalkerID != 0 {
			return fmt.Errorf("selector %q takes no talker id", v.Selector)
		}
	case Talker:
		if v.TalkerID <= 0 {
			return fmt.Errorf("talker selector needs a positive id, got %d", v.TalkerID)
		}
	default:
		return fmt.Errorf("unknown selector %q", v.Selector)
	}
	return nil
}

// IsReference reports whether the variant derives a reference pair.
func (v Variant) IsReference() bool { return v.Mixture == Reference }

func (v Variant) source() string {
	if v.Selector == Talker {
		return fmt.Sprintf("%s%d", Talker, v.TalkerID)
	}
	return string(v.Selector)
}

// Name is the short identity used in logs and the ledger, e.g. "ref_ID4".
func (v Variant) Name() string {
	return fmt.Sprintf("%s_%s", v.Mixture, v.source())
}

func (v Variant) String() string { return v.Name() }

// SceneName is the scene inside the batch description, e.g. "Scene_full_sourceID3".
func (v Variant) SceneName() string {
	return fmt.Sprintf("Scene_%s_source%s", v.Mixture, v.source())
}

// ArrayFileName is the final microphone-array artifact, e.g. "array_full_All.wav".
func (v Variant) ArrayFileName() string {
	return fmt.Sprintf("array_%s_%s.wav", v.Mixture, v.source())
}

// IntermediateName is the stem of the ambisonic render, e.g. "HOA15_ref_sourceID4".
func (v Variant) IntermediateName(order int) string {
	return fmt.Sprintf("HOA%d_%s_source%s", order, v.Mixture, v.source())
}

// ReferenceFileName is the derived two-channel file of a reference variant.
func (v Variant) ReferenceFileName(dataset, session int, minute string) string {
	return fmt.Sprintf("ref_D%d_S%d_M%s_ID%d.wav", dataset, session, minute, v.TalkerID)
}

// Enumerate returns every variant for the active talkers: full/All,
// full/Ls, full per talker, then ref per talker, talkers ascending.
func Enumerate(talkers []int) []Variant {
	ids := slices.Clone(talkers)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	out := make([]Variant, 0, 2+2*len(ids))
	out = append(out,
		Variant{Mixture: Full, Selector: All},
		Variant{Mixture: Full, Selector: Loudspeakers},
	)
	for _, id := range ids {
		out = append(out, Variant{Mixture: Full, Selector: Talker, TalkerID: id})
	}
	for _, id := range ids {
		out = append(out, Variant{Mixture: Reference, Selector: Talker, TalkerID: id})
	}
	return out
}

// Parse is the inverse of Name.
func Parse(name string) (Variant, error) {
	mix, src, ok := strings.Cut(name, "_")
	if !ok {
		return Variant{}, fmt.Errorf("invalid variant name %q", name)
	}
	v := Variant{Mixture: Mixture(mix)}
	switch {
	case src == string(All) || src == string(Loudspeakers):
		v.Selector = Selector(src)
	case strings.HasPrefix(src, string(Talker)):
		id, err := strconv.Atoi(strings.TrimPrefix(src, string(Talker)))
		if err != nil {
			return Variant{}, fmt.Errorf("invalid talker in variant %q: %w", name, err)
		}
		v.Selector = Talker
		v.TalkerID = id
	default:
		return Variant{}, fmt.Errorf("invalid source in variant %q", name)
	}
	if err := v.Validate(); err != nil {
		return Variant{}, err
	}
	return v, nil
}
