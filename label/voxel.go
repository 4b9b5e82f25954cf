// Package label fuses per-point segment labels into a voxel grid of label histograms with
// persistent label ids.
package label

import (
	"maps"
	"slices"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/voxelmap/voxel"
)

// Voxel is a histogram from persistent label id to the number of observations of that label.
type Voxel struct {
	Counts map[uint32]uint32
}

// Clone returns a deep copy.
func (v Voxel) Clone() Voxel {
	if v.Counts == nil {
		return Voxel{}
	}
	return Voxel{Counts: maps.Clone(v.Counts)}
}

// Empty reports whether the voxel was never labeled.
func (v Voxel) Empty() bool {
	return len(v.Counts) == 0
}

// Total returns the number of observations.
func (v Voxel) Total() uint32 {
	return lo.Sum(lo.Values(v.Counts))
}

// Labels returns the ids present in the histogram in increasing order.
func (v Voxel) Labels() []uint32 {
	ids := lo.Keys(v.Counts)
	slices.Sort(ids)
	return ids
}

// Observe counts one observation of id.
func (v *Voxel) Observe(id uint32) {
	if v.Counts == nil {
		v.Counts = map[uint32]uint32{}
	}
	v.Counts[id]++
}

// Dominant returns the id with the highest count, ties going to the lowest id. An empty voxel
// returns UnknownLabel.
func (v Voxel) Dominant() (uint32, uint32) {
	return dominant(v.Counts)
}

func dominant(counts map[uint32]uint32) (uint32, uint32) {
	best, bestCount := UnknownLabel, uint32(0)
	for id, c := range counts {
		if c > bestCount || (c == bestCount && id < best) {
			best, bestCount = id, c
		}
	}
	return best, bestCount
}

// DominantLabel returns the surviving id with the most observations in v once merged ids are
// resolved through reg, and its count.
func DominantLabel(v Voxel, reg *Registry) (uint32, uint32) {
	return dominant(v.resolved(reg))
}

// resolved returns the histogram with every id replaced by its surviving id.
func (v Voxel) resolved(reg *Registry) map[uint32]uint32 {
	out := make(map[uint32]uint32, len(v.Counts))
	for id, c := range v.Counts {
		out[reg.Find(id)] += c
	}
	return out
}

// canonicalize rewrites the histogram in place so that every id is a surviving id.
func (v *Voxel) canonicalize(reg *Registry) {
	for id := range v.Counts {
		if reg.Find(id) != id {
			v.Counts = v.resolved(reg)
			return
		}
	}
}

// CheckSnapshot reports the first histogram in snap that counts the unknown label or an id reg
// never issued.
func CheckSnapshot(snap voxel.Snapshot[Voxel], reg *Registry) error {
	highest := reg.Highest()
	for _, b := range snap.Blocks {
		for _, v := range b.Voxels {
			if len(v.Counts) == 0 {
				continue
			}
			if _, ok := v.Counts[UnknownLabel]; ok {
				return errors.Errorf("block %v counts the unknown label", b.Index)
			}
			if top := lo.Max(lo.Keys(v.Counts)); top > highest {
				return errors.Errorf("block %v counts label %d, highest issued is %d", b.Index, top, highest)
			}
		}
	}
	return nil
}
