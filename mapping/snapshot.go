package mapping

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/voxelmap/label"
	"go.viam.com/voxelmap/tsdf"
	"go.viam.com/voxelmap/voxel"
)

// Snapshot is an encoding agnostic copy of a whole map.
type Snapshot struct {
	TSDF   voxel.Snapshot[tsdf.Voxel]
	Labels voxel.Snapshot[label.Voxel]
	// Registry is the label parent table, see label.Registry.Snapshot.
	Registry []uint32
}

// A Saver persists map snapshots.
type Saver interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
}

// A Loader retrieves a snapshot saved earlier.
type Loader interface {
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
}

// Snapshot copies the map content. Each block is copied under its own lock, so a snapshot taken
// during fusion may mix blocks from before and after a frame.
func (m *Map) Snapshot() *Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return &Snapshot{
		TSDF:     m.tsdfGrid.Snapshot(),
		Labels:   m.labelGrid.Snapshot(),
		Registry: m.registry.Snapshot(),
	}
}

// Restore replaces the map content with snap. Every part of the snapshot is checked before anything
// is replaced, so a failed restore leaves the map untouched.
func (m *Map) Restore(snap *Snapshot) error {
	if snap == nil {
		return errNilSnapshot
	}
	var err error
	if snap.TSDF.VoxelSize != m.cfg.VoxelSize || snap.TSDF.VoxelsPerSide != m.cfg.VoxelsPerSide {
		err = multierr.Append(err, NewGeometryMismatchError(layerTSDF, snap.TSDF.VoxelSize, snap.TSDF.VoxelsPerSide, m.cfg))
	}
	if snap.Labels.VoxelSize != m.cfg.VoxelSize || snap.Labels.VoxelsPerSide != m.cfg.VoxelsPerSide {
		err = multierr.Append(err, NewGeometryMismatchError(layerLabels, snap.Labels.VoxelSize, snap.Labels.VoxelsPerSide, m.cfg))
	}
	if err != nil {
		return err
	}

	tsdfGrid, tsdfErr := voxel.NewGridFromSnapshot(snap.TSDF)
	labelGrid, labelErr := voxel.NewGridFromSnapshot(snap.Labels)
	registry := label.NewRegistry()
	registryErr := registry.Restore(snap.Registry)
	if labelErr == nil && registryErr == nil {
		labelErr = label.CheckSnapshot(snap.Labels, registry)
	}
	if err := multierr.Combine(
		errors.Wrap(tsdfErr, "invalid tsdf layer"),
		errors.Wrap(labelErr, "invalid label layer"),
		errors.Wrap(registryErr, "invalid label registry"),
	); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attach(tsdfGrid, labelGrid, registry)
}

// Save hands a snapshot of the map to saver.
func (m *Map) Save(ctx context.Context, saver Saver) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Wrap(saver.SaveSnapshot(ctx, m.Snapshot()), "error saving map")
}

// Load replaces the map content with the snapshot returned by loader.
func (m *Map) Load(ctx context.Context, loader Loader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap, err := loader.LoadSnapshot(ctx)
	if err != nil {
		return errors.Wrap(err, "error loading map")
	}
	return m.Restore(snap)
}
