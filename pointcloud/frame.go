package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/voxelmap/spatialmath"
)

// Frame is one batch of range observations. Points are expressed in the sensor frame and Pose
// places the sensor in the map frame. Colors, Labels and Weights are optional; when present
// they are parallel to Points.
type Frame struct {
	Pose    spatialmath.Pose
	Points  []r3.Vector
	Colors  []color.NRGBA
	Labels  []uint32
	Weights []float64
}

// Validate rejects frames whose optional slices do not line up with the points.
func (f *Frame) Validate() error {
	n := len(f.Points)
	if f.Pose == nil {
		return errors.New("frame has no pose")
	}
	if len(f.Colors) != 0 && len(f.Colors) != n {
		return errors.Errorf("frame has %d colors for %d points", len(f.Colors), n)
	}
	if len(f.Labels) != 0 && len(f.Labels) != n {
		return errors.Errorf("frame has %d labels for %d points", len(f.Labels), n)
	}
	if len(f.Weights) != 0 && len(f.Weights) != n {
		return errors.Errorf("frame has %d weights for %d points", len(f.Weights), n)
	}
	for i, w := range f.Weights {
		if math.IsNaN(w) || w < 0 {
			return errors.Errorf("frame weight %d is %v, expected a non-negative number", i, w)
		}
	}
	return nil
}

// Size returns the number of points.
func (f *Frame) Size() int {
	return len(f.Points)
}

// HasColors reports whether every point carries a color.
func (f *Frame) HasColors() bool {
	return len(f.Colors) != 0 && len(f.Colors) == len(f.Points)
}

// HasLabels reports whether every point carries a segment label.
func (f *Frame) HasLabels() bool {
	return len(f.Labels) != 0 && len(f.Labels) == len(f.Points)
}

// Origin returns the sensor position in the map frame.
func (f *Frame) Origin() r3.Vector {
	return f.Pose.Point()
}

// WorldPoint returns point i in the map frame.
func (f *Frame) WorldPoint(i int) r3.Vector {
	return f.Pose.Transform(f.Points[i])
}

// Weight returns the weight modifier of point i, 1 when the frame carries none.
func (f *Frame) Weight(i int) float64 {
	if len(f.Weights) == 0 {
		return 1
	}
	return f.Weights[i]
}

// NewFrameFromPointCloud builds a frame from a cloud captured at pose. Colors are taken from color
// data and labels from value data; either must be present on every point or on none.
func NewFrameFromPointCloud(pose spatialmath.Pose, cloud PointCloud) (*Frame, error) {
	if pose == nil {
		pose = spatialmath.NewZeroPose()
	}
	meta := cloud.MetaData()
	f := &Frame{Pose: pose, Points: make([]r3.Vector, 0, cloud.Size())}
	if meta.HasColor {
		f.Colors = make([]color.NRGBA, 0, cloud.Size())
	}
	if meta.HasValue {
		f.Labels = make([]uint32, 0, cloud.Size())
	}

	var err error
	cloud.Iterate(0, 0, func(p r3.Vector, d Data) bool {
		i := len(f.Points)
		f.Points = append(f.Points, p)
		if meta.HasColor {
			if d == nil || !d.HasColor() {
				err = errors.Errorf("point %d at %v has no color", i, p)
				return false
			}
			f.Colors = append(f.Colors, d.Color())
		}
		if meta.HasValue {
			if d == nil || !d.HasValue() {
				err = errors.Errorf("point %d at %v has no label", i, p)
				return false
			}
			if d.Value() < 0 || int64(d.Value()) > math.MaxUint32 {
				err = errors.Errorf("point %d at %v has label %d outside the uint32 range", i, p, d.Value())
				return false
			}
			f.Labels = append(f.Labels, uint32(d.Value()))
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return f, nil
}

// ToPointCloud returns the frame's points in the map frame as a cloud, carrying colors and labels.
func (f *Frame) ToPointCloud() (PointCloud, error) {
	cloud := NewWithPrealloc(f.Size())
	for i := range f.Points {
		d := NewBasicData()
		if f.HasColors() {
			d.SetColor(f.Colors[i])
		}
		if f.HasLabels() {
			d.SetValue(int(f.Labels[i]))
		}
		if err := cloud.Set(f.WorldPoint(i), d); err != nil {
			return nil, err
		}
	}
	return cloud, nil
}
