package pointcloud

import (
	"image/color"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/voxelmap/spatialmath"
)

func TestFrameValidate(t *testing.T) {
	f := &Frame{Points: []r3.Vector{{X: 1}, {X: 2}}}
	test.That(t, f.Validate(), test.ShouldNotBeNil)

	f.Pose = spatialmath.NewZeroPose()
	test.That(t, f.Validate(), test.ShouldBeNil)
	test.That(t, f.HasColors(), test.ShouldBeFalse)
	test.That(t, f.HasLabels(), test.ShouldBeFalse)
	test.That(t, f.Weight(1), test.ShouldEqual, 1)

	f.Colors = []color.NRGBA{{R: 1}}
	err := f.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "1 colors for 2 points")
	f.Colors = nil

	f.Labels = []uint32{1, 2, 3}
	test.That(t, f.Validate(), test.ShouldNotBeNil)
	f.Labels = []uint32{1, 2}
	test.That(t, f.Validate(), test.ShouldBeNil)
	test.That(t, f.HasLabels(), test.ShouldBeTrue)

	f.Weights = []float64{1, math.NaN()}
	test.That(t, f.Validate(), test.ShouldNotBeNil)
	f.Weights = []float64{1, -1}
	test.That(t, f.Validate(), test.ShouldNotBeNil)
	f.Weights = []float64{0.5, 2}
	test.That(t, f.Validate(), test.ShouldBeNil)
	test.That(t, f.Weight(0), test.ShouldEqual, 0.5)
}

func TestFrameWorldPoints(t *testing.T) {
	f := &Frame{
		Pose:   spatialmath.NewPose(r3.Vector{X: 1, Y: 1}, &spatialmath.R4AA{Theta: math.Pi, RZ: 1}),
		Points: []r3.Vector{{X: 2}},
	}
	test.That(t, f.Origin(), test.ShouldResemble, r3.Vector{X: 1, Y: 1})
	w := f.WorldPoint(0)
	test.That(t, w.X, test.ShouldAlmostEqual, -1)
	test.That(t, w.Y, test.ShouldAlmostEqual, 1)
	test.That(t, w.Z, test.ShouldAlmostEqual, 0)
}

func TestNewFrameFromPointCloud(t *testing.T) {
	pc := New()
	test.That(t, pc.Set(NewVector(0, 0, 1), NewColoredData(color.NRGBA{255, 0, 0, 255}).SetValue(4)), test.ShouldBeNil)
	test.That(t, pc.Set(NewVector(0, 1, 1), NewColoredData(color.NRGBA{0, 255, 0, 255}).SetValue(9)), test.ShouldBeNil)

	f, err := NewFrameFromPointCloud(nil, pc)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, f.Validate(), test.ShouldBeNil)
	test.That(t, f.Points, test.ShouldResemble, []r3.Vector{{Z: 1}, {Y: 1, Z: 1}})
	test.That(t, f.Colors, test.ShouldResemble, []color.NRGBA{{255, 0, 0, 255}, {0, 255, 0, 255}})
	test.That(t, f.Labels, test.ShouldResemble, []uint32{4, 9})

	back, err := f.ToPointCloud()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back.Size(), test.ShouldEqual, 2)
	d, ok := back.At(0, 1, 1)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, d.Value(), test.ShouldEqual, 9)

	// a labeled cloud with an unlabeled point cannot become a frame
	test.That(t, pc.Set(NewVector(5, 5, 5), NewColoredData(color.NRGBA{0, 0, 255, 255})), test.ShouldBeNil)
	_, err = NewFrameFromPointCloud(nil, pc)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "no label")

	neg := New()
	test.That(t, neg.Set(NewVector(1, 1, 1), NewValueData(-3)), test.ShouldBeNil)
	_, err = NewFrameFromPointCloud(nil, neg)
	test.That(t, err, test.ShouldNotBeNil)
}
