package spatialmath

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func rotZ(t *testing.T, theta float64) *RotationMatrix {
	t.Helper()
	rm, err := NewRotationFromAxisAngle(r3.Vector{Z: 1}, theta)
	test.That(t, err, test.ShouldBeNil)
	return rm
}

func TestRotationMatrix(t *testing.T) {
	_, err := NewRotationMatrix([]float64{1, 2, 3})
	test.That(t, err, test.ShouldNotBeNil)

	rm := rotZ(t, math.Pi/2)
	test.That(t, rm.IsOrthonormal(1e-12), test.ShouldBeTrue)
	v := rm.MulVec(r3.Vector{X: 1})
	test.That(t, v.X, test.ShouldAlmostEqual, 0)
	test.That(t, v.Y, test.ShouldAlmostEqual, 1)

	test.That(t, rm.Mul(rm.Transpose()).AlmostEqual(NewIdentityRotation(), 1e-12), test.ShouldBeTrue)
	test.That(t, rm.Det(), test.ShouldAlmostEqual, 1)
	test.That(t, rm.AngleTo(NewIdentityRotation()), test.ShouldAlmostEqual, math.Pi/2)

	rows := NewRotationMatrixFromRows(rm.Row(0), rm.Row(1), rm.Row(2))
	test.That(t, rows.AlmostEqual(rm, 0), test.ShouldBeTrue)
	test.That(t, rm.Col(1), test.ShouldResemble, r3.Vector{X: rm.At(0, 1), Y: rm.At(1, 1), Z: rm.At(2, 1)})
}

func TestQuaternionRoundTrip(t *testing.T) {
	axis := r3.Vector{X: 0.3, Y: -0.5, Z: 0.8}
	for _, theta := range []float64{0.1, 1.2, 2.9, math.Pi - 1e-3} {
		rm, err := NewRotationFromAxisAngle(axis, theta)
		test.That(t, err, test.ShouldBeNil)
		back := QuatToRotationMatrix(rm.Quaternion())
		test.That(t, back.AlmostEqual(rm, 1e-9), test.ShouldBeTrue)

		aa := QuatToR4AA(rm.Quaternion())
		test.That(t, aa.Theta, test.ShouldAlmostEqual, theta, 1e-9)
		test.That(t, aa.ToR3().Normalize().Dot(axis.Normalize()), test.ShouldAlmostEqual, 1, 1e-9)
	}

	_, err := NewRotationFromAxisAngle(r3.Vector{}, 1)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPose(t *testing.T) {
	p := NewPose(rotZ(t, 0.7), r3.Vector{X: 1, Y: 2, Z: 3})
	pt := r3.Vector{X: -4, Y: 0.5, Z: 9}
	back := p.Invert().Transform(p.Transform(pt))
	test.That(t, back.Sub(pt).Norm(), test.ShouldBeLessThan, 1e-12)

	test.That(t, PoseAlmostEqual(p.Compose(p.Invert()), NewZeroPose(), 1e-12, 1e-12), test.ShouldBeTrue)
	m := p.Matrix()
	test.That(t, m[3], test.ShouldEqual, 1.)
	test.That(t, m[15], test.ShouldEqual, 1.)
}

func TestEstimateRigidTransform(t *testing.T) {
	rot, err := NewRotationFromAxisAngle(r3.Vector{X: 1, Y: 1, Z: 0}, 1.1)
	test.That(t, err, test.ShouldBeNil)
	expected := NewPose(rot, r3.Vector{X: 15, Y: -7, Z: 22})

	rnd := rand.New(rand.NewSource(3))
	src := make([]r3.Vector, 20)
	dst := make([]r3.Vector, 20)
	for i := range src {
		src[i] = r3.Vector{X: rnd.Float64() * 10, Y: rnd.Float64() * 10, Z: rnd.Float64() * 10}
		dst[i] = expected.Transform(src[i])
	}

	actual, err := EstimateRigidTransform(src, dst)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, PoseAlmostEqual(actual, expected, 1e-9, 1e-9), test.ShouldBeTrue)
	test.That(t, actual.Rotation.Det(), test.ShouldAlmostEqual, 1)

	t.Run("reflection is corrected", func(t *testing.T) {
		// A planar set mirrored through that plane is best fit by the identity, not by a reflection.
		planar := []r3.Vector{{X: 0}, {X: 1}, {Y: 1}, {X: 1, Y: 1}}
		mirrored := make([]r3.Vector, len(planar))
		for i, p := range planar {
			mirrored[i] = r3.Vector{X: p.X, Y: p.Y, Z: -p.Z}
		}
		pose, err := EstimateRigidTransform(planar, mirrored)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, pose.Rotation.Det(), test.ShouldAlmostEqual, 1)
	})

	t.Run("too few pairs", func(t *testing.T) {
		_, err := EstimateRigidTransform(src[:2], dst[:2])
		test.That(t, err, test.ShouldNotBeNil)
		_, err = EstimateRigidTransform(src[:3], dst[:4])
		test.That(t, err, test.ShouldNotBeNil)
	})
}
