package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
)

// Pose is a rigid transform p -> Rotation*p + Translation.
type Pose struct {
	Rotation    *RotationMatrix
	Translation r3.Vector
}

// NewPose creates a pose from a rotation and translation.
func NewPose(rotation *RotationMatrix, translation r3.Vector) Pose {
	return Pose{Rotation: rotation, Translation: translation}
}

// NewZeroPose returns the identity transform.
func NewZeroPose() Pose {
	return Pose{Rotation: NewIdentityRotation()}
}

// Transform applies the pose to a point.
func (p Pose) Transform(pt r3.Vector) r3.Vector {
	return p.Rotation.MulVec(pt).Add(p.Translation)
}

// Compose returns the pose that applies other first and then p.
func (p Pose) Compose(other Pose) Pose {
	return Pose{
		Rotation:    p.Rotation.Mul(other.Rotation),
		Translation: p.Rotation.MulVec(other.Translation).Add(p.Translation),
	}
}

// Invert returns the inverse transform.
func (p Pose) Invert() Pose {
	rt := p.Rotation.Transpose()
	return Pose{Rotation: rt, Translation: rt.MulVec(p.Translation).Mul(-1)}
}

// Matrix returns the 4x4 homogeneous matrix in row major order.
func (p Pose) Matrix() [16]float64 {
	var out [16]float64
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			out[4*row+col] = p.Rotation.At(row, col)
		}
	}
	out[3], out[7], out[11] = p.Translation.X, p.Translation.Y, p.Translation.Z
	out[15] = 1
	return out
}

// PoseAlmostEqual compares rotations elementwise within rotTol and translations within transTol.
func PoseAlmostEqual(a, b Pose, rotTol, transTol float64) bool {
	return a.Rotation.AlmostEqual(b.Rotation, rotTol) && a.Translation.Sub(b.Translation).Norm() <= transTol
}

func (p Pose) String() string {
	return fmt.Sprintf("{R: %v, t: [%.4f %.4f %.4f]}", p.Rotation, p.Translation.X, p.Translation.Y, p.Translation.Z)
}
