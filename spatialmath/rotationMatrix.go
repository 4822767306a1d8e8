// Package spatialmath defines the rotations and rigid poses produced by pose clustering.
package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// RotationMatrix is a 3x3 matrix in row major order.
// m[3*row+col] is the element in the (row, col) position.
type RotationMatrix struct {
	mat [9]float64
}

// NewRotationMatrix creates the rotation matrix from a slice of 9 row major values.
func NewRotationMatrix(m []float64) (*RotationMatrix, error) {
	if len(m) != 9 {
		return nil, fmt.Errorf("input slice has %d elements, need exactly 9", len(m))
	}
	var rm RotationMatrix
	copy(rm.mat[:], m)
	return &rm, nil
}

// NewRotationMatrixFromRows builds the matrix whose rows are x, y and z.
func NewRotationMatrixFromRows(x, y, z r3.Vector) *RotationMatrix {
	return &RotationMatrix{[9]float64{x.X, x.Y, x.Z, y.X, y.Y, y.Z, z.X, z.Y, z.Z}}
}

// NewIdentityRotation returns the identity rotation.
func NewIdentityRotation() *RotationMatrix {
	return &RotationMatrix{[9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// NewRotationMatrixFromMat copies a 3x3 gonum matrix.
func NewRotationMatrixFromMat(m mat.Matrix) *RotationMatrix {
	var rm RotationMatrix
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			rm.mat[3*row+col] = m.At(row, col)
		}
	}
	return &rm
}

// At returns the element at (row, col).
func (rm *RotationMatrix) At(row, col int) float64 {
	return rm.mat[3*row+col]
}

// Row returns the row at the given index as a vector.
func (rm *RotationMatrix) Row(row int) r3.Vector {
	return r3.Vector{X: rm.mat[3*row], Y: rm.mat[3*row+1], Z: rm.mat[3*row+2]}
}

// Col returns the column at the given index as a vector.
func (rm *RotationMatrix) Col(col int) r3.Vector {
	return r3.Vector{X: rm.mat[col], Y: rm.mat[3+col], Z: rm.mat[6+col]}
}

// Dense returns the matrix as a gonum dense matrix.
func (rm *RotationMatrix) Dense() *mat.Dense {
	return mat.NewDense(3, 3, append([]float64(nil), rm.mat[:]...))
}

// Mul returns rm * other.
func (rm *RotationMatrix) Mul(other *RotationMatrix) *RotationMatrix {
	var out RotationMatrix
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			out.mat[3*row+col] = rm.Row(row).Dot(other.Col(col))
		}
	}
	return &out
}

// MulVec returns rm * v.
func (rm *RotationMatrix) MulVec(v r3.Vector) r3.Vector {
	return r3.Vector{X: rm.Row(0).Dot(v), Y: rm.Row(1).Dot(v), Z: rm.Row(2).Dot(v)}
}

// Transpose returns the transpose, which is also the inverse for a proper rotation.
func (rm *RotationMatrix) Transpose() *RotationMatrix {
	return NewRotationMatrixFromRows(rm.Col(0), rm.Col(1), rm.Col(2))
}

// Det returns the determinant.
func (rm *RotationMatrix) Det() float64 {
	return rm.Row(0).Dot(rm.Row(1).Cross(rm.Row(2)))
}

// IsOrthonormal reports whether rows are unit length, mutually orthogonal, and right handed
// within tol.
func (rm *RotationMatrix) IsOrthonormal(tol float64) bool {
	for i := 0; i < 3; i++ {
		if math.Abs(rm.Row(i).Norm()-1) > tol {
			return false
		}
		for j := i + 1; j < 3; j++ {
			if math.Abs(rm.Row(i).Dot(rm.Row(j))) > tol {
				return false
			}
		}
	}
	return math.Abs(rm.Det()-1) <= tol
}

// IsFinite reports whether every element is finite.
func (rm *RotationMatrix) IsFinite() bool {
	for _, v := range rm.mat {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Quaternion returns the unit quaternion for the rotation.
// See: https://www.euclideanspace.com/maths/geometry/rotations/conversions/matrixToQuaternion/index.htm
func (rm *RotationMatrix) Quaternion() quat.Number {
	m00, m01, m02 := rm.mat[0], rm.mat[1], rm.mat[2]
	m10, m11, m12 := rm.mat[3], rm.mat[4], rm.mat[5]
	m20, m21, m22 := rm.mat[6], rm.mat[7], rm.mat[8]
	trace := m00 + m11 + m22
	var q quat.Number
	switch {
	case trace > 0:
		s := 0.5 / math.Sqrt(trace+1)
		q = quat.Number{Real: 0.25 / s, Imag: (m21 - m12) * s, Jmag: (m02 - m20) * s, Kmag: (m10 - m01) * s}
	case m00 > m11 && m00 > m22:
		s := 2 * math.Sqrt(1+m00-m11-m22)
		q = quat.Number{Real: (m21 - m12) / s, Imag: 0.25 * s, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := 2 * math.Sqrt(1+m11-m00-m22)
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: 0.25 * s, Kmag: (m12 + m21) / s}
	default:
		s := 2 * math.Sqrt(1+m22-m00-m11)
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: 0.25 * s}
	}
	if q.Real < 0 {
		q = quat.Scale(-1, q)
	}
	return q
}

// QuatToRotationMatrix converts a unit quaternion to a rotation matrix.
func QuatToRotationMatrix(q quat.Number) *RotationMatrix {
	q = quat.Scale(1/quat.Abs(q), q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return &RotationMatrix{[9]float64{
		1 - 2*(y*y+z*z), 2 * (x*y - w*z), 2 * (x*z + w*y),
		2 * (x*y + w*z), 1 - 2*(x*x+z*z), 2 * (y*z - w*x),
		2 * (x*z - w*y), 2 * (y*z + w*x), 1 - 2*(x*x+y*y),
	}}
}

// AngleTo returns the angle in radians of the rotation rm^T * other.
func (rm *RotationMatrix) AngleTo(other *RotationMatrix) float64 {
	rel := rm.Transpose().Mul(other)
	c := (rel.mat[0] + rel.mat[4] + rel.mat[8] - 1) / 2
	return math.Acos(math.Max(-1, math.Min(1, c)))
}

// AlmostEqual compares elementwise within tol.
func (rm *RotationMatrix) AlmostEqual(other *RotationMatrix, tol float64) bool {
	for i := range rm.mat {
		if math.Abs(rm.mat[i]-other.mat[i]) > tol {
			return false
		}
	}
	return true
}

func (rm *RotationMatrix) String() string {
	return fmt.Sprintf("[%.4f %.4f %.4f; %.4f %.4f %.4f; %.4f %.4f %.4f]",
		rm.mat[0], rm.mat[1], rm.mat[2], rm.mat[3], rm.mat[4], rm.mat[5], rm.mat[6], rm.mat[7], rm.mat[8])
}
