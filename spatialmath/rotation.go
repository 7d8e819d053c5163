// Package spatialmath contains rotations, rigid poses, similarity transforms and the geodetic
// reference frame used to geo-reference reconstructions.
package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// RotationMatrix is a 3x3 orthonormal matrix stored row major.
type RotationMatrix struct {
	mat [9]float64
}

// IdentityRotation returns the identity rotation.
func IdentityRotation() RotationMatrix {
	return RotationMatrix{mat: [9]float64{1, 0, 0, 0, 1, 0, 0, 0, 1}}
}

// NewRotationMatrix creates a rotation from nine row-major values. The values are not
// re-orthonormalized; use ProjectToRotation for noisy input.
func NewRotationMatrix(data []float64) (RotationMatrix, error) {
	if len(data) != 9 {
		return RotationMatrix{}, errors.Errorf("rotation matrix requires 9 values, got %d", len(data))
	}
	var rm RotationMatrix
	copy(rm.mat[:], data)
	return rm, nil
}

// RotationFromRows builds a rotation from its three rows.
func RotationFromRows(r0, r1, r2 r3.Vector) RotationMatrix {
	return RotationMatrix{mat: [9]float64{r0.X, r0.Y, r0.Z, r1.X, r1.Y, r1.Z, r2.X, r2.Y, r2.Z}}
}

// RotationFromDense copies the top left 3x3 block of m.
func RotationFromDense(m mat.Matrix) RotationMatrix {
	var rm RotationMatrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rm.mat[3*i+j] = m.At(i, j)
		}
	}
	return rm
}

// ProjectToRotation returns the rotation closest to m in the Frobenius sense.
func ProjectToRotation(m mat.Matrix) RotationMatrix {
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return IdentityRotation()
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	var r mat.Dense
	r.Mul(&u, v.T())
	if mat.Det(&r) < 0 {
		d := mat.NewDiagDense(3, []float64{1, 1, -1})
		var ud mat.Dense
		ud.Mul(&u, d)
		r.Mul(&ud, v.T())
	}
	return RotationFromDense(&r)
}

// At returns the value at row, col.
func (rm RotationMatrix) At(row, col int) float64 {
	return rm.mat[3*row+col]
}

// Row returns a row as a vector.
func (rm RotationMatrix) Row(row int) r3.Vector {
	return r3.Vector{X: rm.mat[3*row], Y: rm.mat[3*row+1], Z: rm.mat[3*row+2]}
}

// Col returns a column as a vector.
func (rm RotationMatrix) Col(col int) r3.Vector {
	return r3.Vector{X: rm.mat[col], Y: rm.mat[3+col], Z: rm.mat[6+col]}
}

// Data returns a copy of the row-major values.
func (rm RotationMatrix) Data() []float64 {
	out := make([]float64, 9)
	copy(out, rm.mat[:])
	return out
}

// Dense returns the rotation as a gonum matrix.
func (rm RotationMatrix) Dense() *mat.Dense {
	return mat.NewDense(3, 3, rm.Data())
}

// Apply returns R v.
func (rm RotationMatrix) Apply(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rm.mat[0]*v.X + rm.mat[1]*v.Y + rm.mat[2]*v.Z,
		Y: rm.mat[3]*v.X + rm.mat[4]*v.Y + rm.mat[5]*v.Z,
		Z: rm.mat[6]*v.X + rm.mat[7]*v.Y + rm.mat[8]*v.Z,
	}
}

// ApplyInverse returns R^T v.
func (rm RotationMatrix) ApplyInverse(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: rm.mat[0]*v.X + rm.mat[3]*v.Y + rm.mat[6]*v.Z,
		Y: rm.mat[1]*v.X + rm.mat[4]*v.Y + rm.mat[7]*v.Z,
		Z: rm.mat[2]*v.X + rm.mat[5]*v.Y + rm.mat[8]*v.Z,
	}
}

// Transpose returns R^T, which is also the inverse rotation.
func (rm RotationMatrix) Transpose() RotationMatrix {
	m := rm.mat
	return RotationMatrix{mat: [9]float64{m[0], m[3], m[6], m[1], m[4], m[7], m[2], m[5], m[8]}}
}

// Mul returns the product rm * other.
func (rm RotationMatrix) Mul(other RotationMatrix) RotationMatrix {
	var out RotationMatrix
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += rm.mat[3*i+k] * other.mat[3*k+j]
			}
			out.mat[3*i+j] = sum
		}
	}
	return out
}

// AxisAngle returns the rotation as a rotation vector whose norm is the angle in radians.
func (rm RotationMatrix) AxisAngle() r3.Vector {
	m := rm.mat
	cosTheta := (m[0] + m[4] + m[8] - 1) / 2
	cosTheta = math.Max(-1, math.Min(1, cosTheta))
	theta := math.Acos(cosTheta)
	w := r3.Vector{X: m[7] - m[5], Y: m[2] - m[6], Z: m[3] - m[1]}
	if theta < 1e-8 {
		return w.Mul(0.5)
	}
	if math.Pi-theta < 1e-6 {
		// near pi the antisymmetric part vanishes; recover the axis from the diagonal.
		xx := math.Sqrt(math.Max(0, (m[0]+1)/2))
		yy := math.Sqrt(math.Max(0, (m[4]+1)/2))
		zz := math.Sqrt(math.Max(0, (m[8]+1)/2))
		axis := r3.Vector{X: xx, Y: yy, Z: zz}
		switch {
		case xx >= yy && xx >= zz:
			axis.Y = math.Copysign(yy, m[1]+m[3])
			axis.Z = math.Copysign(zz, m[2]+m[6])
		case yy >= zz:
			axis.X = math.Copysign(xx, m[1]+m[3])
			axis.Z = math.Copysign(zz, m[5]+m[7])
		default:
			axis.X = math.Copysign(xx, m[2]+m[6])
			axis.Y = math.Copysign(yy, m[5]+m[7])
		}
		return axis.Normalize().Mul(theta)
	}
	return w.Mul(theta / (2 * math.Sin(theta)))
}

// RotationFromAxisAngle builds a rotation from a rotation vector (Rodrigues formula).
func RotationFromAxisAngle(v r3.Vector) RotationMatrix {
	theta := v.Norm()
	if theta < 1e-12 {
		// first order expansion I + [v]x
		return RotationMatrix{mat: [9]float64{
			1, -v.Z, v.Y,
			v.Z, 1, -v.X,
			-v.Y, v.X, 1,
		}}
	}
	k := v.Mul(1 / theta)
	c, s := math.Cos(theta), math.Sin(theta)
	t := 1 - c
	return RotationMatrix{mat: [9]float64{
		c + k.X*k.X*t, k.X*k.Y*t - k.Z*s, k.X*k.Z*t + k.Y*s,
		k.Y*k.X*t + k.Z*s, c + k.Y*k.Y*t, k.Y*k.Z*t - k.X*s,
		k.Z*k.X*t - k.Y*s, k.Z*k.Y*t + k.X*s, c + k.Z*k.Z*t,
	}}
}

// RotationBetween returns the rotation taking unit direction from onto unit direction to.
func RotationBetween(from, to r3.Vector) RotationMatrix {
	a, b := from.Normalize(), to.Normalize()
	axis := a.Cross(b)
	sinAngle := axis.Norm()
	cosAngle := a.Dot(b)
	if sinAngle < 1e-12 {
		if cosAngle > 0 {
			return IdentityRotation()
		}
		// opposite directions: half turn about any axis orthogonal to a
		ortho := a.Ortho()
		return RotationFromAxisAngle(ortho.Mul(math.Pi))
	}
	return RotationFromAxisAngle(axis.Mul(math.Atan2(sinAngle, cosAngle) / sinAngle))
}

// SkewMatrix returns the cross product matrix [v]x such that [v]x w = v x w.
func SkewMatrix(v r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	})
}
