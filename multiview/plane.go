package multiview

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/sfm/spatialmath"
)

// Plane is n·x + D = 0.
type Plane struct {
	Normal r3.Vector
	D      float64
}

// FitPlane fits a plane through points, parallel to the given in-plane vectors. When
// verticals are given the normal is oriented to agree with them.
func FitPlane(points, vectors, verticals []r3.Vector) Plane {
	coords := make([]float64, 0, 3*len(points))
	for _, p := range points {
		coords = append(coords, p.X, p.Y, p.Z)
	}
	s := 1.0
	if len(coords) > 1 {
		s = 1 / math.Max(1e-8, stat.PopStdDev(coords, nil))
	}

	if len(points)+len(vectors) == 0 {
		return Plane{Normal: r3.Vector{Z: 1}}
	}
	a := mat.NewDense(len(points)+len(vectors), 4, nil)
	for i, p := range points {
		a.SetRow(i, []float64{s * p.X, s * p.Y, s * p.Z, 1})
	}
	for i, v := range vectors {
		a.SetRow(len(points)+i, []float64{s * v.X, s * v.Y, s * v.Z, 0})
	}
	x, ok := nullVector(a)
	if !ok {
		return Plane{Normal: r3.Vector{Z: 1}}
	}
	plane := Plane{Normal: r3.Vector{X: x[0], Y: x[1], Z: x[2]}, D: x[3] / s}
	if plane.Normal.Norm() < 1e-8 {
		return Plane{Normal: r3.Vector{Z: 1}}
	}
	if len(verticals) > 0 {
		d := 0.0
		for _, v := range verticals {
			d += plane.Normal.Dot(v)
		}
		if d < 0 {
			plane.Normal, plane.D = plane.Normal.Mul(-1), -plane.D
		}
	}
	return plane
}

// HorizontallingRotation returns the rotation taking the plane normal to +Z.
func (p Plane) HorizontallingRotation() spatialmath.RotationMatrix {
	return spatialmath.RotationBetween(p.Normal.Normalize(), r3.Vector{Z: 1})
}
