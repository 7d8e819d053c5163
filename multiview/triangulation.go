package multiview

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// TriangulateTwoRaysMidpoint returns the midpoint of the shortest segment between two rays
// and the ray parameters. It fails for parallel rays.
func TriangulateTwoRaysMidpoint(o1, d1, o2, d2 r3.Vector) (point r3.Vector, l1, l2 float64, ok bool) {
	a := d1.Dot(d1)
	b := d1.Dot(d2)
	c := d2.Dot(d2)
	w := o2.Sub(o1)
	det := a*c - b*b
	if math.Abs(det) < 1e-14*a*c {
		return r3.Vector{}, 0, 0, false
	}
	e := d1.Dot(w)
	f := d2.Dot(w)
	l1 = (c*e - b*f) / det
	l2 = (b*e - a*f) / det
	p1 := o1.Add(d1.Mul(l1))
	p2 := o2.Add(d2.Mul(l2))
	return p1.Add(p2).Mul(0.5), l1, l2, true
}

// MaxRayAngle returns the largest angle in radians between any two rays.
func MaxRayAngle(bearings []r3.Vector) float64 {
	best := 0.0
	for i := range bearings {
		for j := i + 1; j < len(bearings); j++ {
			if a := bearings[i].Angle(bearings[j]).Radians(); a > best {
				best = a
			}
		}
	}
	return best
}

// midpoint solves for the point closest to all rays in the least squares sense.
func midpoint(origins, bearings []r3.Vector) (r3.Vector, bool) {
	a := mat.NewDense(3, 3, nil)
	rhs := mat.NewVecDense(3, nil)
	for i, b := range bearings {
		b = b.Normalize()
		proj := eye(3)
		proj.Sub(proj, outer(b, b))
		a.Add(a, proj)
		var pb mat.VecDense
		pb.MulVec(proj, denseFromVector(origins[i]))
		rhs.AddVec(rhs, &pb)
	}
	var x mat.VecDense
	if err := x.SolveVec(a, rhs); err != nil {
		return r3.Vector{}, false
	}
	return vectorFromDense(&x), true
}

// checkReprojection verifies that every ray sees the point within its chord threshold and in
// front of its origin.
func checkReprojection(point r3.Vector, origins, bearings []r3.Vector, thresholds []float64, minDepth float64) bool {
	for i, b := range bearings {
		d := point.Sub(origins[i])
		if d.Dot(b) < minDepth {
			return false
		}
		if d.Normalize().Sub(b).Norm() > thresholds[i] {
			return false
		}
	}
	return true
}

// TriangulateBearingsMidpoint triangulates world rays given by their origins and world
// frame bearings. It fails when the rays are too close to parallel, when a ray sees the
// point farther than its threshold, or when the point is closer than minDepth to a ray
// origin.
func TriangulateBearingsMidpoint(
	origins, bearings []r3.Vector,
	thresholds []float64,
	minAngle, minDepth float64,
) (r3.Vector, bool) {
	if len(bearings) < 2 || MaxRayAngle(bearings) < minAngle {
		return r3.Vector{}, false
	}
	point, ok := midpoint(origins, bearings)
	if !ok || !checkReprojection(point, origins, bearings, thresholds, minDepth) {
		return r3.Vector{}, false
	}
	return point, true
}

// TriangulateBearingsDLT triangulates camera frame bearings observed by cameras with the
// given 3x4 world to camera matrices.
func TriangulateBearingsDLT(
	rts []*mat.Dense,
	bearings []r3.Vector,
	threshold, minAngle, minDepth float64,
) (r3.Vector, bool) {
	if len(bearings) < 2 {
		return r3.Vector{}, false
	}
	a := mat.NewDense(3*len(bearings), 4, nil)
	worldBearings := make([]r3.Vector, len(bearings))
	origins := make([]r3.Vector, len(bearings))
	for i, b := range bearings {
		p := rts[i]
		rot := p.Slice(0, 3, 0, 3)
		worldBearings[i] = mulVec3(rot.T(), b)
		var tr mat.VecDense
		tr.MulVec(rot.T(), p.ColView(3))
		origins[i] = vectorFromDense(&tr).Mul(-1)
		bv := []float64{b.X, b.Y, b.Z}
		// b × (P X) = 0
		for row := 0; row < 3; row++ {
			j, k := (row+1)%3, (row+2)%3
			for c := 0; c < 4; c++ {
				a.Set(3*i+row, c, bv[j]*p.At(k, c)-bv[k]*p.At(j, c))
			}
		}
	}
	if MaxRayAngle(worldBearings) < minAngle {
		return r3.Vector{}, false
	}
	x, ok := nullVector(a)
	if !ok || math.Abs(x[3]) < 1e-12 {
		return r3.Vector{}, false
	}
	point := r3.Vector{X: x[0] / x[3], Y: x[1] / x[3], Z: x[2] / x[3]}
	thresholds := make([]float64, len(bearings))
	for i := range thresholds {
		thresholds[i] = threshold
	}
	if !checkReprojection(point, origins, worldBearings, thresholds, minDepth) {
		return r3.Vector{}, false
	}
	return point, true
}

// RefinePoint minimizes the bearing error of a point seen from world rays with Gauss-Newton.
func RefinePoint(origins, bearings []r3.Vector, point r3.Vector, iterations int) r3.Vector {
	n := len(bearings)
	for it := 0; it < iterations; it++ {
		jac := mat.NewDense(3*n, 3, nil)
		res := mat.NewVecDense(3*n, nil)
		for i, b := range bearings {
			d := point.Sub(origins[i])
			norm := d.Norm()
			if norm < 1e-12 {
				return point
			}
			u := d.Mul(1 / norm)
			r := u.Sub(b)
			res.SetVec(3*i, r.X)
			res.SetVec(3*i+1, r.Y)
			res.SetVec(3*i+2, r.Z)
			j := eye(3)
			j.Sub(j, outer(u, u))
			j.Scale(1/norm, j)
			jac.Slice(3*i, 3*i+3, 0, 3).(*mat.Dense).Copy(j)
		}
		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		var jtr mat.VecDense
		jtr.MulVec(jac.T(), res)
		var step mat.VecDense
		if err := step.SolveVec(&jtj, &jtr); err != nil {
			return point
		}
		delta := vectorFromDense(&step)
		point = point.Sub(delta)
		if delta.Norm() < 1e-12*(1+point.Norm()) {
			break
		}
	}
	return point
}
