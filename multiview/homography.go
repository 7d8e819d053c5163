package multiview

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/spatialmath"
)

// minPlanarDepth is the smallest bearing z for which a plane projection is used.
const minPlanarDepth = 1e-3

// HomographyDLT estimates H with x2 ~ H x1 from at least four planar correspondences.
func HomographyDLT(pts1, pts2 []r2.Point) (*mat.Dense, bool) {
	if len(pts1) < 4 || len(pts1) != len(pts2) {
		return nil, false
	}
	n1, t1 := normalizePoints(pts1)
	n2, t2 := normalizePoints(pts2)
	a := mat.NewDense(2*len(pts1), 9, nil)
	for i := range n1 {
		x1, y1 := n1[i].X, n1[i].Y
		x2, y2 := n2[i].X, n2[i].Y
		a.SetRow(2*i, []float64{-x1, -y1, -1, 0, 0, 0, x2 * x1, x2 * y1, x2})
		a.SetRow(2*i+1, []float64{0, 0, 0, -x1, -y1, -1, y2 * x1, y2 * y1, y2})
	}
	h, ok := nullVector(a)
	if !ok {
		return nil, false
	}
	hn := mat.NewDense(3, 3, h)
	var t2inv mat.Dense
	if err := t2inv.Inverse(t2); err != nil {
		return nil, false
	}
	var out mat.Dense
	out.Mul(&t2inv, hn)
	out.Mul(&out, t1)
	if math.Abs(out.At(2, 2)) > 1e-12 {
		out.Scale(1/out.At(2, 2), &out)
	}
	return &out, true
}

// ApplyHomography maps a plane point through H.
func ApplyHomography(h mat.Matrix, p r2.Point) (r2.Point, bool) {
	v := mulVec3(h, r3.Vector{X: p.X, Y: p.Y, Z: 1})
	if math.Abs(v.Z) < 1e-12 {
		return r2.Point{}, false
	}
	return r2.Point{X: v.X / v.Z, Y: v.Y / v.Z}, true
}

// PlanarProjections keeps the correspondences whose bearings both look forward and returns
// their plane projections with the original indices.
func PlanarProjections(b1, b2 []r3.Vector) (pts1, pts2 []r2.Point, indices []int) {
	for i := range b1 {
		if b1[i].Z < minPlanarDepth || b2[i].Z < minPlanarDepth {
			continue
		}
		pts1 = append(pts1, r2.Point{X: b1[i].X / b1[i].Z, Y: b1[i].Y / b1[i].Z})
		pts2 = append(pts2, r2.Point{X: b2[i].X / b2[i].Z, Y: b2[i].Y / b2[i].Z})
		indices = append(indices, i)
	}
	return pts1, pts2, indices
}

// HomographyInliers returns the correspondences with a transfer error below threshold.
func HomographyInliers(h *mat.Dense, pts1, pts2 []r2.Point, threshold float64) []int {
	var inliers []int
	for i := range pts1 {
		p, ok := ApplyHomography(h, pts1[i])
		if ok && p.Sub(pts2[i]).Norm() < threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// HomographyRANSAC estimates a plane induced homography x2 ~ H x1.
func HomographyRANSAC(pts1, pts2 []r2.Point, opts RansacOptions, rng *rand.Rand) (*mat.Dense, []int, bool) {
	problem := RansacProblem[*mat.Dense]{
		NumData:    len(pts1),
		SampleSize: 4,
		Fit: func(sample []int) []*mat.Dense {
			h, ok := HomographyDLT(subset(pts1, sample), subset(pts2, sample))
			if !ok {
				return nil
			}
			return []*mat.Dense{h}
		},
		Inliers: func(h *mat.Dense) []int {
			return HomographyInliers(h, pts1, pts2, opts.Threshold)
		},
	}
	res, ok := RANSAC(problem, opts, rng)
	if !ok {
		return nil, nil, false
	}
	if h, ok := HomographyDLT(subset(pts1, res.Inliers), subset(pts2, res.Inliers)); ok {
		if inliers := HomographyInliers(h, pts1, pts2, opts.Threshold); len(inliers) >= len(res.Inliers) {
			return h, inliers, true
		}
	}
	return res.Model, res.Inliers, true
}

// PlaneMotion is one decomposition of a homography H = R + t nᵀ / d, with X2 = R X1 + t
// and the plane nᵀ X1 = d.
type PlaneMotion struct {
	Rotation    spatialmath.RotationMatrix
	Translation r3.Vector
	Normal      r3.Vector
	Distance    float64
}

// RelativePose converts the motion to the X1 = R X2 + t convention with unit translation.
func (pm PlaneMotion) RelativePose() RelativePose {
	rt := pm.Rotation.Transpose()
	return RelativePose{Rotation: rt, Translation: rt.Apply(pm.Translation).Mul(-1).Normalize()}
}

// MotionsFromHomography decomposes a calibrated homography into its eight candidate motions
// following Faugeras. Homographies with repeated singular values are not decomposed.
func MotionsFromHomography(h *mat.Dense) []PlaneMotion {
	mats := performSVD(h)
	if mats == nil {
		return nil
	}
	d1, d2, d3 := mats.S.At(0, 0), mats.S.At(1, 1), mats.S.At(2, 2)
	if d3 <= 0 || d1/d2 < 1.0001 || d2/d3 < 1.0001 {
		return nil
	}
	s := mat.Det(mats.U) * mat.Det(mats.VT)
	absX1 := math.Sqrt((d1*d1 - d2*d2) / (d1*d1 - d3*d3))
	absX3 := math.Sqrt((d2*d2 - d3*d3) / (d1*d1 - d3*d3))
	signs := [][2]float64{{1, 1}, {1, -1}, {-1, 1}, {-1, -1}}
	root := math.Sqrt((d1*d1 - d2*d2) * (d2*d2 - d3*d3))

	build := func(rp *mat.Dense, tp, np r3.Vector, d float64) PlaneMotion {
		var r mat.Dense
		r.Mul(mats.U, rp)
		r.Mul(&r, mats.VT)
		r.Scale(s, &r)
		return PlaneMotion{
			Rotation:    spatialmath.RotationFromDense(&r),
			Translation: mulVec3(mats.U, tp),
			Normal:      mulVec3(mats.V, np).Mul(-1),
			Distance:    d,
		}
	}

	motions := make([]PlaneMotion, 0, 8)
	// d' > 0
	for _, sign := range signs {
		x1, x3 := sign[0]*absX1, sign[1]*absX3
		sinTerm := sign[0] * sign[1] * root / ((d1 + d3) * d2)
		cosTerm := (d2*d2 + d1*d3) / ((d1 + d3) * d2)
		rp := mat.NewDense(3, 3, []float64{
			cosTerm, 0, -sinTerm,
			0, 1, 0,
			sinTerm, 0, cosTerm,
		})
		tp := r3.Vector{X: x1, Z: -x3}.Mul(d1 - d3)
		motions = append(motions, build(rp, tp, r3.Vector{X: x1, Z: x3}, s*d2))
	}
	// d' < 0
	for _, sign := range signs {
		x1, x3 := sign[0]*absX1, sign[1]*absX3
		sinTerm := sign[0] * sign[1] * root / ((d1 - d3) * d2)
		cosTerm := (d1*d3 - d2*d2) / ((d1 - d3) * d2)
		rp := mat.NewDense(3, 3, []float64{
			cosTerm, 0, sinTerm,
			0, -1, 0,
			sinTerm, 0, -cosTerm,
		})
		tp := r3.Vector{X: x1, Z: x3}.Mul(d1 + d3)
		motions = append(motions, build(rp, tp, r3.Vector{X: x1, Z: x3}, -s*d2))
	}
	return motions
}
