package multiview

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/spatialmath"
)

// Umeyama returns the similarity minimizing Σ|dst - (s R src + t)|². The scale is fixed to
// one when withScale is false. It fails on empty or fully degenerate inputs.
func Umeyama(src, dst []r3.Vector, withScale bool) (spatialmath.Similarity, bool) {
	n := len(src)
	if n == 0 || n != len(dst) {
		return spatialmath.Similarity{}, false
	}
	var muSrc, muDst r3.Vector
	for i := range src {
		muSrc = muSrc.Add(src[i])
		muDst = muDst.Add(dst[i])
	}
	muSrc = muSrc.Mul(1 / float64(n))
	muDst = muDst.Mul(1 / float64(n))

	cov := mat.NewDense(3, 3, nil)
	varSrc := 0.0
	for i := range src {
		ds := src[i].Sub(muSrc)
		dd := dst[i].Sub(muDst)
		cov.Add(cov, outer(dd, ds))
		varSrc += ds.Norm2()
	}
	cov.Scale(1/float64(n), cov)
	varSrc /= float64(n)

	mats := performSVD(cov)
	if mats == nil {
		return spatialmath.Similarity{}, false
	}
	S := eye(3)
	if mat.Det(mats.U)*mat.Det(mats.V) < 0 {
		S.Set(2, 2, -1)
	}
	var r mat.Dense
	r.Mul(mats.U, S)
	r.Mul(&r, mats.VT)
	rotation := spatialmath.RotationFromDense(&r)

	scale := 1.0
	if withScale {
		if varSrc < 1e-20 {
			return spatialmath.Similarity{}, false
		}
		trace := 0.0
		for i := 0; i < 3; i++ {
			trace += mats.S.At(i, i) * S.At(i, i)
		}
		scale = trace / varSrc
	}
	translation := muDst.Sub(rotation.Apply(muSrc).Mul(scale))
	return spatialmath.NewSimilarity(scale, rotation, translation), true
}

// Similarity2D is a planar similarity x' = Scale R(Angle) x + Translation.
type Similarity2D struct {
	Scale       float64
	Angle       float64
	Translation r2.Point
}

// Apply transforms a point.
func (s Similarity2D) Apply(p r2.Point) r2.Point {
	c, sn := math.Cos(s.Angle), math.Sin(s.Angle)
	return r2.Point{X: c*p.X - sn*p.Y, Y: sn*p.X + c*p.Y}.Mul(s.Scale).Add(s.Translation)
}

// Umeyama2D is the planar version of Umeyama, with scale.
func Umeyama2D(src, dst []r2.Point) (Similarity2D, bool) {
	n := len(src)
	if n < 2 || n != len(dst) {
		return Similarity2D{}, false
	}
	var muSrc, muDst r2.Point
	for i := range src {
		muSrc = muSrc.Add(src[i])
		muDst = muDst.Add(dst[i])
	}
	muSrc = muSrc.Mul(1 / float64(n))
	muDst = muDst.Mul(1 / float64(n))
	// With complex numbers z' = a z, a = Σ conj(zs) zd / Σ |zs|².
	var re, im, varSrc float64
	for i := range src {
		ds := src[i].Sub(muSrc)
		dd := dst[i].Sub(muDst)
		re += ds.Dot(dd)
		im += ds.Cross(dd)
		varSrc += ds.Dot(ds)
	}
	if varSrc < 1e-20 {
		return Similarity2D{}, false
	}
	scale := math.Hypot(re, im) / varSrc
	if scale == 0 {
		return Similarity2D{}, false
	}
	sim := Similarity2D{Scale: scale, Angle: math.Atan2(im, re)}
	sim.Translation = muDst.Sub(sim.Apply(muSrc))
	return sim, true
}

// SimilarityInliers returns the correspondences with |sim(src) - dst| < threshold.
func SimilarityInliers(src, dst []r3.Vector, sim spatialmath.Similarity, threshold float64) []int {
	var inliers []int
	for i := range src {
		if sim.Apply(src[i]).Sub(dst[i]).Norm() < threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// SimilarityRANSAC fits a similarity mapping src onto dst from three point samples, then
// refits it on the best inlier set.
func SimilarityRANSAC(src, dst []r3.Vector, opts RansacOptions, rng *rand.Rand) (spatialmath.Similarity, []int, bool) {
	problem := RansacProblem[spatialmath.Similarity]{
		NumData:    len(src),
		SampleSize: 3,
		Fit: func(sample []int) []spatialmath.Similarity {
			sim, ok := Umeyama(subset(src, sample), subset(dst, sample), true)
			if !ok || !sim.Valid() {
				return nil
			}
			return []spatialmath.Similarity{sim}
		},
		Inliers: func(sim spatialmath.Similarity) []int {
			return SimilarityInliers(src, dst, sim, opts.Threshold)
		},
	}
	res, ok := RANSAC(problem, opts, rng)
	if !ok {
		return spatialmath.Similarity{}, nil, false
	}
	if len(res.Inliers) >= 3 {
		if sim, ok := Umeyama(subset(src, res.Inliers), subset(dst, res.Inliers), true); ok && sim.Valid() {
			return sim, SimilarityInliers(src, dst, sim, opts.Threshold), true
		}
	}
	return res.Model, res.Inliers, true
}
