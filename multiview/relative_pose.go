package multiview

import (
	"math"
	"math/rand"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/spatialmath"
)

// RelativePose is the motion between two cameras such that a point X2 in the second camera
// frame is X1 = Rotation X2 + Translation in the first. Translation has unit norm.
type RelativePose struct {
	Rotation    spatialmath.RotationMatrix
	Translation r3.Vector
}

// Reversed returns the pose of the first camera relative to the second.
func (rp RelativePose) Reversed() RelativePose {
	rt := rp.Rotation.Transpose()
	return RelativePose{Rotation: rt, Translation: rt.Apply(rp.Translation).Mul(-1)}
}

// SecondCameraPose returns the world to camera pose of the second camera when the first one
// sits at the world origin.
func (rp RelativePose) SecondCameraPose() spatialmath.Pose {
	rt := rp.Rotation.Transpose()
	return spatialmath.NewPose(rt, rt.Apply(rp.Translation).Mul(-1))
}

// essentialMinimalSample is the size of the linear essential matrix sample.
const essentialMinimalSample = 8

// EssentialFromBearings estimates E with b1ᵀ E b2 = 0 from at least eight correspondences and
// projects it on the essential manifold.
func EssentialFromBearings(b1, b2 []r3.Vector) (*mat.Dense, error) {
	if len(b1) != len(b2) {
		return nil, errors.New("sets of bearings b1 and b2 must have the same number of elements")
	}
	if len(b1) < essentialMinimalSample {
		return nil, errors.New("sets of bearings must have at least 8 elements")
	}
	m := mat.NewDense(len(b1), 9, nil)
	for i := range b1 {
		u, v := b1[i], b2[i]
		m.SetRow(i, []float64{
			u.X * v.X, u.X * v.Y, u.X * v.Z,
			u.Y * v.X, u.Y * v.Y, u.Y * v.Z,
			u.Z * v.X, u.Z * v.Y, u.Z * v.Z,
		})
	}
	e, ok := nullVector(m)
	if !ok {
		return nil, errors.New("cannot solve for the essential matrix")
	}
	essMat := mat.NewDense(3, 3, e)

	// enforce two equal singular values and a null one
	mats := performSVD(essMat)
	if mats == nil {
		return nil, errors.New("cannot factorize the essential matrix")
	}
	S := eye(3)
	S.Set(2, 2, 0)
	essMat.Mul(mats.U, S)
	essMat.Mul(essMat, mats.VT)
	return essMat, nil
}

// DecomposeEssentialMatrix decomposes the Essential matrix into its four possible motions.
func DecomposeEssentialMatrix(essMat *mat.Dense) []RelativePose {
	mats := performSVD(essMat)
	if mats == nil {
		return nil
	}
	// check determinant sign of U and V
	if mat.Det(mats.U) < 0 {
		mats.U.Scale(-1, mats.U)
	}
	if mat.Det(mats.VT) < 0 {
		mats.VT.Scale(-1, mats.VT)
	}
	W := mat.NewDense(3, 3, nil)
	W.Set(0, 1, 1)
	W.Set(1, 0, -1)
	W.Set(2, 2, 1)
	var R1, R2 mat.Dense
	// UWV^T
	R1.Mul(mats.U, W)
	R1.Mul(&R1, mats.VT)
	// UW^TV^T
	R2.Mul(mats.U, transposeDense(W))
	R2.Mul(&R2, mats.VT)
	t := vectorFromDense(mats.U.ColView(2)).Normalize()

	r1 := spatialmath.RotationFromDense(&R1)
	r2 := spatialmath.RotationFromDense(&R2)
	return []RelativePose{
		{Rotation: r1, Translation: t},
		{Rotation: r1, Translation: t.Mul(-1)},
		{Rotation: r2, Translation: t},
		{Rotation: r2, Translation: t.Mul(-1)},
	}
}

// numberPositiveDepth counts correspondences triangulated in front of both cameras.
func numberPositiveDepth(b1, b2 []r3.Vector, rp RelativePose) int {
	count := 0
	for i := range b1 {
		_, l1, l2, ok := TriangulateTwoRaysMidpoint(r3.Vector{}, b1[i], rp.Translation, rp.Rotation.Apply(b2[i]))
		if ok && l1 > 0 && l2 > 0 {
			count++
		}
	}
	return count
}

// RelativePoseFromBearings returns the essential matrix motion with the most points in front
// of both cameras.
func RelativePoseFromBearings(b1, b2 []r3.Vector) (RelativePose, bool) {
	essMat, err := EssentialFromBearings(b1, b2)
	if err != nil {
		return RelativePose{}, false
	}
	best, bestCount := RelativePose{}, 0
	for _, candidate := range DecomposeEssentialMatrix(essMat) {
		if n := numberPositiveDepth(b1, b2, candidate); n > bestCount {
			best, bestCount = candidate, n
		}
	}
	return best, bestCount > 0
}

// RelativePoseInliers returns the correspondences whose triangulated point is seen by both
// cameras within threshold, measured as the chord between unit bearings.
func RelativePoseInliers(b1, b2 []r3.Vector, rp RelativePose, threshold float64) []int {
	var inliers []int
	rt := rp.Rotation.Transpose()
	for i := range b1 {
		rb2 := rp.Rotation.Apply(b2[i])
		p, _, _, ok := TriangulateTwoRaysMidpoint(r3.Vector{}, b1[i], rp.Translation, rb2)
		if !ok {
			// parallel rays, a point at infinity
			if rb2.Sub(b1[i]).Norm() < threshold {
				inliers = append(inliers, i)
			}
			continue
		}
		br1 := p.Normalize()
		br2 := rt.Apply(p.Sub(rp.Translation)).Normalize()
		if br1.Sub(b1[i]).Norm() < threshold && br2.Sub(b2[i]).Norm() < threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// RelativePoseRANSAC estimates the relative pose of two cameras from bearing
// correspondences.
func RelativePoseRANSAC(b1, b2 []r3.Vector, opts RansacOptions, rng *rand.Rand) (RelativePose, []int, bool) {
	problem := RansacProblem[RelativePose]{
		NumData:    len(b1),
		SampleSize: essentialMinimalSample,
		Fit: func(sample []int) []RelativePose {
			s1, s2 := subset(b1, sample), subset(b2, sample)
			rp, ok := RelativePoseFromBearings(s1, s2)
			if !ok {
				return nil
			}
			return []RelativePose{rp}
		},
		Inliers: func(rp RelativePose) []int {
			return RelativePoseInliers(b1, b2, rp, opts.Threshold)
		},
	}
	res, ok := RANSAC(problem, opts, rng)
	if !ok {
		return RelativePose{}, nil, false
	}
	return res.Model, res.Inliers, true
}

func subset[T any](values []T, indices []int) []T {
	out := make([]T, len(indices))
	for i, idx := range indices {
		out[i] = values[idx]
	}
	return out
}

func sphericalToUnit(theta, phi float64) r3.Vector {
	return r3.Vector{X: math.Sin(theta) * math.Cos(phi), Y: math.Sin(theta) * math.Sin(phi), Z: math.Cos(theta)}
}

func unitToSpherical(v r3.Vector) (float64, float64) {
	v = v.Normalize()
	return math.Acos(math.Max(-1, math.Min(1, v.Z))), math.Atan2(v.Y, v.X)
}

// RefineRelativePose minimizes the angular epipolar error over the given correspondences.
func RefineRelativePose(b1, b2 []r3.Vector, rp RelativePose, iterations int) RelativePose {
	if len(b1) == 0 {
		return rp
	}
	theta, phi := unitToSpherical(rp.Translation)
	decode := func(x []float64) RelativePose {
		return RelativePose{Rotation: perturb(rp.Rotation, x[:3]), Translation: sphericalToUnit(x[3], x[4])}
	}
	cost := func(x []float64) float64 {
		cand := decode(x)
		sum := 0.0
		for i := range b1 {
			n := cand.Translation.Cross(cand.Rotation.Apply(b2[i]))
			norm := n.Norm()
			if norm < 1e-12 {
				continue
			}
			e := b1[i].Dot(n) / norm
			sum += e * e
		}
		return sum
	}
	x := minimize(cost, []float64{0, 0, 0, theta, phi}, iterations)
	return decode(x)
}

// RotationInliers returns the correspondences with |R b2 - b1| < threshold.
func RotationInliers(b1, b2 []r3.Vector, rotation spatialmath.RotationMatrix, threshold float64) []int {
	var inliers []int
	for i := range b1 {
		if rotation.Apply(b2[i]).Sub(b1[i]).Norm() < threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// RotationFromBearings returns the rotation R best aligning R b2 on b1. Rays are not
// centered, the rotation is about the camera center.
func RotationFromBearings(b1, b2 []r3.Vector) (spatialmath.RotationMatrix, bool) {
	if len(b1) < 2 || len(b1) != len(b2) {
		return spatialmath.RotationMatrix{}, false
	}
	cov := mat.NewDense(3, 3, nil)
	for i := range b1 {
		cov.Add(cov, outer(b1[i], b2[i]))
	}
	mats := performSVD(cov)
	if mats == nil || mats.S.At(1, 1) < 1e-12 {
		return spatialmath.RotationMatrix{}, false
	}
	S := eye(3)
	if mat.Det(mats.U)*mat.Det(mats.V) < 0 {
		S.Set(2, 2, -1)
	}
	var r mat.Dense
	r.Mul(mats.U, S)
	r.Mul(&r, mats.VT)
	return spatialmath.RotationFromDense(&r), true
}

// RelativeRotationRANSAC estimates a pure rotation b1 = R b2 between two cameras.
func RelativeRotationRANSAC(
	b1, b2 []r3.Vector,
	opts RansacOptions,
	rng *rand.Rand,
) (spatialmath.RotationMatrix, []int, bool) {
	problem := RansacProblem[spatialmath.RotationMatrix]{
		NumData:    len(b1),
		SampleSize: 2,
		Fit: func(sample []int) []spatialmath.RotationMatrix {
			r, ok := RotationFromBearings(subset(b1, sample), subset(b2, sample))
			if !ok {
				return nil
			}
			return []spatialmath.RotationMatrix{r}
		},
		Inliers: func(r spatialmath.RotationMatrix) []int {
			return RotationInliers(b1, b2, r, opts.Threshold)
		},
	}
	res, ok := RANSAC(problem, opts, rng)
	if !ok {
		return spatialmath.RotationMatrix{}, nil, false
	}
	return res.Model, res.Inliers, true
}
