package multiview

import (
	"math"
	"math/cmplx"
	"math/rand"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/spatialmath"
)

// polynomials are stored with ascending powers.
type polynomial []float64

func (p polynomial) add(o polynomial) polynomial {
	n := len(p)
	if len(o) > n {
		n = len(o)
	}
	out := make(polynomial, n)
	copy(out, p)
	for i, c := range o {
		out[i] += c
	}
	return out
}

func (p polynomial) mul(o polynomial) polynomial {
	out := make(polynomial, len(p)+len(o)-1)
	for i, a := range p {
		for j, b := range o {
			out[i+j] += a * b
		}
	}
	return out
}

func (p polynomial) scale(s float64) polynomial {
	out := make(polynomial, len(p))
	for i, c := range p {
		out[i] = c * s
	}
	return out
}

func (p polynomial) eval(x float64) float64 {
	v := 0.0
	for i := len(p) - 1; i >= 0; i-- {
		v = v*x + p[i]
	}
	return v
}

// realRoots returns the real roots of p from the eigenvalues of its companion matrix.
func (p polynomial) realRoots() []float64 {
	degree := len(p) - 1
	for degree > 0 && math.Abs(p[degree]) < 1e-14 {
		degree--
	}
	if degree < 1 {
		return nil
	}
	lead := p[degree]
	companion := mat.NewDense(degree, degree, nil)
	for i := 0; i < degree; i++ {
		companion.Set(0, i, -p[degree-1-i]/lead)
		if i > 0 {
			companion.Set(i, i-1, 1)
		}
	}
	var eig mat.Eigen
	if !eig.Factorize(companion, mat.EigenNone) {
		return nil
	}
	var roots []float64
	for _, v := range eig.Values(nil) {
		if math.Abs(imag(v)) > 1e-8*(1+cmplx.Abs(v)) {
			continue
		}
		roots = append(roots, p.polish(real(v)))
	}
	return roots
}

// polish runs a few Newton steps on a root.
func (p polynomial) polish(x float64) float64 {
	deriv := make(polynomial, len(p)-1)
	for i := 1; i < len(p); i++ {
		deriv[i-1] = float64(i) * p[i]
	}
	for i := 0; i < 3; i++ {
		d := deriv.eval(x)
		if math.Abs(d) < 1e-14 {
			break
		}
		x -= p.eval(x) / d
	}
	return x
}

// AbsolutePoseP3P returns the world to camera poses consistent with three bearings and their
// world points, up to four.
func AbsolutePoseP3P(bearings, points []r3.Vector) []spatialmath.Pose {
	if len(bearings) != 3 || len(points) != 3 {
		return nil
	}
	f1, f2, f3 := bearings[0].Normalize(), bearings[1].Normalize(), bearings[2].Normalize()
	a := points[1].Distance(points[2])
	b := points[0].Distance(points[2])
	c := points[0].Distance(points[1])
	if a < 1e-12 || b < 1e-12 || c < 1e-12 {
		return nil
	}
	cosAlpha, cosBeta, cosGamma := f2.Dot(f3), f1.Dot(f3), f1.Dot(f2)
	a2, b2, c2 := a*a, b*b, c*c

	// s2 = u s1 and s3 = v s1 reduce the law of cosines to a quartic in v.
	k := polynomial{1, -2 * cosBeta, 1}
	num := polynomial{1, 0, -1}.scale(b2).add(k.scale(a2 - c2))
	den := polynomial{2 * b2 * cosGamma, -2 * b2 * cosAlpha}
	quartic := num.mul(num).scale(b2).
		add(num.mul(den).scale(-2 * b2 * cosGamma)).
		add(polynomial{b2}.add(k.scale(-c2)).mul(den).mul(den))

	var poses []spatialmath.Pose
	for _, v := range quartic.realRoots() {
		if v <= 0 {
			continue
		}
		kv := k.eval(v)
		dv := den.eval(v)
		if kv <= 0 || math.Abs(dv) < 1e-12 {
			continue
		}
		u := num.eval(v) / dv
		if u <= 0 {
			continue
		}
		s1 := math.Sqrt(b2 / kv)
		camPoints := []r3.Vector{f1.Mul(s1), f2.Mul(u * s1), f3.Mul(v * s1)}
		sim, ok := Umeyama(points, camPoints, false)
		if !ok {
			continue
		}
		poses = append(poses, spatialmath.NewPose(sim.Rotation, sim.Translation))
	}
	return poses
}

// AbsolutePoseInliers returns the correspondences whose reprojected bearing is within
// threshold of the observed one.
func AbsolutePoseInliers(bearings, points []r3.Vector, pose spatialmath.Pose, threshold float64) []int {
	var inliers []int
	for i := range bearings {
		p := pose.Transform(points[i])
		if p.Norm() < 1e-12 {
			continue
		}
		if p.Normalize().Sub(bearings[i]).Norm() < threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// AbsolutePoseRANSAC estimates a world to camera pose from bearings and world points.
func AbsolutePoseRANSAC(
	bearings, points []r3.Vector,
	opts RansacOptions,
	rng *rand.Rand,
) (spatialmath.Pose, []int, bool) {
	problem := RansacProblem[spatialmath.Pose]{
		NumData:    len(bearings),
		SampleSize: 3,
		Fit: func(sample []int) []spatialmath.Pose {
			return AbsolutePoseP3P(subset(bearings, sample), subset(points, sample))
		},
		Inliers: func(pose spatialmath.Pose) []int {
			return AbsolutePoseInliers(bearings, points, pose, opts.Threshold)
		},
	}
	res, ok := RANSAC(problem, opts, rng)
	if !ok {
		return spatialmath.Pose{}, nil, false
	}
	return res.Model, res.Inliers, true
}

// RefineAbsolutePose minimizes the bearing error of the correspondences over the pose.
func RefineAbsolutePose(bearings, points []r3.Vector, pose spatialmath.Pose, iterations int) spatialmath.Pose {
	if len(bearings) == 0 {
		return pose
	}
	t0 := pose.Translation()
	decode := func(x []float64) spatialmath.Pose {
		return spatialmath.NewPose(perturb(pose.Rotation(), x[:3]), r3.Vector{X: x[3], Y: x[4], Z: x[5]})
	}
	cost := func(x []float64) float64 {
		cand := decode(x)
		sum := 0.0
		for i := range bearings {
			p := cand.Transform(points[i])
			if p.Norm() < 1e-12 {
				sum += 4
				continue
			}
			sum += p.Normalize().Sub(bearings[i]).Norm2()
		}
		return sum
	}
	x := minimize(cost, []float64{0, 0, 0, t0.X, t0.Y, t0.Z}, iterations)
	return decode(x)
}
