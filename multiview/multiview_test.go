package multiview

import (
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/utils"
)

func rotationDistance(a, b spatialmath.RotationMatrix) float64 {
	return a.Mul(b.Transpose()).AxisAngle().Norm()
}

func randomPoints(rng *rand.Rand, n int) []r3.Vector {
	points := make([]r3.Vector, n)
	for i := range points {
		points[i] = r3.Vector{X: 2*rng.Float64() - 1, Y: 2*rng.Float64() - 1, Z: 4 + 2*rng.Float64()}
	}
	return points
}

func bearingsFrom(pose spatialmath.Pose, points []r3.Vector) []r3.Vector {
	out := make([]r3.Vector, len(points))
	for i, p := range points {
		out[i] = pose.Transform(p).Normalize()
	}
	return out
}

var secondCamera = spatialmath.NewPoseFromAxisAngle(r3.Vector{X: 0.1, Y: -0.2, Z: 0.05}, r3.Vector{X: -1, Y: 0.1, Z: 0.2})

func TestRequiredIterations(t *testing.T) {
	test.That(t, RequiredIterations(1, 8, 0.999), test.ShouldEqual, 1)
	test.That(t, RequiredIterations(0, 8, 0.999), test.ShouldEqual, math.MaxInt32)
	test.That(t, RequiredIterations(0.5, 2, 0.99), test.ShouldEqual, 17)
	test.That(t, RequiredIterations(0.5, 8, 0.999), test.ShouldBeGreaterThan, RequiredIterations(0.9, 8, 0.999))
}

func TestSampleIndices(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, n := range []int{5, 100} {
		sample := sampleIndices(rng, n, 4)
		test.That(t, len(sample), test.ShouldEqual, 4)
		seen := map[int]bool{}
		for _, i := range sample {
			test.That(t, i, test.ShouldBeBetween, -1, n)
			test.That(t, seen[i], test.ShouldBeFalse)
			seen[i] = true
		}
	}
}

func TestRelativePose(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	points := randomPoints(rng, 100)
	b1 := bearingsFrom(spatialmath.IdentityPose(), points)
	b2 := bearingsFrom(secondCamera, points)

	truthR := secondCamera.Rotation().Transpose()
	truthT := secondCamera.Origin().Normalize()

	rp, inliers, ok := RelativePoseRANSAC(b1, b2, DefaultRansacOptions(0.004), rng)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, len(inliers), test.ShouldEqual, 100)
	test.That(t, rotationDistance(rp.Rotation, truthR), test.ShouldBeLessThan, 1e-6)
	test.That(t, rp.Translation.Dot(truthT), test.ShouldBeGreaterThan, 1-1e-6)

	refined := RefineRelativePose(b1, b2, rp, 100)
	test.That(t, rotationDistance(refined.Rotation, truthR), test.ShouldBeLessThan, 1e-5)
	test.That(t, refined.Translation.Dot(truthT), test.ShouldBeGreaterThan, 1-1e-6)

	pose := rp.SecondCameraPose()
	test.That(t, rotationDistance(pose.Rotation(), secondCamera.Rotation()), test.ShouldBeLessThan, 1e-6)
	test.That(t, pose.Origin().Normalize().Dot(truthT), test.ShouldBeGreaterThan, 1-1e-6)

	reversed := rp.Reversed()
	test.That(t, len(RelativePoseInliers(b2, b1, reversed, 0.004)), test.ShouldEqual, 100)
}

func TestRelativePoseRejectsOutliers(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	points := randomPoints(rng, 80)
	b1 := bearingsFrom(spatialmath.IdentityPose(), points)
	b2 := bearingsFrom(secondCamera, points)
	for i := 0; i < 15; i++ {
		b2[i] = r3.Vector{X: rng.Float64() - 0.5, Y: rng.Float64() - 0.5, Z: 1}.Normalize()
	}
	_, inliers, ok := RelativePoseRANSAC(b1, b2, DefaultRansacOptions(0.004), rng)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, len(inliers), test.ShouldBeBetweenOrEqual, 65, 68)
}

func TestEssentialNeedsEightPoints(t *testing.T) {
	_, err := EssentialFromBearings(make([]r3.Vector, 7), make([]r3.Vector, 7))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = EssentialFromBearings(make([]r3.Vector, 9), make([]r3.Vector, 8))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRelativeRotation(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	points := randomPoints(rng, 50)
	rotationOnly := spatialmath.NewPose(secondCamera.Rotation(), r3.Vector{})
	b1 := bearingsFrom(spatialmath.IdentityPose(), points)
	b2 := bearingsFrom(rotationOnly, points)

	r, inliers, ok := RelativeRotationRANSAC(b1, b2, DefaultRansacOptions(0.016), rng)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, len(inliers), test.ShouldEqual, 50)
	test.That(t, rotationDistance(r, secondCamera.Rotation().Transpose()), test.ShouldBeLessThan, 1e-9)

	// a translating camera leaves many outliers
	b2 = bearingsFrom(secondCamera, points)
	_, inliers, _ = RelativeRotationRANSAC(b1, b2, DefaultRansacOptions(0.016), rng)
	test.That(t, len(inliers), test.ShouldBeLessThan, 50)
}

func TestHomography(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	points := make([]r3.Vector, 60)
	for i := range points {
		points[i] = r3.Vector{X: 4*rng.Float64() - 2, Y: 4*rng.Float64() - 2, Z: 5}
	}
	b1 := bearingsFrom(spatialmath.IdentityPose(), points)
	b2 := bearingsFrom(secondCamera, points)
	pts1, pts2, indices := PlanarProjections(b1, b2)
	test.That(t, len(indices), test.ShouldEqual, 60)

	h, inliers, ok := HomographyRANSAC(pts1, pts2, DefaultRansacOptions(0.004), rng)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, len(inliers), test.ShouldEqual, 60)

	p, ok := ApplyHomography(h, pts1[7])
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p.Sub(pts2[7]).Norm(), test.ShouldBeLessThan, 1e-8)

	truthR := secondCamera.Rotation().Transpose()
	truthT := secondCamera.Origin().Normalize()
	motions := MotionsFromHomography(h)
	test.That(t, len(motions), test.ShouldEqual, 8)
	found := false
	for _, m := range motions {
		rp := m.RelativePose()
		if rotationDistance(rp.Rotation, truthR) < 1e-6 && rp.Translation.Dot(truthT) > 1-1e-6 {
			found = true
			test.That(t, len(RelativePoseInliers(b1, b2, rp, 0.004)), test.ShouldEqual, 60)
		}
	}
	test.That(t, found, test.ShouldBeTrue)
}

func TestAbsolutePose(t *testing.T) {
	rng := rand.New(rand.NewSource(6))
	points := randomPoints(rng, 60)
	bearings := bearingsFrom(secondCamera, points)

	found := false
	for _, pose := range AbsolutePoseP3P(bearings[:3], points[:3]) {
		if pose.AlmostEqual(secondCamera, 1e-6) {
			found = true
		}
	}
	test.That(t, found, test.ShouldBeTrue)

	for i := 0; i < 10; i++ {
		bearings[i] = r3.Vector{X: rng.Float64(), Y: rng.Float64(), Z: 1}.Normalize()
	}
	pose, inliers, ok := AbsolutePoseRANSAC(bearings, points, DefaultRansacOptions(0.004), rng)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, len(inliers), test.ShouldBeGreaterThanOrEqualTo, 50)
	test.That(t, pose.AlmostEqual(secondCamera, 1e-6), test.ShouldBeTrue)

	start := spatialmath.NewPose(
		perturb(secondCamera.Rotation(), []float64{0.01, -0.005, 0.002}),
		secondCamera.Translation().Add(r3.Vector{X: 0.02}),
	)
	refined := RefineAbsolutePose(subset(bearings, inliers), subset(points, inliers), start, 200)
	test.That(t, refined.AlmostEqual(secondCamera, 1e-4), test.ShouldBeTrue)
}

func TestTriangulation(t *testing.T) {
	point := r3.Vector{X: 0.3, Y: -0.2, Z: 5}
	poses := []spatialmath.Pose{spatialmath.IdentityPose(), secondCamera}
	origins := make([]r3.Vector, len(poses))
	worldBearings := make([]r3.Vector, len(poses))
	for i, p := range poses {
		origins[i] = p.Origin()
		worldBearings[i] = point.Sub(origins[i]).Normalize()
	}
	thresholds := []float64{0.006, 0.006}

	got, ok := TriangulateBearingsMidpoint(origins, worldBearings, thresholds, utils.DegToRad(1), 0.001)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got.Distance(point), test.ShouldBeLessThan, 1e-9)

	_, ok = TriangulateBearingsMidpoint(origins, worldBearings, thresholds, utils.DegToRad(30), 0.001)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = TriangulateBearingsMidpoint(origins, worldBearings, thresholds, utils.DegToRad(1), 10)
	test.That(t, ok, test.ShouldBeFalse)

	rts := []*mat.Dense{poses[0].ProjectionMatrix(), poses[1].ProjectionMatrix()}
	camBearings := []r3.Vector{poses[0].Transform(point).Normalize(), poses[1].Transform(point).Normalize()}
	got, ok = TriangulateBearingsDLT(rts, camBearings, 0.006, utils.DegToRad(1), 0.001)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got.Distance(point), test.ShouldBeLessThan, 1e-8)

	refined := RefinePoint(origins, worldBearings, point.Add(r3.Vector{X: 0.05, Z: -0.2}), 10)
	test.That(t, refined.Distance(point), test.ShouldBeLessThan, 1e-8)
}

func TestTwoRaysMidpoint(t *testing.T) {
	p, l1, l2, ok := TriangulateTwoRaysMidpoint(r3.Vector{}, r3.Vector{Z: 1}, r3.Vector{X: 1}, r3.Vector{X: -1, Z: 1}.Normalize())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, p.Distance(r3.Vector{Z: 1}), test.ShouldBeLessThan, 1e-12)
	test.That(t, l1, test.ShouldAlmostEqual, 1.0)
	test.That(t, l2, test.ShouldAlmostEqual, math.Sqrt2)

	_, _, _, ok = TriangulateTwoRaysMidpoint(r3.Vector{}, r3.Vector{Z: 1}, r3.Vector{X: 1}, r3.Vector{Z: 2})
	test.That(t, ok, test.ShouldBeFalse)
}

func TestUmeyama(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	truth := spatialmath.NewSimilarity(2.5, spatialmath.RotationFromAxisAngle(r3.Vector{X: 0.3, Y: 1, Z: -0.4}), r3.Vector{X: 3, Y: -1, Z: 7})
	src := randomPoints(rng, 20)
	dst := make([]r3.Vector, len(src))
	for i, p := range src {
		dst[i] = truth.Apply(p)
	}
	sim, ok := Umeyama(src, dst, true)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, sim.Scale, test.ShouldAlmostEqual, 2.5, 1e-9)
	test.That(t, rotationDistance(sim.Rotation, truth.Rotation), test.ShouldBeLessThan, 1e-9)
	test.That(t, sim.Translation.Distance(truth.Translation), test.ShouldBeLessThan, 1e-8)

	rigid, ok := Umeyama(src, dst, false)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, rigid.Scale, test.ShouldEqual, 1.0)

	_, ok = Umeyama(nil, nil, true)
	test.That(t, ok, test.ShouldBeFalse)
	_, ok = Umeyama([]r3.Vector{{X: 1}, {X: 1}}, []r3.Vector{{}, {Y: 1}}, true)
	test.That(t, ok, test.ShouldBeFalse)

	for i := 0; i < 5; i++ {
		dst[i] = dst[i].Add(r3.Vector{X: 10 * rng.Float64(), Z: 5})
	}
	ransacSim, inliers, ok := SimilarityRANSAC(src, dst, RansacOptions{Threshold: 0.01, MaxIterations: 100, Probability: 0.999}, rng)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, len(inliers), test.ShouldEqual, 15)
	test.That(t, ransacSim.Scale, test.ShouldAlmostEqual, 2.5, 1e-6)
}

func TestUmeyama2D(t *testing.T) {
	truth := Similarity2D{Scale: 0.5, Angle: 0.7, Translation: r2.Point{X: 1, Y: -2}}
	src := []r2.Point{{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 0, Y: 3}, {X: -2, Y: 1}}
	dst := make([]r2.Point, len(src))
	for i, p := range src {
		dst[i] = truth.Apply(p)
	}
	sim, ok := Umeyama2D(src, dst)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, sim.Scale, test.ShouldAlmostEqual, 0.5, 1e-12)
	test.That(t, sim.Angle, test.ShouldAlmostEqual, 0.7, 1e-12)
	test.That(t, sim.Translation.Sub(truth.Translation).Norm(), test.ShouldBeLessThan, 1e-12)

	_, ok = Umeyama2D(src[:1], dst[:1])
	test.That(t, ok, test.ShouldBeFalse)
}

func TestFitPlane(t *testing.T) {
	points := []r3.Vector{{X: 0, Y: 0, Z: 2}, {X: 1, Y: 0, Z: 2}, {X: 0, Y: 1, Z: 2}, {X: 3, Y: 2, Z: 2}}
	plane := FitPlane(points, nil, []r3.Vector{{Z: 1}})
	n := plane.Normal.Normalize()
	test.That(t, n.Z, test.ShouldAlmostEqual, 1.0, 1e-9)
	test.That(t, plane.Normal.Dot(points[3])+plane.D, test.ShouldAlmostEqual, 0.0, 1e-9)

	flipped := FitPlane(points, nil, []r3.Vector{{Z: -1}})
	test.That(t, flipped.Normal.Normalize().Z, test.ShouldAlmostEqual, -1.0, 1e-9)

	tilted := Plane{Normal: r3.Vector{X: 1, Z: 1}}
	r := tilted.HorizontallingRotation()
	test.That(t, r.Apply(tilted.Normal.Normalize()).Distance(r3.Vector{Z: 1}), test.ShouldBeLessThan, 1e-9)

	test.That(t, FitPlane(nil, nil, nil).Normal, test.ShouldResemble, r3.Vector{Z: 1})
}

func TestPolynomialRoots(t *testing.T) {
	// (x-1)(x-2)(x+3)(x^2+1)
	p := polynomial{-1, 1}.mul(polynomial{-2, 1}).mul(polynomial{3, 1}).mul(polynomial{1, 0, 1})
	roots := p.realRoots()
	test.That(t, len(roots), test.ShouldEqual, 3)
	for _, r := range roots {
		test.That(t, math.Abs(p.eval(r)), test.ShouldBeLessThan, 1e-9)
	}
}
