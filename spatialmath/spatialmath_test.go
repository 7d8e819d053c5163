package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"
)

func vectorsAlmostEqual(t *testing.T, a, b r3.Vector, eps float64) {
	t.Helper()
	test.That(t, a.X, test.ShouldAlmostEqual, b.X, eps)
	test.That(t, a.Y, test.ShouldAlmostEqual, b.Y, eps)
	test.That(t, a.Z, test.ShouldAlmostEqual, b.Z, eps)
}

func TestAxisAngleRoundTrip(t *testing.T) {
	for _, v := range []r3.Vector{
		{X: 0.1, Y: -0.2, Z: 0.3},
		{X: 0, Y: 0, Z: 1e-9},
		{X: 0, Y: math.Pi - 1e-9, Z: 0},
		{X: 1, Y: 1, Z: 1},
		{},
	} {
		rot := RotationFromAxisAngle(v)
		vectorsAlmostEqual(t, rot.AxisAngle(), v, 1e-6)
		test.That(t, mat.Det(rot.Dense()), test.ShouldAlmostEqual, 1, 1e-9)
		vectorsAlmostEqual(t, rot.Mul(rot.Transpose()).Row(0), r3.Vector{X: 1}, 1e-9)
	}

	rot := RotationFromAxisAngle(r3.Vector{Z: math.Pi / 2})
	vectorsAlmostEqual(t, rot.Apply(r3.Vector{X: 1}), r3.Vector{Y: 1}, 1e-9)
	vectorsAlmostEqual(t, rot.ApplyInverse(r3.Vector{Y: 1}), r3.Vector{X: 1}, 1e-9)
}

func TestRotationBetween(t *testing.T) {
	from := r3.Vector{X: 1, Y: 2, Z: 3}.Normalize()
	for _, to := range []r3.Vector{{Z: 1}, from, from.Mul(-1), {X: -1, Y: 0.5}} {
		rot := RotationBetween(from, to)
		vectorsAlmostEqual(t, rot.Apply(from), to.Normalize(), 1e-9)
	}
}

func TestProjectToRotation(t *testing.T) {
	rot := RotationFromAxisAngle(r3.Vector{X: 0.3, Y: 0.1, Z: -0.2})
	noisy := rot.Dense()
	noisy.Set(0, 0, noisy.At(0, 0)+1e-3)
	fixed := ProjectToRotation(noisy)
	test.That(t, mat.Det(fixed.Dense()), test.ShouldAlmostEqual, 1, 1e-9)
	vectorsAlmostEqual(t, fixed.AxisAngle(), rot.AxisAngle(), 2e-3)
}

func TestPose(t *testing.T) {
	p := NewPoseFromAxisAngle(r3.Vector{X: 0.1, Y: 0.2, Z: -0.4}, r3.Vector{X: 1, Y: -2, Z: 3})
	x := r3.Vector{X: 4, Y: 5, Z: 6}

	vectorsAlmostEqual(t, p.TransformInverse(p.Transform(x)), x, 1e-9)
	vectorsAlmostEqual(t, p.Transform(p.Origin()), r3.Vector{}, 1e-9)
	vectorsAlmostEqual(t, p.Inverse().Transform(p.Transform(x)), x, 1e-9)

	moved := p.SetOrigin(r3.Vector{X: 10})
	vectorsAlmostEqual(t, moved.Origin(), r3.Vector{X: 10}, 1e-9)
	test.That(t, moved.Rotation(), test.ShouldResemble, p.Rotation())

	q := NewPoseFromAxisAngle(r3.Vector{Y: 1}, r3.Vector{Z: 2})
	vectorsAlmostEqual(t, p.Compose(q).Transform(x), p.Transform(q.Transform(x)), 1e-9)
	test.That(t, p.Compose(q).RelativeTo(q).AlmostEqual(p, 1e-9), test.ShouldBeTrue)

	rt := p.ProjectionMatrix()
	r, c := rt.Dims()
	test.That(t, r, test.ShouldEqual, 3)
	test.That(t, c, test.ShouldEqual, 4)
	test.That(t, rt.At(1, 3), test.ShouldEqual, -2.0)
}

func TestSimilarityRoundTrip(t *testing.T) {
	s := NewSimilarity(2.5, RotationFromAxisAngle(r3.Vector{X: 0.2, Y: -0.1, Z: 1.3}), r3.Vector{X: 3, Y: 4, Z: -5})
	test.That(t, s.Valid(), test.ShouldBeTrue)

	x := r3.Vector{X: -1, Y: 2, Z: 0.5}
	vectorsAlmostEqual(t, s.Inverse().Apply(s.Apply(x)), x, 1e-9)
	vectorsAlmostEqual(t, s.Compose(s.Inverse()).Apply(x), x, 1e-9)

	pose := NewPoseFromAxisAngle(r3.Vector{Z: 0.4}, r3.Vector{X: 1, Y: 1, Z: 1})
	moved := s.TransformPose(pose)
	vectorsAlmostEqual(t, moved.Origin(), s.Apply(pose.Origin()), 1e-9)
	// projections are unchanged up to the camera frame scale
	vectorsAlmostEqual(t, moved.Transform(s.Apply(x)), pose.Transform(x).Mul(s.Scale), 1e-9)
	test.That(t, s.Inverse().TransformPose(moved).AlmostEqual(pose, 1e-9), test.ShouldBeTrue)

	test.That(t, NewSimilarity(0, IdentityRotation(), r3.Vector{}).Valid(), test.ShouldBeFalse)
	test.That(t, NewSimilarity(1, IdentityRotation(), r3.Vector{X: math.NaN()}).Valid(), test.ShouldBeFalse)
}

func TestTopocentricConverter(t *testing.T) {
	tc := NewTopocentricConverter(52.51, 13.4, 30)
	vectorsAlmostEqual(t, tc.ToTopocentric(tc.Reference()), r3.Vector{}, 1e-6)

	enu := r3.Vector{X: 120, Y: -75, Z: 12}
	lla := tc.ToLLA(enu)
	vectorsAlmostEqual(t, tc.ToTopocentric(lla), enu, 1e-3)
	test.That(t, lla.Altitude, test.ShouldAlmostEqual, 42, 0.01)

	north := tc.ToLLA(r3.Vector{Y: 1000})
	test.That(t, north.Latitude, test.ShouldBeGreaterThan, 52.51)
	test.That(t, north.Longitude, test.ShouldAlmostEqual, 13.4, 1e-6)
	test.That(t, tc.HorizontalDistance(north), test.ShouldAlmostEqual, 1000, 10)
}
