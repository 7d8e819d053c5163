package bundle

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/sfm/camera"
	"go.viam.com/sfm/config"
	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/tracking"
)

type scene struct {
	rec    *reconstruction.Reconstruction
	poses  map[string]spatialmath.Pose
	points map[string]r3.Vector
}

func newScene(t *testing.T, numShots, numPoints int) scene {
	t.Helper()
	rng := rand.New(rand.NewSource(11))
	s := scene{rec: reconstruction.New(), poses: map[string]spatialmath.Pose{}, points: map[string]r3.Vector{}}
	s.rec.AddCamera(camera.NewPerspective("cam", 640, 480, 0.9, 0, 0))
	for i := 0; i < numShots; i++ {
		id := fmt.Sprintf("shot%d", i)
		pose := spatialmath.NewPoseFromOrigin(
			spatialmath.RotationFromAxisAngle(r3.Vector{Y: -0.08 * float64(i), X: 0.01 * float64(i)}),
			r3.Vector{X: 0.6 * float64(i), Y: 0.05 * float64(i%2)},
		)
		s.poses[id] = pose
		s.rec.CreateShot(id, "cam", pose)
	}
	for j := 0; j < numPoints; j++ {
		id := fmt.Sprintf("%d", j)
		x := r3.Vector{X: 3*rng.Float64() - 0.5, Y: 2*rng.Float64() - 1, Z: 5 + 2*rng.Float64()}
		s.points[id] = x
		s.rec.CreatePoint(id, x)
		for shotID, pose := range s.poses {
			s.rec.AddObservation(shotID, id, tracking.Observation{Point: s.rec.Shot(shotID).Camera.Project(pose.Transform(x)), FeatureID: j})
		}
	}
	return s
}

func (s scene) perturb(rng *rand.Rand, skip string) {
	for id, pose := range s.poses {
		if id == skip {
			continue
		}
		rot := spatialmath.RotationFromAxisAngle(r3.Vector{X: 0.004 * rng.NormFloat64(), Y: 0.004 * rng.NormFloat64()}).Mul(pose.Rotation())
		s.rec.Shot(id).SetPose(spatialmath.NewPoseFromOrigin(rot, pose.Origin().Add(r3.Vector{X: 0.01 * rng.NormFloat64(), Z: 0.01})))
	}
	for id, x := range s.points {
		s.rec.Point(id).Coordinates = x.Add(r3.Vector{X: 0.01 * rng.NormFloat64(), Y: 0.01 * rng.NormFloat64(), Z: 0.02})
	}
}

func maxReprojectionError(rec *reconstruction.Reconstruction) float64 {
	worst := 0.0
	for _, p := range rec.Points() {
		for shotID, obs := range p.Observations() {
			e := rec.Shot(shotID).Project(p.Coordinates).Sub(obs.Point).Norm()
			if e > worst {
				worst = e
			}
		}
	}
	return worst
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.BundleUseGPS = false
	return cfg
}

func TestBundle(t *testing.T) {
	s := newScene(t, 4, 40)
	s.perturb(rand.New(rand.NewSource(1)), "shot0")
	test.That(t, maxReprojectionError(s.rec), test.ShouldBeGreaterThan, 1e-3)

	lm := NewLevenbergMarquardt(logging.NewTestLogger(t))
	rep := lm.Bundle(s.rec, nil, testConfig())
	test.That(t, rep.NumImages, test.ShouldEqual, 4)
	test.That(t, rep.NumPoints, test.ShouldEqual, 40)
	test.That(t, rep.NumReprojections, test.ShouldEqual, 160)
	test.That(t, rep.BriefReport, test.ShouldContainSubstring, "Levenberg-Marquardt")
	test.That(t, maxReprojectionError(s.rec), test.ShouldBeLessThan, 1e-6)

	for _, p := range s.rec.Points() {
		test.That(t, len(p.ReprojectionErrors()), test.ShouldEqual, 4)
		for _, e := range p.ReprojectionErrors() {
			test.That(t, e.Norm(), test.ShouldBeLessThan, 1e-6)
		}
	}
}

func TestBundleWithGPS(t *testing.T) {
	s := newScene(t, 4, 40)
	for id, pose := range s.poses {
		s.rec.Shot(id).Metadata.GPSPosition.SetValue(pose.Origin())
		s.rec.Shot(id).Metadata.GPSAccuracy.SetValue(0.05)
	}
	s.perturb(rand.New(rand.NewSource(2)), "")

	cfg := config.Default()
	NewLevenbergMarquardt(logging.NewTestLogger(t)).Bundle(s.rec, nil, cfg)
	for id, pose := range s.poses {
		test.That(t, s.rec.Shot(id).Pose().Origin().Distance(pose.Origin()), test.ShouldBeLessThan, 1e-4)
	}
	for id, x := range s.points {
		test.That(t, s.rec.Point(id).Coordinates.Distance(x), test.ShouldBeLessThan, 1e-3)
	}
}

func TestBundleShotPoses(t *testing.T) {
	s := newScene(t, 3, 30)
	truth := s.poses["shot2"]
	s.rec.Shot("shot2").SetPose(spatialmath.NewPoseFromOrigin(
		spatialmath.RotationFromAxisAngle(r3.Vector{Z: 0.01}).Mul(truth.Rotation()),
		truth.Origin().Add(r3.Vector{X: 0.05, Y: -0.02}),
	))
	before := s.rec.Shot("shot1").Pose()

	rep := NewLevenbergMarquardt(logging.NewTestLogger(t)).BundleShotPoses(s.rec, []string{"shot2"}, testConfig())
	test.That(t, rep.NumImages, test.ShouldEqual, 1)
	test.That(t, s.rec.Shot("shot2").Pose().AlmostEqual(truth, 1e-6), test.ShouldBeTrue)
	test.That(t, s.rec.Shot("shot1").Pose().AlmostEqual(before, 0), test.ShouldBeTrue)
	for id, x := range s.points {
		test.That(t, s.rec.Point(id).Coordinates, test.ShouldResemble, x)
	}
}

func TestBundleRigInstance(t *testing.T) {
	rec := reconstruction.New()
	rec.AddCamera(camera.NewPerspective("cam", 640, 480, 0.9, 0, 0))
	rec.AddRigCamera(&reconstruction.RigCamera{ID: "left", Pose: spatialmath.IdentityPose()})
	rec.AddRigCamera(&reconstruction.RigCamera{ID: "right", Pose: spatialmath.NewPose(spatialmath.IdentityRotation(), r3.Vector{X: -0.5})})
	truth := map[string]spatialmath.Pose{
		"t0": spatialmath.IdentityPose(),
		"t1": spatialmath.NewPoseFromAxisAngle(r3.Vector{Y: -0.05}, r3.Vector{X: -1}),
	}
	for _, id := range []string{"t0", "t1"} {
		rec.CreateRigInstance(id, truth[id])
		rec.CreateRigShot(id+"_left", "cam", id, "left")
		rec.CreateRigShot(id+"_right", "cam", id, "right")
	}
	rng := rand.New(rand.NewSource(5))
	for j := 0; j < 30; j++ {
		id := fmt.Sprintf("%d", j)
		x := r3.Vector{X: 2*rng.Float64() - 0.5, Y: 2*rng.Float64() - 1, Z: 5 + rng.Float64()}
		rec.CreatePoint(id, x)
		for _, shotID := range rec.ShotIDs() {
			rec.AddObservation(shotID, id, tracking.Observation{Point: rec.Shot(shotID).Project(x)})
		}
	}
	rec.RigInstance("t1").SetPose(spatialmath.NewPoseFromAxisAngle(r3.Vector{Y: -0.06}, r3.Vector{X: -1.02, Z: 0.01}))

	NewLevenbergMarquardt(logging.NewTestLogger(t)).BundleShotPoses(rec, []string{"t1_left"}, testConfig())
	test.That(t, rec.RigInstance("t1").Pose().AlmostEqual(truth["t1"], 1e-6), test.ShouldBeTrue)
	test.That(t, rec.Shot("t1_right").Pose().AlmostEqual(rec.Shot("t1_right").RigCamera().Pose.Compose(truth["t1"]), 1e-6), test.ShouldBeTrue)
}

func chainReconstruction() *reconstruction.Reconstruction {
	rec := reconstruction.New()
	rec.AddCamera(camera.NewPerspective("cam", 640, 480, 0.9, 0, 0))
	for i := 0; i < 5; i++ {
		rec.CreateShot(fmt.Sprintf("s%d", i), "cam", spatialmath.IdentityPose())
	}
	for i := 0; i < 4; i++ {
		for k := 0; k < 3; k++ {
			id := fmt.Sprintf("%d", 3*i+k)
			rec.CreatePoint(id, r3.Vector{Z: 1})
			rec.AddObservation(fmt.Sprintf("s%d", i), id, tracking.Observation{Point: r2.Point{}})
			rec.AddObservation(fmt.Sprintf("s%d", i+1), id, tracking.Observation{Point: r2.Point{}})
		}
	}
	return rec
}

func TestShotNeighborhood(t *testing.T) {
	rec := chainReconstruction()

	interior, boundary := ShotNeighborhood(rec, "s2", 2, 1, 30)
	test.That(t, interior, test.ShouldResemble, []string{"s1", "s2", "s3"})
	test.That(t, boundary, test.ShouldResemble, []string{"s0", "s4"})

	interior, boundary = ShotNeighborhood(rec, "s2", 3, 1, 30)
	test.That(t, interior, test.ShouldResemble, []string{"s0", "s1", "s2", "s3", "s4"})
	test.That(t, boundary, test.ShouldBeEmpty)

	interior, boundary = ShotNeighborhood(rec, "s2", 3, 1, 2)
	test.That(t, interior, test.ShouldResemble, []string{"s1", "s2"})
	test.That(t, boundary, test.ShouldResemble, []string{"s0", "s3"})

	interior, _ = ShotNeighborhood(rec, "s2", 3, 4, 30)
	test.That(t, interior, test.ShouldResemble, []string{"s2"})

	test.That(t, DirectShotNeighbors(rec, map[string]bool{"s0": true}, 1, 10), test.ShouldResemble, []string{"s1"})
}

func TestBundleLocal(t *testing.T) {
	s := newScene(t, 5, 30)
	s.perturb(rand.New(rand.NewSource(3)), "shot0")
	cfg := testConfig()
	cfg.LocalBundleRadius = 1
	boundary := s.rec.Shot("shot0").Pose()
	ids, rep := NewLevenbergMarquardt(logging.NewTestLogger(t)).BundleLocal(s.rec, "shot2", nil, cfg)
	test.That(t, len(ids), test.ShouldEqual, 30)
	test.That(t, rep.NumImages, test.ShouldEqual, 5)
	test.That(t, s.rec.Shot("shot0").Pose().AlmostEqual(boundary, 0), test.ShouldBeTrue)
}

func TestLosses(t *testing.T) {
	for _, name := range []config.LossFunction{config.LossTrivial, config.LossHuber, config.LossSoftLOne, config.LossCauchy} {
		l := newLoss(name, 1)
		test.That(t, l.rho(0), test.ShouldAlmostEqual, 0.0)
		test.That(t, l.weight(1e-9), test.ShouldAlmostEqual, 1.0, 1e-6)
		if name != config.LossTrivial {
			test.That(t, l.rho(100), test.ShouldBeLessThan, 100.0)
			test.That(t, l.weight(100), test.ShouldBeLessThan, 1.0)
		}
	}
	test.That(t, newLoss(config.LossCauchy, 0), test.ShouldResemble, trivialLoss{})
}
