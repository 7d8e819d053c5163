package align

import (
	"fmt"
	"math"
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

func vectorsClose(t *testing.T, a, b r3.Vector, eps float64) {
	t.Helper()
	test.That(t, a.Sub(b).Norm(), test.ShouldBeLessThan, eps)
}

// downLooking is the rotation of a camera looking at -Z with image right along +X.
var downLooking = spatialmath.RotationFromAxisAngle(r3.Vector{X: math.Pi})

func newReconstruction(origins []r3.Vector, rotation spatialmath.RotationMatrix) *reconstruction.Reconstruction {
	rec := reconstruction.New()
	rec.AddCamera(camera.NewPerspective("cam", 640, 480, 0.9, 0, 0))
	for i, o := range origins {
		rec.CreateShot(fmt.Sprintf("shot%d", i), "cam", spatialmath.NewPoseFromOrigin(rotation, o))
	}
	return rec
}

func TestApplySimilarity(t *testing.T) {
	rec := newReconstruction([]r3.Vector{{}, {X: 1}}, spatialmath.IdentityRotation())
	rec.AddRigCamera(&reconstruction.RigCamera{ID: "rc", Pose: spatialmath.NewPose(spatialmath.IdentityRotation(), r3.Vector{X: 0.3})})
	rec.CreateRigInstance("ri", spatialmath.NewPoseFromAxisAngle(r3.Vector{Y: 0.2}, r3.Vector{Z: 1}))
	rec.CreateRigShot("rig_shot", "cam", "ri", "rc")
	rec.CreatePoint("p", r3.Vector{X: 0.5, Y: 0.2, Z: 4})
	for _, id := range rec.ShotIDs() {
		rec.AddObservation(id, "p", tracking.Observation{Point: rec.Shot(id).Project(rec.Point("p").Coordinates)})
	}
	before := map[string]r2.Point{}
	for _, id := range rec.ShotIDs() {
		before[id] = rec.Shot(id).Project(rec.Point("p").Coordinates)
	}

	sim := spatialmath.NewSimilarity(2.5, spatialmath.RotationFromAxisAngle(r3.Vector{X: 0.1, Z: 0.7}), r3.Vector{X: 10, Y: -3, Z: 1})
	origin := rec.Shot("shot1").Pose().Origin()
	ApplySimilarity(rec, sim)

	vectorsClose(t, rec.Point("p").Coordinates, sim.Apply(r3.Vector{X: 0.5, Y: 0.2, Z: 4}), 1e-9)
	vectorsClose(t, rec.Shot("shot1").Pose().Origin(), sim.Apply(origin), 1e-9)
	for _, id := range rec.ShotIDs() {
		after := rec.Shot(id).Project(rec.Point("p").Coordinates)
		test.That(t, after.Sub(before[id]).Norm(), test.ShouldBeLessThan, 1e-9)
	}

	ApplySimilarity(rec, sim.Inverse())
	vectorsClose(t, rec.Point("p").Coordinates, r3.Vector{X: 0.5, Y: 0.2, Z: 4}, 1e-9)
	vectorsClose(t, rec.Shot("shot1").Pose().Origin(), origin, 1e-9)
	vectorsClose(t, rec.RigCameras()["rc"].Pose.Translation(), r3.Vector{X: 0.3}, 1e-9)
}

func TestNaiveIdenticalGPS(t *testing.T) {
	logger := logging.NewTestLogger(t)
	rec := newReconstruction([]r3.Vector{{X: 1}, {X: 2, Y: 1}}, spatialmath.IdentityRotation())
	gps := r3.Vector{X: 100, Y: 50, Z: 3}
	for _, shot := range rec.Shots() {
		shot.Metadata.GPSPosition.SetValue(gps)
	}
	cfg := config.Default()
	cfg.AlignMethod = config.AlignNaive

	sim, ok := ComputeReconstructionSimilarity(logger, rec, nil, cfg, true, true)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, sim.Scale, test.ShouldEqual, 1.0)
	test.That(t, sim.Rotation, test.ShouldResemble, spatialmath.IdentityRotation())
	vectorsClose(t, sim.Translation, gps.Sub(r3.Vector{X: 1}), 1e-12)
}

func TestNaiveNoConstraints(t *testing.T) {
	rec := newReconstruction([]r3.Vector{{}, {X: 1}}, spatialmath.IdentityRotation())
	cfg := config.Default()
	cfg.AlignMethod = config.AlignNaive
	_, ok := ComputeReconstructionSimilarity(logging.NewTestLogger(t), rec, nil, cfg, true, true)
	test.That(t, ok, test.ShouldBeFalse)
}

func TestNaiveAlignment(t *testing.T) {
	origins := []r3.Vector{{}, {X: 2}, {Y: 3}, {X: 1, Y: 1, Z: 1}, {X: -1, Y: 2, Z: -0.5}}
	rec := newReconstruction(origins, spatialmath.IdentityRotation())
	truth := spatialmath.NewSimilarity(3, spatialmath.RotationFromAxisAngle(r3.Vector{X: 0.3, Y: -0.2, Z: 1}), r3.Vector{X: 5, Y: 6, Z: 7})
	for i, o := range origins {
		rec.Shot(fmt.Sprintf("shot%d", i)).Metadata.GPSPosition.SetValue(truth.Apply(o))
	}
	cfg := config.Default()
	logger := logging.NewTestLogger(t)
	test.That(t, DetectAlignmentMethod(logger, rec, nil, cfg, true), test.ShouldEqual, config.AlignNaive)

	sim, ok := AlignReconstruction(logger, rec, nil, cfg, true, false)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, sim.Scale, test.ShouldAlmostEqual, 3, 1e-9)
	for i, o := range origins {
		vectorsClose(t, rec.Shot(fmt.Sprintf("shot%d", i)).Pose().Origin(), truth.Apply(o), 1e-8)
	}
}

func TestScaleFixedWithRigs(t *testing.T) {
	rec := reconstruction.New()
	rec.AddCamera(camera.NewPerspective("cam", 640, 480, 0.9, 0, 0))
	rec.AddRigCamera(&reconstruction.RigCamera{ID: "a", Pose: spatialmath.IdentityPose()})
	rec.AddRigCamera(&reconstruction.RigCamera{ID: "b", Pose: spatialmath.NewPose(spatialmath.IdentityRotation(), r3.Vector{X: -0.1})})
	origins := []r3.Vector{{}, {X: 2}, {Y: 3}, {X: 1, Y: 1, Z: 1}}
	for i, o := range origins {
		id := fmt.Sprintf("ri%d", i)
		rec.CreateRigInstance(id, spatialmath.NewPoseFromOrigin(spatialmath.IdentityRotation(), o))
		for _, rc := range []string{"a", "b"} {
			shot := rec.CreateRigShot(id+rc, "cam", id, rc)
			shot.Metadata.GPSPosition.SetValue(o.Mul(2))
		}
	}
	sim, ok := AlignReconstruction(logging.NewTestLogger(t), rec, nil, config.Default(), true, false)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, sim.Scale, test.ShouldEqual, 1.0)
}

func TestDetectAlignmentMethod(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cfg := config.Default()

	line := []r3.Vector{{}, {X: 1}, {X: 2}, {X: 3}}
	rec := newReconstruction(line, spatialmath.IdentityRotation())
	for i, o := range line {
		rec.Shot(fmt.Sprintf("shot%d", i)).Metadata.GPSPosition.SetValue(o)
	}
	test.That(t, DetectAlignmentMethod(logger, rec, nil, cfg, true), test.ShouldEqual, config.AlignOrientationPrior)
	test.That(t, DetectAlignmentMethod(logger, rec, nil, cfg, false), test.ShouldEqual, config.AlignOrientationPrior)

	two := newReconstruction([]r3.Vector{{}, {Y: 1}}, spatialmath.IdentityRotation())
	test.That(t, DetectAlignmentMethod(logger, two, nil, cfg, true), test.ShouldEqual, config.AlignOrientationPrior)
}

func TestOrientationPriorHorizontal(t *testing.T) {
	origins := []r3.Vector{{}, {X: 1}, {X: 2.5}, {X: 4}}
	rec := newReconstruction(origins, spatialmath.IdentityRotation())
	heading := spatialmath.RotationFromAxisAngle(r3.Vector{Z: math.Pi / 6})
	offset := r3.Vector{X: 20, Y: -4, Z: 10}
	for i, o := range origins {
		shot := rec.Shot(fmt.Sprintf("shot%d", i))
		shot.Metadata.OrientationTag.SetValue(1)
		shot.Metadata.GPSPosition.SetValue(heading.Apply(o.Mul(2)).Add(offset))
	}
	cfg := config.Default()
	test.That(t, cfg.AlignOrientationPrior, test.ShouldEqual, config.OrientationHorizontal)

	sim, ok := AlignReconstruction(logging.NewTestLogger(t), rec, nil, cfg, true, false)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, sim.Scale, test.ShouldAlmostEqual, 2, 1e-9)
	for i := range origins {
		shot := rec.Shot(fmt.Sprintf("shot%d", i))
		vectorsClose(t, shot.Pose().Origin(), shot.Metadata.GPSPosition.Value(), 1e-8)
		// image down points to the ground
		vectorsClose(t, shot.Pose().Rotation().Row(1), r3.Vector{Z: -1}, 1e-8)
	}
}

func TestOrientationPriorTwoShotsClamp(t *testing.T) {
	rec := newReconstruction([]r3.Vector{{}, {X: 1e-3}}, spatialmath.IdentityRotation())
	for _, shot := range rec.Shots() {
		shot.Metadata.GPSPosition.SetValue(r3.Vector{X: 5000})
	}
	cfg := config.Default()
	cfg.AlignMethod = config.AlignOrientationPrior
	sim, ok := ComputeReconstructionSimilarity(logging.NewTestLogger(t), rec, nil, cfg, true, true)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, sim.Translation.Norm(), test.ShouldAlmostEqual, 1000, 1e-9)
	test.That(t, sim.Scale, test.ShouldBeLessThan, 1.0)

	none := newReconstruction([]r3.Vector{{}, {X: 1}}, spatialmath.IdentityRotation())
	sim, ok = ComputeReconstructionSimilarity(logging.NewTestLogger(t), none, nil, cfg, true, true)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, sim.Scale, test.ShouldEqual, 1.0)
	test.That(t, sim.Translation, test.ShouldResemble, r3.Vector{})
}

func TestHorizontalAndVerticalDirections(t *testing.T) {
	r := spatialmath.RotationFromAxisAngle(r3.Vector{X: 0.2, Y: 0.4, Z: -0.1})
	x, y, z := HorizontalAndVerticalDirections(r, 1)
	test.That(t, []r3.Vector{x, y, z}, test.ShouldResemble, []r3.Vector{r.Row(0), r.Row(1), r.Row(2)})
	x, y, z = HorizontalAndVerticalDirections(r, 6)
	test.That(t, []r3.Vector{x, y, z}, test.ShouldResemble, []r3.Vector{r.Row(1).Mul(-1), r.Row(0), r.Row(2)})
	x, y, z = HorizontalAndVerticalDirections(r, 42)
	test.That(t, []r3.Vector{x, y, z}, test.ShouldResemble, []r3.Vector{r.Row(0), r.Row(1), r.Row(2)})
}

// gcpScene is a set of down looking shots over surveyed ground points, expressed in the
// topocentric frame of the reference.
func gcpScene(t *testing.T) (*reconstruction.Reconstruction, []reconstruction.GroundControlPoint) {
	t.Helper()
	origins := []r3.Vector{{Z: 10}, {X: 3, Z: 10}, {Y: 3, Z: 10}, {X: 3, Y: 3, Z: 10.5}}
	rec := newReconstruction(origins, downLooking)
	ref := spatialmath.NewTopocentricConverter(47.6, 9.2, 400)
	rec.SetReference(ref)

	ground := []r3.Vector{{X: -1, Y: -1}, {X: 4, Y: 0}, {X: 0, Y: 4}, {X: 3, Y: 3, Z: 0.5}, {X: 1.5, Y: 1}}
	gcps := make([]reconstruction.GroundControlPoint, len(ground))
	for i, g := range ground {
		gcp := reconstruction.GroundControlPoint{ID: fmt.Sprintf("gcp%d", i), LLA: ref.ToLLA(g), HasLLA: true, HasAltitude: true}
		for _, id := range rec.ShotIDs() {
			gcp.Observations = append(gcp.Observations, reconstruction.GCPObservation{ShotID: id, Projection: rec.Shot(id).Project(g)})
		}
		gcps[i] = gcp
	}
	return rec, gcps
}

func TestTriangulateAllGCP(t *testing.T) {
	rec, gcps := gcpScene(t)
	triangulated, measured := TriangulateAllGCP(rec, gcps)
	test.That(t, len(triangulated), test.ShouldEqual, len(gcps))
	for i := range triangulated {
		vectorsClose(t, triangulated[i], measured[i], 1e-3)
	}

	gcps[3].HasAltitude = false
	triangulated, measured = TriangulateAllGCP(rec, gcps[3:4])
	test.That(t, triangulated[0].Z, test.ShouldEqual, 0.0)
	test.That(t, measured[0].Z, test.ShouldEqual, 0.0)

	rec.SetReference(nil)
	triangulated, _ = TriangulateAllGCP(rec, gcps)
	test.That(t, triangulated, test.ShouldBeEmpty)
}

func TestSetGPSBias(t *testing.T) {
	rec, gcps := gcpScene(t)
	bias := r3.Vector{X: 5, Y: -1}
	for _, shot := range rec.Shots() {
		shot.Metadata.GPSPosition.SetValue(shot.Pose().Origin().Add(bias))
	}
	cfg := config.Default()
	cfg.BundleUseGCP = true
	cfg.BundleCompensateGPSBias = true

	sim, ok := AlignReconstruction(logging.NewTestLogger(t), rec, gcps, cfg, true, true)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, sim.Scale, test.ShouldAlmostEqual, 1, 1e-4)
	vectorsClose(t, sim.Translation, r3.Vector{}, 1e-2)

	cameraBias := rec.Bias("cam")
	for _, shot := range rec.Shots() {
		vectorsClose(t, cameraBias.Apply(shot.Metadata.GPSPosition.Value()), shot.Pose().Origin(), 1e-5)
	}
}
