package sfm

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/sfm/camera"
	"go.viam.com/sfm/config"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/synthetic"
	"go.viam.com/sfm/tracking"
)

func addPoints(rec *reconstruction.Reconstruction, n int) {
	start := rec.NumPoints()
	for i := start; i < start+n; i++ {
		rec.CreatePoint(fmt.Sprint(i), r3.Vector{})
	}
}

func addShots(rec *reconstruction.Reconstruction, n int) {
	start := rec.NumShots()
	for i := start; i < start+n; i++ {
		rec.CreateShot(fmt.Sprintf("shot%d", i), "cam", spatialmath.IdentityPose())
	}
}

func TestShouldBundle(t *testing.T) {
	rec := reconstruction.New()
	rec.AddCamera(camera.NewPerspective("cam", 640, 480, 1, 0, 0))
	addPoints(rec, 10)

	cfg := config.Default()
	cfg.BundleInterval = 2
	sb := NewShouldBundle(rec, cfg)
	test.That(t, sb.Should(), test.ShouldBeFalse)

	addPoints(rec, 2)
	test.That(t, sb.Should(), test.ShouldBeFalse)
	addPoints(rec, 1)
	test.That(t, sb.Should(), test.ShouldBeTrue)
	sb.Done()
	test.That(t, sb.Should(), test.ShouldBeFalse)

	addShots(rec, 1)
	test.That(t, sb.Should(), test.ShouldBeFalse)
	addShots(rec, 1)
	test.That(t, sb.Should(), test.ShouldBeTrue)
}

func TestShouldRetriangulate(t *testing.T) {
	rec := reconstruction.New()
	addPoints(rec, 10)

	cfg := config.Default()
	sr := NewShouldRetriangulate(rec, cfg)
	addPoints(rec, 2)
	test.That(t, sr.Should(), test.ShouldBeFalse)
	addPoints(rec, 1)
	test.That(t, sr.Should(), test.ShouldBeTrue)
	sr.Done()
	test.That(t, sr.Should(), test.ShouldBeFalse)

	cfg.Retriangulation = false
	inactive := NewShouldRetriangulate(rec, cfg)
	addPoints(rec, 100)
	test.That(t, inactive.Should(), test.ShouldBeFalse)
}

func TestGrowthStateJSON(t *testing.T) {
	out, err := json.Marshal(ReconstructionReport{State: Converged})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldContainSubstring, `"state":"converged"`)

	var report ReconstructionReport
	test.That(t, json.Unmarshal([]byte(`{"state":"failed"}`), &report), test.ShouldBeNil)
	test.That(t, report.State, test.ShouldEqual, Failed)

	test.That(t, json.Unmarshal([]byte(`{"state":"lost"}`), &report), test.ShouldNotBeNil)
	test.That(t, GrowthState(42).String(), test.ShouldEqual, "unknown")
}

func TestResectionCandidates(t *testing.T) {
	scene := synthetic.Generate(synthetic.DefaultOptions())
	rec := scene.GroundTruth()
	remaining := map[string]bool{}
	for _, id := range []string{synthetic.ShotName(5), synthetic.ShotName(6), synthetic.ShotName(7)} {
		rec.RemoveShot(id)
		remaining[id] = true
	}
	remaining["unknown.jpg"] = true

	candidates := resectionCandidates(scene.Tracks, rec, remaining)
	test.That(t, candidates, test.ShouldHaveLength, 3)
	for i := 1; i < len(candidates); i++ {
		before := len(scene.Tracks.ShotObservations(candidates[i-1]))
		after := len(scene.Tracks.ShotObservations(candidates[i]))
		test.That(t, before, test.ShouldBeGreaterThanOrEqualTo, after)
	}

	rec.ClearPoints()
	test.That(t, resectionCandidates(scene.Tracks, rec, remaining), test.ShouldBeEmpty)
}

func TestBootstrapReconstruction(t *testing.T) {
	scene := synthetic.Generate(synthetic.DefaultOptions())
	r := newSceneReconstructor(t, scene, config.Default())
	im1, im2 := synthetic.ShotName(0), synthetic.ShotName(2)
	common := tracking.CommonTracks(scene.Tracks, im1, im2)

	rec, report, ok := r.BootstrapReconstruction(scene.Tracks, im1, im2, common.P1, common.P2)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, report.Decision, test.ShouldEqual, decisionSuccess)
	test.That(t, report.ImagePair, test.ShouldResemble, [2]string{im1, im2})
	test.That(t, rec.ShotIDs(), test.ShouldResemble, []string{im1, im2})
	test.That(t, rec.NumPoints(), test.ShouldBeGreaterThanOrEqualTo, config.Default().FivePointAlgoMinInliers)
}

func TestBootstrapReconstructionNotEnoughPoints(t *testing.T) {
	scene := synthetic.Generate(synthetic.DefaultOptions())
	cfg := config.Default()
	cfg.FivePointAlgoMinInliers = 100000
	r := newSceneReconstructor(t, scene, cfg)
	im1, im2 := synthetic.ShotName(0), synthetic.ShotName(2)
	common := tracking.CommonTracks(scene.Tracks, im1, im2)

	rec, report, ok := r.BootstrapReconstruction(scene.Tracks, im1, im2, common.P1, common.P2)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, rec, test.ShouldBeNil)
	test.That(t, report.Decision, test.ShouldNotEqual, decisionSuccess)
}
