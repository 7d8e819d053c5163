package sfm

import (
	"fmt"
	"image/color"
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

// newErrorReconstruction returns three shots and points observed by the shots with the given
// reprojection errors.
func newErrorReconstruction(errs map[string]map[string]r2.Point) *reconstruction.Reconstruction {
	rec := reconstruction.New()
	rec.AddCamera(camera.NewPerspective("cam", 640, 480, 1, 0, 0))
	for _, id := range []string{"a", "b", "c"} {
		rec.CreateShot(id, "cam", spatialmath.IdentityPose())
	}
	for pointID, byShot := range errs {
		p := rec.CreatePoint(pointID, r3.Vector{Z: 1})
		for shotID, e := range byShot {
			rec.AddObservation(shotID, pointID, tracking.Observation{})
			p.SetReprojectionError(shotID, e)
		}
	}
	return rec
}

func TestRemoveOutliersFixed(t *testing.T) {
	rec := newErrorReconstruction(map[string]map[string]r2.Point{
		"1": {"a": {X: 0.0001}, "b": {X: 0.02}, "c": {}},
		"2": {"a": {Y: 0.01}, "b": {}},
		"3": {"a": {}, "b": {X: 0.001, Y: 0.001}},
	})
	removed := RemoveOutliers(logging.NewTestLogger(t), rec, config.Default(), nil)
	test.That(t, removed, test.ShouldEqual, 2)

	test.That(t, rec.HasPoint("1"), test.ShouldBeTrue)
	test.That(t, rec.Point("1").ShotIDs(), test.ShouldResemble, []string{"a", "c"})
	test.That(t, rec.HasPoint("2"), test.ShouldBeFalse)
	test.That(t, rec.Point("3").NumObservations(), test.ShouldEqual, 2)
	for _, p := range rec.Points() {
		test.That(t, p.NumObservations(), test.ShouldBeGreaterThanOrEqualTo, 2)
	}
}

func TestRemoveOutliersOnlyGivenPoints(t *testing.T) {
	rec := newErrorReconstruction(map[string]map[string]r2.Point{
		"1": {"a": {X: 1}, "b": {}, "c": {}},
		"2": {"a": {X: 1}, "b": {}, "c": {}},
	})
	removed := RemoveOutliers(logging.NewTestLogger(t), rec, config.Default(), []string{"2", "missing"})
	test.That(t, removed, test.ShouldEqual, 1)
	test.That(t, rec.Point("1").NumObservations(), test.ShouldEqual, 3)
	test.That(t, rec.Point("2").NumObservations(), test.ShouldEqual, 2)
}

func TestOutlierThresholdAuto(t *testing.T) {
	errs := map[string]map[string]r2.Point{}
	for i := 0; i < 20; i++ {
		errs[fmt.Sprint(i)] = map[string]r2.Point{"a": {X: 0.001}, "b": {X: 0.001}}
	}
	errs["20"] = map[string]r2.Point{"a": {X: 0.001}, "b": {X: 0.001}, "c": {X: 0.05}}
	rec := newErrorReconstruction(errs)

	center, std, ok := ErrorDistribution(rec, rec.PointIDs())
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, center.X, test.ShouldAlmostEqual, 0.001)
	test.That(t, center.Y, test.ShouldAlmostEqual, 0)
	test.That(t, std, test.ShouldAlmostEqual, 0)

	cfg := config.Default()
	cfg.BundleOutlierFilteringType = config.OutlierFilteringAuto
	test.That(t, OutlierThreshold(rec, cfg), test.ShouldAlmostEqual, 0.003)

	removed := RemoveOutliers(logging.NewTestLogger(t), rec, cfg, nil)
	test.That(t, removed, test.ShouldEqual, 1)
	test.That(t, rec.Point("20").NumObservations(), test.ShouldEqual, 2)
}

func TestOutlierThresholdWithoutErrors(t *testing.T) {
	rec := newErrorReconstruction(nil)
	_, _, ok := ErrorDistribution(rec, rec.PointIDs())
	test.That(t, ok, test.ShouldBeFalse)

	cfg := config.Default()
	cfg.BundleOutlierFilteringType = config.OutlierFilteringAuto
	test.That(t, OutlierThreshold(rec, cfg), test.ShouldEqual, cfg.BundleOutlierFixedThreshold)
}

func TestRemoveOutliersAutoUsesAllPoints(t *testing.T) {
	errs := map[string]map[string]r2.Point{}
	for i := 0; i < 20; i++ {
		errs[fmt.Sprint(i)] = map[string]r2.Point{"a": {X: 0.001}, "b": {X: 0.001}}
	}
	errs["local"] = map[string]r2.Point{"a": {X: 0.01}, "b": {X: 0.01}, "c": {X: 0.05}}
	rec := newErrorReconstruction(errs)

	// On its own, the local point would only lose its worst observation.
	center, std, ok := ErrorDistribution(rec, []string{"local"})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, center.X, test.ShouldAlmostEqual, 0.01)
	test.That(t, std, test.ShouldAlmostEqual, 0)

	cfg := config.Default()
	cfg.BundleOutlierFilteringType = config.OutlierFilteringAuto
	removed := RemoveOutliers(logging.NewTestLogger(t), rec, cfg, []string{"local"})
	test.That(t, removed, test.ShouldEqual, 3)
	test.That(t, rec.HasPoint("local"), test.ShouldBeFalse)
	test.That(t, rec.NumPoints(), test.ShouldEqual, 20)
}

func TestPaintReconstruction(t *testing.T) {
	rec := newErrorReconstruction(map[string]map[string]r2.Point{"1": {"a": {}, "b": {}}})
	red := color.RGBA{R: 255, A: 255}
	rec.AddObservation("b", "1", tracking.Observation{Color: color.RGBA{B: 255, A: 255}})
	rec.AddObservation("a", "1", tracking.Observation{Color: red})
	PaintReconstruction(rec)
	test.That(t, rec.Point("1").Color, test.ShouldResemble, red)
}
