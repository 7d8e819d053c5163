package sfm

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/sfm/config"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/synthetic"
)

func meanPointError(truth map[string]r3.Vector, rec *reconstruction.Reconstruction) float64 {
	if rec.NumPoints() == 0 {
		return 0
	}
	sum := 0.0
	for id, p := range rec.Points() {
		sum += p.Coordinates.Sub(truth[id]).Norm()
	}
	return sum / float64(rec.NumPoints())
}

func TestRetriangulate(t *testing.T) {
	scene := synthetic.Generate(synthetic.DefaultOptions())
	for _, kind := range []config.TriangulationType{
		config.TriangulationFull,
		config.TriangulationRobust,
		config.TriangulationDLT,
	} {
		t.Run(string(kind), func(t *testing.T) {
			cfg := config.Default()
			cfg.TriangulationType = kind
			rec := scene.GroundTruth()
			report := Retriangulate(scene.Tracks, rec, cfg)

			test.That(t, report.NumPointsBefore, test.ShouldEqual, len(scene.Points))
			test.That(t, report.NumPointsAfter, test.ShouldEqual, rec.NumPoints())
			test.That(t, float64(rec.NumPoints()), test.ShouldBeGreaterThan, 0.8*float64(len(scene.Points)))
			test.That(t, meanPointError(scene.Points, rec), test.ShouldBeLessThan, 0.2)
			for _, p := range rec.Points() {
				test.That(t, p.NumObservations(), test.ShouldBeGreaterThanOrEqualTo, 2)
			}
		})
	}
}

func TestTriangulateShotFeaturesKeepsExistingPoints(t *testing.T) {
	scene := synthetic.Generate(synthetic.DefaultOptions())
	rec := scene.GroundTruth()
	trackID := rec.PointIDs()[0]
	moved := rec.Point(trackID).Coordinates.Add(r3.Vector{X: 100})
	rec.Point(trackID).Coordinates = moved

	TriangulateShotFeatures(scene.Tracks, rec, rec.ShotIDs(), config.Default())
	test.That(t, rec.NumPoints(), test.ShouldEqual, len(scene.Points))
	test.That(t, rec.Point(trackID).Coordinates, test.ShouldResemble, moved)
}

func TestTriangulateShotFeaturesIgnoresUnknownShots(t *testing.T) {
	scene := synthetic.Generate(synthetic.DefaultOptions())
	rec := scene.GroundTruth()
	rec.ClearPoints()
	TriangulateShotFeatures(scene.Tracks, rec, []string{"missing.jpg"}, config.Default())
	test.That(t, rec.NumPoints(), test.ShouldEqual, 0)
}

func TestTrackTriangulatorTooFewObservations(t *testing.T) {
	scene := synthetic.Generate(synthetic.DefaultOptions())
	rec := scene.GroundTruth()
	rec.ClearPoints()
	for _, id := range rec.ShotIDs()[1:] {
		rec.RemoveShot(id)
	}
	triangulator := NewTrackTriangulator(rec, NewTracksManagerHandler(scene.Tracks, rec), triangulationRand(config.Default()))
	opts := TriangulationOptionsFromConfig(config.Default())
	for _, trackID := range scene.Tracks.TrackIDs() {
		triangulator.Triangulate(trackID, opts)
		triangulator.TriangulateRobust(trackID, opts)
		triangulator.TriangulateDLT(trackID, opts)
	}
	test.That(t, rec.NumPoints(), test.ShouldEqual, 0)
}

func TestShotCache(t *testing.T) {
	scene := synthetic.Generate(synthetic.DefaultOptions())
	rec := scene.GroundTruth()
	shot := rec.Shot(synthetic.ShotName(1))
	cache := NewShotCache()
	test.That(t, cache.Origin(shot).Sub(shot.Pose().Origin()).Norm(), test.ShouldBeLessThan, 1e-12)
	test.That(t, cache.RotationInverse(shot), test.ShouldResemble, shot.Pose().Rotation().Transpose())
	rows, cols := cache.Rt(shot).Dims()
	test.That(t, rows, test.ShouldEqual, 3)
	test.That(t, cols, test.ShouldEqual, 4)
}
