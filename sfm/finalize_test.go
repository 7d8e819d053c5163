package sfm

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/sfm/align"
	"go.viam.com/sfm/config"
	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/synthetic"
)

// movedGroundTruth returns the ground truth of scene expressed in an arbitrary frame.
func movedGroundTruth(scene *synthetic.Scene) *reconstruction.Reconstruction {
	rec := scene.GroundTruth()
	align.ApplySimilarity(rec, spatialmath.NewSimilarity(
		1.5, spatialmath.RotationFromAxisAngle(r3.Vector{Z: 0.3}), r3.Vector{X: 3, Y: -2, Z: 1}))
	return rec
}

func TestFinalizeCompensatesGPSBias(t *testing.T) {
	opts := synthetic.DefaultOptions()
	opts.GPSBias = r3.Vector{X: 10, Z: 100}
	opts.NumGCPs = 4
	scene := synthetic.Generate(opts)

	cfg := config.Default()
	cfg.BundleUseGCP = true
	cfg.BundleCompensateGPSBias = true
	r := newSceneReconstructor(t, scene, cfg)

	rec := movedGroundTruth(scene)
	r.finalize(rec)

	test.That(t, rec.Biases(), test.ShouldContainKey, scene.Camera.ID)
	bias := rec.Bias(scene.Camera.ID)
	test.That(t, bias.Scale, test.ShouldAlmostEqual, 1, 0.05)
	for name, pose := range scene.Poses {
		gps := rec.Shot(name).Metadata.GPSPosition.Value()
		test.That(t, bias.Apply(gps).Sub(pose.Origin()).Norm(), test.ShouldBeLessThan, 0.3)
	}

	m := synthetic.Compare(scene.GroundTruth(), rec, scene.GCPs)
	test.That(t, m.AbsolutePositionRMSE, test.ShouldBeLessThan, 0.1)
	test.That(t, m.AbsoluteGCPRMSE, test.ShouldBeLessThan, 0.1)
	test.That(t, m.AbsoluteGPSRMSE, test.ShouldBeBetween, opts.GPSBias.Norm()-1, opts.GPSBias.Norm()+1)
}

func TestFinalizeFallsBackWithoutGPSBias(t *testing.T) {
	scene := synthetic.Generate(synthetic.DefaultOptions())
	cfg := config.Default()
	cfg.AlignMethod = config.AlignNaive
	cfg.BundleCompensateGPSBias = true
	logger, logs := logging.NewObservedTestLogger(t)
	r, err := New(scene.DataSet(cfg), logger)
	test.That(t, err, test.ShouldBeNil)

	// Without control points the bias cannot be estimated, so the plain GPS alignment is used.
	rec := movedGroundTruth(scene)
	r.finalize(rec)

	test.That(t, logs.FilterMessageSnippet("retrying without it").Len(), test.ShouldEqual, 1)
	test.That(t, rec.Biases(), test.ShouldBeEmpty)
	m := synthetic.Compare(scene.GroundTruth(), rec, nil)
	test.That(t, m.AbsolutePositionRMSE, test.ShouldBeLessThan, 0.2)
	test.That(t, m.AlignedPositionRMSE, test.ShouldBeLessThan, 0.03)
}
