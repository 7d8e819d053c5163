package sfm

import (
	"context"
	"testing"

	"go.viam.com/test"

	"go.viam.com/sfm/config"
	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/synthetic"
	"go.viam.com/sfm/tracking"
)

func newSceneReconstructor(t *testing.T, scene *synthetic.Scene, cfg *config.Config) *Reconstructor {
	t.Helper()
	r, err := New(scene.DataSet(cfg), logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return r
}

func TestPairReconstructability(t *testing.T) {
	for _, tc := range []struct {
		common, inliers int
		score           float64
	}{
		{0, 0, 0},
		{100, 100, 0},
		{100, 71, 0},
		{100, 70, 30},
		{100, 10, 90},
		{50, 0, 50},
	} {
		test.That(t, PairReconstructability(tc.common, tc.inliers), test.ShouldEqual, tc.score)
	}
}

func TestRankPairs(t *testing.T) {
	ranked := rankPairs([]PairScore{
		{Pair: tracking.NewImagePair("a", "b"), Score: 10},
		{Pair: tracking.NewImagePair("c", "d"), Score: 0},
		{Pair: tracking.NewImagePair("b", "c"), Score: 30},
		{Pair: tracking.NewImagePair("a", "d"), Score: 10},
		{Pair: tracking.NewImagePair("a", "c"), Score: 10},
	})
	test.That(t, ranked, test.ShouldResemble, []tracking.ImagePair{
		{Im1: "b", Im2: "c"},
		{Im1: "a", Im2: "b"},
		{Im1: "a", Im2: "c"},
		{Im1: "a", Im2: "d"},
	})
	test.That(t, rankPairs(nil), test.ShouldBeEmpty)
}

func TestComputeImagePairsParallelMatchesSequential(t *testing.T) {
	scene := synthetic.Generate(synthetic.DefaultOptions())

	sequentialCfg := config.Default()
	sequentialCfg.Processes = 1
	sequential, err := newSceneReconstructor(t, scene, sequentialCfg).ComputeImagePairs(context.Background(), scene.Tracks)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sequential, test.ShouldNotBeEmpty)

	parallelCfg := config.Default()
	parallelCfg.Processes = 4
	parallel, err := newSceneReconstructor(t, scene, parallelCfg).ComputeImagePairs(context.Background(), scene.Tracks)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parallel, test.ShouldResemble, sequential)

	for _, pair := range sequential {
		test.That(t, pair.Im1 < pair.Im2, test.ShouldBeTrue)
		test.That(t, len(tracking.CommonTracks(scene.Tracks, pair.Im1, pair.Im2).Tracks),
			test.ShouldBeGreaterThanOrEqualTo, sequentialCfg.PairMinCommonTracks)
	}
}

func TestComputeImagePairsCanceled(t *testing.T) {
	scene := synthetic.Generate(synthetic.DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newSceneReconstructor(t, scene, config.Default()).ComputeImagePairs(ctx, scene.Tracks)
	test.That(t, err, test.ShouldNotBeNil)
}
