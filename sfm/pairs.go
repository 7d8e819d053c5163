package sfm

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/sfm/tracking"
	"go.viam.com/sfm/utils"
)

// outlierRatioThreshold is the share of rotation outliers above which a pair has enough
// parallax to bootstrap from.
const outlierRatioThreshold = 0.3

// PairScore is the reconstructability of an image pair.
type PairScore struct {
	Pair  tracking.ImagePair
	Score float64
}

// PairReconstructability scores how likely a pair with the given number of common tracks
// and rotation-only inliers is to give a good initial reconstruction. Pairs well explained by
// a pure rotation score zero.
func PairReconstructability(commonTracks, rotationInliers int) float64 {
	if commonTracks == 0 {
		return 0
	}
	outliers := commonTracks - rotationInliers
	if float64(outliers)/float64(commonTracks) >= outlierRatioThreshold {
		return float64(outliers)
	}
	return 0
}

// scorePair runs the rotation-only model on the common tracks of a pair. The random source is
// derived from the pair names so the score does not depend on evaluation order.
func (r *Reconstructor) scorePair(
	ctx context.Context,
	pair tracking.ImagePair,
	common tracking.PairTracks,
) (PairScore, error) {
	if err := ctx.Err(); err != nil {
		return PairScore{}, err
	}
	camera1, err := r.cameraFor(pair.Im1)
	if err != nil {
		return PairScore{}, err
	}
	camera2, err := r.cameraFor(pair.Im2)
	if err != nil {
		return PairScore{}, err
	}
	threshold := 4 * r.cfg.FivePointAlgoThreshold
	rng := utils.SeededRand(r.cfg.Seed, pair.Im1, pair.Im2)
	_, inliers, _ := TwoViewRotationOnly(common.P1, common.P2, camera1, camera2, threshold, rng)
	return PairScore{Pair: pair, Score: PairReconstructability(len(common.P1), len(inliers))}, nil
}

// rankPairs keeps the positive scores, best first and ties in pair order.
func rankPairs(scores []PairScore) []tracking.ImagePair {
	scores = lo.Filter(scores, func(s PairScore, _ int) bool { return s.Score > 0 })
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		a, b := scores[i].Pair, scores[j].Pair
		if a.Im1 != b.Im1 {
			return a.Im1 < b.Im1
		}
		return a.Im2 < b.Im2
	})
	return lo.Map(scores, func(s PairScore, _ int) tracking.ImagePair { return s.Pair })
}

// ComputeImagePairs returns the pairs sharing at least pair_min_common_tracks tracks, sorted
// by decreasing reconstructability. With more than one process the common tracks of every
// pair are gathered up front and scored by a pool of workers; otherwise they are gathered
// lazily one pair at a time. Both give the same ranking.
func (r *Reconstructor) ComputeImagePairs(ctx context.Context, tm *tracking.TracksManager) ([]tracking.ImagePair, error) {
	var scores []PairScore
	if r.cfg.Processes > 1 {
		common := tracking.AllCommonTracks(tm, r.cfg.PairMinCommonTracks)
		pairs := lo.Keys(common)
		tracking.SortPairs(pairs)
		var err error
		scores, err = utils.ParallelMap(ctx, r.cfg.Processes, pairs,
			func(ctx context.Context, pair tracking.ImagePair) (PairScore, error) {
				return r.scorePair(ctx, pair, common[pair])
			})
		if err != nil {
			return nil, errors.Wrap(err, "cannot score image pairs")
		}
	} else {
		connectivity := tm.AllPairsConnectivity()
		pairs := lo.Keys(connectivity)
		tracking.SortPairs(pairs)
		for _, pair := range pairs {
			if connectivity[pair] < r.cfg.PairMinCommonTracks {
				continue
			}
			score, err := r.scorePair(ctx, pair, tracking.CommonTracks(tm, pair.Im1, pair.Im2))
			if err != nil {
				return nil, errors.Wrap(err, "cannot score image pairs")
			}
			scores = append(scores, score)
		}
	}
	ranked := rankPairs(scores)
	r.pairsLogger.Infof("estimated reconstructability of %d image pairs", len(ranked))
	return ranked, nil
}
