package sfm

import (
	"github.com/golang/geo/r3"
	"github.com/samber/lo"

	"go.viam.com/sfm/align"
	"go.viam.com/sfm/multiview"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/tracking"
	"go.viam.com/sfm/utils"
)

const (
	minMergeCorrespondences = 7
	minMergeInliers         = 10
	mergeIterations         = 100
)

// commonPoints returns the sorted ids of the points present in both reconstructions.
func commonPoints(r1, r2 *reconstruction.Reconstruction) []string {
	ids := lo.Filter(lo.Keys(r1.Points()), func(id string, _ int) bool { return r2.HasPoint(id) })
	tracking.SortTrackIDs(ids)
	return ids
}

// MergeTwoReconstructions maps r1 onto r2 by the similarity fitted on their common points and
// adds its shots and points to r2, which is then aligned again. Nothing is modified and false
// is returned when fewer than ten common points support the similarity or the reconstructions
// share a shot.
func (r *Reconstructor) MergeTwoReconstructions(r1, r2 *reconstruction.Reconstruction) (*reconstruction.Reconstruction, bool) {
	if r1.NumShots() == 0 || r2.NumShots() == 0 || lo.SomeBy(r1.ShotIDs(), r2.HasShot) {
		return nil, false
	}
	common := commonPoints(r1, r2)
	if len(common) < minMergeCorrespondences {
		return nil, false
	}
	src := make([]r3.Vector, len(common))
	dst := make([]r3.Vector, len(common))
	for i, id := range common {
		src[i] = r1.Point(id).Coordinates
		dst[i] = r2.Point(id).Coordinates
	}

	opts := multiview.RansacOptions{
		Threshold:     r.cfg.MergeSimilarityThreshold,
		MaxIterations: mergeIterations,
		Probability:   0.999,
	}
	rng := utils.SeededRand(r.cfg.Seed, "merge", r1.ShotIDs()[0], r2.ShotIDs()[0])
	sim, inliers, ok := multiview.SimilarityRANSAC(src, dst, opts, rng)
	if !ok || len(inliers) < minMergeInliers {
		r.logger.Debugf("cannot merge reconstructions: %d inliers out of %d common points", len(inliers), len(common))
		return nil, false
	}

	align.ApplySimilarity(r1, sim)
	r2.Merge(r1)
	align.AlignReconstruction(r.alignLogger, r2, nil, r.cfg, true, false)
	r.logger.Infof("merged reconstructions with %d inliers out of %d common points", len(inliers), len(common))
	return r2, true
}

// MergeReconstructions greedily merges the reconstructions in order: each one, once merged
// with a later one, is tried against all the following ones before moving on.
func (r *Reconstructor) MergeReconstructions(recs []*reconstruction.Reconstruction) []*reconstruction.Reconstruction {
	consumed := make([]bool, len(recs))
	var out []*reconstruction.Reconstruction
	for i := range recs {
		if consumed[i] {
			continue
		}
		current := recs[i]
		for j := i + 1; j < len(recs); j++ {
			if consumed[j] {
				continue
			}
			if merged, ok := r.MergeTwoReconstructions(current, recs[j]); ok {
				current = merged
				consumed[j] = true
			}
		}
		out = append(out, current)
	}
	r.logger.Infof("%d reconstructions after merging %d", len(out), len(recs))
	return out
}
