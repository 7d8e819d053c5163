package sfm

import (
	"github.com/golang/geo/r3"
	"github.com/samber/lo"

	"go.viam.com/sfm/multiview"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/tracking"
	"go.viam.com/sfm/utils"
)

const (
	minResectionCorrespondences = 5
	resectionRefineIterations   = 20
)

// ResectionReport describes a resection attempt.
type ResectionReport struct {
	NumCommonPoints int      `json:"num_common_points"`
	NumInliers      int      `json:"num_inliers,omitempty"`
	Shots           []string `json:"shots,omitempty"`
}

// Resect estimates the pose of image from its observations of the points of rec. The shot is
// added when at least minInliers correspondences agree with the pose, together with its rig
// mates, whose features are then triangulated. Only the inlier observations are added. The
// ids of the added shots are returned.
func (r *Reconstructor) Resect(
	tm *tracking.TracksManager,
	rec *reconstruction.Reconstruction,
	image string,
	threshold float64,
	minInliers int,
) (bool, []string, ResectionReport) {
	cam, err := r.cameraFor(image)
	if err != nil {
		r.growLogger.Warnf("cannot resect %s: %v", image, err)
		return false, nil, ResectionReport{}
	}

	observations := tm.ShotObservations(image)
	trackIDs := lo.Filter(lo.Keys(observations), func(id string, _ int) bool { return rec.HasPoint(id) })
	tracking.SortTrackIDs(trackIDs)

	bearings := make([]r3.Vector, len(trackIDs))
	points := make([]r3.Vector, len(trackIDs))
	for i, id := range trackIDs {
		bearings[i] = cam.Bearing(observations[id].Point)
		points[i] = rec.Point(id).Coordinates
	}
	report := ResectionReport{NumCommonPoints: len(trackIDs)}
	if len(trackIDs) < minResectionCorrespondences {
		return false, nil, report
	}

	rng := utils.SeededRand(r.cfg.Seed, "resect", image)
	pose, inliers, ok := multiview.AbsolutePoseRANSAC(bearings, points, multiview.DefaultRansacOptions(threshold), rng)
	if !ok {
		return false, nil, report
	}
	pose = multiview.RefineAbsolutePose(pick(bearings, inliers), pick(points, inliers), pose, resectionRefineIterations)
	inliers = multiview.AbsolutePoseInliers(bearings, points, pose, threshold)
	report.NumInliers = len(inliers)
	r.growLogger.Infof("%s resection inliers: %d / %d", image, len(inliers), len(bearings))
	if len(inliers) < minInliers {
		return false, nil, report
	}

	added, err := r.addShot(rec, image, pose)
	if err != nil {
		r.growLogger.Warnf("cannot add %s: %v", image, err)
		return false, nil, report
	}
	if mates := lo.Without(added, image); len(mates) > 0 {
		TriangulateShotFeatures(tm, rec, mates, r.cfg)
	}
	for _, i := range inliers {
		rec.AddObservation(image, trackIDs[i], observations[trackIDs[i]])
	}
	report.Shots = added
	return true, added, report
}
