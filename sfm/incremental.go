package sfm

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/sfm/bundle"
	"go.viam.com/sfm/config"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/tracking"
	"go.viam.com/sfm/utils"
)

// ReconstructionReport describes the bootstrap and growth of one reconstruction.
type ReconstructionReport struct {
	Bootstrap BootstrapReport `json:"bootstrap"`
	Grow      *GrowReport     `json:"grow,omitempty"`
	State     GrowthState     `json:"state"`
}

// Report describes an incremental reconstruction.
type Report struct {
	NumCandidateImagePairs int                    `json:"num_candidate_image_pairs"`
	Reconstructions        []ReconstructionReport `json:"reconstructions"`
	NumMerged              int                    `json:"num_merged,omitempty"`
	WallTimes              map[string]float64     `json:"wall_times"`
	NotReconstructedImages []string               `json:"not_reconstructed_images"`
}

// IncrementalReconstruction reconstructs the images of tm. Reconstructions are bootstrapped
// from the ranked image pairs whose images are both unclaimed and grown until no image can
// be added. The result is sorted by decreasing number of shots. An error is returned only
// when ctx is done or the pairs cannot be ranked; the reconstructions finished so far are
// returned with it.
func (r *Reconstructor) IncrementalReconstruction(
	ctx context.Context,
	tm *tracking.TracksManager,
) ([]*reconstruction.Reconstruction, Report, error) {
	r.logger.Info("starting incremental reconstruction")
	chrono := utils.NewChronometer()
	report := Report{Reconstructions: []ReconstructionReport{}}

	remaining := lo.SliceToMap(tm.ShotIDs(), func(id string) (string, bool) { return id, true })
	pairs, err := r.ComputeImagePairs(ctx, tm)
	if err != nil {
		return nil, report, errors.Wrap(err, "cannot compute image pairs")
	}
	chrono.Lap("compute_image_pairs")
	report.NumCandidateImagePairs = len(pairs)

	var recs []*reconstruction.Reconstruction
	var loopErr error
	for _, pair := range pairs {
		if err := ctx.Err(); err != nil {
			loopErr = err
			break
		}
		if !remaining[pair.Im1] || !remaining[pair.Im2] {
			continue
		}
		common := tracking.CommonTracks(tm, pair.Im1, pair.Im2)
		rec, bootstrap, ok := r.BootstrapReconstruction(tm, pair.Im1, pair.Im2, common.P1, common.P2)
		recReport := ReconstructionReport{Bootstrap: bootstrap, State: Failed}
		if ok {
			for _, id := range rec.ShotIDs() {
				delete(remaining, id)
			}
			grow, state := r.GrowReconstruction(ctx, tm, rec, remaining)
			recReport.Grow, recReport.State = &grow, state
			recs = append(recs, rec)
			sortByShots(recs)
		}
		report.Reconstructions = append(report.Reconstructions, recReport)
	}
	chrono.Lap("compute_reconstructions")

	if r.cfg.MergePartialReconstructions && len(recs) > 1 && loopErr == nil {
		before := len(recs)
		recs = r.MergeReconstructions(recs)
		sortByShots(recs)
		report.NumMerged = before - len(recs)
		chrono.Lap("merge_reconstructions")
	}

	for i, rec := range recs {
		r.logger.Infof("reconstruction %d: %d images, %d points", i, rec.NumShots(), rec.NumPoints())
	}
	r.logger.Infof("%d partial reconstructions in total", len(recs))

	report.WallTimes = chrono.LapSeconds()
	report.NotReconstructedImages = lo.Keys(remaining)
	sort.Strings(report.NotReconstructedImages)
	return recs, report, loopErr
}

func sortByShots(recs []*reconstruction.Reconstruction) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].NumShots() > recs[j].NumShots() })
}

// Rounds of the triangulation only reconstruction.
const (
	triangulationOuterIterations  = 3
	triangulationInnerIterations  = 5
	triangulationBundleIterations = 10
)

// TriangulationStep describes one retriangulation round of a triangulation only
// reconstruction.
type TriangulationStep struct {
	Retriangulation    RetriangulationReport `json:"retriangulation"`
	TriangulatedPoints int                   `json:"triangulated_points"`
	Bundles            []bundle.Report       `json:"bundles"`
	RemovedOutliers    int                   `json:"removed_outliers"`
}

// TriangulationReport describes a triangulation only reconstruction.
type TriangulationReport struct {
	Steps     []TriangulationStep `json:"steps"`
	WallTimes map[string]float64  `json:"wall_times"`
}

// TriangulationReconstruction reconstructs images whose poses are all known from their
// metadata: the points are triangulated robustly and refined with the poses in alternating
// rounds of bundle adjustment and outlier removal.
func (r *Reconstructor) TriangulationReconstruction(
	ctx context.Context,
	tm *tracking.TracksManager,
) (*reconstruction.Reconstruction, TriangulationReport, error) {
	r.logger.Info("starting triangulation reconstruction")
	chrono := utils.NewChronometer()
	var report TriangulationReport

	rec := r.reconstructionFromMetadata(tm.ShotIDs())
	cfg := r.cfg.Copy()
	cfg.TriangulationType = config.TriangulationRobust
	cfg.BundleMaxIterations = triangulationBundleIterations

	for i := 0; i < triangulationOuterIterations; i++ {
		if err := ctx.Err(); err != nil {
			return rec, report, err
		}
		step := TriangulationStep{Retriangulation: Retriangulate(tm, rec, cfg)}
		step.TriangulatedPoints = rec.NumPoints()
		r.logger.Infof("triangulated %d points", step.TriangulatedPoints)
		for j := 0; j < triangulationInnerIterations; j++ {
			step.Bundles = append(step.Bundles, r.adjuster.Bundle(rec, r.gcps, cfg))
			step.RemovedOutliers += RemoveOutliers(r.logger, rec, cfg, nil)
		}
		report.Steps = append(report.Steps, step)
	}
	PaintReconstruction(rec)
	chrono.Lap("compute_reconstructions")
	report.WallTimes = chrono.LapSeconds()
	return rec, report, nil
}

// ReconstructFromPrior triangulates the tracks of tm seen by the shots of prior, keeping
// their poses.
func (r *Reconstructor) ReconstructFromPrior(
	tm *tracking.TracksManager,
	prior *reconstruction.Reconstruction,
) (*reconstruction.Reconstruction, RetriangulationReport) {
	start := time.Now()
	rec := reconstruction.New()
	rec.SetReference(prior.Reference())
	for _, id := range prior.ShotIDs() {
		rec.AddShotFrom(prior.Shot(id))
	}
	report := RetriangulationReport{}
	TriangulateShotFeatures(tm, rec, rec.ShotIDs(), r.cfg)
	report.NumPointsAfter = rec.NumPoints()
	report.WallTime = time.Since(start).Seconds()
	r.logger.Infof("triangulated %d points from %d prior shots", rec.NumPoints(), rec.NumShots())
	return rec, report
}
