package sfm

import (
	"context"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/sfm/align"
	"go.viam.com/sfm/bundle"
	"go.viam.com/sfm/config"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/tracking"
	"go.viam.com/sfm/utils"
)

// GrowthState is the stage a reconstruction reached.
type GrowthState int

// Growth states.
const (
	Unbootstrapped GrowthState = iota
	Growing
	Converged
	Failed
)

func (s GrowthState) String() string {
	switch s {
	case Unbootstrapped:
		return "unbootstrapped"
	case Growing:
		return "growing"
	case Converged:
		return "converged"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name.
func (s GrowthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *GrowthState) UnmarshalText(text []byte) error {
	for _, candidate := range []GrowthState{Unbootstrapped, Growing, Converged, Failed} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return errors.Errorf("unknown growth state %q", string(text))
}

// Bootstrap decisions.
const (
	decisionSuccess               = "Success"
	decisionNotEnoughPoints       = "Initial motion did not generate enough points"
	decisionRetriangulationFailed = "Re-triangulation after initial motion did not generate enough points"
)

// BootstrapReport describes the creation of a two-view reconstruction.
type BootstrapReport struct {
	ImagePair          [2]string     `json:"image_pair"`
	TwoView            TwoViewReport `json:"two_view_reconstruction"`
	TriangulatedPoints int           `json:"triangulated_points,omitempty"`
	Decision           string        `json:"decision"`
}

// GrowStep describes the addition of shots to a reconstruction.
type GrowStep struct {
	Images                     []string               `json:"images"`
	Resection                  ResectionReport        `json:"resection"`
	TriangulatedPoints         int                    `json:"triangulated_points"`
	Bundle                     *bundle.Report         `json:"bundle,omitempty"`
	Retriangulation            *RetriangulationReport `json:"retriangulation,omitempty"`
	BundleAfterRetriangulation *bundle.Report         `json:"bundle_after_retriangulation,omitempty"`
	LocalBundle                *bundle.Report         `json:"local_bundle,omitempty"`
	RemovedOutliers            int                    `json:"removed_outliers"`
}

// GrowReport describes the growth of a reconstruction.
type GrowReport struct {
	Steps       []GrowStep     `json:"steps"`
	FinalBundle *bundle.Report `json:"final_bundle,omitempty"`
}

// ShouldBundle decides when a global bundle adjustment is due: when the points grew by
// bundle_new_points_ratio or bundle_interval shots were added since the last one.
type ShouldBundle struct {
	rec            *reconstruction.Reconstruction
	interval       int
	newPointsRatio float64
	numPointsLast  int
	numShotsLast   int
}

// NewShouldBundle returns a trigger considering rec as just bundled.
func NewShouldBundle(rec *reconstruction.Reconstruction, cfg *config.Config) *ShouldBundle {
	s := &ShouldBundle{rec: rec, interval: cfg.BundleInterval, newPointsRatio: cfg.BundleNewPointsRatio}
	s.Done()
	return s
}

// Should reports whether a bundle adjustment is due.
func (s *ShouldBundle) Should() bool {
	maxPoints := float64(s.numPointsLast) * s.newPointsRatio
	maxShots := s.numShotsLast + s.interval
	return float64(s.rec.NumPoints()) > maxPoints || s.rec.NumShots() >= maxShots
}

// Done resets the trigger.
func (s *ShouldBundle) Done() {
	s.numPointsLast = s.rec.NumPoints()
	s.numShotsLast = s.rec.NumShots()
}

// ShouldRetriangulate decides when a retriangulation is due: when enabled and the points grew
// by retriangulation_ratio since the last one.
type ShouldRetriangulate struct {
	rec           *reconstruction.Reconstruction
	active        bool
	ratio         float64
	numPointsLast int
}

// NewShouldRetriangulate returns a trigger considering rec as just retriangulated.
func NewShouldRetriangulate(rec *reconstruction.Reconstruction, cfg *config.Config) *ShouldRetriangulate {
	s := &ShouldRetriangulate{rec: rec, active: cfg.Retriangulation, ratio: cfg.RetriangulationRatio}
	s.Done()
	return s
}

// Should reports whether a retriangulation is due.
func (s *ShouldRetriangulate) Should() bool {
	return s.active && float64(s.rec.NumPoints()) > s.ratio*float64(s.numPointsLast)
}

// Done resets the trigger.
func (s *ShouldRetriangulate) Done() {
	s.numPointsLast = s.rec.NumPoints()
}

// BootstrapReconstruction builds a reconstruction from the relative motion of two images
// given their common observations p1 and p2. It returns false when the motion cannot be
// estimated or does not triangulate enough points.
func (r *Reconstructor) BootstrapReconstruction(
	tm *tracking.TracksManager,
	im1, im2 string,
	p1, p2 []r2.Point,
) (*reconstruction.Reconstruction, BootstrapReport, bool) {
	report := BootstrapReport{ImagePair: [2]string{im1, im2}}
	camera1, err := r.cameraFor(im1)
	if err != nil {
		report.Decision = err.Error()
		return nil, report, false
	}
	camera2, err := r.cameraFor(im2)
	if err != nil {
		report.Decision = err.Error()
		return nil, report, false
	}

	rng := utils.SeededRand(r.cfg.Seed, "bootstrap", im1, im2)
	motion, twoView, ok := TwoViewGeneral(r.growLogger, p1, p2, camera1, camera2, r.cfg, rng)
	report.TwoView = twoView
	if !ok {
		report.Decision = twoView.Decision
		return nil, report, false
	}

	rec := r.newReconstruction()
	newShots, err := r.addShot(rec, im1, spatialmath.IdentityPose())
	if err != nil {
		report.Decision = err.Error()
		return nil, report, false
	}
	if !lo.Contains(newShots, im2) {
		more, err := r.addShot(rec, im2, motion.SecondCameraPose())
		if err != nil {
			report.Decision = err.Error()
			return nil, report, false
		}
		newShots = append(newShots, more...)
	}

	align.AlignReconstruction(r.alignLogger, rec, nil, r.cfg, true, false)
	TriangulateShotFeatures(tm, rec, newShots, r.cfg)
	minInliers := r.cfg.FivePointAlgoMinInliers
	r.growLogger.Infof("triangulated: %d", rec.NumPoints())
	report.TriangulatedPoints = rec.NumPoints()
	if rec.NumPoints() < minInliers {
		report.Decision = decisionNotEnoughPoints
		r.growLogger.Info(report.Decision)
		return nil, report, false
	}

	toAdjust := lo.Without(newShots, im1)
	r.adjuster.BundleShotPoses(rec, toAdjust, r.cfg)
	Retriangulate(tm, rec, r.cfg)
	if rec.NumPoints() < minInliers {
		report.Decision = decisionRetriangulationFailed
		r.growLogger.Info(report.Decision)
		return nil, report, false
	}
	r.adjuster.BundleShotPoses(rec, toAdjust, r.cfg)

	report.Decision = decisionSuccess
	r.growLogger.Infof("bootstrapped %s and %s with %d points", im1, im2, rec.NumPoints())
	return rec, report, true
}

// resectionCandidates returns the remaining images seeing points of rec, the ones seeing the
// most first.
func resectionCandidates(tm *tracking.TracksManager, rec *reconstruction.Reconstruction, remaining map[string]bool) []string {
	counts := map[string]int{}
	for image := range remaining {
		if !tm.HasShot(image) {
			continue
		}
		n := lo.CountBy(lo.Keys(tm.ShotObservations(image)), rec.HasPoint)
		if n > 0 {
			counts[image] = n
		}
	}
	candidates := lo.Keys(counts)
	sort.Slice(candidates, func(i, j int) bool {
		if counts[candidates[i]] != counts[candidates[j]] {
			return counts[candidates[i]] > counts[candidates[j]]
		}
		return candidates[i] < candidates[j]
	})
	return candidates
}

// GrowReconstruction adds the remaining images to rec one at a time by resection until none
// can be added, bundling and retriangulating as the reconstruction grows. Added images are
// removed from remaining. Growth stops early, before starting a new iteration, when ctx is
// done.
func (r *Reconstructor) GrowReconstruction(
	ctx context.Context,
	tm *tracking.TracksManager,
	rec *reconstruction.Reconstruction,
	remaining map[string]bool,
) (GrowReport, GrowthState) {
	var report GrowReport
	cfg := r.cfg

	align.AlignReconstruction(r.alignLogger, rec, r.gcps, cfg, true, false)
	r.adjuster.Bundle(rec, nil, cfg)
	RemoveOutliers(r.growLogger, rec, cfg, nil)
	PaintReconstruction(rec)

	shouldBundle := NewShouldBundle(rec, cfg)
	shouldRetriangulate := NewShouldRetriangulate(rec, cfg)
	state := Growing
	for state == Growing {
		if ctx.Err() != nil {
			r.growLogger.Warnf("growth interrupted: %v", ctx.Err())
			return report, state
		}
		candidates := resectionCandidates(tm, rec, remaining)
		if len(candidates) == 0 {
			state = Converged
			break
		}

		added := false
		for _, image := range candidates {
			ok, newShots, resection := r.Resect(tm, rec, image, cfg.ResectionThreshold, cfg.ResectionMinInliers)
			if !ok {
				continue
			}
			added = true
			for _, id := range newShots {
				delete(remaining, id)
			}
			r.adjuster.BundleShotPoses(rec, newShots, cfg)
			r.growLogger.Infof("adding %v to the reconstruction", newShots)

			step := GrowStep{Images: newShots, Resection: resection}
			before := rec.NumPoints()
			TriangulateShotFeatures(tm, rec, newShots, cfg)
			step.TriangulatedPoints = rec.NumPoints() - before

			switch {
			case shouldRetriangulate.Should():
				r.growLogger.Info("re-triangulating")
				align.AlignReconstruction(r.alignLogger, rec, r.gcps, cfg, true, false)
				b1 := r.adjuster.Bundle(rec, nil, cfg)
				rt := Retriangulate(tm, rec, cfg)
				b2 := r.adjuster.Bundle(rec, nil, cfg)
				step.RemovedOutliers = RemoveOutliers(r.growLogger, rec, cfg, nil)
				step.Bundle, step.Retriangulation, step.BundleAfterRetriangulation = &b1, &rt, &b2
				shouldRetriangulate.Done()
				shouldBundle.Done()
			case shouldBundle.Should():
				align.AlignReconstruction(r.alignLogger, rec, r.gcps, cfg, true, false)
				b := r.adjuster.Bundle(rec, nil, cfg)
				step.RemovedOutliers = RemoveOutliers(r.growLogger, rec, cfg, nil)
				step.Bundle = &b
				shouldBundle.Done()
			case cfg.LocalBundleRadius > 0:
				pointIDs, b := r.adjuster.BundleLocal(rec, image, nil, cfg)
				step.RemovedOutliers = RemoveOutliers(r.growLogger, rec, cfg, pointIDs)
				step.LocalBundle = &b
			}
			report.Steps = append(report.Steps, step)
			break
		}
		if !added {
			r.growLogger.Info("some images can not be added")
			state = Converged
		}
	}

	final := r.finalize(rec)
	report.FinalBundle = &final
	return report, state
}

// finalize aligns rec with GPS bias compensation, falling back once to a plain alignment,
// then bundles, removes outliers and paints it.
func (r *Reconstructor) finalize(rec *reconstruction.Reconstruction) bundle.Report {
	cfg := r.cfg
	if _, ok := align.AlignReconstruction(r.alignLogger, rec, r.gcps, cfg, true, true); !ok && cfg.BundleCompensateGPSBias {
		r.alignLogger.Warn("alignment with GPS bias compensation failed, retrying without it")
		cfg = cfg.Copy()
		cfg.BundleCompensateGPSBias = false
		align.AlignReconstruction(r.alignLogger, rec, r.gcps, cfg, true, false)
	}
	report := r.adjuster.Bundle(rec, r.gcps, cfg)
	RemoveOutliers(r.growLogger, rec, cfg, nil)
	PaintReconstruction(rec)
	return report
}

// PaintReconstruction colors each point with its observation by the shot of smallest id.
func PaintReconstruction(rec *reconstruction.Reconstruction) {
	for _, p := range rec.Points() {
		observations := p.Observations()
		if len(observations) == 0 {
			continue
		}
		p.Color = observations[lo.Min(lo.Keys(observations))].Color
	}
}
