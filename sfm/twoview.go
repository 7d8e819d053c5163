package sfm

import (
	"math/rand"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/sfm/camera"
	"go.viam.com/sfm/config"
	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/multiview"
	"go.viam.com/sfm/spatialmath"
)

// Two-view methods.
const (
	MethodFivePoint  = "5pt"
	MethodPlaneBased = "plane_based"
)

// minTwoViewInliers is the support a relative motion needs to be considered at all.
const minTwoViewInliers = 5

// TwoViewReport describes the estimation of the initial relative motion.
type TwoViewReport struct {
	FivePointInliers  int    `json:"5_point_inliers"`
	PlaneBasedInliers int    `json:"plane_based_inliers"`
	Method            string `json:"method,omitempty"`
	Decision          string `json:"decision,omitempty"`
}

// TwoViewResult is a relative motion with the indices of the correspondences it explains.
type TwoViewResult struct {
	Relative multiview.RelativePose
	Inliers  []int
}

// SecondCameraPose returns the pose of the second camera when the first one is at the origin.
func (r TwoViewResult) SecondCameraPose() spatialmath.Pose {
	return r.Relative.SecondCameraPose()
}

func pick[T any](values []T, indices []int) []T {
	out := make([]T, len(indices))
	for i, idx := range indices {
		out[i] = values[idx]
	}
	return out
}

// TwoViewAndRefinement refines the relative motion rp, or its reversed version when
// transposed, on the correspondences it explains and recomputes them.
func TwoViewAndRefinement(
	b1, b2 []r3.Vector,
	rp multiview.RelativePose,
	threshold float64,
	iterations int,
	transposed bool,
) TwoViewResult {
	if transposed {
		rp = rp.Reversed()
	}
	inliers := multiview.RelativePoseInliers(b1, b2, rp, threshold)
	if len(inliers) > minTwoViewInliers {
		rp = multiview.RefineRelativePose(pick(b1, inliers), pick(b2, inliers), rp, iterations)
		inliers = multiview.RelativePoseInliers(b1, b2, rp, threshold)
	}
	return TwoViewResult{Relative: rp, Inliers: inliers}
}

// TwoViewFivePoint refines a robustly estimated relative motion. With checkReversal the
// reversed motion is refined too, and the one with more support wins unless their support
// ratio exceeds reversalRatio, in which case the Necker ambiguity cannot be decided.
func TwoViewFivePoint(
	logger logging.Logger,
	b1, b2 []r3.Vector,
	rp multiview.RelativePose,
	threshold float64,
	iterations int,
	checkReversal bool,
	reversalRatio float64,
) (TwoViewResult, bool) {
	configurations := []bool{false}
	if checkReversal {
		configurations = append(configurations, true)
	}
	var results []TwoViewResult
	for _, transposed := range configurations {
		res := TwoViewAndRefinement(b1, b2, rp, threshold, iterations, transposed)
		if len(res.Inliers) <= minTwoViewInliers {
			continue
		}
		logger.Infof("two-view 5-points reconstruction inliers (transposed=%t): %d / %d",
			transposed, len(res.Inliers), len(b1))
		results = append(results, res)
	}

	switch len(results) {
	case 1:
		return results[0], true
	case 2:
		n1, n2 := float64(len(results[0].Inliers)), float64(len(results[1].Inliers))
		ratio := min(n1, n2) / max(n1, n2)
		if ratio > reversalRatio {
			logger.Warnf("undecidable Necker configuration (ratio=%.3f), skipping", ratio)
			return TwoViewResult{}, false
		}
		if n1 > n2 {
			return results[0], true
		}
		return results[1], true
	default:
		return TwoViewResult{}, false
	}
}

// TwoViewPlaneBased estimates the relative motion from a plane induced homography, keeping
// the decomposition that explains the most correspondences.
func TwoViewPlaneBased(b1, b2 []r3.Vector, threshold float64, rng *rand.Rand) (TwoViewResult, bool) {
	pts1, pts2, _ := multiview.PlanarProjections(b1, b2)
	h, _, ok := multiview.HomographyRANSAC(pts1, pts2, multiview.DefaultRansacOptions(threshold), rng)
	if !ok {
		return TwoViewResult{}, false
	}
	var best TwoViewResult
	found := false
	for _, motion := range multiview.MotionsFromHomography(h) {
		rp := motion.RelativePose()
		inliers := multiview.RelativePoseInliers(b1, b2, rp, threshold)
		if !found || len(inliers) > len(best.Inliers) {
			best, found = TwoViewResult{Relative: rp, Inliers: inliers}, true
		}
	}
	return best, found
}

// TwoViewRotationOnly estimates a pure rotation between two views from normalized
// correspondences and returns it with its inliers.
func TwoViewRotationOnly(
	p1, p2 []r2.Point,
	camera1, camera2 *camera.Camera,
	threshold float64,
	rng *rand.Rand,
) (spatialmath.RotationMatrix, []int, bool) {
	b1, b2 := camera1.Bearings(p1), camera2.Bearings(p2)
	opts := multiview.DefaultRansacOptions(threshold)
	rotation, _, ok := multiview.RelativeRotationRANSAC(b1, b2, opts, rng)
	if !ok {
		return spatialmath.IdentityRotation(), nil, false
	}
	return rotation, multiview.RotationInliers(b1, b2, rotation, threshold), true
}

// TwoViewGeneral estimates the relative motion of two views with both the essential matrix
// and the homography models and keeps the one with the most inliers. It returns false when
// neither gives a usable motion.
func TwoViewGeneral(
	logger logging.Logger,
	p1, p2 []r2.Point,
	camera1, camera2 *camera.Camera,
	cfg *config.Config,
	rng *rand.Rand,
) (TwoViewResult, TwoViewReport, bool) {
	b1, b2 := camera1.Bearings(p1), camera2.Bearings(p2)
	threshold := cfg.FivePointAlgoThreshold

	var fivePoint TwoViewResult
	validFivePoint := false
	if robust, _, ok := multiview.RelativePoseRANSAC(b1, b2, multiview.DefaultRansacOptions(threshold), rng); ok {
		fivePoint, validFivePoint = TwoViewFivePoint(
			logger, b1, b2, robust, threshold,
			cfg.FivePointRefineRecIterations, cfg.FivePointReversalCheck, cfg.FivePointReversalRatio)
	}
	plane, validPlane := TwoViewPlaneBased(b1, b2, threshold, rng)
	validPlane = validPlane && len(plane.Inliers) > minTwoViewInliers

	report := TwoViewReport{FivePointInliers: len(fivePoint.Inliers), PlaneBasedInliers: len(plane.Inliers)}
	switch {
	case validFivePoint && len(fivePoint.Inliers) > len(plane.Inliers):
		report.Method = MethodFivePoint
		return fivePoint, report, true
	case validPlane:
		report.Method = MethodPlaneBased
		return plane, report, true
	default:
		report.Decision = "Could not find initial motion"
		logger.Info(report.Decision)
		return TwoViewResult{}, report, false
	}
}
