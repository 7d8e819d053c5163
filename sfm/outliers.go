package sfm

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/montanaflynn/stats"

	"go.viam.com/sfm/config"
	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/reconstruction"
)

// madToStd scales a median absolute deviation to a normal standard deviation.
const madToStd = 1.486

// ErrorDistribution returns the per axis median of the reprojection errors of the given
// points and a robust deviation of their norms around it. All points are used when pointIDs
// is nil.
func ErrorDistribution(rec *reconstruction.Reconstruction, pointIDs []string) (r2.Point, float64, bool) {
	if pointIDs == nil {
		pointIDs = rec.PointIDs()
	}
	var xs, ys stats.Float64Data
	var errs []r2.Point
	for _, id := range pointIDs {
		if !rec.HasPoint(id) {
			continue
		}
		for _, e := range rec.Point(id).ReprojectionErrors() {
			xs = append(xs, e.X)
			ys = append(ys, e.Y)
			errs = append(errs, e)
		}
	}
	if len(errs) == 0 {
		return r2.Point{}, 0, false
	}
	//nolint:errcheck
	mx, _ := xs.Median()
	//nolint:errcheck
	my, _ := ys.Median()
	center := r2.Point{X: mx, Y: my}

	deviations := make(stats.Float64Data, len(errs))
	for i, e := range errs {
		deviations[i] = e.Sub(center).Norm()
	}
	//nolint:errcheck
	mad, _ := deviations.Median()
	return center, madToStd * mad, true
}

// OutlierThreshold returns the reprojection error above which observations are removed. The
// AUTO threshold is always estimated over every point of the reconstruction.
func OutlierThreshold(rec *reconstruction.Reconstruction, cfg *config.Config) float64 {
	if cfg.BundleOutlierFilteringType != config.OutlierFilteringAuto {
		return cfg.BundleOutlierFixedThreshold
	}
	center, std, ok := ErrorDistribution(rec, nil)
	if !ok {
		return cfg.BundleOutlierFixedThreshold
	}
	return cfg.BundleOutlierAutoRatio * math.Hypot(center.X+std, center.Y+std)
}

// RemoveOutliers removes the observations of the given points whose last reprojection error
// exceeds the outlier threshold, then the points left with fewer than two observations. All
// points are filtered when pointIDs is nil. It returns the number of removed observations.
func RemoveOutliers(
	logger logging.Logger,
	rec *reconstruction.Reconstruction,
	cfg *config.Config,
	pointIDs []string,
) int {
	threshold := OutlierThreshold(rec, cfg)
	if pointIDs == nil {
		pointIDs = rec.PointIDs()
	}

	removed := 0
	for _, id := range pointIDs {
		if !rec.HasPoint(id) {
			continue
		}
		p := rec.Point(id)
		observations := p.Observations()
		var outliers []string
		for shotID, e := range p.ReprojectionErrors() {
			if _, observed := observations[shotID]; observed && e.Norm() > threshold {
				outliers = append(outliers, shotID)
			}
		}
		if len(outliers) == 0 {
			continue
		}
		for _, shotID := range outliers {
			rec.RemoveObservation(shotID, id)
		}
		removed += len(outliers)
		if p.NumObservations() < 2 {
			rec.RemovePoint(id)
		}
	}
	logger.Infof("removed outliers: %d", removed)
	return removed
}
