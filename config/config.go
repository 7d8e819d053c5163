// Package config holds the reconstruction parameters. A Config is validated once and then
// treated as read-only by every stage; callers that need a variation take a copy.
package config

import (
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// TriangulationType selects how tracks are triangulated.
type TriangulationType string

// Triangulation modes.
const (
	TriangulationFull   = TriangulationType("FULL")
	TriangulationRobust = TriangulationType("ROBUST")
	TriangulationDLT    = TriangulationType("DLT")
)

// OutlierFilteringType selects how the outlier threshold is computed after bundle adjustment.
type OutlierFilteringType string

// Outlier filtering modes.
const (
	OutlierFilteringFixed = OutlierFilteringType("FIXED")
	OutlierFilteringAuto  = OutlierFilteringType("AUTO")
)

// AlignMethod selects the similarity estimation used for GPS/GCP alignment.
type AlignMethod string

// Alignment methods.
const (
	AlignAuto             = AlignMethod("auto")
	AlignNaive            = AlignMethod("naive")
	AlignOrientationPrior = AlignMethod("orientation_prior")
)

// OrientationPrior is the assumed camera orientation used by the orientation prior alignment.
type OrientationPrior string

// Orientation priors.
const (
	OrientationNoRoll     = OrientationPrior("no_roll")
	OrientationHorizontal = OrientationPrior("horizontal")
	OrientationVertical   = OrientationPrior("vertical")
)

// LossFunction is the robust loss applied to reprojection residuals in bundle adjustment.
type LossFunction string

// Loss functions.
const (
	LossTrivial  = LossFunction("TrivialLoss")
	LossSoftLOne = LossFunction("SoftLOneLoss")
	LossCauchy   = LossFunction("CauchyLoss")
	LossHuber    = LossFunction("HuberLoss")
)

// Config contains every tunable of the reconstruction. Keys match the json tags.
type Config struct {
	Processes int   `json:"processes"`
	Seed      int64 `json:"seed"`

	MinTrackLength      int     `json:"min_track_length"`
	DepthStdDeviation   float64 `json:"depth_std_deviation"`
	PairMinCommonTracks int     `json:"pair_min_common_tracks"`

	FivePointAlgoThreshold       float64 `json:"five_point_algo_threshold"`
	FivePointAlgoMinInliers      int     `json:"five_point_algo_min_inliers"`
	FivePointRefineRecIterations int     `json:"five_point_refine_rec_iterations"`
	FivePointReversalCheck       bool    `json:"five_point_reversal_check"`
	FivePointReversalRatio       float64 `json:"five_point_reversal_ratio"`

	TriangulationThreshold            float64           `json:"triangulation_threshold"`
	TriangulationMinRayAngle          float64           `json:"triangulation_min_ray_angle"`
	TriangulationMinDepth             float64           `json:"triangulation_min_depth"`
	TriangulationType                 TriangulationType `json:"triangulation_type"`
	TriangulationRefinementIterations int               `json:"triangulation_refinement_iterations"`

	ResectionThreshold  float64 `json:"resection_threshold"`
	ResectionMinInliers int     `json:"resection_min_inliers"`

	Retriangulation      bool    `json:"retriangulation"`
	RetriangulationRatio float64 `json:"retriangulation_ratio"`

	BundleOutlierFilteringType  OutlierFilteringType `json:"bundle_outlier_filtering_type"`
	BundleOutlierAutoRatio      float64              `json:"bundle_outlier_auto_ratio"`
	BundleOutlierFixedThreshold float64              `json:"bundle_outlier_fixed_threshold"`
	BundleInterval              int                  `json:"bundle_interval"`
	BundleNewPointsRatio        float64              `json:"bundle_new_points_ratio"`
	BundleMaxIterations         int                  `json:"bundle_max_iterations"`
	BundleUseGPS                bool                 `json:"bundle_use_gps"`
	BundleUseGCP                bool                 `json:"bundle_use_gcp"`
	BundleCompensateGPSBias     bool                 `json:"bundle_compensate_gps_bias"`

	LocalBundleRadius          int `json:"local_bundle_radius"`
	LocalBundleMinCommonPoints int `json:"local_bundle_min_common_points"`
	LocalBundleMaxShots        int `json:"local_bundle_max_shots"`

	LossFunction          LossFunction `json:"loss_function"`
	LossFunctionThreshold float64      `json:"loss_function_threshold"`
	ReprojectionErrorSD   float64      `json:"reprojection_error_sd"`
	GPSDOP                float64      `json:"gps_dop"`
	GCPHorizontalSD       float64      `json:"gcp_horizontal_sd"`
	GCPVerticalSD         float64      `json:"gcp_vertical_sd"`

	AlignMethod              AlignMethod      `json:"align_method"`
	AlignOrientationPrior    OrientationPrior `json:"align_orientation_prior"`
	AlignCollinearityRatio   float64          `json:"align_collinearity_ratio"`
	AlignCollinearityEpsilon float64          `json:"align_collinearity_epsilon"`

	MergePartialReconstructions bool    `json:"merge_partial_reconstructions"`
	MergeSimilarityThreshold    float64 `json:"merge_similarity_threshold"`
}

// Default returns the default reconstruction parameters.
func Default() *Config {
	return &Config{
		Processes: 1,
		Seed:      42,

		MinTrackLength:      2,
		DepthStdDeviation:   1,
		PairMinCommonTracks: 50,

		FivePointAlgoThreshold:       0.004,
		FivePointAlgoMinInliers:      20,
		FivePointRefineRecIterations: 1000,
		FivePointReversalCheck:       false,
		FivePointReversalRatio:       0.95,

		TriangulationThreshold:            0.006,
		TriangulationMinRayAngle:          1.0,
		TriangulationMinDepth:             0.001,
		TriangulationType:                 TriangulationFull,
		TriangulationRefinementIterations: 10,

		ResectionThreshold:  0.004,
		ResectionMinInliers: 10,

		Retriangulation:      true,
		RetriangulationRatio: 1.2,

		BundleOutlierFilteringType:  OutlierFilteringFixed,
		BundleOutlierAutoRatio:      3.0,
		BundleOutlierFixedThreshold: 0.006,
		BundleInterval:              999999,
		BundleNewPointsRatio:        1.2,
		BundleMaxIterations:         100,
		BundleUseGPS:                true,
		BundleUseGCP:                false,
		BundleCompensateGPSBias:     false,

		LocalBundleRadius:          3,
		LocalBundleMinCommonPoints: 20,
		LocalBundleMaxShots:        30,

		LossFunction:          LossSoftLOne,
		LossFunctionThreshold: 1,
		ReprojectionErrorSD:   0.004,
		GPSDOP:                15,
		GCPHorizontalSD:       0.01,
		GCPVerticalSD:         0.1,

		AlignMethod:              AlignAuto,
		AlignOrientationPrior:    OrientationHorizontal,
		AlignCollinearityRatio:   5e3,
		AlignCollinearityEpsilon: 1e-10,

		MergePartialReconstructions: true,
		MergeSimilarityThreshold:    1,
	}
}

// Copy returns a shallow copy that may be modified without affecting the receiver.
func (c *Config) Copy() *Config {
	cp := *c
	return &cp
}

// InvalidValueError is returned for a configuration key holding an unusable value.
type InvalidValueError struct {
	Key    string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value for %q: %s", e.Key, e.Reason)
}

func invalid(key, format string, args ...interface{}) error {
	return &InvalidValueError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks every field and returns all problems at once.
func (c *Config) Validate() error {
	var errs error
	positiveInt := func(key string, v int) {
		if v <= 0 {
			errs = multierr.Append(errs, invalid(key, "must be positive, got %d", v))
		}
	}
	positiveFloat := func(key string, v float64) {
		if !(v > 0) {
			errs = multierr.Append(errs, invalid(key, "must be positive, got %v", v))
		}
	}

	positiveInt("processes", c.Processes)
	if c.MinTrackLength < 2 {
		errs = multierr.Append(errs, invalid("min_track_length", "must be at least 2, got %d", c.MinTrackLength))
	}
	positiveFloat("five_point_algo_threshold", c.FivePointAlgoThreshold)
	positiveInt("five_point_algo_min_inliers", c.FivePointAlgoMinInliers)
	if c.FivePointReversalRatio <= 0 || c.FivePointReversalRatio > 1 {
		errs = multierr.Append(errs, invalid("five_point_reversal_ratio", "must be in (0, 1], got %v", c.FivePointReversalRatio))
	}
	positiveFloat("triangulation_threshold", c.TriangulationThreshold)
	if c.TriangulationMinRayAngle < 0 {
		errs = multierr.Append(errs, invalid("triangulation_min_ray_angle", "must not be negative"))
	}
	positiveFloat("resection_threshold", c.ResectionThreshold)
	positiveInt("resection_min_inliers", c.ResectionMinInliers)
	positiveFloat("retriangulation_ratio", c.RetriangulationRatio)
	positiveFloat("bundle_new_points_ratio", c.BundleNewPointsRatio)
	positiveInt("bundle_interval", c.BundleInterval)
	positiveInt("bundle_max_iterations", c.BundleMaxIterations)
	positiveFloat("reprojection_error_sd", c.ReprojectionErrorSD)
	positiveFloat("gps_dop", c.GPSDOP)
	positiveFloat("align_collinearity_ratio", c.AlignCollinearityRatio)
	positiveFloat("merge_similarity_threshold", c.MergeSimilarityThreshold)
	if c.LocalBundleRadius < 0 {
		errs = multierr.Append(errs, invalid("local_bundle_radius", "must not be negative"))
	}

	switch c.TriangulationType {
	case TriangulationFull, TriangulationRobust, TriangulationDLT:
	default:
		errs = multierr.Append(errs, invalid("triangulation_type", "unknown type %q", c.TriangulationType))
	}
	switch c.BundleOutlierFilteringType {
	case OutlierFilteringFixed, OutlierFilteringAuto:
	default:
		errs = multierr.Append(errs, invalid("bundle_outlier_filtering_type", "unknown type %q", c.BundleOutlierFilteringType))
	}
	switch c.AlignMethod {
	case AlignAuto, AlignNaive, AlignOrientationPrior:
	default:
		errs = multierr.Append(errs, invalid("align_method", "unknown method %q", c.AlignMethod))
	}
	switch c.AlignOrientationPrior {
	case OrientationNoRoll, OrientationHorizontal, OrientationVertical:
	default:
		errs = multierr.Append(errs, invalid("align_orientation_prior", "unknown prior %q", c.AlignOrientationPrior))
	}
	switch c.LossFunction {
	case LossTrivial, LossSoftLOne, LossCauchy, LossHuber:
	default:
		errs = multierr.Append(errs, invalid("loss_function", "unknown loss %q", c.LossFunction))
	}
	if errs != nil {
		return errors.Wrap(errs, "invalid reconstruction config")
	}
	return nil
}
