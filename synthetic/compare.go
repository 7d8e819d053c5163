package synthetic

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/montanaflynn/stats"
	"github.com/samber/lo"

	"go.viam.com/sfm/align"
	"go.viam.com/sfm/multiview"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/spatialmath"
)

// Metrics measure a reconstruction against the ground truth. Aligned errors are computed after
// the best similarity between the two, absolute errors in the reconstruction frame.
type Metrics struct {
	RatioCameras         float64 `json:"ratio_cameras"`
	RatioPoints          float64 `json:"ratio_points"`
	AlignedPositionRMSE  float64 `json:"aligned_position_rmse"`
	AlignedRotationRMSE  float64 `json:"aligned_rotation_rmse"`
	AlignedPointsRMSE    float64 `json:"aligned_points_rmse"`
	AbsolutePositionRMSE float64 `json:"absolute_position_rmse"`
	AbsoluteGPSRMSE      float64 `json:"absolute_gps_rmse"`
	AbsoluteGCPRMSE      float64 `json:"absolute_gcp_rmse,omitempty"`
}

// rmse returns the root mean square of the norms of the differences.
func rmse(a, b []r3.Vector) float64 {
	if len(a) == 0 {
		return 0
	}
	squares := make(stats.Float64Data, len(a))
	for i := range a {
		d := a[i].Sub(b[i]).Norm()
		squares[i] = d * d
	}
	//nolint:errcheck
	mean, _ := squares.Mean()
	return math.Sqrt(mean)
}

// rotationAngle returns the angle of the rotation taking a onto b.
func rotationAngle(a, b spatialmath.RotationMatrix) float64 {
	return b.Mul(a.Transpose()).AxisAngle().Norm()
}

// Compare measures rec against the ground truth reconstruction truth.
func Compare(truth, rec *reconstruction.Reconstruction, gcps []reconstruction.GroundControlPoint) Metrics {
	var m Metrics
	if truth.NumShots() > 0 {
		m.RatioCameras = float64(rec.NumShots()) / float64(truth.NumShots())
	}
	if truth.NumPoints() > 0 {
		m.RatioPoints = float64(rec.NumPoints()) / float64(truth.NumPoints())
	}

	shots := lo.Filter(rec.ShotIDs(), func(id string, _ int) bool { return truth.HasShot(id) })
	var recOrigins, trueOrigins, gps []r3.Vector
	var recGPS []r3.Vector
	for _, id := range shots {
		shot := rec.Shot(id)
		recOrigins = append(recOrigins, shot.Pose().Origin())
		trueOrigins = append(trueOrigins, truth.Shot(id).Pose().Origin())
		if shot.Metadata.GPSPosition.HasValue() {
			recGPS = append(recGPS, shot.Pose().Origin())
			gps = append(gps, shot.Metadata.GPSPosition.Value())
		}
	}
	m.AbsolutePositionRMSE = rmse(recOrigins, trueOrigins)
	m.AbsoluteGPSRMSE = rmse(recGPS, gps)
	if triangulated, measured := align.TriangulateAllGCP(rec, gcps); len(triangulated) > 0 {
		m.AbsoluteGCPRMSE = rmse(triangulated, measured)
	}

	if len(shots) < 3 {
		return m
	}
	sim, ok := multiview.Umeyama(recOrigins, trueOrigins, true)
	if !ok {
		return m
	}
	aligned := lo.Map(recOrigins, func(o r3.Vector, _ int) r3.Vector { return sim.Apply(o) })
	m.AlignedPositionRMSE = rmse(aligned, trueOrigins)

	var squaredAngles stats.Float64Data
	for _, id := range shots {
		// A world to camera rotation R becomes R Aᵀ once the world is mapped by A.
		alignedRotation := rec.Shot(id).Pose().Rotation().Mul(sim.Rotation.Transpose())
		angle := rotationAngle(alignedRotation, truth.Shot(id).Pose().Rotation())
		squaredAngles = append(squaredAngles, angle*angle)
	}
	//nolint:errcheck
	meanAngle, _ := squaredAngles.Mean()
	m.AlignedRotationRMSE = math.Sqrt(meanAngle)

	var recPoints, truePoints []r3.Vector
	for _, id := range rec.PointIDs() {
		if truth.HasPoint(id) {
			recPoints = append(recPoints, sim.Apply(rec.Point(id).Coordinates))
			truePoints = append(truePoints, truth.Point(id).Coordinates)
		}
	}
	m.AlignedPointsRMSE = rmse(recPoints, truePoints)
	return m
}
