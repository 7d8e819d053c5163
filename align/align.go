// Package align computes and applies the similarity bringing a reconstruction onto its GPS and
// ground control point references.
package align

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/sfm/config"
	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/multiview"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/spatialmath"
)

const (
	// maxTwoShotsTranslation clamps the translation-only alignment of a two shot pair.
	maxTwoShotsTranslation    = 1000.0
	gcpTriangulationThreshold = 0.1
)

// AlignReconstruction aligns rec in place and returns the applied similarity. The scale is
// estimated only when no rig instance holds more than one shot. With biasOverride and
// bundle_compensate_gps_bias set, the reconstruction is aligned on the control points only
// and per camera GPS biases are stored instead.
func AlignReconstruction(
	logger logging.Logger,
	rec *reconstruction.Reconstruction,
	gcps []reconstruction.GroundControlPoint,
	cfg *config.Config,
	useGPS, biasOverride bool,
) (spatialmath.Similarity, bool) {
	useScale := !lo.SomeBy(lo.Values(rec.RigInstances()), func(ri *reconstruction.RigInstance) bool {
		return ri.NumShots() > 1
	})
	if biasOverride && cfg.BundleCompensateGPSBias {
		return SetGPSBias(logger, rec, cfg, gcps, useScale)
	}
	sim, ok := ComputeReconstructionSimilarity(logger, rec, gcps, cfg, useGPS, useScale)
	if ok {
		ApplySimilarity(rec, sim)
	}
	return sim, ok
}

// ApplySimilarity maps every point and pose of rec by sim. Rig camera offsets are scaled.
func ApplySimilarity(rec *reconstruction.Reconstruction, sim spatialmath.Similarity) {
	for _, p := range rec.Points() {
		p.Coordinates = sim.Apply(p.Coordinates)
	}
	for _, ri := range rec.RigInstances() {
		ri.SetPose(sim.TransformPose(ri.Pose()))
	}
	for _, shot := range rec.Shots() {
		if shot.Ownership() == reconstruction.Owned {
			shot.SetPose(sim.TransformPose(shot.Pose()))
		}
	}
	scaling := spatialmath.NewSimilarity(sim.Scale, spatialmath.IdentityRotation(), r3.Vector{})
	for _, rc := range rec.RigCameras() {
		rc.Pose = scaling.TransformPose(rc.Pose)
	}
}

// ComputeReconstructionSimilarity returns the similarity aligning rec to its references with
// the configured method. Degenerate results are rejected.
func ComputeReconstructionSimilarity(
	logger logging.Logger,
	rec *reconstruction.Reconstruction,
	gcps []reconstruction.GroundControlPoint,
	cfg *config.Config,
	useGPS, useScale bool,
) (spatialmath.Similarity, bool) {
	method := cfg.AlignMethod
	if method == config.AlignAuto {
		method = DetectAlignmentMethod(logger, rec, gcps, cfg, useGPS)
	}
	var sim spatialmath.Similarity
	var ok bool
	switch method {
	case config.AlignOrientationPrior:
		sim, ok = orientationPriorSimilarity(rec, gcps, cfg, useGPS, useScale)
	case config.AlignNaive:
		sim, ok = naiveSimilarity(logger, rec, gcps, cfg, useGPS, useScale)
	}
	if !ok {
		return spatialmath.Similarity{}, false
	}
	if !sim.Valid() {
		logger.Warnf("computation of alignment similarity (%s) is degenerate", method)
		return spatialmath.Similarity{}, false
	}
	return sim, true
}

// Constraints returns matching reconstruction and reference positions: triangulated control
// points against their surveyed positions when bundle_use_gcp is set, and pose origins
// against their averaged GPS when useGPS and bundle_use_gps are set. Shots without a rig
// instance count as their own instance.
func Constraints(
	rec *reconstruction.Reconstruction,
	gcps []reconstruction.GroundControlPoint,
	cfg *config.Config,
	useGPS bool,
) (x, xp []r3.Vector) {
	if len(gcps) > 0 && cfg.BundleUseGCP {
		x, xp = TriangulateAllGCP(rec, gcps)
	}
	if !useGPS || !cfg.BundleUseGPS {
		return x, xp
	}
	addGroup := func(origin r3.Vector, shots []*reconstruction.Shot) {
		var sum r3.Vector
		n := 0
		for _, shot := range shots {
			if shot.Metadata.GPSPosition.HasValue() {
				sum = sum.Add(shot.Metadata.GPSPosition.Value())
				n++
			}
		}
		if n > 0 {
			x = append(x, origin)
			xp = append(xp, sum.Mul(1/float64(n)))
		}
	}
	instances := lo.Keys(rec.RigInstances())
	sort.Strings(instances)
	for _, id := range instances {
		ri := rec.RigInstance(id)
		addGroup(ri.Pose().Origin(), lo.Values(ri.Shots()))
	}
	for _, id := range rec.ShotIDs() {
		if shot := rec.Shot(id); shot.Ownership() == reconstruction.Owned {
			addGroup(shot.Pose().Origin(), []*reconstruction.Shot{shot})
		}
	}
	return x, xp
}

// DetectAlignmentMethod picks the orientation prior when the constraints are fewer than
// three or lie close to a line, and the naive 3D-3D fit otherwise.
func DetectAlignmentMethod(
	logger logging.Logger,
	rec *reconstruction.Reconstruction,
	gcps []reconstruction.GroundControlPoint,
	cfg *config.Config,
	useGPS bool,
) config.AlignMethod {
	x, _ := Constraints(rec, gcps, cfg, useGPS)
	if len(x) < 3 {
		return config.AlignOrientationPrior
	}
	evalues := scatterEigenvalues(x)
	small := lo.CountBy(evalues, func(v float64) bool { return v < cfg.AlignCollinearityEpsilon })
	ratio := math.Abs(evalues[2] / evalues[1])
	if small > 1 || ratio > cfg.AlignCollinearityRatio {
		logger.Warnf("shots and/or GCPs are aligned on a single line, using %s prior", cfg.AlignOrientationPrior)
		return config.AlignOrientationPrior
	}
	logger.Info("shots and/or GCPs are well-conditioned, using naive 3D-3D alignment")
	return config.AlignNaive
}

// scatterEigenvalues returns the ascending eigenvalues of the scatter matrix of the centered
// points.
func scatterEigenvalues(points []r3.Vector) []float64 {
	mean := centroid(points)
	data := mat.NewDense(len(points), 3, nil)
	for i, p := range points {
		d := p.Sub(mean)
		data.SetRow(i, []float64{d.X, d.Y, d.Z})
	}
	var scatter mat.SymDense
	scatter.SymOuterK(1, data.T())
	var eig mat.EigenSym
	if !eig.Factorize(&scatter, false) {
		return []float64{0, 0, 0}
	}
	return eig.Values(nil)
}

func centroid(points []r3.Vector) r3.Vector {
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(points)))
}

// axisStdDev returns the population standard deviation of each coordinate.
func axisStdDev(points []r3.Vector) r3.Vector {
	xs := make([]float64, len(points))
	ys := make([]float64, len(points))
	zs := make([]float64, len(points))
	for i, p := range points {
		xs[i], ys[i], zs[i] = p.X, p.Y, p.Z
	}
	return r3.Vector{X: stat.PopStdDev(xs, nil), Y: stat.PopStdDev(ys, nil), Z: stat.PopStdDev(zs, nil)}
}

func translationOnly(from, to r3.Vector) spatialmath.Similarity {
	return spatialmath.NewSimilarity(1, spatialmath.IdentityRotation(), to.Sub(from))
}

func naiveSimilarity(
	logger logging.Logger,
	rec *reconstruction.Reconstruction,
	gcps []reconstruction.GroundControlPoint,
	cfg *config.Config,
	useGPS, useScale bool,
) (spatialmath.Similarity, bool) {
	x, xp := Constraints(rec, gcps, cfg, useGPS)
	if len(x) == 0 {
		return spatialmath.Similarity{}, false
	}
	single := len(x) == 1
	same := axisStdDev(xp).Norm() < 1e-10
	if single {
		logger.Warn("only 1 constraint, using translation-only alignment")
	}
	if same {
		logger.Warn("GPS/GCP data seems to have identical values, using translation-only alignment")
	}
	if single || same {
		return translationOnly(x[0], xp[0]), true
	}
	if len(x) == 2 {
		logger.Warn("only 2 constraints, alignment will be up to some unknown rotation")
		x = append(x, x[1])
		xp = append(xp, xp[1])
	}
	return multiview.Umeyama(x, xp, useScale)
}

// HorizontalAndVerticalDirections returns the world directions of the image right, down and
// forward axes of a camera with world to camera rotation r, for an EXIF orientation tag.
// Unknown tags are treated as 1.
func HorizontalAndVerticalDirections(r spatialmath.RotationMatrix, orientation int) (x, y, z r3.Vector) {
	r0, r1, r2 := r.Row(0), r.Row(1), r.Row(2)
	switch orientation {
	case 2:
		return r0.Mul(-1), r1, r2.Mul(-1)
	case 3:
		return r0.Mul(-1), r1.Mul(-1), r2
	case 4:
		return r0, r1.Mul(-1), r2
	case 5:
		return r1, r0, r2.Mul(-1)
	case 6:
		return r1.Mul(-1), r0, r2
	case 7:
		return r1.Mul(-1), r0.Mul(-1), r2.Mul(-1)
	case 8:
		return r1, r0.Mul(-1), r2
	default:
		return r0, r1, r2
	}
}

// EstimateGroundPlane fits the plane through the camera origins, constrained by the image
// axes the orientation prior assumes horizontal or vertical.
func EstimateGroundPlane(rec *reconstruction.Reconstruction, prior config.OrientationPrior) multiview.Plane {
	var ground, onPlane, verticals []r3.Vector
	for _, id := range rec.ShotIDs() {
		shot := rec.Shot(id)
		pose := shot.Pose()
		ground = append(ground, pose.Origin())
		if !shot.Metadata.OrientationTag.HasValue() {
			continue
		}
		x, y, z := HorizontalAndVerticalDirections(pose.Rotation(), shot.Metadata.OrientationTag.Value())
		switch prior {
		case config.OrientationNoRoll:
			onPlane = append(onPlane, x)
			verticals = append(verticals, y.Mul(-1))
		case config.OrientationHorizontal:
			onPlane = append(onPlane, x, z)
			verticals = append(verticals, y.Mul(-1))
		case config.OrientationVertical:
			onPlane = append(onPlane, x, y)
			verticals = append(verticals, z.Mul(-1))
		}
	}
	if len(ground) > 0 {
		mean := centroid(ground)
		for i := range ground {
			ground[i] = ground[i].Sub(mean)
		}
	}
	return multiview.FitPlane(ground, onPlane, verticals)
}

func orientationPriorSimilarity(
	rec *reconstruction.Reconstruction,
	gcps []reconstruction.GroundControlPoint,
	cfg *config.Config,
	useGPS, useScale bool,
) (spatialmath.Similarity, bool) {
	rplane := EstimateGroundPlane(rec, cfg.AlignOrientationPrior).HorizontallingRotation()

	x, xp := Constraints(rec, gcps, cfg, useGPS)
	if len(x) == 0 {
		return spatialmath.NewSimilarity(1, rplane, r3.Vector{}), true
	}
	for i := range x {
		x[i] = rplane.Apply(x[i])
	}

	twoShots := len(x) == 2
	sdX, sdXp := axisStdDev(x), axisStdDev(xp)
	same := math.Max(sdX.X, math.Max(sdX.Y, sdX.Z)) < 1e-8 ||
		math.Max(sdXp.X, math.Max(sdXp.Y, sdXp.Z)) < 0.01
	if len(x) < 2 || same {
		scale := 1.0
		b := centroid(xp).Sub(centroid(x))
		if n := b.Norm(); twoShots && n > maxTwoShotsTranslation {
			b = b.Mul(maxTwoShotsTranslation / n)
			scale = maxTwoShotsTranslation / n
		}
		return spatialmath.NewSimilarity(scale, rplane, b), true
	}

	src := make([]r2.Point, len(x))
	dst := make([]r2.Point, len(xp))
	for i := range x {
		src[i] = r2.Point{X: x[i].X, Y: x[i].Y}
		dst[i] = r2.Point{X: xp[i].X, Y: xp[i].Y}
	}
	sim2, ok := multiview.Umeyama2D(src, dst)
	if !ok {
		return spatialmath.Similarity{}, false
	}
	if !useScale {
		sim2.Scale = 1
		sim2.Translation = r2.Point{}
		sim2.Translation = centroid2(dst).Sub(sim2.Apply(centroid2(src)))
	}
	meanZ := func(points []r3.Vector) float64 { return centroid(points).Z }
	rotation := spatialmath.RotationFromAxisAngle(r3.Vector{Z: sim2.Angle}).Mul(rplane)
	translation := r3.Vector{X: sim2.Translation.X, Y: sim2.Translation.Y, Z: meanZ(xp) - sim2.Scale*meanZ(x)}
	return spatialmath.NewSimilarity(sim2.Scale, rotation, translation), true
}

func centroid2(points []r2.Point) r2.Point {
	var sum r2.Point
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(points)))
}

// SetGPSBias aligns rec on its control points only, then estimates for each camera the
// similarity between the aligned shot positions and their GPS, and stores its inverse as the
// camera bias. When a camera cannot be aligned no bias is stored. The control point alignment
// is returned.
func SetGPSBias(
	logger logging.Logger,
	rec *reconstruction.Reconstruction,
	cfg *config.Config,
	gcps []reconstruction.GroundControlPoint,
	useScale bool,
) (spatialmath.Similarity, bool) {
	gpsBias, ok := ComputeReconstructionSimilarity(logger, rec, gcps, cfg, false, useScale)
	if !ok {
		logger.Warn("cannot align on GCPs only, GPS bias won't be compensated")
		return spatialmath.Similarity{}, false
	}
	logger.Infof("applying global bias %v", gpsBias)
	ApplySimilarity(rec, gpsBias)

	perCamera := map[string][]string{}
	for _, id := range rec.ShotIDs() {
		shot := rec.Shot(id)
		perCamera[shot.Camera.ID] = append(perCamera[shot.Camera.ID], id)
	}
	cameraIDs := lo.Keys(perCamera)
	sort.Strings(cameraIDs)

	transforms := map[string]spatialmath.Similarity{}
	for _, cameraID := range cameraIDs {
		sub := reconstruction.New()
		sub.SetReference(rec.Reference())
		for _, id := range perCamera[cameraID] {
			sub.AddShotFrom(rec.Shot(id))
		}
		sim, ok := ComputeReconstructionSimilarity(logger, sub, nil, cfg, true, useScale)
		if !ok {
			logger.Warn("cannot compensate some shots, GPS bias won't be compensated")
			return gpsBias, true
		}
		transforms[cameraID] = sim
	}
	for _, cameraID := range cameraIDs {
		bias := transforms[cameraID].Inverse()
		logger.Infof("camera %s bias: %v", cameraID, bias)
		rec.SetBias(cameraID, bias)
	}
	return gpsBias, true
}

// TriangulateGCP returns the position of a control point from its observations in the shots
// of rec. At least two observations are needed.
func TriangulateGCP(rec *reconstruction.Reconstruction, gcp reconstruction.GroundControlPoint) (r3.Vector, bool) {
	var origins, bearings []r3.Vector
	for _, obs := range gcp.Observations {
		if !rec.HasShot(obs.ShotID) {
			continue
		}
		shot := rec.Shot(obs.ShotID)
		origins = append(origins, shot.Pose().Origin())
		bearings = append(bearings, shot.WorldBearing(obs.Projection))
	}
	if len(bearings) < 2 {
		return r3.Vector{}, false
	}
	thresholds := lo.Times(len(bearings), func(int) float64 { return gcpTriangulationThreshold })
	return multiview.TriangulateBearingsMidpoint(origins, bearings, thresholds, 0, 0)
}

// TriangulateAllGCP returns the triangulated and surveyed topocentric positions of the
// control points seen at least twice. Control points without altitude are compared on the
// ground plane.
func TriangulateAllGCP(
	rec *reconstruction.Reconstruction,
	gcps []reconstruction.GroundControlPoint,
) (triangulated, measured []r3.Vector) {
	if rec.Reference() == nil {
		return nil, nil
	}
	for _, gcp := range gcps {
		if !gcp.HasLLA {
			continue
		}
		x, ok := TriangulateGCP(rec, gcp)
		if !ok {
			continue
		}
		enu := rec.Reference().ToTopocentric(gcp.LLA)
		if !gcp.HasAltitude {
			enu.Z, x.Z = 0, 0
		}
		triangulated = append(triangulated, x)
		measured = append(measured, enu)
	}
	return triangulated, measured
}
