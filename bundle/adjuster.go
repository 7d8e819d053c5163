package bundle

import (
	"time"

	"github.com/golang/geo/r3"

	"go.viam.com/sfm/config"
	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/multiview"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/spatialmath"
)

// localIterations bounds the pose-only and local adjustments.
const localIterations = 10

// gcpTriangulationThreshold is the loose chord threshold used to initialize control points.
const gcpTriangulationThreshold = 0.1

// Adjuster refines poses and points of a reconstruction in place.
type Adjuster interface {
	// Bundle adjusts every pose and point.
	Bundle(rec *reconstruction.Reconstruction, gcps []reconstruction.GroundControlPoint, cfg *config.Config) Report
	// BundleShotPoses adjusts only the poses of the given shots, points held fixed.
	BundleShotPoses(rec *reconstruction.Reconstruction, shotIDs []string, cfg *config.Config) Report
	// BundleLocal adjusts the neighborhood of a shot and returns the ids of the adjusted points.
	BundleLocal(
		rec *reconstruction.Reconstruction,
		centralShotID string,
		gcps []reconstruction.GroundControlPoint,
		cfg *config.Config,
	) ([]string, Report)
}

// LevenbergMarquardt is the default Adjuster: a damped Gauss-Newton over pose and point
// blocks with the points eliminated by the Schur complement. Camera intrinsics are held
// fixed.
type LevenbergMarquardt struct {
	logger logging.Logger
}

// NewLevenbergMarquardt returns an Adjuster logging to logger.
func NewLevenbergMarquardt(logger logging.Logger) *LevenbergMarquardt {
	return &LevenbergMarquardt{logger: logger}
}

// builder turns a reconstruction into a problem.
type builder struct {
	rec    *reconstruction.Reconstruction
	cfg    *config.Config
	prob   *problem
	poses  map[string]*poseBlock
	points map[string]*pointBlock
	shots  map[string]bool

	reprojections []*reprojection
}

func newBuilder(rec *reconstruction.Reconstruction, cfg *config.Config) *builder {
	return &builder{
		rec:    rec,
		cfg:    cfg,
		prob:   &problem{loss: newLoss(cfg.LossFunction, cfg.LossFunctionThreshold)},
		poses:  map[string]*poseBlock{},
		points: map[string]*pointBlock{},
		shots:  map[string]bool{},
	}
}

// poseFor returns the block holding the pose of a shot and the rig camera pose to compose
// with, nil for owned shots. A block requested variable once stays variable.
func (b *builder) poseFor(shot *reconstruction.Shot, fixed bool) (*poseBlock, *spatialmath.Pose) {
	var key string
	var rigCamera *spatialmath.Pose
	if shot.Ownership() == reconstruction.RigDerived {
		ri := shot.RigInstance()
		key = "rig_instance:" + ri.ID
		rc := shot.RigCamera().Pose
		rigCamera = &rc
		if blk, ok := b.poses[key]; ok {
			blk.fixed = blk.fixed && fixed
			return blk, rigCamera
		}
		blk := b.prob.addPose(newPoseBlock(ri.Pose(), fixed, ri.SetPose))
		b.poses[key] = blk
		return blk, rigCamera
	}
	key = "shot:" + shot.ID
	if blk, ok := b.poses[key]; ok {
		blk.fixed = blk.fixed && fixed
		return blk, nil
	}
	blk := b.prob.addPose(newPoseBlock(shot.Pose(), fixed, shot.SetPose))
	b.poses[key] = blk
	return blk, nil
}

func (b *builder) pointFor(p *reconstruction.Point, fixed bool) *pointBlock {
	if blk, ok := b.points[p.ID]; ok {
		blk.fixed = blk.fixed && fixed
		return blk
	}
	blk := b.prob.addPoint(newPointBlock(p.Coordinates, fixed, func(x r3.Vector) { p.Coordinates = x }))
	b.points[p.ID] = blk
	return blk
}

// addObservations adds the reprojection residuals of a shot for the points accepted by keep.
func (b *builder) addObservations(shot *reconstruction.Shot, shotFixed, pointsFixed bool, keep func(string) bool) {
	pose, rigCamera := b.poseFor(shot, shotFixed)
	b.shots[shot.ID] = true
	for _, pointID := range shot.PointIDs() {
		if keep != nil && !keep(pointID) {
			continue
		}
		obs, _ := shot.Observation(pointID)
		r := &reprojection{
			pose:      pose,
			rigCamera: rigCamera,
			camera:    shot.Camera,
			point:     b.pointFor(b.rec.Point(pointID), pointsFixed),
			observed:  obs.Point,
			sd:        b.cfg.ReprojectionErrorSD,
			shotID:    shot.ID,
			pointID:   pointID,
		}
		b.prob.addResidual(r)
		b.reprojections = append(b.reprojections, r)
	}
}

// addGPSPrior adds the position prior of a shot, corrected by the bias of its camera.
func (b *builder) addGPSPrior(shot *reconstruction.Shot) {
	if !b.cfg.BundleUseGPS || !shot.Metadata.GPSPosition.HasValue() {
		return
	}
	dop := b.cfg.GPSDOP
	if shot.Metadata.GPSAccuracy.HasValue() && shot.Metadata.GPSAccuracy.Value() > 0 {
		dop = shot.Metadata.GPSAccuracy.Value()
	}
	pose, rigCamera := b.poseFor(shot, true)
	target := b.rec.Bias(shot.Camera.ID).Apply(shot.Metadata.GPSPosition.Value())
	b.prob.addResidual(&positionPrior{pose: pose, rigCamera: rigCamera, target: target, sd: r3.Vector{X: dop, Y: dop, Z: dop}})
}

// addGCPs adds control points observed by the shots already in the problem.
func (b *builder) addGCPs(gcps []reconstruction.GroundControlPoint) {
	if !b.cfg.BundleUseGCP || b.rec.Reference() == nil {
		return
	}
	for _, gcp := range gcps {
		if !gcp.HasLLA {
			continue
		}
		var origins, bearings []r3.Vector
		var shots []*reconstruction.Shot
		var observed []reconstruction.GCPObservation
		for _, obs := range gcp.Observations {
			if !b.shots[obs.ShotID] {
				continue
			}
			shot := b.rec.Shot(obs.ShotID)
			shots = append(shots, shot)
			observed = append(observed, obs)
			origins = append(origins, shot.Pose().Origin())
			bearings = append(bearings, shot.WorldBearing(obs.Projection))
		}
		if len(shots) < 2 {
			continue
		}
		thresholds := make([]float64, len(shots))
		for i := range thresholds {
			thresholds[i] = gcpTriangulationThreshold
		}
		x, ok := multiview.TriangulateBearingsMidpoint(origins, bearings, thresholds, 0, 0)
		if !ok {
			continue
		}
		point := b.prob.addPoint(newPointBlock(x, false, nil))
		sd := r3.Vector{X: b.cfg.GCPHorizontalSD, Y: b.cfg.GCPHorizontalSD}
		if gcp.HasAltitude {
			sd.Z = b.cfg.GCPVerticalSD
		}
		b.prob.addResidual(&pointPrior{point: point, target: b.rec.Reference().ToTopocentric(gcp.LLA), sd: sd})
		for i, shot := range shots {
			pose, rigCamera := b.poseFor(shot, true)
			b.prob.addResidual(&reprojection{
				pose:      pose,
				rigCamera: rigCamera,
				camera:    shot.Camera,
				point:     point,
				observed:  observed[i].Projection,
				sd:        b.cfg.ReprojectionErrorSD,
				shotID:    shot.ID,
				pointID:   gcp.ID,
			})
		}
	}
}

func (b *builder) report() Report {
	return Report{NumImages: len(b.shots), NumPoints: len(b.points), NumReprojections: len(b.reprojections)}
}

// storeErrors records the residual of every adjusted observation on its point.
func (b *builder) storeErrors() {
	for _, r := range b.reprojections {
		b.rec.Point(r.pointID).SetReprojectionError(r.shotID, r.projectionError())
	}
}

func (lm *LevenbergMarquardt) solve(b *builder, iterations int, start time.Time, name string) Report {
	rep := b.report()
	rep.WallTimes.Setup = time.Since(start).Seconds()
	runStart := time.Now()
	summary := b.prob.run(iterations)
	rep.WallTimes.Run = time.Since(runStart).Seconds()
	teardown := time.Now()
	b.storeErrors()
	rep.WallTimes.Teardown = time.Since(teardown).Seconds()
	rep.BriefReport = summary.String()
	lm.logger.Debugf("%s: %s", name, rep.BriefReport)
	return rep
}

// Bundle adjusts every pose and point of the reconstruction.
func (lm *LevenbergMarquardt) Bundle(
	rec *reconstruction.Reconstruction,
	gcps []reconstruction.GroundControlPoint,
	cfg *config.Config,
) Report {
	start := time.Now()
	b := newBuilder(rec, cfg)
	for _, id := range rec.ShotIDs() {
		shot := rec.Shot(id)
		b.addObservations(shot, false, false, nil)
		b.addGPSPrior(shot)
	}
	b.addGCPs(gcps)
	return lm.solve(b, cfg.BundleMaxIterations, start, "bundle")
}

// BundleShotPoses adjusts the poses of shotIDs against fixed points.
func (lm *LevenbergMarquardt) BundleShotPoses(
	rec *reconstruction.Reconstruction,
	shotIDs []string,
	cfg *config.Config,
) Report {
	start := time.Now()
	b := newBuilder(rec, cfg)
	for _, id := range shotIDs {
		shot := rec.Shot(id)
		b.addObservations(shot, false, true, nil)
		b.addGPSPrior(shot)
	}
	return lm.solve(b, localIterations, start, "bundle shot poses")
}

// BundleLocal adjusts the interior of the neighborhood of centralShotID with the boundary
// shots held fixed.
func (lm *LevenbergMarquardt) BundleLocal(
	rec *reconstruction.Reconstruction,
	centralShotID string,
	gcps []reconstruction.GroundControlPoint,
	cfg *config.Config,
) ([]string, Report) {
	start := time.Now()
	interior, boundary := ShotNeighborhood(
		rec, centralShotID, cfg.LocalBundleRadius, cfg.LocalBundleMinCommonPoints, cfg.LocalBundleMaxShots)

	pointIDs := map[string]bool{}
	for _, id := range interior {
		for _, pointID := range rec.Shot(id).PointIDs() {
			pointIDs[pointID] = true
		}
	}
	keep := func(id string) bool { return pointIDs[id] }

	b := newBuilder(rec, cfg)
	for _, id := range interior {
		shot := rec.Shot(id)
		b.addObservations(shot, false, false, keep)
		b.addGPSPrior(shot)
	}
	for _, id := range boundary {
		b.addObservations(rec.Shot(id), true, false, keep)
	}
	b.addGCPs(gcps)
	rep := lm.solve(b, localIterations, start, "bundle local")

	ids := make([]string, 0, len(pointIDs))
	for _, id := range rec.PointIDs() {
		if pointIDs[id] {
			ids = append(ids, id)
		}
	}
	return ids, rep
}
