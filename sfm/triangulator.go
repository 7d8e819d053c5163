package sfm

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/golang/geo/r3"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/sfm/config"
	"go.viam.com/sfm/multiview"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/tracking"
	"go.viam.com/sfm/utils"
)

const (
	// robustTriangulationTries gives 0.99 success probability with 60% inliers.
	robustTriangulationTries = 11
	robustTriangulationProb  = 0.99
)

// ShotCache holds the geometry of the shots of one triangulation pass. It must be discarded
// whenever a shot pose changes.
type ShotCache struct {
	origins          map[string]r3.Vector
	rotationInverses map[string]spatialmath.RotationMatrix
	rts              map[string]*mat.Dense
}

// NewShotCache returns an empty cache.
func NewShotCache() *ShotCache {
	return &ShotCache{
		origins:          map[string]r3.Vector{},
		rotationInverses: map[string]spatialmath.RotationMatrix{},
		rts:              map[string]*mat.Dense{},
	}
}

// Origin returns the optical center of the shot.
func (c *ShotCache) Origin(shot *reconstruction.Shot) r3.Vector {
	if o, ok := c.origins[shot.ID]; ok {
		return o
	}
	o := shot.Pose().Origin()
	c.origins[shot.ID] = o
	return o
}

// RotationInverse returns the camera to world rotation of the shot.
func (c *ShotCache) RotationInverse(shot *reconstruction.Shot) spatialmath.RotationMatrix {
	if r, ok := c.rotationInverses[shot.ID]; ok {
		return r
	}
	r := shot.Pose().Rotation().Transpose()
	c.rotationInverses[shot.ID] = r
	return r
}

// Rt returns the 3x4 world to camera matrix of the shot.
func (c *ShotCache) Rt(shot *reconstruction.Shot) *mat.Dense {
	if rt, ok := c.rts[shot.ID]; ok {
		return rt
	}
	rt := shot.Pose().ProjectionMatrix()
	c.rts[shot.ID] = rt
	return rt
}

// TrackHandler provides the observations of tracks to a TrackTriangulator and receives its
// results.
type TrackHandler interface {
	// Observations returns the observations of a track by the shots being triangulated from.
	Observations(trackID string) map[string]tracking.Observation
	// StoreCoordinates stores a newly triangulated track.
	StoreCoordinates(trackID string, coordinates r3.Vector)
	// StoreInlier records that a shot observation agrees with the triangulated track.
	StoreInlier(trackID, shotID string)
}

// tracksManagerHandler reads tracks from a TracksManager and writes points into a
// reconstruction.
type tracksManagerHandler struct {
	tm  *tracking.TracksManager
	rec *reconstruction.Reconstruction
}

// NewTracksManagerHandler returns a TrackHandler over the shots of rec.
func NewTracksManagerHandler(tm *tracking.TracksManager, rec *reconstruction.Reconstruction) TrackHandler {
	return &tracksManagerHandler{tm: tm, rec: rec}
}

func (h *tracksManagerHandler) Observations(trackID string) map[string]tracking.Observation {
	return lo.PickBy(h.tm.TrackObservations(trackID), func(shotID string, _ tracking.Observation) bool {
		return h.rec.HasShot(shotID)
	})
}

func (h *tracksManagerHandler) StoreCoordinates(trackID string, coordinates r3.Vector) {
	h.rec.CreatePoint(trackID, coordinates)
}

func (h *tracksManagerHandler) StoreInlier(trackID, shotID string) {
	obs, _ := h.tm.Observation(shotID, trackID)
	h.rec.AddObservation(shotID, trackID, obs)
}

// TriangulationOptions bound the triangulation of a track.
type TriangulationOptions struct {
	Threshold float64
	// MinRayAngle is in degrees.
	MinRayAngle float64
	MinDepth    float64
	Iterations  int
}

// TriangulationOptionsFromConfig reads the triangulation settings.
func TriangulationOptionsFromConfig(cfg *config.Config) TriangulationOptions {
	return TriangulationOptions{
		Threshold:   cfg.TriangulationThreshold,
		MinRayAngle: cfg.TriangulationMinRayAngle,
		MinDepth:    cfg.TriangulationMinDepth,
		Iterations:  cfg.TriangulationRefinementIterations,
	}
}

func (o TriangulationOptions) thresholds(n int) []float64 {
	return lo.Times(n, func(int) float64 { return o.Threshold })
}

// TrackTriangulator triangulates tracks in a reconstruction using a ShotCache.
type TrackTriangulator struct {
	rec     *reconstruction.Reconstruction
	handler TrackHandler
	cache   *ShotCache
	rng     *rand.Rand
}

// NewTrackTriangulator returns a triangulator for one pass over rec.
func NewTrackTriangulator(rec *reconstruction.Reconstruction, handler TrackHandler, rng *rand.Rand) *TrackTriangulator {
	return &TrackTriangulator{rec: rec, handler: handler, cache: NewShotCache(), rng: rng}
}

// rays returns the shots observing a track in id order with their origins and bearings,
// world bearings when world is set.
func (t *TrackTriangulator) rays(trackID string, world bool) (ids []string, origins, bearings []r3.Vector) {
	observations := t.handler.Observations(trackID)
	ids = lo.Keys(observations)
	sort.Strings(ids)
	for _, id := range ids {
		shot := t.rec.Shot(id)
		b := shot.Camera.Bearing(observations[id].Point)
		if world {
			b = t.cache.RotationInverse(shot).Apply(b)
		}
		origins = append(origins, t.cache.Origin(shot))
		bearings = append(bearings, b)
	}
	return ids, origins, bearings
}

func (t *TrackTriangulator) store(trackID string, point r3.Vector, ids []string) {
	t.handler.StoreCoordinates(trackID, point)
	for _, id := range ids {
		t.handler.StoreInlier(trackID, id)
	}
}

// bearingInliers returns the rays seeing point within threshold.
func bearingInliers(point r3.Vector, origins, bearings []r3.Vector, threshold float64) []int {
	var inliers []int
	for i, b := range bearings {
		d := point.Sub(origins[i])
		if d.Norm() > 0 && d.Normalize().Sub(b).Norm() < threshold {
			inliers = append(inliers, i)
		}
	}
	return inliers
}

// TriangulateRobust triangulates a track from random pairs of its observations and keeps the
// point agreeing with the most observations. At least two must agree.
func (t *TrackTriangulator) TriangulateRobust(trackID string, opts TriangulationOptions) {
	ids, origins, bearings := t.rays(trackID, true)
	if len(ids) < 2 {
		return
	}
	var combinations [][2]int
	for i := range ids {
		for j := i + 1; j < len(ids); j++ {
			combinations = append(combinations, [2]int{i, j})
		}
	}
	minAngle := utils.DegToRad(opts.MinRayAngle)

	var bestInliers []int
	var bestPoint r3.Vector
	tried := map[int]bool{}
	for try := 0; try < robustTriangulationTries; try++ {
		k := t.rng.Intn(len(combinations))
		if tried[k] {
			continue
		}
		tried[k] = true

		i, j := combinations[k][0], combinations[k][1]
		pairOrigins := []r3.Vector{origins[i], origins[j]}
		pairBearings := []r3.Vector{bearings[i], bearings[j]}
		x, ok := multiview.TriangulateBearingsMidpoint(pairOrigins, pairBearings, opts.thresholds(2), minAngle, opts.MinDepth)
		if !ok {
			continue
		}
		x = multiview.RefinePoint(pairOrigins, pairBearings, x, opts.Iterations)
		inliers := bearingInliers(x, origins, bearings, opts.Threshold)
		if len(inliers) <= len(bestInliers) {
			continue
		}

		refined := multiview.RefinePoint(pick(origins, inliers), pick(bearings, inliers), x, opts.Iterations)
		if lsInliers := bearingInliers(refined, origins, bearings, opts.Threshold); len(lsInliers) > len(inliers) {
			bestInliers, bestPoint = lsInliers, refined
		} else {
			bestInliers, bestPoint = inliers, x
		}

		ratio := float64(len(bestInliers)) / float64(len(ids))
		if ratio == 1 {
			break
		}
		if optimal := math.Log(1-robustTriangulationProb) / math.Log(1-ratio*ratio); optimal <= float64(try) {
			break
		}
	}
	if len(bestInliers) > 1 {
		t.store(trackID, bestPoint, pick(ids, bestInliers))
	}
}

// Triangulate triangulates a track from all its observations.
func (t *TrackTriangulator) Triangulate(trackID string, opts TriangulationOptions) {
	ids, origins, bearings := t.rays(trackID, true)
	if len(ids) < 2 {
		return
	}
	x, ok := multiview.TriangulateBearingsMidpoint(
		origins, bearings, opts.thresholds(len(ids)), utils.DegToRad(opts.MinRayAngle), opts.MinDepth)
	if !ok {
		return
	}
	t.store(trackID, multiview.RefinePoint(origins, bearings, x, opts.Iterations), ids)
}

// TriangulateDLT triangulates a track from all its observations with the linear method.
func (t *TrackTriangulator) TriangulateDLT(trackID string, opts TriangulationOptions) {
	ids, origins, bearings := t.rays(trackID, false)
	if len(ids) < 2 {
		return
	}
	rts := make([]*mat.Dense, len(ids))
	worldBearings := make([]r3.Vector, len(ids))
	for i, id := range ids {
		shot := t.rec.Shot(id)
		rts[i] = t.cache.Rt(shot)
		worldBearings[i] = t.cache.RotationInverse(shot).Apply(bearings[i])
	}
	x, ok := multiview.TriangulateBearingsDLT(
		rts, bearings, opts.Threshold, utils.DegToRad(opts.MinRayAngle), opts.MinDepth)
	if !ok {
		return
	}
	t.store(trackID, multiview.RefinePoint(origins, worldBearings, x, opts.Iterations), ids)
}

// TriangulateWith dispatches to the triangulation method of the given type.
func (t *TrackTriangulator) TriangulateWith(kind config.TriangulationType, trackID string, opts TriangulationOptions) {
	switch kind {
	case config.TriangulationRobust:
		t.TriangulateRobust(trackID, opts)
	case config.TriangulationDLT:
		t.TriangulateDLT(trackID, opts)
	default:
		t.Triangulate(trackID, opts)
	}
}

// triangulationRand returns the random source of one triangulation pass.
func triangulationRand(cfg *config.Config) *rand.Rand {
	return utils.SeededRand(cfg.Seed, "triangulation")
}

// TriangulateShotFeatures triangulates the tracks seen by the given shots that are not yet
// points of rec.
func TriangulateShotFeatures(
	tm *tracking.TracksManager,
	rec *reconstruction.Reconstruction,
	shotIDs []string,
	cfg *config.Config,
) {
	tracks := map[string]bool{}
	for _, id := range shotIDs {
		if !tm.HasShot(id) {
			continue
		}
		for trackID := range tm.ShotObservations(id) {
			tracks[trackID] = true
		}
	}
	ids := lo.Keys(tracks)
	tracking.SortTrackIDs(ids)

	opts := TriangulationOptionsFromConfig(cfg)
	triangulator := NewTrackTriangulator(rec, NewTracksManagerHandler(tm, rec), triangulationRand(cfg))
	for _, trackID := range ids {
		if !rec.HasPoint(trackID) {
			triangulator.TriangulateWith(cfg.TriangulationType, trackID, opts)
		}
	}
}

// RetriangulationReport describes a retriangulation.
type RetriangulationReport struct {
	NumPointsBefore int     `json:"num_points_before"`
	NumPointsAfter  int     `json:"num_points_after"`
	WallTime        float64 `json:"wall_time"`
}

// Retriangulate drops every point of rec and triangulates again all tracks seen by its shots.
func Retriangulate(
	tm *tracking.TracksManager,
	rec *reconstruction.Reconstruction,
	cfg *config.Config,
) RetriangulationReport {
	start := time.Now()
	report := RetriangulationReport{NumPointsBefore: rec.NumPoints()}
	rec.ClearPoints()

	tracks := map[string]bool{}
	for _, id := range rec.ShotIDs() {
		if !tm.HasShot(id) {
			continue
		}
		for trackID := range tm.ShotObservations(id) {
			tracks[trackID] = true
		}
	}
	ids := lo.Keys(tracks)
	tracking.SortTrackIDs(ids)

	opts := TriangulationOptionsFromConfig(cfg)
	triangulator := NewTrackTriangulator(rec, NewTracksManagerHandler(tm, rec), triangulationRand(cfg))
	for _, trackID := range ids {
		triangulator.TriangulateWith(cfg.TriangulationType, trackID, opts)
	}
	report.NumPointsAfter = rec.NumPoints()
	report.WallTime = time.Since(start).Seconds()
	return report
}
