// Package synthetic generates scenes with known ground truth for testing reconstructions, and
// measures how close a reconstruction gets to them.
package synthetic

import (
	"fmt"
	"image/color"
	"math/rand"
	"strconv"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"

	"go.viam.com/sfm/camera"
	"go.viam.com/sfm/config"
	"go.viam.com/sfm/dataset"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/tracking"
)

const (
	cameraID      = "synthetic_camera"
	cameraWidth   = 640
	cameraHeight  = 480
	cameraFocal   = 0.9
	cameraHeightZ = 1.6
	// halfWidth and halfHeight bound the normalized coordinates of a visible point.
	halfWidth  = 0.5
	halfHeight = 0.375
)

// DefaultReference is the geodetic origin of generated scenes.
var DefaultReference = spatialmath.LLA{Latitude: 47, Longitude: 6, Altitude: 0}

// sideLooking is the rotation of a level camera looking at +Y with its image right along +X.
var sideLooking = spatialmath.RotationFromRows(
	r3.Vector{X: 1},
	r3.Vector{Z: -1},
	r3.Vector{Y: 1},
)

// Options describe a street-like scene: cameras moving along X and looking at a thick wall of
// points.
type Options struct {
	NumShots  int
	NumPoints int
	// Spacing is the distance between consecutive shots.
	Spacing float64
	// Wiggle offsets every other shot sideways and up so the path is not a line.
	Wiggle float64
	// WallDepth is the nearest and farthest distance of the points from the path.
	WallDepth [2]float64
	// WallHeight is the vertical extent of the points.
	WallHeight float64

	// ProjectionNoise is the standard deviation of the observations, in normalized units.
	ProjectionNoise float64
	// GPSNoise is the standard deviation of the GPS positions in meters.
	GPSNoise float64
	// GPSBias is added to every GPS position.
	GPSBias r3.Vector
	// CompassNoise is the standard deviation of the compass angles in degrees.
	CompassNoise float64

	// NumGCPs is the number of control points, taken among the scene points.
	NumGCPs int
	// GCPNoise is the standard deviation of the surveyed control point positions.
	GCPNoise float64

	// Rig groups consecutive shots by two in rig instances.
	Rig bool

	Seed int64
}

// DefaultOptions returns a small scene reconstructible with the default configuration.
func DefaultOptions() Options {
	return Options{
		NumShots:        8,
		NumPoints:       300,
		Spacing:         1,
		Wiggle:          0.3,
		WallDepth:       [2]float64{6, 16},
		WallHeight:      5,
		ProjectionNoise: 0.0003,
		GPSNoise:        0.05,
		CompassNoise:    1,
		Seed:            7,
	}
}

// Scene is a generated scene with its ground truth and the inputs of a reconstruction.
type Scene struct {
	Options   Options
	Reference *spatialmath.TopocentricConverter
	Camera    *camera.Camera

	// Poses and Points are the ground truth.
	Poses  map[string]spatialmath.Pose
	Points map[string]r3.Vector

	RigCameras  map[string]*reconstruction.RigCamera
	Assignments map[string][]dataset.RigShot

	Exif     map[string]dataset.ImageMetadata
	Features map[string]tracking.ImageFeatures
	Matches  tracking.Matches
	Tracks   *tracking.TracksManager
	GCPs     []reconstruction.GroundControlPoint
}

// ShotName returns the image name of the i-th shot.
func ShotName(i int) string {
	return fmt.Sprintf("shot%02d.jpg", i)
}

func pointColor(i int) color.RGBA {
	return color.RGBA{R: uint8(37 * i), G: uint8(91 * i), B: uint8(13 * i), A: 255}
}

func noise(rng *rand.Rand, sd float64) r3.Vector {
	return r3.Vector{X: sd * rng.NormFloat64(), Y: sd * rng.NormFloat64(), Z: sd * rng.NormFloat64()}
}

// shotOrigin returns the true position of the i-th shot.
func (o Options) shotOrigin(i int) r3.Vector {
	origin := r3.Vector{X: o.Spacing * float64(i), Z: cameraHeightZ}
	if i%2 == 1 {
		origin.Y -= o.Wiggle
		origin.Z += o.Wiggle / 2
	}
	return origin
}

// Generate builds a scene. Every point seen by at least two shots becomes a track.
func Generate(opts Options) *Scene {
	rng := rand.New(rand.NewSource(opts.Seed))
	s := &Scene{
		Options:     opts,
		Reference:   spatialmath.NewTopocentricConverter(DefaultReference.Latitude, DefaultReference.Longitude, DefaultReference.Altitude),
		Camera:      camera.NewPerspective(cameraID, cameraWidth, cameraHeight, cameraFocal, 0, 0),
		Poses:       map[string]spatialmath.Pose{},
		Points:      map[string]r3.Vector{},
		RigCameras:  map[string]*reconstruction.RigCamera{},
		Assignments: map[string][]dataset.RigShot{},
		Exif:        map[string]dataset.ImageMetadata{},
		Features:    map[string]tracking.ImageFeatures{},
		Matches:     tracking.Matches{},
		Tracks:      tracking.NewTracksManager(),
	}

	names := make([]string, opts.NumShots)
	for i := range names {
		names[i] = ShotName(i)
		s.Poses[names[i]] = spatialmath.NewPoseFromOrigin(sideLooking, opts.shotOrigin(i))
	}
	if opts.Rig {
		s.makeRig(names)
	}

	pathLength := opts.Spacing * float64(opts.NumShots-1)
	margin := opts.WallDepth[0] * halfWidth / cameraFocal
	var candidates []r3.Vector
	for len(candidates) < opts.NumPoints {
		candidates = append(candidates, r3.Vector{
			X: -margin + (pathLength+2*margin)*rng.Float64(),
			Y: opts.WallDepth[0] + (opts.WallDepth[1]-opts.WallDepth[0])*rng.Float64(),
			Z: opts.WallHeight * rng.Float64(),
		})
	}

	for _, name := range names {
		s.Features[name] = tracking.ImageFeatures{}
	}
	featureIndex := map[string]map[int]int{}
	for i, x := range candidates {
		visible := map[string]r2.Point{}
		for _, name := range names {
			if p, ok := s.project(name, x); ok {
				visible[name] = p.Add(r2.Point{X: opts.ProjectionNoise * rng.NormFloat64(), Y: opts.ProjectionNoise * rng.NormFloat64()})
			}
		}
		if len(visible) < 2 {
			continue
		}
		trackID := strconv.Itoa(len(s.Points))
		s.Points[trackID] = x
		for _, name := range names {
			p, ok := visible[name]
			if !ok {
				continue
			}
			f := s.Features[name]
			if featureIndex[name] == nil {
				featureIndex[name] = map[int]int{}
			}
			featureIndex[name][i] = len(f.Points)
			f.Points = append(f.Points, p)
			f.Scales = append(f.Scales, 0.004)
			f.Colors = append(f.Colors, pointColor(i))
			s.Features[name] = f
			s.Tracks.AddObservation(name, trackID, tracking.Observation{
				Point:        p,
				Scale:        0.004,
				Color:        pointColor(i),
				FeatureID:    featureIndex[name][i],
				Segmentation: tracking.NoSemanticValue,
				Instance:     tracking.NoSemanticValue,
			})
		}
		for a := 0; a < len(names); a++ {
			for b := a + 1; b < len(names); b++ {
				fa, okA := featureIndex[names[a]][i]
				fb, okB := featureIndex[names[b]][i]
				if okA && okB {
					s.Matches.Add(names[a], names[b], []tracking.FeatureMatch{{fa, fb}})
				}
			}
		}
	}

	for i, name := range names {
		s.Exif[name] = s.metadata(rng, i, name)
	}
	s.GCPs = s.controlPoints(rng)
	return s
}

// makeRig groups the shots by two: the first of each instance is the rig origin and the
// second sits Spacing meters along X.
func (s *Scene) makeRig(names []string) {
	s.RigCameras["left"] = &reconstruction.RigCamera{ID: "left", Pose: spatialmath.IdentityPose()}
	s.RigCameras["right"] = &reconstruction.RigCamera{
		ID:   "right",
		Pose: spatialmath.NewPoseFromOrigin(spatialmath.IdentityRotation(), r3.Vector{X: s.Options.Spacing}),
	}
	for i := 0; i+1 < len(names); i += 2 {
		instance := fmt.Sprintf("instance%02d", i/2)
		s.Assignments[instance] = []dataset.RigShot{
			{Image: names[i], RigCamera: "left"},
			{Image: names[i+1], RigCamera: "right"},
		}
		// The right shot is rigidly attached to the left one.
		s.Poses[names[i+1]] = s.RigCameras["right"].Pose.Compose(s.Poses[names[i]])
	}
}

// project returns the normalized projection of x in the named shot when it is in front of
// the camera and inside the image.
func (s *Scene) project(name string, x r3.Vector) (r2.Point, bool) {
	xc := s.Poses[name].Transform(x)
	if xc.Z <= 0 {
		return r2.Point{}, false
	}
	p := s.Camera.Project(xc)
	if p.X < -halfWidth || p.X > halfWidth || p.Y < -halfHeight || p.Y > halfHeight {
		return r2.Point{}, false
	}
	return p, true
}

func (s *Scene) metadata(rng *rand.Rand, index int, name string) dataset.ImageMetadata {
	pose := s.Poses[name]
	gps := s.Reference.ToLLA(pose.Origin().Add(s.Options.GPSBias).Add(noise(rng, s.Options.GPSNoise)))
	compass := 0.0
	if s.Options.CompassNoise > 0 {
		compass = s.Options.CompassNoise * rng.NormFloat64()
	}
	compass = normalizeAngle(compass)
	md := dataset.ImageMetadata{
		Camera:       cameraID,
		Orientation:  1,
		CaptureTime:  float64(index),
		GPS:          &gps,
		CompassAngle: &compass,
	}
	if s.Options.GPSNoise > 0 {
		md.GPSDOP = s.Options.GPSNoise
	}
	return md
}

func normalizeAngle(a float64) float64 {
	for a < 0 {
		a += 360
	}
	for a >= 360 {
		a -= 360
	}
	return a
}

// controlPoints turns the first NumGCPs points seen by at least two shots into surveyed
// control points.
func (s *Scene) controlPoints(rng *rand.Rand) []reconstruction.GroundControlPoint {
	var gcps []reconstruction.GroundControlPoint
	for i := 0; len(gcps) < s.Options.NumGCPs && i < len(s.Points); i++ {
		trackID := strconv.Itoa(i)
		x := s.Points[trackID]
		gcp := reconstruction.GroundControlPoint{
			ID:          fmt.Sprintf("gcp%02d", len(gcps)),
			LLA:         s.Reference.ToLLA(x.Add(noise(rng, s.Options.GCPNoise))),
			HasLLA:      true,
			HasAltitude: true,
		}
		for name := range s.Tracks.TrackObservations(trackID) {
			p, ok := s.project(name, x)
			if !ok {
				continue
			}
			gcp.Observations = append(gcp.Observations, reconstruction.GCPObservation{ShotID: name, Projection: p})
		}
		gcps = append(gcps, gcp)
	}
	return gcps
}

// GroundTruth returns the true reconstruction of the scene.
func (s *Scene) GroundTruth() *reconstruction.Reconstruction {
	rec := reconstruction.New()
	rec.SetReference(s.Reference)
	rec.AddCamera(s.Camera.Copy())
	for name, pose := range s.Poses {
		shot := rec.CreateShot(name, cameraID, pose)
		shot.Metadata = s.Exif[name].Measurements(s.Reference)
	}
	for trackID, x := range s.Points {
		rec.CreatePoint(trackID, x)
		for shotID, obs := range s.Tracks.TrackObservations(trackID) {
			rec.AddObservation(shotID, trackID, obs)
		}
	}
	return rec
}

// DataSet returns the inputs of the scene as an in-memory dataset using cfg.
func (s *Scene) DataSet(cfg *config.Config) *dataset.Memory {
	ref := s.Reference.Reference()
	return &dataset.Memory{
		Cfg:            cfg,
		Metadata:       s.Exif,
		Cameras:        map[string]*camera.Camera{cameraID: s.Camera.Copy()},
		Rigs:           s.RigCameras,
		Assignments:    s.Assignments,
		GCPs:           s.GCPs,
		ReferenceLLA:   &ref,
		ImageFeatures:  s.Features,
		FeatureMatches: s.Matches,
		Tracks:         s.Tracks,
	}
}
