package reconstruction

import (
	"image/color"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/sfm/camera"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/tracking"
)

// PoseOwnership tells where the pose of a shot lives.
type PoseOwnership int

const (
	// Owned shots hold their own pose.
	Owned PoseOwnership = iota
	// RigDerived shots compute their pose from a rig instance and a rig camera.
	RigDerived
)

// Shot is one image registered in a reconstruction.
type Shot struct {
	ID       string
	Camera   *camera.Camera
	Metadata ShotMeasurements

	ownership   PoseOwnership
	pose        spatialmath.Pose
	rigInstance *RigInstance
	rigCamera   *RigCamera

	observations map[string]tracking.Observation
}

// Ownership returns whether the pose is owned or rig derived.
func (s *Shot) Ownership() PoseOwnership {
	return s.ownership
}

// Pose returns the world to camera pose.
func (s *Shot) Pose() spatialmath.Pose {
	if s.ownership == RigDerived {
		return s.rigCamera.Pose.Compose(s.rigInstance.pose)
	}
	return s.pose
}

// SetPose changes the pose of an owned shot. Rig derived shots move through their rig instance.
func (s *Shot) SetPose(p spatialmath.Pose) {
	if s.ownership == RigDerived {
		panic(errors.Errorf("shot %q pose is derived from rig instance %q", s.ID, s.rigInstance.ID))
	}
	s.pose = p
}

// RigInstance returns the owning rig instance, nil for owned shots.
func (s *Shot) RigInstance() *RigInstance {
	return s.rigInstance
}

// RigCamera returns the rig camera, nil for owned shots.
func (s *Shot) RigCamera() *RigCamera {
	return s.rigCamera
}

// Observations returns the landmark observations keyed by point id. The map must not be
// modified.
func (s *Shot) Observations() map[string]tracking.Observation {
	return s.observations
}

// Observation returns the observation of a point.
func (s *Shot) Observation(pointID string) (tracking.Observation, bool) {
	obs, ok := s.observations[pointID]
	return obs, ok
}

// NumObservations returns the number of points observed.
func (s *Shot) NumObservations() int {
	return len(s.observations)
}

// PointIDs returns the sorted ids of the observed points.
func (s *Shot) PointIDs() []string {
	ids := lo.Keys(s.observations)
	tracking.SortTrackIDs(ids)
	return ids
}

// Project maps a world point to normalized image coordinates.
func (s *Shot) Project(x r3.Vector) r2.Point {
	return s.Camera.Project(s.Pose().Transform(x))
}

// Bearing maps normalized image coordinates to a unit ray in the camera frame.
func (s *Shot) Bearing(p r2.Point) r3.Vector {
	return s.Camera.Bearing(p)
}

// WorldBearing maps normalized image coordinates to a unit ray in the world frame.
func (s *Shot) WorldBearing(p r2.Point) r3.Vector {
	return s.Pose().Rotation().ApplyInverse(s.Camera.Bearing(p))
}

// RigCamera is the fixed pose of a physical camera within its rig, rig to camera.
type RigCamera struct {
	ID   string
	Pose spatialmath.Pose
}

// RigInstance is a set of shots taken at the same time by a rig. It owns the world to rig pose.
type RigInstance struct {
	ID string

	pose  spatialmath.Pose
	shots map[string]*Shot
}

// Pose returns the world to rig pose.
func (ri *RigInstance) Pose() spatialmath.Pose {
	return ri.pose
}

// SetPose moves the whole instance.
func (ri *RigInstance) SetPose(p spatialmath.Pose) {
	ri.pose = p
}

// UpdatePoseWithShot sets the instance pose so that shotID gets the given pose.
func (ri *RigInstance) UpdatePoseWithShot(shotID string, shotPose spatialmath.Pose) {
	shot, ok := ri.shots[shotID]
	if !ok {
		panic(errors.Errorf("shot %q is not part of rig instance %q", shotID, ri.ID))
	}
	ri.pose = shot.rigCamera.Pose.Inverse().Compose(shotPose)
}

// NumShots returns the number of shots.
func (ri *RigInstance) NumShots() int {
	return len(ri.shots)
}

// ShotIDs returns the sorted shot ids.
func (ri *RigInstance) ShotIDs() []string {
	ids := lo.Keys(ri.shots)
	sort.Strings(ids)
	return ids
}

// Shots returns the shots keyed by id. The map must not be modified.
func (ri *RigInstance) Shots() map[string]*Shot {
	return ri.shots
}

// Point is a triangulated landmark.
type Point struct {
	ID          string
	Coordinates r3.Vector
	Color       color.RGBA

	shots              map[string]*Shot
	reprojectionErrors map[string]r2.Point
}

// NumObservations returns the number of shots observing the point.
func (p *Point) NumObservations() int {
	return len(p.shots)
}

// ShotIDs returns the sorted ids of observing shots.
func (p *Point) ShotIDs() []string {
	ids := lo.Keys(p.shots)
	sort.Strings(ids)
	return ids
}

// Observations returns the observations of the point keyed by shot id.
func (p *Point) Observations() map[string]tracking.Observation {
	out := make(map[string]tracking.Observation, len(p.shots))
	for id, shot := range p.shots {
		out[id] = shot.observations[p.ID]
	}
	return out
}

// ReprojectionErrors returns the last residuals per shot, in normalized units.
func (p *Point) ReprojectionErrors() map[string]r2.Point {
	return p.reprojectionErrors
}

// SetReprojectionError stores the residual of one observation.
func (p *Point) SetReprojectionError(shotID string, e r2.Point) {
	p.reprojectionErrors[shotID] = e
}

// ClearReprojectionErrors forgets all residuals.
func (p *Point) ClearReprojectionErrors() {
	p.reprojectionErrors = map[string]r2.Point{}
}
