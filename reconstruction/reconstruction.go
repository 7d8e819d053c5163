// Package reconstruction holds the cameras, shots and landmarks of a reconstruction.
//
// The reconstruction API panics on invariant violations such as duplicate ids or unknown ids.
// Those are programming errors of the caller, not data conditions.
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

// Reconstruction is a set of registered shots and the points they observe.
type Reconstruction struct {
	cameras      map[string]*camera.Camera
	rigCameras   map[string]*RigCamera
	rigInstances map[string]*RigInstance
	shots        map[string]*Shot
	points       map[string]*Point

	reference *spatialmath.TopocentricConverter
	biases    map[string]spatialmath.Similarity
}

// New returns an empty reconstruction.
func New() *Reconstruction {
	return &Reconstruction{
		cameras:      map[string]*camera.Camera{},
		rigCameras:   map[string]*RigCamera{},
		rigInstances: map[string]*RigInstance{},
		shots:        map[string]*Shot{},
		points:       map[string]*Point{},
		biases:       map[string]spatialmath.Similarity{},
	}
}

// Reference returns the geodetic frame, nil if the reconstruction is not geo-referenced.
func (r *Reconstruction) Reference() *spatialmath.TopocentricConverter {
	return r.reference
}

// SetReference sets the geodetic frame.
func (r *Reconstruction) SetReference(ref *spatialmath.TopocentricConverter) {
	r.reference = ref
}

// AddCamera registers a camera. Registering the same id twice panics.
func (r *Reconstruction) AddCamera(c *camera.Camera) {
	if _, ok := r.cameras[c.ID]; ok {
		panic(errors.Errorf("camera %q already exists", c.ID))
	}
	r.cameras[c.ID] = c
}

// HasCamera reports whether a camera is registered.
func (r *Reconstruction) HasCamera(id string) bool {
	_, ok := r.cameras[id]
	return ok
}

// Camera returns a registered camera.
func (r *Reconstruction) Camera(id string) *camera.Camera {
	c, ok := r.cameras[id]
	if !ok {
		panic(errors.Errorf("unknown camera %q", id))
	}
	return c
}

// Cameras returns the cameras keyed by id. The map must not be modified.
func (r *Reconstruction) Cameras() map[string]*camera.Camera {
	return r.cameras
}

// AddRigCamera registers a rig camera. Registering the same id twice panics.
func (r *Reconstruction) AddRigCamera(rc *RigCamera) {
	if _, ok := r.rigCameras[rc.ID]; ok {
		panic(errors.Errorf("rig camera %q already exists", rc.ID))
	}
	r.rigCameras[rc.ID] = rc
}

// HasRigCamera reports whether a rig camera is registered.
func (r *Reconstruction) HasRigCamera(id string) bool {
	_, ok := r.rigCameras[id]
	return ok
}

// RigCameras returns the rig cameras keyed by id. The map must not be modified.
func (r *Reconstruction) RigCameras() map[string]*RigCamera {
	return r.rigCameras
}

// Bias returns the GPS bias of a camera, identity if none is set.
func (r *Reconstruction) Bias(cameraID string) spatialmath.Similarity {
	if b, ok := r.biases[cameraID]; ok {
		return b
	}
	return spatialmath.IdentitySimilarity()
}

// SetBias stores the GPS bias of a camera.
func (r *Reconstruction) SetBias(cameraID string, bias spatialmath.Similarity) {
	r.biases[cameraID] = bias
}

// Biases returns the GPS biases keyed by camera id.
func (r *Reconstruction) Biases() map[string]spatialmath.Similarity {
	return r.biases
}

// CreateShot adds a shot owning its pose.
func (r *Reconstruction) CreateShot(id, cameraID string, pose spatialmath.Pose) *Shot {
	if _, ok := r.shots[id]; ok {
		panic(errors.Errorf("shot %q already exists", id))
	}
	shot := &Shot{
		ID:           id,
		Camera:       r.Camera(cameraID),
		ownership:    Owned,
		pose:         pose,
		observations: map[string]tracking.Observation{},
	}
	r.shots[id] = shot
	return shot
}

// CreateRigInstance adds an empty rig instance.
func (r *Reconstruction) CreateRigInstance(id string, pose spatialmath.Pose) *RigInstance {
	if _, ok := r.rigInstances[id]; ok {
		panic(errors.Errorf("rig instance %q already exists", id))
	}
	ri := &RigInstance{ID: id, pose: pose, shots: map[string]*Shot{}}
	r.rigInstances[id] = ri
	return ri
}

// CreateRigShot adds a shot whose pose is derived from a rig instance and rig camera.
func (r *Reconstruction) CreateRigShot(id, cameraID, instanceID, rigCameraID string) *Shot {
	if _, ok := r.shots[id]; ok {
		panic(errors.Errorf("shot %q already exists", id))
	}
	ri, ok := r.rigInstances[instanceID]
	if !ok {
		panic(errors.Errorf("unknown rig instance %q", instanceID))
	}
	rc, ok := r.rigCameras[rigCameraID]
	if !ok {
		panic(errors.Errorf("unknown rig camera %q", rigCameraID))
	}
	shot := &Shot{
		ID:           id,
		Camera:       r.Camera(cameraID),
		ownership:    RigDerived,
		rigInstance:  ri,
		rigCamera:    rc,
		observations: map[string]tracking.Observation{},
	}
	ri.shots[id] = shot
	r.shots[id] = shot
	return shot
}

// RigInstance returns a rig instance.
func (r *Reconstruction) RigInstance(id string) *RigInstance {
	ri, ok := r.rigInstances[id]
	if !ok {
		panic(errors.Errorf("unknown rig instance %q", id))
	}
	return ri
}

// HasRigInstance reports whether a rig instance exists.
func (r *Reconstruction) HasRigInstance(id string) bool {
	_, ok := r.rigInstances[id]
	return ok
}

// RigInstances returns the rig instances keyed by id. The map must not be modified.
func (r *Reconstruction) RigInstances() map[string]*RigInstance {
	return r.rigInstances
}

// RemoveShot deletes a shot and its observations. Points left with no observation are kept;
// outlier filtering decides their fate.
func (r *Reconstruction) RemoveShot(id string) {
	shot := r.Shot(id)
	for pointID := range shot.observations {
		delete(r.points[pointID].shots, id)
		delete(r.points[pointID].reprojectionErrors, id)
	}
	if ri := shot.rigInstance; ri != nil {
		delete(ri.shots, id)
		if len(ri.shots) == 0 {
			delete(r.rigInstances, ri.ID)
		}
	}
	delete(r.shots, id)
}

// Shot returns a shot.
func (r *Reconstruction) Shot(id string) *Shot {
	s, ok := r.shots[id]
	if !ok {
		panic(errors.Errorf("unknown shot %q", id))
	}
	return s
}

// HasShot reports whether a shot exists.
func (r *Reconstruction) HasShot(id string) bool {
	_, ok := r.shots[id]
	return ok
}

// Shots returns the shots keyed by id. The map must not be modified.
func (r *Reconstruction) Shots() map[string]*Shot {
	return r.shots
}

// ShotIDs returns the sorted shot ids.
func (r *Reconstruction) ShotIDs() []string {
	ids := lo.Keys(r.shots)
	sort.Strings(ids)
	return ids
}

// NumShots returns the number of shots.
func (r *Reconstruction) NumShots() int {
	return len(r.shots)
}

// CreatePoint adds a point.
func (r *Reconstruction) CreatePoint(id string, coordinates r3.Vector) *Point {
	if _, ok := r.points[id]; ok {
		panic(errors.Errorf("point %q already exists", id))
	}
	p := &Point{
		ID:                 id,
		Coordinates:        coordinates,
		Color:              color.RGBA{A: 255},
		shots:              map[string]*Shot{},
		reprojectionErrors: map[string]r2.Point{},
	}
	r.points[id] = p
	return p
}

// RemovePoint deletes a point and its observations.
func (r *Reconstruction) RemovePoint(id string) {
	p := r.Point(id)
	for shotID, shot := range p.shots {
		delete(shot.observations, id)
		delete(p.shots, shotID)
	}
	delete(r.points, id)
}

// Point returns a point.
func (r *Reconstruction) Point(id string) *Point {
	p, ok := r.points[id]
	if !ok {
		panic(errors.Errorf("unknown point %q", id))
	}
	return p
}

// HasPoint reports whether a point exists.
func (r *Reconstruction) HasPoint(id string) bool {
	_, ok := r.points[id]
	return ok
}

// Points returns the points keyed by id. The map must not be modified.
func (r *Reconstruction) Points() map[string]*Point {
	return r.points
}

// PointIDs returns the sorted point ids.
func (r *Reconstruction) PointIDs() []string {
	ids := lo.Keys(r.points)
	tracking.SortTrackIDs(ids)
	return ids
}

// NumPoints returns the number of points.
func (r *Reconstruction) NumPoints() int {
	return len(r.points)
}

// AddObservation links a shot to a point.
func (r *Reconstruction) AddObservation(shotID, pointID string, obs tracking.Observation) {
	shot, p := r.Shot(shotID), r.Point(pointID)
	shot.observations[pointID] = obs
	p.shots[shotID] = shot
}

// RemoveObservation unlinks a shot from a point. The link must exist.
func (r *Reconstruction) RemoveObservation(shotID, pointID string) {
	shot, p := r.Shot(shotID), r.Point(pointID)
	if _, ok := shot.observations[pointID]; !ok {
		panic(errors.Errorf("shot %q does not observe point %q", shotID, pointID))
	}
	delete(shot.observations, pointID)
	delete(p.shots, shotID)
	delete(p.reprojectionErrors, shotID)
}

// ClearPoints removes every point and observation.
func (r *Reconstruction) ClearPoints() {
	for _, shot := range r.shots {
		shot.observations = map[string]tracking.Observation{}
	}
	r.points = map[string]*Point{}
}

// AddShotFrom copies a shot of another reconstruction, including its rig instance when the
// shot is rig derived. Cameras and rig cameras are added when missing.
func (r *Reconstruction) AddShotFrom(other *Shot) *Shot {
	if !r.HasCamera(other.Camera.ID) {
		r.AddCamera(other.Camera)
	}
	var shot *Shot
	if other.ownership == RigDerived {
		if !r.HasRigCamera(other.rigCamera.ID) {
			r.AddRigCamera(&RigCamera{ID: other.rigCamera.ID, Pose: other.rigCamera.Pose})
		}
		if !r.HasRigInstance(other.rigInstance.ID) {
			r.CreateRigInstance(other.rigInstance.ID, other.rigInstance.pose)
		}
		shot = r.CreateRigShot(other.ID, other.Camera.ID, other.rigInstance.ID, other.rigCamera.ID)
	} else {
		shot = r.CreateShot(other.ID, other.Camera.ID, other.pose)
	}
	shot.Metadata = other.Metadata
	return shot
}

// Merge adds the shots, points and observations of other. Points present in both keep their
// coordinates and gain the observations of other.
func (r *Reconstruction) Merge(other *Reconstruction) {
	for _, id := range other.ShotIDs() {
		r.AddShotFrom(other.shots[id])
	}
	for cameraID, bias := range other.biases {
		if _, ok := r.biases[cameraID]; !ok {
			r.biases[cameraID] = bias
		}
	}
	for _, id := range other.PointIDs() {
		op := other.points[id]
		p, ok := r.points[id]
		if !ok {
			p = r.CreatePoint(id, op.Coordinates)
			p.Color = op.Color
		}
		for shotID, shot := range op.shots {
			r.AddObservation(shotID, id, shot.observations[id])
		}
	}
}

// Copy returns a deep copy. Cameras are copied too.
func (r *Reconstruction) Copy() *Reconstruction {
	out := New()
	out.reference = r.reference
	for _, c := range r.cameras {
		out.AddCamera(c.Copy())
	}
	for _, rc := range r.rigCameras {
		out.AddRigCamera(&RigCamera{ID: rc.ID, Pose: rc.Pose})
	}
	for id, ri := range r.rigInstances {
		out.CreateRigInstance(id, ri.pose)
	}
	for id, b := range r.biases {
		out.biases[id] = b
	}
	for _, id := range r.ShotIDs() {
		src := r.shots[id]
		var shot *Shot
		if src.ownership == RigDerived {
			shot = out.CreateRigShot(id, src.Camera.ID, src.rigInstance.ID, src.rigCamera.ID)
		} else {
			shot = out.CreateShot(id, src.Camera.ID, src.pose)
		}
		shot.Metadata = src.Metadata
	}
	for id, p := range r.points {
		np := out.CreatePoint(id, p.Coordinates)
		np.Color = p.Color
		for shotID, e := range p.reprojectionErrors {
			np.reprojectionErrors[shotID] = e
		}
		for shotID, shot := range p.shots {
			out.AddObservation(shotID, id, shot.observations[id])
		}
	}
	return out
}
