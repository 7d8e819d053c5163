package reconstruction

import (
	"encoding/json"
	"image/color"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/sfm/camera"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/tracking"
)

type poseJSON struct {
	Rotation    [3]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`
}

func poseToJSON(p spatialmath.Pose) poseJSON {
	r, t := p.AxisAngle(), p.Translation()
	return poseJSON{Rotation: [3]float64{r.X, r.Y, r.Z}, Translation: [3]float64{t.X, t.Y, t.Z}}
}

func (p poseJSON) pose() spatialmath.Pose {
	return spatialmath.NewPoseFromAxisAngle(
		r3.Vector{X: p.Rotation[0], Y: p.Rotation[1], Z: p.Rotation[2]},
		r3.Vector{X: p.Translation[0], Y: p.Translation[1], Z: p.Translation[2]},
	)
}

type rigInstanceJSON struct {
	poseJSON
	RigCameraIDs map[string]string `json:"rig_camera_ids"`
}

type shotJSON struct {
	Camera          string      `json:"camera"`
	Rotation        *[3]float64 `json:"rotation,omitempty"`
	Translation     *[3]float64 `json:"translation,omitempty"`
	RigInstanceID   string      `json:"rig_instance_id,omitempty"`
	GPSPosition     *[3]float64 `json:"gps_position,omitempty"`
	GPSDOP          *float64    `json:"gps_dop,omitempty"`
	Orientation     *int        `json:"orientation,omitempty"`
	CaptureTime     *float64    `json:"capture_time,omitempty"`
	CompassAngle    *float64    `json:"compass_angle,omitempty"`
	CompassAccuracy *float64    `json:"compass_accuracy,omitempty"`
	SequenceKey     *string     `json:"sequence_key,omitempty"`
}

type pointJSON struct {
	Coordinates        [3]float64                      `json:"coordinates"`
	Color              [3]uint8                        `json:"color"`
	Observations       map[string]tracking.Observation `json:"observations,omitempty"`
	ReprojectionErrors map[string][2]float64           `json:"reprojection_errors,omitempty"`
}

type similarityJSON struct {
	Scale       float64    `json:"scale"`
	Rotation    [3]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`
}

type reconstructionJSON struct {
	Cameras      map[string]map[string]interface{} `json:"cameras"`
	RigCameras   map[string]poseJSON               `json:"rig_cameras,omitempty"`
	RigInstances map[string]rigInstanceJSON        `json:"rig_instances,omitempty"`
	Shots        map[string]shotJSON               `json:"shots"`
	Points       map[string]pointJSON              `json:"points"`
	ReferenceLLA *spatialmath.LLA                  `json:"reference_lla,omitempty"`
	Biases       map[string]similarityJSON         `json:"biases,omitempty"`
}

func optional[T any](m Measurement[T]) *T {
	if !m.HasValue() {
		return nil
	}
	v := m.Value()
	return &v
}

func setOptional[T any](m *Measurement[T], v *T) {
	if v != nil {
		m.SetValue(*v)
	}
}

func vec3(v r3.Vector) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func fromVec3(a [3]float64) r3.Vector { return r3.Vector{X: a[0], Y: a[1], Z: a[2]} }

// MarshalJSON writes the reconstruction with its points, observations and residuals.
func (r *Reconstruction) MarshalJSON() ([]byte, error) {
	out := reconstructionJSON{
		Cameras:      map[string]map[string]interface{}{},
		RigCameras:   map[string]poseJSON{},
		RigInstances: map[string]rigInstanceJSON{},
		Shots:        map[string]shotJSON{},
		Points:       map[string]pointJSON{},
		Biases:       map[string]similarityJSON{},
	}
	for id, c := range r.cameras {
		out.Cameras[id] = c.ToMap()
	}
	for id, rc := range r.rigCameras {
		out.RigCameras[id] = poseToJSON(rc.Pose)
	}
	for id, ri := range r.rigInstances {
		ids := map[string]string{}
		for shotID, shot := range ri.shots {
			ids[shotID] = shot.rigCamera.ID
		}
		out.RigInstances[id] = rigInstanceJSON{poseJSON: poseToJSON(ri.pose), RigCameraIDs: ids}
	}
	for id, shot := range r.shots {
		sj := shotJSON{Camera: shot.Camera.ID}
		if shot.ownership == Owned {
			pj := poseToJSON(shot.pose)
			sj.Rotation, sj.Translation = &pj.Rotation, &pj.Translation
		} else {
			sj.RigInstanceID = shot.rigInstance.ID
		}
		if shot.Metadata.GPSPosition.HasValue() {
			gps := vec3(shot.Metadata.GPSPosition.Value())
			sj.GPSPosition = &gps
		}
		sj.GPSDOP = optional(shot.Metadata.GPSAccuracy)
		sj.Orientation = optional(shot.Metadata.OrientationTag)
		sj.CaptureTime = optional(shot.Metadata.CaptureTime)
		sj.CompassAngle = optional(shot.Metadata.CompassAngle)
		sj.CompassAccuracy = optional(shot.Metadata.CompassAccuracy)
		sj.SequenceKey = optional(shot.Metadata.SequenceKey)
		out.Shots[id] = sj
	}
	for id, p := range r.points {
		pj := pointJSON{
			Coordinates:        vec3(p.Coordinates),
			Color:              [3]uint8{p.Color.R, p.Color.G, p.Color.B},
			Observations:       p.Observations(),
			ReprojectionErrors: map[string][2]float64{},
		}
		for shotID, e := range p.reprojectionErrors {
			pj.ReprojectionErrors[shotID] = [2]float64{e.X, e.Y}
		}
		out.Points[id] = pj
	}
	if r.reference != nil {
		ref := r.reference.Reference()
		out.ReferenceLLA = &ref
	}
	for id, b := range r.biases {
		out.Biases[id] = similarityJSON{Scale: b.Scale, Rotation: vec3(b.Rotation.AxisAngle()), Translation: vec3(b.Translation)}
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the output of MarshalJSON into an empty reconstruction.
func (r *Reconstruction) UnmarshalJSON(data []byte) error {
	var in reconstructionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = *New()
	for id, attrs := range in.Cameras {
		c, err := camera.FromMap(id, attrs)
		if err != nil {
			return err
		}
		r.AddCamera(c)
	}
	for id, rc := range in.RigCameras {
		r.AddRigCamera(&RigCamera{ID: id, Pose: rc.pose()})
	}
	for id, ri := range in.RigInstances {
		r.CreateRigInstance(id, ri.pose())
	}
	for id, sj := range in.Shots {
		if !r.HasCamera(sj.Camera) {
			return errors.Errorf("shot %q refers to unknown camera %q", id, sj.Camera)
		}
		var shot *Shot
		if sj.RigInstanceID != "" {
			ri, ok := in.RigInstances[sj.RigInstanceID]
			if !ok {
				return errors.Errorf("shot %q refers to unknown rig instance %q", id, sj.RigInstanceID)
			}
			rcID, ok := ri.RigCameraIDs[id]
			if !ok || !r.HasRigCamera(rcID) {
				return errors.Errorf("shot %q has no rig camera", id)
			}
			shot = r.CreateRigShot(id, sj.Camera, sj.RigInstanceID, rcID)
		} else {
			var pj poseJSON
			if sj.Rotation != nil {
				pj.Rotation = *sj.Rotation
			}
			if sj.Translation != nil {
				pj.Translation = *sj.Translation
			}
			shot = r.CreateShot(id, sj.Camera, pj.pose())
		}
		if sj.GPSPosition != nil {
			shot.Metadata.GPSPosition.SetValue(fromVec3(*sj.GPSPosition))
		}
		setOptional(&shot.Metadata.GPSAccuracy, sj.GPSDOP)
		setOptional(&shot.Metadata.OrientationTag, sj.Orientation)
		setOptional(&shot.Metadata.CaptureTime, sj.CaptureTime)
		setOptional(&shot.Metadata.CompassAngle, sj.CompassAngle)
		setOptional(&shot.Metadata.CompassAccuracy, sj.CompassAccuracy)
		setOptional(&shot.Metadata.SequenceKey, sj.SequenceKey)
	}
	for id, pj := range in.Points {
		p := r.CreatePoint(id, fromVec3(pj.Coordinates))
		p.Color = color.RGBA{R: pj.Color[0], G: pj.Color[1], B: pj.Color[2], A: 255}
		for shotID, obs := range pj.Observations {
			if !r.HasShot(shotID) {
				return errors.Errorf("point %q observed by unknown shot %q", id, shotID)
			}
			r.AddObservation(shotID, id, obs)
		}
		for shotID, e := range pj.ReprojectionErrors {
			p.reprojectionErrors[shotID] = r2.Point{X: e[0], Y: e[1]}
		}
	}
	if in.ReferenceLLA != nil {
		r.reference = spatialmath.NewTopocentricConverter(in.ReferenceLLA.Latitude, in.ReferenceLLA.Longitude, in.ReferenceLLA.Altitude)
	}
	for id, b := range in.Biases {
		r.biases[id] = spatialmath.NewSimilarity(b.Scale, spatialmath.RotationFromAxisAngle(fromVec3(b.Rotation)), fromVec3(b.Translation))
	}
	return nil
}

// ReadJSON parses a list of reconstructions.
func ReadJSON(data []byte) ([]*Reconstruction, error) {
	var recs []*Reconstruction
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, errors.Wrap(err, "cannot parse reconstructions")
	}
	return recs, nil
}
