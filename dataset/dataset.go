// Package dataset provides the inputs of a reconstruction: images and their metadata, camera
// and rig priors, features, matches and tracks, and stores the outputs.
package dataset

import (
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.viam.com/sfm/camera"
	"go.viam.com/sfm/config"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/tracking"
)

// ImageMetadata is the capture metadata of an image.
type ImageMetadata struct {
	Camera          string           `json:"camera"`
	Orientation     int              `json:"orientation,omitempty"`
	CaptureTime     float64          `json:"capture_time,omitempty"`
	GPS             *spatialmath.LLA `json:"gps,omitempty"`
	GPSDOP          float64          `json:"gps_dop,omitempty"`
	CompassAngle    *float64         `json:"compass_angle,omitempty"`
	CompassAccuracy *float64         `json:"compass_accuracy,omitempty"`
	SequenceKey     string           `json:"sequence_key,omitempty"`
	// Rotation is a world to camera angle-axis prior, as given by an inertial unit.
	Rotation *[3]float64 `json:"rotation,omitempty"`
}

// Measurements converts the metadata into shot measurements. GPS positions are expressed in
// the topocentric frame of ref.
func (m ImageMetadata) Measurements(ref *spatialmath.TopocentricConverter) reconstruction.ShotMeasurements {
	var out reconstruction.ShotMeasurements
	if m.Orientation != 0 {
		out.OrientationTag.SetValue(m.Orientation)
	}
	if m.CaptureTime != 0 {
		out.CaptureTime.SetValue(m.CaptureTime)
	}
	if m.GPS != nil && ref != nil {
		out.GPSPosition.SetValue(ref.ToTopocentric(*m.GPS))
		if m.GPSDOP > 0 {
			out.GPSAccuracy.SetValue(m.GPSDOP)
		}
	}
	if m.CompassAngle != nil {
		out.CompassAngle.SetValue(*m.CompassAngle)
	}
	if m.CompassAccuracy != nil {
		out.CompassAccuracy.SetValue(*m.CompassAccuracy)
	}
	if m.SequenceKey != "" {
		out.SequenceKey.SetValue(m.SequenceKey)
	}
	return out
}

// RigShot assigns an image to a rig camera within a rig instance.
type RigShot struct {
	Image     string
	RigCamera string
}

// DataSet is the source of the inputs of a reconstruction and the sink of its results.
type DataSet interface {
	// Images returns the sorted image names.
	Images() []string
	Config() *config.Config
	Exif(image string) (ImageMetadata, error)
	CameraModels() (map[string]*camera.Camera, error)
	RigCameras() (map[string]*reconstruction.RigCamera, error)
	// RigAssignments returns the images of each rig instance keyed by instance id.
	RigAssignments() (map[string][]RigShot, error)
	GroundControlPoints() ([]reconstruction.GroundControlPoint, error)
	// Reference returns the origin of the topocentric frame, invented from the image GPS when
	// not set.
	Reference() (*spatialmath.TopocentricConverter, error)
	Features(image string) (tracking.ImageFeatures, error)
	Matches() (tracking.Matches, error)

	TracksManager() (*tracking.TracksManager, error)
	SaveTracksManager(tm *tracking.TracksManager) error
	Reconstructions() ([]*reconstruction.Reconstruction, error)
	SaveReconstructions(recs []*reconstruction.Reconstruction) error
	SaveReport(name string, report interface{}) error
}

// ErrNotFound is returned for data a DataSet does not hold.
var ErrNotFound = errors.New("not found")

// InventReference returns a reference at the average GPS position of the images, or at the
// null island when none has a position.
func InventReference(exif map[string]ImageMetadata) *spatialmath.TopocentricConverter {
	var sum r3.Vector
	n := 0
	for _, m := range exif {
		if m.GPS != nil {
			sum = sum.Add(r3.Vector{X: m.GPS.Latitude, Y: m.GPS.Longitude, Z: m.GPS.Altitude})
			n++
		}
	}
	if n > 0 {
		sum = sum.Mul(1 / float64(n))
	}
	return spatialmath.NewTopocentricConverter(sum.X, sum.Y, sum.Z)
}

// Memory is a DataSet held in memory. Zero fields are empty inputs.
type Memory struct {
	Cfg            *config.Config
	Metadata       map[string]ImageMetadata
	Cameras        map[string]*camera.Camera
	Rigs           map[string]*reconstruction.RigCamera
	Assignments    map[string][]RigShot
	GCPs           []reconstruction.GroundControlPoint
	ReferenceLLA   *spatialmath.LLA
	ImageFeatures  map[string]tracking.ImageFeatures
	FeatureMatches tracking.Matches

	Tracks  *tracking.TracksManager
	Results []*reconstruction.Reconstruction
	Reports map[string]interface{}
}

var _ DataSet = (*Memory)(nil)

// Images returns the names of the images with metadata.
func (m *Memory) Images() []string {
	images := lo.Keys(m.Metadata)
	sort.Strings(images)
	return images
}

// Config returns the configuration, the defaults when unset.
func (m *Memory) Config() *config.Config {
	if m.Cfg == nil {
		m.Cfg = config.Default()
	}
	return m.Cfg
}

// Exif returns the metadata of an image.
func (m *Memory) Exif(image string) (ImageMetadata, error) {
	md, ok := m.Metadata[image]
	if !ok {
		return ImageMetadata{}, errors.Wrapf(ErrNotFound, "exif of %q", image)
	}
	return md, nil
}

// CameraModels returns the camera priors.
func (m *Memory) CameraModels() (map[string]*camera.Camera, error) {
	return m.Cameras, nil
}

// RigCameras returns the rig camera priors.
func (m *Memory) RigCameras() (map[string]*reconstruction.RigCamera, error) {
	return m.Rigs, nil
}

// RigAssignments returns the rig instances.
func (m *Memory) RigAssignments() (map[string][]RigShot, error) {
	return m.Assignments, nil
}

// GroundControlPoints returns the control points.
func (m *Memory) GroundControlPoints() ([]reconstruction.GroundControlPoint, error) {
	return m.GCPs, nil
}

// Reference returns the topocentric reference.
func (m *Memory) Reference() (*spatialmath.TopocentricConverter, error) {
	if m.ReferenceLLA == nil {
		ref := InventReference(m.Metadata).Reference()
		m.ReferenceLLA = &ref
	}
	return spatialmath.NewTopocentricConverter(m.ReferenceLLA.Latitude, m.ReferenceLLA.Longitude, m.ReferenceLLA.Altitude), nil
}

// Features returns the features of an image.
func (m *Memory) Features(image string) (tracking.ImageFeatures, error) {
	f, ok := m.ImageFeatures[image]
	if !ok {
		return tracking.ImageFeatures{}, errors.Wrapf(ErrNotFound, "features of %q", image)
	}
	return f, nil
}

// Matches returns the feature matches.
func (m *Memory) Matches() (tracking.Matches, error) {
	if m.FeatureMatches == nil {
		return tracking.Matches{}, nil
	}
	return m.FeatureMatches, nil
}

// TracksManager returns the saved tracks.
func (m *Memory) TracksManager() (*tracking.TracksManager, error) {
	if m.Tracks == nil {
		return nil, errors.Wrap(ErrNotFound, "tracks")
	}
	return m.Tracks, nil
}

// SaveTracksManager stores the tracks.
func (m *Memory) SaveTracksManager(tm *tracking.TracksManager) error {
	m.Tracks = tm
	return nil
}

// Reconstructions returns the saved reconstructions.
func (m *Memory) Reconstructions() ([]*reconstruction.Reconstruction, error) {
	if m.Results == nil {
		return nil, errors.Wrap(ErrNotFound, "reconstructions")
	}
	return m.Results, nil
}

// SaveReconstructions stores the reconstructions.
func (m *Memory) SaveReconstructions(recs []*reconstruction.Reconstruction) error {
	m.Results = recs
	return nil
}

// SaveReport stores a report under name.
func (m *Memory) SaveReport(name string, report interface{}) error {
	if m.Reports == nil {
		m.Reports = map[string]interface{}{}
	}
	m.Reports[name] = report
	return nil
}
