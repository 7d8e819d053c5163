package dataset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"

	"go.viam.com/sfm/camera"
	"go.viam.com/sfm/config"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/tracking"
)

// File names within a dataset directory.
const (
	ConfigFile             = "config.yaml"
	ExifFile               = "exif.json"
	CameraModelsFile       = "camera_models.json"
	RigCamerasFile         = "rig_cameras.json"
	RigAssignmentsFile     = "rig_assignments.json"
	GroundControlPointFile = "ground_control_points.json"
	ReferenceLLAFile       = "reference_lla.json"
	FeaturesFile           = "features.json"
	MatchesFile            = "matches.json"
	TracksFile             = "tracks.csv"
	ReconstructionFile     = "reconstruction.json"
	ReportsDir             = "reports"
)

type rigCameraJSON struct {
	Rotation    [3]float64 `json:"rotation"`
	Translation [3]float64 `json:"translation"`
}

type pairMatchesJSON struct {
	Im1     string                  `json:"im1"`
	Im2     string                  `json:"im2"`
	Matches []tracking.FeatureMatch `json:"matches"`
}

// Dir is a DataSet stored as files in a directory.
type Dir struct {
	path string
	cfg  *config.Config

	mu       sync.Mutex
	exif     map[string]ImageMetadata
	features map[string]tracking.ImageFeatures
}

var _ DataSet = (*Dir)(nil)

// Load opens the dataset at path and reads its configuration.
func Load(path string) (*Dir, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open dataset")
	}
	if !info.IsDir() {
		return nil, errors.Errorf("dataset %q is not a directory", path)
	}
	cfgPath := filepath.Join(path, ConfigFile)
	if _, err := os.Stat(filepath.Join(path, "config.json")); err == nil {
		cfgPath = filepath.Join(path, "config.json")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, errors.Wrap(err, "cannot load dataset config")
	}
	return &Dir{path: path, cfg: cfg}, nil
}

// Path returns the dataset directory.
func (d *Dir) Path() string {
	return d.path
}

func (d *Dir) file(name string) string {
	return filepath.Join(d.path, name)
}

// readJSON decodes the named file into v. It reports false when the file does not exist.
func (d *Dir) readJSON(name string, v interface{}) (bool, error) {
	//nolint:gosec
	f, err := os.Open(d.file(name))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	defer utils.UncheckedErrorFunc(f.Close)
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return false, errors.Wrapf(err, "cannot parse %s", name)
	}
	return true, nil
}

func (d *Dir) writeJSON(name string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(d.file(name)), 0o750); err != nil {
		return err
	}
	return os.WriteFile(d.file(name), data, 0o600)
}

func (d *Dir) loadExif() (map[string]ImageMetadata, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.exif != nil {
		return d.exif, nil
	}
	exif := map[string]ImageMetadata{}
	if _, err := d.readJSON(ExifFile, &exif); err != nil {
		return nil, err
	}
	d.exif = exif
	return exif, nil
}

// Images returns the images listed in the exif file. Unreadable metadata yields no images.
func (d *Dir) Images() []string {
	exif, err := d.loadExif()
	if err != nil {
		return nil
	}
	images := lo.Keys(exif)
	sort.Strings(images)
	return images
}

// Config returns the dataset configuration.
func (d *Dir) Config() *config.Config {
	return d.cfg
}

// Exif returns the metadata of an image.
func (d *Dir) Exif(image string) (ImageMetadata, error) {
	exif, err := d.loadExif()
	if err != nil {
		return ImageMetadata{}, err
	}
	m, ok := exif[image]
	if !ok {
		return ImageMetadata{}, errors.Wrapf(ErrNotFound, "exif of %q", image)
	}
	return m, nil
}

// CameraModels returns the camera priors.
func (d *Dir) CameraModels() (map[string]*camera.Camera, error) {
	raw := map[string]map[string]interface{}{}
	if _, err := d.readJSON(CameraModelsFile, &raw); err != nil {
		return nil, err
	}
	cameras := make(map[string]*camera.Camera, len(raw))
	for id, attrs := range raw {
		c, err := camera.FromMap(id, attrs)
		if err != nil {
			return nil, err
		}
		cameras[id] = c
	}
	return cameras, nil
}

// RigCameras returns the rig camera priors.
func (d *Dir) RigCameras() (map[string]*reconstruction.RigCamera, error) {
	raw := map[string]rigCameraJSON{}
	if _, err := d.readJSON(RigCamerasFile, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]*reconstruction.RigCamera, len(raw))
	for id, rc := range raw {
		out[id] = &reconstruction.RigCamera{
			ID: id,
			Pose: spatialmath.NewPoseFromAxisAngle(
				fromArray(rc.Rotation), fromArray(rc.Translation)),
		}
	}
	return out, nil
}

// RigAssignments returns the rig instances as lists of [image, rig camera] pairs.
func (d *Dir) RigAssignments() (map[string][]RigShot, error) {
	raw := map[string][][2]string{}
	if _, err := d.readJSON(RigAssignmentsFile, &raw); err != nil {
		return nil, err
	}
	out := make(map[string][]RigShot, len(raw))
	for id, shots := range raw {
		out[id] = lo.Map(shots, func(s [2]string, _ int) RigShot { return RigShot{Image: s[0], RigCamera: s[1]} })
	}
	return out, nil
}

// GroundControlPoints returns the control points.
func (d *Dir) GroundControlPoints() ([]reconstruction.GroundControlPoint, error) {
	var gcps []reconstruction.GroundControlPoint
	if _, err := d.readJSON(GroundControlPointFile, &gcps); err != nil {
		return nil, err
	}
	return gcps, nil
}

// Reference returns the stored reference, inventing and saving one from the image GPS when
// missing.
func (d *Dir) Reference() (*spatialmath.TopocentricConverter, error) {
	var lla spatialmath.LLA
	found, err := d.readJSON(ReferenceLLAFile, &lla)
	if err != nil {
		return nil, err
	}
	if found {
		return spatialmath.NewTopocentricConverter(lla.Latitude, lla.Longitude, lla.Altitude), nil
	}
	exif, err := d.loadExif()
	if err != nil {
		return nil, err
	}
	ref := InventReference(exif)
	if err := d.writeJSON(ReferenceLLAFile, ref.Reference()); err != nil {
		return nil, err
	}
	return ref, nil
}

// Features returns the features of an image.
func (d *Dir) Features(image string) (tracking.ImageFeatures, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.features == nil {
		features := map[string]tracking.ImageFeatures{}
		if _, err := d.readJSON(FeaturesFile, &features); err != nil {
			return tracking.ImageFeatures{}, err
		}
		d.features = features
	}
	f, ok := d.features[image]
	if !ok {
		return tracking.ImageFeatures{}, errors.Wrapf(ErrNotFound, "features of %q", image)
	}
	return f, nil
}

// Matches returns the feature matches.
func (d *Dir) Matches() (tracking.Matches, error) {
	var raw []pairMatchesJSON
	if _, err := d.readJSON(MatchesFile, &raw); err != nil {
		return nil, err
	}
	matches := tracking.Matches{}
	for _, pm := range raw {
		matches.Add(pm.Im1, pm.Im2, pm.Matches)
	}
	return matches, nil
}

// SaveMatches writes the feature matches.
func (d *Dir) SaveMatches(matches tracking.Matches) error {
	pairs := lo.Keys(matches)
	tracking.SortPairs(pairs)
	raw := lo.Map(pairs, func(p tracking.ImagePair, _ int) pairMatchesJSON {
		return pairMatchesJSON{Im1: p.Im1, Im2: p.Im2, Matches: matches[p]}
	})
	return d.writeJSON(MatchesFile, raw)
}

// TracksManager reads the saved tracks.
func (d *Dir) TracksManager() (*tracking.TracksManager, error) {
	//nolint:gosec
	f, err := os.Open(d.file(TracksFile))
	if err != nil {
		return nil, errors.Wrap(err, "cannot open tracks")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	return tracking.ReadTracks(f)
}

// SaveTracksManager writes the tracks.
func (d *Dir) SaveTracksManager(tm *tracking.TracksManager) (err error) {
	//nolint:gosec
	f, err := os.Create(d.file(TracksFile))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	return tracking.WriteTracks(f, tm)
}

// Reconstructions reads the saved reconstructions.
func (d *Dir) Reconstructions() ([]*reconstruction.Reconstruction, error) {
	data, err := os.ReadFile(d.file(ReconstructionFile))
	if err != nil {
		return nil, errors.Wrap(err, "cannot read reconstructions")
	}
	return reconstruction.ReadJSON(data)
}

// SaveReconstructions writes the reconstructions.
func (d *Dir) SaveReconstructions(recs []*reconstruction.Reconstruction) error {
	return d.writeJSON(ReconstructionFile, recs)
}

// SaveReport writes a report as reports/<name>.json.
func (d *Dir) SaveReport(name string, report interface{}) error {
	return d.writeJSON(filepath.Join(ReportsDir, name+".json"), report)
}

func fromArray(a [3]float64) r3.Vector {
	return r3.Vector{X: a[0], Y: a[1], Z: a[2]}
}

// SaveExif writes the image metadata.
func (d *Dir) SaveExif(exif map[string]ImageMetadata) error {
	d.mu.Lock()
	d.exif = nil
	d.mu.Unlock()
	return d.writeJSON(ExifFile, exif)
}

// SaveCameraModels writes the camera priors.
func (d *Dir) SaveCameraModels(cameras map[string]*camera.Camera) error {
	return d.writeJSON(CameraModelsFile, cameras)
}

// SaveFeatures writes the features of every image.
func (d *Dir) SaveFeatures(features map[string]tracking.ImageFeatures) error {
	d.mu.Lock()
	d.features = nil
	d.mu.Unlock()
	return d.writeJSON(FeaturesFile, features)
}

// SaveGroundControlPoints writes the control points.
func (d *Dir) SaveGroundControlPoints(gcps []reconstruction.GroundControlPoint) error {
	return d.writeJSON(GroundControlPointFile, gcps)
}

// Export writes every input held by m into the dataset directory.
func (d *Dir) Export(m *Memory) error {
	if err := d.SaveExif(m.Metadata); err != nil {
		return err
	}
	if err := d.SaveCameraModels(m.Cameras); err != nil {
		return err
	}
	if err := d.SaveFeatures(m.ImageFeatures); err != nil {
		return err
	}
	if err := d.SaveMatches(m.FeatureMatches); err != nil {
		return err
	}
	if len(m.GCPs) > 0 {
		if err := d.SaveGroundControlPoints(m.GCPs); err != nil {
			return err
		}
	}
	if m.ReferenceLLA != nil {
		return d.writeJSON(ReferenceLLAFile, m.ReferenceLLA)
	}
	return nil
}
