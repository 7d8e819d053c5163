// Package sfm implements incremental structure from motion: ranking image pairs, bootstrapping
// two-view reconstructions, growing them by resection and triangulation, and aligning and
// merging the results.
package sfm

import (
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/sfm/bundle"
	"go.viam.com/sfm/camera"
	"go.viam.com/sfm/config"
	"go.viam.com/sfm/dataset"
	"go.viam.com/sfm/logging"
	"go.viam.com/sfm/reconstruction"
	"go.viam.com/sfm/spatialmath"
	"go.viam.com/sfm/utils"
)

// rigAssignment places an image within a rig instance.
type rigAssignment struct {
	instanceID  string
	rigCameraID string
	// shots are the images of the whole instance.
	shots []string
}

// Reconstructor runs the reconstruction pipelines over a dataset. The dataset priors are read
// once when it is created.
type Reconstructor struct {
	data     dataset.DataSet
	cfg      *config.Config
	adjuster bundle.Adjuster

	logger      logging.Logger
	pairsLogger logging.Logger
	growLogger  logging.Logger
	alignLogger logging.Logger

	cameras        map[string]*camera.Camera
	rigCameras     map[string]*reconstruction.RigCamera
	rigAssignments map[string]rigAssignment
	reference      *spatialmath.TopocentricConverter
	gcps           []reconstruction.GroundControlPoint
}

// New validates the configuration of data and loads its priors.
func New(data dataset.DataSet, logger logging.Logger, opts ...Option) (*Reconstructor, error) {
	var o options
	for _, opt := range opts {
		opt.apply(&o)
	}

	cfg := data.Config()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	cameras, err := data.CameraModels()
	if err != nil {
		return nil, errors.Wrap(err, "cannot load camera models")
	}
	rigCameras, err := data.RigCameras()
	if err != nil {
		return nil, errors.Wrap(err, "cannot load rig cameras")
	}
	assignments, err := data.RigAssignments()
	if err != nil {
		return nil, errors.Wrap(err, "cannot load rig assignments")
	}
	perImage, err := rigAssignmentsPerImage(assignments, rigCameras)
	if err != nil {
		return nil, err
	}
	reference, err := data.Reference()
	if err != nil {
		return nil, errors.Wrap(err, "cannot load reference")
	}
	gcps, err := data.GroundControlPoints()
	if err != nil {
		return nil, errors.Wrap(err, "cannot load ground control points")
	}

	if o.adjuster == nil {
		o.adjuster = bundle.NewLevenbergMarquardt(logger.Sublogger("bundle"))
	}
	return &Reconstructor{
		data:           data,
		cfg:            cfg,
		adjuster:       o.adjuster,
		logger:         logger,
		pairsLogger:    logger.Sublogger("pairs"),
		growLogger:     logger.Sublogger("grow"),
		alignLogger:    logger.Sublogger("align"),
		cameras:        cameras,
		rigCameras:     rigCameras,
		rigAssignments: perImage,
		reference:      reference,
		gcps:           gcps,
	}, nil
}

// Config returns the configuration in use.
func (r *Reconstructor) Config() *config.Config {
	return r.cfg
}

// GroundControlPoints returns the control points of the dataset.
func (r *Reconstructor) GroundControlPoints() []reconstruction.GroundControlPoint {
	return r.gcps
}

func rigAssignmentsPerImage(
	assignments map[string][]dataset.RigShot,
	rigCameras map[string]*reconstruction.RigCamera,
) (map[string]rigAssignment, error) {
	out := map[string]rigAssignment{}
	for instanceID, shots := range assignments {
		images := make([]string, 0, len(shots))
		for _, s := range shots {
			images = append(images, s.Image)
		}
		sort.Strings(images)
		for _, s := range shots {
			if _, ok := rigCameras[s.RigCamera]; !ok {
				return nil, errors.Errorf("rig instance %q uses unknown rig camera %q", instanceID, s.RigCamera)
			}
			if other, ok := out[s.Image]; ok {
				return nil, errors.Errorf("image %q is in rig instances %q and %q", s.Image, other.instanceID, instanceID)
			}
			out[s.Image] = rigAssignment{instanceID: instanceID, rigCameraID: s.RigCamera, shots: images}
		}
	}
	return out, nil
}

// cameraFor returns the camera prior of an image.
func (r *Reconstructor) cameraFor(image string) (*camera.Camera, error) {
	exif, err := r.data.Exif(image)
	if err != nil {
		return nil, err
	}
	c, ok := r.cameras[exif.Camera]
	if !ok {
		return nil, errors.Errorf("image %q uses unknown camera %q", image, exif.Camera)
	}
	return c, nil
}

// metadata returns the shot measurements of an image. Images without metadata get none.
func (r *Reconstructor) metadata(image string) reconstruction.ShotMeasurements {
	exif, err := r.data.Exif(image)
	if err != nil {
		return reconstruction.ShotMeasurements{}
	}
	return exif.Measurements(r.reference)
}

// newReconstruction returns an empty reconstruction holding the camera and rig priors.
func (r *Reconstructor) newReconstruction() *reconstruction.Reconstruction {
	rec := reconstruction.New()
	rec.SetReference(r.reference)
	for _, c := range r.cameras {
		rec.AddCamera(c)
	}
	for _, rc := range r.rigCameras {
		rec.AddRigCamera(&reconstruction.RigCamera{ID: rc.ID, Pose: rc.Pose})
	}
	return rec
}

// addShot adds an image to rec with the given pose. An image of a rig instance brings all its
// rig mates, and the instance is placed so that the image gets the pose. The ids of the added
// shots are returned.
func (r *Reconstructor) addShot(rec *reconstruction.Reconstruction, image string, pose spatialmath.Pose) ([]string, error) {
	assignment, ok := r.rigAssignments[image]
	if !ok {
		c, err := r.cameraFor(image)
		if err != nil {
			return nil, err
		}
		shot := rec.CreateShot(image, c.ID, pose)
		shot.Metadata = r.metadata(image)
		return []string{image}, nil
	}

	for _, mate := range assignment.shots {
		if _, err := r.cameraFor(mate); err != nil {
			return nil, err
		}
	}
	instance := rec.CreateRigInstance(assignment.instanceID, spatialmath.IdentityPose())
	for _, mate := range assignment.shots {
		//nolint:errcheck
		c, _ := r.cameraFor(mate)
		shot := rec.CreateRigShot(mate, c.ID, assignment.instanceID, r.rigAssignments[mate].rigCameraID)
		shot.Metadata = r.metadata(mate)
	}
	instance.UpdatePoseWithShot(image, pose)
	return append([]string(nil), assignment.shots...), nil
}

// reconstructionFromMetadata builds a reconstruction of the given images posed from their
// metadata: GPS for the position, and the rotation prior or else a level camera facing the
// compass heading. Images without GPS are skipped.
func (r *Reconstructor) reconstructionFromMetadata(images []string) *reconstruction.Reconstruction {
	rec := r.newReconstruction()
	for _, image := range images {
		if rec.HasShot(image) {
			continue
		}
		exif, err := r.data.Exif(image)
		if err != nil || exif.GPS == nil {
			r.logger.Debugf("no position prior for %s", image)
			continue
		}
		origin := r.reference.ToTopocentric(*exif.GPS)
		rotation := spatialmath.IdentityRotation()
		switch {
		case exif.Rotation != nil:
			rotation = spatialmath.RotationFromAxisAngle(r3.Vector{X: exif.Rotation[0], Y: exif.Rotation[1], Z: exif.Rotation[2]})
		case exif.CompassAngle != nil:
			rotation = levelRotation(*exif.CompassAngle)
		}
		if _, err := r.addShot(rec, image, spatialmath.NewPoseFromOrigin(rotation, origin)); err != nil {
			r.logger.Warnf("cannot add %s: %v", image, err)
		}
	}
	return rec
}

// levelRotation returns the rotation of a camera with a horizontal optical axis pointing to
// the compass heading, in degrees clockwise from north, and its image y axis pointing down.
func levelRotation(compassAngle float64) spatialmath.RotationMatrix {
	a := utils.DegToRad(compassAngle)
	s, c := math.Sin(a), math.Cos(a)
	return spatialmath.RotationFromRows(
		r3.Vector{X: c, Y: -s},
		r3.Vector{Z: -1},
		r3.Vector{X: s, Y: c},
	)
}

// ShotLLAAndCompass returns the geodetic position of a shot and the compass heading of its
// optical axis in degrees.
func ShotLLAAndCompass(shot *reconstruction.Shot, reference *spatialmath.TopocentricConverter) (spatialmath.LLA, float64) {
	pose := shot.Pose()
	dz := pose.Rotation().Row(2)
	angle := utils.RadToDeg(math.Atan2(dz.X, dz.Y))
	angle = math.Mod(angle+360, 360)
	return reference.ToLLA(pose.Origin()), angle
}
