// Package camera defines the intrinsic projection models of the reconstruction.
//
// Image coordinates are normalized: pixel coordinates are centred on the image and divided
// by the largest image dimension.
package camera

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/go-viper/mapstructure/v2"
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// ProjectionType names a projection model.
type ProjectionType string

// The supported projection types.
const (
	PerspectiveProjection   = ProjectionType("perspective")
	BrownProjection         = ProjectionType("brown")
	FisheyeProjection       = ProjectionType("fisheye")
	FisheyeOpenCVProjection = ProjectionType("fisheye_opencv")
	Fisheye62Projection     = ProjectionType("fisheye62")
	Fisheye624Projection    = ProjectionType("fisheye624")
	DualProjection          = ProjectionType("dual")
	SphericalProjection     = ProjectionType("spherical")
)

// ParseProjectionType maps a projection name to its type. "equirectangular" is accepted as an
// alias of spherical.
func ParseProjectionType(name string) (ProjectionType, error) {
	switch ProjectionType(name) {
	case PerspectiveProjection, BrownProjection, FisheyeProjection, FisheyeOpenCVProjection,
		Fisheye62Projection, Fisheye624Projection, DualProjection, SphericalProjection:
		return ProjectionType(name), nil
	case "equirectangular":
		return SphericalProjection, nil
	default:
		return "", NewUnknownProjectionError(name)
	}
}

// UnknownProjectionError is returned for projection names outside the supported set.
type UnknownProjectionError struct {
	Name string
}

// NewUnknownProjectionError returns an error for an unsupported projection name.
func NewUnknownProjectionError(name string) error {
	return &UnknownProjectionError{Name: name}
}

func (e *UnknownProjectionError) Error() string {
	return fmt.Sprintf("unknown projection type %q", e.Name)
}

// Parameter names an intrinsic parameter.
type Parameter string

// Intrinsic parameters.
const (
	ParamFocal       = Parameter("focal")
	ParamAspectRatio = Parameter("aspect_ratio")
	ParamCX          = Parameter("c_x")
	ParamCY          = Parameter("c_y")
	ParamK1          = Parameter("k1")
	ParamK2          = Parameter("k2")
	ParamK3          = Parameter("k3")
	ParamK4          = Parameter("k4")
	ParamK5          = Parameter("k5")
	ParamK6          = Parameter("k6")
	ParamP1          = Parameter("p1")
	ParamP2          = Parameter("p2")
	ParamS0          = Parameter("s0")
	ParamS1          = Parameter("s1")
	ParamS2          = Parameter("s2")
	ParamS3          = Parameter("s3")
	ParamTransition  = Parameter("transition")
)

// NewModel builds the model of the given type with default parameters overridden by params.
func NewModel(projectionType ProjectionType, params map[Parameter]float64) (Model, error) {
	var model Model
	switch projectionType {
	case PerspectiveProjection:
		model = &Perspective{Focal: 1}
	case BrownProjection:
		model = &Brown{Focal: 1, AspectRatio: 1}
	case FisheyeProjection:
		model = &Fisheye{Focal: 1}
	case FisheyeOpenCVProjection:
		model = &FisheyeOpenCV{Focal: 1, AspectRatio: 1}
	case Fisheye62Projection:
		model = &Fisheye62{Focal: 1, AspectRatio: 1}
	case Fisheye624Projection:
		model = &Fisheye624{Fisheye62: Fisheye62{Focal: 1, AspectRatio: 1}}
	case DualProjection:
		model = &Dual{Focal: 1, Transition: 0.5}
	case SphericalProjection:
		model = &Spherical{}
	default:
		return nil, NewUnknownProjectionError(string(projectionType))
	}
	for name, value := range params {
		if err := setParam(model, name, value); err != nil {
			return nil, err
		}
	}
	return model, nil
}

func setParam(model Model, name Parameter, value float64) error {
	for _, p := range model.params() {
		if p.name == name {
			*p.value = value
			return nil
		}
	}
	return errors.Errorf("%s camera has no parameter %q", model.ProjectionType(), name)
}

// Camera is an intrinsic calibration shared by every shot taken with it.
type Camera struct {
	ID     string
	Width  int
	Height int
	Model  Model
}

// New creates a camera.
func New(id string, width, height int, model Model) *Camera {
	return &Camera{ID: id, Width: width, Height: height, Model: model}
}

// NewPerspective is a shortcut for a perspective camera.
func NewPerspective(id string, width, height int, focal, k1, k2 float64) *Camera {
	return New(id, width, height, &Perspective{Focal: focal, K1: k1, K2: k2})
}

// ProjectionType returns the projection type of the model.
func (c *Camera) ProjectionType() ProjectionType {
	return c.Model.ProjectionType()
}

// IsPanorama reports whether the camera covers the full sphere.
func (c *Camera) IsPanorama() bool {
	return c.Model.ProjectionType() == SphericalProjection
}

// Project maps a point in the camera frame to normalized image coordinates.
func (c *Camera) Project(p r3.Vector) r2.Point {
	return c.Model.Project(p)
}

// Bearing maps normalized image coordinates to a unit ray in the camera frame.
func (c *Camera) Bearing(p r2.Point) r3.Vector {
	return c.Model.Bearing(p).Normalize()
}

// Bearings maps several normalized points at once.
func (c *Camera) Bearings(points []r2.Point) []r3.Vector {
	out := make([]r3.Vector, len(points))
	for i, p := range points {
		out[i] = c.Bearing(p)
	}
	return out
}

func (c *Camera) normalizer() float64 {
	return math.Max(float64(c.Width), float64(c.Height))
}

// PixelToNormalized converts pixel coordinates to normalized coordinates.
func (c *Camera) PixelToNormalized(p r2.Point) r2.Point {
	size := c.normalizer()
	return r2.Point{
		X: (p.X + 0.5 - float64(c.Width)/2) / size,
		Y: (p.Y + 0.5 - float64(c.Height)/2) / size,
	}
}

// NormalizedToPixel converts normalized coordinates to pixel coordinates.
func (c *Camera) NormalizedToPixel(p r2.Point) r2.Point {
	size := c.normalizer()
	return r2.Point{
		X: p.X*size - 0.5 + float64(c.Width)/2,
		Y: p.Y*size - 0.5 + float64(c.Height)/2,
	}
}

// Parameters returns every intrinsic parameter of the model.
func (c *Camera) Parameters() map[Parameter]float64 {
	out := map[Parameter]float64{}
	for _, p := range c.Model.params() {
		out[p.name] = *p.value
	}
	return out
}

// ParameterNames returns the parameters of the model in their canonical order.
func (c *Camera) ParameterNames() []Parameter {
	params := c.Model.params()
	out := make([]Parameter, 0, len(params))
	for _, p := range params {
		out = append(out, p.name)
	}
	return out
}

// SetParameter changes one intrinsic parameter.
func (c *Camera) SetParameter(name Parameter, value float64) error {
	return setParam(c.Model, name, value)
}

// Focal returns the focal length in normalized units, or 0 for models without one.
func (c *Camera) Focal() float64 {
	return c.Parameters()[ParamFocal]
}

// K returns the normalized calibration matrix of the pinhole part of the model.
func (c *Camera) K() *mat.Dense {
	params := c.Parameters()
	focal := params[ParamFocal]
	aspect, ok := params[ParamAspectRatio]
	if !ok {
		aspect = 1
	}
	return mat.NewDense(3, 3, []float64{
		focal, 0, params[ParamCX],
		0, focal * aspect, params[ParamCY],
		0, 0, 1,
	})
}

// Copy returns a deep copy of the camera.
func (c *Camera) Copy() *Camera {
	model, err := NewModel(c.ProjectionType(), c.Parameters())
	if err != nil {
		// every model accepts its own parameters
		panic(err)
	}
	return New(c.ID, c.Width, c.Height, model)
}

type cameraJSON struct {
	ProjectionType string                 `mapstructure:"projection_type"`
	Width          int                    `mapstructure:"width"`
	Height         int                    `mapstructure:"height"`
	Focal          float64                `mapstructure:"focal"`
	FocalPrior     float64                `mapstructure:"focal_prior"`
	Remain         map[string]interface{} `mapstructure:",remain"`
}

// FromMap decodes a camera from its serialized attributes, e.g.
// {"projection_type": "perspective", "width": 640, "height": 480, "focal": 0.9, "k1": 0}.
func FromMap(id string, attributes map[string]interface{}) (*Camera, error) {
	var raw cameraJSON
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{Result: &raw, WeaklyTypedInput: true})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrapf(err, "cannot decode camera %q", id)
	}
	if raw.ProjectionType == "" {
		raw.ProjectionType = string(PerspectiveProjection)
	}
	projectionType, err := ParseProjectionType(raw.ProjectionType)
	if err != nil {
		return nil, errors.Wrapf(err, "camera %q", id)
	}
	params := map[Parameter]float64{}
	if projectionType != SphericalProjection {
		focal := raw.Focal
		if focal == 0 {
			focal = raw.FocalPrior
		}
		if focal == 0 {
			return nil, errors.Errorf("camera %q has no focal", id)
		}
		params[ParamFocal] = focal
	}
	for key, value := range raw.Remain {
		if key == "id" {
			continue
		}
		var f float64
		if err := mapstructure.WeakDecode(value, &f); err != nil {
			return nil, errors.Wrapf(err, "camera %q parameter %q", id, key)
		}
		params[Parameter(key)] = f
	}
	model, err := NewModel(projectionType, params)
	if err != nil {
		return nil, errors.Wrapf(err, "camera %q", id)
	}
	return New(id, raw.Width, raw.Height, model), nil
}

// ToMap is the inverse of FromMap.
func (c *Camera) ToMap() map[string]interface{} {
	out := map[string]interface{}{
		"projection_type": string(c.ProjectionType()),
		"width":           c.Width,
		"height":          c.Height,
	}
	for name, value := range c.Parameters() {
		out[string(name)] = value
	}
	return out
}

// MarshalJSON writes the camera attributes.
func (c *Camera) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.ToMap())
}

func (c *Camera) String() string {
	names := c.ParameterNames()
	params := c.Parameters()
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	s := fmt.Sprintf("%s(%s %dx%d", c.ProjectionType(), c.ID, c.Width, c.Height)
	for _, n := range names {
		s += fmt.Sprintf(" %s=%g", n, params[n])
	}
	return s + ")"
}
