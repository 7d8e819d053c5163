package camera

import (
	"encoding/json"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/test"
)

func allModels() []Model {
	return []Model{
		&Perspective{Focal: 0.9, K1: -0.1, K2: 0.01},
		&Brown{Focal: 0.8, AspectRatio: 1.1, CX: 0.01, CY: -0.02, K1: -0.1, K2: 0.02, K3: 0.001, P1: 0.001, P2: -0.002},
		&Fisheye{Focal: 0.5, K1: -0.05, K2: 0.01},
		&FisheyeOpenCV{Focal: 0.5, AspectRatio: 1, CX: 0.01, CY: 0.02, K1: -0.02, K2: 0.01, K3: 0.001, K4: -0.0005},
		&Fisheye62{Focal: 0.5, AspectRatio: 1, K1: -0.02, K2: 0.01, P1: 0.001, P2: 0.001},
		&Fisheye624{Fisheye62: Fisheye62{Focal: 0.5, AspectRatio: 1, K1: -0.02, P1: 0.001}, S0: 0.001, S2: -0.001},
		&Dual{Focal: 0.6, K1: -0.05, Transition: 0.5},
		&Spherical{},
	}
}

func TestProjectBearingRoundTrip(t *testing.T) {
	points := []r3.Vector{{X: 0.1, Y: 0.2, Z: 1}, {X: -0.3, Y: 0.1, Z: 2}, {Z: 5}, {X: 0.2, Y: -0.25, Z: 0.9}}
	for _, model := range allModels() {
		t.Run(string(model.ProjectionType()), func(t *testing.T) {
			cam := New("cam", 640, 480, model)
			for _, p := range points {
				b := cam.Bearing(cam.Project(p))
				expected := p.Normalize()
				test.That(t, b.X, test.ShouldAlmostEqual, expected.X, 1e-6)
				test.That(t, b.Y, test.ShouldAlmostEqual, expected.Y, 1e-6)
				test.That(t, b.Z, test.ShouldAlmostEqual, expected.Z, 1e-6)
			}
		})
	}
}

func TestSphericalBehindCamera(t *testing.T) {
	cam := New("pano", 2000, 1000, &Spherical{})
	test.That(t, cam.IsPanorama(), test.ShouldBeTrue)
	p := r3.Vector{X: 0.5, Y: 0.1, Z: -1}
	b := cam.Bearing(cam.Project(p))
	test.That(t, b.Sub(p.Normalize()).Norm(), test.ShouldBeLessThan, 1e-9)
}

func TestPixelConversion(t *testing.T) {
	cam := NewPerspective("cam", 640, 480, 1, 0, 0)
	center := cam.PixelToNormalized(r2.Point{X: 319.5, Y: 239.5})
	test.That(t, center.X, test.ShouldAlmostEqual, 0)
	test.That(t, center.Y, test.ShouldAlmostEqual, 0)

	px := r2.Point{X: 12, Y: 400}
	back := cam.NormalizedToPixel(cam.PixelToNormalized(px))
	test.That(t, back.X, test.ShouldAlmostEqual, px.X, 1e-9)
	test.That(t, back.Y, test.ShouldAlmostEqual, px.Y, 1e-9)
}

func TestParameters(t *testing.T) {
	cam := New("cam", 100, 100, &Brown{Focal: 1, AspectRatio: 1})
	test.That(t, cam.SetParameter(ParamK3, 0.5), test.ShouldBeNil)
	test.That(t, cam.Parameters()[ParamK3], test.ShouldEqual, 0.5)
	test.That(t, cam.SetParameter(ParamTransition, 0.5), test.ShouldNotBeNil)
	test.That(t, len(cam.ParameterNames()), test.ShouldEqual, 9)

	cp := cam.Copy()
	test.That(t, cp.SetParameter(ParamFocal, 2), test.ShouldBeNil)
	test.That(t, cam.Focal(), test.ShouldEqual, 1.0)

	k := cam.K()
	test.That(t, k.At(0, 0), test.ShouldEqual, 1.0)
	test.That(t, k.At(2, 2), test.ShouldEqual, 1.0)
}

func TestNewModel(t *testing.T) {
	for _, model := range allModels() {
		built, err := NewModel(model.ProjectionType(), nil)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, built.ProjectionType(), test.ShouldEqual, model.ProjectionType())
	}

	_, err := NewModel("orthographic", nil)
	var unknown *UnknownProjectionError
	test.That(t, errors.As(err, &unknown), test.ShouldBeTrue)
	test.That(t, unknown.Name, test.ShouldEqual, "orthographic")

	pt, err := ParseProjectionType("equirectangular")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pt, test.ShouldEqual, SphericalProjection)
}

func TestFromMap(t *testing.T) {
	var attributes map[string]interface{}
	raw := `{"projection_type": "fisheye_opencv", "width": 1920, "height": 1080, "focal": 0.4, "k1": -0.01, "c_x": 0.001}`
	test.That(t, json.Unmarshal([]byte(raw), &attributes), test.ShouldBeNil)

	cam, err := FromMap("gopro", attributes)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cam.ProjectionType(), test.ShouldEqual, FisheyeOpenCVProjection)
	test.That(t, cam.Width, test.ShouldEqual, 1920)
	test.That(t, cam.Parameters()[ParamK1], test.ShouldEqual, -0.01)
	test.That(t, cam.Parameters()[ParamAspectRatio], test.ShouldEqual, 1.0)

	again, err := FromMap("gopro", cam.ToMap())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again.Parameters(), test.ShouldResemble, cam.Parameters())

	_, err = FromMap("bad", map[string]interface{}{"projection_type": "perspective", "width": 10, "height": 10})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = FromMap("bad", map[string]interface{}{"projection_type": "perspective", "focal": 1, "k9": 1})
	test.That(t, err, test.ShouldNotBeNil)

	pano, err := FromMap("pano", map[string]interface{}{"projection_type": "spherical", "width": 2, "height": 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pano.IsPanorama(), test.ShouldBeTrue)
}
