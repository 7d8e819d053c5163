package camera

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// Model is one of the closed set of projection models. The concrete types are Perspective,
// Brown, Fisheye, FisheyeOpenCV, Fisheye62, Fisheye624, Dual and Spherical.
//
// Project maps a point in the camera frame to normalized image coordinates and Bearing maps
// normalized image coordinates back to a unit ray.
type Model interface {
	ProjectionType() ProjectionType
	Project(p r3.Vector) r2.Point
	Bearing(p r2.Point) r3.Vector

	params() []param
}

type param struct {
	name  Parameter
	value *float64
}

// Perspective is a pinhole with two radial coefficients.
type Perspective struct {
	Focal float64
	K1    float64
	K2    float64
}

// Brown is a pinhole with an aspect ratio, principal point and Brown-Conrady distortion.
type Brown struct {
	Focal       float64
	AspectRatio float64
	CX          float64
	CY          float64
	K1          float64
	K2          float64
	K3          float64
	P1          float64
	P2          float64
}

// Fisheye is an equidistant projection with two radial coefficients.
type Fisheye struct {
	Focal float64
	K1    float64
	K2    float64
}

// FisheyeOpenCV is the equidistant model used by OpenCV's fisheye module.
type FisheyeOpenCV struct {
	Focal       float64
	AspectRatio float64
	CX          float64
	CY          float64
	K1          float64
	K2          float64
	K3          float64
	K4          float64
}

// Fisheye62 is an equidistant projection with six radial and two tangential coefficients.
type Fisheye62 struct {
	Focal       float64
	AspectRatio float64
	CX          float64
	CY          float64
	K1          float64
	K2          float64
	K3          float64
	K4          float64
	K5          float64
	K6          float64
	P1          float64
	P2          float64
}

// Fisheye624 extends Fisheye62 with four thin prism coefficients.
type Fisheye624 struct {
	Fisheye62
	S0 float64
	S1 float64
	S2 float64
	S3 float64
}

// Dual blends a perspective and an equidistant projection.
type Dual struct {
	Focal      float64
	K1         float64
	K2         float64
	Transition float64
}

// Spherical is an equirectangular panorama.
type Spherical struct{}

// ProjectionType implements Model.
func (m *Perspective) ProjectionType() ProjectionType { return PerspectiveProjection }

// ProjectionType implements Model.
func (m *Brown) ProjectionType() ProjectionType { return BrownProjection }

// ProjectionType implements Model.
func (m *Fisheye) ProjectionType() ProjectionType { return FisheyeProjection }

// ProjectionType implements Model.
func (m *FisheyeOpenCV) ProjectionType() ProjectionType { return FisheyeOpenCVProjection }

// ProjectionType implements Model.
func (m *Fisheye62) ProjectionType() ProjectionType { return Fisheye62Projection }

// ProjectionType implements Model.
func (m *Fisheye624) ProjectionType() ProjectionType { return Fisheye624Projection }

// ProjectionType implements Model.
func (m *Dual) ProjectionType() ProjectionType { return DualProjection }

// ProjectionType implements Model.
func (m *Spherical) ProjectionType() ProjectionType { return SphericalProjection }

func (m *Perspective) params() []param {
	return []param{{ParamFocal, &m.Focal}, {ParamK1, &m.K1}, {ParamK2, &m.K2}}
}

func (m *Brown) params() []param {
	return []param{
		{ParamFocal, &m.Focal}, {ParamAspectRatio, &m.AspectRatio}, {ParamCX, &m.CX}, {ParamCY, &m.CY},
		{ParamK1, &m.K1}, {ParamK2, &m.K2}, {ParamK3, &m.K3}, {ParamP1, &m.P1}, {ParamP2, &m.P2},
	}
}

func (m *Fisheye) params() []param {
	return []param{{ParamFocal, &m.Focal}, {ParamK1, &m.K1}, {ParamK2, &m.K2}}
}

func (m *FisheyeOpenCV) params() []param {
	return []param{
		{ParamFocal, &m.Focal}, {ParamAspectRatio, &m.AspectRatio}, {ParamCX, &m.CX}, {ParamCY, &m.CY},
		{ParamK1, &m.K1}, {ParamK2, &m.K2}, {ParamK3, &m.K3}, {ParamK4, &m.K4},
	}
}

func (m *Fisheye62) params() []param {
	return []param{
		{ParamFocal, &m.Focal}, {ParamAspectRatio, &m.AspectRatio}, {ParamCX, &m.CX}, {ParamCY, &m.CY},
		{ParamK1, &m.K1}, {ParamK2, &m.K2}, {ParamK3, &m.K3}, {ParamK4, &m.K4}, {ParamK5, &m.K5}, {ParamK6, &m.K6},
		{ParamP1, &m.P1}, {ParamP2, &m.P2},
	}
}

func (m *Fisheye624) params() []param {
	return append(m.Fisheye62.params(),
		param{ParamS0, &m.S0}, param{ParamS1, &m.S1}, param{ParamS2, &m.S2}, param{ParamS3, &m.S3})
}

func (m *Dual) params() []param {
	return []param{{ParamFocal, &m.Focal}, {ParamK1, &m.K1}, {ParamK2, &m.K2}, {ParamTransition, &m.Transition}}
}

func (m *Spherical) params() []param { return nil }

// Project implements Model.
func (m *Perspective) Project(p r3.Vector) r2.Point {
	x, y := pinholeLift(p)
	d := radial(x*x+y*y, m.K1, m.K2)
	return r2.Point{X: m.Focal * d * x, Y: m.Focal * d * y}
}

// Bearing implements Model.
func (m *Perspective) Bearing(p r2.Point) r3.Vector {
	x, y := undistortRadial(p.X/m.Focal, p.Y/m.Focal, func(r2 float64) float64 { return radial(r2, m.K1, m.K2) })
	return pinholeUnlift(x, y)
}

func (m *Brown) distort(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	d := radial(r2, m.K1, m.K2, m.K3)
	xd := x*d + 2*m.P1*x*y + m.P2*(r2+2*x*x)
	yd := y*d + 2*m.P2*x*y + m.P1*(r2+2*y*y)
	return xd, yd
}

// Project implements Model.
func (m *Brown) Project(p r3.Vector) r2.Point {
	x, y := pinholeLift(p)
	xd, yd := m.distort(x, y)
	return affine(xd, yd, m.Focal, m.AspectRatio, m.CX, m.CY)
}

// Bearing implements Model.
func (m *Brown) Bearing(p r2.Point) r3.Vector {
	xd, yd := unaffine(p, m.Focal, m.AspectRatio, m.CX, m.CY)
	x, y := invertDistortion(xd, yd, m.distort)
	return pinholeUnlift(x, y)
}

// Project implements Model.
func (m *Fisheye) Project(p r3.Vector) r2.Point {
	x, y := equidistantLift(p)
	d := radial(x*x+y*y, m.K1, m.K2)
	return r2.Point{X: m.Focal * d * x, Y: m.Focal * d * y}
}

// Bearing implements Model.
func (m *Fisheye) Bearing(p r2.Point) r3.Vector {
	x, y := undistortRadial(p.X/m.Focal, p.Y/m.Focal, func(r2 float64) float64 { return radial(r2, m.K1, m.K2) })
	return equidistantUnlift(x, y)
}

// Project implements Model.
func (m *FisheyeOpenCV) Project(p r3.Vector) r2.Point {
	x, y := equidistantLift(p)
	d := radial(x*x+y*y, m.K1, m.K2, m.K3, m.K4)
	return affine(d*x, d*y, m.Focal, m.AspectRatio, m.CX, m.CY)
}

// Bearing implements Model.
func (m *FisheyeOpenCV) Bearing(p r2.Point) r3.Vector {
	xd, yd := unaffine(p, m.Focal, m.AspectRatio, m.CX, m.CY)
	x, y := undistortRadial(xd, yd, func(r2 float64) float64 { return radial(r2, m.K1, m.K2, m.K3, m.K4) })
	return equidistantUnlift(x, y)
}

func (m *Fisheye62) distort(x, y float64) (float64, float64) {
	r2 := x*x + y*y
	d := radial(r2, m.K1, m.K2, m.K3, m.K4, m.K5, m.K6)
	xr, yr := d*x, d*y
	xd := xr + 2*m.P1*xr*yr + m.P2*(xr*xr+yr*yr+2*xr*xr)
	yd := yr + 2*m.P2*xr*yr + m.P1*(xr*xr+yr*yr+2*yr*yr)
	return xd, yd
}

// Project implements Model.
func (m *Fisheye62) Project(p r3.Vector) r2.Point {
	x, y := equidistantLift(p)
	xd, yd := m.distort(x, y)
	return affine(xd, yd, m.Focal, m.AspectRatio, m.CX, m.CY)
}

// Bearing implements Model.
func (m *Fisheye62) Bearing(p r2.Point) r3.Vector {
	xd, yd := unaffine(p, m.Focal, m.AspectRatio, m.CX, m.CY)
	x, y := invertDistortion(xd, yd, m.distort)
	return equidistantUnlift(x, y)
}

func (m *Fisheye624) distort(x, y float64) (float64, float64) {
	xd, yd := m.Fisheye62.distort(x, y)
	r2 := xd*xd + yd*yd
	return xd + m.S0*r2 + m.S1*r2*r2, yd + m.S2*r2 + m.S3*r2*r2
}

// Project implements Model.
func (m *Fisheye624) Project(p r3.Vector) r2.Point {
	x, y := equidistantLift(p)
	xd, yd := m.distort(x, y)
	return affine(xd, yd, m.Focal, m.AspectRatio, m.CX, m.CY)
}

// Bearing implements Model.
func (m *Fisheye624) Bearing(p r2.Point) r3.Vector {
	xd, yd := unaffine(p, m.Focal, m.AspectRatio, m.CX, m.CY)
	x, y := invertDistortion(xd, yd, m.distort)
	return equidistantUnlift(x, y)
}

func (m *Dual) lift(p r3.Vector) (float64, float64) {
	px, py := pinholeLift(p)
	fx, fy := equidistantLift(p)
	t := m.Transition
	return t*px + (1-t)*fx, t*py + (1-t)*fy
}

// Project implements Model.
func (m *Dual) Project(p r3.Vector) r2.Point {
	x, y := m.lift(p)
	d := radial(x*x+y*y, m.K1, m.K2)
	return r2.Point{X: m.Focal * d * x, Y: m.Focal * d * y}
}

// Bearing implements Model.
func (m *Dual) Bearing(p r2.Point) r3.Vector {
	x, y := undistortRadial(p.X/m.Focal, p.Y/m.Focal, func(r2 float64) float64 { return radial(r2, m.K1, m.K2) })
	rho := math.Hypot(x, y)
	if rho < 1e-12 {
		return r3.Vector{Z: 1}
	}
	// rho = t tan(theta) + (1-t) theta
	t := m.Transition
	theta := rho
	for i := 0; i < maxNewtonIterations; i++ {
		f := t*math.Tan(theta) + (1-t)*theta - rho
		df := t/(math.Cos(theta)*math.Cos(theta)) + (1 - t)
		step := f / df
		theta -= step
		if math.Abs(step) < newtonTolerance {
			break
		}
	}
	s := math.Sin(theta) / rho
	return r3.Vector{X: x * s, Y: y * s, Z: math.Cos(theta)}
}

// Project implements Model.
func (m *Spherical) Project(p r3.Vector) r2.Point {
	lon := math.Atan2(p.X, p.Z)
	lat := math.Atan2(-p.Y, math.Hypot(p.X, p.Z))
	return r2.Point{X: lon / (2 * math.Pi), Y: -lat / (2 * math.Pi)}
}

// Bearing implements Model.
func (m *Spherical) Bearing(p r2.Point) r3.Vector {
	lon := p.X * 2 * math.Pi
	lat := -p.Y * 2 * math.Pi
	return r3.Vector{
		X: math.Cos(lat) * math.Sin(lon),
		Y: -math.Sin(lat),
		Z: math.Cos(lat) * math.Cos(lon),
	}
}

const (
	maxNewtonIterations = 20
	newtonTolerance     = 1e-10
)

func pinholeLift(p r3.Vector) (float64, float64) {
	return p.X / p.Z, p.Y / p.Z
}

func pinholeUnlift(x, y float64) r3.Vector {
	return r3.Vector{X: x, Y: y, Z: 1}.Normalize()
}

// equidistantLift maps a direction to theta * (x, y) / |(x, y)|, theta being the angle to the
// optical axis.
func equidistantLift(p r3.Vector) (float64, float64) {
	l := math.Hypot(p.X, p.Y)
	if l < 1e-12 {
		return 0, 0
	}
	theta := math.Atan2(l, p.Z)
	return theta * p.X / l, theta * p.Y / l
}

func equidistantUnlift(x, y float64) r3.Vector {
	theta := math.Hypot(x, y)
	if theta < 1e-12 {
		return r3.Vector{Z: 1}
	}
	s := math.Sin(theta) / theta
	return r3.Vector{X: x * s, Y: y * s, Z: math.Cos(theta)}
}

// radial evaluates 1 + k1 r2 + k2 r2^2 + ...
func radial(r2 float64, ks ...float64) float64 {
	d, pow := 1.0, 1.0
	for _, k := range ks {
		pow *= r2
		d += k * pow
	}
	return d
}

func affine(x, y, focal, aspectRatio, cx, cy float64) r2.Point {
	return r2.Point{X: focal*x + cx, Y: focal*aspectRatio*y + cy}
}

func unaffine(p r2.Point, focal, aspectRatio, cx, cy float64) (float64, float64) {
	return (p.X - cx) / focal, (p.Y - cy) / (focal * aspectRatio)
}

// undistortRadial inverts a purely radial distortion by solving rd = r d(r^2) for r.
func undistortRadial(xd, yd float64, d func(r2 float64) float64) (float64, float64) {
	rd := math.Hypot(xd, yd)
	if rd < 1e-12 {
		return xd, yd
	}
	r := rd
	const h = 1e-7
	for i := 0; i < maxNewtonIterations; i++ {
		f := r*d(r*r) - rd
		if math.Abs(f) < newtonTolerance {
			break
		}
		df := ((r+h)*d((r+h)*(r+h)) - (r-h)*d((r-h)*(r-h))) / (2 * h)
		if df == 0 {
			break
		}
		r -= f / df
	}
	return xd * r / rd, yd * r / rd
}

// invertDistortion solves distort(x, y) = (xd, yd) with Newton iterations on a numeric
// Jacobian, starting from the distorted point.
func invertDistortion(xd, yd float64, distort func(x, y float64) (float64, float64)) (float64, float64) {
	x, y := xd, yd
	const h = 1e-7
	for i := 0; i < maxNewtonIterations; i++ {
		ex, ey := distort(x, y)
		errX, errY := ex-xd, ey-yd
		if errX*errX+errY*errY < newtonTolerance*newtonTolerance {
			break
		}
		x1, y1 := distort(x+h, y)
		x0, y0 := distort(x-h, y)
		dxdx, dydx := (x1-x0)/(2*h), (y1-y0)/(2*h)
		x1, y1 = distort(x, y+h)
		x0, y0 = distort(x, y-h)
		dxdy, dydy := (x1-x0)/(2*h), (y1-y0)/(2*h)

		det := dxdx*dydy - dxdy*dydx
		if det == 0 {
			break
		}
		x -= (dydy*errX - dxdy*errY) / det
		y -= (-dydx*errX + dxdx*errY) / det
	}
	return x, y
}
