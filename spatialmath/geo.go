package spatialmath

import (
	"math"

	"github.com/golang/geo/r3"
	geo "github.com/kellydunn/golang-geo"
)

// WGS84 ellipsoid.
const (
	wgs84A = 6378137.0
	wgs84B = 6356752.314245
)

// LLA is a geodetic position in degrees and meters.
type LLA struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// Point returns the horizontal part of the position.
func (l LLA) Point() *geo.Point {
	return geo.NewPoint(l.Latitude, l.Longitude)
}

// ECEFFromLLA converts a geodetic position to earth-centred earth-fixed coordinates.
func ECEFFromLLA(l LLA) r3.Vector {
	a2, b2 := wgs84A*wgs84A, wgs84B*wgs84B
	lat, lon := l.Latitude*math.Pi/180, l.Longitude*math.Pi/180
	l2 := math.Sqrt(a2*math.Cos(lat)*math.Cos(lat) + b2*math.Sin(lat)*math.Sin(lat))
	return r3.Vector{
		X: (a2/l2 + l.Altitude) * math.Cos(lat) * math.Cos(lon),
		Y: (a2/l2 + l.Altitude) * math.Cos(lat) * math.Sin(lon),
		Z: (b2/l2 + l.Altitude) * math.Sin(lat),
	}
}

// LLAFromECEF converts earth-centred earth-fixed coordinates to a geodetic position.
func LLAFromECEF(v r3.Vector) LLA {
	a, b := wgs84A, wgs84B
	ea := math.Sqrt((a*a - b*b) / (a * a))
	eb := math.Sqrt((a*a - b*b) / (b * b))
	p := math.Hypot(v.X, v.Y)
	theta := math.Atan2(v.Z*a, p*b)
	lon := math.Atan2(v.Y, v.X)
	st, ct := math.Sin(theta), math.Cos(theta)
	lat := math.Atan2(v.Z+eb*eb*b*st*st*st, p-ea*ea*a*ct*ct*ct)
	n := a / math.Sqrt(1-ea*ea*math.Sin(lat)*math.Sin(lat))
	return LLA{
		Latitude:  lat * 180 / math.Pi,
		Longitude: lon * 180 / math.Pi,
		Altitude:  p/math.Cos(lat) - n,
	}
}

// enuToECEFRotation returns the rotation whose columns are the east, north and up axes at
// the given geodetic position, expressed in ECEF.
func enuToECEFRotation(l LLA) RotationMatrix {
	sa, ca := math.Sin(l.Latitude*math.Pi/180), math.Cos(l.Latitude*math.Pi/180)
	so, co := math.Sin(l.Longitude*math.Pi/180), math.Cos(l.Longitude*math.Pi/180)
	return RotationMatrix{mat: [9]float64{
		-so, -sa * co, ca * co,
		co, -sa * so, ca * so,
		0, ca, sa,
	}}
}

// TopocentricConverter maps between geodetic positions and a local east-north-up frame
// centred on a reference position.
type TopocentricConverter struct {
	origin   *geo.Point
	altitude float64

	ecef     r3.Vector
	rotation RotationMatrix
}

// NewTopocentricConverter creates a converter whose frame origin is at the given position.
func NewTopocentricConverter(latitude, longitude, altitude float64) *TopocentricConverter {
	ref := LLA{Latitude: latitude, Longitude: longitude, Altitude: altitude}
	return &TopocentricConverter{
		origin:   geo.NewPoint(latitude, longitude),
		altitude: altitude,
		ecef:     ECEFFromLLA(ref),
		rotation: enuToECEFRotation(ref),
	}
}

// Reference returns the geodetic origin of the frame.
func (tc *TopocentricConverter) Reference() LLA {
	return LLA{Latitude: tc.origin.Lat(), Longitude: tc.origin.Lng(), Altitude: tc.altitude}
}

// ToTopocentric converts a geodetic position to local east-north-up meters.
func (tc *TopocentricConverter) ToTopocentric(l LLA) r3.Vector {
	return tc.rotation.ApplyInverse(ECEFFromLLA(l).Sub(tc.ecef))
}

// ToLLA converts local east-north-up meters to a geodetic position.
func (tc *TopocentricConverter) ToLLA(enu r3.Vector) LLA {
	return LLAFromECEF(tc.rotation.Apply(enu).Add(tc.ecef))
}

// HorizontalDistance is the great circle distance in meters between the frame origin and l.
func (tc *TopocentricConverter) HorizontalDistance(l LLA) float64 {
	return tc.origin.GreatCircleDistance(l.Point()) * 1000
}
