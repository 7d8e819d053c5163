package reconstruction

import (
	"github.com/golang/geo/r2"

	"go.viam.com/sfm/spatialmath"
)

// GCPObservation is the projection of a ground control point in one shot.
type GCPObservation struct {
	ShotID     string   `json:"shot_id"`
	Projection r2.Point `json:"projection"`
}

// GroundControlPoint is a surveyed reference point with image observations. It is an
// alignment constraint only and never part of the point set.
type GroundControlPoint struct {
	ID           string           `json:"id"`
	LLA          spatialmath.LLA  `json:"lla"`
	HasLLA       bool             `json:"has_lla"`
	HasAltitude  bool             `json:"has_altitude"`
	Observations []GCPObservation `json:"observations"`
}
