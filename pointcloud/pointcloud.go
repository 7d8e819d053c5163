// Package pointcloud holds the points of a reconstruction as a colored point cloud and writes
// it in the PCD and PLY formats.
package pointcloud

import (
	"image/color"
	"math"

	"github.com/golang/geo/r3"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/samber/lo"

	"go.viam.com/sfm/reconstruction"
)

// CameraColor is the color of the camera centers added to a cloud.
var CameraColor = color.RGBA{R: 255, A: 255}

// MetaData is data about what's stored in the point cloud.
type MetaData struct {
	HasColor bool

	MinX, MaxX float64
	MinY, MaxY float64
	MinZ, MaxZ float64
}

func newMetaData() MetaData {
	return MetaData{
		MinX: math.MaxFloat64, MinY: math.MaxFloat64, MinZ: math.MaxFloat64,
		MaxX: -math.MaxFloat64, MaxY: -math.MaxFloat64, MaxZ: -math.MaxFloat64,
	}
}

func (meta *MetaData) merge(p r3.Vector, d Data) {
	if d.HasColor {
		meta.HasColor = true
	}
	meta.MinX, meta.MaxX = math.Min(meta.MinX, p.X), math.Max(meta.MaxX, p.X)
	meta.MinY, meta.MaxY = math.Min(meta.MinY, p.Y), math.Max(meta.MaxY, p.Y)
	meta.MinZ, meta.MaxZ = math.Min(meta.MinZ, p.Z), math.Max(meta.MaxZ, p.Z)
}

// Data describes the data associated with a single point.
type Data struct {
	Color    color.RGBA
	HasColor bool
}

// NewColoredData returns the data of a point of the given color.
func NewColoredData(c color.RGBA) Data {
	return Data{Color: c, HasColor: true}
}

// PointCloud is an ordered list of points.
type PointCloud struct {
	positions []r3.Vector
	data      []Data
	meta      MetaData
}

// New returns an empty point cloud.
func New() *PointCloud {
	return NewWithPrealloc(0)
}

// NewWithPrealloc returns an empty point cloud with room for size points.
func NewWithPrealloc(size int) *PointCloud {
	return &PointCloud{
		positions: make([]r3.Vector, 0, size),
		data:      make([]Data, 0, size),
		meta:      newMetaData(),
	}
}

// Size returns the number of points in the cloud.
func (pc *PointCloud) Size() int {
	return len(pc.positions)
}

// MetaData returns meta data.
func (pc *PointCloud) MetaData() MetaData {
	return pc.meta
}

// Set appends a point to the cloud.
func (pc *PointCloud) Set(p r3.Vector, d Data) {
	pc.positions = append(pc.positions, p)
	pc.data = append(pc.data, d)
	pc.meta.merge(p, d)
}

// At returns the i-th point of the cloud.
func (pc *PointCloud) At(i int) (r3.Vector, Data) {
	return pc.positions[i], pc.data[i]
}

// Iterate calls fn on the points in order until it returns false.
func (pc *PointCloud) Iterate(fn func(p r3.Vector, d Data) bool) {
	for i, p := range pc.positions {
		if !fn(p, pc.data[i]) {
			return
		}
	}
}

// ColorMap returns the color of v on a blue to red hue ramp over [low, high].
func ColorMap(v, low, high float64) color.RGBA {
	t := 0.0
	if high > low {
		t = math.Max(0, math.Min(1, (v-low)/(high-low)))
	}
	r, g, b := colorful.Hsv(240*(1-t), 1, 1).RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// FromReconstructionColoredBy is FromReconstruction with the points colored by values on the
// ColorMap between their extremes. Points without a value keep their own color.
func FromReconstructionColoredBy(
	rec *reconstruction.Reconstruction,
	values map[string]float64,
	withCameras bool,
) *PointCloud {
	pc := FromReconstruction(rec, withCameras)
	if len(values) == 0 {
		return pc
	}
	all := lo.Values(values)
	low, high := lo.Min(all), lo.Max(all)
	for i, id := range rec.PointIDs() {
		if v, ok := values[id]; ok {
			pc.data[i] = NewColoredData(ColorMap(v, low, high))
		}
	}
	return pc
}

// FromReconstruction returns the points of rec, ordered by track id, colored by their
// observations. The camera centers are appended in shot id order when withCameras is set.
func FromReconstruction(rec *reconstruction.Reconstruction, withCameras bool) *PointCloud {
	size := rec.NumPoints()
	if withCameras {
		size += rec.NumShots()
	}
	pc := NewWithPrealloc(size)
	for _, id := range rec.PointIDs() {
		p := rec.Point(id)
		pc.Set(p.Coordinates, NewColoredData(p.Color))
	}
	if withCameras {
		for _, id := range rec.ShotIDs() {
			pc.Set(rec.Shot(id).Pose().Origin(), NewColoredData(CameraColor))
		}
	}
	return pc
}
