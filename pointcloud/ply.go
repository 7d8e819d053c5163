package pointcloud

import (
	"io"

	"github.com/EliCDavis/polyform/formats/ply"
	"github.com/EliCDavis/polyform/modeling"
	"github.com/EliCDavis/vector/vector3"
	"github.com/golang/geo/r3"
)

// ToPLY writes the cloud as a binary ply, with colors in [0, 1] when any point is colored.
func ToPLY(cloud *PointCloud, out io.Writer) error {
	positions := make([]vector3.Float64, 0, cloud.Size())
	colors := make([]vector3.Float64, 0, cloud.Size())
	cloud.Iterate(func(p r3.Vector, d Data) bool {
		positions = append(positions, vector3.New(p.X, p.Y, p.Z))
		c := d.Color
		if !d.HasColor {
			c = CameraColor
		}
		colors = append(colors, vector3.New(float64(c.R), float64(c.G), float64(c.B)).DivByConstant(255.))
		return true
	})

	attributes := map[string][]vector3.Vector[float64]{modeling.PositionAttribute: positions}
	if cloud.MetaData().HasColor {
		attributes[modeling.ColorAttribute] = colors
	}
	return ply.WriteBinary(out, modeling.NewPointCloud(attributes, nil, nil, nil))
}
