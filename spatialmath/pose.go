package spatialmath

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// Pose is a rigid world to camera transform: x_cam = R x_world + t.
type Pose struct {
	rotation    RotationMatrix
	translation r3.Vector
}

// NewPose creates a pose from a rotation and translation.
func NewPose(rotation RotationMatrix, translation r3.Vector) Pose {
	return Pose{rotation: rotation, translation: translation}
}

// NewPoseFromAxisAngle creates a pose from a rotation vector and translation.
func NewPoseFromAxisAngle(axisAngle, translation r3.Vector) Pose {
	return Pose{rotation: RotationFromAxisAngle(axisAngle), translation: translation}
}

// NewPoseFromOrigin creates a pose with the given rotation whose camera center is origin.
func NewPoseFromOrigin(rotation RotationMatrix, origin r3.Vector) Pose {
	return Pose{rotation: rotation, translation: rotation.Apply(origin).Mul(-1)}
}

// IdentityPose is the pose of a camera at the world origin looking down +z.
func IdentityPose() Pose {
	return Pose{rotation: IdentityRotation()}
}

// Rotation returns R.
func (p Pose) Rotation() RotationMatrix {
	return p.rotation
}

// AxisAngle returns R as a rotation vector.
func (p Pose) AxisAngle() r3.Vector {
	return p.rotation.AxisAngle()
}

// Translation returns t.
func (p Pose) Translation() r3.Vector {
	return p.translation
}

// Origin returns the camera center in world coordinates, -R^T t.
func (p Pose) Origin() r3.Vector {
	return p.rotation.ApplyInverse(p.translation).Mul(-1)
}

// SetOrigin returns a copy of the pose moved so that its camera center is origin.
func (p Pose) SetOrigin(origin r3.Vector) Pose {
	return NewPoseFromOrigin(p.rotation, origin)
}

// SetRotation returns a copy of the pose with a new rotation and the same translation.
func (p Pose) SetRotation(rotation RotationMatrix) Pose {
	return Pose{rotation: rotation, translation: p.translation}
}

// Transform maps a world point into the camera frame.
func (p Pose) Transform(x r3.Vector) r3.Vector {
	return p.rotation.Apply(x).Add(p.translation)
}

// TransformInverse maps a camera frame point into the world frame.
func (p Pose) TransformInverse(x r3.Vector) r3.Vector {
	return p.rotation.ApplyInverse(x.Sub(p.translation))
}

// Compose returns the pose p∘other, which first applies other then p.
func (p Pose) Compose(other Pose) Pose {
	return Pose{
		rotation:    p.rotation.Mul(other.rotation),
		translation: p.rotation.Apply(other.translation).Add(p.translation),
	}
}

// Inverse returns the camera to world transform.
func (p Pose) Inverse() Pose {
	rt := p.rotation.Transpose()
	return Pose{rotation: rt, translation: rt.Apply(p.translation).Mul(-1)}
}

// RelativeTo returns the pose of p expressed in the camera frame of base, p∘base⁻¹.
func (p Pose) RelativeTo(base Pose) Pose {
	return p.Compose(base.Inverse())
}

// ProjectionMatrix returns the 3x4 matrix [R|t].
func (p Pose) ProjectionMatrix() *mat.Dense {
	rt := mat.NewDense(3, 4, nil)
	for i := 0; i < 3; i++ {
		row := p.rotation.Row(i)
		rt.SetRow(i, []float64{row.X, row.Y, row.Z, VectorComponent(p.translation, i)})
	}
	return rt
}

// AlmostEqual compares two poses element-wise.
func (p Pose) AlmostEqual(other Pose, epsilon float64) bool {
	for i := 0; i < 9; i++ {
		if d := p.rotation.mat[i] - other.rotation.mat[i]; d > epsilon || d < -epsilon {
			return false
		}
	}
	return p.translation.Sub(other.translation).Norm() <= epsilon
}

func (p Pose) String() string {
	return fmt.Sprintf("Pose(r=%v, t=%v)", p.rotation.AxisAngle(), p.translation)
}

// VectorComponent returns the i-th coordinate of v.
func VectorComponent(v r3.Vector, i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}
