package spatialmath

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Similarity is the transform x -> Scale * Rotation * x + Translation.
type Similarity struct {
	Scale       float64
	Rotation    RotationMatrix
	Translation r3.Vector
}

// IdentitySimilarity returns the transform that leaves every point in place.
func IdentitySimilarity() Similarity {
	return Similarity{Scale: 1, Rotation: IdentityRotation()}
}

// NewSimilarity creates a similarity transform.
func NewSimilarity(scale float64, rotation RotationMatrix, translation r3.Vector) Similarity {
	return Similarity{Scale: scale, Rotation: rotation, Translation: translation}
}

// Apply maps x.
func (s Similarity) Apply(x r3.Vector) r3.Vector {
	return s.Rotation.Apply(x).Mul(s.Scale).Add(s.Translation)
}

// Inverse returns the transform undoing s: (1/s, R^T, -R^T t / s).
func (s Similarity) Inverse() Similarity {
	rt := s.Rotation.Transpose()
	return Similarity{
		Scale:       1 / s.Scale,
		Rotation:    rt,
		Translation: rt.Apply(s.Translation).Mul(-1 / s.Scale),
	}
}

// Compose returns s∘other, which first applies other.
func (s Similarity) Compose(other Similarity) Similarity {
	return Similarity{
		Scale:       s.Scale * other.Scale,
		Rotation:    s.Rotation.Mul(other.Rotation),
		Translation: s.Apply(other.Translation),
	}
}

// TransformPose returns the world to camera pose of a camera after the world has been mapped
// by s. The camera frame is scaled along with the world so projections are unchanged.
func (s Similarity) TransformPose(p Pose) Pose {
	rotation := p.rotation.Mul(s.Rotation.Transpose())
	translation := rotation.Apply(s.Translation).Mul(-1).Add(p.translation.Mul(s.Scale))
	return NewPose(rotation, translation)
}

// Valid reports whether the transform is usable: a non-zero scale and no NaN component.
func (s Similarity) Valid() bool {
	if s.Scale == 0 || math.IsNaN(s.Scale) {
		return false
	}
	for _, v := range s.Rotation.mat {
		if math.IsNaN(v) {
			return false
		}
	}
	return !math.IsNaN(s.Translation.X) && !math.IsNaN(s.Translation.Y) && !math.IsNaN(s.Translation.Z)
}

func (s Similarity) String() string {
	return fmt.Sprintf("Similarity(s=%.6f, r=%v, t=%v)", s.Scale, s.Rotation.AxisAngle(), s.Translation)
}
