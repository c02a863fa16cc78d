// Package pose represents approximate 6-DOF sensor poses used to seed
// the registration of a scan against the fused model.
package pose

import (
	"github.com/seqsense/pcgol/mat"
)

// Pose is a rigid transform: a translation and three rotation angles in
// radians about the X, Y and Z axes, with an optional confidence in
// [0, 1] (not enforced). The zero value is the identity pose with zero
// confidence.
//
// Angles describe the orientation of the sensor relative to the
// reference frame. Expressing scan points in the reference frame
// therefore rotates by the inverse: Matrix negates the angles before
// application. This convention is load-bearing; reversing it flips
// every subsequent alignment.
type Pose struct {
	DX, DY, DZ       float64
	RotX, RotY, RotZ float64
	Confidence       float64
}

// Sub returns the pose of p relative to o. Translations and angles are
// subtracted component-wise; the confidence of the combined pose is the
// smaller of the two.
func (p Pose) Sub(o Pose) Pose {
	conf := p.Confidence
	if o.Confidence < conf {
		conf = o.Confidence
	}
	return Pose{
		DX:         p.DX - o.DX,
		DY:         p.DY - o.DY,
		DZ:         p.DZ - o.DZ,
		RotX:       p.RotX - o.RotX,
		RotY:       p.RotY - o.RotY,
		RotZ:       p.RotZ - o.RotZ,
		Confidence: conf,
	}
}

// IsZero reports whether p is the identity pose with zero confidence.
func (p Pose) IsZero() bool {
	return p == Pose{}
}

// Matrix returns the transform applying the negated rotations about X,
// then Y, then Z, followed by the translation.
func (p Pose) Matrix() mat.Mat4 {
	return mat.Translate(float32(p.DX), float32(p.DY), float32(p.DZ)).
		Mul(mat.Rotate(1, 0, 0, float32(-p.RotX))).
		Mul(mat.Rotate(0, 1, 0, float32(-p.RotY))).
		Mul(mat.Rotate(0, 0, 1, float32(-p.RotZ)))
}

// InverseMatrix returns the algebraic inverse of Matrix.
func (p Pose) InverseMatrix() mat.Mat4 {
	return mat.Rotate(0, 0, 1, float32(p.RotZ)).
		Mul(mat.Rotate(0, 1, 0, float32(p.RotY))).
		Mul(mat.Rotate(1, 0, 0, float32(p.RotX))).
		Mul(mat.Translate(float32(-p.DX), float32(-p.DY), float32(-p.DZ)))
}
