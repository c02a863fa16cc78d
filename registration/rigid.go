// Package registration provides the shared rigid transform estimation
// used by the coarse and fine aligners.
package registration

import (
	"math"

	"github.com/pkg/errors"
	"github.com/seqsense/pcgol/mat"
	gmat "gonum.org/v1/gonum/mat"
)

// ErrTooFewPairs is returned when fewer than three correspondences are
// available; a rigid transform is underdetermined below that.
var ErrTooFewPairs = errors.New("rigid estimation requires at least 3 point pairs")

// EstimateRigid returns the rigid transform minimizing the sum of
// squared distances between transformed src points and their dst
// correspondences (Kabsch, cross-covariance SVD).
func EstimateRigid(src, dst []mat.Vec3) (mat.Mat4, error) {
	if len(src) != len(dst) {
		return mat.Mat4{}, errors.Errorf("pair count mismatch: %d != %d", len(src), len(dst))
	}
	if len(src) < 3 {
		return mat.Mat4{}, errors.Wrapf(ErrTooFewPairs, "got %d", len(src))
	}

	n := float64(len(src))
	var cs, cd [3]float64
	for i := range src {
		for a := 0; a < 3; a++ {
			cs[a] += float64(src[i][a])
			cd[a] += float64(dst[i][a])
		}
	}
	for a := 0; a < 3; a++ {
		cs[a] /= n
		cd[a] /= n
	}

	// Cross-covariance of the centered pairs.
	var h [9]float64
	for i := range src {
		var s, d [3]float64
		for a := 0; a < 3; a++ {
			s[a] = float64(src[i][a]) - cs[a]
			d[a] = float64(dst[i][a]) - cd[a]
		}
		for r := 0; r < 3; r++ {
			for c := 0; c < 3; c++ {
				h[3*r+c] += s[r] * d[c]
			}
		}
	}

	var svd gmat.SVD
	if !svd.Factorize(gmat.NewDense(3, 3, h[:]), gmat.SVDFull) {
		return mat.Mat4{}, errors.New("cross-covariance SVD failed")
	}
	var u, v gmat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r gmat.Dense
	r.Mul(&v, u.T())
	if gmat.Det(&r) < 0 {
		// Reflection case: flip the axis of least significance.
		d := gmat.NewDiagDense(3, []float64{1, 1, -1})
		var vd gmat.Dense
		vd.Mul(&v, d)
		r.Mul(&vd, u.T())
	}

	var t [3]float64
	for a := 0; a < 3; a++ {
		t[a] = cd[a]
		for b := 0; b < 3; b++ {
			t[a] -= r.At(a, b) * cs[b]
		}
	}

	// Column-major Mat4 with the translation in the last column.
	var out mat.Mat4
	for c := 0; c < 3; c++ {
		for rr := 0; rr < 3; rr++ {
			out[4*c+rr] = float32(r.At(rr, c))
		}
	}
	out[12] = float32(t[0])
	out[13] = float32(t[1])
	out[14] = float32(t[2])
	out[15] = 1
	return out, nil
}

// TransformMagnitude decomposes a rigid transform into its translation
// norm and rotation angle, used as a convergence measure.
func TransformMagnitude(m mat.Mat4) (trans, angle float64) {
	tx, ty, tz := float64(m[12]), float64(m[13]), float64(m[14])
	trans = math.Sqrt(tx*tx + ty*ty + tz*tz)
	// Rotation angle from the trace of the rotation block.
	tr := float64(m[0]) + float64(m[5]) + float64(m[10])
	c := (tr - 1) / 2
	if c > 1 {
		c = 1
	} else if c < -1 {
		c = -1
	}
	angle = math.Acos(c)
	return trans, angle
}
