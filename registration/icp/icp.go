// Package icp implements point-to-point iterative closest point
// refinement of a source cloud against a fixed target. It is a local
// method: the caller must bring the clouds roughly into alignment
// first, or the iteration may converge to a wrong local minimum.
package icp

import (
	"math"

	"github.com/pkg/errors"
	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
	"github.com/seqsense/pcgol/pc/storage/kdtree"

	"github.com/seqsense/pcdfuse/registration"
	"github.com/seqsense/pcdfuse/storage/knn"
)

// ErrNoCorrespondence is returned when fewer than three source points
// find a target correspondence.
var ErrNoCorrespondence = errors.New("not enough point correspondences")

// ICP refines the pose of a source cloud against a target cloud.
type ICP struct {
	// MaxIteration bounds the refinement loop.
	MaxIteration int
	// Tolerance stops the loop early once the incremental transform
	// magnitude (translation norm plus rotation angle) falls below it.
	// Zero or negative disables early termination.
	Tolerance float64
	// MaxCorrDist limits the nearest neighbor search radius. Zero or
	// negative means unlimited.
	MaxCorrDist float32
}

// Result reports how the refinement loop terminated.
type Result struct {
	// Converged is true when the loop stopped on Tolerance rather than
	// by exhausting MaxIteration.
	Converged  bool
	Iterations int
	Pairs      int
	MeanSqErr  float32
}

// Align iteratively transforms source toward target in place and
// returns the accumulated rigid transform.
func (c *ICP) Align(target pc.Vec3RandomAccessor, source pc.Vec3Slice) (mat.Mat4, Result, error) {
	total := mat.Translate(0, 0, 0)
	res := Result{}
	if target.Len() == 0 || len(source) == 0 {
		return total, res, errors.Wrap(ErrNoCorrespondence, "empty cloud")
	}
	kdt := kdtree.New(target)
	maxRange := c.MaxCorrDist
	if maxRange <= 0 {
		maxRange = math.MaxFloat32
	}

	src := make([]mat.Vec3, 0, len(source))
	dst := make([]mat.Vec3, 0, len(source))
	for i := 0; i < c.MaxIteration; i++ {
		src, dst = src[:0], dst[:0]
		var errSum float64
		for _, p := range source {
			nb := kdt.Nearest(p, maxRange)
			if nb.ID < 0 {
				continue
			}
			q := target.Vec3At(nb.ID)
			src = append(src, p)
			dst = append(dst, q)
			errSum += float64(q.Sub(p).NormSq())
		}
		if len(src) < 3 {
			return total, res, errors.Wrapf(ErrNoCorrespondence, "iteration %d: %d pairs", i, len(src))
		}
		res.Pairs = len(src)
		res.MeanSqErr = float32(errSum / float64(len(src)))

		inc, err := registration.EstimateRigid(src, dst)
		if err != nil {
			return total, res, err
		}
		for j, p := range source {
			source[j] = inc.TransformAffine(p)
		}
		total = inc.Mul(total)
		res.Iterations = i + 1

		if c.Tolerance > 0 {
			trans, angle := registration.TransformMagnitude(inc)
			if trans+angle < c.Tolerance {
				res.Converged = true
				break
			}
		}
	}
	return total, res, nil
}

// MeanNearestDist returns the mean distance from each source point to
// its nearest target point, a cheap alignment quality measure.
func MeanNearestDist(target pc.Vec3RandomAccessor, source pc.Vec3Slice) float64 {
	if target.Len() == 0 || len(source) == 0 {
		return math.Inf(1)
	}
	ix := knn.New(target)
	var sum float64
	for _, p := range source {
		id, distSq := ix.Nearest(p)
		if id < 0 {
			continue
		}
		sum += math.Sqrt(float64(distSq))
	}
	return sum / float64(len(source))
}
