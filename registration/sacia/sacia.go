// Package sacia implements coarse feature-based alignment: random
// source samples are matched to the target by local shape signature,
// a candidate rigid transform is fit to each match set, and the
// candidate with the largest consensus wins. The result is a rough
// alignment suitable as the starting point for ICP.
package sacia

import (
	"math/rand"

	"github.com/pkg/errors"
	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
	"github.com/seqsense/pcgol/pc/sac"
	"github.com/seqsense/pcgol/pc/storage"
	"github.com/seqsense/pcgol/pc/storage/kdtree"

	"github.com/seqsense/pcdfuse/feature"
	"github.com/seqsense/pcdfuse/registration"
)

var (
	// ErrInsufficientPoints is returned when either cloud is too small
	// for the requested feature neighborhood.
	ErrInsufficientPoints = errors.New("not enough points for feature estimation")
	// ErrNoConsensus is returned when no sampled candidate produced a
	// valid transform.
	ErrNoConsensus = errors.New("no consensus transform found")
)

const sampleSize = 3

// SACIA aligns a source cloud to a target cloud without a pose prior.
type SACIA struct {
	// NormalK is the neighborhood size for normal estimation.
	NormalK int
	// FeatureK is the neighborhood size for signature histograms.
	FeatureK int
	// InlierThreshold is the distance under which a transformed source
	// point counts toward a candidate's consensus.
	InlierThreshold float32
	// ScoreSamples caps the number of source points scored per
	// candidate. Zero scores every point.
	ScoreSamples int
	// MaxIteration is the number of candidate transforms drawn.
	MaxIteration int
	// Rand drives sampling. It must be set by the caller; a seeded
	// source makes the alignment reproducible.
	Rand *rand.Rand
}

// Result reports the winning candidate's consensus.
type Result struct {
	// Inliers is the number of scored source points within
	// InlierThreshold of the target under the winning transform.
	Inliers int
	// Scored is the number of source points evaluated per candidate.
	Scored int
}

// Align estimates a coarse rigid transform from source to target and
// applies it to source in place.
func (a *SACIA) Align(target pc.Vec3RandomAccessor, source pc.Vec3Slice) (mat.Mat4, Result, error) {
	res := Result{}
	if target.Len() <= a.FeatureK || len(source) <= a.FeatureK {
		return mat.Translate(0, 0, 0), res, errors.Wrapf(ErrInsufficientPoints,
			"target=%d source=%d, need more than %d", target.Len(), len(source), a.FeatureK)
	}

	srcNormals, err := feature.Normals(source, a.NormalK)
	if err != nil {
		return mat.Translate(0, 0, 0), res, errors.Wrap(err, "source normals")
	}
	srcSigs, err := feature.Signatures(source, srcNormals, a.FeatureK)
	if err != nil {
		return mat.Translate(0, 0, 0), res, errors.Wrap(err, "source signatures")
	}
	tgtNormals, err := feature.Normals(target, a.NormalK)
	if err != nil {
		return mat.Translate(0, 0, 0), res, errors.Wrap(err, "target normals")
	}
	tgtSigs, err := feature.Signatures(target, tgtNormals, a.FeatureK)
	if err != nil {
		return mat.Translate(0, 0, 0), res, errors.Wrap(err, "target signatures")
	}

	m := &correspondenceModel{
		target:    target,
		kdt:       kdtree.New(target),
		source:    source,
		srcSigs:   srcSigs,
		tgtSigs:   tgtSigs,
		score:     scoreSubset(source, a.ScoreSamples),
		threshold: a.InlierThreshold,
	}
	engine := sac.New(&seededSampler{n: len(source), rnd: a.Rand}, m)
	if !engine.Compute(a.MaxIteration) {
		return mat.Translate(0, 0, 0), res, ErrNoConsensus
	}
	best := engine.Coefficients().(*correspondenceCoefficients)
	res.Inliers = best.Evaluate()
	res.Scored = len(m.score)

	for i, p := range source {
		source[i] = best.trans.TransformAffine(p)
	}
	return best.trans, res, nil
}

// scoreSubset picks evenly spaced points so every candidate is scored
// against the same deterministic subset.
func scoreSubset(source pc.Vec3Slice, n int) []mat.Vec3 {
	if n <= 0 || n >= len(source) {
		return source
	}
	out := make([]mat.Vec3, 0, n)
	stride := len(source) / n
	for i := 0; i < len(source) && len(out) < n; i += stride {
		out = append(out, source[i])
	}
	return out
}

// seededSampler replaces the engine's default sampler so repeated runs
// with the same seed draw the same candidates.
type seededSampler struct {
	n   int
	rnd *rand.Rand
}

func (s *seededSampler) Sample() int {
	return s.rnd.Intn(s.n)
}

type correspondenceModel struct {
	target    pc.Vec3RandomAccessor
	kdt       storage.Search
	source    pc.Vec3Slice
	srcSigs   []feature.Signature
	tgtSigs   []feature.Signature
	score     []mat.Vec3
	threshold float32
}

func (m *correspondenceModel) NumRange() (int, int) {
	return sampleSize, sampleSize
}

func (m *correspondenceModel) Fit(ids []int) (sac.ModelCoefficients, bool) {
	if len(ids) < sampleSize || ids[0] == ids[1] || ids[1] == ids[2] || ids[0] == ids[2] {
		return nil, false
	}
	src := make([]mat.Vec3, 0, sampleSize)
	dst := make([]mat.Vec3, 0, sampleSize)
	for _, id := range ids {
		match := m.matchSignature(&m.srcSigs[id])
		src = append(src, m.source[id])
		dst = append(dst, m.target.Vec3At(match))
	}
	trans, err := registration.EstimateRigid(src, dst)
	if err != nil {
		return nil, false
	}
	return &correspondenceCoefficients{model: m, trans: trans}, true
}

// matchSignature finds the target point with the most similar local
// signature by exhaustive search.
func (m *correspondenceModel) matchSignature(s *feature.Signature) int {
	best, bestD := 0, float32(0)
	for i := range m.tgtSigs {
		d := s.DistSq(&m.tgtSigs[i])
		if i == 0 || d < bestD {
			best, bestD = i, d
		}
	}
	return best
}

type correspondenceCoefficients struct {
	model *correspondenceModel
	trans mat.Mat4

	evaluated bool
	inliers   int
}

func (c *correspondenceCoefficients) Evaluate() int {
	if !c.evaluated {
		c.inliers = 0
		for _, p := range c.model.score {
			if c.IsIn(p, c.model.threshold) {
				c.inliers++
			}
		}
		c.evaluated = true
	}
	return c.inliers
}

func (c *correspondenceCoefficients) Inliers(threshold float32) []int {
	var out []int
	for i, p := range c.model.source {
		if c.IsIn(p, threshold) {
			out = append(out, i)
		}
	}
	return out
}

func (c *correspondenceCoefficients) IsIn(p mat.Vec3, threshold float32) bool {
	return c.model.kdt.Nearest(c.trans.TransformAffine(p), threshold).ID >= 0
}
