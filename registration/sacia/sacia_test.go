package sacia

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"

	"github.com/seqsense/pcdfuse/registration/icp"
)

// wavySurface samples a curved sheet so normals and signatures carry
// enough shape information to match on.
func wavySurface(n int) pc.Vec3Slice {
	ps := make(pc.Vec3Slice, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			x, y := float32(i)*0.2, float32(j)*0.2
			z := float32(0.5*math.Sin(float64(x)) + 0.3*math.Cos(float64(y)*1.3))
			ps = append(ps, mat.Vec3{x, y, z})
		}
	}
	return ps
}

func newAligner(seed int64) *SACIA {
	return &SACIA{
		NormalK:         10,
		FeatureK:        25,
		InlierThreshold: 0.3,
		ScoreSamples:    100,
		MaxIteration:    40,
		Rand:            rand.New(rand.NewSource(seed)),
	}
}

func TestAlign_RecoversCoarsePose(t *testing.T) {
	target := wavySurface(20)

	disp := mat.Translate(1.5, -0.8, 0.4).Mul(mat.Rotate(0, 0, 1, 20*math.Pi/180))
	source := make(pc.Vec3Slice, len(target))
	for i, p := range target {
		source[i] = disp.TransformAffine(p)
	}

	before := icp.MeanNearestDist(target, source)
	_, res, err := newAligner(1).Align(target, source)
	if err != nil {
		t.Fatal(err)
	}
	after := icp.MeanNearestDist(target, source)

	if after >= before {
		t.Errorf("Coarse alignment must reduce the mean nearest distance, before: %f, after: %f", before, after)
	}
	if res.Inliers < res.Scored/2 {
		t.Errorf("Expected a majority consensus, inliers: %d of %d", res.Inliers, res.Scored)
	}
}

func TestAlign_Deterministic(t *testing.T) {
	target := wavySurface(15)
	disp := mat.Translate(0.7, 0.2, -0.3)

	run := func() pc.Vec3Slice {
		source := make(pc.Vec3Slice, len(target))
		for i, p := range target {
			source[i] = disp.TransformAffine(p)
		}
		if _, _, err := newAligner(42).Align(target, source); err != nil {
			t.Fatal(err)
		}
		return source
	}

	a, b := run(), run()
	for i := range a {
		if !a[i].Equal(b[i]) {
			t.Fatalf("Same seed must give identical results, point %d: %v != %v", i, a[i], b[i])
		}
	}
}

func TestAlign_InsufficientPoints(t *testing.T) {
	target := wavySurface(20)
	small := make(pc.Vec3Slice, 10)
	copy(small, target)

	if _, _, err := newAligner(1).Align(target, small); !errors.Is(err, ErrInsufficientPoints) {
		t.Errorf("Expected ErrInsufficientPoints for small source, got: %v", err)
	}
	src := make(pc.Vec3Slice, len(target))
	copy(src, target)
	if _, _, err := newAligner(1).Align(small, src); !errors.Is(err, ErrInsufficientPoints) {
		t.Errorf("Expected ErrInsufficientPoints for small target, got: %v", err)
	}
}

func TestScoreSubset(t *testing.T) {
	ps := make(pc.Vec3Slice, 100)
	for i := range ps {
		ps[i] = mat.Vec3{float32(i), 0, 0}
	}
	sub := scoreSubset(ps, 10)
	if len(sub) != 10 {
		t.Fatalf("Expected 10 samples, got: %d", len(sub))
	}
	if got := scoreSubset(ps, 0); len(got) != len(ps) {
		t.Errorf("Zero cap must score every point, got: %d", len(got))
	}
	if got := scoreSubset(ps, 1000); len(got) != len(ps) {
		t.Errorf("Oversized cap must score every point, got: %d", len(got))
	}
}
