package feature

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
)

func planeGrid(n int, z float32) pc.Vec3Slice {
	ps := make(pc.Vec3Slice, 0, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			ps = append(ps, mat.Vec3{float32(i) * 0.1, float32(j) * 0.1, z})
		}
	}
	return ps
}

func TestNormals_Plane(t *testing.T) {
	ps := planeGrid(15, 1)
	normals, err := Normals(ps, 8)
	if err != nil {
		t.Fatal(err)
	}
	if len(normals) != len(ps) {
		t.Fatalf("Wrong number of normals, expected: %d, got: %d", len(ps), len(normals))
	}
	// Every normal must be the plane normal, oriented toward the origin.
	expected := mat.Vec3{0, 0, -1}
	for i, n := range normals {
		if n.Sub(expected).Norm() > 1e-3 {
			t.Fatalf("Expected normal %d: %v, got: %v", i, expected, n)
		}
	}
}

func TestNormals_ShortCloud(t *testing.T) {
	ps := pc.Vec3Slice{{0, 0, 0}, {1, 0, 0}, {0, 1, 0}}
	if _, err := Normals(ps, 8); !errors.Is(err, ErrShortCloud) {
		t.Errorf("Expected ErrShortCloud, got: %v", err)
	}
	if _, err := Normals(ps, 2); err == nil {
		t.Error("Expected error for k < 3")
	}
}

func randomSurface(n int, seed int64) pc.Vec3Slice {
	rnd := rand.New(rand.NewSource(seed))
	ps := make(pc.Vec3Slice, 0, n)
	for i := 0; i < n; i++ {
		// Curved surface z = f(x, y) to get non-degenerate signatures.
		x, y := rnd.Float32()*2, rnd.Float32()*2
		z := 0.25*x*x + 0.1*x*y
		ps = append(ps, mat.Vec3{x, y, z})
	}
	return ps
}

func TestSignatures_RigidInvariance(t *testing.T) {
	const (
		normalK  = 10
		featureK = 25
	)
	ps := randomSurface(300, 7)

	normals, err := Normals(ps, normalK)
	if err != nil {
		t.Fatal(err)
	}
	sigs, err := Signatures(ps, normals, featureK)
	if err != nil {
		t.Fatal(err)
	}

	// Exact 90 degree rotation about Z plus a translation.
	trans := mat.Translate(10, -5, 3).Mul(mat.Mat4{
		0, 1, 0, 0,
		-1, 0, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
	moved := make(pc.Vec3Slice, len(ps))
	for i, p := range ps {
		moved[i] = trans.TransformAffine(p)
	}
	movedNormals, err := Normals(moved, normalK)
	if err != nil {
		t.Fatal(err)
	}
	movedSigs, err := Signatures(moved, movedNormals, featureK)
	if err != nil {
		t.Fatal(err)
	}

	var sum float64
	for i := range sigs {
		sum += math.Sqrt(float64(sigs[i].DistSq(&movedSigs[i])))
	}
	mean := sum / float64(len(sigs))
	if mean > 0.05 {
		t.Errorf("Signatures must be invariant under rigid motion, mean L2 distance: %f", mean)
	}
}

func TestSignatureDistSq(t *testing.T) {
	var a, b Signature
	a[0] = 1
	b[0] = 0.5
	b[1] = 0.5
	if d := a.DistSq(&b); math.Abs(float64(d)-0.5) > 1e-6 {
		t.Errorf("Expected distance 0.5, got: %f", d)
	}
}
