package pcutil

import (
	"math"
	"testing"

	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
)

func TestFromVec3s_RoundTrip(t *testing.T) {
	in := pc.Vec3Slice{{1, 2, 3}, {-4, 5, -6}, {0, 0, 0}}
	pp := FromVec3s(in)
	if pp.Points != len(in) {
		t.Fatalf("Expected %d points, got: %d", len(in), pp.Points)
	}
	if !IsXYZ(pp) {
		t.Fatal("Expected plain x, y, z layout")
	}
	out, err := Vec3s(pp)
	if err != nil {
		t.Fatal(err)
	}
	for i, p := range in {
		if !out[i].Equal(p) {
			t.Errorf("Point %d changed, expected: %v, got: %v", i, p, out[i])
		}
	}
}

func TestSetVec3s(t *testing.T) {
	pp := FromVec3s(pc.Vec3Slice{{1, 1, 1}, {2, 2, 2}})
	if err := SetVec3s(pp, pc.Vec3Slice{{3, 3, 3}, {4, 4, 4}}); err != nil {
		t.Fatal(err)
	}
	out, err := Vec3s(pp)
	if err != nil {
		t.Fatal(err)
	}
	if !out[1].Equal(mat.Vec3{4, 4, 4}) {
		t.Errorf("Expected {4 4 4}, got: %v", out[1])
	}
	if err := SetVec3s(pp, pc.Vec3Slice{{0, 0, 0}}); err == nil {
		t.Error("Expected error on point count mismatch")
	}
}

func TestPassThrough(t *testing.T) {
	testCases := map[string]struct {
		in       pc.Vec3Slice
		fn       func(int, mat.Vec3) bool
		expected pc.Vec3Slice
	}{
		"KeepAll": {
			in:       pc.Vec3Slice{{1, 0, 0}, {2, 0, 0}},
			fn:       func(int, mat.Vec3) bool { return true },
			expected: pc.Vec3Slice{{1, 0, 0}, {2, 0, 0}},
		},
		"DropAll": {
			in:       pc.Vec3Slice{{1, 0, 0}, {2, 0, 0}},
			fn:       func(int, mat.Vec3) bool { return false },
			expected: pc.Vec3Slice{},
		},
		"KeepRuns": {
			in: pc.Vec3Slice{
				{0, 0, 0}, {1, 0, 0}, {2, 0, 0}, {3, 0, 0}, {4, 0, 0},
			},
			fn:       func(i int, _ mat.Vec3) bool { return i != 2 },
			expected: pc.Vec3Slice{{0, 0, 0}, {1, 0, 0}, {3, 0, 0}, {4, 0, 0}},
		},
	}
	for name, tt := range testCases {
		t.Run(name, func(t *testing.T) {
			got, err := PassThrough(FromVec3s(tt.in), tt.fn)
			if err != nil {
				t.Fatal(err)
			}
			if got.Points != len(tt.expected) {
				t.Fatalf("Expected %d points, got: %d", len(tt.expected), got.Points)
			}
			ps, err := Vec3s(got)
			if err != nil {
				t.Fatal(err)
			}
			for i, p := range tt.expected {
				if !ps[i].Equal(p) {
					t.Errorf("Point %d, expected: %v, got: %v", i, p, ps[i])
				}
			}
		})
	}
}

func TestMerge(t *testing.T) {
	a := FromVec3s(pc.Vec3Slice{{1, 0, 0}, {2, 0, 0}})
	b := FromVec3s(pc.Vec3Slice{{3, 0, 0}})
	got, err := Merge(a, b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Points != 3 {
		t.Fatalf("Expected 3 points, got: %d", got.Points)
	}
	ps, err := Vec3s(got)
	if err != nil {
		t.Fatal(err)
	}
	if !ps[2].Equal(mat.Vec3{3, 0, 0}) {
		t.Errorf("Expected {3 0 0}, got: %v", ps[2])
	}
	// Inputs must stay untouched.
	if a.Points != 2 || b.Points != 1 {
		t.Error("Merge must not modify its inputs")
	}
}

func TestEmptyClouds(t *testing.T) {
	empty := FromVec3s(nil)
	if empty.Points != 0 {
		t.Fatalf("Expected empty cloud, got: %d points", empty.Points)
	}

	ps, err := Vec3s(empty)
	if err != nil {
		t.Fatal(err)
	}
	if len(ps) != 0 {
		t.Errorf("Expected no coordinates, got: %d", len(ps))
	}

	out, err := PassThrough(empty, func(int, mat.Vec3) bool { return true })
	if err != nil {
		t.Fatal(err)
	}
	if out.Points != 0 {
		t.Errorf("Expected empty output, got: %d points", out.Points)
	}

	norm, err := NormalizeXYZ(empty)
	if err != nil {
		t.Fatal(err)
	}
	if norm.Points != 0 {
		t.Errorf("Expected empty output, got: %d points", norm.Points)
	}

	if err := SetVec3s(empty, nil); err != nil {
		t.Errorf("Expected no error writing zero points, got: %v", err)
	}
}

func TestIsFinite(t *testing.T) {
	if !IsFinite(mat.Vec3{1, 2, 3}) {
		t.Error("Expected finite")
	}
	if IsFinite(mat.Vec3{float32(math.NaN()), 0, 0}) {
		t.Error("Expected NaN to be non-finite")
	}
	if IsFinite(mat.Vec3{0, float32(math.Inf(1)), 0}) {
		t.Error("Expected Inf to be non-finite")
	}
}
