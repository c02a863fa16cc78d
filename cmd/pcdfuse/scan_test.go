package main

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seqsense/pcdfuse/internal/pcutil"
	"github.com/seqsense/pcdfuse/pose"
)

func TestScanIndex(t *testing.T) {
	testCases := map[string]struct {
		path string
		n    int
		ok   bool
	}{
		"Simple":    {"scan_12.pcd", 12, true},
		"NoIndex":   {"scan.pcd", 0, false},
		"DirIgnore": {"dir7/scan_3.pcd", 3, true},
		"LeadZero":  {"scan_007.pcd", 7, true},
		"MidDigits": {"scan12_final.pcd", 0, false},
	}
	for name, tt := range testCases {
		t.Run(name, func(t *testing.T) {
			n, ok := scanIndex(tt.path)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.n, n)
		})
	}
}

func TestListScans(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"scan_10.pcd", "scan_2.pcd", "scan_1.pcd",
		"fused.pcd", "notes.txt", "extra.PCD",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.pcd"), 0o755))

	files, err := listScans(dir, "fused.pcd")
	require.NoError(t, err)

	names := make([]string, len(files))
	for i, f := range files {
		names[i] = filepath.Base(f)
	}
	// Indexed files first, numerically; unindexed after, lexically.
	assert.Equal(t, []string{"scan_1.pcd", "scan_2.pcd", "scan_10.pcd", "extra.PCD"}, names)
}

func TestRelativePoses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poses.csv")
	// Header row, label column, two rows per scan, ';' delimited.
	content := "id;rotx;roty;rotz;dx;dy;dz\n" +
		"a;0;0;0.25;1;2;3\n" +
		"b;0;0;0.75;3;2;1\n" +
		"c;0;0;1.25;5;4;3\n" +
		"d;0;0;1.75;7;4;5\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	ps, err := relativePoses(path, 2)
	require.NoError(t, err)
	require.Len(t, ps, 2)

	// First scan is the reference.
	assert.True(t, ps[0].IsZero())
	// Second scan: averaged (1.5, 6, 4, 4) minus averaged (0.5, 2, 2, 2).
	assert.Equal(t, pose.Pose{RotZ: 1, DX: 4, DY: 2, DZ: 2}, ps[1])
}

func TestRelativePoses_Uneven(t *testing.T) {
	path := filepath.Join(t.TempDir(), "poses.csv")
	content := "id;rotx;roty;rotz;dx;dy;dz\n" +
		"a;0;0;0;1;2;3\n" +
		"b;0;0;0;3;2;1\n" +
		"c;0;0;0;5;4;3\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	_, err := relativePoses(path, 2)
	assert.ErrorIs(t, err, pose.ErrUnevenRecords)
}

func TestIdentityPoses(t *testing.T) {
	ps := identityPoses(3)
	require.Len(t, ps, 3)
	for _, p := range ps {
		assert.True(t, p.IsZero())
	}
}

func TestLoadSaveCloud(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloud.pcd")
	src := pcutil.FromVec3s(pc.Vec3Slice{
		{0, 0, 0}, {1, 2, 3}, {-1, 0.5, 2},
	})
	require.NoError(t, saveCloud(path, src))

	got, err := loadScan(path)
	require.NoError(t, err)
	assert.Equal(t, src.Points, got.Points)

	ps, err := pcutil.Vec3s(got)
	require.NoError(t, err)
	assert.Equal(t, mat.Vec3{1, 2, 3}, ps[1])
}

func TestLoadScan_DropsNonFinite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cloud.pcd")
	src := pcutil.FromVec3s(pc.Vec3Slice{
		{0, 0, 0},
		{float32(math.NaN()), 0, 0},
		{1, 1, 1},
	})
	require.NoError(t, saveCloud(path, src))

	got, err := loadScan(path)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Points)
}
