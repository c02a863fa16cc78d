package main

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/seqsense/pcgol/pc"

	"github.com/seqsense/pcdfuse/filter/passthrough"
	"github.com/seqsense/pcdfuse/pose"
)

// listScans returns the PCD files of dir sorted by the numeric index
// embedded in their name, so scan_10.pcd sorts after scan_2.pcd. Files
// without an index keep lexical order after the indexed ones. The
// output file is excluded so repeated runs do not fuse their own
// result.
func listScans(dir, exclude string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "list scans")
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pcd") {
			continue
		}
		if e.Name() == filepath.Base(exclude) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Slice(out, func(i, j int) bool {
		ii, iok := scanIndex(out[i])
		ji, jok := scanIndex(out[j])
		switch {
		case iok && jok && ii != ji:
			return ii < ji
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out, nil
}

// scanIndex extracts the trailing digit run of the file name, ignoring
// the extension.
func scanIndex(path string) (int, bool) {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	end := len(name)
	begin := end
	for begin > 0 && name[begin-1] >= '0' && name[begin-1] <= '9' {
		begin--
	}
	if begin == end {
		return 0, false
	}
	n, err := strconv.Atoi(name[begin:end])
	if err != nil {
		return 0, false
	}
	return n, true
}

// poseFileLayout describes the exported pose table: a single header
// row, a leading label column and ';' delimited fields.
const (
	poseFileDelim    = ';'
	poseFileSkipRows = 1
	poseFileSkipCols = 1
)

// relativePoses reads the pose table and returns one prior per scan,
// relative to the first scan. The raw row count must be an even
// multiple of the scan count; each group of rows is averaged.
func relativePoses(path string, nScans int) ([]pose.Pose, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "read poses")
	}
	defer f.Close()

	raw, err := pose.ReadRecords(f, poseFileDelim, poseFileSkipRows, poseFileSkipCols)
	if err != nil {
		return nil, err
	}
	if nScans < 1 || len(raw)%nScans != 0 {
		return nil, errors.Wrapf(pose.ErrUnevenRecords, "%d records for %d scans", len(raw), nScans)
	}
	ps, err := pose.Average(raw, len(raw)/nScans)
	if err != nil {
		return nil, err
	}
	out := make([]pose.Pose, len(ps))
	for i, p := range ps {
		out[i] = p.Sub(ps[0])
	}
	return out, nil
}

// identityPoses is the fallback when no usable pose file is given.
func identityPoses(n int) []pose.Pose {
	return make([]pose.Pose, n)
}

// loadScan reads one PCD file and drops non-finite points.
func loadScan(path string) (*pc.PointCloud, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "load scan")
	}
	defer f.Close()

	pp, err := pc.Unmarshal(f)
	if err != nil {
		return nil, errors.Wrapf(err, "load scan %s", path)
	}
	return passthrough.NewFinite().Filter(pp)
}

// saveCloud writes the cloud as a PCD file.
func saveCloud(path string, pp *pc.PointCloud) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "save cloud")
	}
	defer f.Close()

	if err := pc.Marshal(pp, f); err != nil {
		return errors.Wrapf(err, "save cloud %s", path)
	}
	return f.Close()
}
