// Package pcutil provides point cloud buffer helpers shared by the
// pipeline stages.
package pcutil

import (
	"math"

	"github.com/pkg/errors"
	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
)

// NewXYZ returns a point cloud with packed float32 x, y, z fields and
// space for n points.
func NewXYZ(n int) *pc.PointCloud {
	pp := &pc.PointCloud{
		PointCloudHeader: pc.PointCloudHeader{
			Version:   0.7,
			Fields:    []string{"x", "y", "z"},
			Size:      []int{4, 4, 4},
			Type:      []string{"F", "F", "F"},
			Count:     []int{1, 1, 1},
			Viewpoint: []float32{0, 0, 0, 1, 0, 0, 0},
			Width:     n,
			Height:    1,
		},
		Points: n,
	}
	pp.Data = make([]byte, n*pp.Stride())
	return pp
}

// IsXYZ reports whether pp already has the plain x, y, z layout.
func IsXYZ(pp *pc.PointCloud) bool {
	return len(pp.Fields) == 3 &&
		pp.Fields[0] == "x" && pp.Fields[1] == "y" && pp.Fields[2] == "z" &&
		pp.Count[0] == 1 && pp.Count[1] == 1 && pp.Count[2] == 1 &&
		pp.Size[0] == 4 && pp.Size[1] == 4 && pp.Size[2] == 4
}

// NormalizeXYZ repacks pp into the plain x, y, z layout. Extra fields are
// dropped. The input is returned as-is if it already has the layout.
func NormalizeXYZ(pp *pc.PointCloud) (*pc.PointCloud, error) {
	if IsXYZ(pp) {
		return pp, nil
	}
	if pp.Points == 0 {
		return NewXYZ(0), nil
	}
	it, err := pp.Vec3Iterator()
	if err != nil {
		return nil, errors.Wrap(err, "normalize")
	}
	pcNew := NewXYZ(pp.Points)
	pcNew.Viewpoint = pp.Viewpoint
	jt, err := pcNew.Vec3Iterator()
	if err != nil {
		return nil, errors.Wrap(err, "normalize")
	}
	for it.IsValid() && jt.IsValid() {
		jt.SetVec3(it.Vec3())
		it.Incr()
		jt.Incr()
	}
	return pcNew, nil
}

// Vec3s copies the cloud coordinates into a Vec3Slice.
func Vec3s(pp *pc.PointCloud) (pc.Vec3Slice, error) {
	if pp.Points == 0 {
		return pc.Vec3Slice{}, nil
	}
	it, err := pp.Vec3Iterator()
	if err != nil {
		return nil, err
	}
	out := make(pc.Vec3Slice, 0, pp.Points)
	for ; it.IsValid(); it.Incr() {
		out = append(out, it.Vec3())
	}
	return out, nil
}

// SetVec3s writes coordinates back into the cloud. len(ps) must equal
// the number of points.
func SetVec3s(pp *pc.PointCloud, ps pc.Vec3Slice) error {
	if len(ps) != pp.Points {
		return errors.Errorf("point count mismatch: %d != %d", len(ps), pp.Points)
	}
	if pp.Points == 0 {
		return nil
	}
	it, err := pp.Vec3Iterator()
	if err != nil {
		return err
	}
	for i := 0; it.IsValid(); it.Incr() {
		it.SetVec3(ps[i])
		i++
	}
	return nil
}

// FromVec3s builds a plain x, y, z cloud from the given coordinates.
func FromVec3s(ps pc.Vec3Slice) *pc.PointCloud {
	pp := NewXYZ(len(ps))
	if len(ps) == 0 {
		return pp
	}
	it, _ := pp.Vec3Iterator()
	for _, p := range ps {
		it.SetVec3(p)
		it.Incr()
	}
	return pp
}

// PassThrough creates a cloud keeping the points accepted by fn,
// preserving their order. Contiguous runs of kept points are copied
// in batch.
func PassThrough(pp *pc.PointCloud, fn func(i int, p mat.Vec3) bool) (*pc.PointCloud, error) {
	if pp.Points == 0 {
		return pp, nil
	}
	it, err := pp.Vec3Iterator()
	if err != nil {
		return nil, err
	}
	pcNew := &pc.PointCloud{
		PointCloudHeader: pp.PointCloudHeader.Clone(),
		Data:             make([]byte, len(pp.Data)),
		Points:           pp.Points,
	}
	var j int
	is, js, cnt := 0, 0, 0
	for i := 0; i < pp.Points; i++ {
		keep := fn(i, it.Vec3())
		it.Incr()
		if keep {
			if cnt == 0 {
				is, js = i, j
			}
			j++
			cnt++
			continue
		}
		if cnt > 0 {
			pc.Copy(pcNew, js, pp, is, cnt)
			cnt = 0
		}
	}
	if cnt > 0 {
		pc.Copy(pcNew, js, pp, is, cnt)
	}
	pcNew.Points = j
	pcNew.Width = j
	pcNew.Height = 1
	pcNew.Data = pcNew.Data[: j*pcNew.Stride() : j*pcNew.Stride()]
	return pcNew, nil
}

// Merge returns a new cloud appending b after a. Both clouds must have
// the same field layout.
func Merge(a, b *pc.PointCloud) (*pc.PointCloud, error) {
	if a.Stride() != b.Stride() {
		return nil, errors.Errorf("field layout mismatch: stride %d != %d", a.Stride(), b.Stride())
	}
	pcNew := &pc.PointCloud{
		PointCloudHeader: a.PointCloudHeader.Clone(),
		Points:           a.Points + b.Points,
	}
	data := make([]byte, 0, len(a.Data)+len(b.Data))
	data = append(data, a.Data[:a.Stride()*a.Points]...)
	data = append(data, b.Data[:b.Stride()*b.Points]...)
	pcNew.Data = data
	pcNew.Width = pcNew.Points
	pcNew.Height = 1
	return pcNew, nil
}

// IsFinite reports whether all components of p are finite numbers.
func IsFinite(p mat.Vec3) bool {
	for _, v := range p {
		f := float64(v)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}
