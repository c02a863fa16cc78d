// Package voxel wraps pcgol's voxel grid downsampler with leaf size
// validation. Points of an occupied cubic cell are replaced by their
// centroid.
package voxel

import (
	"github.com/pkg/errors"
	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
	"github.com/seqsense/pcgol/pc/filter"
	"github.com/seqsense/pcgol/pc/filter/voxelgrid"
)

// ErrInvalidLeafSize is returned for a non-positive voxel edge length.
var ErrInvalidLeafSize = errors.New("voxel leaf size must be positive")

type voxelFilter struct {
	inner filter.Filter
}

// New creates a voxel grid downsampler with cubic cells of the given
// edge length.
func New(leafSize float32) (filter.Filter, error) {
	if !(leafSize > 0) {
		return nil, errors.Wrapf(ErrInvalidLeafSize, "leafSize=%f", leafSize)
	}
	return &voxelFilter{
		inner: voxelgrid.New(mat.Vec3{leafSize, leafSize, leafSize}),
	}, nil
}

func (f *voxelFilter) Filter(pp *pc.PointCloud) (*pc.PointCloud, error) {
	if pp.Points == 0 {
		return pp, nil
	}
	it, err := pp.Vec3Iterator()
	if err != nil {
		return nil, err
	}
	min, _, err := pc.MinMaxVec3(it)
	if err != nil {
		return nil, err
	}
	// The grid indexes cells from the coordinate origin; negative
	// coordinates must be shifted into the positive octant first.
	var offset mat.Vec3
	for a := 0; a < 3; a++ {
		if min[a] < 0 {
			offset[a] = -min[a]
		}
	}
	if offset == (mat.Vec3{}) {
		return f.inner.Filter(pp)
	}
	shifted, err := translated(pp, offset)
	if err != nil {
		return nil, err
	}
	out, err := f.inner.Filter(shifted)
	if err != nil {
		return nil, err
	}
	return translated(out, offset.Mul(-1))
}

// translated returns a copy of the cloud moved by offset.
func translated(pp *pc.PointCloud, offset mat.Vec3) (*pc.PointCloud, error) {
	out := &pc.PointCloud{
		PointCloudHeader: pp.PointCloudHeader.Clone(),
		Points:           pp.Points,
		Data:             append([]byte(nil), pp.Data...),
	}
	if out.Points == 0 {
		return out, nil
	}
	it, err := out.Vec3Iterator()
	if err != nil {
		return nil, err
	}
	for ; it.IsValid(); it.Incr() {
		it.SetVec3(it.Vec3().Add(offset))
	}
	return out, nil
}
