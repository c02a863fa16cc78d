// Package passthrough implements axis-aligned range clipping.
package passthrough

import (
	"github.com/pkg/errors"
	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
	"github.com/seqsense/pcgol/pc/filter"

	"github.com/seqsense/pcdfuse/internal/pcutil"
)

// Axis selects the coordinate a range filter applies to.
type Axis int

// Filterable axes.
const (
	X Axis = iota
	Y
	Z
)

// Errors returned by New.
var (
	ErrInvalidRange = errors.New("range min must not exceed max")
	ErrInvalidAxis  = errors.New("axis must be X, Y or Z")
)

type rangeFilter struct {
	axis     Axis
	min, max float32
}

// New creates a filter keeping points whose coordinate on the given axis
// lies in [min, max], preserving point order.
func New(axis Axis, min, max float32) (filter.Filter, error) {
	if axis < X || axis > Z {
		return nil, errors.Wrapf(ErrInvalidAxis, "axis=%d", axis)
	}
	if min > max {
		return nil, errors.Wrapf(ErrInvalidRange, "min=%f, max=%f", min, max)
	}
	return &rangeFilter{axis: axis, min: min, max: max}, nil
}

func (f *rangeFilter) Filter(pp *pc.PointCloud) (*pc.PointCloud, error) {
	return pcutil.PassThrough(pp, func(_ int, p mat.Vec3) bool {
		v := p[f.axis]
		return f.min <= v && v <= f.max
	})
}

type finiteFilter struct{}

// NewFinite creates a filter dropping points with NaN or infinite
// coordinates.
func NewFinite() filter.Filter {
	return finiteFilter{}
}

func (finiteFilter) Filter(pp *pc.PointCloud) (*pc.PointCloud, error) {
	return pcutil.PassThrough(pp, func(_ int, p mat.Vec3) bool {
		return pcutil.IsFinite(p)
	})
}
