// Package knn provides k-nearest-neighbor queries over point cloud
// coordinates. pcgol's kd-tree answers single-nearest queries only, so
// multi-neighbor searches are backed by gonum's spatial index.
package knn

import (
	"sort"

	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// Neighbor is a single query result.
type Neighbor struct {
	ID     int
	DistSq float32
}

type point struct {
	pos [3]float64
	id  int
}

func (p point) Compare(c kdtree.Comparable, d kdtree.Dim) float64 {
	q := c.(point)
	return p.pos[d] - q.pos[d]
}

func (p point) Dims() int { return 3 }

func (p point) Distance(c kdtree.Comparable) float64 {
	q := c.(point)
	var sum float64
	for i, v := range p.pos {
		d := v - q.pos[i]
		sum += d * d
	}
	return sum
}

type points []point

func (p points) Index(i int) kdtree.Comparable { return p[i] }
func (p points) Len() int                      { return len(p) }
func (p points) Pivot(d kdtree.Dim) int        { return plane{points: p, Dim: d}.Pivot() }
func (p points) Slice(start, end int) kdtree.Interface {
	return p[start:end]
}

type plane struct {
	kdtree.Dim
	points
}

func (p plane) Less(i, j int) bool { return p.points[i].pos[p.Dim] < p.points[j].pos[p.Dim] }
func (p plane) Pivot() int         { return kdtree.Partition(p, kdtree.MedianOfMedians(p)) }
func (p plane) Slice(start, end int) kdtree.SortSlicer {
	p.points = p.points[start:end]
	return p
}
func (p plane) Swap(i, j int) {
	p.points[i], p.points[j] = p.points[j], p.points[i]
}

// Index answers k-nearest-neighbor queries over a fixed point set.
type Index struct {
	tree *kdtree.Tree
}

// New builds an index over the given points.
func New(ra pc.Vec3RandomAccessor) *Index {
	ps := make(points, ra.Len())
	for i := 0; i < ra.Len(); i++ {
		v := ra.Vec3At(i)
		ps[i] = point{
			pos: [3]float64{float64(v[0]), float64(v[1]), float64(v[2])},
			id:  i,
		}
	}
	return &Index{tree: kdtree.New(ps, false)}
}

// Search returns up to k neighbors of p ordered by increasing distance.
// A query point contained in the set is returned as its own neighbor at
// distance zero.
func (ix *Index) Search(p mat.Vec3, k int) []Neighbor {
	if k < 1 {
		return nil
	}
	q := point{pos: [3]float64{float64(p[0]), float64(p[1]), float64(p[2])}, id: -1}
	keep := kdtree.NewNKeeper(k)
	ix.tree.NearestSet(keep, q)

	out := make([]Neighbor, 0, k)
	for _, c := range keep.Heap {
		if c.Comparable == nil {
			continue
		}
		out = append(out, Neighbor{
			ID:     c.Comparable.(point).id,
			DistSq: float32(c.Dist),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DistSq != out[j].DistSq {
			return out[i].DistSq < out[j].DistSq
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Nearest returns the closest point and its squared distance, or
// (-1, 0) for an empty index.
func (ix *Index) Nearest(p mat.Vec3) (int, float32) {
	q := point{pos: [3]float64{float64(p[0]), float64(p[1]), float64(p[2])}, id: -1}
	c, dist := ix.tree.Nearest(q)
	if c == nil {
		return -1, 0
	}
	return c.(point).id, float32(dist)
}
