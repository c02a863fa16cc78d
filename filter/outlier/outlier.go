// Package outlier implements statistical outlier removal: points whose
// mean distance to their nearest neighbors deviates too far from the
// cloud-wide distribution are discarded.
package outlier

import (
	"math"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
	"github.com/seqsense/pcgol/pc/filter"
	"gonum.org/v1/gonum/stat"

	"github.com/seqsense/pcdfuse/internal/pcutil"
	"github.com/seqsense/pcdfuse/storage/knn"
)

// ErrInvalidNeighbors is returned when the neighbor count is not smaller
// than the cloud size, or not positive.
var ErrInvalidNeighbors = errors.New("neighbor count must be positive and smaller than the cloud size")

type statisticalFilter struct {
	meanK     int
	stddevMul float64
}

// New creates a filter dropping points whose mean distance to their
// meanK nearest neighbors exceeds mean + stddevMul*stddev of all
// per-point mean distances.
func New(meanK int, stddevMul float64) filter.Filter {
	return &statisticalFilter{meanK: meanK, stddevMul: stddevMul}
}

func (f *statisticalFilter) Filter(pp *pc.PointCloud) (*pc.PointCloud, error) {
	if f.meanK < 1 || f.meanK >= pp.Points {
		return nil, errors.Wrapf(ErrInvalidNeighbors, "meanK=%d, points=%d", f.meanK, pp.Points)
	}
	ps, err := pcutil.Vec3s(pp)
	if err != nil {
		return nil, err
	}
	ix := knn.New(ps)

	dists := meanNeighborDists(ix, ps, f.meanK)
	mean, stddev := stat.MeanStdDev(dists, nil)
	thresh := mean + f.stddevMul*stddev

	return pcutil.PassThrough(pp, func(i int, _ mat.Vec3) bool {
		return dists[i] <= thresh
	})
}

// meanNeighborDists computes the mean distance from each point to its k
// nearest neighbors. Points are independent, so the computation is
// chunked across workers; results are written by index and assembly is
// deterministic.
func meanNeighborDists(ix *knn.Index, ps pc.Vec3Slice, k int) []float64 {
	dists := make([]float64, len(ps))
	workers := runtime.GOMAXPROCS(0)
	if workers > len(ps) {
		workers = len(ps)
	}
	chunk := (len(ps) + workers - 1) / workers

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		begin := w * chunk
		end := begin + chunk
		if end > len(ps) {
			end = len(ps)
		}
		wg.Add(1)
		go func(begin, end int) {
			defer wg.Done()
			for i := begin; i < end; i++ {
				ns := ix.Search(ps[i], k+1)
				var sum float64
				var cnt int
				selfSeen := false
				for _, n := range ns {
					if !selfSeen && n.ID == i {
						selfSeen = true
						continue
					}
					sum += math.Sqrt(float64(n.DistSq))
					cnt++
					if cnt == k {
						break
					}
				}
				if cnt > 0 {
					dists[i] = sum / float64(cnt)
				}
			}
		}(begin, end)
	}
	wg.Wait()
	return dists
}
