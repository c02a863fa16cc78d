// Package feature computes per-point surface normals and compact local
// shape signatures used to find correspondences between clouds without
// a prior alignment.
package feature

import (
	"math"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
	gmat "gonum.org/v1/gonum/mat"

	"github.com/seqsense/pcdfuse/storage/knn"
)

// ErrShortCloud is returned when the cloud has no more points than the
// requested neighborhood size.
var ErrShortCloud = errors.New("cloud must be larger than the neighborhood size")

// Signature layout: three angular pair features, each binned into
// SignatureBins buckets.
const (
	SignatureBins = 11
	SignatureSize = 3 * SignatureBins
)

// Signature is a rotation and translation invariant histogram of the
// angular relations between a point's normal and its neighborhood.
type Signature [SignatureSize]float32

// DistSq returns the squared L2 distance between two signatures.
func (s *Signature) DistSq(o *Signature) float32 {
	var sum float32
	for i := range s {
		d := s[i] - o[i]
		sum += d * d
	}
	return sum
}

// Normals estimates a unit surface normal for every point from the
// covariance of its k nearest neighbors, oriented toward the origin
// (the sensor viewpoint). Degenerate neighborhoods yield a zero normal.
func Normals(ra pc.Vec3RandomAccessor, k int) ([]mat.Vec3, error) {
	if k < 3 {
		return nil, errors.Errorf("normal estimation requires k >= 3, got %d", k)
	}
	if ra.Len() <= k {
		return nil, errors.Wrapf(ErrShortCloud, "%d points, k=%d", ra.Len(), k)
	}
	ix := knn.New(ra)
	normals := make([]mat.Vec3, ra.Len())
	parallelFor(ra.Len(), func(begin, end int) {
		for i := begin; i < end; i++ {
			normals[i] = normalAt(ix, ra, i, k)
		}
	})
	return normals, nil
}

func normalAt(ix *knn.Index, ra pc.Vec3RandomAccessor, i, k int) mat.Vec3 {
	p := ra.Vec3At(i)
	ns := ix.Search(p, k+1)

	var centroid [3]float64
	pts := make([][3]float64, 0, len(ns))
	for _, n := range ns {
		v := ra.Vec3At(n.ID)
		q := [3]float64{float64(v[0]), float64(v[1]), float64(v[2])}
		for a := 0; a < 3; a++ {
			centroid[a] += q[a]
		}
		pts = append(pts, q)
	}
	inv := 1 / float64(len(pts))
	for a := 0; a < 3; a++ {
		centroid[a] *= inv
	}

	var cov [6]float64 // xx, xy, xz, yy, yz, zz
	for _, q := range pts {
		dx, dy, dz := q[0]-centroid[0], q[1]-centroid[1], q[2]-centroid[2]
		cov[0] += dx * dx
		cov[1] += dx * dy
		cov[2] += dx * dz
		cov[3] += dy * dy
		cov[4] += dy * dz
		cov[5] += dz * dz
	}
	if cov[0]+cov[3]+cov[5] < 1e-12 {
		return mat.Vec3{}
	}

	sym := gmat.NewSymDense(3, []float64{
		cov[0], cov[1], cov[2],
		cov[1], cov[3], cov[4],
		cov[2], cov[4], cov[5],
	})
	var es gmat.EigenSym
	if !es.Factorize(sym, true) {
		return mat.Vec3{}
	}
	var vecs gmat.Dense
	es.VectorsTo(&vecs)
	// Eigenvalues are ascending; the smallest spread direction is the
	// surface normal.
	n := mat.Vec3{
		float32(vecs.At(0, 0)),
		float32(vecs.At(1, 0)),
		float32(vecs.At(2, 0)),
	}
	if n.NormSq() == 0 {
		return mat.Vec3{}
	}
	n = n.Normalized()
	// Orient toward the viewpoint at the origin.
	if n.Dot(p.Mul(-1)) < 0 {
		n = n.Mul(-1)
	}
	return n
}

// Signatures computes the local signature of every point over its k
// nearest neighbors. k must be strictly larger than the neighborhood
// used for normal estimation so that each histogram sees normals beyond
// its own support region.
func Signatures(ra pc.Vec3RandomAccessor, normals []mat.Vec3, k int) ([]Signature, error) {
	if ra.Len() != len(normals) {
		return nil, errors.Errorf("normals length mismatch: %d != %d", len(normals), ra.Len())
	}
	if ra.Len() <= k {
		return nil, errors.Wrapf(ErrShortCloud, "%d points, k=%d", ra.Len(), k)
	}
	ix := knn.New(ra)
	sigs := make([]Signature, ra.Len())
	parallelFor(ra.Len(), func(begin, end int) {
		for i := begin; i < end; i++ {
			sigs[i] = signatureAt(ix, ra, normals, i, k)
		}
	})
	return sigs, nil
}

func signatureAt(ix *knn.Index, ra pc.Vec3RandomAccessor, normals []mat.Vec3, i, k int) Signature {
	var sig Signature
	p := ra.Vec3At(i)
	u := normals[i]
	ns := ix.Search(p, k+1)

	var cnt int
	for _, n := range ns {
		if n.ID == i {
			continue
		}
		f1, f2, f3, ok := pairFeatures(p, u, ra.Vec3At(n.ID), normals[n.ID])
		if !ok {
			continue
		}
		sig[0*SignatureBins+bin(f1, -1, 1)]++
		sig[1*SignatureBins+bin(f2, -1, 1)]++
		sig[2*SignatureBins+bin(f3, -math.Pi, math.Pi)]++
		cnt++
	}
	if cnt > 0 {
		inv := 1 / float32(cnt)
		for j := range sig {
			sig[j] *= inv
		}
	}
	return sig
}

// pairFeatures returns the Darboux frame angles between the source
// point/normal and a neighbor point/normal.
func pairFeatures(ps, ns, pt, nt mat.Vec3) (f1, f2, f3 float64, ok bool) {
	d := pt.Sub(ps)
	dist := d.Norm()
	if dist == 0 || ns.NormSq() == 0 || nt.NormSq() == 0 {
		return 0, 0, 0, false
	}
	dn := d.Mul(1 / dist)

	v := dn.Cross(ns)
	if v.NormSq() < 1e-12 {
		return 0, 0, 0, false
	}
	v = v.Normalized()
	w := ns.Cross(v)

	f1 = float64(v.Dot(nt))
	f2 = float64(ns.Dot(dn))
	f3 = math.Atan2(float64(w.Dot(nt)), float64(ns.Dot(nt)))
	return f1, f2, f3, true
}

func bin(v, min, max float64) int {
	b := int((v - min) / (max - min) * SignatureBins)
	if b < 0 {
		return 0
	}
	if b >= SignatureBins {
		return SignatureBins - 1
	}
	return b
}

// parallelFor runs fn over chunked index ranges. Chunks are disjoint
// and results are written by index, keeping the output deterministic.
func parallelFor(n int, fn func(begin, end int)) {
	workers := runtime.GOMAXPROCS(0)
	if workers > n {
		workers = n
	}
	if workers <= 1 {
		fn(0, n)
		return
	}
	chunk := (n + workers - 1) / workers
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		begin := w * chunk
		end := begin + chunk
		if begin >= n {
			break
		}
		if end > n {
			end = n
		}
		wg.Add(1)
		go func(begin, end int) {
			defer wg.Done()
			fn(begin, end)
		}(begin, end)
	}
	wg.Wait()
}
