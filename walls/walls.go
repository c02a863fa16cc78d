// Package walls extracts planar wall segments from a batch of scans.
// Scans are processed independently by a worker pool; each worker
// clips its scan to the vertical band, keeps the lateral margins where
// walls live, removes outliers and fits a consensus plane per
// horizontal slab. The per-scan partial clouds are merged in scan
// order and compacted once, so the result is independent of worker
// scheduling.
package walls

import (
	"context"
	"math"
	"math/rand"
	"runtime"

	"github.com/pkg/errors"
	"github.com/seqsense/pcgol/mat"
	"github.com/seqsense/pcgol/pc"
	"github.com/seqsense/pcgol/pc/sac"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seqsense/pcdfuse/filter/outlier"
	"github.com/seqsense/pcdfuse/filter/passthrough"
	"github.com/seqsense/pcdfuse/filter/voxel"
	"github.com/seqsense/pcdfuse/internal/pcutil"
)

// Errors of Extract.
var (
	ErrNoWalls       = errors.New("no wall segments found")
	ErrInvalidConfig = errors.New("invalid wall extraction configuration")
)

// maxNormalZ rejects plane candidates that are not near-vertical.
const maxNormalZ = 0.3

// Config holds the extraction parameters. Distances are in the unit of
// the input clouds.
type Config struct {
	// Workers bounds the pool size. Zero uses GOMAXPROCS.
	Workers int `yaml:"workers"`
	// ZMin, ZMax clip each scan before segmentation.
	ZMin float32 `yaml:"zMin"`
	ZMax float32 `yaml:"zMax"`
	// BandRatio keeps points whose lateral offset from the scan center
	// exceeds this fraction of the half extent, where walls live.
	BandRatio float32 `yaml:"bandRatio"`
	// SlabHeight is the vertical extent of one segmentation slab.
	SlabHeight float32 `yaml:"slabHeight"`

	// OutlierNeighbors, OutlierDev parameterize per-slab cleanup.
	OutlierNeighbors int     `yaml:"outlierNeighbors"`
	OutlierDev       float64 `yaml:"outlierDev"`

	// PlaneIterations is the number of plane candidates per slab.
	PlaneIterations int `yaml:"planeIterations"`
	// PlaneThreshold is the inlier distance to the fitted plane.
	PlaneThreshold float32 `yaml:"planeThreshold"`
	// MinInliers discards slab fits with fewer supporting points.
	MinInliers int `yaml:"minInliers"`

	// LeafSize is the voxel edge of the final compaction.
	LeafSize float32 `yaml:"leafSize"`
	// Seed drives plane sampling; per scan and slab offsets keep the
	// batch reproducible regardless of scheduling.
	Seed int64 `yaml:"seed"`
}

// DefaultConfig returns parameters tuned for millimeter-unit indoor
// scans.
func DefaultConfig() Config {
	return Config{
		ZMin:             0,
		ZMax:             10000,
		BandRatio:        0.5,
		SlabHeight:       1000,
		OutlierNeighbors: 50,
		OutlierDev:       1,
		PlaneIterations:  50,
		PlaneThreshold:   50,
		MinInliers:       30,
		LeafSize:         100,
		Seed:             1,
	}
}

// Extract runs the wall pipeline over all clouds and returns the merged
// wall cloud. Per-scan failures are folded into the returned error but
// do not abort the batch; the cloud is non-nil whenever at least one
// scan succeeded.
func Extract(ctx context.Context, clouds []*pc.PointCloud, cfg Config, log *zap.SugaredLogger) (*pc.PointCloud, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	switch {
	case !(cfg.SlabHeight > 0):
		return nil, errors.Wrapf(ErrInvalidConfig, "slabHeight=%f", cfg.SlabHeight)
	case !(cfg.LeafSize > 0):
		return nil, errors.Wrapf(ErrInvalidConfig, "leafSize=%f", cfg.LeafSize)
	case cfg.ZMin > cfg.ZMax:
		return nil, errors.Wrapf(ErrInvalidConfig, "zMin=%f > zMax=%f", cfg.ZMin, cfg.ZMax)
	case cfg.BandRatio < 0 || cfg.BandRatio >= 1:
		return nil, errors.Wrapf(ErrInvalidConfig, "bandRatio=%f", cfg.BandRatio)
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	partials := make([]*pc.PointCloud, len(clouds))
	scanErrs := make([]error, len(clouds))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, cloud := range clouds {
		i, cloud := i, cloud
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			out, err := extractScan(cloud, cfg, cfg.Seed+int64(i))
			if err != nil {
				log.Warnw("scan skipped", "scan", i, "reason", err)
				scanErrs[i] = errors.Wrapf(err, "scan %d", i)
				return nil
			}
			partials[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var errs error
	for _, err := range scanErrs {
		errs = multierr.Append(errs, err)
	}

	// Fold the partial clouds in scan order.
	var merged *pc.PointCloud
	for _, p := range partials {
		if p == nil || p.Points == 0 {
			continue
		}
		if merged == nil {
			merged = p
			continue
		}
		var err error
		merged, err = pcutil.Merge(merged, p)
		if err != nil {
			return nil, multierr.Append(errs, err)
		}
	}
	if merged == nil {
		return nil, multierr.Append(errs, ErrNoWalls)
	}

	f, err := voxel.New(cfg.LeafSize)
	if err != nil {
		return nil, multierr.Append(errs, err)
	}
	merged, err = f.Filter(merged)
	if err != nil {
		return nil, multierr.Append(errs, err)
	}
	log.Debugw("walls extracted", "scans", len(clouds), "points", merged.Points)
	return merged, errs
}

// extractScan returns the wall points of a single scan.
func extractScan(cloud *pc.PointCloud, cfg Config, seed int64) (*pc.PointCloud, error) {
	pp, err := pcutil.NormalizeXYZ(cloud)
	if err != nil {
		return nil, err
	}
	zClip, err := passthrough.New(passthrough.Z, cfg.ZMin, cfg.ZMax)
	if err != nil {
		return nil, err
	}
	pp, err = zClip.Filter(pp)
	if err != nil {
		return nil, err
	}
	if pp.Points == 0 {
		return nil, errors.New("empty after clipping")
	}

	pp, err = lateralBands(pp, cfg.BandRatio)
	if err != nil {
		return nil, err
	}

	if pp.Points > cfg.OutlierNeighbors {
		pp, err = outlier.New(cfg.OutlierNeighbors, cfg.OutlierDev).Filter(pp)
		if err != nil {
			return nil, err
		}
	}

	ps, err := pcutil.Vec3s(pp)
	if err != nil {
		return nil, err
	}

	// Consensus plane per horizontal slab; keep the inliers.
	var walls pc.Vec3Slice
	for slab, lo := 0, cfg.ZMin; lo < cfg.ZMax; lo += cfg.SlabHeight {
		hi := lo + cfg.SlabHeight
		var slabPts pc.Vec3Slice
		for _, p := range ps {
			if lo <= p[2] && p[2] < hi {
				slabPts = append(slabPts, p)
			}
		}
		if len(slabPts) >= cfg.MinInliers {
			walls = append(walls, fitSlab(slabPts, cfg, seed+int64(slab))...)
		}
		slab++
	}
	if len(walls) == 0 {
		return nil, errors.New("no planar support in any slab")
	}
	return pcutil.FromVec3s(walls), nil
}

// lateralBands keeps the margins of the scan footprint. Walls sit away
// from the center, so points within BandRatio of the footprint midpoint
// on both lateral axes are dropped.
func lateralBands(pp *pc.PointCloud, ratio float32) (*pc.PointCloud, error) {
	it, err := pp.Vec3Iterator()
	if err != nil {
		return nil, err
	}
	min, max, err := pc.MinMaxVec3(it)
	if err != nil {
		return nil, err
	}
	var mid, half mat.Vec3
	for a := 0; a < 2; a++ {
		mid[a] = (min[a] + max[a]) / 2
		half[a] = (max[a] - min[a]) / 2
	}
	return pcutil.PassThrough(pp, func(_ int, p mat.Vec3) bool {
		dx := float32(math.Abs(float64(p[0] - mid[0])))
		dy := float32(math.Abs(float64(p[1] - mid[1])))
		return dx > ratio*half[0] || dy > ratio*half[1]
	})
}

// fitSlab runs the consensus plane fit over one slab and returns its
// inliers. Slabs without a well-supported vertical plane contribute
// nothing.
func fitSlab(ps pc.Vec3Slice, cfg Config, seed int64) pc.Vec3Slice {
	m := &planeModel{ps: ps, threshold: cfg.PlaneThreshold}
	engine := sac.New(&seededSampler{n: len(ps), rnd: rand.New(rand.NewSource(seed))}, m)
	if !engine.Compute(cfg.PlaneIterations) {
		return nil
	}
	coeff := engine.Coefficients()
	if coeff.Evaluate() < cfg.MinInliers {
		return nil
	}
	ids := coeff.Inliers(cfg.PlaneThreshold)
	out := make(pc.Vec3Slice, 0, len(ids))
	for _, id := range ids {
		out = append(out, ps[id])
	}
	return out
}

type seededSampler struct {
	n   int
	rnd *rand.Rand
}

func (s *seededSampler) Sample() int {
	return s.rnd.Intn(s.n)
}

// planeModel fits a near-vertical plane to three sampled points.
type planeModel struct {
	ps        pc.Vec3Slice
	threshold float32
}

func (m *planeModel) NumRange() (int, int) {
	return 3, 3
}

func (m *planeModel) Fit(ids []int) (sac.ModelCoefficients, bool) {
	if len(ids) < 3 || ids[0] == ids[1] || ids[1] == ids[2] || ids[0] == ids[2] {
		return nil, false
	}
	p0, p1, p2 := m.ps[ids[0]], m.ps[ids[1]], m.ps[ids[2]]
	n := p1.Sub(p0).Cross(p2.Sub(p0))
	if n.NormSq() < 1e-12 {
		return nil, false
	}
	n = n.Normalized()
	if float32(math.Abs(float64(n[2]))) > maxNormalZ {
		return nil, false
	}
	return &planeCoefficients{model: m, normal: n, d: -n.Dot(p0)}, true
}

type planeCoefficients struct {
	model  *planeModel
	normal mat.Vec3
	d      float32

	evaluated bool
	inliers   int
}

func (c *planeCoefficients) Evaluate() int {
	if !c.evaluated {
		c.inliers = len(c.Inliers(c.model.threshold))
		c.evaluated = true
	}
	return c.inliers
}

func (c *planeCoefficients) Inliers(threshold float32) []int {
	var out []int
	for i, p := range c.model.ps {
		if c.IsIn(p, threshold) {
			out = append(out, i)
		}
	}
	return out
}

func (c *planeCoefficients) IsIn(p mat.Vec3, threshold float32) bool {
	d := c.normal.Dot(p) + c.d
	if d < 0 {
		d = -d
	}
	return d <= threshold
}
