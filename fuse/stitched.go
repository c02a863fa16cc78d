// Package fuse accumulates a sequence of scans into a single fused
// point cloud model. Each added scan is cleaned, optionally moved by a
// pose prior, aligned to the current model in two stages and merged,
// and the model is re-compacted after every merge so its density stays
// bounded.
package fuse

import (
	"math/rand"
	"time"

	"github.com/pkg/errors"
	"github.com/seqsense/pcgol/pc"
	"go.uber.org/zap"

	"github.com/seqsense/pcdfuse/filter/outlier"
	"github.com/seqsense/pcdfuse/filter/passthrough"
	"github.com/seqsense/pcdfuse/filter/voxel"
	"github.com/seqsense/pcdfuse/internal/pcutil"
	"github.com/seqsense/pcdfuse/pose"
	"github.com/seqsense/pcdfuse/registration/icp"
	"github.com/seqsense/pcdfuse/registration/sacia"
)

// ErrDegenerateScan is returned by AddCloud when a scan cannot be
// aligned, for example when filtering left too few points. The model is
// unchanged and the caller may continue with the next scan.
var ErrDegenerateScan = errors.New("scan could not be aligned")

// StitchedCloud owns the fused model. It is not safe for concurrent
// use; scans must be added from a single goroutine in capture order.
type StitchedCloud struct {
	cfg    Config
	log    *zap.SugaredLogger
	model  *pc.PointCloud
	scans  int
	timing Timing
}

// New builds the initial model from the first scan: outlier removal at
// the permissive multiplier, voxel downsampling and the vertical clip.
func New(first *pc.PointCloud, cfg Config, log *zap.SugaredLogger) (*StitchedCloud, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &StitchedCloud{cfg: cfg, log: log}

	t0 := time.Now()
	pp, err := pcutil.NormalizeXYZ(first)
	if err != nil {
		return nil, errors.Wrap(err, "first scan")
	}
	pp, err = s.clean(pp, cfg.OutlierDevInit)
	if err != nil {
		return nil, errors.Wrap(err, "first scan")
	}
	s.model = pp
	s.scans = 1
	s.timing.Total += time.Since(t0)
	log.Debugw("model initialized", "points", pp.Points, "took", time.Since(t0))
	return s, nil
}

// clean runs the shared cleanup stages on a scan: outlier removal at
// the given deviation multiplier, voxel downsampling and the vertical
// clip.
func (s *StitchedCloud) clean(pp *pc.PointCloud, stddevMul float64) (*pc.PointCloud, error) {
	pp, err := outlier.New(s.cfg.OutlierNeighbors, stddevMul).Filter(pp)
	if err != nil {
		return nil, err
	}
	vf, err := voxel.New(s.cfg.LeafSize)
	if err != nil {
		return nil, err
	}
	if pp, err = vf.Filter(pp); err != nil {
		return nil, err
	}
	zf, err := passthrough.New(passthrough.Z, s.cfg.ZMin, s.cfg.ZMax)
	if err != nil {
		return nil, err
	}
	return zf.Filter(pp)
}

// PointCloud returns the current fused model.
func (s *StitchedCloud) PointCloud() *pc.PointCloud {
	return s.model
}

// Scans returns the number of scans fused into the model.
func (s *StitchedCloud) Scans() int {
	return s.scans
}

// Timing returns the accumulated per-stage breakdown.
func (s *StitchedCloud) Timing() Timing {
	return s.timing
}

// AddCloud cleans scan, moves it by the pose prior, aligns it to the
// model and merges it. On error the model keeps its previous state.
func (s *StitchedCloud) AddCloud(scan *pc.PointCloud, prior pose.Pose) error {
	t0 := time.Now()
	defer func() { s.timing.Total += time.Since(t0) }()

	pp, err := pcutil.NormalizeXYZ(scan)
	if err != nil {
		return errors.Wrapf(err, "scan %d", s.scans)
	}

	err = stage(&s.timing.Filter, func() error {
		pp, err = outlier.New(s.cfg.OutlierNeighbors, s.cfg.OutlierDevAdd).Filter(pp)
		return err
	})
	if err != nil {
		return s.degenerate(err, "outlier removal")
	}
	err = stage(&s.timing.Downsample, func() error {
		f, err := voxel.New(s.cfg.LeafSize)
		if err != nil {
			return err
		}
		pp, err = f.Filter(pp)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "scan %d: downsample", s.scans)
	}

	if !prior.IsZero() {
		err = stage(&s.timing.Transform, func() error {
			ps, err := pcutil.Vec3s(pp)
			if err != nil {
				return err
			}
			m := prior.Matrix()
			for i, p := range ps {
				ps[i] = m.TransformAffine(p)
			}
			return pcutil.SetVec3s(pp, ps)
		})
		if err != nil {
			return errors.Wrapf(err, "scan %d: transform", s.scans)
		}
	}

	err = stage(&s.timing.Clip, func() error {
		f, err := passthrough.New(passthrough.Z, s.cfg.ZMin, s.cfg.ZMax)
		if err != nil {
			return err
		}
		pp, err = f.Filter(pp)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "scan %d: clip", s.scans)
	}

	target, err := pcutil.Vec3s(s.model)
	if err != nil {
		return errors.Wrapf(err, "scan %d", s.scans)
	}
	source, err := pcutil.Vec3s(pp)
	if err != nil {
		return errors.Wrapf(err, "scan %d", s.scans)
	}

	var coarseRes sacia.Result
	err = stage(&s.timing.Coarse, func() error {
		aligner := &sacia.SACIA{
			NormalK:         s.cfg.NormalNeighbors,
			FeatureK:        s.cfg.FeatureNeighbors,
			InlierThreshold: s.cfg.inlierThreshold(),
			ScoreSamples:    s.cfg.ScoreSamples,
			MaxIteration:    s.cfg.CoarseIterations,
			Rand:            rand.New(rand.NewSource(s.cfg.Seed + int64(s.scans))),
		}
		_, coarseRes, err = aligner.Align(target, source)
		return err
	})
	if err != nil {
		return s.degenerate(err, "coarse alignment")
	}

	var fineRes icp.Result
	err = stage(&s.timing.Fine, func() error {
		aligner := &icp.ICP{
			MaxIteration: s.cfg.FineIterations,
			Tolerance:    s.cfg.FineTolerance,
			MaxCorrDist:  s.cfg.MaxCorrDist,
		}
		_, fineRes, err = aligner.Align(target, source)
		return err
	})
	if err != nil {
		return s.degenerate(err, "fine alignment")
	}

	var merged *pc.PointCloud
	err = stage(&s.timing.Merge, func() error {
		merged, err = pcutil.Merge(s.model, pcutil.FromVec3s(source))
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "scan %d: merge", s.scans)
	}
	err = stage(&s.timing.Compact, func() error {
		f, err := voxel.New(s.cfg.LeafSize)
		if err != nil {
			return err
		}
		merged, err = f.Filter(merged)
		return err
	})
	if err != nil {
		return errors.Wrapf(err, "scan %d: compact", s.scans)
	}

	s.model = merged
	s.scans++
	s.log.Debugw("scan fused",
		"scan", s.scans-1,
		"points", s.model.Points,
		"coarseInliers", coarseRes.Inliers,
		"fineIterations", fineRes.Iterations,
		"fineConverged", fineRes.Converged,
	)
	return nil
}

// degenerate classifies per-scan alignment failures so callers can skip
// the scan and keep fusing.
func (s *StitchedCloud) degenerate(err error, op string) error {
	if errors.Is(err, outlier.ErrInvalidNeighbors) ||
		errors.Is(err, sacia.ErrInsufficientPoints) ||
		errors.Is(err, sacia.ErrNoConsensus) ||
		errors.Is(err, icp.ErrNoCorrespondence) {
		s.log.Warnw("degenerate scan skipped", "scan", s.scans, "op", op, "reason", err)
		return errors.WithMessagef(ErrDegenerateScan, "scan %d: %s: %v", s.scans, op, err)
	}
	return errors.Wrapf(err, "scan %d: %s", s.scans, op)
}
