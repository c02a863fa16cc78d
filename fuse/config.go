package fuse

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate for out-of-range parameters.
var ErrInvalidConfig = errors.New("invalid pipeline configuration")

// Config holds the tuning parameters of the fusion pipeline. Distances
// are in the unit of the input clouds.
type Config struct {
	// OutlierNeighbors is the neighborhood size of statistical outlier
	// removal.
	OutlierNeighbors int `yaml:"outlierNeighbors"`
	// OutlierDevInit is the stddev multiplier applied to the first scan.
	OutlierDevInit float64 `yaml:"outlierDevInit"`
	// OutlierDevAdd is the stricter multiplier applied to added scans.
	OutlierDevAdd float64 `yaml:"outlierDevAdd"`
	// LeafSize is the voxel edge used for downsampling and re-compaction.
	LeafSize float32 `yaml:"leafSize"`
	// ZMin, ZMax clip every scan to the vertical band of interest.
	ZMin float32 `yaml:"zMin"`
	ZMax float32 `yaml:"zMax"`

	// NormalNeighbors is the neighborhood of normal estimation.
	NormalNeighbors int `yaml:"normalNeighbors"`
	// FeatureNeighbors is the neighborhood of signature histograms. It
	// must be larger than NormalNeighbors.
	FeatureNeighbors int `yaml:"featureNeighbors"`
	// CoarseIterations is the number of consensus candidates drawn.
	CoarseIterations int `yaml:"coarseIterations"`
	// ScoreSamples caps the points scored per coarse candidate.
	// Zero scores all of them.
	ScoreSamples int `yaml:"scoreSamples"`
	// InlierThreshold is the coarse consensus distance. Zero falls back
	// to LeafSize.
	InlierThreshold float32 `yaml:"inlierThreshold"`

	// FineIterations bounds the ICP refinement loop.
	FineIterations int `yaml:"fineIterations"`
	// FineTolerance enables ICP early termination when positive.
	FineTolerance float64 `yaml:"fineTolerance"`
	// MaxCorrDist limits ICP correspondences. Zero means unlimited.
	MaxCorrDist float32 `yaml:"maxCorrDist"`

	// Seed drives the coarse sampler. Each scan uses Seed plus its
	// ordinal, so a fixed seed gives bit-identical repeated runs.
	Seed int64 `yaml:"seed"`
}

// DefaultConfig returns the parameters tuned for millimeter-unit indoor
// scans.
func DefaultConfig() Config {
	return Config{
		OutlierNeighbors: 100,
		OutlierDevInit:   2,
		OutlierDevAdd:    1,
		LeafSize:         100,
		ZMin:             0,
		ZMax:             10000,
		NormalNeighbors:  100,
		FeatureNeighbors: 250,
		CoarseIterations: 10,
		FineIterations:   10,
		Seed:             1,
	}
}

// LoadConfig reads a YAML file over the defaults, so a partial file only
// overrides the keys it names.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "load config")
	}
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return cfg, errors.Wrap(err, "load config")
	}
	return cfg, cfg.Validate()
}

// Validate checks parameter ranges.
func (c *Config) Validate() error {
	switch {
	case c.OutlierNeighbors < 1:
		return errors.Wrapf(ErrInvalidConfig, "outlierNeighbors=%d", c.OutlierNeighbors)
	case c.OutlierDevInit < 0 || c.OutlierDevAdd < 0:
		return errors.Wrapf(ErrInvalidConfig, "outlier deviation multipliers must not be negative")
	case !(c.LeafSize > 0):
		return errors.Wrapf(ErrInvalidConfig, "leafSize=%f", c.LeafSize)
	case c.ZMin > c.ZMax:
		return errors.Wrapf(ErrInvalidConfig, "zMin=%f > zMax=%f", c.ZMin, c.ZMax)
	case c.NormalNeighbors < 3:
		return errors.Wrapf(ErrInvalidConfig, "normalNeighbors=%d", c.NormalNeighbors)
	case c.FeatureNeighbors <= c.NormalNeighbors:
		return errors.Wrapf(ErrInvalidConfig, "featureNeighbors=%d must exceed normalNeighbors=%d",
			c.FeatureNeighbors, c.NormalNeighbors)
	case c.CoarseIterations < 1:
		return errors.Wrapf(ErrInvalidConfig, "coarseIterations=%d", c.CoarseIterations)
	case c.FineIterations < 1:
		return errors.Wrapf(ErrInvalidConfig, "fineIterations=%d", c.FineIterations)
	case c.FineTolerance < 0:
		return errors.Wrapf(ErrInvalidConfig, "fineTolerance=%f", c.FineTolerance)
	}
	return nil
}

func (c *Config) inlierThreshold() float32 {
	if c.InlierThreshold > 0 {
		return c.InlierThreshold
	}
	return c.LeafSize
}
