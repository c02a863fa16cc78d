package fuse

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.OutlierNeighbors)
	assert.Equal(t, float32(100), cfg.LeafSize)
	assert.Equal(t, float32(10000), cfg.ZMax)
	assert.Equal(t, 250, cfg.FeatureNeighbors)
}

func TestConfigValidate(t *testing.T) {
	testCases := map[string]func(*Config){
		"ZeroOutlierNeighbors": func(c *Config) { c.OutlierNeighbors = 0 },
		"NegativeDeviation":    func(c *Config) { c.OutlierDevAdd = -1 },
		"ZeroLeafSize":         func(c *Config) { c.LeafSize = 0 },
		"InvertedZRange":       func(c *Config) { c.ZMin = 1; c.ZMax = 0 },
		"TinyNormalNeighbors":  func(c *Config) { c.NormalNeighbors = 2 },
		"FeatureNotAboveNormal": func(c *Config) {
			c.FeatureNeighbors = c.NormalNeighbors
		},
		"ZeroCoarseIterations": func(c *Config) { c.CoarseIterations = 0 },
		"ZeroFineIterations":   func(c *Config) { c.FineIterations = 0 },
		"NegativeTolerance":    func(c *Config) { c.FineTolerance = -1 },
	}
	for name, tt := range testCases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt(&cfg)
			err := cfg.Validate()
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("leafSize: 0.25\nseed: 7\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	// Overridden keys.
	assert.Equal(t, float32(0.25), cfg.LeafSize)
	assert.Equal(t, int64(7), cfg.Seed)
	// Untouched keys keep their defaults.
	assert.Equal(t, 100, cfg.OutlierNeighbors)
	assert.Equal(t, 10, cfg.CoarseIterations)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("leafSize: -1\n"), 0o644))
	_, err := LoadConfig(path)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestInlierThresholdFallback(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, cfg.LeafSize, cfg.inlierThreshold())
	cfg.InlierThreshold = 3
	assert.Equal(t, float32(3), cfg.inlierThreshold())
}
