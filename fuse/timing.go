package fuse

import (
	"fmt"
	"time"
)

// Timing accumulates wall-clock time spent per pipeline stage across
// all AddCloud calls.
type Timing struct {
	Filter     time.Duration
	Downsample time.Duration
	Transform  time.Duration
	Clip       time.Duration
	Coarse     time.Duration
	Fine       time.Duration
	Merge      time.Duration
	Compact    time.Duration
	Total      time.Duration
}

func (t Timing) String() string {
	return fmt.Sprintf(
		"filter=%v downsample=%v transform=%v clip=%v coarse=%v fine=%v merge=%v compact=%v total=%v",
		t.Filter, t.Downsample, t.Transform, t.Clip,
		t.Coarse, t.Fine, t.Merge, t.Compact, t.Total,
	)
}

// stage measures one pipeline step into the given counter.
func stage(d *time.Duration, fn func() error) error {
	t0 := time.Now()
	err := fn()
	*d += time.Since(t0)
	return err
}
