// Command pcdfuse fuses a directory of PCD scans into one model and
// optionally extracts wall planes from a scan batch.
package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/seqsense/pcgol/pc"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/seqsense/pcdfuse/fuse"
	"github.com/seqsense/pcdfuse/walls"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "pcdfuse",
		Usage: "incremental point cloud registration and stitching",
		Commands: []*cli.Command{
			{
				Name:  "fuse",
				Usage: "fuse a directory of scans into one model",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Required: true, Usage: "scan directory"},
					&cli.StringFlag{Name: "poses", Aliases: []string{"t"}, Usage: "pose table file"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "fused.pcd", Usage: "output PCD file"},
					&cli.StringFlag{Name: "config", Usage: "pipeline configuration YAML"},
					&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
				},
				Action: runFuse,
			},
			{
				Name:  "walls",
				Usage: "extract wall planes from a scan batch",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Required: true, Usage: "scan directory"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "walls.pcd", Usage: "output PCD file"},
					&cli.IntFlag{Name: "workers", Usage: "worker pool size (0 = all CPUs)"},
					&cli.BoolFlag{Name: "verbose", Aliases: []string{"v"}, Usage: "debug logging"},
				},
				Action: runWalls,
			},
		},
	}
}

func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	var log *zap.Logger
	var err error
	if verbose {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		return nil, errors.Wrap(err, "logger")
	}
	return log.Sugar(), nil
}

func runFuse(c *cli.Context) error {
	log, err := newLogger(c.Bool("verbose"))
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg := fuse.DefaultConfig()
	if path := c.String("config"); path != "" {
		if cfg, err = fuse.LoadConfig(path); err != nil {
			return err
		}
	}

	out := c.String("out")
	files, err := listScans(c.String("dir"), out)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Errorf("no PCD scans in %s", c.String("dir"))
	}
	log.Infow("scans found", "count", len(files))

	priors := identityPoses(len(files))
	if path := c.String("poses"); path != "" {
		ps, err := relativePoses(path, len(files))
		if err != nil {
			log.Warnw("pose file unusable, falling back to identity priors", "reason", err)
		} else {
			priors = ps
		}
	}

	first, err := loadScan(files[0])
	if err != nil {
		return err
	}
	s, err := fuse.New(first, cfg, log)
	if err != nil {
		return err
	}
	for i, path := range files[1:] {
		scan, err := loadScan(path)
		if err != nil {
			log.Warnw("scan skipped", "file", path, "reason", err)
			continue
		}
		if err := s.AddCloud(scan, priors[i+1]); err != nil {
			if errors.Is(err, fuse.ErrDegenerateScan) {
				log.Warnw("scan skipped", "file", path, "reason", err)
				continue
			}
			return err
		}
		log.Infow("scan fused", "file", path, "modelPoints", s.PointCloud().Points)
	}

	if err := saveCloud(out, s.PointCloud()); err != nil {
		return err
	}
	log.Infow("model written", "file", out, "points", s.PointCloud().Points,
		"scans", s.Scans())
	fmt.Println(s.Timing())
	return nil
}

func runWalls(c *cli.Context) error {
	log, err := newLogger(c.Bool("verbose"))
	if err != nil {
		return err
	}
	defer log.Sync()

	out := c.String("out")
	files, err := listScans(c.String("dir"), out)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return errors.Errorf("no PCD scans in %s", c.String("dir"))
	}

	clouds := make([]*pc.PointCloud, 0, len(files))
	for _, path := range files {
		scan, err := loadScan(path)
		if err != nil {
			log.Warnw("scan skipped", "file", path, "reason", err)
			continue
		}
		clouds = append(clouds, scan)
	}
	if len(clouds) == 0 {
		return errors.New("no readable scans")
	}

	cfg := walls.DefaultConfig()
	cfg.Workers = c.Int("workers")
	result, err := walls.Extract(c.Context, clouds, cfg, log)
	if result == nil {
		return err
	}
	if err != nil {
		log.Warnw("some scans were skipped", "reason", err)
	}

	if err := saveCloud(out, result); err != nil {
		return err
	}
	log.Infow("walls written", "file", out, "points", result.Points)
	return nil
}
