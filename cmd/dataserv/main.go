package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v2"

	"github.com/shiwani456/dataserv-client/internal/bandwidth"
	"github.com/shiwani456/dataserv-client/internal/builder"
	"github.com/shiwani456/dataserv-client/internal/chain"
	"github.com/shiwani456/dataserv-client/internal/config"
	"github.com/shiwani456/dataserv-client/internal/core"
	"github.com/shiwani456/dataserv-client/internal/ledger"
)

var log = logging.Logger("dataserv")

func main() {
	logging.SetAllLoggers(logging.LevelInfo)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Warn("interrupt received, finishing in-flight shards")
		cancel()
	}()

	app := &cli.App{
		Name:  "dataserv",
		Usage: "storage farming client: build, repair, and audit shard stores",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "path to config file"},
			&cli.StringFlag{Name: "address", Usage: "farmer address (overrides config)"},
		},
		Commands: []*cli.Command{
			buildCmd, cleanCmd, checkupCmd, auditCmd, bandwidthCmd, historyCmd,
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		log.Errorf("%s", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return config.Config{}, err
	}
	if addr := c.String("address"); addr != "" {
		cfg.Address = addr
	}
	if cfg.Address == "" {
		return config.Config{}, fmt.Errorf("no farmer address configured: %w", core.ErrInvalidConfig)
	}
	return cfg, nil
}

func newBuilder(cfg config.Config, opts ...builder.Option) (*builder.Builder, error) {
	return builder.New(builder.Config{
		Address:       cfg.Address,
		StorePath:     cfg.StorePath,
		ShardSize:     cfg.ShardSize,
		MaxSize:       cfg.MaxSize,
		MinFreeSize:   cfg.MinFreeSize,
		UseFolderTree: cfg.UseFolderTree,
		BlockSize:     cfg.BlockSize,
	}, opts...)
}

// barObserver renders build progress as a terminal bar tracking the
// contiguous completion height.
type barObserver struct {
	bar  *progressbar.ProgressBar
	last int
}

func newBarObserver(target int) *barObserver {
	return &barObserver{bar: progressbar.Default(int64(target), "building shards")}
}

func (o *barObserver) ShardDone(height int, finished bool) {
	o.last = height
	o.bar.Set(height)
	if finished {
		o.bar.Finish()
	}
}

var buildCmd = &cli.Command{
	Name:  "build",
	Usage: "fill the store with shards up to the configured capacity",
	Flags: []cli.Flag{
		&cli.IntFlag{Name: "workers", Value: 1, Usage: "concurrent shard generation tasks"},
		&cli.BoolFlag{Name: "cleanup", Usage: "delete each shard after hashing (verification only)"},
		&cli.BoolFlag{Name: "rebuild", Usage: "regenerate all shards from height zero"},
		&cli.BoolFlag{Name: "repair", Usage: "regenerate missing or wrong-sized shards below the resume point"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.StorePath, 0755); err != nil {
			return err
		}

		obs := newBarObserver(int(cfg.MaxSize / cfg.ShardSize))
		b, err := newBuilder(cfg, builder.WithObserver(obs))
		if err != nil {
			return err
		}

		started := time.Now()
		result, err := b.Build(c.Context, builder.BuildOptions{
			Workers: c.Int("workers"),
			Cleanup: c.Bool("cleanup"),
			Rebuild: c.Bool("rebuild"),
			Repair:  c.Bool("repair"),
		})
		if err != nil {
			return err
		}

		l, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			return err
		}
		defer l.Close()
		if err := l.PutBuild(ledger.BuildRecord{
			Address:    cfg.Address,
			StartedAt:  started,
			FinishedAt: time.Now(),
			LastHeight: obs.last,
			Generated:  len(result),
		}); err != nil {
			return err
		}

		fmt.Printf("generated %d shards, last completed height %d\n", len(result), obs.last)
		return nil
	},
}

var cleanCmd = &cli.Command{
	Name:  "clean",
	Usage: "delete every shard in the committed range",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		b, err := newBuilder(cfg)
		if err != nil {
			return err
		}
		return b.Clean()
	},
}

var checkupCmd = &cli.Command{
	Name:  "checkup",
	Usage: "verify that every shard in the committed range exists",
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		b, err := newBuilder(cfg)
		if err != nil {
			return err
		}
		ok, err := b.Checkup()
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("store at %s is incomplete", cfg.StorePath)
		}
		fmt.Println("all shards present")
		return nil
	},
}

// fixedOracle pins the chain facts fetched once at the start of an audit, so
// the proof and the ledger record describe the same challenge.
type fixedOracle struct {
	height int
	hash   string
}

func (o fixedOracle) CurrentHeight() (int, error) {
	return o.height, nil
}

func (o fixedOracle) BlockHash(int) (string, error) {
	return o.hash, nil
}

var auditCmd = &cli.Command{
	Name:  "audit",
	Usage: "produce a possession proof for the chain-selected shard block",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "explorer", Usage: "block explorer API base URL"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := loadConfig(c)
		if err != nil {
			return err
		}
		b, err := newBuilder(cfg)
		if err != nil {
			return err
		}

		base := c.String("explorer")
		if base == "" {
			base = cfg.ExplorerURL
		}
		explorer := chain.NewExplorer(base)
		height, err := explorer.CurrentHeight()
		if err != nil {
			return err
		}
		hash, err := explorer.BlockHash(height)
		if err != nil {
			return err
		}

		proof, err := b.Audit(c.Context, fixedOracle{height: height, hash: hash})
		failed := errors.Is(err, core.ErrAuditFailed)
		if err != nil && !failed {
			return err
		}

		l, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			return err
		}
		defer l.Close()
		if err := l.PutAudit(ledger.AuditRecord{
			Address:   cfg.Address,
			Height:    height,
			BlockHash: hash,
			Proof:     proof,
			OK:        !failed,
			At:        time.Now(),
		}); err != nil {
			return err
		}

		if failed {
			fmt.Printf("audit at height %d failed: shards missing or wrong size\n", height)
			return nil
		}
		fmt.Printf("audit at height %d: %s\n", height, proof)
		return nil
	},
}

var bandwidthCmd = &cli.Command{
	Name:  "bandwidth",
	Usage: "measure client bandwidth, reusing a cached result when valid",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "download-url", Usage: "HTTP endpoint for the download probe"},
		&cli.StringFlag{Name: "upload-url", Usage: "HTTP endpoint for the upload probe"},
	},
	Action: func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(cfg.BandwidthCache), 0755); err != nil {
			return err
		}
		probe := &bandwidth.HTTPProbe{
			DownloadURL: c.String("download-url"),
			UploadURL:   c.String("upload-url"),
		}
		result, err := bandwidth.NewCache(cfg.BandwidthCache, probe).Measure(c.Context)
		if err != nil {
			return err
		}
		fmt.Printf("download: %d bps\nupload: %d bps\n", result.Download, result.Upload)
		return nil
	},
}

var historyCmd = &cli.Command{
	Name:  "history",
	Usage: "print recorded build runs and audit attempts",
	Action: func(c *cli.Context) error {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return err
		}
		l, err := ledger.Open(cfg.LedgerPath)
		if err != nil {
			return err
		}
		defer l.Close()

		builds, err := l.Builds()
		if err != nil {
			return err
		}
		for _, r := range builds {
			fmt.Printf("build %s: %d shards, last height %d (%s)\n",
				r.FinishedAt.Format(time.RFC3339), r.Generated, r.LastHeight, r.Address)
		}

		audits, err := l.Audits()
		if err != nil {
			return err
		}
		for _, r := range audits {
			status := r.Proof
			if !r.OK {
				status = "FAILED"
			}
			fmt.Printf("audit %s: height %d -> %s\n", r.At.Format(time.RFC3339), r.Height, status)
		}
		return nil
	},
}
