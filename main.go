// Ruleset-Forge
// A geosite/geoip category compiler producing multi-format rule-set artifacts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-git/go-billy/v5/osfs"

	"github.com/xxxbrian/ruleset-forge/internal/artifact"
	"github.com/xxxbrian/ruleset-forge/internal/compile"
	"github.com/xxxbrian/ruleset-forge/internal/config"
	"github.com/xxxbrian/ruleset-forge/internal/geoip"
	"github.com/xxxbrian/ruleset-forge/internal/pipeline"
	"github.com/xxxbrian/ruleset-forge/internal/resolver"
	"github.com/xxxbrian/ruleset-forge/internal/source"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flags := flag.NewFlagSet("ruleset-forge", flag.ExitOnError)
	configPath := flags.String("config", "forge.yaml", "Configuration file path")
	output := flags.String("output", "", "Override output directory")
	workers := flags.Int("workers", 0, "Worker count (0 = GOMAXPROCS)")
	verbose := flags.Bool("verbose", false, "Enable debug logging")
	_ = flags.Parse(args)

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("configuration error", "error", err)
		return 2
	}
	if *output != "" {
		cfg.Output = *output
	}
	if *workers > 0 {
		cfg.Workers = *workers
	}

	ctx := context.Background()

	var archive source.ArchiveReader
	if cfg.NeedsArchive() {
		archive = source.NewArchive(cfg.Archive.URL, cfg.Archive.Cache, logger)
	}

	var countryIndex source.CountryIndex
	if cfg.NeedsGeoIP() {
		data, err := geoip.Fetch(ctx, cfg.GeoIP.Database)
		if err != nil {
			logger.Error("GeoIP database unavailable", "error", err)
			return 2
		}
		index := geoip.NewIndex()
		if err := index.Load(data, logger); err != nil {
			logger.Error("GeoIP database unreadable", "error", err)
			return 2
		}
		countryIndex = index
	}

	loader := source.NewLoader(source.Options{
		Timeout:  cfg.Source.Timeout,
		MaxBytes: cfg.Source.MaxBytes,
	}, archive, countryIndex, logger)

	compilers, err := compile.ByFormat(cfg.Formats)
	if err != nil {
		logger.Error("configuration error", "error", err)
		return 2
	}

	res := resolver.New(cfg.ResolverCategories(), loader, logger)

	if err := os.MkdirAll(cfg.Output, 0o755); err != nil {
		logger.Error("cannot create output directory", "path", cfg.Output, "error", err)
		return 2
	}
	opt := pipeline.Options{
		Selected: flags.Args(),
		Workers:  cfg.Workers,
		Output:   artifact.NewTree(osfs.New(cfg.Output)),
	}
	if cfg.Supplemental != "" {
		opt.Supplemental = artifact.NewTree(osfs.New(cfg.Supplemental))
	}

	logger.Info("starting run",
		"config", *configPath, "output", cfg.Output,
		"categories", len(cfg.Categories), "formats", len(compilers))

	report, err := pipeline.New(res, compilers, logger).Run(ctx, opt)
	if err != nil {
		logger.Error("run aborted", "error", err)
		return 2
	}

	logger.Info("run finished",
		"built", len(report.Built), "failed", len(report.Failed),
		"skipped_rules", report.Skipped, "dropped_lines", report.Dropped)

	if len(report.Failed) > 0 {
		for _, f := range report.Failed {
			fmt.Fprintf(os.Stderr, "FAILED %s: %v\n", f.Category, f.Err)
		}
		return 1
	}
	return 0
}
