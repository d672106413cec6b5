// Package pipeline drives per-category compilation: resolve, compile
// every format, rewrite policy, write the tree, report the aggregate
// outcome.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"

	"github.com/xxxbrian/ruleset-forge/internal/artifact"
	"github.com/xxxbrian/ruleset-forge/internal/compile"
	"github.com/xxxbrian/ruleset-forge/internal/policy"
	"github.com/xxxbrian/ruleset-forge/internal/resolver"
)

// CategoryError records why one category failed entirely.
type CategoryError struct {
	Category string
	Err      error
}

func (e CategoryError) Error() string {
	return fmt.Sprintf("category %s: %v", e.Category, e.Err)
}

func (e CategoryError) Unwrap() error { return e.Err }

// Report is the aggregate outcome of one run.
type Report struct {
	Built   []string
	Failed  []CategoryError
	Skipped int // rules omitted across all artifacts for unsupported kinds
	Dropped int // source lines dropped during normalization
}

// Options configure one run.
type Options struct {
	Selected     []string // categories to build; empty builds all
	Workers      int      // 0 defaults to GOMAXPROCS
	Output       *artifact.Tree
	Supplemental *artifact.Tree // optional overlay, generated output wins
}

// Pipeline wires the resolver to the compiler set.
type Pipeline struct {
	resolver  *resolver.Resolver
	compilers []compile.Compiler
	logger    *slog.Logger
}

// New creates a Pipeline.
func New(res *resolver.Resolver, compilers []compile.Compiler, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{resolver: res, compilers: compilers, logger: logger}
}

type outcome struct {
	category  string
	artifacts []compile.Artifact
	skipped   int
	dropped   int
	err       error
}

// Run builds the selected categories concurrently. Categories fail in
// isolation: each category's include graph is checked before any of its
// sources is fetched, and a cycle fails only the categories whose trees
// contain it. The artifact tree is written by this goroutine only.
func (p *Pipeline) Run(ctx context.Context, opt Options) (Report, error) {
	if opt.Output == nil {
		return Report{}, fmt.Errorf("no output tree configured")
	}

	names := opt.Selected
	if len(names) == 0 {
		names = p.resolver.Names()
	}
	sort.Strings(names)

	var report Report
	healthy := make([]string, 0, len(names))
	for _, name := range names {
		if err := p.resolver.CheckCategory(name); err != nil {
			p.logger.Error("category failed", "category", name, "error", err)
			report.Failed = append(report.Failed, CategoryError{Category: name, Err: err})
			continue
		}
		healthy = append(healthy, name)
	}
	names = healthy

	workers := opt.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > len(names) {
		workers = len(names)
	}

	jobs := make(chan string)
	results := make(chan outcome)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range jobs {
				results <- p.build(ctx, name)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, name := range names {
			select {
			case jobs <- name:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	for out := range results {
		if out.err != nil {
			p.logger.Error("category failed", "category", out.category, "error", out.err)
			report.Failed = append(report.Failed, CategoryError{Category: out.category, Err: out.err})
			continue
		}
		if err := opt.Output.WriteCategory(out.artifacts); err != nil {
			report.Failed = append(report.Failed, CategoryError{Category: out.category, Err: err})
			continue
		}
		report.Built = append(report.Built, out.category)
		report.Skipped += out.skipped
		report.Dropped += out.dropped
		p.logger.Info("category built", "category", out.category,
			"artifacts", len(out.artifacts), "skipped_rules", out.skipped, "dropped_lines", out.dropped)
	}

	sort.Strings(report.Built)
	sort.Slice(report.Failed, func(i, j int) bool {
		return report.Failed[i].Category < report.Failed[j].Category
	})

	if opt.Supplemental != nil {
		if err := artifact.Merge(opt.Output, opt.Supplemental); err != nil {
			return report, err
		}
	}

	return report, nil
}

// build runs the Normalize→Resolve→Compile chain for one category.
func (p *Pipeline) build(ctx context.Context, name string) outcome {
	flat, err := p.resolver.Resolve(ctx, name)
	if err != nil {
		return outcome{category: name, err: err}
	}

	artifacts := make([]compile.Artifact, 0, len(p.compilers))
	skipped := 0
	for _, c := range p.compilers {
		a, err := c.Compile(flat)
		if err != nil {
			return outcome{category: name, err: fmt.Errorf("format %s: %w", c.Format(), err)}
		}
		a = policy.Rewrite(a, flat.Policy)
		artifacts = append(artifacts, a)
		skipped += a.Skipped
	}

	return outcome{
		category:  name,
		artifacts: artifacts,
		skipped:   skipped,
		dropped:   flat.Dropped,
	}
}
