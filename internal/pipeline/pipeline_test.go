package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/xxxbrian/ruleset-forge/internal/artifact"
	"github.com/xxxbrian/ruleset-forge/internal/compile"
	"github.com/xxxbrian/ruleset-forge/internal/resolver"
	"github.com/xxxbrian/ruleset-forge/internal/source"
)

type fakeLoader struct {
	lines map[string][]string
}

func (f *fakeLoader) Load(_ context.Context, location string) ([]string, error) {
	lines, ok := f.lines[location]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrUnavailable, location)
	}
	return lines, nil
}

func testResolver(lines map[string][]string, categories []resolver.Category) *resolver.Resolver {
	return resolver.New(categories, &fakeLoader{lines: lines}, nil)
}

func TestRunBuildsAllCategories(t *testing.T) {
	res := testResolver(map[string][]string{
		"file:cn.conf":      {"domain:example.cn"},
		"file:netflix.conf": {"DOMAIN-SUFFIX,netflix.com", "PROCESS-NAME,Netflix"},
	}, []resolver.Category{
		{Name: "cn", Sources: []string{"file:cn.conf"}},
		{Name: "netflix", Sources: []string{"file:netflix.conf"}},
	})

	output := artifact.NewTree(memfs.New())
	report, err := New(res, compile.All(), nil).Run(context.Background(), Options{Output: output})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(report.Failed) != 0 {
		t.Fatalf("unexpected failures: %v", report.Failed)
	}
	if len(report.Built) != 2 {
		t.Fatalf("built = %v, want both categories", report.Built)
	}

	paths, err := output.Paths()
	if err != nil {
		t.Fatal(err)
	}
	// Five formats per category.
	if len(paths) != 10 {
		t.Fatalf("expected 10 artifacts, got %v", paths)
	}
	// Script format skips process-name and counts it.
	if report.Skipped == 0 {
		t.Errorf("expected skipped-rule diagnostics for process-name")
	}
}

func TestRunIsolatesCategoryFailures(t *testing.T) {
	res := testResolver(map[string][]string{
		"file:good.conf": {"domain:example.com"},
	}, []resolver.Category{
		{Name: "good", Sources: []string{"file:good.conf"}},
		{Name: "broken", Sources: []string{"file:missing.conf"}},
	})

	output := artifact.NewTree(memfs.New())
	report, err := New(res, compile.All(), nil).Run(context.Background(), Options{Output: output})
	if err != nil {
		t.Fatalf("run must not abort on category failure: %v", err)
	}

	if len(report.Built) != 1 || report.Built[0] != "good" {
		t.Errorf("built = %v, want [good]", report.Built)
	}
	if len(report.Failed) != 1 || report.Failed[0].Category != "broken" {
		t.Fatalf("failed = %v, want broken", report.Failed)
	}
	if !strings.Contains(report.Failed[0].Error(), "broken") {
		t.Errorf("diagnostic should name the category: %v", report.Failed[0])
	}

	if output.Exists("script/broken.list") {
		t.Errorf("failed category must not produce artifacts")
	}
}

func TestRunCycleAbortsOnlyAffectedTree(t *testing.T) {
	res := testResolver(map[string][]string{
		"file:ok.conf": {"domain:ok.com"},
	}, []resolver.Category{
		{Name: "a", Includes: []string{"b"}, Sources: []string{"file:ok.conf"}},
		{Name: "b", Includes: []string{"a"}, Sources: []string{"file:ok.conf"}},
		{Name: "ok", Sources: []string{"file:ok.conf"}},
	})

	output := artifact.NewTree(memfs.New())
	report, err := New(res, compile.All(), nil).Run(context.Background(), Options{Output: output})
	if err != nil {
		t.Fatalf("a cycle must not abort the run: %v", err)
	}

	// Both categories on the cycle fail, each with the cycle diagnostic.
	if len(report.Failed) != 2 {
		t.Fatalf("failed = %v, want a and b", report.Failed)
	}
	for _, f := range report.Failed {
		var cycle *resolver.CycleError
		if !errors.As(f.Err, &cycle) {
			t.Errorf("category %s failed with %v, want CycleError", f.Category, f.Err)
		}
	}

	// The untouched sibling still builds.
	if len(report.Built) != 1 || report.Built[0] != "ok" {
		t.Fatalf("built = %v, want [ok]", report.Built)
	}
	if !output.Exists("script/ok.list") {
		t.Errorf("sibling category must produce artifacts")
	}
}

func TestRunSelection(t *testing.T) {
	res := testResolver(map[string][]string{
		"file:a.conf": {"domain:a.com"},
		"file:b.conf": {"domain:b.com"},
	}, []resolver.Category{
		{Name: "a", Sources: []string{"file:a.conf"}},
		{Name: "b", Sources: []string{"file:b.conf"}},
	})

	output := artifact.NewTree(memfs.New())
	report, err := New(res, compile.All(), nil).Run(context.Background(), Options{
		Selected: []string{"a"},
		Output:   output,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(report.Built) != 1 || report.Built[0] != "a" {
		t.Errorf("built = %v, want [a]", report.Built)
	}
	if output.Exists("script/b.list") {
		t.Errorf("unselected category must not be built")
	}
}

func TestRunPolicyRewriteApplied(t *testing.T) {
	res := testResolver(map[string][]string{
		"file:lan.conf": {"IP-CIDR,192.168.0.0/16"},
		"file:nf.conf":  {"DOMAIN-SUFFIX,netflix.com"},
	}, []resolver.Category{
		{Name: "private", Policy: resolver.PolicyLocal, Sources: []string{"file:lan.conf"}},
		{Name: "netflix", Sources: []string{"file:nf.conf"}},
	})

	output := artifact.NewTree(memfs.New())
	if _, err := New(res, compile.All(), nil).Run(context.Background(), Options{Output: output}); err != nil {
		t.Fatal(err)
	}

	private, err := output.Read("script/private.list")
	if err != nil {
		t.Fatal(err)
	}
	if string(private) != "IP-CIDR,192.168.0.0/16,DIRECT\n" {
		t.Errorf("policy rewrite missing: %q", private)
	}

	netflix, err := output.Read("script/netflix.list")
	if err != nil {
		t.Fatal(err)
	}
	if string(netflix) != "DOMAIN-SUFFIX,netflix.com,PROXY\n" {
		t.Errorf("untagged category rewritten: %q", netflix)
	}
}

func TestRunMergesSupplementalTree(t *testing.T) {
	res := testResolver(map[string][]string{
		"file:cn.conf": {"domain:example.cn"},
	}, []resolver.Category{
		{Name: "cn", Sources: []string{"file:cn.conf"}},
	})

	supplementalFS := memfs.New()
	if err := util.WriteFile(supplementalFS, "binary/cn.srs", []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := util.WriteFile(supplementalFS, "binary/apple.srs", []byte("extra"), 0o644); err != nil {
		t.Fatal(err)
	}

	output := artifact.NewTree(memfs.New())
	_, err := New(res, compile.All(), nil).Run(context.Background(), Options{
		Output:       output,
		Supplemental: artifact.NewTree(supplementalFS),
	})
	if err != nil {
		t.Fatal(err)
	}

	cn, err := output.Read("binary/cn.srs")
	if err != nil {
		t.Fatal(err)
	}
	if string(cn) == "stale" {
		t.Errorf("supplemental copy must not shadow generated output")
	}

	apple, err := output.Read("binary/apple.srs")
	if err != nil {
		t.Fatal(err)
	}
	if string(apple) != "extra" {
		t.Errorf("supplemental-only artifact missing: %q", apple)
	}
}
