// Package resolver expands category include graphs into flattened,
// deduplicated rule sets.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/xxxbrian/ruleset-forge/internal/normalize"
	"github.com/xxxbrian/ruleset-forge/internal/rule"
	"github.com/xxxbrian/ruleset-forge/internal/source"
)

// PolicyLocal marks categories whose default routing action is forced to
// direct by the policy rewriter.
const PolicyLocal = "local"

// Category is one configured rule category before flattening.
type Category struct {
	Name     string
	Sources  []string // source locations, see source.Loader
	Includes []string // other configured categories, expanded transitively
	Policy   string   // "" or PolicyLocal
}

// Flattened is the resolved form of a category: the union of its own
// rules and all included categories' rules, deduplicated by (kind, value)
// and in canonical order.
type Flattened struct {
	Name    string
	Policy  string
	Rules   []rule.Rule
	Dropped int // lines skipped as unrecognized or invalid
}

// CycleError reports a cycle in the include graph.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return "include cycle: " + strings.Join(e.Path, " -> ")
}

// Loader loads raw lines for one source location. Satisfied by
// *source.Loader.
type Loader interface {
	Load(ctx context.Context, location string) ([]string, error)
}

// Resolver resolves configured categories. Cycle-detection state is
// scoped per Resolve call, so concurrent resolution of different
// categories is safe.
type Resolver struct {
	categories map[string]Category
	loader     Loader
	logger     *slog.Logger
}

// New creates a Resolver over the configured category set.
func New(categories []Category, loader Loader, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[string]Category, len(categories))
	for _, c := range categories {
		byName[c.Name] = c
	}
	return &Resolver{categories: byName, loader: loader, logger: logger}
}

// Names returns all configured category names.
func (r *Resolver) Names() []string {
	names := make([]string, 0, len(r.categories))
	for name := range r.categories {
		names = append(names, name)
	}
	return names
}

// CheckGraph verifies the configured include graph is acyclic and all
// include references exist. It runs before any source is fetched.
func (r *Resolver) CheckGraph() error {
	visited := make(map[string]bool, len(r.categories))
	for name := range r.categories {
		if err := r.checkCategory(name, visited, newStack()); err != nil {
			return err
		}
	}
	return nil
}

// CheckCategory verifies the include graph reachable from one category
// is acyclic and every reference exists, without fetching any source.
// A cycle elsewhere in the configuration does not affect this category.
func (r *Resolver) CheckCategory(name string) error {
	return r.checkCategory(name, make(map[string]bool), newStack())
}

func (r *Resolver) checkCategory(name string, visited map[string]bool, st *stack) error {
	if st.has(name) {
		return &CycleError{Path: append(st.path(name), name)}
	}
	if visited[name] {
		return nil
	}

	cat, ok := r.categories[name]
	if !ok {
		return fmt.Errorf("unknown category in include graph: %s", name)
	}

	st.push(name)
	defer st.pop()
	for _, inc := range cat.Includes {
		if err := r.checkCategory(inc, visited, st); err != nil {
			return err
		}
	}
	visited[name] = true
	return nil
}

// Resolve flattens one category. A cycle or a wholly unreadable source
// fails this category only.
func (r *Resolver) Resolve(ctx context.Context, name string) (Flattened, error) {
	cat, ok := r.categories[name]
	if !ok {
		return Flattened{}, fmt.Errorf("unknown category: %s", name)
	}

	var (
		rules   []rule.Rule
		dropped int
	)
	if err := r.expand(ctx, cat, newStack(), &rules, &dropped); err != nil {
		return Flattened{}, err
	}

	rules = rule.Dedup(rules)
	rule.Sort(rules)
	return Flattened{Name: name, Policy: cat.Policy, Rules: rules, Dropped: dropped}, nil
}

func (r *Resolver) expand(ctx context.Context, cat Category, st *stack, rules *[]rule.Rule, dropped *int) error {
	key := "category:" + cat.Name
	if st.has(key) {
		return &CycleError{Path: append(st.path(key), cat.Name)}
	}
	st.push(key)
	defer st.pop()

	for _, inc := range cat.Includes {
		sub, ok := r.categories[inc]
		if !ok {
			return fmt.Errorf("category %s includes unknown category %s", cat.Name, inc)
		}
		if err := r.expand(ctx, sub, st, rules, dropped); err != nil {
			return err
		}
	}

	for _, loc := range cat.Sources {
		if err := r.expandSource(ctx, cat.Name, loc, st, rules, dropped); err != nil {
			return err
		}
	}
	return nil
}

// expandSource loads one source location and normalizes its lines.
// File-level include directives resolve to a configured category of the
// same name when one exists, otherwise to an archive entry.
func (r *Resolver) expandSource(ctx context.Context, category, loc string, st *stack, rules *[]rule.Rule, dropped *int) error {
	key := "source:" + loc
	if st.has(key) {
		return &CycleError{Path: append(st.path(key), loc)}
	}
	st.push(key)
	defer st.pop()

	lines, err := r.loader.Load(ctx, loc)
	if err != nil {
		return fmt.Errorf("category %s: %w", category, err)
	}

	var parsed int
	for _, line := range lines {
		p, err := normalize.Parse(line, category)
		if err != nil {
			*dropped++
			r.logger.Warn("dropped line", "category", category, "source", loc, "error", err)
			continue
		}
		switch p.Kind {
		case normalize.LineBlank:
			continue
		case normalize.LineRule:
			parsed++
			*rules = append(*rules, p.Rule)
		case normalize.LineInclude:
			parsed++
			if sub, ok := r.categories[p.Include]; ok {
				if err := r.expand(ctx, sub, st, rules, dropped); err != nil {
					return err
				}
				continue
			}
			if err := r.expandSource(ctx, category, "zip:"+p.Include, st, rules, dropped); err != nil {
				return err
			}
		}
	}

	// A source that yields nothing at all is as fatal as one that is
	// wholly unparsable.
	if parsed == 0 {
		return fmt.Errorf("category %s: %w: no usable line in %s", category, source.ErrMalformed, loc)
	}
	return nil
}

// stack tracks the current expansion path for cycle detection.
type stack struct {
	order []string
	on    map[string]bool
}

func newStack() *stack {
	return &stack{on: make(map[string]bool)}
}

func (s *stack) push(key string) {
	s.order = append(s.order, key)
	s.on[key] = true
}

func (s *stack) pop() {
	last := s.order[len(s.order)-1]
	s.order = s.order[:len(s.order)-1]
	delete(s.on, last)
}

func (s *stack) has(key string) bool {
	return s.on[key]
}

// path returns the expansion path from the first occurrence of key,
// with stack keys reduced to their bare names.
func (s *stack) path(key string) []string {
	start := 0
	for i, k := range s.order {
		if k == key {
			start = i
			break
		}
	}
	out := make([]string, 0, len(s.order)-start)
	for _, k := range s.order[start:] {
		if idx := strings.Index(k, ":"); idx >= 0 {
			k = k[idx+1:]
		}
		out = append(out, k)
	}
	return out
}
