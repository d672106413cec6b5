// Package compile turns flattened categories into target rule-set
// encodings. The compiler set is closed: every target a client can load
// is enumerated here.
package compile

import (
	"fmt"

	"github.com/xxxbrian/ruleset-forge/internal/resolver"
	"github.com/xxxbrian/ruleset-forge/internal/rule"
)

// Routing action placeholders used by the script format. The policy
// rewriter replaces ActionProxy with ActionDirect for bypass categories.
const (
	ActionProxy  = "PROXY"
	ActionDirect = "DIRECT"
)

// Artifact is one compiled output file for one (category, format) pair.
type Artifact struct {
	Format   string
	Category string
	Ext      string
	Data     []byte
	Skipped  int // rules omitted because the format does not support their kind
}

// Path returns the artifact's location inside the output tree.
func (a Artifact) Path() string {
	return a.Format + "/" + a.Category + "." + a.Ext
}

// Compiler produces one target encoding. Compile must be deterministic:
// the same flattened category yields identical bytes.
type Compiler interface {
	Format() string
	Ext() string
	Supports(k rule.Kind) bool
	Compile(flat resolver.Flattened) (Artifact, error)
}

// All returns the closed set of compilers in stable order.
func All() []Compiler {
	return []Compiler{
		&Binary{},
		&Classic{},
		&Script{},
		&Source{},
		&Text{},
	}
}

// ByFormat selects compilers by format identifier. An empty selection
// returns all compilers.
func ByFormat(formats []string) ([]Compiler, error) {
	all := All()
	if len(formats) == 0 {
		return all, nil
	}
	byID := make(map[string]Compiler, len(all))
	for _, c := range all {
		byID[c.Format()] = c
	}
	out := make([]Compiler, 0, len(formats))
	for _, f := range formats {
		c, ok := byID[f]
		if !ok {
			return nil, fmt.Errorf("unknown format: %s", f)
		}
		out = append(out, c)
	}
	return out, nil
}

// supported returns the canonically ordered rules the compiler can
// encode and the count of rules it must skip. The input is not mutated.
func supported(c Compiler, flat resolver.Flattened) ([]rule.Rule, int) {
	kept := make([]rule.Rule, 0, len(flat.Rules))
	skipped := 0
	for _, r := range flat.Rules {
		if c.Supports(r.Kind) {
			kept = append(kept, r)
		} else {
			skipped++
		}
	}
	rule.Sort(kept)
	return kept, skipped
}
