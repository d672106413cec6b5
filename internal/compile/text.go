package compile

import (
	"strings"

	"github.com/xxxbrian/ruleset-forge/internal/resolver"
	"github.com/xxxbrian/ruleset-forge/internal/rule"
)

// Text compiles the plain-text list format: one bare value per line,
// suffix rules marked with a +. prefix.
type Text struct{}

func (t *Text) Format() string { return "text" }
func (t *Text) Ext() string    { return "txt" }

func (t *Text) Supports(k rule.Kind) bool {
	switch k {
	case rule.Domain, rule.DomainSuffix, rule.IPCIDR, rule.IPCIDR6:
		return true
	}
	return false
}

func (t *Text) Compile(flat resolver.Flattened) (Artifact, error) {
	rules, skipped := supported(t, flat)

	var b strings.Builder
	for _, r := range rules {
		if r.Kind == rule.DomainSuffix {
			b.WriteString("+.")
		}
		b.WriteString(r.Value)
		b.WriteString("\n")
	}

	return Artifact{
		Format:   t.Format(),
		Category: flat.Name,
		Ext:      t.Ext(),
		Data:     []byte(b.String()),
		Skipped:  skipped,
	}, nil
}
