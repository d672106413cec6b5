package compile

import (
	"strings"

	"github.com/xxxbrian/ruleset-forge/internal/resolver"
	"github.com/xxxbrian/ruleset-forge/internal/rule"
)

// Script compiles the line-oriented TYPE,VALUE,ACTION snippet format.
// The action is always the proxy placeholder; bypass categories are
// rewritten afterwards by the policy package.
type Script struct{}

func (s *Script) Format() string { return "script" }
func (s *Script) Ext() string    { return "list" }

func (s *Script) Supports(k rule.Kind) bool {
	switch k {
	case rule.Domain, rule.DomainSuffix, rule.DomainKeyword, rule.IPCIDR, rule.IPCIDR6:
		return true
	}
	return false
}

func (s *Script) Compile(flat resolver.Flattened) (Artifact, error) {
	rules, skipped := supported(s, flat)

	var b strings.Builder
	for _, r := range rules {
		b.WriteString(scriptType(r.Kind))
		b.WriteString(",")
		b.WriteString(r.Value)
		b.WriteString(",")
		b.WriteString(ActionProxy)
		b.WriteString("\n")
	}

	return Artifact{
		Format:   s.Format(),
		Category: flat.Name,
		Ext:      s.Ext(),
		Data:     []byte(b.String()),
		Skipped:  skipped,
	}, nil
}

func scriptType(k rule.Kind) string {
	switch k {
	case rule.Domain:
		return "DOMAIN"
	case rule.DomainSuffix:
		return "DOMAIN-SUFFIX"
	case rule.DomainKeyword:
		return "DOMAIN-KEYWORD"
	case rule.IPCIDR:
		return "IP-CIDR"
	case rule.IPCIDR6:
		return "IP-CIDR6"
	default:
		return ""
	}
}
