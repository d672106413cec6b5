package compile

import (
	"encoding/json"
	"fmt"

	"github.com/xxxbrian/ruleset-forge/internal/resolver"
	"github.com/xxxbrian/ruleset-forge/internal/rule"
)

// Source compiles the sing-box rule-set source JSON. This is the input
// the external `sing-box rule-set compile` oracle consumes; publishing
// it alongside the binary format keeps the artifacts auditable.
type Source struct{}

type sourceDoc struct {
	Version int          `json:"version"`
	Rules   []sourceRule `json:"rules"`
}

type sourceRule struct {
	Domain        []string `json:"domain,omitempty"`
	DomainSuffix  []string `json:"domain_suffix,omitempty"`
	DomainKeyword []string `json:"domain_keyword,omitempty"`
	DomainRegex   []string `json:"domain_regex,omitempty"`
	IPCIDR        []string `json:"ip_cidr,omitempty"`
	ProcessName   []string `json:"process_name,omitempty"`
}

func (s *Source) Format() string { return "source" }
func (s *Source) Ext() string    { return "json" }

func (s *Source) Supports(k rule.Kind) bool { return true }

func (s *Source) Compile(flat resolver.Flattened) (Artifact, error) {
	rules, skipped := supported(s, flat)

	var body sourceRule
	for _, r := range rules {
		switch r.Kind {
		case rule.Domain:
			body.Domain = append(body.Domain, r.Value)
		case rule.DomainSuffix:
			body.DomainSuffix = append(body.DomainSuffix, r.Value)
		case rule.DomainKeyword:
			body.DomainKeyword = append(body.DomainKeyword, r.Value)
		case rule.DomainRegex:
			body.DomainRegex = append(body.DomainRegex, r.Value)
		case rule.IPCIDR, rule.IPCIDR6:
			// The source format carries both families in one list.
			body.IPCIDR = append(body.IPCIDR, r.Value)
		case rule.ProcessName:
			body.ProcessName = append(body.ProcessName, r.Value)
		}
	}

	data, err := json.MarshalIndent(sourceDoc{Version: 1, Rules: []sourceRule{body}}, "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("category %s: %w", flat.Name, err)
	}
	data = append(data, '\n')

	return Artifact{
		Format:   s.Format(),
		Category: flat.Name,
		Ext:      s.Ext(),
		Data:     data,
		Skipped:  skipped,
	}, nil
}
