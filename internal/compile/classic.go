package compile

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/xxxbrian/ruleset-forge/internal/resolver"
	"github.com/xxxbrian/ruleset-forge/internal/rule"
)

// Classic compiles the human-diffable YAML listing: one block per rule
// kind under the category heading.
type Classic struct{}

type classicDoc struct {
	Category      string   `yaml:"category"`
	Domain        []string `yaml:"domain,omitempty"`
	DomainSuffix  []string `yaml:"domain_suffix,omitempty"`
	DomainKeyword []string `yaml:"domain_keyword,omitempty"`
	DomainRegex   []string `yaml:"domain_regex,omitempty"`
	IPCIDR        []string `yaml:"ip_cidr,omitempty"`
	IPCIDR6       []string `yaml:"ip_cidr6,omitempty"`
	ProcessName   []string `yaml:"process_name,omitempty"`
}

func (c *Classic) Format() string { return "classic" }
func (c *Classic) Ext() string    { return "yaml" }

func (c *Classic) Supports(k rule.Kind) bool { return true }

func (c *Classic) Compile(flat resolver.Flattened) (Artifact, error) {
	rules, skipped := supported(c, flat)

	doc := classicDoc{Category: flat.Name}
	for _, r := range rules {
		switch r.Kind {
		case rule.Domain:
			doc.Domain = append(doc.Domain, r.Value)
		case rule.DomainSuffix:
			doc.DomainSuffix = append(doc.DomainSuffix, r.Value)
		case rule.DomainKeyword:
			doc.DomainKeyword = append(doc.DomainKeyword, r.Value)
		case rule.DomainRegex:
			doc.DomainRegex = append(doc.DomainRegex, r.Value)
		case rule.IPCIDR:
			doc.IPCIDR = append(doc.IPCIDR, r.Value)
		case rule.IPCIDR6:
			doc.IPCIDR6 = append(doc.IPCIDR6, r.Value)
		case rule.ProcessName:
			doc.ProcessName = append(doc.ProcessName, r.Value)
		}
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return Artifact{}, fmt.Errorf("category %s: %w", flat.Name, err)
	}

	return Artifact{
		Format:   c.Format(),
		Category: flat.Name,
		Ext:      c.Ext(),
		Data:     data,
		Skipped:  skipped,
	}, nil
}
