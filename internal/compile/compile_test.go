package compile

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/xxxbrian/ruleset-forge/internal/resolver"
	"github.com/xxxbrian/ruleset-forge/internal/rule"
)

func testFlattened() resolver.Flattened {
	return resolver.Flattened{
		Name: "netflix",
		Rules: []rule.Rule{
			{Kind: rule.DomainSuffix, Value: "netflix.com"},
			{Kind: rule.Domain, Value: "api.netflix.com"},
			{Kind: rule.DomainKeyword, Value: "netflix"},
			{Kind: rule.IPCIDR, Value: "198.51.100.0/24"},
			{Kind: rule.IPCIDR6, Value: "2001:db8::/32"},
			{Kind: rule.DomainRegex, Value: `^cdn\d+\.netflix\.com$`},
			{Kind: rule.ProcessName, Value: "Netflix"},
		},
	}
}

func TestScriptCompile(t *testing.T) {
	a, err := (&Script{}).Compile(testFlattened())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := strings.Join([]string{
		"DOMAIN,api.netflix.com,PROXY",
		"DOMAIN-SUFFIX,netflix.com,PROXY",
		"DOMAIN-KEYWORD,netflix,PROXY",
		"IP-CIDR,198.51.100.0/24,PROXY",
		"IP-CIDR6,2001:db8::/32,PROXY",
		"",
	}, "\n")
	if string(a.Data) != want {
		t.Errorf("script output mismatch:\ngot:\n%s\nwant:\n%s", a.Data, want)
	}
	if a.Skipped != 2 {
		t.Errorf("expected 2 skipped rules (regex, process-name), got %d", a.Skipped)
	}
	if a.Path() != "script/netflix.list" {
		t.Errorf("unexpected artifact path: %s", a.Path())
	}
}

func TestBinaryCompileLayout(t *testing.T) {
	a, err := (&Binary{}).Compile(testFlattened())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !bytes.HasPrefix(a.Data, []byte("RSFB\x01")) {
		t.Fatalf("missing magic/version header: %x", a.Data[:5])
	}
	if a.Skipped != 2 {
		t.Errorf("expected 2 skipped rules (regex, process-name), got %d", a.Skipped)
	}
	if bytes.Contains(a.Data, []byte("Netflix")) {
		t.Errorf("process-name value must not appear in binary output")
	}
	// Domain values are embedded as raw bytes.
	if !bytes.Contains(a.Data, []byte("api.netflix.com")) {
		t.Errorf("domain table missing exact-domain entry")
	}
	// CIDRs are stored as prefix byte + address bytes, not text.
	if bytes.Contains(a.Data, []byte("198.51.100.0/24")) {
		t.Errorf("CIDR must be binary-encoded, found text form")
	}
	if !bytes.Contains(a.Data, []byte{24, 198, 51, 100, 0}) {
		t.Errorf("missing binary CIDR entry for 198.51.100.0/24")
	}
}

func TestBinaryEmptyCategoryStillWellFormed(t *testing.T) {
	a, err := (&Binary{}).Compile(resolver.Flattened{Name: "empty"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Header plus five empty sections of kind byte + zero count.
	if len(a.Data) != 5+5*2 {
		t.Errorf("unexpected empty artifact size: %d", len(a.Data))
	}
}

func TestClassicCompileGroupsByKind(t *testing.T) {
	a, err := (&Classic{}).Compile(testFlattened())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Skipped != 0 {
		t.Errorf("classic format supports every kind, got %d skipped", a.Skipped)
	}

	var doc struct {
		Category      string   `yaml:"category"`
		Domain        []string `yaml:"domain"`
		DomainSuffix  []string `yaml:"domain_suffix"`
		DomainRegex   []string `yaml:"domain_regex"`
		IPCIDR        []string `yaml:"ip_cidr"`
		IPCIDR6       []string `yaml:"ip_cidr6"`
		ProcessName   []string `yaml:"process_name"`
	}
	if err := yaml.Unmarshal(a.Data, &doc); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if doc.Category != "netflix" {
		t.Errorf("missing category heading, got %q", doc.Category)
	}
	if len(doc.Domain) != 1 || doc.Domain[0] != "api.netflix.com" {
		t.Errorf("domain block wrong: %v", doc.Domain)
	}
	if len(doc.ProcessName) != 1 {
		t.Errorf("process_name block wrong: %v", doc.ProcessName)
	}
}

func TestSourceCompileMatchesRuleSetSchema(t *testing.T) {
	a, err := (&Source{}).Compile(testFlattened())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var doc struct {
		Version int `json:"version"`
		Rules   []struct {
			Domain       []string `json:"domain"`
			DomainSuffix []string `json:"domain_suffix"`
			IPCIDR       []string `json:"ip_cidr"`
		} `json:"rules"`
	}
	if err := json.Unmarshal(a.Data, &doc); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if doc.Version != 1 {
		t.Errorf("version = %d, want 1", doc.Version)
	}
	if len(doc.Rules) != 1 {
		t.Fatalf("expected a single rule object, got %d", len(doc.Rules))
	}
	// Both address families share ip_cidr, v4 entries first.
	if len(doc.Rules[0].IPCIDR) != 2 || doc.Rules[0].IPCIDR[0] != "198.51.100.0/24" {
		t.Errorf("ip_cidr block wrong: %v", doc.Rules[0].IPCIDR)
	}
}

func TestTextCompile(t *testing.T) {
	a, err := (&Text{}).Compile(testFlattened())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := strings.Join([]string{
		"api.netflix.com",
		"+.netflix.com",
		"198.51.100.0/24",
		"2001:db8::/32",
		"",
	}, "\n")
	if string(a.Data) != want {
		t.Errorf("text output mismatch:\ngot:\n%s\nwant:\n%s", a.Data, want)
	}
	if a.Skipped != 3 {
		t.Errorf("expected 3 skipped rules (keyword, regex, process-name), got %d", a.Skipped)
	}
	if a.Path() != "text/netflix.txt" {
		t.Errorf("unexpected artifact path: %s", a.Path())
	}
}

func TestCompileDoesNotMutateInput(t *testing.T) {
	flat := testFlattened()
	firstKind, firstValue := flat.Rules[0].Kind, flat.Rules[0].Value
	for _, c := range All() {
		if _, err := c.Compile(flat); err != nil {
			t.Fatalf("%s: unexpected error: %v", c.Format(), err)
		}
	}
	if flat.Rules[0].Kind != firstKind || flat.Rules[0].Value != firstValue {
		t.Fatalf("compiler mutated the flattened category")
	}
}

func TestByFormat(t *testing.T) {
	all, err := ByFormat(nil)
	if err != nil || len(all) != 5 {
		t.Fatalf("empty selection should return all compilers, got %d (%v)", len(all), err)
	}

	selected, err := ByFormat([]string{"script", "binary"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if selected[0].Format() != "script" || selected[1].Format() != "binary" {
		t.Errorf("selection order not preserved")
	}

	if _, err := ByFormat([]string{"nope"}); err == nil {
		t.Errorf("unknown format must be rejected")
	}
}
