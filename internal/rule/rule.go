// Package rule defines the normalized rule model shared by every source
// syntax and every output format.
package rule

import (
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"
)

// Kind represents the matching strategy of a rule.
type Kind int

const (
	Domain Kind = iota // exact domain match
	DomainSuffix
	DomainKeyword
	DomainRegex
	IPCIDR  // IPv4 prefix
	IPCIDR6 // IPv6 prefix
	ProcessName
)

// String returns the canonical name of the kind, also used for ordering.
func (k Kind) String() string {
	switch k {
	case Domain:
		return "domain"
	case DomainSuffix:
		return "domain-suffix"
	case DomainKeyword:
		return "domain-keyword"
	case DomainRegex:
		return "domain-regex"
	case IPCIDR:
		return "ip-cidr"
	case IPCIDR6:
		return "ip-cidr6"
	case ProcessName:
		return "process-name"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Rule is one matching predicate with its provenance.
type Rule struct {
	Kind           Kind
	Value          string
	SourceCategory string
}

// Key identifies a rule for deduplication. Provenance is ignored.
func (r Rule) Key() string {
	return r.Kind.String() + "," + r.Value
}

// ErrInvalidCIDR reports a CIDR value outside its address family or
// prefix-length bounds.
var ErrInvalidCIDR = errors.New("invalid CIDR")

// ParseCIDR validates a CIDR string and returns the matching rule kind
// for its address family. Prefix length is bounded to 0-32 for IPv4 and
// 0-128 for IPv6.
func ParseCIDR(value string) (Kind, error) {
	prefix, err := netip.ParsePrefix(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidCIDR, value, err)
	}
	if prefix.Bits() < 0 {
		return 0, fmt.Errorf("%w: %s: negative prefix length", ErrInvalidCIDR, value)
	}
	if prefix.Addr().Is4() {
		if prefix.Bits() > 32 {
			return 0, fmt.Errorf("%w: %s: prefix length exceeds 32", ErrInvalidCIDR, value)
		}
		return IPCIDR, nil
	}
	if prefix.Bits() > 128 {
		return 0, fmt.Errorf("%w: %s: prefix length exceeds 128", ErrInvalidCIDR, value)
	}
	return IPCIDR6, nil
}

// Sort orders rules lexicographically by (kind, value) in place. Compilers
// rely on this canonical order for reproducible output.
func Sort(rules []Rule) {
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Kind != rules[j].Kind {
			return rules[i].Kind < rules[j].Kind
		}
		return rules[i].Value < rules[j].Value
	})
}

// Dedup removes duplicate (kind, value) pairs, keeping the first
// occurrence. The input order is preserved.
func Dedup(rules []Rule) []Rule {
	seen := make(map[string]struct{}, len(rules))
	out := rules[:0]
	for _, r := range rules {
		key := r.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, r)
	}
	return out
}
