// Package normalize converts raw source lines from every supported
// upstream syntax into the shared rule model.
package normalize

import (
	"errors"
	"fmt"
	"regexp"
	"regexp/syntax"
	"strings"

	"github.com/xxxbrian/ruleset-forge/internal/rule"
)

// ErrUnrecognizedSyntax reports a line that matches no known source
// syntax. Callers drop the line and continue.
var ErrUnrecognizedSyntax = errors.New("unrecognized rule syntax")

// LineKind distinguishes what a parsed line produced.
type LineKind int

const (
	LineBlank   LineKind = iota // comment or empty line, nothing to do
	LineRule                    // one normalized rule
	LineInclude                 // include directive for the resolver
)

// Parsed is the result of normalizing one raw line.
type Parsed struct {
	Kind    LineKind
	Rule    rule.Rule
	Include string
}

var domainPattern = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9\-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// Parse normalizes a single raw line from any supported source syntax.
// category is recorded as rule provenance.
//
// Recognized syntaxes: comment lines, v2fly attribute lines
// (domain:/full:/keyword:/regexp:/include:), classical TYPE,VALUE lines,
// leading-dot and +. suffix markers, dnsmasq server=/domain/ lines, bare
// CIDRs and bare domains.
func Parse(line, category string) (Parsed, error) {
	line = strings.TrimSpace(strings.TrimSuffix(line, "\r"))
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "//") {
		return Parsed{Kind: LineBlank}, nil
	}

	switch {
	case strings.HasPrefix(line, "include:"):
		name := strings.TrimSpace(strings.TrimPrefix(firstField(line), "include:"))
		if name == "" {
			return Parsed{}, fmt.Errorf("%w: empty include: %q", ErrUnrecognizedSyntax, line)
		}
		return Parsed{Kind: LineInclude, Include: name}, nil
	case strings.HasPrefix(line, "domain:"):
		return ruleLine(rule.DomainSuffix, strings.TrimPrefix(firstField(line), "domain:"), category)
	case strings.HasPrefix(line, "full:"):
		return ruleLine(rule.Domain, strings.TrimPrefix(firstField(line), "full:"), category)
	case strings.HasPrefix(line, "keyword:"):
		return ruleLine(rule.DomainKeyword, strings.TrimPrefix(firstField(line), "keyword:"), category)
	case strings.HasPrefix(line, "regexp:"):
		return regexLine(strings.TrimPrefix(firstField(line), "regexp:"), category)
	}

	if parsed, ok, err := classicalLine(line, category); ok || err != nil {
		return parsed, err
	}

	switch {
	case strings.HasPrefix(line, "+."):
		return ruleLine(rule.DomainSuffix, line[2:], category)
	case strings.HasPrefix(line, "."):
		return ruleLine(rule.DomainSuffix, line[1:], category)
	case strings.HasPrefix(line, "server=/"):
		rest := strings.TrimPrefix(line, "server=/")
		if idx := strings.Index(rest, "/"); idx > 0 {
			return ruleLine(rule.Domain, rest[:idx], category)
		}
		return Parsed{}, fmt.Errorf("%w: %q", ErrUnrecognizedSyntax, line)
	case strings.Contains(line, "/"):
		kind, err := rule.ParseCIDR(line)
		if err != nil {
			return Parsed{}, err
		}
		return Parsed{Kind: LineRule, Rule: rule.Rule{Kind: kind, Value: line, SourceCategory: category}}, nil
	case domainPattern.MatchString(line):
		return ruleLine(rule.Domain, line, category)
	}

	return Parsed{}, fmt.Errorf("%w: %q", ErrUnrecognizedSyntax, line)
}

// classicalLine handles TYPE,VALUE lines as found in surge-style lists.
// A trailing ACTION or no-resolve token is tolerated and dropped.
func classicalLine(line, category string) (Parsed, bool, error) {
	comma := strings.Index(line, ",")
	if comma < 0 {
		return Parsed{}, false, nil
	}

	typ := strings.ToUpper(strings.TrimSpace(line[:comma]))
	value := strings.TrimSpace(line[comma+1:])
	if idx := strings.Index(value, ","); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	if value == "" {
		return Parsed{}, false, fmt.Errorf("%w: empty value: %q", ErrUnrecognizedSyntax, line)
	}

	var kind rule.Kind
	switch typ {
	case "DOMAIN":
		kind = rule.Domain
	case "DOMAIN-SUFFIX":
		kind = rule.DomainSuffix
	case "DOMAIN-KEYWORD":
		kind = rule.DomainKeyword
	case "PROCESS-NAME":
		kind = rule.ProcessName
	case "IP-CIDR", "IP-CIDR6":
		parsedKind, err := rule.ParseCIDR(value)
		if err != nil {
			return Parsed{}, false, err
		}
		if typ == "IP-CIDR6" && parsedKind != rule.IPCIDR6 {
			return Parsed{}, false, fmt.Errorf("%w: %s is not IPv6: %q", rule.ErrInvalidCIDR, value, line)
		}
		kind = parsedKind
	default:
		return Parsed{}, false, nil
	}

	return Parsed{Kind: LineRule, Rule: rule.Rule{Kind: kind, Value: value, SourceCategory: category}}, true, nil
}

// regexLine validates the expression before accepting it; a pattern that
// does not parse cannot be rendered by any target.
func regexLine(value, category string) (Parsed, error) {
	if _, err := syntax.Parse(value, syntax.Perl); err != nil {
		return Parsed{}, fmt.Errorf("%w: bad regexp %q: %v", ErrUnrecognizedSyntax, value, err)
	}
	return ruleLine(rule.DomainRegex, value, category)
}

func ruleLine(kind rule.Kind, value, category string) (Parsed, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Parsed{}, fmt.Errorf("%w: empty value", ErrUnrecognizedSyntax)
	}
	return Parsed{Kind: LineRule, Rule: rule.Rule{Kind: kind, Value: value, SourceCategory: category}}, nil
}

// firstField strips trailing v2fly attribute annotations ("@cn" etc.)
// from an attribute-style line.
func firstField(line string) string {
	if idx := strings.IndexAny(line, " \t"); idx >= 0 {
		return line[:idx]
	}
	return line
}
