// Package policy rewrites the default routing action of compiled script
// artifacts for bypass categories.
package policy

import (
	"strings"

	"github.com/xxxbrian/ruleset-forge/internal/compile"
	"github.com/xxxbrian/ruleset-forge/internal/resolver"
)

// Rewrite forces the direct action on script artifacts of categories
// tagged PolicyLocal. It is a textual transform over serialized lines,
// idempotent, and passes every other artifact through unchanged.
func Rewrite(a compile.Artifact, policyTag string) compile.Artifact {
	if policyTag != resolver.PolicyLocal {
		return a
	}
	if a.Format != (&compile.Script{}).Format() {
		return a
	}

	lines := strings.Split(string(a.Data), "\n")
	for i, line := range lines {
		if strings.HasSuffix(line, ","+compile.ActionProxy) {
			lines[i] = strings.TrimSuffix(line, compile.ActionProxy) + compile.ActionDirect
		}
	}

	out := a
	out.Data = []byte(strings.Join(lines, "\n"))
	return out
}
