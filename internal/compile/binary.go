package compile

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/xxxbrian/ruleset-forge/internal/resolver"
	"github.com/xxxbrian/ruleset-forge/internal/rule"
)

// Binary compiles the compact indexed matcher format loaded directly by
// the routing engine.
//
// Layout: 4-byte magic, 1-byte version, then one section per supported
// kind in fixed order. Each section is a kind byte, a uvarint entry
// count, and the entries: length-prefixed strings for domain kinds,
// prefix-length byte plus raw address bytes for CIDR kinds. Entries are
// written in canonical rule order, so identical rule sets produce
// identical bytes.
type Binary struct{}

var binaryMagic = [4]byte{'R', 'S', 'F', 'B'}

const binaryVersion = 1

// binarySections is the fixed section order of the format.
var binarySections = []rule.Kind{
	rule.Domain,
	rule.DomainSuffix,
	rule.DomainKeyword,
	rule.IPCIDR,
	rule.IPCIDR6,
}

func (b *Binary) Format() string { return "binary" }
func (b *Binary) Ext() string    { return "srs" }

func (b *Binary) Supports(k rule.Kind) bool {
	switch k {
	case rule.Domain, rule.DomainSuffix, rule.DomainKeyword, rule.IPCIDR, rule.IPCIDR6:
		return true
	}
	return false
}

func (b *Binary) Compile(flat resolver.Flattened) (Artifact, error) {
	rules, skipped := supported(b, flat)

	byKind := make(map[rule.Kind][]rule.Rule, len(binarySections))
	for _, r := range rules {
		byKind[r.Kind] = append(byKind[r.Kind], r)
	}

	var buf bytes.Buffer
	buf.Write(binaryMagic[:])
	buf.WriteByte(binaryVersion)

	for _, kind := range binarySections {
		section := byKind[kind]
		buf.WriteByte(byte(kind))
		buf.Write(binary.AppendUvarint(nil, uint64(len(section))))
		for _, r := range section {
			if err := writeBinaryEntry(&buf, r); err != nil {
				return Artifact{}, fmt.Errorf("category %s: %w", flat.Name, err)
			}
		}
	}

	return Artifact{
		Format:   b.Format(),
		Category: flat.Name,
		Ext:      b.Ext(),
		Data:     buf.Bytes(),
		Skipped:  skipped,
	}, nil
}

func writeBinaryEntry(buf *bytes.Buffer, r rule.Rule) error {
	switch r.Kind {
	case rule.IPCIDR, rule.IPCIDR6:
		prefix, err := netip.ParsePrefix(r.Value)
		if err != nil {
			return fmt.Errorf("%w: %s", rule.ErrInvalidCIDR, r.Value)
		}
		buf.WriteByte(byte(prefix.Bits()))
		addr := prefix.Addr().AsSlice()
		buf.Write(addr)
	default:
		buf.Write(binary.AppendUvarint(nil, uint64(len(r.Value))))
		buf.WriteString(r.Value)
	}
	return nil
}
