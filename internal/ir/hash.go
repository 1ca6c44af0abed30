package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DomainProgram prefixes the program hash. The version suffix allows the
// hashed shape to change without colliding with older hashes.
const DomainProgram = "tagflow/program/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ProgramHash identifies a compiled program by its static structure:
// reactions with their levels, chain masks and deadlines, and triggers with
// their timing parameters. Bodies are not part of the identity.
func ProgramHash(p *Program) (string, error) {
	canonical, err := MarshalCanonical(CanonicalProgram(p))
	if err != nil {
		return "", fmt.Errorf("ProgramHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainProgram, canonical), nil
}

// CanonicalProgram renders the static structure of p as a value accepted
// by MarshalCanonical.
func CanonicalProgram(p *Program) map[string]any {
	reactions := make([]any, len(p.Reactions))
	for i, r := range p.Reactions {
		triggers := make([]string, len(r.Triggers))
		for j, t := range r.Triggers {
			triggers[j] = t.Name
		}
		effects := make([]string, len(r.Effects))
		for j, e := range r.Effects {
			effects[j] = e.Name
		}
		reactions[i] = map[string]any{
			"name":       r.Name,
			"level":      r.Level,
			"chain_mask": r.ChainMask,
			"deadline":   r.Deadline,
			"triggers":   triggers,
			"effects":    effects,
		}
	}

	triggers := make([]any, len(p.Triggers))
	for i, t := range p.Triggers {
		triggers[i] = map[string]any{
			"name":        t.Name,
			"kind":        t.Kind.String(),
			"offset":      t.Offset,
			"period":      t.Period,
			"min_spacing": t.MinSpacing,
			"policy":      t.Policy.String(),
		}
	}

	return map[string]any{
		"name":      p.Name,
		"reactions": reactions,
		"triggers":  triggers,
	}
}
