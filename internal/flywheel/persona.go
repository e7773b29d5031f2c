package flywheel

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// personaHashLength is the number of hex characters kept from the digest.
// 64 bits is plenty for cohort keys while staying readable in logs and URLs.
const personaHashLength = 16

// PersonaHash derives the anonymized cohort key from coarse profile
// attributes. Goals are sorted first so equivalent goal sets always hash the
// same regardless of client order. Exact income amounts and notes text are
// deliberately excluded: cohorts group on coarse attributes only.
func PersonaHash(ageGroup, incomeLevel, occupation string, goals []string) string {
	sorted := make([]string, 0, len(goals))
	for _, g := range goals {
		g = strings.TrimSpace(g)
		if g != "" {
			sorted = append(sorted, g)
		}
	}
	sort.Strings(sorted)

	parts := []string{
		normalizeAttribute(ageGroup),
		normalizeAttribute(incomeLevel),
		normalizeAttribute(occupation),
		strings.Join(sorted, ","),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:personaHashLength]
}

func normalizeAttribute(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}
