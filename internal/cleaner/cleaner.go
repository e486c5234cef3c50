// Package cleaner reshapes member records written by older data-entry
// paths into their canonical form.
//
// Early imports packed role, city and country into the description
// ("Poste: Membre | Ville: Paris") and stored a free-text address that did
// not match the ville/pays columns. Clean repairs those known patterns and
// never rejects a record.
package cleaner

import (
	"strings"

	"github.com/evyataryagoni/membermap/internal/models"
)

const postePrefix = "poste:"

// Clean returns a normalized copy of m. It is pure and idempotent.
func Clean(m models.Member) models.Member {
	ville := strings.TrimSpace(m.Ville)
	pays := strings.TrimSpace(m.Pays)
	if ville != "" || pays != "" {
		m.Address = joinNonEmpty(ville, pays)
	}

	m.Description = cleanDescription(m.Description)
	return m
}

// CleanAll applies Clean to every member, returning a new slice
func CleanAll(members []models.Member) []models.Member {
	out := make([]models.Member, len(members))
	for i, m := range members {
		out[i] = Clean(m)
	}
	return out
}

func cleanDescription(desc string) string {
	if value, ok := posteValue(desc); ok {
		return strings.TrimSpace("Poste: " + value)
	}

	if desc == "" {
		return desc
	}

	lines := strings.Split(desc, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isLocationLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// posteValue extracts the value following the first "Poste:" marker,
// up to the end of the line or a " | " separator.
func posteValue(desc string) (string, bool) {
	idx := indexFold(desc, postePrefix)
	if idx < 0 {
		return "", false
	}

	rest := desc[idx+len(postePrefix):]
	if end := strings.IndexAny(rest, "\n|"); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimSpace(rest), true
}

// indexFold is a case-insensitive strings.Index for an ASCII needle.
// Offsets refer to s itself, which ToLower would not preserve.
func indexFold(s, needle string) int {
	for i := 0; i+len(needle) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(needle)], needle) {
			return i
		}
	}
	return -1
}

func isLocationLine(line string) bool {
	l := strings.ToLower(strings.TrimSpace(line))
	return strings.HasPrefix(l, "ville:") || strings.HasPrefix(l, "pays:")
}

func joinNonEmpty(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}
