// Package geocode resolves free-text postal addresses to coordinates.
//
// A Provider performs a single lookup against an external service and
// fails soft. Cache memoizes provider results per address, caches
// unresolvable addresses as well, spaces consecutive provider calls and
// optionally persists its mapping through a Backend.
package geocode

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/evyataryagoni/membermap/internal/models"
)

// Provider looks up a single address. A nil result means the address
// could not be resolved, for whatever reason.
type Provider interface {
	Geocode(ctx context.Context, address string) *models.Coordinates
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context, address string) *models.Coordinates

// Geocode calls f.
func (f ProviderFunc) Geocode(ctx context.Context, address string) *models.Coordinates {
	return f(ctx, address)
}

// Entry is a cached lookup outcome. The zero value is the unresolvable marker.
// On disk it is encoded as [lat, lon] or null.
type Entry struct {
	Coordinates models.Coordinates
	Resolved    bool
}

// ResolvedEntry builds an entry for a successful lookup.
func ResolvedEntry(lat, lon float64) Entry {
	return Entry{Coordinates: models.Coordinates{Latitude: lat, Longitude: lon}, Resolved: true}
}

// MarshalJSON encodes the entry as [lat, lon] or null.
func (e Entry) MarshalJSON() ([]byte, error) {
	if !e.Resolved {
		return []byte("null"), nil
	}
	return json.Marshal([2]float64{e.Coordinates.Latitude, e.Coordinates.Longitude})
}

// UnmarshalJSON decodes [lat, lon] or null.
func (e *Entry) UnmarshalJSON(data []byte) error {
	if strings.TrimSpace(string(data)) == "null" {
		*e = Entry{}
		return nil
	}

	var pair []float64
	if err := json.Unmarshal(data, &pair); err != nil {
		return eris.Wrap(err, "geocode: decode cache entry")
	}
	if len(pair) != 2 {
		return eris.Errorf("geocode: cache entry has %d values, want 2", len(pair))
	}
	*e = ResolvedEntry(pair[0], pair[1])
	return nil
}

// NormalizeAddress trims the address and collapses inner whitespace.
// Case is preserved: cache keys are case-sensitive.
func NormalizeAddress(address string) string {
	return strings.Join(strings.Fields(address), " ")
}
