// Package importer merges a CSV of new members into a base members file,
// geocoding only the addresses the base does not already have.
package importer

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/evyataryagoni/membermap/internal/geocode"
	"github.com/evyataryagoni/membermap/internal/logger"
	"github.com/evyataryagoni/membermap/internal/models"
)

// NewMembersCSVHeader is the layout of a new-members file. It carries no
// coordinates; those come from geocoding the address.
var NewMembersCSVHeader = []string{"name", "description", "address", "poste", "ville", "pays"}

// Resolver turns an address into coordinates
type Resolver interface {
	Resolve(ctx context.Context, address string) (geocode.Entry, error)
}

// Report summarizes a Merge run
type Report struct {
	Base       int      // rows in the base file
	Incoming   int      // rows in the new-members file
	Added      int      // geocoded and appended
	Existing   int      // skipped, address already in the base
	NoAddress  int      // skipped, empty address
	Unresolved []string // addresses nothing matched
}

// ReadNewMembersCSV parses name,description,address,poste,ville,pays rows.
// The first row is a header. Rows with fewer than six columns are skipped.
func ReadNewMembersCSV(r io.Reader) ([]models.MemberDraft, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "importer: read new members csv")
	}

	var drafts []models.MemberDraft
	for i, record := range records {
		if i == 0 || len(record) < len(NewMembersCSVHeader) {
			continue
		}
		drafts = append(drafts, models.MemberDraft{
			Name:        strings.TrimSpace(record[0]),
			Description: strings.TrimSpace(record[1]),
			Address:     strings.TrimSpace(record[2]),
			Poste:       strings.TrimSpace(record[3]),
			Ville:       strings.TrimSpace(record[4]),
			Pays:        strings.TrimSpace(record[5]),
		})
	}
	return drafts, nil
}

// Merge returns base followed by every incoming member whose address is new
// to base (compared case-insensitively) and resolves to coordinates.
// It only fails when ctx ends while waiting on the resolver.
func Merge(ctx context.Context, resolver Resolver, base, incoming []models.MemberDraft, log *logger.Logger) ([]models.MemberDraft, Report, error) {
	if log == nil {
		log = logger.Nop()
	}
	log = log.WithComponent("importer")

	report := Report{Base: len(base), Incoming: len(incoming)}

	known := make(map[string]struct{}, len(base))
	for _, m := range base {
		known[addressKey(m.Address)] = struct{}{}
	}

	merged := append([]models.MemberDraft(nil), base...)
	for _, m := range incoming {
		if m.Address == "" {
			report.NoAddress++
			continue
		}
		if _, ok := known[addressKey(m.Address)]; ok {
			log.Debug().Str("name", m.Name).Str("address", m.Address).Msg("Address already in base, skipping")
			report.Existing++
			continue
		}

		entry, err := resolver.Resolve(ctx, m.Address)
		if err != nil {
			return merged, report, eris.Wrapf(err, "importer: geocode %q", m.Address)
		}
		if !entry.Resolved {
			log.Warn().Str("name", m.Name).Str("address", m.Address).Msg("Could not geocode address")
			report.Unresolved = append(report.Unresolved, m.Address)
			continue
		}

		m.Latitude = entry.Coordinates.Latitude
		m.Longitude = entry.Coordinates.Longitude
		merged = append(merged, m)
		known[addressKey(m.Address)] = struct{}{}
		report.Added++
		log.Info().Str("name", m.Name).Msg("New member added")
	}

	return merged, report, nil
}

func addressKey(address string) string {
	return strings.ToLower(geocode.NormalizeAddress(address))
}
