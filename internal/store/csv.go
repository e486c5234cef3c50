package store

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/evyataryagoni/membermap/internal/models"
)

// MembersCSVHeader is the column layout shared by the store seed file,
// the CLI seed command and the batch geocoder output.
var MembersCSVHeader = []string{"name", "latitude", "longitude", "address", "description", "poste", "ville", "pays"}

// ReadMembersCSV parses member rows.
// CSV Format: name,latitude,longitude,address,description,poste,ville,pays
// Example: Jean Dupont,48.8566,2.3522,Paris France,Membre fondateur,Président,Paris,France
//
// A header row is skipped. Rows with fewer than three columns or with
// unparseable coordinates are skipped and counted; trailing columns may
// be omitted.
func ReadMembersCSV(r io.Reader) ([]models.MemberDraft, int, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, 0, eris.Wrap(err, "store: read members csv")
	}

	var drafts []models.MemberDraft
	skipped := 0
	for i, record := range records {
		if i == 0 && len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), "name") {
			continue
		}
		draft, ok := parseMemberRecord(record)
		if !ok {
			skipped++
			continue
		}
		drafts = append(drafts, draft)
	}

	return drafts, skipped, nil
}

func parseMemberRecord(record []string) (models.MemberDraft, bool) {
	if len(record) < 3 {
		return models.MemberDraft{}, false
	}

	name := strings.TrimSpace(record[0])
	lat, latErr := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	lon, lonErr := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
	if name == "" || latErr != nil || lonErr != nil {
		return models.MemberDraft{}, false
	}
	if !(models.Coordinates{Latitude: lat, Longitude: lon}).Valid() {
		return models.MemberDraft{}, false
	}

	col := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	return models.MemberDraft{
		Name:        name,
		Latitude:    lat,
		Longitude:   lon,
		Address:     col(3),
		Description: col(4),
		Poste:       col(5),
		Ville:       col(6),
		Pays:        col(7),
	}, true
}

// WriteMembersCSV writes drafts with a header row.
func WriteMembersCSV(w io.Writer, drafts []models.MemberDraft) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(MembersCSVHeader); err != nil {
		return eris.Wrap(err, "store: write members csv header")
	}

	for _, d := range drafts {
		row := []string{
			d.Name,
			strconv.FormatFloat(d.Latitude, 'f', -1, 64),
			strconv.FormatFloat(d.Longitude, 'f', -1, 64),
			d.Address,
			d.Description,
			d.Poste,
			d.Ville,
			d.Pays,
		}
		if err := writer.Write(row); err != nil {
			return eris.Wrap(err, "store: write members csv row")
		}
	}

	writer.Flush()
	return eris.Wrap(writer.Error(), "store: flush members csv")
}
