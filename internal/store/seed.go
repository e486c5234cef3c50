package store

import (
	"context"
	"os"

	"github.com/rotisserie/eris"

	"github.com/evyataryagoni/membermap/internal/models"
)

// Seed creates every draft in order, so the last draft ends up newest.
// It stops at the first failure and returns how many were created.
func Seed(ctx context.Context, st Store, drafts []models.MemberDraft) (int, error) {
	for i, draft := range drafts {
		if _, err := st.Create(ctx, draft); err != nil {
			return i, eris.Wrapf(err, "store: seed member %q", draft.Name)
		}
	}
	return len(drafts), nil
}

// SeedFromCSVIfEmpty loads the members CSV at path into st when st holds no
// members. It returns the number of members created.
func SeedFromCSVIfEmpty(ctx context.Context, st Store, path string) (int, error) {
	if path == "" {
		return 0, nil
	}

	existing, err := st.List(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "store: check for existing members")
	}
	if len(existing) > 0 {
		return 0, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return 0, eris.Wrapf(err, "store: open %s", path)
	}
	defer file.Close()

	drafts, _, err := ReadMembersCSV(file)
	if err != nil {
		return 0, err
	}
	return Seed(ctx, st, drafts)
}
