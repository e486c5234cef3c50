package store

import (
	"context"
	"errors"
	"time"

	"github.com/evyataryagoni/membermap/internal/models"
)

// ErrNotFound is returned when no member has the requested id
var ErrNotFound = errors.New("member not found")

// Store defines the persistence operations on the members table
// Allows multiple implementations (memory, MySQL, Redis) and easy testing with mocks
type Store interface {
	// List returns every member, most recently created first
	List(ctx context.Context) ([]models.Member, error)

	// Get returns one member or ErrNotFound
	Get(ctx context.Context, id string) (*models.Member, error)

	// Create assigns an id and timestamps and persists the draft
	Create(ctx context.Context, draft models.MemberDraft) (*models.Member, error)

	// Update applies the patch, refreshes updatedAt and returns the new row
	Update(ctx context.Context, id string, patch models.MemberPatch) (*models.Member, error)

	// Delete removes the member or returns ErrNotFound
	Delete(ctx context.Context, id string) error

	// Close cleans up resources (database connections, clients, etc.)
	Close() error
}

// newMember builds a fresh row from a draft
func newMember(id string, draft models.MemberDraft, now func() time.Time) models.Member {
	ts := now().UTC()
	return models.Member{
		ID:          id,
		Name:        draft.Name,
		Latitude:    draft.Latitude,
		Longitude:   draft.Longitude,
		Address:     draft.Address,
		Description: draft.Description,
		Poste:       draft.Poste,
		Ville:       draft.Ville,
		Pays:        draft.Pays,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}
}
