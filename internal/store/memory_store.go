package store

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/evyataryagoni/membermap/internal/models"
)

// MemoryStore implements Store in process memory
// Members are kept newest first so List needs no sort
type MemoryStore struct {
	mu      sync.RWMutex
	members []models.Member
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// NewMemoryStoreFromCSV creates a store seeded from a members CSV file
// Rows are inserted in file order, so the last row is the most recent
//
// CSV Format: name,latitude,longitude,address,description,poste,ville,pays
func NewMemoryStoreFromCSV(filePath string) (*MemoryStore, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, eris.Wrapf(err, "store: open members csv %s", filePath)
	}
	defer file.Close()

	drafts, _, err := ReadMembersCSV(file)
	if err != nil {
		return nil, err
	}

	s := NewMemoryStore()
	for _, d := range drafts {
		if _, err := s.Create(context.Background(), d); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// List returns a copy of all members, most recent first
func (s *MemoryStore) List(_ context.Context) ([]models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Member, len(s.members))
	copy(out, s.members)
	return out, nil
}

// Get looks up a member by id
func (s *MemoryStore) Get(_ context.Context, id string) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil, ErrNotFound
	}
	m := s.members[i]
	return &m, nil
}

// Create stores a new member at the head of the list
func (s *MemoryStore) Create(_ context.Context, draft models.MemberDraft) (*models.Member, error) {
	m := newMember(uuid.NewString(), draft, s.now)

	s.mu.Lock()
	s.members = append([]models.Member{m}, s.members...)
	s.mu.Unlock()

	return &m, nil
}

// Update patches a member in place; its position does not change
func (s *MemoryStore) Update(_ context.Context, id string, patch models.MemberPatch) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return nil, ErrNotFound
	}

	m := s.members[i]
	patch.Apply(&m)
	m.UpdatedAt = s.now().UTC()
	s.members[i] = m
	return &m, nil
}

// Delete removes a member
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	s.members = append(s.members[:i], s.members[i+1:]...)
	return nil
}

// Close is a no-op; there is nothing to release
func (s *MemoryStore) Close() error {
	return nil
}

// indexOf must be called with mu held
func (s *MemoryStore) indexOf(id string) int {
	for i := range s.members {
		if s.members[i].ID == id {
			return i
		}
	}
	return -1
}
