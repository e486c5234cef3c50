package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/evyataryagoni/membermap/internal/models"
)

// MockStore is a test double for the Store interface
// It allows tests to control behavior and verify interactions
type MockStore struct {
	mu sync.Mutex

	// Members holds the mock rows, newest first
	Members []models.Member

	// Track method calls for verification in tests
	ListCalls   int
	GetCalls    []string
	CreateCalls []models.MemberDraft
	UpdateCalls []string
	DeleteCalls []string
	CloseCalled bool

	// Control behavior for error scenarios
	ListError   error
	GetError    error
	CreateError error
	UpdateError error
	DeleteError error
	CloseError  error

	nextID int
}

// NewMockStore creates a mock store holding two members
func NewMockStore() *MockStore {
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return &MockStore{
		Members: []models.Member{
			{
				ID: "m-2", Name: "Marie Martin", Latitude: 45.764, Longitude: 4.8357,
				Address: "Lyon France", Poste: "Secrétaire", Ville: "Lyon", Pays: "France",
				CreatedAt: created.Add(time.Hour), UpdatedAt: created.Add(time.Hour),
			},
			{
				ID: "m-1", Name: "Jean Dupont", Latitude: 48.8566, Longitude: 2.3522,
				Address: "Paris France", Poste: "Président", Ville: "Paris", Pays: "France",
				CreatedAt: created, UpdatedAt: created,
			},
		},
	}
}

// NewEmptyMockStore creates a mock store with no data
func NewEmptyMockStore() *MockStore {
	return &MockStore{}
}

// List implements the Store interface
func (m *MockStore) List(_ context.Context) ([]models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ListCalls++
	if m.ListError != nil {
		return nil, m.ListError
	}
	out := make([]models.Member, len(m.Members))
	copy(out, m.Members)
	return out, nil
}

// Get implements the Store interface
func (m *MockStore) Get(_ context.Context, id string) (*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GetCalls = append(m.GetCalls, id)
	if m.GetError != nil {
		return nil, m.GetError
	}
	for _, member := range m.Members {
		if member.ID == id {
			found := member
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// Create implements the Store interface; ids are mock-1, mock-2, ...
func (m *MockStore) Create(_ context.Context, draft models.MemberDraft) (*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CreateCalls = append(m.CreateCalls, draft)
	if m.CreateError != nil {
		return nil, m.CreateError
	}

	m.nextID++
	member := newMember(fmt.Sprintf("mock-%d", m.nextID), draft, time.Now)
	m.Members = append([]models.Member{member}, m.Members...)
	return &member, nil
}

// Update implements the Store interface
func (m *MockStore) Update(_ context.Context, id string, patch models.MemberPatch) (*models.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.UpdateCalls = append(m.UpdateCalls, id)
	if m.UpdateError != nil {
		return nil, m.UpdateError
	}
	for i := range m.Members {
		if m.Members[i].ID == id {
			patch.Apply(&m.Members[i])
			m.Members[i].UpdatedAt = time.Now().UTC()
			updated := m.Members[i]
			return &updated, nil
		}
	}
	return nil, ErrNotFound
}

// Delete implements the Store interface
func (m *MockStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.DeleteCalls = append(m.DeleteCalls, id)
	if m.DeleteError != nil {
		return m.DeleteError
	}
	for i := range m.Members {
		if m.Members[i].ID == id {
			m.Members = append(m.Members[:i], m.Members[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Close implements the Store interface
// Tracks that close was called and returns configured error if any
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CloseCalled = true
	return m.CloseError
}
