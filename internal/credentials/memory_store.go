package credentials

import (
	"context"
	"sync"

	"credhub/internal/common/errors"
)

// MemoryStore is an in-memory Store used by tests and single-binary dev
// runs. Secrets are held in plaintext; production deployments use the
// encrypting database backends from the storage package.
type MemoryStore struct {
	mu      sync.RWMutex
	byID    map[string]*Record
	byTuple map[tupleKey]string // (team, kind, integration id) -> record id
}

type tupleKey struct {
	teamID        string
	kind          Kind
	integrationID string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*Record),
		byTuple: make(map[tupleKey]string),
	}
}

func (s *MemoryStore) Get(ctx context.Context, teamID string, kind Kind, integrationID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byTuple[tupleKey{teamID, kind, integrationID}]
	if !ok {
		return nil, errors.NotFoundError("credential")
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byID[id]
	if !ok {
		return nil, errors.NotFoundError("credential")
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Upsert(ctx context.Context, rec *Record) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tupleKey{rec.TeamID, rec.Kind, rec.IntegrationID}
	stored := rec.Clone()

	if existingID, ok := s.byTuple[key]; ok {
		existing := s.byID[existingID]
		// Keep identity and provenance of the original record
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
		if existing.CreatedBy != "" {
			stored.CreatedBy = existing.CreatedBy
		}
	}

	s.byID[stored.ID] = stored
	s.byTuple[key] = stored.ID
	return stored.Clone(), nil
}

func (s *MemoryStore) Save(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.byID[rec.ID]
	if !ok {
		return errors.NotFoundError("credential")
	}

	// The tuple key is immutable; only configuration and state change
	stored := rec.Clone()
	stored.TeamID = existing.TeamID
	stored.Kind = existing.Kind
	stored.IntegrationID = existing.IntegrationID
	s.byID[rec.ID] = stored
	return nil
}

func (s *MemoryStore) ListByKinds(ctx context.Context, kinds []Kind) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}

	var out []*Record
	for _, rec := range s.byID {
		if wanted[rec.Kind] {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) ListByTeamAndKind(ctx context.Context, teamID string, kind Kind) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, rec := range s.byID {
		if rec.TeamID == teamID && rec.Kind == kind {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) DomainClaimedByOtherTeam(ctx context.Context, domain string, teamID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, rec := range s.byID {
		if rec.Kind == KindEmail && rec.TeamID != teamID && rec.Config[ConfigDomain] == domain {
			return true, nil
		}
	}
	return false, nil
}
