package credentials

import (
	"context"
)

// Store is the persistence collaborator for credential records. Backends
// (postgres, sqlite, in-memory) are selected by the storage factory; the
// engines only see this interface.
//
// Implementations are responsible for encrypting SensitiveConfig at rest
// and for enforcing the one-record-per-(team, kind, integration id)
// invariant in Upsert.
type Store interface {
	// Get loads the record for the (team, kind, integration id) tuple.
	// Returns a not-found error when no record exists.
	Get(ctx context.Context, teamID string, kind Kind, integrationID string) (*Record, error)

	// GetByID loads a record by its id
	GetByID(ctx context.Context, id string) (*Record, error)

	// Upsert creates or replaces the record keyed on
	// (team, kind, integration id) and returns the persisted value.
	// A replaced record keeps its original id, creation timestamp, and
	// creator; configuration, secrets, and the error sentinel are taken
	// from the argument.
	Upsert(ctx context.Context, rec *Record) (*Record, error)

	// Save writes an existing record by id
	Save(ctx context.Context, rec *Record) error

	// ListByKinds returns every record whose kind is in kinds
	ListByKinds(ctx context.Context, kinds []Kind) ([]*Record, error)

	// ListByTeamAndKind returns a team's records of one kind
	ListByTeamAndKind(ctx context.Context, teamID string, kind Kind) ([]*Record, error)

	// DomainClaimedByOtherTeam reports whether any email-kind record of a
	// different team already claims the domain. Backs the global
	// domain-uniqueness rule of the email engine.
	DomainClaimedByOtherTeam(ctx context.Context, domain string, teamID string) (bool, error)
}
