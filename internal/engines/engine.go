// Package engines defines the CredentialEngine contract implemented by
// each provider protocol family, and the registry that dispatches a
// provider kind to its engine. Kind dispatch happens here, once, at the
// boundary; call sites never branch on kind strings.
package engines

import (
	"context"
	"sync"

	"credhub/internal/common/errors"
	"credhub/internal/credentials"
)

// CredentialEngine is one protocol family's credential lifecycle: it
// knows how to decide whether a record is near expiry and how to refresh
// it in place. Creation entry points (code exchange, installation
// exchange, domain create) are engine-specific and not part of this
// interface.
type CredentialEngine interface {
	// Kinds lists the provider kinds this engine governs
	Kinds() []credentials.Kind

	// IsDueForRefresh implements the refresh decision for this family.
	// Records without the family's refresh secret are never due.
	IsDueForRefresh(rec *credentials.Record) bool

	// Refresh obtains a fresh token and returns the updated record value.
	// A provider-rejected refresh is a completed, non-exceptional outcome:
	// the returned record carries the refresh-failed sentinel and err is
	// nil. err is reserved for infrastructure faults (store, configuration).
	Refresh(ctx context.Context, rec *credentials.Record) (*credentials.Record, error)
}

// Notifier is the fire-and-forget "credentials changed" collaborator.
// Dependent long-running workers subscribe so they reload tokens without
// a restart.
type Notifier interface {
	CredentialsChanged(ctx context.Context, teamID string, credentialIDs []string)
}

// NopNotifier discards change signals
type NopNotifier struct{}

func (NopNotifier) CredentialsChanged(context.Context, string, []string) {}

// Registry maps provider kinds to their engines
type Registry struct {
	mu      sync.RWMutex
	engines map[credentials.Kind]CredentialEngine
}

// NewRegistry creates an empty engine registry
func NewRegistry() *Registry {
	return &Registry{engines: make(map[credentials.Kind]CredentialEngine)}
}

// Register adds an engine for every kind it governs
func (r *Registry) Register(engine CredentialEngine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, kind := range engine.Kinds() {
		r.engines[kind] = engine
	}
}

// For returns the engine governing the kind
func (r *Registry) For(kind credentials.Kind) (CredentialEngine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	engine, ok := r.engines[kind]
	if !ok {
		return nil, errors.NotFoundError("engine for kind " + string(kind))
	}
	return engine, nil
}
