// Package emaildomain manages native email sending domains: creation
// against one of two interchangeable mail providers, DNS-based
// verification, and propagation of the verified flag across a tenant's
// records on the same domain.
package emaildomain

import (
	"context"
	"strings"

	"credhub/internal/common/errors"
	"credhub/internal/common/logging"
	"credhub/internal/credentials"
	"credhub/internal/engines"
)

// VerificationStatus is the provider's answer for a domain
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusVerified VerificationStatus = "success"
)

// DNSRecord is one record the tenant must publish for verification
type DNSRecord struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Value  string `json:"value"`
	Status string `json:"status,omitempty"`
}

// VerificationResult is the outcome of a verification query
type VerificationResult struct {
	Status     VerificationStatus `json:"status"`
	DNSRecords []DNSRecord        `json:"dns_records"`
}

// Backend abstracts the mail provider. The provider name is persisted in
// the record's public configuration and routes later calls back here.
type Backend interface {
	Name() string
	// CreateDomain registers the domain with the provider and returns any
	// secret material to store with the record
	CreateDomain(ctx context.Context, domain string) (map[string]string, error)
	// Verify queries the provider's DNS verification state
	Verify(ctx context.Context, rec *credentials.Record) (*VerificationResult, error)
}

// freeEmailDomains are consumer mailbox providers a tenant can never
// claim as a sending domain.
var freeEmailDomains = map[string]struct{}{
	"gmail.com":       {},
	"googlemail.com":  {},
	"yahoo.com":       {},
	"hotmail.com":     {},
	"outlook.com":     {},
	"live.com":        {},
	"aol.com":         {},
	"icloud.com":      {},
	"me.com":          {},
	"proton.me":       {},
	"protonmail.com":  {},
	"gmx.com":         {},
	"zoho.com":        {},
	"mail.com":        {},
	"yandex.com":      {},
}

// disposableEmailDomains are throwaway inbox services
var disposableEmailDomains = map[string]struct{}{
	"mailinator.com":    {},
	"guerrillamail.com": {},
	"10minutemail.com":  {},
	"yopmail.com":       {},
	"temp-mail.org":     {},
	"tempmail.com":      {},
	"trashmail.com":     {},
	"sharklasers.com":   {},
	"getnada.com":       {},
	"dispostable.com":   {},
}

// Engine implements the email-domain credential lifecycle
type Engine struct {
	store    credentials.Store
	backends map[string]Backend
	notifier engines.Notifier
	logger   logging.Logger
}

// Options configures an Engine
type Options struct {
	Store    credentials.Store
	Backends []Backend
	Notifier engines.Notifier
	Logger   logging.Logger
}

// NewEngine creates the email-domain engine
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	if opts.Notifier == nil {
		opts.Notifier = engines.NopNotifier{}
	}
	backends := make(map[string]Backend, len(opts.Backends))
	for _, b := range opts.Backends {
		backends[b.Name()] = b
	}
	return &Engine{
		store:    opts.Store,
		backends: backends,
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
}

// Kinds implements engines.CredentialEngine
func (e *Engine) Kinds() []credentials.Kind {
	return []credentials.Kind{credentials.KindEmail}
}

// IsDueForRefresh always reports false: email-domain credentials carry
// no expiring token. They enter the registry only for engine dispatch.
func (e *Engine) IsDueForRefresh(*credentials.Record) bool {
	return false
}

// Refresh is a no-op for email-domain credentials
func (e *Engine) Refresh(_ context.Context, rec *credentials.Record) (*credentials.Record, error) {
	return rec, nil
}

// Create registers a sending domain with the named provider and upserts
// an unverified credential record. Free and disposable mailbox domains
// are rejected, as is any domain already claimed by another tenant.
func (e *Engine) Create(ctx context.Context, teamID, createdBy, domain, subdomain, provider string) (*credentials.Record, error) {
	domain = normalizeDomain(domain)
	if err := validateDomain(domain); err != nil {
		return nil, err
	}

	backend, ok := e.backends[provider]
	if !ok {
		return nil, errors.ValidationError("unknown email provider: " + provider)
	}

	claimed, err := e.store.DomainClaimedByOtherTeam(ctx, domain, teamID)
	if err != nil {
		return nil, err
	}
	if claimed {
		return nil, errors.ValidationError("domain is already in use by another team")
	}

	secrets, err := backend.CreateDomain(ctx, domain)
	if err != nil {
		return nil, err
	}

	integrationID := domain
	if subdomain != "" {
		integrationID = subdomain + "." + domain
	}

	rec := credentials.NewRecord(teamID, credentials.KindEmail, integrationID)
	rec.CreatedBy = createdBy
	rec.Config[credentials.ConfigDomain] = domain
	rec.Config[credentials.ConfigProvider] = provider
	rec.Config[credentials.ConfigVerified] = "false"
	for k, v := range secrets {
		rec.SensitiveConfig[k] = v
	}

	persisted, err := e.store.Upsert(ctx, rec)
	if err != nil {
		return nil, err
	}

	e.logger.Info("Email domain registered",
		logging.String("team_id", teamID),
		logging.String("domain", domain),
		logging.String("provider", provider))

	return persisted, nil
}

// Verify queries the provider's DNS verification state for the record.
// When the domain has become verified, the flag is propagated to every
// other record of the same team on the same domain and provider, so one
// verified domain covers all its mailbox identities.
func (e *Engine) Verify(ctx context.Context, rec *credentials.Record) (*VerificationResult, error) {
	provider := rec.Config[credentials.ConfigProvider]
	backend, ok := e.backends[provider]
	if !ok {
		return nil, errors.ValidationError("unknown email provider: " + provider)
	}

	result, err := backend.Verify(ctx, rec)
	if err != nil {
		return nil, err
	}

	if result.Status != StatusVerified || rec.Config[credentials.ConfigVerified] == "true" {
		return result, nil
	}

	changed, err := e.markDomainVerified(ctx, rec)
	if err != nil {
		return nil, err
	}
	if len(changed) > 0 {
		e.notifier.CredentialsChanged(ctx, rec.TeamID, changed)
	}

	e.logger.Info("Email domain verified",
		logging.String("team_id", rec.TeamID),
		logging.String("domain", rec.Config[credentials.ConfigDomain]),
		logging.Int("records_updated", len(changed)))

	return result, nil
}

// markDomainVerified flips the verified flag on the record and on every
// sibling record sharing its domain and provider.
func (e *Engine) markDomainVerified(ctx context.Context, rec *credentials.Record) ([]string, error) {
	siblings, err := e.store.ListByTeamAndKind(ctx, rec.TeamID, credentials.KindEmail)
	if err != nil {
		return nil, err
	}

	domain := rec.Config[credentials.ConfigDomain]
	provider := rec.Config[credentials.ConfigProvider]

	var changed []string
	for _, sibling := range siblings {
		if sibling.Config[credentials.ConfigDomain] != domain ||
			sibling.Config[credentials.ConfigProvider] != provider {
			continue
		}
		if sibling.Config[credentials.ConfigVerified] == "true" {
			continue
		}
		updated := sibling.Clone()
		updated.Config[credentials.ConfigVerified] = "true"
		if err := e.store.Save(ctx, updated); err != nil {
			return changed, err
		}
		changed = append(changed, updated.ID)
	}
	return changed, nil
}

func normalizeDomain(domain string) string {
	return strings.ToLower(strings.TrimSpace(domain))
}

func validateDomain(domain string) error {
	if domain == "" || !strings.Contains(domain, ".") ||
		strings.ContainsAny(domain, " /@:") {
		return errors.ValidationError("not a valid domain name")
	}
	if _, ok := freeEmailDomains[domain]; ok {
		return errors.ValidationError("free email domains cannot be used as sending domains")
	}
	if _, ok := disposableEmailDomains[domain]; ok {
		return errors.ValidationError("disposable email domains cannot be used as sending domains")
	}
	return nil
}
