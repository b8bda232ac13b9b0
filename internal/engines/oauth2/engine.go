// Package oauth2 implements the generic authorization-code and
// refresh-grant flow shared by the OAuth-capable provider kinds. Per-kind
// protocol quirks (auth style, sandbox fallback, introspection, account
// id resolution) are driven by the provider descriptor, never by kind
// branching at call sites.
package oauth2

import (
	"context"
	"net/http"
	"time"

	"credhub/internal/common/errors"
	"credhub/internal/common/httpclient"
	"credhub/internal/common/logging"
	"credhub/internal/credentials"
	"credhub/internal/engines"
	"credhub/internal/metrics"
	"credhub/internal/providers"
)

// Sensitive configuration keys written by this engine
const (
	secretAccessToken  = "access_token"
	secretRefreshToken = "refresh_token"
	secretIDToken      = "id_token"
)

// DescriptorSource resolves kinds to provider protocol descriptors.
// Satisfied by *providers.Registry.
type DescriptorSource interface {
	Describe(kind credentials.Kind) (*providers.Descriptor, error)
}

// Engine drives the OAuth2 lifecycle for every OAuth-capable kind
type Engine struct {
	registry   DescriptorSource
	store      credentials.Store
	httpClient *http.Client
	breaker    *httpclient.Breaker
	metrics    *metrics.Metrics
	notifier   engines.Notifier
	logger     logging.Logger

	// callbackURL is the fixed redirect target registered with every
	// provider, e.g. https://app.example.com/integrations/callback
	callbackURL string

	now func() time.Time
}

// Options configures an Engine
type Options struct {
	Registry    DescriptorSource
	Store       credentials.Store
	HTTPClient  *http.Client
	Metrics     *metrics.Metrics
	Notifier    engines.Notifier
	Logger      logging.Logger
	CallbackURL string
}

// NewEngine creates the OAuth2 flow engine
func NewEngine(opts Options) *Engine {
	if opts.HTTPClient == nil {
		opts.HTTPClient = httpclient.NewDefaultClient()
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	if opts.Notifier == nil {
		opts.Notifier = engines.NopNotifier{}
	}

	return &Engine{
		registry:    opts.Registry,
		store:       opts.Store,
		httpClient:  opts.HTTPClient,
		breaker:     httpclient.NewBreaker("oauth2-token", httpclient.TokenEndpointConfig, opts.Logger),
		metrics:     opts.Metrics,
		notifier:    opts.Notifier,
		logger:      opts.Logger,
		callbackURL: opts.CallbackURL,
		now:         time.Now,
	}
}

// Kinds implements engines.CredentialEngine
func (e *Engine) Kinds() []credentials.Kind {
	return credentials.OAuthKinds
}

// IsDueForRefresh reports whether the record's token has passed half its
// lifetime. Records without a refresh token are never due: there is
// nothing to refresh them with. A missing expires_in falls back to the
// kind's conservative default when the descriptor declares one.
func (e *Engine) IsDueForRefresh(rec *credentials.Record) bool {
	if rec.SensitiveConfig[secretRefreshToken] == "" {
		return false
	}

	expiresIn, ok := rec.ConfigInt64(credentials.ConfigExpiresIn)
	if !ok || expiresIn <= 0 {
		descriptor, err := e.registry.Describe(rec.Kind)
		if err != nil || descriptor.DefaultExpiresIn <= 0 {
			return false
		}
		expiresIn = descriptor.DefaultExpiresIn
	}

	refreshedAt, ok := rec.ConfigInt64(credentials.ConfigRefreshedAt)
	if !ok {
		return false
	}

	threshold := expiresIn / 2
	return e.now().Unix() > refreshedAt+expiresIn-threshold
}

// ExchangeCode redeems an authorization code for tokens, resolves the
// remote account, and upserts the credential record keyed on
// (team, kind, account id). Errors here are synchronous and fail the
// whole creation flow.
func (e *Engine) ExchangeCode(ctx context.Context, kind credentials.Kind, teamID, createdBy, code string) (*credentials.Record, error) {
	descriptor, err := e.registry.Describe(kind)
	if err != nil {
		return nil, err
	}

	tokenResp, err := e.requestToken(ctx, descriptor, authorizationCodeGrant(descriptor, code, e.callbackURL))
	if err != nil && descriptor.SandboxTokenURL != "" {
		e.logger.Warn("Token exchange failed, retrying against sandbox endpoint",
			logging.Any("kind", kind),
			logging.Err(err))
		sandbox := *descriptor
		sandbox.TokenURL = descriptor.SandboxTokenURL
		tokenResp, err = e.requestToken(ctx, &sandbox, authorizationCodeGrant(descriptor, code, e.callbackURL))
	}
	if err != nil {
		if e.metrics != nil {
			e.metrics.ObserveExchange(string(kind), false)
		}
		return nil, err
	}

	accountID, accountName := e.resolveAccount(ctx, descriptor, tokenResp)
	if accountID == "" {
		if e.metrics != nil {
			e.metrics.ObserveExchange(string(kind), false)
		}
		return nil, errors.ExchangeError("could not resolve remote account id from token response", nil)
	}

	rec := credentials.NewRecord(teamID, kind, accountID)
	rec.CreatedBy = createdBy
	if accountName != "" {
		rec.Config["account_name"] = accountName
	}
	applyTokenResponse(rec, descriptor, tokenResp, e.now())

	persisted, err := e.store.Upsert(ctx, rec)
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ObserveExchange(string(kind), true)
	}
	e.logger.Info("Credential created",
		logging.Any("kind", kind),
		logging.String("team_id", teamID),
		logging.String("integration_id", accountID))

	return persisted, nil
}

// Refresh redeems the stored refresh token for a new access token and
// returns a new record value. Provider rejection is recorded state, not
// an error: the sentinel is set, the metric incremented, and the caller
// sees a completed outcome.
func (e *Engine) Refresh(ctx context.Context, rec *credentials.Record) (*credentials.Record, error) {
	descriptor, err := e.registry.Describe(rec.Kind)
	if err != nil {
		return nil, err
	}

	refreshToken := rec.SensitiveConfig[secretRefreshToken]
	if refreshToken == "" {
		return nil, errors.ValidationError("credential has no refresh token")
	}

	tokenResp, err := e.requestToken(ctx, descriptor, refreshTokenGrant(descriptor, refreshToken))
	if err != nil {
		return e.recordRefreshFailure(ctx, rec, err)
	}

	updated := rec.Clone()
	applyTokenResponse(updated, descriptor, tokenResp, e.now())
	if err := e.store.Save(ctx, updated); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ObserveRefresh(string(rec.Kind), true)
	}
	e.notifier.CredentialsChanged(ctx, updated.TeamID, []string{updated.ID})
	e.logger.Info("Credential refreshed",
		logging.Any("kind", rec.Kind),
		logging.String("credential_id", rec.ID))

	return updated, nil
}

func (e *Engine) recordRefreshFailure(ctx context.Context, rec *credentials.Record, cause error) (*credentials.Record, error) {
	updated := rec.Clone()
	updated.MarkRefreshFailed()
	if err := e.store.Save(ctx, updated); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ObserveRefresh(string(rec.Kind), false)
	}
	e.logger.Warn("Credential refresh failed",
		logging.Any("kind", rec.Kind),
		logging.String("credential_id", rec.ID),
		logging.Err(cause))

	return updated, nil
}

// applyTokenResponse writes a successful grant into the record: secrets,
// lifetime bookkeeping, and a cleared error sentinel. The refresh token
// is only replaced when the provider issued a new one.
func applyTokenResponse(rec *credentials.Record, descriptor *providers.Descriptor, resp *tokenResponse, now time.Time) {
	if rec.SensitiveConfig == nil {
		rec.SensitiveConfig = make(map[string]string)
	}
	rec.SensitiveConfig[secretAccessToken] = resp.AccessToken
	if resp.RefreshToken != "" {
		rec.SensitiveConfig[secretRefreshToken] = resp.RefreshToken
	}
	if resp.IDToken != "" {
		rec.SensitiveConfig[secretIDToken] = resp.IDToken
	}

	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = descriptor.DefaultExpiresIn
	}
	rec.MarkRefreshed(expiresIn, now)
}
