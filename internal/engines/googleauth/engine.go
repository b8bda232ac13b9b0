// Package googleauth manages service-account backed Google credentials.
// There is no refresh-token grant: the uploaded key material is the
// durable secret, and every refresh mints a fresh access token from it.
package googleauth

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"credhub/internal/common/errors"
	"credhub/internal/common/httpclient"
	"credhub/internal/common/logging"
	"credhub/internal/credentials"
	"credhub/internal/engines"
	"credhub/internal/metrics"
)

const (
	secretAccessToken = "access_token"
	// secretServiceAccountKey holds the full uploaded key JSON
	secretServiceAccountKey = "service_account_key"

	sheetsScope = "https://www.googleapis.com/auth/spreadsheets"
)

// kindScopes maps the service-account kinds to the scopes minted for them
var kindScopes = map[credentials.Kind]string{
	credentials.KindGoogleSheets: sheetsScope,
}

// Engine mints Google access tokens from stored service-account keys
type Engine struct {
	store      credentials.Store
	httpClient *http.Client
	metrics    *metrics.Metrics
	notifier   engines.Notifier
	logger     logging.Logger
	now        func() time.Time
}

// Options configures an Engine
type Options struct {
	Store      credentials.Store
	HTTPClient *http.Client
	Metrics    *metrics.Metrics
	Notifier   engines.Notifier
	Logger     logging.Logger
}

// NewEngine creates the service-account engine
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
		store:      opts.Store,
		httpClient: opts.HTTPClient,
		metrics:    opts.Metrics,
		notifier:   opts.Notifier,
		logger:     opts.Logger,
		now:        time.Now,
	}
}

// Kinds implements engines.CredentialEngine
func (e *Engine) Kinds() []credentials.Kind {
	kinds := make([]credentials.Kind, 0, len(kindScopes))
	for kind := range kindScopes {
		kinds = append(kinds, kind)
	}
	return kinds
}

// IsDueForRefresh applies the half-life formula. A record without key
// material can never be re-minted and is never due.
func (e *Engine) IsDueForRefresh(rec *credentials.Record) bool {
	if rec.SensitiveConfig[secretServiceAccountKey] == "" {
		return false
	}
	return rec.TokenDueForRefresh(e.now())
}

// Exchange validates uploaded key material by immediately minting a
// token from it, then upserts the credential keyed on the key's client
// email. Malformed keys fail fast with a validation error; only the mint
// call itself can produce a network error.
func (e *Engine) Exchange(ctx context.Context, kind credentials.Kind, teamID, createdBy string, keyJSON []byte) (*credentials.Record, error) {
	scope, ok := kindScopes[kind]
	if !ok {
		return nil, errors.ValidationError("kind is not service-account backed: " + string(kind))
	}

	clientEmail, err := keyClientEmail(keyJSON)
	if err != nil {
		return nil, err
	}

	token, err := e.mint(ctx, keyJSON, scope)
	if err != nil {
		if e.metrics != nil {
			e.metrics.ObserveExchange(string(kind), false)
		}
		return nil, err
	}

	rec := credentials.NewRecord(teamID, kind, clientEmail)
	rec.CreatedBy = createdBy
	rec.SensitiveConfig[secretServiceAccountKey] = string(keyJSON)
	applyToken(rec, token, e.now())

	persisted, err := e.store.Upsert(ctx, rec)
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ObserveExchange(string(kind), true)
	}
	e.logger.Info("Service-account credential created",
		logging.Any("kind", kind),
		logging.String("team_id", teamID),
		logging.String("integration_id", clientEmail))

	return persisted, nil
}

// Refresh re-mints from the stored key material. Google rejecting the
// assertion (revoked key, disabled account) is recorded on the record.
func (e *Engine) Refresh(ctx context.Context, rec *credentials.Record) (*credentials.Record, error) {
	scope, ok := kindScopes[rec.Kind]
	if !ok {
		return nil, errors.ValidationError("kind is not service-account backed: " + string(rec.Kind))
	}

	keyJSON := rec.SensitiveConfig[secretServiceAccountKey]
	if keyJSON == "" {
		return nil, errors.ValidationError("credential has no service account key")
	}

	token, err := e.mint(ctx, []byte(keyJSON), scope)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeValidation) {
			return nil, err
		}
		updated := rec.Clone()
		updated.MarkRefreshFailed()
		if saveErr := e.store.Save(ctx, updated); saveErr != nil {
			return nil, saveErr
		}
		if e.metrics != nil {
			e.metrics.ObserveRefresh(string(rec.Kind), false)
		}
		e.logger.Warn("Service-account token mint failed",
			logging.String("credential_id", rec.ID),
			logging.Err(err))
		return updated, nil
	}

	updated := rec.Clone()
	applyToken(updated, token, e.now())
	if err := e.store.Save(ctx, updated); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ObserveRefresh(string(rec.Kind), true)
	}
	e.notifier.CredentialsChanged(ctx, updated.TeamID, []string{updated.ID})

	return updated, nil
}

// mint signs a service-account assertion and redeems it for an access
// token. Key parse failures are validation errors; everything past the
// parse is a network-shaped exchange failure.
func (e *Engine) mint(ctx context.Context, keyJSON []byte, scope string) (*oauth2.Token, error) {
	conf, err := google.JWTConfigFromJSON(keyJSON, scope)
	if err != nil {
		return nil, errors.ValidationError("malformed service account key: " + err.Error())
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)
	token, err := conf.TokenSource(ctx).Token()
	if err != nil {
		return nil, errors.ExchangeError("failed to mint service account token", err)
	}
	if token.AccessToken == "" {
		return nil, errors.ExchangeError("token mint returned no access token", nil)
	}
	return token, nil
}

func keyClientEmail(keyJSON []byte) (string, error) {
	var key struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(keyJSON, &key); err != nil {
		return "", errors.ValidationError("malformed service account key: not valid JSON")
	}
	if key.ClientEmail == "" {
		return "", errors.ValidationError("service account key has no client_email")
	}
	return key.ClientEmail, nil
}

func applyToken(rec *credentials.Record, token *oauth2.Token, now time.Time) {
	if rec.SensitiveConfig == nil {
		rec.SensitiveConfig = make(map[string]string)
	}
	rec.SensitiveConfig[secretAccessToken] = token.AccessToken

	expiresIn := int64(token.Expiry.Sub(now) / time.Second)
	if expiresIn <= 0 {
		// Google access tokens live one hour
		expiresIn = 3600
	}
	rec.MarkRefreshed(expiresIn, now)
}
