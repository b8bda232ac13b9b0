// Package githubapp mints and refreshes GitHub App installation tokens.
// Unlike the OAuth kinds there is no refresh token: every refresh is a
// fresh installation-token grant authenticated by a short-lived RS256
// app assertion.
package githubapp

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"credhub/internal/common/errors"
	"credhub/internal/common/httpclient"
	"credhub/internal/common/logging"
	"credhub/internal/credentials"
	"credhub/internal/engines"
	"credhub/internal/metrics"
)

const (
	// assertionLifetime is the validity window of the app JWT. GitHub
	// rejects assertions valid for more than ten minutes.
	assertionLifetime = 10 * time.Minute

	defaultAPIBaseURL = "https://api.github.com"

	secretAccessToken = "access_token"

	// ConfigInstallationID keys the numeric installation the record is
	// bound to; it doubles as the record's integration id.
	ConfigInstallationID = "installation_id"
	// ConfigAccountLogin is the org or user login the app is installed on
	ConfigAccountLogin = "account_login"
)

// Engine implements installation-token lifecycle for the github kind
type Engine struct {
	appID      string
	privateKey *rsa.PrivateKey
	store      credentials.Store
	httpClient *http.Client
	metrics    *metrics.Metrics
	notifier   engines.Notifier
	logger     logging.Logger

	apiBaseURL string
	now        func() time.Time
}

// Options configures an Engine
type Options struct {
	AppID         string
	PrivateKeyPEM string
	Store         credentials.Store
	HTTPClient    *http.Client
	Metrics       *metrics.Metrics
	Notifier      engines.Notifier
	Logger        logging.Logger
	// APIBaseURL overrides the GitHub API origin, for GHE deployments
	APIBaseURL string
}

// NewEngine parses the app private key and builds the engine. A missing
// or malformed key is a configuration error surfaced at startup, not at
// first use.
func NewEngine(opts Options) (*Engine, error) {
	if opts.AppID == "" || opts.PrivateKeyPEM == "" {
		return nil, errors.ConfigError("github app id and private key are required").
			WithCode(errors.CodeNotConfigured)
	}

	privateKey, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(opts.PrivateKeyPEM))
	if err != nil {
		return nil, errors.ConfigError("github app private key is not a valid RSA PEM key")
	}

	if opts.HTTPClient == nil {
		opts.HTTPClient = httpclient.NewDefaultClient()
	}
	if opts.Logger == nil {
		opts.Logger = logging.GetGlobalLogger()
	}
	if opts.Notifier == nil {
		opts.Notifier = engines.NopNotifier{}
	}
	if opts.APIBaseURL == "" {
		opts.APIBaseURL = defaultAPIBaseURL
	}

	return &Engine{
		appID:      opts.AppID,
		privateKey: privateKey,
		store:      opts.Store,
		httpClient: opts.HTTPClient,
		metrics:    opts.Metrics,
		notifier:   opts.Notifier,
		logger:     opts.Logger,
		apiBaseURL: opts.APIBaseURL,
		now:        time.Now,
	}, nil
}

// Kinds implements engines.CredentialEngine
func (e *Engine) Kinds() []credentials.Kind {
	return []credentials.Kind{credentials.KindGitHub}
}

// IsDueForRefresh reports whether the installation token has passed half
// its lifetime. Records without an installation id cannot be refreshed.
func (e *Engine) IsDueForRefresh(rec *credentials.Record) bool {
	if rec.Config[ConfigInstallationID] == "" {
		return false
	}
	return rec.TokenDueForRefresh(e.now())
}

// CreateFromInstallation mints the first installation token and upserts
// the credential record keyed on the installation id.
func (e *Engine) CreateFromInstallation(ctx context.Context, teamID, createdBy, installationID string) (*credentials.Record, error) {
	if installationID == "" {
		return nil, errors.ValidationError("installation id is required")
	}

	grant, err := e.mintInstallationToken(ctx, installationID)
	if err != nil {
		if e.metrics != nil {
			e.metrics.ObserveExchange(string(credentials.KindGitHub), false)
		}
		return nil, err
	}

	rec := credentials.NewRecord(teamID, credentials.KindGitHub, installationID)
	rec.CreatedBy = createdBy
	rec.Config[ConfigInstallationID] = installationID

	if login, err := e.installationAccountLogin(ctx, installationID); err == nil && login != "" {
		rec.Config[ConfigAccountLogin] = login
	}

	applyGrant(rec, grant, e.now())

	persisted, err := e.store.Upsert(ctx, rec)
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ObserveExchange(string(credentials.KindGitHub), true)
	}
	e.logger.Info("GitHub App credential created",
		logging.String("team_id", teamID),
		logging.String("installation_id", installationID))

	return persisted, nil
}

// Refresh mints a replacement installation token. GitHub rejecting the
// grant (revoked or suspended installation) is recorded on the record,
// not returned as an error.
func (e *Engine) Refresh(ctx context.Context, rec *credentials.Record) (*credentials.Record, error) {
	installationID := rec.Config[ConfigInstallationID]
	if installationID == "" {
		return nil, errors.ValidationError("credential has no installation id")
	}

	grant, err := e.mintInstallationToken(ctx, installationID)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeExchange) {
			updated := rec.Clone()
			updated.MarkRefreshFailed()
			if saveErr := e.store.Save(ctx, updated); saveErr != nil {
				return nil, saveErr
			}
			if e.metrics != nil {
				e.metrics.ObserveRefresh(string(credentials.KindGitHub), false)
			}
			e.logger.Warn("GitHub installation token refresh failed",
				logging.String("credential_id", rec.ID),
				logging.Err(err))
			return updated, nil
		}
		return nil, err
	}

	updated := rec.Clone()
	applyGrant(updated, grant, e.now())
	if err := e.store.Save(ctx, updated); err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.ObserveRefresh(string(credentials.KindGitHub), true)
	}
	e.notifier.CredentialsChanged(ctx, updated.TeamID, []string{updated.ID})

	return updated, nil
}

// installationGrant is a minted installation token and its lifetime
type installationGrant struct {
	Token     string
	ExpiresIn int64
}

// mintInstallationToken exchanges a fresh app assertion for an
// installation token. A 401 is retried once with a new assertion in case
// the first was rejected for clock skew; any second failure stands.
func (e *Engine) mintInstallationToken(ctx context.Context, installationID string) (*installationGrant, error) {
	grant, status, err := e.requestInstallationToken(ctx, installationID)
	if err == nil {
		return grant, nil
	}
	if status != http.StatusUnauthorized {
		return nil, err
	}

	grant, _, err = e.requestInstallationToken(ctx, installationID)
	if err != nil {
		return nil, err
	}
	return grant, nil
}

func (e *Engine) requestInstallationToken(ctx context.Context, installationID string) (*installationGrant, int, error) {
	assertion, err := e.appAssertion()
	if err != nil {
		return nil, 0, err
	}

	endpoint := fmt.Sprintf("%s/app/installations/%s/access_tokens", e.apiBaseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, 0, errors.InternalError("failed to create installation token request", err)
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, 0, errors.ConnectionError("installation token request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.ConnectionError("failed to read installation token response", err)
	}

	if resp.StatusCode != http.StatusCreated {
		return nil, resp.StatusCode, errors.ExchangeError(
			fmt.Sprintf("installation token endpoint returned status %d", resp.StatusCode), nil).
			WithContext("installation_id", installationID)
	}

	var payload struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, resp.StatusCode, errors.ExchangeError("failed to decode installation token response", err)
	}
	if payload.Token == "" {
		return nil, resp.StatusCode, errors.ExchangeError("installation token response contains no token", nil)
	}

	expiresIn := int64(payload.ExpiresAt.Sub(e.now()) / time.Second)
	if expiresIn <= 0 {
		// GitHub installation tokens live one hour
		expiresIn = 3600
	}

	return &installationGrant{Token: payload.Token, ExpiresIn: expiresIn}, resp.StatusCode, nil
}

// installationAccountLogin looks up the org or user the installation
// belongs to. Failure here only costs the display name.
func (e *Engine) installationAccountLogin(ctx context.Context, installationID string) (string, error) {
	assertion, err := e.appAssertion()
	if err != nil {
		return "", err
	}

	endpoint := fmt.Sprintf("%s/app/installations/%s", e.apiBaseURL, installationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+assertion)
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("installation lookup returned status %d", resp.StatusCode)
	}

	var payload struct {
		Account struct {
			Login string `json:"login"`
		} `json:"account"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", err
	}
	return payload.Account.Login, nil
}

// appAssertion signs a fresh app JWT. The issued-at is the current
// instant and the expiry exactly the assertion lifetime later.
func (e *Engine) appAssertion() (string, error) {
	now := e.now()
	claims := jwt.RegisteredClaims{
		Issuer:    e.appID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signed, err := token.SignedString(e.privateKey)
	if err != nil {
		return "", errors.InternalError("failed to sign github app assertion", err)
	}
	return signed, nil
}

func applyGrant(rec *credentials.Record, grant *installationGrant, now time.Time) {
	if rec.SensitiveConfig == nil {
		rec.SensitiveConfig = make(map[string]string)
	}
	rec.SensitiveConfig[secretAccessToken] = grant.Token
	rec.MarkRefreshed(grant.ExpiresIn, now)
}
