package githubapp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credhub/internal/common/errors"
	"credhub/internal/common/logging"
	"credhub/internal/credentials"
)

func testKeyPEM(t *testing.T) (string, *rsa.PublicKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	block := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}
	return string(pem.EncodeToMemory(block)), &key.PublicKey
}

func newTestEngine(t *testing.T, baseURL string, store credentials.Store) (*Engine, *rsa.PublicKey) {
	t.Helper()
	keyPEM, publicKey := testKeyPEM(t)
	engine, err := NewEngine(Options{
		AppID:         "12345",
		PrivateKeyPEM: keyPEM,
		Store:         store,
		Logger:        logging.NewDefaultLogger(),
		APIBaseURL:    baseURL,
	})
	require.NoError(t, err)
	return engine, publicKey
}

func TestNewEngineRejectsBadKey(t *testing.T) {
	_, err := NewEngine(Options{AppID: "1", PrivateKeyPEM: "not a key"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))

	_, err = NewEngine(Options{})
	require.Error(t, err)
	assert.True(t, errors.IsNotConfigured(err))
}

func TestAppAssertionClaims(t *testing.T) {
	engine, publicKey := newTestEngine(t, "http://unused", credentials.NewMemoryStore())
	issuedAt := time.Unix(1_700_000_000, 0)
	engine.now = func() time.Time { return issuedAt }

	signed, err := engine.appAssertion()
	require.NoError(t, err)

	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(signed, &claims, func(token *jwt.Token) (interface{}, error) {
		return publicKey, nil
	}, jwt.WithTimeFunc(func() time.Time { return issuedAt }))
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	assert.Equal(t, "12345", claims.Issuer)
	assert.Equal(t, issuedAt.Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, int64(600), claims.ExpiresAt.Unix()-claims.IssuedAt.Unix())
	assert.LessOrEqual(t, claims.IssuedAt.Unix(), issuedAt.Unix())
}

func TestCreateFromInstallation(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app/installations/42/access_tokens":
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Contains(t, r.Header.Get("Authorization"), "Bearer ")
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode(map[string]interface{}{
				"token":      "ghs_abc",
				"expires_at": now.Add(time.Hour).Format(time.RFC3339),
			})
		case "/app/installations/42":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"account": map[string]interface{}{"login": "acme-org"},
			})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	store := credentials.NewMemoryStore()
	engine, _ := newTestEngine(t, server.URL, store)
	engine.now = func() time.Time { return now }

	rec, err := engine.CreateFromInstallation(context.Background(), "team-1", "u", "42")
	require.NoError(t, err)

	assert.Equal(t, credentials.KindGitHub, rec.Kind)
	assert.Equal(t, "42", rec.IntegrationID)
	assert.Equal(t, "42", rec.Config[ConfigInstallationID])
	assert.Equal(t, "acme-org", rec.Config[ConfigAccountLogin])
	assert.Equal(t, "ghs_abc", rec.SensitiveConfig["access_token"])
	assert.Equal(t, "3600", rec.Config[credentials.ConfigExpiresIn])
}

func TestMintRetriesOnceAfterUnauthorized(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			http.Error(w, `{"message":"bad credentials"}`, http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"token":      "ghs_second",
			"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
		})
	}))
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL, credentials.NewMemoryStore())

	grant, err := engine.mintInstallationToken(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "ghs_second", grant.Token)
	assert.Equal(t, 2, calls)
}

func TestMintDoesNotRetryOtherStatuses(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.Error(w, `{"message":"not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	engine, _ := newTestEngine(t, server.URL, credentials.NewMemoryStore())

	_, err := engine.mintInstallationToken(context.Background(), "42")
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, errors.IsType(err, errors.ErrTypeExchange))
}

func TestRefreshRejectionIsRecorded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"installation suspended"}`, http.StatusForbidden)
	}))
	defer server.Close()

	store := credentials.NewMemoryStore()
	engine, _ := newTestEngine(t, server.URL, store)

	rec := credentials.NewRecord("team-1", credentials.KindGitHub, "42")
	rec.Config[ConfigInstallationID] = "42"
	persisted, err := store.Upsert(context.Background(), rec)
	require.NoError(t, err)

	updated, err := engine.Refresh(context.Background(), persisted)
	require.NoError(t, err)
	assert.Contains(t, updated.Errors, credentials.ErrTokenRefreshFailed)
}

func TestRefreshMintsReplacementToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"token":      "ghs_fresh",
			"expires_at": now.Add(time.Hour).Format(time.RFC3339),
		})
	}))
	defer server.Close()

	store := credentials.NewMemoryStore()
	engine, _ := newTestEngine(t, server.URL, store)
	engine.now = func() time.Time { return now }

	rec := credentials.NewRecord("team-1", credentials.KindGitHub, "42")
	rec.Config[ConfigInstallationID] = "42"
	rec.SensitiveConfig["access_token"] = "ghs_stale"
	rec.Errors = credentials.ErrTokenRefreshFailed
	persisted, err := store.Upsert(context.Background(), rec)
	require.NoError(t, err)

	updated, err := engine.Refresh(context.Background(), persisted)
	require.NoError(t, err)
	assert.Equal(t, "ghs_fresh", updated.SensitiveConfig["access_token"])
	assert.Empty(t, updated.Errors)
}

func TestIsDueForRefresh(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	engine, _ := newTestEngine(t, "http://unused", credentials.NewMemoryStore())
	engine.now = func() time.Time { return now }

	rec := credentials.NewRecord("team-1", credentials.KindGitHub, "42")
	rec.Config[ConfigInstallationID] = "42"
	rec.MarkRefreshed(3600, now.Add(-2000*time.Second))
	assert.True(t, engine.IsDueForRefresh(rec))

	rec.MarkRefreshed(3600, now.Add(-500*time.Second))
	assert.False(t, engine.IsDueForRefresh(rec))

	// No installation id means nothing to refresh with
	orphan := credentials.NewRecord("team-1", credentials.KindGitHub, "42")
	orphan.MarkRefreshed(3600, now.Add(-2000*time.Second))
	assert.False(t, engine.IsDueForRefresh(orphan))
}
