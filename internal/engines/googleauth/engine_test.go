package googleauth

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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credhub/internal/common/errors"
	"credhub/internal/common/logging"
	"credhub/internal/credentials"
)

// testServiceAccountKey builds a structurally valid key whose token_uri
// points at the given stub server.
func testServiceAccountKey(t *testing.T, tokenURI string) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PRIVATE KEY",
		Bytes: mustMarshalPKCS8(t, key),
	})

	payload, err := json.Marshal(map[string]string{
		"type":         "service_account",
		"project_id":   "acme-project",
		"private_key":  string(keyPEM),
		"client_email": "svc@acme-project.iam.gserviceaccount.com",
		"token_uri":    tokenURI,
	})
	require.NoError(t, err)
	return payload
}

func mustMarshalPKCS8(t *testing.T, key *rsa.PrivateKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	return der
}

func newTestEngine(store credentials.Store) *Engine {
	return NewEngine(Options{
		Store:  store,
		Logger: logging.NewDefaultLogger(),
	})
}

func tokenStub(t *testing.T, accessToken string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.PostForm.Get("grant_type"))
		assert.NotEmpty(t, r.PostForm.Get("assertion"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": accessToken,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
}

func TestExchangeMintsAndUpserts(t *testing.T) {
	server := tokenStub(t, "ya29.minted")
	defer server.Close()

	store := credentials.NewMemoryStore()
	engine := newTestEngine(store)

	rec, err := engine.Exchange(context.Background(), credentials.KindGoogleSheets,
		"team-1", "u", testServiceAccountKey(t, server.URL))
	require.NoError(t, err)

	assert.Equal(t, "svc@acme-project.iam.gserviceaccount.com", rec.IntegrationID)
	assert.Equal(t, "ya29.minted", rec.SensitiveConfig["access_token"])
	assert.NotEmpty(t, rec.SensitiveConfig["service_account_key"])
	assert.NotEmpty(t, rec.Config[credentials.ConfigExpiresIn])

	stored, err := store.Get(context.Background(), "team-1",
		credentials.KindGoogleSheets, "svc@acme-project.iam.gserviceaccount.com")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, stored.ID)
}

func TestExchangeRejectsMalformedKey(t *testing.T) {
	engine := newTestEngine(credentials.NewMemoryStore())

	_, err := engine.Exchange(context.Background(), credentials.KindGoogleSheets,
		"team-1", "u", []byte("{not json"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	// Parseable JSON but not a usable key is still a validation failure,
	// never a network error
	_, err = engine.Exchange(context.Background(), credentials.KindGoogleSheets,
		"team-1", "u", []byte(`{"client_email":"x@y.z","type":"service_account"}`))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestExchangeRejectsNonServiceAccountKind(t *testing.T) {
	engine := newTestEngine(credentials.NewMemoryStore())

	_, err := engine.Exchange(context.Background(), credentials.KindSlack, "team-1", "u", []byte(`{}`))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestRefreshReMints(t *testing.T) {
	server := tokenStub(t, "ya29.reminted")
	defer server.Close()

	store := credentials.NewMemoryStore()
	engine := newTestEngine(store)

	rec := credentials.NewRecord("team-1", credentials.KindGoogleSheets, "svc@acme-project.iam.gserviceaccount.com")
	rec.SensitiveConfig["service_account_key"] = string(testServiceAccountKey(t, server.URL))
	rec.SensitiveConfig["access_token"] = "ya29.stale"
	persisted, err := store.Upsert(context.Background(), rec)
	require.NoError(t, err)

	updated, err := engine.Refresh(context.Background(), persisted)
	require.NoError(t, err)
	assert.Equal(t, "ya29.reminted", updated.SensitiveConfig["access_token"])
	assert.Empty(t, updated.Errors)
}

func TestRefreshRejectionIsRecorded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	store := credentials.NewMemoryStore()
	engine := newTestEngine(store)

	rec := credentials.NewRecord("team-1", credentials.KindGoogleSheets, "svc@acme-project.iam.gserviceaccount.com")
	rec.SensitiveConfig["service_account_key"] = string(testServiceAccountKey(t, server.URL))
	persisted, err := store.Upsert(context.Background(), rec)
	require.NoError(t, err)

	updated, err := engine.Refresh(context.Background(), persisted)
	require.NoError(t, err)
	assert.Contains(t, updated.Errors, credentials.ErrTokenRefreshFailed)
}

func TestIsDueForRefresh(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	engine := newTestEngine(credentials.NewMemoryStore())
	engine.now = func() time.Time { return now }

	rec := credentials.NewRecord("team-1", credentials.KindGoogleSheets, "svc@x")
	rec.SensitiveConfig["service_account_key"] = "{}"
	rec.MarkRefreshed(3600, now.Add(-2000*time.Second))
	assert.True(t, engine.IsDueForRefresh(rec))

	// Without key material there is nothing to re-mint from
	bare := credentials.NewRecord("team-1", credentials.KindGoogleSheets, "svc@x")
	bare.MarkRefreshed(3600, now.Add(-2000*time.Second))
	assert.False(t, engine.IsDueForRefresh(bare))
}
