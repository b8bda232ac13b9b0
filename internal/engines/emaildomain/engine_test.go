package emaildomain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credhub/internal/common/errors"
	"credhub/internal/common/logging"
	"credhub/internal/credentials"
)

type stubBackend struct {
	name         string
	createErr    error
	secrets      map[string]string
	verifyResult *VerificationResult
	verifyErr    error
	created      []string
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) CreateDomain(_ context.Context, domain string) (map[string]string, error) {
	s.created = append(s.created, domain)
	return s.secrets, s.createErr
}

func (s *stubBackend) Verify(context.Context, *credentials.Record) (*VerificationResult, error) {
	return s.verifyResult, s.verifyErr
}

type recordingNotifier struct {
	mu  sync.Mutex
	ids [][]string
}

func (n *recordingNotifier) CredentialsChanged(_ context.Context, _ string, credentialIDs []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ids = append(n.ids, credentialIDs)
}

func newTestEngine(store credentials.Store, backends ...Backend) (*Engine, *recordingNotifier) {
	notifier := &recordingNotifier{}
	return NewEngine(Options{
		Store:    store,
		Backends: backends,
		Notifier: notifier,
		Logger:   logging.NewDefaultLogger(),
	}), notifier
}

func TestCreateRegistersDomain(t *testing.T) {
	backend := &stubBackend{name: "mailjet", secrets: map[string]string{"api_token": "tok"}}
	store := credentials.NewMemoryStore()
	engine, _ := newTestEngine(store, backend)

	rec, err := engine.Create(context.Background(), "team-1", "u", "Example.COM ", "", "mailjet")
	require.NoError(t, err)

	assert.Equal(t, credentials.KindEmail, rec.Kind)
	assert.Equal(t, "example.com", rec.IntegrationID)
	assert.Equal(t, "example.com", rec.Config[credentials.ConfigDomain])
	assert.Equal(t, "mailjet", rec.Config[credentials.ConfigProvider])
	assert.Equal(t, "false", rec.Config[credentials.ConfigVerified])
	assert.Equal(t, "tok", rec.SensitiveConfig["api_token"])
	assert.Equal(t, []string{"example.com"}, backend.created)
}

func TestCreateWithSubdomain(t *testing.T) {
	backend := &stubBackend{name: "mailjet"}
	engine, _ := newTestEngine(credentials.NewMemoryStore(), backend)

	rec, err := engine.Create(context.Background(), "team-1", "u", "example.com", "mail", "mailjet")
	require.NoError(t, err)
	assert.Equal(t, "mail.example.com", rec.IntegrationID)
	assert.Equal(t, "example.com", rec.Config[credentials.ConfigDomain])
}

func TestCreateRejectsBadDomains(t *testing.T) {
	backend := &stubBackend{name: "mailjet"}
	engine, _ := newTestEngine(credentials.NewMemoryStore(), backend)

	for _, domain := range []string{"gmail.com", "mailinator.com", "", "no-dot", "spaced domain.com", "http://x.com"} {
		_, err := engine.Create(context.Background(), "team-1", "u", domain, "", "mailjet")
		require.Error(t, err, "domain %q", domain)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation), "domain %q", domain)
	}
	assert.Empty(t, backend.created)
}

func TestCreateRejectsDomainClaimedByOtherTeam(t *testing.T) {
	backend := &stubBackend{name: "mailjet"}
	store := credentials.NewMemoryStore()
	engine, _ := newTestEngine(store, backend)

	_, err := engine.Create(context.Background(), "team-1", "u", "example.com", "", "mailjet")
	require.NoError(t, err)

	_, err = engine.Create(context.Background(), "team-2", "u", "example.com", "", "mailjet")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	// Same team can add more identities on its own domain
	_, err = engine.Create(context.Background(), "team-1", "u", "example.com", "mail", "mailjet")
	require.NoError(t, err)
}

func TestVerifyPendingDoesNotPropagate(t *testing.T) {
	backend := &stubBackend{
		name: "mailjet",
		verifyResult: &VerificationResult{
			Status:     StatusPending,
			DNSRecords: []DNSRecord{{Type: "TXT", Name: "example.com", Value: "v=spf1 ..."}},
		},
	}
	store := credentials.NewMemoryStore()
	engine, notifier := newTestEngine(store, backend)

	rec, err := engine.Create(context.Background(), "team-1", "u", "example.com", "", "mailjet")
	require.NoError(t, err)

	result, err := engine.Verify(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, result.Status)
	assert.Len(t, result.DNSRecords, 1)

	stored, err := store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "false", stored.Config[credentials.ConfigVerified])
	assert.Empty(t, notifier.ids)
}

func TestVerifyPropagatesAcrossSameDomainRecords(t *testing.T) {
	mailjet := &stubBackend{name: "mailjet", verifyResult: &VerificationResult{Status: StatusVerified}}
	ses := &stubBackend{name: "ses"}
	store := credentials.NewMemoryStore()
	engine, notifier := newTestEngine(store, mailjet, ses)

	ctx := context.Background()
	primary, err := engine.Create(ctx, "team-1", "u", "example.com", "", "mailjet")
	require.NoError(t, err)
	sibling, err := engine.Create(ctx, "team-1", "u", "example.com", "mail", "mailjet")
	require.NoError(t, err)
	otherProvider, err := engine.Create(ctx, "team-1", "u", "example.com", "alerts", "ses")
	require.NoError(t, err)
	otherDomain, err := engine.Create(ctx, "team-1", "u", "example.org", "", "mailjet")
	require.NoError(t, err)

	result, err := engine.Verify(ctx, primary)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, result.Status)

	verified := func(id string) string {
		rec, err := store.GetByID(ctx, id)
		require.NoError(t, err)
		return rec.Config[credentials.ConfigVerified]
	}

	assert.Equal(t, "true", verified(primary.ID))
	assert.Equal(t, "true", verified(sibling.ID))
	assert.Equal(t, "false", verified(otherProvider.ID))
	assert.Equal(t, "false", verified(otherDomain.ID))

	require.Len(t, notifier.ids, 1)
	assert.ElementsMatch(t, []string{primary.ID, sibling.ID}, notifier.ids[0])
}

func TestVerifyAlreadyVerifiedIsQuiet(t *testing.T) {
	backend := &stubBackend{name: "mailjet", verifyResult: &VerificationResult{Status: StatusVerified}}
	store := credentials.NewMemoryStore()
	engine, notifier := newTestEngine(store, backend)

	rec, err := engine.Create(context.Background(), "team-1", "u", "example.com", "", "mailjet")
	require.NoError(t, err)

	_, err = engine.Verify(context.Background(), rec)
	require.NoError(t, err)

	refreshed, err := store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	_, err = engine.Verify(context.Background(), refreshed)
	require.NoError(t, err)

	// Only the first verification touches records
	assert.Len(t, notifier.ids, 1)
}

func TestMailjetVerifyParsesDNSState(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "mj-key", user)
		assert.Equal(t, "mj-secret", pass)

		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v3/REST/dns/example.com/check":
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet && r.URL.Path == "/v3/REST/dns/example.com":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"Data": []map[string]interface{}{{
					"DKIMRecordName":  "mailjet._domainkey.example.com",
					"DKIMRecordValue": "k=rsa; p=MIGf...",
					"DKIMStatus":      "OK",
					"SPFRecordValue":  "v=spf1 include:spf.mailjet.com ~all",
					"SPFStatus":       "OK",
				}},
			})
		default:
			t.Fatalf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	backend := NewMailjetBackend("mj-key", "mj-secret", nil)
	backend.baseURL = server.URL

	rec := credentials.NewRecord("team-1", credentials.KindEmail, "example.com")
	rec.Config[credentials.ConfigDomain] = "example.com"

	result, err := backend.Verify(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, StatusVerified, result.Status)
	require.Len(t, result.DNSRecords, 2)
	assert.Equal(t, "mailjet._domainkey.example.com", result.DNSRecords[0].Name)
}

func TestMailjetCreateDomainIdempotent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Duplicate sender
		http.Error(w, `{"ErrorMessage":"already exists"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	backend := NewMailjetBackend("k", "s", nil)
	backend.baseURL = server.URL

	_, err := backend.CreateDomain(context.Background(), "example.com")
	require.NoError(t, err)
}
