// Package credentials defines the credential record model shared by all
// provider engines, the refresh decision, and the persistence contract.
package credentials

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which protocol engine governs a credential record.
// The enumeration is closed: engine dispatch is by registry lookup, not
// string branching at call sites.
type Kind string

const (
	KindSlack              Kind = "slack"
	KindSalesforce         Kind = "salesforce"
	KindHubspot            Kind = "hubspot"
	KindGooglePubSub       Kind = "google-pubsub"
	KindGoogleCloudStorage Kind = "google-cloud-storage"
	KindGoogleAds          Kind = "google-ads"
	KindSnapchat           Kind = "snapchat"
	KindLinkedInAds        Kind = "linkedin-ads"
	KindIntercom           Kind = "intercom"
	KindLinear             Kind = "linear"
	KindRedditAds          Kind = "reddit-ads"
	KindMailchimp          Kind = "mailchimp"
	KindMonday             Kind = "monday"
	KindGitHub             Kind = "github"
	KindGitLab             Kind = "gitlab"
	KindDatabricks         Kind = "databricks"
	KindEmail              Kind = "email"
	KindGoogleSheets       Kind = "google-sheets"
)

// OAuthKinds lists the kinds whose credentials are obtained and refreshed
// through the generic OAuth2 flow engine. The sweep only considers these.
var OAuthKinds = []Kind{
	KindSlack,
	KindSalesforce,
	KindHubspot,
	KindGooglePubSub,
	KindGoogleCloudStorage,
	KindGoogleAds,
	KindSnapchat,
	KindLinkedInAds,
	KindIntercom,
	KindLinear,
	KindRedditAds,
	KindMailchimp,
	KindMonday,
}

// IsOAuth reports whether the kind goes through the OAuth2 flow engine
func (k Kind) IsOAuth() bool {
	for _, ok := range OAuthKinds {
		if k == ok {
			return true
		}
	}
	return false
}

// Valid reports whether the kind is part of the closed enumeration
func (k Kind) Valid() bool {
	switch k {
	case KindSlack, KindSalesforce, KindHubspot, KindGooglePubSub,
		KindGoogleCloudStorage, KindGoogleAds, KindSnapchat, KindLinkedInAds,
		KindIntercom, KindLinear, KindRedditAds, KindMailchimp, KindMonday,
		KindGitHub, KindGitLab, KindDatabricks, KindEmail, KindGoogleSheets:
		return true
	}
	return false
}

// Error sentinel codes persisted on a record. Empty means healthy.
const (
	// ErrTokenRefreshFailed is set when a scheduled refresh gets a non-200
	// response or a response without an access token. The record keeps its
	// last-known token until a human re-authorizes.
	ErrTokenRefreshFailed = "TOKEN_REFRESH_FAILED"
)

// Well-known public configuration keys
const (
	ConfigExpiresIn   = "expires_in"   // token lifetime in seconds
	ConfigRefreshedAt = "refreshed_at" // epoch seconds of last grant
	ConfigVerified    = "verified"     // email-domain verification flag
	ConfigProvider    = "provider"     // email-domain backend name
	ConfigDomain      = "domain"       // email-domain sending domain
)

// Record is one tenant's link to one external account at one provider.
// Exactly one record exists per (team, kind, integration id) tuple.
//
// SensitiveConfig holds tokens and key material. It is plaintext in
// memory only; the storage layer encrypts it at rest and it is never
// serialized to callers outside the owning engine.
type Record struct {
	ID              string            `json:"id"`
	TeamID          string            `json:"team_id"`
	Kind            Kind              `json:"kind"`
	IntegrationID   string            `json:"integration_id"`
	Config          map[string]string `json:"config"`
	SensitiveConfig map[string]string `json:"-"`
	Errors          string            `json:"errors,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	CreatedBy       string            `json:"created_by,omitempty"`
}

// NewRecord creates a record with a fresh id and initialized maps
func NewRecord(teamID string, kind Kind, integrationID string) *Record {
	return &Record{
		ID:              uuid.NewString(),
		TeamID:          teamID,
		Kind:            kind,
		IntegrationID:   integrationID,
		Config:          make(map[string]string),
		SensitiveConfig: make(map[string]string),
		CreatedAt:       time.Now().UTC(),
	}
}

// Clone returns a deep copy. Refresh paths mutate a clone and hand the
// result to the store, so a half-updated record is never observable.
func (r *Record) Clone() *Record {
	clone := *r
	clone.Config = make(map[string]string, len(r.Config))
	for k, v := range r.Config {
		clone.Config[k] = v
	}
	clone.SensitiveConfig = make(map[string]string, len(r.SensitiveConfig))
	for k, v := range r.SensitiveConfig {
		clone.SensitiveConfig[k] = v
	}
	return &clone
}

// ConfigInt64 reads an integer public-configuration value.
// Returns ok=false when the key is absent or not a number.
func (r *Record) ConfigInt64(key string) (int64, bool) {
	raw, exists := r.Config[key]
	if !exists {
		return 0, false
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// MarkRefreshed records a successful grant: lifetime, refresh instant,
// and a cleared error sentinel.
func (r *Record) MarkRefreshed(expiresIn int64, now time.Time) {
	if r.Config == nil {
		r.Config = make(map[string]string)
	}
	r.Config[ConfigExpiresIn] = strconv.FormatInt(expiresIn, 10)
	r.Config[ConfigRefreshedAt] = strconv.FormatInt(now.Unix(), 10)
	r.Errors = ""
}

// MarkRefreshFailed records a failed scheduled refresh. The token is
// left in place; the record stays usable until re-authorized.
func (r *Record) MarkRefreshFailed() {
	r.Errors = ErrTokenRefreshFailed
}

// TokenDueForRefresh implements the refresh decision: due when
// now > refreshed_at + expires_in − threshold, with threshold defaulting
// to half the token lifetime. Records missing expires_in or refreshed_at
// are never due; time-based expiry cannot be evaluated for them.
//
// Callers that require a refresh secret (the OAuth engine's refresh
// token, the GitHub engine's installation id) gate on its presence
// before consulting this.
func (r *Record) TokenDueForRefresh(now time.Time) bool {
	expiresIn, ok := r.ConfigInt64(ConfigExpiresIn)
	if !ok || expiresIn <= 0 {
		return false
	}
	refreshedAt, ok := r.ConfigInt64(ConfigRefreshedAt)
	if !ok {
		return false
	}

	threshold := expiresIn / 2
	return now.Unix() > refreshedAt+expiresIn-threshold
}
