package providers

import (
	"sync"
	"time"

	"credhub/internal/common/errors"
	"credhub/internal/config"
	"credhub/internal/credentials"
)

// DefaultCacheTTL bounds how long a built descriptor (or a "not
// configured" answer) may be served without re-reading configuration.
const DefaultCacheTTL = 5 * time.Minute

// kindSpec is the static, deployment-independent part of a descriptor
type kindSpec struct {
	authorizeURL         string
	tokenURL             string
	sandboxTokenURL      string
	scope                string
	tokenStyle           TokenRequestStyle
	userAgent            string
	introspection        IntrospectionKind
	introspectionURL     string
	introspectionBody    string
	idPaths              []string
	namePaths            []string
	decodeIDFromJWT      bool
	jwtIDClaims          []string
	extraAuthorizeParams map[string]string
	authorizeFieldNames  map[string]string
	defaultExpiresIn     int64
}

var kindSpecs = map[credentials.Kind]kindSpec{
	credentials.KindSlack: {
		authorizeURL:  "https://slack.com/oauth/v2/authorize",
		tokenURL:      "https://slack.com/api/oauth.v2.access",
		scope:         "channels:read,groups:read,chat:write,chat:write.customize",
		introspection: IntrospectNone,
		idPaths:       []string{"team.id"},
		namePaths:     []string{"team.name"},
	},
	credentials.KindSalesforce: {
		authorizeURL:    "https://login.salesforce.com/services/oauth2/authorize",
		tokenURL:        "https://login.salesforce.com/services/oauth2/token",
		sandboxTokenURL: "https://test.salesforce.com/services/oauth2/token",
		scope:           "full refresh_token",
		introspection:   IntrospectNone,
		idPaths:         []string{"instance_url"},
		namePaths:       []string{"instance_url"},
		// Salesforce omits expires_in on some responses
		defaultExpiresIn: 3600,
	},
	credentials.KindHubspot: {
		authorizeURL:  "https://app.hubspot.com/oauth/authorize",
		tokenURL:      "https://api.hubapi.com/oauth/v1/token",
		scope:         "tickets crm.objects.contacts.write crm.objects.contacts.read",
		introspection: IntrospectREST,
		// The token itself is appended by the engine
		introspectionURL: "https://api.hubapi.com/oauth/v1/access-tokens/",
		idPaths:          []string{"hub_id"},
		namePaths:        []string{"hub_domain"},
	},
	credentials.KindGooglePubSub: {
		authorizeURL:  "https://accounts.google.com/o/oauth2/v2/auth",
		tokenURL:      "https://oauth2.googleapis.com/token",
		scope:         "https://www.googleapis.com/auth/pubsub",
		introspection: IntrospectNone,
		extraAuthorizeParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
		decodeIDFromJWT: true,
		jwtIDClaims:     []string{"email", "sub"},
	},
	credentials.KindGoogleCloudStorage: {
		authorizeURL:  "https://accounts.google.com/o/oauth2/v2/auth",
		tokenURL:      "https://oauth2.googleapis.com/token",
		scope:         "https://www.googleapis.com/auth/devstorage.read_write",
		introspection: IntrospectNone,
		extraAuthorizeParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
		decodeIDFromJWT: true,
		jwtIDClaims:     []string{"email", "sub"},
	},
	credentials.KindGoogleAds: {
		authorizeURL:  "https://accounts.google.com/o/oauth2/v2/auth",
		tokenURL:      "https://oauth2.googleapis.com/token",
		scope:         "https://www.googleapis.com/auth/adwords email",
		introspection: IntrospectNone,
		extraAuthorizeParams: map[string]string{
			"access_type": "offline",
			"prompt":      "consent",
		},
		decodeIDFromJWT: true,
		jwtIDClaims:     []string{"email", "sub"},
	},
	credentials.KindSnapchat: {
		authorizeURL:  "https://accounts.snapchat.com/login/oauth2/authorize",
		tokenURL:      "https://accounts.snapchat.com/login/oauth2/access_token",
		scope:         "snapchat-marketing-api",
		introspection: IntrospectREST,
		introspectionURL: "https://adsapi.snapchat.com/v1/me",
		idPaths:          []string{"me.id"},
		namePaths:        []string{"me.display_name"},
		authorizeFieldNames: map[string]string{
			"client_id":    "clientId",
			"redirect_uri": "redirectUri",
		},
	},
	credentials.KindLinkedInAds: {
		authorizeURL:  "https://www.linkedin.com/oauth/v2/authorization",
		tokenURL:      "https://www.linkedin.com/oauth/v2/accessToken",
		scope:         "r_ads rw_ads r_ads_reporting",
		introspection: IntrospectREST,
		introspectionURL: "https://api.linkedin.com/v2/userinfo",
		idPaths:          []string{"sub"},
		namePaths:        []string{"name", "email"},
		authorizeFieldNames: map[string]string{
			"state": "state_key",
		},
	},
	credentials.KindIntercom: {
		authorizeURL:  "https://app.intercom.com/oauth",
		tokenURL:      "https://api.intercom.io/auth/eagle/token",
		scope:         "",
		introspection: IntrospectREST,
		introspectionURL: "https://api.intercom.io/me",
		idPaths:          []string{"app.id_code"},
		namePaths:        []string{"app.name", "email"},
	},
	credentials.KindLinear: {
		authorizeURL:      "https://linear.app/oauth/authorize",
		tokenURL:          "https://api.linear.app/oauth/token",
		scope:             "read write",
		introspection:     IntrospectGraphQL,
		introspectionURL:  "https://api.linear.app/graphql",
		introspectionBody: "{ viewer { organization { urlKey name } } }",
		idPaths:           []string{"data.viewer.organization.urlKey"},
		namePaths:         []string{"data.viewer.organization.name"},
	},
	credentials.KindRedditAds: {
		authorizeURL:  "https://www.reddit.com/api/v1/authorize",
		tokenURL:      "https://www.reddit.com/api/v1/access_token",
		scope:         "adsread adsedit history",
		tokenStyle:    StyleBasicAuth,
		userAgent:     "credhub/1.0 token-lifecycle",
		introspection: IntrospectREST,
		introspectionURL: "https://oauth.reddit.com/api/v1/me",
		idPaths:          []string{"id"},
		namePaths:        []string{"name"},
		extraAuthorizeParams: map[string]string{
			"duration": "permanent",
		},
	},
	credentials.KindMailchimp: {
		authorizeURL:  "https://login.mailchimp.com/oauth2/authorize",
		tokenURL:      "https://login.mailchimp.com/oauth2/token",
		scope:         "",
		introspection: IntrospectREST,
		introspectionURL: "https://login.mailchimp.com/oauth2/metadata",
		idPaths:          []string{"dc"},
		namePaths:        []string{"accountname"},
	},
	credentials.KindMonday: {
		authorizeURL:      "https://auth.monday.com/oauth2/authorize",
		tokenURL:          "https://auth.monday.com/oauth2/token",
		scope:             "boards:read boards:write",
		tokenStyle:        StyleJSONBody,
		introspection:     IntrospectGraphQL,
		introspectionURL:  "https://api.monday.com/v2",
		introspectionBody: "{ me { account { id name } } }",
		idPaths:           []string{"data.me.account.id"},
		namePaths:         []string{"data.me.account.name"},
	},
}

// Registry resolves provider kinds to descriptors. Client credentials
// come from deployment configuration; built descriptors are cached with
// an explicit TTL so tests and hot-reload paths can reset deterministically.
type Registry struct {
	ttl time.Duration
	now func() time.Time

	mu    sync.Mutex
	cache map[credentials.Kind]cacheEntry

	// credentialsFn is swappable in tests
	credentialsFn func(kind string) (string, string)
}

type cacheEntry struct {
	descriptor *Descriptor
	err        error
	expiresAt  time.Time
}

// NewRegistry creates a registry with the given cache TTL
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 || ttl > DefaultCacheTTL {
		ttl = DefaultCacheTTL
	}
	return &Registry{
		ttl:           ttl,
		now:           time.Now,
		cache:         make(map[credentials.Kind]cacheEntry),
		credentialsFn: config.ProviderClientCredentials,
	}
}

// Describe returns the descriptor for the kind, or a NotConfigured
// configuration error when the deployment lacks client credentials for
// it. Both outcomes are cached for the registry TTL, never longer.
func (r *Registry) Describe(kind credentials.Kind) (*Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.cache[kind]; ok && r.now().Before(entry.expiresAt) {
		return entry.descriptor, entry.err
	}

	descriptor, err := r.build(kind)
	r.cache[kind] = cacheEntry{
		descriptor: descriptor,
		err:        err,
		expiresAt:  r.now().Add(r.ttl),
	}
	return descriptor, err
}

// Reset drops all cached descriptors
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[credentials.Kind]cacheEntry)
}

func (r *Registry) build(kind credentials.Kind) (*Descriptor, error) {
	spec, ok := kindSpecs[kind]
	if !ok {
		return nil, errors.ValidationError("unknown OAuth provider kind: " + string(kind))
	}

	clientID, clientSecret := r.credentialsFn(string(kind))
	if clientID == "" || clientSecret == "" {
		return nil, errors.NotConfiguredError(string(kind))
	}

	return &Descriptor{
		Kind:                 kind,
		AuthorizeURL:         spec.authorizeURL,
		TokenURL:             spec.tokenURL,
		SandboxTokenURL:      spec.sandboxTokenURL,
		ClientID:             clientID,
		ClientSecret:         clientSecret,
		Scope:                spec.scope,
		TokenStyle:           spec.tokenStyle,
		UserAgent:            spec.userAgent,
		Introspection:        spec.introspection,
		IntrospectionURL:     spec.introspectionURL,
		IntrospectionBody:    spec.introspectionBody,
		IDPaths:              spec.idPaths,
		NamePaths:            spec.namePaths,
		DecodeIDFromJWT:      spec.decodeIDFromJWT,
		JWTIDClaims:          spec.jwtIDClaims,
		ExtraAuthorizeParams: spec.extraAuthorizeParams,
		AuthorizeFieldNames:  spec.authorizeFieldNames,
		DefaultExpiresIn:     spec.defaultExpiresIn,
	}, nil
}
