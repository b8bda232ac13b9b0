// Package providers holds the static per-kind protocol parameters for
// every OAuth2 provider variant, and the registry that materializes them
// from deployment configuration.
package providers

import (
	"strconv"
	"strings"

	"credhub/internal/credentials"
)

// TokenRequestStyle selects how a kind's token endpoint wants the grant
// request encoded and authenticated.
type TokenRequestStyle int

const (
	// StyleFormBody posts a form-encoded body with the client secret in it.
	// The default for almost every kind.
	StyleFormBody TokenRequestStyle = iota
	// StyleBasicAuth posts a form-encoded body with client id/secret in an
	// HTTP Basic Authorization header, plus a custom User-Agent
	StyleBasicAuth
	// StyleJSONBody posts the grant parameters as a JSON object
	StyleJSONBody
)

// IntrospectionKind selects how the remote account is resolved after a
// successful exchange.
type IntrospectionKind int

const (
	// IntrospectNone means the token response itself carries the account id
	IntrospectNone IntrospectionKind = iota
	// IntrospectREST performs a GET with the fresh access token
	IntrospectREST
	// IntrospectGraphQL posts a GraphQL query with the fresh access token
	IntrospectGraphQL
)

// Descriptor is the immutable protocol description for one provider kind.
// Constructed once per kind from deployment configuration; cached briefly
// by the registry.
type Descriptor struct {
	Kind         credentials.Kind
	AuthorizeURL string
	TokenURL     string
	ClientID     string
	ClientSecret string
	Scope        string

	// SandboxTokenURL, when set, is tried once after a failed exchange at
	// the primary token endpoint (enterprise CRM sandbox fallback)
	SandboxTokenURL string

	TokenStyle TokenRequestStyle
	// UserAgent is sent on token requests for kinds that demand one
	UserAgent string

	Introspection     IntrospectionKind
	IntrospectionURL  string
	IntrospectionBody string // GraphQL query for IntrospectGraphQL

	// IDPaths and NamePaths are dotted-path expressions evaluated against
	// the token response first, then the introspection response, to pull
	// out the remote account id and display name
	IDPaths   []string
	NamePaths []string

	// DecodeIDFromJWT enables the last-resort fallback of reading the
	// account id out of the unverified payload of the returned token.
	// The value is informational only and never used for authorization.
	DecodeIDFromJWT bool
	JWTIDClaims     []string

	// ExtraAuthorizeParams are appended to every authorize URL (e.g.
	// forcing offline access so a refresh token is issued)
	ExtraAuthorizeParams map[string]string

	// AuthorizeFieldNames overrides standard authorize query field names
	// for kinds with a non-standard encoding, e.g. "client_id"->"clientId"
	AuthorizeFieldNames map[string]string

	// DefaultExpiresIn substitutes for a missing expires_in in the token
	// response. Zero means the field is required.
	DefaultExpiresIn int64
}

// AuthorizeField maps a standard authorize query field name through the
// kind's overrides.
func (d *Descriptor) AuthorizeField(standard string) string {
	if override, ok := d.AuthorizeFieldNames[standard]; ok {
		return override
	}
	return standard
}

// ResolvePath evaluates a dotted-path expression against a decoded JSON
// document, e.g. "data.viewer.id" or "team.id". Returns ok=false when any
// segment is missing or not an object.
func ResolvePath(doc map[string]interface{}, path string) (string, bool) {
	segments := strings.Split(path, ".")
	var current interface{} = doc

	for _, segment := range segments {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return "", false
		}
		current, ok = obj[segment]
		if !ok {
			return "", false
		}
	}

	switch v := current.(type) {
	case string:
		return v, v != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), v != 0
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}
