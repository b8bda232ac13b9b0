package oauth2

import (
	"encoding/base64"
	"encoding/json"
	"net/url"

	"credhub/internal/common/errors"
	"credhub/internal/credentials"
)

// AuthorizeState is the round-tripped payload carried in the authorize
// redirect's state parameter. Token is the anti-forgery nonce the
// callback must present again; Next is where the browser lands after.
type AuthorizeState struct {
	Token string `json:"token"`
	Next  string `json:"next,omitempty"`
}

// EncodeState serializes an authorize state for embedding in a URL
func EncodeState(state AuthorizeState) (string, error) {
	payload, err := json.Marshal(state)
	if err != nil {
		return "", errors.InternalError("failed to encode authorize state", err)
	}
	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// DecodeState parses a state parameter back into its payload
func DecodeState(encoded string) (*AuthorizeState, error) {
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.ValidationError("malformed authorize state")
	}
	var state AuthorizeState
	if err := json.Unmarshal(payload, &state); err != nil {
		return nil, errors.ValidationError("malformed authorize state")
	}
	if state.Token == "" {
		return nil, errors.ValidationError("authorize state missing token")
	}
	return &state, nil
}

// BuildAuthorizeURL constructs the provider authorize redirect for a kind.
// Standard query field names pass through the kind's overrides, and any
// extra static parameters the kind requires are appended.
func (e *Engine) BuildAuthorizeURL(kind credentials.Kind, state AuthorizeState) (string, error) {
	descriptor, err := e.registry.Describe(kind)
	if err != nil {
		return "", err
	}

	encodedState, err := EncodeState(state)
	if err != nil {
		return "", err
	}

	query := url.Values{}
	query.Set(descriptor.AuthorizeField("client_id"), descriptor.ClientID)
	query.Set(descriptor.AuthorizeField("redirect_uri"), e.callbackURL)
	query.Set(descriptor.AuthorizeField("response_type"), "code")
	query.Set(descriptor.AuthorizeField("state"), encodedState)
	if descriptor.Scope != "" {
		query.Set(descriptor.AuthorizeField("scope"), descriptor.Scope)
	}
	for key, value := range descriptor.ExtraAuthorizeParams {
		query.Set(key, value)
	}

	return descriptor.AuthorizeURL + "?" + query.Encode(), nil
}
