package oauth2

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"credhub/internal/common/errors"
	"credhub/internal/providers"
)

// tokenResponse is the decoded token endpoint reply. Raw keeps the full
// document so descriptor path expressions can pull account fields out of
// non-standard response shapes.
type tokenResponse struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	ExpiresIn    int64
	Raw          map[string]interface{}
}

// grantParams is the flat parameter set for a token request
type grantParams map[string]string

func authorizationCodeGrant(descriptor *providers.Descriptor, code, callbackURL string) grantParams {
	return grantParams{
		"grant_type":   "authorization_code",
		"code":         code,
		"redirect_uri": callbackURL,
	}
}

func refreshTokenGrant(descriptor *providers.Descriptor, refreshToken string) grantParams {
	return grantParams{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
	}
}

// requestToken posts a grant to the descriptor's token endpoint using the
// kind's required auth style. A non-200 status or a response without an
// access token is an exchange error.
func (e *Engine) requestToken(ctx context.Context, descriptor *providers.Descriptor, params grantParams) (*tokenResponse, error) {
	req, err := buildTokenRequest(ctx, descriptor, params)
	if err != nil {
		return nil, err
	}

	var resp *http.Response
	err = e.breaker.Execute(ctx, func() error {
		var httpErr error
		resp, httpErr = e.httpClient.Do(req)
		return httpErr
	})
	if err != nil {
		return nil, errors.ExchangeError("token request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.ExchangeError("failed to read token response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, errors.ExchangeError(
			fmt.Sprintf("token endpoint returned status %d", resp.StatusCode), nil).
			WithContext("kind", string(descriptor.Kind))
	}

	var raw map[string]interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, errors.ExchangeError("failed to decode token response", err)
	}

	parsed := &tokenResponse{
		AccessToken:  stringField(raw, "access_token"),
		RefreshToken: stringField(raw, "refresh_token"),
		IDToken:      stringField(raw, "id_token"),
		ExpiresIn:    intField(raw, "expires_in"),
		Raw:          raw,
	}

	if parsed.AccessToken == "" {
		return nil, errors.ExchangeError("token response contains no access token", nil).
			WithContext("kind", string(descriptor.Kind))
	}

	return parsed, nil
}

// buildTokenRequest encodes the grant per the kind's token style
func buildTokenRequest(ctx context.Context, descriptor *providers.Descriptor, params grantParams) (*http.Request, error) {
	switch descriptor.TokenStyle {
	case providers.StyleJSONBody:
		payload := make(map[string]string, len(params)+2)
		for k, v := range params {
			payload[k] = v
		}
		payload["client_id"] = descriptor.ClientID
		payload["client_secret"] = descriptor.ClientSecret

		body, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.InternalError("failed to encode token request", err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, descriptor.TokenURL, bytes.NewReader(body))
		if err != nil {
			return nil, errors.InternalError("failed to create token request", err)
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil

	case providers.StyleBasicAuth:
		data := url.Values{}
		for k, v := range params {
			data.Set(k, v)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, descriptor.TokenURL, strings.NewReader(data.Encode()))
		if err != nil {
			return nil, errors.InternalError("failed to create token request", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(descriptor.ClientID, descriptor.ClientSecret)
		if descriptor.UserAgent != "" {
			req.Header.Set("User-Agent", descriptor.UserAgent)
		}
		return req, nil

	default: // StyleFormBody
		data := url.Values{}
		for k, v := range params {
			data.Set(k, v)
		}
		data.Set("client_id", descriptor.ClientID)
		data.Set("client_secret", descriptor.ClientSecret)

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, descriptor.TokenURL, strings.NewReader(data.Encode()))
		if err != nil {
			return nil, errors.InternalError("failed to create token request", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	}
}

func stringField(doc map[string]interface{}, key string) string {
	if v, ok := doc[key].(string); ok {
		return v
	}
	return ""
}

func intField(doc map[string]interface{}, key string) int64 {
	switch v := doc[key].(type) {
	case float64:
		return int64(v)
	case string:
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return 0
}
