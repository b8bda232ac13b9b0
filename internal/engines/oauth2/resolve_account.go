package oauth2

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"credhub/internal/common/logging"
	"credhub/internal/providers"
)

// resolveAccount determines the remote account id and display name for a
// fresh token, trying in order: the token response itself, the kind's
// introspection call, and the unverified JWT payload fallback. Returns
// empty strings when nothing resolves; the caller decides whether that
// is fatal.
func (e *Engine) resolveAccount(ctx context.Context, descriptor *providers.Descriptor, tokenResp *tokenResponse) (string, string) {
	id := firstPath(tokenResp.Raw, descriptor.IDPaths)
	name := firstPath(tokenResp.Raw, descriptor.NamePaths)

	if id == "" && descriptor.Introspection != providers.IntrospectNone {
		doc, err := e.introspect(ctx, descriptor, tokenResp.AccessToken)
		if err != nil {
			e.logger.Warn("Account introspection failed",
				logging.Any("kind", descriptor.Kind),
				logging.Err(err))
		} else {
			if id == "" {
				id = firstPath(doc, descriptor.IDPaths)
			}
			if name == "" {
				name = firstPath(doc, descriptor.NamePaths)
			}
		}
	}

	if id == "" && descriptor.DecodeIDFromJWT {
		id = decodeJWTClaim(tokenResp.IDToken, descriptor.JWTIDClaims)
		if id == "" {
			id = decodeJWTClaim(tokenResp.AccessToken, descriptor.JWTIDClaims)
		}
	}

	return id, name
}

// introspect calls the kind's account endpoint with the fresh access
// token. REST kinds that embed the token in the URL path (instead of a
// Bearer header) mark the slot with a trailing slash.
func (e *Engine) introspect(ctx context.Context, descriptor *providers.Descriptor, accessToken string) (map[string]interface{}, error) {
	var req *http.Request
	var err error

	switch descriptor.Introspection {
	case providers.IntrospectGraphQL:
		payload, marshalErr := json.Marshal(map[string]string{"query": descriptor.IntrospectionBody})
		if marshalErr != nil {
			return nil, marshalErr
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, descriptor.IntrospectionURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+accessToken)

	default:
		introspectionURL := descriptor.IntrospectionURL
		if strings.HasSuffix(introspectionURL, "/") {
			introspectionURL += accessToken
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, introspectionURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// decodeJWTClaim reads the first matching claim out of a JWT payload
// without verifying the signature. The result is an account label only.
func decodeJWTClaim(token string, claimNames []string) string {
	if token == "" || len(claimNames) == 0 {
		return ""
	}

	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return ""
	}

	for _, claim := range claimNames {
		if v, ok := claims[claim].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func firstPath(doc map[string]interface{}, paths []string) string {
	if doc == nil {
		return ""
	}
	for _, path := range paths {
		if v, ok := providers.ResolvePath(doc, path); ok {
			return v
		}
	}
	return ""
}
