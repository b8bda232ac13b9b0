// Package signature validates the authenticity of inbound provider
// webhooks via the v0 HMAC-SHA256 scheme: the provider signs
// "v0:<timestamp>:<body>" with a shared signing secret and sends the hex
// digest as "v0=<hex>" alongside the timestamp header.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Tolerance is the maximum allowed clock skew between the request
// timestamp and the receiving host. Applied symmetrically: requests more
// than Tolerance old or in the future are rejected as Expired.
const Tolerance = 300 * time.Second

// Result classifies a validation outcome
type Result int

const (
	// Ok means the signature is authentic and current
	Ok Result = iota
	// Invalid means a missing/malformed header, missing secret, or a
	// signature mismatch
	Invalid
	// Expired means the timestamp fell outside the tolerance window
	Expired
)

// String returns the lowercase name of the result
func (r Result) String() string {
	switch r {
	case Ok:
		return "ok"
	case Invalid:
		return "invalid"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Validate checks an inbound webhook request body against its signature
// and timestamp headers using the given signing secret.
func Validate(rawBody []byte, timestampHeader, signatureHeader, signingSecret string) Result {
	return validateAt(rawBody, timestampHeader, signatureHeader, signingSecret, time.Now())
}

func validateAt(rawBody []byte, timestampHeader, signatureHeader, signingSecret string, now time.Time) Result {
	if signingSecret == "" || signatureHeader == "" || timestampHeader == "" {
		return Invalid
	}

	timestamp, err := strconv.ParseInt(timestampHeader, 10, 64)
	if err != nil {
		return Invalid
	}

	skew := now.Unix() - timestamp
	if skew < 0 {
		skew = -skew
	}
	if time.Duration(skew)*time.Second > Tolerance {
		return Expired
	}

	mac := hmac.New(sha256.New, []byte(signingSecret))
	mac.Write([]byte("v0:" + timestampHeader + ":"))
	mac.Write(rawBody)
	expected := "v0=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signatureHeader)) {
		return Invalid
	}

	return Ok
}
