package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + timestamp + ":"))
	mac.Write(body)
	return "v0=" + hex.EncodeToString(mac.Sum(nil))
}

func TestValidate_Authentic(t *testing.T) {
	now := time.Now()
	body := []byte(`{"type":"x"}`)
	ts := strconv.FormatInt(now.Unix(), 10)

	got := validateAt(body, ts, sign(testSecret, ts, body), testSecret, now)
	assert.Equal(t, Ok, got)
}

func TestValidate_SingleByteFlipInvalidates(t *testing.T) {
	now := time.Now()
	body := []byte(`{"type":"x"}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := sign(testSecret, ts, body)

	for i := range body {
		tampered := make([]byte, len(body))
		copy(tampered, body)
		tampered[i] ^= 0x01

		assert.Equal(t, Invalid, validateAt(tampered, ts, sig, testSecret, now),
			"flipping byte %d must invalidate", i)
	}
}

func TestValidate_ExpiredTimestamp(t *testing.T) {
	now := time.Now()
	body := []byte(`{"type":"x"}`)

	ts := strconv.FormatInt(now.Unix()-301, 10)
	assert.Equal(t, Expired, validateAt(body, ts, sign(testSecret, ts, body), testSecret, now))

	// Right at the edge is still accepted
	ts = strconv.FormatInt(now.Unix()-300, 10)
	assert.Equal(t, Ok, validateAt(body, ts, sign(testSecret, ts, body), testSecret, now))
}

func TestValidate_FutureTimestampRejected(t *testing.T) {
	now := time.Now()
	body := []byte(`{"type":"x"}`)

	ts := strconv.FormatInt(now.Unix()+301, 10)
	assert.Equal(t, Expired, validateAt(body, ts, sign(testSecret, ts, body), testSecret, now))

	ts = strconv.FormatInt(now.Unix()+120, 10)
	assert.Equal(t, Ok, validateAt(body, ts, sign(testSecret, ts, body), testSecret, now))
}

func TestValidate_MissingInputs(t *testing.T) {
	now := time.Now()
	body := []byte(`{"type":"x"}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	sig := sign(testSecret, ts, body)

	assert.Equal(t, Invalid, validateAt(body, ts, "", testSecret, now), "missing signature header")
	assert.Equal(t, Invalid, validateAt(body, "", sig, testSecret, now), "missing timestamp header")
	assert.Equal(t, Invalid, validateAt(body, ts, sig, "", now), "missing signing secret")
}

func TestValidate_NonNumericTimestamp(t *testing.T) {
	now := time.Now()
	body := []byte(`{"type":"x"}`)

	got := validateAt(body, "yesterday", sign(testSecret, "yesterday", body), testSecret, now)
	assert.Equal(t, Invalid, got)
}

func TestValidate_WrongSecret(t *testing.T) {
	now := time.Now()
	body := []byte(`{"type":"x"}`)
	ts := strconv.FormatInt(now.Unix(), 10)

	got := validateAt(body, ts, sign("other-secret", ts, body), testSecret, now)
	assert.Equal(t, Invalid, got)
}

func TestResult_String(t *testing.T) {
	assert.Equal(t, "ok", Ok.String())
	assert.Equal(t, "invalid", Invalid.String())
	assert.Equal(t, "expired", Expired.String())
}
