// Package signature authenticates provider webhook payloads.
//
// The provider sends a header of comma-separated key=value fields:
//
//	t=1700000000,v1=5257a869e7ecebeda32affa62cdca3fa51cad7e77a0e56ff536d0ce8e108d8bd
//
// where v1 is hex(HMAC-SHA256(secret, "<t>.<raw body>")). Several v1 fields
// may be present during secret rotation; any one matching is enough.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// HeaderName is the request header carrying the provider signature.
const HeaderName = "X-Provider-Signature"

const (
	timestampKey = "t"
	schemeV1     = "v1"
)

// Verify reports whether header carries a valid v1 signature of payload
// under secret. It never errors: a missing secret, a malformed header, a
// header without v1 fields and a mismatch are all simply false.
// No timestamp freshness check is applied.
func Verify(payload []byte, header string, secret []byte) bool {
	return verify(payload, header, secret, 0, time.Time{})
}

// Verifier adds an optional replay window on top of Verify.
type Verifier struct {
	Secret []byte
	// Tolerance bounds how old (or how far in the future) the signed
	// timestamp may be. Zero disables the check.
	Tolerance time.Duration
	// Now is used for the freshness check; nil means time.Now.
	Now func() time.Time
}

// NewVerifier returns a Verifier for secret with the given tolerance.
func NewVerifier(secret string, tolerance time.Duration) *Verifier {
	return &Verifier{Secret: []byte(secret), Tolerance: tolerance}
}

// Verify checks header against payload, then the timestamp tolerance.
func (v *Verifier) Verify(payload []byte, header string) bool {
	now := time.Now
	if v.Now != nil {
		now = v.Now
	}
	return verify(payload, header, v.Secret, v.Tolerance, now())
}

// Sign builds a header value for payload signed at t. Used by tests and the
// sign-webhook command to produce provider-shaped deliveries.
func Sign(payload []byte, secret []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return timestampKey + "=" + ts + "," + schemeV1 + "=" + hex.EncodeToString(compute(payload, secret, ts))
}

func verify(payload []byte, header string, secret []byte, tolerance time.Duration, now time.Time) bool {
	if len(secret) == 0 {
		return false
	}
	parsed, ok := parseHeader(header)
	if !ok {
		return false
	}
	if tolerance > 0 {
		unix, err := strconv.ParseInt(parsed.timestamp, 10, 64)
		if err != nil {
			return false
		}
		age := now.Sub(time.Unix(unix, 0))
		if age > tolerance || age < -tolerance {
			return false
		}
	}

	expected := compute(payload, secret, parsed.timestamp)
	matched := false
	for _, candidate := range parsed.signatures {
		sig, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(expected, sig) {
			matched = true
		}
	}
	return matched
}

func compute(payload []byte, secret []byte, timestamp string) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	return mac.Sum(nil)
}

type header struct {
	timestamp  string
	signatures []string
}

// parseHeader extracts the timestamp and every v1 signature. Unknown keys
// (other signature schemes) are skipped.
func parseHeader(raw string) (header, bool) {
	var h header
	if strings.TrimSpace(raw) == "" {
		return h, false
	}
	for _, field := range strings.Split(raw, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(field), "=")
		if !found || value == "" {
			continue
		}
		switch key {
		case timestampKey:
			h.timestamp = value
		case schemeV1:
			h.signatures = append(h.signatures, value)
		}
	}
	if h.timestamp == "" || len(h.signatures) == 0 {
		return h, false
	}
	return h, true
}
