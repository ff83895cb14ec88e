package egress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"time"
)

// Webhook headers set by the engine.
const (
	HeaderSignature = "x-signature"
	HeaderTimestamp = "x-timestamp"
)

var (
	// ErrInvalidSignature is returned when the signature does not match the body.
	ErrInvalidSignature = errors.New("egress: invalid webhook signature")
	// ErrStaleWebhook is returned when the timestamp is missing or outside the allowed age.
	ErrStaleWebhook = errors.New("egress: webhook timestamp outside allowed window")
)

// Sign returns hex(HMAC-SHA256(secret, "{timestamp}.{body}")).
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook's signature and that its unix-seconds timestamp is within maxAge of now.
func VerifySignature(secret, timestamp, signature string, body []byte, now time.Time, maxAge time.Duration) error {
	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrStaleWebhook
	}
	age := now.Sub(time.Unix(sec, 0))
	if age < -maxAge || age > maxAge {
		return ErrStaleWebhook
	}
	expected := Sign(secret, timestamp, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return ErrInvalidSignature
	}
	return nil
}
