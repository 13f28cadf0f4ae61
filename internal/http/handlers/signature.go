package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var errUnauthorized = errors.New("handlers: webhook signature rejected")

// WebhookVerifier checks HMAC-SHA256 signatures over "timestamp.body".
type WebhookVerifier struct {
	secret  string
	maxSkew time.Duration
	now     func() time.Time
}

// NewWebhookVerifier returns nil when no secret is configured.
func NewWebhookVerifier(secret string, maxSkew time.Duration) *WebhookVerifier {
	if strings.TrimSpace(secret) == "" {
		return nil
	}
	if maxSkew <= 0 {
		maxSkew = 5 * time.Minute
	}
	return &WebhookVerifier{secret: secret, maxSkew: maxSkew, now: time.Now}
}

func (v *WebhookVerifier) Verify(timestamp, signature string, payload []byte) error {
	ts := strings.TrimSpace(timestamp)
	if ts == "" {
		return fmt.Errorf("%w: missing timestamp", errUnauthorized)
	}
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp", errUnauthorized)
	}
	if diff := v.now().Sub(time.Unix(sec, 0)); diff > v.maxSkew || diff < -v.maxSkew {
		return fmt.Errorf("%w: timestamp skew %s", errUnauthorized, diff)
	}
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(ts + "." + string(payload)))
	expected := hex.EncodeToString(mac.Sum(nil))
	actual := strings.ToLower(strings.TrimSpace(signature))
	if actual == "" || !hmac.Equal([]byte(expected), []byte(actual)) {
		return fmt.Errorf("%w: signature mismatch", errUnauthorized)
	}
	return nil
}
