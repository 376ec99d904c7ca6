package alerts

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/Ramsey-Javan/cerberus-defense-suite/internal/circuitbreaker"
)

// Webhook headers.
const (
	HeaderEvent     = "X-Cerberus-Event"
	HeaderTimestamp = "X-Cerberus-Timestamp"
	HeaderSignature = "X-Cerberus-Signature"

	EventAlertCreated = "alert.created"
)

// WebhookEvent is the JSON body posted to the webhook.
type WebhookEvent struct {
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"userId"`
	Alert     *Alert    `json:"alert"`
}

// WebhookTransport posts alerts to a single HTTP endpoint (a SOC relay or
// chat bridge), signed with HMAC-SHA256 over the body. Repeated failures
// open a circuit so dispatches stop waiting on a dead receiver.
type WebhookTransport struct {
	url     string
	secret  string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	now     func() time.Time
}

// NewWebhookTransport creates a webhook transport for url.
func NewWebhookTransport(url, secret string) *WebhookTransport {
	return &WebhookTransport{
		url:     url,
		secret:  secret,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: circuitbreaker.New("alert_webhook", 5, 30*time.Second),
		now:     time.Now,
	}
}

// WithHTTPClient replaces the HTTP client.
func (w *WebhookTransport) WithHTTPClient(c *http.Client) *WebhookTransport {
	w.client = c
	return w
}

// WithBreaker replaces the circuit breaker.
func (w *WebhookTransport) WithBreaker(b *circuitbreaker.Breaker) *WebhookTransport {
	w.breaker = b
	return w
}

func (w *WebhookTransport) Deliver(ctx context.Context, userID string, a *Alert) error {
	payload, err := json.Marshal(WebhookEvent{
		Type:      EventAlertCreated,
		Timestamp: w.now().UTC(),
		UserID:    userID,
		Alert:     a,
	})
	if err != nil {
		return fmt.Errorf("alerts: encode webhook: %w", err)
	}

	err = w.breaker.Execute(w.url, func() error { return w.post(ctx, payload) })
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return fmt.Errorf("%w: webhook circuit open", ErrUnreachable)
	}
	return err
}

func (w *WebhookTransport) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("alerts: build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderEvent, EventAlertCreated)
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(w.now().Unix(), 10))
	req.Header.Set(HeaderSignature, Sign(payload, w.secret))

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: webhook request: %v", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("alerts: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifySignature reports whether signature matches payload under secret.
func VerifySignature(payload []byte, secret, signature string) bool {
	return hmac.Equal([]byte(Sign(payload, secret)), []byte(signature))
}
