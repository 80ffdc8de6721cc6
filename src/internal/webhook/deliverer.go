package webhook

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
	"time"
)

// Deliverer performs a single signed HTTP POST and reports the
// outcome. It knows nothing about queues, retries, or storage — it
// only ever blocks on the HTTP call and its own timeout.
type Deliverer struct {
	client *http.Client
}

func NewDeliverer() *Deliverer {
	return &Deliverer{client: &http.Client{}}
}

// Deliver sends payload to webhook and returns the AttemptResult.
// timeoutMs <= 0 falls back to DefaultTimeoutMs.
func (d *Deliverer) Deliver(ctx context.Context, w *Webhook, payload WebhookPayload, attempt int, timeoutMs int64, headers map[string]string) AttemptResult {
	if timeoutMs <= 0 {
		timeoutMs = DefaultTimeoutMs
	}

	body, err := json.Marshal(payload)
	if err != nil {
		bugErr := InternalProcessorBugError("failed to marshal payload", err)
		return AttemptResult{
			Success:      false,
			ErrorKind:    string(bugErr.Kind),
			ErrorMessage: bugErr.Error(),
			Attempt:      attempt,
			CompletedAt:  time.Now().UTC(),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(body))
	if err != nil {
		permErr := PermanentTransportError("failed to build request", err)
		return AttemptResult{
			Success:      false,
			ErrorKind:    string(permErr.Kind),
			ErrorMessage: permErr.Error(),
			Attempt:      attempt,
			CompletedAt:  time.Now().UTC(),
		}
	}

	for k, v := range d.buildHeaders(w, payload, body, headers) {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	durationMs := time.Since(start).Milliseconds()

	if err != nil {
		errMsg := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			errMsg = "ETIMEDOUT: " + errMsg
		}
		classified := ClassifyTransportError(0, errMsg)
		return AttemptResult{
			Success:      false,
			ErrorKind:    string(classified.Kind),
			ErrorMessage: errMsg,
			DurationMs:   durationMs,
			Attempt:      attempt,
			CompletedAt:  time.Now().UTC(),
		}
	}
	defer resp.Body.Close()

	truncated, _ := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBodyBytes))

	result := AttemptResult{
		Success:     resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode:  resp.StatusCode,
		DurationMs:  durationMs,
		Attempt:     attempt,
		Response:    string(truncated),
		CompletedAt: time.Now().UTC(),
	}
	if !result.Success {
		result.ErrorMessage = fmt.Sprintf("http %d", resp.StatusCode)
		result.ErrorKind = string(ClassifyTransportError(resp.StatusCode, "").Kind)
	}
	return result
}

// buildHeaders returns the default headers, plus the signature when
// the webhook has a secret, as an unordered map. Custom headers
// configured on the webhook are merged last so they may override any
// of the defaults.
func (d *Deliverer) buildHeaders(w *Webhook, payload WebhookPayload, body []byte, custom map[string]string) map[string]string {
	headers := map[string]string{
		"Content-Type":          "application/json",
		"X-Webhook-Delivery-ID": payload.DeliveryID,
		"X-Webhook-Event":       payload.Event,
		"X-Webhook-Timestamp":   fmt.Sprintf("%d", payload.Timestamp),
		"User-Agent":            UserAgent,
	}
	if w.Secret != "" {
		headers["X-Webhook-Signature"] = "sha256=" + Sign(body, w.Secret)
	}
	for k, v := range custom {
		headers[k] = v
	}
	return headers
}

// Sign returns the lowercase-hex HMAC-SHA256 of body keyed by secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is the receiver-side helper: a constant-time
// comparison, since verification is where timing attacks matter — the
// sender only ever computes a signature, never compares one.
func VerifySignature(body []byte, secret, signature string) bool {
	expected := "sha256=" + Sign(body, secret)
	return hmac.Equal([]byte(expected), []byte(signature))
}
