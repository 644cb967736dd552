// Package notifier delivers alert batches to HTTP webhooks.
package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/vk-rv/lakemon/internal/lakemon"
)

// SignatureHeader carries the hex HMAC-SHA256 of the request body.
const SignatureHeader = "X-Webhook-Signature"

const maxErrorBody = 4 << 10

var _ lakemon.AlertSink = (*WebhookNotifier)(nil)

// WebhookNotifier posts alert batches to a single URL.
type WebhookNotifier struct {
	now        func() time.Time
	logger     *slog.Logger
	httpClient *http.Client
	url        string
	secret     []byte
}

// NewWebhookNotifier creates a new WebhookNotifier. An empty secret sends
// unsigned requests.
func NewWebhookNotifier(
	url, secret string,
	httpClient *http.Client,
	now func() time.Time,
	logger *slog.Logger,
) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		secret:     []byte(secret),
		httpClient: httpClient,
		now:        now,
		logger:     logger,
	}
}

// AlertPayload is the JSON body of a webhook request.
type AlertPayload struct {
	SentAt      time.Time       `json:"sent_at"`
	GeneratedAt time.Time       `json:"generated_at"`
	SnapshotID  string          `json:"snapshot_id"`
	Status      string          `json:"status"`
	Health      lakemon.Health  `json:"health"`
	Alerts      []lakemon.Alert `json:"alerts"`
	Days        int             `json:"days"`
	Critical    int             `json:"critical"`
	Warning     int             `json:"warning"`
}

// Name implements lakemon.AlertSink.
func (wn *WebhookNotifier) Name() string {
	return "webhook"
}

// Send implements lakemon.AlertSink.
func (wn *WebhookNotifier) Send(ctx context.Context, batch *lakemon.AlertBatch) error {
	payload := &AlertPayload{
		SentAt:      wn.now().UTC(),
		GeneratedAt: batch.GeneratedAt,
		SnapshotID:  batch.SnapshotID,
		Status:      "triggered",
		Health:      batch.Health,
		Alerts:      batch.Alerts,
		Days:        batch.Days,
	}
	for i := range batch.Alerts {
		switch batch.Alerts[i].Severity {
		case lakemon.SeverityCritical:
			payload.Critical++
		case lakemon.SeverityWarning:
			payload.Warning++
		}
	}
	return wn.SendWebhook(ctx, payload)
}

// SendWebhook posts the payload. A non-2xx response is an error.
func (wn *WebhookNotifier) SendWebhook(ctx context.Context, payload *AlertPayload) (err error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("webhook notifier: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wn.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("webhook notifier: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(wn.secret) > 0 {
		req.Header.Set(SignatureHeader, Sign(jsonData, wn.secret))
	}

	resp, err := wn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook notifier: send request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, rerr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if rerr != nil {
			return fmt.Errorf("webhook notifier: read response body: %w", rerr)
		}
		return fmt.Errorf("webhook notifier: webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(body))
	}

	wn.logger.Debug("webhook delivered",
		slog.String("snapshot_id", payload.SnapshotID),
		slog.Int("alerts", len(payload.Alerts)),
	)
	return nil
}

// Sign computes the HMAC-SHA256 signature of message.
func Sign(message, key []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	return hex.EncodeToString(h.Sum(nil))
}
