// Package webhook posts transcription outcomes to the downstream automation
// endpoint. Delivery is best-effort: the notifier reports success or failure
// through its return value and never lets an error escape to the caller.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"voice-transcription-service/internal/metrics"
	"voice-transcription-service/internal/transcriber"
)

const (
	sourceLabel    = "voice-transcription-service"
	serviceVersion = "1.0.0"
	userAgent      = "Voice-Transcription-Service/" + serviceVersion
)

// resultEnvelope is the JSON body posted for a successful transcription.
type resultEnvelope struct {
	Transcription resultPayload  `json:"transcription"`
	Metadata      resultMetadata `json:"metadata"`
}

type resultPayload struct {
	Text       string  `json:"text"`
	Language   string  `json:"language"`
	Duration   float64 `json:"duration"`
	Timestamp  string  `json:"timestamp"`
	APIKeyName string  `json:"api_key_name"`
	Source     string  `json:"source"`
}

type resultMetadata struct {
	OriginalFilename *string `json:"original_filename"`
	AudioSize        *int64  `json:"audio_size"`
	ServiceVersion   string  `json:"service_version"`
}

// errorEnvelope is the JSON body posted for a failed request.
type errorEnvelope struct {
	Error    errorPayload  `json:"error"`
	Metadata errorMetadata `json:"metadata"`
}

type errorPayload struct {
	Message    string `json:"message"`
	Timestamp  string `json:"timestamp"`
	APIKeyName string `json:"api_key_name"`
	Source     string `json:"source"`
}

type errorMetadata struct {
	OriginalFilename *string `json:"original_filename"`
	ServiceVersion   string  `json:"service_version"`
}

// Notifier delivers webhook envelopes with bounded retries.
type Notifier struct {
	url     string
	retries int
	client  *http.Client
	metrics *metrics.Metrics
	logger  *slog.Logger

	// sleep is replaced in tests to avoid real backoff waits.
	sleep func(time.Duration)
}

// NewNotifier creates a Notifier. retries is the total number of attempts
// made for result deliveries; timeout bounds each individual POST.
func NewNotifier(url string, timeout time.Duration, retries int, m *metrics.Metrics, logger *slog.Logger) *Notifier {
	if retries < 1 {
		retries = 1
	}
	return &Notifier{
		url:     url,
		retries: retries,
		client:  &http.Client{Timeout: timeout},
		metrics: m,
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// DeliverResult posts a transcription result. Up to the configured number of
// attempts are made; between failed attempts the notifier backs off
// 2^attemptIndex seconds with no sleep after the last. The same envelope
// bytes are reused across attempts. It reports whether any attempt landed.
func (n *Notifier) DeliverResult(ctx context.Context, t *transcriber.Transcription, apiKeyName string, originalFilename *string, audioSize *int64) bool {
	envelope := resultEnvelope{
		Transcription: resultPayload{
			Text:       t.Text,
			Language:   t.Language,
			Duration:   t.Duration,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			APIKeyName: apiKeyName,
			Source:     sourceLabel,
		},
		Metadata: resultMetadata{
			OriginalFilename: originalFilename,
			AudioSize:        audioSize,
			ServiceVersion:   serviceVersion,
		},
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		n.logger.Error("failed to marshal webhook result envelope", slog.String("error", err.Error()))
		n.metrics.RecordWebhookDelivery("result", false)
		return false
	}

	for attempt := 0; attempt < n.retries; attempt++ {
		if n.post(ctx, body) {
			n.logger.Info("webhook result delivered",
				slog.Int("attempt", attempt+1),
				slog.String("api_key_name", apiKeyName),
			)
			n.metrics.RecordWebhookDelivery("result", true)
			return true
		}

		if attempt < n.retries-1 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			n.logger.Warn("webhook attempt failed, retrying",
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)
			n.sleep(backoff)
		}
	}

	n.logger.Warn("webhook result delivery failed after all attempts",
		slog.Int("attempts", n.retries),
		slog.String("api_key_name", apiKeyName),
	)
	n.metrics.RecordWebhookDelivery("result", false)
	return false
}

// DeliverError posts an error notification. A single attempt, no retries:
// piling retries onto already-failing requests only makes things worse.
func (n *Notifier) DeliverError(ctx context.Context, message, apiKeyName string, originalFilename *string) bool {
	envelope := errorEnvelope{
		Error: errorPayload{
			Message:    message,
			Timestamp:  time.Now().UTC().Format(time.RFC3339),
			APIKeyName: apiKeyName,
			Source:     sourceLabel,
		},
		Metadata: errorMetadata{
			OriginalFilename: originalFilename,
			ServiceVersion:   serviceVersion,
		},
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		n.logger.Error("failed to marshal webhook error envelope", slog.String("error", err.Error()))
		n.metrics.RecordWebhookDelivery("error", false)
		return false
	}

	delivered := n.post(ctx, body)
	if !delivered {
		n.logger.Warn("webhook error notification failed", slog.String("api_key_name", apiKeyName))
	}
	n.metrics.RecordWebhookDelivery("error", delivered)
	return delivered
}

// post performs one POST attempt. Success means status 200, 201 or 202;
// anything else, including transport errors and timeouts, is a failure.
func (n *Notifier) post(ctx context.Context, body []byte) bool {
	n.metrics.RecordWebhookAttempt()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("failed to build webhook request", slog.String("error", err.Error()))
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("webhook request failed", slog.String("error", err.Error()))
		return false
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		return true
	default:
		n.logger.Warn("webhook rejected", slog.String("status", fmt.Sprintf("%d", resp.StatusCode)))
		return false
	}
}
