package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"voice-transcription-service/internal/config"
)

const defaultOpenAIEndpoint = "https://api.openai.com/v1/audio/transcriptions"

// OpenAIEngine calls an OpenAI-compatible transcription API. The verbose
// JSON response format is requested so segment timings are available.
type OpenAIEngine struct {
	endpoint   string
	apiKey     string
	model      string
	language   string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOpenAIEngine creates the remote API backend.
func NewOpenAIEngine(cfg config.EngineConfig, logger *slog.Logger) *OpenAIEngine {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultOpenAIEndpoint
	}
	model := cfg.Model
	if model == "" {
		model = "whisper-1"
	}
	return &OpenAIEngine{
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		model:    model,
		language: cfg.Language,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger,
	}
}

// Name identifies the backend in logs and metrics.
func (e *OpenAIEngine) Name() string { return "openai" }

type openAIResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads the audio file as multipart form data and parses the
// verbose JSON response.
func (e *OpenAIEngine) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	body, contentType, err := e.buildMultipartBody(audioPath)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+e.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("transcription API returned HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse transcription response: %w", err)
	}

	result := &Result{
		Text:     strings.TrimSpace(parsed.Text),
		Language: parsed.Language,
	}
	if result.Language == "" {
		result.Language = e.language
	}
	for _, s := range parsed.Segments {
		result.Segments = append(result.Segments, Segment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		})
	}

	e.logger.Debug("openai transcription finished",
		slog.String("language", result.Language),
		slog.Int("segments", len(result.Segments)),
	)
	return result, nil
}

func (e *OpenAIEngine) buildMultipartBody(audioPath string) (io.Reader, string, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	fileWriter, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(fileWriter, f); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"model":           e.model,
		"response_format": "verbose_json",
	}
	if e.language != "" {
		fields["language"] = e.language
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, writer.FormDataContentType(), nil
}
