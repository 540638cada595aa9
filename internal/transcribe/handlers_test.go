package transcribe

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-transcription-service/internal/auth"
	"voice-transcription-service/internal/datastore"
	"voice-transcription-service/internal/engine"
	"voice-transcription-service/internal/metrics"
	"voice-transcription-service/internal/transcriber"
	"voice-transcription-service/internal/validation"
	"voice-transcription-service/internal/webhook"
)

type fakeKeyStore struct {
	keys map[string]*datastore.APIKey
}

func (f *fakeKeyStore) FindActiveAPIKey(_ context.Context, key string) (*datastore.APIKey, error) {
	record, ok := f.keys[key]
	if !ok || !record.Active {
		return nil, datastore.ErrNotFound
	}
	return record, nil
}

func (f *fakeKeyStore) TouchAPIKeyLastUsed(_ context.Context, _ string) error {
	return nil
}

type stubEngine struct {
	result *engine.Result
	err    error
	calls  atomic.Int32
}

// panickingEngine simulates an engine bug that escapes as a panic rather
// than an error return.
type panickingEngine struct{}

func (panickingEngine) Name() string { return "stub" }

func (panickingEngine) Transcribe(context.Context, string) (*engine.Result, error) {
	panic("recognizer state corrupted")
}

func (s *stubEngine) Name() string { return "stub" }

func (s *stubEngine) Transcribe(_ context.Context, _ string) (*engine.Result, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

// recordingNotifier captures webhook calls so tests can assert on what the
// orchestrator reported without a live endpoint.
type recordingNotifier struct {
	delivered bool

	results []recordedResult
	errors  []recordedError
}

type recordedResult struct {
	transcription    *transcriber.Transcription
	apiKeyName       string
	originalFilename *string
	audioSize        *int64
}

type recordedError struct {
	message    string
	apiKeyName string
}

func (n *recordingNotifier) DeliverResult(_ context.Context, t *transcriber.Transcription, apiKeyName string, originalFilename *string, audioSize *int64) bool {
	n.results = append(n.results, recordedResult{t, apiKeyName, originalFilename, audioSize})
	return n.delivered
}

func (n *recordingNotifier) DeliverError(_ context.Context, message, apiKeyName string, _ *string) bool {
	n.errors = append(n.errors, recordedError{message, apiKeyName})
	return n.delivered
}

type testRig struct {
	router   *gin.Engine
	engine   *stubEngine
	notifier *recordingNotifier
}

func newTestRig(t *testing.T, eng *stubEngine) *testRig {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &fakeKeyStore{keys: map[string]*datastore.APIKey{
		"valid-key": {ID: "key-123", Key: "valid-key", Name: "test client", Active: true},
		"dead-key":  {ID: "key-456", Key: "dead-key", Name: "former client", Active: false},
	}}
	notifier := &recordingNotifier{delivered: true}

	handler := NewHandler(
		auth.NewAuthenticator(store, logger),
		validation.NewValidator([]string{"audio/mpeg", "audio/wav", "audio/mp4", "audio/m4a", "audio/x-m4a", "audio/ogg"}),
		transcriber.NewDispatcher(eng, 2, 0, metrics.NewMetrics(), logger),
		notifier,
		nil,
		25*1024*1024,
		logger,
	)

	router := gin.New()
	router.POST("/transcribe", handler.HandleTranscribe)

	return &testRig{router: router, engine: eng, notifier: notifier}
}

func happyEngine() *stubEngine {
	return &stubEngine{result: &engine.Result{
		Text:     "olá mundo",
		Language: "pt",
		Segments: []engine.Segment{{Start: 0, End: 2.5, Text: "olá mundo"}},
	}}
}

func multipartUpload(t *testing.T, filename, contentType string, payload []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename="%s"`, filename))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	require.NoError(t, err)
	_, err = part.Write(payload)
	require.NoError(t, err)

	for name, value := range fields {
		require.NoError(t, writer.WriteField(name, value))
	}
	require.NoError(t, writer.Close())

	return body, writer.FormDataContentType()
}

func doRequest(rig *testRig, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	rig.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestTranscribeMultipartSuccess(t *testing.T) {
	rig := newTestRig(t, happyEngine())

	payload, contentType := multipartUpload(t, "sample.mp3", "audio/mpeg", []byte("fake mp3 bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", payload)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", "valid-key")

	rec := doRequest(rig, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "Transcription completed", body["message"])
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, "olá mundo", body["text"])
	assert.Equal(t, "pt", body["language"])
	assert.Equal(t, 2.5, body["duration"])
	assert.Equal(t, true, body["webhook_delivered"])
	assert.Equal(t, "trans_key-123_2", body["transcription_id"])

	require.Len(t, rig.notifier.results, 1)
	delivered := rig.notifier.results[0]
	assert.Equal(t, "test client", delivered.apiKeyName)
	require.NotNil(t, delivered.originalFilename)
	assert.Equal(t, "sample.mp3", *delivered.originalFilename)
	require.NotNil(t, delivered.audioSize)
	assert.Equal(t, int64(len("fake mp3 bytes")), *delivered.audioSize)
	assert.Empty(t, rig.notifier.errors)
}

func TestTranscribeBase64Success(t *testing.T) {
	rig := newTestRig(t, happyEngine())

	audio := []byte("fake wav bytes")
	reqBody, err := json.Marshal(map[string]string{
		"audio_base64": base64.StdEncoding.EncodeToString(audio),
		"api_key":      "valid-key",
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/transcribe", bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")

	rec := doRequest(rig, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, "olá mundo", body["text"])
	assert.Equal(t, true, body["webhook_delivered"])

	require.Len(t, rig.notifier.results, 1)
	assert.Nil(t, rig.notifier.results[0].originalFilename)
	require.NotNil(t, rig.notifier.results[0].audioSize)
	assert.Equal(t, int64(len(audio)), *rig.notifier.results[0].audioSize)
}

func TestTranscribeInvalidBase64(t *testing.T) {
	rig := newTestRig(t, happyEngine())

	reqBody := `{"audio_base64": "!!not base64!!", "api_key": "valid-key"}`
	req := httptest.NewRequest(http.MethodPost, "/transcribe", strings.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")

	rec := doRequest(rig, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Contains(t, body["detail"], "Failed to process base64 audio")
	assert.Zero(t, rig.engine.calls.Load())
	assert.Empty(t, rig.notifier.results)
}

func TestTranscribeNoCredentials(t *testing.T) {
	rig := newTestRig(t, happyEngine())

	payload, contentType := multipartUpload(t, "sample.mp3", "audio/mpeg", []byte("bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", payload)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(rig, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decodeBody(t, rec)
	assert.Contains(t, body["detail"], "API key required")
	assert.Zero(t, rig.engine.calls.Load())
	assert.Empty(t, rig.notifier.results)
	assert.Empty(t, rig.notifier.errors)
}

func TestTranscribeDeactivatedKey(t *testing.T) {
	rig := newTestRig(t, happyEngine())

	payload, contentType := multipartUpload(t, "sample.mp3", "audio/mpeg", []byte("bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", payload)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", "dead-key")

	rec := doRequest(rig, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	body := decodeBody(t, rec)
	assert.Contains(t, body["detail"], "invalid or inactive API key")
}

func TestTranscribeBodyAPIKey(t *testing.T) {
	rig := newTestRig(t, happyEngine())

	payload, contentType := multipartUpload(t, "sample.mp3", "audio/mpeg", []byte("bytes"), map[string]string{
		"api_key": "valid-key",
	})
	req := httptest.NewRequest(http.MethodPost, "/transcribe", payload)
	req.Header.Set("Content-Type", contentType)

	rec := doRequest(rig, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestTranscribeBearerCredential(t *testing.T) {
	rig := newTestRig(t, happyEngine())

	payload, contentType := multipartUpload(t, "sample.mp3", "audio/mpeg", []byte("bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", payload)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer valid-key")

	rec := doRequest(rig, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestTranscribeUnsupportedType(t *testing.T) {
	rig := newTestRig(t, happyEngine())

	payload, contentType := multipartUpload(t, "notes.txt", "text/plain", []byte("hello"), nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", payload)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", "valid-key")

	rec := doRequest(rig, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Contains(t, body["detail"], "Unsupported audio type")
	assert.Contains(t, body["detail"], "content_type='text/plain'")
	assert.Contains(t, body["detail"], "Allowed types: [audio/mpeg audio/wav audio/mp4 audio/m4a audio/x-m4a audio/ogg]")
	assert.Zero(t, rig.engine.calls.Load())

	require.Len(t, rig.notifier.errors, 1)
	assert.Equal(t, "Unsupported audio type: text/plain", rig.notifier.errors[0].message)
	assert.Equal(t, "test client", rig.notifier.errors[0].apiKeyName)
}

func TestTranscribeExtensionFallback(t *testing.T) {
	rig := newTestRig(t, happyEngine())

	// No usable declared type; the .mp3 extension carries the request.
	payload, contentType := multipartUpload(t, "voz.mp3", "application/octet-stream", []byte("bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", payload)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", "valid-key")

	rec := doRequest(rig, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestTranscribeFileTooLarge(t *testing.T) {
	rig := newTestRig(t, happyEngine())

	payload, contentType := multipartUpload(t, "big.mp3", "audio/mpeg", bytes.Repeat([]byte("a"), 26*1024*1024), nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", payload)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", "valid-key")

	rec := doRequest(rig, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, fmt.Sprintf("File too large. Maximum size: %d bytes", 25*1024*1024), body["detail"])
	assert.Zero(t, rig.engine.calls.Load())
	require.Len(t, rig.notifier.errors, 1)
	assert.Contains(t, rig.notifier.errors[0].message, "File too large")
}

func TestTranscribeNoPayload(t *testing.T) {
	rig := newTestRig(t, happyEngine())

	req := httptest.NewRequest(http.MethodPost, "/transcribe", strings.NewReader(`{"api_key": "valid-key"}`))
	req.Header.Set("Content-Type", "application/json")

	rec := doRequest(rig, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Either audio file or audio_base64 must be provided", body["detail"])
	require.Len(t, rig.notifier.errors, 1)
	assert.Equal(t, "No audio data provided", rig.notifier.errors[0].message)
}

func TestTranscribeEngineFailure(t *testing.T) {
	rig := newTestRig(t, &stubEngine{err: fmt.Errorf("decoder exploded")})

	payload, contentType := multipartUpload(t, "sample.mp3", "audio/mpeg", []byte("bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", payload)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", "valid-key")

	rec := doRequest(rig, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	body := decodeBody(t, rec)
	assert.Contains(t, body["detail"], "failed to transcribe audio")
	require.Len(t, rig.notifier.errors, 1)
	assert.Contains(t, rig.notifier.errors[0].message, "decoder exploded")
}

func TestTranscribeMissingDependency(t *testing.T) {
	rig := newTestRig(t, &stubEngine{err: &engine.DependencyError{
		Tool: "ffmpeg",
		Hint: "Install ffmpeg: brew install ffmpeg (macOS) or apt-get install ffmpeg (Linux).",
	}})

	payload, contentType := multipartUpload(t, "sample.mp3", "audio/mpeg", []byte("bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", payload)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", "valid-key")

	rec := doRequest(rig, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decodeBody(t, rec)
	assert.Contains(t, body["detail"], "ffmpeg")
	require.Len(t, rig.notifier.errors, 1)
}

func TestTranscribePanicBecomesGeneric500(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &fakeKeyStore{keys: map[string]*datastore.APIKey{
		"valid-key": {ID: "key-123", Key: "valid-key", Name: "test client", Active: true},
	}}
	notifier := &recordingNotifier{delivered: true}

	handler := NewHandler(
		auth.NewAuthenticator(store, logger),
		validation.NewValidator([]string{"audio/mpeg"}),
		transcriber.NewDispatcher(panickingEngine{}, 1, 0, metrics.NewMetrics(), logger),
		notifier,
		nil,
		25*1024*1024,
		logger,
	)
	router := gin.New()
	router.POST("/transcribe", handler.HandleTranscribe)

	payload, contentType := multipartUpload(t, "sample.mp3", "audio/mpeg", []byte("bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", payload)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", "valid-key")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "Internal server error during transcription", body["detail"])

	// Exactly one best-effort error notification, nothing leaked to the
	// client beyond the generic detail.
	require.Len(t, notifier.errors, 1)
	assert.Equal(t, "test client", notifier.errors[0].apiKeyName)
	assert.Contains(t, notifier.errors[0].message, "Internal server error")
	assert.NotContains(t, body["detail"], "recognizer state corrupted")
	assert.Empty(t, notifier.results)
}

func TestTranscribeEndToEndWithLiveWebhook(t *testing.T) {
	var received map[string]json.RawMessage
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer hook.Close()

	gin.SetMode(gin.TestMode)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := &fakeKeyStore{keys: map[string]*datastore.APIKey{
		"valid-key": {ID: "key-123", Key: "valid-key", Name: "test client", Active: true},
	}}
	m := metrics.NewMetrics()

	handler := NewHandler(
		auth.NewAuthenticator(store, logger),
		validation.NewValidator([]string{"audio/mpeg"}),
		transcriber.NewDispatcher(happyEngine(), 2, 0, m, logger),
		webhook.NewNotifier(hook.URL, 5*time.Second, 3, m, logger),
		nil,
		25*1024*1024,
		logger,
	)
	router := gin.New()
	router.POST("/transcribe", handler.HandleTranscribe)

	payload, contentType := multipartUpload(t, "sample.mp3", "audio/mpeg", []byte("fake mp3 bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", payload)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", "valid-key")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["webhook_delivered"])

	require.Contains(t, received, "transcription")
	var delivered struct {
		Text       string `json:"text"`
		APIKeyName string `json:"api_key_name"`
	}
	require.NoError(t, json.Unmarshal(received["transcription"], &delivered))
	assert.Equal(t, "olá mundo", delivered.Text)
	assert.Equal(t, "test client", delivered.APIKeyName)
}

func TestTranscribeWebhookFailureDoesNotFailRequest(t *testing.T) {
	rig := newTestRig(t, happyEngine())
	rig.notifier.delivered = false

	payload, contentType := multipartUpload(t, "sample.mp3", "audio/mpeg", []byte("bytes"), nil)
	req := httptest.NewRequest(http.MethodPost, "/transcribe", payload)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", "valid-key")

	rec := doRequest(rig, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	assert.Equal(t, false, body["webhook_delivered"])
}
