// Package transcribe wires authentication, validation, dispatch and webhook
// delivery into the end-to-end transcription request flow.
package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"voice-transcription-service/internal/auth"
	"voice-transcription-service/internal/engine"
	"voice-transcription-service/internal/transcriber"
	"voice-transcription-service/internal/validation"
)

// Notifier is the webhook delivery capability the orchestrator fires.
// Both calls are best-effort; the boolean is informational only.
type Notifier interface {
	DeliverResult(ctx context.Context, t *transcriber.Transcription, apiKeyName string, originalFilename *string, audioSize *int64) bool
	DeliverError(ctx context.Context, message, apiKeyName string, originalFilename *string) bool
}

// Archiver optionally keeps a copy of inbound audio in object storage.
type Archiver interface {
	Store(ctx context.Context, originalFilename string, reader io.Reader, size int64, contentType string) (string, error)
}

// Handler orchestrates one transcription request.
type Handler struct {
	auth        *auth.Authenticator
	rules       *validation.Validator
	dispatcher  *transcriber.Dispatcher
	notifier    Notifier
	archiver    Archiver // nil when archival is disabled
	maxFileSize int64
	logger      *slog.Logger
}

// NewHandler creates the transcription orchestrator.
func NewHandler(a *auth.Authenticator, rules *validation.Validator, d *transcriber.Dispatcher,
	n Notifier, archiver Archiver, maxFileSize int64, logger *slog.Logger) *Handler {
	return &Handler{
		auth:        a,
		rules:       rules,
		dispatcher:  d,
		notifier:    n,
		archiver:    archiver,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

// jsonRequest is the JSON body variant of the transcription request.
type jsonRequest struct {
	AudioBase64 string `json:"audio_base64"`
	APIKey      string `json:"api_key"`
}

// HandleTranscribe implements POST /transcribe. It accepts either a
// multipart upload (file field "audio", optional form field "api_key") or a
// JSON body with a base64 payload. The webhook outcome never changes the
// client-facing result.
func (h *Handler) HandleTranscribe(c *gin.Context) {
	ctx := c.Request.Context()
	apiKeyName := "unknown"
	var originalFilename *string

	// Unanticipated failures become a generic 500; internals never leak.
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("unexpected panic during transcription", slog.Any("panic", r))
			h.notifier.DeliverError(ctx, fmt.Sprintf("Internal server error: %v", r), apiKeyName, originalFilename)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error during transcription"})
		}
	}()

	creds, upload, base64Audio := h.parseRequest(c)

	record, err := h.auth.Authenticate(ctx, creds)
	if err != nil {
		if errors.Is(err, auth.ErrNoAPIKey) || errors.Is(err, auth.ErrInvalidAPIKey) {
			c.JSON(http.StatusUnauthorized, gin.H{"detail": err.Error()})
			return
		}
		h.logger.Error("authentication backend failure", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error during transcription"})
		return
	}
	apiKeyName = record.Name

	var transcription *transcriber.Transcription
	var audioSize *int64

	switch {
	case upload != nil && upload.Filename != "":
		originalFilename = &upload.Filename
		size := upload.Size
		audioSize = &size

		h.logger.Info("received audio upload",
			slog.String("filename", upload.Filename),
			slog.String("content_type", upload.Header.Get("Content-Type")),
			slog.Int64("size", size),
		)

		declaredType := upload.Header.Get("Content-Type")
		if !h.rules.AcceptsAudio(declaredType, upload.Filename) {
			h.notifier.DeliverError(ctx, fmt.Sprintf("Unsupported audio type: %s", declaredType), apiKeyName, originalFilename)
			c.JSON(http.StatusBadRequest, gin.H{
				"detail": unsupportedTypeDetail(declaredType, upload.Filename, h.rules.Allowed()),
			})
			return
		}

		if !validation.WithinSizeLimit(size, h.maxFileSize) {
			h.notifier.DeliverError(ctx, fmt.Sprintf("File too large: %d bytes", size), apiKeyName, originalFilename)
			c.JSON(http.StatusBadRequest, gin.H{
				"detail": fmt.Sprintf("File too large. Maximum size: %d bytes", h.maxFileSize),
			})
			return
		}

		data, err := readUpload(upload)
		if err != nil {
			h.logger.Error("failed to read uploaded file", slog.String("error", err.Error()))
			h.notifier.DeliverError(ctx, "Failed to read uploaded audio", apiKeyName, originalFilename)
			c.JSON(http.StatusInternalServerError, gin.H{"detail": "Internal server error during transcription"})
			return
		}

		h.archive(ctx, upload.Filename, data, declaredType)

		transcription, err = h.transcribeBytes(ctx, data, filepath.Ext(upload.Filename))
		if err != nil {
			h.respondTranscriptionError(c, err, apiKeyName, originalFilename)
			return
		}

	case base64Audio != "":
		data, err := transcriber.Decode(base64Audio)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"detail": fmt.Sprintf("Failed to process base64 audio: %s", err.Error()),
			})
			return
		}

		// The decoded payload has no declared type to validate, but the size
		// limit still applies.
		size := int64(len(data))
		if !validation.WithinSizeLimit(size, h.maxFileSize) {
			h.notifier.DeliverError(ctx, fmt.Sprintf("File too large: %d bytes", size), apiKeyName, nil)
			c.JSON(http.StatusBadRequest, gin.H{
				"detail": fmt.Sprintf("File too large. Maximum size: %d bytes", h.maxFileSize),
			})
			return
		}
		audioSize = &size

		transcription, err = h.dispatcher.FromBytes(ctx, data)
		if err != nil {
			h.respondTranscriptionError(c, err, apiKeyName, nil)
			return
		}

	default:
		h.notifier.DeliverError(ctx, "No audio data provided", apiKeyName, nil)
		c.JSON(http.StatusBadRequest, gin.H{
			"detail": "Either audio file or audio_base64 must be provided",
		})
		return
	}

	webhookDelivered := h.notifier.DeliverResult(ctx, transcription, apiKeyName, originalFilename, audioSize)

	c.JSON(http.StatusOK, gin.H{
		"message":           "Transcription completed",
		"status":            "success",
		"text":              transcription.Text,
		"language":          transcription.Language,
		"duration":          transcription.Duration,
		"webhook_delivered": webhookDelivered,
		"transcription_id":  fmt.Sprintf("trans_%s_%d", record.ID, int(transcription.Duration)),
	})
}

// parseRequest extracts the credential candidates and the payload from
// either request shape. A malformed body yields an empty payload; the
// missing-payload branch reports it after authentication.
func (h *Handler) parseRequest(c *gin.Context) (auth.Credentials, *multipart.FileHeader, string) {
	creds := auth.Credentials{
		Header: c.GetHeader("X-API-Key"),
		Bearer: auth.ParseBearer(c.GetHeader("Authorization")),
	}

	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		creds.Body = c.PostForm("api_key")
		fileHeader, err := c.FormFile("audio")
		if err != nil {
			return creds, nil, ""
		}
		return creds, fileHeader, ""
	}

	var body jsonRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		return creds, nil, ""
	}
	creds.Body = body.APIKey
	return creds, nil, body.AudioBase64
}

// transcribeBytes stages the upload in a temp file that keeps the original
// extension, so engines that sniff by extension keep working.
func (h *Handler) transcribeBytes(ctx context.Context, data []byte, ext string) (*transcriber.Transcription, error) {
	tempFile, err := os.CreateTemp("", "upload-*"+ext)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	defer os.Remove(tempPath)

	if _, err := tempFile.Write(data); err != nil {
		tempFile.Close()
		return nil, fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	return h.dispatcher.FromFile(ctx, tempPath)
}

// archive makes the best-effort object storage copy when enabled.
func (h *Handler) archive(ctx context.Context, filename string, data []byte, contentType string) {
	if h.archiver == nil {
		return
	}
	object, err := h.archiver.Store(ctx, filename, bytes.NewReader(data), int64(len(data)), contentType)
	if err != nil {
		h.logger.Warn("audio archival failed",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Debug("audio archived", slog.String("object", object))
}

// respondTranscriptionError maps dispatcher failures to HTTP responses and
// fires the best-effort error notification.
func (h *Handler) respondTranscriptionError(c *gin.Context, err error, apiKeyName string, originalFilename *string) {
	ctx := c.Request.Context()
	h.notifier.DeliverError(ctx, err.Error(), apiKeyName, originalFilename)

	if engine.IsMissingDependency(err) {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
}

// unsupportedTypeDetail builds the rejection message, including the MIME
// type the extension mapped to when there was one and the types that would
// have been accepted.
func unsupportedTypeDetail(contentType, filename string, allowed []string) string {
	detail := fmt.Sprintf("Unsupported audio type. Received: content_type='%s', filename='%s'", contentType, filename)
	if mime := validation.MIMEFromExtension(filename); mime != "" {
		detail += fmt.Sprintf(", detected_mime_from_extension='%s'", mime)
	}
	detail += fmt.Sprintf(". Allowed types: %v", allowed)
	return detail
}

// readUpload loads the multipart file into memory; uploads are bounded by
// the configured size limit before this point.
func readUpload(upload *multipart.FileHeader) ([]byte, error) {
	f, err := upload.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}
