package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"

	"voice-transcription-service/internal/config"
)

// bcp47 maps the service's ISO-639-1 language hints to the BCP-47 codes the
// Google API expects. Unknown hints pass through unchanged.
var bcp47 = map[string]string{
	"pt": "pt-BR",
	"en": "en-US",
	"es": "es-ES",
	"fr": "fr-FR",
	"de": "de-DE",
}

// GoogleEngine transcribes audio with Google Cloud Speech-to-Text.
type GoogleEngine struct {
	credentialsFile string
	language        string
	logger          *slog.Logger
}

// NewGoogleEngine creates the Google Cloud backend. Authentication uses the
// configured service account file when set, otherwise the
// GOOGLE_APPLICATION_CREDENTIALS environment variable is picked up by the
// client library.
func NewGoogleEngine(cfg config.EngineConfig, logger *slog.Logger) *GoogleEngine {
	return &GoogleEngine{
		credentialsFile: cfg.CredentialsFile,
		language:        cfg.Language,
		logger:          logger,
	}
}

// Name identifies the backend in logs and metrics.
func (e *GoogleEngine) Name() string { return "google" }

// Transcribe sends the file bytes through the synchronous Recognize API.
func (e *GoogleEngine) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	var opts []option.ClientOption
	if e.credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(e.credentialsFile))
	}

	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Google Speech client: %w", err)
	}
	defer client.Close()

	audioContent, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file '%s': %w", audioPath, err)
	}

	languageCode := e.language
	if mapped, ok := bcp47[languageCode]; ok {
		languageCode = mapped
	}

	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   encodingForFile(audioPath),
			LanguageCode:               languageCode,
			EnableAutomaticPunctuation: true,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audioContent},
		},
	}

	resp, err := client.Recognize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("Google Speech recognition failed: %w", err)
	}

	result := &Result{Language: e.language}
	var parts []string
	var start float64
	for _, r := range resp.Results {
		if len(r.Alternatives) == 0 {
			continue
		}
		text := strings.TrimSpace(r.Alternatives[0].Transcript)
		end := r.ResultEndTime.AsDuration().Seconds()
		result.Segments = append(result.Segments, Segment{
			Start: start,
			End:   end,
			Text:  text,
		})
		start = end
		parts = append(parts, text)
	}
	result.Text = strings.Join(parts, " ")

	e.logger.Debug("google transcription finished",
		slog.String("language_code", languageCode),
		slog.Int("segments", len(result.Segments)),
	)
	return result, nil
}

// encodingForFile picks a recognition encoding from the file extension.
// Unspecified lets the API detect container formats such as WAV on its own.
func encodingForFile(audioPath string) speechpb.RecognitionConfig_AudioEncoding {
	switch strings.ToLower(filepath.Ext(audioPath)) {
	case ".mp3":
		return speechpb.RecognitionConfig_MP3
	case ".flac":
		return speechpb.RecognitionConfig_FLAC
	case ".ogg":
		return speechpb.RecognitionConfig_OGG_OPUS
	default:
		return speechpb.RecognitionConfig_ENCODING_UNSPECIFIED
	}
}
