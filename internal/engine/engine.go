// Package engine abstracts the speech recognition backends. Every backend
// turns an audio file on disk into recognized text with segment timings.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"voice-transcription-service/internal/config"
)

// Segment is a timed span of recognized speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the outcome of one transcription call.
type Result struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments,omitempty"`
}

// Engine is a pluggable speech recognition backend. Transcribe blocks for
// the full duration of the recognition work, which is seconds-scale; callers
// are responsible for bounding concurrency.
type Engine interface {
	Name() string
	Transcribe(ctx context.Context, audioPath string) (*Result, error)
}

// DependencyError marks a missing host dependency, such as ffmpeg or the
// Python interpreter the whisper helper runs on. It carries an actionable
// hint instead of a generic failure.
type DependencyError struct {
	Tool string
	Hint string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s is required for audio transcription but is not available. %s", e.Tool, e.Hint)
}

// IsMissingDependency reports whether err signals a missing host dependency.
func IsMissingDependency(err error) bool {
	var depErr *DependencyError
	return errors.As(err, &depErr)
}

// New constructs the engine selected by configuration.
func New(cfg config.EngineConfig, logger *slog.Logger) (Engine, error) {
	switch cfg.Backend {
	case "whisper":
		return NewWhisperEngine(cfg, logger), nil
	case "openai":
		return NewOpenAIEngine(cfg, logger), nil
	case "google":
		return NewGoogleEngine(cfg, logger), nil
	case "mock":
		return NewMockEngine(cfg.Language), nil
	default:
		return nil, fmt.Errorf("unknown engine backend: %s", cfg.Backend)
	}
}
