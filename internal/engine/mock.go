package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// MockEngine is a canned backend for smoke environments and tests. Audio
// whose filename contains "fail" triggers a simulated engine error.
type MockEngine struct {
	language string
}

// NewMockEngine creates the mock backend.
func NewMockEngine(language string) *MockEngine {
	if language == "" {
		language = "pt"
	}
	return &MockEngine{language: language}
}

// Name identifies the backend in logs and metrics.
func (e *MockEngine) Name() string { return "mock" }

// Transcribe simulates recognition latency and returns a fixed result.
func (e *MockEngine) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	select {
	case <-time.After(50 * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	base := filepath.Base(audioPath)
	if strings.Contains(base, "fail") {
		return nil, fmt.Errorf("simulated recognition failure for %s", base)
	}

	text := fmt.Sprintf("mock transcription of %s", base)
	return &Result{
		Text:     text,
		Language: e.language,
		Segments: []Segment{
			{Start: 0, End: 1.5, Text: text},
		},
	}, nil
}
