// Package transcriber offloads blocking speech recognition work onto a
// bounded pool so request handling stays responsive.
package transcriber

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"voice-transcription-service/internal/engine"
	"voice-transcription-service/internal/metrics"
)

// ErrInvalidEncoding is returned when a base64 payload cannot be decoded.
// It is distinct from transcription failures: no engine call happens.
var ErrInvalidEncoding = errors.New("invalid base64 audio data")

// Transcription is the final per-request outcome handed to the orchestrator.
type Transcription struct {
	Text     string  `json:"text"`
	Language string  `json:"language"`
	Duration float64 `json:"duration"`
}

// Dispatcher serializes access to the engine through a fixed-size slot pool.
// The engine call itself blocks for seconds; the semaphore caps how many run
// at once regardless of how many requests are in flight.
type Dispatcher struct {
	engine  engine.Engine
	slots   chan struct{}
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewDispatcher creates a Dispatcher with poolSize concurrent slots.
// A timeout of zero leaves the engine call unbounded.
func NewDispatcher(eng engine.Engine, poolSize int, timeout time.Duration, m *metrics.Metrics, logger *slog.Logger) *Dispatcher {
	if poolSize < 1 {
		poolSize = 1
	}
	return &Dispatcher{
		engine:  eng,
		slots:   make(chan struct{}, poolSize),
		timeout: timeout,
		metrics: m,
		logger:  logger,
	}
}

// FromFile transcribes an audio file on disk. The caller blocks until a pool
// slot frees up and the engine finishes; concurrent requests beyond the pool
// size queue on the semaphore.
func (d *Dispatcher) FromFile(ctx context.Context, audioPath string) (*Transcription, error) {
	select {
	case d.slots <- struct{}{}:
		defer func() { <-d.slots }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	started := time.Now()
	result, err := d.engine.Transcribe(ctx, audioPath)
	if err != nil {
		d.metrics.RecordTranscription(d.engine.Name(), "failure", time.Since(started).Seconds())
		if engine.IsMissingDependency(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to transcribe audio: %w", err)
	}
	d.metrics.RecordTranscription(d.engine.Name(), "success", time.Since(started).Seconds())

	t := &Transcription{
		Text:     result.Text,
		Language: result.Language,
		Duration: durationFromSegments(result.Segments),
	}

	d.logger.Info("transcription completed",
		slog.String("backend", d.engine.Name()),
		slog.String("language", t.Language),
		slog.Float64("audio_duration", t.Duration),
		slog.Duration("elapsed", time.Since(started)),
	)
	return t, nil
}

// Decode turns an embedded base64 payload into raw audio bytes. Malformed
// base64 fails fast with ErrInvalidEncoding before any engine work.
func Decode(audioBase64 string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(audioBase64)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidEncoding, err.Error())
	}
	return data, nil
}

// FromBase64 decodes an embedded base64 payload and delegates to FromBytes.
func (d *Dispatcher) FromBase64(ctx context.Context, audioBase64 string) (*Transcription, error) {
	data, err := Decode(audioBase64)
	if err != nil {
		return nil, err
	}
	return d.FromBytes(ctx, data)
}

// FromBytes stages raw audio bytes in a temp file and delegates to FromFile.
func (d *Dispatcher) FromBytes(ctx context.Context, data []byte) (*Transcription, error) {
	tempFile, err := os.CreateTemp("", "transcribe-*.wav")
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

	return d.FromFile(ctx, tempPath)
}

// durationFromSegments prefers the end timestamp of the last recognized
// segment; with no segment timing available it reports zero rather than
// failing.
func durationFromSegments(segments []engine.Segment) float64 {
	if len(segments) == 0 {
		return 0.0
	}
	return segments[len(segments)-1].End
}
