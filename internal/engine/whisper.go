package engine

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"voice-transcription-service/internal/config"
)

//go:embed assets/whisper_helper.py
var whisperHelper []byte

// helper exit code for a missing host dependency (ffmpeg, faster_whisper)
const exitMissingDependency = 3

// WhisperEngine runs faster-whisper locally through an embedded Python
// helper. The helper writes a single JSON document to stdout.
type WhisperEngine struct {
	pythonBin string
	model     string
	language  string
	logger    *slog.Logger
}

// NewWhisperEngine creates the local whisper backend.
func NewWhisperEngine(cfg config.EngineConfig, logger *slog.Logger) *WhisperEngine {
	pythonBin := cfg.PythonBin
	if pythonBin == "" {
		pythonBin = "python3"
	}
	model := cfg.Model
	if model == "" {
		model = "base"
	}
	return &WhisperEngine{
		pythonBin: pythonBin,
		model:     model,
		language:  cfg.Language,
		logger:    logger,
	}
}

// Name identifies the backend in logs and metrics.
func (e *WhisperEngine) Name() string { return "whisper" }

type whisperOutput struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe invokes the helper as a subprocess and parses its JSON output.
func (e *WhisperEngine) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	if _, err := exec.LookPath(e.pythonBin); err != nil {
		return nil, &DependencyError{
			Tool: e.pythonBin,
			Hint: "Install Python 3 with the faster-whisper package.",
		}
	}

	script, err := os.CreateTemp("", "whisper_helper-*.py")
	if err != nil {
		return nil, fmt.Errorf("create whisper helper script: %w", err)
	}
	scriptPath := script.Name()
	defer os.Remove(scriptPath)
	if _, err := script.Write(whisperHelper); err != nil {
		script.Close()
		return nil, fmt.Errorf("write whisper helper script: %w", err)
	}
	if err := script.Close(); err != nil {
		return nil, fmt.Errorf("write whisper helper script: %w", err)
	}

	args := []string{scriptPath, "--audio", audioPath, "--model", e.model}
	if e.language != "" {
		args = append(args, "--language", e.language)
	}

	cmd := exec.CommandContext(ctx, e.pythonBin, args...)
	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr := strings.TrimSpace(string(exitErr.Stderr))
			lower := strings.ToLower(stderr)
			// The helper exits with exitMissingDependency for ffmpeg and
			// faster_whisper alike; stderr tells them apart.
			switch {
			case strings.Contains(lower, "faster_whisper"):
				return nil, &DependencyError{
					Tool: "faster_whisper",
					Hint: "Install the faster-whisper package: pip install faster-whisper.",
				}
			case exitErr.ExitCode() == exitMissingDependency || strings.Contains(lower, "ffmpeg"):
				return nil, &DependencyError{
					Tool: "ffmpeg",
					Hint: "Install ffmpeg: brew install ffmpeg (macOS) or apt-get install ffmpeg (Linux).",
				}
			}
			return nil, fmt.Errorf("whisper helper failed: %s", stderr)
		}
		return nil, fmt.Errorf("run whisper helper: %w", err)
	}

	var parsed whisperOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse whisper helper output: %w", err)
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

	e.logger.Debug("whisper transcription finished",
		slog.String("language", result.Language),
		slog.Int("segments", len(result.Segments)),
	)
	return result, nil
}
