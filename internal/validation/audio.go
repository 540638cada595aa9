// Package validation classifies inbound audio payloads. It is pure string
// work on declared content types and filenames; no I/O happens here.
package validation

import (
	"path/filepath"
	"strings"
)

// extensionToMIME maps known audio file extensions to their MIME type.
// Client-supplied content types are unreliable, so the extension serves as a
// fallback when the declared type is generic, missing or unrecognized.
var extensionToMIME = map[string]string{
	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".m4a":  "audio/m4a",
	".mp4":  "audio/mp4",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
}

// NormalizeContentType trims surrounding whitespace and lowercases a declared
// content type.
func NormalizeContentType(contentType string) string {
	return strings.ToLower(strings.TrimSpace(contentType))
}

// MIMEFromExtension returns the MIME type for a filename's extension, or ""
// when the extension is unknown.
func MIMEFromExtension(filename string) string {
	if filename == "" {
		return ""
	}
	ext := strings.ToLower(filepath.Ext(filename))
	return extensionToMIME[ext]
}

// Validator decides whether an audio payload is acceptable, given the
// configured MIME allow-list.
type Validator struct {
	allowed map[string]bool
	order   []string
}

// NewValidator builds a Validator from the allow-list. Entries are normalized
// the same way declared content types are; configured order is preserved.
func NewValidator(allowedTypes []string) *Validator {
	allowed := make(map[string]bool, len(allowedTypes))
	order := make([]string, 0, len(allowedTypes))
	for _, t := range allowedTypes {
		normalized := NormalizeContentType(t)
		if normalized == "" || allowed[normalized] {
			continue
		}
		allowed[normalized] = true
		order = append(order, normalized)
	}
	return &Validator{allowed: allowed, order: order}
}

// Allowed returns the normalized allow-list in configured order. Callers use
// it to report which types would have been accepted.
func (v *Validator) Allowed() []string {
	return v.order
}

// AcceptsAudio reports whether the payload is acceptable. The declared
// content type wins when it is on the allow-list; otherwise the filename
// extension is mapped to a MIME type and checked. First match accepts.
func (v *Validator) AcceptsAudio(contentType, filename string) bool {
	if normalized := NormalizeContentType(contentType); normalized != "" && v.allowed[normalized] {
		return true
	}

	if mime := MIMEFromExtension(filename); mime != "" && v.allowed[mime] {
		return true
	}

	return false
}

// WithinSizeLimit reports whether a known payload size is at or below max.
func WithinSizeLimit(size, max int64) bool {
	return size <= max
}
