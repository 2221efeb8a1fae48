package models

import (
	"path/filepath"
	"strings"
)

// SourceType identifies where a submission's document comes from.
type SourceType string

const (
	SourceFile    SourceType = "file"
	SourceURL     SourceType = "url"
	SourceGDrive  SourceType = "gdrive"
	SourceDropbox SourceType = "dropbox"
	SourceAudio   SourceType = "audio"
)

// ParseSourceType validates a source type token.
func ParseSourceType(s string) (SourceType, error) {
	switch SourceType(s) {
	case SourceFile, SourceURL, SourceGDrive, SourceDropbox, SourceAudio:
		return SourceType(s), nil
	}
	return "", ErrUnsupportedSource
}

// ConvertOptions is the closed option set accepted at submission.
// Unknown keys are dropped with a warning before this struct is built.
type ConvertOptions struct {
	DoclingPreset         string  `json:"docling_preset,omitempty" validate:"omitempty,oneof=fast balanced quality"`
	Language              string  `json:"language,omitempty"`
	IncludeTimestamps     bool    `json:"include_timestamps,omitempty"`
	IncludeWordTimestamps bool    `json:"include_word_timestamps,omitempty"`
	TranscriberProvider   string  `json:"transcriber_provider,omitempty"`
	IsAudio               bool    `json:"is_audio,omitempty"`
	Temperature           float64 `json:"temperature,omitempty"`
	BeamSize              int     `json:"beam_size,omitempty"`
}

// Submission describes a unit of work handed to Submit.
type Submission struct {
	UserID     string         `json:"user_id" validate:"required"`
	SourceType SourceType     `json:"source_type" validate:"required"`
	Name       string         `json:"name,omitempty" validate:"max=1000"`
	Filename   string         `json:"filename,omitempty"`
	SourceURL  string         `json:"source_url,omitempty"`
	FileBytes  []byte         `json:"-"` // payload for file/audio sources
	Options    ConvertOptions `json:"options"`
	AuthToken  string         `json:"-"` // bearer token for remote fetch sources

	// CallbackURL receives a best-effort webhook on completion.
	CallbackURL string `json:"callback_url,omitempty" validate:"omitempty,url"`
}

// audioExtensions is the extension set that routes a MAIN into the
// transcription branch.
var audioExtensions = map[string]bool{
	".mp3": true, ".wav": true, ".m4a": true, ".flac": true,
	".ogg": true, ".opus": true, ".webm": true, ".wma": true,
	".aac": true, ".oga": true, ".spx": true,
}

// IsAudioFilename reports whether a filename carries an audio extension.
func IsAudioFilename(name string) bool {
	return audioExtensions[strings.ToLower(filepath.Ext(name))]
}
