package domain

import "strings"

// SessionState models the lifecycle of one transcript surface.
type SessionState string

const (
	SessionStateIdle      SessionState = "idle"
	SessionStateRecording SessionState = "recording"
	SessionStateEncoding  SessionState = "encoding"
	SessionStateStreaming SessionState = "streaming"
	SessionStateSucceeded SessionState = "succeeded"
	SessionStateFailed    SessionState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s SessionState) Terminal() bool {
	return s == SessionStateSucceeded || s == SessionStateFailed
}

// SessionStatus is a point-in-time view of a session.
type SessionStatus struct {
	State SessionState `json:"state"`
	// Err is set only when State is SessionStateFailed.
	Err *Error `json:"error,omitempty"`
}

// Language is a supported transcription target language code.
type Language string

const (
	LanguageSpanish Language = "es"
	LanguageEnglish Language = "en"
	LanguageFrench  Language = "fr"
)

var languageNames = map[Language]string{
	LanguageSpanish: "Spanish",
	LanguageEnglish: "English",
	LanguageFrench:  "French",
}

// Name returns the English name of the language.
func (l Language) Name() (string, bool) {
	name, ok := languageNames[l]
	return name, ok
}

// ParseLanguage normalizes a language code.
func ParseLanguage(code string) (Language, error) {
	lang := Language(strings.ToLower(strings.TrimSpace(code)))
	if _, ok := languageNames[lang]; !ok {
		return "", NewError(ErrorCodeConfiguration, "unsupported target language "+code, nil)
	}
	return lang, nil
}

// Languages lists the supported codes in a stable order.
func Languages() []Language {
	return []Language{LanguageSpanish, LanguageEnglish, LanguageFrench}
}

// AudioPayload is one encoded recording or uploaded file. It is immutable.
type AudioPayload struct {
	data     []byte
	mimeType string
}

// NewAudioPayload copies data into a new payload.
func NewAudioPayload(data []byte, mimeType string) AudioPayload {
	return AudioPayload{data: append([]byte(nil), data...), mimeType: mimeType}
}

// Bytes returns a copy of the payload bytes.
func (p AudioPayload) Bytes() []byte {
	return append([]byte(nil), p.data...)
}

func (p AudioPayload) MIMEType() string { return p.mimeType }

func (p AudioPayload) Len() int { return len(p.data) }

// EncodedAudio is the transport-safe form of an AudioPayload.
type EncodedAudio struct {
	MIMEType string
	// Data is standard base64.
	Data string
}

// TranscriptionRequest is constructed per invocation and never persisted.
type TranscriptionRequest struct {
	Audio          AudioPayload
	TargetLanguage Language
}
