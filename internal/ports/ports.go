package ports

import (
	"context"

	"voxpad/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate  int
	Channels    int
	InputFormat string
	InputDevice string
}

// CaptureHandle owns the microphone from BeginCapture until End or Release.
type CaptureHandle interface {
	// MIMEType is the encoding negotiated when capture began.
	MIMEType() string
	// End stops buffering, releases the device and returns the recording.
	End() (domain.AudioPayload, error)
	// Release frees the device and discards buffered audio. Safe to call repeatedly.
	Release() error
}

// AudioCapture starts microphone recordings.
type AudioCapture interface {
	BeginCapture(ctx context.Context, cfg AudioConfig) (CaptureHandle, error)
}

// GenerationConfig bounds the remote model's output.
type GenerationConfig struct {
	Temperature     float32
	MaxOutputTokens int32
}

// StreamRequest is one remote transcription call.
type StreamRequest struct {
	Credential  string
	Audio       domain.AudioPayload
	Encoded     domain.EncodedAudio
	Language    domain.Language
	Instruction string
	Generation  GenerationConfig
}

// StreamingTranscriber opens a streaming transcription call and relays text
// fragments in arrival order until the remote stream closes.
type StreamingTranscriber interface {
	Stream(ctx context.Context, req StreamRequest, onFragment func(text string)) error
}

// CredentialSource resolves the transcription credential at call time.
type CredentialSource interface {
	Credential() string
}

// StateObserver receives session lifecycle updates.
type StateObserver interface {
	SessionStateChanged(sessionID string, status domain.SessionStatus)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// TranscriptStore persists the accumulated transcript between runs.
type TranscriptStore interface {
	Load(ctx context.Context) (string, error)
	Append(ctx context.Context, text string) (string, error)
	Clear(ctx context.Context) error
}
