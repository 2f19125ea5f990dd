package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"voxpad/internal/domain"
	"voxpad/internal/ports"
)

// Session drives one audio payload through one streaming transcription call.
// A session runs at most once; retrying means constructing a new session.
type Session struct {
	id          string
	transcriber ports.StreamingTranscriber
	credentials ports.CredentialSource
	observer    ports.StateObserver
	logger      zerolog.Logger
	machine     *stateMachine
}

// SessionOption configures a Session.
type SessionOption func(*Session)

func WithObserver(observer ports.StateObserver) SessionOption {
	return func(s *Session) { s.observer = observer }
}

func WithLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

func NewSession(transcriber ports.StreamingTranscriber, credentials ports.CredentialSource, opts ...SessionOption) *Session {
	s := &Session{
		id:          uuid.NewString(),
		transcriber: transcriber,
		credentials: credentials,
		logger:      zerolog.Nop(),
		machine:     newStateMachine(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "session").Str("session_id", s.id).Logger()
	return s
}

func (s *Session) ID() string { return s.id }

// State returns the current state and, once failed, the reason.
func (s *Session) State() domain.SessionStatus {
	return s.machine.status()
}

// Run encodes the payload, streams it to the transcriber and forwards each
// non-empty fragment to onFragment in arrival order. Fragments already
// delivered stay delivered when Run fails.
func (s *Session) Run(ctx context.Context, req domain.TranscriptionRequest, onFragment func(text string)) error {
	if !s.machine.claim() {
		return domain.NewError(domain.ErrorCodeInvalidState, "session has already run; start a new session", nil)
	}
	if onFragment == nil {
		onFragment = func(string) {}
	}

	credential := ""
	if s.credentials != nil {
		credential = strings.TrimSpace(s.credentials.Credential())
	}
	if credential == "" {
		return s.fail(domain.NewError(domain.ErrorCodeConfiguration, "no transcription credential is configured", nil))
	}

	instruction, err := BuildInstruction(req.TargetLanguage)
	if err != nil {
		return s.fail(toSessionError(ctx, err))
	}

	if err := s.advance(domain.SessionStateEncoding); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return s.fail(toSessionError(ctx, err))
	}
	encoded := encodeAudio(req.Audio)

	if err := s.advance(domain.SessionStateStreaming); err != nil {
		return err
	}

	started := time.Now()
	fragments := 0
	s.logger.Debug().
		Str("mime", encoded.MIMEType).
		Int("bytes", req.Audio.Len()).
		Str("language", string(req.TargetLanguage)).
		Msg("streaming transcription")

	err = s.transcriber.Stream(ctx, ports.StreamRequest{
		Credential:  credential,
		Audio:       req.Audio,
		Encoded:     encoded,
		Language:    req.TargetLanguage,
		Instruction: instruction,
		Generation:  GenerationPolicy(),
	}, func(text string) {
		if text == "" || ctx.Err() != nil {
			return
		}
		fragments++
		onFragment(text)
	})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return s.fail(toSessionError(ctx, err))
	}

	if err := s.advance(domain.SessionStateSucceeded); err != nil {
		return err
	}
	s.logger.Info().
		Int("fragments", fragments).
		Dur("elapsed", time.Since(started)).
		Msg("transcription succeeded")
	return nil
}

func (s *Session) advance(next domain.SessionState) error {
	status, err := s.machine.advance(next)
	if err != nil {
		return err
	}
	s.notify(status)
	return nil
}

func (s *Session) fail(reason *domain.Error) error {
	status, err := s.machine.fail(reason)
	if err != nil {
		return err
	}
	s.logger.Warn().Str("code", string(reason.Code)).Err(reason.Cause).Msg(reason.Message)
	s.notify(status)
	return reason
}

func (s *Session) notify(status domain.SessionStatus) {
	if s.observer != nil {
		s.observer.SessionStateChanged(s.id, status)
	}
}

// toSessionError maps anything a run can hit onto the session taxonomy.
func toSessionError(ctx context.Context, err error) *domain.Error {
	if errors.Is(ctx.Err(), context.Canceled) {
		if target, ok := domain.AsError(err); ok && target.Code == domain.ErrorCodeCancelled {
			return target
		}
		return domain.NewError(domain.ErrorCodeCancelled, "transcription cancelled", err)
	}
	if target, ok := domain.AsError(err); ok {
		return target
	}
	if errors.Is(err, context.Canceled) {
		return domain.NewError(domain.ErrorCodeCancelled, "transcription cancelled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewError(domain.ErrorCodeNetwork, "transcription timed out", err)
	}
	return domain.NewError(domain.ErrorCodeNetwork, "transcription stream failed", err)
}
