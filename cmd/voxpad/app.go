package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"voxpad/internal/audio"
	"voxpad/internal/bootstrap"
	"voxpad/internal/domain"
	"voxpad/internal/transcript"
)

// App is the command-line application root.
type App struct {
	services bootstrap.Services

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	quiet  bool
	now    func() time.Time
}

func NewApp(services bootstrap.Services, stdin io.Reader, stdout, stderr io.Writer) *App {
	return &App{
		services: services,
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
		now:      time.Now,
	}
}

// TranscribeOptions controls one transcription and where its result goes.
type TranscribeOptions struct {
	Language string
	Copy     bool
	Output   string
	Keep     bool
}

// Record captures the microphone until Enter, the duration elapses or ctx
// ends, then transcribes the recording.
func (a *App) Record(ctx context.Context, duration time.Duration, opts TranscribeOptions) error {
	lang, err := a.language(opts.Language)
	if err != nil {
		return err
	}

	handle, err := a.services.Capture.BeginCapture(ctx, a.services.Config.Audio.Port())
	if err != nil {
		return err
	}
	defer handle.Release()

	a.SessionStateChanged("", domain.SessionStatus{State: domain.SessionStateRecording})
	if duration > 0 {
		a.status("Capturing %s for %s. Press Enter to stop early.", handle.MIMEType(), duration)
	} else {
		a.status("Capturing %s. Press Enter to stop.", handle.MIMEType())
	}
	if err := a.waitForStop(ctx, duration); err != nil {
		a.status("Recording discarded")
		return err
	}

	payload, err := audio.EndCapture(handle)
	if err != nil {
		return err
	}
	a.status("Recording stopped. Transcribing...")
	return a.transcribe(ctx, payload, lang, opts)
}

// TranscribeFile transcribes an existing audio file.
func (a *App) TranscribeFile(ctx context.Context, path, mimeType string, opts TranscribeOptions) error {
	lang, err := a.language(opts.Language)
	if err != nil {
		return err
	}
	payload, err := audio.OpenFile(path, mimeType)
	if err != nil {
		return err
	}
	a.status("Transcribing %s (%s)...", path, payload.MIMEType())
	return a.transcribe(ctx, payload, lang, opts)
}

// Formats prints the recorder's encodings in preference order.
func (a *App) Formats(ctx context.Context) error {
	formats, err := a.services.Capture.Formats(ctx)
	if err != nil {
		return err
	}
	chosen := false
	for _, f := range formats {
		mark := "unsupported"
		if f.Supported {
			mark = "supported"
			if !chosen {
				mark = "supported, selected"
				chosen = true
			}
		}
		fmt.Fprintf(a.stdout, "%-5s %-11s %s\n", f.Name, f.MIMEType, mark)
	}
	return nil
}

func (a *App) ShowTranscript(ctx context.Context) error {
	text, err := a.services.Store.Load(ctx)
	if err != nil {
		return err
	}
	if text == "" {
		a.status("No transcript kept yet")
		return nil
	}
	fmt.Fprintln(a.stdout, text)
	return nil
}

func (a *App) ClearTranscript(ctx context.Context) error {
	if err := a.services.Store.Clear(ctx); err != nil {
		return err
	}
	a.status("Transcript cleared")
	return nil
}

func (a *App) transcribe(ctx context.Context, payload domain.AudioPayload, lang domain.Language, opts TranscribeOptions) error {
	session := a.services.NewSession(a)

	var builder transcript.Builder
	err := session.Run(ctx, domain.TranscriptionRequest{Audio: payload, TargetLanguage: lang}, func(text string) {
		builder.Add(text)
		fmt.Fprint(a.stdout, text)
	})
	if builder.Len() > 0 {
		fmt.Fprintln(a.stdout)
	}
	if err != nil {
		return err
	}

	text := builder.Text()
	if text == "" {
		a.status("No transcript captured")
		return nil
	}
	return a.deliver(ctx, text, opts)
}

func (a *App) deliver(ctx context.Context, text string, opts TranscribeOptions) error {
	if opts.Copy {
		if err := a.services.Clipboard.SetText(ctx, text); err != nil {
			a.services.Logger.Warn().Err(err).Msg("clipboard write failed")
			a.status("Transcript ready (clipboard write failed)")
		} else {
			a.status("Transcript copied to clipboard")
		}
	}

	if opts.Output != "" {
		path, err := transcript.Download(opts.Output, text, a.now())
		if err != nil {
			return err
		}
		a.status("Transcript saved to %s", path)
	}

	if opts.Keep {
		if _, err := a.services.Store.Append(ctx, text); err != nil {
			return err
		}
		a.status("Transcript kept")
	}
	return nil
}

func (a *App) language(flag string) (domain.Language, error) {
	code := strings.TrimSpace(flag)
	if code == "" {
		code = a.services.Config.Language
	}
	return domain.ParseLanguage(code)
}

func (a *App) waitForStop(ctx context.Context, duration time.Duration) error {
	enter := make(chan struct{}, 1)
	if a.stdin != nil {
		go func() {
			if _, err := bufio.NewReader(a.stdin).ReadString('\n'); err == nil {
				enter <- struct{}{}
			}
		}()
	}

	var elapsed <-chan time.Time
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		elapsed = timer.C
	}

	select {
	case <-enter:
		return nil
	case <-elapsed:
		return nil
	case <-ctx.Done():
		return domain.NewError(domain.ErrorCodeCancelled, "recording cancelled", ctx.Err())
	}
}

// SessionStateChanged reports session progress on stderr.
func (a *App) SessionStateChanged(sessionID string, status domain.SessionStatus) {
	a.services.Logger.Debug().
		Str("session_id", sessionID).
		Str("state", string(status.State)).
		Msg("session state changed")
	if msg := sessionStateMessage(status.State); msg != "" {
		a.status("%s", msg)
	}
}

func (a *App) status(format string, args ...any) {
	if a.quiet {
		return
	}
	fmt.Fprintf(a.stderr, format+"\n", args...)
}

func sessionStateMessage(state domain.SessionState) string {
	switch state {
	case domain.SessionStateRecording:
		return "Recording..."
	case domain.SessionStateEncoding:
		return "Encoding audio..."
	case domain.SessionStateStreaming:
		return "Waiting for transcript..."
	case domain.SessionStateSucceeded:
		return "Transcription complete"
	case domain.SessionStateFailed:
		return "Transcription failed"
	default:
		return ""
	}
}

func errorMessage(err error) string {
	switch domain.CodeOf(err) {
	case domain.ErrorCodePermissionDenied:
		return "Microphone access denied"
	case domain.ErrorCodeDeviceUnavailable:
		return "Microphone unavailable"
	case domain.ErrorCodeUnsupportedPlatform:
		return "Recording is not supported here"
	case domain.ErrorCodeInvalidState:
		return "Invalid state"
	case domain.ErrorCodeRead:
		return "Could not read audio"
	case domain.ErrorCodeConfiguration:
		return "Configuration error"
	case domain.ErrorCodeNetwork:
		return "Network error"
	case domain.ErrorCodeRemote:
		return "Transcription service error"
	case domain.ErrorCodeCancelled:
		return "Cancelled"
	default:
		return "Error"
	}
}

// renderError formats err for the terminal: a label for its kind followed by
// the detail, without repeating the code.
func renderError(err error) string {
	label := errorMessage(err)
	domainErr, ok := domain.AsError(err)
	if !ok {
		return label + ": " + err.Error()
	}
	parts := []string{label}
	for domainErr != nil {
		if domainErr.Message != "" {
			parts = append(parts, domainErr.Message)
		}
		cause := domainErr.Cause
		domainErr = nil
		if nested, ok := cause.(*domain.Error); ok {
			domainErr = nested
		} else if cause != nil {
			parts = append(parts, cause.Error())
		}
	}
	return strings.Join(parts, ": ")
}

func exitCode(err error) int {
	switch domain.CodeOf(err) {
	case domain.ErrorCodeCancelled:
		return 130
	case domain.ErrorCodeConfiguration:
		return 78
	default:
		return 1
	}
}
