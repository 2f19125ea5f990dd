package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"voxpad/internal/domain"
	"voxpad/internal/ports"
)

const readChunkSize = 32 * 1024

// FFMPEGCapture records the microphone into memory using ffmpeg.
// A capturer owns one device: only one handle may be live at a time.
type FFMPEGCapture struct {
	command      string
	preferences  []string
	startupGrace time.Duration
	stopTimeout  time.Duration
	logger       zerolog.Logger

	capsMu sync.Mutex
	caps   *capabilities

	deviceMu sync.Mutex
	busy     bool
}

// Option configures an FFMPEGCapture.
type Option func(*FFMPEGCapture)

// WithPreferences overrides the encoding preference order. Unknown names are ignored.
func WithPreferences(names ...string) Option {
	return func(c *FFMPEGCapture) {
		if len(names) > 0 {
			c.preferences = append([]string(nil), names...)
		}
	}
}

// WithTimeouts sets how long a start may take to fail and how long a stop
// waits before killing the recorder. Non-positive values keep the defaults.
func WithTimeouts(startupGrace, stopTimeout time.Duration) Option {
	return func(c *FFMPEGCapture) {
		if startupGrace > 0 {
			c.startupGrace = startupGrace
		}
		if stopTimeout > 0 {
			c.stopTimeout = stopTimeout
		}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *FFMPEGCapture) {
		c.logger = logger.With().Str("component", "capture").Logger()
	}
}

func NewFFMPEGCapture(command string, opts ...Option) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	c := &FFMPEGCapture{
		command:      command,
		preferences:  append([]string(nil), DefaultPreferences...),
		startupGrace: 250 * time.Millisecond,
		stopTimeout:  1200 * time.Millisecond,
		logger:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BeginCapture requests the microphone and starts buffering encoded audio.
func (c *FFMPEGCapture) BeginCapture(ctx context.Context, cfg ports.AudioConfig) (ports.CaptureHandle, error) {
	format, err := c.negotiate(ctx)
	if err != nil {
		return nil, err
	}

	if err := c.acquire(); err != nil {
		return nil, err
	}

	rec, err := c.start(ctx, cfg, format)
	if err != nil {
		c.free()
		return nil, err
	}
	c.logger.Debug().Str("format", format.Name).Str("device", cfg.InputDevice).Msg("capture started")
	return rec, nil
}

// EndCapture ends a handle; a nil handle was never started.
func EndCapture(handle ports.CaptureHandle) (domain.AudioPayload, error) {
	if handle == nil {
		return domain.AudioPayload{}, domain.NewError(domain.ErrorCodeInvalidState, "capture was never started", nil)
	}
	return handle.End()
}

func (c *FFMPEGCapture) acquire() error {
	c.deviceMu.Lock()
	defer c.deviceMu.Unlock()
	if c.busy {
		return domain.NewError(domain.ErrorCodeDeviceUnavailable, "microphone is already in use by another capture", nil)
	}
	c.busy = true
	return nil
}

func (c *FFMPEGCapture) free() {
	c.deviceMu.Lock()
	defer c.deviceMu.Unlock()
	c.busy = false
}

func (c *FFMPEGCapture) start(ctx context.Context, cfg ports.AudioConfig, format Format) (*recording, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-c:a", format.Encoder,
		"-f", format.Muxer,
		"-",
	}

	interrupted := new(atomic.Bool)
	cmd := exec.CommandContext(ctx, c.command, args...)
	cmd.Cancel = func() error {
		interrupted.Store(true)
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = c.stopTimeout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeUnsupportedPlatform, "failed to create recorder pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, domain.NewError(domain.ErrorCodeUnsupportedPlatform, fmt.Sprintf("failed to start %s", c.command), err)
	}

	rec := &recording{
		capture:    c,
		format:     format,
		sampleRate: cfg.SampleRate,
		channels:   cfg.Channels,
		stdout:     stdout,
		stderr:     &stderr,
		process:     cmd.Process,
		interrupted: interrupted,
		readDone:    make(chan struct{}),
	}

	// Wait closes stdout, so it must not run before the buffer loop drains it.
	waitErr := make(chan error, 1)
	go rec.bufferLoop()
	go func() {
		<-rec.readDone
		waitErr <- cmd.Wait()
		close(waitErr)
	}()
	rec.waitErr = waitErr

	select {
	case err := <-waitErr:
		return nil, classifyRecorderExit(err, stderr.String(), "before capture started")
	case <-ctx.Done():
		_ = rec.stop()
		return nil, domain.NewError(domain.ErrorCodeCancelled, "capture cancelled while waiting for the microphone", ctx.Err())
	case <-time.After(c.startupGrace):
	}

	return rec, nil
}

// classifyRecorderExit maps a recorder exit we did not ask for to the
// capture taxonomy. when reads like "before capture started".
func classifyRecorderExit(err error, stderr, when string) error {
	detail := stringsTrimSpaceSafe(stderr)
	lower := strings.ToLower(detail)
	switch {
	case strings.Contains(lower, "permission denied"),
		strings.Contains(lower, "operation not permitted"),
		strings.Contains(lower, "access denied"):
		return domain.NewError(domain.ErrorCodePermissionDenied, "microphone access was refused: "+detail, err)
	case detail == "":
		return domain.NewError(domain.ErrorCodeDeviceUnavailable, "recorder exited "+when, err)
	default:
		return domain.NewError(domain.ErrorCodeDeviceUnavailable, "recorder exited "+when+": "+detail, err)
	}
}

type recording struct {
	capture    *FFMPEGCapture
	format     Format
	sampleRate int
	channels   int

	stdout io.ReadCloser
	stderr *bytes.Buffer

	process     *os.Process
	interrupted *atomic.Bool
	waitErr     <-chan error

	chunksMu sync.Mutex
	chunks   [][]byte
	readErr  error
	readDone chan struct{}

	stateMu sync.Mutex
	ended   bool

	releaseOnce sync.Once
	stopErr     error
}

func (r *recording) MIMEType() string {
	if r == nil {
		return ""
	}
	return r.format.MIMEType
}

func (r *recording) bufferLoop() {
	defer close(r.readDone)

	buf := make([]byte, readChunkSize)
	for {
		n, err := r.stdout.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			r.chunksMu.Lock()
			r.chunks = append(r.chunks, chunk)
			r.chunksMu.Unlock()
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				r.chunksMu.Lock()
				r.readErr = err
				r.chunksMu.Unlock()
			}
			return
		}
	}
}

// End stops the recorder, releases the device and returns the recording.
func (r *recording) End() (domain.AudioPayload, error) {
	if r == nil || r.process == nil {
		return domain.AudioPayload{}, domain.NewError(domain.ErrorCodeInvalidState, "capture was never started", nil)
	}
	if !r.markEnded() {
		return domain.AudioPayload{}, domain.NewError(domain.ErrorCodeInvalidState, "capture already ended", nil)
	}

	if err := r.release(); err != nil {
		if _, ok := domain.AsError(err); ok {
			return domain.AudioPayload{}, err
		}
		r.capture.logger.Warn().Err(err).Msg("recorder did not stop cleanly")
	}

	r.chunksMu.Lock()
	readErr := r.readErr
	data := bytes.Join(r.chunks, nil)
	r.chunks = nil
	r.chunksMu.Unlock()

	if readErr != nil {
		return domain.AudioPayload{}, domain.NewError(domain.ErrorCodeRead, "failed to read captured audio", readErr)
	}

	if r.format.pcm {
		wrapped, err := encodeWAV(data, r.sampleRate, r.channels)
		if err != nil {
			return domain.AudioPayload{}, domain.NewError(domain.ErrorCodeRead, "failed to build wav container", err)
		}
		data = wrapped
	}

	r.capture.logger.Debug().Int("bytes", len(data)).Str("mime", r.format.MIMEType).Msg("capture ended")
	return domain.NewAudioPayload(data, r.format.MIMEType), nil
}

// Release frees the device without producing a payload.
func (r *recording) Release() error {
	if r == nil || r.process == nil {
		return nil
	}
	r.markEnded()
	return r.release()
}

func (r *recording) markEnded() bool {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.ended {
		return false
	}
	r.ended = true
	return true
}

func (r *recording) release() error {
	r.releaseOnce.Do(func() {
		r.stopErr = r.stop()
		r.capture.free()
		r.capture.logger.Debug().Str("format", r.format.Name).Msg("capture released")
	})
	return r.stopErr
}

func (r *recording) stop() error {
	// A recorder that is already gone died on its own.
	select {
	case err, ok := <-r.waitErr:
		if !ok {
			return nil
		}
		return r.unexpectedExit(err)
	default:
	}

	if r.interrupted != nil {
		r.interrupted.Store(true)
	}
	if r.process != nil {
		_ = r.process.Signal(os.Interrupt)
	}

	var stopErr error
	select {
	case err, ok := <-r.waitErr:
		if ok {
			stopErr = normalizeStopErr(err)
		}
	case <-time.After(r.capture.stopTimeout):
		if r.process != nil {
			_ = r.process.Kill()
		}
		err, ok := <-r.waitErr
		if ok {
			stopErr = normalizeStopErr(err)
		}
	}

	if stopErr != nil && r.stderr != nil && r.stderr.Len() > 0 {
		stopErr = fmt.Errorf("%w: %s", stopErr, stringsTrimSpaceSafe(r.stderr.String()))
	}
	return stopErr
}

// unexpectedExit reports a non-zero exit that neither stop nor ctx caused.
func (r *recording) unexpectedExit(err error) error {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || (r.interrupted != nil && r.interrupted.Load()) {
		return normalizeStopErr(err)
	}
	stderr := ""
	if r.stderr != nil {
		stderr = r.stderr.String()
	}
	return classifyRecorderExit(err, stderr, "during capture")
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		return nil
	}
	return err
}

func stringsTrimSpaceSafe(input string) string {
	if input == "" {
		return input
	}
	return string(bytes.TrimSpace([]byte(input)))
}
