package bootstrap

import (
	"io"

	"github.com/rs/zerolog"

	"voxpad/internal/audio"
	"voxpad/internal/config"
	"voxpad/internal/domain"
	"voxpad/internal/logging"
	"voxpad/internal/ports"
	"voxpad/internal/providers/deepgram"
	"voxpad/internal/providers/gemini"
	"voxpad/internal/transcript"
	"voxpad/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Config      config.Config
	Logger      zerolog.Logger
	Capture     *audio.FFMPEGCapture
	Transcriber ports.StreamingTranscriber
	Credentials ports.CredentialSource
	Store       ports.TranscriptStore
	Clipboard   ports.Clipboard
}

// Build wires all dependencies for cfg. Logs go to logOutput, or stderr when nil.
func Build(cfg config.Config, clipboard ports.Clipboard, logOutput io.Writer) (Services, error) {
	if err := config.Validate(cfg); err != nil {
		return Services{}, err
	}
	logger := logging.New(cfg.Log, logOutput)

	transcriber, err := newTranscriber(cfg, logger)
	if err != nil {
		return Services{}, err
	}
	if clipboard == nil {
		clipboard = transcript.SystemClipboard{}
	}

	store, err := transcript.NewFileStore(cfg.Transcript.Dir, cfg.Transcript.Separator)
	if err != nil {
		return Services{}, domain.NewError(domain.ErrorCodeConfiguration, "transcript directory is not usable", err)
	}

	capture := audio.NewFFMPEGCapture(
		cfg.Audio.RecorderCommand,
		audio.WithPreferences(cfg.Audio.Formats...),
		audio.WithTimeouts(cfg.Audio.StartupGrace, cfg.Audio.StopTimeout),
		audio.WithLogger(logger),
	)

	return Services{
		Config:      cfg,
		Logger:      logger,
		Capture:     capture,
		Transcriber: transcriber,
		Credentials: cfg.CredentialSource(),
		Store:       store,
		Clipboard:   clipboard,
	}, nil
}

// NewSession returns a fresh single-use transcription session.
func (s Services) NewSession(observer ports.StateObserver) *usecase.Session {
	opts := []usecase.SessionOption{usecase.WithLogger(s.Logger)}
	if observer != nil {
		opts = append(opts, usecase.WithObserver(observer))
	}
	return usecase.NewSession(s.Transcriber, s.Credentials, opts...)
}

func newTranscriber(cfg config.Config, logger zerolog.Logger) (ports.StreamingTranscriber, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		provider, err := gemini.NewProvider(
			gemini.Config{
				APIBaseURL: cfg.Gemini.APIBaseURL,
				Model:      cfg.Gemini.Model,
				Timeout:    cfg.Gemini.Timeout,
			},
			gemini.WithLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		return provider, nil
	case config.ProviderDeepgram:
		return deepgram.NewProvider(
			deepgram.Config{
				APIBaseURL:  cfg.Deepgram.APIBaseURL,
				Model:       cfg.Deepgram.Model,
				SmartFormat: cfg.Deepgram.SmartFormat,
			},
			deepgram.WithLogger(logger),
		), nil
	default:
		return nil, domain.Errorf(domain.ErrorCodeConfiguration, nil, "unknown transcription provider %q", cfg.Provider)
	}
}
