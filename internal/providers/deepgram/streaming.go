package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"voxpad/internal/domain"
	"voxpad/internal/ports"
)

const chunkSize = 32 * 1024

// Config controls Deepgram websocket settings.
type Config struct {
	APIBaseURL  string
	Model       string
	SmartFormat bool
}

// Provider implements ports.StreamingTranscriber over Deepgram's live endpoint.
type Provider struct {
	cfg    Config
	dialer *websocket.Dialer
	logger zerolog.Logger
}

type Option func(*Provider)

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger.With().Str("component", "deepgram").Logger()
	}
}

func NewProvider(cfg Config, opts ...Option) *Provider {
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.deepgram.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	p := &Provider{cfg: cfg, dialer: websocket.DefaultDialer, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Stream sends the whole payload, closes the stream and relays final
// transcripts until the server closes the connection.
func (p *Provider) Stream(ctx context.Context, req ports.StreamRequest, onFragment func(text string)) error {
	wsURL, err := buildListenURL(p.cfg, req.Language)
	if err != nil {
		return domain.NewError(domain.ErrorCodeConfiguration, "invalid Deepgram API base URL", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+req.Credential)

	conn, resp, err := p.dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if ctx.Err() != nil {
			return domain.NewError(domain.ErrorCodeCancelled, "transcription cancelled", err)
		}
		if resp != nil {
			return domain.Errorf(domain.ErrorCodeRemote, err, "Deepgram rejected the connection (%s)", resp.Status)
		}
		return domain.NewError(domain.ErrorCodeNetwork, "failed to connect to Deepgram websocket", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	writeDone := make(chan error, 1)
	go func() {
		writeDone <- writeAudio(conn, req.Audio.Bytes())
	}()

	var turns speakerTurns
	emitted := 0
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			writeErr := <-writeDone
			switch {
			case ctx.Err() != nil:
				return domain.NewError(domain.ErrorCodeCancelled, "transcription cancelled", ctx.Err())
			case isNormalClose(err) && writeErr == nil:
				p.logger.Debug().Int("fragments", emitted).Msg("stream closed")
				return nil
			case isNormalClose(err):
				return domain.NewError(domain.ErrorCodeNetwork, "Deepgram closed the stream before all audio was sent", writeErr)
			default:
				return domain.NewError(domain.ErrorCodeNetwork, "failed to read provider event", err)
			}
		}

		var response deepgramResponse
		if err := json.Unmarshal(payload, &response); err != nil {
			continue
		}

		if strings.EqualFold(response.Type, "Error") {
			message := strings.TrimSpace(response.Message)
			if message == "" {
				message = strings.TrimSpace(response.Description)
			}
			if message == "" {
				message = "deepgram returned an unknown error"
			}
			_ = conn.Close()
			<-writeDone
			return domain.NewError(domain.ErrorCodeRemote, message, nil)
		}

		if !response.IsFinal {
			continue
		}
		transcript, newTurn := turns.render(primaryAlternative(response))
		if transcript == "" {
			continue
		}
		if emitted > 0 {
			if newTurn {
				transcript = "\n" + transcript
			} else {
				transcript = " " + transcript
			}
		}
		emitted++
		onFragment(transcript)
	}
}

func writeAudio(conn *websocket.Conn, data []byte) error {
	for len(data) > 0 {
		n := min(chunkSize, len(data))
		if err := conn.WriteMessage(websocket.BinaryMessage, data[:n]); err != nil {
			return fmt.Errorf("failed to send audio: %w", err)
		}
		data = data[n:]
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}

type deepgramResponse struct {
	Type        string `json:"type"`
	Message     string `json:"message"`
	Description string `json:"description"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`

	Channel struct {
		Alternatives []alternative `json:"alternatives"`
	} `json:"channel"`

	Results struct {
		Channels []struct {
			Alternatives []alternative `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type alternative struct {
	Transcript string `json:"transcript"`
	Words      []word `json:"words"`
}

type word struct {
	Word           string `json:"word"`
	PunctuatedWord string `json:"punctuated_word"`
	Speaker        *int   `json:"speaker"`
}

func primaryAlternative(response deepgramResponse) alternative {
	if len(response.Channel.Alternatives) > 0 {
		if alt := response.Channel.Alternatives[0]; strings.TrimSpace(alt.Transcript) != "" {
			return alt
		}
	}
	if len(response.Results.Channels) > 0 && len(response.Results.Channels[0].Alternatives) > 0 {
		return response.Results.Channels[0].Alternatives[0]
	}
	return alternative{}
}

// speakerTurns labels diarized text. The first voice stays unlabeled until
// another one speaks; every change after that starts a "Speaker N:" line.
type speakerTurns struct {
	current int
	started bool
}

// render returns the text of alt and whether it opens a new speaker turn.
func (s *speakerTurns) render(alt alternative) (string, bool) {
	text := strings.TrimSpace(alt.Transcript)
	if text == "" || !hasSpeakers(alt.Words) {
		return text, false
	}

	var b strings.Builder
	newTurn := false
	for _, w := range alt.Words {
		token := w.PunctuatedWord
		if token == "" {
			token = w.Word
		}
		if token == "" {
			continue
		}
		speaker := s.current
		if w.Speaker != nil {
			speaker = *w.Speaker
		}
		if !s.started {
			s.started = true
			s.current = speaker
		}

		switch {
		case speaker != s.current:
			s.current = speaker
			if b.Len() == 0 {
				newTurn = true
			} else {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "Speaker %d: ", speaker+1)
		case b.Len() > 0:
			b.WriteByte(' ')
		}
		b.WriteString(token)
	}
	return b.String(), newTurn
}

func hasSpeakers(words []word) bool {
	for _, w := range words {
		if w.Speaker != nil {
			return true
		}
	}
	return false
}

// buildListenURL leaves encoding unset; Deepgram sniffs containerized audio.
func buildListenURL(providerCfg Config, language domain.Language) (string, error) {
	base := strings.TrimSpace(providerCfg.APIBaseURL)
	if base == "" {
		base = "https://api.deepgram.com/v1"
	}

	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	listenURL, err := url.Parse(base + "/listen")
	if err != nil {
		return "", fmt.Errorf("invalid Deepgram API base URL: %w", err)
	}
	if listenURL.Scheme != "ws" && listenURL.Scheme != "wss" {
		return "", fmt.Errorf("unsupported scheme %q", listenURL.Scheme)
	}

	query := listenURL.Query()
	query.Set("model", providerCfg.Model)
	query.Set("smart_format", fmt.Sprintf("%t", providerCfg.SmartFormat))
	query.Set("diarize", "true")
	if language != "" {
		query.Set("language", string(language))
	}
	listenURL.RawQuery = query.Encode()
	return listenURL.String(), nil
}
