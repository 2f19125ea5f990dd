package gemini

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kbukum/gokit/httpclient"
	"github.com/kbukum/gokit/httpclient/sse"
	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"voxpad/internal/domain"
	"voxpad/internal/ports"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultModel   = "gemini-2.5-flash"
)

// Config controls the Gemini streaming endpoint.
type Config struct {
	APIBaseURL string
	Model      string
	// Timeout bounds a whole stream, connect to last event. Zero means no limit.
	Timeout time.Duration
}

// Provider implements ports.StreamingTranscriber against streamGenerateContent.
type Provider struct {
	cfg    Config
	client *httpclient.Adapter
	logger zerolog.Logger
}

// Option configures a Provider.
type Option func(*Provider)

func WithLogger(logger zerolog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger.With().Str("component", "gemini").Logger()
	}
}

func NewProvider(cfg Config, opts ...Option) (*Provider, error) {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = defaultBaseURL
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout < 0 {
		cfg.Timeout = 0
	}

	client, err := httpclient.New(httpclient.Config{
		Headers: map[string]string{"Accept": "text/event-stream"},
	})
	if err != nil {
		return nil, domain.NewError(domain.ErrorCodeConfiguration, "failed to create Gemini client", err)
	}

	p := &Provider{cfg: cfg, client: client, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// StatusError describes a non-2xx response from the service.
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.StatusCode)
	}
	return fmt.Sprintf("status %d %s: %s", e.StatusCode, e.Status, e.Message)
}

// Stream posts the request and relays text parts as they arrive.
func (p *Provider) Stream(ctx context.Context, req ports.StreamRequest, onFragment func(text string)) error {
	endpoint, err := streamURL(p.cfg)
	if err != nil {
		return domain.NewError(domain.ErrorCodeConfiguration, "invalid Gemini API base URL", err)
	}

	streamCtx := ctx
	if p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	resp, err := p.client.DoStream(streamCtx, httpclient.Request{
		Method: http.MethodPost,
		Path:   endpoint,
		Body:   buildRequestBody(req),
		Auth:   httpclient.APIKeyAuthHeader(req.Credential, "x-goog-api-key"),
	})
	if err != nil {
		return requestError(ctx, err)
	}
	defer resp.Close()

	events := resp.SSE
	if events == nil {
		// Some proxies drop the event-stream content type.
		events = sse.NewReader(resp.Body)
	}

	count := 0
	for {
		ev, err := events.Next()
		if errors.Is(err, io.EOF) {
			p.logger.Debug().Int("events", count).Msg("stream closed")
			return nil
		}
		if errors.Is(err, bufio.ErrTooLong) {
			return domain.NewError(domain.ErrorCodeRemote, "Gemini sent an oversized stream event", err)
		}
		if err != nil {
			return transportError(ctx, "transcription stream interrupted", err)
		}
		count++
		if strings.TrimSpace(ev.Data) == "" {
			continue
		}
		if err := relayEvent(ev.Data, onFragment); err != nil {
			return err
		}
	}
}

type errorEnvelope struct {
	Error *genai.APIError `json:"error"`
}

func relayEvent(data string, onFragment func(string)) error {
	var envelope errorEnvelope
	if err := json.Unmarshal([]byte(data), &envelope); err == nil && envelope.Error != nil {
		apiErr := envelope.Error
		return domain.NewError(domain.ErrorCodeRemote, "Gemini reported an error mid-stream: "+apiErr.Message,
			&StatusError{StatusCode: apiErr.Code, Status: apiErr.Status, Message: apiErr.Message})
	}

	var response genai.GenerateContentResponse
	if err := json.Unmarshal([]byte(data), &response); err != nil {
		return domain.NewError(domain.ErrorCodeRemote, "malformed stream event from Gemini", err)
	}

	if feedback := response.PromptFeedback; feedback != nil && feedback.BlockReason != "" {
		message := feedback.BlockReasonMessage
		if message == "" {
			message = string(feedback.BlockReason)
		}
		return domain.NewError(domain.ErrorCodeRemote, "Gemini blocked the request: "+message, nil)
	}

	for _, text := range responseText(&response) {
		onFragment(text)
	}
	return nil
}

// responseText returns the non-thought text parts of the first candidate.
func responseText(response *genai.GenerateContentResponse) []string {
	if len(response.Candidates) == 0 {
		return nil
	}
	candidate := response.Candidates[0]
	if candidate == nil || candidate.Content == nil {
		return nil
	}
	texts := make([]string, 0, len(candidate.Content.Parts))
	for _, part := range candidate.Content.Parts {
		if part == nil || part.Thought || part.Text == "" {
			continue
		}
		texts = append(texts, part.Text)
	}
	return texts
}

// requestError maps a failed DoStream call onto the error taxonomy.
func requestError(ctx context.Context, err error) error {
	var httpErr *httpclient.Error
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode > 0:
			return domain.NewError(domain.ErrorCodeRemote, "Gemini rejected the transcription request",
				statusError(httpErr.StatusCode, httpErr.Body))
		case httpErr.Code == httpclient.ErrCodeValidation:
			return domain.NewError(domain.ErrorCodeConfiguration, "failed to build transcription request", err)
		}
	}
	return transportError(ctx, "failed to reach Gemini", err)
}

func statusError(code int, raw []byte) *StatusError {
	cause := &StatusError{StatusCode: code, Status: http.StatusText(code)}
	var envelope errorEnvelope
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error != nil {
		cause.Message = envelope.Error.Message
		if envelope.Error.Status != "" {
			cause.Status = envelope.Error.Status
		}
	} else {
		cause.Message = strings.TrimSpace(string(raw))
	}
	return cause
}

func transportError(ctx context.Context, message string, err error) error {
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(err, context.Canceled) {
		return domain.NewError(domain.ErrorCodeCancelled, "transcription cancelled", err)
	}
	return domain.NewError(domain.ErrorCodeNetwork, message, err)
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type part struct {
	InlineData *inlineData `json:"inlineData,omitempty"`
	Text       string      `json:"text,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     float32 `json:"temperature"`
	MaxOutputTokens int32   `json:"maxOutputTokens"`
}

func buildRequestBody(req ports.StreamRequest) generateRequest {
	return generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{InlineData: &inlineData{MIMEType: req.Encoded.MIMEType, Data: req.Encoded.Data}},
				{Text: req.Instruction},
			},
		}},
		GenerationConfig: generationConfig{
			Temperature:     req.Generation.Temperature,
			MaxOutputTokens: req.Generation.MaxOutputTokens,
		},
	}
}

func streamURL(cfg Config) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	if base == "" {
		base = defaultBaseURL
	}
	model := strings.TrimPrefix(strings.TrimSpace(cfg.Model), "models/")
	if model == "" {
		model = defaultModel
	}

	parsed, err := url.Parse(base + "/v1beta/models/" + url.PathEscape(model) + ":streamGenerateContent")
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	query := parsed.Query()
	query.Set("alt", "sse")
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
