package gemini

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"voxpad/internal/domain"
	"voxpad/internal/ports"
)

func TestStreamRelaysTextParts(t *testing.T) {
	t.Parallel()

	audio := []byte{0x1a, 0x45, 0xdf, 0xa3}
	encoded := base64.StdEncoding.EncodeToString(audio)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.URL.Path != "/v1beta/models/gemini-test:streamGenerateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("alt") != "sse" {
			t.Errorf("alt = %q", r.URL.Query().Get("alt"))
		}
		if got := r.Header.Get("x-goog-api-key"); got != "secret" {
			t.Errorf("api key header = %q", got)
		}

		var body generateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		if len(body.Contents) != 1 || len(body.Contents[0].Parts) != 2 {
			t.Errorf("unexpected contents: %+v", body.Contents)
		} else {
			inline := body.Contents[0].Parts[0].InlineData
			if inline == nil || inline.MIMEType != "audio/webm" || inline.Data != encoded {
				t.Errorf("unexpected inline data: %+v", inline)
			}
			if body.Contents[0].Parts[1].Text != "Transcribe in French." {
				t.Errorf("unexpected instruction: %q", body.Contents[0].Parts[1].Text)
			}
		}
		if body.GenerationConfig.Temperature != 0.1 || body.GenerationConfig.MaxOutputTokens != 8192 {
			t.Errorf("unexpected generation config: %+v", body.GenerationConfig)
		}

		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, textChunk("Bon"))
		writeEvent(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"thinking","thought":true}]}}]}`)
		writeEvent(w, textChunk("jour"))
		writeEvent(w, `{"candidates":[]}`)
	}))
	defer server.Close()

	provider := newTestProvider(t, Config{APIBaseURL: server.URL, Model: "models/gemini-test"})

	var fragments []string
	err := provider.Stream(context.Background(), testRequest(audio, encoded), func(text string) {
		fragments = append(fragments, text)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(fragments, "|") != "Bon|jour" {
		t.Fatalf("unexpected fragments: %q", fragments)
	}
}

func TestStreamEmptyPayloadIsForwarded(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body generateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		inline := body.Contents[0].Parts[0].InlineData
		if inline == nil || inline.Data != "" {
			t.Errorf("expected empty inline data, got %+v", inline)
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":400,"message":"Request contains an invalid argument.","status":"INVALID_ARGUMENT"}}`))
	}))
	defer server.Close()

	provider := newTestProvider(t, Config{APIBaseURL: server.URL, Model: "gemini-test"})
	err := provider.Stream(context.Background(), testRequest(nil, ""), func(string) {
		t.Errorf("no fragment expected")
	})
	if !errors.Is(err, domain.ErrRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}

	var status *StatusError
	if !errors.As(err, &status) {
		t.Fatalf("expected status error cause, got %v", err)
	}
	if status.StatusCode != http.StatusBadRequest || status.Status != "INVALID_ARGUMENT" {
		t.Fatalf("unexpected status error: %+v", status)
	}
	if !strings.Contains(status.Message, "invalid argument") {
		t.Fatalf("unexpected message: %q", status.Message)
	}
}

func TestStreamNonJSONErrorBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	provider := newTestProvider(t, Config{APIBaseURL: server.URL})
	err := provider.Stream(context.Background(), testRequest([]byte{1}, "AQ=="), func(string) {})

	var status *StatusError
	if !errors.Is(err, domain.ErrRemote) || !errors.As(err, &status) {
		t.Fatalf("expected remote status error, got %v", err)
	}
	if status.StatusCode != http.StatusServiceUnavailable || status.Message != "upstream overloaded" {
		t.Fatalf("unexpected status error: %+v", status)
	}
}

func TestStreamErrorEventAfterFragments(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, textChunk("Hello "))
		writeEvent(w, `{"error":{"code":500,"message":"Internal error encountered.","status":"INTERNAL"}}`)
		writeEvent(w, textChunk("never"))
	}))
	defer server.Close()

	provider := newTestProvider(t, Config{APIBaseURL: server.URL})

	var fragments []string
	err := provider.Stream(context.Background(), testRequest([]byte{1}, "AQ=="), func(text string) {
		fragments = append(fragments, text)
	})
	if !errors.Is(err, domain.ErrRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if len(fragments) != 1 || fragments[0] != "Hello " {
		t.Fatalf("fragments before the error must be kept: %q", fragments)
	}
}

func TestStreamBlockedPrompt(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, `{"promptFeedback":{"blockReason":"SAFETY"}}`)
	}))
	defer server.Close()

	provider := newTestProvider(t, Config{APIBaseURL: server.URL})
	err := provider.Stream(context.Background(), testRequest([]byte{1}, "AQ=="), func(string) {})
	if !errors.Is(err, domain.ErrRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if !strings.Contains(err.Error(), "SAFETY") {
		t.Fatalf("expected block reason in error, got %v", err)
	}
}

func TestStreamMalformedEvent(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, `{"candidates":`)
	}))
	defer server.Close()

	provider := newTestProvider(t, Config{APIBaseURL: server.URL})
	err := provider.Stream(context.Background(), testRequest([]byte{1}, "AQ=="), func(string) {})
	if !errors.Is(err, domain.ErrRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
}

func TestStreamConnectionDroppedMidStream(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hijacker, ok := w.(http.Hijacker)
		if !ok {
			t.Errorf("response writer cannot hijack")
			return
		}
		conn, buf, err := hijacker.Hijack()
		if err != nil {
			t.Errorf("hijack: %v", err)
			return
		}
		chunk := "data: " + textChunk("partial") + "\n\n"
		fmt.Fprintf(buf, "HTTP/1.1 200 OK\r\nContent-Type: text/event-stream\r\nTransfer-Encoding: chunked\r\n\r\n")
		fmt.Fprintf(buf, "%x\r\n%s\r\n", len(chunk), chunk)
		_ = buf.Flush()
		_ = conn.Close()
	}))
	defer server.Close()

	provider := newTestProvider(t, Config{APIBaseURL: server.URL})

	var fragments []string
	err := provider.Stream(context.Background(), testRequest([]byte{1}, "AQ=="), func(text string) {
		fragments = append(fragments, text)
	})
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if len(fragments) != 1 || fragments[0] != "partial" {
		t.Fatalf("unexpected fragments: %q", fragments)
	}
}

func TestStreamUnreachableHost(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	provider := newTestProvider(t, Config{APIBaseURL: baseURL})
	err := provider.Stream(context.Background(), testRequest([]byte{1}, "AQ=="), func(string) {})
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestStreamCancelled(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, textChunk("first"))
		<-r.Context().Done()
	}))
	defer server.Close()

	provider := newTestProvider(t, Config{APIBaseURL: server.URL})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := provider.Stream(ctx, testRequest([]byte{1}, "AQ=="), func(string) {
		cancel()
	})
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func TestStreamOversizedEventIsRemoteError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, textChunk(strings.Repeat("a", 128*1024)))
	}))
	defer server.Close()

	provider := newTestProvider(t, Config{APIBaseURL: server.URL})
	err := provider.Stream(context.Background(), testRequest([]byte{1}, "AQ=="), func(string) {
		t.Errorf("no fragment expected")
	})
	if !errors.Is(err, domain.ErrRemote) || !errors.Is(err, bufio.ErrTooLong) {
		t.Fatalf("expected oversized event remote error, got %v", err)
	}
}

func TestStreamWithoutEventStreamContentType(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		writeEvent(w, textChunk("plain"))
	}))
	defer server.Close()

	provider := newTestProvider(t, Config{APIBaseURL: server.URL})

	var fragments []string
	err := provider.Stream(context.Background(), testRequest([]byte{1}, "AQ=="), func(text string) {
		fragments = append(fragments, text)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fragments) != 1 || fragments[0] != "plain" {
		t.Fatalf("unexpected fragments: %q", fragments)
	}
}

func TestStreamTimeoutIsNetworkError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, textChunk("slow"))
		<-r.Context().Done()
	}))
	defer server.Close()

	provider := newTestProvider(t, Config{APIBaseURL: server.URL, Timeout: 100 * time.Millisecond})
	err := provider.Stream(context.Background(), testRequest([]byte{1}, "AQ=="), func(string) {})
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected network error after the stream deadline, got %v", err)
	}
}

func TestStreamURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     Config
		want    string
		wantErr bool
	}{
		{
			name: "defaults",
			cfg:  Config{},
			want: "https://generativelanguage.googleapis.com/v1beta/models/gemini-2.5-flash:streamGenerateContent?alt=sse",
		},
		{
			name: "trailing slash and prefixed model",
			cfg:  Config{APIBaseURL: "http://localhost:8080/", Model: "models/gemini-pro"},
			want: "http://localhost:8080/v1beta/models/gemini-pro:streamGenerateContent?alt=sse",
		},
		{
			name:    "bad scheme",
			cfg:     Config{APIBaseURL: "ftp://example.com"},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := streamURL(tc.cfg)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("streamURL() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestStreamInvalidBaseURLIsConfigurationError(t *testing.T) {
	t.Parallel()

	provider := newTestProvider(t, Config{APIBaseURL: "ftp://example.com"})
	err := provider.Stream(context.Background(), testRequest(nil, ""), func(string) {})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func newTestProvider(t *testing.T, cfg Config) *Provider {
	t.Helper()
	provider, err := NewProvider(cfg)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}
	return provider
}

func testRequest(audio []byte, encoded string) ports.StreamRequest {
	return ports.StreamRequest{
		Credential:  "secret",
		Audio:       domain.NewAudioPayload(audio, "audio/webm"),
		Encoded:     domain.EncodedAudio{MIMEType: "audio/webm", Data: encoded},
		Language:    domain.LanguageFrench,
		Instruction: "Transcribe in French.",
		Generation:  ports.GenerationConfig{Temperature: 0.1, MaxOutputTokens: 8192},
	}
}

func textChunk(text string) string {
	raw, _ := json.Marshal(text)
	return `{"candidates":[{"content":{"role":"model","parts":[{"text":` + string(raw) + `}]}}]}`
}

func writeEvent(w http.ResponseWriter, data string) {
	fmt.Fprintf(w, "data: %s\r\n\r\n", data)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}
