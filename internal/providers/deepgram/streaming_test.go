package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"voxpad/internal/domain"
	"voxpad/internal/ports"
)

func TestNewProviderDefaults(t *testing.T) {
	t.Parallel()

	p := NewProvider(Config{})
	if p.cfg.APIBaseURL != "https://api.deepgram.com/v1" {
		t.Fatalf("unexpected base url: %q", p.cfg.APIBaseURL)
	}
	if p.cfg.Model != "nova-2" {
		t.Fatalf("unexpected model: %q", p.cfg.Model)
	}
}

func TestBuildListenURLDefaults(t *testing.T) {
	t.Parallel()

	url, err := buildListenURL(Config{APIBaseURL: "https://api.deepgram.com/v1", Model: "nova-2"}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(url, "wss://api.deepgram.com/v1/listen") {
		t.Fatalf("unexpected ws url: %s", url)
	}
	if !strings.Contains(url, "model=nova-2") {
		t.Fatalf("expected model in url: %s", url)
	}
	if !strings.Contains(url, "diarize=true") {
		t.Fatalf("expected diarization in url: %s", url)
	}
	if strings.Contains(url, "encoding=") || strings.Contains(url, "language=") {
		t.Fatalf("encoding and language must be omitted: %s", url)
	}
}

func TestBuildListenURLWithLanguageAndSmartFormat(t *testing.T) {
	t.Parallel()

	url, err := buildListenURL(
		Config{APIBaseURL: "http://localhost:8080/v1/", Model: "m", SmartFormat: true},
		domain.LanguageFrench,
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !strings.Contains(url, "ws://localhost:8080/v1/listen") {
		t.Fatalf("unexpected ws url: %s", url)
	}
	if !strings.Contains(url, "language=fr") {
		t.Fatalf("expected language in url: %s", url)
	}
	if !strings.Contains(url, "smart_format=true") {
		t.Fatalf("expected smart_format in url: %s", url)
	}
}

func TestBuildListenURLInvalidBase(t *testing.T) {
	t.Parallel()

	if _, err := buildListenURL(Config{APIBaseURL: ":// bad"}, ""); err == nil {
		t.Fatalf("expected invalid base url error")
	}
	if _, err := buildListenURL(Config{APIBaseURL: "ftp://example.com"}, ""); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}

func TestPrimaryAlternative(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{name: "channel", payload: `{"channel":{"alternatives":[{"transcript":" channel "}]}}`, want: "channel"},
		{name: "results", payload: `{"results":{"channels":[{"alternatives":[{"transcript":"results"}]}]}}`, want: "results"},
		{name: "empty", payload: `{}`, want: ""},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var response deepgramResponse
			if err := json.Unmarshal([]byte(tc.payload), &response); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			var turns speakerTurns
			if got, _ := turns.render(primaryAlternative(response)); got != tc.want {
				t.Fatalf("unexpected transcript: %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSpeakerTurnsLabelsChanges(t *testing.T) {
	t.Parallel()

	var turns speakerTurns
	segments := []string{
		`{"transcript":"hola amigo","words":[{"word":"hola","punctuated_word":"Hola","speaker":0},{"word":"amigo","punctuated_word":"amigo.","speaker":0}]}`,
		`{"transcript":"qué tal bien","words":[{"word":"qué","punctuated_word":"¿Qué","speaker":1},{"word":"tal","punctuated_word":"tal?","speaker":1},{"word":"bien","punctuated_word":"Bien.","speaker":0}]}`,
		`{"transcript":"gracias","words":[{"word":"gracias","speaker":0}]}`,
	}
	want := []struct {
		text    string
		newTurn bool
	}{
		{"Hola amigo.", false},
		{"Speaker 2: ¿Qué tal?\nSpeaker 1: Bien.", true},
		{"gracias", false},
	}

	for i, raw := range segments {
		var alt alternative
		if err := json.Unmarshal([]byte(raw), &alt); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		text, newTurn := turns.render(alt)
		if text != want[i].text || newTurn != want[i].newTurn {
			t.Fatalf("segment %d = (%q, %t), want (%q, %t)", i, text, newTurn, want[i].text, want[i].newTurn)
		}
	}
}

func TestSpeakerTurnsWithoutDiarization(t *testing.T) {
	t.Parallel()

	var turns speakerTurns
	text, newTurn := turns.render(alternative{
		Transcript: " plain text ",
		Words:      []word{{Word: "plain"}, {Word: "text"}},
	})
	if text != "plain text" || newTurn {
		t.Fatalf("unexpected render: %q, %t", text, newTurn)
	}
}

func TestStreamRelaysFinalTranscripts(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte{0x4f}, chunkSize+10)
	received := make(chan []byte, 1)

	server := newListenServer(t, func(conn *websocket.Conn, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Token secret" {
			t.Errorf("authorization = %q", got)
		}
		if got := r.URL.Query().Get("language"); got != "es" {
			t.Errorf("language = %q", got)
		}
		if got := r.URL.Query().Get("diarize"); got != "true" {
			t.Errorf("diarize = %q", got)
		}

		var audio []byte
		for {
			kind, message, err := conn.ReadMessage()
			if err != nil {
				t.Errorf("read: %v", err)
				return
			}
			if kind == websocket.TextMessage {
				if string(message) != `{"type":"CloseStream"}` {
					t.Errorf("unexpected control message: %s", message)
				}
				break
			}
			audio = append(audio, message...)
		}
		received <- audio

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":false,"channel":{"alternatives":[{"transcript":"ho"}]}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":"hola"}]}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"channel":{"alternatives":[{"transcript":""}]}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Results","is_final":true,"speech_final":true,"channel":{"alternatives":[{"transcript":"mundo"}]}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Metadata"}`))
		closeNormally(conn)
	})

	p := NewProvider(Config{APIBaseURL: server.URL})

	var fragments []string
	err := p.Stream(context.Background(), streamRequest(payload, domain.LanguageSpanish), func(text string) {
		fragments = append(fragments, text)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Join(fragments, "|") != "hola| mundo" {
		t.Fatalf("unexpected fragments: %q", fragments)
	}
	if got := <-received; !bytes.Equal(got, payload) {
		t.Fatalf("server received %d bytes, want %d", len(got), len(payload))
	}
}

func TestStreamHandshakeRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
	}))
	defer server.Close()

	p := NewProvider(Config{APIBaseURL: server.URL})
	err := p.Stream(context.Background(), streamRequest([]byte{1}, domain.LanguageEnglish), func(string) {})
	if !errors.Is(err, domain.ErrRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
}

func TestStreamErrorMessage(t *testing.T) {
	t.Parallel()

	server := newListenServer(t, func(conn *websocket.Conn, r *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"Error","description":"unsupported audio"}`))
		closeNormally(conn)
	})

	p := NewProvider(Config{APIBaseURL: server.URL})
	err := p.Stream(context.Background(), streamRequest([]byte{1}, domain.LanguageEnglish), func(string) {})
	if !errors.Is(err, domain.ErrRemote) {
		t.Fatalf("expected remote error, got %v", err)
	}
	if !strings.Contains(err.Error(), "unsupported audio") {
		t.Fatalf("expected provider message, got %v", err)
	}
}

func TestStreamConnectionDropped(t *testing.T) {
	t.Parallel()

	server := newListenServer(t, func(conn *websocket.Conn, r *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"is_final":true,"channel":{"alternatives":[{"transcript":"partial"}]}}`))
		_ = conn.UnderlyingConn().Close()
	})

	p := NewProvider(Config{APIBaseURL: server.URL})

	var fragments []string
	err := p.Stream(context.Background(), streamRequest([]byte{1}, domain.LanguageEnglish), func(text string) {
		fragments = append(fragments, text)
	})
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
	if len(fragments) != 1 || fragments[0] != "partial" {
		t.Fatalf("unexpected fragments: %q", fragments)
	}
}

func TestStreamUnreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.NotFoundHandler())
	baseURL := server.URL
	server.Close()

	p := NewProvider(Config{APIBaseURL: baseURL})
	err := p.Stream(context.Background(), streamRequest([]byte{1}, domain.LanguageEnglish), func(string) {})
	if !errors.Is(err, domain.ErrNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestStreamCancelled(t *testing.T) {
	t.Parallel()

	server := newListenServer(t, func(conn *websocket.Conn, r *http.Request) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"is_final":true,"channel":{"alternatives":[{"transcript":"first"}]}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	p := NewProvider(Config{APIBaseURL: server.URL})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := p.Stream(ctx, streamRequest([]byte{1}, domain.LanguageEnglish), func(string) {
		cancel()
	})
	if !errors.Is(err, domain.ErrCancelled) {
		t.Fatalf("expected cancelled, got %v", err)
	}
}

func newListenServer(t *testing.T, handle func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/listen" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handle(conn, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func closeNormally(conn *websocket.Conn) {
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func streamRequest(audio []byte, language domain.Language) ports.StreamRequest {
	return ports.StreamRequest{
		Credential: "secret",
		Audio:      domain.NewAudioPayload(audio, "audio/webm"),
		Language:   language,
	}
}
