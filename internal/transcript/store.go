package transcript

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/kbukum/gokit/storage"
	"github.com/kbukum/gokit/storage/local"

	"voxpad/internal/ports"
)

const storeKey = "transcription.txt"

// Store keeps one running transcript under a fixed key of an object store.
// Appended entries are joined with the configured separator.
type Store struct {
	backend   storage.Storage
	separator string
	mu        sync.Mutex
}

var _ ports.TranscriptStore = (*Store)(nil)

// NewStore keeps the transcript in backend.
func NewStore(backend storage.Storage, separator string) *Store {
	return &Store{backend: backend, separator: separator}
}

// NewFileStore keeps the transcript in dir, creating it if needed.
func NewFileStore(dir, separator string) (*Store, error) {
	backend, err := local.NewStorage(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript store: %w", err)
	}
	return NewStore(backend, separator), nil
}

// Load returns the stored transcript, or "" when nothing has been kept.
func (s *Store) Load(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Append adds text to the stored transcript and returns the new contents.
// Blank text leaves the store untouched.
func (s *Store) Append(ctx context.Context, text string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(ctx)
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return current, nil
	}

	next := text
	if current != "" {
		next = current + s.separator + text
	}
	if err := s.backend.Upload(ctx, storeKey, strings.NewReader(next)); err != nil {
		return "", fmt.Errorf("failed to write transcript: %w", err)
	}
	return next, nil
}

func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.backend.Delete(ctx, storeKey); err != nil {
		return fmt.Errorf("failed to clear transcript: %w", err)
	}
	return nil
}

func (s *Store) load(ctx context.Context) (string, error) {
	ok, err := s.backend.Exists(ctx, storeKey)
	if err != nil {
		return "", fmt.Errorf("failed to read transcript: %w", err)
	}
	if !ok {
		return "", nil
	}

	body, err := s.backend.Download(ctx, storeKey)
	if err != nil {
		return "", fmt.Errorf("failed to read transcript: %w", err)
	}
	defer body.Close()

	raw, err := io.ReadAll(body)
	if err != nil {
		return "", fmt.Errorf("failed to read transcript: %w", err)
	}
	return string(raw), nil
}
