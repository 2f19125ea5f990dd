package audio

import (
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"voxpad/internal/domain"
)

var extensionTypes = map[string]string{
	".aac":  "audio/aac",
	".aiff": "audio/aiff",
	".flac": "audio/flac",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".mp4":  "audio/mp4",
	".oga":  "audio/ogg",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
	".webm": "audio/webm",
}

// FromFile reads r fully and tags it with the declared MIME type as-is.
func FromFile(r io.Reader, mimeType string) (domain.AudioPayload, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return domain.AudioPayload{}, domain.NewError(domain.ErrorCodeRead, "failed to read audio file", err)
	}
	return domain.NewAudioPayload(data, mimeType), nil
}

// OpenFile loads a file from disk. An empty declaredMIME falls back to the
// type registered for the file extension.
func OpenFile(path string, declaredMIME string) (domain.AudioPayload, error) {
	mimeType := strings.TrimSpace(declaredMIME)
	if mimeType == "" {
		mimeType = MIMETypeForPath(path)
	}

	f, err := os.Open(path)
	if err != nil {
		return domain.AudioPayload{}, domain.NewError(domain.ErrorCodeRead, "failed to open "+path, err)
	}
	defer f.Close()

	return FromFile(f, mimeType)
}

// MIMETypeForPath declares a type from the extension only.
func MIMETypeForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if idx := strings.IndexByte(t, ';'); idx >= 0 {
			t = t[:idx]
		}
		return t
	}
	return "application/octet-stream"
}
