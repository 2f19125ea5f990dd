package transcript

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/atotto/clipboard"

	"voxpad/internal/domain"
	"voxpad/internal/ports"
)

// SystemClipboard writes to the desktop clipboard through xclip, xsel,
// wl-copy, pbcopy or the Windows API, whichever the platform provides.
type SystemClipboard struct{}

var _ ports.Clipboard = SystemClipboard{}

func (SystemClipboard) SetText(ctx context.Context, text string) error {
	if clipboard.Unsupported {
		return domain.NewError(domain.ErrorCodeUnsupportedPlatform, "no clipboard utility is available", nil)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("failed to copy transcript: %w", err)
	}
	return nil
}

// Download writes text to path. When path is an existing directory a
// timestamped file is created inside it. It returns the file written.
func Download(path, text string, now time.Time) (string, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, fmt.Sprintf("%s-%s.txt", storeKey, now.Format("20060102-150405")))
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("failed to save transcript: %w", err)
	}
	return path, nil
}
