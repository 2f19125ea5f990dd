package audio

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"voxpad/internal/domain"
)

// Format is one recorder output encoding.
type Format struct {
	Name     string
	MIMEType string
	Muxer    string
	Encoder  string
	// pcm formats are captured raw and wrapped into a WAV container on End.
	pcm bool
}

var knownFormats = map[string]Format{
	"webm": {Name: "webm", MIMEType: "audio/webm", Muxer: "webm", Encoder: "libopus"},
	"ogg":  {Name: "ogg", MIMEType: "audio/ogg", Muxer: "ogg", Encoder: "libopus"},
	"wav":  {Name: "wav", MIMEType: "audio/wav", Muxer: "s16le", Encoder: "pcm_s16le", pcm: true},
}

// DefaultPreferences is the encoding preference order, general container first.
var DefaultPreferences = []string{"webm", "ogg", "wav"}

// FormatSupport reports whether the recorder can produce a format.
type FormatSupport struct {
	Format
	Supported bool
}

type capabilities struct {
	muxers   map[string]bool
	encoders map[string]bool
}

func (c capabilities) supports(f Format) bool {
	return c.muxers[f.Muxer] && c.encoders[f.Encoder]
}

// Formats lists the configured preference order with recorder support.
func (c *FFMPEGCapture) Formats(ctx context.Context) ([]FormatSupport, error) {
	caps, err := c.detectCapabilities(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]FormatSupport, 0, len(c.preferences))
	for _, name := range c.preferences {
		format, ok := knownFormats[name]
		if !ok {
			continue
		}
		out = append(out, FormatSupport{Format: format, Supported: caps.supports(format)})
	}
	return out, nil
}

func (c *FFMPEGCapture) negotiate(ctx context.Context) (Format, error) {
	supported, err := c.Formats(ctx)
	if err != nil {
		return Format{}, err
	}
	for _, candidate := range supported {
		if candidate.Supported {
			return candidate.Format, nil
		}
	}
	return Format{}, domain.Errorf(domain.ErrorCodeUnsupportedPlatform, nil,
		"recorder %q supports none of the encodings %s", c.command, strings.Join(c.preferences, ", "))
}

func (c *FFMPEGCapture) detectCapabilities(ctx context.Context) (capabilities, error) {
	c.capsMu.Lock()
	defer c.capsMu.Unlock()
	if c.caps != nil {
		return *c.caps, nil
	}

	muxers, err := c.list(ctx, "-muxers")
	if err != nil {
		return capabilities{}, err
	}
	encoders, err := c.list(ctx, "-encoders")
	if err != nil {
		return capabilities{}, err
	}

	caps := capabilities{muxers: muxers, encoders: encoders}
	c.caps = &caps
	return caps, nil
}

func (c *FFMPEGCapture) list(ctx context.Context, flag string) (map[string]bool, error) {
	output, err := exec.CommandContext(ctx, c.command, "-hide_banner", flag).Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, domain.NewError(domain.ErrorCodeCancelled, "encoder detection cancelled", ctx.Err())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, domain.Errorf(domain.ErrorCodeUnsupportedPlatform, err,
				"recorder %q failed to list %s: %s", c.command, strings.TrimPrefix(flag, "-"), stringsTrimSpaceSafe(string(exitErr.Stderr)))
		}
		return nil, domain.NewError(domain.ErrorCodeUnsupportedPlatform, fmt.Sprintf("audio recorder %q is not available", c.command), err)
	}
	return parseCapabilities(string(output)), nil
}

// parseCapabilities reads the name column of an ffmpeg -muxers/-encoders listing.
func parseCapabilities(output string) map[string]bool {
	names := make(map[string]bool)
	started := false
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if !started {
			if strings.HasPrefix(trimmed, "--") {
				started = true
			}
			continue
		}
		fields := strings.Fields(trimmed)
		if len(fields) < 2 {
			continue
		}
		for _, name := range strings.Split(fields[1], ",") {
			if name != "" {
				names[name] = true
			}
		}
	}
	return names
}
