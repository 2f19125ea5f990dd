package config

import (
	"os"
	"strings"

	"voxpad/internal/ports"
)

// EnvCredential reads the first non-empty variable in Keys each time it is
// asked, so a key exported after startup is still picked up.
type EnvCredential struct {
	Keys     []string
	Fallback string

	lookup func(string) string
}

var _ ports.CredentialSource = EnvCredential{}

func (c EnvCredential) Credential() string {
	lookup := c.lookup
	if lookup == nil {
		lookup = os.Getenv
	}
	for _, key := range c.Keys {
		if value := strings.TrimSpace(lookup(key)); value != "" {
			return value
		}
	}
	return strings.TrimSpace(c.Fallback)
}

// CredentialSource returns the credential source for the configured provider.
func (cfg Config) CredentialSource() EnvCredential {
	switch cfg.Provider {
	case ProviderDeepgram:
		return EnvCredential{
			Keys:     []string{"VOXPAD_DEEPGRAM_API_KEY", "DEEPGRAM_API_KEY"},
			Fallback: cfg.Deepgram.APIKey,
		}
	default:
		return EnvCredential{
			Keys:     []string{"VOXPAD_GEMINI_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY"},
			Fallback: cfg.Gemini.APIKey,
		}
	}
}
