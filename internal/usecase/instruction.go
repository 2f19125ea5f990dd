package usecase

import (
	"encoding/base64"
	"fmt"

	"voxpad/internal/domain"
	"voxpad/internal/ports"
)

// Low temperature and a bounded output keep the model transcribing instead of continuing.
const (
	transcriptionTemperature     float32 = 0.1
	transcriptionMaxOutputTokens int32   = 8192
)

// GenerationPolicy is the fixed generation config sent with every request.
func GenerationPolicy() ports.GenerationConfig {
	return ports.GenerationConfig{
		Temperature:     transcriptionTemperature,
		MaxOutputTokens: transcriptionMaxOutputTokens,
	}
}

// BuildInstruction renders the model instruction for a target language.
func BuildInstruction(lang domain.Language) (string, error) {
	name, ok := lang.Name()
	if !ok {
		return "", domain.Errorf(domain.ErrorCodeConfiguration, nil, "unsupported target language %q", string(lang))
	}
	return fmt.Sprintf(
		"Transcribe this audio in %s. "+
			"If more than one person is speaking, distinguish each speaker. "+
			"Respond with the transcription only, as plain text, with no preamble, notes or markup.",
		name,
	), nil
}

func encodeAudio(payload domain.AudioPayload) domain.EncodedAudio {
	return domain.EncodedAudio{
		MIMEType: payload.MIMEType(),
		Data:     base64.StdEncoding.EncodeToString(payload.Bytes()),
	}
}
