package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"voxpad/internal/domain"
	"voxpad/internal/ports"
)

const (
	ProviderGemini   = "gemini"
	ProviderDeepgram = "deepgram"
)

// Config stores runtime configuration.
type Config struct {
	Provider   string           `mapstructure:"provider" validate:"oneof=gemini deepgram"`
	Language   string           `mapstructure:"language" validate:"oneof=es en fr"`
	Gemini     GeminiConfig     `mapstructure:"gemini"`
	Deepgram   DeepgramConfig   `mapstructure:"deepgram"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Transcript TranscriptConfig `mapstructure:"transcript"`
	Log        LogConfig        `mapstructure:"log"`
}

type GeminiConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	APIBaseURL string        `mapstructure:"api_base_url" validate:"required,url"`
	Model      string        `mapstructure:"model" validate:"required"`
	Timeout    time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

type DeepgramConfig struct {
	APIKey      string `mapstructure:"api_key"`
	APIBaseURL  string `mapstructure:"api_base_url" validate:"required,url"`
	Model       string `mapstructure:"model" validate:"required"`
	SmartFormat bool   `mapstructure:"smart_format"`
}

type AudioConfig struct {
	RecorderCommand string        `mapstructure:"command" validate:"required"`
	InputFormat     string        `mapstructure:"input_format" validate:"required"`
	InputDevice     string        `mapstructure:"input_device" validate:"required"`
	SampleRate      int           `mapstructure:"sample_rate" validate:"gt=0"`
	Channels        int           `mapstructure:"channels" validate:"min=1,max=2"`
	Formats         []string      `mapstructure:"formats" validate:"min=1,dive,oneof=webm ogg wav"`
	StartupGrace    time.Duration `mapstructure:"startup_grace" validate:"gte=0"`
	StopTimeout     time.Duration `mapstructure:"stop_timeout" validate:"gte=0"`
}

type TranscriptConfig struct {
	Dir       string `mapstructure:"dir" validate:"required"`
	Separator string `mapstructure:"separator"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=trace debug info warn error disabled"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

// Port converts the audio section into the capture port's shape.
func (a AudioConfig) Port() ports.AudioConfig {
	return ports.AudioConfig{
		SampleRate:  a.SampleRate,
		Channels:    a.Channels,
		InputFormat: a.InputFormat,
		InputDevice: a.InputDevice,
	}
}

// LoadOption customizes Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	configFile string
	envFile    string
	configDirs []string
}

// WithConfigFile reads configuration from path; a missing file is an error.
func WithConfigFile(path string) LoadOption {
	return func(o *loadOptions) { o.configFile = path }
}

// WithEnvFile loads a dotenv file before reading the environment.
func WithEnvFile(path string) LoadOption {
	return func(o *loadOptions) { o.envFile = path }
}

// WithConfigDirs replaces the directories searched for voxpad.yaml.
func WithConfigDirs(dirs ...string) LoadOption {
	return func(o *loadOptions) { o.configDirs = dirs }
}

// Load resolves configuration from defaults, an optional voxpad.yaml, .env
// and the environment, in increasing order of precedence.
func Load(opts ...LoadOption) (Config, error) {
	o := loadOptions{envFile: ".env", configDirs: defaultConfigDirs()}
	for _, opt := range opts {
		opt(&o)
	}

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, domain.NewError(domain.ErrorCodeConfiguration, "failed to load "+o.envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	if o.configFile != "" {
		v.SetConfigFile(o.configFile)
	} else {
		v.SetConfigName("voxpad")
		v.SetConfigType("yaml")
		for _, dir := range o.configDirs {
			v.AddConfigPath(dir)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if o.configFile != "" || !errors.As(err, &notFound) {
			return Config{}, domain.NewError(domain.ErrorCodeConfiguration, "failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, domain.NewError(domain.ErrorCodeConfiguration, "failed to decode configuration", err)
	}
	normalize(&cfg)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", ProviderGemini)
	v.SetDefault("language", string(domain.LanguageSpanish))

	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.api_base_url", "https://generativelanguage.googleapis.com")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("gemini.timeout", 2*time.Minute)

	v.SetDefault("deepgram.api_key", "")
	v.SetDefault("deepgram.api_base_url", "https://api.deepgram.com/v1")
	v.SetDefault("deepgram.model", "nova-2")
	v.SetDefault("deepgram.smart_format", true)

	v.SetDefault("audio.command", "ffmpeg")
	v.SetDefault("audio.input_format", "pulse")
	v.SetDefault("audio.input_device", "default")
	v.SetDefault("audio.sample_rate", 16000)
	v.SetDefault("audio.channels", 1)
	v.SetDefault("audio.formats", []string{"webm", "ogg", "wav"})
	v.SetDefault("audio.startup_grace", 250*time.Millisecond)
	v.SetDefault("audio.stop_timeout", 1200*time.Millisecond)

	v.SetDefault("transcript.dir", defaultDataDir())
	v.SetDefault("transcript.separator", "\n\n")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
}

// bindEnv maps VOXPAD_SECTION_KEY onto section.key and keeps the vendor
// variable names working for the settings they already cover.
func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix("VOXPAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	aliases := map[string]string{
		"gemini.model":          "GEMINI_MODEL",
		"gemini.api_base_url":   "GEMINI_API_BASE",
		"deepgram.api_base_url": "DEEPGRAM_API_BASE",
		"deepgram.model":        "DEEPGRAM_MODEL",
		"deepgram.smart_format": "DEEPGRAM_SMART_FORMAT",
		"audio.input_device":    "DEEPGRAM_PULSE_SOURCE",
	}
	for key, alias := range aliases {
		_ = v.BindEnv(key, "VOXPAD_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), alias)
	}
}

func normalize(cfg *Config) {
	cfg.Provider = strings.ToLower(strings.TrimSpace(cfg.Provider))
	cfg.Language = strings.ToLower(strings.TrimSpace(cfg.Language))
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	cfg.Log.Format = strings.ToLower(strings.TrimSpace(cfg.Log.Format))
	cfg.Gemini.APIKey = strings.TrimSpace(cfg.Gemini.APIKey)
	cfg.Deepgram.APIKey = strings.TrimSpace(cfg.Deepgram.APIKey)

	formats := cfg.Audio.Formats[:0]
	for _, name := range cfg.Audio.Formats {
		if name = strings.ToLower(strings.TrimSpace(name)); name != "" {
			formats = append(formats, name)
		}
	}
	cfg.Audio.Formats = formats
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every invalid field as one ConfigurationError.
func Validate(cfg Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return domain.NewError(domain.ErrorCodeConfiguration, "invalid configuration", err)
	}

	messages := make([]string, 0, len(fieldErrors))
	for _, fe := range fieldErrors {
		messages = append(messages, fieldName(fe)+": "+describe(fe))
	}
	return domain.NewError(domain.ErrorCodeConfiguration, "invalid configuration: "+strings.Join(messages, "; "), err)
}

func fieldName(fe validator.FieldError) string {
	namespace := fe.Namespace()
	if idx := strings.IndexByte(namespace, '.'); idx >= 0 {
		namespace = namespace[idx+1:]
	}
	return strings.ToLower(namespace)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must not be negative"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}

func defaultConfigDirs() []string {
	dirs := []string{"."}
	if dir, err := os.UserConfigDir(); err == nil {
		dirs = append([]string{filepath.Join(dir, "voxpad")}, dirs...)
	}
	return dirs
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "voxpad")
	}
	return ".voxpad"
}
