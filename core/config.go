package core

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PromptConfig holds the template parts the prompt builder assembles image
// prompts from. The defaults mirror a celebratory card style; all parts are
// overridable via the YAML overlay.
type PromptConfig struct {
	// BasePicture describes the overall picture mood.
	BasePicture string `yaml:"base_picture"`

	// Style is the artistic style section, omitted when the user content
	// already names a style.
	Style string `yaml:"style"`

	// Subject is the recurring card subject description.
	Subject string `yaml:"subject"`

	// TemplateWithStyle is the prompt template including the style section.
	// Placeholders: {picture}, {style}, {subject}, {content}.
	TemplateWithStyle string `yaml:"template_with_style"`

	// TemplateNoStyle is the prompt template without the style section.
	// Placeholders: {picture}, {subject}, {content}.
	TemplateNoStyle string `yaml:"template_no_style"`
}

// DefaultPromptConfig returns the default prompt template parts.
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{
		BasePicture:       "cartoon image, fun, joyful, happy",
		Style:             "digital art, professional, masterpiece, best quality",
		Subject:           "festive greeting card scene",
		TemplateWithStyle: "<picture>{picture}</picture>, <style>{style}</style>, <subject>{subject}</subject>, <content>{content}</content>",
		TemplateNoStyle:   "<picture>{picture}</picture>, <subject>{subject}</subject>, <content>{content}</content>",
	}
}

// Config holds all configuration values for the backend. The pipeline
// components receive these values by injection and never read the
// environment or files themselves.
type Config struct {
	// Device lists per workload class, e.g. ["cuda:0", "cuda:1"] or ["cpu"].
	SpeechDevices []string
	ImageDevices  []string

	// Admission control.
	MaxQueueSize       int           // per-class pending queue bound
	RateLimitPerMinute int           // per-user token bucket capacity
	DefaultMaxWait     time.Duration // request deadline when caller gives none

	// Dispatch / retry policy.
	AttemptTimeout   time.Duration // per-attempt timeout against the backend
	MaxAttempts      int           // attempts before falling back
	RetryBackoffBase time.Duration // first backoff delay
	RetryBackoffMax  time.Duration // backoff cap

	// Expected attempt durations, surfaced as progress hints and used to
	// decide whether another attempt fits the remaining budget.
	ExpectedImageAttempt  time.Duration
	ExpectedSpeechAttempt time.Duration

	// Remote backend.
	OpenAIAPIKey    string
	ImageLLMURL     string // base URL override; empty uses the public API
	ImageModel      string
	TranscribeModel string

	// Output image dimensions.
	ImageWidth  int
	ImageHeight int

	// Fallback rendering seed. Negative draws a random seed per request.
	Seed int64

	// Prompt templates.
	Prompts PromptConfig

	// Outcome journal.
	JournalPath    string
	JournalMaxAge  time.Duration // rows older than this are pruned
	MigrationsPath string

	// Logging.
	LogFilePath string
}

// yamlOverlay is the shape of the optional YAML configuration file.
// Environment variables win over YAML; YAML wins over defaults for the
// structured values (device lists, prompt templates) that are awkward to
// express in env vars.
type yamlOverlay struct {
	Speech struct {
		Devices []string `yaml:"devices"`
	} `yaml:"speech"`
	Image struct {
		Devices []string `yaml:"devices"`
		Width   int      `yaml:"width"`
		Height  int      `yaml:"height"`
	} `yaml:"image"`
	Prompts *PromptConfig `yaml:"prompts"`
}

// LoadConfig builds the configuration from defaults, the optional YAML
// overlay named by CARDGEN_CONFIG, and environment variables, in that order
// of increasing precedence.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		SpeechDevices:         []string{"cpu"},
		ImageDevices:          []string{"cpu"},
		MaxQueueSize:          10,
		RateLimitPerMinute:    10,
		DefaultMaxWait:        5 * time.Minute,
		AttemptTimeout:        120 * time.Second,
		MaxAttempts:           3,
		RetryBackoffBase:      2 * time.Second,
		RetryBackoffMax:       60 * time.Second,
		ExpectedImageAttempt:  30 * time.Second,
		ExpectedSpeechAttempt: 10 * time.Second,
		ImageModel:            "dall-e-3",
		TranscribeModel:       "whisper-1",
		ImageWidth:            1024,
		ImageHeight:           1024,
		Seed:                  -1,
		Prompts:               DefaultPromptConfig(),
		JournalPath:           "data/journal.sqlite",
		JournalMaxAge:         24 * time.Hour,
		MigrationsPath:        "file://journal/migrations",
		LogFilePath:           "app.log",
	}

	if path := os.Getenv("CARDGEN_CONFIG"); path != "" {
		if err := cfg.applyYAML(path); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}

	cfg.SpeechDevices = ParseListEnv("SPEECH_DEVICES", cfg.SpeechDevices)
	cfg.ImageDevices = ParseListEnv("IMAGE_DEVICES", cfg.ImageDevices)
	cfg.MaxQueueSize = ParseIntEnv("MAX_QUEUE_SIZE", cfg.MaxQueueSize)
	cfg.RateLimitPerMinute = ParseIntEnv("RATE_LIMIT_PER_MINUTE", cfg.RateLimitPerMinute)
	cfg.DefaultMaxWait = ParseDurationEnv("DEFAULT_MAX_WAIT_SECONDS", int(cfg.DefaultMaxWait.Seconds()))
	cfg.AttemptTimeout = ParseDurationEnv("ATTEMPT_TIMEOUT_SECONDS", int(cfg.AttemptTimeout.Seconds()))
	cfg.MaxAttempts = ParseIntEnv("MAX_ATTEMPTS", cfg.MaxAttempts)
	cfg.RetryBackoffBase = ParseDurationEnv("RETRY_BACKOFF_BASE_SECONDS", int(cfg.RetryBackoffBase.Seconds()))
	cfg.RetryBackoffMax = ParseDurationEnv("RETRY_BACKOFF_MAX_SECONDS", int(cfg.RetryBackoffMax.Seconds()))
	cfg.ExpectedImageAttempt = ParseDurationEnv("EXPECTED_IMAGE_ATTEMPT_SECONDS", int(cfg.ExpectedImageAttempt.Seconds()))
	cfg.ExpectedSpeechAttempt = ParseDurationEnv("EXPECTED_SPEECH_ATTEMPT_SECONDS", int(cfg.ExpectedSpeechAttempt.Seconds()))
	cfg.OpenAIAPIKey = GetEnvOrDefault("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.ImageLLMURL = GetEnvOrDefault("IMAGE_LLM_URL", cfg.ImageLLMURL)
	cfg.ImageModel = GetEnvOrDefault("IMAGE_MODEL", cfg.ImageModel)
	cfg.TranscribeModel = GetEnvOrDefault("TRANSCRIBE_MODEL", cfg.TranscribeModel)
	cfg.ImageWidth = ParseIntEnv("IMAGE_WIDTH", cfg.ImageWidth)
	cfg.ImageHeight = ParseIntEnv("IMAGE_HEIGHT", cfg.ImageHeight)
	cfg.Seed = ParseInt64Env("GENERATION_SEED", cfg.Seed)
	cfg.JournalPath = GetEnvOrDefault("JOURNAL_PATH", cfg.JournalPath)
	cfg.JournalMaxAge = ParseDurationEnv("JOURNAL_MAX_AGE_SECONDS", int(cfg.JournalMaxAge.Seconds()))
	cfg.MigrationsPath = GetEnvOrDefault("MIGRATIONS_PATH", cfg.MigrationsPath)
	cfg.LogFilePath = GetEnvOrDefault("LOG_FILE_PATH", cfg.LogFilePath)

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, fmt.Errorf("config: %v", errs[0])
	}
	return cfg, nil
}

// applyYAML overlays values from a YAML file onto the config.
func (c *Config) applyYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var overlay yamlOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if len(overlay.Speech.Devices) > 0 {
		c.SpeechDevices = overlay.Speech.Devices
	}
	if len(overlay.Image.Devices) > 0 {
		c.ImageDevices = overlay.Image.Devices
	}
	if overlay.Image.Width > 0 {
		c.ImageWidth = overlay.Image.Width
	}
	if overlay.Image.Height > 0 {
		c.ImageHeight = overlay.Image.Height
	}
	if overlay.Prompts != nil {
		defaults := DefaultPromptConfig()
		p := *overlay.Prompts
		if p.BasePicture == "" {
			p.BasePicture = defaults.BasePicture
		}
		if p.Style == "" {
			p.Style = defaults.Style
		}
		if p.Subject == "" {
			p.Subject = defaults.Subject
		}
		if p.TemplateWithStyle == "" {
			p.TemplateWithStyle = defaults.TemplateWithStyle
		}
		if p.TemplateNoStyle == "" {
			p.TemplateNoStyle = defaults.TemplateNoStyle
		}
		c.Prompts = p
	}
	return nil
}

// Validate checks the configuration for values the pipeline cannot run with.
// Returns one error per problem so startup output can list all of them.
func (c *Config) Validate() []error {
	var errs []error

	if len(c.SpeechDevices) == 0 {
		errs = append(errs, fmt.Errorf("at least one speech device is required"))
	}
	if len(c.ImageDevices) == 0 {
		errs = append(errs, fmt.Errorf("at least one image device is required"))
	}
	if c.MaxQueueSize <= 0 {
		errs = append(errs, fmt.Errorf("max queue size must be positive, got %d", c.MaxQueueSize))
	}
	if c.RateLimitPerMinute <= 0 {
		errs = append(errs, fmt.Errorf("rate limit must be positive, got %d", c.RateLimitPerMinute))
	}
	if c.AttemptTimeout <= 0 {
		errs = append(errs, fmt.Errorf("attempt timeout must be positive, got %s", c.AttemptTimeout))
	}
	if c.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts))
	}
	if c.RetryBackoffBase <= 0 || c.RetryBackoffMax < c.RetryBackoffBase {
		errs = append(errs, fmt.Errorf("backoff bounds invalid: base=%s max=%s", c.RetryBackoffBase, c.RetryBackoffMax))
	}
	if c.ImageWidth <= 0 || c.ImageHeight <= 0 {
		errs = append(errs, fmt.Errorf("image dimensions must be positive, got %dx%d", c.ImageWidth, c.ImageHeight))
	}
	return errs
}

// Devices returns the configured device list for a workload class.
func (c *Config) Devices(class WorkloadClass) []string {
	switch class {
	case WorkloadSpeech:
		return c.SpeechDevices
	case WorkloadImage:
		return c.ImageDevices
	default:
		return nil
	}
}

// ExpectedAttempt returns the expected duration of one backend attempt for a
// workload class, used for progress hints and budget checks.
func (c *Config) ExpectedAttempt(class WorkloadClass) time.Duration {
	if class == WorkloadSpeech {
		return c.ExpectedSpeechAttempt
	}
	return c.ExpectedImageAttempt
}
