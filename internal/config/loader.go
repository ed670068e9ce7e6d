package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"openai", "whisper", "whisper-native"},
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"tts": {"openai", "elevenlabs"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" {
			errs = append(errs, errors.New("server.tls.cert_file is required when tls is set"))
		}
		if cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls.key_file is required when tls is set"))
		}
	}

	// Warn for unknown provider names, including fallback entries.
	for kind, entry := range map[string]ProviderEntry{
		"stt": cfg.Providers.STT,
		"llm": cfg.Providers.LLM,
		"tts": cfg.Providers.TTS,
	} {
		validateProviderName(kind, entry.Name)
		for i, fb := range entry.Fallbacks {
			if fb.Name == "" {
				errs = append(errs, fmt.Errorf("providers.%s.fallbacks[%d].name is required", kind, i))
				continue
			}
			validateProviderName(kind, fb.Name)
		}
	}

	// With a remote endpoint the local providers are unused; without one all
	// three stages must be configured.
	if cfg.Agent.RemoteURL == "" {
		if cfg.Providers.STT.Name == "" {
			errs = append(errs, errors.New("providers.stt is required unless agent.remote_url is set"))
		}
		if cfg.Providers.LLM.Name == "" {
			errs = append(errs, errors.New("providers.llm is required unless agent.remote_url is set"))
		}
		if cfg.Providers.TTS.Name == "" {
			errs = append(errs, errors.New("providers.tts is required unless agent.remote_url is set"))
		}
	} else if cfg.Providers.STT.Name != "" || cfg.Providers.LLM.Name != "" || cfg.Providers.TTS.Name != "" {
		slog.Warn("agent.remote_url is set; configured local providers will not be used")
	}

	// Listen windows
	if cfg.Listen.ThresholdDB > 0 {
		errs = append(errs, fmt.Errorf("listen.threshold_db %.1f must be negative (dB relative to full scale)", cfg.Listen.ThresholdDB))
	}
	if cfg.Listen.QuietPeriodMS < 0 {
		errs = append(errs, fmt.Errorf("listen.quiet_period_ms %d must not be negative", cfg.Listen.QuietPeriodMS))
	}
	if cfg.Listen.MinSpeechMS < 0 {
		errs = append(errs, fmt.Errorf("listen.min_speech_ms %d must not be negative", cfg.Listen.MinSpeechMS))
	}
	if cfg.Listen.FrameIntervalMS < 0 {
		errs = append(errs, fmt.Errorf("listen.frame_interval_ms %d must not be negative", cfg.Listen.FrameIntervalMS))
	}
	if cfg.Listen.QuietPeriodMS > 0 && cfg.Listen.FrameIntervalMS > 0 &&
		cfg.Listen.QuietPeriodMS < cfg.Listen.FrameIntervalMS {
		errs = append(errs, fmt.Errorf("listen.quiet_period_ms %d is shorter than one frame (%d ms)",
			cfg.Listen.QuietPeriodMS, cfg.Listen.FrameIntervalMS))
	}
	if cfg.Listen.InputSampleRate < 0 {
		errs = append(errs, fmt.Errorf("listen.input_sample_rate %d must not be negative", cfg.Listen.InputSampleRate))
	}
	if c := cfg.Listen.InputChannels; c < 0 || c > 2 {
		errs = append(errs, fmt.Errorf("listen.input_channels %d must be 1 (mono) or 2 (stereo)", c))
	}

	// Storage
	if cfg.Storage.RetentionMinutes < 0 {
		errs = append(errs, fmt.Errorf("storage.retention_minutes %d must not be negative", cfg.Storage.RetentionMinutes))
	}
	if cfg.Storage.PostgresDSN == "" {
		slog.Debug("storage.postgres_dsn is empty; reply clips will be held in memory only")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
