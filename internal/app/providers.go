package app

import (
	"fmt"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/jabber-ai/jabber/internal/config"
	"github.com/jabber-ai/jabber/internal/resilience"
	"github.com/jabber-ai/jabber/pkg/provider/llm"
	llmany "github.com/jabber-ai/jabber/pkg/provider/llm/anyllm"
	llmopenai "github.com/jabber-ai/jabber/pkg/provider/llm/openai"
	"github.com/jabber-ai/jabber/pkg/provider/stt"
	sttopenai "github.com/jabber-ai/jabber/pkg/provider/stt/openai"
	"github.com/jabber-ai/jabber/pkg/provider/stt/whisper"
	"github.com/jabber-ai/jabber/pkg/provider/tts"
	"github.com/jabber-ai/jabber/pkg/provider/tts/elevenlabs"
	ttsopenai "github.com/jabber-ai/jabber/pkg/provider/tts/openai"
)

// Providers holds one interface value per pipeline stage. Nil means the stage
// is not configured locally (e.g. when delegating to a remote speak endpoint).
// Populated by main via [DefaultRegistry].
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider
}

// DefaultRegistry returns a [config.Registry] with every built-in provider
// factory registered. main calls this once and resolves the configured
// entries through it.
func DefaultRegistry() *config.Registry {
	r := config.NewRegistry()

	// --- STT ---
	r.RegisterSTT("openai", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []sttopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, sttopenai.WithBaseURL(e.BaseURL))
		}
		if e.Model != "" {
			opts = append(opts, sttopenai.WithModel(e.Model))
		}
		return sttopenai.New(e.APIKey, opts...)
	})
	r.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		if e.BaseURL == "" {
			return nil, fmt.Errorf("app: stt/whisper requires base_url (whisper.cpp server address)")
		}
		var opts []whisper.Option
		if e.Model != "" {
			opts = append(opts, whisper.WithModel(e.Model))
		}
		if lang := e.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(e.BaseURL, opts...)
	})
	r.RegisterSTT("whisper-native", func(e config.ProviderEntry) (stt.Provider, error) {
		modelPath := e.StringOption("model_path", "")
		if modelPath == "" {
			return nil, fmt.Errorf("app: stt/whisper-native requires options.model_path (ggml model file)")
		}
		var opts []whisper.NativeOption
		if lang := e.StringOption("language", ""); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// --- LLM: the native OpenAI client, plus any-llm-go for the rest ---
	r.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []llmopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, llmopenai.WithBaseURL(e.BaseURL))
		}
		if org := e.StringOption("organization", ""); org != "" {
			opts = append(opts, llmopenai.WithOrganization(org))
		}
		return llmopenai.New(e.APIKey, e.Model, opts...)
	})
	llmBackends := []string{
		"anthropic", "gemini", "ollama", "deepseek",
		"mistral", "groq", "llamacpp", "llamafile",
	}
	for _, backend := range llmBackends {
		r.RegisterLLM(backend, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return llmany.New(backend, e.Model, opts...)
		})
	}

	// --- TTS ---
	r.RegisterTTS("openai", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []ttsopenai.Option
		if e.BaseURL != "" {
			opts = append(opts, ttsopenai.WithBaseURL(e.BaseURL))
		}
		if e.Model != "" {
			opts = append(opts, ttsopenai.WithModel(e.Model))
		}
		if voice := e.StringOption("voice", ""); voice != "" {
			opts = append(opts, ttsopenai.WithVoice(voice))
		}
		opts = append(opts, ttsopenai.WithTimeout(60*time.Second))
		return ttsopenai.New(e.APIKey, opts...)
	})
	r.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if voice := e.StringOption("voice_id", ""); voice != "" {
			opts = append(opts, elevenlabs.WithVoice(voice))
		}
		if format := e.StringOption("output_format", ""); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		return elevenlabs.New(e.APIKey, opts...)
	})

	return r
}

// ResolveProviders instantiates the providers named in cfg through the
// registry. Stages are skipped entirely when a remote endpoint handles
// processing. Entries with fallbacks are wrapped in a failover chain.
func ResolveProviders(cfg *config.Config, registry *config.Registry) (*Providers, error) {
	if cfg.Agent.RemoteURL != "" {
		return &Providers{}, nil
	}

	sttP, err := resolveSTT(cfg.Providers.STT, registry)
	if err != nil {
		return nil, fmt.Errorf("app: create stt provider: %w", err)
	}
	llmP, err := resolveLLM(cfg.Providers.LLM, registry)
	if err != nil {
		return nil, fmt.Errorf("app: create llm provider: %w", err)
	}
	ttsP, err := resolveTTS(cfg.Providers.TTS, registry)
	if err != nil {
		return nil, fmt.Errorf("app: create tts provider: %w", err)
	}

	return &Providers{STT: sttP, LLM: llmP, TTS: ttsP}, nil
}

func resolveSTT(entry config.ProviderEntry, registry *config.Registry) (stt.Provider, error) {
	primary, err := registry.CreateSTT(entry)
	if err != nil {
		return nil, err
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	chain := resilience.NewSTTChain(entry.Name, primary, resilience.BreakerConfig{})
	for _, fb := range entry.Fallbacks {
		p, err := registry.CreateSTT(fb)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", fb.Name, err)
		}
		chain.Add(fb.Name, p)
	}
	return chain, nil
}

func resolveLLM(entry config.ProviderEntry, registry *config.Registry) (llm.Provider, error) {
	primary, err := registry.CreateLLM(entry)
	if err != nil {
		return nil, err
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	chain := resilience.NewLLMChain(entry.Name, primary, resilience.BreakerConfig{})
	for _, fb := range entry.Fallbacks {
		p, err := registry.CreateLLM(fb)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", fb.Name, err)
		}
		chain.Add(fb.Name, p)
	}
	return chain, nil
}

func resolveTTS(entry config.ProviderEntry, registry *config.Registry) (tts.Provider, error) {
	primary, err := registry.CreateTTS(entry)
	if err != nil {
		return nil, err
	}
	if len(entry.Fallbacks) == 0 {
		return primary, nil
	}
	chain := resilience.NewTTSChain(entry.Name, primary, resilience.BreakerConfig{})
	for _, fb := range entry.Fallbacks {
		p, err := registry.CreateTTS(fb)
		if err != nil {
			return nil, fmt.Errorf("fallback %q: %w", fb.Name, err)
		}
		chain.Add(fb.Name, p)
	}
	return chain, nil
}
