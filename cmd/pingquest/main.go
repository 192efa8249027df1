// Command pingquest is the main entry point for the pingquest speaking-practice
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/pingquest/internal/app"
	"github.com/MrWong99/pingquest/internal/config"
	"github.com/MrWong99/pingquest/internal/health"
	"github.com/MrWong99/pingquest/internal/observe"
	"github.com/MrWong99/pingquest/internal/quest"
	"github.com/MrWong99/pingquest/pkg/provider/llm"
	"github.com/MrWong99/pingquest/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/pingquest/pkg/provider/llm/openai"
	"github.com/MrWong99/pingquest/pkg/provider/stt"
	"github.com/MrWong99/pingquest/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/pingquest/pkg/provider/stt/openai"
	"github.com/MrWong99/pingquest/pkg/provider/stt/whisper"
	"github.com/MrWong99/pingquest/pkg/provider/tts"
	"github.com/MrWong99/pingquest/pkg/provider/tts/coqui"
	"github.com/MrWong99/pingquest/pkg/provider/tts/elevenlabs"
	oatts "github.com/MrWong99/pingquest/pkg/provider/tts/openai"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envPath := flag.String("env", ".env", "optional KEY=VALUE file loaded before the config")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("pingquest", version)
		return 0
	}

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "pingquest: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "pingquest: config file %q not found; copy config.example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "pingquest: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("pingquest starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Levels ────────────────────────────────────────────────────────────────
	levels, err := loadLevels(cfg.Quests)
	if err != nil {
		slog.Error("failed to load levels", "err", err)
		return 1
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, checkers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, levels)

	application, err := app.New(cfg, levels, providers,
		app.WithMetricsHandler(promhttp.Handler()),
		app.WithHealthCheckers(checkers...),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	// Run shuts the application down itself once ctx is cancelled.
	if err := application.Run(ctx); err != nil {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Levels ────────────────────────────────────────────────────────────────────

func loadLevels(qc config.QuestsConfig) (*quest.Store, error) {
	var levels []quest.Level
	if !qc.DisableBuiltin {
		lvl, err := quest.Builtin()
		if err != nil {
			return nil, err
		}
		levels = append(levels, lvl)
	}
	if qc.Dir != "" {
		loaded, err := quest.LoadDir(qc.Dir)
		if err != nil {
			return nil, err
		}
		slog.Info("loaded level files", "dir", qc.Dir, "count", len(loaded))
		levels = append(levels, loaded...)
	}
	return quest.NewStore(levels...)
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// anyLLMVendors are served through any-llm-go. They share the same pattern:
// optional APIKey + optional BaseURL.
var anyLLMVendors = []string{
	"anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
}

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.OptionString("organization", ""); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range anyLLMVendors {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []oastt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if prompt := entry.OptionString("prompt", ""); prompt != "" {
			opts = append(opts, oastt.WithPrompt(prompt))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		if rate := entry.OptionFloat("sample_rate", 0); rate > 0 {
			opts = append(opts, whisper.WithSampleRate(int(rate)))
		}
		if rms := entry.OptionFloat("silence_threshold", 0); rms > 0 {
			opts = append(opts, whisper.WithSilenceThreshold(rms))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Transcriber, error) {
		var opts []deepgram.Option
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if kw := entry.OptionString("keywords", ""); kw != "" {
			opts = append(opts, deepgram.WithKeywords(strings.Split(kw, ",")...))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	// ── TTS ───────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		if outputFmt := entry.OptionString("output_format", ""); outputFmt != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(outputFmt))
		}
		if voice := entry.OptionString("voice", ""); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		return elevenlabs.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []oatts.Option
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if voice := entry.OptionString("voice", ""); voice != "" {
			opts = append(opts, oatts.WithDefaultVoice(voice))
		}
		if format := entry.OptionString("format", ""); format != "" {
			opts = append(opts, oatts.WithFormat(format))
		}
		return oatts.New(entry.APIKey, opts...)
	})

	reg.RegisterTTS("coqui", func(entry config.ProviderEntry) (tts.Synthesizer, error) {
		var opts []coqui.Option
		if lang := entry.OptionString("language", ""); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if mode := entry.OptionString("api_mode", ""); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		if voice := entry.OptionString("voice", ""); voice != "" {
			opts = append(opts, coqui.WithDefaultVoice(voice))
		}
		return coqui.New(entry.BaseURL, opts...)
	})

	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates every configured provider group and returns
// them together with one readiness check per group.
func buildProviders(cfg *config.Config, reg *config.Registry) (app.Providers, []health.Checker, error) {
	var (
		ps       app.Providers
		checkers []health.Checker
	)

	sttGroup, err := reg.STTGroup(cfg.Providers.STT)
	if err != nil {
		return ps, nil, err
	}
	if sttGroup == nil {
		return ps, nil, errors.New("providers.stt is not configured")
	}
	ps.STT = sttGroup
	checkers = append(checkers, health.Provider("stt", sttGroup))
	logGroup("stt", cfg.Providers.STT)

	llmGroup, err := reg.LLMGroup(cfg.Providers.LLM)
	if err != nil {
		return ps, nil, err
	}
	if llmGroup != nil {
		ps.LLM = llmGroup
		checkers = append(checkers, health.Provider("llm", llmGroup))
		logGroup("llm", cfg.Providers.LLM)
	}

	ttsGroup, err := reg.TTSGroup(cfg.Providers.TTS)
	if err != nil {
		return ps, nil, err
	}
	if ttsGroup != nil {
		ps.TTS = ttsGroup
		checkers = append(checkers, health.Provider("tts", ttsGroup))
		logGroup("tts", cfg.Providers.TTS)
	}

	return ps, checkers, nil
}

func logGroup(kind string, g config.ProviderGroup) {
	for i, e := range g.Entries() {
		slog.Info("provider created", "kind", kind, "name", e.Name, "model", e.Model, "fallback", i > 0)
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, levels *quest.Store) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        pingquest startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT)
	printProvider("LLM", cfg.Providers.LLM)
	printProvider("TTS", cfg.Providers.TTS)
	fmt.Printf("║  Levels loaded   : %-19d ║\n", levels.Len())
	if def := cfg.Session.DefaultLevel; def != "" {
		fmt.Printf("║  Default level   : %-19s ║\n", truncate(def))
	}
	fmt.Printf("║  Listen addr     : %-19s ║\n", truncate(cfg.Server.ListenAddr))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind string, g config.ProviderGroup) {
	value := g.Name
	switch {
	case value == "":
		value = "(not configured)"
	case g.Model != "":
		value = g.Name + " / " + g.Model
	}
	if n := len(g.Fallbacks); n > 0 {
		value += fmt.Sprintf(" +%d", n)
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, truncate(value))
}

func truncate(s string) string {
	if len(s) > 19 {
		return s[:16] + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
