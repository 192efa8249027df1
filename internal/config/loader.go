package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "whisper", "deepgram"},
	"tts": {"openai", "elevenlabs", "coqui"},
}

// LoadEnv loads KEY=VALUE files into the process environment without
// overriding variables that are already set. With no arguments it loads
// ".env" from the working directory. Missing files are skipped.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("config: load env %q: %w", p, err)
		}
		slog.Debug("loaded environment file", "path", p)
	}
	return nil
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r, expands ${VAR} references from
// the environment, applies defaults and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded, missing := expandEnv(string(raw))
	for _, name := range missing {
		slog.Warn("config references an unset environment variable", "name", name)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	cfg.ApplyDefaults()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// expandEnv replaces ${VAR} references with their environment values. A bare
// $ not followed by { is kept, so passwords and URLs survive untouched. It
// returns the names of referenced variables that are unset.
func expandEnv(s string) (string, []string) {
	var (
		b       strings.Builder
		missing []string
	)
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			break
		}
		end := strings.IndexByte(s[start:], '}')
		if end < 0 {
			break
		}
		name := s[start+2 : start+end]
		b.WriteString(s[:start])
		v, ok := os.LookupEnv(name)
		if !ok && !slices.Contains(missing, name) {
			missing = append(missing, name)
		}
		b.WriteString(v)
		s = s[start+end+1:]
	}
	b.WriteString(s)
	return b.String(), missing
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Providers
	if cfg.Providers.STT.Name == "" {
		errs = append(errs, errors.New("providers.stt is required; the session cannot recognize speech without it"))
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; every turn will use the built-in feedback")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; prompts will be text-only")
	}
	errs = append(errs, validateGroup("stt", cfg.Providers.STT)...)
	errs = append(errs, validateGroup("llm", cfg.Providers.LLM)...)
	errs = append(errs, validateGroup("tts", cfg.Providers.TTS)...)

	// Session
	s := cfg.Session
	for _, d := range []struct {
		name  string
		value int64
	}{
		{"capture_timeout", int64(s.CaptureTimeout)},
		{"stt_timeout", int64(s.STTTimeout)},
		{"llm_timeout", int64(s.LLMTimeout)},
		{"tts_timeout", int64(s.TTSTimeout)},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("session.%s must not be negative", d.name))
		}
	}
	if sf := s.Voice.SpeedFactor; sf != 0 && (sf < 0.5 || sf > 2.0) {
		errs = append(errs, fmt.Errorf("session.voice.speed_factor %.2f is out of range [0.5, 2.0]", sf))
	}

	// Roleplay
	if lvl := cfg.Roleplay.DefaultLevel; lvl != "" && !isCEFRLevel(lvl) {
		errs = append(errs, fmt.Errorf("roleplay.default_level %q is invalid; valid values: A1, A2, B1, B2, C1, C2", lvl))
	}
	if cfg.Roleplay.MaxExchanges < 0 {
		errs = append(errs, errors.New("roleplay.max_exchanges must not be negative"))
	}

	// Quests
	if cfg.Quests.DisableBuiltin && cfg.Quests.Dir == "" {
		errs = append(errs, errors.New("quests.dir is required when quests.disable_builtin is set"))
	}

	return errors.Join(errs...)
}

func validateGroup(kind string, g ProviderGroup) []error {
	var errs []error
	if g.Name == "" && len(g.Fallbacks) > 0 {
		errs = append(errs, fmt.Errorf("providers.%s.fallbacks requires a primary providers.%s.name", kind, kind))
	}
	seen := map[string]bool{}
	for i, e := range g.Entries() {
		prefix := fmt.Sprintf("providers.%s", kind)
		if i > 0 {
			prefix = fmt.Sprintf("providers.%s.fallbacks[%d]", kind, i-1)
		}
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		key := e.Name + "/" + e.Model + "/" + e.BaseURL
		if seen[key] {
			errs = append(errs, fmt.Errorf("%s duplicates an earlier entry (%s)", prefix, e.Name))
		}
		seen[key] = true
		validateProviderName(kind, e.Name)
	}
	if g.Breaker.MaxFailures < 0 || g.Breaker.ResetTimeout < 0 || g.Breaker.HalfOpenMax < 0 {
		errs = append(errs, fmt.Errorf("providers.%s.breaker values must not be negative", kind))
	}
	return errs
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
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}

func isCEFRLevel(s string) bool {
	switch strings.ToUpper(s) {
	case "A1", "A2", "B1", "B2", "C1", "C2":
		return true
	}
	return false
}
