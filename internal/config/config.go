// Package config provides the configuration schema, loader, and provider registry
// for the pingquest server.
package config

import "time"

// LogLevel controls log verbosity for the pingquest server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Defaults applied by [Config.ApplyDefaults].
const (
	DefaultListenAddr     = ":8080"
	DefaultCaptureTimeout = 5 * time.Second
	DefaultSTTTimeout     = 15 * time.Second
	DefaultLLMTimeout     = 10 * time.Second
	DefaultTTSTimeout     = 10 * time.Second
	DefaultRetryHint      = "Almost. Try again!"

	DefaultRoleplayScene        = "menu"
	DefaultRoleplayLevel        = "A2"
	DefaultRoleplayMaxExchanges = 10
)

// Config is the root configuration structure for pingquest.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Session   SessionConfig   `yaml:"session"`
	Roleplay  RoleplayConfig  `yaml:"roleplay"`
	Quests    QuestsConfig    `yaml:"quests"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	// CertFile is the path to the PEM-encoded TLS certificate.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded TLS private key.
	KeyFile string `yaml:"key_file"`
}

// ProvidersConfig declares which provider implementation to use for each
// collaborator. Each entry selects a named provider registered in the
// [Registry]; fallbacks are tried in order when the primary fails.
type ProvidersConfig struct {
	STT ProviderGroup `yaml:"stt"`
	LLM ProviderGroup `yaml:"llm"`
	TTS ProviderGroup `yaml:"tts"`
}

// ProviderGroup is a primary provider plus optional fallbacks.
type ProviderGroup struct {
	ProviderEntry `yaml:",inline"`

	// Fallbacks are tried in order after the primary.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Breaker tunes the circuit breaker of every entry in the group.
	Breaker BreakerConfig `yaml:"breaker"`
}

// Entries returns the primary followed by the fallbacks. An unconfigured
// group yields nil.
func (g ProviderGroup) Entries() []ProviderEntry {
	if g.Name == "" {
		return nil
	}
	return append([]ProviderEntry{g.ProviderEntry}, g.Fallbacks...)
}

// BreakerConfig mirrors the tunable circuit breaker fields. Zero values select
// the breaker's defaults.
type BreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// ProviderEntry is the common configuration block shared by all provider types.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider (e.g., "gpt-4o-mini", "whisper-1").
	Model string `yaml:"model"`

	// Options holds provider-specific configuration values not covered by the
	// standard fields above. Values may be strings, numbers, booleans, or nested maps.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] as a string, or def when absent or not a
// string.
func (e ProviderEntry) OptionString(key, def string) string {
	if v, ok := e.Options[key].(string); ok && v != "" {
		return v
	}
	return def
}

// OptionFloat returns Options[key] as a float64, or def when absent or not a
// number.
func (e ProviderEntry) OptionFloat(key string, def float64) float64 {
	switch v := e.Options[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// SessionConfig tunes the turn orchestrator.
type SessionConfig struct {
	// CaptureTimeout force-stops a recording that has not arrived.
	CaptureTimeout time.Duration `yaml:"capture_timeout"`

	// STTTimeout, LLMTimeout and TTSTimeout bound each collaborator call.
	STTTimeout time.Duration `yaml:"stt_timeout"`
	LLMTimeout time.Duration `yaml:"llm_timeout"`
	TTSTimeout time.Duration `yaml:"tts_timeout"`

	// RetryHint is spoken after a miss when the model gives no usable feedback.
	RetryHint string `yaml:"retry_hint"`

	// FeedbackLanguage is the language of the written feedback.
	FeedbackLanguage string `yaml:"feedback_language"`

	// Voice is the synthesizer voice.
	Voice VoiceConfig `yaml:"voice"`

	// DefaultLevel is played when a session is started without a level.
	DefaultLevel string `yaml:"default_level"`
}

// VoiceConfig specifies the TTS voice parameters.
type VoiceConfig struct {
	// VoiceID is the provider-specific voice identifier.
	VoiceID string `yaml:"voice_id"`

	// Name is a display label.
	Name string `yaml:"name"`

	// SpeedFactor adjusts speaking rate in the range [0.5, 2.0]. 0 means default.
	SpeedFactor float64 `yaml:"speed_factor"`
}

// RoleplayConfig tunes scripted role-play conversations.
type RoleplayConfig struct {
	// DefaultScene is used when a role-play is started without a scene.
	DefaultScene string `yaml:"default_scene"`

	// DefaultLevel is the CEFR level (A1..C2) assumed when none is given.
	DefaultLevel string `yaml:"default_level"`

	// TipsLanguage is the language of the evaluation tips.
	TipsLanguage string `yaml:"tips_language"`

	// MaxExchanges ends a conversation after this many learner answers.
	MaxExchanges int `yaml:"max_exchanges"`
}

// QuestsConfig locates level files.
type QuestsConfig struct {
	// Dir holds .yaml, .yml and .hcl level files. Empty means built-in levels
	// only.
	Dir string `yaml:"dir"`

	// DisableBuiltin drops the built-in level.
	DisableBuiltin bool `yaml:"disable_builtin"`
}

// ApplyDefaults fills unset fields with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = DefaultListenAddr
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = LogInfo
	}
	s := &c.Session
	if s.CaptureTimeout == 0 {
		s.CaptureTimeout = DefaultCaptureTimeout
	}
	if s.STTTimeout == 0 {
		s.STTTimeout = DefaultSTTTimeout
	}
	if s.LLMTimeout == 0 {
		s.LLMTimeout = DefaultLLMTimeout
	}
	if s.TTSTimeout == 0 {
		s.TTSTimeout = DefaultTTSTimeout
	}
	if s.RetryHint == "" {
		s.RetryHint = DefaultRetryHint
	}
	if s.FeedbackLanguage == "" {
		s.FeedbackLanguage = "English"
	}
	r := &c.Roleplay
	if r.DefaultScene == "" {
		r.DefaultScene = DefaultRoleplayScene
	}
	if r.DefaultLevel == "" {
		r.DefaultLevel = DefaultRoleplayLevel
	}
	if r.TipsLanguage == "" {
		r.TipsLanguage = s.FeedbackLanguage
	}
	if r.MaxExchanges == 0 {
		r.MaxExchanges = DefaultRoleplayMaxExchanges
	}
}
