// Package app wires all pingquest subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the session manager and
// the HTTP surface, Run serves until its context is cancelled, and Shutdown
// ends the active session and drains in-flight requests.
//
// Providers come in already built (and wrapped in fallback groups) from
// main.go, so tests construct an App directly from mocks.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pingquest/internal/config"
	"github.com/MrWong99/pingquest/internal/curriculum"
	"github.com/MrWong99/pingquest/internal/feedback"
	"github.com/MrWong99/pingquest/internal/health"
	"github.com/MrWong99/pingquest/internal/observe"
	"github.com/MrWong99/pingquest/internal/quest"
	"github.com/MrWong99/pingquest/internal/roleplay"
	"github.com/MrWong99/pingquest/internal/turn"
	"github.com/MrWong99/pingquest/pkg/provider/llm"
	"github.com/MrWong99/pingquest/pkg/provider/stt"
	"github.com/MrWong99/pingquest/pkg/provider/tts"
	"github.com/MrWong99/pingquest/pkg/types"
)

// shutdownTimeout bounds the graceful HTTP drain started by Run.
const shutdownTimeout = 10 * time.Second

// Providers holds one interface value per collaborator. STT is required;
// nil LLM means built-in feedback and nil TTS means text-only prompts.
// Populated by main.go via the config registry.
type Providers struct {
	STT stt.Transcriber
	LLM llm.Provider
	TTS tts.Synthesizer
}

// App owns all subsystem lifetimes and serves the pingquest HTTP API.
type App struct {
	cfg      *config.Config
	levels    *quest.Store
	sessions  *SessionManager
	roleplays *RoleplayManager
	planner   *curriculum.Planner
	health    *health.Handler
	metrics  *observe.Metrics

	checkers       []health.Checker
	metricsHandler http.Handler
	listener       net.Listener

	handler http.Handler
	server  *http.Server

	// done is closed by Shutdown; it ends hijacked WebSocket connections,
	// which http.Server.Shutdown does not track.
	done     chan struct{}
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics instance. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithMetricsHandler serves h on GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(a *App) { a.metricsHandler = h }
}

// WithHealthCheckers adds readiness checks next to the built-in level check.
func WithHealthCheckers(checkers ...health.Checker) Option {
	return func(a *App) { a.checkers = append(a.checkers, checkers...) }
}

// WithListener makes Run serve on l instead of listening on
// cfg.Server.ListenAddr.
func WithListener(l net.Listener) Option {
	return func(a *App) { a.listener = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App. cfg must already be validated; levels must hold at
// least one level.
func New(cfg *config.Config, levels *quest.Store, providers Providers, opts ...Option) (*App, error) {
	if providers.STT == nil {
		return nil, errors.New("app: an STT provider is required")
	}
	if levels == nil || levels.Len() == 0 {
		return nil, errors.New("app: no levels loaded")
	}
	a := &App{
		cfg:    cfg,
		levels: levels,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if def := cfg.Session.DefaultLevel; def != "" {
		if _, err := levels.Level(def); err != nil {
			return nil, fmt.Errorf("app: session.default_level: %w", err)
		}
	}

	a.sessions = NewSessionManager(SessionManagerConfig{
		Levels:       levels,
		Transcriber:  providers.STT,
		DefaultLevel: cfg.Session.DefaultLevel,
		TurnOptions:  a.turnOptions(providers),
		Metrics:      a.metrics,
	})

	if err := a.initRoleplay(providers); err != nil {
		return nil, err
	}
	a.planner = curriculum.NewPlanner(providers.LLM,
		curriculum.WithLanguage(cfg.Session.FeedbackLanguage),
		curriculum.WithTimeout(2*cfg.Session.LLMTimeout),
	)

	a.health = health.New(append([]health.Checker{health.Levels(levels.Len)}, a.checkers...)...)
	a.handler = observe.Middleware(a.metrics)(a.routes())
	return a, nil
}

// turnOptions translates the session config into orchestrator options.
func (a *App) turnOptions(p Providers) []turn.Option {
	s := a.cfg.Session
	opts := []turn.Option{
		turn.WithCaptureTimeout(s.CaptureTimeout),
		turn.WithSTTTimeout(s.STTTimeout),
		turn.WithLLMTimeout(s.LLMTimeout),
		turn.WithTTSTimeout(s.TTSTimeout),
		turn.WithRetryHint(s.RetryHint),
		turn.WithMetrics(a.metrics),
	}
	if p.LLM != nil {
		opts = append(opts, turn.WithFeedback(feedback.NewGenerator(p.LLM,
			feedback.WithLanguage(s.FeedbackLanguage),
		)))
	}
	if p.TTS != nil {
		opts = append(opts,
			turn.WithSynthesizer(p.TTS),
			turn.WithVoice(a.voice()),
		)
	}
	return opts
}

// initRoleplay builds the role-play manager from the roleplay config.
func (a *App) initRoleplay(p Providers) error {
	r := a.cfg.Roleplay
	level, err := roleplay.ParseLevel(r.DefaultLevel)
	if err != nil {
		return fmt.Errorf("app: roleplay.default_level: %w", err)
	}
	s := a.cfg.Session
	a.roleplays = NewRoleplayManager(RoleplayManagerConfig{
		Partner: roleplay.NewPartner(p.LLM,
			roleplay.WithTipsLanguage(r.TipsLanguage),
			roleplay.WithTimeout(s.LLMTimeout),
		),
		Transcriber:  p.STT,
		Synthesizer:  p.TTS,
		Voice:        a.voice(),
		STTTimeout:   s.STTTimeout,
		TTSTimeout:   s.TTSTimeout,
		DefaultScene: r.DefaultScene,
		DefaultLevel: level,
		MaxExchanges: r.MaxExchanges,
	})
	return nil
}

func (a *App) voice() types.VoiceProfile {
	v := a.cfg.Session.Voice
	return types.VoiceProfile{
		ID:          v.VoiceID,
		Name:        v.Name,
		Provider:    a.cfg.Providers.TTS.Name,
		SpeedFactor: v.SpeedFactor,
	}
}

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	a.health.Register(mux)
	if a.metricsHandler != nil {
		mux.Handle("GET /metrics", a.metricsHandler)
	}
	mux.HandleFunc("GET /v1/levels", a.handleLevels)
	mux.HandleFunc("POST /v1/session", a.handleStart)
	mux.HandleFunc("GET /v1/session", a.handleSnapshot)
	mux.HandleFunc("DELETE /v1/session", a.handleStop)
	mux.HandleFunc("POST /v1/session/turn", a.handleTurn)
	mux.HandleFunc("GET /v1/session/ws", a.handleWebSocket)
	mux.HandleFunc("POST /v1/roleplay", a.handleRoleplayStart)
	mux.HandleFunc("GET /v1/roleplay", a.handleRoleplaySnapshot)
	mux.HandleFunc("DELETE /v1/roleplay", a.handleRoleplayStop)
	mux.HandleFunc("POST /v1/roleplay/turn", a.handleRoleplayTurn)
	mux.HandleFunc("POST /v1/roleplay/model", a.handleRoleplayModel)
	mux.HandleFunc("POST /v1/curriculum", a.handleCurriculum)
	return mux
}

// Handler returns the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Roleplays returns the role-play manager.
func (a *App) Roleplays() *RoleplayManager { return a.roleplays }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP and blocks until ctx is cancelled or the server fails.
// On cancellation it calls Shutdown and returns nil once the server drained.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.server = srv

	ln := a.listener
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", srv.Addr, err)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			slog.Info("serving https", "addr", ln.Addr().String())
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			slog.Info("serving http", "addr", ln.Addr().String())
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})
	return eg.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends the active session and role-play and stops the HTTP server. It respects the
// context deadline for draining in-flight requests. Calling it more than once
// is safe.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down")
		close(a.done)
		if err := a.sessions.Stop(ctx); err != nil && !errors.Is(err, ErrNoSession) {
			slog.Warn("session stop error", "err", err)
		}
		if err := a.roleplays.Stop(ctx); err != nil && !errors.Is(err, ErrNoRoleplay) {
			slog.Warn("role-play stop error", "err", err)
		}
		if a.server != nil {
			if err := a.server.Shutdown(ctx); err != nil {
				shutdownErr = fmt.Errorf("app: shutdown: %w", err)
				return
			}
		}
		slog.Info("shutdown complete")
	})
	return shutdownErr
}
