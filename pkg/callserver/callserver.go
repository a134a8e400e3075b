// Package callserver wires the components of a phone call together for each
// media stream Twilio opens, and serves the HTTP endpoints of the service.
package callserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/haivivi/phonecall/pkg/call"
	"github.com/haivivi/phonecall/pkg/callstore"
	"github.com/haivivi/phonecall/pkg/eventbus"
	"github.com/haivivi/phonecall/pkg/persona"
	"github.com/haivivi/phonecall/pkg/twilio"
	"github.com/haivivi/phonecall/pkg/voiceagent"
)

// Transcriber is a transcription provider that reports unexpected closes.
type Transcriber interface {
	voiceagent.Transcriber
	call.Collaborator
	OnFatal(func(error))
}

// Synthesizer is a synthesis provider that takes its voice from the session
// and reports unexpected closes.
type Synthesizer interface {
	voiceagent.Synthesizer
	call.Collaborator
	OnFatal(func(error))
	AudioDuration() time.Duration
}

// Engine generates replies for one call.
type Engine interface {
	voiceagent.Generator
	call.Collaborator
}

// Config holds the shared resources and the per-call provider factories.
type Config struct {
	Personas *persona.Registry

	NewTranscriber func(logger *slog.Logger) Transcriber
	NewSynthesizer func(logger *slog.Logger) Synthesizer
	NewEngine      func() Engine

	// Calls persists finished calls. Optional.
	Calls *callstore.Store

	// Dispatcher serves POST /dispatch. Optional.
	Dispatcher *twilio.Dispatcher

	Logger *slog.Logger
}

// Server accepts media streams on /call.
type Server struct {
	cfg    Config
	logger *slog.Logger
	active atomic.Int64
}

// New validates cfg and returns a Server.
func New(cfg Config) (*Server, error) {
	switch {
	case cfg.Personas == nil:
		return nil, errors.New("callserver: personas are required")
	case cfg.NewTranscriber == nil, cfg.NewSynthesizer == nil, cfg.NewEngine == nil:
		return nil, errors.New("callserver: provider factories are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{cfg: cfg, logger: logger}, nil
}

// Active returns the number of calls in progress.
func (s *Server) Active() int64 {
	return s.active.Load()
}

// Handler returns the HTTP routes: GET /call, POST /dispatch and
// GET /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /call", s.handleCall)
	if s.cfg.Dispatcher != nil {
		mux.Handle("POST /dispatch", s.cfg.Dispatcher)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, "ok %d\n", s.Active())
	})
	return mux
}

// ListenAndServe serves Handler on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("listening", "addr", addr)

	select {
	case err := <-errc:
		return fmt.Errorf("callserver: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("callserver: shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	logger := s.logger.With("session", uuid.NewString())
	sess := call.NewSession()
	callBus := eventbus.New[call.Event]("call")
	agentBus := eventbus.New[voiceagent.Event]("agent")

	stream, err := twilio.Accept(w, r, callBus, logger)
	if err != nil {
		logger.Warn("call rejected", "error", err)
		return
	}
	defer stream.Close()

	s.active.Add(1)
	defer s.active.Add(-1)

	ctx, cancel := context.WithCancelCause(r.Context())
	defer cancel(nil)

	stt := s.cfg.NewTranscriber(logger)
	tts := s.cfg.NewSynthesizer(logger)
	engine := s.cfg.NewEngine()
	stt.OnFatal(cancel)
	tts.OnFatal(cancel)

	agent := voiceagent.New(voiceagent.Config{
		Session:     sess,
		Transcriber: stt,
		Synthesizer: tts,
		Generator:   engine,
		Bus:         agentBus,
		Logger:      logger,
	})
	initializer := call.NewInitializer(sess, s.cfg.Personas, stt, tts, engine).WithLogger(logger)

	var started atomic.Bool
	callBus.Register(call.EventStarted, func(ctx context.Context, payload any) error {
		md := payload.(call.StartMetadata)
		if err := initializer.Initialize(ctx, md); err != nil {
			return err
		}
		logger.Info("call initialized", "call_id", sess.CallID, "user_id", sess.UserID, "persona", sess.Persona.ID)
		if err := agent.Start(ctx); err != nil {
			return err
		}
		started.Store(true)
		return nil
	})
	callBus.Register(call.EventAudio, func(ctx context.Context, payload any) error {
		if !started.Load() {
			return nil
		}
		if err := agent.PutAudio(ctx, payload.([]byte)); err != nil {
			logger.Debug("caller audio dropped", "error", err)
		}
		return nil
	})
	var finalize eventbus.Handler
	if s.cfg.Calls != nil {
		finalize = s.cfg.Calls.Finalizer(sess, tts.AudioDuration, logger)
	}
	callBus.Register(call.EventEnded, eventbus.Sequence(
		func(ctx context.Context, _ any) error {
			if err := agent.Stop(ctx); err != nil {
				logger.Warn("stop agent", "error", err)
			}
			return nil
		},
		finalize,
	))

	agentBus.Register(voiceagent.EventAudioGenerated, func(ctx context.Context, payload any) error {
		return stream.SendAudio(ctx, payload.(string))
	})
	agentBus.Register(voiceagent.EventInterrupted, func(ctx context.Context, _ any) error {
		return stream.SendClear(ctx)
	})

	err = stream.Serve(ctx)
	switch {
	case err == nil:
		logger.Info("call ended", "call_id", sess.CallID, "turns", len(sess.History()))
	case errors.Is(err, call.ErrConfiguration):
		logger.Warn("call rejected", "error", err)
	case errors.Is(err, voiceagent.ErrProviderClosed):
		logger.Error("call aborted", "error", err)
	default:
		logger.Error("call failed", "error", err)
	}
}
