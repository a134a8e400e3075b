package voiceagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/haivivi/phonecall/pkg/call"
	"github.com/haivivi/phonecall/pkg/eventbus"
)

// State is the turn-taking state of an Agent.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateGenerating
)

// String returns the string representation of the state.
func (st State) String() string {
	switch st {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateGenerating:
		return "generating"
	default:
		return "unknown"
	}
}

// errBargeIn is the cancellation cause of a turn the caller talked over.
var errBargeIn = errors.New("voiceagent: caller barged in")

// Config configures an Agent.
type Config struct {
	Session     *call.Session
	Transcriber Transcriber
	Synthesizer Synthesizer
	Generator   Generator

	// Bus receives EventAudioGenerated and EventInterrupted. Optional.
	Bus *eventbus.Bus[Event]

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Agent runs the turn-taking loop of one call.
//
// Transcript events are handled on the transcriber's goroutine, in order.
// Each reply runs on its own goroutine with a cancellation token; a barge-in
// cancels the token and the reply stops at its next fragment.
type Agent struct {
	sess   *call.Session
	stt    Transcriber
	tts    Synthesizer
	gen    Generator
	bus    *eventbus.Bus[Event]
	logger *slog.Logger

	state atomic.Int32

	mu     sync.Mutex
	turn   *turn
	closed bool
}

// turn is one in-flight reply.
type turn struct {
	token *Token
	done  chan struct{}
}

// New creates an Agent and registers its callbacks on the providers.
func New(cfg Config) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{
		sess:   cfg.Session,
		stt:    cfg.Transcriber,
		tts:    cfg.Synthesizer,
		gen:    cfg.Generator,
		bus:    cfg.Bus,
		logger: logger,
	}
	a.stt.SetOnTranscript(a.HandleTranscript)
	a.tts.OnAudioGenerated(func(ctx context.Context, audio string) error {
		return a.publish(ctx, EventAudioGenerated, audio)
	})
	return a
}

// State returns the current turn-taking state.
func (a *Agent) State() State {
	return State(a.state.Load())
}

// Start opens the transcription and synthesis connections concurrently.
// ctx must live as long as the call: the providers deliver events with it.
func (a *Agent) Start(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		if err := a.stt.StartConnection(ctx); err != nil {
			return fmt.Errorf("voiceagent: start transcriber: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.tts.StartConnection(ctx); err != nil {
			return fmt.Errorf("voiceagent: start synthesizer: %w", err)
		}
		return nil
	})
	return g.Wait()
}

// Stop cancels the running reply, waits for it, and closes both provider
// connections. Transcripts the transcriber delivers while it drains are
// ignored: no reply starts after Stop is called.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	a.closed = true
	if t := a.turn; t != nil {
		t.token.Cancel(context.Canceled)
	}
	a.mu.Unlock()
	a.Wait()

	var errs []error
	if err := a.stt.StopConnection(ctx); err != nil {
		errs = append(errs, fmt.Errorf("voiceagent: stop transcriber: %w", err))
	}
	if err := a.tts.StopConnection(ctx); err != nil {
		errs = append(errs, fmt.Errorf("voiceagent: stop synthesizer: %w", err))
	}
	a.Wait()
	return errors.Join(errs...)
}

// Wait blocks until the running reply, if any, has finished.
func (a *Agent) Wait() {
	a.mu.Lock()
	t := a.turn
	a.mu.Unlock()
	if t != nil {
		<-t.done
	}
}

func (a *Agent) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// PutAudio forwards caller audio to the transcriber.
func (a *Agent) PutAudio(ctx context.Context, audio []byte) error {
	return a.stt.SendAudio(ctx, audio)
}

// HandleTranscript applies one transcript event. It is the transcriber
// callback and must not be called concurrently.
func (a *Agent) HandleTranscript(ctx context.Context, ev TranscriptEvent) error {
	if a.isClosed() {
		return nil
	}
	s := a.sess
	if a.State() == StateIdle {
		a.state.CompareAndSwap(int32(StateIdle), int32(StateListening))
	}

	if ev.IsFinal {
		s.PendingFinalTranscript += ev.Text
		s.CurrentTranscript = s.PendingFinalTranscript
		s.PendingFinalTranscript = ""
	} else {
		s.CurrentTranscript = s.PendingFinalTranscript + ev.Text
	}

	speech, reset := IsRealSpeech(ev.Text)
	if reset {
		s.PendingFinalTranscript = ""
	}
	if !speech {
		return nil
	}

	if s.AgentSpeaking() && s.MarkInterrupted() {
		if err := a.bargeIn(ctx); err != nil {
			return err
		}
	}

	if ev.SpeechEnded {
		return a.speechEnded(ctx, s.CurrentTranscript)
	}
	return nil
}

func (a *Agent) bargeIn(ctx context.Context) error {
	a.logger.Info("voiceagent: caller interrupted")
	a.mu.Lock()
	if t := a.turn; t != nil {
		t.token.Cancel(errBargeIn)
	}
	a.mu.Unlock()

	a.tts.SetIgnoreIncomingAudio(true)
	if err := a.tts.ForceFlush(ctx); err != nil {
		a.logger.Warn("voiceagent: force flush", "error", err)
	}
	return a.publish(ctx, EventInterrupted, nil)
}

func (a *Agent) speechEnded(ctx context.Context, input string) error {
	if input == "" {
		return nil
	}
	a.logger.Debug("voiceagent: speech ended", "transcript", input)

	// The previous reply has been cancelled by the barge-in on this or an
	// earlier event; it must finish before the flags are reset for the next.
	a.Wait()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	t := &turn{token: NewToken(ctx), done: make(chan struct{})}
	a.turn = t
	a.mu.Unlock()

	s := a.sess
	s.SetInterruption(false)
	a.tts.SetIgnoreIncomingAudio(false)
	s.SetAgentSpeaking(true)
	a.state.Store(int32(StateGenerating))

	go a.respond(t, input)
	return nil
}

// respond runs one reply to completion, interruption or error.
func (a *Agent) respond(t *turn, input string) {
	s := a.sess
	defer close(t.done)
	defer func() {
		s.SetAgentSpeaking(false)
		a.state.Store(int32(StateListening))
		t.token.Cancel(context.Canceled)
	}()

	ctx := t.token.Context()
	s.AppendTurn(call.RoleUser, input)
	st := NewStreamer(a.tts)
	err := a.stream(ctx, t.token, st, input)
	s.AppendTurn(call.RoleAgent, st.Sent())

	switch {
	case err == nil:
	case errors.Is(err, errBargeIn), t.token.Cancelled():
		a.logger.Debug("voiceagent: reply stopped", "cause", err, "sent", st.Sent())
	default:
		a.logger.Error("voiceagent: reply failed", "error", err)
	}
}

func (a *Agent) stream(ctx context.Context, tok *Token, st *Streamer, input string) error {
	for frag, err := range a.gen.Generate(ctx, input, a.sess) {
		if err := a.stopped(tok); err != nil {
			return err
		}
		if err != nil {
			return err
		}
		if err := st.Push(ctx, frag); err != nil {
			return err
		}
	}
	if err := a.stopped(tok); err != nil {
		return err
	}
	return st.Close(ctx)
}

// stopped is the cancellation checkpoint of a reply.
func (a *Agent) stopped(tok *Token) error {
	if tok.Cancelled() {
		return context.Cause(tok.Context())
	}
	if a.sess.Interrupted() {
		return errBargeIn
	}
	return nil
}

func (a *Agent) publish(ctx context.Context, ev Event, payload any) error {
	if a.bus == nil {
		return nil
	}
	return a.bus.Publish(ctx, ev, payload)
}
