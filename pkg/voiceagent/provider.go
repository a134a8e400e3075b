// Package voiceagent implements the turn-taking loop of a phone call: it
// consumes transcript events, decides where the caller's utterances end,
// detects barge-in while the agent is talking, and streams generated replies
// to the speech synthesizer in flush-paced chunks.
package voiceagent

import (
	"context"
	"errors"
	"iter"

	"github.com/haivivi/phonecall/pkg/call"
	"github.com/haivivi/phonecall/pkg/respond"
)

// ErrProviderClosed is reported when a transcription or synthesis connection
// closes while the call is still running.
var ErrProviderClosed = errors.New("voiceagent: provider connection closed")

// Event is an agent event published for the transport.
type Event string

const (
	// EventAudioGenerated carries a base64 μ-law string payload.
	EventAudioGenerated Event = "audio_generated"
	// EventInterrupted is published once per barge-in; it has no payload.
	EventInterrupted Event = "user_speaking"
)

// TranscriptEvent is one recognition result, already parsed from the
// provider's wire format.
type TranscriptEvent struct {
	Text          string
	IsFinal       bool
	SpeechEnded   bool
	LowConfidence bool
}

// TranscriptHandler receives transcript events in arrival order.
type TranscriptHandler func(ctx context.Context, ev TranscriptEvent) error

// AudioHandler receives synthesized, transport-ready audio.
type AudioHandler func(ctx context.Context, audio string) error

// Transcriber is a streaming speech-to-text connection.
type Transcriber interface {
	SetOnTranscript(h TranscriptHandler)
	SendAudio(ctx context.Context, audio []byte) error
	StartConnection(ctx context.Context) error
	StopConnection(ctx context.Context) error
}

// Synthesizer is a streaming text-to-speech connection.
type Synthesizer interface {
	OnAudioGenerated(h AudioHandler)
	SendText(ctx context.Context, text string, flush bool) error
	StartConnection(ctx context.Context) error
	StopConnection(ctx context.Context) error
	// ForceFlush asks the provider to render whatever it has buffered now.
	ForceFlush(ctx context.Context) error
	// SetIgnoreIncomingAudio drops audio received from the provider while set.
	SetIgnoreIncomingAudio(ignore bool)
}

// Generator produces the reply to one caller utterance. The sequence is
// cancelled by ending iteration or cancelling ctx.
type Generator interface {
	Generate(ctx context.Context, input string, s *call.Session) iter.Seq2[respond.Fragment, error]
}
