package voiceagent_test

import (
	"context"
	"iter"
	"sync"

	"github.com/haivivi/phonecall/pkg/call"
	"github.com/haivivi/phonecall/pkg/respond"
	"github.com/haivivi/phonecall/pkg/voiceagent"
)

type fakeSTT struct {
	mu      sync.Mutex
	handler voiceagent.TranscriptHandler
	audio   [][]byte
	started bool
	stopped bool

	// onStop is delivered from StopConnection, the way a provider flushes
	// its last results while the stream closes.
	onStop *voiceagent.TranscriptEvent
}

func (f *fakeSTT) SetOnTranscript(h voiceagent.TranscriptHandler) { f.handler = h }

func (f *fakeSTT) SendAudio(_ context.Context, audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, audio)
	return nil
}

func (f *fakeSTT) StartConnection(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeSTT) StopConnection(ctx context.Context) error {
	f.mu.Lock()
	f.stopped = true
	ev := f.onStop
	f.mu.Unlock()
	if ev != nil {
		return f.handler(ctx, *ev)
	}
	return nil
}

// deliver plays a scripted transcript event as the provider loop would.
func (f *fakeSTT) deliver(ctx context.Context, ev voiceagent.TranscriptEvent) error {
	return f.handler(ctx, ev)
}

type sendCall struct {
	Text  string
	Flush bool
}

type fakeTTS struct {
	mu      sync.Mutex
	onAudio voiceagent.AudioHandler
	sends   []sendCall
	flushes int
	ignore  []bool
	started bool
	stopped bool
}

func (f *fakeTTS) OnAudioGenerated(h voiceagent.AudioHandler) { f.onAudio = h }

func (f *fakeTTS) SendText(_ context.Context, text string, flush bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sends = append(f.sends, sendCall{text, flush})
	return nil
}

func (f *fakeTTS) StartConnection(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

func (f *fakeTTS) StopConnection(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	return nil
}

func (f *fakeTTS) ForceFlush(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *fakeTTS) SetIgnoreIncomingAudio(ignore bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ignore = append(f.ignore, ignore)
}

func (f *fakeTTS) calls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.sends...)
}

func (f *fakeTTS) forceFlushes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

// scriptedGen yields fixed fragments. When gate is set, the generator waits
// on it before each fragment after the first, so a test can interleave
// transcript events with the reply.
type scriptedGen struct {
	mu     sync.Mutex
	frags  []respond.Fragment
	err    error
	gate   chan struct{}
	inputs []string
}

func texts(ss ...string) []respond.Fragment {
	out := make([]respond.Fragment, len(ss))
	for i, s := range ss {
		out[i] = respond.Fragment{Text: s}
	}
	return out
}

func (g *scriptedGen) Generate(ctx context.Context, input string, _ *call.Session) iter.Seq2[respond.Fragment, error] {
	g.mu.Lock()
	g.inputs = append(g.inputs, input)
	g.mu.Unlock()
	return func(yield func(respond.Fragment, error) bool) {
		for i, f := range g.frags {
			if i > 0 && g.gate != nil {
				select {
				case <-g.gate:
				case <-ctx.Done():
					return
				}
			}
			if !yield(f, nil) {
				return
			}
		}
		if g.err != nil {
			yield(respond.Fragment{}, g.err)
		}
	}
}

func (g *scriptedGen) calls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.inputs...)
}
