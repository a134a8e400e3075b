package voiceagent

import (
	"context"
	"strings"

	"github.com/haivivi/phonecall/pkg/respond"
)

// Flush thresholds in words. The first flush of a turn uses the lower values
// so the caller hears the reply sooner.
const (
	CommaFlushWords      = 8
	FirstCommaFlushWords = 4
	FlushWords           = 20
	FirstFlushWords      = 10
)

// Streamer paces the fragments of one reply into synthesis requests. Every
// fragment is sent exactly once; the fragment that completes a chunk is sent
// with the flush flag. A Streamer serves a single turn.
type Streamer struct {
	synth Synthesizer

	pending strings.Builder
	sent    strings.Builder
	flushed bool
}

// NewStreamer creates a Streamer that writes to synth.
func NewStreamer(synth Synthesizer) *Streamer {
	return &Streamer{synth: synth}
}

// Push forwards one fragment to the synthesizer.
func (s *Streamer) Push(ctx context.Context, frag respond.Fragment) error {
	text := frag.Text
	if text == "" {
		if frag.IsFinal {
			return s.Close(ctx)
		}
		return nil
	}
	if s.pending.Len() == 0 && isLoneTerminator(text) {
		return nil
	}
	s.pending.WriteString(text)

	flush := frag.IsFinal || s.shouldFlush(text)
	if err := s.synth.SendText(ctx, text, flush); err != nil {
		return err
	}
	s.sent.WriteString(text)
	if flush {
		s.pending.Reset()
		s.flushed = true
	}
	return nil
}

// Close flushes text that was sent without a flush.
func (s *Streamer) Close(ctx context.Context) error {
	if s.pending.Len() == 0 {
		return nil
	}
	if err := s.synth.SendText(ctx, "", true); err != nil {
		return err
	}
	s.pending.Reset()
	s.flushed = true
	return nil
}

// Sent returns the concatenation of every fragment sent so far.
func (s *Streamer) Sent() string {
	return s.sent.String()
}

func (s *Streamer) shouldFlush(text string) bool {
	if strings.ContainsAny(text, ".?!") {
		return true
	}
	commaWords, words := CommaFlushWords, FlushWords
	if !s.flushed {
		commaWords, words = FirstCommaFlushWords, FirstFlushWords
	}
	n := len(strings.Fields(s.pending.String()))
	if strings.Contains(text, ",") && n >= commaWords {
		return true
	}
	return n >= words
}

func isLoneTerminator(text string) bool {
	return text == "." || text == "?" || text == "!"
}
