package voiceagent_test

import (
	"context"
	"slices"
	"testing"

	"github.com/haivivi/phonecall/pkg/respond"
	"github.com/haivivi/phonecall/pkg/voiceagent"
)

func push(t *testing.T, st *voiceagent.Streamer, frags []respond.Fragment) {
	t.Helper()
	for _, f := range frags {
		if err := st.Push(context.Background(), f); err != nil {
			t.Fatalf("Push(%q): %v", f.Text, err)
		}
	}
}

func TestStreamerFlushAtSentenceEnd(t *testing.T) {
	tts := &fakeTTS{}
	st := voiceagent.NewStreamer(tts)
	push(t, st, texts("Hello", ",", " there", " friend", "."))

	want := []sendCall{
		{"Hello", false},
		{",", false},
		{" there", false},
		{" friend", false},
		{".", true},
	}
	if got := tts.calls(); !slices.Equal(got, want) {
		t.Fatalf("sends = %+v\nwant %+v", got, want)
	}
	if st.Sent() != "Hello, there friend." {
		t.Fatalf("sent = %q", st.Sent())
	}
}

func TestStreamerFirstFlushCommaThreshold(t *testing.T) {
	tts := &fakeTTS{}
	st := voiceagent.NewStreamer(tts)
	push(t, st, texts("I", " want", " to", " go,", " then", " maybe"))

	calls := tts.calls()
	if !calls[3].Flush {
		t.Fatalf("4 words plus a comma should flush on the first chunk: %+v", calls)
	}
	for i, c := range calls {
		if i != 3 && c.Flush {
			t.Fatalf("unexpected flush at %d: %+v", i, calls)
		}
	}
}

func TestStreamerSteadyStateThresholds(t *testing.T) {
	tts := &fakeTTS{}
	st := voiceagent.NewStreamer(tts)
	// First chunk flushes at 10 words.
	push(t, st, texts("a1", " a2", " a3", " a4", " a5", " a6", " a7", " a8", " a9", " a10"))
	if c := tts.calls(); !c[len(c)-1].Flush {
		t.Fatalf("first chunk should flush at 10 words: %+v", c)
	}

	// Steady state: a comma at 4 words no longer flushes.
	push(t, st, texts("b1", " b2", " b3", " b4,"))
	if c := tts.calls(); c[len(c)-1].Flush {
		t.Fatal("comma at 4 words flushed in steady state")
	}
	// Comma at 8 words does.
	push(t, st, texts(" b5", " b6", " b7", " b8,"))
	if c := tts.calls(); !c[len(c)-1].Flush {
		t.Fatal("comma at 8 words should flush in steady state")
	}

	// 20 words without punctuation.
	var frags []string
	for i := 0; i < 20; i++ {
		frags = append(frags, " w")
	}
	push(t, st, texts(frags...))
	c := tts.calls()
	for _, s := range c[len(c)-20 : len(c)-1] {
		if s.Flush {
			t.Fatal("flushed before 20 words")
		}
	}
	if !c[len(c)-1].Flush {
		t.Fatal("should flush at 20 words")
	}
}

func TestStreamerLoneTerminatorAndEmpty(t *testing.T) {
	tts := &fakeTTS{}
	st := voiceagent.NewStreamer(tts)
	push(t, st, texts("Done.", "", ".", "!", " Next"))

	want := []sendCall{{"Done.", true}, {" Next", false}}
	if got := tts.calls(); !slices.Equal(got, want) {
		t.Fatalf("sends = %+v", got)
	}
	if err := st.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := tts.calls()
	if last := got[len(got)-1]; last != (sendCall{"", true}) {
		t.Fatalf("Close should flush the tail, got %+v", last)
	}
	if st.Sent() != "Done. Next" {
		t.Fatalf("sent = %q", st.Sent())
	}
}

func TestStreamerFinalFragmentFlushes(t *testing.T) {
	tts := &fakeTTS{}
	st := voiceagent.NewStreamer(tts)
	push(t, st, []respond.Fragment{{Text: "Sure"}, {Text: " thing", IsFinal: true}})

	want := []sendCall{{"Sure", false}, {" thing", true}}
	if got := tts.calls(); !slices.Equal(got, want) {
		t.Fatalf("sends = %+v", got)
	}
	if err := st.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(tts.calls()) != 2 {
		t.Fatal("Close after a flush should send nothing")
	}
}
