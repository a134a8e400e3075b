package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/phonecall/pkg/call"
	"github.com/haivivi/phonecall/pkg/persona"
	"github.com/haivivi/phonecall/pkg/voiceagent"
)

// fakeServer records client messages. Every message whose text contains
// "speak" is answered with one audio frame; "hangup" drops the socket.
type fakeServer struct {
	mu    sync.Mutex
	path  string
	query string
	key   string
	msgs  []textMessage
}

func (f *fakeServer) messages() []textMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]textMessage(nil), f.msgs...)
}

func (f *fakeServer) start(t *testing.T) string {
	t.Helper()
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.path, f.query, f.key = r.URL.Path, r.URL.RawQuery, r.Header.Get("xi-api-key")
		f.mu.Unlock()
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var m textMessage
			if err := conn.ReadJSON(&m); err != nil {
				return
			}
			f.mu.Lock()
			f.msgs = append(f.msgs, m)
			f.mu.Unlock()
			switch {
			case strings.Contains(m.Text, "hangup"):
				return
			case strings.Contains(m.Text, "speak"):
				conn.WriteMessage(websocket.TextMessage, []byte(`{"audio":"//79fA==","isFinal":false}`))
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/text-to-speech/{voice_id}/stream-input"
}

func newSession(voice persona.Voice) *call.Session {
	s := call.NewSession()
	s.Persona = &persona.Persona{ID: "p", Voice: voice}
	return s
}

func TestClientStream(t *testing.T) {
	fake := &fakeServer{}
	c := New(Config{APIKey: "xi", URL: fake.start(t)}, nil)
	audio := make(chan string, 4)
	c.OnAudioGenerated(func(_ context.Context, a string) error {
		audio <- a
		return nil
	})
	ctx := context.Background()
	if err := c.InitializeFromSession(ctx, newSession("voice-9")); err != nil {
		t.Fatal(err)
	}
	if err := c.StartConnection(ctx); err != nil {
		t.Fatalf("StartConnection: %v", err)
	}

	if err := c.SendText(ctx, "please speak", false); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	select {
	case a := <-audio:
		if a != "//79fA==" {
			t.Fatalf("audio = %q", a)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no audio")
	}

	c.SetIgnoreIncomingAudio(true)
	c.SendText(ctx, "speak again", true)
	c.ForceFlush(ctx)
	select {
	case a := <-audio:
		t.Fatalf("audio delivered while ignoring: %q", a)
	case <-time.After(100 * time.Millisecond):
	}
	if err := c.StopConnection(ctx); err != nil {
		t.Logf("StopConnection: %v", err)
	}

	if d := c.AudioDuration(); d != 500*time.Microsecond {
		t.Fatalf("AudioDuration = %v, want 500µs for 4 μ-law bytes", d)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(fake.messages()) < 5 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	msgs := fake.messages()
	want := []textMessage{
		{Text: " ", VoiceSettings: &DefaultVoiceSettings, APIKey: "xi"},
		{Text: "please speak"},
		{Text: "speak again ", Flush: true},
		{Text: " ", Flush: true},
		{Text: ""},
	}
	if len(msgs) != len(want) {
		t.Fatalf("messages = %+v", msgs)
	}
	for i := range want {
		got, _ := json.Marshal(msgs[i])
		exp, _ := json.Marshal(want[i])
		if string(got) != string(exp) {
			t.Errorf("message %d = %s, want %s", i, got, exp)
		}
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if !strings.Contains(fake.path, "/voice-9/") || fake.key != "xi" {
		t.Fatalf("path = %s key = %s", fake.path, fake.key)
	}
	for _, q := range []string{"model_id=eleven_flash_v2_5", "output_format=ulaw_8000", "inactivity_timeout=180"} {
		if !strings.Contains(fake.query, q) {
			t.Errorf("query %s lacks %s", fake.query, q)
		}
	}
}

func TestClientUnexpectedClose(t *testing.T) {
	fake := &fakeServer{}
	c := New(Config{URL: fake.start(t)}, nil)
	fatal := make(chan error, 1)
	c.OnFatal(func(err error) { fatal <- err })
	ctx := context.Background()
	if err := c.StartConnection(ctx); err != nil {
		t.Fatal(err)
	}
	defer c.StopConnection(ctx)
	c.SendText(ctx, "hangup", false)
	select {
	case err := <-fatal:
		if !errors.Is(err, voiceagent.ErrProviderClosed) {
			t.Fatalf("fatal = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no fatal callback")
	}
}

func TestDefaultVoiceAndNotConnected(t *testing.T) {
	c := New(Config{}, nil)
	if c.Voice() != persona.DefaultVoice {
		t.Fatalf("Voice = %s", c.Voice())
	}
	c.InitializeFromSession(context.Background(), newSession(""))
	if c.Voice() != persona.DefaultVoice {
		t.Fatalf("Voice after empty persona voice = %s", c.Voice())
	}
	if err := c.SendText(context.Background(), "x", false); err == nil {
		t.Fatal("SendText before start should fail")
	}
	if err := c.StopConnection(context.Background()); err != nil {
		t.Fatalf("StopConnection = %v", err)
	}
}

func TestMP3OutputUsesCodec(t *testing.T) {
	c := New(Config{OutputFormat: "mp3_44100_128"}, nil)
	if c.codec == nil {
		t.Fatal("mp3 output needs the codec")
	}
	if _, ok := c.transcode([]byte{0xff}); ok {
		t.Fatal("one byte cannot decode")
	}
}
