// Package deepgram streams caller audio to Deepgram's live transcription
// websocket and delivers the results as voiceagent.TranscriptEvent values.
package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/phonecall/pkg/call"
	"github.com/haivivi/phonecall/pkg/jsontime"
	"github.com/haivivi/phonecall/pkg/voiceagent"
)

// Defaults for a phone call: 8 kHz μ-law mono.
const (
	DefaultURL         = "wss://api.deepgram.com/v1/listen"
	DefaultModel       = "nova-2-phonecall"
	DefaultLanguage    = "en-US"
	DefaultEndpointing = 10 * time.Millisecond
	DefaultKeepAlive   = 5 * time.Second

	// LowConfidence is the confidence below which a transcript is flagged.
	LowConfidence = 0.5
)

// Config configures a Client. Zero fields take the defaults above.
type Config struct {
	APIKey      string            `yaml:"api_key"`
	URL         string            `yaml:"url"`
	Model       string            `yaml:"model"`
	Language    string            `yaml:"language"`
	Endpointing jsontime.Duration `yaml:"endpointing"`
	KeepAlive   jsontime.Duration `yaml:"keep_alive"`
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Endpointing <= 0 {
		c.Endpointing = jsontime.Duration(DefaultEndpointing)
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = jsontime.Duration(DefaultKeepAlive)
	}
	return c
}

func (c Config) listenURL() (string, error) {
	u, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("deepgram: url: %w", err)
	}
	q := u.Query()
	q.Set("model", c.Model)
	q.Set("language", c.Language)
	q.Set("encoding", "mulaw")
	q.Set("sample_rate", "8000")
	q.Set("channels", "1")
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	q.Set("vad_events", "true")
	q.Set("endpointing", strconv.FormatInt(c.Endpointing.Std().Milliseconds(), 10))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Client is one live transcription connection. It implements
// voiceagent.Transcriber.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu           sync.Mutex
	onTranscript voiceagent.TranscriptHandler
	onFatal      func(error)

	writeMu sync.Mutex
	conn    *websocket.Conn
	closing atomic.Bool
	done    chan struct{}
	stop    chan struct{}
}

var _ voiceagent.Transcriber = (*Client)(nil)

// New creates an unconnected Client.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg.withDefaults(), logger: logger.With("provider", "deepgram")}
}

// InitializeFromSession tags the client's log lines with the call id.
func (c *Client) InitializeFromSession(_ context.Context, s *call.Session) error {
	c.logger = c.logger.With("call_id", s.CallID)
	return nil
}

// SetOnTranscript sets the handler for parsed results.
func (c *Client) SetOnTranscript(h voiceagent.TranscriptHandler) {
	c.mu.Lock()
	c.onTranscript = h
	c.mu.Unlock()
}

// OnFatal sets the callback for an unexpected close. It receives an error
// wrapping voiceagent.ErrProviderClosed.
func (c *Client) OnFatal(f func(error)) {
	c.mu.Lock()
	c.onFatal = f
	c.mu.Unlock()
}

// StartConnection dials Deepgram and starts the read and keep-alive loops.
// Handlers are called with ctx.
func (c *Client) StartConnection(ctx context.Context) error {
	u, err := c.cfg.listenURL()
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Token "+c.cfg.APIKey)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("deepgram: dial: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("deepgram: dial: %w", err)
	}
	c.writeMu.Lock()
	c.conn = conn
	c.done = make(chan struct{})
	c.stop = make(chan struct{})
	c.writeMu.Unlock()

	go c.readLoop(ctx, conn, c.done)
	go c.keepAlive(c.stop)
	c.logger.Debug("deepgram connected")
	return nil
}

// SendAudio forwards raw μ-law audio.
func (c *Client) SendAudio(_ context.Context, audio []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("deepgram: not connected")
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("deepgram: send audio: %w", err)
	}
	return nil
}

// StopConnection asks Deepgram to flush the final results and waits for the
// server to close, bounded by ctx and one second.
func (c *Client) StopConnection(ctx context.Context) error {
	c.writeMu.Lock()
	conn, done, stop := c.conn, c.done, c.stop
	c.conn = nil
	if conn != nil {
		c.closing.Store(true)
		close(stop)
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		conn.WriteJSON(control{Type: "CloseStream"})
	}
	c.writeMu.Unlock()
	if conn == nil {
		return nil
	}

	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(time.Second):
	}
	return conn.Close()
}

type control struct {
	Type string `json:"type"`
}

func (c *Client) keepAlive(stop <-chan struct{}) {
	t := time.NewTicker(c.cfg.KeepAlive.Std())
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			c.writeMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := c.conn.WriteJSON(control{Type: "KeepAlive"}); err != nil {
					c.logger.Debug("deepgram: keep-alive failed", "error", err)
				}
			}
			c.writeMu.Unlock()
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.closing.Load() || ctx.Err() != nil {
				return
			}
			c.fatal(fmt.Errorf("%w: deepgram: %w", voiceagent.ErrProviderClosed, err))
			return
		}
		ev, ok := Parse(data)
		if !ok {
			continue
		}
		c.mu.Lock()
		h := c.onTranscript
		c.mu.Unlock()
		if h == nil {
			continue
		}
		if err := h(ctx, ev); err != nil {
			c.logger.Warn("deepgram: transcript handler failed", "error", err)
		}
	}
}

func (c *Client) fatal(err error) {
	c.logger.Error("deepgram connection lost", "error", err)
	c.mu.Lock()
	f := c.onFatal
	c.mu.Unlock()
	if f != nil {
		f(err)
	}
}

// result is the subset of a Deepgram "Results" message that is used.
type result struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Parse converts a Deepgram message to a transcript event. Messages other
// than transcription results, such as Metadata or SpeechStarted, report
// false.
func Parse(raw []byte) (voiceagent.TranscriptEvent, bool) {
	var r result
	if err := json.Unmarshal(raw, &r); err != nil {
		return voiceagent.TranscriptEvent{}, false
	}
	if r.Type != "Results" {
		return voiceagent.TranscriptEvent{}, false
	}
	ev := voiceagent.TranscriptEvent{
		IsFinal:     r.IsFinal,
		SpeechEnded: r.SpeechFinal,
	}
	if len(r.Channel.Alternatives) > 0 {
		alt := r.Channel.Alternatives[0]
		ev.Text = alt.Transcript
		ev.LowConfidence = alt.Confidence < LowConfidence
	}
	return ev, true
}
