// Package elevenlabs streams reply text to ElevenLabs' stream-input
// websocket and delivers the synthesized audio ready for the telephony
// transport.
package elevenlabs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/phonecall/pkg/audio/codec"
	"github.com/haivivi/phonecall/pkg/call"
	"github.com/haivivi/phonecall/pkg/encoding"
	"github.com/haivivi/phonecall/pkg/persona"
	"github.com/haivivi/phonecall/pkg/voiceagent"
)

const (
	DefaultURL               = "wss://api.elevenlabs.io/v1/text-to-speech/{voice_id}/stream-input"
	DefaultModel             = "eleven_flash_v2_5"
	DefaultOutputFormat      = "ulaw_8000"
	DefaultInactivityTimeout = 180
)

// VoiceSettings are sent with the first message of a connection.
type VoiceSettings struct {
	Stability       float64 `json:"stability" yaml:"stability"`
	SimilarityBoost float64 `json:"similarity_boost" yaml:"similarity_boost"`
	UseSpeakerBoost bool    `json:"use_speaker_boost" yaml:"use_speaker_boost"`
}

// DefaultVoiceSettings suit a phone line.
var DefaultVoiceSettings = VoiceSettings{Stability: 0.5, SimilarityBoost: 0.8}

// Config configures a Client. Zero fields take the defaults above.
type Config struct {
	APIKey            string         `yaml:"api_key"`
	URL               string         `yaml:"url"`
	Model             string         `yaml:"model"`
	OutputFormat      string         `yaml:"output_format"`
	InactivityTimeout int            `yaml:"inactivity_timeout"`
	VoiceSettings     *VoiceSettings `yaml:"voice_settings"`
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.OutputFormat == "" {
		c.OutputFormat = DefaultOutputFormat
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = DefaultInactivityTimeout
	}
	if c.VoiceSettings == nil {
		vs := DefaultVoiceSettings
		c.VoiceSettings = &vs
	}
	return c
}

func (c Config) streamURL(voice persona.Voice) (string, error) {
	u, err := url.Parse(strings.ReplaceAll(c.URL, "{voice_id}", url.PathEscape(string(voice))))
	if err != nil {
		return "", fmt.Errorf("elevenlabs: url: %w", err)
	}
	q := u.Query()
	q.Set("model_id", c.Model)
	q.Set("output_format", c.OutputFormat)
	q.Set("inactivity_timeout", strconv.Itoa(c.InactivityTimeout))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c Config) passthrough() bool {
	return strings.HasPrefix(c.OutputFormat, "ulaw_8000")
}

// textMessage is every client message on stream-input.
type textMessage struct {
	Text          string         `json:"text"`
	Flush         bool           `json:"flush,omitempty"`
	VoiceSettings *VoiceSettings `json:"voice_settings,omitempty"`
	APIKey        string         `json:"xi_api_key,omitempty"`
}

type audioMessage struct {
	Audio   encoding.StdBase64Data `json:"audio"`
	IsFinal bool                   `json:"isFinal"`
	Error   string                 `json:"error"`
	Message string                 `json:"message"`
}

// Client is one synthesis connection. It implements voiceagent.Synthesizer
// and call.Collaborator, taking the voice from the session persona.
type Client struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	voice   persona.Voice
	onAudio voiceagent.AudioHandler
	onFatal func(error)

	ignore    atomic.Bool
	ulawBytes atomic.Int64
	closing   atomic.Bool

	writeMu sync.Mutex
	conn    *websocket.Conn
	done    chan struct{}

	codec *codec.Codec
}

var (
	_ voiceagent.Synthesizer = (*Client)(nil)
	_ call.Collaborator      = (*Client)(nil)
)

// New creates an unconnected Client speaking with persona.DefaultVoice.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	c := &Client{cfg: cfg, logger: logger.With("provider", "elevenlabs"), voice: persona.DefaultVoice}
	if !cfg.passthrough() {
		c.codec = codec.New()
	}
	return c
}

// InitializeFromSession selects the persona's voice.
func (c *Client) InitializeFromSession(_ context.Context, s *call.Session) error {
	c.mu.Lock()
	c.voice = s.Persona.VoiceID()
	c.mu.Unlock()
	return nil
}

// Voice returns the selected voice.
func (c *Client) Voice() persona.Voice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.voice
}

// OnAudioGenerated sets the handler receiving base64 μ-law audio.
func (c *Client) OnAudioGenerated(h voiceagent.AudioHandler) {
	c.mu.Lock()
	c.onAudio = h
	c.mu.Unlock()
}

// OnFatal sets the callback for an unexpected close.
func (c *Client) OnFatal(f func(error)) {
	c.mu.Lock()
	c.onFatal = f
	c.mu.Unlock()
}

// SetIgnoreIncomingAudio drops received audio while set.
func (c *Client) SetIgnoreIncomingAudio(ignore bool) {
	c.ignore.Store(ignore)
}

// AudioDuration returns how much audio has been delivered to the handler.
func (c *Client) AudioDuration() time.Duration {
	if c.codec != nil {
		return c.codec.Duration()
	}
	return codec.TransportFormat.Duration(2 * c.ulawBytes.Load())
}

// StartConnection dials the voice's stream and sends the priming message
// carrying the voice settings and key.
func (c *Client) StartConnection(ctx context.Context) error {
	u, err := c.cfg.streamURL(c.Voice())
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("xi-api-key", c.cfg.APIKey)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("elevenlabs: dial: %s: %w", resp.Status, err)
		}
		return fmt.Errorf("elevenlabs: dial: %w", err)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.done = make(chan struct{})
	err = c.writeLocked(textMessage{Text: " ", VoiceSettings: c.cfg.VoiceSettings, APIKey: c.cfg.APIKey})
	done := c.done
	c.writeMu.Unlock()
	if err != nil {
		conn.Close()
		return err
	}

	go c.readLoop(ctx, conn, done)
	c.logger.Debug("elevenlabs connected", "voice", c.Voice())
	return nil
}

// SendText queues text for synthesis. With flush set, a trailing space is
// added and the provider generates everything buffered so far.
func (c *Client) SendText(_ context.Context, text string, flush bool) error {
	if flush {
		text += " "
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeLocked(textMessage{Text: text, Flush: flush})
}

// ForceFlush flushes whatever text the provider has buffered.
func (c *Client) ForceFlush(ctx context.Context) error {
	return c.SendText(ctx, "", true)
}

func (c *Client) writeLocked(m textMessage) error {
	if c.conn == nil {
		return fmt.Errorf("elevenlabs: not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.WriteJSON(m); err != nil {
		return fmt.Errorf("elevenlabs: write: %w", err)
	}
	return nil
}

// StopConnection sends the end-of-input message and closes the socket.
func (c *Client) StopConnection(ctx context.Context) error {
	c.writeMu.Lock()
	conn, done := c.conn, c.done
	if conn != nil {
		c.closing.Store(true)
		c.writeLocked(textMessage{Text: ""})
		c.conn = nil
	}
	c.writeMu.Unlock()
	if c.codec != nil {
		c.codec.Close()
	}
	if conn == nil {
		return nil
	}
	err := conn.Close()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.closing.Load() || ctx.Err() != nil {
				return
			}
			c.fatal(fmt.Errorf("%w: elevenlabs: %w", voiceagent.ErrProviderClosed, err))
			return
		}
		var m audioMessage
		if err := json.Unmarshal(data, &m); err != nil {
			c.logger.Warn("elevenlabs: bad message", "error", err)
			continue
		}
		if m.Error != "" {
			c.logger.Warn("elevenlabs: server error", "error", m.Error, "message", m.Message)
			continue
		}
		if len(m.Audio) == 0 || c.ignore.Load() {
			continue
		}
		audio, ok := c.transcode(m.Audio)
		if !ok {
			continue
		}
		c.mu.Lock()
		h := c.onAudio
		c.mu.Unlock()
		if h == nil {
			continue
		}
		if err := h(ctx, audio); err != nil {
			c.logger.Warn("elevenlabs: audio handler failed", "error", err)
		}
	}
}

func (c *Client) transcode(audio []byte) (string, bool) {
	if c.codec == nil {
		c.ulawBytes.Add(int64(len(audio)))
		return codec.Passthrough(audio), true
	}
	return c.codec.Ingest(audio)
}

func (c *Client) fatal(err error) {
	c.logger.Error("elevenlabs connection lost", "error", err)
	c.mu.Lock()
	f := c.onFatal
	c.mu.Unlock()
	if f != nil {
		f(err)
	}
}
