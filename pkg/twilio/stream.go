// Package twilio is the telephony side of a call: the server end of a Twilio
// Media Stream websocket, the TwiML that points a call at it, and outbound
// call dispatch through the Twilio REST API.
package twilio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haivivi/phonecall/pkg/call"
	"github.com/haivivi/phonecall/pkg/eventbus"
)

const writeTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Stream is one accepted media stream. Inbound events are published on the
// call bus; outbound audio and clear messages are written with SendAudio and
// SendClear from any goroutine.
type Stream struct {
	conn   *websocket.Conn
	bus    *eventbus.Bus[call.Event]
	logger *slog.Logger

	mu        sync.Mutex
	streamSid string
	ended     bool
}

// Accept upgrades the request to a media stream websocket.
func Accept(w http.ResponseWriter, r *http.Request, bus *eventbus.Bus[call.Event], logger *slog.Logger) (*Stream, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("twilio: upgrade: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Stream{conn: conn, bus: bus, logger: logger}, nil
}

// Serve reads the stream until Twilio stops it, the socket closes or ctx is
// done. Each message's handler finishes before the next message is read.
// EventEnded is published exactly once when Serve returns, also on error.
// A malformed frame or a failing handler ends the stream with that error.
func (s *Stream) Serve(ctx context.Context) (err error) {
	defer func() {
		if endErr := s.end(context.WithoutCancel(ctx)); endErr != nil {
			err = errors.Join(err, endErr)
		}
	}()

	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return context.Cause(ctx)
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("twilio: read: %w", err)
		}
		f, err := parseFrame(data)
		if err != nil {
			return err
		}
		done, err := s.dispatch(ctx, f)
		if err != nil || done {
			return err
		}
	}
}

func (s *Stream) dispatch(ctx context.Context, f *inboundFrame) (done bool, err error) {
	switch f.Event {
	case eventConnected, eventMark, eventDTMF:
		s.logger.Debug("twilio: frame ignored", "event", f.Event)
	case eventStart:
		s.mu.Lock()
		s.streamSid = f.Start.StreamSid
		s.mu.Unlock()
		s.logger.Info("media stream started", "call_sid", f.Start.CallSid, "stream_sid", f.Start.StreamSid)
		if err := s.bus.Publish(ctx, call.EventStarted, f.Start.metadata()); err != nil {
			return true, err
		}
	case eventMedia:
		if f.Media.Track != "" && f.Media.Track != "inbound" {
			return false, nil
		}
		if err := s.bus.Publish(ctx, call.EventAudio, []byte(f.Media.Payload)); err != nil {
			return true, err
		}
	case eventStop:
		s.logger.Info("media stream stopped")
		return true, nil
	default:
		s.logger.Debug("twilio: unknown event", "event", f.Event)
	}
	return false, nil
}

func (s *Stream) end(ctx context.Context) error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return nil
	}
	s.ended = true
	s.mu.Unlock()
	return s.bus.Publish(ctx, call.EventEnded, nil)
}

// StreamSid returns the stream id from the start message, or "" before it.
func (s *Stream) StreamSid() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSid
}

// SendAudio plays base64 μ-law audio to the caller.
func (s *Stream) SendAudio(_ context.Context, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := outboundMedia{Event: eventMedia, StreamSid: s.streamSid}
	m.Media.Payload = payload
	return s.writeLocked(m)
}

// SendClear drops the audio Twilio has buffered but not yet played.
func (s *Stream) SendClear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(outboundControl{Event: eventClear, StreamSid: s.streamSid})
}

func (s *Stream) writeLocked(v any) error {
	if s.streamSid == "" {
		return fmt.Errorf("twilio: stream not started")
	}
	s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := s.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("twilio: write: %w", err)
	}
	return nil
}

// Close closes the websocket.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return s.conn.Close()
}
