package twilio

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haivivi/phonecall/pkg/call"
	"github.com/haivivi/phonecall/pkg/encoding"
)

// ErrMalformedFrame is returned when a media stream message cannot be
// decoded. It aborts the stream.
var ErrMalformedFrame = errors.New("twilio: malformed frame")

// Media stream event names.
const (
	eventConnected = "connected"
	eventStart     = "start"
	eventMedia     = "media"
	eventMark      = "mark"
	eventStop      = "stop"
	eventDTMF      = "dtmf"
	eventClear     = "clear"
)

// inboundFrame is any message Twilio sends on a media stream. Only the
// member named by Event is set.
type inboundFrame struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid,omitempty"`
	Start     *startFrame  `json:"start,omitempty"`
	Media     *mediaFrame  `json:"media,omitempty"`
	Stop      *stopFrame   `json:"stop,omitempty"`
	Mark      *markPayload `json:"mark,omitempty"`
}

type startFrame struct {
	AccountSid       string            `json:"accountSid"`
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters"`
	MediaFormat      struct {
		Encoding   string `json:"encoding"`
		SampleRate int    `json:"sampleRate"`
		Channels   int    `json:"channels"`
	} `json:"mediaFormat"`
}

type mediaFrame struct {
	Track     string                 `json:"track,omitempty"`
	Chunk     string                 `json:"chunk,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
	Payload   encoding.StdBase64Data `json:"payload"`
}

type stopFrame struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

type markPayload struct {
	Name string `json:"name"`
}

// outboundMedia is sent to play audio to the caller. Payload is already
// base64 μ-law.
type outboundMedia struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
	Media     struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

// outboundControl is a clear message.
type outboundControl struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

func parseFrame(data []byte) (*inboundFrame, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	switch f.Event {
	case eventStart:
		if f.Start == nil || f.Start.StreamSid == "" {
			return nil, fmt.Errorf("%w: start without stream sid", ErrMalformedFrame)
		}
	case eventMedia:
		if f.Media == nil {
			return nil, fmt.Errorf("%w: media without payload", ErrMalformedFrame)
		}
	case "":
		return nil, fmt.Errorf("%w: missing event", ErrMalformedFrame)
	}
	return &f, nil
}

func (s *startFrame) metadata() call.StartMetadata {
	return call.StartMetadata{
		CallID:           s.CallSid,
		StreamID:         s.StreamSid,
		CustomParameters: s.CustomParameters,
	}
}
