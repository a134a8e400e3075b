package twilio

import (
	"fmt"
	"maps"
	"slices"

	"github.com/twilio/twilio-go/twiml"
)

// StreamTwiML returns the TwiML that connects a call to the media stream at
// streamURL. params become the stream's custom parameters, which arrive in
// the start message. The trailing pause keeps the call up while the stream
// connects.
func StreamTwiML(streamURL string, params map[string]string) (string, error) {
	if streamURL == "" {
		return "", fmt.Errorf("twilio: stream url is required")
	}
	var inner []twiml.Element
	for _, k := range slices.Sorted(maps.Keys(params)) {
		inner = append(inner, &twiml.VoiceParameter{Name: k, Value: params[k]})
	}
	doc, err := twiml.Voice([]twiml.Element{
		&twiml.VoiceConnect{
			InnerElements: []twiml.Element{
				&twiml.VoiceStream{Url: streamURL, InnerElements: inner},
			},
		},
		&twiml.VoicePause{Length: "1000"},
	})
	if err != nil {
		return "", fmt.Errorf("twilio: build twiml: %w", err)
	}
	return doc, nil
}
