// Package codec converts speech-synthesis output into the caller transport's
// audio: 8 kHz mono μ-law, framed as standard base64.
package codec

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zaf/g711"

	"github.com/haivivi/phonecall/pkg/audio/codec/mp3"
	"github.com/haivivi/phonecall/pkg/audio/pcm"
	"github.com/haivivi/phonecall/pkg/audio/resampler"
	"github.com/haivivi/phonecall/pkg/encoding"
)

// TransportFormat is the PCM format the transport's μ-law encodes.
const TransportFormat = pcm.L16Mono8K

// Codec converts a stream of compressed audio chunks. Chunk boundaries from
// the provider do not line up with frames, so bytes stay buffered until
// their frame is complete. The decoder and resampler state span the whole
// stream.
type Codec struct {
	mu       sync.Mutex
	dec      mp3.Stream
	rs       *resampler.Stream
	srcFmt   resampler.Format
	produced int64
}

// New creates a Codec for an MP3 stream. The zero Codec is also ready to use.
func New() *Codec {
	return &Codec{}
}

// Ingest appends chunk to the pending buffer and decodes every frame it
// completes. It returns false while no frame is complete; that is not an
// error. Decoded audio is returned as base64 μ-law.
func (c *Codec) Ingest(chunk []byte) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	decoded, rate, err := c.dec.Write(chunk)
	if err != nil {
		if !errors.Is(err, mp3.ErrIncomplete) {
			slog.Warn("codec: drop corrupt audio", "buffered", c.dec.Buffered(), "error", err)
		}
		return "", false
	}

	out, err := c.resample(decoded, rate, mp3.Channels)
	if err != nil {
		slog.Warn("codec: drop chunk", "error", err)
		return "", false
	}
	if len(out) == 0 {
		return "", false
	}
	c.produced += int64(len(out))
	return encoding.StdBase64Data(g711.EncodeUlaw(out)).String(), true
}

func (c *Codec) resample(decoded []byte, rate, channels int) ([]byte, error) {
	src := resampler.Format{SampleRate: rate, Stereo: channels == 2}
	if c.rs == nil || c.srcFmt != src {
		if c.rs != nil {
			slog.Warn("codec: source format changed", "from", c.srcFmt, "to", src)
			c.rs.Close()
		}
		rs, err := resampler.New(src, resampler.Format{SampleRate: TransportFormat.SampleRate()})
		if err != nil {
			return nil, fmt.Errorf("codec: %w", err)
		}
		c.rs, c.srcFmt = rs, src
	}
	return c.rs.Process(decoded)
}

// Duration returns how much transport audio Ingest has produced.
func (c *Codec) Duration() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return TransportFormat.Duration(c.produced)
}

// Close releases the resampler.
func (c *Codec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dec.Reset()
	if c.rs == nil {
		return nil
	}
	return c.rs.Close()
}

// Passthrough frames audio that is already μ-law at the transport rate. It
// keeps no state.
func Passthrough(ulaw []byte) string {
	return encoding.StdBase64Data(ulaw).String()
}
