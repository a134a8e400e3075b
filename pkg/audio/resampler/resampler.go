package resampler

import (
	"fmt"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/haivivi/phonecall/pkg/audio/pcm"
)

// Stream resamples 16-bit PCM pushed to it chunk by chunk. The filter state
// is kept between Process calls, so consecutive chunks of one audio stream
// join without discontinuities. A Stream must be used for one stream only.
type Stream struct {
	srcFmt Format
	dstFmt Format

	mu        sync.Mutex
	resampler resampling.Resampler
	closed    bool
}

// New creates a Stream converting from srcFmt to dstFmt. Stereo input is
// downmixed before resampling when dstFmt is mono; mono to stereo is not
// supported.
func New(srcFmt, dstFmt Format) (*Stream, error) {
	if !srcFmt.Stereo && dstFmt.Stereo {
		return nil, fmt.Errorf("resampler: mono to stereo is not supported")
	}
	s := &Stream{srcFmt: srcFmt, dstFmt: dstFmt}
	if srcFmt.SampleRate != dstFmt.SampleRate {
		r, err := resampling.New(&resampling.Config{
			InputRate:  float64(srcFmt.SampleRate),
			OutputRate: float64(dstFmt.SampleRate),
			Channels:   dstFmt.channels(),
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("resampler: create: %w", err)
		}
		s.resampler = r
	}
	return s, nil
}

// Process converts one chunk of interleaved 16-bit little-endian samples.
// The output may be shorter or longer than the rate ratio suggests because
// the filter delays part of the signal to the next call.
func (s *Stream) Process(chunk []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("resampler: stream closed")
	}

	if s.srcFmt.Stereo && !s.dstFmt.Stereo {
		chunk = pcm.Downmix(chunk, 2)
	}
	if s.resampler == nil {
		return chunk, nil
	}
	if len(chunk) < s.dstFmt.sampleBytes() {
		return nil, nil
	}
	out, err := s.resampler.Process(pcm.Float64s(chunk))
	if err != nil {
		return nil, fmt.Errorf("resampler: process: %w", err)
	}
	b := pcm.Int16Bytes(out)
	return b[:len(b)/s.dstFmt.sampleBytes()*s.dstFmt.sampleBytes()], nil
}

// Close releases the resampler. Later Process calls fail.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.resampler = nil
	return nil
}
