// Package mp3 decodes MP3 audio to 16-bit PCM using a pure Go decoder.
package mp3

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	gomp3 "github.com/hajimehoshi/go-mp3"
)

// Channels is the channel count of decoded PCM. The decoder always produces
// interleaved stereo; mono sources are duplicated into both channels.
const Channels = 2

// ErrIncomplete is returned when no complete MP3 frame is available yet.
var ErrIncomplete = errors.New("mp3: incomplete data")

// Stream decodes an MP3 byte stream that arrives in arbitrary chunks.
//
// Bytes are held until they form complete frames; only complete frames are
// handed to one long-lived decoder, so the bit reservoir and filter state
// carry over from chunk to chunk and nothing is lost at chunk boundaries.
type Stream struct {
	pending []byte
	feed    bytes.Buffer
	dec     *gomp3.Decoder
	rate    int
}

// Write appends chunk and returns the PCM of every frame it completed. It
// returns ErrIncomplete when no frame is complete yet. Other errors mean the
// stream was corrupt; the decoder is reset and the next frame starts fresh.
func (s *Stream) Write(chunk []byte) (pcm []byte, sampleRate int, err error) {
	s.pending = append(s.pending, chunk...)

	var pcmBytes int
	for {
		skip, h, ok := nextFrame(s.pending)
		s.pending = s.pending[skip:]
		if !ok {
			break
		}
		s.feed.Write(s.pending[:h.readSize()])
		s.pending = s.pending[h.size():]
		pcmBytes += h.pcmBytes()
	}
	if pcmBytes == 0 {
		return nil, 0, ErrIncomplete
	}

	if s.dec == nil {
		dec, err := gomp3.NewDecoder(&s.feed)
		if err != nil {
			s.reset()
			return nil, 0, fmt.Errorf("mp3: decode: %w", err)
		}
		s.dec, s.rate = dec, dec.SampleRate()
	}
	pcm = make([]byte, pcmBytes)
	if _, err := io.ReadFull(s.dec, pcm); err != nil {
		s.reset()
		return nil, 0, fmt.Errorf("mp3: decode: %w", err)
	}
	return pcm, s.rate, nil
}

// Buffered returns the number of bytes waiting for the rest of their frame.
func (s *Stream) Buffered() int {
	return len(s.pending)
}

// Reset drops all buffered data and decoder state.
func (s *Stream) Reset() {
	s.pending = nil
	s.reset()
}

func (s *Stream) reset() {
	s.feed.Reset()
	s.dec = nil
	s.rate = 0
}

// header is a 4-byte MPEG audio frame header of a Layer III frame the
// decoder supports: MPEG-1 or MPEG-2, fixed bitrate.
type header uint32

var (
	id3Magic = []byte("ID3")

	mpeg1Bitrates = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
	mpeg2Bitrates = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}
	sampleRates   = [3]int{44100, 48000, 32000}
)

func parseHeader(b []byte) (header, bool) {
	h := header(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
	switch {
	case h>>21 != 0x7ff: // sync
	case h.version() != 3 && h.version() != 2: // MPEG-2.5 and reserved
	case (h>>17)&3 != 1: // layer III
	case h.bitrateIndex() == 0 || h.bitrateIndex() == 15:
	case h.rateIndex() == 3:
	default:
		return h, true
	}
	return 0, false
}

func (h header) version() int      { return int(h>>19) & 3 }
func (h header) bitrateIndex() int { return int(h>>12) & 15 }
func (h header) rateIndex() int    { return int(h>>10) & 3 }
func (h header) padding() int      { return int(h>>9) & 1 }
func (h header) lsf() bool         { return h.version() != 3 }

func (h header) bitrate() int {
	if h.lsf() {
		return mpeg2Bitrates[h.bitrateIndex()] * 1000
	}
	return mpeg1Bitrates[h.bitrateIndex()] * 1000
}

func (h header) sampleRate() int {
	if h.lsf() {
		return sampleRates[h.rateIndex()] / 2
	}
	return sampleRates[h.rateIndex()]
}

// size is the frame's length in the byte stream.
func (h header) size() int {
	if h.lsf() {
		return 72*h.bitrate()/h.sampleRate() + h.padding()
	}
	return 144*h.bitrate()/h.sampleRate() + h.padding()
}

// readSize is the number of bytes the decoder consumes for the frame. It
// sizes padded MPEG-2 frames one byte short and would otherwise scan the
// extra byte as the start of the next header.
func (h header) readSize() int {
	if h.lsf() {
		return (144*h.bitrate()/h.sampleRate() + h.padding()) >> 1
	}
	return h.size()
}

// pcmBytes is the decoded size: 1152 (MPEG-1) or 576 (MPEG-2) stereo
// 16-bit samples.
func (h header) pcmBytes() int {
	if h.lsf() {
		return 576 * 4
	}
	return 1152 * 4
}

// nextFrame finds the first complete frame in b. skip is the number of
// leading bytes that are not frame data (ID3 tags, garbage) and can be
// dropped. ok is false when no complete frame is available; skip then
// covers only bytes that can never start one.
func nextFrame(b []byte) (skip int, h header, ok bool) {
	for i := 0; ; i++ {
		rest := b[i:]
		if len(rest) < 4 {
			return i, 0, false
		}
		if bytes.HasPrefix(rest, id3Magic) {
			n, complete := id3Size(rest)
			if !complete {
				return i, 0, false
			}
			i += n - 1
			continue
		}
		if h, valid := parseHeader(rest); valid {
			if len(rest) < h.size() {
				return i, 0, false
			}
			return i, h, true
		}
	}
}

// id3Size returns the length of the ID3v2 tag at the start of b.
func id3Size(b []byte) (int, bool) {
	if len(b) < 10 {
		return 0, false
	}
	n := 10 + (int(b[6]&0x7f)<<21 | int(b[7]&0x7f)<<14 | int(b[8]&0x7f)<<7 | int(b[9]&0x7f))
	if b[5]&0x10 != 0 {
		n += 10
	}
	return n, len(b) >= n
}
