package pcm

import (
	"fmt"
	"time"
)

// Format is 16-bit signed little-endian mono PCM, identified by its sample
// rate in Hz.
type Format int

// Mono rates seen on the call path.
const (
	L16Mono8K  Format = 8000 // telephony
	L16Mono16K Format = 16000
	L16Mono22K Format = 22050
	L16Mono24K Format = 24000
	L16Mono44K Format = 44100
)

// SampleRate returns the sample rate in Hz.
func (f Format) SampleRate() int {
	return int(f)
}

// BytesInDuration returns the number of bytes that hold d of audio,
// rounded down to a whole sample.
func (f Format) BytesInDuration(d time.Duration) int64 {
	return int64(d*time.Duration(f)/time.Second) * 2
}

// Duration returns how long n bytes of audio play. A trailing odd byte is
// not a sample and is ignored.
func (f Format) Duration(n int64) time.Duration {
	if f <= 0 {
		return 0
	}
	return time.Duration(n/2) * time.Second / time.Duration(f)
}

// String returns the MIME type of the format.
func (f Format) String() string {
	return fmt.Sprintf("audio/L16; rate=%d; channels=1", int(f))
}
