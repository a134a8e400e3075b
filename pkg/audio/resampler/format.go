package resampler

import "fmt"

// Format is the sample rate and channel layout of 16-bit PCM on one side of
// a Stream.
type Format struct {
	SampleRate int  // Hz
	Stereo     bool // interleaved left/right frames
}

func (f Format) channels() int {
	if f.Stereo {
		return 2
	}
	return 1
}

// sampleBytes is the size of one frame across all channels.
func (f Format) sampleBytes() int {
	return 2 * f.channels()
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%dch", f.SampleRate, f.channels())
}
