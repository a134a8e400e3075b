// Package pcm provides types and utilities for working with 16-bit PCM audio.
//
// Format describes the fixed mono formats used on the call path and converts
// between byte counts and durations. The conversion helpers downmix
// interleaved frames and move samples between int16 bytes and float64, the
// representation resamplers work on.
//
// Example usage:
//
//	// 20ms of caller audio at 8kHz
//	n := pcm.L16Mono8K.BytesInDuration(20 * time.Millisecond)
//
//	// Stereo decoder output to mono floats
//	samples := pcm.Float64s(pcm.Downmix(stereo, 2))
package pcm
