// Package audio groups the audio handling of a phone call:
//
//   - pcm: 16-bit PCM formats and sample conversion
//   - resampler: streaming sample rate conversion
//   - codec: synthesizer output to 8 kHz μ-law for the telephony transport
//   - codec/mp3: MP3 decoding
package audio
