// Package resampler converts the sample rate of streamed 16-bit PCM audio
// using a pure Go resampler.
//
// Audio arrives from speech providers in small chunks. A [Stream] keeps the
// filter state between chunks so the output is continuous; creating a new
// resampler per chunk would produce clicks at every chunk boundary.
//
// Example usage:
//
//	src := resampler.Format{SampleRate: 44100, Stereo: true}
//	dst := resampler.Format{SampleRate: 8000}
//	s, err := resampler.New(src, dst)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//	for chunk := range chunks {
//	    out, err := s.Process(chunk)
//	    ...
//	}
package resampler
