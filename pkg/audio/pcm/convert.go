package pcm

// Downmix averages interleaved 16-bit little-endian frames of the given
// channel count into mono. Mono input is returned unchanged; a trailing
// partial frame is dropped.
func Downmix(b []byte, channels int) []byte {
	if channels <= 1 {
		return b
	}
	frameBytes := 2 * channels
	numFrames := len(b) / frameBytes
	out := make([]byte, numFrames*2)
	for i := range numFrames {
		var sum int32
		for c := range channels {
			j := i*frameBytes + c*2
			sum += int32(int16(b[j]) | int16(b[j+1])<<8)
		}
		m := int16(sum / int32(channels))
		out[i*2] = byte(m)
		out[i*2+1] = byte(m >> 8)
	}
	return out
}

// Float64s decodes 16-bit little-endian samples into the range [-1, 1).
func Float64s(b []byte) []float64 {
	out := make([]float64, len(b)/2)
	for i := range out {
		s := int16(b[i*2]) | int16(b[i*2+1])<<8
		out[i] = float64(s) / 32768.0
	}
	return out
}

// Int16Bytes encodes samples as 16-bit little-endian, clipping values outside
// [-1, 1].
func Int16Bytes(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		var v int16
		switch {
		case s >= 1.0:
			v = 32767
		case s < -1.0:
			v = -32768
		default:
			v = int16(s * 32767.0)
		}
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}
