// Package pcm provides helpers for the raw audio format used throughout
// VoxBridge: 16 kHz mono signed 16-bit little-endian PCM.
//
// The helpers are deliberately allocation-light; the segmenter calls into
// this package once per 100 ms frame per speaker, so everything here is in
// the hot path of every call.
package pcm

import "math"

const (
	// SampleRate is the canonical sample rate of all audio on the wire.
	SampleRate = 16000

	// BytesPerSample is the width of one signed 16-bit little-endian sample.
	BytesPerSample = 2

	// FrameMillis is the canonical frame duration. Shorter frames are
	// permitted at utterance boundaries.
	FrameMillis = 100

	// FrameBytes is the byte length of one canonical 100 ms frame.
	FrameBytes = SampleRate / 1000 * FrameMillis * BytesPerSample // 3200

	// MaxFrameBytes is the largest binary frame the server accepts.
	MaxFrameBytes = 16000
)

// DurationMillis returns the play duration in milliseconds of n bytes of
// canonical PCM. Odd trailing bytes are ignored.
func DurationMillis(n int) int {
	return n / BytesPerSample * 1000 / SampleRate
}

// Samples decodes little-endian 16-bit PCM into int16 samples. An odd
// trailing byte is dropped.
func Samples(data []byte) []int16 {
	out := make([]int16, len(data)/BytesPerSample)
	for i := range out {
		out[i] = int16(data[2*i]) | int16(data[2*i+1])<<8
	}
	return out
}

// Bytes encodes int16 samples as little-endian 16-bit PCM.
func Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}

// RMS computes the root-mean-square amplitude of the samples in the int16
// scale (0..32767). Returns 0 for an empty slice.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// BandEnergy estimates the spectral energy of samples between lowHz and
// highHz, averaged per DFT bin so bands of different widths are comparable.
// Every bin inside the band contributes, so narrowband energy anywhere in
// the range is counted. The absolute value is meaningless on its own; it is
// intended for ratio comparisons between bands of the same window (e.g.
// speech band vs. hiss band).
func BandEnergy(samples []int16, sampleRate int, lowHz, highHz float64) float64 {
	n := len(samples)
	if n == 0 || lowHz >= highHz {
		return 0
	}
	nyquist := float64(sampleRate) / 2
	if highHz > nyquist {
		highHz = nyquist
	}

	// Bin spacing is sampleRate/n Hz.
	kLow := int(math.Ceil(lowHz * float64(n) / float64(sampleRate)))
	kHigh := int(math.Floor(highHz * float64(n) / float64(sampleRate)))
	if kLow < 0 {
		kLow = 0
	}
	if kHigh > n/2 {
		kHigh = n / 2
	}
	if kHigh < kLow {
		return 0
	}

	var total float64
	for k := kLow; k <= kHigh; k++ {
		total += goertzel(samples, k)
	}
	return total / float64(kHigh-kLow+1)
}

// goertzel returns the squared magnitude of DFT bin k.
func goertzel(samples []int16, k int) float64 {
	n := len(samples)
	w := 2 * math.Pi * float64(k) / float64(n)
	coeff := 2 * math.Cos(w)

	var s0, s1, s2 float64
	for _, sample := range samples {
		s0 = float64(sample) + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	return s1*s1 + s2*s2 - coeff*s1*s2
}

// Resample converts mono 16-bit PCM from one sample rate to another by
// linear interpolation. Returns data unchanged when the rates match.
// Used to bring provider synthesis output (e.g. 24 kHz) down to the
// canonical 16 kHz wire format.
func Resample(data []byte, fromRate, toRate int) []byte {
	if fromRate == toRate || fromRate <= 0 || toRate <= 0 {
		return data
	}
	in := Samples(data)
	if len(in) == 0 {
		return nil
	}
	outLen := int(int64(len(in)) * int64(toRate) / int64(fromRate))
	if outLen == 0 {
		return nil
	}
	out := make([]int16, outLen)
	ratio := float64(fromRate) / float64(toRate)
	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		out[i] = int16(float64(in[idx])*(1-frac) + float64(in[idx+1])*frac)
	}
	return Bytes(out)
}

// Sine synthesises amplitude*sin(2π·freq·t) as canonical PCM for the given
// duration. It exists for tests that need deterministic voiced or hiss-like
// input without shipping audio fixtures.
func Sine(freq float64, amplitude int16, millis int) []byte {
	n := SampleRate * millis / 1000
	samples := make([]int16, n)
	for i := range samples {
		t := float64(i) / SampleRate
		samples[i] = int16(float64(amplitude) * math.Sin(2*math.Pi*freq*t))
	}
	return Bytes(samples)
}
