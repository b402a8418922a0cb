package segment

import "github.com/voxbridge/voxbridge/pkg/pcm"

const (
	// windowMillis is the span of audio the classifier considers per frame.
	// Single-frame decisions flap on plosives; a 400 ms window does not.
	windowMillis = 400

	// minWindowMillis is the audio required before the classifier trusts
	// its own judgement. Below this the frame is optimistically voice so
	// speech onsets are not clipped.
	minWindowMillis = 100

	windowSamples    = pcm.SampleRate * windowMillis / 1000
	minWindowSamples = pcm.SampleRate * minWindowMillis / 1000

	speechBandLowHz  = 80
	speechBandHighHz = 4000
	hissBandLowHz    = 5000
	hissBandHighHz   = 8000
)

// Classifier decides voice vs. not-voice per frame over a sliding window of
// the most recent audio. A frame is voice iff the window RMS meets the
// threshold and the speech band carries more than twice the energy of the
// band above 5 kHz, which filters keyboard clatter and other broadband
// clicks that pass a pure energy gate.
//
// Not safe for concurrent use; each speaker's segmenter owns one.
type Classifier struct {
	rmsThreshold float64
	window       []int16
}

// NewClassifier creates a Classifier with the given RMS threshold on the
// int16 scale.
func NewClassifier(rmsThreshold float64) *Classifier {
	return &Classifier{
		rmsThreshold: rmsThreshold,
		window:       make([]int16, 0, windowSamples),
	}
}

// Classify appends the frame to the sliding window and reports whether the
// frame counts as voice.
func (c *Classifier) Classify(frame []int16) bool {
	c.push(frame)

	if len(c.window) < minWindowSamples {
		return true
	}
	if pcm.RMS(c.window) < c.rmsThreshold {
		return false
	}
	speech := pcm.BandEnergy(c.window, pcm.SampleRate, speechBandLowHz, speechBandHighHz)
	hiss := pcm.BandEnergy(c.window, pcm.SampleRate, hissBandLowHz, hissBandHighHz)
	return speech > 2*hiss
}

// Reset clears the window, e.g. after a mute.
func (c *Classifier) Reset() {
	c.window = c.window[:0]
}

func (c *Classifier) push(frame []int16) {
	if len(frame) >= windowSamples {
		c.window = append(c.window[:0], frame[len(frame)-windowSamples:]...)
		return
	}
	if over := len(c.window) + len(frame) - windowSamples; over > 0 {
		n := copy(c.window, c.window[over:])
		c.window = c.window[:n]
	}
	c.window = append(c.window, frame...)
}
