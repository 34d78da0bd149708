package media

import "math"

// DetectorEvent is emitted by the speech detector per processed frame.
type DetectorEvent int

const (
	EventNone DetectorEvent = iota
	// EventSpeechStart fires once activation persisted long enough.
	EventSpeechStart
	// EventSpeechEnd closes a segment that was long enough to count.
	EventSpeechEnd
	// EventRetract closes a segment that turned out to be a false
	// positive (shorter than the minimum speech length).
	EventRetract
)

// Detector is an energy-based speech classifier with hangover. It only
// classifies; it never touches the outbound track.
type Detector struct {
	// Threshold is the RMS activation level in [0, 1].
	Threshold float64
	// ActivationFrames of consecutive energy before speech starts.
	ActivationFrames int
	// HangoverFrames of silence tolerated inside a segment.
	HangoverFrames int
	// MinSpeechFrames below which a segment is retracted.
	MinSpeechFrames int

	active      bool
	run         int // consecutive energetic frames while inactive
	quiet       int // consecutive quiet frames while active
	segmentLen  int
}

func NewDetector() *Detector {
	return &Detector{
		Threshold:        0.02,
		ActivationFrames: 2,
		HangoverFrames:   15,
		MinSpeechFrames:  8,
	}
}

// Process classifies one frame and returns the resulting event.
func (d *Detector) Process(f Frame) DetectorEvent {
	energetic := rms(f) >= d.Threshold

	if !d.active {
		if !energetic {
			d.run = 0
			return EventNone
		}
		d.run++
		if d.run < d.ActivationFrames {
			return EventNone
		}
		d.active = true
		d.segmentLen = d.run
		d.quiet = 0
		d.run = 0
		return EventSpeechStart
	}

	d.segmentLen++
	if energetic {
		d.quiet = 0
		return EventNone
	}
	d.quiet++
	if d.quiet < d.HangoverFrames {
		return EventNone
	}

	d.active = false
	short := d.segmentLen-d.quiet < d.MinSpeechFrames
	d.segmentLen = 0
	d.quiet = 0
	if short {
		return EventRetract
	}
	return EventSpeechEnd
}

// Speaking reports whether the detector is inside a segment.
func (d *Detector) Speaking() bool { return d.active }

func rms(f Frame) float64 {
	if len(f) == 0 {
		return 0
	}
	var sum float64
	for _, s := range f {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(f)))
}
