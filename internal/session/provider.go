package session

import (
	"context"
	"fmt"
	"os"

	"github.com/pion/webrtc/v4"

	"github.com/huddlekit/huddle/internal/media"
)

// pcm16Codec describes the raw mono capture format carried on the
// outbound track.
var pcm16Codec = webrtc.RTPCodecCapability{
	MimeType:  "audio/L16",
	ClockRate: media.SampleRate,
	Channels:  1,
}

// NewOutboundAudioTrack builds the single outbound audio track every
// peer link shares.
func NewOutboundAudioTrack() (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(pcm16Codec, "audio", "huddle-mic")
}

// PCMProvider acquires local audio from a PCM16 capture stream, or a
// silent source when no path is given.
type PCMProvider struct{}

func (PCMProvider) Acquire(_ context.Context, prefs MediaPrefs) (*LocalMedia, error) {
	if !prefs.Audio {
		return nil, fmt.Errorf("audio capture is required")
	}
	track, err := NewOutboundAudioTrack()
	if err != nil {
		return nil, fmt.Errorf("outbound track: %w", err)
	}

	var src media.Source
	stop := func() {}
	if prefs.CapturePath != "" {
		f, err := os.Open(prefs.CapturePath)
		if err != nil {
			return nil, fmt.Errorf("open capture: %w", err)
		}
		src = media.NewReader(f)
		stop = func() { f.Close() }
	} else {
		src = media.NewSilence()
	}

	return &LocalMedia{
		Tracks: []webrtc.TrackLocal{track},
		Mic:    media.NewFanout(src),
		Stop:   stop,
	}, nil
}

// StaticProvider hands out one pre-acquired media handle. Used when
// the track and capture pipeline are assembled ahead of the session.
type StaticProvider struct {
	Media *LocalMedia
}

func (p StaticProvider) Acquire(context.Context, MediaPrefs) (*LocalMedia, error) {
	if p.Media == nil {
		return nil, fmt.Errorf("no media configured")
	}
	return p.Media, nil
}
