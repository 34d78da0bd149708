package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/arbiter"
	"github.com/huddlekit/huddle/internal/media"
	"github.com/huddlekit/huddle/internal/protocol"
)

// JoinRoomByPin resolves the pin through the hub and joins the room it
// maps to.
func (c *Coordinator) JoinRoomByPin(ctx context.Context, pin string, prefs MediaPrefs) error {
	if c.State() == StateConnected {
		if err := c.LeaveRoom(ctx); err != nil {
			return err
		}
	}
	err := c.signal.Send(protocol.Message{
		Type:   protocol.TypeGetParticipants,
		Pin:    pin,
		UserID: string(c.Self.ID),
	})
	if err != nil {
		return err
	}
	snapshot, err := c.await(ctx, c.events.Participants)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrJoinFailed, err)
	}
	if snapshot.RoomID == "" {
		return fmt.Errorf("%w: no room for pin", ErrJoinFailed)
	}
	return c.JoinRoom(ctx, snapshot.RoomID, prefs)
}

// SetMuted flips the mute intent and announces the new audio track
// state to the room. A synthesized clip already playing finishes
// before the mute lands.
func (c *Coordinator) SetMuted(muted bool) error {
	c.arb.SetMuted(muted)
	c.mu.Lock()
	roomID := c.identity.RoomID
	c.mu.Unlock()
	if roomID == "" {
		return nil
	}
	return c.signal.Send(protocol.Message{
		Type:      protocol.TypeTrackState,
		RoomID:    roomID,
		UserID:    string(c.Self.ID),
		TrackKind: "audio",
		Enabled:   protocol.Bool(!muted),
	})
}

// SetSynthesis switches synthesized-speech mode. Turning it off
// discards any queued clips.
func (c *Coordinator) SetSynthesis(active bool) error {
	c.arb.SetSynthesis(active)
	c.mu.Lock()
	roomID := c.identity.RoomID
	c.mu.Unlock()
	if roomID == "" {
		return nil
	}
	return c.signal.Send(protocol.Message{
		Type:   protocol.TypeTTSStatus,
		RoomID: roomID,
		UserID: string(c.Self.ID),
		Active: protocol.Bool(active),
	})
}

// InjectSynthesizedAudio queues a synthesized WAV clip for playback on
// the outbound track.
func (c *Coordinator) InjectSynthesizedAudio(wav []byte, clipContext string) error {
	samples, rate, err := media.DecodeWAV(wav)
	if err != nil {
		return fmt.Errorf("synthesized clip: %w", err)
	}
	if rate != media.SampleRate {
		return fmt.Errorf("synthesized clip: unsupported sample rate %d", rate)
	}
	c.arb.Enqueue(arbiter.Clip{Audio: samples, Context: clipContext})
	log.Debug().Str("module", "session").Int("samples", len(samples)).
		Str("context", clipContext).Msg("clip queued")
	return nil
}

// SendChat broadcasts a chat line to the room.
func (c *Coordinator) SendChat(text string) error {
	c.mu.Lock()
	roomID := c.identity.RoomID
	c.mu.Unlock()
	if roomID == "" {
		return ErrNotConnected
	}
	return c.signal.Send(protocol.Message{
		Type:      protocol.TypeChat,
		RoomID:    roomID,
		UserID:    string(c.Self.ID),
		UserName:  c.Self.Username,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	})
}
