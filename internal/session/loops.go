package session

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/arbiter"
	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/media"
	"github.com/huddlekit/huddle/internal/protocol"
)

func (c *Coordinator) startLoops() {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.loopCancel = cancel
	lm := c.localMedia
	c.mu.Unlock()

	go c.eventLoop(ctx)
	if lm != nil && lm.Mic != nil {
		go lm.Mic.Run(ctx)
		go c.vadLoop(ctx, lm.Mic.Subscribe())
	}
}

func (c *Coordinator) stopLoops() {
	c.mu.Lock()
	cancel := c.loopCancel
	c.loopCancel = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// eventLoop applies hub notifications to local state. It exits when
// the session leaves the room or the signaling link dies for good.
func (c *Coordinator) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case msg := <-c.events.UserJoined:
			c.handleUserJoined(msg)

		case msg := <-c.events.UserLeft:
			c.handleUserLeft(msg)

		case msg := <-c.events.Offers:
			c.offers.HandleOffer(domain.UserID(msg.UserID), msg.SDP)

		case msg := <-c.events.Transcription:
			c.transcript.Append(Entry{
				UserID:    domain.UserID(msg.UserID),
				UserName:  msg.UserName,
				Text:      msg.Text,
				Timestamp: time.UnixMilli(msg.Timestamp),
			})

		case msg := <-c.events.TrackState:
			log.Debug().Str("module", "session").Str("user", msg.UserID).
				Str("kind", msg.TrackKind).Msg("remote track state changed")

		case msg := <-c.events.TTSStatus:
			log.Debug().Str("module", "session").Str("user", msg.UserID).
				Msg("remote synthesis status changed")

		case err := <-c.events.Fatal:
			log.Error().Err(err).Str("module", "session").Msg("signaling lost, resetting session")
			c.resetAfterFatal()
			return
		}
	}
}

// handleUserJoined adds the participant to the roster. Duplicate
// notifications are idempotent; the glare winner already holds a link,
// so no dial happens here. The late joiner dials us.
func (c *Coordinator) handleUserJoined(msg protocol.Message) {
	id := domain.UserID(msg.UserID)
	if id == c.Self.ID {
		return
	}
	c.mu.Lock()
	_, known := c.roster[id]
	c.roster[id] = msg.UserName
	c.mu.Unlock()
	if !known {
		log.Info().Str("module", "session").Str("user", string(id)).
			Str("name", msg.UserName).Msg("participant joined")
	}
}

func (c *Coordinator) handleUserLeft(msg protocol.Message) {
	id := domain.UserID(msg.UserID)
	c.mu.Lock()
	_, known := c.roster[id]
	delete(c.roster, id)
	c.mu.Unlock()
	if !known {
		return
	}
	c.peers.Remove(id)
	log.Info().Str("module", "session").Str("user", string(id)).Msg("participant left")
}

// resetAfterFatal tears everything down after signaling is gone.
func (c *Coordinator) resetAfterFatal() {
	c.stopLoops()
	c.peers.CloseAll()
	c.arb.Close()
	c.teardownMedia()
	c.mu.Lock()
	c.roster = make(map[domain.UserID]string)
	c.identity = RoomIdentity{}
	c.state = StateIdle
	c.opInFlight = false
	c.mu.Unlock()
}

// vadLoop reads mic frames, drives the speech detector and ships
// finished utterances to the hub for transcription.
func (c *Coordinator) vadLoop(ctx context.Context, src *media.ChannelSource) {
	var segment []int16
	for {
		frame, err := src.ReadFrame(ctx)
		if err != nil {
			return
		}
		ev := c.detector.Process(frame)
		if c.detector.Speaking() || ev == media.EventSpeechStart {
			segment = append(segment, frame...)
		}
		switch ev {
		case media.EventSpeechStart:
			c.arb.SpeechStart()
		case media.EventRetract:
			c.arb.SpeechEnd()
			segment = segment[:0]
		case media.EventSpeechEnd:
			c.arb.SpeechEnd()
			c.shipSegment(segment)
			segment = nil
		}
	}
}

// shipSegment uploads a finished speech segment unless muted.
func (c *Coordinator) shipSegment(samples []int16) {
	if len(samples) == 0 {
		return
	}
	if c.arb.State().Mode == arbiter.ModeMuted {
		return
	}
	c.mu.Lock()
	roomID := c.identity.RoomID
	c.mu.Unlock()
	if roomID == "" {
		return
	}
	wav := media.EncodeWAV(samples, media.SampleRate)
	err := c.signal.Send(protocol.Message{
		Type:      protocol.TypeTranscriptionRq,
		RoomID:    roomID,
		UserID:    string(c.Self.ID),
		UserName:  c.Self.Username,
		Audio:     base64.StdEncoding.EncodeToString(wav),
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("transcription upload failed")
	}
}
