// Package session is the client-side orchestrator: it drives room
// creation and join, owns the authoritative local roster, and wires
// signaling events to connection-manager and arbiter actions.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/huddlekit/huddle/internal/arbiter"
	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/media"
	"github.com/huddlekit/huddle/internal/protocol"
	"github.com/huddlekit/huddle/internal/signalclient"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateLeaving
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateLeaving:
		return "leaving"
	}
	return "unknown"
}

var (
	// ErrBusy rejects a navigate/join/create while a transition is in
	// flight; requests are not queued.
	ErrBusy = errors.New("session transition in progress")

	ErrNotConnected = errors.New("not in a room")
	ErrJoinFailed   = errors.New("join failed")
)

const responseTimeout = 10 * time.Second

// SignalSender is the outbound half of the signaling connection.
type SignalSender interface {
	Send(protocol.Message) error
	Close()
}

// Peers is the connection-manager surface the coordinator drives.
type Peers interface {
	Register(ctx context.Context) error
	ConnectToParticipant(ctx context.Context, remote domain.UserID) error
	Remove(remote domain.UserID)
	CloseAll()
	UpdateLocalTracks(ctx context.Context, tracks []webrtc.TrackLocal) error
}

// TrackArbiter is the outbound-audio surface the coordinator requests
// transitions from. It never mutates the bound track itself.
type TrackArbiter interface {
	SpeechStart()
	SpeechEnd()
	SetMuted(bool)
	SetSynthesis(bool)
	Enqueue(arbiter.Clip)
	State() arbiter.Snapshot
	Close()
}

// OfferHandler answers incoming peer offers.
type OfferHandler interface {
	HandleOffer(remote domain.UserID, sdp string)
}

// MediaPrefs are the acquisition constraints for local media.
type MediaPrefs struct {
	Audio bool
	Video bool
	// CapturePath points at the PCM capture stream; empty means the
	// default device pipe.
	CapturePath string
}

func DefaultPrefs() MediaPrefs { return MediaPrefs{Audio: true} }

// LocalMedia is the acquired local stream handle.
type LocalMedia struct {
	Tracks []webrtc.TrackLocal
	Mic    *media.Fanout
	Stop   func()
}

// MediaProvider acquires local media. Implementations live at the
// edges; the coordinator only sees this contract.
type MediaProvider interface {
	Acquire(ctx context.Context, prefs MediaPrefs) (*LocalMedia, error)
}

// RoomIdentity is the persisted identity of the current room.
type RoomIdentity struct {
	RoomID   string
	RoomName string
	Pin      string
}

// Coordinator is the top-level client orchestrator.
type Coordinator struct {
	Self domain.Participant

	signal   SignalSender
	events   *signalclient.Events
	peers    Peers
	provider MediaProvider
	arb      TrackArbiter
	offers   OfferHandler

	mu         sync.Mutex
	state      State
	opInFlight bool
	identity   RoomIdentity
	roster     map[domain.UserID]string
	localMedia *LocalMedia
	loopCancel context.CancelFunc

	transcript *TranscriptLog
	detector   *media.Detector
}

func NewCoordinator(self domain.Participant, signal SignalSender, events *signalclient.Events,
	peers Peers, provider MediaProvider, arb TrackArbiter, offers OfferHandler) *Coordinator {
	return &Coordinator{
		Self:       self,
		signal:     signal,
		events:     events,
		peers:      peers,
		provider:   provider,
		arb:        arb,
		offers:     offers,
		state:      StateIdle,
		roster:     make(map[domain.UserID]string),
		transcript: NewTranscriptLog(),
		detector:   media.NewDetector(),
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Identity returns the persisted room identity, zero when idle.
func (c *Coordinator) Identity() RoomIdentity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Roster returns the authoritative local participant list.
func (c *Coordinator) Roster() []domain.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Participant, 0, len(c.roster))
	for id, name := range c.roster {
		out = append(out, domain.Participant{ID: id, Username: name})
	}
	return out
}

func (c *Coordinator) Transcript() *TranscriptLog { return c.transcript }

// beginOp claims the single in-flight transition slot.
func (c *Coordinator) beginOp() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opInFlight {
		return ErrBusy
	}
	c.opInFlight = true
	c.state = StateConnecting
	return nil
}

func (c *Coordinator) endOp(next State) {
	c.mu.Lock()
	c.opInFlight = false
	c.state = next
	c.mu.Unlock()
}

// CreateRoom registers a new room with the hub and returns the local
// media handle. If already connected the current room is left first.
func (c *Coordinator) CreateRoom(ctx context.Context, roomName string, maxParticipants int) (*LocalMedia, error) {
	if c.State() == StateConnected {
		if err := c.LeaveRoom(ctx); err != nil {
			return nil, err
		}
	}
	if err := c.beginOp(); err != nil {
		return nil, err
	}

	lm, err := c.setupMedia(ctx, DefaultPrefs())
	if err != nil {
		c.endOp(StateIdle)
		return nil, err
	}
	if err := c.peers.Register(ctx); err != nil {
		c.teardownMedia()
		c.endOp(StateIdle)
		return nil, err
	}

	err = c.signal.Send(protocol.Message{
		Type:     protocol.TypeCreateRoom,
		RoomName: roomName,
		UserID:   string(c.Self.ID),
		UserName: c.Self.Username,
		MaxUsers: maxParticipants,
	})
	if err != nil {
		c.teardownMedia()
		c.endOp(StateIdle)
		return nil, err
	}

	created, err := c.await(ctx, c.events.RoomCreated)
	if err != nil {
		c.teardownMedia()
		c.endOp(StateIdle)
		return nil, fmt.Errorf("create room: %w", err)
	}

	c.mu.Lock()
	c.identity = RoomIdentity{RoomID: created.RoomID, RoomName: created.RoomName, Pin: created.Pin}
	c.roster[c.Self.ID] = c.Self.Username
	c.mu.Unlock()

	c.startLoops()
	c.endOp(StateConnected)
	log.Info().Str("module", "session").Str("room", created.RoomID).
		Str("pin", created.Pin).Msg("room created")
	return lm, nil
}

// JoinRoom connects to every current participant and then announces
// the local participant to the hub.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID string, prefs MediaPrefs) error {
	if c.State() == StateConnected {
		if err := c.LeaveRoom(ctx); err != nil {
			return err
		}
	}
	if err := c.beginOp(); err != nil {
		return err
	}

	if _, err := c.setupMedia(ctx, prefs); err != nil {
		c.endOp(StateIdle)
		return err
	}
	if err := c.peers.Register(ctx); err != nil {
		c.teardownMedia()
		c.endOp(StateIdle)
		return err
	}

	err := c.signal.Send(protocol.Message{
		Type:   protocol.TypeGetParticipants,
		RoomID: roomID,
		UserID: string(c.Self.ID),
	})
	if err != nil {
		c.teardownMedia()
		c.endOp(StateIdle)
		return err
	}
	snapshot, err := c.await(ctx, c.events.Participants)
	if err != nil {
		c.teardownMedia()
		c.endOp(StateIdle)
		return fmt.Errorf("%w: %v", ErrJoinFailed, err)
	}

	// Dial everyone already present, concurrently and independently.
	// One failed peer degrades that link only, never the whole join.
	var g errgroup.Group
	for _, p := range snapshot.Participants {
		if p.UserID == string(c.Self.ID) {
			continue
		}
		remote := domain.UserID(p.UserID)
		g.Go(func() error {
			if err := c.peers.ConnectToParticipant(ctx, remote); err != nil {
				log.Warn().Err(err).Str("module", "session").
					Str("remote", string(remote)).Msg("peer connect failed")
			}
			return nil
		})
	}
	_ = g.Wait()

	err = c.signal.Send(protocol.Message{
		Type:     protocol.TypeJoinRoom,
		RoomID:   roomID,
		UserID:   string(c.Self.ID),
		UserName: c.Self.Username,
	})
	if err != nil {
		c.teardownAll()
		c.endOp(StateIdle)
		return err
	}

	c.mu.Lock()
	c.identity = RoomIdentity{RoomID: roomID}
	c.roster = make(map[domain.UserID]string, len(snapshot.Participants)+1)
	for _, p := range snapshot.Participants {
		c.roster[domain.UserID(p.UserID)] = p.UserName
	}
	c.roster[c.Self.ID] = c.Self.Username
	c.mu.Unlock()

	c.startLoops()
	c.endOp(StateConnected)
	log.Info().Str("module", "session").Str("room", roomID).
		Int("peers", len(snapshot.Participants)).Msg("joined room")
	return nil
}

// LeaveRoom tears down every peer link, stops local media, clears the
// roster and closes the transport; the hub learns of the leave from
// the disconnection.
func (c *Coordinator) LeaveRoom(_ context.Context) error {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return ErrNotConnected
	}
	if c.opInFlight {
		c.mu.Unlock()
		return ErrBusy
	}
	c.opInFlight = true
	c.state = StateLeaving
	c.mu.Unlock()

	c.stopLoops()
	c.peers.CloseAll()
	c.arb.Close()
	c.teardownMedia()

	c.mu.Lock()
	c.roster = make(map[domain.UserID]string)
	c.identity = RoomIdentity{}
	c.mu.Unlock()

	c.signal.Close()
	c.endOp(StateIdle)
	log.Info().Str("module", "session").Msg("left room")
	return nil
}

// setupMedia acquires local media, falling back to the default
// constraints once before surfacing the error.
func (c *Coordinator) setupMedia(ctx context.Context, prefs MediaPrefs) (*LocalMedia, error) {
	lm, err := c.provider.Acquire(ctx, prefs)
	if err != nil {
		log.Warn().Err(err).Str("module", "session").Msg("media acquisition failed, falling back to defaults")
		lm, err = c.provider.Acquire(ctx, DefaultPrefs())
		if err != nil {
			return nil, fmt.Errorf("media acquisition: %w", err)
		}
	}
	c.mu.Lock()
	c.localMedia = lm
	c.mu.Unlock()
	return lm, nil
}

func (c *Coordinator) teardownMedia() {
	c.mu.Lock()
	lm := c.localMedia
	c.localMedia = nil
	c.mu.Unlock()
	if lm != nil && lm.Stop != nil {
		lm.Stop()
	}
}

func (c *Coordinator) teardownAll() {
	c.peers.CloseAll()
	c.teardownMedia()
}

// await reads one message from ch within the response window. A hub
// error arriving meanwhile fails the wait.
func (c *Coordinator) await(ctx context.Context, ch chan protocol.Message) (protocol.Message, error) {
	timer := time.NewTimer(responseTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	case <-timer.C:
		return protocol.Message{}, context.DeadlineExceeded
	case msg := <-ch:
		return msg, nil
	case msg := <-c.events.RoomErrors:
		switch msg.Type {
		case protocol.TypeRoomNotFound:
			return protocol.Message{}, errors.New("room not found")
		case protocol.TypeRoomFull:
			return protocol.Message{}, errors.New("room full")
		default:
			return protocol.Message{}, fmt.Errorf("hub error: %s", msg.Error)
		}
	}
}
