package signalclient

import (
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/protocol"
)

// Events routes incoming hub messages onto typed channels. Delivery is
// at-most-one subscriber per channel; a full channel drops the event so
// a stalled consumer cannot wedge the read pump.
type Events struct {
	RoomCreated   chan protocol.Message
	Participants  chan protocol.Message
	UserJoined    chan protocol.Message
	UserLeft      chan protocol.Message
	TrackState    chan protocol.Message
	Chat          chan protocol.Message
	Transcription chan protocol.Message
	TTSStatus     chan protocol.Message
	Offers        chan protocol.Message
	RoomErrors    chan protocol.Message
	Fatal         chan error
}

func NewEvents() *Events {
	return &Events{
		RoomCreated:   make(chan protocol.Message, 1),
		Participants:  make(chan protocol.Message, 1),
		UserJoined:    make(chan protocol.Message, 16),
		UserLeft:      make(chan protocol.Message, 16),
		TrackState:    make(chan protocol.Message, 32),
		Chat:          make(chan protocol.Message, 32),
		Transcription: make(chan protocol.Message, 32),
		TTSStatus:     make(chan protocol.Message, 16),
		Offers:        make(chan protocol.Message, 16),
		RoomErrors:    make(chan protocol.Message, 4),
		Fatal:         make(chan error, 1),
	}
}

func (e *Events) emit(msg protocol.Message) {
	var ch chan protocol.Message
	switch msg.Type {
	case protocol.TypeRoomCreated:
		ch = e.RoomCreated
	case protocol.TypeParticipants:
		ch = e.Participants
	case protocol.TypeUserJoined:
		ch = e.UserJoined
	case protocol.TypeUserLeft:
		ch = e.UserLeft
	case protocol.TypeTrackState:
		ch = e.TrackState
	case protocol.TypeChat:
		ch = e.Chat
	case protocol.TypeTranscription:
		ch = e.Transcription
	case protocol.TypeTTSStatus:
		ch = e.TTSStatus
	case protocol.TypeWebRTCOffer:
		ch = e.Offers
	case protocol.TypeRoomNotFound, protocol.TypeRoomFull, protocol.TypeError:
		ch = e.RoomErrors
	default:
		log.Warn().Str("module", "signalclient").Str("type", msg.Type).Msg("unknown signal")
		return
	}
	select {
	case ch <- msg:
	default:
		log.Warn().Str("module", "signalclient").Str("type", msg.Type).Msg("event dropped")
	}
}

func (e *Events) emitFatal(err error) {
	select {
	case e.Fatal <- err:
	default:
	}
}
