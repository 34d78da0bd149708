package signalclient

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/huddlekit/huddle/internal/protocol"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, backoffCap},
		{12, backoffCap},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffDelay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestWSURLFor(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/api/ws/signal"},
		{"https://hub.example.com", "wss://hub.example.com/api/ws/signal"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, wsURLFor(tt.base))
	}
}

func TestEvents_Routing(t *testing.T) {
	e := NewEvents()

	e.emit(protocol.Message{Type: protocol.TypeUserJoined, UserID: "bob"})
	e.emit(protocol.Message{Type: protocol.TypeChat, Text: "hi"})
	e.emit(protocol.Message{Type: protocol.TypeRoomFull})

	select {
	case msg := <-e.UserJoined:
		assert.Equal(t, "bob", msg.UserID)
	default:
		t.Fatal("userJoined not routed")
	}
	select {
	case msg := <-e.Chat:
		assert.Equal(t, "hi", msg.Text)
	default:
		t.Fatal("chat not routed")
	}
	select {
	case msg := <-e.RoomErrors:
		assert.Equal(t, protocol.TypeRoomFull, msg.Type)
	default:
		t.Fatal("roomFull not routed to the error channel")
	}
}

func TestEvents_FullChannelDropsInsteadOfBlocking(t *testing.T) {
	e := NewEvents()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// RoomCreated has capacity 1; the second emit must not block.
		e.emit(protocol.Message{Type: protocol.TypeRoomCreated, RoomID: "r1"})
		e.emit(protocol.Message{Type: protocol.TypeRoomCreated, RoomID: "r2"})
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked on a full channel")
	}

	msg := <-e.RoomCreated
	assert.Equal(t, "r1", msg.RoomID, "the earlier event survives")
}

func TestAnswerBook(t *testing.T) {
	b := newAnswerBook()

	ch := b.expect("bob")
	b.deliver("bob", "v=0 fake-answer")

	select {
	case sdp := <-ch:
		assert.Equal(t, "v=0 fake-answer", sdp)
	case <-time.After(time.Second):
		t.Fatal("answer not delivered")
	}

	// Answers from strangers are dropped silently.
	b.deliver("nobody", "v=0 stray")
}

func TestClient_SendWithoutConnection(t *testing.T) {
	c := New("http://localhost:8080")
	// The outbound queue absorbs sends even while disconnected; they
	// flush after Connect.
	require.NoError(t, c.Send(protocol.Message{Type: protocol.TypeChat, Text: "hi"}))
}

func TestClient_SendBackpressure(t *testing.T) {
	c := New("http://localhost:8080")
	var err error
	for i := 0; i < 1000; i++ {
		if err = c.Send(protocol.Message{Type: protocol.TypeChat}); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, ErrSendBufferFull)
}

func TestExchange_ContextCancellation(t *testing.T) {
	c := New("http://localhost:8080")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}
	_, err := c.Exchange(ctx, "bob", offer)
	assert.ErrorIs(t, err, ErrNoAnswer)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
