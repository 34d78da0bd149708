package signalclient

import (
	"context"
	"errors"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/protocol"
)

var ErrNoAnswer = errors.New("no answer from remote peer")

// answerBook holds one pending SDP answer slot per remote participant.
type answerBook struct {
	mu      sync.Mutex
	waiters map[string]chan string
}

func newAnswerBook() *answerBook {
	return &answerBook{waiters: make(map[string]chan string)}
}

func (b *answerBook) expect(remote string) chan string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan string, 1)
	b.waiters[remote] = ch
	return ch
}

func (b *answerBook) deliver(remote, sdp string) {
	b.mu.Lock()
	ch, ok := b.waiters[remote]
	if ok {
		delete(b.waiters, remote)
	}
	b.mu.Unlock()
	if ok {
		ch <- sdp
	}
}

func (b *answerBook) forget(remote string) {
	b.mu.Lock()
	delete(b.waiters, remote)
	b.mu.Unlock()
}

// Exchange relays the local offer through the hub and blocks until the
// remote's answer comes back or ctx expires. It satisfies the peer
// package's OfferExchanger.
func (c *Client) Exchange(ctx context.Context, remote domain.UserID, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	ch := c.pending.expect(string(remote))
	defer c.pending.forget(string(remote))

	err := c.Send(protocol.Message{
		Type:         protocol.TypeWebRTCOffer,
		TargetUserID: string(remote),
		SDP:          offer.SDP,
	})
	if err != nil {
		return webrtc.SessionDescription{}, err
	}

	select {
	case <-ctx.Done():
		return webrtc.SessionDescription{}, errors.Join(ErrNoAnswer, ctx.Err())
	case sdp := <-ch:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}, nil
	}
}

// SendAnswer replies to a remote offer.
func (c *Client) SendAnswer(remote domain.UserID, answer webrtc.SessionDescription) error {
	return c.Send(protocol.Message{
		Type:         protocol.TypeWebRTCAnswer,
		TargetUserID: string(remote),
		SDP:          answer.SDP,
	})
}
