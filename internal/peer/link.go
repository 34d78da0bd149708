// Package peer establishes and tears down one peer link per remote
// participant: a control channel plus a media channel over a single
// transport. Exactly one link may exist per remote id at any time.
package peer

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/huddlekit/huddle/internal/domain"
)

type LinkState int32

const (
	StateConnecting LinkState = iota
	StateOpen
	StateClosed
)

func (s LinkState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// ErrNetwork classifies transient network/server failures that a dial
// may retry. All other error classes fail the attempt outright.
var ErrNetwork = errors.New("network error")

func retryable(err error) bool {
	if errors.Is(err, ErrNetwork) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Sender is an outbound media binding on one link.
type Sender interface {
	TrackID() string
	Kind() string
	ReplaceTrack(webrtc.TrackLocal) error
}

// Transport is the peer-connection carrier behind a link. Connect
// blocks until the control channel is open or ctx expires.
type Transport interface {
	Connect(ctx context.Context) error
	Close()
	AddTrack(webrtc.TrackLocal) (Sender, error)
	Senders() []Sender
	OnClosed(func())
}

// Dialer opens outgoing transports toward a remote participant.
type Dialer interface {
	Dial(ctx context.Context, remote domain.UserID) (Transport, error)
}

// Broker registers the local identity with the peer transport service.
type Broker interface {
	Register(ctx context.Context) error
}

// PeerLink pairs a remote participant with its transport. The transport
// field is written by the dialing goroutine and read by glare handling
// on other goroutines, so it gets its own lock.
type PeerLink struct {
	Remote   domain.UserID
	outgoing bool
	state    atomic.Int32

	tmu       sync.Mutex
	transport Transport
}

func newLink(remote domain.UserID, t Transport, outgoing bool) *PeerLink {
	return &PeerLink{Remote: remote, transport: t, outgoing: outgoing}
}

func (l *PeerLink) State() LinkState     { return LinkState(l.state.Load()) }
func (l *PeerLink) setState(s LinkState) { l.state.Store(int32(s)) }

func (l *PeerLink) Transport() Transport {
	l.tmu.Lock()
	defer l.tmu.Unlock()
	return l.transport
}

func (l *PeerLink) setTransport(t Transport) {
	l.tmu.Lock()
	l.transport = t
	l.tmu.Unlock()
}
