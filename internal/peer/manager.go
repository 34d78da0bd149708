package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/huddlekit/huddle/internal/domain"
)

const (
	// A connection attempt that has not reached open within this
	// window is aborted and reported as a failure.
	connectTimeout = 10 * time.Second

	registerAttempts = 3
	registerTimeout  = 5 * time.Second
)

// Manager owns every PeerLink of the local session.
type Manager struct {
	self   domain.UserID
	dialer Dialer
	broker Broker

	// OnPeerClosed, when set, is invoked after a link is removed so
	// the session coordinator can reconcile its roster.
	OnPeerClosed func(domain.UserID)

	mu    sync.Mutex
	links map[domain.UserID]*PeerLink
}

func NewManager(self domain.UserID, dialer Dialer, broker Broker) *Manager {
	return &Manager{
		self:   self,
		dialer: dialer,
		broker: broker,
		links:  make(map[domain.UserID]*PeerLink),
	}
}

// Register announces the local identity to the transport broker,
// retrying before surfacing a fatal connection error.
func (m *Manager) Register(ctx context.Context) error {
	if m.broker == nil {
		return nil
	}
	var lastErr error
	for attempt := 1; attempt <= registerAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, registerTimeout)
		lastErr = m.broker.Register(attemptCtx)
		cancel()
		if lastErr == nil {
			return nil
		}
		log.Warn().Err(lastErr).Str("module", "peer").Int("attempt", attempt).Msg("registration failed")
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("peer registration failed after %d attempts: %w", registerAttempts, lastErr)
}

// ConnectToParticipant dials remote unless a link already exists.
// Duplicate attempts are suppressed, not merged.
func (m *Manager) ConnectToParticipant(ctx context.Context, remote domain.UserID) error {
	m.mu.Lock()
	if _, ok := m.links[remote]; ok {
		m.mu.Unlock()
		return nil
	}
	link := newLink(remote, nil, true)
	m.links[remote] = link // reserve the slot before any await point
	m.mu.Unlock()

	err := m.dial(ctx, remote, link)
	if err == nil {
		return nil
	}
	if retryable(err) {
		log.Warn().Err(err).Str("module", "peer").Str("remote", string(remote)).Msg("retrying dial")
		if err = m.dial(ctx, remote, link); err == nil {
			return nil
		}
	}
	// Remove only our reservation; a glare winner may have replaced it.
	m.mu.Lock()
	if cur, ok := m.links[remote]; ok && cur == link {
		delete(m.links, remote)
	}
	m.mu.Unlock()
	return fmt.Errorf("connect to %s: %w", remote, err)
}

func (m *Manager) dial(ctx context.Context, remote domain.UserID, link *PeerLink) error {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	t, err := m.dialer.Dial(dialCtx, remote)
	if err != nil {
		return err
	}
	link.setTransport(t)
	if err := t.Connect(dialCtx); err != nil {
		t.Close()
		link.setTransport(nil)
		return err
	}

	m.mu.Lock()
	if cur, ok := m.links[remote]; !ok || cur != link {
		// Lost a glare race while connecting; drop our side silently.
		m.mu.Unlock()
		t.Close()
		return nil
	}
	link.setState(StateOpen)
	m.mu.Unlock()

	t.OnClosed(func() { m.handleClosed(remote, link) })
	log.Info().Str("module", "peer").Str("remote", string(remote)).Msg("peer link open")
	return nil
}

// AcceptIncoming decides whether an incoming connection for remote is
// taken. Auto-accept applies only when no link exists; under glare the
// lexicographically smaller local id accepts the incoming call and
// drops its own dial, the larger keeps dialing and rejects incoming.
func (m *Manager) AcceptIncoming(remote domain.UserID, t Transport) bool {
	m.mu.Lock()
	if existing, ok := m.links[remote]; ok {
		if existing.State() == StateOpen || m.self > remote {
			m.mu.Unlock()
			log.Info().Str("module", "peer").Str("remote", string(remote)).Msg("duplicate incoming dropped")
			return false
		}
		// Glare and we yield: abort the in-flight outgoing dial.
		old := existing.Transport()
		delete(m.links, remote)
		if old != nil {
			old.Close()
		}
		log.Info().Str("module", "peer").Str("remote", string(remote)).Msg("yielding outgoing dial to incoming call")
	}
	link := newLink(remote, t, false)
	link.setState(StateOpen)
	m.links[remote] = link
	m.mu.Unlock()

	t.OnClosed(func() { m.handleClosed(remote, link) })
	return true
}

// UpdateLocalTracks replaces, in place and without renegotiation, every
// open link's senders whose bound track differs from the matching new
// track. Replacement proceeds concurrently across links; per-peer
// failures are logged and do not abort the others.
func (m *Manager) UpdateLocalTracks(ctx context.Context, tracks []webrtc.TrackLocal) error {
	type target struct {
		link *PeerLink
		t    Transport
	}
	m.mu.Lock()
	open := make([]target, 0, len(m.links))
	for _, l := range m.links {
		if t := l.Transport(); l.State() == StateOpen && t != nil {
			open = append(open, target{link: l, t: t})
		}
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, l := range open {
		g.Go(func() error {
			for _, s := range l.t.Senders() {
				for _, track := range tracks {
					if s.Kind() != track.Kind().String() || s.TrackID() == track.ID() {
						continue
					}
					if err := s.ReplaceTrack(track); err != nil {
						log.Error().Err(err).Str("module", "peer").
							Str("remote", string(l.link.Remote)).Str("track", track.ID()).
							Msg("track replacement failed")
					}
				}
			}
			return nil
		})
	}
	return g.Wait()
}

// Remove tears down the link for remote, if any.
func (m *Manager) Remove(remote domain.UserID) {
	m.mu.Lock()
	link, ok := m.links[remote]
	if ok {
		delete(m.links, remote)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	link.setState(StateClosed)
	if t := link.Transport(); t != nil {
		t.Close()
	}
	log.Info().Str("module", "peer").Str("remote", string(remote)).Msg("peer link removed")
}

// CloseAll tears down every link; used when leaving a room.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	links := m.links
	m.links = make(map[domain.UserID]*PeerLink)
	m.mu.Unlock()
	for _, l := range links {
		l.setState(StateClosed)
		if t := l.Transport(); t != nil {
			t.Close()
		}
	}
}

// Has reports whether a link exists for remote.
func (m *Manager) Has(remote domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.links[remote]
	return ok
}

// LinkState returns the state of the link for remote.
func (m *Manager) LinkState(remote domain.UserID) (LinkState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[remote]
	if !ok {
		return StateClosed, false
	}
	return l.State(), true
}

func (m *Manager) handleClosed(remote domain.UserID, link *PeerLink) {
	m.mu.Lock()
	cur, ok := m.links[remote]
	if !ok || cur != link {
		m.mu.Unlock()
		return
	}
	delete(m.links, remote)
	m.mu.Unlock()
	link.setState(StateClosed)
	log.Info().Str("module", "peer").Str("remote", string(remote)).Msg("peer link closed")
	if m.OnPeerClosed != nil {
		m.OnPeerClosed(remote)
	}
}
