package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/huddlekit/huddle/internal/arbiter"
	"github.com/huddlekit/huddle/internal/domain"
	"github.com/huddlekit/huddle/internal/peer"
	"github.com/huddlekit/huddle/internal/session"
	"github.com/huddlekit/huddle/internal/signalclient"
)

// app holds the assembled client: signaling link, peer mesh, outbound
// track arbiter and the session coordinator that drives them.
type app struct {
	client *signalclient.Client
	coord  *session.Coordinator
	arb    *arbiter.Arbiter
	media  *session.LocalMedia
}

func buildApp(ctx context.Context) (*app, error) {
	if flagName == "" {
		return nil, fmt.Errorf("--name is required")
	}
	self := domain.Participant{ID: domain.UserID(uuid.NewString()), Username: flagName}

	lm, err := session.PCMProvider{}.Acquire(ctx, session.MediaPrefs{Audio: true, CapturePath: flagCapture})
	if err != nil {
		return nil, err
	}
	track, ok := lm.Tracks[0].(*webrtc.TrackLocalStaticSample)
	if !ok {
		return nil, fmt.Errorf("unexpected outbound track type")
	}
	arb := arbiter.New(track, lm.Mic.Subscribe())

	client := signalclient.New(flagServer)
	cfg := peer.DefaultWebRTCConfig(flagSTUN)
	localTracks := func() []webrtc.TrackLocal { return lm.Tracks }

	peers := peer.NewManager(self.ID, &peer.WebRTCDialer{
		Config:      cfg,
		Exchanger:   client,
		LocalTracks: localTracks,
	}, client)
	peers.OnPeerClosed = func(remote domain.UserID) {
		log.Info().Str("remote", string(remote)).Msg("peer link closed")
	}

	incoming := &peer.IncomingHandler{
		Manager:     peers,
		Config:      cfg,
		LocalTracks: localTracks,
		SendAnswer:  client.SendAnswer,
	}

	coord := session.NewCoordinator(self, client, client.Events,
		peers, session.StaticProvider{Media: lm}, arb, incoming)

	return &app{client: client, coord: coord, arb: arb, media: lm}, nil
}

// start connects the signaling link and keeps it pumping.
func (a *app) start(ctx context.Context) error {
	if err := a.client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to hub: %w", err)
	}
	go func() {
		if err := a.client.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("signaling terminated")
		}
	}()
	return nil
}

func (a *app) shutdown(ctx context.Context) {
	if a.coord.State() == session.StateConnected {
		if err := a.coord.LeaveRoom(ctx); err != nil {
			log.Warn().Err(err).Msg("leave on shutdown")
		}
		return
	}
	a.arb.Close()
	a.client.Close()
}
