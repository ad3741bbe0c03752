package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"meshcall/internal/core/domain"
	"meshcall/internal/media"
	"meshcall/internal/mesh"
	"meshcall/internal/transport"
	"meshcall/pkg/config"
	"meshcall/pkg/logger"
	"meshcall/pkg/utils"

	"github.com/pion/webrtc/v3"
)

func main() {
	var (
		configPath = flag.String("config", "configs/config.yaml", "path to config file")
		roomID     = flag.String("room", "demo", "room to join")
		userID     = flag.String("user", "", "user id (generated when empty)")
		userName   = flag.String("name", "meshcall user", "display name")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	if *userID == "" {
		*userID = utils.GenerateUserID()
	}

	// Local tracks. A real capture pipeline would feed these; the reference
	// client registers silent placeholders so negotiation is end-to-end.
	audioTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "meshcall-audio")
	if err != nil {
		log.Fatalw("failed to create audio track", "error", err)
	}
	videoTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "meshcall-video")
	if err != nil {
		log.Fatalw("failed to create video track", "error", err)
	}
	screenTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "screen", "meshcall-screen")
	if err != nil {
		log.Fatalw("failed to create screen track", "error", err)
	}

	source := mesh.NewStaticSource(audioTrack, videoTrack, screenTrack)
	audioMgr := media.NewContextManager(cfg.Audio.SampleRate, cfg.Audio.CloseGrace, log)

	session := transport.NewSession(
		transport.SessionConfigFromConfig(cfg, *roomID, *userID, *userName), log, nil)

	factory, err := mesh.NewPionFactory(mesh.ICEServersFromConfig(cfg), log)
	if err != nil {
		log.Fatalw("failed to create peer connection factory", "error", err)
	}

	manager := mesh.NewManager(
		mesh.ConfigFromApp(cfg, *roomID, *userID, *userName),
		session, factory, source, audioMgr, log)

	manager.OnPeerState(func(remoteID string, state domain.PeerState, detail string) {
		log.Infow("peer state changed", "remote_id", remoteID, "state", state, "detail", detail)
	})
	manager.OnQuality(func(overall domain.QualityLevel, peers []domain.PeerStats) {
		log.Debugw("quality sample", "overall", overall.String(), "peers", len(peers))
	})
	manager.OnSpeaking(func(speaking []string) {
		log.Debugw("speaking set changed", "speaking", speaking)
	})
	manager.OnTrack(func(remoteID string, track *webrtc.TrackRemote) {
		log.Infow("remote track", "remote_id", remoteID, "kind", track.Kind().String())
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Join(ctx); err != nil {
		log.Fatalw("failed to join room", "room_id", *roomID, "error", err)
	}
	log.Infow("joined room", "room_id", *roomID, "user_id", *userID)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("leaving room")
	manager.Leave()
	if err := session.Close(); err != nil {
		log.Warnw("session close failed", "error", err)
	}
}
