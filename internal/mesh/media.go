package mesh

import (
	"context"
	"sync"

	"meshcall/internal/core/domain"

	"github.com/pion/webrtc/v3"
)

// LocalMedia is the pair of outgoing tracks attached to every peer
// connection.
type LocalMedia struct {
	Audio webrtc.TrackLocal
	Video webrtc.TrackLocal
}

// Ready reports whether both tracks exist.
func (m *LocalMedia) Ready() bool {
	return m != nil && m.Audio != nil && m.Video != nil
}

// MediaSource supplies local capture tracks. Acquisition failures must map
// onto the domain's terminal media errors where applicable; those are
// surfaced once and never retried automatically.
type MediaSource interface {
	// Acquire returns the camera/microphone track pair.
	Acquire(ctx context.Context) (*LocalMedia, error)

	// AcquireScreen returns a screen-capture video track. OnEnded fires if
	// the capture stops from the source side, mirroring a user hitting the
	// native "stop sharing" control.
	AcquireScreen(ctx context.Context, onEnded func()) (webrtc.TrackLocal, error)

	// Release stops all capture.
	Release()
}

// StaticSource is a MediaSource over pre-built sample tracks, used by the
// reference client and tests. Construction-time errors stand in for device
// failures.
type StaticSource struct {
	mu          sync.Mutex
	audio       webrtc.TrackLocal
	video       webrtc.TrackLocal
	screen      webrtc.TrackLocal
	acquireErr  error
	screenEnded func()
}

func NewStaticSource(audio, video, screen webrtc.TrackLocal) *StaticSource {
	return &StaticSource{audio: audio, video: video, screen: screen}
}

// FailWith makes subsequent Acquire calls return err, for exercising the
// terminal media failure path.
func (s *StaticSource) FailWith(err error) {
	s.mu.Lock()
	s.acquireErr = err
	s.mu.Unlock()
}

func (s *StaticSource) Acquire(ctx context.Context) (*LocalMedia, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	if s.audio == nil || s.video == nil {
		return nil, domain.ErrMediaDeviceNotFound
	}
	return &LocalMedia{Audio: s.audio, Video: s.video}, nil
}

func (s *StaticSource) AcquireScreen(ctx context.Context, onEnded func()) (webrtc.TrackLocal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.screen == nil {
		return nil, domain.ErrMediaDeviceNotFound
	}
	s.screenEnded = onEnded
	return s.screen, nil
}

// EndScreen simulates the capture source stopping on its own.
func (s *StaticSource) EndScreen() {
	s.mu.Lock()
	fn := s.screenEnded
	s.screenEnded = nil
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *StaticSource) Release() {
	s.mu.Lock()
	s.screenEnded = nil
	s.mu.Unlock()
}
