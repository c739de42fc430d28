// Package media models the local media acquisition capability the call
// client depends on. The core treats acquisition as an external collaborator:
// anything that can produce local tracks can implement Source.
package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

var (
	// ErrPermissionDenied is returned when the user refused capture access.
	ErrPermissionDenied = errors.New("media: permission denied")

	// ErrDeviceUnavailable is returned when no capture device can be opened.
	ErrDeviceUnavailable = errors.New("media: device unavailable")
)

const (
	// Opus frames every 20ms, video at roughly 30fps.
	audioFrameInterval = 20 * time.Millisecond
	videoFrameInterval = 33 * time.Millisecond
)

// Synthetic frame payloads. The audio frame is the canonical Opus silence
// packet; the video frame is an arbitrary placeholder payload.
var (
	silenceFrame = []byte{0xF8, 0xFF, 0xFE}
	blackFrame   = []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
)

// sampleWriter is the slice of a local track the pump writes to.
// *webrtc.TrackLocalStaticSample implements it.
type sampleWriter interface {
	WriteSample(pionmedia.Sample) error
}

// Stream bundles the local tracks acquired from a source, with mute/camera
// toggles. A pump goroutine feeds samples into the tracks for as long as the
// stream lives; disabling audio or video suppresses the corresponding writes
// so nothing leaves the sender, without touching negotiation state.
type Stream struct {
	mu     sync.Mutex
	tracks []webrtc.TrackLocal

	audio sampleWriter
	video sampleWriter
	done  chan struct{}

	audioEnabled bool
	videoEnabled bool
	stopped      bool
}

// Tracks returns the local tracks to attach to a peer connection.
func (s *Stream) Tracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]webrtc.TrackLocal, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// SetAudioEnabled toggles the microphone.
func (s *Stream) SetAudioEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioEnabled = enabled
}

// SetVideoEnabled toggles the camera.
func (s *Stream) SetVideoEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoEnabled = enabled
}

// AudioEnabled reports the microphone toggle.
func (s *Stream) AudioEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audioEnabled
}

// VideoEnabled reports the camera toggle.
func (s *Stream) VideoEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoEnabled
}

// Stop releases the stream and terminates the pump. Idempotent.
func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	s.stopped = true
	s.audioEnabled = false
	s.videoEnabled = false
	if s.done != nil {
		close(s.done)
	}
}

// Stopped reports whether the stream was released.
func (s *Stream) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// pump writes one sample per track per frame interval until Stop. A disabled
// track gets no samples at all; receivers simply see its media stall, the
// same way a muted capture device goes quiet.
func (s *Stream) pump() {
	audioTick := time.NewTicker(audioFrameInterval)
	videoTick := time.NewTicker(videoFrameInterval)
	defer audioTick.Stop()
	defer videoTick.Stop()

	for {
		select {
		case <-s.done:
			return

		case <-audioTick.C:
			if s.AudioEnabled() {
				_ = s.audio.WriteSample(pionmedia.Sample{Data: silenceFrame, Duration: audioFrameInterval})
			}

		case <-videoTick.C:
			if s.VideoEnabled() {
				_ = s.video.WriteSample(pionmedia.Sample{Data: blackFrame, Duration: videoFrameInterval})
			}
		}
	}
}

// Source acquires local media. Implementations fail with
// ErrPermissionDenied or ErrDeviceUnavailable.
type Source interface {
	Acquire(ctx context.Context) (*Stream, error)
}

// StaticSource synthesizes one Opus audio track and one VP8 video track per
// acquisition and pumps placeholder samples into them. It stands in for
// camera/microphone capture, which is outside the negotiation core.
type StaticSource struct{}

func NewStaticSource() *StaticSource {
	return &StaticSource{}
}

// Acquire creates a fresh pair of static-sample tracks and starts their
// pump. Track IDs are unique per acquisition so re-acquired streams
// negotiate as new tracks. The caller owns the stream and must Stop it.
func (s *StaticSource) Acquire(ctx context.Context) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	streamID := "local-" + uuid.NewString()

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio-"+uuid.NewString(), streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	video, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video-"+uuid.NewString(), streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	stream := &Stream{
		tracks:       []webrtc.TrackLocal{audio, video},
		audio:        audio,
		video:        video,
		done:         make(chan struct{}),
		audioEnabled: true,
		videoEnabled: true,
	}
	go stream.pump()
	return stream, nil
}
