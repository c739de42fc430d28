package peer

import (
	"sync"

	"github.com/pion/webrtc/v4"
)

// RemoteStream aggregates the inbound tracks of one negotiation session into
// a single handle, the way a browser bundles them into one MediaStream. A
// fresh RemoteStream is synthesized per connection resource; Reset releases
// it.
type RemoteStream struct {
	mu     sync.Mutex
	tracks []*webrtc.TrackRemote
}

// Tracks returns the remote tracks received so far.
func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(out, s.tracks)
	return out
}

func (s *RemoteStream) add(track *webrtc.TrackRemote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, track)
}

// release drops the track references. The tracks themselves end when the
// connection resource that produced them is closed.
func (s *RemoteStream) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = nil
}
