package call

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/signaling/memory"
)

// recordingPeer is a Peer double that records what the session applies
type recordingPeer struct {
	mu         sync.Mutex
	name       string
	local      []webrtc.SessionDescription
	remote     []webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	tracks     []webrtc.TrackLocal
	closed     int
}

func newRecordingPeer(name string) *recordingPeer {
	return &recordingPeer{name: name}
}

func (p *recordingPeer) CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0 offer-from-" + p.name}, nil
}

func (p *recordingPeer) CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error) {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "v=0 answer-from-" + p.name}, nil
}

func (p *recordingPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = append(p.local, desc)
	return nil
}

func (p *recordingPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.remote = append(p.remote, desc)
	return nil
}

func (p *recordingPeer) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.candidates = append(p.candidates, c)
	return nil
}

func (p *recordingPeer) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tracks = append(p.tracks, track)
	return nil, nil
}

func (p *recordingPeer) OnICECandidate(func(*webrtc.ICECandidate))                {}
func (p *recordingPeer) OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))   {}
func (p *recordingPeer) OnConnectionStateChange(func(webrtc.PeerConnectionState)) {}

func (p *recordingPeer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func (p *recordingPeer) Remote() []webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.SessionDescription(nil), p.remote...)
}

func (p *recordingPeer) Candidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.candidates))
	for i, c := range p.candidates {
		out[i] = c.Candidate
	}
	return out
}

func (p *recordingPeer) Closed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

var (
	alice = domain.Principal{ID: "alice-uid", DisplayName: "Alice Client", Role: domain.RoleClient}
	bob   = domain.Principal{ID: "bob-uid", DisplayName: "Bob Advocate", Role: domain.RoleAdvocate}
	carol = domain.Principal{ID: "carol-uid", DisplayName: "Carol Staff", Role: domain.RoleStaff}
)

func testOptions() Options {
	return Options{
		RecordTTL:        time.Minute,
		CandidateRetries: 3,
		CandidateBackoff: time.Millisecond,
	}
}

// newTestService wires a service whose sessions all use peer
func newTestService(t *testing.T, store *memory.Store, who domain.Principal, peer Peer, opts Options) *Service {
	t.Helper()
	svc, err := NewService(store, StaticIdentity(who), Config{
		Session:     opts,
		PeerFactory: func() (Peer, error) { return peer, nil },
	})
	require.NoError(t, err)
	return svc
}

// readySession returns a session that already holds local media
func readySession(t *testing.T, svc *Service, video bool) *Session {
	t.Helper()
	sess, err := svc.NewSession()
	require.NoError(t, err)
	_, _, err = sess.AcquireMedia(context.Background(), video)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sess.Hangup(context.Background()) })
	return sess
}

func candidate(s string) webrtc.ICECandidateInit {
	mid := "0"
	var idx uint16
	return webrtc.ICECandidateInit{Candidate: s, SDPMid: &mid, SDPMLineIndex: &idx}
}

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond
