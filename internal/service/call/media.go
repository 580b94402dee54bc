package call

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// ErrCaptureUnsupported is returned by NewDeviceSource on builds without capture drivers
var ErrCaptureUnsupported = errors.New("media capture is not supported by this build")

// AudioConstraints are requested on every capture
type AudioConstraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// Constraints describe one media request
type Constraints struct {
	Audio AudioConstraints
	Video bool
}

// DefaultConstraints always asks for processed audio, plus video when wanted
func DefaultConstraints(wantsVideo bool) Constraints {
	return Constraints{
		Audio: AudioConstraints{EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true},
		Video: wantsVideo,
	}
}

// Source produces local media. A refused permission or a missing device is
// reported as an error; the session turns it into MEDIA_ACCESS_DENIED.
type Source interface {
	Acquire(ctx context.Context, c Constraints) (*LocalStream, error)
}

// SourceFunc adapts a function to Source
type SourceFunc func(ctx context.Context, c Constraints) (*LocalStream, error)

// Acquire implements Source
func (f SourceFunc) Acquire(ctx context.Context, c Constraints) (*LocalStream, error) {
	return f(ctx, c)
}

// CodecRegistrar is implemented by sources that encode with a fixed codec set
type CodecRegistrar interface {
	RegisterCodecs(m *webrtc.MediaEngine) error
}

// LocalTrack is one outgoing track. Disabling it keeps the track negotiated
// and silences it in place.
type LocalTrack struct {
	kind  webrtc.RTPCodecType
	track webrtc.TrackLocal

	enabled atomic.Bool
	// detach pauses device tracks by unbinding them from the sender
	detach bool

	mu     sync.Mutex
	sender *webrtc.RTPSender

	stopOnce sync.Once
	stop     func()
}

// NewLocalTrack wraps a track. stop releases its producer and may be nil.
func NewLocalTrack(track webrtc.TrackLocal, stop func()) *LocalTrack {
	t := &LocalTrack{kind: track.Kind(), track: track, stop: stop}
	t.enabled.Store(true)
	return t
}

// Kind returns audio or video
func (t *LocalTrack) Kind() webrtc.RTPCodecType { return t.kind }

// ID returns the track id
func (t *LocalTrack) ID() string { return t.track.ID() }

// Track returns the underlying pion track
func (t *LocalTrack) Track() webrtc.TrackLocal { return t.track }

// Enabled reports whether the track is sending
func (t *LocalTrack) Enabled() bool { return t.enabled.Load() }

// SetEnabled turns the track on or off without renegotiation
func (t *LocalTrack) SetEnabled(on bool) error {
	if t.enabled.Swap(on) == on {
		return nil
	}
	if !t.detach {
		return nil
	}
	t.mu.Lock()
	sender := t.sender
	t.mu.Unlock()
	if sender == nil {
		return nil
	}
	if on {
		return sender.ReplaceTrack(t.track)
	}
	return sender.ReplaceTrack(nil)
}

// Stop releases the producer. Safe to call more than once.
func (t *LocalTrack) Stop() {
	t.stopOnce.Do(func() {
		t.enabled.Store(false)
		if t.stop != nil {
			t.stop()
		}
	})
}

func (t *LocalTrack) bind(sender *webrtc.RTPSender) {
	t.mu.Lock()
	t.sender = sender
	t.mu.Unlock()
}

// LocalStream groups the tracks captured for one session
type LocalStream struct {
	ID          string
	Constraints Constraints
	tracks      []*LocalTrack
}

// NewLocalStream builds a stream from tracks
func NewLocalStream(c Constraints, tracks ...*LocalTrack) *LocalStream {
	return &LocalStream{ID: uuid.NewString(), Constraints: c, tracks: tracks}
}

// Tracks returns every local track
func (s *LocalStream) Tracks() []*LocalTrack { return s.tracks }

// Audio returns the audio tracks
func (s *LocalStream) Audio() []*LocalTrack { return s.byKind(webrtc.RTPCodecTypeAudio) }

// Video returns the video tracks
func (s *LocalStream) Video() []*LocalTrack { return s.byKind(webrtc.RTPCodecTypeVideo) }

// Stop stops every track
func (s *LocalStream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
}

func (s *LocalStream) byKind(kind webrtc.RTPCodecType) []*LocalTrack {
	var out []*LocalTrack
	for _, t := range s.tracks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// RemoteStream collects every track the peer sends. It starts empty.
type RemoteStream struct {
	ID string

	mu      sync.Mutex
	tracks  []*webrtc.TrackRemote
	onTrack []func(*webrtc.TrackRemote)
}

// NewRemoteStream creates an empty remote stream
func NewRemoteStream() *RemoteStream {
	return &RemoteStream{ID: uuid.NewString()}
}

// Tracks returns the tracks received so far
func (s *RemoteStream) Tracks() []*webrtc.TrackRemote {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*webrtc.TrackRemote, len(s.tracks))
	copy(out, s.tracks)
	return out
}

// OnTrack registers fn for every later track
func (s *RemoteStream) OnTrack(fn func(*webrtc.TrackRemote)) {
	s.mu.Lock()
	s.onTrack = append(s.onTrack, fn)
	s.mu.Unlock()
}

func (s *RemoteStream) add(t *webrtc.TrackRemote) {
	s.mu.Lock()
	s.tracks = append(s.tracks, t)
	handlers := make([]func(*webrtc.TrackRemote), len(s.onTrack))
	copy(handlers, s.onTrack)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(t)
	}
}

// opusSilence is a single Opus comfort-noise frame
var opusSilence = []byte{0xf8, 0xff, 0xfe}

const syntheticFrame = 20 * time.Millisecond

// SyntheticSource produces loopback tracks without devices: audio carries
// Opus silence, video is negotiated but sends no frames. It backs the
// headless call agent and tests.
type SyntheticSource struct{}

// NewSyntheticSource returns a device-free source
func NewSyntheticSource() *SyntheticSource { return &SyntheticSource{} }

// Acquire implements Source
func (SyntheticSource) Acquire(ctx context.Context, c Constraints) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamID := uuid.NewString()

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio-"+streamID, streamID)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	audioTrack := NewLocalTrack(audio, func() { close(done) })
	tracks := []*LocalTrack{audioTrack}

	if c.Video {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video-"+streamID, streamID)
		if err != nil {
			close(done)
			return nil, err
		}
		tracks = append(tracks, NewLocalTrack(video, nil))
	}

	go pumpSilence(audio, audioTrack, done)

	stream := NewLocalStream(c, tracks...)
	stream.ID = streamID
	return stream, nil
}

func pumpSilence(track *webrtc.TrackLocalStaticSample, lt *LocalTrack, done <-chan struct{}) {
	ticker := time.NewTicker(syntheticFrame)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if !lt.Enabled() {
				continue
			}
			_ = track.WriteSample(media.Sample{Data: opusSilence, Duration: syntheticFrame})
		}
	}
}
