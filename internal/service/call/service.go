package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"lexhub-backend/internal/signaling"
	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/metrics"
)

// Config configures the peer connections created by a Service
type Config struct {
	STUNServers       []string // no TURN
	CandidatePoolSize int
	DisconnectedAfter time.Duration
	FailedAfter       time.Duration
	KeepAliveInterval time.Duration
	Session           Options

	// Source defaults to the synthetic loopback source
	Source Source
	// PeerFactory overrides pion peer connections, for tests
	PeerFactory PeerFactory
}

// Service creates call sessions against one signaling channel and keeps
// track of the live ones
type Service struct {
	ch       signaling.Channel
	identity Identity
	source   Source
	opts     Options
	newPeer  PeerFactory
	log      *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService builds the WebRTC API (codecs, default interceptors, ICE
// timeouts, pion logging through zap) and returns a ready service.
func NewService(ch signaling.Channel, identity Identity, cfg Config) (*Service, error) {
	if ch == nil {
		return nil, fmt.Errorf("signaling channel is required")
	}
	if identity == nil {
		return nil, fmt.Errorf("identity is required")
	}
	source := cfg.Source
	if source == nil {
		source = NewSyntheticSource()
	}

	newPeer := cfg.PeerFactory
	if newPeer == nil {
		api, err := newAPI(cfg, source)
		if err != nil {
			return nil, err
		}
		rtcConfig := webrtc.Configuration{
			ICEServers:           iceServers(cfg.STUNServers),
			ICECandidatePoolSize: uint8(cfg.CandidatePoolSize),
		}
		newPeer = func() (Peer, error) {
			return api.NewPeerConnection(rtcConfig)
		}
	}

	return &Service{
		ch:       ch,
		identity: identity,
		source:   source,
		opts:     cfg.Session,
		newPeer:  newPeer,
		log:      logger.Named("call"),
		sessions: make(map[string]*Session),
	}, nil
}

func newAPI(cfg Config, source Source) (*webrtc.API, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if reg, ok := source.(CodecRegistrar); ok {
		if err := reg.RegisterCodecs(mediaEngine); err != nil {
			return nil, fmt.Errorf("failed to register capture codecs: %w", err)
		}
	} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("failed to register codecs: %w", err)
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{LoggerFactory: logger.NewPionFactory(nil)}
	if cfg.DisconnectedAfter > 0 && cfg.FailedAfter > 0 && cfg.KeepAliveInterval > 0 {
		se.SetICETimeouts(cfg.DisconnectedAfter, cfg.FailedAfter, cfg.KeepAliveInterval)
	}

	return webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
		webrtc.WithSettingEngine(se),
	), nil
}

func iceServers(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: urls}}
}

// NewSession opens an idle session with its own peer connection
func (s *Service) NewSession() (*Session, error) {
	peer, err := s.newPeer()
	if err != nil {
		return nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	sess := newSession(uuid.NewString(), s.ch, s.identity, peer, s.source, s.opts, s.log)
	sess.release = s.remove

	s.mu.Lock()
	s.sessions[sess.id] = sess
	n := len(s.sessions)
	s.mu.Unlock()
	metrics.CallSessionsActive.Set(float64(n))
	return sess, nil
}

// Session returns a live session by id
func (s *Service) Session(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Len returns the number of live sessions
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Close hangs up every live session
func (s *Service) Close(ctx context.Context) {
	s.mu.RLock()
	live := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		live = append(live, sess)
	}
	s.mu.RUnlock()

	for _, sess := range live {
		_ = sess.Hangup(ctx)
	}
}

func (s *Service) remove(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess.id)
	n := len(s.sessions)
	s.mu.Unlock()
	metrics.CallSessionsActive.Set(float64(n))
}
