package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/signaling"
	apperrors "lexhub-backend/pkg/errors"
	"lexhub-backend/pkg/metrics"
	"lexhub-backend/pkg/resilience"
)

// State is the local view of a session
type State string

const (
	StateIdle       State = "idle"
	StateMediaReady State = "media_ready"
	StateCalling    State = "calling"
	StateAnswering  State = "answering"
	StateConnected  State = "connected"
	StateEnded      State = "ended"
)

// EndReason says why a session ended
type EndReason string

const (
	EndReasonLocalHangup  EndReason = "local_hangup"
	EndReasonRemoteHangup EndReason = "remote_hangup"
	EndReasonRingTimeout  EndReason = "ring_timeout"
	EndReasonError        EndReason = "error"
)

// Direction of a call relative to this session
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Options tune session behaviour
type Options struct {
	RecordTTL        time.Duration // written as expiresAt for the janitor
	RingTimeout      time.Duration // 0 rings until hangup
	CandidateRetries int
	CandidateBackoff time.Duration
}

// DefaultOptions returns production defaults
func DefaultOptions() Options {
	return Options{
		RecordTTL:        2 * time.Minute,
		CandidateRetries: 3,
		CandidateBackoff: 250 * time.Millisecond,
	}
}

// Session owns one peer connection and its call record. It is created
// idle, acquires media once, then either creates or answers exactly one
// call. Once ended it cannot be reused.
type Session struct {
	id       string
	ch       signaling.Channel
	identity Identity
	peer     Peer
	source   Source
	opts     Options
	log      *zap.Logger
	now      func() time.Time
	release  func(*Session)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	writer *candidateWriter

	// peerMu orders remote description and candidate application
	peerMu sync.Mutex

	mu            sync.Mutex
	state         State
	ending        bool
	direction     Direction
	callID        string
	callType      domain.CallType
	principal     domain.Principal
	local         *LocalStream
	remote        *RemoteStream
	remoteSet     bool
	answered      bool
	recordSeen    bool
	pending       []webrtc.ICECandidateInit
	seen          map[string]struct{}
	unsubs        []signaling.Unsubscribe
	ringTimer     *time.Timer
	offeredAt     time.Time
	candidatePath string
	endReason     EndReason
	onEnded       func(EndReason)
	onState       func(State)
}

func newSession(id string, ch signaling.Channel, identity Identity, peer Peer, source Source, opts Options, log *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       id,
		ch:       ch,
		identity: identity,
		peer:     peer,
		source:   source,
		opts:     opts,
		log:      log.With(zap.String("session_id", id)),
		now:      time.Now,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
		state:    StateIdle,
		seen:     make(map[string]struct{}),
	}
	s.writer = newCandidateWriter(s.writeCandidate)

	peer.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		s.onLocalCandidate(c.ToJSON())
	})
	peer.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.onRemoteTrack(t)
	})
	peer.OnConnectionStateChange(s.onConnectionState)
	return s
}

// ID returns the local session id
func (s *Session) ID() string { return s.id }

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// CallID returns the call record id, empty before a call is created or answered
func (s *Session) CallID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callID
}

// Direction returns whether this session placed or took the call
func (s *Session) Direction() Direction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.direction
}

// Local returns the local stream, nil before AcquireMedia
func (s *Session) Local() *LocalStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// Remote returns the remote stream, nil before AcquireMedia
func (s *Session) Remote() *RemoteStream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// EndReason returns why the session ended, empty while live
func (s *Session) EndReason() EndReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endReason
}

// Done is closed when the session ends
func (s *Session) Done() <-chan struct{} { return s.done }

// OnEnded registers the end callback. It runs once, outside any lock.
func (s *Session) OnEnded(fn func(EndReason)) {
	s.mu.Lock()
	s.onEnded = fn
	s.mu.Unlock()
}

// OnStateChange registers a callback for every state transition
func (s *Session) OnStateChange(fn func(State)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// AcquireMedia captures local media and binds it to the peer connection.
// Audio is always requested; video only when wantsVideo. Every track the
// peer later sends is appended to the returned remote stream.
func (s *Session) AcquireMedia(ctx context.Context, wantsVideo bool) (*LocalStream, *RemoteStream, error) {
	if st := s.State(); st != StateIdle {
		return nil, nil, apperrors.InvalidCallStateError(fmt.Sprintf("cannot acquire media in state %s", st))
	}

	local, err := s.source.Acquire(ctx, DefaultConstraints(wantsVideo))
	if err != nil {
		s.log.Warn("Media access denied", zap.Bool("video", wantsVideo), zap.Error(err))
		if apperrors.HasCode(err, apperrors.ErrCodeMediaAccessDenied) {
			return nil, nil, err
		}
		return nil, nil, apperrors.MediaAccessDeniedError(err)
	}

	for _, t := range local.Tracks() {
		sender, err := s.peer.AddTrack(t.Track())
		if err != nil {
			local.Stop()
			return nil, nil, fmt.Errorf("failed to add %s track: %w", t.Kind(), err)
		}
		t.bind(sender)
		if sender != nil {
			go drainRTCP(sender)
		}
	}
	remote := NewRemoteStream()

	s.mu.Lock()
	if s.state != StateIdle || s.ending {
		s.mu.Unlock()
		local.Stop()
		return nil, nil, apperrors.InvalidCallStateError("session changed state while acquiring media")
	}
	s.local = local
	s.remote = remote
	s.mu.Unlock()
	s.setState(StateMediaReady)

	s.log.Info("Local media ready",
		zap.Int("tracks", len(local.Tracks())),
		zap.Bool("video", wantsVideo))
	return local, remote, nil
}

// CreateCall writes an offer for targetUserID and returns the new call id.
// It returns once the offer is stored; the answer is applied when it arrives.
func (s *Session) CreateCall(ctx context.Context, targetUserID, callerName string, callType domain.CallType) (string, error) {
	if targetUserID == "" {
		return "", apperrors.MissingFieldError("targetUserId")
	}
	if !callType.Valid() {
		return "", apperrors.ValidationError(fmt.Sprintf("unknown call type %q", callType))
	}
	if err := s.begin(DirectionOutgoing, StateCalling); err != nil {
		return "", err
	}

	principal, err := s.identity.EnsurePrincipal(ctx)
	if err != nil {
		return "", s.fail(ctx, fmt.Errorf("failed to ensure principal: %w", err), false)
	}
	if callerName == "" {
		callerName = principal.DisplayName
	}

	callID := s.ch.NewID(domain.CallsCollection)
	path := domain.CallPath(callID)
	s.mu.Lock()
	s.callID = callID
	s.callType = callType
	s.principal = principal
	s.candidatePath = domain.CandidatesPath(callID, domain.OfferCandidatesCollection)
	s.mu.Unlock()
	log := s.log.With(zap.String("call_id", callID), zap.String("target_user_id", targetUserID))

	offer, err := s.peer.CreateOffer(nil)
	if err != nil {
		return "", s.fail(ctx, fmt.Errorf("failed to create offer: %w", err), false)
	}
	if err := s.peer.SetLocalDescription(offer); err != nil {
		return "", s.fail(ctx, fmt.Errorf("failed to set local description: %w", err), false)
	}

	record := map[string]any{
		"offer": domain.OfferFields(&domain.CallOffer{
			SDP:          offer.SDP,
			Type:         offer.Type.String(),
			CallerID:     principal.ID,
			CallerName:   callerName,
			Status:       domain.CallStatusCalling,
			CallType:     callType,
			TargetUserID: targetUserID,
		}),
		"status":    domain.CallStatusCalling,
		"expiresAt": s.now().Add(s.opts.RecordTTL).UTC(),
	}
	err = s.ch.Publish(ctx, path, record)
	metrics.RecordSignalingWrite("offer", err)
	if err != nil {
		log.Error("Failed to write offer", zap.Error(err))
		return "", s.fail(ctx, apperrors.SignalingWriteError("offer", err), false)
	}

	s.mu.Lock()
	s.offeredAt = s.now()
	s.recordSeen = true
	s.mu.Unlock()
	s.writer.start()

	unsubDoc, err := s.ch.SubscribeDoc(s.ctx, path, s.onCallRecord)
	if err != nil {
		return "", s.fail(ctx, fmt.Errorf("failed to watch call record: %w", err), true)
	}
	s.track(unsubDoc)

	unsubCand, err := s.ch.Subscribe(s.ctx,
		signaling.Collection(domain.CandidatesPath(callID, domain.AnswerCandidatesCollection)),
		s.onRemoteCandidate)
	if err != nil {
		return "", s.fail(ctx, fmt.Errorf("failed to watch answer candidates: %w", err), true)
	}
	s.track(unsubCand)

	if s.opts.RingTimeout > 0 {
		s.mu.Lock()
		if s.state == StateCalling && !s.ending {
			s.ringTimer = time.AfterFunc(s.opts.RingTimeout, s.onRingTimeout)
		}
		s.mu.Unlock()
	}

	metrics.RecordCallStarted(string(DirectionOutgoing), string(callType))
	log.Info("Call created", zap.String("call_type", string(callType)))
	return callID, nil
}

// AnswerCall applies the stored offer and writes this side's answer. Only
// the first callee to answer wins; later ones get CALL_ALREADY_ANSWERED.
func (s *Session) AnswerCall(ctx context.Context, callID string) error {
	if callID == "" {
		return apperrors.MissingFieldError("callId")
	}
	if err := s.begin(DirectionIncoming, StateAnswering); err != nil {
		return err
	}
	path := domain.CallPath(callID)
	s.mu.Lock()
	s.callID = callID
	s.candidatePath = domain.CandidatesPath(callID, domain.AnswerCandidatesCollection)
	s.mu.Unlock()
	log := s.log.With(zap.String("call_id", callID))

	principal, err := s.identity.EnsurePrincipal(ctx)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("failed to ensure principal: %w", err), false)
	}

	doc, err := s.ch.Get(ctx, path)
	if errors.Is(err, signaling.ErrNotFound) {
		return s.fail(ctx, apperrors.CallNotFoundError(), false)
	}
	if err != nil {
		return s.fail(ctx, fmt.Errorf("failed to read call record: %w", err), false)
	}
	rec := domain.ParseCallRecord(doc)
	if rec.Offer == nil || rec.Offer.SDP == "" {
		return s.fail(ctx, apperrors.CallNotFoundError(), false)
	}
	if rec.Answer != nil {
		return s.fail(ctx, apperrors.CallAlreadyAnsweredError(), false)
	}

	s.mu.Lock()
	s.principal = principal
	s.callType = rec.Offer.CallType
	s.recordSeen = true
	s.mu.Unlock()

	if err := s.applyRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: rec.Offer.SDP}); err != nil {
		return s.fail(ctx, fmt.Errorf("failed to apply offer: %w", err), false)
	}

	answer, err := s.peer.CreateAnswer(nil)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("failed to create answer: %w", err), false)
	}
	if err := s.peer.SetLocalDescription(answer); err != nil {
		return s.fail(ctx, fmt.Errorf("failed to set local description: %w", err), false)
	}

	won, err := s.ch.Claim(ctx, path, "answer", map[string]any{
		"answer":     domain.AnswerFields(&domain.CallAnswer{SDP: answer.SDP, Type: answer.Type.String()}),
		"status":     domain.CallStatusConnected,
		"answeredBy": principal.ID,
	})
	metrics.RecordSignalingWrite("answer", err)
	switch {
	case errors.Is(err, signaling.ErrNotFound):
		return s.fail(ctx, apperrors.CallNotFoundError(), false)
	case err != nil:
		log.Error("Failed to write answer", zap.Error(err))
		return s.fail(ctx, apperrors.SignalingWriteError("answer", err), false)
	case !won:
		metrics.SignalingClaimConflictsTotal.Inc()
		log.Info("Call was answered by another callee")
		return s.fail(ctx, apperrors.CallAlreadyAnsweredError(), false)
	}

	s.mu.Lock()
	s.answered = true
	s.mu.Unlock()
	s.setState(StateConnected)
	s.writer.start()

	unsubCand, err := s.ch.Subscribe(s.ctx,
		signaling.Collection(domain.CandidatesPath(callID, domain.OfferCandidatesCollection)),
		s.onRemoteCandidate)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("failed to watch offer candidates: %w", err), true)
	}
	s.track(unsubCand)

	unsubDoc, err := s.ch.SubscribeDoc(s.ctx, path, s.onCallRecord)
	if err != nil {
		return s.fail(ctx, fmt.Errorf("failed to watch call record: %w", err), true)
	}
	s.track(unsubDoc)

	metrics.RecordCallStarted(string(DirectionIncoming), string(rec.Offer.CallType))
	log.Info("Call answered", zap.String("caller_id", rec.Offer.CallerID))
	return nil
}

// ToggleAudio enables or disables the local audio tracks in place
func (s *Session) ToggleAudio(enabled bool) error {
	return s.toggle(webrtc.RTPCodecTypeAudio, enabled)
}

// ToggleVideo enables or disables the local video tracks in place
func (s *Session) ToggleVideo(enabled bool) error {
	return s.toggle(webrtc.RTPCodecTypeVideo, enabled)
}

func (s *Session) toggle(kind webrtc.RTPCodecType, enabled bool) error {
	s.mu.Lock()
	local, ending := s.local, s.ending
	s.mu.Unlock()
	if local == nil || ending {
		return apperrors.InvalidCallStateError("no local media")
	}

	tracks := local.Audio()
	if kind == webrtc.RTPCodecTypeVideo {
		tracks = local.Video()
	}
	for _, t := range tracks {
		if err := t.SetEnabled(enabled); err != nil {
			return fmt.Errorf("failed to toggle %s track: %w", kind, err)
		}
	}
	s.log.Debug("Local track toggled", zap.String("kind", kind.String()), zap.Bool("enabled", enabled))
	return nil
}

// Hangup deletes the call record, closes the peer connection and stops
// local media. Safe to call repeatedly and after the remote side hung up.
func (s *Session) Hangup(ctx context.Context) error {
	s.end(ctx, EndReasonLocalHangup, true)
	return nil
}

// begin moves a media-ready session into calling or answering
func (s *Session) begin(dir Direction, to State) error {
	s.mu.Lock()
	if s.state != StateMediaReady || s.ending {
		st := s.state
		s.mu.Unlock()
		if st == StateIdle {
			return apperrors.InvalidCallStateError("media must be acquired first")
		}
		return apperrors.InvalidCallStateError(fmt.Sprintf("session already %s", st))
	}
	s.direction = dir
	s.mu.Unlock()
	s.setState(to)
	return nil
}

func (s *Session) setState(to State) {
	s.mu.Lock()
	if s.ending || s.state == to {
		s.mu.Unlock()
		return
	}
	s.state = to
	fn := s.onState
	s.mu.Unlock()
	if fn != nil {
		fn(to)
	}
}

// fail ends the session and returns err
func (s *Session) fail(ctx context.Context, err error, deleteRecord bool) error {
	s.log.Warn("Call setup failed", zap.Error(err))
	s.end(ctx, EndReasonError, deleteRecord)
	return err
}

// track registers a subscription torn down when the session ends
func (s *Session) track(unsub signaling.Unsubscribe) {
	s.mu.Lock()
	if s.ending {
		s.mu.Unlock()
		unsub()
		return
	}
	s.unsubs = append(s.unsubs, unsub)
	s.mu.Unlock()
}

// end terminates the session once. deleteRecord removes the call record.
// State reports StateEnded only after teardown and release have finished.
func (s *Session) end(ctx context.Context, reason EndReason, deleteRecord bool) {
	s.mu.Lock()
	if s.ending {
		s.mu.Unlock()
		return
	}
	s.ending = true
	callID := s.callID
	unsubs := s.unsubs
	s.unsubs = nil
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
	local := s.local
	onEnded, onState := s.onEnded, s.onState
	s.mu.Unlock()

	s.cancel()
	for _, unsub := range unsubs {
		unsub()
	}
	s.writer.stop()

	if deleteRecord && callID != "" {
		if ctx == nil || ctx.Err() != nil {
			ctx = context.Background()
		}
		err := s.ch.Delete(ctx, domain.CallPath(callID))
		metrics.RecordSignalingWrite("hangup", err)
		if err != nil {
			s.log.Warn("Failed to delete call record", zap.String("call_id", callID), zap.Error(err))
		}
	}
	if err := s.peer.Close(); err != nil {
		s.log.Debug("Peer connection close failed", zap.Error(err))
	}
	if local != nil {
		local.Stop()
	}
	if s.release != nil {
		s.release(s)
	}

	s.mu.Lock()
	s.state = StateEnded
	s.endReason = reason
	s.mu.Unlock()
	close(s.done)

	metrics.RecordCallEnded(string(reason))
	s.log.Info("Call ended", zap.String("call_id", callID), zap.String("reason", string(reason)))

	if onState != nil {
		onState(StateEnded)
	}
	if onEnded != nil {
		onEnded(reason)
	}
}

// onCallRecord watches the record for the answer (caller) and for deletion (both)
func (s *Session) onCallRecord(doc *signaling.Document) {
	if !doc.Exists {
		s.mu.Lock()
		seen := s.recordSeen
		s.mu.Unlock()
		if seen {
			s.end(context.Background(), EndReasonRemoteHangup, false)
		}
		return
	}

	s.mu.Lock()
	s.recordSeen = true
	outgoing := s.direction == DirectionOutgoing
	answered := s.answered
	s.mu.Unlock()
	if !outgoing || answered {
		return
	}

	rec := domain.ParseCallRecord(doc)
	if rec.Answer == nil || rec.Answer.SDP == "" {
		return
	}
	s.applyAnswer(rec.Answer)
}

// applyAnswer sets the remote answer exactly once
func (s *Session) applyAnswer(answer *domain.CallAnswer) {
	s.mu.Lock()
	if s.answered || s.ending {
		s.mu.Unlock()
		return
	}
	s.answered = true
	if s.ringTimer != nil {
		s.ringTimer.Stop()
	}
	offeredAt := s.offeredAt
	s.mu.Unlock()

	err := s.applyRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP})
	if err != nil {
		s.log.Error("Failed to apply answer", zap.String("call_id", s.CallID()), zap.Error(err))
		s.end(context.Background(), EndReasonError, true)
		return
	}
	metrics.RecordCallSetup(string(DirectionOutgoing), s.now().Sub(offeredAt))
	s.setState(StateConnected)
}

// applyRemoteDescription sets the remote description and flushes queued candidates in arrival order
func (s *Session) applyRemoteDescription(desc webrtc.SessionDescription) error {
	s.peerMu.Lock()
	defer s.peerMu.Unlock()

	if err := s.peer.SetRemoteDescription(desc); err != nil {
		return err
	}

	s.mu.Lock()
	s.remoteSet = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, c := range pending {
		if err := s.peer.AddICECandidate(c); err != nil {
			s.log.Warn("Failed to add queued ICE candidate", zap.Error(err))
		}
	}
	return nil
}

func (s *Session) onRemoteCandidate(change signaling.Change) {
	if change.Kind != signaling.Added {
		return
	}
	c, ok := parseCandidate(change.Doc)
	if !ok {
		s.log.Debug("Ignoring malformed ICE candidate", zap.String("doc_id", change.Doc.ID))
		return
	}
	s.addRemoteCandidate(change.Doc.ID, c)
}

// addRemoteCandidate applies a candidate once per document id, queueing it
// until the remote description is set
func (s *Session) addRemoteCandidate(docID string, c webrtc.ICECandidateInit) {
	s.peerMu.Lock()
	defer s.peerMu.Unlock()

	s.mu.Lock()
	if s.ending {
		s.mu.Unlock()
		return
	}
	if _, dup := s.seen[docID]; dup {
		s.mu.Unlock()
		return
	}
	s.seen[docID] = struct{}{}
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if err := s.peer.AddICECandidate(c); err != nil {
		s.log.Warn("Failed to add ICE candidate", zap.String("doc_id", docID), zap.Error(err))
	}
}

func (s *Session) onLocalCandidate(c webrtc.ICECandidateInit) {
	s.writer.push(c)
}

// writeCandidate appends one local candidate with bounded retry
func (s *Session) writeCandidate(c webrtc.ICECandidateInit) {
	s.mu.Lock()
	path := s.candidatePath
	s.mu.Unlock()
	if path == "" {
		return
	}

	err := resilience.Retry(s.ctx, resilience.Policy{
		Attempts: s.opts.CandidateRetries,
		Backoff:  s.opts.CandidateBackoff,
		OnRetry: func(attempt int, err error) {
			metrics.SignalingCandidateRetriesTotal.Inc()
			s.log.Debug("Retrying ICE candidate write", zap.Int("attempt", attempt), zap.Error(err))
		},
	}, func(ctx context.Context) error {
		_, err := s.ch.Append(ctx, path, candidateFields(c))
		return err
	})
	metrics.RecordSignalingWrite("candidate", err)
	if err != nil && s.ctx.Err() == nil {
		s.log.Warn("Dropped ICE candidate", zap.String("collection", path),
			zap.Error(apperrors.SignalingWriteError("candidate", err)))
	}
}

func (s *Session) onRemoteTrack(t *webrtc.TrackRemote) {
	s.mu.Lock()
	remote := s.remote
	s.mu.Unlock()
	if remote == nil {
		return
	}
	s.log.Info("Remote track received", zap.String("kind", t.Kind().String()), zap.String("track_id", t.ID()))
	remote.add(t)
}

func (s *Session) onConnectionState(st webrtc.PeerConnectionState) {
	s.log.Debug("Peer connection state changed", zap.String("state", st.String()))
	if st == webrtc.PeerConnectionStateFailed {
		go s.end(context.Background(), EndReasonError, true)
	}
}

func (s *Session) onRingTimeout() {
	if s.State() != StateCalling {
		return
	}
	s.log.Info("Call was not answered in time", zap.String("call_id", s.CallID()))
	s.end(context.Background(), EndReasonRingTimeout, true)
}
