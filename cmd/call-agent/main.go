// Command call-agent is a headless call endpoint. "dial" places one call to
// a user; "answer" signs in as a staff member and picks up every call that
// rings for it. Media is synthetic unless built with the capture tag and
// MEDIA_CAPTURE=true.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"

	"lexhub-backend/internal/database"
	"lexhub-backend/internal/domain"
	redisRepo "lexhub-backend/internal/repository/redis"
	"lexhub-backend/internal/service/call"
	"lexhub-backend/internal/service/identity"
	"lexhub-backend/internal/signaling"
	"lexhub-backend/internal/signaling/backend"
	"lexhub-backend/pkg/config"
	apperrors "lexhub-backend/pkg/errors"
	"lexhub-backend/pkg/jwt"
	"lexhub-backend/pkg/logger"
)

var (
	displayName = flag.String("name", "Call agent", "display name shown to the callee")
	userID      = flag.String("user-id", "", "roster user id to answer as (answer mode)")
	role        = flag.String("role", string(domain.RoleStaff), "role of the answering principal")
	callType    = flag.String("type", string(domain.CallTypeVoice), "voice or video (dial mode)")
	hangupAfter = flag.Duration("hangup-after", 0, "hang up connected calls after this long; 0 waits for the remote side")
)

func main() {
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) == 0 {
		usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: "stdout",
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.JWT.Secret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newAgent(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to start call agent", zap.Error(err))
	}
	defer a.close()

	switch args[0] {
	case "dial":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Usage: call-agent dial <target-user-id>")
			os.Exit(2)
		}
		err = a.dial(ctx, args[1], domain.CallType(*callType))
	case "answer":
		if *userID == "" {
			fmt.Fprintln(os.Stderr, "answer mode requires -user-id")
			os.Exit(2)
		}
		err = a.answerLoop(ctx)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		logger.Error("Call agent stopped", zap.Error(err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  call-agent [flags] dial <target-user-id>")
	fmt.Fprintln(os.Stderr, "  call-agent [flags] -user-id <id> answer")
	flag.PrintDefaults()
}

type agent struct {
	cfg      *config.Config
	ch       signaling.Channel
	calls    *call.Service
	identity *identity.Service
	self     *identity.Principal
	closers  []func() error
}

func newAgent(ctx context.Context, cfg *config.Config) (*agent, error) {
	a := &agent{cfg: cfg}

	var app *firebase.App
	if cfg.Signaling.Backend == config.BackendFirestore {
		var err error
		app, err = database.NewFirebaseApp(ctx, &database.FirebaseConfig{
			ProjectID:       cfg.Firebase.ProjectID,
			CredentialsPath: cfg.Firebase.CredentialsPath,
		})
		if err != nil {
			return nil, err
		}
	}

	// Redis carries presence so routing sees answering agents online.
	// Without it the agent still works, it just never gets routed to.
	var presence identity.PresenceRepository
	redisDB, err := database.NewRedisDB(&database.RedisConfig{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: 2,
		Timeout:  cfg.Redis.Timeout,
	})
	if err != nil {
		logger.Warn("Redis unavailable, presence disabled", zap.Error(err))
	} else {
		presence = redisRepo.NewPresenceRepository(redisDB)
		a.closers = append(a.closers, func() error { redisDB.Close(); return nil })
	}

	ch, closeChannel, err := backend.Open(ctx, cfg.Signaling.Backend, app, redisDB)
	if err != nil {
		return nil, err
	}
	a.ch = ch
	a.closers = append(a.closers, closeChannel)

	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry, cfg.JWT.AnonymousExpiry)
	a.identity = identity.NewService(jwtManager, nil, presence)
	if *userID != "" {
		a.self = identity.NewNamedPrincipal(a.identity, domain.Principal{
			ID:          *userID,
			DisplayName: *displayName,
			Role:        domain.Role(*role),
		})
	} else {
		a.self = identity.NewAnonymousPrincipal(a.identity, *displayName)
	}

	source, err := mediaSource(cfg)
	if err != nil {
		return nil, err
	}
	opts := call.DefaultOptions()
	opts.RecordTTL = cfg.Signaling.RecordTTL
	opts.RingTimeout = cfg.Signaling.RingTimeout
	opts.CandidateRetries = cfg.Signaling.CandidateRetries

	a.calls, err = call.NewService(ch, a.self, call.Config{
		STUNServers:       cfg.Signaling.STUNServers,
		CandidatePoolSize: cfg.Signaling.CandidatePoolSize,
		DisconnectedAfter: cfg.Signaling.DisconnectedAfter,
		FailedAfter:       cfg.Signaling.FailedAfter,
		KeepAliveInterval: cfg.Signaling.KeepAliveInterval,
		Session:           opts,
		Source:            source,
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func mediaSource(cfg *config.Config) (call.Source, error) {
	if !cfg.Signaling.EnableCapture {
		return call.NewSyntheticSource(), nil
	}
	return call.NewDeviceSource()
}

func (a *agent) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.calls.Close(ctx)
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("Failed to release resource", zap.Error(err))
		}
	}
}

// dial places one call and blocks until it ends
func (a *agent) dial(ctx context.Context, target string, kind domain.CallType) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown call type %q", kind)
	}
	p, err := a.self.EnsurePrincipal(ctx)
	if err != nil {
		return err
	}

	sess, err := a.calls.NewSession()
	if err != nil {
		return err
	}
	if _, _, err := sess.AcquireMedia(ctx, kind == domain.CallTypeVideo); err != nil {
		return err
	}
	callID, err := sess.CreateCall(ctx, target, p.DisplayName, kind)
	if err != nil {
		return err
	}
	logger.Info("Calling",
		zap.String("call_id", callID),
		zap.String("target_user_id", target),
		zap.String("call_type", string(kind)))

	a.await(ctx, sess)
	return nil
}

// answerLoop picks up every call ringing for this agent until ctx ends
func (a *agent) answerLoop(ctx context.Context) error {
	p, err := a.self.EnsurePrincipal(ctx)
	if err != nil {
		return err
	}
	if err := a.identity.Heartbeat(ctx, p.ID); err != nil {
		logger.Warn("Failed to mark agent online", zap.Error(err))
	}
	defer func() {
		if err := a.identity.GoOffline(context.Background(), p.ID); err != nil {
			logger.Warn("Failed to mark agent offline", zap.Error(err))
		}
	}()

	listener := call.NewListener(a.ch, a.cfg.Signaling.RecencyWindow)
	unsub, err := listener.Listen(ctx, p.ID, call.Handlers{
		OnIncoming: func(in domain.IncomingCall) {
			go a.answer(ctx, in)
		},
		OnCancelled: func(callID string) {
			logger.Info("Call withdrawn", zap.String("call_id", callID))
		},
	})
	if err != nil {
		return err
	}
	defer unsub()

	logger.Info("Waiting for calls", zap.String("user_id", p.ID), zap.String("role", string(p.Role)))
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if err := a.identity.Heartbeat(ctx, p.ID); err != nil {
				logger.Warn("Presence heartbeat failed", zap.Error(err))
			}
		}
	}
}

func (a *agent) answer(ctx context.Context, in domain.IncomingCall) {
	log := logger.With(zap.String("call_id", in.CallID))
	sess, err := a.calls.NewSession()
	if err != nil {
		log.Error("Failed to create session", zap.Error(err))
		return
	}
	wantsVideo := in.Offer != nil && in.Offer.CallType == domain.CallTypeVideo
	if _, _, err := sess.AcquireMedia(ctx, wantsVideo); err != nil {
		log.Error("Failed to acquire media", zap.Error(err))
		_ = sess.Hangup(ctx)
		return
	}
	if err := sess.AnswerCall(ctx, in.CallID); err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeCallAlreadyAnswered) {
			log.Info("Call was answered elsewhere")
		} else {
			log.Error("Failed to answer call", zap.Error(err))
		}
		return
	}
	log.Info("Answered call", zap.String("caller_name", in.Offer.CallerName))
	a.await(ctx, sess)
}

// await blocks until sess ends, ctx ends or the hangup timer fires
func (a *agent) await(ctx context.Context, sess *call.Session) {
	var timer <-chan time.Time
	if *hangupAfter > 0 {
		t := time.NewTimer(*hangupAfter)
		defer t.Stop()
		timer = t.C
	}

	select {
	case <-sess.Done():
	case <-timer:
	case <-ctx.Done():
	}
	if sess.State() != call.StateEnded {
		hangupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sess.Hangup(hangupCtx); err != nil {
			logger.Warn("Hangup failed", zap.String("call_id", sess.CallID()), zap.Error(err))
		}
	}
	logger.Info("Call ended",
		zap.String("call_id", sess.CallID()),
		zap.String("reason", string(sess.EndReason())))
}
