package chat

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/signaling"
	apperrors "lexhub-backend/pkg/errors"
	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/metrics"
	"lexhub-backend/pkg/resilience"
	"lexhub-backend/pkg/sanitize"
)

const maxTopicLength = 200

// Router assigns staff to sessions
type Router interface {
	Route(ctx context.Context, role domain.Role) (*domain.RouteResult, error)
	Assign(ctx context.Context, userID string) error
	Release(ctx context.Context, userID string) error
}

// TranscriptArchive keeps the messages of closed sessions
type TranscriptArchive interface {
	Save(ctx context.Context, entries []*domain.TranscriptEntry) error
}

// Attachments issues and checks attachment URLs
type Attachments interface {
	UploadURL(ctx context.Context, sessionID string, req *domain.AttachmentUploadRequest) (*domain.AttachmentUploadResponse, error)
	VerifyUploaded(ctx context.Context, sessionID, key string) error
	DownloadURL(ctx context.Context, sessionID, key string) (string, error)
}

// Service relays support chat sessions over the signaling channel
type Service struct {
	ch          signaling.Channel
	router      Router
	archive     TranscriptArchive
	attachments Attachments
	breaker     *resilience.Breaker
}

// NewService creates a new chat service. router, archive and attachments are
// optional; the matching features are off when nil.
func NewService(ch signaling.Channel, router Router, archive TranscriptArchive, attachments Attachments) *Service {
	return &Service{
		ch:          ch,
		router:      router,
		archive:     archive,
		attachments: attachments,
		breaker:     resilience.NewBreaker("cassandra", resilience.DefaultBreakerConfig()),
	}
}

// CreateSession opens a session for the client. With AutoRoute a staff
// member is assigned right away; when nobody is available the session waits
// in the queue.
func (s *Service) CreateSession(ctx context.Context, client domain.Principal, req *domain.CreateChatSessionRequest) (*domain.ChatSession, error) {
	if client.ID == "" {
		return nil, apperrors.UnauthorizedError("principal required")
	}
	topic := sanitize.DisplayName(req.Topic)
	if topic == "" {
		return nil, apperrors.MissingFieldError("topic")
	}
	if !sanitize.ValidateStringLength(topic, 1, maxTopicLength) {
		return nil, apperrors.ValidationError(fmt.Sprintf("topic must be at most %d characters", maxTopicLength))
	}

	id := s.ch.NewID(domain.ChatSessionsCollection)
	fields := map[string]any{
		"clientId":   client.ID,
		"clientName": client.DisplayName,
		"clientRole": string(client.Role),
		"topic":      topic,
		"status":     string(domain.ChatStatusWaiting),
		"createdAt":  signaling.ServerTimestamp,
		"updatedAt":  signaling.ServerTimestamp,
	}

	var staff *domain.StaffMember
	if req.AutoRoute && s.router != nil {
		staff = s.route(ctx, req.StaffRole)
		if staff != nil {
			fields["staffId"] = staff.UserID
			fields["staffName"] = staff.DisplayName
			fields["status"] = string(domain.ChatStatusActive)
		}
	}

	if err := s.ch.Publish(ctx, domain.ChatSessionPath(id), fields); err != nil {
		return nil, apperrors.SignalingWriteError("chat session", err)
	}
	metrics.ChatSessionsCreatedTotal.WithLabelValues(strconv.FormatBool(staff != nil)).Inc()

	if staff != nil {
		if err := s.router.Assign(ctx, staff.UserID); err != nil {
			logger.Warn("Failed to record staff load", zap.String("staff_id", staff.UserID), zap.Error(err))
		}
		s.systemMessage(ctx, id, fmt.Sprintf("%s joined the chat", staff.DisplayName))
	}

	logger.Info("Chat session created",
		zap.String("session_id", id),
		zap.String("client_id", client.ID),
		zap.Bool("routed", staff != nil))

	return s.load(ctx, id)
}

func (s *Service) route(ctx context.Context, role domain.Role) *domain.StaffMember {
	if role == "" {
		role = domain.RoleStaff
	}
	res, err := s.router.Route(ctx, role)
	if err != nil {
		if !apperrors.HasCode(err, apperrors.ErrCodeNoStaffAvailable) {
			logger.Warn("Chat routing failed, session queued", zap.String("role", string(role)), zap.Error(err))
		}
		return nil
	}
	return res.Staff
}

// JoinSession assigns a staff member to a waiting session. Only the first
// staff member wins; joining again is a no-op.
func (s *Service) JoinSession(ctx context.Context, staff domain.Principal, sessionID string) (*domain.ChatSession, error) {
	if !staff.Role.IsStaff() {
		return nil, apperrors.ForbiddenError("only staff can join sessions")
	}
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.ChatStatusClosed {
		return nil, apperrors.SessionClosedError()
	}
	if session.StaffID == staff.ID {
		return session, nil
	}

	claimed, err := s.ch.Claim(ctx, domain.ChatSessionPath(sessionID), "staffId", map[string]any{
		"staffId":   staff.ID,
		"staffName": staff.DisplayName,
		"status":    string(domain.ChatStatusActive),
		"updatedAt": signaling.ServerTimestamp,
	})
	if errors.Is(err, signaling.ErrNotFound) {
		return nil, apperrors.SessionNotFoundError()
	}
	if err != nil {
		return nil, apperrors.SignalingWriteError("chat session", err)
	}
	if !claimed {
		return nil, apperrors.NewWithStatus(apperrors.ErrCodeConflict, "Session was taken by another staff member", http.StatusConflict)
	}

	metrics.ChatSessionsJoinedTotal.Inc()
	if s.router != nil {
		if err := s.router.Assign(ctx, staff.ID); err != nil {
			logger.Warn("Failed to record staff load", zap.String("staff_id", staff.ID), zap.Error(err))
		}
	}
	s.systemMessage(ctx, sessionID, fmt.Sprintf("%s joined the chat", staff.DisplayName))

	return s.load(ctx, sessionID)
}

// SendMessage appends a message and updates the session preview
func (s *Service) SendMessage(ctx context.Context, sender domain.Principal, sessionID string, req *domain.SendMessageRequest) (*domain.ChatMessage, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(sender.ID) {
		metrics.ChatMessageSendUnauthorizedTotal.Inc()
		return nil, apperrors.ForbiddenError("not a participant of this session")
	}
	if session.Status == domain.ChatStatusClosed {
		return nil, apperrors.SessionClosedError()
	}

	kind := req.Kind
	if kind == "" {
		kind = domain.MessageKindText
	}
	text := sanitize.MessageText(req.Text)
	preview := text

	switch kind {
	case domain.MessageKindText:
		if text == "" {
			return nil, apperrors.MissingFieldError("text")
		}
	case domain.MessageKindFile:
		if req.AttachmentKey == "" {
			return nil, apperrors.MissingFieldError("attachment_key")
		}
		if s.attachments == nil {
			return nil, apperrors.ServiceUnavailableError("attachments are disabled")
		}
		if err := s.attachments.VerifyUploaded(ctx, sessionID, req.AttachmentKey); err != nil {
			return nil, err
		}
		if preview == "" {
			preview = "Attachment"
		}
	default:
		return nil, apperrors.ValidationError(fmt.Sprintf("message kind %q is not allowed", kind))
	}

	fields := map[string]any{
		"senderId":   sender.ID,
		"senderName": sender.DisplayName,
		"senderRole": string(sender.Role),
		"text":       text,
		"kind":       string(kind),
		"createdAt":  signaling.ServerTimestamp,
	}
	if kind == domain.MessageKindFile {
		fields["attachmentKey"] = req.AttachmentKey
	}

	msgID, err := s.ch.Append(ctx, domain.MessagesPath(sessionID), fields)
	if err != nil {
		return nil, apperrors.SignalingWriteError("chat message", err)
	}
	metrics.ChatMessagesSentTotal.WithLabelValues(string(kind)).Inc()

	if err := s.ch.Publish(ctx, domain.ChatSessionPath(sessionID), map[string]any{
		"lastMessage": preview,
		"updatedAt":   signaling.ServerTimestamp,
	}); err != nil {
		// the message is stored; only the preview is stale
		logger.Warn("Failed to update session preview", zap.String("session_id", sessionID), zap.Error(err))
	}

	doc, err := s.ch.Get(ctx, signaling.Join(domain.MessagesPath(sessionID), msgID))
	if err != nil {
		return nil, apperrors.SignalingWriteError("chat message", err)
	}
	return domain.ParseChatMessage(sessionID, doc), nil
}

// CloseSession ends a session, frees the staff member and archives the
// transcript. Closing a closed session returns it unchanged.
func (s *Service) CloseSession(ctx context.Context, p domain.Principal, sessionID string) (*domain.ChatSession, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(p.ID) && p.Role != domain.RoleAdmin {
		return nil, apperrors.ForbiddenError("not a participant of this session")
	}
	if session.Status == domain.ChatStatusClosed {
		return session, nil
	}

	s.systemMessage(ctx, sessionID, fmt.Sprintf("%s closed the chat", p.DisplayName))
	if err := s.ch.Publish(ctx, domain.ChatSessionPath(sessionID), map[string]any{
		"status":    string(domain.ChatStatusClosed),
		"closedAt":  signaling.ServerTimestamp,
		"updatedAt": signaling.ServerTimestamp,
	}); err != nil {
		return nil, apperrors.SignalingWriteError("chat session", err)
	}
	metrics.ChatSessionsClosedTotal.Inc()

	if session.StaffID != "" && s.router != nil {
		if err := s.router.Release(ctx, session.StaffID); err != nil {
			logger.Warn("Failed to release staff load", zap.String("staff_id", session.StaffID), zap.Error(err))
		}
	}
	s.archiveTranscript(ctx, sessionID)

	return s.load(ctx, sessionID)
}

func (s *Service) archiveTranscript(ctx context.Context, sessionID string) {
	if s.archive == nil {
		return
	}
	messages, err := s.listMessages(ctx, sessionID)
	if err != nil {
		metrics.ChatTranscriptsArchivedTotal.WithLabelValues("failed").Inc()
		logger.Error("Failed to read transcript", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	entries := make([]*domain.TranscriptEntry, len(messages))
	for i, m := range messages {
		entries[i] = &domain.TranscriptEntry{
			SessionID:  sessionID,
			MessageID:  m.ID,
			SenderID:   m.SenderID,
			SenderRole: m.SenderRole,
			Text:       m.Text,
			Kind:       m.Kind,
			CreatedAt:  m.CreatedAt,
		}
	}

	err = s.breaker.Execute(ctx, "archive_transcript", func(ctx context.Context) error {
		return s.archive.Save(ctx, entries)
	})
	if err != nil {
		metrics.ChatTranscriptsArchivedTotal.WithLabelValues("failed").Inc()
		logger.Error("Failed to archive transcript",
			zap.String("session_id", sessionID),
			zap.Int("messages", len(entries)),
			zap.Error(err))
		return
	}
	metrics.ChatTranscriptsArchivedTotal.WithLabelValues("success").Inc()
}

// GetSession returns a session its participants, staff or admins may see
func (s *Service) GetSession(ctx context.Context, p domain.Principal, sessionID string) (*domain.ChatSession, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := canView(p, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (s *Service) load(ctx context.Context, sessionID string) (*domain.ChatSession, error) {
	if sessionID == "" {
		return nil, apperrors.MissingFieldError("session_id")
	}
	doc, err := s.ch.Get(ctx, domain.ChatSessionPath(sessionID))
	if errors.Is(err, signaling.ErrNotFound) {
		return nil, apperrors.SessionNotFoundError()
	}
	if err != nil {
		return nil, apperrors.ServiceUnavailableError("signaling store unavailable")
	}
	return domain.ParseChatSession(doc), nil
}

func (s *Service) systemMessage(ctx context.Context, sessionID, text string) {
	_, err := s.ch.Append(ctx, domain.MessagesPath(sessionID), map[string]any{
		"senderId":  "system",
		"text":      text,
		"kind":      string(domain.MessageKindSystem),
		"createdAt": signaling.ServerTimestamp,
	})
	if err != nil {
		logger.Warn("Failed to write system message", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	metrics.ChatMessagesSentTotal.WithLabelValues(string(domain.MessageKindSystem)).Inc()
}

// canView lets participants and admins read a session. Other staff may read
// sessions still waiting in the queue.
func canView(p domain.Principal, session *domain.ChatSession) error {
	switch {
	case session.IsParticipant(p.ID), p.Role == domain.RoleAdmin:
		return nil
	case p.Role.IsStaff() && session.Status == domain.ChatStatusWaiting:
		return nil
	}
	return apperrors.ForbiddenError("not a participant of this session")
}
