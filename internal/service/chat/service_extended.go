package chat

import (
	"context"
	"sort"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/signaling"
	apperrors "lexhub-backend/pkg/errors"
)

// QueueEvent reports a session entering or leaving the waiting queue
type QueueEvent struct {
	Kind    string              `json:"kind"` // "added", "modified", "removed"
	Session *domain.ChatSession `json:"session"`
}

// ListMessages returns the messages of a session ordered by creation time
func (s *Service) ListMessages(ctx context.Context, p domain.Principal, sessionID string) ([]*domain.ChatMessage, error) {
	if _, err := s.GetSession(ctx, p, sessionID); err != nil {
		return nil, err
	}
	messages, err := s.listMessages(ctx, sessionID)
	if err != nil {
		return nil, apperrors.ServiceUnavailableError("signaling store unavailable")
	}
	return messages, nil
}

func (s *Service) listMessages(ctx context.Context, sessionID string) ([]*domain.ChatMessage, error) {
	docs, err := s.ch.List(ctx, signaling.Collection(domain.MessagesPath(sessionID)))
	if err != nil {
		return nil, err
	}
	messages := make([]*domain.ChatMessage, len(docs))
	for i, doc := range docs {
		messages[i] = domain.ParseChatMessage(sessionID, doc)
	}
	sort.SliceStable(messages, func(i, j int) bool {
		a, b := messages[i], messages[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return messages, nil
}

// WatchMessages delivers the existing messages of a session and then every
// new one, in order
func (s *Service) WatchMessages(ctx context.Context, p domain.Principal, sessionID string, fn func(*domain.ChatMessage)) (signaling.Unsubscribe, error) {
	if _, err := s.GetSession(ctx, p, sessionID); err != nil {
		return nil, err
	}
	unsub, err := s.ch.Subscribe(ctx, signaling.Collection(domain.MessagesPath(sessionID)), func(c signaling.Change) {
		if c.Kind != signaling.Added {
			return
		}
		fn(domain.ParseChatMessage(sessionID, c.Doc))
	})
	if err != nil {
		return nil, apperrors.ServiceUnavailableError("signaling store unavailable")
	}
	return unsub, nil
}

// WatchSession delivers every state of one session until it is closed or
// deleted
func (s *Service) WatchSession(ctx context.Context, p domain.Principal, sessionID string, fn func(*domain.ChatSession)) (signaling.Unsubscribe, error) {
	if _, err := s.GetSession(ctx, p, sessionID); err != nil {
		return nil, err
	}
	unsub, err := s.ch.SubscribeDoc(ctx, domain.ChatSessionPath(sessionID), func(doc *signaling.Document) {
		if !doc.Exists {
			return
		}
		fn(domain.ParseChatSession(doc))
	})
	if err != nil {
		return nil, apperrors.ServiceUnavailableError("signaling store unavailable")
	}
	return unsub, nil
}

// WaitingSessions lists the sessions nobody has joined yet
func (s *Service) WaitingSessions(ctx context.Context, staff domain.Principal) ([]*domain.ChatSession, error) {
	if !staff.Role.IsStaff() {
		return nil, apperrors.ForbiddenError("only staff can see the queue")
	}
	docs, err := s.ch.List(ctx, waitingQuery())
	if err != nil {
		return nil, apperrors.ServiceUnavailableError("signaling store unavailable")
	}
	sessions := make([]*domain.ChatSession, len(docs))
	for i, doc := range docs {
		sessions[i] = domain.ParseChatSession(doc)
	}
	return sessions, nil
}

// WatchQueue streams the waiting queue to a staff dashboard. A session that
// gets joined or closed arrives as "removed".
func (s *Service) WatchQueue(ctx context.Context, staff domain.Principal, fn func(QueueEvent)) (signaling.Unsubscribe, error) {
	if !staff.Role.IsStaff() {
		return nil, apperrors.ForbiddenError("only staff can see the queue")
	}
	unsub, err := s.ch.Subscribe(ctx, waitingQuery(), func(c signaling.Change) {
		fn(QueueEvent{Kind: c.Kind.String(), Session: domain.ParseChatSession(c.Doc)})
	})
	if err != nil {
		return nil, apperrors.ServiceUnavailableError("signaling store unavailable")
	}
	return unsub, nil
}

func waitingQuery() signaling.Query {
	return signaling.Collection(domain.ChatSessionsCollection).Where("status", string(domain.ChatStatusWaiting))
}

// AttachmentUploadURL returns where a participant uploads a file before
// sending it as a file message
func (s *Service) AttachmentUploadURL(ctx context.Context, p domain.Principal, sessionID string, req *domain.AttachmentUploadRequest) (*domain.AttachmentUploadResponse, error) {
	if s.attachments == nil {
		return nil, apperrors.ServiceUnavailableError("attachments are disabled")
	}
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsParticipant(p.ID) {
		return nil, apperrors.ForbiddenError("not a participant of this session")
	}
	if session.Status == domain.ChatStatusClosed {
		return nil, apperrors.SessionClosedError()
	}
	return s.attachments.UploadURL(ctx, sessionID, req)
}

// AttachmentDownloadURL returns a download URL for a file of the session
func (s *Service) AttachmentDownloadURL(ctx context.Context, p domain.Principal, sessionID, key string) (string, error) {
	if s.attachments == nil {
		return "", apperrors.ServiceUnavailableError("attachments are disabled")
	}
	if _, err := s.GetSession(ctx, p, sessionID); err != nil {
		return "", err
	}
	return s.attachments.DownloadURL(ctx, sessionID, key)
}
