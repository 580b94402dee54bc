package domain

import (
	"time"

	"lexhub-backend/internal/signaling"
)

// Chat collections
const (
	ChatSessionsCollection = "chatSessions"
	MessagesCollection     = "messages"
)

// ChatStatus of a support session
type ChatStatus string

const (
	ChatStatusWaiting ChatStatus = "waiting"
	ChatStatusActive  ChatStatus = "active"
	ChatStatusClosed  ChatStatus = "closed"
)

// MessageKind of a chat message
type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindFile   MessageKind = "file"
	MessageKindSystem MessageKind = "system"
)

// ChatSession is stored at chatSessions/{id}
type ChatSession struct {
	ID          string     `json:"id"`
	ClientID    string     `json:"clientId"`
	ClientName  string     `json:"clientName"`
	ClientRole  Role       `json:"clientRole"`
	Topic       string     `json:"topic"`
	Status      ChatStatus `json:"status"`
	StaffID     string     `json:"staffId,omitempty"`
	StaffName   string     `json:"staffName,omitempty"`
	LastMessage string     `json:"lastMessage,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
	ClosedAt    *time.Time `json:"closedAt,omitempty"`
}

// ChatMessage is stored at chatSessions/{id}/messages/{id}
type ChatMessage struct {
	ID            string      `json:"id"`
	SessionID     string      `json:"sessionId"`
	SenderID      string      `json:"senderId"`
	SenderName    string      `json:"senderName"`
	SenderRole    Role        `json:"senderRole"`
	Text          string      `json:"text"`
	Kind          MessageKind `json:"kind"`
	AttachmentKey string      `json:"attachmentKey,omitempty"`
	CreatedAt     time.Time   `json:"createdAt"`
}

// IsParticipant reports whether userID is the client or the assigned staff member
func (s *ChatSession) IsParticipant(userID string) bool {
	return userID != "" && (s.ClientID == userID || s.StaffID == userID)
}

// ChatSessionPath is the document path of a session
func ChatSessionPath(sessionID string) string {
	return signaling.Join(ChatSessionsCollection, sessionID)
}

// MessagesPath is the message collection of a session
func MessagesPath(sessionID string) string {
	return signaling.Join(ChatSessionsCollection, sessionID, MessagesCollection)
}

// ParseChatSession reads a session from a document snapshot
func ParseChatSession(doc *signaling.Document) *ChatSession {
	s := &ChatSession{
		ID:          doc.ID,
		ClientID:    doc.String("clientId"),
		ClientName:  doc.String("clientName"),
		ClientRole:  Role(doc.String("clientRole")),
		Topic:       doc.String("topic"),
		Status:      ChatStatus(doc.String("status")),
		StaffID:     doc.String("staffId"),
		StaffName:   doc.String("staffName"),
		LastMessage: doc.String("lastMessage"),
	}
	s.CreatedAt, _ = doc.Time("createdAt")
	s.UpdatedAt, _ = doc.Time("updatedAt")
	if ts, ok := doc.Time("closedAt"); ok {
		s.ClosedAt = &ts
	}
	return s
}

// ParseChatMessage reads a message from a document snapshot
func ParseChatMessage(sessionID string, doc *signaling.Document) *ChatMessage {
	m := &ChatMessage{
		ID:            doc.ID,
		SessionID:     sessionID,
		SenderID:      doc.String("senderId"),
		SenderName:    doc.String("senderName"),
		SenderRole:    Role(doc.String("senderRole")),
		Text:          doc.String("text"),
		Kind:          MessageKind(doc.String("kind")),
		AttachmentKey: doc.String("attachmentKey"),
	}
	m.CreatedAt, _ = doc.Time("createdAt")
	return m
}

// CreateChatSessionRequest opens a support session
type CreateChatSessionRequest struct {
	Topic     string `json:"topic" binding:"required,max=200"`
	StaffRole Role   `json:"staff_role,omitempty"`
	AutoRoute bool   `json:"auto_route"`
}

// SendMessageRequest posts a message to a session
type SendMessageRequest struct {
	Text          string      `json:"text" binding:"max=4000"`
	Kind          MessageKind `json:"kind,omitempty"`
	AttachmentKey string      `json:"attachment_key,omitempty"`
}

// AttachmentUploadRequest asks for a presigned upload URL
type AttachmentUploadRequest struct {
	FileName    string `json:"file_name" binding:"required,max=255"`
	ContentType string `json:"content_type" binding:"required"`
	FileSize    int64  `json:"file_size" binding:"required,min=1"`
}

// AttachmentUploadResponse carries the presigned URL
type AttachmentUploadResponse struct {
	ObjectKey string    `json:"object_key"`
	UploadURL string    `json:"upload_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TranscriptEntry is one archived message of a closed session
type TranscriptEntry struct {
	SessionID  string
	MessageID  string
	SenderID   string
	SenderRole Role
	Text       string
	Kind       MessageKind
	CreatedAt  time.Time
}
