package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lexhub-backend/internal/domain"
	apperrors "lexhub-backend/pkg/errors"
	"lexhub-backend/pkg/logger"
	"lexhub-backend/pkg/metrics"
	"lexhub-backend/pkg/sanitize"
)

// MaxAttachmentSize bounds a single chat attachment
const MaxAttachmentSize int64 = 25 * 1024 * 1024

// ErrObjectNotFound is returned by Stat for keys that were never uploaded
var ErrObjectNotFound = errors.New("object not found")

var allowedContentTypes = map[string]bool{
	"application/pdf":    true,
	"image/jpeg":         true,
	"image/png":          true,
	"image/webp":         true,
	"text/plain":         true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
}

// ObjectStore is the object storage the attachments live in
type ObjectStore interface {
	PresignedPutURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, key string, expiry time.Duration) (string, error)
	Stat(ctx context.Context, key string) (*ObjectInfo, error)
	Remove(ctx context.Context, key string) error
}

// Service hands out presigned URLs for chat attachments
type Service struct {
	store  ObjectStore
	expiry time.Duration
	now    func() time.Time
}

// NewService creates a new attachment service
func NewService(store ObjectStore, expiry time.Duration) *Service {
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &Service{store: store, expiry: expiry, now: time.Now}
}

// AttachmentPrefix is the key prefix of every attachment of a session
func AttachmentPrefix(sessionID string) string {
	return fmt.Sprintf("chat/%s/", sessionID)
}

// UploadURL validates an attachment request and returns where to PUT it
func (s *Service) UploadURL(ctx context.Context, sessionID string, req *domain.AttachmentUploadRequest) (*domain.AttachmentUploadResponse, error) {
	if req.FileSize <= 0 || req.FileSize > MaxAttachmentSize {
		return nil, apperrors.ValidationError(fmt.Sprintf("attachments must be between 1 byte and %d MB", MaxAttachmentSize/(1024*1024)))
	}
	contentType := strings.ToLower(strings.TrimSpace(req.ContentType))
	if !allowedContentTypes[contentType] {
		return nil, apperrors.ValidationError(fmt.Sprintf("content type %q is not allowed", req.ContentType))
	}

	key := AttachmentPrefix(sessionID) + uuid.NewString() + "/" + sanitize.Filename(req.FileName)
	u, err := s.store.PresignedPutURL(ctx, key, s.expiry)
	if err != nil {
		metrics.ChatAttachmentURLsTotal.WithLabelValues("upload_error").Inc()
		logger.FromContext(ctx).Error("Failed to presign upload", zap.String("session_id", sessionID), zap.Error(err))
		return nil, apperrors.StorageError(err)
	}
	metrics.ChatAttachmentURLsTotal.WithLabelValues("upload").Inc()
	return &domain.AttachmentUploadResponse{
		ObjectKey: key,
		UploadURL: u,
		ExpiresAt: s.now().Add(s.expiry),
	}, nil
}

// VerifyUploaded checks that key belongs to the session and was uploaded
func (s *Service) VerifyUploaded(ctx context.Context, sessionID, key string) error {
	if !strings.HasPrefix(key, AttachmentPrefix(sessionID)) {
		return apperrors.ForbiddenError("attachment does not belong to this session")
	}
	info, err := s.store.Stat(ctx, key)
	if errors.Is(err, ErrObjectNotFound) {
		return apperrors.ValidationError("attachment has not been uploaded")
	}
	if err != nil {
		return apperrors.StorageError(err)
	}
	if info.Size > MaxAttachmentSize {
		return apperrors.ValidationError("attachment is too large")
	}
	return nil
}

// DownloadURL returns a presigned download URL for a session attachment
func (s *Service) DownloadURL(ctx context.Context, sessionID, key string) (string, error) {
	if !strings.HasPrefix(key, AttachmentPrefix(sessionID)) {
		return "", apperrors.ForbiddenError("attachment does not belong to this session")
	}
	u, err := s.store.PresignedGetURL(ctx, key, s.expiry)
	if err != nil {
		metrics.ChatAttachmentURLsTotal.WithLabelValues("download_error").Inc()
		return "", apperrors.StorageError(err)
	}
	metrics.ChatAttachmentURLsTotal.WithLabelValues("download").Inc()
	return u, nil
}

// Remove deletes an attachment of a session
func (s *Service) Remove(ctx context.Context, sessionID, key string) error {
	if !strings.HasPrefix(key, AttachmentPrefix(sessionID)) {
		return apperrors.ForbiddenError("attachment does not belong to this session")
	}
	if err := s.store.Remove(ctx, key); err != nil {
		return apperrors.StorageError(err)
	}
	return nil
}
