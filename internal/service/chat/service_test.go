package chat

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/signaling"
	"lexhub-backend/internal/signaling/memory"
	apperrors "lexhub-backend/pkg/errors"
)

// Mocks
type MockRouter struct {
	mock.Mock
}

func (m *MockRouter) Route(ctx context.Context, role domain.Role) (*domain.RouteResult, error) {
	args := m.Called(ctx, role)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.RouteResult), args.Error(1)
}

func (m *MockRouter) Assign(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *MockRouter) Release(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

type MockArchive struct {
	mock.Mock
}

func (m *MockArchive) Save(ctx context.Context, entries []*domain.TranscriptEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

type MockAttachments struct {
	mock.Mock
}

func (m *MockAttachments) UploadURL(ctx context.Context, sessionID string, req *domain.AttachmentUploadRequest) (*domain.AttachmentUploadResponse, error) {
	args := m.Called(ctx, sessionID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.AttachmentUploadResponse), args.Error(1)
}

func (m *MockAttachments) VerifyUploaded(ctx context.Context, sessionID, key string) error {
	args := m.Called(ctx, sessionID, key)
	return args.Error(0)
}

func (m *MockAttachments) DownloadURL(ctx context.Context, sessionID, key string) (string, error) {
	args := m.Called(ctx, sessionID, key)
	return args.String(0), args.Error(1)
}

var (
	client  = domain.Principal{ID: "anon-1", DisplayName: "Guest", Role: domain.RoleClient, Anonymous: true}
	advisor = domain.Principal{ID: "staff-1", DisplayName: "Dana", Role: domain.RoleStaff}
	other   = domain.Principal{ID: "staff-2", DisplayName: "Lee", Role: domain.RoleStaff}
)

// newStore returns a store whose clock advances one second per timestamp
func newStore() *memory.Store {
	store := memory.New()
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	var ticks atomic.Int64
	store.SetClock(func() time.Time {
		return base.Add(time.Duration(ticks.Add(1)) * time.Second)
	})
	return store
}

func TestCreateSession_Waiting(t *testing.T) {
	svc := NewService(newStore(), nil, nil, nil)

	session, err := svc.CreateSession(context.Background(), client, &domain.CreateChatSessionRequest{Topic: "  Contract <b>review</b> "})
	require.NoError(t, err)
	assert.NotEmpty(t, session.ID)
	assert.Equal(t, "Contract review", session.Topic)
	assert.Equal(t, domain.ChatStatusWaiting, session.Status)
	assert.Equal(t, client.ID, session.ClientID)
	assert.Equal(t, domain.RoleClient, session.ClientRole)
	assert.Empty(t, session.StaffID)
	assert.False(t, session.CreatedAt.IsZero())
}

func TestCreateSession_Validation(t *testing.T) {
	svc := NewService(newStore(), nil, nil, nil)

	_, err := svc.CreateSession(context.Background(), client, &domain.CreateChatSessionRequest{Topic: "<i></i>"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingField))

	_, err = svc.CreateSession(context.Background(), domain.Principal{}, &domain.CreateChatSessionRequest{Topic: "help"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnauthorized))
}

func TestCreateSession_AutoRoute(t *testing.T) {
	store := newStore()
	router := new(MockRouter)
	svc := NewService(store, router, nil, nil)
	ctx := context.Background()

	router.On("Route", ctx, domain.RoleAdvocate).Return(&domain.RouteResult{
		Staff: &domain.StaffMember{UserID: advisor.ID, DisplayName: advisor.DisplayName, Role: domain.RoleAdvocate},
	}, nil)
	router.On("Assign", ctx, advisor.ID).Return(nil)

	session, err := svc.CreateSession(ctx, client, &domain.CreateChatSessionRequest{
		Topic: "Tenancy", StaffRole: domain.RoleAdvocate, AutoRoute: true,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ChatStatusActive, session.Status)
	assert.Equal(t, advisor.ID, session.StaffID)
	assert.Equal(t, advisor.DisplayName, session.StaffName)
	router.AssertExpectations(t)

	messages, err := svc.ListMessages(ctx, client, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, domain.MessageKindSystem, messages[0].Kind)
}

func TestCreateSession_NoStaffQueues(t *testing.T) {
	router := new(MockRouter)
	svc := NewService(newStore(), router, nil, nil)
	ctx := context.Background()

	router.On("Route", ctx, domain.RoleStaff).Return(nil, apperrors.NoStaffAvailableError("staff"))

	session, err := svc.CreateSession(ctx, client, &domain.CreateChatSessionRequest{Topic: "Billing", AutoRoute: true})
	require.NoError(t, err)
	assert.Equal(t, domain.ChatStatusWaiting, session.Status)
	router.AssertNotCalled(t, "Assign", mock.Anything, mock.Anything)
}

func TestJoinSession(t *testing.T) {
	router := new(MockRouter)
	svc := NewService(newStore(), router, nil, nil)
	ctx := context.Background()
	router.On("Assign", ctx, advisor.ID).Return(nil).Once()

	session, err := svc.CreateSession(ctx, client, &domain.CreateChatSessionRequest{Topic: "Visa"})
	require.NoError(t, err)

	_, err = svc.JoinSession(ctx, client, session.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	joined, err := svc.JoinSession(ctx, advisor, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChatStatusActive, joined.Status)
	assert.Equal(t, advisor.ID, joined.StaffID)

	again, err := svc.JoinSession(ctx, advisor, session.ID)
	require.NoError(t, err)
	assert.Equal(t, advisor.ID, again.StaffID)

	_, err = svc.JoinSession(ctx, other, session.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConflict))

	_, err = svc.JoinSession(ctx, advisor, "missing")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))
	router.AssertExpectations(t)
}

func TestJoinSession_Concurrent(t *testing.T) {
	svc := NewService(newStore(), nil, nil, nil)
	ctx := context.Background()
	session, err := svc.CreateSession(ctx, client, &domain.CreateChatSessionRequest{Topic: "Race"})
	require.NoError(t, err)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := domain.Principal{ID: string(rune('a' + i)), DisplayName: "s", Role: domain.RoleStaff}
			if _, err := svc.JoinSession(ctx, p, session.ID); err == nil {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestSendMessage(t *testing.T) {
	svc := NewService(newStore(), nil, nil, nil)
	ctx := context.Background()
	session, err := svc.CreateSession(ctx, client, &domain.CreateChatSessionRequest{Topic: "Lease"})
	require.NoError(t, err)

	msg, err := svc.SendMessage(ctx, client, session.ID, &domain.SendMessageRequest{Text: "hello <script>x</script>there"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", msg.Text)
	assert.Equal(t, domain.MessageKindText, msg.Kind)
	assert.Equal(t, client.ID, msg.SenderID)
	assert.False(t, msg.CreatedAt.IsZero())

	updated, err := svc.GetSession(ctx, client, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello there", updated.LastMessage)
	assert.True(t, updated.UpdatedAt.After(session.UpdatedAt))

	_, err = svc.SendMessage(ctx, advisor, session.ID, &domain.SendMessageRequest{Text: "hi"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	_, err = svc.SendMessage(ctx, client, session.ID, &domain.SendMessageRequest{Text: "  "})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingField))

	_, err = svc.SendMessage(ctx, client, session.ID, &domain.SendMessageRequest{Text: "x", Kind: domain.MessageKindSystem})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeValidation))

	_, err = svc.SendMessage(ctx, client, "missing", &domain.SendMessageRequest{Text: "x"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionNotFound))
}

func TestSendMessage_File(t *testing.T) {
	attachments := new(MockAttachments)
	svc := NewService(newStore(), nil, nil, attachments)
	ctx := context.Background()
	session, err := svc.CreateSession(ctx, client, &domain.CreateChatSessionRequest{Topic: "Docs"})
	require.NoError(t, err)

	key := "chat/" + session.ID + "/id/deed.pdf"
	attachments.On("VerifyUploaded", ctx, session.ID, key).Return(nil).Once()
	attachments.On("VerifyUploaded", ctx, session.ID, "chat/other/x.pdf").Return(apperrors.ForbiddenError("nope")).Once()

	msg, err := svc.SendMessage(ctx, client, session.ID, &domain.SendMessageRequest{Kind: domain.MessageKindFile, AttachmentKey: key})
	require.NoError(t, err)
	assert.Equal(t, key, msg.AttachmentKey)

	updated, err := svc.GetSession(ctx, client, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "Attachment", updated.LastMessage)

	_, err = svc.SendMessage(ctx, client, session.ID, &domain.SendMessageRequest{Kind: domain.MessageKindFile, AttachmentKey: "chat/other/x.pdf"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	_, err = svc.SendMessage(ctx, client, session.ID, &domain.SendMessageRequest{Kind: domain.MessageKindFile})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeMissingField))
	attachments.AssertExpectations(t)
}

func TestCloseSession(t *testing.T) {
	router := new(MockRouter)
	archive := new(MockArchive)
	svc := NewService(newStore(), router, archive, nil)
	ctx := context.Background()
	router.On("Assign", ctx, advisor.ID).Return(nil)
	router.On("Release", ctx, advisor.ID).Return(nil).Once()

	session, err := svc.CreateSession(ctx, client, &domain.CreateChatSessionRequest{Topic: "Estate"})
	require.NoError(t, err)
	_, err = svc.JoinSession(ctx, advisor, session.ID)
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, client, session.ID, &domain.SendMessageRequest{Text: "question"})
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, advisor, session.ID, &domain.SendMessageRequest{Text: "answer"})
	require.NoError(t, err)

	archive.On("Save", mock.Anything, mock.MatchedBy(func(entries []*domain.TranscriptEntry) bool {
		// joined, question, answer, closed
		return len(entries) == 4 &&
			entries[1].Text == "question" && entries[2].SenderID == advisor.ID &&
			entries[3].Kind == domain.MessageKindSystem
	})).Return(nil).Once()

	_, err = svc.CloseSession(ctx, other, session.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	closed, err := svc.CloseSession(ctx, client, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChatStatusClosed, closed.Status)
	require.NotNil(t, closed.ClosedAt)

	again, err := svc.CloseSession(ctx, advisor, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChatStatusClosed, again.Status)

	_, err = svc.SendMessage(ctx, client, session.ID, &domain.SendMessageRequest{Text: "late"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeSessionClosed))

	router.AssertExpectations(t)
	archive.AssertExpectations(t)
}

func TestCloseSession_ArchiveFailureStillCloses(t *testing.T) {
	archive := new(MockArchive)
	svc := NewService(newStore(), nil, archive, nil)
	ctx := context.Background()
	archive.On("Save", mock.Anything, mock.Anything).Return(errors.New("no hosts available"))

	session, err := svc.CreateSession(ctx, client, &domain.CreateChatSessionRequest{Topic: "Outage"})
	require.NoError(t, err)

	closed, err := svc.CloseSession(ctx, client, session.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChatStatusClosed, closed.Status)
	archive.AssertNumberOfCalls(t, "Save", 3)
}

func TestListMessages_Ordered(t *testing.T) {
	svc := NewService(newStore(), nil, nil, nil)
	ctx := context.Background()
	session, err := svc.CreateSession(ctx, client, &domain.CreateChatSessionRequest{Topic: "Order"})
	require.NoError(t, err)

	for _, text := range []string{"one", "two", "three"} {
		_, err := svc.SendMessage(ctx, client, session.ID, &domain.SendMessageRequest{Text: text})
		require.NoError(t, err)
	}

	messages, err := svc.ListMessages(ctx, client, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "one", messages[0].Text)
	assert.Equal(t, "three", messages[2].Text)

	// waiting sessions are visible to any staff member
	_, err = svc.ListMessages(ctx, other, session.ID)
	assert.NoError(t, err)
	_, err = svc.ListMessages(ctx, domain.Principal{ID: "anon-2", Role: domain.RoleClient}, session.ID)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))
}

func TestWatchMessages(t *testing.T) {
	svc := NewService(newStore(), nil, nil, nil)
	ctx := context.Background()
	session, err := svc.CreateSession(ctx, client, &domain.CreateChatSessionRequest{Topic: "Live"})
	require.NoError(t, err)
	_, err = svc.SendMessage(ctx, client, session.ID, &domain.SendMessageRequest{Text: "before"})
	require.NoError(t, err)

	var mu sync.Mutex
	var got []string
	unsub, err := svc.WatchMessages(ctx, client, session.ID, func(m *domain.ChatMessage) {
		mu.Lock()
		got = append(got, m.Text)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsub()

	_, err = svc.SendMessage(ctx, client, session.ID, &domain.SendMessageRequest{Text: "after"})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"before", "after"}, got)
	mu.Unlock()
}

func TestWatchQueue(t *testing.T) {
	store := newStore()
	svc := NewService(store, nil, nil, nil)
	ctx := context.Background()

	_, err := svc.WatchQueue(ctx, client, func(QueueEvent) {})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	events := make(chan QueueEvent, 8)
	unsub, err := svc.WatchQueue(ctx, advisor, func(e QueueEvent) { events <- e })
	require.NoError(t, err)
	defer unsub()

	session, err := svc.CreateSession(ctx, client, &domain.CreateChatSessionRequest{Topic: "Queue"})
	require.NoError(t, err)

	waiting, err := svc.WaitingSessions(ctx, advisor)
	require.NoError(t, err)
	require.Len(t, waiting, 1)
	assert.Equal(t, session.ID, waiting[0].ID)

	_, err = svc.JoinSession(ctx, advisor, session.ID)
	require.NoError(t, err)

	var kinds []string
	timeout := time.After(time.Second)
	for len(kinds) < 2 {
		select {
		case e := <-events:
			assert.Equal(t, session.ID, e.Session.ID)
			if e.Kind != signaling.Modified.String() {
				kinds = append(kinds, e.Kind)
			}
		case <-timeout:
			t.Fatalf("queue events: got %v", kinds)
		}
	}
	assert.Equal(t, []string{"added", "removed"}, kinds)
}

func TestAttachmentURLs(t *testing.T) {
	attachments := new(MockAttachments)
	svc := NewService(newStore(), nil, nil, attachments)
	ctx := context.Background()
	session, err := svc.CreateSession(ctx, client, &domain.CreateChatSessionRequest{Topic: "Files"})
	require.NoError(t, err)

	req := &domain.AttachmentUploadRequest{FileName: "id.png", ContentType: "image/png", FileSize: 100}
	attachments.On("UploadURL", ctx, session.ID, req).Return(&domain.AttachmentUploadResponse{UploadURL: "https://put"}, nil)
	attachments.On("DownloadURL", ctx, session.ID, "chat/"+session.ID+"/k").Return("https://get", nil)

	res, err := svc.AttachmentUploadURL(ctx, client, session.ID, req)
	require.NoError(t, err)
	assert.Equal(t, "https://put", res.UploadURL)

	_, err = svc.AttachmentUploadURL(ctx, advisor, session.ID, req)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeForbidden))

	u, err := svc.AttachmentDownloadURL(ctx, client, session.ID, "chat/"+session.ID+"/k")
	require.NoError(t, err)
	assert.Equal(t, "https://get", u)

	disabled := NewService(newStore(), nil, nil, nil)
	_, err = disabled.AttachmentUploadURL(ctx, client, session.ID, req)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeServiceUnavail))
}
