package call

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"lexhub-backend/internal/domain"
	"lexhub-backend/internal/signaling/memory"
)

// Two pion peer connections negotiate over the in-memory channel and
// exchange the synthetic Opus track.
func TestNegotiation_PionPeers(t *testing.T) {
	if testing.Short() {
		t.Skip("opens real ICE sockets")
	}
	ctx := context.Background()
	store := memory.New()

	newService := func(who domain.Principal) *Service {
		svc, err := NewService(store, StaticIdentity(who), Config{Session: testOptions()})
		require.NoError(t, err)
		t.Cleanup(func() { svc.Close(context.Background()) })
		return svc
	}
	callerSvc, calleeSvc := newService(alice), newService(bob)

	caller, err := callerSvc.NewSession()
	require.NoError(t, err)
	callee, err := calleeSvc.NewSession()
	require.NoError(t, err)

	_, callerRemote, err := caller.AcquireMedia(ctx, false)
	require.NoError(t, err)
	_, calleeRemote, err := callee.AcquireMedia(ctx, false)
	require.NoError(t, err)

	callID, err := caller.CreateCall(ctx, bob.ID, "", domain.CallTypeVoice)
	require.NoError(t, err)
	require.NoError(t, callee.AnswerCall(ctx, callID))

	const media = 10 * time.Second
	require.Eventually(t, func() bool { return caller.State() == StateConnected }, media, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(calleeRemote.Tracks()) > 0 }, media, 10*time.Millisecond)
	require.Eventually(t, func() bool { return len(callerRemote.Tracks()) > 0 }, media, 10*time.Millisecond)

	require.NoError(t, caller.Hangup(ctx))
	require.Eventually(t, func() bool { return callee.State() == StateEnded }, waitFor, tick)
	require.Equal(t, EndReasonRemoteHangup, callee.EndReason())
	require.Equal(t, 0, callerSvc.Len())
	require.Equal(t, 0, calleeSvc.Len())
}
