package call

import (
	"context"
	"errors"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConstraints(t *testing.T) {
	voice := DefaultConstraints(false)
	assert.False(t, voice.Video)
	assert.True(t, voice.Audio.EchoCancellation)
	assert.True(t, voice.Audio.NoiseSuppression)
	assert.True(t, voice.Audio.AutoGainControl)

	assert.True(t, DefaultConstraints(true).Video)
}

func TestSyntheticSource_Acquire(t *testing.T) {
	src := NewSyntheticSource()

	voice, err := src.Acquire(context.Background(), DefaultConstraints(false))
	require.NoError(t, err)
	defer voice.Stop()
	require.Len(t, voice.Audio(), 1)
	assert.Empty(t, voice.Video())
	assert.Equal(t, webrtc.RTPCodecTypeAudio, voice.Audio()[0].Kind())
	assert.True(t, voice.Audio()[0].Enabled())

	video, err := src.Acquire(context.Background(), DefaultConstraints(true))
	require.NoError(t, err)
	defer video.Stop()
	require.Len(t, video.Tracks(), 2)
	require.Len(t, video.Video(), 1)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, video.Video()[0].Kind())
	assert.NotEqual(t, voice.ID, video.ID)
}

func TestSyntheticSource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSyntheticSource().Acquire(ctx, DefaultConstraints(false))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalTrack_EnableAndStop(t *testing.T) {
	stream, err := NewSyntheticSource().Acquire(context.Background(), DefaultConstraints(false))
	require.NoError(t, err)
	track := stream.Audio()[0]

	require.NoError(t, track.SetEnabled(false))
	assert.False(t, track.Enabled())
	require.NoError(t, track.SetEnabled(false))
	require.NoError(t, track.SetEnabled(true))
	assert.True(t, track.Enabled())

	stream.Stop()
	stream.Stop()
	assert.False(t, track.Enabled())
}

func TestLocalTrack_StopRunsOnce(t *testing.T) {
	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}, "a", "s")
	require.NoError(t, err)

	stops := 0
	track := NewLocalTrack(audio, func() { stops++ })
	track.Stop()
	track.Stop()
	assert.Equal(t, 1, stops)
	assert.Equal(t, "a", track.ID())
}

func TestRemoteStream_StartsEmpty(t *testing.T) {
	remote := NewRemoteStream()
	assert.Empty(t, remote.Tracks())
	assert.NotEmpty(t, remote.ID)
}

func TestSourceFunc(t *testing.T) {
	denied := errors.New("denied")
	var got Constraints
	src := SourceFunc(func(_ context.Context, c Constraints) (*LocalStream, error) {
		got = c
		return nil, denied
	})

	_, err := src.Acquire(context.Background(), DefaultConstraints(true))
	assert.ErrorIs(t, err, denied)
	assert.True(t, got.Video)
}
