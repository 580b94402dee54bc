//go:build linux && capture

package call

import (
	"context"
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"lexhub-backend/pkg/logger"
)

// DeviceSource captures the local camera and microphone (V4L2 + malgo)
type DeviceSource struct {
	selector *mediadevices.CodecSelector
}

// NewDeviceSource builds a capture source encoding VP8 and Opus
func NewDeviceSource() (Source, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("failed to create vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to create opus params: %w", err)
	}

	return &DeviceSource{
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// RegisterCodecs implements CodecRegistrar
func (d *DeviceSource) RegisterCodecs(m *webrtc.MediaEngine) error {
	d.selector.Populate(m)
	return nil
}

// Acquire implements Source. The capture drivers have no audio processing
// stage, so the audio constraints are only recorded on the stream.
func (d *DeviceSource) Acquire(ctx context.Context, c Constraints) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{
		Codec: d.selector,
		Audio: func(_ *mediadevices.MediaTrackConstraints) {},
	}
	if c.Video {
		constraints.Video = func(mc *mediadevices.MediaTrackConstraints) {
			mc.FrameFormat = prop.FrameFormatOneOf{
				frame.FormatYUYV,
				frame.FormatI420,
				frame.FormatI444,
				frame.FormatRGBA,
			}
			mc.Width = prop.IntRanged{Max: 640}
			mc.Height = prop.IntRanged{Max: 480}
		}
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		return nil, fmt.Errorf("getUserMedia: %w", err)
	}

	var tracks []*LocalTrack
	for _, track := range stream.GetTracks() {
		track := track
		track.OnEnded(func(err error) {
			if err != nil {
				logger.Warn("Local capture track ended", zap.String("track_id", track.ID()), zap.Error(err))
			}
		})
		lt := NewLocalTrack(track, func() { _ = track.Close() })
		lt.detach = true
		tracks = append(tracks, lt)
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("no capture device available")
	}

	logger.Info("Local media captured",
		zap.Int("tracks", len(tracks)),
		zap.Bool("video", c.Video))
	return NewLocalStream(c, tracks...), nil
}
