package webrtcHelper

import (
	"github.com/pion/webrtc/v4"
)

// NewVideoTrack creates the VP8 track that mirrors container frames of one
// session.
func NewVideoTrack(sessionID string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
		"webkvm-video-"+sessionID,
		"webkvm-"+sessionID,
	)
}
