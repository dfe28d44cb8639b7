package webrtcHelper

import (
	"errors"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	pionSDP "github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

const PAYLOAD_TYPE_VP8 = 96

var ErrNoDataChannel = errors.New("webrtc: offer has no data channel")

type PeerConfig struct {
	STUNServers   []string
	UDPPortMin    uint16
	UDPPortMax    uint16
	LoggerFactory logging.LoggerFactory
}

// NewAPI builds a pion API with VP8 registered for container frames, the
// transport-cc extension and the default interceptors.
func NewAPI(cfg PeerConfig) (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	err := m.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeVP8,
			ClockRate: 90000,
			RTCPFeedback: []webrtc.RTCPFeedback{
				{Type: "transport-cc", Parameter: ""},
				{Type: "ccm", Parameter: "fir"},
				{Type: "nack", Parameter: ""},
				{Type: "nack", Parameter: "pli"},
			},
		},
		PayloadType: PAYLOAD_TYPE_VP8,
	}, webrtc.RTPCodecTypeVideo)
	if err != nil {
		return nil, fmt.Errorf("register VP8: %w", err)
	}
	if err := m.RegisterHeaderExtension(
		webrtc.RTPHeaderExtensionCapability{URI: pionSDP.TransportCCURI},
		webrtc.RTPCodecTypeVideo,
	); err != nil {
		return nil, fmt.Errorf("register transport-cc: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	se := webrtc.SettingEngine{LoggerFactory: cfg.LoggerFactory}
	if cfg.UDPPortMin != 0 && cfg.UDPPortMax != 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, err
		}
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i), webrtc.WithSettingEngine(se)), nil
}

func (cfg PeerConfig) Configuration() webrtc.Configuration {
	c := webrtc.Configuration{}
	if len(cfg.STUNServers) > 0 {
		c.ICEServers = []webrtc.ICEServer{{URLs: cfg.STUNServers}}
	}
	return c
}

// OfferMedia lists the m-line kinds of an offer and requires an
// application (data channel) section.
func OfferMedia(offer string) ([]string, error) {
	var sd pionSDP.SessionDescription
	if err := sd.UnmarshalString(offer); err != nil {
		return nil, fmt.Errorf("parse offer: %w", err)
	}
	kinds := make([]string, 0, len(sd.MediaDescriptions))
	hasApp := false
	for _, md := range sd.MediaDescriptions {
		kinds = append(kinds, md.MediaName.Media)
		if md.MediaName.Media == "application" {
			hasApp = true
		}
	}
	if !hasApp {
		return kinds, ErrNoDataChannel
	}
	return kinds, nil
}

// Answer applies the offer, waits for ICE gathering and returns the full
// answer SDP, so no trickle ICE is needed.
func Answer(pc *webrtc.PeerConnection, offer string) (string, error) {
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer}); err != nil {
		return "", fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete
	return pc.LocalDescription().SDP, nil
}
