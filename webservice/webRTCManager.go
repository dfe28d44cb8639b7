package webservice

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"webkvm/config"
	sagent "webkvm/streamAgent"
	"webkvm/streamAgent/webrtcHelper"
)

const (
	FramesChannel = "frames"
	// frames are dropped to the websocket once this much is queued
	maxBufferedAmount = 4 << 20
)

var ErrDataChannelCongested = errors.New("webrtc: data channel congested")

// Subscriber is the peer connection attached to one session.
type Subscriber struct {
	PeerConnection *webrtc.PeerConnection
	dataChannel    *webrtc.DataChannel
	rtpSenderVideo *webrtc.RTPSender
	session        *sagent.Session
}

// dataChannelSink carries wire frames over a data channel.
type dataChannelSink struct {
	dc *webrtc.DataChannel
}

func (d dataChannelSink) WriteFrame(b []byte) error {
	if d.dc.BufferedAmount() > maxBufferedAmount {
		return ErrDataChannelCongested
	}
	return d.dc.Send(b)
}

// WebRTCManager upgrades websocket sessions to a WebRTC data channel for
// frames and, for vp8 sessions, a VP8 track.
type WebRTCManager struct {
	sync.RWMutex
	subscribers map[string]*Subscriber // session ID -> subscriber

	api     *webrtc.API
	peerCfg webrtcHelper.PeerConfig
	log     logging.LeveledLogger
}

func NewWebRTCManager(cfg config.WebRTCConfig, lf logging.LoggerFactory) (*WebRTCManager, error) {
	peerCfg := webrtcHelper.PeerConfig{
		STUNServers:   cfg.STUNServers,
		UDPPortMin:    cfg.UDPPortMin,
		UDPPortMax:    cfg.UDPPortMax,
		LoggerFactory: lf,
	}
	api, err := webrtcHelper.NewAPI(peerCfg)
	if err != nil {
		return nil, err
	}
	return &WebRTCManager{
		subscribers: make(map[string]*Subscriber),
		api:         api,
		peerCfg:     peerCfg,
		log:         lf.NewLogger("webrtc"),
	}, nil
}

// Attach answers a client offer for session s. The session keeps using
// its websocket until the data channel opens.
func (manager *WebRTCManager) Attach(s *sagent.Session, offer string) (string, error) {
	kinds, err := webrtcHelper.OfferMedia(offer)
	if err != nil {
		return "", err
	}
	pc, err := manager.api.NewPeerConnection(manager.peerCfg.Configuration())
	if err != nil {
		return "", fmt.Errorf("create peer connection: %w", err)
	}
	sub := &Subscriber{PeerConnection: pc, session: s}
	manager.setDataChannel(sub)

	if s.Format == sagent.FORMAT_VP8 && slices.Contains(kinds, "video") {
		track, err := webrtcHelper.NewVideoTrack(s.ID)
		if err != nil {
			pc.Close()
			return "", fmt.Errorf("create video track: %w", err)
		}
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return "", fmt.Errorf("add video track: %w", err)
		}
		sub.rtpSenderVideo = sender
		go webrtcHelper.HandleRTCP(sender, func() {
			manager.log.Debugf("session %s: keyframe requested via RTCP", s.ID)
			s.RequestKeyframe()
		})
		s.SetVideoTrack(track)
	}
	manager.setCleanup(sub)

	manager.Lock()
	old := manager.subscribers[s.ID]
	manager.subscribers[s.ID] = sub
	manager.Unlock()
	if old != nil {
		old.PeerConnection.Close()
	}

	answer, err := webrtcHelper.Answer(pc, offer)
	if err != nil {
		manager.Detach(s.ID)
		return "", err
	}
	return answer, nil
}

func (manager *WebRTCManager) setDataChannel(sub *Subscriber) {
	s := sub.session
	sub.PeerConnection.OnDataChannel(func(d *webrtc.DataChannel) {
		if d.Label() != FramesChannel {
			manager.log.Warnf("session %s: ignoring data channel %q", s.ID, d.Label())
			return
		}
		sub.dataChannel = d
		d.OnOpen(func() {
			s.SetFrameSink(dataChannelSink{dc: d}, "webrtc")
		})
		d.OnClose(func() {
			s.SetFrameSink(nil, "")
		})
	})
}

func (manager *WebRTCManager) setCleanup(sub *Subscriber) {
	pc, s := sub.PeerConnection, sub.session
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		manager.log.Infof("session %s: peer connection %s", s.ID, state)
		if state != webrtc.PeerConnectionStateFailed && state != webrtc.PeerConnectionStateClosed {
			return
		}
		manager.Lock()
		if manager.subscribers[s.ID] == sub {
			delete(manager.subscribers, s.ID)
		}
		manager.Unlock()
		if sub.rtpSenderVideo != nil {
			s.SetVideoTrack(nil)
		}
		s.SetFrameSink(nil, "")
		pc.Close()
	})
}

// Detach closes the peer connection of a session, if any.
func (manager *WebRTCManager) Detach(sessionID string) {
	manager.Lock()
	sub, ok := manager.subscribers[sessionID]
	delete(manager.subscribers, sessionID)
	manager.Unlock()
	if ok {
		sub.PeerConnection.Close()
	}
}

func (manager *WebRTCManager) CloseAll() {
	manager.Lock()
	subs := manager.subscribers
	manager.subscribers = make(map[string]*Subscriber)
	manager.Unlock()
	for _, sub := range subs {
		sub.PeerConnection.Close()
	}
}

func (manager *WebRTCManager) Len() int {
	manager.RLock()
	defer manager.RUnlock()
	return len(manager.subscribers)
}

// LogStatus prints the peer connection states every interval until ctx
// ends.
func (manager *WebRTCManager) LogStatus(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		manager.RLock()
		manager.log.Infof("WebRTCManager status: %d peers", len(manager.subscribers))
		for id, sub := range manager.subscribers {
			manager.log.Infof("session %s: peer %s", id, sub.PeerConnection.ConnectionState())
		}
		manager.RUnlock()
	}
}
