package viewer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"

	"webkvm/control"
	"webkvm/streamAgent/webrtcHelper"
)

const (
	FramesChannel = "frames"
	answerTimeout = 10 * time.Second
)

var ErrNoAnswer = errors.New("viewer: no webrtc answer")

type rtcLink struct {
	pc      *webrtc.PeerConnection
	packets atomic.Uint64
}

func (l *rtcLink) close() {
	l.pc.Close()
}

// upgradeWebRTC offers a data channel for frames, plus a receive-only VP8
// track when the stream uses the vp8 codec. The websocket keeps carrying
// control messages and input.
func (c *Client) upgradeWebRTC(ctx context.Context) error {
	api, err := webrtcHelper.NewAPI(webrtcHelper.PeerConfig{LoggerFactory: c.logf})
	if err != nil {
		return err
	}
	pc, err := api.NewPeerConnection(webrtcHelper.PeerConfig{}.Configuration())
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	link := &rtcLink{pc: pc}

	ordered := false
	dc, err := pc.CreateDataChannel(FramesChannel, &webrtc.DataChannelInit{Ordered: &ordered})
	if err != nil {
		pc.Close()
		return fmt.Errorf("create data channel: %w", err)
	}
	dc.OnOpen(func() {
		c.log.Info("frames now arrive over the webrtc data channel")
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if msg.IsString {
			return
		}
		c.disp.Dispatch(msg.Data)
	})

	if c.opts.Codec == "vp8" {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			pc.Close()
			return fmt.Errorf("add video transceiver: %w", err)
		}
		pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			c.log.Infof("video track %s (%s)", track.ID(), track.Codec().MimeType)
			for {
				if _, _, err := track.ReadRTP(); err != nil {
					return
				}
				link.packets.Add(1)
			}
		})
	}
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		c.log.Debugf("peer connection %s", state)
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create offer: %w", err)
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		pc.Close()
		return fmt.Errorf("set local description: %w", err)
	}
	<-gatherComplete

	c.queue(control.MustEncode(control.Message{Type: control.MSG_TYPE_OFFER, SDP: pc.LocalDescription().SDP}))

	var answer string
	select {
	case <-ctx.Done():
		pc.Close()
		return ctx.Err()
	case <-time.After(answerTimeout):
		pc.Close()
		return ErrNoAnswer
	case answer = <-c.answers:
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		pc.Close()
		return fmt.Errorf("set remote description: %w", err)
	}

	c.mu.Lock()
	c.rtc = link
	c.mu.Unlock()
	return nil
}

// VideoPackets counts RTP packets received on the VP8 track.
func (c *Client) VideoPackets() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rtc == nil {
		return 0
	}
	return c.rtc.packets.Load()
}
