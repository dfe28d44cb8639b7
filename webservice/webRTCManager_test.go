package webservice

import (
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webkvm/config"
	sagent "webkvm/streamAgent"
	"webkvm/streamAgent/webrtcHelper"
)

type nullTransport struct{}

func (nullTransport) WriteFrame([]byte) error   { return nil }
func (nullTransport) WriteControl([]byte) error { return nil }

func localOffer(t *testing.T, withChannel bool) string {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })
	if withChannel {
		_, err = pc.CreateDataChannel(FramesChannel, nil)
	} else {
		_, err = pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	}
	require.NoError(t, err)
	offer, err := pc.CreateOffer(nil)
	require.NoError(t, err)
	gather := webrtc.GatheringCompletePromise(pc)
	require.NoError(t, pc.SetLocalDescription(offer))
	<-gather
	return pc.LocalDescription().SDP
}

func TestAttachAnswersDataChannelOffer(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.WebRTC.Enabled = true
		c.WebRTC.STUNServers = nil
	})
	m := env.wm.WebRTCManager
	require.NotNil(t, m)

	s, err := env.registry.StartSession(nullTransport{}, 0, sagent.FORMAT_AUTO, false)
	require.NoError(t, err)

	answer, err := m.Attach(s, localOffer(t, true))
	require.NoError(t, err)
	assert.Contains(t, answer, "webrtc-datachannel")
	assert.Equal(t, 1, m.Len())

	m.Detach(s.ID)
	assert.Zero(t, m.Len())
}

func TestAttachRejectsOfferWithoutDataChannel(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.WebRTC.Enabled = true
		c.WebRTC.STUNServers = nil
	})
	s, err := env.registry.StartSession(nullTransport{}, 0, sagent.FORMAT_AUTO, false)
	require.NoError(t, err)

	_, err = env.wm.WebRTCManager.Attach(s, localOffer(t, false))
	assert.ErrorIs(t, err, webrtcHelper.ErrNoDataChannel)
	assert.Zero(t, env.wm.WebRTCManager.Len())
}
