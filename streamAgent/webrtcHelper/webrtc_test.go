package webrtcHelper

import (
	"io"
	"testing"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedReader struct {
	packets [][]byte
}

func (r *scriptedReader) Read(b []byte) (int, interceptor.Attributes, error) {
	if len(r.packets) == 0 {
		return 0, nil, io.EOF
	}
	n := copy(b, r.packets[0])
	r.packets = r.packets[1:]
	return n, nil, nil
}

func TestHandleRTCPRateLimitsKeyframes(t *testing.T) {
	pli, err := rtcp.Marshal([]rtcp.Packet{&rtcp.PictureLossIndication{SenderSSRC: 1, MediaSSRC: 2}})
	require.NoError(t, err)
	rr, err := rtcp.Marshal([]rtcp.Packet{&rtcp.ReceiverReport{SSRC: 1}})
	require.NoError(t, err)

	r := &scriptedReader{packets: [][]byte{rr, pli, pli, []byte{0xff}, pli}}
	calls := 0
	HandleRTCP(r, func() { calls++ })
	assert.Equal(t, 1, calls)
}

func TestOfferMedia(t *testing.T) {
	offer := "v=0\r\n" +
		"o=- 1 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=application 9 UDP/DTLS/SCTP webrtc-datachannel\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=mid:0\r\n"
	kinds, err := OfferMedia(offer)
	require.NoError(t, err)
	assert.Equal(t, []string{"application"}, kinds)

	noApp := "v=0\r\n" +
		"o=- 1 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=video 9 UDP/TLS/RTP/SAVPF 96\r\n" +
		"c=IN IP4 0.0.0.0\r\n"
	_, err = OfferMedia(noApp)
	assert.ErrorIs(t, err, ErrNoDataChannel)

	_, err = OfferMedia("garbage")
	assert.Error(t, err)
}

func TestNewAPIAndTrack(t *testing.T) {
	api, err := NewAPI(PeerConfig{UDPPortMin: 51200, UDPPortMax: 51299})
	require.NoError(t, err)
	require.NotNil(t, api)

	track, err := NewVideoTrack("abc")
	require.NoError(t, err)
	assert.Equal(t, "webkvm-video-abc", track.ID())
}
