package webrtcHelper

import (
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
)

// RTCPReader is the read side of an RTP sender.
type RTCPReader interface {
	Read(b []byte) (int, interceptor.Attributes, error)
}

const minKeyframeGap = 2 * time.Second

// HandleRTCP reads until the sender closes and calls onKeyframe for picture
// loss or full intra requests, at most once per two seconds.
func HandleRTCP(sender RTCPReader, onKeyframe func()) {
	rtcpBuf := make([]byte, 1500)
	var last time.Time
	for {
		n, _, err := sender.Read(rtcpBuf)
		if err != nil {
			return
		}
		packets, err := rtcp.Unmarshal(rtcpBuf[:n])
		if err != nil {
			continue
		}
		for _, p := range packets {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				now := time.Now()
				if !last.IsZero() && now.Sub(last) < minKeyframeGap {
					continue
				}
				last = now
				onKeyframe()
			}
		}
	}
}
