// Package control defines the JSON messages exchanged on the control
// channel. Every message is an object with a "type" field; the remaining
// fields depend on the type and are omitted when empty.
package control

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"

	"webkvm/sdriver"
)

const (
	MSG_TYPE_PING             = "ping"
	MSG_TYPE_PONG             = "pong"
	MSG_TYPE_QUALITY_UPDATE   = "quality_update"
	MSG_TYPE_REQUEST_KEYFRAME = "request_keyframe"
	MSG_TYPE_MONITORS         = "monitors"
	MSG_TYPE_SERVER_INFO      = "server_info"
	MSG_TYPE_STREAM_INFO      = "stream_info"
	MSG_TYPE_TIER             = "tier"
	MSG_TYPE_OFFER            = "offer"
	MSG_TYPE_ANSWER           = "answer"
	MSG_TYPE_ERROR            = "error"
)

var ErrUnknownType = errors.New("control: unknown message type")

type Message struct {
	Type string `json:"type"`

	// ping / pong
	Timestamp int64 `json:"timestamp,omitempty"`

	// quality_update
	Quality  int     `json:"quality,omitempty"`
	Adaptive bool    `json:"adaptive,omitempty"`
	DropRate float64 `json:"drop_rate,omitempty"`

	// monitors
	Monitors []sdriver.MonitorInfo `json:"monitors,omitempty"`

	// server_info
	Hostname     string `json:"hostname,omitempty"`
	Version      string `json:"version,omitempty"`
	MonitorCount int    `json:"monitor_count,omitempty"`

	// stream_info
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Codec     string `json:"codec,omitempty"`
	Audio     bool   `json:"audio,omitempty"`
	Encrypted bool   `json:"encrypted,omitempty"`

	// stream_info, tier
	Tier string `json:"tier,omitempty"`

	// offer / answer
	SDP string `json:"sdp,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

func Encode(m Message) ([]byte, error) {
	if m.Type == "" {
		return nil, fmt.Errorf("control: encode: %w", ErrUnknownType)
	}
	return json.Marshal(m)
}

// Decode parses one message and rejects unknown types.
func Decode(b []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return Message{}, fmt.Errorf("control: decode: %w", err)
	}
	switch m.Type {
	case MSG_TYPE_PING, MSG_TYPE_PONG, MSG_TYPE_QUALITY_UPDATE, MSG_TYPE_REQUEST_KEYFRAME,
		MSG_TYPE_MONITORS, MSG_TYPE_SERVER_INFO, MSG_TYPE_STREAM_INFO, MSG_TYPE_TIER,
		MSG_TYPE_OFFER, MSG_TYPE_ANSWER, MSG_TYPE_ERROR:
		return m, nil
	}
	return m, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
}

// MustEncode is for messages built from constants only.
func MustEncode(m Message) []byte {
	b, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return b
}

func Error(msg string) []byte {
	return MustEncode(Message{Type: MSG_TYPE_ERROR, Message: msg})
}
