package control

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webkvm/sdriver"
)

func TestEncodeOmitsEmptyFields(t *testing.T) {
	b, err := Encode(Message{Type: MSG_TYPE_REQUEST_KEYFRAME})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"request_keyframe"}`, string(b))

	b, err = Encode(Message{Type: MSG_TYPE_QUALITY_UPDATE, Quality: 60, Adaptive: true, DropRate: 0.02})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"quality_update","quality":60,"adaptive":true,"drop_rate":0.02}`, string(b))
}

func TestDecodeMonitors(t *testing.T) {
	in := Message{Type: MSG_TYPE_MONITORS, Monitors: []sdriver.MonitorInfo{{ID: 1, Name: "b", Width: 10, Height: 20}}}
	out, err := Decode(MustEncode(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestDecodeRejects(t *testing.T) {
	_, err := Decode([]byte(`{"type":"reboot"}`))
	assert.ErrorIs(t, err, ErrUnknownType)

	_, err = Decode([]byte(`{"type":`))
	assert.Error(t, err)

	_, err = Encode(Message{})
	assert.ErrorIs(t, err, ErrUnknownType)
}
