package sdriver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEvent(t *testing.T) {
	events := []Event{
		KeyEvent{Action: ACTION_DOWN, KeyCode: 0x41, Modifiers: 3},
		MouseEvent{Action: ACTION_MOVE, PosX: 1919, PosY: 1079, Buttons: BUTTON_PRIMARY | BUTTON_TERTIARY},
		ScrollEvent{PosX: 10, PosY: 20, HScroll: -3, VScroll: 120},
	}
	for _, e := range events {
		raw, err := MarshalEvent(e)
		require.NoError(t, err)
		assert.Equal(t, byte(e.Type()), raw[0])

		got, err := ParseEvent(raw)
		require.NoError(t, err)
		assert.Equal(t, e, got)
	}
}

func TestParseEventRejectsShortAndUnknown(t *testing.T) {
	_, err := ParseEvent(nil)
	assert.ErrorIs(t, err, ErrUnsupportedEvent)

	_, err = ParseEvent([]byte{byte(EVENT_TYPE_MOUSE), ACTION_DOWN, 0, 0})
	assert.Error(t, err)

	_, err = ParseEvent([]byte{0x7f, 1, 2, 3})
	assert.ErrorIs(t, err, ErrUnsupportedEvent)
}
