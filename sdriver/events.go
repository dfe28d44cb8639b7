package sdriver

import (
	"encoding/binary"
	"fmt"
)

type EventType uint8

type Event interface {
	Type() EventType
}

const (
	EVENT_TYPE_KEY    EventType = 0x00
	EVENT_TYPE_MOUSE  EventType = 0x01
	EVENT_TYPE_SCROLL EventType = 0x03
)

// 键盘/鼠标动作
const (
	ACTION_DOWN byte = 0
	ACTION_UP   byte = 1
	ACTION_MOVE byte = 2
)

const (
	BUTTON_PRIMARY   uint32 = 1 << 0
	BUTTON_SECONDARY uint32 = 1 << 1
	BUTTON_TERTIARY  uint32 = 1 << 2
)

// Wire sizes including the leading type byte.
const (
	keyEventSize    = 1 + 1 + 4 + 2
	mouseEventSize  = 1 + 1 + 4 + 4 + 4
	scrollEventSize = 1 + 4 + 4 + 2 + 2
)

type KeyEvent struct {
	Action    byte
	KeyCode   uint32
	Modifiers uint16
}

func (e KeyEvent) Type() EventType {
	return EVENT_TYPE_KEY
}

type MouseEvent struct {
	Action  byte
	PosX    uint32
	PosY    uint32
	Buttons uint32
}

func (e MouseEvent) Type() EventType {
	return EVENT_TYPE_MOUSE
}

type ScrollEvent struct {
	PosX    uint32
	PosY    uint32
	HScroll int16
	VScroll int16
}

func (e ScrollEvent) Type() EventType {
	return EVENT_TYPE_SCROLL
}

// ParseEvent decodes one binary input message sent by the viewer.
//
// | type (1) | body ... |, all integers big-endian:
//
//	key:    action(1) keycode(4) modifiers(2)
//	mouse:  action(1) x(4) y(4) buttons(4)
//	scroll: x(4) y(4) h(2) v(2)
func ParseEvent(raw []byte) (Event, error) {
	if len(raw) < 1 {
		return nil, fmt.Errorf("empty input message: %w", ErrUnsupportedEvent)
	}
	switch EventType(raw[0]) {
	case EVENT_TYPE_KEY:
		if len(raw) < keyEventSize {
			return nil, fmt.Errorf("key event too short (%d bytes)", len(raw))
		}
		return KeyEvent{
			Action:    raw[1],
			KeyCode:   binary.BigEndian.Uint32(raw[2:6]),
			Modifiers: binary.BigEndian.Uint16(raw[6:8]),
		}, nil
	case EVENT_TYPE_MOUSE:
		if len(raw) < mouseEventSize {
			return nil, fmt.Errorf("mouse event too short (%d bytes)", len(raw))
		}
		return MouseEvent{
			Action:  raw[1],
			PosX:    binary.BigEndian.Uint32(raw[2:6]),
			PosY:    binary.BigEndian.Uint32(raw[6:10]),
			Buttons: binary.BigEndian.Uint32(raw[10:14]),
		}, nil
	case EVENT_TYPE_SCROLL:
		if len(raw) < scrollEventSize {
			return nil, fmt.Errorf("scroll event too short (%d bytes)", len(raw))
		}
		return ScrollEvent{
			PosX:    binary.BigEndian.Uint32(raw[1:5]),
			PosY:    binary.BigEndian.Uint32(raw[5:9]),
			HScroll: int16(binary.BigEndian.Uint16(raw[9:11])),
			VScroll: int16(binary.BigEndian.Uint16(raw[11:13])),
		}, nil
	default:
		return nil, fmt.Errorf("event type 0x%02x: %w", raw[0], ErrUnsupportedEvent)
	}
}

// MarshalEvent is the inverse of ParseEvent, used by the viewer.
func MarshalEvent(e Event) ([]byte, error) {
	switch ev := e.(type) {
	case KeyEvent:
		buf := make([]byte, keyEventSize)
		buf[0] = byte(EVENT_TYPE_KEY)
		buf[1] = ev.Action
		binary.BigEndian.PutUint32(buf[2:6], ev.KeyCode)
		binary.BigEndian.PutUint16(buf[6:8], ev.Modifiers)
		return buf, nil
	case MouseEvent:
		buf := make([]byte, mouseEventSize)
		buf[0] = byte(EVENT_TYPE_MOUSE)
		buf[1] = ev.Action
		binary.BigEndian.PutUint32(buf[2:6], ev.PosX)
		binary.BigEndian.PutUint32(buf[6:10], ev.PosY)
		binary.BigEndian.PutUint32(buf[10:14], ev.Buttons)
		return buf, nil
	case ScrollEvent:
		buf := make([]byte, scrollEventSize)
		buf[0] = byte(EVENT_TYPE_SCROLL)
		binary.BigEndian.PutUint32(buf[1:5], ev.PosX)
		binary.BigEndian.PutUint32(buf[5:9], ev.PosY)
		binary.BigEndian.PutUint16(buf[9:11], uint16(ev.HScroll))
		binary.BigEndian.PutUint16(buf[11:13], uint16(ev.VScroll))
		return buf, nil
	default:
		return nil, ErrUnsupportedEvent
	}
}
