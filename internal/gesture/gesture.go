// Package gesture turns raw Nuimo sensor notifications into typed events.
//
// Each sensor characteristic (fly, touch, rotation, button) carries its own
// compact payload; Decoder picks the parser matching the characteristic role.
package gesture

import (
	"encoding/binary"
	"fmt"

	"github.com/srg/nuimo/internal/gatt"
)

// Type identifies a single gesture.
type Type int

const (
	Undefined Type = iota
	ButtonPress
	ButtonRelease
	RotateLeft
	RotateRight
	SwipeLeft
	SwipeRight
	SwipeUp
	SwipeDown
	TouchLeft
	TouchRight
	TouchTop
	TouchBottom
	FlyLeft
	FlyRight
	FlyBackwards
	FlyTowards
	FlyUpDown
)

var typeNames = map[Type]string{
	Undefined:     "undefined",
	ButtonPress:   "button-press",
	ButtonRelease: "button-release",
	RotateLeft:    "rotate-left",
	RotateRight:   "rotate-right",
	SwipeLeft:     "swipe-left",
	SwipeRight:    "swipe-right",
	SwipeUp:       "swipe-up",
	SwipeDown:     "swipe-down",
	TouchLeft:     "touch-left",
	TouchRight:    "touch-right",
	TouchTop:      "touch-top",
	TouchBottom:   "touch-bottom",
	FlyLeft:       "fly-left",
	FlyRight:      "fly-right",
	FlyBackwards:  "fly-backwards",
	FlyTowards:    "fly-towards",
	FlyUpDown:     "fly-up-down",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("gesture(%d)", int(t))
}

// Event is a decoded sensor notification. Source is the characteristic role
// that produced it; Value carries the rotation delta or fly distance and is
// zero for the other gestures.
type Event struct {
	Source  gatt.Role
	Type    Type
	Value   int
	Payload []byte
}

func (e Event) String() string {
	if e.Value != 0 {
		return fmt.Sprintf("%s(%d)", e.Type, e.Value)
	}
	return e.Type.String()
}

// Decoder decodes Nuimo sensor payloads. The zero value is ready to use.
type Decoder struct{}

// Decode parses data for the given sensor role. ok is false for roles that are
// not sensors and for payloads that do not decode.
func (Decoder) Decode(role gatt.Role, data []byte) (Event, bool) {
	var (
		t     Type
		value int
		ok    bool
	)

	switch role {
	case gatt.RoleButton:
		t, ok = decodeButton(data)
	case gatt.RoleRotation:
		t, value, ok = decodeRotation(data)
	case gatt.RoleTouch:
		t, ok = decodeTouch(data)
	case gatt.RoleFly:
		t, value, ok = decodeFly(data)
	default:
		return Event{}, false
	}
	if !ok {
		return Event{}, false
	}

	payload := make([]byte, len(data))
	copy(payload, data)
	return Event{Source: role, Type: t, Value: value, Payload: payload}, true
}

func decodeButton(data []byte) (Type, bool) {
	if len(data) < 1 {
		return Undefined, false
	}
	switch data[0] {
	case 0:
		return ButtonRelease, true
	case 1:
		return ButtonPress, true
	default:
		return Undefined, false
	}
}

func decodeRotation(data []byte) (Type, int, bool) {
	if len(data) < 2 {
		return Undefined, 0, false
	}
	value := int(int16(binary.LittleEndian.Uint16(data[:2])))
	switch {
	case value < 0:
		return RotateLeft, value, true
	case value > 0:
		return RotateRight, value, true
	default:
		return Undefined, 0, false
	}
}

var touchGestures = [...]Type{
	SwipeLeft, SwipeRight, SwipeUp, SwipeDown,
	TouchLeft, TouchRight, TouchTop, TouchBottom,
}

func decodeTouch(data []byte) (Type, bool) {
	if len(data) < 1 || int(data[0]) >= len(touchGestures) {
		return Undefined, false
	}
	return touchGestures[data[0]], true
}

func decodeFly(data []byte) (Type, int, bool) {
	if len(data) < 1 {
		return Undefined, 0, false
	}
	switch data[0] {
	case 0:
		return FlyLeft, 0, true
	case 1:
		return FlyRight, 0, true
	case 2:
		return FlyBackwards, 0, true
	case 3:
		return FlyTowards, 0, true
	case 4:
		// distance follows the direction byte
		if len(data) < 2 {
			return Undefined, 0, false
		}
		return FlyUpDown, int(data[1]), true
	default:
		return Undefined, 0, false
	}
}
