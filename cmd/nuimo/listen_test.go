package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/nuimo/internal/gatt"
	"github.com/srg/nuimo/internal/gesture"
	"github.com/srg/nuimo/internal/matrix"
	"github.com/srg/nuimo/internal/testutils"
	"github.com/srg/nuimo/internal/transport/goble"
	"github.com/stretchr/testify/suite"
)

type ListenTestSuite struct {
	CommandTestSuite
}

func (s *ListenTestSuite) TestInvalidFormat() {
	// GOAL: Verify listen rejects unknown output formats before connecting
	//
	// TEST SCENARIO: Execute listen --format xml → error lists valid formats → nothing dialed

	_, err := s.ExecuteCommand("listen", TestDeviceAddress1, "--format", "xml")

	s.Require().Error(err, "invalid format MUST return error")
	s.Assert().Contains(err.Error(), "invalid format 'xml': must be one of [text json]")
	s.Assert().Empty(s.Dialed(), "no connection MUST be attempted")
}

func (s *ListenTestSuite) TestUnknownMatrix() {
	// GOAL: Verify --matrix is validated against the library before connecting
	//
	// TEST SCENARIO: Execute listen --matrix nope → error names the matrix → nothing dialed

	_, err := s.ExecuteCommand("listen", TestDeviceAddress1, "--matrix", "nope")

	s.Require().Error(err)
	s.Assert().Contains(err.Error(), `unknown matrix "nope"`)
	s.Assert().Empty(s.Dialed())
}

func (s *ListenTestSuite) TestTextOutput() {
	// GOAL: Verify listen prints connection, battery and gesture events as text lines
	//
	// TEST SCENARIO: Button press is notified on subscription → output shows connect, battery 80%,
	// the button press and the disconnect at the end of --duration

	s.NotifyOn(gatt.SensorButtonCharacteristic, []byte{1})

	output, err := s.ExecuteCommand("listen", TestDeviceAddress1, "--duration", "300ms")
	s.Require().NoError(err, "listen MUST end cleanly when the duration elapses")

	s.Assert().Equal([]string{TestDeviceAddress1}, s.Dialed())
	s.Assert().Contains(output, "connection connecting")
	s.Assert().Contains(output, "connection connected")
	s.Assert().Contains(output, "battery    80% level=80")
	s.Assert().Contains(output, "matrix     LED matrix ready")
	s.Assert().Contains(output, "gesture    button-press source=sensor-button")

	lines := strings.Split(strings.TrimSpace(output), "\n")
	s.Assert().True(strings.HasSuffix(lines[len(lines)-1], "connection disconnected"), "last line MUST report the disconnect, got %q", lines[len(lines)-1])
	s.Assert().NotContains(output, "\x1b[", "colors MUST be disabled when output is not a terminal")
}

func (s *ListenTestSuite) TestJSONOutput() {
	// GOAL: Verify --format json emits one journal entry per line
	//
	// TEST SCENARIO: Rotation is notified on subscription → the rotation line carries kind, message and fields

	s.NotifyOn(gatt.SensorRotationCharacteristic, []byte{0xF6, 0xFF}) // -10

	output, err := s.ExecuteCommand("listen", TestDeviceAddress1, "--duration", "300ms", "--format", "json")
	s.Require().NoError(err)

	var rotation, first string
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		if first == "" {
			first = line
		}
		if strings.Contains(line, `"gesture"`) {
			rotation = line
		}
	}
	s.Require().NotEmpty(rotation, "rotation entry MUST be printed")

	ja := testutils.NewJSONAsserter(s.T())
	ja.Assert(first, `{"at": "<<PRESENCE>>", "kind": "connection", "message": "connecting"}`)
	ja.Assert(rotation, `{
		"at": "<<PRESENCE>>",
		"kind": "gesture",
		"message": "rotate-left",
		"fields": {"source": "sensor-rotation", "value": -10}
	}`)
}

func (s *ListenTestSuite) TestShowMatrixAndMirrorRotation() {
	// GOAL: Verify --matrix is shown once the LED matrix is ready and --bar mirrors rotation
	//
	// TEST SCENARIO: listen --matrix play --bar → play is written → a half-turn rotation arrives
	// while the write is in flight → bar_5 is written right after the acknowledgment

	var once bool
	s.Client.OnWrite(func(w testutils.Written) {
		if once {
			return
		}
		once = true
		s.Client.Notify(gatt.SensorRotationCharacteristic, []byte{0x2D, 0x05}) // +1325
	})

	_, err := s.ExecuteCommand("listen", TestDeviceAddress1, "--duration", "300ms", "--matrix", "play", "--bar")
	s.Require().NoError(err)

	lib := matrix.NewLibrary(matrix.RenderOptions{}, nil)
	play, _ := lib.Bitmap("play")
	s.Assert().Equal([][]byte{s.Payload(play), s.Payload(matrix.Bar(5))}, s.MatrixWrites(),
		"play MUST be written first, then the coalesced bar")
}

func (s *ListenTestSuite) TestConnectFailure() {
	// GOAL: Verify a failed connection ends listen with the transport error
	//
	// TEST SCENARIO: Dial fails with Bluetooth off → error matches ErrBluetoothOff → user message is friendly

	s.DialErr = goble.ErrBluetoothOff

	_, err := s.ExecuteCommand("listen", TestDeviceAddress1, "--duration", "2s")

	s.Require().Error(err)
	s.Assert().True(errors.Is(err, goble.ErrBluetoothOff), "error MUST wrap ErrBluetoothOff, got %v", err)
	s.Assert().Equal("Bluetooth is turned off, enable it and try again", FormatUserError(err))
}

func (s *ListenTestSuite) TestLinkLoss() {
	// GOAL: Verify an unexpected disconnect ends listen with ErrConnectionLost
	//
	// TEST SCENARIO: Link drops right after the button subscription → listen returns ErrConnectionLost

	s.Client.OnSubscribe(func(uuid ble.UUID) {
		if uuid.Equal(gatt.SensorButtonCharacteristic) {
			go func() {
				time.Sleep(20 * time.Millisecond)
				s.Client.Drop()
			}()
		}
	})

	output, err := s.ExecuteCommand("listen", TestDeviceAddress1, "--duration", "2s")

	s.Require().Error(err)
	s.Assert().ErrorIs(err, ErrConnectionLost)
	s.Assert().Contains(output, "connection disconnected error=")
}

func gestureEvent(value int) gesture.Event {
	t := gesture.RotateRight
	if value < 0 {
		t = gesture.RotateLeft
	}
	return gesture.Event{Source: gatt.RoleRotation, Type: t, Value: value}
}

func (s *ListenTestSuite) TestRotationBar() {
	// GOAL: Verify rotation accumulates into a clamped percentage
	//
	// TEST SCENARIO: Half a sweep → 50% → large left turn → 0% → large right turn → 100% → button → ignored

	bar := &rotationBar{}

	percent, ok := bar.apply(gestureEvent(1325))
	s.Require().True(ok)
	s.Assert().Equal(50, percent)

	percent, _ = bar.apply(gestureEvent(-5000))
	s.Assert().Equal(0, percent, "bar MUST not go below empty")

	percent, _ = bar.apply(gestureEvent(9000))
	s.Assert().Equal(100, percent, "bar MUST not go above full")

	_, ok = bar.apply(gesture.Event{Source: gatt.RoleButton, Type: gesture.ButtonPress})
	s.Assert().False(ok, "non-rotation gestures MUST not move the bar")
}

func TestListenTestSuite(t *testing.T) {
	suite.Run(t, new(ListenTestSuite))
}
