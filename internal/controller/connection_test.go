package controller_test

import (
	"errors"
	"testing"

	"github.com/srg/nuimo/internal/controller"
	"github.com/srg/nuimo/internal/gatt"
	"github.com/srg/nuimo/internal/testutils"
	"github.com/stretchr/testify/suite"
)

type ConnectionTestSuite struct {
	testutils.MockPeripheralSuite
}

func (s *ConnectionTestSuite) TestConnectLifecycle() {
	// GOAL: Verify a successful connection walks Disconnected → Connecting → Connected
	//
	// TEST SCENARIO: Connect → transport asked to connect → Connected event → services discovered, observer notified

	s.Controller.Connect()
	s.Equal(controller.Connecting, s.Controller.State(), "state MUST be connecting after Connect")
	s.Equal(1, s.Transport.CallCount("Connect"))
	s.Same(s.Controller, s.Transport.Handler(), "controller MUST be registered with the transport")

	s.Emit(func(h controller.TransportEvents) { h.Connected() })

	s.Equal(controller.Connected, s.Controller.State())
	s.Transport.AssertCalled(s.T(), "DiscoverServices", gatt.Services())
	s.Equal([]string{testutils.EventConnecting, testutils.EventConnected}, s.Observer.Events())
}

func (s *ConnectionTestSuite) TestConnectOnlyFromDisconnected() {
	// GOAL: Verify Connect is ignored unless disconnected
	//
	// TEST SCENARIO: Connect twice while connecting → one request; connect while connected → still one request

	s.Controller.Connect()
	s.Controller.Connect()
	s.Equal(1, s.Transport.CallCount("Connect"), "second Connect while connecting MUST be ignored")

	s.Emit(func(h controller.TransportEvents) { h.Connected() })
	s.Controller.Connect()
	s.Equal(1, s.Transport.CallCount("Connect"), "Connect while connected MUST be ignored")
	s.Equal(1, s.Observer.Count(testutils.EventConnecting))
}

func (s *ConnectionTestSuite) TestConnectFailed() {
	// GOAL: Verify a failed attempt returns to Disconnected without retrying
	//
	// TEST SCENARIO: Connect → ConnectFailed → disconnected, still registered, observer gets the error → Connect works again

	failure := errors.New("peripheral not found")

	s.Controller.Connect()
	s.Emit(func(h controller.TransportEvents) { h.ConnectFailed(failure) })

	s.Equal(controller.Disconnected, s.Controller.State())
	s.Same(s.Controller, s.Transport.Handler(), "controller MUST stay registered after a failed connect")
	s.Equal([]string{testutils.EventConnecting, testutils.EventConnectFailed}, s.Observer.Events())
	s.Equal([]error{failure}, s.Observer.Errors())
	s.Equal(1, s.Transport.CallCount("Connect"), "a failed connect MUST NOT be retried")

	s.Controller.Connect()
	s.Equal(2, s.Transport.CallCount("Connect"), "Connect MUST be accepted again after a failure")
	s.Equal(controller.Connecting, s.Controller.State())
}

func (s *ConnectionTestSuite) TestUnexpectedConnectedIgnored() {
	// GOAL: Verify a Connected event outside of Connecting changes nothing
	//
	// TEST SCENARIO: Deliver Connected straight to an idle controller → still disconnected, no discovery

	s.Scheduler.Post(s.Controller.Connected)

	s.Equal(controller.Disconnected, s.Controller.State())
	s.Equal(0, s.Transport.CallCount("DiscoverServices"))
	s.Empty(s.Observer.Events())
}

func (s *ConnectionTestSuite) TestDisconnectRequest() {
	// GOAL: Verify a requested disconnect goes through Disconnecting and is issued once
	//
	// TEST SCENARIO: Connect → Disconnect twice → one cancel, Disconnecting → Disconnected event → Disconnected

	s.ConnectAndDiscover()

	s.Controller.Disconnect()
	s.Controller.Disconnect()
	s.Equal(controller.Disconnecting, s.Controller.State())
	s.Equal(1, s.Transport.CallCount("CancelConnection"), "disconnect MUST be requested once")

	s.Emit(func(h controller.TransportEvents) { h.Disconnected(nil) })

	s.Equal(controller.Disconnected, s.Controller.State())
	s.Same(s.Controller, s.Transport.Handler(), "controller MUST stay registered after a disconnect")
	s.Equal(1, s.Observer.Count(testutils.EventDisconnected))
	s.Equal([]error{nil}, s.Observer.Errors(), "a requested disconnect MUST report no error")
}

func (s *ConnectionTestSuite) TestDisconnectIgnoredUnlessConnected() {
	// GOAL: Verify Disconnect is a no-op while idle or connecting
	//
	// TEST SCENARIO: Disconnect idle → nothing; Connect → Disconnect while connecting → nothing

	s.Controller.Disconnect()
	s.Controller.Connect()
	s.Controller.Disconnect()

	s.Equal(0, s.Transport.CallCount("CancelConnection"))
	s.Equal(controller.Connecting, s.Controller.State())
}

func (s *ConnectionTestSuite) TestLinkLossClearsHandles() {
	// GOAL: Verify an unrequested disconnect drops every discovered handle
	//
	// TEST SCENARIO: Connect and discover → link lost → writes and notifications have nowhere to go

	s.ConnectAndDiscover()
	lost := errors.New("connection lost")

	s.Emit(func(h controller.TransportEvents) { h.Disconnected(lost) })

	s.Equal(controller.Disconnected, s.Controller.State())
	s.Equal([]error{lost}, s.Observer.Errors())

	s.Controller.WriteMatrix("play")
	s.Empty(s.WrittenMatrices(), "no write MUST be issued without an LED matrix handle")

	led := s.LEDMatrix()
	battery := s.Profile.Characteristic(gatt.BatteryLevelCharacteristic)
	s.Scheduler.Post(func() {
		s.Controller.ValueUpdated(battery, []byte{50}, nil)
		s.Controller.ValueWritten(led, 1, nil)
	})
	s.Equal(controller.UnknownBatteryLevel, s.Controller.BatteryLevel(), "events after disconnect MUST be ignored")
}

func (s *ConnectionTestSuite) TestReconnect() {
	// GOAL: Verify a controller can reconnect and rediscover after a disconnect
	//
	// TEST SCENARIO: Connect, discover, disconnect → connect, discover again → matrix writes work, same name is written again

	s.ConnectAndDiscover()
	s.Controller.WriteMatrix("play")
	s.AckMatrixWrite()
	s.Emit(func(h controller.TransportEvents) { h.Disconnected(nil) })

	s.ConnectAndDiscover()
	s.Controller.WriteMatrix("play")

	s.Len(s.WrittenMatrices(), 2, "same matrix MUST be written again on a new connection")
	s.Equal(2, s.Observer.Count(testutils.EventMatrixServiceDiscovered))
}

func (s *ConnectionTestSuite) TestInvalidated() {
	// GOAL: Verify invalidation is terminal
	//
	// TEST SCENARIO: Connect → Invalidated → state invalidated, unregistered → Connect and writes ignored, second invalidation silent

	s.ConnectAndDiscover()
	s.Emit(func(h controller.TransportEvents) { h.Invalidated(errors.New("powered off")) })

	s.Equal(controller.Invalidated, s.Controller.State())
	s.Nil(s.Transport.Handler())
	s.Equal(1, s.Observer.Count(testutils.EventInvalidated))

	s.Controller.Connect()
	s.Controller.WriteMatrix("play")
	s.Equal(1, s.Transport.CallCount("Connect"), "Connect MUST be ignored once invalidated")
	s.Empty(s.WrittenMatrices())
	_, ok := s.Controller.CurrentMatrix()
	s.False(ok, "writes after invalidation MUST NOT be recorded")

	s.Scheduler.Post(func() { s.Controller.Invalidated(nil) })
	s.Equal(1, s.Observer.Count(testutils.EventInvalidated), "invalidation MUST be reported once")
}

func (s *ConnectionTestSuite) TestInvalidatedFromEveryIdleState() {
	// GOAL: Verify invalidation is delivered and terminal while no connection exists
	//
	// TEST SCENARIO: For idle, after a failed connect and after a disconnect → Invalidated → state invalidated, observer notified once → Connect ignored

	powerOff := errors.New("powered off")
	for _, tt := range []struct {
		name  string
		setup func()
	}{
		{"before any connect", func() {}},
		{"after a failed connect", func() {
			s.Controller.Connect()
			s.Emit(func(h controller.TransportEvents) { h.ConnectFailed(errors.New("not found")) })
		}},
		{"after a disconnect", func() {
			s.ConnectAndDiscover()
			s.Emit(func(h controller.TransportEvents) { h.Disconnected(nil) })
		}},
	} {
		s.Run(tt.name, func() {
			s.SetupTest()
			tt.setup()
			s.Require().Equal(controller.Disconnected, s.Controller.State())
			connects := s.Transport.CallCount("Connect")

			s.Emit(func(h controller.TransportEvents) { h.Invalidated(powerOff) })

			s.Equal(controller.Invalidated, s.Controller.State(), "invalidation MUST be terminal from Disconnected")
			s.Equal(1, s.Observer.Count(testutils.EventInvalidated), "observer MUST be told about the invalidation")

			s.Controller.Connect()
			s.Equal(connects, s.Transport.CallCount("Connect"), "Connect MUST be ignored once invalidated")
			s.Equal(controller.Invalidated, s.Controller.State())
		})
	}
}

func (s *ConnectionTestSuite) TestStaleEventsAfterDisconnectAreIgnored() {
	// GOAL: Verify the still registered controller ignores GATT events of a finished connection
	//
	// TEST SCENARIO: Connect and discover → disconnect → battery value and matrix ack delivered → nothing changes

	s.ConnectAndDiscover()
	s.Emit(func(h controller.TransportEvents) { h.Disconnected(nil) })
	s.Observer.Reset()

	s.Notify(gatt.BatteryLevelCharacteristic, []byte{42})
	s.AckWrite(1)
	s.Emit(func(h controller.TransportEvents) { h.Connected() })

	s.Equal(controller.UnknownBatteryLevel, s.Controller.BatteryLevel())
	s.Equal(controller.Disconnected, s.Controller.State())
	s.Empty(s.Observer.Events())
}

func (s *ConnectionTestSuite) TestObserverRemoved() {
	// GOAL: Verify a nil observer silences notifications without breaking the controller
	//
	// TEST SCENARIO: Remove observer → connect → no events recorded, state still advances

	s.Controller.SetObserver(nil)
	s.Connect()

	s.Empty(s.Observer.Events())
	s.Equal(controller.Connected, s.Controller.State())
}

func TestConnectionTestSuite(t *testing.T) {
	suite.Run(t, new(ConnectionTestSuite))
}
