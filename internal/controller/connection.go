package controller

import (
	"github.com/sirupsen/logrus"
	"github.com/srg/nuimo/internal/gatt"
)

// ConnectionState is the lifecycle state of the peripheral connection.
type ConnectionState int32

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
	Invalidated
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	case Invalidated:
		return "invalidated"
	default:
		return "unknown"
	}
}

// State returns the current connection state. A connected peripheral with a
// pending disconnect request reports Disconnecting.
func (c *Controller) State() ConnectionState {
	s := ConnectionState(c.state.Load())
	if s == Connected && c.disconnecting.Load() {
		return Disconnecting
	}
	return s
}

func (c *Controller) machineState() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Controller) setState(s ConnectionState) {
	prev := ConnectionState(c.state.Swap(int32(s)))
	if prev != s {
		c.log().WithFields(logrus.Fields{
			"from": prev,
			"to":   s,
		}).Debug("Connection state changed")
	}
}

// Connect requests a connection. Only valid while disconnected; otherwise a
// no-op. The outcome is reported through OnConnected or OnConnectFailed.
func (c *Controller) Connect() {
	c.sched.Post(c.connect)
}

func (c *Controller) connect() {
	if s := c.machineState(); s != Disconnected {
		c.log().WithField("state", s).Debug("Connect ignored")
		return
	}

	c.log().Info("Connecting to peripheral...")
	c.attach()
	c.setState(Connecting)
	c.transport.Connect()
	c.notify(func(o Observer) { o.OnConnecting() })
}

// Disconnect requests the link to be closed. Only valid while connected. The
// state changes once the transport reports the disconnection.
func (c *Controller) Disconnect() {
	c.sched.Post(c.disconnect)
}

func (c *Controller) disconnect() {
	if s := c.machineState(); s != Connected {
		c.log().WithField("state", s).Debug("Disconnect ignored")
		return
	}
	if c.disconnecting.Swap(true) {
		return
	}

	c.log().Info("Disconnecting from peripheral...")
	c.transport.CancelConnection()
}

// Connected handles a successful connection.
func (c *Controller) Connected() {
	if !c.attached || c.machineState() != Connecting {
		c.log().WithField("state", c.machineState()).Debug("Unexpected connected event ignored")
		return
	}

	c.setState(Connected)
	c.disconnecting.Store(false)
	c.resetMatrixWriter()

	c.log().Info("Peripheral connected, discovering services")
	c.transport.DiscoverServices(gatt.Services())
	c.notify(func(o Observer) { o.OnConnected() })
}

// ConnectFailed handles a failed connection attempt. There is no retry.
func (c *Controller) ConnectFailed(err error) {
	if !c.attached || c.machineState() != Connecting {
		c.log().WithField("state", c.machineState()).Debug("Unexpected connect failure ignored")
		return
	}

	c.log().WithField("error", err).Warn("Failed to connect to peripheral")
	c.detach()
	c.setState(Disconnected)
	c.notify(func(o Observer) { o.OnConnectFailed(err) })
}

// Disconnected handles the link going down, requested or not.
func (c *Controller) Disconnected(err error) {
	if !c.attached {
		c.log().Debug("Disconnected event for a detached controller ignored")
		return
	}

	entry := c.log()
	if err != nil {
		entry = entry.WithField("error", err)
	}
	entry.Info("Peripheral disconnected")

	c.teardown()
	c.setState(Disconnected)
	c.notify(func(o Observer) { o.OnDisconnected(err) })
}

// Invalidated handles the peripheral becoming unusable, in any state. The
// controller ignores everything afterwards.
func (c *Controller) Invalidated(err error) {
	if c.machineState() == Invalidated {
		return
	}

	entry := c.log()
	if err != nil {
		entry = entry.WithField("error", err)
	}
	entry.Warn("Peripheral invalidated")

	c.teardown()
	c.setState(Invalidated)
	c.transport.SetEventHandler(nil)
	c.notify(func(o Observer) { o.OnInvalidated() })
}

// teardown drops every per-connection resource and stops accepting
// connection-scoped transport events.
func (c *Controller) teardown() {
	c.resetMatrixWriter()
	for role := range c.handles {
		delete(c.handles, role)
	}
	c.disconnecting.Store(false)
	c.detach()
}

// attach and detach gate the connection-scoped events. The controller stays
// registered with the transport either way so that invalidation is always
// delivered.
func (c *Controller) attach() {
	c.attached = true
}

func (c *Controller) detach() {
	c.attached = false
}
