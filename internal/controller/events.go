package controller

import (
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/nuimo/internal/gatt"
)

// ValueUpdated routes a read response or notification: battery values go to
// the battery tracker, sensor values to the gesture decoder. Payloads that do
// not decode are dropped.
func (c *Controller) ValueUpdated(ch *ble.Characteristic, data []byte, err error) {
	if !c.attached || ch == nil {
		return
	}
	role := gatt.RoleOf(ch.UUID)
	if err != nil {
		c.log().WithFields(logrus.Fields{
			"role":  role,
			"error": err,
		}).Debug("Value update failed, dropping")
		return
	}

	switch {
	case role == gatt.RoleBattery:
		c.updateBatteryLevel(data)
	case role.IsSensor():
		c.routeGesture(role, data)
	default:
		c.log().WithField("char_uuid", ch.UUID.String()).Debug("Value update for characteristic without a route")
	}
}

func (c *Controller) routeGesture(role gatt.Role, data []byte) {
	event, ok := c.decoder.Decode(role, data)
	if !ok {
		c.log().WithFields(logrus.Fields{
			"role":    role,
			"payload": data,
		}).Debug("Sensor payload did not decode, dropping")
		return
	}
	c.notify(func(o Observer) { o.OnGesture(event) })
}

// updateBatteryLevel stores the first payload byte as a percentage and
// notifies only when it changed.
func (c *Controller) updateBatteryLevel(data []byte) {
	if len(data) == 0 {
		return
	}
	level := int(data[0])
	if int(c.battery.Swap(int32(level))) == level {
		return
	}

	c.log().WithField("battery", level).Debug("Battery level changed")
	c.notify(func(o Observer) { o.OnBatteryLevel(level) })
}
