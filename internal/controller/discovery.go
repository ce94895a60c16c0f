package controller

import (
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/nuimo/internal/gatt"
)

// ServicesDiscovered requests characteristic discovery for every catalog
// service, limited to the characteristics the catalog declares for it.
func (c *Controller) ServicesDiscovered(services []*ble.Service, err error) {
	if !c.attached {
		return
	}
	if err != nil {
		c.log().WithField("error", err).Warn("Service discovery failed")
		return
	}

	for _, svc := range services {
		if svc == nil {
			continue
		}
		uuids, ok := gatt.CharacteristicsFor(svc.UUID)
		if !ok {
			c.log().WithField("service_uuid", svc.UUID.String()).Debug("Skipping service outside the catalog")
			continue
		}

		c.log().WithFields(logrus.Fields{
			"service_uuid":    svc.UUID.String(),
			"characteristics": len(uuids),
		}).Debug("Discovering characteristics")
		c.transport.DiscoverCharacteristics(uuids, svc)
	}
}

// CharacteristicsDiscovered stores role handles, primes the battery level,
// announces the matrix service and arms notification subscriptions.
// Characteristics missing from the result leave their role unavailable.
func (c *Controller) CharacteristicsDiscovered(service *ble.Service, characteristics []*ble.Characteristic, err error) {
	if !c.attached {
		return
	}
	entry := c.log()
	if service != nil {
		entry = entry.WithField("service_uuid", service.UUID.String())
	}
	if err != nil {
		entry.WithField("error", err).Warn("Characteristic discovery failed")
		return
	}

	for _, ch := range characteristics {
		if ch == nil {
			continue
		}

		role := gatt.RoleOf(ch.UUID)
		charEntry := entry.WithFields(logrus.Fields{
			"char_uuid": ch.UUID.String(),
			"role":      role,
		})

		switch {
		case role == gatt.RoleBattery:
			c.handles[role] = ch
			charEntry.Debug("Reading initial battery level")
			c.transport.ReadCharacteristic(ch)
		case role == gatt.RoleLEDMatrix:
			c.handles[role] = ch
			c.matrixHandleChanged()
			charEntry.Info("LED matrix service discovered")
			c.notify(func(o Observer) { o.OnMatrixServiceDiscovered() })
		case role.IsSensor():
			c.handles[role] = ch
			charEntry.Debug("Sensor characteristic discovered")
		default:
			charEntry.Debug("Characteristic has no active role")
		}

		if gatt.NeedsNotify(ch.UUID) {
			charEntry.Debug("Subscribing to notifications")
			c.transport.Subscribe(ch)
		}
	}
}
