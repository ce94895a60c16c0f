// Package gatt holds the static GATT layout of a Nuimo controller: the services
// the driver cares about, the characteristic subset requested for each of them,
// the logical role of every characteristic and the set of characteristics that
// get a notification subscription.
//
// The package has no behaviour beyond lookups; all tables are built once at init.
package gatt

import (
	"strings"

	"github.com/go-ble/ble"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Services
var (
	BatteryService           = ble.UUID16(0x180F)
	DeviceInformationService = ble.UUID16(0x180A)
	LEDMatrixService         = ble.MustParse("F29B1523-CB19-40F3-BE5C-7241ECB82FD1")
	SensorService            = ble.MustParse("F29B1525-CB19-40F3-BE5C-7241ECB82FD2")
)

// Characteristics
var (
	BatteryLevelCharacteristic     = ble.UUID16(0x2A19)
	ManufacturerNameCharacteristic = ble.UUID16(0x2A29)
	LEDMatrixCharacteristic        = ble.MustParse("F29B1524-CB19-40F3-BE5C-7241ECB82FD1")
	SensorFlyCharacteristic        = ble.MustParse("F29B1526-CB19-40F3-BE5C-7241ECB82FD2")
	SensorTouchCharacteristic      = ble.MustParse("F29B1527-CB19-40F3-BE5C-7241ECB82FD2")
	SensorRotationCharacteristic   = ble.MustParse("F29B1528-CB19-40F3-BE5C-7241ECB82FD2")
	SensorButtonCharacteristic     = ble.MustParse("F29B1529-CB19-40F3-BE5C-7241ECB82FD2")
)

// Role is the logical purpose of a characteristic inside the driver.
type Role int

const (
	RoleNone Role = iota
	RoleBattery
	RoleLEDMatrix
	RoleFly
	RoleTouch
	RoleRotation
	RoleButton
)

func (r Role) String() string {
	switch r {
	case RoleBattery:
		return "battery"
	case RoleLEDMatrix:
		return "led-matrix"
	case RoleFly:
		return "sensor-fly"
	case RoleTouch:
		return "sensor-touch"
	case RoleRotation:
		return "sensor-rotation"
	case RoleButton:
		return "sensor-button"
	default:
		return "none"
	}
}

// IsSensor reports whether the role delivers gesture notifications.
func (r Role) IsSensor() bool {
	return r == RoleFly || r == RoleTouch || r == RoleRotation || r == RoleButton
}

type characteristicEntry struct {
	uuid   ble.UUID
	role   Role
	notify bool
}

var (
	// service key -> characteristic entries, in declaration order
	catalog = orderedmap.New[string, []characteristicEntry]()
	// characteristic key -> entry
	characteristics = map[string]characteristicEntry{}
	serviceUUIDs    = map[string]ble.UUID{}
)

func init() {
	declare(BatteryService,
		characteristicEntry{uuid: BatteryLevelCharacteristic, role: RoleBattery, notify: true})
	declare(DeviceInformationService,
		characteristicEntry{uuid: ManufacturerNameCharacteristic, role: RoleNone})
	declare(LEDMatrixService,
		characteristicEntry{uuid: LEDMatrixCharacteristic, role: RoleLEDMatrix})
	declare(SensorService,
		characteristicEntry{uuid: SensorFlyCharacteristic, role: RoleFly, notify: true},
		characteristicEntry{uuid: SensorTouchCharacteristic, role: RoleTouch, notify: true},
		characteristicEntry{uuid: SensorRotationCharacteristic, role: RoleRotation, notify: true},
		characteristicEntry{uuid: SensorButtonCharacteristic, role: RoleButton, notify: true})
}

func declare(service ble.UUID, entries ...characteristicEntry) {
	k := Key(service)
	catalog.Set(k, entries)
	serviceUUIDs[k] = service
	for _, e := range entries {
		characteristics[Key(e.uuid)] = e
	}
}

// Key returns the canonical lookup form of a UUID (lowercase hex, no dashes).
func Key(u ble.UUID) string {
	return strings.ReplaceAll(strings.ToLower(u.String()), "-", "")
}

// Services returns the catalog services in declaration order.
func Services() []ble.UUID {
	result := make([]ble.UUID, 0, catalog.Len())
	for pair := catalog.Oldest(); pair != nil; pair = pair.Next() {
		result = append(result, serviceUUIDs[pair.Key])
	}
	return result
}

// CharacteristicsFor returns the characteristic subset declared for service.
// ok is false when the service is not part of the catalog.
func CharacteristicsFor(service ble.UUID) (uuids []ble.UUID, ok bool) {
	entries, ok := catalog.Get(Key(service))
	if !ok {
		return nil, false
	}
	uuids = make([]ble.UUID, 0, len(entries))
	for _, e := range entries {
		uuids = append(uuids, e.uuid)
	}
	return uuids, true
}

// RoleOf returns the role of a characteristic, RoleNone for unknown ones.
func RoleOf(characteristic ble.UUID) Role {
	return characteristics[Key(characteristic)].role
}

// NeedsNotify reports whether the driver subscribes to characteristic.
func NeedsNotify(characteristic ble.UUID) bool {
	return characteristics[Key(characteristic)].notify
}
