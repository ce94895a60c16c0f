package testutils

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-ble/ble"
	"github.com/srg/nuimo/internal/gatt"
)

// CharacteristicConfig represents a BLE characteristic configuration for mocking
type CharacteristicConfig struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties,omitempty"` // e.g., "read,write,notify"
}

// ServiceConfig represents a BLE service configuration for mocking
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// DeviceProfileConfig represents the complete device profile for mocking
type DeviceProfileConfig struct {
	Services []ServiceConfig `json:"services"`
}

// PeripheralDeviceBuilder builds the GATT tree a mocked peripheral reports
// during discovery.
type PeripheralDeviceBuilder struct {
	profile DeviceProfileConfig
}

// NewPeripheralDeviceBuilder creates a new, empty builder
func NewPeripheralDeviceBuilder() *PeripheralDeviceBuilder {
	return &PeripheralDeviceBuilder{}
}

// NewNuimoPeripheral returns a builder preloaded with the full Nuimo layout:
// battery, device information, LED matrix and sensor services.
func NewNuimoPeripheral() *PeripheralDeviceBuilder {
	return NewPeripheralDeviceBuilder().FromJSON(`
	{
		"services": [
			{
				"uuid": "180F",
				"characteristics": [
					{ "uuid": "2A19", "properties": "read,notify" }
				]
			},
			{
				"uuid": "180A",
				"characteristics": [
					{ "uuid": "2A29", "properties": "read" }
				]
			},
			{
				"uuid": "%s",
				"characteristics": [
					{ "uuid": "%s", "properties": "write" }
				]
			},
			{
				"uuid": "%s",
				"characteristics": [
					{ "uuid": "%s", "properties": "notify" },
					{ "uuid": "%s", "properties": "notify" },
					{ "uuid": "%s", "properties": "notify" },
					{ "uuid": "%s", "properties": "notify" }
				]
			}
		]
	}`,
		gatt.LEDMatrixService, gatt.LEDMatrixCharacteristic,
		gatt.SensorService,
		gatt.SensorFlyCharacteristic, gatt.SensorTouchCharacteristic,
		gatt.SensorRotationCharacteristic, gatt.SensorButtonCharacteristic)
}

// WithService adds a service to the device profile
func (b *PeripheralDeviceBuilder) WithService(uuid string) *PeripheralDeviceBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service
func (b *PeripheralDeviceBuilder) WithCharacteristic(uuid, properties string) *PeripheralDeviceBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}

	last := len(b.profile.Services) - 1
	b.profile.Services[last].Characteristics = append(b.profile.Services[last].Characteristics,
		CharacteristicConfig{UUID: uuid, Properties: properties})
	return b
}

// WithoutService drops a service from the profile.
func (b *PeripheralDeviceBuilder) WithoutService(uuid ble.UUID) *PeripheralDeviceBuilder {
	kept := b.profile.Services[:0]
	for _, svc := range b.profile.Services {
		if !ble.MustParse(svc.UUID).Equal(uuid) {
			kept = append(kept, svc)
		}
	}
	b.profile.Services = kept
	return b
}

// FromJSON fills the device profile from JSON
func (b *PeripheralDeviceBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralDeviceBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var config DeviceProfileConfig
	if err := json.Unmarshal([]byte(jsonStr), &config); err != nil {
		panic(fmt.Sprintf("PeripheralDeviceBuilder.FromJSON: failed to unmarshal: %v", err))
	}

	b.profile = config
	return b
}

// parseCharacteristicProperties converts property string to ble.Property flags
func parseCharacteristicProperties(props string) ble.Property {
	if props == "" {
		return ble.CharRead | ble.CharWrite | ble.CharNotify
	}

	var property ble.Property
	for _, p := range strings.Split(props, ",") {
		switch strings.TrimSpace(p) {
		case "read":
			property |= ble.CharRead
		case "write":
			property |= ble.CharWrite
		case "write_without_response":
			property |= ble.CharWriteNR
		case "notify":
			property |= ble.CharNotify
		case "indicate":
			property |= ble.CharIndicate
		}
	}
	return property
}

// Build creates the service tree with handles assigned in declaration order.
func (b *PeripheralDeviceBuilder) Build() *Profile {
	var (
		services []*ble.Service
		handle   uint16 = 1
	)

	for _, svcConfig := range b.profile.Services {
		svc := &ble.Service{
			UUID:   ble.MustParse(svcConfig.UUID),
			Handle: handle,
		}
		handle++

		for _, charConfig := range svcConfig.Characteristics {
			char := &ble.Characteristic{
				UUID:        ble.MustParse(charConfig.UUID),
				Property:    parseCharacteristicProperties(charConfig.Properties),
				Handle:      handle,
				ValueHandle: handle + 1,
				EndHandle:   handle + 1,
			}
			handle += 2
			if char.Property&(ble.CharNotify|ble.CharIndicate) != 0 {
				char.CCCD = &ble.Descriptor{UUID: ble.UUID16(0x2902), Handle: handle}
				char.Descriptors = []*ble.Descriptor{char.CCCD}
				char.EndHandle = handle
				handle++
			}
			svc.Characteristics = append(svc.Characteristics, char)
		}
		svc.EndHandle = handle - 1
		services = append(services, svc)
	}

	return &Profile{services: services}
}

// Profile is a built GATT tree.
type Profile struct {
	services []*ble.Service
}

// Services returns every service of the profile.
func (p *Profile) Services() []*ble.Service {
	return p.services
}

// Service returns the service with uuid, or nil.
func (p *Profile) Service(uuid ble.UUID) *ble.Service {
	for _, svc := range p.services {
		if svc.UUID.Equal(uuid) {
			return svc
		}
	}
	return nil
}

// Characteristic returns the characteristic with uuid from any service, or nil.
func (p *Profile) Characteristic(uuid ble.UUID) *ble.Characteristic {
	for _, svc := range p.services {
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(uuid) {
				return c
			}
		}
	}
	return nil
}

// Filtered returns the characteristics of service whose UUID is in filter,
// which is what a peripheral answers to a filtered discovery request.
func (p *Profile) Filtered(service *ble.Service, filter []ble.UUID) []*ble.Characteristic {
	var result []*ble.Characteristic
	for _, c := range service.Characteristics {
		for _, u := range filter {
			if c.UUID.Equal(u) {
				result = append(result, c)
				break
			}
		}
	}
	return result
}
