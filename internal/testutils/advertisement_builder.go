package testutils

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/nuimo/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// AdvertisementBuilder builds mocked BLE advertisements for testing.
type AdvertisementBuilder struct {
	name        string
	address     string
	rssi        int
	services    []string
	connectable bool
}

// NewAdvertisementBuilder creates a builder for a connectable advertisement
// without name or services.
func NewAdvertisementBuilder() *AdvertisementBuilder {
	return &AdvertisementBuilder{connectable: true}
}

// NewNuimoAdvertisement returns a builder for a Nuimo advertising its name.
func NewNuimoAdvertisement(address string) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithAddress(address).WithName("Nuimo").WithRSSI(-50)
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

// WithAddress sets the device address for the advertisement.
func (b *AdvertisementBuilder) WithAddress(addr string) *AdvertisementBuilder {
	b.address = addr
	return b
}

// WithRSSI sets the signal strength.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithServices sets the advertised service UUIDs.
func (b *AdvertisementBuilder) WithServices(uuids ...string) *AdvertisementBuilder {
	b.services = uuids
	return b
}

// WithConnectable sets the connectable flag.
func (b *AdvertisementBuilder) WithConnectable(c bool) *AdvertisementBuilder {
	b.connectable = c
	return b
}

// Build creates a MockAdvertisement that implements ble.Advertisement.
// Every accessor may be called any number of times.
func (b *AdvertisementBuilder) Build() *mocks.MockAdvertisement {
	var services []ble.UUID
	for _, s := range b.services {
		services = append(services, ble.MustParse(s))
	}

	addr := &mocks.MockAddr{}
	addr.On("String").Return(b.address).Maybe()

	adv := &mocks.MockAdvertisement{}
	adv.On("Addr").Return(addr).Maybe()
	adv.On("LocalName").Return(b.name).Maybe()
	adv.On("RSSI").Return(b.rssi).Maybe()
	adv.On("Services").Return(services).Maybe()
	adv.On("Connectable").Return(b.connectable).Maybe()
	adv.On("ManufacturerData").Return([]byte(nil)).Maybe()
	adv.On("ServiceData").Return([]ble.ServiceData(nil)).Maybe()
	adv.On("OverflowService").Return([]ble.UUID(nil)).Maybe()
	adv.On("SolicitedService").Return([]ble.UUID(nil)).Maybe()
	adv.On("TxPowerLevel").Return(127).Maybe() // unavailable
	return adv
}

// NewScanDevice returns a scanning device that replays ads to the handler.
// With block set, Scan then waits for its context like a real scan does.
func NewScanDevice(block bool, ads ...ble.Advertisement) *mocks.MockScanDevice {
	dev := &mocks.MockScanDevice{}
	dev.On("Scan", mock.Anything, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, _ bool, h ble.AdvHandler) error {
			for _, adv := range ads {
				h(adv)
			}
			if !block {
				return nil
			}
			<-ctx.Done()
			return ctx.Err()
		})
	return dev
}
