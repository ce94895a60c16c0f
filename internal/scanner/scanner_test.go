package scanner_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/nuimo/internal/gatt"
	"github.com/srg/nuimo/internal/scanner"
	"github.com/srg/nuimo/internal/testutils"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ScannerTestSuite struct {
	suite.Suite

	helper          *testutils.TestHelper
	originalFactory func() (scanner.Device, error)
	device          scanner.Device

	nuimoByName, nuimoByService, stranger ble.Advertisement
}

func (s *ScannerTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())

	s.nuimoByName = testutils.NewNuimoAdvertisement("AA:BB:CC:DD:EE:01").Build()
	s.nuimoByService = testutils.NewAdvertisementBuilder().
		WithAddress("AA:BB:CC:DD:EE:02").
		WithRSSI(-70).
		WithServices(gatt.SensorService.String()).
		Build()
	s.stranger = testutils.NewAdvertisementBuilder().
		WithAddress("11:22:33:44:55:66").
		WithName("Heart Rate").
		WithRSSI(-40).
		WithServices("180D").
		Build()

	s.originalFactory = scanner.DeviceFactory
	scanner.DeviceFactory = func() (scanner.Device, error) { return s.device, nil }
}

func (s *ScannerTestSuite) TearDownTest() {
	scanner.DeviceFactory = s.originalFactory
}

func (s *ScannerTestSuite) scan(opts *scanner.ScanOptions, ads ...ble.Advertisement) map[string]scanner.DeviceEntry {
	s.device = testutils.NewScanDevice(false, ads...)
	devices, err := scanner.NewScanner(s.helper.Logger).Scan(context.Background(), opts, nil)
	s.Require().NoError(err, "scan MUST succeed")
	return devices
}

func (s *ScannerTestSuite) TestNuimoFilter() {
	// GOAL: Verify the default scan keeps only Nuimo controllers
	//
	// TEST SCENARIO: Advertise two Nuimos and a heart rate sensor → scan with defaults → only the Nuimos are returned

	devices := s.scan(nil, s.nuimoByName, s.nuimoByService, s.stranger)

	s.Len(devices, 2)
	s.Contains(devices, "AA:BB:CC:DD:EE:01", "Nuimo MUST be recognized by name")
	s.Contains(devices, "AA:BB:CC:DD:EE:02", "Nuimo MUST be recognized by advertised service")
	s.Equal("Nuimo", devices["AA:BB:CC:DD:EE:01"].Device.Name)
	s.Equal(-70, devices["AA:BB:CC:DD:EE:02"].Device.RSSI)
}

func (s *ScannerTestSuite) TestAllDevices() {
	// GOAL: Verify the Nuimo filter can be disabled
	//
	// TEST SCENARIO: Scan with NuimoOnly off → every device is returned

	opts := scanner.DefaultScanOptions()
	opts.NuimoOnly = false

	devices := s.scan(opts, s.nuimoByName, s.nuimoByService, s.stranger)
	s.Len(devices, 3)
}

func (s *ScannerTestSuite) TestAllowAndBlockLists() {
	// GOAL: Verify address allow and block lists
	//
	// TEST SCENARIO: Block the first Nuimo → only the second; allow only the first → only the first

	opts := scanner.DefaultScanOptions()
	opts.BlockList = []string{"aa:bb:cc:dd:ee:01"}
	devices := s.scan(opts, s.nuimoByName, s.nuimoByService)
	s.Len(devices, 1)
	s.Contains(devices, "AA:BB:CC:DD:EE:02")

	opts = scanner.DefaultScanOptions()
	opts.AllowList = []string{"AA:BB:CC:DD:EE:01"}
	devices = s.scan(opts, s.nuimoByName, s.nuimoByService)
	s.Len(devices, 1)
	s.Contains(devices, "AA:BB:CC:DD:EE:01")
}

func (s *ScannerTestSuite) TestServiceFilter() {
	// GOAL: Verify the service filter requires one of the listed services
	//
	// TEST SCENARIO: Filter on the sensor service → only the device advertising it

	opts := scanner.DefaultScanOptions()
	opts.ServiceUUIDs = []ble.UUID{gatt.SensorService}

	devices := s.scan(opts, s.nuimoByName, s.nuimoByService)
	s.Len(devices, 1)
	s.Contains(devices, "AA:BB:CC:DD:EE:02")
}

func (s *ScannerTestSuite) TestUpdatesKeepKnownName() {
	// GOAL: Verify repeated advertisements update the entry without losing the name
	//
	// TEST SCENARIO: Named advertisement then a nameless one for the same address → one device, name kept, RSSI updated

	nameless := testutils.NewAdvertisementBuilder().
		WithAddress("AA:BB:CC:DD:EE:01").
		WithRSSI(-30).
		Build()

	devices := s.scan(nil, s.nuimoByName, nameless)

	s.Require().Len(devices, 1)
	entry := devices["AA:BB:CC:DD:EE:01"]
	s.Equal("Nuimo", entry.Device.Name)
	s.Equal(-30, entry.Device.RSSI)
}

func (s *ScannerTestSuite) TestEvents() {
	// GOAL: Verify discoveries are published as new and updated events
	//
	// TEST SCENARIO: Same Nuimo advertised twice → EventNew then EventUpdated

	s.device = testutils.NewScanDevice(false, s.nuimoByName, s.nuimoByName)
	sc := scanner.NewScanner(s.helper.Logger)
	_, err := sc.Scan(context.Background(), nil, nil)
	s.Require().NoError(err)

	first := <-sc.Events()
	second := <-sc.Events()
	s.Equal(scanner.EventNew, first.Type)
	s.Equal(scanner.EventUpdated, second.Type)
	s.Equal("AA:BB:CC:DD:EE:01", second.Entry.Device.Address)
}

func (s *ScannerTestSuite) TestDurationStopsScan() {
	// GOAL: Verify the scan ends when the duration elapses and reports what it saw
	//
	// TEST SCENARIO: Blocking scan device with a 50ms duration → Scan returns without error with the device

	s.device = testutils.NewScanDevice(true, s.nuimoByName)
	opts := scanner.DefaultScanOptions()
	opts.Duration = 50 * time.Millisecond

	var phases []string
	start := time.Now()
	devices, err := scanner.NewScanner(s.helper.Logger).Scan(context.Background(), opts, func(phase string) {
		phases = append(phases, phase)
	})

	s.Require().NoError(err, "an elapsed scan MUST NOT be an error")
	s.Less(time.Since(start), 5*time.Second)
	s.Len(devices, 1)
	s.Equal([]string{"Scanning", "Processing results"}, phases)
}

func (s *ScannerTestSuite) TestDuplicateFilterMapsToAllowDup() {
	// GOAL: Verify the duplicate filter is passed to the device inverted
	//
	// TEST SCENARIO: Scan with DuplicateFilter on → device asked with allowDup=false

	dev := testutils.NewScanDevice(false)
	s.device = dev

	_, err := scanner.NewScanner(s.helper.Logger).Scan(context.Background(), nil, nil)
	s.Require().NoError(err)
	dev.AssertCalled(s.T(), "Scan", mock.Anything, false, mock.Anything)
}

func (s *ScannerTestSuite) TestScanErrors() {
	// GOAL: Verify device and scan failures are reported
	//
	// TEST SCENARIO: Factory fails → error; device scan fails → error

	scanner.DeviceFactory = func() (scanner.Device, error) { return nil, errors.New("bluetooth is turned off") }
	_, err := scanner.NewScanner(s.helper.Logger).Scan(context.Background(), nil, nil)
	s.Require().Error(err)
	s.Contains(err.Error(), "failed to create BLE device")

	failing := &failingDevice{err: errors.New("hci: command disallowed")}
	scanner.DeviceFactory = func() (scanner.Device, error) { return failing, nil }
	_, err = scanner.NewScanner(s.helper.Logger).Scan(context.Background(), nil, nil)
	s.Require().Error(err)
	s.Contains(err.Error(), "scan failed")
}

type failingDevice struct {
	err error
}

func (d *failingDevice) Scan(context.Context, bool, ble.AdvHandler) error {
	return d.err
}

func TestScannerTestSuite(t *testing.T) {
	suite.Run(t, new(ScannerTestSuite))
}
