package testutils

import (
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/nuimo/internal/controller"
	"github.com/srg/nuimo/internal/gatt"
	"github.com/srg/nuimo/internal/matrix"
	"github.com/stretchr/testify/suite"
)

// MockPeripheralSuite provides a reusable test suite that drives a
// controller.Controller against a mocked transport on a manual scheduler.
//
// Transport events are delivered with Emit, which mirrors a real transport:
// the event is posted to the scheduler and dropped if no handler is
// registered at delivery time.
//
// Basic usage:
//
//	type WriterSuite struct {
//	    testutils.MockPeripheralSuite
//	}
//
//	func (s *WriterSuite) TestSomething() {
//	    s.ConnectAndDiscover()
//	    s.Controller.WriteMatrix("play")
//	    s.Len(s.Transport.Writes(), 1)
//	}
//
// Custom configuration usage:
//
//	func (s *WriterSuite) SetupTest() {
//	    s.Configure = func(cfg *controller.Config) { cfg.AutoClear = true }
//	    s.MockPeripheralSuite.SetupTest() // Call parent last to apply configuration
//	}
type MockPeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	// Configure adjusts the controller config before it is built.
	Configure func(cfg *controller.Config)
	// PeripheralBuilder describes the GATT tree reported during discovery.
	PeripheralBuilder *PeripheralDeviceBuilder

	Scheduler  *ManualScheduler
	Transport  *MockTransport
	Observer   *RecordingObserver
	Matrices   *matrix.Library
	Profile    *Profile
	Controller *controller.Controller
}

// SetupTest builds a fresh controller for each test method.
func (s *MockPeripheralSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger

	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewNuimoPeripheral()
	}
	s.Profile = s.PeripheralBuilder.Build()

	s.Scheduler = NewManualScheduler()
	s.Transport = NewMockTransport()
	s.Observer = &RecordingObserver{}
	s.Matrices = matrix.NewLibrary(matrix.RenderOptions{Brightness: 255}, s.Logger)

	cfg := controller.Config{
		ID:        "nuimo-test",
		Transport: s.Transport,
		Scheduler: s.Scheduler,
		Matrices:  s.Matrices,
		Observer:  s.Observer,
		Logger:    s.Logger,
	}
	if s.Configure != nil {
		s.Configure(&cfg)
	}

	c, err := controller.New(cfg)
	s.Require().NoError(err)
	s.Controller = c

	s.Logger.Debug("Test setup completed - ready for execution")
}

// TearDownTest resets per-test configuration.
func (s *MockPeripheralSuite) TearDownTest() {
	s.Configure = nil
	s.PeripheralBuilder = nil
}

// Emit delivers a transport event the way a transport does: posted to the
// scheduler, and only if a handler is registered at delivery.
func (s *MockPeripheralSuite) Emit(fn func(h controller.TransportEvents)) {
	s.Scheduler.Post(func() {
		if h := s.Transport.Handler(); h != nil {
			fn(h)
		}
	})
}

// Connect requests a connection and reports success.
func (s *MockPeripheralSuite) Connect() {
	s.Controller.Connect()
	s.Emit(func(h controller.TransportEvents) { h.Connected() })
	s.Require().Equal(controller.Connected, s.Controller.State(), "controller MUST be connected")
}

// Discover answers the pending discovery requests from the profile.
func (s *MockPeripheralSuite) Discover() {
	var requested []ble.UUID
	if args := s.Transport.CallArguments("DiscoverServices"); len(args) > 0 {
		requested = args[len(args)-1].Get(0).([]ble.UUID)
	}

	var services []*ble.Service
	for _, svc := range s.Profile.Services() {
		for _, u := range requested {
			if svc.UUID.Equal(u) {
				services = append(services, svc)
				break
			}
		}
	}
	before := s.Transport.CallCount("DiscoverCharacteristics")
	s.Emit(func(h controller.TransportEvents) { h.ServicesDiscovered(services, nil) })

	for _, args := range s.Transport.CallArguments("DiscoverCharacteristics")[before:] {
		filter := args.Get(0).([]ble.UUID)
		svc := args.Get(1).(*ble.Service)
		chars := s.Profile.Filtered(svc, filter)
		s.Emit(func(h controller.TransportEvents) { h.CharacteristicsDiscovered(svc, chars, nil) })
	}
}

// ConnectAndDiscover connects and completes discovery, leaving a controller
// with every role available.
func (s *MockPeripheralSuite) ConnectAndDiscover() {
	s.Connect()
	s.Discover()
}

// LEDMatrix returns the LED matrix characteristic of the profile.
func (s *MockPeripheralSuite) LEDMatrix() *ble.Characteristic {
	return s.Profile.Characteristic(gatt.LEDMatrixCharacteristic)
}

// AckMatrixWrite acknowledges the most recent LED matrix write.
func (s *MockPeripheralSuite) AckMatrixWrite() {
	var id controller.WriteID
	if ids := s.MatrixWriteIDs(); len(ids) > 0 {
		id = ids[len(ids)-1]
	}
	s.AckWrite(id)
}

// AckWrite acknowledges the LED matrix write with id.
func (s *MockPeripheralSuite) AckWrite(id controller.WriteID) {
	led := s.LEDMatrix()
	s.Emit(func(h controller.TransportEvents) { h.ValueWritten(led, id, nil) })
}

// MatrixWriteIDs returns the ids of the LED matrix writes, in order.
func (s *MockPeripheralSuite) MatrixWriteIDs() []controller.WriteID {
	var ids []controller.WriteID
	for _, w := range s.Transport.Writes() {
		if w.Characteristic.UUID.Equal(gatt.LEDMatrixCharacteristic) {
			ids = append(ids, w.ID)
		}
	}
	return ids
}

// Notify delivers a value update for the characteristic with uuid.
func (s *MockPeripheralSuite) Notify(uuid ble.UUID, data []byte) {
	ch := s.Profile.Characteristic(uuid)
	s.Require().NotNil(ch, "profile MUST contain characteristic %s", uuid)
	s.Emit(func(h controller.TransportEvents) { h.ValueUpdated(ch, data, nil) })
}

// WrittenMatrices returns the payloads written to the LED matrix, in order.
func (s *MockPeripheralSuite) WrittenMatrices() [][]byte {
	var result [][]byte
	for _, w := range s.Transport.Writes() {
		if w.Characteristic.UUID.Equal(gatt.LEDMatrixCharacteristic) {
			result = append(result, w.Value)
		}
	}
	return result
}

// MatrixPayload returns the payload the library renders for name.
func (s *MockPeripheralSuite) MatrixPayload(name string) []byte {
	data, err := s.Matrices.MatrixData(name)
	s.Require().NoError(err)
	return data
}
