package testutils

import (
	"sync"

	"github.com/go-ble/ble"
	"github.com/srg/nuimo/internal/controller"
	"github.com/stretchr/testify/mock"
)

// MockTransport is a testify mock of controller.Transport. Every method is
// expected any number of times; assert with AssertCalled and friends, or
// inspect Writes. Writes get increasing ids starting at 1.
type MockTransport struct {
	mock.Mock

	mu       sync.Mutex
	handler  controller.TransportEvents
	lastID   controller.WriteID
	writeIDs []controller.WriteID
}

var _ controller.Transport = (*MockTransport)(nil)

// NewMockTransport returns a transport that accepts every request.
func NewMockTransport() *MockTransport {
	m := &MockTransport{}
	m.On("SetEventHandler", mock.Anything).Return().Maybe()
	m.On("Connect").Return().Maybe()
	m.On("CancelConnection").Return().Maybe()
	m.On("DiscoverServices", mock.Anything).Return().Maybe()
	m.On("DiscoverCharacteristics", mock.Anything, mock.Anything).Return().Maybe()
	m.On("ReadCharacteristic", mock.Anything).Return().Maybe()
	m.On("WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything).Return().Maybe()
	m.On("Subscribe", mock.Anything).Return().Maybe()
	return m
}

func (m *MockTransport) SetEventHandler(h controller.TransportEvents) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
	m.Called(h)
}

func (m *MockTransport) Connect() {
	m.Called()
}

func (m *MockTransport) CancelConnection() {
	m.Called()
}

func (m *MockTransport) DiscoverServices(filter []ble.UUID) {
	m.Called(filter)
}

func (m *MockTransport) DiscoverCharacteristics(filter []ble.UUID, service *ble.Service) {
	m.Called(filter, service)
}

func (m *MockTransport) ReadCharacteristic(c *ble.Characteristic) {
	m.Called(c)
}

func (m *MockTransport) WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) controller.WriteID {
	m.mu.Lock()
	m.lastID++
	id := m.lastID
	m.writeIDs = append(m.writeIDs, id)
	m.mu.Unlock()

	m.Called(c, value, noRsp)
	return id
}

func (m *MockTransport) Subscribe(c *ble.Characteristic) {
	m.Called(c)
}

// Handler returns the event handler currently attached.
func (m *MockTransport) Handler() controller.TransportEvents {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

// Written is a recorded WriteCharacteristic call. ID is zero for writes
// recorded below the transport.
type Written struct {
	ID             controller.WriteID
	Characteristic *ble.Characteristic
	Value          []byte
	NoResponse     bool
}

// Writes returns the WriteCharacteristic calls in order.
func (m *MockTransport) Writes() []Written {
	m.mu.Lock()
	ids := append([]controller.WriteID(nil), m.writeIDs...)
	m.mu.Unlock()

	var result []Written
	for i, call := range m.callsOf("WriteCharacteristic") {
		w := Written{
			Characteristic: call.Arguments.Get(0).(*ble.Characteristic),
			Value:          call.Arguments.Get(1).([]byte),
			NoResponse:     call.Arguments.Bool(2),
		}
		if i < len(ids) {
			w.ID = ids[i]
		}
		result = append(result, w)
	}
	return result
}

// CallCount returns how many times method was called.
func (m *MockTransport) CallCount(method string) int {
	return len(m.callsOf(method))
}

// CallArguments returns the arguments of every call of method, in order.
func (m *MockTransport) CallArguments(method string) []mock.Arguments {
	var result []mock.Arguments
	for _, call := range m.callsOf(method) {
		result = append(result, call.Arguments)
	}
	return result
}

// Reset forgets the recorded calls, keeping the expectations. Write ids keep
// increasing.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	m.writeIDs = nil
	m.mu.Unlock()
	m.Calls = nil
}

func (m *MockTransport) callsOf(method string) []mock.Call {
	var result []mock.Call
	for _, call := range m.Calls {
		if call.Method == method {
			result = append(result, call)
		}
	}
	return result
}
