package goble_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/nuimo/internal/controller"
	"github.com/srg/nuimo/internal/dispatch"
	"github.com/srg/nuimo/internal/testutils/mocks"
	"github.com/srg/nuimo/internal/transport/goble"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

const (
	testAddress = "AA:BB:CC:DD:EE:FF"
	waitFor     = 2 * time.Second
	tick        = 5 * time.Millisecond
)

type event struct {
	name  string
	err   error
	data  []byte
	chars []*ble.Characteristic
	svcs  []*ble.Service
	id    controller.WriteID
}

// recordingEvents implements controller.TransportEvents by recording calls.
type recordingEvents struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingEvents) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recordingEvents) Connected()              { r.add(event{name: "connected"}) }
func (r *recordingEvents) ConnectFailed(err error) { r.add(event{name: "connect_failed", err: err}) }
func (r *recordingEvents) Disconnected(err error)  { r.add(event{name: "disconnected", err: err}) }
func (r *recordingEvents) Invalidated(err error)   { r.add(event{name: "invalidated", err: err}) }

func (r *recordingEvents) ServicesDiscovered(services []*ble.Service, err error) {
	r.add(event{name: "services", svcs: services, err: err})
}

func (r *recordingEvents) CharacteristicsDiscovered(_ *ble.Service, chars []*ble.Characteristic, err error) {
	r.add(event{name: "characteristics", chars: chars, err: err})
}

func (r *recordingEvents) ValueUpdated(_ *ble.Characteristic, data []byte, err error) {
	r.add(event{name: "value", data: data, err: err})
}

func (r *recordingEvents) ValueWritten(_ *ble.Characteristic, id controller.WriteID, err error) {
	r.add(event{name: "written", id: id, err: err})
}

func (r *recordingEvents) find(name string) (event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.name == name {
			return e, true
		}
	}
	return event{}, false
}

func (r *recordingEvents) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.name == name {
			n++
		}
	}
	return n
}

var _ controller.TransportEvents = (*recordingEvents)(nil)

type PeripheralTestSuite struct {
	suite.Suite

	queue      *dispatch.Queue
	client     *mocks.MockClient
	events     *recordingEvents
	peripheral *goble.Peripheral

	dialErr error
	dials   int
	dialMu  sync.Mutex
}

func (s *PeripheralTestSuite) SetupTest() {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)

	s.queue = dispatch.NewQueue(context.Background(), "peripheral-test", logger)
	s.client = mocks.NewMockClient()
	s.events = &recordingEvents{}
	s.dialErr = nil
	s.dials = 0

	p, err := goble.NewPeripheral(testAddress, s.queue, &goble.Options{
		ConnectTimeout: time.Second,
		Logger:         logger,
		Dialer: func(ctx context.Context, address string) (goble.Client, error) {
			s.dialMu.Lock()
			defer s.dialMu.Unlock()
			s.dials++
			if s.dialErr != nil {
				return nil, s.dialErr
			}
			return s.client, nil
		},
	})
	s.Require().NoError(err)
	s.peripheral = p
	s.peripheral.SetEventHandler(s.events)
}

func (s *PeripheralTestSuite) TearDownTest() {
	s.client.On("CancelConnection").Return(nil).Maybe()
	s.peripheral.Close()
	s.queue.Close()
}

func (s *PeripheralTestSuite) connect() {
	s.peripheral.Connect()
	s.Require().Eventually(func() bool {
		return s.events.count("connected") == 1
	}, waitFor, tick, "peripheral MUST report the connection")
}

func (s *PeripheralTestSuite) waitEvent(name string) event {
	var e event
	s.Require().Eventually(func() bool {
		var ok bool
		e, ok = s.events.find(name)
		return ok
	}, waitFor, tick, "event %q MUST be delivered", name)
	return e
}

func (s *PeripheralTestSuite) TestConnect() {
	// GOAL: Verify a successful dial is reported as Connected and further attempts are ignored
	//
	// TEST SCENARIO: Connect → Connected delivered → Connect again → dialer not called again

	s.connect()

	s.peripheral.Connect()
	s.Never(func() bool { return s.events.count("connected") > 1 }, 50*time.Millisecond, tick)

	s.dialMu.Lock()
	defer s.dialMu.Unlock()
	s.Equal(1, s.dials, "a connected peripheral MUST NOT be dialed again")
}

func (s *PeripheralTestSuite) TestConnectFailed() {
	// GOAL: Verify a dial failure is reported with the cause preserved
	//
	// TEST SCENARIO: Dialer fails with bluetooth off → ConnectFailed wraps ErrBluetoothOff

	s.dialErr = goble.NormalizeError(errors.New("bluetooth is turned off"))
	s.peripheral.Connect()

	e := s.waitEvent("connect_failed")
	s.ErrorIs(e.err, goble.ErrBluetoothOff)
	s.Contains(e.err.Error(), testAddress)
}

func (s *PeripheralTestSuite) TestDiscovery() {
	// GOAL: Verify discovery requests reach the client and their results come back as events
	//
	// TEST SCENARIO: Discover services → ServicesDiscovered; discover characteristics → descriptors fetched for notifying ones

	svc := &ble.Service{UUID: ble.UUID16(0x180F)}
	level := &ble.Characteristic{UUID: ble.UUID16(0x2A19), Property: ble.CharRead | ble.CharNotify}
	name := &ble.Characteristic{UUID: ble.UUID16(0x2A29), Property: ble.CharRead}
	filter := []ble.UUID{ble.UUID16(0x180F)}

	s.client.On("DiscoverServices", filter).Return([]*ble.Service{svc}, nil).Once()
	s.client.On("DiscoverCharacteristics", mock.Anything, svc).Return([]*ble.Characteristic{level, name}, nil).Once()
	s.client.On("DiscoverDescriptors", mock.Anything, level).Return([]*ble.Descriptor{}, nil).Once()

	s.connect()
	s.peripheral.DiscoverServices(filter)
	e := s.waitEvent("services")
	s.Equal([]*ble.Service{svc}, e.svcs)

	s.peripheral.DiscoverCharacteristics(nil, svc)
	e = s.waitEvent("characteristics")
	s.Len(e.chars, 2)
	s.NoError(e.err)

	s.client.AssertCalled(s.T(), "DiscoverDescriptors", mock.Anything, level)
	s.client.AssertNotCalled(s.T(), "DiscoverDescriptors", mock.Anything, name)
}

func (s *PeripheralTestSuite) TestReadNormalizesErrors() {
	// GOAL: Verify read errors are normalized before delivery
	//
	// TEST SCENARIO: Read fails with "device not connected" → ValueUpdated carries ErrNotConnected

	ch := &ble.Characteristic{UUID: ble.UUID16(0x2A19)}
	s.client.On("ReadCharacteristic", ch).Return(nil, errors.New("device not connected")).Once()

	s.connect()
	s.peripheral.ReadCharacteristic(ch)

	e := s.waitEvent("value")
	s.ErrorIs(e.err, goble.ErrNotConnected)
}

func (s *PeripheralTestSuite) TestWrite() {
	// GOAL: Verify writes copy the payload and only writes with response are acknowledged
	//
	// TEST SCENARIO: Write with response, mutate caller buffer → client got original bytes, ValueWritten carries the write id; write without response → new id, no ack

	ch := &ble.Characteristic{UUID: ble.UUID16(0x2A19)}
	unacked := make(chan struct{})
	s.client.On("WriteCharacteristic", ch, []byte{1, 2, 3}, false).Return(nil).Once()
	s.client.On("WriteCharacteristic", ch, []byte{4}, true).
		Run(func(mock.Arguments) { close(unacked) }).
		Return(nil).Once()

	s.connect()
	value := []byte{1, 2, 3}
	id := s.peripheral.WriteCharacteristic(ch, value, false)
	value[0] = 9

	e := s.waitEvent("written")
	s.Equal(id, e.id, "acknowledgment MUST carry the id of its write")

	next := s.peripheral.WriteCharacteristic(ch, []byte{4}, true)
	s.NotEqual(id, next, "every write MUST get its own id")
	select {
	case <-unacked:
	case <-time.After(waitFor):
		s.FailNow("write without response MUST reach the client")
	}
	s.Never(func() bool { return s.events.count("written") > 1 }, 50*time.Millisecond, tick,
		"writes without response MUST NOT be acknowledged")
}

func (s *PeripheralTestSuite) TestSubscribe() {
	// GOAL: Verify notifications are delivered as ValueUpdated with a private copy of the data
	//
	// TEST SCENARIO: Subscribe → client handler invoked → ValueUpdated carries the bytes

	ch := &ble.Characteristic{UUID: ble.UUID16(0x2A19), Property: ble.CharNotify}
	handlers := make(chan ble.NotificationHandler, 1)
	s.client.On("Subscribe", ch, false, mock.Anything).
		Run(func(args mock.Arguments) { handlers <- args.Get(2).(ble.NotificationHandler) }).
		Return(nil).Once()

	s.connect()
	s.peripheral.Subscribe(ch)

	var h ble.NotificationHandler
	select {
	case h = <-handlers:
	case <-time.After(waitFor):
		s.FailNow("subscription MUST reach the client")
	}

	buf := []byte{77}
	h(buf)
	buf[0] = 0

	e := s.waitEvent("value")
	s.Equal([]byte{77}, e.data)
	s.NoError(e.err)
}

func (s *PeripheralTestSuite) TestLinkLoss() {
	// GOAL: Verify a link drop is reported once as connection lost
	//
	// TEST SCENARIO: Connect → client drops → Disconnected(ErrConnectionLost) → requests dropped afterwards

	s.connect()
	s.client.Drop()

	e := s.waitEvent("disconnected")
	s.ErrorIs(e.err, goble.ErrConnectionLost)

	s.peripheral.DiscoverServices(nil)
	s.Never(func() bool { return s.events.count("services") > 0 }, 50*time.Millisecond, tick,
		"requests without a connection MUST be dropped")
	s.Equal(1, s.events.count("disconnected"))
}

func (s *PeripheralTestSuite) TestRequestedDisconnect() {
	// GOAL: Verify a requested disconnect is reported without an error
	//
	// TEST SCENARIO: Connect → CancelConnection → client cancelled → Disconnected(nil) → peripheral can reconnect

	s.client.On("CancelConnection").Return(nil).Once()

	s.connect()
	s.peripheral.CancelConnection()

	e := s.waitEvent("disconnected")
	s.NoError(e.err)
	s.client.AssertCalled(s.T(), "CancelConnection")

	s.client = mocks.NewMockClient()
	s.peripheral.Connect()
	s.Eventually(func() bool { return s.events.count("connected") == 2 }, waitFor, tick)
}

func (s *PeripheralTestSuite) TestDetachedHandlerReceivesNothing() {
	// GOAL: Verify events are dropped when no handler is attached at delivery
	//
	// TEST SCENARIO: Detach → Connect → no Connected recorded

	s.peripheral.SetEventHandler(nil)
	s.peripheral.Connect()

	s.Eventually(func() bool {
		s.dialMu.Lock()
		defer s.dialMu.Unlock()
		return s.dials == 1
	}, waitFor, tick)
	s.Never(func() bool { return s.events.count("connected") > 0 }, 50*time.Millisecond, tick)
}

func (s *PeripheralTestSuite) TestClose() {
	// GOAL: Verify Close invalidates the transport
	//
	// TEST SCENARIO: Connect → Close → link cancelled, Invalidated(ErrClosed) → Connect fails with ErrClosed, no dial

	s.client.On("CancelConnection").Return(nil).Once()
	s.connect()

	s.peripheral.Close()

	e := s.waitEvent("invalidated")
	s.ErrorIs(e.err, goble.ErrClosed)
	s.client.AssertCalled(s.T(), "CancelConnection")

	s.peripheral.Connect()
	failed := s.waitEvent("connect_failed")
	s.ErrorIs(failed.err, goble.ErrClosed, "a closed transport MUST report the connect failure")
	s.Equal(1, s.events.count("connected"), "a closed transport MUST NOT connect again")

	s.dialMu.Lock()
	defer s.dialMu.Unlock()
	s.Equal(1, s.dials, "a closed transport MUST NOT dial")
}

func (s *PeripheralTestSuite) TestConnectAfterCloseWithoutConnection() {
	// GOAL: Verify a transport closed before it ever connected still answers Connect
	//
	// TEST SCENARIO: Close → Invalidated → Connect → ConnectFailed(ErrClosed)

	s.peripheral.Close()
	s.waitEvent("invalidated")

	s.peripheral.Connect()
	e := s.waitEvent("connect_failed")
	s.ErrorIs(e.err, goble.ErrClosed)
	s.Contains(e.err.Error(), testAddress)
}

func TestPeripheralTestSuite(t *testing.T) {
	suite.Run(t, new(PeripheralTestSuite))
}

func TestNewPeripheral_Validation(t *testing.T) {
	sched := dispatch.NewQueue(context.Background(), "validation", nil)
	defer sched.Close()

	_, err := goble.NewPeripheral("  ", sched, nil)
	assert.Error(t, err)

	_, err = goble.NewPeripheral(testAddress, nil, nil)
	assert.Error(t, err)

	p, err := goble.NewPeripheral(testAddress, sched, nil)
	require.NoError(t, err)
	assert.Equal(t, testAddress, p.Address())
}
