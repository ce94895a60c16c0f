package testutils

import (
	"sync"

	"github.com/go-ble/ble"
	"github.com/srg/nuimo/internal/testutils/mocks"
	"github.com/stretchr/testify/mock"
)

// ProfileClient is a MockClient serving a built Profile: discovery returns
// the profile's services and characteristics, reads return Values, writes
// are recorded and subscriptions can be fed with Notify.
type ProfileClient struct {
	*mocks.MockClient
	Profile *Profile

	mu       sync.Mutex
	values   map[string][]byte
	handlers map[string]ble.NotificationHandler
	writes   []Written
	onSub    func(uuid ble.UUID)
	onWrite  func(w Written)
}

// NewProfileClient creates a client that accepts every request.
func NewProfileClient(profile *Profile) *ProfileClient {
	c := &ProfileClient{
		MockClient: mocks.NewMockClient(),
		Profile:    profile,
		values:     make(map[string][]byte),
		handlers:   make(map[string]ble.NotificationHandler),
	}

	c.On("DiscoverServices", mock.Anything).Return(profile.Services(), nil).Maybe()
	for _, svc := range profile.Services() {
		c.On("DiscoverCharacteristics", mock.Anything, svc).Return(svc.Characteristics, nil).Maybe()
	}
	c.On("DiscoverDescriptors", mock.Anything, mock.Anything).Return(nil, nil).Maybe()
	c.On("ReadCharacteristic", mock.Anything).Return(nil, nil).Maybe()
	c.On("WriteCharacteristic", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ch := args.Get(0).(*ble.Characteristic)
			value := append([]byte(nil), args.Get(1).([]byte)...)
			w := Written{Characteristic: ch, Value: value, NoResponse: args.Bool(2)}
			c.mu.Lock()
			c.writes = append(c.writes, w)
			onWrite := c.onWrite
			c.mu.Unlock()
			if onWrite != nil {
				onWrite(w)
			}
		}).
		Return(nil).Maybe()
	c.On("Subscribe", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			ch := args.Get(0).(*ble.Characteristic)
			c.mu.Lock()
			c.handlers[ch.UUID.String()] = args.Get(2).(ble.NotificationHandler)
			onSub := c.onSub
			c.mu.Unlock()
			if onSub != nil {
				onSub(ch.UUID)
			}
		}).
		Return(nil).Maybe()
	c.On("CancelConnection").Return(nil).Maybe()
	return c
}

// ReadCharacteristic returns the value set with SetValue.
func (c *ProfileClient) ReadCharacteristic(ch *ble.Characteristic) ([]byte, error) {
	if _, err := c.MockClient.ReadCharacteristic(ch); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.values[ch.UUID.String()]...), nil
}

// SetValue sets what reads of uuid return.
func (c *ProfileClient) SetValue(uuid ble.UUID, value []byte) *ProfileClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[uuid.String()] = value
	return c
}

// OnSubscribe registers fn to run after each subscription, on the
// subscribing goroutine.
func (c *ProfileClient) OnSubscribe(fn func(uuid ble.UUID)) *ProfileClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSub = fn
	return c
}

// OnWrite registers fn to run after each recorded write, before it is
// acknowledged.
func (c *ProfileClient) OnWrite(fn func(w Written)) *ProfileClient {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWrite = fn
	return c
}

// Notify delivers a notification on uuid. It reports false when nothing is
// subscribed to it.
func (c *ProfileClient) Notify(uuid ble.UUID, data []byte) bool {
	c.mu.Lock()
	h, ok := c.handlers[uuid.String()]
	c.mu.Unlock()
	if !ok {
		return false
	}
	h(data)
	return true
}

// Subscribed reports whether uuid has a notification handler.
func (c *ProfileClient) Subscribed(uuid ble.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.handlers[uuid.String()]
	return ok
}

// Writes returns the recorded writes in order.
func (c *ProfileClient) Writes() []Written {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Written(nil), c.writes...)
}
