package controller

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/nuimo/internal/dispatch"
	"github.com/srg/nuimo/internal/gatt"
	"github.com/srg/nuimo/internal/gesture"
)

const (
	// DefaultResponseTimeout bounds the wait for a matrix write acknowledgment.
	DefaultResponseTimeout = 100 * time.Millisecond

	// DefaultClearTimeout is how long a matrix stays up before auto-clear
	// replaces it with the empty matrix.
	DefaultClearTimeout = 3 * time.Second

	// UnknownBatteryLevel is reported until the first battery value arrives.
	UnknownBatteryLevel = -1
)

var (
	ErrMissingTransport = errors.New("transport is required")
	ErrMissingScheduler = errors.New("scheduler is required")
	ErrMissingMatrices  = errors.New("matrix provider is required")
)

// WriteID identifies one characteristic write. The transport hands it back
// with the ValueWritten of that write.
type WriteID uint64

// Transport issues GATT requests to the peripheral. Every method returns
// immediately; outcomes are reported later through the TransportEvents set
// with SetEventHandler, on the controller's scheduler. The controller
// registers itself once in New and stays registered until invalidated.
type Transport interface {
	SetEventHandler(h TransportEvents)
	Connect()
	CancelConnection()
	DiscoverServices(filter []ble.UUID)
	DiscoverCharacteristics(filter []ble.UUID, service *ble.Service)
	ReadCharacteristic(c *ble.Characteristic)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) WriteID
	Subscribe(c *ble.Characteristic)
}

// TransportEvents receives transport outcomes. Implementations of Transport
// must deliver them on the scheduler passed to the controller.
type TransportEvents interface {
	Connected()
	ConnectFailed(err error)
	Disconnected(err error)
	Invalidated(err error)
	ServicesDiscovered(services []*ble.Service, err error)
	CharacteristicsDiscovered(service *ble.Service, characteristics []*ble.Characteristic, err error)
	ValueUpdated(c *ble.Characteristic, data []byte, err error)
	ValueWritten(c *ble.Characteristic, id WriteID, err error)
}

// MatrixProvider renders a named LED matrix into its characteristic payload.
type MatrixProvider interface {
	MatrixData(name string) ([]byte, error)
}

// GestureDecoder decodes a sensor notification. ok is false when the payload
// does not describe a gesture.
type GestureDecoder interface {
	Decode(role gatt.Role, data []byte) (event gesture.Event, ok bool)
}

// Config wires a Controller. Transport, Scheduler and Matrices are required.
type Config struct {
	ID        string
	Transport Transport
	Scheduler dispatch.Scheduler
	Matrices  MatrixProvider
	Decoder   GestureDecoder // defaults to gesture.Decoder
	Observer  Observer
	Logger    *logrus.Logger

	ResponseTimeout time.Duration // defaults to DefaultResponseTimeout
	ClearTimeout    time.Duration // defaults to DefaultClearTimeout
	AutoClear       bool
}

// Controller drives a single Nuimo peripheral: connection lifecycle, GATT
// discovery, the LED matrix write pipeline, gesture routing and battery
// tracking.
//
// All state is owned by the scheduler's serial context. Public methods post
// their work to the scheduler and return immediately; TransportEvents methods
// must already be running on it.
type Controller struct {
	id        string
	transport Transport
	sched     dispatch.Scheduler
	matrices  MatrixProvider
	decoder   GestureDecoder
	observer  Observer
	logger    *logrus.Logger

	responseTimeout time.Duration
	clearTimeout    time.Duration
	autoClear       bool

	// scheduler-owned
	attached bool
	handles  map[gatt.Role]*ble.Characteristic
	writer   matrixWriteState

	// readable from any goroutine
	state         atomic.Int32
	disconnecting atomic.Bool
	battery       atomic.Int32
	currentMatrix atomic.Pointer[string]
	writeBusy     atomic.Bool
}

// New creates a disconnected controller.
func New(cfg Config) (*Controller, error) {
	if cfg.Transport == nil {
		return nil, ErrMissingTransport
	}
	if cfg.Scheduler == nil {
		return nil, ErrMissingScheduler
	}
	if cfg.Matrices == nil {
		return nil, ErrMissingMatrices
	}
	if cfg.Decoder == nil {
		cfg.Decoder = gesture.Decoder{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.ClearTimeout <= 0 {
		cfg.ClearTimeout = DefaultClearTimeout
	}

	c := &Controller{
		id:              cfg.ID,
		transport:       cfg.Transport,
		sched:           cfg.Scheduler,
		matrices:        cfg.Matrices,
		decoder:         cfg.Decoder,
		observer:        cfg.Observer,
		logger:          cfg.Logger,
		responseTimeout: cfg.ResponseTimeout,
		clearTimeout:    cfg.ClearTimeout,
		autoClear:       cfg.AutoClear,
		handles:         make(map[gatt.Role]*ble.Characteristic),
	}
	c.state.Store(int32(Disconnected))
	c.battery.Store(UnknownBatteryLevel)
	c.transport.SetEventHandler(c)
	return c, nil
}

// ID returns the peripheral identifier the controller was created with.
func (c *Controller) ID() string {
	return c.id
}

// BatteryLevel returns the last battery percentage, or UnknownBatteryLevel.
func (c *Controller) BatteryLevel() int {
	return int(c.battery.Load())
}

// CurrentMatrix returns the most recently requested matrix name.
func (c *Controller) CurrentMatrix() (string, bool) {
	name := c.currentMatrix.Load()
	if name == nil {
		return "", false
	}
	return *name, true
}

// MatrixWriteInFlight reports whether a matrix write is waiting for its
// acknowledgment or timeout.
func (c *Controller) MatrixWriteInFlight() bool {
	return c.writeBusy.Load()
}

// SetObserver replaces the observer. nil removes it.
func (c *Controller) SetObserver(o Observer) {
	c.sched.Post(func() {
		c.observer = o
	})
}

func (c *Controller) notify(fn func(o Observer)) {
	if c.observer != nil {
		fn(c.observer)
	}
}

func (c *Controller) log() *logrus.Entry {
	return c.logger.WithField("peripheral", c.id)
}

// handle returns the characteristic discovered for role.
func (c *Controller) handle(role gatt.Role) (*ble.Characteristic, bool) {
	h, ok := c.handles[role]
	return h, ok && h != nil
}
