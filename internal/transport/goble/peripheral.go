package goble

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/nuimo/internal/controller"
	"github.com/srg/nuimo/internal/dispatch"
	"github.com/srg/nuimo/internal/groutine"
)

// ----------------------------
// Configuration Constants
// ----------------------------

const (
	// DefaultConnectTimeout bounds a single connection attempt
	DefaultConnectTimeout = 10 * time.Second

	// DefaultRequestBuffer is the number of GATT requests that can wait for the worker
	DefaultRequestBuffer = 128
)

// ----------------------------
// Device Factory
// ----------------------------

// DeviceFactory creates ble.Device instances (can be overridden in tests)
var DeviceFactory = newPlatformDevice

// Client is the part of ble.Client the transport drives.
type Client interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	DiscoverDescriptors(filter []ble.UUID, c *ble.Characteristic) ([]*ble.Descriptor, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	Subscribe(c *ble.Characteristic, ind bool, h ble.NotificationHandler) error
	CancelConnection() error
}

// Dialer opens a GATT client connection to address.
type Dialer func(ctx context.Context, address string) (Client, error)

// DialDefault creates a platform device with DeviceFactory and dials address.
func DialDefault(ctx context.Context, address string) (Client, error) {
	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", NormalizeError(err))
	}
	ble.SetDefaultDevice(dev)

	client, err := ble.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		return nil, NormalizeError(err)
	}
	return client, nil
}

// Options configure a Peripheral.
type Options struct {
	ConnectTimeout time.Duration
	Dialer         Dialer
	Logger         *logrus.Logger
}

// ----------------------------
// Peripheral
// ----------------------------

// Peripheral implements controller.Transport on top of go-ble. Blocking GATT
// calls run in order on one worker goroutine per connection; their outcomes
// are posted to the scheduler as TransportEvents.
type Peripheral struct {
	address        string
	sched          dispatch.Scheduler
	dial           Dialer
	connectTimeout time.Duration
	logger         *logrus.Logger

	mu         sync.Mutex
	handler    controller.TransportEvents
	conn       *connection
	connecting bool
	closed     bool
	writeSeq   atomic.Uint64

	ctx    context.Context
	cancel context.CancelFunc
}

// connection is the state of one established link.
type connection struct {
	client    Client
	requests  chan func(Client)
	ctx       context.Context
	cancel    context.CancelFunc
	lost      sync.Once
	requested bool
}

var _ controller.Transport = (*Peripheral)(nil)

// NewPeripheral creates a transport for the peripheral at address. Events are
// delivered on sched.
func NewPeripheral(address string, sched dispatch.Scheduler, opts *Options) (*Peripheral, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("device address is empty")
	}
	if sched == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if opts == nil {
		opts = &Options{}
	}

	p := &Peripheral{
		address:        address,
		sched:          sched,
		dial:           opts.Dialer,
		connectTimeout: opts.ConnectTimeout,
		logger:         opts.Logger,
	}
	if p.dial == nil {
		p.dial = DialDefault
	}
	if p.connectTimeout <= 0 {
		p.connectTimeout = DefaultConnectTimeout
	}
	if p.logger == nil {
		p.logger = logrus.New()
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p, nil
}

// Address returns the peripheral address.
func (p *Peripheral) Address() string {
	return p.address
}

// SetEventHandler sets where transport outcomes are delivered. nil detaches.
func (p *Peripheral) SetEventHandler(h controller.TransportEvents) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
}

// emit posts fn to the scheduler; it runs only if a handler is attached at
// delivery time.
func (p *Peripheral) emit(fn func(h controller.TransportEvents)) {
	p.sched.Post(func() {
		p.mu.Lock()
		h := p.handler
		p.mu.Unlock()
		if h != nil {
			fn(h)
		}
	})
}

// Connect dials the peripheral in the background.
func (p *Peripheral) Connect() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.WithField("address", p.address).Warn("Connection attempt on a closed transport")
		failure := fmt.Errorf("failed to connect to device with address %q: %w", p.address, ErrClosed)
		p.emit(func(h controller.TransportEvents) { h.ConnectFailed(failure) })
		return
	}
	if p.connecting || p.conn != nil {
		p.mu.Unlock()
		p.logger.WithField("address", p.address).Warn("Connection attempt while already connected or connecting")
		return
	}
	p.connecting = true
	p.mu.Unlock()

	groutine.Go(p.ctx, "nuimo-connect", func(ctx context.Context) {
		p.logger.WithFields(logrus.Fields{
			"address": p.address,
			"timeout": p.connectTimeout,
		}).Info("Connecting to BLE device...")

		connCtx, cancel := context.WithTimeout(ctx, p.connectTimeout)
		client, err := p.dial(connCtx, p.address)
		cancel()

		p.mu.Lock()
		p.connecting = false
		if err == nil && p.closed {
			err = ErrClosed
			if cancelErr := client.CancelConnection(); cancelErr != nil {
				p.logger.WithField("cancel_error", cancelErr).Debug("Failed to cancel connection after close")
			}
		}
		if err != nil {
			p.mu.Unlock()
			p.logger.WithFields(logrus.Fields{
				"address": p.address,
				"error":   err,
			}).Error("Failed to dial BLE device")
			failure := fmt.Errorf("failed to connect to device with address %q: %w", p.address, err)
			p.emit(func(h controller.TransportEvents) { h.ConnectFailed(failure) })
			return
		}

		conn := p.newConnection(client)
		p.conn = conn
		p.mu.Unlock()

		p.startWorker(conn)
		p.monitor(conn)

		p.logger.WithField("address", p.address).Info("BLE device connected successfully")
		p.emit(func(h controller.TransportEvents) { h.Connected() })
	})
}

// CancelConnection closes the link. Disconnected is reported once it is down.
func (p *Peripheral) CancelConnection() {
	p.mu.Lock()
	conn := p.conn
	if conn != nil {
		conn.requested = true
	}
	p.mu.Unlock()

	if conn == nil {
		p.logger.Debug("CancelConnection called but already disconnected")
		return
	}

	groutine.Go(p.ctx, "nuimo-disconnect", func(context.Context) {
		p.logger.WithField("address", p.address).Info("Disconnecting BLE device...")
		err := NormalizeError(conn.client.CancelConnection())
		if err != nil {
			p.logger.WithField("error", err).Warn("BLE device disconnected with errors")
		}
		p.connectionLost(conn, nil)
	})
}

// Close releases the transport. A live connection is cancelled and the
// handler receives Invalidated; the transport cannot be used afterwards.
func (p *Peripheral) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()

	if conn != nil {
		conn.cancel()
		if err := NormalizeError(conn.client.CancelConnection()); err != nil {
			p.logger.WithField("error", err).Debug("Cancel connection on close failed")
		}
	}
	p.cancel()
	p.emit(func(h controller.TransportEvents) { h.Invalidated(ErrClosed) })
}

func (p *Peripheral) newConnection(client Client) *connection {
	ctx, cancel := context.WithCancel(p.ctx)
	return &connection{
		client:   client,
		requests: make(chan func(Client), DefaultRequestBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// monitor watches the client's Disconnected channel when it has one.
func (p *Peripheral) monitor(conn *connection) {
	dc, ok := conn.client.(interface{ Disconnected() <-chan struct{} })
	if !ok {
		p.logger.Debug("Client does not support Disconnected() channel")
		return
	}
	groutine.Go(conn.ctx, "nuimo-connection-monitor", func(ctx context.Context) {
		select {
		case <-dc.Disconnected():
			p.logger.Warn("BLE stack reported disconnection")
			p.connectionLost(conn, ErrConnectionLost)
		case <-ctx.Done():
		}
	})
}

// connectionLost reports the end of conn exactly once. A requested
// disconnect is reported with a nil error.
func (p *Peripheral) connectionLost(conn *connection, err error) {
	conn.lost.Do(func() {
		p.mu.Lock()
		if p.conn == conn {
			p.conn = nil
		}
		if conn.requested {
			err = nil
		}
		p.mu.Unlock()

		conn.cancel()
		p.emit(func(h controller.TransportEvents) { h.Disconnected(err) })
	})
}

func (p *Peripheral) startWorker(conn *connection) {
	groutine.Go(conn.ctx, "nuimo-gatt-worker", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-conn.requests:
				req(conn.client)
			}
		}
	})
}

// enqueue hands a GATT request to the worker of the current connection.
func (p *Peripheral) enqueue(op string, req func(Client)) {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()

	if conn == nil {
		p.logger.WithField("op", op).Debug("GATT request without connection dropped")
		return
	}

	select {
	case conn.requests <- req:
	default:
		p.logger.WithField("op", op).Warn("GATT request queue full, request dropped")
	}
}

// DiscoverServices discovers services matching filter.
func (p *Peripheral) DiscoverServices(filter []ble.UUID) {
	p.enqueue("discover-services", func(c Client) {
		services, err := c.DiscoverServices(filter)
		err = NormalizeError(err)
		p.logger.WithFields(logrus.Fields{
			"services": len(services),
			"error":    err,
		}).Debug("Services discovered")
		p.emit(func(h controller.TransportEvents) { h.ServicesDiscovered(services, err) })
	})
}

// DiscoverCharacteristics discovers the characteristics of service matching
// filter, along with the descriptors needed for notifications.
func (p *Peripheral) DiscoverCharacteristics(filter []ble.UUID, service *ble.Service) {
	p.enqueue("discover-characteristics", func(c Client) {
		chars, err := c.DiscoverCharacteristics(filter, service)
		err = NormalizeError(err)
		if err == nil {
			for _, ch := range chars {
				if ch.Property&(ble.CharNotify|ble.CharIndicate) == 0 {
					continue
				}
				if _, derr := c.DiscoverDescriptors(nil, ch); derr != nil {
					p.logger.WithFields(logrus.Fields{
						"char_uuid": ch.UUID.String(),
						"error":     derr,
					}).Warn("Failed to discover descriptors")
				}
			}
		}
		p.emit(func(h controller.TransportEvents) { h.CharacteristicsDiscovered(service, chars, err) })
	})
}

// ReadCharacteristic reads ch; the value arrives as ValueUpdated.
func (p *Peripheral) ReadCharacteristic(ch *ble.Characteristic) {
	p.enqueue("read", func(c Client) {
		data, err := c.ReadCharacteristic(ch)
		err = NormalizeError(err)
		p.emit(func(h controller.TransportEvents) { h.ValueUpdated(ch, data, err) })
	})
}

// WriteCharacteristic writes value to ch. Writes with response are
// acknowledged through ValueWritten carrying the returned id.
func (p *Peripheral) WriteCharacteristic(ch *ble.Characteristic, value []byte, noRsp bool) controller.WriteID {
	payload := make([]byte, len(value))
	copy(payload, value)
	id := controller.WriteID(p.writeSeq.Add(1))

	p.enqueue("write", func(c Client) {
		err := NormalizeError(c.WriteCharacteristic(ch, payload, noRsp))
		if err != nil {
			p.logger.WithFields(logrus.Fields{
				"char_uuid": ch.UUID.String(),
				"error":     err,
			}).Warn("Characteristic write failed")
		}
		if noRsp {
			return
		}
		p.emit(func(h controller.TransportEvents) { h.ValueWritten(ch, id, err) })
	})
	return id
}

// Subscribe enables notifications on ch; each one arrives as ValueUpdated.
func (p *Peripheral) Subscribe(ch *ble.Characteristic) {
	p.enqueue("subscribe", func(c Client) {
		err := NormalizeError(c.Subscribe(ch, false, func(data []byte) {
			value := make([]byte, len(data))
			copy(value, data)
			p.emit(func(h controller.TransportEvents) { h.ValueUpdated(ch, value, nil) })
		}))
		if err != nil {
			p.logger.WithFields(logrus.Fields{
				"char_uuid": ch.UUID.String(),
				"error":     err,
			}).Error("Failed to subscribe to characteristic notifications")
			return
		}
		p.logger.WithField("char_uuid", ch.UUID.String()).Debug("Subscribed to characteristic notifications")
	})
}
