package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/nuimo/internal/controller"
	"github.com/srg/nuimo/internal/dispatch"
	"github.com/srg/nuimo/internal/feed"
	"github.com/srg/nuimo/internal/gesture"
	"github.com/srg/nuimo/internal/matrix"
	"github.com/srg/nuimo/internal/transport/goble"
	"github.com/srg/nuimo/pkg/config"
)

// Journal entry kinds
const (
	kindConnection = "connection"
	kindGesture    = "gesture"
	kindBattery    = "battery"
	kindMatrix     = "matrix"
	kindError      = "error"
)

const (
	journalSize       = 1024
	disconnectTimeout = 2 * time.Second
	writePollInterval = 10 * time.Millisecond
)

// dialer overrides how sessions reach the peripheral (tests only).
var dialer goble.Dialer

// session owns one controller with its transport and callback queue.
type session struct {
	address    string
	logger     *logrus.Logger
	queue      *dispatch.Queue
	peripheral *goble.Peripheral
	controller *controller.Controller
	library    *matrix.Library
	observer   *sessionObserver
	closeOnce  sync.Once
}

// sessionHooks run on the controller queue.
type sessionHooks struct {
	onMatrixReady func(c *controller.Controller)
	onGesture     func(c *controller.Controller, e gesture.Event)
}

// openSession wires a disconnected controller for address. The session's
// queue lives until Close.
func openSession(address string, cfg *config.Config, library *matrix.Library, logger *logrus.Logger, hooks sessionHooks) (*session, error) {
	journal, err := feed.NewJournal(journalSize)
	if err != nil {
		return nil, err
	}

	queue := dispatch.NewQueue(context.Background(), "nuimo", logger)
	peripheral, err := goble.NewPeripheral(address, queue, &goble.Options{
		ConnectTimeout: cfg.ConnectTimeout,
		Dialer:         dialer,
		Logger:         logger,
	})
	if err != nil {
		queue.Close()
		return nil, err
	}

	obs := newSessionObserver(journal, logger, hooks)
	ctrl, err := controller.New(controller.Config{
		ID:              address,
		Transport:       peripheral,
		Scheduler:       queue,
		Matrices:        library,
		Observer:        obs,
		Logger:          logger,
		ResponseTimeout: cfg.Matrix.ResponseTimeout,
		ClearTimeout:    cfg.Matrix.ClearTimeout,
		AutoClear:       cfg.Matrix.AutoClear,
	})
	if err != nil {
		peripheral.Close()
		queue.Close()
		return nil, err
	}
	obs.controller = ctrl

	return &session{
		address:    address,
		logger:     logger,
		queue:      queue,
		peripheral: peripheral,
		controller: ctrl,
		library:    library,
		observer:   obs,
	}, nil
}

// Journal returns the session's event journal.
func (s *session) Journal() *feed.Journal {
	return s.observer.journal
}

// Connect starts the connection and waits for its outcome.
func (s *session) Connect(ctx context.Context) error {
	s.controller.Connect()
	select {
	case <-s.observer.connected:
		return nil
	case err := <-s.observer.ended:
		if err == nil {
			err = ErrConnectionLost
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitMatrix waits until the LED matrix characteristic is discovered.
func (s *session) WaitMatrix(ctx context.Context, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.observer.matrixReady:
		return nil
	case err := <-s.observer.ended:
		if err == nil {
			err = ErrConnectionLost
		}
		return err
	case <-timer.C:
		return ErrMatrixUnavailable
	case <-ctx.Done():
		return ctx.Err()
	}
}

// settle waits until every posted request ran and no matrix write is in
// flight.
func (s *session) settle(ctx context.Context) error {
	if err := s.queue.Sync(ctx, func() {}); err != nil {
		return err
	}

	ticker := time.NewTicker(writePollInterval)
	defer ticker.Stop()
	for s.controller.MatrixWriteInFlight() {
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Ended is closed with the error that ended the connection.
func (s *session) Ended() <-chan error {
	return s.observer.ended
}

// Close disconnects when connected and releases the transport and queue.
// Events after Close are not journaled.
func (s *session) Close() {
	s.closeOnce.Do(func() {
		if s.controller.State() == controller.Connected {
			s.controller.Disconnect()
			select {
			case <-s.observer.ended:
			case <-time.After(disconnectTimeout):
				s.logger.WithField("address", s.address).Warn("Timed out waiting for disconnection")
			}
		}
		// the invalidation Close triggers is not part of the session's feed
		s.controller.SetObserver(nil)
		s.peripheral.Close()
		s.queue.Close()
	})
}

// sessionObserver journals every controller event and turns the
// milestones into channels.
type sessionObserver struct {
	journal    *feed.Journal
	logger     *logrus.Logger
	hooks      sessionHooks
	controller *controller.Controller

	connected     chan struct{}
	connectedOnce sync.Once
	matrixReady   chan struct{}
	matrixOnce    sync.Once
	ended         chan error
	endedOnce     sync.Once
}

var _ controller.Observer = (*sessionObserver)(nil)

func newSessionObserver(journal *feed.Journal, logger *logrus.Logger, hooks sessionHooks) *sessionObserver {
	return &sessionObserver{
		journal:     journal,
		logger:      logger,
		hooks:       hooks,
		connected:   make(chan struct{}),
		matrixReady: make(chan struct{}),
		ended:       make(chan error, 1),
	}
}

func (o *sessionObserver) record(kind, message string, fields map[string]any) {
	if err := o.journal.Record(kind, message, fields); err != nil {
		o.logger.WithField("error", err).Warn("Failed to record event")
	}
}

func (o *sessionObserver) end(err error) {
	o.endedOnce.Do(func() {
		o.ended <- err
		close(o.ended)
	})
}

func (o *sessionObserver) OnConnecting() {
	o.record(kindConnection, "connecting", nil)
}

func (o *sessionObserver) OnConnected() {
	o.record(kindConnection, "connected", nil)
	o.connectedOnce.Do(func() { close(o.connected) })
}

func (o *sessionObserver) OnConnectFailed(err error) {
	o.record(kindError, "connect failed", map[string]any{"error": err.Error()})
	o.end(err)
}

func (o *sessionObserver) OnDisconnected(err error) {
	fields := map[string]any(nil)
	if err != nil {
		fields = map[string]any{"error": err.Error()}
	}
	o.record(kindConnection, "disconnected", fields)
	o.end(err)
}

func (o *sessionObserver) OnInvalidated() {
	o.record(kindConnection, "invalidated", nil)
	o.end(fmt.Errorf("peripheral invalidated: %w", ErrConnectionLost))
}

func (o *sessionObserver) OnMatrixServiceDiscovered() {
	o.record(kindMatrix, "LED matrix ready", nil)
	o.matrixOnce.Do(func() { close(o.matrixReady) })
	if o.hooks.onMatrixReady != nil {
		o.hooks.onMatrixReady(o.controller)
	}
}

func (o *sessionObserver) OnBatteryLevel(level int) {
	o.record(kindBattery, fmt.Sprintf("%d%%", level), map[string]any{"level": level})
}

func (o *sessionObserver) OnGesture(event gesture.Event) {
	fields := map[string]any{"source": event.Source.String()}
	if event.Value != 0 {
		fields["value"] = event.Value
	}
	o.record(kindGesture, event.Type.String(), fields)
	if o.hooks.onGesture != nil {
		o.hooks.onGesture(o.controller, event)
	}
}
