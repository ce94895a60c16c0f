package testutils

import (
	"sync"

	"github.com/srg/nuimo/internal/controller"
	"github.com/srg/nuimo/internal/gesture"
)

// Observer event names recorded by RecordingObserver.
const (
	EventConnecting              = "connecting"
	EventConnected               = "connected"
	EventConnectFailed           = "connect_failed"
	EventDisconnected            = "disconnected"
	EventInvalidated             = "invalidated"
	EventMatrixServiceDiscovered = "matrix_service_discovered"
	EventBatteryLevel            = "battery_level"
	EventGesture                 = "gesture"
)

// RecordingObserver records every controller notification.
type RecordingObserver struct {
	mu       sync.Mutex
	events   []string
	errors   []error
	levels   []int
	gestures []gesture.Event
}

var _ controller.Observer = (*RecordingObserver)(nil)

func (r *RecordingObserver) OnConnecting() { r.record(EventConnecting) }
func (r *RecordingObserver) OnConnected()  { r.record(EventConnected) }

func (r *RecordingObserver) OnConnectFailed(err error) {
	r.mu.Lock()
	r.errors = append(r.errors, err)
	r.mu.Unlock()
	r.record(EventConnectFailed)
}

func (r *RecordingObserver) OnDisconnected(err error) {
	r.mu.Lock()
	r.errors = append(r.errors, err)
	r.mu.Unlock()
	r.record(EventDisconnected)
}

func (r *RecordingObserver) OnInvalidated()             { r.record(EventInvalidated) }
func (r *RecordingObserver) OnMatrixServiceDiscovered() { r.record(EventMatrixServiceDiscovered) }

func (r *RecordingObserver) OnBatteryLevel(level int) {
	r.mu.Lock()
	r.levels = append(r.levels, level)
	r.mu.Unlock()
	r.record(EventBatteryLevel)
}

func (r *RecordingObserver) OnGesture(event gesture.Event) {
	r.mu.Lock()
	r.gestures = append(r.gestures, event)
	r.mu.Unlock()
	r.record(EventGesture)
}

func (r *RecordingObserver) record(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, name)
}

// Events returns the recorded event names in order.
func (r *RecordingObserver) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// Count returns how many times the named event was recorded.
func (r *RecordingObserver) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == name {
			n++
		}
	}
	return n
}

// Errors returns the errors passed to OnConnectFailed and OnDisconnected.
func (r *RecordingObserver) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errors...)
}

// BatteryLevels returns the reported battery levels in order.
func (r *RecordingObserver) BatteryLevels() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.levels...)
}

// Gestures returns the reported gestures in order.
func (r *RecordingObserver) Gestures() []gesture.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]gesture.Event(nil), r.gestures...)
}

// Reset forgets everything recorded so far.
func (r *RecordingObserver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events, r.errors, r.levels, r.gestures = nil, nil, nil, nil
}
