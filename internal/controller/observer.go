package controller

import "github.com/srg/nuimo/internal/gesture"

// Observer receives controller events on the controller's scheduler.
type Observer interface {
	OnConnecting()
	OnConnected()
	OnConnectFailed(err error)
	OnDisconnected(err error)
	OnInvalidated()
	OnMatrixServiceDiscovered()
	OnBatteryLevel(level int)
	OnGesture(event gesture.Event)
}

// NopObserver ignores every event. Embed it to implement only some methods.
type NopObserver struct{}

func (NopObserver) OnConnecting()              {}
func (NopObserver) OnConnected()               {}
func (NopObserver) OnConnectFailed(error)      {}
func (NopObserver) OnDisconnected(error)       {}
func (NopObserver) OnInvalidated()             {}
func (NopObserver) OnMatrixServiceDiscovered() {}
func (NopObserver) OnBatteryLevel(int)         {}
func (NopObserver) OnGesture(gesture.Event)    {}
