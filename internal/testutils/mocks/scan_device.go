package mocks

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// MockScanDevice mocks the scanning side of ble.Device.
type MockScanDevice struct {
	mock.Mock
}

// Scan returns the configured error, or calls a configured
// func(context.Context, bool, ble.AdvHandler) error.
func (m *MockScanDevice) Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error {
	args := m.Called(ctx, allowDup, h)
	if fn, ok := args.Get(0).(func(context.Context, bool, ble.AdvHandler) error); ok {
		return fn(ctx, allowDup, h)
	}
	return args.Error(0)
}
