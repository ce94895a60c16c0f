package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/srg/nuimo/internal/transport/goble"
)

// Command-level errors
var (
	// ErrConnectionLost indicates the link went down while a command still needed it.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNoNuimoFound is returned when no address was given and scanning found no controller.
	ErrNoNuimoFound = errors.New("no Nuimo controller found")

	// ErrMatrixUnavailable is returned when the peripheral never exposed the LED matrix service.
	ErrMatrixUnavailable = errors.New("LED matrix service not available")
)

// FormatUserError turns an error into a single line a user can act on.
func FormatUserError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, goble.ErrBluetoothOff):
		return "Bluetooth is turned off, enable it and try again"
	case errors.Is(err, goble.ErrUnsupported):
		return "Bluetooth LE is not supported on this platform"
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("operation timed out (%v)", err)
	case errors.Is(err, ErrNoNuimoFound):
		return "no Nuimo controller found, make sure it is awake and in range or pass its address"
	default:
		return err.Error()
	}
}
