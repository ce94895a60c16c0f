// Package matrix is the LED matrix data provider: it keeps a library of named
// 9x9 bitmaps and renders them into the payload written to the Nuimo LED
// matrix characteristic.
package matrix

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	Rows = 9
	Cols = 9

	// EmptyName is the matrix with every LED off.
	EmptyName = "empty"

	// PayloadSize is 11 bytes of LED bits, brightness and display timeout.
	PayloadSize = 13

	ledBytes = (Rows*Cols + 7) / 8
)

var (
	ErrUnknownMatrix = errors.New("unknown matrix")
	ErrInvalidBitmap = errors.New("invalid bitmap")
)

// Bitmap is a row-major 9x9 LED state.
type Bitmap [Rows * Cols]bool

// ParseBitmap reads a bitmap drawn as 9 lines of 9 cells. '*', '#', 'o', 'x'
// and '1' switch a LED on; '.', '_', ' ' and '0' leave it off. Leading and
// trailing blank lines are ignored.
func ParseBitmap(drawing string) (Bitmap, error) {
	var b Bitmap

	lines := strings.Split(strings.Trim(drawing, "\n"), "\n")
	if len(lines) != Rows {
		return b, fmt.Errorf("%w: expected %d rows, got %d", ErrInvalidBitmap, Rows, len(lines))
	}

	for r, line := range lines {
		// short rows are padded with unlit cells
		cells := []rune(strings.TrimRight(line, " \r"))
		if len(cells) > Cols {
			return b, fmt.Errorf("%w: row %d has %d cells, expected %d", ErrInvalidBitmap, r+1, len(cells), Cols)
		}
		for c, cell := range cells {
			switch cell {
			case '*', '#', 'o', 'x', '1':
				b[r*Cols+c] = true
			case '.', '_', ' ', '0':
			default:
				return b, fmt.Errorf("%w: row %d column %d: unexpected %q", ErrInvalidBitmap, r+1, c+1, cell)
			}
		}
	}
	return b, nil
}

// MustParseBitmap is ParseBitmap for built-in drawings.
func MustParseBitmap(drawing string) Bitmap {
	b, err := ParseBitmap(drawing)
	if err != nil {
		panic(err)
	}
	return b
}

// String draws the bitmap with '*' and '.'.
func (b Bitmap) String() string {
	var sb strings.Builder
	for r := 0; r < Rows; r++ {
		for c := 0; c < Cols; c++ {
			if b[r*Cols+c] {
				sb.WriteByte('*')
			} else {
				sb.WriteByte('.')
			}
		}
		if r < Rows-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// RenderOptions control the trailer of the matrix payload.
type RenderOptions struct {
	Brightness uint8
	// DisplayTimeout is how long the firmware keeps the matrix lit, in steps of
	// 100ms up to 25.5s. Zero leaves it to the firmware.
	DisplayTimeout time.Duration
}

// Encode renders the bitmap into the LED matrix characteristic payload:
// LED bits packed LSB-first, then brightness, then the display timeout in
// tenths of a second.
func (b Bitmap) Encode(opts RenderOptions) []byte {
	payload := make([]byte, PayloadSize)
	for i, on := range b {
		if on {
			payload[i/8] |= 1 << (i % 8)
		}
	}
	payload[ledBytes] = opts.Brightness

	tenths := opts.DisplayTimeout / (100 * time.Millisecond)
	switch {
	case tenths < 0:
		tenths = 0
	case tenths > 255:
		tenths = 255
	}
	payload[ledBytes+1] = byte(tenths)
	return payload
}

// BarName returns the name of the bar matrix for a level in 1..9.
func BarName(level int) string {
	return fmt.Sprintf("bar_%d", level)
}

// Bar returns a vertical bar lit from the bottom up to level rows.
func Bar(level int) Bitmap {
	var b Bitmap
	for r := Rows - level; r < Rows; r++ {
		if r < 0 {
			continue
		}
		for c := 3; c <= 5; c++ {
			b[r*Cols+c] = true
		}
	}
	return b
}

func sortedNames(m map[string]Bitmap) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
