package matrix

import (
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var builtins = map[string]string{
	"play": `
...*.....
...**....
...***...
...****..
...*****.
...****..
...***...
...**....
...*.....`,
	"pause": `
.........
..**.**..
..**.**..
..**.**..
..**.**..
..**.**..
..**.**..
..**.**..
.........`,
	"power": `
....*....
.*..*..*.
*...*...*
*...*...*
*.......*
*.......*
.*.....*.
..*****..
.........`,
	"check": `
.........
........*
.......*.
......*..
*....*...
.*..*....
..**.....
...*.....
.........`,
}

// Library maps matrix names to bitmaps and renders them on request.
// It is safe for concurrent use.
type Library struct {
	mu      sync.RWMutex
	bitmaps map[string]Bitmap
	opts    RenderOptions
	logger  *logrus.Logger
}

// NewLibrary returns a library holding the empty matrix, bar_1 to bar_9 and
// a few glyphs.
func NewLibrary(opts RenderOptions, logger *logrus.Logger) *Library {
	if logger == nil {
		logger = logrus.New()
	}

	l := &Library{
		bitmaps: make(map[string]Bitmap, len(builtins)+10),
		opts:    opts,
		logger:  logger,
	}
	l.bitmaps[EmptyName] = Bitmap{}
	for level := 1; level <= 9; level++ {
		l.bitmaps[BarName(level)] = Bar(level)
	}
	for name, drawing := range builtins {
		l.bitmaps[name] = MustParseBitmap(drawing)
	}
	return l
}

// Add registers or replaces a named bitmap.
func (l *Library) Add(name string, bitmap Bitmap) error {
	if name == "" {
		return fmt.Errorf("matrix name cannot be empty")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.bitmaps[name] = bitmap
	return nil
}

// Bitmap returns the bitmap registered under name.
func (l *Library) Bitmap(name string) (Bitmap, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	b, ok := l.bitmaps[name]
	return b, ok
}

// Names returns all registered names, sorted.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return sortedNames(l.bitmaps)
}

// MatrixData returns the characteristic payload for name.
func (l *Library) MatrixData(name string) ([]byte, error) {
	b, ok := l.Bitmap(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMatrix, name)
	}
	return b.Encode(l.opts), nil
}

// libraryFile is the YAML layout of a matrix library file:
//
//	matrices:
//	  smile: |
//	    .........
//	    ..*...*..
//	    ...
type libraryFile struct {
	Matrices map[string]string `yaml:"matrices"`
}

// LoadFile adds every matrix drawn in a YAML library file. Nothing is added
// if any drawing fails to parse.
func (l *Library) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read matrix library %q: %w", path, err)
	}
	return l.Load(raw)
}

// Load adds every matrix from YAML library content.
func (l *Library) Load(raw []byte) error {
	var file libraryFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse matrix library: %w", err)
	}

	parsed := make(map[string]Bitmap, len(file.Matrices))
	for name, drawing := range file.Matrices {
		b, err := ParseBitmap(drawing)
		if err != nil {
			return fmt.Errorf("matrix %q: %w", name, err)
		}
		parsed[name] = b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, name := range sortedNames(parsed) {
		if _, exists := l.bitmaps[name]; exists {
			l.logger.WithField("matrix", name).Debug("Library file overrides existing matrix")
		}
		l.bitmaps[name] = parsed[name]
	}
	l.logger.WithField("matrices", len(parsed)).Debug("Matrix library loaded")
	return nil
}
