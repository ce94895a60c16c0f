package testutils

import (
	"bytes"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
	output *syncBuffer
}

// NewTestHelper creates a test helper whose logger writes to an in-memory
// buffer, so log lines show up only when asked for.
func NewTestHelper(t *testing.T) *TestHelper {
	buf := &syncBuffer{}
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	logger.SetOutput(buf)
	logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})

	h := &TestHelper{
		T:      t,
		Logger: logger,
		output: buf,
	}
	t.Cleanup(func() {
		if t.Failed() {
			t.Logf("captured log output:\n%s", buf.String())
		}
	})
	return h
}

// LogOutput returns everything logged so far.
func (h *TestHelper) LogOutput() string {
	return h.output.String()
}

// LogContains reports whether any logged line contains substr.
func (h *TestHelper) LogContains(substr string) bool {
	return strings.Contains(h.output.String(), substr)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
