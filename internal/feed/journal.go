package feed

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// MaxJournalSize guards against accidental misconfiguration.
const MaxJournalSize uint32 = 64 * 1024

// Entry is one journal record.
type Entry struct {
	At      time.Time      `json:"at"`
	Kind    string         `json:"kind"`
	Message string         `json:"message,omitempty"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Journal is a bounded multi-producer log of entries. When full, the oldest
// entries are overwritten. All methods are safe for concurrent use.
type Journal struct {
	buffer      mpmc.RichOverlappedRingBuffer[Entry]
	overwritten atomic.Int64
	recorded    atomic.Int64
	now         func() time.Time
}

// NewJournal creates a journal holding up to size entries.
func NewJournal(size uint32) (*Journal, error) {
	if size == 0 {
		return nil, fmt.Errorf("journal size must be > 0")
	}
	if size > MaxJournalSize {
		return nil, fmt.Errorf("journal size %d exceeds maximum %d", size, MaxJournalSize)
	}
	return &Journal{
		buffer: mpmc.NewOverlappedRingBuffer[Entry](size),
		now:    time.Now,
	}, nil
}

// Record appends an entry stamped with the current time.
func (j *Journal) Record(kind, message string, fields map[string]any) error {
	overwrites, err := j.buffer.EnqueueM(Entry{
		At:      j.now(),
		Kind:    kind,
		Message: message,
		Fields:  fields,
	})
	if err != nil {
		return fmt.Errorf("journal enqueue: %w", err)
	}
	j.overwritten.Add(int64(overwrites))
	j.recorded.Add(1)
	return nil
}

// Drain passes every buffered entry to fn, oldest first, and returns how many
// were consumed.
func (j *Journal) Drain(fn func(Entry)) (int, error) {
	n := 0
	for !j.buffer.IsEmpty() {
		e, err := j.buffer.Dequeue()
		if err != nil {
			return n, fmt.Errorf("journal dequeue: %w", err)
		}
		fn(e)
		n++
	}
	return n, nil
}

// Recorded returns the number of entries recorded so far.
func (j *Journal) Recorded() int64 {
	return j.recorded.Load()
}

// Overwritten returns the number of entries lost to overflow.
func (j *Journal) Overwritten() int64 {
	return j.overwritten.Load()
}
