// Package feed decouples event producers running on the controller queue or
// the BLE stack from slow consumers such as terminal output. Both buffers
// here are lossy: when full they drop the oldest entry, so a producer never
// blocks.
package feed

import "sync/atomic"

// RingChannel is a bounded channel with overwrite-oldest semantics.
//
// Writers use Send, which always succeeds. Readers range over C().
type RingChannel[T any] struct {
	ch          chan T
	overwritten atomic.Int64
}

// NewRingChannel creates a RingChannel with the given capacity.
func NewRingChannel[T any](capacity int) *RingChannel[T] {
	if capacity <= 0 {
		panic("ringchan: capacity must be > 0")
	}
	return &RingChannel[T]{ch: make(chan T, capacity)}
}

// C returns the underlying receive-only channel.
func (rc *RingChannel[T]) C() <-chan T {
	return rc.ch
}

// Send inserts v, discarding the oldest element if the buffer is full.
// It reports whether an element was dropped.
func (rc *RingChannel[T]) Send(v T) bool {
	for {
		select {
		case rc.ch <- v:
			return false
		default:
		}

		select {
		case <-rc.ch:
			rc.overwritten.Add(1)
			// another writer may have taken the freed slot
			select {
			case rc.ch <- v:
			default:
				continue
			}
			return true
		default:
		}
	}
}

// Len returns the number of buffered elements.
func (rc *RingChannel[T]) Len() int {
	return len(rc.ch)
}

// Overwritten returns how many elements were discarded so far.
func (rc *RingChannel[T]) Overwritten() int64 {
	return rc.overwritten.Load()
}

// Close closes the underlying channel. Send panics afterwards.
func (rc *RingChannel[T]) Close() {
	close(rc.ch)
}
