package controller

import (
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/nuimo/internal/dispatch"
	"github.com/srg/nuimo/internal/gatt"
	"github.com/srg/nuimo/internal/matrix"
)

// matrixWriteState enforces a single outstanding LED matrix write.
type matrixWriteState struct {
	current    string
	hasCurrent bool

	inFlight       bool
	pendingRewrite bool
	// bumped on every immediate write; timeouts of older writes are ignored
	seq uint64
	// transport id of the write in flight; other acknowledgments are stale
	awaited WriteID

	responseTimer dispatch.Timer
	clearTimer    dispatch.Timer
}

// WriteMatrix shows the named matrix. Requesting the matrix already requested
// is a no-op. While a write is outstanding, requests are coalesced into one
// follow-up write of the most recent name.
//
// The remembered name is forgotten on every new connection and whenever the
// LED matrix characteristic is rediscovered, so the first request after a
// reconnect is always written even if it repeats the last one.
func (c *Controller) WriteMatrix(name string) {
	c.sched.Post(func() {
		c.writeMatrix(name)
	})
}

// WriteBarMatrix shows the bar matrix for percent: level percent/10 clamped
// to 1..9.
func (c *Controller) WriteBarMatrix(percent int) {
	c.WriteMatrix(matrix.BarName(BarLevel(percent)))
}

// BarLevel maps a percentage to a bar matrix level.
func BarLevel(percent int) int {
	return min(max(percent/10, 1), 9)
}

func (c *Controller) writeMatrix(name string) {
	if c.machineState() == Invalidated {
		return
	}
	if c.writer.hasCurrent && c.writer.current == name {
		c.log().WithField("matrix", name).Debug("Matrix already shown, skipping write")
		return
	}
	c.setCurrentMatrix(name)

	if c.writer.inFlight {
		c.log().WithField("matrix", name).Debug("Matrix write in flight, deferring")
		c.writer.pendingRewrite = true
		return
	}
	c.writeMatrixNow(name)
}

func (c *Controller) writeMatrixNow(name string) {
	entry := c.log().WithField("matrix", name)

	data, err := c.matrices.MatrixData(name)
	if err != nil {
		entry.WithField("error", err).Warn("No matrix data, skipping write")
		return
	}
	handle, ok := c.handle(gatt.RoleLEDMatrix)
	if !ok {
		entry.Debug("LED matrix characteristic not available, skipping write")
		return
	}

	c.writer.awaited = c.transport.WriteCharacteristic(handle, data, false)
	c.writer.inFlight = true
	c.writeBusy.Store(true)
	c.writer.seq++
	seq := c.writer.seq

	stopTimer(&c.writer.responseTimer)
	c.writer.responseTimer = c.sched.AfterFunc(c.responseTimeout, func() {
		c.matrixWriteTimedOut(seq)
	})

	stopTimer(&c.writer.clearTimer)
	if c.autoClear && name != matrix.EmptyName {
		c.writer.clearTimer = c.sched.AfterFunc(c.clearTimeout, func() {
			c.writer.clearTimer = nil
			c.writeMatrix(matrix.EmptyName)
		})
	}

	entry.WithFields(logrus.Fields{
		"bytes":    len(data),
		"seq":      seq,
		"write_id": c.writer.awaited,
	}).Debug("Matrix write issued")
}

// ValueWritten handles a write acknowledgment. Only the acknowledgment of the
// write in flight completes it; late ones for writes that already timed out
// are ignored.
func (c *Controller) ValueWritten(ch *ble.Characteristic, id WriteID, err error) {
	if !c.attached || ch == nil || gatt.RoleOf(ch.UUID) != gatt.RoleLEDMatrix {
		return
	}
	entry := c.log().WithField("write_id", id)
	if err != nil {
		entry.WithField("error", err).Debug("Matrix write acknowledged with error")
	}
	if !c.writer.inFlight || id != c.writer.awaited {
		entry.Debug("Acknowledgment of a matrix write no longer awaited, ignoring")
		return
	}
	c.completeMatrixWrite()
}

func (c *Controller) matrixWriteTimedOut(seq uint64) {
	if !c.writer.inFlight || seq != c.writer.seq {
		return
	}
	c.log().WithField("seq", seq).Debug("Matrix write response timed out")
	c.writer.responseTimer = nil
	c.completeMatrixWrite()
}

// completeMatrixWrite frees the write slot and issues the coalesced
// follow-up write, if any.
func (c *Controller) completeMatrixWrite() {
	if !c.writer.inFlight {
		return
	}
	stopTimer(&c.writer.responseTimer)
	c.writer.inFlight = false
	c.writeBusy.Store(false)

	if c.writer.pendingRewrite {
		c.writer.pendingRewrite = false
		if c.writer.hasCurrent {
			c.writeMatrixNow(c.writer.current)
		}
	}
}

// matrixHandleChanged forgets what the matrix shows so the next request is
// written even if it repeats the last one.
func (c *Controller) matrixHandleChanged() {
	c.writer.hasCurrent = false
	c.writer.current = ""
	c.currentMatrix.Store(nil)
}

func (c *Controller) resetMatrixWriter() {
	stopTimer(&c.writer.responseTimer)
	stopTimer(&c.writer.clearTimer)
	c.writer.inFlight = false
	c.writeBusy.Store(false)
	c.writer.pendingRewrite = false
	c.writer.awaited = 0
	c.matrixHandleChanged()
}

func (c *Controller) setCurrentMatrix(name string) {
	c.writer.current = name
	c.writer.hasCurrent = true
	c.currentMatrix.Store(&name)
}

func stopTimer(t *dispatch.Timer) {
	if *t != nil {
		(*t).Stop()
		*t = nil
	}
}
