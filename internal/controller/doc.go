// Package controller implements the protocol side of a Nuimo BLE controller
// driver.
//
// This package covers:
//   - Connection lifecycle (connect, disconnect, invalidation)
//   - GATT discovery scoped to the services and characteristics in package gatt
//   - The LED matrix write pipeline: one write in flight, 100ms acknowledgment
//     timeout, coalescing of requests made while a write is outstanding
//   - Routing of sensor notifications to typed gesture events
//   - Edge-triggered battery level tracking
//
// The controller never blocks and holds no locks: it relies on every call
// being serialized on a dispatch.Scheduler.
package controller
