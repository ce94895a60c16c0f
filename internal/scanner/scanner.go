package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/nuimo/internal/feed"
	"github.com/srg/nuimo/internal/gatt"
	"github.com/srg/nuimo/internal/transport/goble"
)

// NuimoNamePrefix is the local name prefix Nuimo controllers advertise.
const NuimoNamePrefix = "Nuimo"

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// Device is the part of ble.Device the scanner needs.
type Device interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
}

// DeviceFactory creates the scanning device (can be overridden in tests)
var DeviceFactory = func() (Device, error) {
	return goble.DeviceFactory()
}

// DeviceEventType marks if the device was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

// DeviceInfo is what an advertisement tells about a peripheral.
type DeviceInfo struct {
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	RSSI        int      `json:"rssi"`
	Services    []string `json:"services,omitempty"`
	Connectable bool     `json:"connectable"`
}

// DeviceEntry is a discovered device with the time of its last advertisement.
type DeviceEntry struct {
	Device   DeviceInfo
	LastSeen time.Time
}

type DeviceEvent struct {
	Type  DeviceEventType
	Entry DeviceEntry
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	ServiceUUIDs    []ble.UUID
	AllowList       []string
	BlockList       []string
	// NuimoOnly keeps only devices that look like Nuimo controllers: a local
	// name starting with NuimoNamePrefix or an advertised Nuimo service.
	NuimoOnly bool
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
		NuimoOnly:       true,
	}
}

// Scanner handles Nuimo discovery
type Scanner struct {
	devices *hashmap.Map[string, DeviceEntry]
	events  *feed.RingChannel[DeviceEvent]
	logger  *logrus.Logger
	now     func() time.Time

	scanOptions atomic.Pointer[ScanOptions]
}

// NewScanner creates a new BLE scanner
func NewScanner(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}

	return &Scanner{
		devices: hashmap.New[string, DeviceEntry](),
		events:  feed.NewRingChannel[DeviceEvent](100),
		logger:  logger,
		now:     time.Now,
	}
}

// Scan performs BLE discovery with provided options until the duration
// elapses or ctx is done.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]DeviceEntry, error) {
	s.devices = hashmap.New[string, DeviceEntry]()

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	s.logger.WithField("duration", opts.Duration).Info("Starting BLE scan...")
	progressCallback("Scanning")

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", goble.NormalizeError(err))
	}

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.scanOptions.Store(opts)
	defer s.scanOptions.Store(nil)

	err = dev.Scan(ctx, !opts.DuplicateFilter, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", goble.NormalizeError(err))
	}

	s.logger.WithField("device_count", s.devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	devices := make(map[string]DeviceEntry, s.devices.Len())
	s.devices.Range(func(key string, value DeviceEntry) bool {
		devices[key] = value
		return true
	})
	return devices, nil
}

// Events returns a read-only channel of device events. Old events are
// dropped when nobody reads.
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}

// handleAdvertisement updates existing or adds a new device
func (s *Scanner) handleAdvertisement(adv ble.Advertisement) {
	opts := s.scanOptions.Load()
	if opts == nil || adv == nil || adv.Addr() == nil {
		return
	}
	address := adv.Addr().String()

	prev, existing := s.devices.Get(address)
	if !existing && !ShouldInclude(adv, opts) {
		return
	}

	entry := DeviceEntry{
		Device:   infoFromAdvertisement(adv, prev.Device),
		LastSeen: s.now(),
	}
	s.devices.Set(address, entry)

	event := DeviceEvent{Entry: entry, Type: EventUpdated}
	if !existing {
		event.Type = EventNew
		s.logger.WithFields(logrus.Fields{
			"device":  entry.Device.Name,
			"address": address,
			"rssi":    entry.Device.RSSI,
		}).Info("Discovered new device")
	}
	s.events.Send(event)
}

// infoFromAdvertisement merges adv into prev. Scan responses often omit the
// local name and services, so known values are kept.
func infoFromAdvertisement(adv ble.Advertisement, prev DeviceInfo) DeviceInfo {
	info := DeviceInfo{
		Name:        prev.Name,
		Address:     adv.Addr().String(),
		RSSI:        adv.RSSI(),
		Services:    prev.Services,
		Connectable: adv.Connectable() || prev.Connectable,
	}
	if name := adv.LocalName(); name != "" {
		info.Name = name
	}
	if services := adv.Services(); len(services) > 0 {
		info.Services = make([]string, 0, len(services))
		for _, u := range services {
			info.Services = append(info.Services, u.String())
		}
	}
	return info
}

// ShouldInclude applies the allow, block, service and Nuimo filters.
func ShouldInclude(adv ble.Advertisement, opts *ScanOptions) bool {
	addr := adv.Addr().String()

	for _, blocked := range opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if strings.EqualFold(addr, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.ServiceUUIDs) > 0 && !advertisesAny(adv, opts.ServiceUUIDs) {
		return false
	}

	if opts.NuimoOnly && !IsNuimo(adv) {
		return false
	}

	return true
}

// IsNuimo reports whether adv looks like a Nuimo controller.
func IsNuimo(adv ble.Advertisement) bool {
	if strings.HasPrefix(strings.ToLower(adv.LocalName()), strings.ToLower(NuimoNamePrefix)) {
		return true
	}
	return advertisesAny(adv, []ble.UUID{gatt.SensorService, gatt.LEDMatrixService})
}

func advertisesAny(adv ble.Advertisement, uuids []ble.UUID) bool {
	for _, required := range uuids {
		for _, advUUID := range adv.Services() {
			if required.Equal(advUUID) {
				return true
			}
		}
	}
	return false
}
