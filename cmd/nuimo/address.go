package main

import (
	"context"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/srg/nuimo/internal/scanner"
	"github.com/srg/nuimo/pkg/config"
)

// resolveAddress picks the peripheral address: the argument, then the
// configured address, then the strongest Nuimo found by a scan.
func resolveAddress(ctx context.Context, args []string, cfg *config.Config, out io.Writer, logger *logrus.Logger) (string, error) {
	if len(args) > 0 && strings.TrimSpace(args[0]) != "" {
		return strings.TrimSpace(args[0]), nil
	}
	if cfg.Address != "" {
		return cfg.Address, nil
	}

	opts := scanner.DefaultScanOptions()
	opts.Duration = cfg.ScanTimeout

	progress := NewCountdownProgressPrinter(out, "Looking for a Nuimo", "Scanning", opts.Duration, "Processing results")
	progress.Start()
	defer progress.Stop()

	devices, err := scanner.NewScanner(logger).Scan(ctx, opts, progress.Callback())
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	var best *scanner.DeviceInfo
	for _, e := range devices {
		if best == nil || e.Device.RSSI > best.RSSI {
			dev := e.Device
			best = &dev
		}
	}
	if best == nil {
		return "", ErrNoNuimoFound
	}

	logger.WithFields(logrus.Fields{
		"address": best.Address,
		"rssi":    best.RSSI,
	}).Info("Using the strongest Nuimo found")
	return best.Address, nil
}
