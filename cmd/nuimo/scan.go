package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/nuimo/internal/scanner"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for Nuimo controllers",
	Long: `Scan for Nuimo controllers in the vicinity.

A device counts as a Nuimo when its advertised name starts with "Nuimo" or it
advertises one of the Nuimo services. Use --all to list every BLE device.`,
	RunE: runScan,
}

var (
	scanDuration    time.Duration
	scanFormat      string
	scanServices    []string
	scanAllowList   []string
	scanBlockList   []string
	scanNoDuplicate bool
	scanAll         bool
	scanWatch       bool
)

func init() {
	addScanFlags(scanCmd)
}

func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	cmd.Flags().StringVarP(&scanFormat, "format", "f", formatTable, "Output format (table, json)")
	cmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	cmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show devices with these addresses")
	cmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide devices with these addresses")
	cmd.Flags().BoolVar(&scanNoDuplicate, "no-duplicates", true, "Filter duplicate advertisements")
	cmd.Flags().BoolVarP(&scanAll, "all", "a", false, "List every BLE device, not only Nuimo controllers")
	cmd.Flags().BoolVarP(&scanWatch, "watch", "w", false, "Continuously scan and update results")
}

func runScan(cmd *cobra.Command, args []string) error {
	if err := validateFormat(scanFormat, formatTable, formatJSON); err != nil {
		return err
	}

	serviceUUIDs := make([]ble.UUID, 0, len(scanServices))
	for _, s := range scanServices {
		u, err := ble.Parse(s)
		if err != nil {
			return fmt.Errorf("invalid service UUID %q: %w", s, err)
		}
		serviceUUIDs = append(serviceUUIDs, u)
	}

	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	opts := &scanner.ScanOptions{
		Duration:        scanDuration,
		DuplicateFilter: scanNoDuplicate,
		ServiceUUIDs:    serviceUUIDs,
		AllowList:       scanAllowList,
		BlockList:       scanBlockList,
		NuimoOnly:       !scanAll,
	}
	if !cmd.Flags().Changed("duration") && cfg.ScanTimeout > 0 {
		opts.Duration = cfg.ScanTimeout
	}

	out := cmd.OutOrStdout()
	ctx, stop := interruptContext(context.Background(), out, "cancelling scan")
	defer stop()

	s := scanner.NewScanner(logger)
	if scanWatch {
		if !cmd.Flags().Changed("duration") {
			opts.Duration = 0
		}
		return runWatchMode(ctx, s, opts, out, logger)
	}
	return runSingleScan(ctx, s, opts, out, logger)
}

func runSingleScan(ctx context.Context, s *scanner.Scanner, opts *scanner.ScanOptions, out io.Writer, logger *logrus.Logger) error {
	progress := NewCountdownProgressPrinter(out, "Scanning for Nuimo controllers", "Scanning", opts.Duration, "Processing results")
	progress.Start()
	defer progress.Stop()

	devices, err := s.Scan(ctx, opts, progress.Callback())
	progress.Stop()
	if err != nil {
		logger.WithError(err).Error("scan failed")
		return err
	}
	return displayDevices(out, devices, scanFormat, time.Now())
}

func runWatchMode(ctx context.Context, s *scanner.Scanner, opts *scanner.ScanOptions, out io.Writer, logger *logrus.Logger) error {
	devices := make(map[string]scanner.DeviceEntry)

	scanErrCh := make(chan error, 1)
	go func() {
		_, err := s.Scan(ctx, opts, nil)
		scanErrCh <- err
	}()

	redraw := func() error {
		if isTerminal(out) {
			clearScreen(out)
		}
		return displayDevices(out, devices, scanFormat, time.Now())
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return redraw()
		case err := <-scanErrCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.WithError(err).Error("scan failed")
				return err
			}
			return redraw()
		case <-ticker.C:
			if err := redraw(); err != nil {
				return err
			}
		case ev := <-s.Events():
			devices[ev.Entry.Device.Address] = ev.Entry
		}
	}
}

// sortedEntries orders devices by descending signal strength, then address.
func sortedEntries(devices map[string]scanner.DeviceEntry) []scanner.DeviceEntry {
	list := make([]scanner.DeviceEntry, 0, len(devices))
	for _, e := range devices {
		list = append(list, e)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Device.RSSI != list[j].Device.RSSI {
			return list[i].Device.RSSI > list[j].Device.RSSI
		}
		return list[i].Device.Address < list[j].Device.Address
	})
	return list
}

func displayDevices(out io.Writer, devices map[string]scanner.DeviceEntry, format string, now time.Time) error {
	entries := sortedEntries(devices)

	if format == formatJSON {
		infos := make([]scanner.DeviceInfo, len(entries))
		for i, e := range entries {
			infos[i] = e.Device
		}
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(infos)
	}

	if len(entries) == 0 {
		fmt.Fprintln(out, "No devices discovered")
		return nil
	}
	return displayDevicesTable(out, entries, now)
}

func displayDevicesTable(out io.Writer, entries []scanner.DeviceEntry, now time.Time) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS\tRSSI\tSERVICES\tLAST SEEN")
	fmt.Fprintln(w, strings.Repeat("-", 80))

	for _, e := range entries {
		dev := e.Device
		name := dev.Name
		if name == "" {
			name = "(unknown)"
		}
		if len(name) > 20 {
			name = name[:17] + "..."
		}

		services := strings.Join(dev.Services, ",")
		if len(services) > 30 {
			services = services[:27] + "..."
		}

		fmt.Fprintf(w, "%s\t%s\t%d dBm\t%s\t%s\n",
			name, dev.Address, dev.RSSI, services, since(now, e.LastSeen))
	}

	return w.Flush()
}

func clearScreen(out io.Writer) {
	fmt.Fprint(out, "\033[2J\033[H")
}
