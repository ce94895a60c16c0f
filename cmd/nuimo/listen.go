package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/nuimo/internal/controller"
	"github.com/srg/nuimo/internal/gesture"
)

// barRotationRange is the rotation, in sensor points, that sweeps the bar
// from empty to full.
const barRotationRange = 2650

const listenFlushInterval = 100 * time.Millisecond

var listenCmd = &cobra.Command{
	Use:   "listen [address]",
	Short: "Print gestures and battery level of a Nuimo",
	Long: fmt.Sprintf(`Connect to a Nuimo and print every gesture and battery change until
interrupted with Ctrl+C or the --duration elapses.

Without an address the configured address is used, otherwise the strongest
Nuimo found by a scan.

Examples:
  nuimo listen %s
  nuimo listen --bar
  nuimo listen --matrix play --format json

%s`, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.MaximumNArgs(1),
	RunE: runListen,
}

var (
	listenFormat   string
	listenDuration time.Duration
	listenMatrix   string
	listenBar      bool
)

func init() {
	addListenFlags(listenCmd)
}

func addListenFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&listenFormat, "format", "f", formatText, "Output format (text, json)")
	cmd.Flags().DurationVarP(&listenDuration, "duration", "d", 0, "Stop listening after this long (0 for indefinite)")
	cmd.Flags().StringVarP(&listenMatrix, "matrix", "m", "", "Show this matrix once the LED matrix is ready")
	cmd.Flags().BoolVar(&listenBar, "bar", false, "Mirror rotation as a bar on the LED matrix")
}

// rotationBar accumulates rotation into a 0..100 percentage.
type rotationBar struct {
	points int
}

func (b *rotationBar) apply(e gesture.Event) (int, bool) {
	if e.Type != gesture.RotateLeft && e.Type != gesture.RotateRight {
		return 0, false
	}
	b.points = min(max(b.points+e.Value, 0), barRotationRange)
	return b.points * 100 / barRotationRange, true
}

func runListen(cmd *cobra.Command, args []string) error {
	if err := validateFormat(listenFormat, formatText, formatJSON); err != nil {
		return err
	}

	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	library, err := cfg.NewMatrixLibrary(logger)
	if err != nil {
		return err
	}
	if listenMatrix != "" {
		if _, ok := library.Bitmap(listenMatrix); !ok {
			return fmt.Errorf("unknown matrix %q, see 'nuimo matrices'", listenMatrix)
		}
	}

	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()

	ctx, stop := interruptContext(context.Background(), out, "disconnecting")
	defer stop()

	address, err := resolveAddress(ctx, args, cfg, out, logger)
	if err != nil {
		return err
	}

	if listenDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, listenDuration)
		defer cancel()
	}

	bar := &rotationBar{}
	hooks := sessionHooks{
		onMatrixReady: func(c *controller.Controller) {
			if listenMatrix != "" {
				c.WriteMatrix(listenMatrix)
			}
		},
		onGesture: func(c *controller.Controller, e gesture.Event) {
			if !listenBar {
				return
			}
			if percent, ok := bar.apply(e); ok {
				c.WriteBarMatrix(percent)
			}
		},
	}

	s, err := openSession(address, cfg, library, logger, hooks)
	if err != nil {
		return err
	}
	defer s.Close()

	printer := newEventPrinter(out, listenFormat)
	flush := func() error {
		return printer.Flush(s.Journal())
	}

	if err := s.Connect(ctx); err != nil {
		_ = flush()
		if errors.Is(err, context.DeadlineExceeded) && listenDuration > 0 {
			return nil
		}
		return err
	}

	ticker := time.NewTicker(listenFlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		case err := <-s.Ended():
			_ = flush()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrConnectionLost, err)
			}
			return nil
		case <-ctx.Done():
			s.Close()
			if err := flush(); err != nil {
				return err
			}
			if errors.Is(ctx.Err(), context.Canceled) {
				return ctx.Err()
			}
			return nil
		}
	}
}
