package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/srg/nuimo/internal/controller"
	"github.com/srg/nuimo/internal/matrix"
)

// matrixReadyTimeout bounds the wait for the LED matrix characteristic.
var matrixReadyTimeout = 10 * time.Second

var matrixCmd = &cobra.Command{
	Use:   "matrix <name> [address]",
	Short: "Show a named matrix on the LED display",
	Long: fmt.Sprintf(`Connect to a Nuimo, show a named matrix and disconnect.

Names come from the built-in library and the optional library file set in
the configuration (matrix.library). List them with 'nuimo matrices'.

Examples:
  nuimo matrix play %s
  nuimo matrix check --hold 3s

%s`, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.RangeArgs(1, 2),
	RunE: runMatrix,
}

var barCmd = &cobra.Command{
	Use:   "bar <percent> [address]",
	Short: "Show a percentage bar on the LED display",
	Long: fmt.Sprintf(`Connect to a Nuimo, show a vertical bar for a percentage and disconnect.

The bar has nine levels: percent/10, clamped to 1..9.

Examples:
  nuimo bar 40 %s

%s`, exampleDeviceAddress, deviceAddressNote),
	Args: cobra.RangeArgs(1, 2),
	RunE: runBar,
}

var (
	matrixHold time.Duration
	barHold    time.Duration
)

func init() {
	addMatrixFlags(matrixCmd, &matrixHold)
	addMatrixFlags(barCmd, &barHold)
}

func addMatrixFlags(cmd *cobra.Command, hold *time.Duration) {
	cmd.Flags().DurationVar(hold, "hold", 0, "Stay connected this long after the matrix is shown")
}

func runMatrix(cmd *cobra.Command, args []string) error {
	name := args[0]
	return showOnDisplay(cmd, args[1:], matrixHold, name, func(c *controller.Controller) {
		c.WriteMatrix(name)
	})
}

func runBar(cmd *cobra.Command, args []string) error {
	percent, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid percent %q: must be an integer", args[0])
	}
	if percent < 0 || percent > 100 {
		return fmt.Errorf("invalid percent %d: must be within 0..100", percent)
	}

	name := matrix.BarName(controller.BarLevel(percent))
	return showOnDisplay(cmd, args[1:], barHold, name, func(c *controller.Controller) {
		c.WriteBarMatrix(percent)
	})
}

// showOnDisplay connects, issues write once the LED matrix is ready, waits
// for the write to settle and disconnects.
func showOnDisplay(cmd *cobra.Command, args []string, hold time.Duration, name string, write func(c *controller.Controller)) error {
	cfg, logger, err := loadSettings(cmd)
	if err != nil {
		return err
	}
	library, err := cfg.NewMatrixLibrary(logger)
	if err != nil {
		return err
	}
	if _, ok := library.Bitmap(name); !ok {
		return fmt.Errorf("unknown matrix %q, see 'nuimo matrices'", name)
	}

	cmd.SilenceUsage = true
	out := cmd.OutOrStdout()

	ctx, stop := interruptContext(context.Background(), out, "disconnecting")
	defer stop()

	address, err := resolveAddress(ctx, args, cfg, out, logger)
	if err != nil {
		return err
	}

	s, err := openSession(address, cfg, library, logger, sessionHooks{})
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Connect(ctx); err != nil {
		return err
	}
	if err := s.WaitMatrix(ctx, matrixReadyTimeout); err != nil {
		return err
	}

	write(s.controller)
	if err := s.settle(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "Matrix '%s' shown on %s\n", name, address)

	if hold > 0 {
		select {
		case <-time.After(hold):
		case <-ctx.Done():
		case err := <-s.Ended():
			if err != nil {
				return fmt.Errorf("%w: %v", ErrConnectionLost, err)
			}
		}
	}
	return nil
}
