package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/spf13/cobra"
	"github.com/srg/nuimo/internal/gatt"
	"github.com/srg/nuimo/internal/matrix"
	"github.com/srg/nuimo/internal/scanner"
	"github.com/srg/nuimo/internal/testutils"
	"github.com/srg/nuimo/internal/transport/goble"
	"github.com/stretchr/testify/suite"
)

// Test device addresses for consistent mock device identification
const (
	TestDeviceAddress1 = "AA:BB:CC:DD:EE:01"
	TestDeviceAddress2 = "AA:BB:CC:DD:EE:02"
)

// CommandTestSuite runs commands against a mocked Nuimo. Every dial gets
// Client; scans replay ScanDevice.
type CommandTestSuite struct {
	suite.Suite

	Helper     *testutils.TestHelper
	Client     *testutils.ProfileClient
	ScanDevice scanner.Device
	DialErr    error

	root            *cobra.Command
	mu              sync.Mutex
	dialed          []string
	originalDialer  goble.Dialer
	originalFactory func() (scanner.Device, error)
	originalTimeout time.Duration
}

func (s *CommandTestSuite) SetupTest() {
	s.Helper = testutils.NewTestHelper(s.T())
	s.Client = testutils.NewProfileClient(testutils.NewNuimoPeripheral().Build()).
		SetValue(gatt.BatteryLevelCharacteristic, []byte{80})
	s.ScanDevice = testutils.NewScanDevice(false, testutils.NewNuimoAdvertisement(TestDeviceAddress1).Build())
	s.DialErr = nil
	s.dialed = nil

	s.originalDialer = dialer
	dialer = func(ctx context.Context, address string) (goble.Client, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.dialed = append(s.dialed, address)
		if s.DialErr != nil {
			return nil, s.DialErr
		}
		return s.Client, nil
	}

	s.originalFactory = scanner.DeviceFactory
	scanner.DeviceFactory = func() (scanner.Device, error) {
		return s.ScanDevice, nil
	}

	s.originalTimeout = matrixReadyTimeout
	s.root = newTestRoot()
}

func (s *CommandTestSuite) TearDownTest() {
	dialer = s.originalDialer
	scanner.DeviceFactory = s.originalFactory
	matrixReadyTimeout = s.originalTimeout
}

// newTestRoot rebuilds every command's flags and attaches the commands to a
// fresh root so no flag value leaks between tests.
func newTestRoot() *cobra.Command {
	root := &cobra.Command{Use: "nuimo", SilenceErrors: true}
	addGlobalFlags(root)

	for cmd, add := range map[*cobra.Command]func(*cobra.Command){
		scanCmd:     addScanFlags,
		listenCmd:   addListenFlags,
		matricesCmd: addMatricesFlags,
		matrixCmd:   func(c *cobra.Command) { addMatrixFlags(c, &matrixHold) },
		barCmd:      func(c *cobra.Command) { addMatrixFlags(c, &barHold) },
	} {
		cmd.ResetFlags()
		add(cmd)
		cmd.SilenceUsage = false
		root.AddCommand(cmd)
	}
	return root
}

// ExecuteCommand runs the root with args, returns output and error.
func (s *CommandTestSuite) ExecuteCommand(args ...string) (string, error) {
	buf := new(bytes.Buffer)
	s.root.SetOut(buf)
	s.root.SetErr(buf)
	s.root.SetArgs(args)
	err := s.root.Execute()
	return buf.String(), err
}

// Dialed returns the addresses dialed so far.
func (s *CommandTestSuite) Dialed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.dialed...)
}

// MatrixWrites returns the payloads written to the LED matrix characteristic.
func (s *CommandTestSuite) MatrixWrites() [][]byte {
	var payloads [][]byte
	for _, w := range s.Client.Writes() {
		if w.Characteristic.UUID.Equal(gatt.LEDMatrixCharacteristic) {
			payloads = append(payloads, w.Value)
		}
	}
	return payloads
}

// Payload renders a matrix with default settings.
func (s *CommandTestSuite) Payload(bitmap matrix.Bitmap) []byte {
	return bitmap.Encode(matrix.RenderOptions{Brightness: 255})
}

// WriteFile writes content into the test's temp dir and returns its path.
func (s *CommandTestSuite) WriteFile(name, content string) string {
	path := filepath.Join(s.T().TempDir(), name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o600), "temp file MUST be written")
	return path
}

// NotifyOn arranges for data to be notified on uuid right after it is
// subscribed.
func (s *CommandTestSuite) NotifyOn(uuid ble.UUID, data []byte) {
	s.Client.OnSubscribe(func(subscribed ble.UUID) {
		if subscribed.Equal(uuid) {
			s.Client.Notify(uuid, data)
		}
	})
}
