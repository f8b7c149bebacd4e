// Package serialport opens the serial devices on the cell: the robot
// controller link when it is wired over RS-232 and the distance sensor.
package serialport

import (
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"
)

// Port is the minimal surface needed from an open serial device.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the device at path. Tests replace it to avoid hardware.
type Opener func(path string, opts Options) (Port, error)

var standardBaudRates = map[int]bool{
	110: true, 300: true, 600: true, 1200: true, 2400: true, 4800: true,
	9600: true, 14400: true, 19200: true, 28800: true, 38400: true,
	57600: true, 115200: true, 128000: true, 256000: true,
}

// Options describes the line settings used when opening a device.
type Options struct {
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"`
	DataBits int    `json:"data_bits" yaml:"data_bits"`
	StopBits int    `json:"stop_bits" yaml:"stop_bits"`
	Parity   string `json:"parity" yaml:"parity"`
}

// DefaultBaudRate is used when no baud rate is configured.
const DefaultBaudRate = 115200

// Normalise validates the options and fills unset values with defaults.
func (o Options) Normalise() (Options, error) {
	opts := o

	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if !standardBaudRates[opts.BaudRate] {
		return opts, fmt.Errorf("invalid baud rate %d", opts.BaudRate)
	}

	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}

	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	parity := strings.TrimSpace(strings.ToUpper(opts.Parity))
	switch parity {
	case "", "N", "NONE":
		parity = "N"
	case "E", "EVEN":
		parity = "E"
	case "O", "ODD":
		parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	opts.Parity = parity
	return opts, nil
}

// Mode converts the options into the go.bug.st/serial mode.
func (o Options) Mode() (*serial.Mode, error) {
	opts, err := o.Normalise()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	default:
		mode.Parity = serial.NoParity
	}
	return mode, nil
}

// Open opens a real serial device.
func Open(path string, opts Options) (Port, error) {
	mode, err := opts.Mode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", path, err)
	}
	return port, nil
}
