// Package sensor reads the laser distance sensor mounted next to the
// pick and place tool.
package sensor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/clayfab/internal/monitoring"
	"github.com/banshee-data/clayfab/internal/serialport"
)

var ErrNoReading = errors.New("distance sensor returned no reading")

// DefaultTrigger asks the sensor for a single measurement.
const DefaultTrigger = "M"

// DefaultReadTimeout bounds a single reading on ports that support it.
const DefaultReadTimeout = 2 * time.Second

// DistanceSensor returns the distance in millimetres to the surface under
// the sensor.
type DistanceSensor interface {
	Measure(ctx context.Context) (float64, error)
}

// timeoutPort is implemented by go.bug.st/serial ports.
type timeoutPort interface {
	SetReadTimeout(time.Duration) error
}

// Serial is a distance sensor on a serial line. One reading is in flight at
// a time.
type Serial struct {
	mu      sync.Mutex
	port    serialport.Port
	reader  *bufio.Reader
	trigger string
}

// New wraps an open port.
func New(port serialport.Port) *Serial {
	if tp, ok := port.(timeoutPort); ok {
		if err := tp.SetReadTimeout(DefaultReadTimeout); err != nil {
			monitoring.Logf("sensor: could not set read timeout: %v", err)
		}
	}
	return &Serial{port: port, reader: bufio.NewReader(port), trigger: DefaultTrigger}
}

// Open opens the sensor at path. A nil opener opens a real device.
func Open(path string, opts serialport.Options, open serialport.Opener) (*Serial, error) {
	if open == nil {
		open = serialport.Open
	}
	port, err := open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open distance sensor: %w", err)
	}
	return New(port), nil
}

func (s *Serial) Measure(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.port.Write([]byte(s.trigger + "\n")); err != nil {
		return 0, fmt.Errorf("trigger distance sensor: %w", err)
	}
	line, err := s.reader.ReadString('\n')
	if err != nil && line == "" {
		return 0, fmt.Errorf("%w: %v", ErrNoReading, err)
	}
	dist, err := ParseReading(line)
	if err != nil {
		return 0, err
	}
	monitoring.Debugf("sensor: %.2f mm", dist)
	return dist, nil
}

func (s *Serial) Close() error { return s.port.Close() }

// ParseReading extracts the distance from a sensor line such as "123.4",
// "D 123.4" or "123.4 mm".
func ParseReading(line string) (float64, error) {
	for _, field := range strings.Fields(line) {
		field = strings.TrimSuffix(strings.ToLower(field), "mm")
		if v, err := strconv.ParseFloat(field, 64); err == nil {
			return v, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrNoReading, strings.TrimSpace(line))
}

// Dummy always reads Value. It stands in for the sensor when no serial port
// is configured.
type Dummy struct {
	Value float64
}

func (d Dummy) Measure(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	monitoring.Logf("Using dummy value %.2f for measurement since no distance sensor port is specified.", d.Value)
	return d.Value, nil
}
