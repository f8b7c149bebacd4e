package rrc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"time"

	"github.com/banshee-data/clayfab/internal/serialport"
)

var ErrUnsupportedAddress = errors.New("controller address must be tcp://host:port or serial:///dev/path")

// DialOptions configures how Dial reaches the controller.
type DialOptions struct {
	Serial      serialport.Options
	OpenSerial  serialport.Opener
	DialTimeout time.Duration
}

// Dial opens the controller connection named by address.
func Dial(ctx context.Context, address string, opts DialOptions) (io.ReadWriteCloser, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedAddress, err)
	}

	switch u.Scheme {
	case "tcp":
		if u.Host == "" {
			return nil, fmt.Errorf("%w: missing host in %q", ErrUnsupportedAddress, address)
		}
		d := net.Dialer{Timeout: opts.DialTimeout}
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, fmt.Errorf("dial controller %s: %w", u.Host, err)
		}
		return conn, nil

	case "serial":
		if u.Path == "" {
			return nil, fmt.Errorf("%w: missing device in %q", ErrUnsupportedAddress, address)
		}
		open := opts.OpenSerial
		if open == nil {
			open = serialport.Open
		}
		port, err := open(u.Path, opts.Serial)
		if err != nil {
			return nil, err
		}
		return port, nil
	}
	return nil, fmt.Errorf("%w: got %q", ErrUnsupportedAddress, address)
}
