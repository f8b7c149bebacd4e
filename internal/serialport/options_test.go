package serialport

import (
	"testing"

	"go.bug.st/serial"
)

func TestOptions_Normalise_Defaults(t *testing.T) {
	got, err := Options{}.Normalise()
	if err != nil {
		t.Fatalf("Normalise() error = %v", err)
	}
	if got.BaudRate != DefaultBaudRate {
		t.Errorf("BaudRate = %d, want %d", got.BaudRate, DefaultBaudRate)
	}
	if got.DataBits != 8 {
		t.Errorf("DataBits = %d, want 8", got.DataBits)
	}
	if got.StopBits != 1 {
		t.Errorf("StopBits = %d, want 1", got.StopBits)
	}
	if got.Parity != "N" {
		t.Errorf("Parity = %q, want %q", got.Parity, "N")
	}
}

func TestOptions_Normalise_Invalid(t *testing.T) {
	cases := []struct {
		name string
		opts Options
	}{
		{"baud", Options{BaudRate: 12345}},
		{"data bits", Options{DataBits: 9}},
		{"stop bits", Options{StopBits: 3}},
		{"parity", Options{Parity: "mark"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tc.opts.Normalise(); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestOptions_Normalise_ParityAliases(t *testing.T) {
	for in, want := range map[string]string{"none": "N", " even ": "E", "o": "O"} {
		got, err := Options{Parity: in}.Normalise()
		if err != nil {
			t.Fatalf("Normalise(%q) error = %v", in, err)
		}
		if got.Parity != want {
			t.Errorf("Normalise(%q).Parity = %q, want %q", in, got.Parity, want)
		}
	}
}

func TestOptions_Mode(t *testing.T) {
	mode, err := Options{BaudRate: 9600, StopBits: 2, Parity: "E"}.Mode()
	if err != nil {
		t.Fatalf("Mode() error = %v", err)
	}
	if mode.BaudRate != 9600 {
		t.Errorf("BaudRate = %d, want 9600", mode.BaudRate)
	}
	if mode.StopBits != serial.TwoStopBits {
		t.Errorf("StopBits = %v, want TwoStopBits", mode.StopBits)
	}
	if mode.Parity != serial.EvenParity {
		t.Errorf("Parity = %v, want EvenParity", mode.Parity)
	}

	mode, err = Options{}.Mode()
	if err != nil {
		t.Fatalf("Mode() error = %v", err)
	}
	if mode.StopBits != serial.OneStopBit {
		t.Errorf("default StopBits = %v, want OneStopBit", mode.StopBits)
	}
}
