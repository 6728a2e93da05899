// Package raspberry is the access layer to the gpio ports of the receiver.
//
// Two hardware drivers are supported, selected by name:
//   - "gpiomem":  memory mapped access via /dev/gpiomem
//   - "gpiochip": the gpio character device (/dev/gpiochip0)
//
// The "fake" driver replays scripted levels and is used by tests and on
// systems without gpio hardware.
package raspberry

import (
	"fmt"

	"wordclock/pkg/port"
)

var ErrInvalidDriver = fmt.Errorf("invalid gpio driver")

// GPIO represents an opened gpio device.
type GPIO interface {
	// NewPin requests control of a single input pin (BCM numbering).
	// If granted, control is maintained until the Pin is closed.
	NewPin(gpio int) (Pin, error)
	// Close releases the device. It does not release requested pins,
	// they must be closed independently.
	Close() error
}

// Pin represents a single requested input line.
type Pin interface {
	// Read samples the current level of the line.
	Read() (port.Level, error)
	// SetPullUp enables or disables the internal pull-up resistor.
	SetPullUp(enabled bool) error
	// Pin returns the BCM number this Pin represents.
	Pin() int
	// Close releases all resources held by the requested line.
	Close() error
}

// Open opens the gpio device of the given driver.
func Open(driver string) (GPIO, error) {
	switch driver {
	case "gpiomem":
		return openMem()
	case "gpiochip":
		return openChip()
	case "fake":
		return NewFake(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, driver)
}
