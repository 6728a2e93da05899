//go:build !linux
// +build !linux

package raspberry

import "fmt"

// The hardware drivers need the Linux gpio devices; elsewhere only the fake
// driver is available.

func openMem() (GPIO, error) {
	return nil, fmt.Errorf("gpiomem driver not supported on this platform")
}

func openChip() (GPIO, error) {
	return nil, fmt.Errorf("gpiochip driver not supported on this platform")
}
