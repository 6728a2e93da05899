//go:build linux
// +build linux

package raspberry

import (
	"fmt"

	"github.com/warthog618/gpio"
	"github.com/warthog618/gpiod"

	"wordclock/pkg/port"
)

// memGPIO drives pins via the memory mapped gpio registers (/dev/gpiomem).
// Reads are cheap enough for the 100 Hz sampling loop.
type memGPIO struct {
	pins map[int]*memPin
}

type memPin struct {
	gpioPin *gpio.Pin
}

func openMem() (GPIO, error) {
	if err := gpio.Open(); err != nil {
		return nil, err
	}
	return &memGPIO{pins: map[int]*memPin{}}, nil
}

func (c *memGPIO) NewPin(p int) (Pin, error) {
	if _, ok := c.pins[p]; ok {
		return nil, fmt.Errorf("pin %v already used", p)
	}

	pin := &memPin{gpioPin: gpio.NewPin(p)}
	pin.gpioPin.Input()
	c.pins[p] = pin
	return pin, nil
}

func (c *memGPIO) Close() error {
	return gpio.Close()
}

func (p *memPin) Read() (port.Level, error) {
	if p.gpioPin.Read() {
		return port.High, nil
	}
	return port.Low, nil
}

func (p *memPin) SetPullUp(enabled bool) error {
	if enabled {
		p.gpioPin.PullUp()
	} else {
		p.gpioPin.PullNone()
	}
	return nil
}

func (p *memPin) Pin() int {
	return p.gpioPin.Pin()
}

func (p *memPin) Close() error {
	p.gpioPin.PullNone()
	return nil
}

// chipGPIO drives pins via the gpio character device. Changing the bias at
// runtime needs a kernel with line reconfiguration support (5.5+).
type chipGPIO struct {
	gpiodChip *gpiod.Chip
}

type chipPin struct {
	gpiodLine *gpiod.Line
	gpio      int
}

func openChip() (GPIO, error) {
	c, err := gpiod.NewChip("gpiochip0")
	if err != nil {
		return nil, err
	}
	return &chipGPIO{gpiodChip: c}, nil
}

func (c *chipGPIO) NewPin(p int) (Pin, error) {
	l, err := c.gpiodChip.RequestLine(p, gpiod.AsInput, gpiod.WithBiasDisabled)
	if err != nil {
		return nil, err
	}
	return &chipPin{gpiodLine: l, gpio: p}, nil
}

func (c *chipGPIO) Close() error {
	return c.gpiodChip.Close()
}

func (p *chipPin) Read() (port.Level, error) {
	v, err := p.gpiodLine.Value()
	if err != nil {
		return port.Low, err
	}
	if v != 0 {
		return port.High, nil
	}
	return port.Low, nil
}

func (p *chipPin) SetPullUp(enabled bool) error {
	if enabled {
		return p.gpiodLine.Reconfigure(gpiod.WithPullUp)
	}
	return p.gpiodLine.Reconfigure(gpiod.WithBiasDisabled)
}

func (p *chipPin) Pin() int {
	return p.gpio
}

func (p *chipPin) Close() error {
	return p.gpiodLine.Close()
}
