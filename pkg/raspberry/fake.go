package raspberry

import (
	"sync"

	"wordclock/pkg/port"
)

// Fake is a gpio test double that replays scripted line levels.
type Fake struct {
	pins map[int]*FakePin
}

// FakePin replays scripted levels; each Read consumes the next sample.
// When the script is exhausted the last level is returned repeatedly.
type FakePin struct {
	mu sync.Mutex

	// Levels is the scripted sequence of samples.
	Levels []port.Level
	// PullUp mirrors the last SetPullUp call.
	PullUp bool
	// PullUpToggles counts SetPullUp state changes.
	PullUpToggles int
	// ReadErr, if set, is returned by Read.
	ReadErr error

	gpio   int
	index  int
	closed bool
}

// NewFake creates a fake gpio device.
func NewFake() *Fake {
	return &Fake{pins: map[int]*FakePin{}}
}

func (f *Fake) NewPin(gpio int) (Pin, error) {
	p := &FakePin{gpio: gpio}
	f.pins[gpio] = p
	return p, nil
}

// FakePin returns the requested pin so tests can script it.
func (f *Fake) FakePin(gpio int) *FakePin {
	return f.pins[gpio]
}

func (f *Fake) Close() error {
	return nil
}

// Script replaces the scripted samples and restarts replay.
func (p *FakePin) Script(levels []port.Level) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Levels = levels
	p.index = 0
}

func (p *FakePin) Read() (port.Level, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ReadErr != nil {
		return port.Low, p.ReadErr
	}
	if len(p.Levels) == 0 {
		return port.Low, nil
	}

	l := p.Levels[p.index]
	if p.index < len(p.Levels)-1 {
		p.index++
	}
	return l, nil
}

func (p *FakePin) SetPullUp(enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.PullUp != enabled {
		p.PullUpToggles++
	}
	p.PullUp = enabled
	return nil
}

func (p *FakePin) Pin() int {
	return p.gpio
}

func (p *FakePin) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
