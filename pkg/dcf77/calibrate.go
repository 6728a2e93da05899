package dcf77

import (
	"github.com/womat/debug"

	"wordclock/pkg/port"
	"wordclock/pkg/raspberry"
)

// The receiver module can be wired high active or low active and may or may
// not need the internal pull-up. Neither is known at power-up, so the decoder
// first watches the raw line: the carrier is reduced for only 100..200 ms per
// second, so the dominant level of a one second window is the idle level and
// the pulses sit on the other one. A window where only one level shows up
// means the line is floating or stuck; after enough of those the pull-up is
// toggled and the vote restarts.

const (
	// calWindow is one voting window, in samples (~1 s at 100 Hz).
	calWindow = 100
	// calFlatLimit is the number of flat windows before the pull-up is toggled.
	calFlatLimit = 20
	// calSwitchLimit is the number of pull-up toggles before giving up.
	calSwitchLimit = 30
	// calHintLimit is the number of consistent windows needed to lock the
	// polarity hypothesis.
	calHintLimit = 30
)

// calibrator determines the receiver polarity once at startup.
type calibrator struct {
	pin raspberry.Pin

	countHigh int
	countLow  int

	// flatPasses counts windows without any level change.
	flatPasses int
	// hintPasses counts windows consistent with the current hypothesis.
	hintPasses int
	// switches counts pull-up toggles.
	switches int

	pullup     bool
	hypothesis Polarity

	// results, valid once done is set
	polarity    Polarity
	unavailable bool
	done        bool
}

func newCalibrator(pin raspberry.Pin) *calibrator {
	return &calibrator{pin: pin}
}

// sample consumes one 10 ms tick of the raw line.
func (c *calibrator) sample(l port.Level) {
	if l == port.High {
		c.countHigh++
	} else {
		c.countLow++
	}

	if c.countHigh+c.countLow < calWindow {
		return
	}

	if c.countHigh == 0 || c.countLow == 0 {
		c.flatPasses++
		if c.flatPasses >= calFlatLimit {
			c.flatPasses = 0
			c.pullup = !c.pullup
			c.switches++
			debug.DebugLog.Printf("dcf77 line flat, toggling pull-up to %v (switch %d)", c.pullup, c.switches)

			if err := c.pin.SetPullUp(c.pullup); err != nil {
				debug.ErrorLog.Printf("dcf77 pull-up: %v", err)
			}

			if c.switches >= calSwitchLimit {
				c.unavailable = true
				c.done = true
			}
		}
	} else {
		c.hintPasses++
		if c.hintPasses >= calHintLimit {
			c.polarity = c.hypothesis
			c.done = true
		} else {
			// the dominant level is the idle level
			implied := HighActive
			if c.countHigh > c.countLow {
				implied = LowActive
			}
			if implied != c.hypothesis {
				c.hypothesis = implied
				c.hintPasses = 0
			}
		}
	}

	c.countHigh, c.countLow = 0, 0
}
