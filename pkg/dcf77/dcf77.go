// Package dcf77 decodes the DCF77 longwave time signal from a receiver
// attached to a gpio pin.
//
// The line is sampled at 100 Hz. The transmitter lowers the carrier once per
// second for 100 ms (binary 0) or 200 ms (binary 1) and skips the 59th pulse
// to mark the minute boundary. The decoder measures the gap between pulses in
// 10 ms ticks, accumulates the 59 bits of a minute frame, checks the three
// even-parity groups and only trusts a frame once two consecutive minutes
// decode to arithmetically consecutive times.
package dcf77

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/womat/debug"

	"wordclock/pkg/port"
	"wordclock/pkg/raspberry"
)

const (
	// SampleRate is the line sampling frequency.
	SampleRate = 100
	// samplePeriod is the tick interval of the sampling loop.
	samplePeriod = time.Second / SampleRate

	// pause durations in 10 ms ticks
	spikeMax      = 6   // anything shorter is electrical noise
	bitPauseMin   = 78  // 780..950 ms gap: a regular data bit
	bitPauseMax   = 95
	onePauseMax   = 86  // gap short enough to imply a 200 ms pulse (binary 1)
	minutePause   = 170 // gap spanning the skipped 59th second
	minuteOnePast = 187 // below this the bit before the minute mark was a 1

	// the first 21 bits carry civil/weather data and are not decoded
	lastIgnoredBit = 20

	// frame layout
	parityMinuteBit = 28
	parityHourBit   = 35
	lastFrameBit    = 58
)

var (
	framesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dcf77_frames_total",
		Help: "count of cross-validated dcf77 frames",
	})
	resetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dcf77_decoder_resets_total",
		Help: "count of full decoder resets caused by protocol violations",
	})
	parityErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dcf77_parity_errors_total",
		Help: "count of frames rejected by a parity check",
	})
)

// Polarity is the electrical orientation of the receiver output.
type Polarity int

const (
	// PolarityUnknown means the receiver has not been calibrated yet.
	PolarityUnknown Polarity = iota
	// HighActive receivers pull the line high while the carrier is reduced.
	HighActive
	// LowActive receivers pull the line low while the carrier is reduced.
	LowActive
)

func (p Polarity) String() string {
	switch p {
	case HighActive:
		return "high active"
	case LowActive:
		return "low active"
	}
	return "unknown"
}

// Timestamp is a decoded, validated wall clock time.
type Timestamp struct {
	Year    int `json:"year"` // 0..99, offset from 2000
	Month   int `json:"month"`
	Day     int `json:"day"`
	Weekday int `json:"weekday"` // 1..7, Monday = 1
	Hour    int `json:"hour"`
	Min     int `json:"min"`
	Sec     int `json:"sec"`
}

// Time converts the timestamp to a time.Time in the local zone.
func (t Timestamp) Time() time.Time {
	return time.Date(2000+t.Year, time.Month(t.Month), t.Day, t.Hour, t.Min, t.Sec, 0, time.Local)
}

// FromTime converts a time.Time to a Timestamp.
func FromTime(t time.Time) Timestamp {
	wd := int(t.Weekday())
	if wd == 0 {
		wd = 7
	}
	return Timestamp{
		Year:    t.Year() % 100,
		Month:   int(t.Month()),
		Day:     t.Day(),
		Weekday: wd,
		Hour:    t.Hour(),
		Min:     t.Minute(),
		Sec:     t.Second(),
	}
}

// MinuteOfDay returns hour*60+minute (0..1439).
func (t Timestamp) MinuteOfDay() int {
	return t.Hour*60 + t.Min
}

// bcdWeight is the contribution of each broadcast bit within a field.
var bcdWeight = [8]int{1, 2, 4, 8, 10, 20, 40, 80}

// field indices of frameState.fields
const (
	fieldMinute = iota
	fieldHour
	fieldDay
	fieldWeekday
	fieldMonth
	fieldYear
	fieldCount
)

// frameState is the accumulator for the minute frame currently on air.
// It is owned exclusively by the decoder tick.
type frameState struct {
	// bitCounter is the position within the 59 bit frame.
	bitCounter int
	// pauseCounter measures the gap since the last falling edge in ticks.
	pauseCounter int
	// parity counts set bits; it is never cleared within a frame, so an
	// even count at bits 28, 35 and at the minute mark implies even parity
	// of each group.
	parity int
	// bcdShifter indexes bcdWeight for the next bit of the open field.
	bcdShifter int
	// fieldIndex selects the field currently being accumulated.
	fieldIndex int
	// fields holds the raw BCD-decoded values.
	fields [fieldCount]int

	// lastMinuteOfDay is the minute-of-day of the previous internally
	// accepted frame, -1 before the first one. The reference firmware kept
	// this in 8 bit arithmetic, so minute-of-day 271 could falsely confirm
	// minute-of-day 15 after wraparound; the comparison here covers the
	// full 0..1439 range.
	lastMinuteOfDay int
}

// Decoder samples the receiver pin and emits validated timestamps.
type Decoder struct {
	// C delivers one Timestamp per cross-validated minute. At most one
	// timestamp is pending; an unconsumed one is dropped.
	C chan Timestamp

	pin      raspberry.Pin
	polarity Polarity
	cal      *calibrator

	frame   frameState
	present bool

	// enabled gates reception; the soft clock re-enables it every hour.
	enabled int32
	// unavailable is set when calibration gave up on the receiver.
	unavailable bool

	quit chan struct{}
	done chan struct{}
}

// New creates a decoder for the given receiver pin and starts sampling.
// With PolarityUnknown the receiver is calibrated first (see calibrate.go);
// a known polarity skips calibration.
func New(pin raspberry.Pin, polarity Polarity) *Decoder {
	d := newDecoder(pin, polarity)

	go d.run()
	return d
}

// newDecoder builds the decoder without starting the sampling loop.
func newDecoder(pin raspberry.Pin, polarity Polarity) *Decoder {
	d := &Decoder{
		C:        make(chan Timestamp, 1),
		pin:      pin,
		polarity: polarity,
		enabled:  1,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	d.frame.lastMinuteOfDay = -1

	if polarity == PolarityUnknown {
		d.cal = newCalibrator(pin)
		debug.InfoLog.Print("dcf77 receiver calibration started")
	} else {
		debug.InfoLog.Printf("dcf77 receiver polarity fixed: %v", polarity)
	}

	return d
}

// Close stops the sampling loop.
func (d *Decoder) Close() error {
	d.quit <- struct{}{}
	<-d.done
	close(d.C)
	return nil
}

// Enable re-arms reception. Called by the soft clock at hour boundaries.
func (d *Decoder) Enable() {
	if atomic.SwapInt32(&d.enabled, 1) == 0 {
		debug.DebugLog.Print("dcf77 reception enabled")
	}
}

// Disable pauses reception without losing calibration.
func (d *Decoder) Disable() {
	if atomic.SwapInt32(&d.enabled, 0) == 1 {
		debug.DebugLog.Print("dcf77 reception disabled")
	}
}

// Available reports whether the receiver produced a usable signal during
// calibration.
func (d *Decoder) Available() bool {
	return !d.unavailable
}

// Enabled reports whether reception is currently active.
func (d *Decoder) Enabled() bool {
	return atomic.LoadInt32(&d.enabled) == 1
}

// Polarity returns the active polarity, PolarityUnknown while calibration is
// still running.
func (d *Decoder) Polarity() Polarity {
	return d.polarity
}

// run drives Tick at the sample rate until Close is called.
func (d *Decoder) run() {
	t := time.NewTicker(samplePeriod)
	defer t.Stop()

	for {
		select {
		case <-d.quit:
			d.done <- struct{}{}
			return
		case <-t.C:
			d.Tick()
		}
	}
}

// Tick processes one 10 ms sample. It is branch-only and must never block;
// the per-minute finalization is a fixed number of comparisons.
func (d *Decoder) Tick() {
	if d.cal != nil && !d.cal.done {
		raw, err := d.pin.Read()
		if err != nil {
			debug.ErrorLog.Printf("dcf77 pin read: %v", err)
			return
		}

		d.cal.sample(raw)
		if d.cal.done {
			if d.cal.unavailable {
				d.unavailable = true
				debug.ErrorLog.Print("dcf77 receiver unavailable, reception bypassed")
			} else {
				d.polarity = d.cal.polarity
				debug.InfoLog.Printf("dcf77 receiver calibrated: %v, pull-up %v", d.polarity, d.cal.pullup)
			}
		}
		return
	}

	if d.unavailable || atomic.LoadInt32(&d.enabled) == 0 {
		return
	}

	raw, err := d.pin.Read()
	if err != nil {
		debug.ErrorLog.Printf("dcf77 pin read: %v", err)
		return
	}

	present := (raw == port.High) == (d.polarity == HighActive)
	if present {
		d.present = true
		return
	}

	if d.present {
		// falling edge: the pulse just ended, classify the gap before it
		d.present = false
		if ts, ok := d.check(); ok {
			select {
			case d.C <- ts:
			default:
				debug.DebugLog.Print("dcf77 timestamp dropped, consumer busy")
			}
		}
	}
	d.frame.pauseCounter++
}

// check classifies the accumulated pause at a falling edge. The checks are
// ordered and the first match wins; a duration between the recognized bands
// changes nothing, the pause keeps accumulating until it either lands in a
// band or trips the violation check.
func (d *Decoder) check() (Timestamp, bool) {
	f := &d.frame

	switch {
	case f.pauseCounter <= spikeMax:
		// sub-60 ms glitch, absorb silently
		f.pauseCounter = 0

	case (f.pauseCounter >= minutePause && f.bitCounter != lastFrameBit) || f.bitCounter > lastFrameBit:
		debug.TraceLog.Printf("dcf77 protocol violation at bit %d, pause %d", f.bitCounter, f.pauseCounter)
		resetsTotal.Inc()
		d.resetFrame()

	case f.bitCounter <= lastIgnoredBit:
		// received but deliberately not decoded
		f.bitCounter++
		f.pauseCounter = 0

	case f.pauseCounter >= bitPauseMin && f.pauseCounter <= bitPauseMax:
		d.dataBit()

	case f.pauseCounter >= minutePause:
		return d.minuteMark()
	}

	return Timestamp{}, false
}

// dataBit consumes one regular data bit.
func (d *Decoder) dataBit() {
	f := &d.frame

	if f.pauseCounter <= onePauseMax {
		// short gap, so the preceding pulse was long: binary 1
		f.parity++
		if f.bitCounter != parityMinuteBit && f.bitCounter != parityHourBit {
			f.fields[f.fieldIndex] += bcdWeight[f.bcdShifter]
		}
	}
	f.bcdShifter++

	if (f.bitCounter == parityMinuteBit || f.bitCounter == parityHourBit) && f.parity%2 != 0 {
		debug.TraceLog.Printf("dcf77 parity error at bit %d", f.bitCounter)
		parityErrorsTotal.Inc()
		d.resetFrame()
		return
	}

	switch f.bitCounter {
	case parityMinuteBit, parityHourBit, 41, 44, 49:
		f.fieldIndex++
		f.bcdShifter = 0
	}

	f.bitCounter++
	f.pauseCounter = 0
}

// minuteMark finalizes the frame at the skipped 59th second. Bit 58, the
// whole-frame parity bit, is folded into the gap measurement: a gap below
// 1870 ms means its pulse was long.
func (d *Decoder) minuteMark() (Timestamp, bool) {
	f := &d.frame

	if f.pauseCounter < minuteOnePast {
		f.parity++
	}

	if f.parity%2 != 0 {
		debug.TraceLog.Print("dcf77 parity error at minute mark")
		parityErrorsTotal.Inc()
		d.resetFrame()
		return Timestamp{}, false
	}

	newMinute := f.fields[fieldMinute] + f.fields[fieldHour]*60
	confirmed := f.lastMinuteOfDay >= 0 && newMinute == f.lastMinuteOfDay+1

	ts := Timestamp{
		Year:    f.fields[fieldYear],
		Month:   f.fields[fieldMonth],
		Day:     f.fields[fieldDay],
		Weekday: f.fields[fieldWeekday],
		Hour:    f.fields[fieldHour],
		Min:     f.fields[fieldMinute],
	}

	f.lastMinuteOfDay = newMinute
	d.resetFrame()

	if !confirmed {
		// first of a pair, wait for the confirming minute
		debug.DebugLog.Printf("dcf77 candidate frame %02d:%02d, waiting for confirmation", ts.Hour, ts.Min)
		return Timestamp{}, false
	}

	framesTotal.Inc()
	debug.InfoLog.Printf("dcf77 time received: %02d:%02d 20%02d-%02d-%02d", ts.Hour, ts.Min, ts.Year, ts.Month, ts.Day)
	return ts, true
}

// resetFrame clears the frame accumulator. The last accepted minute survives,
// a later frame may still chain to it.
func (d *Decoder) resetFrame() {
	last := d.frame.lastMinuteOfDay
	d.frame = frameState{lastMinuteOfDay: last}
}
