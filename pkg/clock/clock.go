// Package clock maintains the wall clock time of the word clock.
//
// A 1 Hz tick increments a soft second counter; the main-loop handler turns
// that into wall clock time by synthesizing from the last known base time and
// periodically resynchronizing against the backing RTC device. The crystal
// driving the tick may run fast or slow, so the resync cadence corrects
// itself: a soft clock observed running ahead gets its next resync moved
// forward by the overrun, which keeps minute boundary events accurate without
// hammering the I2C bus.
package clock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/womat/debug"

	"wordclock/pkg/dcf77"
)

// DefaultResyncInterval is the nominal RTC resync interval in seconds.
const DefaultResyncInterval = 15

// handlePeriod is the polling interval of the main-loop handler.
const handlePeriod = 100 * time.Millisecond

var (
	resyncsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "softclock_resyncs_total",
		Help: "count of successful rtc resynchronizations",
	})
	rtcErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "softclock_rtc_errors_total",
		Help: "count of failed rtc reads",
	})
	driftSeconds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "softclock_drift_seconds",
		Help: "soft clock seconds ahead of the rtc at the last resync",
	})
)

// RTC is the backing real time clock device.
type RTC interface {
	ReadTime() (dcf77.Timestamp, error)
	WriteTime(dcf77.Timestamp) error
}

// SoftClock counts soft seconds and keeps them honest against an RTC.
//
// Tick is safe to call from any goroutine; Handle and SetTime serialize on an
// internal mutex, so the handler loop and a concurrent time source (the DCF77
// consumer) cannot tear the clock state.
type SoftClock struct {
	// C delivers one Timestamp per minute boundary. At most one event is
	// pending; an unconsumed one is dropped.
	C chan dcf77.Timestamp

	rtc      RTC
	interval uint32
	// onHour is invoked at hour boundaries to re-arm DCF77 reception.
	onHour func()

	// ticks is the soft second counter, incremented by Tick only.
	ticks uint32

	// mu guards the clock state below against concurrent Handle/SetTime.
	mu         sync.Mutex
	handled    uint32
	base       dcf77.Timestamp
	baseTick   uint32
	synced     bool
	nextResync uint32
	lastMinute int
	lastHour   int

	quit chan struct{}
	done chan struct{}
}

// New creates a soft clock backed by the given RTC. interval is the nominal
// resync interval in seconds (0 selects the default). onHour may be nil.
func New(rtc RTC, interval int, onHour func()) *SoftClock {
	if interval <= 0 {
		interval = DefaultResyncInterval
	}
	return &SoftClock{
		C:          make(chan dcf77.Timestamp, 1),
		rtc:        rtc,
		interval:   uint32(interval),
		onHour:     onHour,
		lastMinute: -1,
		lastHour:   -1,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the tick and handler loops.
func (c *SoftClock) Start() {
	go c.run()
}

// Close stops the loops.
func (c *SoftClock) Close() error {
	c.quit <- struct{}{}
	<-c.done
	close(c.C)
	return nil
}

func (c *SoftClock) run() {
	second := time.NewTicker(time.Second)
	handle := time.NewTicker(handlePeriod)
	defer second.Stop()
	defer handle.Stop()

	for {
		select {
		case <-c.quit:
			c.done <- struct{}{}
			return
		case <-second.C:
			c.Tick()
		case <-handle.C:
			c.Handle()
		}
	}
}

// Tick advances the soft second counter. It stands in for the 1 Hz timer
// interrupt and does nothing else.
func (c *SoftClock) Tick() {
	atomic.AddUint32(&c.ticks, 1)
}

// Handle runs the per-second work outside the tick path: synthesize the
// current time, resync against the RTC when due and emit minute events.
func (c *SoftClock) Handle() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := atomic.LoadUint32(&c.ticks)
	if now == c.handled {
		return
	}
	c.handled = now

	if !c.synced {
		if now >= c.nextResync {
			c.resync(now)
			if c.synced {
				c.observe(c.base)
			}
		}
		return
	}

	var cur dcf77.Timestamp
	if now >= c.nextResync {
		if !c.resync(now) {
			// dropped cycle, the next deadline retries
			return
		}
		cur = c.base
	} else {
		cur = addSeconds(c.base, now-c.baseTick)
	}

	c.observe(cur)
}

// SetTime installs an authoritative time, typically a validated DCF77 frame:
// the RTC is rewritten and the soft clock rebased.
func (c *SoftClock) SetTime(ts dcf77.Timestamp) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.rtc.WriteTime(ts); err != nil {
		return err
	}

	now := atomic.LoadUint32(&c.ticks)
	c.base = ts
	c.baseTick = now
	c.synced = true
	c.nextResync = now + c.interval

	debug.InfoLog.Printf("clock set to %02d:%02d:%02d", ts.Hour, ts.Min, ts.Sec)
	c.observe(ts)
	return nil
}

// resync reads the RTC, measures the drift of the soft clock and re-arms the
// deadline. Reports whether a time was obtained.
func (c *SoftClock) resync(now uint32) bool {
	ts, err := c.rtc.ReadTime()
	if err != nil {
		debug.ErrorLog.Printf("rtc read: %v", err)
		rtcErrorsTotal.Inc()
		c.nextResync = now + c.interval
		return false
	}

	interval := c.interval
	if c.synced {
		predicted := addSeconds(c.base, now-c.baseTick)
		overrun := int(predicted.Time().Sub(ts.Time()) / time.Second)
		driftSeconds.Set(float64(overrun))

		// soft clock too fast: resync earlier by exactly the overrun
		if overrun > 0 {
			if uint32(overrun) >= interval {
				interval = 1
			} else {
				interval -= uint32(overrun)
			}
			debug.DebugLog.Printf("soft clock %ds ahead, next resync in %ds", overrun, interval)
		}
	}

	c.base = ts
	c.baseTick = now
	c.synced = true
	c.nextResync = now + interval
	resyncsTotal.Inc()
	return true
}

// observe emits minute events and fires the hour hook.
func (c *SoftClock) observe(cur dcf77.Timestamp) {
	if cur.MinuteOfDay() == c.lastMinute {
		return
	}

	hourChanged := c.lastHour >= 0 && cur.Hour != c.lastHour
	c.lastMinute = cur.MinuteOfDay()
	c.lastHour = cur.Hour

	select {
	case c.C <- cur:
	default:
		debug.DebugLog.Print("minute event dropped, consumer busy")
	}

	if hourChanged && c.onHour != nil {
		c.onHour()
	}
}

func addSeconds(ts dcf77.Timestamp, s uint32) dcf77.Timestamp {
	return dcf77.FromTime(ts.Time().Add(time.Duration(s) * time.Second))
}

// SystemRTC backs the soft clock with the host system clock. It is used when
// no I2C device is configured (development machines, tests).
type SystemRTC struct{}

func (SystemRTC) ReadTime() (dcf77.Timestamp, error) {
	return dcf77.FromTime(time.Now()), nil
}

// WriteTime does not touch the host clock; the received time is only logged.
func (SystemRTC) WriteTime(ts dcf77.Timestamp) error {
	debug.InfoLog.Printf("system clock left alone, received %02d:%02d:%02d", ts.Hour, ts.Min, ts.Sec)
	return nil
}
