// Package ds1307 drives the DS1307 real time clock behind the word clock's
// two wire bus. It implements the backing RTC of the soft clock.
package ds1307

import (
	"errors"
	"fmt"

	"golang.org/x/exp/io/i2c"
	"golang.org/x/exp/io/i2c/driver"

	"wordclock/pkg/dcf77"
)

// addr is the fixed I2C address of the device.
const addr = 0x68

// register layout, all values BCD coded
const (
	regSecond  = 0x00
	regMinute  = 0x01
	regHour    = 0x02
	regWeekday = 0x03
	regDay     = 0x04
	regMonth   = 0x05
	regYear    = 0x06
	regControl = 0x07
)

// clockHalt is bit 7 of the seconds register; while set the oscillator is
// stopped and the time is meaningless.
const clockHalt = 0x80

// controlInit disables the square wave output.
const controlInit = 0x00

var ErrClockHalted = errors.New("ds1307: oscillator halted")

// RTC represents an opened DS1307. It satisfies clock.RTC.
type RTC struct {
	conn *i2c.Device
}

// Open opens the device on the given bus, e.g.
// Open(&i2c.Devfs{Dev: "/dev/i2c-1"}). The RTC must be closed when no longer
// used.
func Open(o driver.Opener) (*RTC, error) {
	c, err := i2c.Open(o, addr)
	if err != nil {
		return nil, err
	}
	r := &RTC{conn: c}
	if err := r.conn.WriteReg(regControl, []byte{controlInit}); err != nil {
		r.Close()
		return nil, fmt.Errorf("ds1307 setup: %w", err)
	}
	return r, nil
}

// Close frees the underlying bus handle.
func (r *RTC) Close() error {
	return r.conn.Close()
}

// ReadTime returns the current device time, accurate to the second.
func (r *RTC) ReadTime() (dcf77.Timestamp, error) {
	var buf [regYear + 1]byte
	if err := r.conn.ReadReg(regSecond, buf[:]); err != nil {
		return dcf77.Timestamp{}, err
	}
	if buf[regSecond]&clockHalt != 0 {
		return dcf77.Timestamp{}, ErrClockHalted
	}

	return dcf77.Timestamp{
		Year:    fromBCD(buf[regYear]),
		Month:   fromBCD(buf[regMonth]),
		Day:     fromBCD(buf[regDay]),
		Weekday: fromBCD(buf[regWeekday]),
		Hour:    fromBCD(buf[regHour] & 0x3f),
		Min:     fromBCD(buf[regMinute]),
		Sec:     fromBCD(buf[regSecond] &^ clockHalt),
	}, nil
}

// WriteTime sets the device time. Writing the seconds register also clears
// the clock halt bit, starting the oscillator.
func (r *RTC) WriteTime(ts dcf77.Timestamp) error {
	buf := [regYear + 1]byte{
		regSecond:  toBCD(ts.Sec),
		regMinute:  toBCD(ts.Min),
		regHour:    toBCD(ts.Hour),
		regWeekday: toBCD(ts.Weekday),
		regDay:     toBCD(ts.Day),
		regMonth:   toBCD(ts.Month),
		regYear:    toBCD(ts.Year),
	}
	return r.conn.WriteReg(regSecond, buf[:])
}

func fromBCD(x byte) int {
	return int(x) - 6*(int(x)>>4)
}

func toBCD(x int) byte {
	return byte(x/10*16 + x%10)
}
