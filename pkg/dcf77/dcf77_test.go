package dcf77

import (
	"testing"

	"wordclock/pkg/port"
	"wordclock/pkg/raspberry"
)

// bcdBits encodes v into n broadcast bits (units nibble first, then tens).
func bcdBits(v, n int) []int {
	bits := make([]int, n)
	for i := 0; i < n; i++ {
		if i < 4 {
			bits[i] = (v % 10 >> i) & 1
		} else {
			bits[i] = (v / 10 >> (i - 4)) & 1
		}
	}
	return bits
}

func parity(bits []int) int {
	p := 0
	for _, b := range bits {
		p ^= b
	}
	return p
}

// encodeFrame builds the 59 bit values of one DCF77 minute frame.
func encodeFrame(ts Timestamp) []int {
	frame := make([]int, 0, 59)
	frame = append(frame, make([]int, 21)...) // civil/weather bits, not decoded

	min := bcdBits(ts.Min, 7)
	frame = append(frame, min...)
	frame = append(frame, parity(min))

	hour := bcdBits(ts.Hour, 6)
	frame = append(frame, hour...)
	frame = append(frame, parity(hour))

	date := make([]int, 0, 22)
	date = append(date, bcdBits(ts.Day, 6)...)
	date = append(date, bcdBits(ts.Weekday, 3)...)
	date = append(date, bcdBits(ts.Month, 5)...)
	date = append(date, bcdBits(ts.Year, 8)...)
	frame = append(frame, date...)
	frame = append(frame, parity(date))

	return frame
}

// frameLevels renders a frame as 100 Hz line samples, high active:
// one second per bit (100 ms pulse for 0, 200 ms for 1) plus the silent
// 59th second marking the minute.
func frameLevels(frame []int) []port.Level {
	var levels []port.Level
	for _, b := range frame {
		pulse := 10
		if b == 1 {
			pulse = 20
		}
		for i := 0; i < pulse; i++ {
			levels = append(levels, port.High)
		}
		for i := 0; i < 100-pulse; i++ {
			levels = append(levels, port.Low)
		}
	}
	for i := 0; i < 100; i++ {
		levels = append(levels, port.Low)
	}
	return levels
}

func silence(ticks int) []port.Level {
	return make([]port.Level, ticks) // zero value is port.Low
}

func pulse(ticks int) []port.Level {
	p := make([]port.Level, ticks)
	for i := range p {
		p[i] = port.High
	}
	return p
}

// feed runs the decoder over the scripted levels and collects emissions.
func feed(t *testing.T, d *Decoder, levels []port.Level, pin *raspberry.FakePin) []Timestamp {
	t.Helper()

	pin.Script(levels)
	var out []Timestamp
	for range levels {
		d.Tick()
		select {
		case ts := <-d.C:
			out = append(out, ts)
		default:
		}
	}
	return out
}

func testPin(t *testing.T) *raspberry.FakePin {
	t.Helper()

	gpio := raspberry.NewFake()
	if _, err := gpio.NewPin(27); err != nil {
		t.Fatalf("new pin: %v", err)
	}
	return gpio.FakePin(27)
}

func TestTwoConsecutiveMinutes(t *testing.T) {
	first := Timestamp{Year: 22, Month: 4, Day: 2, Weekday: 6, Hour: 13, Min: 37}
	second := Timestamp{Year: 22, Month: 4, Day: 2, Weekday: 6, Hour: 13, Min: 38}

	pin := testPin(t)
	d := newDecoder(pin, HighActive)

	// first frame alone must not produce a timestamp
	script := append(silence(200), frameLevels(encodeFrame(first))...)
	script = append(script, pulse(10)...)
	if got := feed(t, d, script, pin); len(got) != 0 {
		t.Fatalf("after one frame: got %d timestamps, want 0", len(got))
	}

	// the confirming minute produces exactly one
	script = append(frameLevels(encodeFrame(second))[10:], pulse(10)...)
	script = append(script, silence(50)...)
	got := feed(t, d, script, pin)
	if len(got) != 1 {
		t.Fatalf("after confirming frame: got %d timestamps, want 1", len(got))
	}
	if got[0] != second {
		t.Errorf("timestamp:\n  got: %+v\n want: %+v", got[0], second)
	}
}

func TestHourRollover(t *testing.T) {
	first := Timestamp{Year: 26, Month: 1, Day: 1, Weekday: 4, Hour: 9, Min: 59}
	second := Timestamp{Year: 26, Month: 1, Day: 1, Weekday: 4, Hour: 10, Min: 0}

	pin := testPin(t)
	d := newDecoder(pin, HighActive)

	script := append(silence(200), frameLevels(encodeFrame(first))...)
	script = append(script, frameLevels(encodeFrame(second))...)
	script = append(script, pulse(10)...)
	script = append(script, silence(50)...)

	got := feed(t, d, script, pin)
	if len(got) != 1 {
		t.Fatalf("got %d timestamps, want 1", len(got))
	}
	if got[0] != second {
		t.Errorf("timestamp:\n  got: %+v\n want: %+v", got[0], second)
	}
}

func TestParityRejection(t *testing.T) {
	first := Timestamp{Year: 22, Month: 4, Day: 2, Weekday: 6, Hour: 13, Min: 37}
	second := Timestamp{Year: 22, Month: 4, Day: 2, Weekday: 6, Hour: 13, Min: 38}

	testData := []struct {
		name string
		flip int // bit position flipped in the second frame
	}{
		{name: "minute data bit", flip: 22},
		{name: "minute parity bit", flip: 28},
		{name: "hour data bit", flip: 30},
		{name: "hour parity bit", flip: 35},
		{name: "date data bit", flip: 40},
		{name: "frame parity bit", flip: 58},
	}

	for _, test := range testData {
		t.Run(test.name, func(t *testing.T) {
			pin := testPin(t)
			d := newDecoder(pin, HighActive)

			frame := encodeFrame(second)
			frame[test.flip] ^= 1

			script := append(silence(200), frameLevels(encodeFrame(first))...)
			script = append(script, frameLevels(frame)...)
			script = append(script, pulse(10)...)
			script = append(script, silence(50)...)

			if got := feed(t, d, script, pin); len(got) != 0 {
				t.Errorf("corrupted frame accepted: got %d timestamps, want 0", len(got))
			}
		})
	}
}

func TestGlitchRejection(t *testing.T) {
	first := Timestamp{Year: 22, Month: 4, Day: 2, Weekday: 6, Hour: 13, Min: 37}
	second := Timestamp{Year: 22, Month: 4, Day: 2, Weekday: 6, Hour: 13, Min: 38}

	pin := testPin(t)
	d := newDecoder(pin, HighActive)

	// inject a 30 ms spike into the gap after second 22 of the confirming
	// frame. Bit 22 of minute 38 is 0: a 10 tick pulse and a 90 tick gap.
	// The spike eats 3 ticks of the gap, the decoder measures 87 and still
	// reads a 0.
	levels := frameLevels(encodeFrame(second))
	off := 22*100 + 10 + 40
	for i := 0; i < 3; i++ {
		levels[off+i] = port.High
	}

	script := append(silence(200), frameLevels(encodeFrame(first))...)
	script = append(script, levels...)
	script = append(script, pulse(10)...)
	script = append(script, silence(50)...)

	got := feed(t, d, script, pin)
	if len(got) != 1 {
		t.Fatalf("got %d timestamps, want 1", len(got))
	}
	if got[0] != second {
		t.Errorf("timestamp:\n  got: %+v\n want: %+v", got[0], second)
	}
}

func TestSpikeAbsorbed(t *testing.T) {
	pin := testPin(t)
	d := newDecoder(pin, HighActive)
	d.frame.bitCounter = 30
	d.frame.pauseCounter = 4 // a double edge right after a real pulse

	if _, ok := d.check(); ok {
		t.Error("spike produced a timestamp")
	}
	if d.frame.bitCounter != 30 {
		t.Errorf("bitCounter: got %d, want 30", d.frame.bitCounter)
	}
	if d.frame.pauseCounter != 0 {
		t.Errorf("pauseCounter: got %d, want 0", d.frame.pauseCounter)
	}
}

func TestNonConsecutiveMinutesNotConfirmed(t *testing.T) {
	first := Timestamp{Year: 22, Month: 4, Day: 2, Weekday: 6, Hour: 13, Min: 37}
	second := Timestamp{Year: 22, Month: 4, Day: 2, Weekday: 6, Hour: 13, Min: 45}

	pin := testPin(t)
	d := newDecoder(pin, HighActive)

	script := append(silence(200), frameLevels(encodeFrame(first))...)
	script = append(script, frameLevels(encodeFrame(second))...)
	script = append(script, pulse(10)...)
	script = append(script, silence(50)...)

	if got := feed(t, d, script, pin); len(got) != 0 {
		t.Errorf("non-consecutive frames confirmed: got %d timestamps, want 0", len(got))
	}
}

func TestDisabledReceiverIgnoresSignal(t *testing.T) {
	first := Timestamp{Year: 22, Month: 4, Day: 2, Weekday: 6, Hour: 13, Min: 37}
	second := Timestamp{Year: 22, Month: 4, Day: 2, Weekday: 6, Hour: 13, Min: 38}

	pin := testPin(t)
	d := newDecoder(pin, HighActive)
	d.Disable()

	script := append(silence(200), frameLevels(encodeFrame(first))...)
	script = append(script, frameLevels(encodeFrame(second))...)
	script = append(script, pulse(10)...)

	if got := feed(t, d, script, pin); len(got) != 0 {
		t.Errorf("disabled decoder emitted %d timestamps", len(got))
	}
	if d.frame.bitCounter != 0 {
		t.Errorf("disabled decoder advanced to bit %d", d.frame.bitCounter)
	}
}

func TestTimestampConversion(t *testing.T) {
	testData := []struct {
		ts      Timestamp
		weekday int
	}{
		{ts: Timestamp{Year: 22, Month: 4, Day: 2, Weekday: 6, Hour: 13, Min: 37}, weekday: 6},  // Saturday
		{ts: Timestamp{Year: 26, Month: 8, Day: 23, Weekday: 7, Hour: 0, Min: 0}, weekday: 7},   // Sunday
		{ts: Timestamp{Year: 26, Month: 8, Day: 24, Weekday: 1, Hour: 23, Min: 59}, weekday: 1}, // Monday
	}

	for i, test := range testData {
		got := FromTime(test.ts.Time())
		if got != test.ts {
			t.Errorf("test %d: round trip\n  got: %+v\n want: %+v", i, got, test.ts)
		}
		if got.Weekday != test.weekday {
			t.Errorf("test %d: weekday: got %d, want %d", i, got.Weekday, test.weekday)
		}
	}
}
