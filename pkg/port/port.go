// Package port holds the line-level vocabulary shared by the GPIO drivers
// and the receivers sampling them.
package port

// Level is the electrical level of a line.
//
// Note that an active low receiver reports "signal present" on a low level,
// so Level says nothing about signal presence by itself; the receiver's
// calibrated polarity decides that.
type Level int

const (
	// Low indicates a logical 0.
	Low Level = 0
	// High indicates a logical 1.
	High Level = 1
)

// String returns "high" or "low".
func (l Level) String() string {
	if l == High {
		return "high"
	}
	return "low"
}
