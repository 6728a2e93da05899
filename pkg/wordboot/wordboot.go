// Package wordboot implements the word clock's serial programming protocol,
// a reduced STK500 dialect as spoken by avrdude and friends.
//
// A session is a strict request/response loop: the host sends one command
// byte plus arguments, terminated by the sync byte 0x20. A correct
// terminator is acknowledged with INSYNC (0x14), followed by any response
// data and a final OK (0x10). A wrong terminator means the peer is not a
// programmer at all (most likely the application protocol at another baud
// rate, or a transport fault), and the session is torn down immediately
// without sending a single status byte; on the device this is a 16 ms
// watchdog reset. If the host stays silent for the configured timeout the
// bootloader falls through into the resident application.
package wordboot

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/womat/debug"
)

// software version reported via GET_PARAMETER
const (
	VersionMajor = 1
	VersionMinor = 2
)

// wire protocol bytes
const (
	Sync         = 0x20
	StatusInSync = 0x14
	StatusOK     = 0x10

	CmdGetParameter  = 0x41
	CmdSetDevice     = 0x42
	CmdSetDeviceExt  = 0x45
	CmdLeaveProgmode = 0x51
	CmdLoadAddress   = 0x55
	CmdUniversal     = 0x56
	CmdProgPage      = 0x64
	CmdReadPage      = 0x74
	CmdReadSign      = 0x75

	// GET_PARAMETER ids answered with real values; everything else gets
	// a fixed placeholder, enough to satisfy a generic host handshake.
	ParamSWMajor = 0x81
	ParamSWMinor = 0x82
	paramDefault = 0x03
)

// memEEPROM is the PROG_PAGE/READ_PAGE memory type selecting the EEPROM;
// any other value selects flash.
const memEEPROM = 'E'

// maxPageLength caps a PROG_PAGE transfer. A protocol revision that
// truncated the length to 8 bits existed; the full 16 bit length is honored
// here up to the buffer size, anything larger aborts the session.
const maxPageLength = 256

// DefaultTimeout is the host inactivity limit before falling through to the
// application.
const DefaultTimeout = 1000 * time.Millisecond

var (
	ErrSyncMismatch = errors.New("sync terminator mismatch")
	ErrPageTooLarge = errors.New("page length exceeds buffer")
)

var (
	sessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordboot_sessions_total",
		Help: "count of programming sessions",
	})
	pagesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wordboot_pages_written_total",
		Help: "count of pages written via PROG_PAGE",
	})
)

// ResetCause mirrors the MCU reset flags relevant to bootloader entry.
type ResetCause int

const (
	ResetPowerOn ResetCause = iota
	ResetExternal
	ResetBrownout
	ResetWatchdog
)

// EnterOnReset reports whether the programming loop runs for the given reset
// cause. Any other cause jumps straight to the application.
func EnterOnReset(c ResetCause) bool {
	return c == ResetWatchdog
}

// Exit describes how a session ended.
type Exit int

const (
	// ExitApplication hands control to the resident application: the host
	// went silent or sent LEAVE_PROGMODE.
	ExitApplication Exit = iota
	// ExitReset is the forced short-watchdog reset after a terminator
	// mismatch or transport failure.
	ExitReset
)

func (e Exit) String() string {
	if e == ExitReset {
		return "reset"
	}
	return "application"
}

// Conn is the byte stream to the host programmer. net.Conn and net.Pipe
// satisfy it.
type Conn interface {
	io.ReadWriter
	SetReadDeadline(t time.Time) error
}

// Session is one bootloader invocation against a single host.
type Session struct {
	conn      Conn
	flash     Flash
	eeprom    EEPROM
	signature [3]byte
	timeout   time.Duration

	// address is the byte address set by LOAD_ADDRESS (the protocol
	// carries word addresses, flash is word addressed on the wire).
	address uint16
	buf     [maxPageLength]byte
}

// NewSession prepares a session on the given byte stream.
func NewSession(conn Conn, flash Flash, eeprom EEPROM, signature [3]byte, timeout time.Duration) *Session {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Session{
		conn:      conn,
		flash:     flash,
		eeprom:    eeprom,
		signature: signature,
		timeout:   timeout,
	}
}

// Run processes commands until the session ends. The error is nil for the
// regular exits (inactivity, LEAVE_PROGMODE) and describes the fault for
// ExitReset.
func (s *Session) Run() (Exit, error) {
	sessionsTotal.Inc()

	for {
		cmd, err := s.getch()
		if err != nil {
			return s.exit(err)
		}

		leave, err := s.command(cmd)
		if err != nil {
			return s.exit(err)
		}
		if leave {
			return ExitApplication, nil
		}
	}
}

// command executes one command to completion. Each branch validates the
// terminator (which emits INSYNC) before touching any memory, and every
// command ends with a single OK.
func (s *Session) command(cmd byte) (leave bool, err error) {
	switch cmd {
	case CmdGetParameter:
		p, err := s.getch()
		if err != nil {
			return false, err
		}
		if err := s.verifySpace(); err != nil {
			return false, err
		}
		switch p {
		case ParamSWMajor:
			err = s.putch(VersionMajor)
		case ParamSWMinor:
			err = s.putch(VersionMinor)
		default:
			err = s.putch(paramDefault)
		}
		if err != nil {
			return false, err
		}

	case CmdSetDevice:
		// device parameters are not needed by this bootloader
		if err := s.discard(20); err != nil {
			return false, err
		}

	case CmdSetDeviceExt:
		if err := s.discard(5); err != nil {
			return false, err
		}

	case CmdLoadAddress:
		lo, err := s.getch()
		if err != nil {
			return false, err
		}
		hi, err := s.getch()
		if err != nil {
			return false, err
		}
		if err := s.verifySpace(); err != nil {
			return false, err
		}
		s.address = (uint16(hi)<<8 | uint16(lo)) << 1

	case CmdUniversal:
		// SPI passthrough is not implemented, acknowledge with a zero
		if err := s.discard(4); err != nil {
			return false, err
		}
		if err := s.putch(0x00); err != nil {
			return false, err
		}

	case CmdProgPage:
		if err := s.progPage(); err != nil {
			return false, err
		}

	case CmdReadPage:
		if err := s.readPage(); err != nil {
			return false, err
		}

	case CmdReadSign:
		if err := s.verifySpace(); err != nil {
			return false, err
		}
		if _, err := s.conn.Write(s.signature[:]); err != nil {
			return false, err
		}

	case CmdLeaveProgmode:
		if err := s.verifySpace(); err != nil {
			return false, err
		}
		leave = true

	default:
		// ENTER_PROGMODE and other no-ops are simply acknowledged
		if err := s.verifySpace(); err != nil {
			return false, err
		}
	}

	return leave, s.putch(StatusOK)
}

// progPage receives one page and writes it to the selected memory.
func (s *Session) progPage() error {
	length, memtype, err := s.pageHeader()
	if err != nil {
		return err
	}

	if err := s.read(s.buf[:length]); err != nil {
		return err
	}
	if err := s.verifySpace(); err != nil {
		return err
	}

	if memtype == memEEPROM {
		for i := 0; i < length; i++ {
			if err := s.eeprom.WriteByte(s.address+uint16(i), s.buf[i]); err != nil {
				return err
			}
		}
		return nil
	}

	// flash: erase, fill the write buffer word by word (little-endian),
	// commit the page, then re-enable read access. The order is fixed,
	// anything else corrupts the write.
	if err := s.flash.ErasePage(s.address); err != nil {
		return err
	}
	for i := 0; i < length; i += 2 {
		var hi byte
		if i+1 < length {
			hi = s.buf[i+1]
		}
		word := uint16(s.buf[i]) | uint16(hi)<<8
		if err := s.flash.LoadWord(s.address+uint16(i), word); err != nil {
			return err
		}
	}
	if err := s.flash.WritePage(s.address); err != nil {
		return err
	}
	if err := s.flash.EnableRead(); err != nil {
		return err
	}

	pagesWrittenTotal.Inc()
	return nil
}

// readPage streams one page from the selected memory back to the host.
func (s *Session) readPage() error {
	length, memtype, err := s.pageHeader()
	if err != nil {
		return err
	}
	if err := s.verifySpace(); err != nil {
		return err
	}

	for i := 0; i < length; i++ {
		var (
			b   byte
			err error
		)
		if memtype == memEEPROM {
			b, err = s.eeprom.ReadByte(s.address + uint16(i))
		} else {
			b, err = s.flash.ReadByte(s.address + uint16(i))
		}
		if err != nil {
			return err
		}
		s.buf[i] = b
	}

	_, err = s.conn.Write(s.buf[:length])
	return err
}

// exit maps a session error to its exit. Host inactivity is the deliberate
// fallthrough into the application no matter where in a command it strikes;
// everything else forces the reset.
func (s *Session) exit(err error) (Exit, error) {
	if isTimeout(err) {
		return ExitApplication, nil
	}
	return ExitReset, err
}

// pageHeader reads the big-endian length and the memory type byte shared by
// PROG_PAGE and READ_PAGE.
func (s *Session) pageHeader() (int, byte, error) {
	hi, err := s.getch()
	if err != nil {
		return 0, 0, err
	}
	lo, err := s.getch()
	if err != nil {
		return 0, 0, err
	}
	memtype, err := s.getch()
	if err != nil {
		return 0, 0, err
	}

	length := int(hi)<<8 | int(lo)
	if length > maxPageLength {
		return 0, 0, fmt.Errorf("%w: %d", ErrPageTooLarge, length)
	}
	return length, memtype, nil
}

// verifySpace enforces the command terminator. A match is acknowledged with
// INSYNC; a mismatch aborts the session before any status byte is sent.
func (s *Session) verifySpace() error {
	b, err := s.getch()
	if err != nil {
		return err
	}
	if b != Sync {
		debug.ErrorLog.Printf("wordboot: terminator %#02x, expected %#02x", b, Sync)
		return ErrSyncMismatch
	}
	return s.putch(StatusInSync)
}

// discard drops count argument bytes, then enforces the terminator.
func (s *Session) discard(count int) error {
	for i := 0; i < count; i++ {
		if _, err := s.getch(); err != nil {
			return err
		}
	}
	return s.verifySpace()
}

// getch reads one byte within the inactivity timeout.
func (s *Session) getch() (byte, error) {
	var b [1]byte
	if err := s.read(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (s *Session) read(buf []byte) error {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	_, err := io.ReadFull(s.conn, buf)
	return err
}

func (s *Session) putch(b byte) error {
	_, err := s.conn.Write([]byte{b})
	return err
}

func isTimeout(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
