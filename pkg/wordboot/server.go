package wordboot

import (
	"net"
	"time"

	"github.com/womat/debug"
)

// Server accepts programmer connections and runs one session at a time, the
// way the single UART on the device does.
type Server struct {
	// Addr is the TCP listen address, e.g. ":8356". avrdude talks to it
	// with -P net:host:port.
	Addr string

	Flash     Flash
	EEPROM    EEPROM
	Signature [3]byte
	Timeout   time.Duration

	// OnExit, if set, is called after every session; the app uses it to
	// persist the memory images.
	OnExit func(Exit)

	ln net.Listener
}

// ListenAndServe accepts connections until Close is called.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	s.ln = ln
	debug.InfoLog.Printf("bootloader listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		s.handle(conn)
	}
}

// Close stops the listener; the pending Accept returns its error.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	debug.InfoLog.Printf("programmer connected from %s", conn.RemoteAddr())

	sess := NewSession(conn, s.Flash, s.EEPROM, s.Signature, s.Timeout)
	exit, err := sess.Run()
	if err != nil {
		debug.ErrorLog.Printf("session from %s aborted: %v", conn.RemoteAddr(), err)
	} else {
		debug.InfoLog.Printf("session from %s ended, exit to %s", conn.RemoteAddr(), exit)
	}

	if s.OnExit != nil {
		s.OnExit(exit)
	}
}
