package wordboot

import (
	"errors"
	"fmt"
	"os"
	"sync"
)

// PageSize is the flash page size in bytes.
const PageSize = 128

// default memory geometry (ATmega328P)
const (
	DefaultFlashSize  = 32 * 1024
	DefaultEEPROMSize = 1024
)

var (
	ErrPageOrder   = errors.New("flash page operation out of order")
	ErrReadLocked  = errors.New("flash read disabled during write")
	ErrOutOfBounds = errors.New("address out of bounds")
)

// Flash is a page-organized program memory. Writing follows the fixed
// sequence ErasePage, LoadWord for every word of the page, WritePage,
// EnableRead; reads are refused between WritePage and EnableRead.
type Flash interface {
	ErasePage(addr uint16) error
	LoadWord(addr uint16, word uint16) error
	WritePage(addr uint16) error
	EnableRead() error
	ReadByte(addr uint16) (byte, error)
}

// EEPROM is a byte-addressed data memory.
type EEPROM interface {
	ReadByte(addr uint16) (byte, error)
	WriteByte(addr uint16, b byte) error
}

// FlashImage is an in-memory Flash that enforces the page write sequence.
type FlashImage struct {
	mu sync.Mutex

	data []byte

	// page buffer state between ErasePage and WritePage
	page     [PageSize]byte
	pageAddr uint16
	erased   bool

	readLocked bool
}

// NewFlashImage returns a blank image of the given size, all bytes 0xff.
func NewFlashImage(size int) *FlashImage {
	if size <= 0 {
		size = DefaultFlashSize
	}
	f := &FlashImage{data: make([]byte, size)}
	for i := range f.data {
		f.data[i] = 0xff
	}
	return f
}

// LoadFlashImage reads an image file. A missing file yields a blank image.
func LoadFlashImage(path string, size int) (*FlashImage, error) {
	f := NewFlashImage(size)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > len(f.data) {
		return nil, fmt.Errorf("flash image %q: %d bytes exceed size %d", path, len(raw), len(f.data))
	}
	copy(f.data, raw)
	return f, nil
}

// Save writes the image back to disk.
func (f *FlashImage) Save(path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return os.WriteFile(path, f.data, 0644)
}

// ErasePage erases the page containing addr and opens the write buffer.
func (f *FlashImage) ErasePage(addr uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if int(addr) >= len(f.data) {
		return fmt.Errorf("%w: erase at %#04x", ErrOutOfBounds, addr)
	}

	f.pageAddr = addr &^ (PageSize - 1)
	for i := range f.page {
		f.page[i] = 0xff
	}
	copy(f.data[f.pageAddr:f.pageAddr+PageSize], f.page[:])
	f.erased = true
	return nil
}

// LoadWord places one little-endian word into the erased page buffer.
func (f *FlashImage) LoadWord(addr uint16, word uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.erased {
		return fmt.Errorf("%w: load before erase", ErrPageOrder)
	}
	off := int(addr) - int(f.pageAddr)
	if off < 0 || off+1 >= PageSize {
		return fmt.Errorf("%w: word at %#04x outside page %#04x", ErrPageOrder, addr, f.pageAddr)
	}
	f.page[off] = byte(word)
	f.page[off+1] = byte(word >> 8)
	return nil
}

// WritePage commits the page buffer. Reads stay refused until EnableRead.
func (f *FlashImage) WritePage(addr uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.erased || addr&^(PageSize-1) != f.pageAddr {
		return fmt.Errorf("%w: write at %#04x", ErrPageOrder, addr)
	}
	copy(f.data[f.pageAddr:f.pageAddr+PageSize], f.page[:])
	f.erased = false
	f.readLocked = true
	return nil
}

// EnableRead re-enables read access after a page write.
func (f *FlashImage) EnableRead() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readLocked = false
	return nil
}

// ReadByte returns one byte of program memory.
func (f *FlashImage) ReadByte(addr uint16) (byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readLocked {
		return 0, ErrReadLocked
	}
	if int(addr) >= len(f.data) {
		return 0, fmt.Errorf("%w: read at %#04x", ErrOutOfBounds, addr)
	}
	return f.data[addr], nil
}

// EEPROMImage is an in-memory EEPROM.
type EEPROMImage struct {
	mu   sync.Mutex
	data []byte
}

// NewEEPROMImage returns a blank image of the given size, all bytes 0xff.
func NewEEPROMImage(size int) *EEPROMImage {
	if size <= 0 {
		size = DefaultEEPROMSize
	}
	e := &EEPROMImage{data: make([]byte, size)}
	for i := range e.data {
		e.data[i] = 0xff
	}
	return e
}

// LoadEEPROMImage reads an image file. A missing file yields a blank image.
func LoadEEPROMImage(path string, size int) (*EEPROMImage, error) {
	e := NewEEPROMImage(size)
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return e, nil
	}
	if err != nil {
		return nil, err
	}
	if len(raw) > len(e.data) {
		return nil, fmt.Errorf("eeprom image %q: %d bytes exceed size %d", path, len(raw), len(e.data))
	}
	copy(e.data, raw)
	return e, nil
}

// Save writes the image back to disk.
func (e *EEPROMImage) Save(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return os.WriteFile(path, e.data, 0644)
}

func (e *EEPROMImage) ReadByte(addr uint16) (byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if int(addr) >= len(e.data) {
		return 0, fmt.Errorf("%w: read at %#04x", ErrOutOfBounds, addr)
	}
	return e.data[addr], nil
}

func (e *EEPROMImage) WriteByte(addr uint16, b byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if int(addr) >= len(e.data) {
		return fmt.Errorf("%w: write at %#04x", ErrOutOfBounds, addr)
	}
	e.data[addr] = b
	return nil
}
