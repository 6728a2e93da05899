package wordboot

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestFlashWriteSequence(t *testing.T) {
	f := NewFlashImage(DefaultFlashSize)

	// load before erase is refused
	if err := f.LoadWord(0x0000, 0x1234); !errors.Is(err, ErrPageOrder) {
		t.Errorf("load before erase: got %v, want page order error", err)
	}

	if err := f.ErasePage(0x0000); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := f.LoadWord(0x0000, 0x3412); err != nil {
		t.Fatalf("load: %v", err)
	}

	// a word outside the erased page is refused
	if err := f.LoadWord(PageSize, 0xffff); !errors.Is(err, ErrPageOrder) {
		t.Errorf("load outside page: got %v, want page order error", err)
	}

	if err := f.WritePage(0x0000); err != nil {
		t.Fatalf("write: %v", err)
	}

	// reads are locked until EnableRead
	if _, err := f.ReadByte(0x0000); !errors.Is(err, ErrReadLocked) {
		t.Errorf("read while locked: got %v, want read locked error", err)
	}
	if err := f.EnableRead(); err != nil {
		t.Fatalf("enable read: %v", err)
	}

	// words land little-endian
	lo, _ := f.ReadByte(0x0000)
	hi, _ := f.ReadByte(0x0001)
	if lo != 0x12 || hi != 0x34 {
		t.Errorf("stored word: got %#02x %#02x, want 0x12 0x34", lo, hi)
	}

	// a second write without a fresh erase is refused
	if err := f.WritePage(0x0000); !errors.Is(err, ErrPageOrder) {
		t.Errorf("write without erase: got %v, want page order error", err)
	}
}

func TestFlashEraseBlanksPage(t *testing.T) {
	f := NewFlashImage(DefaultFlashSize)

	if err := f.ErasePage(0x0000); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := f.LoadWord(0x0000, 0xbbaa); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := f.WritePage(0x0000); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.EnableRead(); err != nil {
		t.Fatalf("enable read: %v", err)
	}

	// rewriting the page without loading words blanks it again
	if err := f.ErasePage(0x0000); err != nil {
		t.Fatalf("second erase: %v", err)
	}
	if err := f.WritePage(0x0000); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if err := f.EnableRead(); err != nil {
		t.Fatalf("enable read: %v", err)
	}

	if b, _ := f.ReadByte(0x0000); b != 0xff {
		t.Errorf("byte after erase: got %#02x, want 0xff", b)
	}
}

func TestImagePersistence(t *testing.T) {
	dir := t.TempDir()
	flashPath := filepath.Join(dir, "flash.bin")
	eepromPath := filepath.Join(dir, "eeprom.bin")

	// missing files yield blank images
	f, err := LoadFlashImage(flashPath, 512)
	if err != nil {
		t.Fatalf("load missing flash image: %v", err)
	}
	if b, _ := f.ReadByte(0); b != 0xff {
		t.Errorf("blank flash byte: got %#02x, want 0xff", b)
	}

	if err := f.ErasePage(0); err != nil {
		t.Fatalf("erase: %v", err)
	}
	if err := f.LoadWord(0, 0x2010); err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := f.WritePage(0); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := f.EnableRead(); err != nil {
		t.Fatalf("enable read: %v", err)
	}
	if err := f.Save(flashPath); err != nil {
		t.Fatalf("save flash: %v", err)
	}

	f2, err := LoadFlashImage(flashPath, 512)
	if err != nil {
		t.Fatalf("reload flash: %v", err)
	}
	if b, _ := f2.ReadByte(0); b != 0x10 {
		t.Errorf("reloaded flash byte: got %#02x, want 0x10", b)
	}

	e := NewEEPROMImage(64)
	if err := e.WriteByte(7, 0x42); err != nil {
		t.Fatalf("eeprom write: %v", err)
	}
	if err := e.Save(eepromPath); err != nil {
		t.Fatalf("save eeprom: %v", err)
	}
	e2, err := LoadEEPROMImage(eepromPath, 64)
	if err != nil {
		t.Fatalf("reload eeprom: %v", err)
	}
	if b, _ := e2.ReadByte(7); b != 0x42 {
		t.Errorf("reloaded eeprom byte: got %#02x, want 0x42", b)
	}

	// an image file larger than the memory is rejected
	if err := os.WriteFile(flashPath, make([]byte, 1024), 0644); err != nil {
		t.Fatalf("write oversized image: %v", err)
	}
	if _, err := LoadFlashImage(flashPath, 512); err == nil {
		t.Error("oversized image accepted")
	}
}
