package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfig(t *testing.T) {
	content := `
gpio: 17
driver: fake
polarity: low
rtc:
  device: /dev/i2c-1
clock:
  resync: 30
bootloader:
  listen: ":8356"
  flash: /tmp/flash.bin
  eeprom: /tmp/eeprom.bin
  timeout: 500
mqtt:
  connection: "tcp://broker:1883"
  topic: /clock/time
webserver:
  url: http://0.0.0.0:5000
  webservices:
    version: true
    time: true
metrics:
  listen: ":9200"
log:
  flag: debug
  file: stderr
`
	path := filepath.Join(t.TempDir(), "wordclock.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := NewConfig()
	cfg.Flag.ConfigFile = path
	if err := cfg.LoadConfig(); err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Gpio != 17 {
		t.Errorf("gpio: got %d, want 17", cfg.Gpio)
	}
	if cfg.Driver != "fake" {
		t.Errorf("driver: got %q, want fake", cfg.Driver)
	}
	if cfg.Polarity != "low" {
		t.Errorf("polarity: got %q, want low", cfg.Polarity)
	}
	if cfg.RTC.Device != "/dev/i2c-1" {
		t.Errorf("rtc device: got %q", cfg.RTC.Device)
	}
	if cfg.Clock.Resync != 30 {
		t.Errorf("resync: got %d, want 30", cfg.Clock.Resync)
	}
	if cfg.Bootloader.Listen != ":8356" {
		t.Errorf("bootloader listen: got %q", cfg.Bootloader.Listen)
	}
	if cfg.Bootloader.Timeout != 500*time.Millisecond {
		t.Errorf("bootloader timeout: got %v, want 500ms", cfg.Bootloader.Timeout)
	}
	if !cfg.Webserver.Webservices["time"] {
		t.Error("time webservice not enabled")
	}
	if cfg.Metrics.Listen != ":9200" {
		t.Errorf("metrics listen: got %q", cfg.Metrics.Listen)
	}
}

func TestDefaults(t *testing.T) {
	cfg := NewConfig()

	if cfg.Clock.Resync != 15 {
		t.Errorf("default resync: got %d, want 15", cfg.Clock.Resync)
	}
	if cfg.Bootloader.Listen != "" {
		t.Error("bootloader enabled by default")
	}
	if cfg.RTC.Device != "" {
		t.Error("rtc device set by default")
	}
}
