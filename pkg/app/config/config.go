package config

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/womat/debug"
	"gopkg.in/yaml.v2"
)

// Config holds the application configuration. Attention!
// To make it possible to overwrite fields with the -overwrite command
// line option each of the struct fields must be in the format
// first letter uppercase -> followed by CamelCase as in the config file.
// Config defines the struct of global config and the struct of the configuration file
type Config struct {
	Gpio       int              `yaml:"gpio"`
	Driver     string           `yaml:"driver"`
	Polarity   string           `yaml:"polarity"`
	Flag       FlagConfig       `yaml:"-"`
	RTC        RTCConfig        `yaml:"rtc"`
	Clock      ClockConfig      `yaml:"clock"`
	Bootloader BootloaderConfig `yaml:"bootloader"`
	Log        LogConfig        `yaml:"log"`
	Webserver  WebserverConfig  `yaml:"webserver"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
}

// FlagConfig defines the configured flags (parameters)
type FlagConfig struct {
	Version    bool
	LogLevel   string
	ConfigFile string
}

// RTCConfig selects the backing real time clock.
// An empty device falls back to the host system clock.
type RTCConfig struct {
	Device string `yaml:"device"`
}

// ClockConfig defines the soft clock parameters.
type ClockConfig struct {
	Resync int `yaml:"resync"`
}

// BootloaderConfig defines the firmware programming endpoint.
// An empty listen address disables the bootloader.
type BootloaderConfig struct {
	Listen     string        `yaml:"listen"`
	Flash      string        `yaml:"flash"`
	EEPROM     string        `yaml:"eeprom"`
	TimeoutInt int           `yaml:"timeout"`
	Timeout    time.Duration `yaml:"-"`
}

// WebserverConfig defines the struct of the webserver and webservice configuration and configuration file
type WebserverConfig struct {
	URL         string          `yaml:"url"`
	Webservices map[string]bool `yaml:"webservices"`
}

// MetricsConfig defines the prometheus endpoint.
// An empty listen address disables metrics.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// MQTTConfig defines the struct of the mqtt client configuration and configuration file
type MQTTConfig struct {
	Connection string `yaml:"connection"`
	Topic      string `yaml:"topic"`
}

// LogConfig defines the struct of the log configuration and configuration file
type LogConfig struct {
	File       io.WriteCloser `yaml:"-"`
	Flag       int            `yaml:"-"`
	FlagString string         `yaml:"flag"`
	FileString string         `yaml:"file"`
}

func NewConfig() *Config {
	return &Config{
		Gpio:     27,
		Driver:   "gpiomem",
		Polarity: "",
		Flag:     FlagConfig{},
		RTC:      RTCConfig{},
		Clock: ClockConfig{
			Resync: 15,
		},
		Bootloader: BootloaderConfig{
			Flash:      "/opt/womat/data/wordclock.flash",
			EEPROM:     "/opt/womat/data/wordclock.eeprom",
			TimeoutInt: 1000,
		},
		Log: LogConfig{
			FileString: "stderr",
			FlagString: "standard",
		},
		Webserver: WebserverConfig{
			URL: "http://0.0.0.0:4000",
			Webservices: map[string]bool{
				"version": true,
				"health":  true,
				"time":    true,
			},
		},
		Metrics: MetricsConfig{},
		MQTT: MQTTConfig{
			Connection: "tcp:127.0.0.1883",
			Topic:      "/wordclock/time"},
	}
}

func (c *Config) LoadConfig() error {
	if err := c.readConfigFile(); err != nil {
		return fmt.Errorf("error reading config file %q: %w", c.Flag.ConfigFile, err)
	}

	if c.Flag.LogLevel != "" {
		c.Log.FlagString = c.Flag.LogLevel
	}
	if err := c.setLogConfig(); err != nil {
		return fmt.Errorf("unable to open log file %q: %w", c.Log.FileString, err)
	}

	c.Bootloader.Timeout = time.Duration(c.Bootloader.TimeoutInt) * time.Millisecond

	return nil
}

func (c *Config) readConfigFile() error {
	file, err := os.Open(c.Flag.ConfigFile)
	if err != nil {
		return err
	}
	defer func() { _ = file.Close() }()

	decoder := yaml.NewDecoder(file)
	if err = decoder.Decode(c); err != nil {
		return err
	}

	return nil
}

func (c *Config) setLogConfig() (err error) {
	switch c.Log.FlagString {
	case "trace", "full":
		c.Log.Flag = debug.Full
	case "debug":
		c.Log.Flag = debug.Warning | debug.Info | debug.Error | debug.Fatal | debug.Debug
	case "standard":
		c.Log.Flag = debug.Standard
	}

	switch c.Log.FileString {
	case "stderr":
		c.Log.File = os.Stderr
	case "stdout":
		c.Log.File = os.Stdout
	default:
		if c.Log.File, err = os.OpenFile(c.Log.FileString, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0o666); err != nil {
			return
		}
	}

	return
}
