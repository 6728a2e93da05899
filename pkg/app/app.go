package app

import (
	"net/url"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/womat/debug"
	"golang.org/x/exp/io/i2c"

	"wordclock/pkg/app/config"
	"wordclock/pkg/clock"
	"wordclock/pkg/dcf77"
	"wordclock/pkg/ds1307"
	"wordclock/pkg/mqtt"
	"wordclock/pkg/raspberry"
	"wordclock/pkg/wordboot"
)

// App is where the application is wired up.
type App struct {
	// web is the fiber web framework instance
	web *fiber.App

	// config is the application configuration
	config *config.Config

	// urlParsed contains the parsed Config.Url parameter
	// and makes it easier to get params out of e.g.
	// url: https://0.0.0.0:7844/?minTls=1.2&bodyLimit=50MB
	urlParsed *url.URL

	// mqtt is the handler to the mqtt broker
	mqtt *mqtt.Handler

	// gpio is the handler to the rpi gpio device
	gpio raspberry.GPIO

	// decoder receives and decodes the DCF77 time signal
	decoder *dcf77.Decoder

	// clock is the drift corrected soft clock
	clock *clock.SoftClock

	// rtc backs the soft clock, either a DS1307 or the system clock
	rtc clock.RTC

	// boot is the firmware programming endpoint, nil when disabled
	boot   *wordboot.Server
	flash  *wordboot.FlashImage
	eeprom *wordboot.EEPROMImage

	// current is the time shown on the display, updated once per minute
	current struct {
		sync.RWMutex
		data dcf77.Timestamp
	}

	// restart signals application restart
	restart chan struct{}
	// shutdown signals application shutdown
	shutdown chan struct{}
}

// New checks the Web server URL and initialize the main app structure
func New(config *config.Config) (*App, error) {
	u, err := url.Parse(config.Webserver.URL)
	if err != nil {
		debug.ErrorLog.Printf("Error parsing url %q: %s", config.Webserver.URL, err.Error())
		return &App{}, err
	}

	return &App{
		config:    config,
		urlParsed: u,

		web:  fiber.New(),
		mqtt: mqtt.New(),

		restart:  make(chan struct{}),
		shutdown: make(chan struct{}),
	}, err
}

// Run starts the application.
func (app *App) Run() error {
	if err := app.init(); err != nil {
		return err
	}

	app.clock.Start()

	go app.mqtt.Service()
	go app.runWebServer()
	go app.runMetrics()
	go app.service()

	return nil
}

// init initializes the application.
func (app *App) init() (err error) {
	var pin raspberry.Pin

	app.gpio, err = raspberry.Open(app.config.Driver)
	if err != nil {
		debug.ErrorLog.Printf("can't open gpio: %v", err)
		return err
	}

	if pin, err = app.gpio.NewPin(app.config.Gpio); err != nil {
		debug.ErrorLog.Printf("can't open pin: %v", err)
		return
	}

	app.decoder = dcf77.New(pin, polarity(app.config.Polarity))

	if app.rtc, err = app.openRTC(); err != nil {
		debug.ErrorLog.Printf("can't open rtc: %v", err)
		return err
	}

	// a full hour re-arms DCF77 reception
	app.clock = clock.New(app.rtc, app.config.Clock.Resync, app.decoder.Enable)

	if err = app.mqtt.Connect(app.config.MQTT.Connection); err != nil {
		debug.ErrorLog.Printf("can't open mqtt broker %v", err)
		return err
	}

	if err = app.initBootloader(); err != nil {
		debug.ErrorLog.Printf("can't start bootloader: %v", err)
		return err
	}

	// initRoutes and initDefaultRoutes should be always called last because it may access things like app.api
	// which must be initialized before in initAPI()
	app.initDefaultRoutes()

	return nil
}

// openRTC opens the configured I2C device, or falls back to the host clock.
func (app *App) openRTC() (clock.RTC, error) {
	if app.config.RTC.Device == "" {
		debug.InfoLog.Print("no rtc device configured, using the system clock")
		return clock.SystemRTC{}, nil
	}
	return ds1307.Open(&i2c.Devfs{Dev: app.config.RTC.Device})
}

// polarity maps the configured receiver polarity; anything unknown selects
// automatic calibration.
func polarity(s string) dcf77.Polarity {
	switch s {
	case "high":
		return dcf77.HighActive
	case "low":
		return dcf77.LowActive
	}
	return dcf77.PolarityUnknown
}

// Restart returns the read only restart channel.
// Restart is used to be able to react on application restart. (see cmd/main.go)
func (app *App) Restart() <-chan struct{} {
	return app.restart
}

// Shutdown returns the read only shutdown channel.
// Shutdown is used to be able to react on application shutdown. (see cmd/main.go)
func (app *App) Shutdown() <-chan struct{} {
	return app.shutdown
}

func (app *App) Close() error {
	if app.mqtt != nil {
		_ = app.mqtt.Disconnect()
	}
	if app.boot != nil {
		_ = app.boot.Close()
	}
	if app.clock != nil {
		_ = app.clock.Close()
	}
	if app.decoder != nil {
		_ = app.decoder.Close()
	}
	if c, ok := app.rtc.(*ds1307.RTC); ok {
		_ = c.Close()
	}
	if app.gpio != nil {
		_ = app.gpio.Close()
	}
	return nil
}
