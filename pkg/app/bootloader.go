package app

import (
	"github.com/womat/debug"

	"wordclock/pkg/wordboot"
)

// signature identifies the emulated device (ATmega328P).
var signature = [3]byte{0x1e, 0x95, 0x0f}

// initBootloader loads the memory images and starts the programming
// endpoint. Without a listen address the bootloader stays off.
func (app *App) initBootloader() error {
	cfg := app.config.Bootloader
	if cfg.Listen == "" {
		return nil
	}

	var err error
	if app.flash, err = wordboot.LoadFlashImage(cfg.Flash, wordboot.DefaultFlashSize); err != nil {
		return err
	}
	if app.eeprom, err = wordboot.LoadEEPROMImage(cfg.EEPROM, wordboot.DefaultEEPROMSize); err != nil {
		return err
	}

	app.boot = &wordboot.Server{
		Addr:      cfg.Listen,
		Flash:     app.flash,
		EEPROM:    app.eeprom,
		Signature: signature,
		Timeout:   cfg.Timeout,
		OnExit:    app.saveImages,
	}

	go func() {
		if err := app.boot.ListenAndServe(); err != nil {
			debug.ErrorLog.Printf("bootloader: %v", err)
		}
	}()

	return nil
}

// saveImages persists the memory images after every programming session.
func (app *App) saveImages(wordboot.Exit) {
	if err := app.flash.Save(app.config.Bootloader.Flash); err != nil {
		debug.ErrorLog.Printf("save flash image: %v", err)
	}
	if err := app.eeprom.Save(app.config.Bootloader.EEPROM); err != nil {
		debug.ErrorLog.Printf("save eeprom image: %v", err)
	}
}
