package app

import (
	"github.com/gofiber/fiber/v2"
	"github.com/womat/debug"

	"wordclock/pkg/dcf77"
)

// timeResponse is the body of the /time webservice.
type timeResponse struct {
	Time     dcf77.Timestamp `json:"time"`
	Receiver receiverState   `json:"receiver"`
}

type receiverState struct {
	Polarity  string `json:"polarity"`
	Enabled   bool   `json:"enabled"`
	Available bool   `json:"available"`
}

// runWebServer starts the applications web server and listens for web requests.
//  It's designed to run in a separate go function to not block the main go function.
//  e.g.: go runWebServer()
//  See app.Run()
func (app *App) runWebServer() {
	err := app.web.Listen(app.urlParsed.Host)
	debug.ErrorLog.Print(err)
}

// HandleTime reports the displayed time and the receiver state.
func (app *App) HandleTime() fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		debug.InfoLog.Print("web request time")

		app.current.RLock()
		ts := app.current.data
		app.current.RUnlock()

		return ctx.JSON(timeResponse{
			Time: ts,
			Receiver: receiverState{
				Polarity:  app.decoder.Polarity().String(),
				Enabled:   app.decoder.Enabled(),
				Available: app.decoder.Available(),
			},
		})
	}
}
