package app

import (
	"encoding/json"

	"github.com/womat/debug"

	"wordclock/pkg/mqtt"
)

// service is the main loop: confirmed DCF77 frames set the clock, minute
// events update the display state and go out to the mqtt broker.
func (app *App) service() {
	for {
		select {
		case ts, ok := <-app.decoder.C:
			if !ok {
				return
			}

			debug.InfoLog.Printf("dcf77 frame %02d:%02d", ts.Hour, ts.Min)
			if err := app.clock.SetTime(ts); err != nil {
				debug.ErrorLog.Printf("set clock: %v", err)
				continue
			}

			// reception pauses until the next full hour re-arms it
			app.decoder.Disable()

		case ts, ok := <-app.clock.C:
			if !ok {
				return
			}

			app.current.Lock()
			app.current.data = ts
			app.current.Unlock()

			app.sendMQTT(app.config.MQTT.Topic, ts)
		}
	}
}

// sendMQTT send message struct to the mqtt broker.
func (app *App) sendMQTT(topic string, message interface{}) {
	go func(t string, r interface{}) {
		debug.TraceLog.Printf("prepare mqtt message %v %v", t, r)

		b, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			debug.ErrorLog.Printf("sendMQTT marshal: %v", err)
			return
		}

		app.mqtt.C <- mqtt.Message{
			Qos:      0,
			Retained: true,
			Topic:    t,
			Payload:  b,
		}
	}(topic, message)
}
