// cmd/settingsdemo is a smoke-test binary wiring a client settings.Context
// and the reference daemon together, in the style of the teacher's
// cmd/boardtest: a short-lived run that logs each step of a
// register/write/read-by-index exchange and exits. It exercises both
// transports the client ships with: the in-process local bus, and a daemon
// reachable over a TCP link supervised by services/bridge.
package main

import (
	"context"
	"log"
	"time"

	"github.com/jangala-dev/settings-go/bus"
	"github.com/jangala-dev/settings-go/daemon"
	"github.com/jangala-dev/settings-go/settings"
	"github.com/jangala-dev/settings-go/transport/localbus"
	"github.com/jangala-dev/settings-go/typereg"
)

const demoDevice = "demo"

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	log.Println("[settingsdemo] bootstrapping bus …")
	b := bus.NewBus(16)

	log.Println("[settingsdemo] starting daemon …")
	d, err := daemon.New(localbus.New(b.NewConnection("daemon")))
	if err != nil {
		log.Fatalf("[settingsdemo] daemon.New: %v", err)
	}
	defer d.Close()
	if err := d.SeedDevice(demoDevice); err != nil {
		log.Fatalf("[settingsdemo] SeedDevice: %v", err)
	}

	client := settings.New(localbus.New(b.NewConnection("client")), 1)
	defer client.Close()

	log.Println("[settingsdemo] registering wifi/channel …")
	channel := make([]byte, 4)
	if err := client.RegisterOwned(ctx, "wifi", "channel", channel, typereg.Int, nil); err != nil {
		log.Fatalf("[settingsdemo] RegisterOwned: %v", err)
	}
	codec, _ := client.Registry().Lookup(typereg.Int)
	log.Printf("[settingsdemo] wifi/channel registered at %s (daemon's seeded default)", codec.ToText(channel))

	log.Println("[settingsdemo] writing display/brightness …")
	newBrightness := make([]byte, 4)
	codec.FromText("90", newBrightness)
	if err := client.RegisterOwned(ctx, "display", "brightness", make([]byte, 4), typereg.Int, nil); err != nil {
		log.Fatalf("[settingsdemo] RegisterOwned: %v", err)
	}
	status, err := client.Write(ctx, "display", "brightness", newBrightness, typereg.Int)
	if err != nil {
		log.Fatalf("[settingsdemo] Write: %v", err)
	}
	log.Printf("[settingsdemo] write status: %s", status)

	log.Println("[settingsdemo] walking every registered setting by index …")
	for entry := range client.AllSettings(ctx) {
		log.Printf("[settingsdemo]   %s/%s = %q (%s)", entry.Section, entry.Name, entry.Value, entry.Type)
	}

	log.Println("[settingsdemo] starting remote-link demo (daemon over TCP via services/bridge) …")
	if err := runRemoteLinkDemo(ctx); err != nil {
		log.Fatalf("[settingsdemo] remote-link demo: %v", err)
	}

	log.Println("[settingsdemo] done")
}
