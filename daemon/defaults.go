package daemon

import "github.com/jangala-dev/settings-go/x/strx"

const defaultDevice = "demo"

// Embedded default settings, keyed by device id, in the same per-device
// JSON-blob shape as the teacher's services/config package. Each blob is a
// section -> name -> value object; values are stored and echoed back as
// plain text, parsed by whatever codec the registrant names.
//
// Populate EmbeddedDefaults at build time or override EmbeddedLookup in
// tests.

const defaultsDemo = `{
  "wifi": {
    "ssid": "jangala-demo",
    "channel": "6"
  },
  "display": {
    "brightness": "80"
  },
  "heartbeat": {
    "interval": "2"
  }
}`

var embeddedDefaults = map[string][]byte{
	"demo": []byte(defaultsDemo),
}

// EmbeddedLookup allows overriding how a device's default-config blob is
// resolved; tests substitute this to avoid depending on the compiled-in
// defaults above.
var EmbeddedLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedDefaults[device]
	return b, ok
}

// SeedDevice loads device's embedded defaults via EmbeddedLookup, falling
// back to defaultDevice when device is empty (eg. an unset command-line
// flag). A missing device is not an error: the daemon simply starts with an
// empty table.
func (d *Daemon) SeedDevice(device string) error {
	raw, ok := EmbeddedLookup(strx.Coalesce(device, defaultDevice))
	if !ok {
		return nil
	}
	return d.SeedEmbedded(raw)
}
