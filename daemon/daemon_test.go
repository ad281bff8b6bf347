package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/jangala-dev/settings-go/bus"
	"github.com/jangala-dev/settings-go/settings"
	"github.com/jangala-dev/settings-go/transport/localbus"
	"github.com/jangala-dev/settings-go/typereg"
)

func newClientAndDaemon(t *testing.T) (*settings.Context, *Daemon) {
	t.Helper()
	b := bus.NewBus(16)
	d, err := New(localbus.New(b.NewConnection("daemon")))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	c := settings.New(localbus.New(b.NewConnection("client")), 1)
	return c, d
}

// newTwoClientsAndDaemon wires two independent settings.Context values to
// the same daemon, so one can own a setting while the other watches it —
// the scenario a single Context's store (one entry per section/name) can't
// represent on its own.
func newTwoClientsAndDaemon(t *testing.T) (owner, watcher *settings.Context, d *Daemon) {
	t.Helper()
	b := bus.NewBus(16)
	d, err := New(localbus.New(b.NewConnection("daemon")))
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	owner = settings.New(localbus.New(b.NewConnection("owner")), 1)
	watcher = settings.New(localbus.New(b.NewConnection("watcher")), 2)
	return owner, watcher, d
}

func TestRegisterOwnedAcceptsFreshSetting(t *testing.T) {
	c, _ := newClientAndDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	buf := make([]byte, 4)
	if err := c.RegisterOwned(ctx, "wifi", "retries", buf, typereg.Int, nil); err != nil {
		t.Fatalf("RegisterOwned: %v", err)
	}
}

func TestRegisterOwnedAppliesPermanentDefault(t *testing.T) {
	c, d := newClientAndDaemon(t)
	if err := d.SeedEmbedded([]byte(`{"wifi":{"channel":"11"}}`)); err != nil {
		t.Fatalf("SeedEmbedded: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	buf := make([]byte, 4)
	if err := c.RegisterOwned(ctx, "wifi", "channel", buf, typereg.Int, nil); err != nil {
		t.Fatalf("RegisterOwned: %v", err)
	}
	codec, _ := c.Registry().Lookup(typereg.Int)
	if got := codec.ToText(buf); got != "11" {
		t.Fatalf("channel = %q, want the daemon's permanent default 11 (proposed value ignored)", got)
	}
}

// TestWriteRoundTripThroughDaemon writes a value via the public Write call
// and confirms a subsequent Read observes it. The daemon's table, not the
// registering caller's local buffer, is the round trip's source of truth:
// this reference daemon holds settings directly rather than relaying
// writes back to an owning process, so only a Watch (not a plain
// RegisterOwned buffer) stays coherent with externally-driven writes.
func TestWriteRoundTripThroughDaemon(t *testing.T) {
	c, _ := newClientAndDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := c.RegisterOwned(ctx, "display", "brightness", make([]byte, 4), typereg.Int, nil); err != nil {
		t.Fatalf("RegisterOwned: %v", err)
	}

	writeVal := make([]byte, 4)
	codec, _ := c.Registry().Lookup(typereg.Int)
	codec.FromText("50", writeVal)

	status, err := c.Write(ctx, "display", "brightness", writeVal, typereg.Int)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if status != "ok" {
		t.Fatalf("status = %v, want ok", status)
	}

	out := make([]byte, 4)
	if err := c.Read(ctx, "display", "brightness", out, typereg.Int); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := codec.ToText(out); got != "50" {
		t.Fatalf("read-back value = %q, want 50", got)
	}
}

// TestWatchTracksExternalWrite confirms the coherence path the protocol
// actually specifies: a watch on a setting owned elsewhere observes the new
// value once the daemon's write-response broadcasts it.
func TestWatchTracksExternalWrite(t *testing.T) {
	owner, watcher, _ := newTwoClientsAndDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := owner.RegisterOwned(ctx, "display", "brightness", make([]byte, 4), typereg.Int, nil); err != nil {
		t.Fatalf("RegisterOwned: %v", err)
	}

	watchBuf := make([]byte, 4)
	if err := watcher.RegisterWatch(ctx, "display", "brightness", watchBuf, typereg.Int); err != nil {
		t.Fatalf("RegisterWatch: %v", err)
	}

	writeVal := make([]byte, 4)
	codec, _ := owner.Registry().Lookup(typereg.Int)
	codec.FromText("50", writeVal)
	if _, err := owner.Write(ctx, "display", "brightness", writeVal, typereg.Int); err != nil {
		t.Fatalf("Write: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if codec.ToText(watchBuf) == "50" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("watch value = %q, want 50", codec.ToText(watchBuf))
}

func TestReadUnknownSettingIsRejected(t *testing.T) {
	c, _ := newClientAndDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out := make([]byte, 4)
	if err := c.Read(ctx, "nope", "nothing", out, typereg.Int); err == nil {
		t.Fatal("expected an error for an unregistered setting")
	}
}

func TestReadByIndexWalksRegistrationOrderThenDone(t *testing.T) {
	c, _ := newClientAndDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := c.RegisterOwned(ctx, "wifi", "ssid", make([]byte, 4), typereg.String, nil); err != nil {
		t.Fatalf("RegisterOwned: %v", err)
	}
	if err := c.RegisterOwned(ctx, "wifi", "channel", make([]byte, 4), typereg.Int, nil); err != nil {
		t.Fatalf("RegisterOwned: %v", err)
	}

	seen := map[string]bool{}
	for idx := uint16(0); idx < 3; idx++ {
		entry, err := c.ReadByIndex(ctx, idx)
		if err != nil {
			t.Fatalf("ReadByIndex(%d): %v", idx, err)
		}
		if idx < 2 {
			if entry.Done {
				t.Fatalf("ReadByIndex(%d) reported done early", idx)
			}
			seen[entry.Section+"/"+entry.Name] = true
		} else if !entry.Done {
			t.Fatalf("ReadByIndex(%d) expected done", idx)
		}
	}
	if !seen["wifi/ssid"] || !seen["wifi/channel"] {
		t.Fatalf("expected both registered settings in the traversal, got %v", seen)
	}
}
