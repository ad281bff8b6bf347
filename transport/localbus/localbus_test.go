package localbus

import (
	"testing"
	"time"

	"github.com/jangala-dev/settings-go/bus"
	"github.com/jangala-dev/settings-go/transport"
)

func TestSendFromStampsSenderID(t *testing.T) {
	b := bus.NewBus(8)
	client := New(b.NewConnection("client"))
	daemon := New(b.NewConnection("daemon"))

	received := make(chan uint16, 1)
	if _, err := daemon.RegisterCallback(transport.Register, func(senderID uint16, payload []byte) {
		received <- senderID
	}); err != nil {
		t.Fatalf("RegisterCallback: %v", err)
	}

	if err := client.SendFrom(transport.Register, []byte("hello"), 42); err != nil {
		t.Fatalf("SendFrom: %v", err)
	}

	select {
	case id := <-received:
		if id != 42 {
			t.Fatalf("senderID = %d, want 42", id)
		}
	case <-time.After(time.Second):
		t.Fatal("daemon never received the message")
	}
}

func TestUnregisterCallbackStopsDelivery(t *testing.T) {
	b := bus.NewBus(8)
	client := New(b.NewConnection("client"))
	daemon := New(b.NewConnection("daemon"))

	received := make(chan struct{}, 4)
	h, err := daemon.RegisterCallback(transport.Write, func(senderID uint16, payload []byte) {
		received <- struct{}{}
	})
	if err != nil {
		t.Fatalf("RegisterCallback: %v", err)
	}

	client.SendFrom(transport.Write, []byte("a"), 1)
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected first message to be delivered")
	}

	if err := daemon.UnregisterCallback(h); err != nil {
		t.Fatalf("UnregisterCallback: %v", err)
	}

	client.SendFrom(transport.Write, []byte("b"), 1)
	select {
	case <-received:
		t.Fatal("did not expect delivery after unregister")
	case <-time.After(100 * time.Millisecond):
	}
}
