package settings

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jangala-dev/settings-go/errcode"
	"github.com/jangala-dev/settings-go/transport"
	"github.com/jangala-dev/settings-go/wire"
)

type fakeBus struct {
	mu       sync.Mutex
	handlers map[transport.MsgKind]transport.Handler
	sent     [][]byte
	sentKind []transport.MsgKind
}

func newFakeBus() *fakeBus {
	return &fakeBus{handlers: make(map[transport.MsgKind]transport.Handler)}
}

func (b *fakeBus) Send(kind transport.MsgKind, payload []byte) error {
	return b.SendFrom(kind, payload, 0)
}
func (b *fakeBus) SendFrom(kind transport.MsgKind, payload []byte, senderID uint16) error {
	b.mu.Lock()
	b.sent = append(b.sent, append([]byte(nil), payload...))
	b.sentKind = append(b.sentKind, kind)
	b.mu.Unlock()
	return nil
}
func (b *fakeBus) RegisterCallback(kind transport.MsgKind, handler transport.Handler) (transport.CallbackHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = handler
	return transport.CallbackHandle{}, nil
}
func (b *fakeBus) UnregisterCallback(h transport.CallbackHandle) error      { return nil }
func (b *fakeBus) Log(level transport.LogLevel, format string, args ...any) {}

func (b *fakeBus) deliver(kind transport.MsgKind, senderID uint16, payload []byte) {
	b.mu.Lock()
	h := b.handlers[kind]
	b.mu.Unlock()
	if h != nil {
		h(senderID, payload)
	}
}

func (b *fakeBus) lastOf(kind transport.MsgKind) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.sentKind) - 1; i >= 0; i-- {
		if b.sentKind[i] == kind {
			return b.sent[i], true
		}
	}
	return nil, false
}

func TestRegisterOwnedSendsDefaultAndApplies(t *testing.T) {
	bus := newFakeBus()
	c := New(bus, 7)

	value := make([]byte, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.RegisterOwned(context.Background(), "sect", "name", value, 0 /* typereg.Int */, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	payload, ok := bus.lastOf(transport.Register)
	if !ok {
		t.Fatal("expected a REGISTER frame to be sent")
	}
	toks, _ := wire.Parse(payload)
	if string(toks.Section) != "sect" || string(toks.Name) != "name" {
		t.Fatalf("unexpected register payload: %+v", toks)
	}

	// Daemon replies OK with the same value (echo).
	resp := make([]byte, 64)
	resp[0] = byte(errcode.RegisterOK)
	section, name, val, typ := "sect", "name", "0", ""
	n, _ := wire.Format(resp[1:], &section, &name, &val, &typ)
	bus.deliver(transport.RegisterResp, transport.DaemonSenderID, resp[:1+n])

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RegisterOwned: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("RegisterOwned never returned")
	}
}

func TestRegisterOwnedRollsBackOnTimeout(t *testing.T) {
	bus := newFakeBus()
	c := New(bus, 7)

	value := make([]byte, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.register(ctx, "sect", "name", value, 0, 0, nil)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if _, ok := c.engine.Store.Lookup("sect", "name"); ok {
		t.Fatal("expected rollback to remove the setting on failure")
	}
}

func TestWriteReturnsDaemonStatus(t *testing.T) {
	bus := newFakeBus()
	c := New(bus, 7)

	value := []byte{7, 0, 0, 0}
	done := make(chan struct {
		code errcode.Code
		err  error
	}, 1)
	go func() {
		code, err := c.Write(context.Background(), "sect", "name", value, 0)
		done <- struct {
			code errcode.Code
			err  error
		}{code, err}
	}()

	time.Sleep(20 * time.Millisecond)
	resp := make([]byte, 64)
	resp[0] = byte(errcode.WriteValueRejected)
	section, name, val, typ := "sect", "name", "7", ""
	n, _ := wire.Format(resp[1:], &section, &name, &val, &typ)
	bus.deliver(transport.WriteResp, transport.DaemonSenderID, resp[:1+n])

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Write: %v", r.err)
		}
		if r.code != errcode.ValueRejected {
			t.Fatalf("status = %v, want ValueRejected", r.code)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Write never returned")
	}
}

func TestReadByIndexDone(t *testing.T) {
	bus := newFakeBus()
	c := New(bus, 7)

	done := make(chan struct {
		entry IndexEntry
		err   error
	}, 1)
	go func() {
		entry, err := c.ReadByIndex(context.Background(), 0)
		done <- struct {
			entry IndexEntry
			err   error
		}{entry, err}
	}()

	time.Sleep(20 * time.Millisecond)
	bus.deliver(transport.ReadByIndexDone, transport.DaemonSenderID, nil)

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("ReadByIndex: %v", r.err)
		}
		if !r.entry.Done {
			t.Fatal("expected Done entry")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ReadByIndex never returned")
	}
}
