// Package localbus adapts the in-process topic-trie pub/sub bus (package
// bus) to the transport.Bus interface: one topic per message kind, the
// sender id stamped into the message's first two payload bytes since the
// generic bus carries no sender-identity concept of its own.
package localbus

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/jangala-dev/settings-go/bus"
	"github.com/jangala-dev/settings-go/transport"
	"github.com/jangala-dev/settings-go/x/fmtx"
)

// Bus wraps one bus.Connection as a transport.Bus.
type Bus struct {
	conn *bus.Connection

	mu   sync.Mutex
	subs map[transport.MsgKind]*bus.Subscription
}

// New wraps conn, a connection already established on the shared bus.
func New(conn *bus.Connection) *Bus {
	return &Bus{conn: conn, subs: make(map[transport.MsgKind]*bus.Subscription)}
}

func topicFor(kind transport.MsgKind) bus.Topic {
	return bus.T("settings", int(kind))
}

func (b *Bus) Send(kind transport.MsgKind, payload []byte) error {
	return b.SendFrom(kind, payload, 0)
}

// SendFrom stamps senderID into the first two bytes (big-endian) of the
// published payload so a receiving adapter can recover it.
func (b *Bus) SendFrom(kind transport.MsgKind, payload []byte, senderID uint16) error {
	framed := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(framed, senderID)
	copy(framed[2:], payload)
	b.conn.Publish(&bus.Message{Topic: topicFor(kind), Payload: framed})
	return nil
}

// RegisterCallback subscribes to kind's topic and fans inbound messages out
// to handler from a dedicated goroutine per kind.
func (b *Bus) RegisterCallback(kind transport.MsgKind, handler transport.Handler) (transport.CallbackHandle, error) {
	sub := b.conn.Subscribe(topicFor(kind))

	go func() {
		for m := range sub.Channel() {
			framed, ok := m.Payload.([]byte)
			if !ok || len(framed) < 2 {
				continue
			}
			senderID := binary.BigEndian.Uint16(framed)
			handler(senderID, framed[2:])
		}
	}()

	b.mu.Lock()
	b.subs[kind] = sub
	b.mu.Unlock()
	return transport.CallbackHandle{Kind: kind}, nil
}

func (b *Bus) UnregisterCallback(h transport.CallbackHandle) error {
	b.mu.Lock()
	sub, ok := b.subs[h.Kind]
	delete(b.subs, h.Kind)
	b.mu.Unlock()
	if !ok {
		return fmtx.Errorf("localbus: no subscription for kind %s", h.Kind.String())
	}
	b.conn.Unsubscribe(sub)
	return nil
}

// Log forwards to the connection's retained state topic, mirroring the
// teacher's publishState pattern: a structured, level-tagged retained
// message any other connection can observe.
func (b *Bus) Log(level transport.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	b.conn.Publish(&bus.Message{
		Topic:    bus.T("settings", "log"),
		Payload:  map[string]any{"level": int(level), "msg": msg},
		Retained: true,
	})
}
