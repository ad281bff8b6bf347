// Package transport defines the bus-facing boundary the protocol engine
// talks through, plus the callback dispatcher that keeps exactly one bus
// subscription alive per message kind.
package transport

import "github.com/jangala-dev/settings-go/x/fmtx"

// MsgKind identifies one of the nine wire exchange message kinds. Values are
// opaque to the bus layer; only their equality matters.
type MsgKind int

const (
	Register MsgKind = iota
	RegisterResp
	Write
	WriteResp
	ReadReq
	ReadResp
	ReadByIndexReq
	ReadByIndexResp
	ReadByIndexDone
)

func (k MsgKind) String() string {
	names := [...]string{
		"REGISTER", "REGISTER_RESP", "WRITE", "WRITE_RESP",
		"READ_REQ", "READ_RESP", "READ_BY_INDEX_REQ", "READ_BY_INDEX_RESP",
		"READ_BY_INDEX_DONE",
	}
	if int(k) < 0 || int(k) >= len(names) {
		return fmtx.Sprintf("MsgKind(%d)", int(k))
	}
	return names[k]
}

// DaemonSenderID is the well-known sender id of the settings daemon;
// protocol messages from any other sender are ignored.
const DaemonSenderID uint16 = 0x42

// MaxPayload is the maximum single-payload length accepted on the wire.
const MaxPayload = 255

// LogLevel mirrors the severities the bus's log hook accepts.
type LogLevel int

const (
	LogDebug LogLevel = iota
	LogInfo
	LogWarn
	LogError
)

// Handler is invoked for every inbound frame of a registered kind.
type Handler func(senderID uint16, payload []byte)

// CallbackHandle identifies one bus-side registration. Its Kind field is set
// by the Bus implementation that created it and is opaque to Dispatcher,
// which only ever passes it back to UnregisterCallback.
type CallbackHandle struct {
	Kind MsgKind
}

// Bus is the capability record the client embeds: send, subscribe, and log,
// expressed as a Go interface instead of the original's function-pointer
// struct. It collapses the single/multi-threaded wait hooks into ordinary
// Go channels internal to reqtable/protocol: there is no wait/signal/lock
// surface here.
type Bus interface {
	Send(kind MsgKind, payload []byte) error
	SendFrom(kind MsgKind, payload []byte, senderID uint16) error
	RegisterCallback(kind MsgKind, handler Handler) (CallbackHandle, error)
	UnregisterCallback(h CallbackHandle) error
	Log(level LogLevel, format string, args ...any)
}

// Dispatcher keeps at most one bus subscription alive per MsgKind,
// regardless of how many features in the engine want to hear it.
type Dispatcher struct {
	bus    Bus
	active map[MsgKind]CallbackHandle
}

func NewDispatcher(bus Bus) *Dispatcher {
	return &Dispatcher{bus: bus, active: make(map[MsgKind]CallbackHandle)}
}

// Register is idempotent: the first caller for a kind installs the bus
// subscription; subsequent callers for the same kind are no-ops and return
// alreadyRegistered=true to indicate an existing registration was reused
// (they still get a usable handle).
func (d *Dispatcher) Register(kind MsgKind, handler Handler) (handle CallbackHandle, alreadyRegistered bool, err error) {
	if h, ok := d.active[kind]; ok {
		return h, true, nil
	}
	h, err := d.bus.RegisterCallback(kind, handler)
	if err != nil {
		return CallbackHandle{}, false, err
	}
	d.active[kind] = h
	return h, false, nil
}

// Unregister removes the subscription for kind. It reports present=false if
// no subscription for that kind existed.
func (d *Dispatcher) Unregister(kind MsgKind) (present bool, err error) {
	h, ok := d.active[kind]
	if !ok {
		return false, nil
	}
	if err := d.bus.UnregisterCallback(h); err != nil {
		return true, err
	}
	delete(d.active, kind)
	return true, nil
}

// ActiveCount reports the number of distinct kinds currently subscribed;
// used by tests asserting dispatcher idempotence.
func (d *Dispatcher) ActiveCount() int {
	return len(d.active)
}

// IsActive reports whether kind currently has a live subscription.
func (d *Dispatcher) IsActive(kind MsgKind) bool {
	_, ok := d.active[kind]
	return ok
}
