// Package daemon implements a minimal reference settings daemon: the peer
// spec.md places on the other end of the bus as authoritative owner of every
// registered setting. It is intentionally thin — an in-memory table and an
// accept-everything notify policy — existing only to drive a settings.Context
// through its full protocol in integration tests and the demo binary.
//
// Default values are seeded from an embedded JSON blob keyed by section and
// name, the same embedded-config-per-device shape as the teacher's
// services/config package, using the same tinyjson dependency to avoid
// pulling encoding/json's reflection machinery onto the MCU build.
package daemon

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/andreyvit/tinyjson"

	"github.com/jangala-dev/settings-go/errcode"
	"github.com/jangala-dev/settings-go/transport"
	"github.com/jangala-dev/settings-go/wire"
)

// entry is the daemon's authoritative record for one (section, name) pair.
type entry struct {
	value     string
	typ       string
	permanent bool // seeded from embedded JSON; overrides a registrant's proposed value
}

type key struct{ section, name string }

// Daemon arbitrates register/write/read against an in-memory table and
// answers read-by-index traversal in registration order.
type Daemon struct {
	bus        transport.Bus
	dispatcher *transport.Dispatcher

	mu    sync.Mutex
	table map[key]*entry
	order []key
}

// New wires a Daemon to bus, subscribing to every inbound request kind.
func New(bus transport.Bus) (*Daemon, error) {
	d := &Daemon{
		bus:   bus,
		table: make(map[key]*entry),
	}
	d.dispatcher = transport.NewDispatcher(bus)

	handlers := map[transport.MsgKind]transport.Handler{
		transport.Register:       d.handleRegister,
		transport.Write:          d.handleWrite,
		transport.ReadReq:        d.handleReadReq,
		transport.ReadByIndexReq: d.handleReadByIndexReq,
	}
	for kind, h := range handlers {
		if _, _, err := d.dispatcher.Register(kind, h); err != nil {
			return nil, fmt.Errorf("daemon: subscribe %v: %w", kind, err)
		}
	}
	return d, nil
}

// SeedEmbedded loads default values from raw JSON shaped as
// {"section": {"name": "value", ...}, ...}; every loaded value is marked
// permanent, so a later register proposing a different value is overridden
// rather than accepted (status RegisterOKPerm).
func (d *Daemon) SeedEmbedded(raw []byte) error {
	r := tinyjson.Raw(raw)
	val := r.Value()
	if err := r.EnsureEOF(); err != nil {
		return fmt.Errorf("daemon: embedded config: %w", err)
	}
	sections, ok := val.(map[string]any)
	if !ok {
		return fmt.Errorf("daemon: embedded config is not a JSON object")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for section, v := range sections {
		names, ok := v.(map[string]any)
		if !ok {
			continue
		}
		for name, raw := range names {
			text := fmt.Sprint(raw)
			k := key{section, name}
			if _, exists := d.table[k]; !exists {
				d.order = append(d.order, k)
			}
			d.table[k] = &entry{value: text, permanent: true}
		}
	}
	return nil
}

// handleRegister answers a registration: a fresh (section, name) is
// accepted with the registrant's proposed value (RegisterOK); a permanent
// entry seeded from embedded config keeps its own value and reports
// RegisterOKPerm; anything already registered by an earlier owner is
// reported as RegisterRegistered, echoing the current value.
func (d *Daemon) handleRegister(senderID uint16, payload []byte) {
	toks, res := wire.Parse(payload)
	if res < wire.Name {
		d.reply(transport.RegisterResp, errcode.RegisterParseFail, "", "", "", "")
		return
	}
	section, name := string(toks.Section), string(toks.Name)
	value, typ := "", ""
	if toks.Value != nil {
		value = string(toks.Value)
	}
	if toks.Type != nil {
		typ = string(toks.Type)
	}

	d.mu.Lock()
	k := key{section, name}
	e, exists := d.table[k]
	status := errcode.RegisterOK
	switch {
	case !exists:
		e = &entry{value: value, typ: typ}
		d.table[k] = e
		d.order = append(d.order, k)
	case e.permanent:
		if e.typ == "" {
			e.typ = typ
		}
		status = errcode.RegisterOKPerm
	default:
		status = errcode.RegisterRegistered
	}
	respValue, respType := e.value, e.typ
	d.mu.Unlock()

	d.reply(transport.RegisterResp, status, section, name, respValue, respType)
}

// handleWrite applies an inbound write against the table and replies with
// the resulting status and the setting's current identity.
func (d *Daemon) handleWrite(senderID uint16, payload []byte) {
	toks, res := wire.Parse(payload)
	if res < wire.Value {
		d.replyWrite(errcode.ParseFailed, "", "", "", "")
		return
	}
	section, name := string(toks.Section), string(toks.Name)
	value, typ := "", ""
	if toks.Value != nil {
		value = string(toks.Value)
	}
	if toks.Type != nil {
		typ = string(toks.Type)
	}

	d.mu.Lock()
	e, exists := d.table[key{section, name}]
	code := errcode.OK
	switch {
	case !exists:
		code = errcode.SettingRejected
	case e.permanent:
		code = errcode.ModifyDisabled
	case len(toks.Value) > transport.MaxPayload:
		code = errcode.ValueRejected
	default:
		e.value = value
		if typ != "" {
			e.typ = typ
		}
	}
	var respValue, respType string
	if exists {
		respValue, respType = e.value, e.typ
	}
	d.mu.Unlock()

	d.replyWrite(code, section, name, respValue, respType)
}

// handleReadReq answers a read by name; an unknown setting gets back its
// section/name with no value token, which primes a watch without error.
func (d *Daemon) handleReadReq(senderID uint16, payload []byte) {
	toks, res := wire.Parse(payload)
	if res < wire.Name {
		return
	}
	section, name := string(toks.Section), string(toks.Name)

	d.mu.Lock()
	e, exists := d.table[key{section, name}]
	d.mu.Unlock()

	if !exists {
		buf := make([]byte, len(section)+len(name)+2)
		n, _ := wire.Format(buf, &section, &name, nil, nil)
		if err := d.bus.SendFrom(transport.ReadResp, buf[:n], transport.DaemonSenderID); err != nil {
			d.bus.Log(transport.LogWarn, "daemon: %v send failed: %v", transport.ReadResp, err)
		}
		return
	}
	d.reply(transport.ReadResp, 0, section, name, e.value, e.typ)
}

// handleReadByIndexReq answers one step of index-ordered traversal; an
// out-of-range index yields a done broadcast instead.
func (d *Daemon) handleReadByIndexReq(senderID uint16, payload []byte) {
	if len(payload) < 2 {
		return
	}
	idx := int(binary.LittleEndian.Uint16(payload))

	d.mu.Lock()
	var k key
	var e *entry
	if idx >= 0 && idx < len(d.order) {
		k = d.order[idx]
		e = d.table[k]
	}
	d.mu.Unlock()

	if e == nil {
		if err := d.bus.SendFrom(transport.ReadByIndexDone, nil, transport.DaemonSenderID); err != nil {
			d.bus.Log(transport.LogWarn, "daemon: read-by-index-done send failed: %v", err)
		}
		return
	}

	prefix := payload[:2]
	section, name, value, typ := k.section, k.name, e.value, e.typ
	body := make([]byte, 2+len(section)+len(name)+len(value)+len(typ)+4)
	copy(body, prefix)
	n, err := wire.Format(body[2:], &section, &name, &value, &typ)
	if err != nil {
		d.bus.Log(transport.LogWarn, "daemon: read-by-index-response format failed: %v", err)
		return
	}
	if err := d.bus.SendFrom(transport.ReadByIndexResp, body[:2+n], transport.DaemonSenderID); err != nil {
		d.bus.Log(transport.LogWarn, "daemon: read-by-index-response send failed: %v", err)
	}
}

// reply formats and sends a register-response or read-response frame.
// Read-response carries no status byte on the wire, so status is only
// meaningful when kind is RegisterResp.
func (d *Daemon) reply(kind transport.MsgKind, status errcode.RegisterStatus, section, name, value, typ string) {
	var buf []byte
	var offset int
	if kind == transport.RegisterResp {
		buf = make([]byte, 1+len(section)+len(name)+len(value)+len(typ)+4)
		buf[0] = byte(status)
		offset = 1
	} else {
		buf = make([]byte, len(section)+len(name)+len(value)+len(typ)+4)
	}
	n, err := wire.Format(buf[offset:], &section, &name, &value, &typ)
	if err != nil {
		d.bus.Log(transport.LogWarn, "daemon: %v response format failed: %v", kind, err)
		return
	}
	if err := d.bus.SendFrom(kind, buf[:offset+n], transport.DaemonSenderID); err != nil {
		d.bus.Log(transport.LogWarn, "daemon: %v send failed: %v", kind, err)
	}
}

func (d *Daemon) replyWrite(code errcode.Code, section, name, value, typ string) {
	buf := make([]byte, 1+len(section)+len(name)+len(value)+len(typ)+4)
	buf[0] = byte(code.ToWriteStatus())
	n, err := wire.Format(buf[1:], &section, &name, &value, &typ)
	if err != nil {
		d.bus.Log(transport.LogWarn, "daemon: write-response format failed: %v", err)
		return
	}
	if err := d.bus.SendFrom(transport.WriteResp, buf[:1+n], transport.DaemonSenderID); err != nil {
		d.bus.Log(transport.LogWarn, "daemon: write-response send failed: %v", err)
	}
}

// Close releases the daemon's bus subscriptions.
func (d *Daemon) Close() error {
	for _, kind := range []transport.MsgKind{
		transport.Register, transport.Write, transport.ReadReq, transport.ReadByIndexReq,
	} {
		if _, err := d.dispatcher.Unregister(kind); err != nil {
			return err
		}
	}
	return nil
}
