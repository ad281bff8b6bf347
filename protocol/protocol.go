// Package protocol implements the six wire exchanges of the settings
// protocol as synchronous operations over the asynchronous transport.Bus:
// the outbound request/reply loop (Perform) and the inbound handlers that
// update the local store and wake pending requests.
package protocol

import (
	"context"
	"fmt"
	"time"

	"github.com/jangala-dev/settings-go/errcode"
	"github.com/jangala-dev/settings-go/reqtable"
	"github.com/jangala-dev/settings-go/store"
	"github.com/jangala-dev/settings-go/transport"
	"github.com/jangala-dev/settings-go/typereg"
	"github.com/jangala-dev/settings-go/wire"
	"github.com/jangala-dev/settings-go/x/mathx"
)

// Default retry/timeout policy for register, write, read, and
// watch-initialization exchanges: 500ms per attempt, 5 retries.
const (
	DefaultTimeout = 500 * time.Millisecond
	DefaultRetries = 5
)

// minTimeout/maxRetries bound the values Perform will actually honor, so a
// misconfigured caller can't busy-loop the bus or block forever.
const (
	minTimeout = 10 * time.Millisecond
	maxRetries = 20
)

// ErrTimeout is returned by Perform when every attempt goes unanswered.
var ErrTimeout = fmt.Errorf("protocol: %s", errcode.Timeout)

// Engine ties the store, type registry, request table, and bus-callback
// dispatcher together and drives the protocol exchanges over a Bus.
type Engine struct {
	Bus        transport.Bus
	Dispatcher *transport.Dispatcher
	Requests   *reqtable.Table
	Store      *store.Store
	Registry   *typereg.Registry
	SenderID   uint16
}

func NewEngine(bus transport.Bus, registry *typereg.Registry, st *store.Store, senderID uint16) *Engine {
	return &Engine{
		Bus:        bus,
		Dispatcher: transport.NewDispatcher(bus),
		Requests:   reqtable.New(),
		Store:      st,
		Registry:   registry,
		SenderID:   senderID,
	}
}

// Perform sends payload as kind, retrying up to retries+1 total attempts at
// timeout intervals, and blocks until a correlated response signals the
// request or the retry budget is exhausted. prefixLen bytes of payload
// become the descriptor's correlation prefix.
func (e *Engine) Perform(ctx context.Context, kind transport.MsgKind, payload []byte, prefixLen int, timeout time.Duration, retries int) (*reqtable.Descriptor, error) {
	timeout = mathx.Clamp(timeout, minTimeout, DefaultTimeout*10)
	retries = mathx.Clamp(retries, 0, maxRetries)

	d := reqtable.NewDescriptor(kind, payload[:prefixLen])
	e.Requests.Append(d)
	defer e.Requests.Remove(d)

	for attempt := 0; attempt <= retries; attempt++ {
		if err := e.Bus.SendFrom(kind, payload, e.SenderID); err != nil {
			e.Bus.Log(transport.LogWarn, "perform: send %v failed: %v", kind, err)
		}
		if d.Wait(ctx, timeout) && d.Matched {
			return d, nil
		}
		if ctx.Err() != nil {
			return d, ctx.Err()
		}
	}
	return d, ErrTimeout
}

// EnsureSubscribed installs the bus callback for each kind, idempotently.
func (e *Engine) EnsureSubscribed(kinds ...transport.MsgKind) error {
	for _, k := range kinds {
		h := e.handlerFor(k)
		if h == nil {
			return fmt.Errorf("protocol: no handler for kind %v", k)
		}
		if _, _, err := e.Dispatcher.Register(k, h); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) handlerFor(kind transport.MsgKind) transport.Handler {
	switch kind {
	case transport.RegisterResp:
		return e.handleRegisterResp
	case transport.Write:
		return e.handleWrite
	case transport.WriteResp:
		return e.handleWriteResponse
	case transport.ReadResp:
		return e.handleReadResponse
	case transport.ReadByIndexResp:
		return e.handleReadByIndexResponse
	case transport.ReadByIndexDone:
		return e.handleReadByIndexDone
	default:
		return nil
	}
}

// handleRegisterResp applies the daemon's authoritative value to the
// registered setting and signals the pending register request.
func (e *Engine) handleRegisterResp(senderID uint16, payload []byte) {
	if senderID != transport.DaemonSenderID || len(payload) < 1 {
		return
	}
	status, rest := payload[0], payload[1:]
	if code := errcode.FromRegisterStatus(status); code == errcode.ParseFailed {
		e.Bus.Log(transport.LogDebug, "register-response: daemon reported parse failure, awaiting retry")
		return
	}

	toks, res := wire.Parse(rest)
	if res < wire.Section {
		return
	}
	d, ok := e.Requests.Check(rest)
	if !ok {
		return
	}
	if toks.Value != nil {
		if s, found := e.Store.Lookup(string(toks.Section), string(toks.Name)); found {
			e.Store.ApplyDaemonValue(s, string(toks.Value))
		}
		d.RespValueValid = true
		d.RespValue = string(toks.Value)
	}
	if err := e.Requests.Signal(d, transport.Register); err != nil {
		e.Bus.Log(transport.LogWarn, "register-response: %v", err)
	}
}

// handleWrite applies an inbound write to a setting this client owns and
// replies with a write-response carrying the resulting status.
func (e *Engine) handleWrite(senderID uint16, payload []byte) {
	if senderID != transport.DaemonSenderID {
		return
	}
	toks, res := wire.Parse(payload)
	if res < wire.Value {
		return
	}
	section, name := string(toks.Section), string(toks.Name)

	s, found := e.Store.Lookup(section, name)
	if !found {
		e.sendWriteResponseRejected(section, name, errcode.SettingRejected)
		return
	}
	if s.Mode == store.Watch {
		return
	}
	if len(toks.Value) > transport.MaxPayload {
		e.sendWriteResponseFor(s, errcode.ValueRejected)
		return
	}

	code := e.Store.Update(s, string(toks.Value))
	e.sendWriteResponseFor(s, code)
}

func (e *Engine) sendWriteResponseFor(s *store.Setting, code errcode.Code) {
	codec, ok := e.Registry.Lookup(s.TypeID)
	valueText, typeText := "", ""
	if ok {
		valueText = codec.ToText(s.Value)
		typeText = codec.DescribeType()
	}
	e.sendWriteResponse(s.Section, s.Name, valueText, typeText, code)
}

func (e *Engine) sendWriteResponseRejected(section, name string, code errcode.Code) {
	e.sendWriteResponse(section, name, "", "", code)
}

func (e *Engine) sendWriteResponse(section, name, value, typ string, code errcode.Code) {
	buf := make([]byte, 1+len(section)+len(name)+len(value)+len(typ)+4)
	buf[0] = byte(code.ToWriteStatus())
	n, err := wire.Format(buf[1:], &section, &name, &value, &typ)
	if err != nil {
		e.Bus.Log(transport.LogWarn, "write-response: format failed: %v", err)
		return
	}
	if err := e.Bus.SendFrom(transport.WriteResp, buf[:1+n], e.SenderID); err != nil {
		e.Bus.Log(transport.LogWarn, "write-response: send failed: %v", err)
	}
}

// handleWriteResponse confirms an outbound write, propagates the new value
// to any local watch, and signals the pending write request.
func (e *Engine) handleWriteResponse(senderID uint16, payload []byte) {
	if senderID != transport.DaemonSenderID || len(payload) < 1 {
		return
	}
	status, rest := payload[0], payload[1:]
	code := errcode.FromWriteStatus(status)

	toks, res := wire.Parse(rest)
	if res < wire.Name {
		return
	}

	if code == errcode.OK && toks.Value != nil {
		if w, found := e.Store.Lookup(string(toks.Section), string(toks.Name)); found && w.Mode == store.Watch {
			if upd := e.Store.Update(w, string(toks.Value)); upd != errcode.OK {
				e.Bus.Log(transport.LogWarn, "watch update from write-response failed: %v", upd)
			}
		}
	}

	d, ok := e.Requests.Check(rest)
	if !ok {
		return
	}
	d.Status = code
	if err := e.Requests.Signal(d, transport.Write); err != nil {
		e.Bus.Log(transport.LogWarn, "write-response: %v", err)
	}
}

// handleReadResponse captures the response into the pending descriptor and
// drives any local watch on the same setting.
func (e *Engine) handleReadResponse(senderID uint16, payload []byte) {
	if senderID != transport.DaemonSenderID {
		return
	}
	toks, _ := wire.Parse(payload)
	d, ok := e.Requests.Check(payload)
	if !ok {
		return
	}
	applyReadCapture(d, toks)
	if err := e.Requests.Signal(d, transport.ReadReq); err != nil {
		e.Bus.Log(transport.LogWarn, "read-response: %v", err)
	}
	if toks.Value != nil {
		if w, found := e.Store.Lookup(string(toks.Section), string(toks.Name)); found && w.Mode == store.Watch {
			if upd := e.Store.Update(w, string(toks.Value)); upd != errcode.OK {
				e.Bus.Log(transport.LogWarn, "watch update from read-response failed: %v", upd)
			}
		}
	}
}

// handleReadByIndexResponse captures a read-by-index response keyed by its
// 2-byte index prefix.
func (e *Engine) handleReadByIndexResponse(senderID uint16, payload []byte) {
	if senderID != transport.DaemonSenderID || len(payload) < 2 {
		return
	}
	toks, _ := wire.Parse(payload[2:])
	d, ok := e.Requests.Check(payload)
	if !ok {
		return
	}
	applyReadCapture(d, toks)
	if err := e.Requests.Signal(d, transport.ReadByIndexReq); err != nil {
		e.Bus.Log(transport.LogWarn, "read-by-index-response: %v", err)
	}
}

// handleReadByIndexDone releases every in-flight read-by-index iterator.
func (e *Engine) handleReadByIndexDone(senderID uint16, payload []byte) {
	if senderID != transport.DaemonSenderID {
		return
	}
	e.Requests.SignalAllReadByIndexDone()
}

func applyReadCapture(d *reqtable.Descriptor, toks wire.Tokens) {
	d.RespSection = string(toks.Section)
	d.RespName = string(toks.Name)
	d.RespValueValid = toks.Value != nil
	if toks.Value != nil {
		d.RespValue = string(toks.Value)
	}
	if toks.Type != nil {
		d.RespType = string(toks.Type)
	}
}
