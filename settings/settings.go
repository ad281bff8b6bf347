// Package settings is the public API: Context lifecycle, typed register/
// write/read helpers, and notify wiring, built on top of protocol.Engine.
package settings

import (
	"context"
	"encoding/binary"
	"iter"
	"strings"

	"github.com/jangala-dev/settings-go/errcode"
	"github.com/jangala-dev/settings-go/protocol"
	"github.com/jangala-dev/settings-go/reqtable"
	"github.com/jangala-dev/settings-go/store"
	"github.com/jangala-dev/settings-go/transport"
	"github.com/jangala-dev/settings-go/typereg"
	"github.com/jangala-dev/settings-go/wire"
	"github.com/jangala-dev/settings-go/x/fmtx"
)

// Context is the client's entry point: one per bus connection. It owns the
// type registry, the setting store, and the protocol engine driving them.
type Context struct {
	engine *protocol.Engine
}

// New creates a Context talking to bus, identifying itself with senderID.
func New(bus transport.Bus, senderID uint16) *Context {
	reg := typereg.New()
	st := store.New(reg)
	return &Context{engine: protocol.NewEngine(bus, reg, st, senderID)}
}

// Registry exposes the type registry so callers can add enum codecs before
// registering settings that use them.
func (c *Context) Registry() *typereg.Registry { return c.engine.Registry }

// Close tears down every outstanding request descriptor; callers must not
// use the Context afterward.
func (c *Context) Close() {
	c.engine.Requests.FreeAll()
}

// RegisterOwned registers value as an owned, writable setting. value is a
// fixed-width buffer the caller continues to own; its width selects the
// concrete integer/float codec width. notify, if non-nil, is consulted
// before every externally-initiated write.
func (c *Context) RegisterOwned(ctx context.Context, section, name string, value []byte, typeID int, notify store.NotifyFunc) error {
	return c.register(ctx, section, name, value, typeID, store.OwnedRW, notify)
}

// RegisterReadonly registers value as an owned, read-only setting: the
// daemon's register-response value is applied, but external writes are
// rejected with ReadOnly.
func (c *Context) RegisterReadonly(ctx context.Context, section, name string, value []byte, typeID int) error {
	return c.register(ctx, section, name, value, typeID, store.OwnedRO, nil)
}

func (c *Context) register(ctx context.Context, section, name string, value []byte, typeID int, mode store.Mode, notify store.NotifyFunc) error {
	s := &store.Setting{Section: section, Name: name, Value: value, TypeID: typeID, Mode: mode, Notify: notify}
	if err := c.engine.Store.Insert(s); err != nil {
		return err
	}
	if err := c.engine.EnsureSubscribed(transport.RegisterResp, transport.Write); err != nil {
		c.engine.Store.Remove(section, name)
		return err
	}

	codec, ok := c.engine.Registry.Lookup(typeID)
	if !ok {
		c.engine.Store.Remove(section, name)
		return fmtx.Errorf("settings: unknown type id %d", typeID)
	}
	valueText := codec.ToText(value)
	typeText := codec.DescribeType()

	payload := make([]byte, transport.MaxPayload+8)
	n, err := wire.Format(payload, &section, &name, &valueText, &typeText)
	if err != nil {
		c.engine.Store.Remove(section, name)
		return err
	}
	prefixN := tokenPrefixLen(section, name)

	if _, err := c.engine.Perform(ctx, transport.Register, payload[:n], prefixN, protocol.DefaultTimeout, protocol.DefaultRetries); err != nil {
		c.engine.Store.Remove(section, name)
		return err
	}
	return nil
}

// RegisterWatch installs a local mirror of a setting owned elsewhere. A
// priming read is issued; if the daemon has no value yet the watch stays
// registered and is populated by a later write-response broadcast.
func (c *Context) RegisterWatch(ctx context.Context, section, name string, value []byte, typeID int) error {
	s := &store.Setting{Section: section, Name: name, Value: value, TypeID: typeID, Mode: store.Watch}
	if err := c.engine.Store.Insert(s); err != nil {
		return err
	}
	if err := c.engine.EnsureSubscribed(transport.WriteResp, transport.ReadResp); err != nil {
		c.engine.Store.Remove(section, name)
		return err
	}

	d, err := c.performRead(ctx, section, name)
	if err != nil {
		// A priming read that times out leaves the watch registered; the
		// daemon may simply have nothing yet. Only store-level failures
		// (handled above) invalidate registration.
		c.engine.Bus.Log(transport.LogDebug, "watch %s/%s: priming read did not complete: %v", section, name, err)
		return nil
	}
	if d.RespValueValid {
		c.engine.Store.ApplyDaemonValue(s, d.RespValue)
	}
	return nil
}

// Write performs a write exchange for (section, name) and returns the
// daemon's resulting status.
func (c *Context) Write(ctx context.Context, section, name string, value []byte, typeID int) (errcode.Code, error) {
	codec, ok := c.engine.Registry.Lookup(typeID)
	if !ok {
		return errcode.Error, fmtx.Errorf("settings: unknown type id %d", typeID)
	}
	if err := c.engine.EnsureSubscribed(transport.WriteResp); err != nil {
		return errcode.Error, err
	}

	valueText := codec.ToText(value)
	typeText := codec.DescribeType()

	payload := make([]byte, transport.MaxPayload+8)
	n, err := wire.Format(payload, &section, &name, &valueText, &typeText)
	if err != nil {
		return errcode.Error, err
	}
	prefixN := tokenPrefixLen(section, name)

	d, err := c.engine.Perform(ctx, transport.Write, payload[:n], prefixN, protocol.DefaultTimeout, protocol.DefaultRetries)
	if err != nil {
		return errcode.Timeout, err
	}
	return d.Status, nil
}

// Read performs a read exchange for (section, name), decoding the response
// into out using typeID's codec.
func (c *Context) Read(ctx context.Context, section, name string, out []byte, typeID int) error {
	codec, ok := c.engine.Registry.Lookup(typeID)
	if !ok {
		return fmtx.Errorf("settings: unknown type id %d", typeID)
	}
	if err := c.engine.EnsureSubscribed(transport.ReadResp); err != nil {
		return err
	}

	d, err := c.performRead(ctx, section, name)
	if err != nil {
		return errcode.Timeout
	}
	if !d.RespValueValid {
		return errcode.SettingRejected
	}
	// Enum responses are accepted against any requested type; built-in
	// responses must match the requested codec's (empty) type tag exactly.
	if !strings.HasPrefix(d.RespType, "enum:") && d.RespType != codec.DescribeType() {
		return errcode.ParseFailed
	}
	if !codec.FromText(d.RespValue, out) {
		return errcode.ParseFailed
	}
	return nil
}

func (c *Context) performRead(ctx context.Context, section, name string) (*reqtable.Descriptor, error) {
	payload := make([]byte, tokenPrefixLen(section, name))
	n, _ := wire.Format(payload, &section, &name, nil, nil)
	return c.engine.Perform(ctx, transport.ReadReq, payload[:n], n, protocol.DefaultTimeout, protocol.DefaultRetries)
}

// IndexEntry is one entry returned by ReadByIndex/AllSettings.
type IndexEntry struct {
	Section, Name, Value, Type string
	Done                       bool
}

// ReadByIndex returns the entry at index, or an entry with Done set once
// the daemon's iteration has been exhausted.
func (c *Context) ReadByIndex(ctx context.Context, index uint16) (IndexEntry, error) {
	if err := c.engine.EnsureSubscribed(transport.ReadByIndexResp, transport.ReadByIndexDone); err != nil {
		return IndexEntry{}, err
	}
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, index)

	d, err := c.engine.Perform(ctx, transport.ReadByIndexReq, payload, 2, protocol.DefaultTimeout, protocol.DefaultRetries)
	if err != nil {
		return IndexEntry{}, err
	}
	if d.ReadByIndexDone {
		return IndexEntry{Done: true}, nil
	}
	return IndexEntry{Section: d.RespSection, Name: d.RespName, Value: d.RespValue, Type: d.RespType}, nil
}

// AllSettings iterates ReadByIndex from zero until the daemon signals done.
// Pure composition over the spec'd primitive; it introduces no new wire
// behavior.
func (c *Context) AllSettings(ctx context.Context) iter.Seq[IndexEntry] {
	return func(yield func(IndexEntry) bool) {
		for idx := uint16(0); ; idx++ {
			entry, err := c.ReadByIndex(ctx, idx)
			if err != nil || entry.Done {
				return
			}
			if !yield(entry) {
				return
			}
		}
	}
}

func tokenPrefixLen(section, name string) int {
	return len(section) + 1 + len(name) + 1
}
