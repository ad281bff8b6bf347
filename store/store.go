// Package store is the in-memory collection of registered settings: owned,
// readonly, and watched entries, section-grouped, with the shadow-buffer
// revert-on-failure update algorithm.
package store

import (
	"errors"

	"github.com/jangala-dev/settings-go/errcode"
	"github.com/jangala-dev/settings-go/typereg"
)

// Mode classifies how a setting's value may change.
type Mode int

const (
	OwnedRW Mode = iota
	OwnedRO
	Watch
)

// NotifyFunc is invoked after a tentative update, before it is committed.
// A non-OK return triggers a revert for non-watch settings.
type NotifyFunc func(ctx any, s *Setting, text string) errcode.Code

// Setting is one registered configuration parameter.
type Setting struct {
	Section string
	Name    string

	Value  []byte // caller-owned buffer; store never reallocates it
	shadow []byte // store-owned, same length as Value

	TypeID int
	Mode   Mode

	Notify    NotifyFunc
	NotifyCtx any
}

var ErrNotFound = errors.New("store: no such setting")
var ErrDuplicate = errors.New("store: setting already registered")

// Store is the ordered, section-grouped collection of settings.
type Store struct {
	registry *typereg.Registry
	order    []*Setting
}

func New(registry *typereg.Registry) *Store {
	return &Store{registry: registry}
}

// Insert adds s to the collection, placing it after the last existing
// setting in the same section, or appending if the section is new.
func (st *Store) Insert(s *Setting) error {
	if _, ok := st.find(s.Section, s.Name); ok {
		return ErrDuplicate
	}
	s.shadow = make([]byte, len(s.Value))

	last := -1
	for i, e := range st.order {
		if e.Section == s.Section {
			last = i
		}
	}
	if last == -1 {
		st.order = append(st.order, s)
		return nil
	}
	st.order = append(st.order, nil)
	copy(st.order[last+2:], st.order[last+1:])
	st.order[last+1] = s
	return nil
}

// Lookup finds a setting by exact (section, name).
func (st *Store) Lookup(section, name string) (*Setting, bool) {
	return st.find(section, name)
}

func (st *Store) find(section, name string) (*Setting, bool) {
	for _, e := range st.order {
		if e.Section == section && e.Name == name {
			return e, true
		}
	}
	return nil, false
}

// Remove unlinks a setting from the collection.
func (st *Store) Remove(section, name string) {
	for i, e := range st.order {
		if e.Section == section && e.Name == name {
			st.order = append(st.order[:i], st.order[i+1:]...)
			return
		}
	}
}

// All returns the settings in section-grouped insertion order.
func (st *Store) All() []*Setting {
	return st.order
}

// AtIndex returns the setting at position idx in section-grouped insertion
// order.
func (st *Store) AtIndex(idx int) (*Setting, bool) {
	if idx < 0 || idx >= len(st.order) {
		return nil, false
	}
	return st.order[idx], true
}

// ApplyDaemonValue writes the daemon's authoritative value directly into
// s.Value, bypassing the owned_ro guard, shadow buffer, and notify callback
// that Update applies to caller-initiated writes. Used only when applying a
// register-response or broadcast value the daemon already accepted.
func (st *Store) ApplyDaemonValue(s *Setting, text string) bool {
	codec, ok := st.registry.Lookup(s.TypeID)
	if !ok {
		return false
	}
	return codec.FromText(text, s.Value)
}

// Update runs the shadow-buffer revert-on-failure algorithm against text.
func (st *Store) Update(s *Setting, text string) errcode.Code {
	if s.Mode == OwnedRO {
		return errcode.ReadOnly
	}

	codec, ok := st.registry.Lookup(s.TypeID)
	if !ok {
		return errcode.ParseFailed
	}

	copy(s.shadow, s.Value)

	if !codec.FromText(text, s.Value) {
		copy(s.Value, s.shadow)
		return errcode.ParseFailed
	}

	if s.Notify == nil {
		return errcode.OK
	}

	result := s.Notify(s.NotifyCtx, s, text)

	if s.Mode == Watch {
		return errcode.OK
	}
	if result != errcode.OK {
		copy(s.Value, s.shadow)
		return result
	}
	return errcode.OK
}
