// Package reqtable correlates outbound requests with their asynchronous
// bus replies: one Descriptor per in-flight exchange, matched by a linear
// scan over the prefix of an inbound payload.
package reqtable

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jangala-dev/settings-go/errcode"
	"github.com/jangala-dev/settings-go/transport"
)

// Descriptor is the caller-owned state for one outbound request. The table
// holds only a weak reference to it in its internal slice.
type Descriptor struct {
	Pending       bool
	Matched       bool
	MsgID         transport.MsgKind
	ComparePrefix []byte

	RespSection    string
	RespName       string
	RespValue      string
	RespType       string
	RespValueValid bool

	ReadByIndexDone bool
	Status          errcode.Code

	// done is always present: the single-threaded/multi-threaded split
	// collapses into "every request gets its own event".
	done chan struct{}
}

// NewDescriptor creates a pending descriptor for an outbound exchange of
// the given kind, correlated by prefix (a copy is taken).
func NewDescriptor(msgID transport.MsgKind, prefix []byte) *Descriptor {
	return &Descriptor{
		Pending:       true,
		MsgID:         msgID,
		ComparePrefix: append([]byte(nil), prefix...),
		Status:        errcode.Timeout,
		done:          make(chan struct{}, 1),
	}
}

// Wait blocks until the descriptor is signaled, the timeout elapses, or ctx
// is canceled. Returns true iff signaled.
func (d *Descriptor) Wait(ctx context.Context, timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-d.done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Table is the set of outstanding request descriptors.
type Table struct {
	mu          sync.Mutex
	descriptors []*Descriptor
}

func New() *Table {
	return &Table{}
}

// Append registers d as outstanding. Takes the table lock.
func (t *Table) Append(d *Descriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.descriptors = append(t.descriptors, d)
}

// Remove drops d from the table. Takes the table lock.
func (t *Table) Remove(d *Descriptor) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, e := range t.descriptors {
		if e == d {
			t.descriptors = append(t.descriptors[:i], t.descriptors[i+1:]...)
			return
		}
	}
}

// Check performs a linear scan for the first pending descriptor whose
// ComparePrefix is a prefix of payload.
func (t *Table) Check(payload []byte) (*Descriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range t.descriptors {
		if d.Pending && bytes.HasPrefix(payload, d.ComparePrefix) {
			return d, true
		}
	}
	return nil, false
}

// Signal marks d matched and wakes its waiter. It refuses to signal a
// descriptor whose MsgID doesn't match expectedMsgID, returning an error
// instead (a handler-side bug, not a protocol error).
func (t *Table) Signal(d *Descriptor, expectedMsgID transport.MsgKind) error {
	t.mu.Lock()
	if d.MsgID != expectedMsgID {
		t.mu.Unlock()
		return fmt.Errorf("reqtable: signal kind mismatch: descriptor=%v got=%v", d.MsgID, expectedMsgID)
	}
	d.Matched = true
	d.Pending = false
	t.mu.Unlock()

	select {
	case d.done <- struct{}{}:
	default:
	}
	return nil
}

// SignalAllReadByIndexDone releases every in-flight read-by-index iterator;
// a single done broadcast from the daemon can end several of them at once.
func (t *Table) SignalAllReadByIndexDone() {
	t.mu.Lock()
	var toWake []*Descriptor
	for _, d := range t.descriptors {
		if d.MsgID == transport.ReadByIndexReq {
			d.ReadByIndexDone = true
			d.Matched = true
			d.Pending = false
			toWake = append(toWake, d)
		}
	}
	t.mu.Unlock()

	for _, d := range toWake {
		select {
		case d.done <- struct{}{}:
		default:
		}
	}
}

// FreeAll marks every remaining descriptor non-pending and clears the
// table, used during context teardown.
func (t *Table) FreeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, d := range t.descriptors {
		d.Pending = false
	}
	t.descriptors = nil
}
