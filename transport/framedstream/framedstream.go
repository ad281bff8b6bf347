// Package framedstream adapts an io.ReadWriteCloser (a UART link, a TCP
// socket) to transport.Bus using the same length-prefixed frame format as
// the teacher's bridge service: a 1-byte type plus a 2-byte big-endian
// length, generalized here from ping/pub/sub/ack/close to the nine settings
// wire kinds, with the sender id carried as the frame payload's first two
// bytes (symmetric with localbus).
package framedstream

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/jangala-dev/settings-go/transport"
	"github.com/jangala-dev/settings-go/x/fmtx"
)

// frameType maps a MsgKind to its on-wire frame type byte.
type frameType byte

const (
	typeRegister        frameType = 0x01
	typeRegisterResp    frameType = 0x02
	typeWrite           frameType = 0x03
	typeWriteResp       frameType = 0x04
	typeReadReq         frameType = 0x05
	typeReadResp        frameType = 0x06
	typeReadByIndexReq  frameType = 0x07
	typeReadByIndexResp frameType = 0x08
	typeReadByIndexDone frameType = 0x09
)

var kindToType = map[transport.MsgKind]frameType{
	transport.Register:        typeRegister,
	transport.RegisterResp:    typeRegisterResp,
	transport.Write:           typeWrite,
	transport.WriteResp:       typeWriteResp,
	transport.ReadReq:         typeReadReq,
	transport.ReadResp:        typeReadResp,
	transport.ReadByIndexReq:  typeReadByIndexReq,
	transport.ReadByIndexResp: typeReadByIndexResp,
	transport.ReadByIndexDone: typeReadByIndexDone,
}

var typeToKind = func() map[frameType]transport.MsgKind {
	m := make(map[frameType]transport.MsgKind, len(kindToType))
	for k, v := range kindToType {
		m[v] = k
	}
	return m
}()

// Frame is a single length-prefixed message on the stream.
type Frame struct {
	Type    frameType
	Payload []byte
}

type frameReader struct{ r io.Reader }
type frameWriter struct{ w io.Writer }

func (fr *frameReader) ReadFrame() (Frame, error) {
	var hdr [3]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := int(hdr[1])<<8 | int(hdr[2])
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(fr.r, buf); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: frameType(hdr[0]), Payload: buf}, nil
}

func (fw *frameWriter) WriteFrame(f Frame) error {
	if len(f.Payload) > 0xFFFF {
		return fmtx.Errorf("framedstream: frame too large: %d", len(f.Payload))
	}
	hdr := [3]byte{byte(f.Type), byte(len(f.Payload) >> 8), byte(len(f.Payload))}
	if _, err := fw.w.Write(hdr[:]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := fw.w.Write(f.Payload); err != nil {
			return err
		}
	}
	return nil
}

// Bus adapts a single io.ReadWriteCloser link to transport.Bus. Run must be
// started in its own goroutine to pump inbound frames to registered
// handlers; Send/SendFrom are safe to call concurrently with Run.
type Bus struct {
	rwc io.ReadWriteCloser
	rd  *frameReader
	wr  *frameWriter

	writeMu sync.Mutex

	mu       sync.Mutex
	handlers map[transport.MsgKind]transport.Handler

	// LogOutput receives Log's formatted lines; defaults to os.Stderr.
	LogOutput io.Writer
}

func New(rwc io.ReadWriteCloser) *Bus {
	return &Bus{
		rwc:       rwc,
		rd:        &frameReader{r: rwc},
		wr:        &frameWriter{w: rwc},
		handlers:  make(map[transport.MsgKind]transport.Handler),
		LogOutput: os.Stderr,
	}
}

// Run reads frames until the link errs or closes, dispatching each to its
// registered handler. Callers run this in a dedicated goroutine.
func (b *Bus) Run() error {
	for {
		f, err := b.rd.ReadFrame()
		if err != nil {
			return err
		}
		kind, ok := typeToKind[f.Type]
		if !ok || len(f.Payload) < 2 {
			continue
		}
		senderID := binary.BigEndian.Uint16(f.Payload)

		b.mu.Lock()
		h := b.handlers[kind]
		b.mu.Unlock()
		if h != nil {
			h(senderID, f.Payload[2:])
		}
	}
}

func (b *Bus) Send(kind transport.MsgKind, payload []byte) error {
	return b.SendFrom(kind, payload, 0)
}

func (b *Bus) SendFrom(kind transport.MsgKind, payload []byte, senderID uint16) error {
	t, ok := kindToType[kind]
	if !ok {
		return fmtx.Errorf("framedstream: unknown kind %s", kind.String())
	}
	framed := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(framed, senderID)
	copy(framed[2:], payload)

	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.wr.WriteFrame(Frame{Type: t, Payload: framed})
}

func (b *Bus) RegisterCallback(kind transport.MsgKind, handler transport.Handler) (transport.CallbackHandle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[kind]; exists {
		return transport.CallbackHandle{}, fmtx.Errorf("framedstream: kind %s already registered", kind.String())
	}
	b.handlers[kind] = handler
	return transport.CallbackHandle{Kind: kind}, nil
}

func (b *Bus) UnregisterCallback(h transport.CallbackHandle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.handlers[h.Kind]; !ok {
		return fmtx.Errorf("framedstream: no subscription for kind %s", h.Kind.String())
	}
	delete(b.handlers, h.Kind)
	return nil
}

func (b *Bus) Log(level transport.LogLevel, format string, args ...any) {
	fmt.Fprintf(b.LogOutput, "[%s] "+format+"\n", append([]any{levelTag(level)}, args...)...)
}

func levelTag(level transport.LogLevel) string {
	switch level {
	case transport.LogDebug:
		return "debug"
	case transport.LogInfo:
		return "info"
	case transport.LogWarn:
		return "warn"
	case transport.LogError:
		return "error"
	default:
		return "log"
	}
}

// Close closes the underlying link.
func (b *Bus) Close() error { return b.rwc.Close() }
