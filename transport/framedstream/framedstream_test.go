package framedstream

import (
	"net"
	"testing"
	"time"

	"github.com/jangala-dev/settings-go/transport"
)

func TestSendFromRoundTrip(t *testing.T) {
	clientConn, daemonConn := net.Pipe()
	defer clientConn.Close()
	defer daemonConn.Close()

	client := New(clientConn)
	daemon := New(daemonConn)

	go daemon.Run()

	received := make(chan []byte, 1)
	senderIDCh := make(chan uint16, 1)
	if _, err := daemon.RegisterCallback(transport.Write, func(senderID uint16, payload []byte) {
		senderIDCh <- senderID
		received <- payload
	}); err != nil {
		t.Fatalf("RegisterCallback: %v", err)
	}

	go client.SendFrom(transport.Write, []byte("hello"), 99)

	select {
	case payload := <-received:
		if string(payload) != "hello" {
			t.Fatalf("payload = %q, want hello", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("daemon never received the frame")
	}
	if id := <-senderIDCh; id != 99 {
		t.Fatalf("senderID = %d, want 99", id)
	}
}

func TestRegisterCallbackRejectsDuplicateKind(t *testing.T) {
	clientConn, _ := net.Pipe()
	defer clientConn.Close()
	b := New(clientConn)

	if _, err := b.RegisterCallback(transport.ReadReq, func(uint16, []byte) {}); err != nil {
		t.Fatalf("first RegisterCallback: %v", err)
	}
	if _, err := b.RegisterCallback(transport.ReadReq, func(uint16, []byte) {}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestFrameRoundTripPreservesLength(t *testing.T) {
	clientConn, daemonConn := net.Pipe()
	defer clientConn.Close()
	defer daemonConn.Close()

	fw := &frameWriter{w: clientConn}
	fr := &frameReader{r: daemonConn}

	payload := make([]byte, 300)
	for i := range payload {
		payload[i] = byte(i)
	}

	done := make(chan error, 1)
	go func() { done <- fw.WriteFrame(Frame{Type: typeReadResp, Payload: payload}) }()

	f, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	if f.Type != typeReadResp {
		t.Fatalf("Type = %v, want %v", f.Type, typeReadResp)
	}
	if len(f.Payload) != len(payload) {
		t.Fatalf("len(Payload) = %d, want %d", len(f.Payload), len(payload))
	}
}
