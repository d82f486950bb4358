package transport

import (
	"net"
	"testing"
	"time"
)

func TestTCPSendReceiveRoundTrip(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	tr := NewTCP(ln.Addr().String())
	if err := tr.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tr.Close()

	serverConn := <-accepted
	defer serverConn.Close()

	if err := tr.Send([]byte{0xFF, 0x00, 0x01}); err != nil {
		t.Fatalf("send: %v", err)
	}

	buf := make([]byte, 64)
	n, err := serverConn.Read(buf)
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	if n != headerSize+3 {
		t.Fatalf("expected %d bytes on the wire, got %d", headerSize+3, n)
	}

	// Echo a two-part reply back, split across two writes, to exercise the
	// assembler's partial-frame handling over a real socket.
	reply := encodeFrame(1, []byte{0xFF, 0x02, 0x03, 0x04})
	serverConn.Write(reply[:3])
	time.Sleep(10 * time.Millisecond)
	serverConn.Write(reply[3:])

	got, err := tr.Receive(time.Second)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	want := []byte{0xFF, 0x02, 0x03, 0x04}
	if len(got) != len(want) {
		t.Fatalf("payload length mismatch: got %x want %x", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("payload mismatch: got %x want %x", got, want)
		}
	}
}

func TestTCPReceiveTimesOut(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		accepted <- conn
	}()

	tr := NewTCP(ln.Addr().String())
	if err := tr.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	defer tr.Close()
	serverConn := <-accepted
	defer serverConn.Close()

	if _, err := tr.Receive(50 * time.Millisecond); err == nil {
		t.Fatal("expected a timeout error")
	}
}
