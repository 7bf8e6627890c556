package comm_test

import (
	"io"
	"log"
	"net"
	"testing"

	"github.com/uedlab/gued/comm"
)

func tcpEchoServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal("could not listen, test aborted:", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }()
		}
	}()
	log.Println("tcp loopback started at", ln.Addr().String())
	return ln.Addr().String()
}

func TestRemoteDeviceTCPRoundTrip(t *testing.T) {
	addr := tcpEchoServer(t)
	rd := comm.NewRemoteDevice(addr, false, nil)
	if err := rd.Open(); err != nil {
		t.Fatal("could not open remote device:", err)
	}
	defer rd.Close()
	resp, err := rd.SendRecv([]byte("RD?"))
	if err != nil {
		t.Fatal("send/recv failed:", err)
	}
	if string(resp) != "RD?" {
		t.Errorf("expected echo RD?, got %q", resp)
	}
}

// burstConn delivers its whole payload in a single Read, the way the OS
// coalesces back-to-back reply lines on a held-open port
type burstConn struct {
	data []byte
}

func (c *burstConn) Read(p []byte) (int, error) {
	if len(c.data) == 0 {
		return 0, io.EOF
	}
	n := copy(p, c.data)
	c.data = c.data[n:]
	return n, nil
}

func (c *burstConn) Write(p []byte) (int, error) { return len(p), nil }
func (c *burstConn) Close() error                { return nil }

func TestRecvKeepsBufferedBytesAcrossCalls(t *testing.T) {
	rd := comm.NewRemoteDevice("fake", false, nil)
	rd.Conn = &burstConn{data: []byte("first\rsecond\r")}
	for _, expected := range []string{"first", "second"} {
		got, err := rd.Recv()
		if err != nil {
			t.Fatal("recv failed:", err)
		}
		if string(got) != expected {
			t.Errorf("expected %q, got %q", expected, got)
		}
	}
}

func TestRemoteDeviceSendWithoutOpen(t *testing.T) {
	rd := comm.NewRemoteDevice("localhost:1", false, nil)
	if err := rd.Send([]byte("hi")); err != comm.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestRemoteDeviceSerialWithoutConf(t *testing.T) {
	rd := comm.NewRemoteDevice("COM1", true, nil)
	if err := rd.Open(); err == nil {
		rd.Close()
		t.Error("expected error opening serial device with no config")
	}
}
