package testutil

import (
	"net"
	"testing"
)

// PipeConn returns a connected in-memory net.Conn pair, closed when
// the test finishes.
func PipeConn(t testing.TB) (client, server net.Conn) {
	t.Helper()

	server, client = net.Pipe()

	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})

	return client, server
}

// ListenTCP opens a TCP listener on a random loopback port, closed
// when the test finishes.
func ListenTCP(t testing.TB) (net.Listener, string) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create TCP listener: %v", err)
	}

	t.Cleanup(func() {
		_ = listener.Close()
	})

	return listener, listener.Addr().String()
}
