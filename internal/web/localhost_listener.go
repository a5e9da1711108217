package web

import (
	"fmt"
	"net"

	"github.com/cfdude/mcp-perplexity-pro/internal/logging"
)

// LocalhostListener wraps a net.Listener and only accepts connections from
// loopback addresses. The server is authless, so connections from anywhere
// else are rejected at the socket level before any HTTP processing occurs.
type LocalhostListener struct {
	net.Listener
}

// Accept waits for and returns the next connection, dropping any that do
// not originate from a loopback address.
func (l *LocalhostListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}

		if !isLoopbackConnection(conn) {
			logging.Web().Warn("rejected non-localhost connection",
				"remote_addr", conn.RemoteAddr().String())
			conn.Close()
			continue
		}

		return conn, nil
	}
}

func isLoopbackConnection(conn net.Conn) bool {
	remoteAddr := conn.RemoteAddr()
	if remoteAddr == nil {
		return false
	}

	host, _, err := net.SplitHostPort(remoteAddr.String())
	if err != nil {
		host = remoteAddr.String()
	}

	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// CreateLocalhostListener creates a TCP listener bound exclusively to
// 127.0.0.1. If port is 0, a random available port is selected. Returns
// the listener and the actual port used.
func CreateLocalhostListener(port int) (*LocalhostListener, int, error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	actualPort := listener.Addr().(*net.TCPAddr).Port
	return &LocalhostListener{Listener: listener}, actualPort, nil
}
