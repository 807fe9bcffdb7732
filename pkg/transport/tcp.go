package transport

import (
	"fmt"
	"net"
	"time"
)

// TCP is a plain net.Dial("tcp", ...) transport speaking the frame
// protocol in frame.go/session.go directly over the socket, for
// same-trust-boundary deployments that don't need SSH's authentication
// layer (spec.md §6's "tcp://" wire transport).
type TCP struct {
	*session
	conn net.Conn
}

// DialTCP connects to addr ("host:port") with a dial timeout.
func DialTCP(addr string) (*TCP, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("transport: tcp dial %s: %w", addr, err)
	}
	return &TCP{session: newSession(conn, addr), conn: conn}, nil
}

// ListenAndServeTCP accepts connections on addr and answers each one
// against store until the listener is closed.
func ListenAndServeTCP(addr string, store ObjectStore) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("transport: tcp listen %s: %w", addr, err)
	}
	defer ln.Close()
	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("transport: tcp accept: %w", err)
		}
		go func() {
			_ = Serve(conn, store)
		}()
	}
}

var _ Transport = (*TCP)(nil)
