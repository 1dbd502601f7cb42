// Package lock provides the singleton process lock used by the retry
// collector. The lock is a Unix datagram socket bound in the abstract
// namespace, so it vanishes with the process. Linux only.
package lock

import (
	"fmt"
	"net"
	"os"

	"github.com/kyaraben/kyaraben/internal/logging"
)

// Lock holds the abstract socket for the lifetime of the process.
type Lock struct {
	conn *net.UnixConn
}

// Acquire binds the abstract socket @name. It fails when another process of
// the same name already holds it.
func Acquire(name string) (*Lock, error) {
	addr := &net.UnixAddr{Name: "\x00" + name, Net: "unixgram"}
	conn, err := net.ListenUnixgram("unixgram", addr)
	if err != nil {
		return nil, fmt.Errorf("acquire lock %q: %w", name, err)
	}
	return &Lock{conn: conn}, nil
}

// MustAcquire acquires the lock or terminates the process with a diagnostic.
// A lock collision is a fatal startup error, not a silent exit.
func MustAcquire(name string) *Lock {
	l, err := Acquire(name)
	if err != nil {
		logging.Op().Error("another instance is already running", "lock", name, "error", err)
		fmt.Fprintf(os.Stderr, "kyaraben: lock %q is held by another process\n", name)
		os.Exit(1)
	}
	return l
}

// Release closes the socket, freeing the name.
func (l *Lock) Release() {
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}
