// Package dblock serializes database-backed test packages that share one
// Postgres instance. The lock is a loopback TCP listener so it also works
// across the separate processes `go test ./...` spawns per package.
package dblock

import (
	"net"
	"os"
	"time"
)

const defaultAddr = "127.0.0.1:45432"

// Acquire blocks until the lock is held and returns its release func.
// SETTLEMENT_TEST_LOCK_ADDR overrides the listener address.
func Acquire() func() {
	addr := os.Getenv("SETTLEMENT_TEST_LOCK_ADDR")
	if addr == "" {
		addr = defaultAddr
	}
	for {
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return func() { _ = ln.Close() }
		}
		time.Sleep(50 * time.Millisecond)
	}
}
