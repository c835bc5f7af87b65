// File: api/socket.go
//
// Non-blocking socket abstraction consumed by the transport layer.

package api

// Socket is the raw, non-blocking socket a connection handler drives.
// Implementations must never block the caller: when no progress is
// possible they return ErrWouldBlock instead.
type Socket interface {
	// Read fills p with whatever bytes are available. A return of (0, nil)
	// means the peer closed its half of the connection.
	Read(p []byte) (int, error)

	// Write sends as much of p as the kernel accepts without blocking and
	// returns the number of bytes written. A short count with a nil or
	// ErrWouldBlock error is normal; the remainder must be retried later.
	Write(p []byte) (int, error)

	// Close releases the descriptor. After Close, Fd reports -1 and all
	// other operations return ErrSocketClosed.
	Close() error

	// Fd returns the underlying OS descriptor, or -1 once released.
	Fd() int
}
