package feed

import "context"

// Conn is an open connection to the live feed.
type Conn interface {
	// ReadMessage blocks until the next message arrives, the connection
	// fails, or ctx is cancelled.
	ReadMessage(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens feed connections. Dial must honour ctx's deadline, which
// carries the handshake timeout.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}
