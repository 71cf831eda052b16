package network

// EventHandler connects the transport to the application.
// OnMessage for a given connection is never called concurrently with itself,
// and OnDisconnect is called after the last OnMessage of that connection.
type EventHandler interface {
	OnConnect(c Conn)
	OnDisconnect(c Conn)
	OnMessage(c Conn, msg Message)
}

// Conn is the application's view of a live connection.
type Conn interface {
	ID() string
	RemoteAddr() string
	// Send queues msg for delivery without blocking. An error means the
	// connection is closed or cannot keep up and should be treated as dead.
	Send(msg Message) error
	// Close ends the connection. The peer sees the socket close and
	// OnDisconnect follows, so it can reconnect and resync.
	Close()
}
