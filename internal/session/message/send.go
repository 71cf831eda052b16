package message

import (
	"fmt"

	"coinflip/internal/network"
)

// Sender is anything a frame can be queued on.
type Sender interface {
	Send(msg network.Message) error
}

// SendError queues an error frame. Delivery failures are returned so the
// caller can treat the connection as dead.
func SendError(s Sender, command, matchID, code, format string, args ...any) error {
	return s.Send(CreateError(command, matchID, code, fmt.Sprintf(format, args...)))
}

func SendAck(s Sender, command, matchID, status string) error {
	return s.Send(CreateAck(command, matchID, status))
}
