package gameroom

import (
	"coinflip/internal/game/coin"
	"coinflip/internal/network"
)

// roomMessage is anything the room inbox accepts.
type roomMessage interface {
	isRoomMessage()
}

type reply struct {
	ack  Ack
	snap Snapshot
	err  error
}

type replier interface {
	roomMessage
	respond(reply)
	replyCh() <-chan reply
}

type request struct {
	reply chan reply
}

func newRequest() request {
	return request{reply: make(chan reply, 1)}
}

func (request) isRoomMessage() {}

// respond never blocks; only the first reply is kept.
func (q request) respond(rep reply) {
	select {
	case q.reply <- rep:
	default:
	}
}

func (q request) replyCh() <-chan reply { return q.reply }

type attachRequest struct {
	request
	player PlayerRef
	conn   network.Conn
	// claim is set when the participant source confirmed player as the
	// challenger for an open challenger slot.
	claim bool
}

type detachRequest struct {
	request
	player PlayerRef
	conn   network.Conn
}

type depositRequest struct {
	request
	player PlayerRef
	kind   AssetKind
}

type choiceRequest struct {
	request
	player PlayerRef
	face   coin.Face
}

type powerRequest struct {
	request
	player PlayerRef
	level  float64
}

type forfeitRequest struct {
	request
	player PlayerRef
	reason string
}

type snapshotRequest struct {
	request
}

type connLost struct {
	conn network.Conn
}

func (connLost) isRoomMessage() {}
