package message

// Frames sent from the server to one client, outside of room events.

import (
	"coinflip/internal/network"
)

const (
	TypeConnected    = "connected"
	TypeAck          = "ack"
	TypeError        = "error"
	TypeHeartbeatAck = "heartbeat_ack"
)

// Error codes carried by error frames.
const (
	CodeInvalidPayload    = "invalid_payload"
	CodeUnknownCommand    = "unknown_command"
	CodeUnauthorized      = "unauthorized"
	CodeNotFound          = "not_found"
	CodeMatchOver         = "match_over"
	CodeInvalidChoice     = "invalid_choice"
	CodeInvalidAddress    = "invalid_address"
	CodeDepositUnverified = "deposit_unverified"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal"
)

type ConnectedPayload struct {
	ConnID string `json:"connId"`
}

// AckPayload acknowledges a command that was not rejected.
type AckPayload struct {
	Command string `json:"command"`
	MatchID string `json:"matchId,omitempty"`
	Status  string `json:"status"`
}

type ErrorPayload struct {
	Command string `json:"command,omitempty"`
	MatchID string `json:"matchId,omitempty"`
	Code    string `json:"code"`
	Error   string `json:"error"`
}

type HeartbeatAckPayload struct {
	Ts int64 `json:"ts"`
}

func must(msg network.Message, err error) network.Message {
	if err != nil {
		// All payloads here are plain structs of strings and numbers.
		panic(err)
	}
	return msg
}

func CreateConnected(connID string) network.Message {
	return must(network.NewMessage(TypeConnected, ConnectedPayload{ConnID: connID}))
}

func CreateAck(command, matchID, status string) network.Message {
	return must(network.NewMessage(TypeAck, AckPayload{Command: command, MatchID: matchID, Status: status}))
}

func CreateError(command, matchID, code, text string) network.Message {
	return must(network.NewMessage(TypeError, ErrorPayload{Command: command, MatchID: matchID, Code: code, Error: text}))
}

func CreateHeartbeatAck(ts int64) network.Message {
	return must(network.NewMessage(TypeHeartbeatAck, HeartbeatAckPayload{Ts: ts}))
}
