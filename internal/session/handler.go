package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"coinflip/internal/game/coin"
	"coinflip/internal/network"
	"coinflip/internal/services/gameroom"
	"coinflip/internal/session/message"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Inbound command types.
const (
	CmdAttach        = "attach"
	CmdDetach        = "detach"
	CmdSubmitDeposit = "submit_deposit"
	CmdSubmitChoice  = "submit_choice"
	CmdSubmitPower   = "submit_power"
	CmdForfeit       = "forfeit"
	CmdHeartbeat     = "heartbeat"
)

const defaultCommandTimeout = 5 * time.Second

// Rooms is the part of the room directory the router talks to.
type Rooms interface {
	Attach(ctx context.Context, matchID string, player gameroom.PlayerRef, conn network.Conn) (gameroom.Snapshot, error)
	Detach(ctx context.Context, matchID string, player gameroom.PlayerRef, conn network.Conn) error
	SubmitDeposit(ctx context.Context, matchID string, player gameroom.PlayerRef, kind gameroom.AssetKind) (gameroom.Ack, error)
	SubmitChoice(ctx context.Context, matchID string, player gameroom.PlayerRef, face coin.Face) (gameroom.Ack, error)
	SubmitPower(ctx context.Context, matchID string, player gameroom.PlayerRef, level float64) (gameroom.Ack, error)
	Forfeit(ctx context.Context, matchID string, player gameroom.PlayerRef, reason string) (gameroom.Ack, error)
}

// CommandHandlerFunc handles one decoded frame from c.
type CommandHandlerFunc func(h *Handler, c network.Conn, msg network.Message)

// Handler implements network.EventHandler: it identifies senders through the
// Registry and routes their commands to the rooms.
type Handler struct {
	rooms    Rooms
	registry *Registry
	clock    clock.Clock
	log      *zap.Logger
	timeout  time.Duration
	router   map[string]CommandHandlerFunc
}

func NewHandler(rooms Rooms, registry *Registry, clk clock.Clock, log *zap.Logger) *Handler {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{
		rooms:    rooms,
		registry: registry,
		clock:    clk,
		log:      log.Named("session"),
		timeout:  defaultCommandTimeout,
		router:   make(map[string]CommandHandlerFunc),
	}
	h.registerHandlers()
	return h
}

func (h *Handler) registerHandlers() {
	h.router[CmdAttach] = handleAttach
	h.router[CmdDetach] = handleDetach
	h.router[CmdSubmitDeposit] = handleSubmitDeposit
	h.router[CmdSubmitChoice] = handleSubmitChoice
	h.router[CmdSubmitPower] = handleSubmitPower
	h.router[CmdForfeit] = handleForfeit
	h.router[CmdHeartbeat] = handleHeartbeat
}

// --- network.EventHandler ---

// OnConnect runs on the hub goroutine and must not block.
func (h *Handler) OnConnect(c network.Conn) {
	h.log.Info("connection opened", zap.String("conn", c.ID()), zap.String("remote", c.RemoteAddr()))
	_ = c.Send(message.CreateConnected(c.ID()))
}

// OnDisconnect forgets the connection and detaches it from its rooms off the
// hub goroutine.
func (h *Handler) OnDisconnect(c network.Conn) {
	address, attached := h.registry.Forget(c)
	h.log.Info("connection closed",
		zap.String("conn", c.ID()),
		zap.String("address", address.String()),
		zap.Int("matches", len(attached)))
	if len(attached) == 0 {
		return
	}
	go func() {
		for _, a := range attached {
			ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
			if err := h.rooms.Detach(ctx, a.MatchID, a.Address, c); err != nil && !isGone(err) {
				h.log.Warn("detach on disconnect failed", zap.String("match", a.MatchID), zap.Error(err))
			}
			cancel()
		}
	}()
}

func (h *Handler) OnMessage(c network.Conn, msg network.Message) {
	handler, found := h.router[msg.Type]
	if !found {
		_ = message.SendError(c, msg.Type, "", message.CodeUnknownCommand, "unknown command %q", msg.Type)
		return
	}
	handler(h, c, msg)
}

// --- helpers ---

// matchCommand is the common shape of every room command.
type matchCommand struct {
	MatchID string `json:"matchId"`
	Address string `json:"address"`
}

// decode reads the payload and resolves the acting player. The address in the
// payload, when given, must be the one the connection attached with.
func (h *Handler) decode(c network.Conn, msg network.Message, v any, base *matchCommand) (gameroom.PlayerRef, bool) {
	if err := json.Unmarshal(orEmpty(msg.Payload), v); err != nil {
		_ = message.SendError(c, msg.Type, "", message.CodeInvalidPayload, "invalid payload: %v", err)
		return "", false
	}
	if base.MatchID == "" {
		_ = message.SendError(c, msg.Type, "", message.CodeInvalidPayload, "matchId is required")
		return "", false
	}
	bound, ok := h.registry.Address(c)
	if !ok {
		_ = message.SendError(c, msg.Type, base.MatchID, message.CodeUnauthorized, "attach before sending %s", msg.Type)
		return "", false
	}
	if base.Address != "" {
		claimed, err := gameroom.ParsePlayerRef(base.Address)
		if err != nil || claimed != bound {
			_ = message.SendError(c, msg.Type, base.MatchID, message.CodeUnauthorized, "address does not match this connection")
			return "", false
		}
	}
	return bound, true
}

func orEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

func (h *Handler) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.timeout)
}

// reply answers a room command: an accepted command gets an ack, a command in
// the wrong phase an "ignored" ack, anything else an error frame.
func (h *Handler) reply(c network.Conn, command, matchID string, ack gameroom.Ack, err error) {
	if err == nil {
		_ = message.SendAck(c, command, matchID, string(ack))
		return
	}
	if errors.Is(err, gameroom.ErrWrongPhase) {
		_ = message.SendAck(c, command, matchID, string(gameroom.AckIgnored))
		return
	}
	code := errorCode(err)
	if code == message.CodeInternal {
		h.log.Error("command failed", zap.String("command", command), zap.String("match", matchID), zap.Error(err))
	}
	_ = message.SendError(c, command, matchID, code, "%v", err)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, gameroom.ErrUnauthorized):
		return message.CodeUnauthorized
	case errors.Is(err, gameroom.ErrRoomNotFound):
		return message.CodeNotFound
	case isGone(err):
		return message.CodeMatchOver
	case errors.Is(err, gameroom.ErrInvalidChoice):
		return message.CodeInvalidChoice
	case errors.Is(err, gameroom.ErrInvalidAddress):
		return message.CodeInvalidAddress
	case errors.Is(err, gameroom.ErrInvalidAsset), errors.Is(err, gameroom.ErrInvalidMatch):
		return message.CodeInvalidPayload
	case errors.Is(err, gameroom.ErrDepositUnverified):
		return message.CodeDepositUnverified
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return message.CodeUnavailable
	}
	return message.CodeInternal
}

func isGone(err error) bool {
	return errors.Is(err, gameroom.ErrMatchOver) || errors.Is(err, gameroom.ErrRoomClosed)
}
