package session

import (
	"encoding/json"

	"coinflip/internal/game/coin"
	"coinflip/internal/network"
	"coinflip/internal/services/gameroom"
	"coinflip/internal/session/message"

	"go.uber.org/zap"
)

func handleAttach(h *Handler, c network.Conn, msg network.Message) {
	var req matchCommand
	if err := json.Unmarshal(orEmpty(msg.Payload), &req); err != nil || req.MatchID == "" {
		_ = message.SendError(c, msg.Type, "", message.CodeInvalidPayload, "attach needs matchId and address")
		return
	}
	player, err := gameroom.ParsePlayerRef(req.Address)
	if err != nil {
		_ = message.SendError(c, msg.Type, req.MatchID, message.CodeInvalidAddress, "%v", err)
		return
	}

	if replaced := h.registry.Identify(c, player); replaced != nil {
		h.log.Info("address moved to a new connection",
			zap.String("address", player.String()),
			zap.String("old", replaced.ID()),
			zap.String("new", c.ID()))
	}

	ctx, cancel := h.context()
	defer cancel()
	// The room answers a successful attach with a directed room_joined.
	if _, err := h.rooms.Attach(ctx, req.MatchID, player, c); err != nil {
		h.reply(c, msg.Type, req.MatchID, "", err)
		return
	}
	h.registry.Bind(c, req.MatchID)
}

func handleDetach(h *Handler, c network.Conn, msg network.Message) {
	var req matchCommand
	player, ok := h.decode(c, msg, &req, &req)
	if !ok {
		return
	}
	ctx, cancel := h.context()
	defer cancel()
	err := h.rooms.Detach(ctx, req.MatchID, player, c)
	h.registry.Unbind(c, req.MatchID)
	h.reply(c, msg.Type, req.MatchID, gameroom.AckAccepted, err)
}

func handleSubmitDeposit(h *Handler, c network.Conn, msg network.Message) {
	var req struct {
		matchCommand
		AssetKind string `json:"assetKind"`
	}
	player, ok := h.decode(c, msg, &req, &req.matchCommand)
	if !ok {
		return
	}
	kind, err := gameroom.ParseAssetKind(req.AssetKind)
	if err != nil {
		h.reply(c, msg.Type, req.MatchID, "", err)
		return
	}
	ctx, cancel := h.context()
	defer cancel()
	ack, err := h.rooms.SubmitDeposit(ctx, req.MatchID, player, kind)
	h.reply(c, msg.Type, req.MatchID, ack, err)
}

func handleSubmitChoice(h *Handler, c network.Conn, msg network.Message) {
	var req struct {
		matchCommand
		Choice string `json:"choice"`
	}
	player, ok := h.decode(c, msg, &req, &req.matchCommand)
	if !ok {
		return
	}
	face, err := coin.ParseFace(req.Choice)
	if err != nil {
		_ = message.SendError(c, msg.Type, req.MatchID, message.CodeInvalidChoice, "%v", err)
		return
	}
	ctx, cancel := h.context()
	defer cancel()
	ack, err := h.rooms.SubmitChoice(ctx, req.MatchID, player, face)
	h.reply(c, msg.Type, req.MatchID, ack, err)
}

func handleSubmitPower(h *Handler, c network.Conn, msg network.Message) {
	var req struct {
		matchCommand
		Level *float64 `json:"level"`
	}
	player, ok := h.decode(c, msg, &req, &req.matchCommand)
	if !ok {
		return
	}
	if req.Level == nil {
		_ = message.SendError(c, msg.Type, req.MatchID, message.CodeInvalidPayload, "level is required")
		return
	}
	ctx, cancel := h.context()
	defer cancel()
	ack, err := h.rooms.SubmitPower(ctx, req.MatchID, player, *req.Level)
	h.reply(c, msg.Type, req.MatchID, ack, err)
}

func handleForfeit(h *Handler, c network.Conn, msg network.Message) {
	var req matchCommand
	player, ok := h.decode(c, msg, &req, &req)
	if !ok {
		return
	}
	// Players can only quit; the other reasons belong to the room's own timers.
	ctx, cancel := h.context()
	defer cancel()
	ack, err := h.rooms.Forfeit(ctx, req.MatchID, player, gameroom.ReasonManual)
	h.reply(c, msg.Type, req.MatchID, ack, err)
}

func handleHeartbeat(h *Handler, c network.Conn, _ network.Message) {
	_ = c.Send(message.CreateHeartbeatAck(h.clock.Now().UnixMilli()))
}
