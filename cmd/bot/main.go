// Command bot attaches to a match as one wallet and plays it to the end with
// random choices and charges. It is a load and smoke test driver.
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"net/url"
	"os"
	"os/signal"
	"time"

	"coinflip/internal/game/coin"
	"coinflip/internal/network"
	"coinflip/internal/services/gameroom"
	"coinflip/internal/session"
	"coinflip/internal/session/message"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func main() {
	var (
		addr    = flag.String("addr", "localhost:8080", "coordinator host:port")
		matchID = flag.String("match", "", "match id to attach to")
		wallet  = flag.String("address", "", "wallet address to play as")
		think   = flag.Duration("think", 2*time.Second, "upper bound of the random delay before each move")
	)
	flag.Parse()

	log, _ := zap.NewDevelopment()
	defer func() { _ = log.Sync() }()

	if *matchID == "" || *wallet == "" {
		fmt.Fprintln(os.Stderr, "usage: bot -match <id> -address <0x...> [-addr host:port]")
		os.Exit(2)
	}
	if err := play(*addr, *matchID, *wallet, *think, log); err != nil {
		log.Error("bot stopped", zap.Error(err))
		os.Exit(1)
	}
}

type bot struct {
	conn    *websocket.Conn
	matchID string
	address string
	think   time.Duration
	side    coin.Side
	log     *zap.Logger
}

func play(addr, matchID, address string, think time.Duration, log *zap.Logger) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	conn, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		if resp != nil {
			log.Warn("handshake rejected", zap.String("status", resp.Status))
		}
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer conn.Close()

	b := &bot{conn: conn, matchID: matchID, address: address, think: think, log: log.With(zap.String("match", matchID))}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}()

	if err := b.send(session.CmdAttach, nil); err != nil {
		return err
	}
	for {
		var msg network.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("read: %w", err)
		}
		done, err := b.handle(msg)
		if err != nil || done {
			return err
		}
	}
}

// handle reacts to one frame and reports whether the match is over.
func (b *bot) handle(msg network.Message) (bool, error) {
	switch msg.Type {
	case message.TypeError:
		var p message.ErrorPayload
		_ = msg.Decode(&p)
		b.log.Warn("command rejected", zap.String("command", p.Command), zap.String("code", p.Code), zap.String("error", p.Error))
		if p.Command == session.CmdAttach {
			return true, fmt.Errorf("attach failed: %s", p.Error)
		}

	case string(gameroom.EventRoomJoined):
		var ev struct {
			Payload gameroom.RoomJoinedPayload `json:"payload"`
		}
		if err := msg.Decode(&ev); err != nil {
			return false, err
		}
		if ev.Payload.Side == nil {
			return true, fmt.Errorf("attached as %s, not a participant", ev.Payload.Role)
		}
		b.side = *ev.Payload.Side
		b.log.Info("joined", zap.Stringer("side", b.side), zap.Stringer("phase", ev.Payload.Snapshot.Phase))
		if ev.Payload.Snapshot.Phase.Escrowing() {
			return false, b.deposit()
		}

	case string(gameroom.EventRoomLocked), string(gameroom.EventDepositPending):
		return false, b.deposit()

	case string(gameroom.EventRoundStarted):
		b.pause()
		face := coin.Heads
		if rand.IntN(2) == 1 {
			face = coin.Tails
		}
		return false, b.send(session.CmdSubmitChoice, map[string]any{"choice": face.String()})

	case string(gameroom.EventPowerPhaseStarted):
		b.pause()
		return false, b.send(session.CmdSubmitPower, map[string]any{"level": float64(1 + rand.IntN(100))})

	case string(gameroom.EventFlipResult), string(gameroom.EventDepositTimeout):
		b.log.Info(msg.Type, zap.ByteString("payload", msg.Payload))

	case string(gameroom.EventGameCompleted):
		b.log.Info("match over", zap.ByteString("payload", msg.Payload))
		return true, nil
	}
	return false, nil
}

func (b *bot) deposit() error {
	kind := gameroom.AssetPayment
	if b.side == coin.SideA {
		kind = gameroom.AssetNFT
	}
	return b.send(session.CmdSubmitDeposit, map[string]any{"assetKind": string(kind)})
}

func (b *bot) pause() {
	if b.think > 0 {
		time.Sleep(rand.N(b.think))
	}
}

func (b *bot) send(command string, fields map[string]any) error {
	payload := map[string]any{"matchId": b.matchID, "address": b.address}
	for k, v := range fields {
		payload[k] = v
	}
	msg, err := network.NewMessage(command, payload)
	if err != nil {
		return err
	}
	return b.conn.WriteJSON(msg)
}
