package gameroom

import (
	"time"

	"coinflip/internal/game/coin"
	"coinflip/internal/network"

	"go.uber.org/zap"
)

const (
	rolePlayer    = "player"
	roleSpectator = "spectator"
)

// ============================================================================
// Attach / detach
// ============================================================================

func (r *MatchRoom) attach(player PlayerRef, conn network.Conn, claim bool) (Snapshot, error) {
	side, isPlayer := r.sideOf(player)
	if !isPlayer && claim && r.slots[coin.SideB].ref == "" && !r.phase.Terminal() {
		r.slots[coin.SideB] = slot{ref: player}
		r.challengerOpen.Store(false)
		side, isPlayer = coin.SideB, true
		r.log.Info("challenger seat claimed", zap.String("challenger", player.String()))
	}

	if !isPlayer {
		r.spectators[conn.ID()] = conn
		r.members.Join(r.id, conn)
		snap := r.snapshot()
		r.emitToConn(conn, EventRoomJoined, RoomJoinedPayload{Role: roleSpectator, Snapshot: snap})
		return snap, nil
	}

	s := &r.slots[side]
	if s.conn != nil && s.conn.ID() != conn.ID() {
		// Last writer wins: the older socket stops receiving room events.
		r.members.Leave(r.id, s.conn)
	}
	delete(r.spectators, conn.ID())
	reconnect := s.seen
	s.conn = conn
	s.seen = true
	r.members.Join(r.id, conn)

	r.timers.cancel(forfeitTimer(side))
	r.timers.cancel(timerAbandon)
	if r.phase.Terminal() {
		// A finished room stays readable until no player came back for a
		// while. Spectators only read it and never extend its life.
		r.timers.start(timerReap, r.cfg.TerminalGrace)
	}

	snap := r.snapshot()
	r.emitToConn(conn, EventRoomJoined, RoomJoinedPayload{Role: rolePlayer, Side: &side, Snapshot: snap})
	if reconnect {
		r.emit(EventPlayerReconnected, SidePayload{Side: side})
	} else {
		r.emit(EventPlayerAttached, SidePayload{Side: side})
	}

	if r.phase == PhaseWaiting && r.connected(coin.SideA) && r.connected(coin.SideB) {
		r.enterLocked()
		snap = r.snapshot()
	}
	return snap, nil
}

func (r *MatchRoom) detach(player PlayerRef, conn network.Conn) {
	if conn != nil {
		if _, ok := r.spectators[conn.ID()]; ok {
			delete(r.spectators, conn.ID())
			r.members.Leave(r.id, conn)
			return
		}
	}

	side, ok := r.sideOf(player)
	if !ok {
		return
	}
	s := &r.slots[side]
	if s.conn == nil {
		return
	}
	if conn != nil && s.conn.ID() != conn.ID() {
		// Close of a socket that was already replaced by a reconnect.
		return
	}
	r.members.Leave(r.id, s.conn)
	s.conn = nil
	r.log.Info("player detached", zap.Stringer("side", side), zap.Stringer("phase", r.phase))

	switch {
	case r.phase.InPlay():
		r.startForfeitGrace(side)
	case r.phase.Escrowing() && !r.connected(coin.SideA) && !r.connected(coin.SideB):
		r.timers.start(timerAbandon, r.cfg.AbandonAfter)
	}
}

// dropConn handles a connection the gateway found dead mid-send.
func (r *MatchRoom) dropConn(conn network.Conn) {
	for _, side := range []coin.Side{coin.SideA, coin.SideB} {
		if s := r.slots[side]; s.conn != nil && s.conn.ID() == conn.ID() {
			r.detach(s.ref, conn)
			return
		}
	}
	r.detach("", conn)
}

func (r *MatchRoom) startForfeitGrace(side coin.Side) {
	name := forfeitTimer(side)
	if r.timers.running(name) {
		return
	}
	r.timers.start(name, r.cfg.ForfeitGrace)
	r.emit(EventPlayerDisconnected, PlayerDisconnectedPayload{
		Side:    side,
		GraceMs: r.cfg.ForfeitGrace.Milliseconds(),
	})
}

// ============================================================================
// Lobby and countdown
// ============================================================================

func (r *MatchRoom) enterLocked() {
	r.setPhase(PhaseLocked)
	if !r.timers.running(timerDeposit) {
		r.timers.start(timerDeposit, r.cfg.DepositDeadline)
	}
	r.emit(EventRoomLocked, RoomLockedPayload{
		Holder:            r.slots[coin.SideA].ref,
		Challenger:        r.slots[coin.SideB].ref,
		DepositDeadlineMs: r.timers.remaining(timerDeposit).Milliseconds(),
	})
	r.settleDeposits()
}

func (r *MatchRoom) enterCountdown() {
	r.setPhase(PhaseCountdown)
	r.countdown = r.cfg.CountdownSeconds
	if r.countdown <= 0 {
		r.startRound()
		return
	}
	r.emit(EventCountdownUpdate, CountdownPayload{N: r.countdown})
	r.timers.start(timerCountdown, r.cfg.CountdownStep)
}

func (r *MatchRoom) countdownTick() {
	if r.phase != PhaseCountdown {
		return
	}
	r.countdown--
	if r.countdown <= 0 {
		r.startRound()
		return
	}
	r.emit(EventCountdownUpdate, CountdownPayload{N: r.countdown})
	r.timers.start(timerCountdown, r.cfg.CountdownStep)
}

// ============================================================================
// Timers
// ============================================================================

func (r *MatchRoom) onTimer(name timerName) {
	r.log.Debug("timer fired", zap.String("timer", string(name)), zap.Stringer("phase", r.phase))

	switch name {
	case timerDeposit:
		r.depositTimedOut()
	case timerCountdown:
		r.countdownTick()
	case timerChoice:
		r.choicesTimedOut()
	case timerPower:
		r.powersTimedOut()
	case timerFlip:
		r.revealFlip()
	case timerResult:
		if r.phase == PhaseRoundResult {
			r.startRound()
		}
	case timerForfeitA, timerForfeitB:
		side := coin.SideA
		if name == timerForfeitB {
			side = coin.SideB
		}
		if !r.phase.Terminal() && !r.connected(side) {
			r.finish(PhaseForfeited, ptr(side.Other()), ReasonForfeit)
		}
	case timerAbandon:
		if r.phase.Escrowing() && !r.connected(coin.SideA) && !r.connected(coin.SideB) {
			r.log.Info("room abandoned before play")
			r.finish(PhaseForfeited, nil, ReasonTimeout)
		}
	case timerReap:
		if r.phase.Terminal() {
			r.closing = true
		}
	}
}

// ============================================================================
// Termination
// ============================================================================

func (r *MatchRoom) forceForfeit(player PlayerRef, reason string) (Ack, error) {
	if r.phase.Terminal() {
		return AckDuplicate, nil
	}
	side, ok := r.sideOf(player)
	if !ok {
		return "", ErrUnauthorized
	}
	if reason == "" {
		reason = ReasonManual
	}
	var winner *coin.Side
	if r.slots[side.Other()].ref != "" {
		winner = ptr(side.Other())
	}
	r.log.Info("forfeit", zap.Stringer("side", side), zap.String("reason", reason))
	r.finish(PhaseForfeited, winner, reason)
	return AckAccepted, nil
}

// finish moves the room to a terminal phase exactly once.
func (r *MatchRoom) finish(phase Phase, winner *coin.Side, reason string) {
	if r.phase.Terminal() {
		return
	}
	r.timers.stopAll()
	r.setPhase(phase)
	r.reason = reason
	r.pending = nil
	if winner != nil {
		r.winner = r.slots[*winner].ref
	}

	r.log.Info("match finished",
		zap.Stringer("phase", phase),
		zap.String("winner", r.winner.String()),
		zap.String("reason", reason),
		zap.Int("scoreA", r.scores[coin.SideA]),
		zap.Int("scoreB", r.scores[coin.SideB]))

	r.emit(EventGameCompleted, GameCompletedPayload{
		Winner:      r.winner,
		WinnerSide:  winner,
		FinalScores: pairOf(r.scores),
		Reason:      reason,
	})

	r.recordResult(MatchResult{
		MatchID:    r.id,
		Holder:     r.slots[coin.SideA].ref,
		Challenger: r.slots[coin.SideB].ref,
		Winner:     r.winner,
		Phase:      phase,
		Reason:     reason,
		Scores:     pairOf(r.scores),
		Rounds:     r.round,
		FinishedAt: r.clock.Now(),
	})

	r.timers.start(timerReap, r.cfg.TerminalGrace)
}

func ptr[T any](v T) *T { return &v }

func durationMs(d time.Duration) int64 { return d.Milliseconds() }
