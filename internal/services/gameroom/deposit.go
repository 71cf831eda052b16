package gameroom

import (
	"coinflip/internal/game/coin"

	"go.uber.org/zap"
)

// submitDeposit records an escrow confirmation for the caller's side. Only the
// asset that side is expected to stake counts; anything else is a no-op.
func (r *MatchRoom) submitDeposit(player PlayerRef, kind AssetKind) (Ack, error) {
	side, ok := r.sideOf(player)
	if !ok {
		return "", ErrUnauthorized
	}
	if r.phase.Terminal() {
		return "", ErrMatchOver
	}

	s := &r.slots[side]
	if !r.phase.Escrowing() {
		// Deposits were settled before the countdown started.
		return AckConfirmed, nil
	}
	if kind != expectedAsset(side) {
		r.log.Info("deposit with wrong asset ignored",
			zap.Stringer("side", side), zap.String("asset", string(kind)))
		return AckIgnored, nil
	}
	if s.deposited {
		return AckDuplicate, nil
	}

	s.deposited = true
	r.emit(EventDepositReceived, DepositReceivedPayload{Side: side, AssetKind: kind})

	if r.phase == PhaseLocked || r.phase == PhaseDepositPending {
		r.settleDeposits()
	}
	if r.phase == PhaseCountdown || r.phase.InPlay() {
		return AckConfirmed, nil
	}
	return AckPending, nil
}

// settleDeposits moves a locked room forward once escrow allows it.
func (r *MatchRoom) settleDeposits() {
	a, b := r.slots[coin.SideA].deposited, r.slots[coin.SideB].deposited
	switch {
	case a && b:
		r.timers.cancel(timerDeposit)
		r.enterCountdown()
	case (a || b) && r.phase == PhaseLocked:
		waiting := coin.SideB
		if b {
			waiting = coin.SideA
		}
		r.setPhase(PhaseDepositPending)
		r.emit(EventDepositPending, DepositPendingPayload{WaitingFor: []coin.Side{waiting}})
	}
}

// depositTimedOut sends the room back to Waiting. The holder keeps the seat,
// the challenger slot is released and both confirmations are cleared.
func (r *MatchRoom) depositTimedOut() {
	if !r.phase.Escrowing() {
		return
	}

	var missing []coin.Side
	for _, side := range []coin.Side{coin.SideA, coin.SideB} {
		if !r.slots[side].deposited {
			missing = append(missing, side)
		}
	}

	challenger := r.slots[coin.SideB]
	payload := DepositTimeoutPayload{
		Holder:              r.slots[coin.SideA].ref,
		Challenger:          challenger.ref,
		ChallengerConnected: challenger.conn != nil,
		Missing:             missing,
	}

	r.slots[coin.SideA].deposited = false
	r.slots[coin.SideB] = slot{}
	r.challengerOpen.Store(true)
	r.setPhase(PhaseWaiting)

	r.log.Info("deposit deadline elapsed, challenger released",
		zap.String("challenger", challenger.ref.String()),
		zap.Bool("connected", challenger.conn != nil))

	r.emit(EventDepositTimeout, payload)

	if challenger.conn != nil {
		// The released challenger keeps watching as a spectator.
		r.spectators[challenger.conn.ID()] = challenger.conn
	}
	r.emitTo(challenger.ref, EventChallengerReleased, ChallengerReleasedPayload{Reason: "deposit_timeout"})
	if !r.connected(coin.SideA) {
		r.timers.start(timerAbandon, r.cfg.AbandonAfter)
	}
}
