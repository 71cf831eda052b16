package gameroom

import (
	"math"

	"coinflip/internal/game/coin"

	"go.uber.org/zap"
)

// startRound begins the next round. Players who are not connected when play
// (re)starts get the forfeit grace period right away.
func (r *MatchRoom) startRound() {
	r.round++
	r.choices = [2]coin.Face{}
	r.powers = [2]float64{}
	r.pending = nil
	r.setPhase(PhaseChoosing)
	r.timers.start(timerChoice, r.cfg.ChoiceDeadline)

	r.emit(EventRoundStarted, RoundStartedPayload{
		RoundNumber: r.round,
		Scores:      pairOf(r.scores),
		DeadlineMs:  durationMs(r.cfg.ChoiceDeadline),
	})

	for _, side := range []coin.Side{coin.SideA, coin.SideB} {
		if !r.connected(side) {
			r.startForfeitGrace(side)
		}
	}
}

func (r *MatchRoom) submitChoice(player PlayerRef, face coin.Face) (Ack, error) {
	side, ok := r.sideOf(player)
	if !ok {
		return "", ErrUnauthorized
	}
	if r.phase.Terminal() {
		return "", ErrMatchOver
	}
	if r.phase != PhaseChoosing {
		return "", ErrWrongPhase
	}
	if !face.Valid() {
		return "", ErrInvalidChoice
	}
	if r.choices[side].Valid() {
		return AckDuplicate, nil
	}

	r.choices[side] = face
	r.emit(EventChoiceMade, SidePayload{Side: side})

	if r.choices[coin.SideA].Valid() && r.choices[coin.SideB].Valid() {
		r.timers.cancel(timerChoice)
		r.enterPowerPhase()
	}
	return AckAccepted, nil
}

// choicesTimedOut fills every missing choice with a fair toss.
func (r *MatchRoom) choicesTimedOut() {
	if r.phase != PhaseChoosing {
		return
	}
	var filled []coin.Side
	for _, side := range []coin.Side{coin.SideA, coin.SideB} {
		if !r.choices[side].Valid() {
			r.choices[side] = coin.Toss(r.rng)
			filled = append(filled, side)
		}
	}
	if len(filled) > 0 {
		r.emit(EventChoicesAutoCompleted, AutoCompletedPayload{Sides: filled})
	}
	r.enterPowerPhase()
}

func (r *MatchRoom) enterPowerPhase() {
	r.setPhase(PhasePowerCharging)
	r.timers.start(timerPower, r.cfg.PowerDeadline)
	r.emit(EventPowerPhaseStarted, PowerPhasePayload{
		RoundNumber: r.round,
		DeadlineMs:  durationMs(r.cfg.PowerDeadline),
	})
}

// submitPower stores a clamped charge once per round. A charge that clamps to
// zero is not a charge at all and leaves the side free to charge again.
func (r *MatchRoom) submitPower(player PlayerRef, level float64) (Ack, error) {
	side, ok := r.sideOf(player)
	if !ok {
		return "", ErrUnauthorized
	}
	if r.phase.Terminal() {
		return "", ErrMatchOver
	}
	if r.phase != PhasePowerCharging {
		return "", ErrWrongPhase
	}
	level = coin.ClampPower(level)
	if level <= 0 {
		return AckIgnored, nil
	}
	if r.powers[side] > 0 {
		return AckDuplicate, nil
	}

	r.powers[side] = level
	r.emit(EventPowerCharged, PowerChargedPayload{Side: side, Level: level})

	if r.powers[coin.SideA] > 0 && r.powers[coin.SideB] > 0 {
		r.timers.cancel(timerPower)
		r.flip()
	}
	return AckAccepted, nil
}

func (r *MatchRoom) powersTimedOut() {
	if r.phase != PhasePowerCharging {
		return
	}
	var filled []coin.Side
	for _, side := range []coin.Side{coin.SideA, coin.SideB} {
		if r.powers[side] <= 0 {
			r.powers[side] = r.cfg.AutoPower
			filled = append(filled, side)
		}
	}
	if len(filled) > 0 {
		r.emit(EventPowersAutoCompleted, AutoCompletedPayload{Sides: filled})
	}
	r.flip()
}

// flip resolves the round up front and lets the animation play before the
// result is revealed. The seed is the first draw, so a client can replay it.
func (r *MatchRoom) flip() {
	r.setPhase(PhaseFlipping)
	out := coin.Resolve(r.choices[coin.SideA], r.choices[coin.SideB],
		r.powers[coin.SideA], r.powers[coin.SideB], r.rng)
	r.pending = &out

	r.log.Info("flip resolved",
		zap.Int("round", r.round),
		zap.Stringer("choiceA", r.choices[coin.SideA]),
		zap.Stringer("choiceB", r.choices[coin.SideB]),
		zap.Float64("powerA", r.powers[coin.SideA]),
		zap.Float64("powerB", r.powers[coin.SideB]),
		zap.Float64s("draws", out.Draws),
		zap.Stringer("result", out.Result),
		zap.Stringer("winner", out.Winner),
		zap.Bool("push", out.Push))

	var seed uint64
	if len(out.Draws) > 0 {
		seed = math.Float64bits(out.Draws[0])
	}
	r.emit(EventFlipStarted, FlipStartedPayload{
		Seed:                seed,
		EstimatedDurationMs: durationMs(r.cfg.FlipAnimationDelay),
	})
	r.timers.start(timerFlip, r.cfg.FlipAnimationDelay)
}

// revealFlip applies the resolved outcome and decides what comes next.
func (r *MatchRoom) revealFlip() {
	if r.phase != PhaseFlipping || r.pending == nil {
		return
	}
	out := *r.pending
	r.pending = nil
	r.scores[out.Winner]++
	r.setPhase(PhaseRoundResult)

	result := FlipResultPayload{
		RoundNumber: r.round,
		Result:      out.Result,
		Choices:     pairOf(r.choices),
		Powers:      pairOf(r.powers),
		Scores:      pairOf(r.scores),
		RoundWinner: out.Winner,
		Push:        out.Push,
		InfluenceA:  out.InfluenceA,
		Draws:       out.Draws,
	}
	r.lastFlip = &result
	r.emit(EventFlipResult, result)

	if r.matchDecided() {
		r.complete()
		return
	}
	r.timers.start(timerResult, r.cfg.ResultDisplayDelay)
}

func (r *MatchRoom) matchDecided() bool {
	return r.scores[coin.SideA] >= r.cfg.WinThreshold ||
		r.scores[coin.SideB] >= r.cfg.WinThreshold ||
		r.round >= r.cfg.MaxRounds
}

func (r *MatchRoom) complete() {
	a, b := r.scores[coin.SideA], r.scores[coin.SideB]
	reason := ReasonMaxRounds
	if a >= r.cfg.WinThreshold || b >= r.cfg.WinThreshold {
		reason = ReasonScore
	}
	switch {
	case a > b:
		r.finish(PhaseCompleted, ptr(coin.SideA), reason)
	case b > a:
		r.finish(PhaseCompleted, ptr(coin.SideB), reason)
	default:
		r.finish(PhaseCompleted, nil, ReasonDraw)
	}
}
