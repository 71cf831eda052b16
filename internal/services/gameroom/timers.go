package gameroom

import (
	"time"

	"coinflip/internal/game/coin"

	"github.com/benbjohnson/clock"
)

type timerName string

const (
	timerDeposit   timerName = "deposit_deadline"
	timerCountdown timerName = "countdown"
	timerChoice    timerName = "choice_deadline"
	timerPower     timerName = "power_deadline"
	timerFlip      timerName = "flip_animation"
	timerResult    timerName = "result_display"
	timerForfeitA  timerName = "forfeit_grace_a"
	timerForfeitB  timerName = "forfeit_grace_b"
	timerAbandon   timerName = "abandon"
	timerReap      timerName = "reap"
)

func forfeitTimer(side coin.Side) timerName {
	if side == coin.SideA {
		return timerForfeitA
	}
	return timerForfeitB
}

// timerFired is enqueued into the room inbox when a timer elapses.
type timerFired struct {
	name timerName
	gen  uint64
}

func (timerFired) isRoomMessage() {}

type scheduled struct {
	timer    *clock.Timer
	gen      uint64
	deadline time.Time
}

// timerTable keeps at most one live timer per name. It is owned by the room
// goroutine; only the fire callback runs elsewhere.
type timerTable struct {
	clock  clock.Clock
	fire   func(timerFired)
	gen    uint64
	active map[timerName]*scheduled
}

func newTimerTable(clk clock.Clock, fire func(timerFired)) *timerTable {
	return &timerTable{
		clock:  clk,
		fire:   fire,
		active: make(map[timerName]*scheduled),
	}
}

// start replaces any timer of the same name.
func (t *timerTable) start(name timerName, d time.Duration) {
	t.cancel(name)
	t.gen++
	fired := timerFired{name: name, gen: t.gen}
	t.active[name] = &scheduled{
		timer:    t.clock.AfterFunc(d, func() { t.fire(fired) }),
		gen:      fired.gen,
		deadline: t.clock.Now().Add(d),
	}
}

func (t *timerTable) cancel(name timerName) bool {
	s, ok := t.active[name]
	if !ok {
		return false
	}
	s.timer.Stop()
	delete(t.active, name)
	return true
}

func (t *timerTable) running(name timerName) bool {
	_, ok := t.active[name]
	return ok
}

// claim consumes a fired timer. A stale fire (cancelled or replaced after the
// callback was already queued) returns false.
func (t *timerTable) claim(f timerFired) bool {
	s, ok := t.active[f.name]
	if !ok || s.gen != f.gen {
		return false
	}
	delete(t.active, f.name)
	return true
}

func (t *timerTable) remaining(name timerName) time.Duration {
	s, ok := t.active[name]
	if !ok {
		return 0
	}
	if d := s.deadline.Sub(t.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// snapshot reports remaining milliseconds of every live timer except the
// internal housekeeping ones.
func (t *timerTable) snapshot() map[string]int64 {
	out := make(map[string]int64, len(t.active))
	for name := range t.active {
		if name == timerReap || name == timerAbandon {
			continue
		}
		out[string(name)] = t.remaining(name).Milliseconds()
	}
	return out
}

func (t *timerTable) stopAll() {
	for name := range t.active {
		t.cancel(name)
	}
}
