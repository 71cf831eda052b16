package gameroom

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"coinflip/internal/game/coin"
	"coinflip/internal/network"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

// Ack is the outcome of a command that was not rejected.
type Ack string

const (
	AckAccepted  Ack = "accepted"
	AckPending   Ack = "pending"
	AckConfirmed Ack = "confirmed"
	AckDuplicate Ack = "duplicate"
	AckIgnored   Ack = "ignored"
)

type slot struct {
	ref       PlayerRef
	conn      network.Conn
	deposited bool
	seen      bool
}

// MatchRoom is the actor owning one match. Every mutation runs on the Run
// goroutine, one message at a time; timers feed the same inbox.
type MatchRoom struct {
	id       string
	holder   PlayerRef
	cfg      Config
	clock    clock.Clock
	rng      coin.Rand
	sink     EventSink
	members  Membership
	source   ParticipantSource
	recorder ResultRecorder
	log      *zap.Logger
	onClosed func(*MatchRoom)

	inbox    chan roomMessage
	quit     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	// Read from other goroutines.
	gameState      atomic.Value
	challengerOpen atomic.Bool

	// Owned by the Run goroutine.
	phase      Phase
	slots      [2]slot
	spectators map[string]network.Conn
	round      int
	scores     [2]int
	choices    [2]coin.Face
	powers     [2]float64
	countdown  int
	pending    *coin.Outcome
	lastFlip   *FlipResultPayload
	winner     PlayerRef
	reason     string
	seq        uint64
	lastAt     int64
	timers     *timerTable
	closing    bool
}

type roomParams struct {
	id              string
	participants    Participants
	holderDeposited bool
	fromOffer       bool
	cfg             Config
	clock           clock.Clock
	rng             coin.Rand
	sink            EventSink
	members         Membership
	source          ParticipantSource
	recorder        ResultRecorder
	log             *zap.Logger
	onClosed        func(*MatchRoom)
}

func newMatchRoom(p roomParams) *MatchRoom {
	r := &MatchRoom{
		id:         p.id,
		holder:     p.participants.Holder,
		cfg:        p.cfg,
		clock:      p.clock,
		rng:        p.rng,
		sink:       p.sink,
		members:    p.members,
		source:     p.source,
		recorder:   p.recorder,
		log:        p.log.With(zap.String("match", p.id)),
		onClosed:   p.onClosed,
		inbox:      make(chan roomMessage, p.cfg.InboxSize),
		quit:       make(chan struct{}),
		stopped:    make(chan struct{}),
		spectators: make(map[string]network.Conn),
	}
	r.timers = newTimerTable(r.clock, r.enqueueTimer)
	r.slots[coin.SideA] = slot{ref: p.participants.Holder, deposited: p.holderDeposited}
	r.slots[coin.SideB] = slot{ref: p.participants.Challenger}
	r.challengerOpen.Store(p.participants.Challenger == "")
	r.setPhase(PhaseWaiting)

	// Rooms opened from an accepted offer start with nobody attached: the
	// challenger's deposit window and the abandon timer run from creation.
	if p.fromOffer {
		r.timers.start(timerDeposit, r.cfg.ChallengerDepositWindow)
		r.timers.start(timerAbandon, r.cfg.AbandonAfter)
	}
	return r
}

func (r *MatchRoom) ID() string { return r.id }

// Phase is safe to call from any goroutine.
func (r *MatchRoom) Phase() Phase {
	return r.gameState.Load().(Phase)
}

func (r *MatchRoom) IsFinished() bool {
	return r.Phase().Terminal()
}

// Done is closed once the room goroutine has exited.
func (r *MatchRoom) Done() <-chan struct{} { return r.stopped }

func (r *MatchRoom) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

func (r *MatchRoom) Run() {
	r.log.Info("room started", zap.String("holder", r.holder.String()))
	defer r.shutdown()

	for {
		select {
		case msg := <-r.inbox:
			r.process(msg)
			if r.closing {
				return
			}
		case <-r.quit:
			return
		}
	}
}

func (r *MatchRoom) shutdown() {
	r.timers.stopAll()
	for _, s := range r.slots {
		if s.conn != nil {
			r.members.Leave(r.id, s.conn)
		}
	}
	for _, c := range r.spectators {
		r.members.Leave(r.id, c)
	}
	close(r.stopped)
	r.log.Info("room stopped", zap.Stringer("phase", r.phase))
	if r.onClosed != nil {
		r.onClosed(r)
	}
}

// process applies one message. A panic inside a handler terminates this room
// only: it is logged with the room state and the match is forfeited with a
// system error.
func (r *MatchRoom) process(msg roomMessage) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("room handler panicked",
				zap.Any("panic", p),
				zap.String("message", fmt.Sprintf("%T", msg)),
				zap.Any("state", r.safeSnapshot()),
				zap.Stack("stack"))
			if rq, ok := msg.(replier); ok {
				rq.respond(reply{err: ErrInternal})
			}
			r.abort()
		}
	}()
	r.handle(msg)
}

func (r *MatchRoom) abort() {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("room abort panicked, closing", zap.Any("panic", p))
			r.closing = true
		}
	}()
	if !r.phase.Terminal() {
		r.finish(PhaseForfeited, nil, ReasonSystemError)
	}
}

func (r *MatchRoom) safeSnapshot() (s Snapshot) {
	defer func() { _ = recover() }()
	return r.snapshot()
}

func (r *MatchRoom) handle(msg roomMessage) {
	switch m := msg.(type) {
	case attachRequest:
		snap, err := r.attach(m.player, m.conn, m.claim)
		m.respond(reply{snap: snap, err: err})
	case detachRequest:
		r.detach(m.player, m.conn)
		m.respond(reply{})
	case depositRequest:
		ack, err := r.submitDeposit(m.player, m.kind)
		m.respond(reply{ack: ack, err: err})
	case choiceRequest:
		ack, err := r.submitChoice(m.player, m.face)
		m.respond(reply{ack: ack, err: err})
	case powerRequest:
		ack, err := r.submitPower(m.player, m.level)
		m.respond(reply{ack: ack, err: err})
	case forfeitRequest:
		ack, err := r.forceForfeit(m.player, m.reason)
		m.respond(reply{ack: ack, err: err})
	case snapshotRequest:
		m.respond(reply{snap: r.snapshot()})
	case connLost:
		r.dropConn(m.conn)
	case timerFired:
		if r.timers.claim(m) {
			r.onTimer(m.name)
		}
	default:
		r.log.Warn("unknown room message", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (r *MatchRoom) enqueueTimer(f timerFired) {
	select {
	case r.inbox <- f:
	case <-r.stopped:
	}
}

func (r *MatchRoom) setPhase(p Phase) {
	if r.phase != p {
		r.log.Debug("phase transition", zap.Stringer("from", r.phase), zap.Stringer("to", p))
	}
	r.phase = p
	r.gameState.Store(p)
}

func (r *MatchRoom) emit(t EventType, payload any) {
	r.deliver(Event{Type: t, Payload: payload})
}

func (r *MatchRoom) emitToConn(c network.Conn, t EventType, payload any) {
	r.deliver(Event{Type: t, Payload: payload, Conn: c})
}

// emitTo addresses one player through whatever socket they hold now.
func (r *MatchRoom) emitTo(p PlayerRef, t EventType, payload any) {
	r.deliver(Event{Type: t, Payload: payload, To: p})
}

func (r *MatchRoom) deliver(ev Event) {
	r.seq++
	at := r.clock.Now().UnixMilli()
	if at < r.lastAt {
		at = r.lastAt
	}
	r.lastAt = at

	ev.MatchID = r.id
	ev.Seq = r.seq
	ev.At = at
	r.sink.Emit(ev)
}

func (r *MatchRoom) sideOf(player PlayerRef) (coin.Side, bool) {
	if player == "" {
		return 0, false
	}
	for _, side := range []coin.Side{coin.SideA, coin.SideB} {
		if r.slots[side].ref == player {
			return side, true
		}
	}
	return 0, false
}

func (r *MatchRoom) connected(side coin.Side) bool {
	return r.slots[side].conn != nil
}

// --- public API, safe from any goroutine ---

func (r *MatchRoom) Attach(ctx context.Context, player PlayerRef, conn network.Conn) (Snapshot, error) {
	if conn == nil {
		return Snapshot{}, fmt.Errorf("%w: attach without connection", ErrInvalidMatch)
	}
	claim := false
	if player != "" && player != r.holder && r.challengerOpen.Load() && r.source != nil {
		p, err := r.source.Participants(ctx, r.id)
		switch {
		case err != nil:
			r.log.Warn("participant lookup failed", zap.Error(err))
		case p.Holder == r.holder && p.Challenger == player:
			claim = true
		}
	}
	rep, err := r.ask(ctx, attachRequest{request: newRequest(), player: player, conn: conn, claim: claim})
	return rep.snap, err
}

func (r *MatchRoom) Detach(ctx context.Context, player PlayerRef, conn network.Conn) error {
	_, err := r.ask(ctx, detachRequest{request: newRequest(), player: player, conn: conn})
	return err
}

func (r *MatchRoom) SubmitDeposit(ctx context.Context, player PlayerRef, kind AssetKind) (Ack, error) {
	rep, err := r.ask(ctx, depositRequest{request: newRequest(), player: player, kind: kind})
	return rep.ack, err
}

func (r *MatchRoom) SubmitChoice(ctx context.Context, player PlayerRef, face coin.Face) (Ack, error) {
	rep, err := r.ask(ctx, choiceRequest{request: newRequest(), player: player, face: face})
	return rep.ack, err
}

func (r *MatchRoom) SubmitPower(ctx context.Context, player PlayerRef, level float64) (Ack, error) {
	rep, err := r.ask(ctx, powerRequest{request: newRequest(), player: player, level: level})
	return rep.ack, err
}

func (r *MatchRoom) Forfeit(ctx context.Context, player PlayerRef, reason string) (Ack, error) {
	rep, err := r.ask(ctx, forfeitRequest{request: newRequest(), player: player, reason: reason})
	return rep.ack, err
}

func (r *MatchRoom) Snapshot(ctx context.Context) (Snapshot, error) {
	rep, err := r.ask(ctx, snapshotRequest{request: newRequest()})
	return rep.snap, err
}

// ConnLost tells the room a connection was found dead while sending to it.
// It never blocks the caller.
func (r *MatchRoom) ConnLost(conn network.Conn) {
	go func() {
		select {
		case r.inbox <- connLost{conn: conn}:
		case <-r.stopped:
		}
	}()
}

func (r *MatchRoom) ask(ctx context.Context, msg replier) (reply, error) {
	select {
	case r.inbox <- msg:
	case <-r.stopped:
		return reply{}, ErrRoomClosed
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}

	ch := msg.replyCh()
	select {
	case rep := <-ch:
		return rep, rep.err
	case <-r.stopped:
		// the message that closed the room still answered
		select {
		case rep := <-ch:
			return rep, rep.err
		default:
			return reply{}, ErrRoomClosed
		}
	case <-ctx.Done():
		return reply{}, ctx.Err()
	}
}
