package gameroom

import (
	"sync"
	"testing"
	"time"

	"coinflip/internal/game/coin"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttachBothDepositsThenCountdownThenChoosing(t *testing.T) {
	h := newHarness(t, testConfig())
	h.attachBoth()
	assert.Equal(t, PhaseLocked, h.room().Phase())

	ack, err := h.dir.SubmitDeposit(h.ctx, testMatch, holder, AssetNFT)
	require.NoError(t, err)
	assert.Equal(t, AckPending, ack)
	assert.Equal(t, PhaseDepositPending, h.room().Phase())

	ack, err = h.dir.SubmitDeposit(h.ctx, testMatch, challenger, AssetPayment)
	require.NoError(t, err)
	assert.Equal(t, AckConfirmed, ack)
	assert.Equal(t, PhaseCountdown, h.room().Phase())

	start := h.clk.Now()
	h.advanceUntil(time.Second, 10, h.phaseIs(PhaseChoosing))
	assert.LessOrEqual(t, h.clk.Now().Sub(start), 3*time.Second)

	var counts []int
	for _, ev := range h.sink.ofType(testMatch, EventCountdownUpdate) {
		counts = append(counts, ev.Payload.(CountdownPayload).N)
	}
	assert.Equal(t, []int{3, 2, 1}, counts)

	started := h.sink.ofType(testMatch, EventRoundStarted)
	require.Len(t, started, 1)
	assert.Equal(t, 1, started[0].Payload.(RoundStartedPayload).RoundNumber)
}

func TestForcedDrawDecidesRound(t *testing.T) {
	h := newHarness(t, testConfig(), 0.1)
	h.startPlay()

	h.playRound(coin.Heads, coin.Tails, 80, 20)

	results := h.sink.ofType(testMatch, EventFlipResult)
	require.Len(t, results, 1)
	res := results[0].Payload.(FlipResultPayload)
	assert.Equal(t, coin.Heads, res.Result)
	assert.Equal(t, coin.SideA, res.RoundWinner)
	assert.Equal(t, Pair[int]{A: 1, B: 0}, res.Scores)
	assert.Equal(t, []float64{0.1}, res.Draws)
	assert.False(t, res.Push)

	snap, err := h.dir.Snapshot(h.ctx, testMatch)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Scores.A)
	assert.Equal(t, PhaseRoundResult, snap.Phase)

	started := h.sink.ofType(testMatch, EventFlipStarted)
	require.Len(t, started, 1)
	assert.Equal(t, int64(3000), started[0].Payload.(FlipStartedPayload).EstimatedDurationMs)
}

func TestMissingChoiceIsAutoFilledOnce(t *testing.T) {
	h := newHarness(t, testConfig())
	h.startPlay()

	ack, err := h.dir.SubmitChoice(h.ctx, testMatch, holder, coin.Heads)
	require.NoError(t, err)
	assert.Equal(t, AckAccepted, ack)

	h.clk.Add(29 * time.Second)
	h.waitFor(func() bool { return false })
	assert.Equal(t, PhaseChoosing, h.room().Phase())

	h.advanceUntil(time.Second, 5, h.phaseIs(PhasePowerCharging))

	auto := h.sink.ofType(testMatch, EventChoicesAutoCompleted)
	require.Len(t, auto, 1)
	assert.Equal(t, []coin.Side{coin.SideB}, auto[0].Payload.(AutoCompletedPayload).Sides)
	assert.Equal(t, 1, h.sink.count(testMatch, EventPowerPhaseStarted))
}

func TestDisconnectPastGraceForfeits(t *testing.T) {
	h := newHarness(t, testConfig())
	connA, _ := h.startPlay()

	require.NoError(t, h.dir.Detach(h.ctx, testMatch, holder, connA))

	warn := h.sink.ofType(testMatch, EventPlayerDisconnected)
	require.Len(t, warn, 1)
	assert.Equal(t, PlayerDisconnectedPayload{Side: coin.SideA, GraceMs: 30_000}, warn[0].Payload)

	h.advanceUntil(time.Second, 40, h.phaseIs(PhaseForfeited))

	done := h.sink.ofType(testMatch, EventGameCompleted)
	require.Len(t, done, 1)
	final := done[0].Payload.(GameCompletedPayload)
	assert.Equal(t, challenger, final.Winner)
	assert.Equal(t, ReasonForfeit, final.Reason)

	_, err := h.dir.SubmitChoice(h.ctx, testMatch, challenger, coin.Tails)
	assert.ErrorIs(t, err, ErrMatchOver)

	// after the terminal grace the room is gone and cannot be revived
	h.advanceUntil(time.Second, 30, func() bool {
		_, ok := h.dir.Room(testMatch)
		return !ok
	})
	_, err = h.dir.Attach(h.ctx, testMatch, holder, newFakeConn("late"))
	assert.ErrorIs(t, err, ErrMatchOver)
	_, err = h.dir.SubmitChoice(h.ctx, testMatch, challenger, coin.Tails)
	assert.ErrorIs(t, err, ErrMatchOver)

	assert.Equal(t, 1, h.sink.count(testMatch, EventGameCompleted))
	assert.Eventually(t, func() bool { return len(h.recorder.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, challenger, h.recorder.all()[0].Winner)
}

func TestReconnectWithinGraceCancelsForfeit(t *testing.T) {
	cfg := testConfig()
	cfg.ChoiceDeadline = 5 * time.Minute
	h := newHarness(t, cfg)
	connA, _ := h.startPlay()

	require.NoError(t, h.dir.Detach(h.ctx, testMatch, holder, connA))
	h.clk.Add(10 * time.Second)

	connA2 := newFakeConn("conn-a2")
	snap, err := h.dir.Attach(h.ctx, testMatch, holder, connA2)
	require.NoError(t, err)
	assert.Equal(t, PhaseChoosing, snap.Phase)
	assert.True(t, snap.Players.A.Connected)
	assert.NotContains(t, snap.Deadlines, string(timerForfeitA))
	assert.Equal(t, 1, h.sink.count(testMatch, EventPlayerReconnected))

	// the old socket closing late must not count as a new disconnect
	require.NoError(t, h.dir.Detach(h.ctx, testMatch, holder, connA))

	h.clk.Add(25 * time.Second)
	h.waitFor(func() bool { return false })

	snap, err = h.dir.Snapshot(h.ctx, testMatch)
	require.NoError(t, err)
	assert.Equal(t, PhaseChoosing, snap.Phase)
	assert.Equal(t, 1, snap.Round)
	assert.True(t, snap.Players.A.Connected)
	assert.Equal(t, 0, h.sink.count(testMatch, EventGameCompleted))
	assert.Equal(t, 1, h.sink.count(testMatch, EventPlayerDisconnected))

	ack, err := h.dir.SubmitChoice(h.ctx, testMatch, holder, coin.Heads)
	require.NoError(t, err)
	assert.Equal(t, AckAccepted, ack)
}

func TestDuplicateSubmissionsKeepFirstValue(t *testing.T) {
	h := newHarness(t, testConfig(), 0.5)
	h.startPlay()

	ack, err := h.dir.SubmitChoice(h.ctx, testMatch, holder, coin.Heads)
	require.NoError(t, err)
	assert.Equal(t, AckAccepted, ack)
	ack, err = h.dir.SubmitChoice(h.ctx, testMatch, holder, coin.Tails)
	require.NoError(t, err)
	assert.Equal(t, AckDuplicate, ack)
	assert.Equal(t, 1, h.sink.count(testMatch, EventChoiceMade))

	_, err = h.dir.SubmitChoice(h.ctx, testMatch, challenger, coin.Tails)
	require.NoError(t, err)

	ack, err = h.dir.SubmitPower(h.ctx, testMatch, holder, 80)
	require.NoError(t, err)
	assert.Equal(t, AckAccepted, ack)
	ack, err = h.dir.SubmitPower(h.ctx, testMatch, holder, 10)
	require.NoError(t, err)
	assert.Equal(t, AckDuplicate, ack)

	_, err = h.dir.SubmitPower(h.ctx, testMatch, challenger, 20)
	require.NoError(t, err)
	h.advanceUntil(500*time.Millisecond, 20, h.phaseIs(PhaseRoundResult))

	res := h.sink.ofType(testMatch, EventFlipResult)[0].Payload.(FlipResultPayload)
	assert.Equal(t, Pair[coin.Face]{A: coin.Heads, B: coin.Tails}, res.Choices)
	assert.Equal(t, Pair[float64]{A: 80, B: 20}, res.Powers)
}

func TestRejectionsLeaveStateUntouched(t *testing.T) {
	h := newHarness(t, testConfig())
	h.startPlay()
	before := len(h.sink.all(testMatch))

	_, err := h.dir.SubmitChoice(h.ctx, testMatch, stranger, coin.Heads)
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.dir.SubmitPower(h.ctx, testMatch, holder, 50)
	assert.ErrorIs(t, err, ErrWrongPhase)
	_, err = h.dir.SubmitChoice(h.ctx, testMatch, holder, coin.Face(0))
	assert.ErrorIs(t, err, ErrInvalidChoice)
	_, err = h.dir.Forfeit(h.ctx, testMatch, stranger, ReasonManual)
	assert.ErrorIs(t, err, ErrUnauthorized)

	assert.Len(t, h.sink.all(testMatch), before)

	_, err = h.dir.SubmitChoice(h.ctx, testMatch, holder, coin.Heads)
	require.NoError(t, err)
	_, err = h.dir.SubmitChoice(h.ctx, testMatch, challenger, coin.Heads)
	require.NoError(t, err)
	_, err = h.dir.SubmitChoice(h.ctx, testMatch, challenger, coin.Tails)
	assert.ErrorIs(t, err, ErrWrongPhase)

	ack, err := h.dir.SubmitPower(h.ctx, testMatch, holder, -20)
	require.NoError(t, err)
	assert.Equal(t, AckIgnored, ack)
	ack, err = h.dir.SubmitPower(h.ctx, testMatch, holder, 250)
	require.NoError(t, err)
	assert.Equal(t, AckAccepted, ack)

	charged := h.sink.ofType(testMatch, EventPowerCharged)
	require.Len(t, charged, 1)
	assert.Equal(t, 100.0, charged[0].Payload.(PowerChargedPayload).Level)
}

func TestMissingPowerIsAutoFilled(t *testing.T) {
	h := newHarness(t, testConfig(), 0.3)
	h.startPlay()

	_, err := h.dir.SubmitChoice(h.ctx, testMatch, holder, coin.Heads)
	require.NoError(t, err)
	_, err = h.dir.SubmitChoice(h.ctx, testMatch, challenger, coin.Tails)
	require.NoError(t, err)
	_, err = h.dir.SubmitPower(h.ctx, testMatch, holder, 60)
	require.NoError(t, err)

	h.advanceUntil(time.Second, 30, h.phaseIs(PhaseFlipping))

	auto := h.sink.ofType(testMatch, EventPowersAutoCompleted)
	require.Len(t, auto, 1)
	assert.Equal(t, []coin.Side{coin.SideB}, auto[0].Payload.(AutoCompletedPayload).Sides)

	h.advanceUntil(500*time.Millisecond, 20, h.phaseIs(PhaseRoundResult))
	res := h.sink.ofType(testMatch, EventFlipResult)[0].Payload.(FlipResultPayload)
	assert.Equal(t, Pair[float64]{A: 60, B: 1}, res.Powers)
}

func TestSameFaceIsAPushWithOneWinner(t *testing.T) {
	h := newHarness(t, testConfig(), 0.2, 0.7)
	h.startPlay()

	h.playRound(coin.Heads, coin.Heads, 90, 10)

	res := h.sink.ofType(testMatch, EventFlipResult)[0].Payload.(FlipResultPayload)
	assert.True(t, res.Push)
	assert.Equal(t, coin.Heads, res.Result)
	assert.Equal(t, coin.SideB, res.RoundWinner)
	assert.Equal(t, Pair[int]{A: 0, B: 1}, res.Scores)
}

func TestMatchCompletesWithinMaxRounds(t *testing.T) {
	h := newHarness(t, testConfig(), 0.1, 0.9, 0.1, 0.9, 0.1)
	h.startPlay()

	for round := 1; round <= 5; round++ {
		h.playRound(coin.Heads, coin.Tails, 50, 50)
		if h.room().Phase().Terminal() {
			break
		}
		h.advanceUntil(500*time.Millisecond, 20, h.phaseIs(PhaseChoosing))
	}

	snap, err := h.dir.Snapshot(h.ctx, testMatch)
	require.NoError(t, err)
	assert.Equal(t, PhaseCompleted, snap.Phase)
	assert.Equal(t, 5, snap.Round)
	assert.Equal(t, Pair[int]{A: 3, B: 2}, snap.Scores)
	assert.LessOrEqual(t, snap.Scores.A+snap.Scores.B, snap.Round)
	assert.Equal(t, 5, h.sink.count(testMatch, EventRoundStarted))

	done := h.sink.ofType(testMatch, EventGameCompleted)
	require.Len(t, done, 1)
	final := done[0].Payload.(GameCompletedPayload)
	assert.Equal(t, holder, final.Winner)
	assert.Equal(t, ReasonScore, final.Reason)
}

func TestEvenMaxRoundsCanEndInADraw(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRounds = 4
	h := newHarness(t, cfg, 0.1, 0.9, 0.1, 0.9)
	h.startPlay()

	for round := 1; round <= 4; round++ {
		h.playRound(coin.Heads, coin.Tails, 50, 50)
		if h.room().Phase().Terminal() {
			break
		}
		h.advanceUntil(500*time.Millisecond, 20, h.phaseIs(PhaseChoosing))
	}

	final := h.sink.ofType(testMatch, EventGameCompleted)[0].Payload.(GameCompletedPayload)
	assert.Equal(t, ReasonDraw, final.Reason)
	assert.Empty(t, final.Winner)
	assert.Nil(t, final.WinnerSide)
}

func TestDepositTimeoutReleasesChallenger(t *testing.T) {
	h := newHarness(t, testConfig())
	h.attachBoth()

	_, err := h.dir.SubmitDeposit(h.ctx, testMatch, holder, AssetNFT)
	require.NoError(t, err)
	ack, err := h.dir.SubmitDeposit(h.ctx, testMatch, challenger, AssetNFT)
	require.NoError(t, err)
	assert.Equal(t, AckIgnored, ack, "challenger must pay, not stake an NFT")

	h.advanceUntil(10*time.Second, 15, h.phaseIs(PhaseWaiting))

	timeouts := h.sink.ofType(testMatch, EventDepositTimeout)
	require.Len(t, timeouts, 1)
	assert.Equal(t, DepositTimeoutPayload{
		Holder:              holder,
		Challenger:          challenger,
		ChallengerConnected: true,
		Missing:             []coin.Side{coin.SideB},
	}, timeouts[0].Payload)

	released := h.sink.ofType(testMatch, EventChallengerReleased)
	require.Len(t, released, 1)
	assert.Equal(t, challenger, released[0].To)
	assert.Nil(t, released[0].Conn)

	snap, err := h.dir.Snapshot(h.ctx, testMatch)
	require.NoError(t, err)
	assert.Empty(t, snap.Players.B.Address)
	assert.False(t, snap.Players.A.Deposited)
	assert.True(t, snap.Players.A.Connected)
	assert.Equal(t, 1, snap.Spectators)

	_, err = h.dir.SubmitDeposit(h.ctx, testMatch, challenger, AssetPayment)
	assert.ErrorIs(t, err, ErrUnauthorized)

	// a new challenger accepted upstream takes the open seat
	h.parts.set(testMatch, Participants{Holder: holder, Challenger: stranger})
	snap, err = h.dir.Attach(h.ctx, testMatch, stranger, newFakeConn("conn-c"))
	require.NoError(t, err)
	assert.Equal(t, PhaseLocked, snap.Phase)
	assert.Equal(t, stranger, snap.Players.B.Address)
}

func TestOfferOpenedRoomKeepsHolderDeposit(t *testing.T) {
	h := newHarness(t, testConfig())
	_, created, err := h.dir.Open(h.ctx, OpenRequest{
		MatchID:         testMatch,
		Participants:    Participants{Holder: holder, Challenger: challenger},
		HolderDeposited: true,
	})
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = h.dir.Open(h.ctx, OpenRequest{MatchID: testMatch, Participants: Participants{Holder: holder}})
	require.NoError(t, err)
	assert.False(t, created)

	snap, err := h.dir.Snapshot(h.ctx, testMatch)
	require.NoError(t, err)
	assert.True(t, snap.Players.A.Deposited)
	assert.Contains(t, snap.Deadlines, string(timerDeposit))

	_, err = h.dir.Attach(h.ctx, testMatch, challenger, newFakeConn("b"))
	require.NoError(t, err)
	snap, err = h.dir.Attach(h.ctx, testMatch, holder, newFakeConn("a"))
	require.NoError(t, err)
	assert.Equal(t, PhaseDepositPending, snap.Phase)

	ack, err := h.dir.SubmitDeposit(h.ctx, testMatch, challenger, AssetPayment)
	require.NoError(t, err)
	assert.Equal(t, AckConfirmed, ack)
	assert.Equal(t, PhaseCountdown, h.room().Phase())
}

func TestUnattendedOfferRoomIsAbandoned(t *testing.T) {
	h := newHarness(t, testConfig())
	_, _, err := h.dir.Open(h.ctx, OpenRequest{
		MatchID:      testMatch,
		Participants: Participants{Holder: holder, Challenger: challenger},
	})
	require.NoError(t, err)

	h.advanceUntil(time.Minute, 30, h.phaseIs(PhaseForfeited))

	final := h.sink.ofType(testMatch, EventGameCompleted)[0].Payload.(GameCompletedPayload)
	assert.Equal(t, ReasonTimeout, final.Reason)
	assert.Empty(t, final.Winner)
}

func TestManualForfeitIsIdempotent(t *testing.T) {
	h := newHarness(t, testConfig())
	h.startPlay()

	ack, err := h.dir.Forfeit(h.ctx, testMatch, challenger, "")
	require.NoError(t, err)
	assert.Equal(t, AckAccepted, ack)

	ack, err = h.dir.Forfeit(h.ctx, testMatch, holder, ReasonManual)
	require.NoError(t, err)
	assert.Equal(t, AckDuplicate, ack)

	done := h.sink.ofType(testMatch, EventGameCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, holder, done[0].Payload.(GameCompletedPayload).Winner)
	assert.Equal(t, ReasonManual, done[0].Payload.(GameCompletedPayload).Reason)
}

func TestSpectatorsAreReadOnly(t *testing.T) {
	h := newHarness(t, testConfig())
	h.attachBoth()

	watcher := newFakeConn("watcher")
	snap, err := h.dir.Attach(h.ctx, testMatch, stranger, watcher)
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Spectators)
	assert.Equal(t, 3, h.members.size(testMatch))

	joined := h.sink.ofType(testMatch, EventRoomJoined)
	last := joined[len(joined)-1]
	assert.Equal(t, watcher.ID(), last.Conn.ID())
	assert.Equal(t, roleSpectator, last.Payload.(RoomJoinedPayload).Role)

	_, err = h.dir.SubmitDeposit(h.ctx, testMatch, stranger, AssetPayment)
	assert.ErrorIs(t, err, ErrUnauthorized)

	require.NoError(t, h.dir.Detach(h.ctx, testMatch, stranger, watcher))
	snap, err = h.dir.Snapshot(h.ctx, testMatch)
	require.NoError(t, err)
	assert.Equal(t, 0, snap.Spectators)
	assert.Equal(t, PhaseLocked, snap.Phase)
}

func TestUnknownRoomRejectsNonParticipants(t *testing.T) {
	h := newHarness(t, testConfig())

	_, err := h.dir.Attach(h.ctx, testMatch, stranger, newFakeConn("x"))
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = h.dir.Attach(h.ctx, "no-such-match", holder, newFakeConn("y"))
	assert.ErrorIs(t, err, ErrRoomNotFound)
	assert.Equal(t, 0, h.dir.Len())
}

func TestConcurrentFirstAttachCreatesOneRoom(t *testing.T) {
	h := newHarness(t, testConfig())

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, p := range []PlayerRef{holder, challenger} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = h.dir.Attach(h.ctx, testMatch, p, newFakeConn(p.String()))
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, h.dir.Len())
	assert.Equal(t, PhaseLocked, h.room().Phase())
	assert.Equal(t, 1, h.sink.count(testMatch, EventRoomLocked))
}

func TestEventsAreSequencedPerRoom(t *testing.T) {
	h := newHarness(t, testConfig(), 0.1)
	h.startPlay()
	h.playRound(coin.Heads, coin.Tails, 80, 20)

	events := h.sink.all(testMatch)
	require.NotEmpty(t, events)
	for i, ev := range events {
		assert.Equal(t, uint64(i+1), ev.Seq)
		if i > 0 {
			assert.GreaterOrEqual(t, ev.At, events[i-1].At)
		}
	}
}

type panickySink struct {
	*recordingSink
	on EventType
}

func (p panickySink) Emit(ev Event) {
	if ev.MatchID == testMatch && ev.Type == p.on {
		panic("sink exploded")
	}
	p.recordingSink.Emit(ev)
}

func TestPanicForfeitsOnlyThatRoom(t *testing.T) {
	h := newHarness(t, testConfig())
	sink := panickySink{recordingSink: h.sink, on: EventChoiceMade}
	h.parts.set("match-2", Participants{Holder: holder, Challenger: challenger})
	dir, err := NewDirectory(Options{
		Config:       testConfig(),
		Sink:         sink,
		Members:      h.members,
		Participants: h.parts,
		Clock:        h.clk,
	})
	require.NoError(t, err)
	t.Cleanup(dir.Close)
	h.dir = dir

	h.startPlay()
	_, err = h.dir.SubmitChoice(h.ctx, testMatch, holder, coin.Heads)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Equal(t, PhaseForfeited, h.room().Phase())

	done := h.sink.ofType(testMatch, EventGameCompleted)
	require.Len(t, done, 1)
	assert.Equal(t, ReasonSystemError, done[0].Payload.(GameCompletedPayload).Reason)

	snap, err := dir.Attach(h.ctx, "match-2", holder, newFakeConn("other"))
	require.NoError(t, err)
	assert.Equal(t, PhaseWaiting, snap.Phase)
}
