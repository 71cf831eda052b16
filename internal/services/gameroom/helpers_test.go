package gameroom

import (
	"context"
	"sync"
	"testing"
	"time"

	"coinflip/internal/game/coin"
	"coinflip/internal/network"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testMatch = "match-1"

var (
	holder     = mustRef("0x1111111111111111111111111111111111111111")
	challenger = mustRef("0x2222222222222222222222222222222222222222")
	stranger   = mustRef("0x3333333333333333333333333333333333333333")
)

func mustRef(s string) PlayerRef {
	p, err := ParsePlayerRef(s)
	if err != nil {
		panic(err)
	}
	return p
}

type fakeConn struct {
	id string
	mu sync.Mutex
	in []network.Message
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string         { return c.id }
func (c *fakeConn) RemoteAddr() string { return "test/" + c.id }
func (c *fakeConn) Close()             {}
func (c *fakeConn) Send(msg network.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in = append(c.in, msg)
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *recordingSink) all(matchID string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.MatchID == matchID {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) ofType(matchID string, t EventType) []Event {
	var out []Event
	for _, ev := range s.all(matchID) {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (s *recordingSink) count(matchID string, t EventType) int {
	return len(s.ofType(matchID, t))
}

type fakeMembers struct {
	mu    sync.Mutex
	rooms map[string]map[string]network.Conn
}

func newFakeMembers() *fakeMembers {
	return &fakeMembers{rooms: make(map[string]map[string]network.Conn)}
}

func (m *fakeMembers) Join(matchID string, c network.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[matchID] == nil {
		m.rooms[matchID] = make(map[string]network.Conn)
	}
	m.rooms[matchID][c.ID()] = c
}

func (m *fakeMembers) Leave(matchID string, c network.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rooms[matchID], c.ID())
}

func (m *fakeMembers) size(matchID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rooms[matchID])
}

// mutableParticipants lets a test swap the challenger after a deposit timeout.
type mutableParticipants struct {
	mu sync.Mutex
	m  map[string]Participants
}

func (p *mutableParticipants) Participants(_ context.Context, matchID string) (Participants, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	v, ok := p.m[matchID]
	if !ok {
		return Participants{}, ErrRoomNotFound
	}
	return v, nil
}

func (p *mutableParticipants) set(matchID string, v Participants) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.m[matchID] = v
}

type memRecorder struct {
	mu      sync.Mutex
	results []MatchResult
}

func (r *memRecorder) RecordResult(_ context.Context, res MatchResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	return nil
}

func (r *memRecorder) all() []MatchResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MatchResult(nil), r.results...)
}

type harness struct {
	t        *testing.T
	ctx      context.Context
	dir      *Directory
	clk      *clock.Mock
	sink     *recordingSink
	members  *fakeMembers
	parts    *mutableParticipants
	recorder *memRecorder
}

func testConfig() Config {
	return DefaultConfig()
}

// newHarness builds a directory whose rooms draw from the given values, in order.
func newHarness(t *testing.T, cfg Config, draws ...float64) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		clk:      clock.NewMock(),
		sink:     &recordingSink{},
		members:  newFakeMembers(),
		parts:    &mutableParticipants{m: map[string]Participants{testMatch: {Holder: holder, Challenger: challenger}}},
		recorder: &memRecorder{},
	}
	dir, err := NewDirectory(Options{
		Config:       cfg,
		Sink:         h.sink,
		Members:      h.members,
		Participants: h.parts,
		Recorder:     h.recorder,
		Clock:        h.clk,
		NewRand:      func() coin.Rand { return coin.NewSequence(draws...) },
		Logger:       zap.NewNop(),
	})
	require.NoError(t, err)
	h.dir = dir
	t.Cleanup(dir.Close)
	return h
}

func (h *harness) room() *MatchRoom {
	h.t.Helper()
	r, ok := h.dir.Room(testMatch)
	require.True(h.t, ok, "room %s not found", testMatch)
	return r
}

// waitFor polls cond briefly; timer callbacks run on their own goroutines.
func (h *harness) waitFor(cond func() bool) bool {
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

// advanceUntil moves the mock clock forward in steps until cond holds.
func (h *harness) advanceUntil(step time.Duration, maxSteps int, cond func() bool) {
	h.t.Helper()
	for i := 0; i < maxSteps; i++ {
		if cond() {
			return
		}
		h.clk.Add(step)
		if h.waitFor(cond) {
			return
		}
	}
	require.True(h.t, cond(), "condition not reached after %d steps of %s", maxSteps, step)
}

func (h *harness) phaseIs(p Phase) func() bool {
	return func() bool {
		r, ok := h.dir.Room(testMatch)
		return ok && r.Phase() == p
	}
}

// attachBoth attaches both players and returns their connections.
func (h *harness) attachBoth() (*fakeConn, *fakeConn) {
	h.t.Helper()
	a, b := newFakeConn("conn-a"), newFakeConn("conn-b")
	_, err := h.dir.Attach(h.ctx, testMatch, holder, a)
	require.NoError(h.t, err)
	_, err = h.dir.Attach(h.ctx, testMatch, challenger, b)
	require.NoError(h.t, err)
	return a, b
}

// startPlay drives a fresh room to the first Choosing phase.
func (h *harness) startPlay() (*fakeConn, *fakeConn) {
	h.t.Helper()
	a, b := h.attachBoth()
	_, err := h.dir.SubmitDeposit(h.ctx, testMatch, holder, AssetNFT)
	require.NoError(h.t, err)
	_, err = h.dir.SubmitDeposit(h.ctx, testMatch, challenger, AssetPayment)
	require.NoError(h.t, err)
	h.advanceUntil(time.Second, 10, h.phaseIs(PhaseChoosing))
	return a, b
}

// playRound submits both choices and powers and waits for the result.
func (h *harness) playRound(choiceA, choiceB coin.Face, powerA, powerB float64) {
	h.t.Helper()
	_, err := h.dir.SubmitChoice(h.ctx, testMatch, holder, choiceA)
	require.NoError(h.t, err)
	_, err = h.dir.SubmitChoice(h.ctx, testMatch, challenger, choiceB)
	require.NoError(h.t, err)
	_, err = h.dir.SubmitPower(h.ctx, testMatch, holder, powerA)
	require.NoError(h.t, err)
	_, err = h.dir.SubmitPower(h.ctx, testMatch, challenger, powerB)
	require.NoError(h.t, err)
	h.advanceUntil(500*time.Millisecond, 20, func() bool {
		r, ok := h.dir.Room(testMatch)
		return ok && (r.Phase() == PhaseRoundResult || r.Phase().Terminal())
	})
}
