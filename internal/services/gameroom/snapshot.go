package gameroom

import "coinflip/internal/game/coin"

// PlayerView is the public state of one side.
type PlayerView struct {
	Address   PlayerRef `json:"address,omitempty"`
	Connected bool      `json:"connected"`
	Deposited bool      `json:"deposited"`
}

// Snapshot is the full current state a client needs to render a room.
// Choices are reported only as made/not made until the flip reveals them.
type Snapshot struct {
	MatchID      string             `json:"matchId"`
	Phase        Phase              `json:"phase"`
	Round        int                `json:"round"`
	WinThreshold int                `json:"winThreshold"`
	MaxRounds    int                `json:"maxRounds"`
	Scores       Pair[int]          `json:"scores"`
	Players      Pair[PlayerView]   `json:"players"`
	Chosen       Pair[bool]         `json:"chosen"`
	Powers       Pair[float64]      `json:"powers"`
	Countdown    int                `json:"countdown,omitempty"`
	Deadlines    map[string]int64   `json:"deadlinesMs,omitempty"`
	Spectators   int                `json:"spectators"`
	LastFlip     *FlipResultPayload `json:"lastFlip,omitempty"`
	Winner       PlayerRef          `json:"winner,omitempty"`
	Reason       string             `json:"reason,omitempty"`
}

func (r *MatchRoom) snapshot() Snapshot {
	var players [2]PlayerView
	var chosen [2]bool
	for _, side := range []coin.Side{coin.SideA, coin.SideB} {
		s := r.slots[side]
		players[side] = PlayerView{Address: s.ref, Connected: s.conn != nil, Deposited: s.deposited}
		chosen[side] = r.choices[side].Valid()
	}

	snap := Snapshot{
		MatchID:      r.id,
		Phase:        r.phase,
		Round:        r.round,
		WinThreshold: r.cfg.WinThreshold,
		MaxRounds:    r.cfg.MaxRounds,
		Scores:       pairOf(r.scores),
		Players:      pairOf(players),
		Chosen:       pairOf(chosen),
		Powers:       pairOf(r.powers),
		Spectators:   len(r.spectators),
		LastFlip:     r.lastFlip,
		Winner:       r.winner,
		Reason:       r.reason,
	}
	if r.phase == PhaseCountdown {
		snap.Countdown = r.countdown
	}
	if d := r.timers.snapshot(); len(d) > 0 {
		snap.Deadlines = d
	}
	return snap
}
