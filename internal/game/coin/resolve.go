package coin

import "errors"

// Power bounds for a charge.
const (
	MinPower = 0.0
	MaxPower = 100.0
)

// Rand is the only source of entropy the resolver needs.
// *rand.Rand from math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
}

// Outcome of one flip. Draws holds every value pulled from the Rand, in order,
// so the same outcome can be rebuilt with Replay.
type Outcome struct {
	Result     Face      `json:"result"`
	Winner     Side      `json:"roundWinner"`
	Push       bool      `json:"push"`
	InfluenceA float64   `json:"influenceA"`
	Draws      []float64 `json:"draws"`
}

var ErrShortDraws = errors.New("coin: not enough draws to replay outcome")

// ClampPower bounds a charge level to [MinPower, MaxPower].
func ClampPower(level float64) float64 {
	switch {
	case level != level: // NaN
		return MinPower
	case level < MinPower:
		return MinPower
	case level > MaxPower:
		return MaxPower
	}
	return level
}

// Influence returns side A's share of the total power.
// With no power on either side the coin is fair.
func Influence(powerA, powerB float64) float64 {
	total := powerA + powerB
	if total <= 0 {
		return 0.5
	}
	return powerA / total
}

// Toss is an unweighted coin toss.
func Toss(rng Rand) Face {
	if rng.Float64() < 0.5 {
		return Heads
	}
	return Tails
}

// Resolve turns both choices and both charges into a flip result.
//
// Different faces: the result is choiceA with probability powerA/(powerA+powerB),
// using a single draw r (r < influenceA selects choiceA).
//
// Same face: the result is a fair toss and the round is a push. The round winner
// is picked by a second, independent fair toss so a push still produces exactly
// one winner and never favours either slot.
func Resolve(choiceA, choiceB Face, powerA, powerB float64, rng Rand) Outcome {
	rec := &recorder{src: rng}
	out := resolve(choiceA, choiceB, ClampPower(powerA), ClampPower(powerB), rec)
	out.Draws = rec.draws
	return out
}

// Replay rebuilds an outcome from logged draws.
func Replay(choiceA, choiceB Face, powerA, powerB float64, draws []float64) (Outcome, error) {
	seq := NewSequence(draws...)
	out := Resolve(choiceA, choiceB, powerA, powerB, seq)
	if seq.Short() {
		return Outcome{}, ErrShortDraws
	}
	return out, nil
}

func resolve(choiceA, choiceB Face, powerA, powerB float64, rng Rand) Outcome {
	if choiceA == choiceB {
		result := Toss(rng)
		winner := SideA
		if rng.Float64() >= 0.5 {
			winner = SideB
		}
		return Outcome{Result: result, Winner: winner, Push: true, InfluenceA: 0.5}
	}

	influenceA := Influence(powerA, powerB)
	out := Outcome{InfluenceA: influenceA}
	if rng.Float64() < influenceA {
		out.Result, out.Winner = choiceA, SideA
	} else {
		out.Result, out.Winner = choiceB, SideB
	}
	return out
}

type recorder struct {
	src   Rand
	draws []float64
}

func (r *recorder) Float64() float64 {
	v := r.src.Float64()
	r.draws = append(r.draws, v)
	return v
}

// Sequence is a Rand that hands out a fixed list of draws.
// Once exhausted it keeps returning 0 and reports Short.
type Sequence struct {
	draws []float64
	next  int
	short bool
}

func NewSequence(draws ...float64) *Sequence {
	return &Sequence{draws: draws}
}

func (s *Sequence) Float64() float64 {
	if s.next >= len(s.draws) {
		s.short = true
		return 0
	}
	v := s.draws[s.next]
	s.next++
	return v
}

func (s *Sequence) Short() bool { return s.short }
