package gameroom

import "fmt"

type Phase uint8

const (
	PhaseWaiting Phase = iota
	PhaseLocked
	PhaseDepositPending
	PhaseCountdown
	PhaseChoosing
	PhasePowerCharging
	PhaseFlipping
	PhaseRoundResult
	PhaseCompleted
	PhaseForfeited
)

var phaseNames = [...]string{
	PhaseWaiting:        "waiting",
	PhaseLocked:         "locked",
	PhaseDepositPending: "deposit_pending",
	PhaseCountdown:      "countdown",
	PhaseChoosing:       "choosing",
	PhasePowerCharging:  "power_charging",
	PhaseFlipping:       "flipping",
	PhaseRoundResult:    "round_result",
	PhaseCompleted:      "completed",
	PhaseForfeited:      "forfeited",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", uint8(p))
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	for i, name := range phaseNames {
		if name == string(b) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("gameroom: unknown phase %q", string(b))
}

// Terminal phases never change again.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseForfeited
}

// InPlay covers Choosing through RoundResult, where a disconnect can forfeit.
func (p Phase) InPlay() bool {
	return p >= PhaseChoosing && p <= PhaseRoundResult
}

// Escrowing covers the phases before deposits are settled.
func (p Phase) Escrowing() bool {
	return p == PhaseWaiting || p == PhaseLocked || p == PhaseDepositPending
}
