package gameroom

import (
	"coinflip/internal/game/coin"
	"coinflip/internal/network"
)

type EventType string

const (
	EventRoomJoined           EventType = "room_joined"
	EventPlayerAttached       EventType = "player_attached"
	EventPlayerReconnected    EventType = "player_reconnected"
	EventPlayerDisconnected   EventType = "player_disconnected"
	EventRoomLocked           EventType = "room_locked"
	EventDepositReceived      EventType = "deposit_received"
	EventDepositPending       EventType = "deposit_pending"
	EventDepositTimeout       EventType = "deposit_timeout"
	EventChallengerReleased   EventType = "challenger_released"
	EventCountdownUpdate      EventType = "countdown_update"
	EventRoundStarted         EventType = "round_started"
	EventChoiceMade           EventType = "choice_made"
	EventChoicesAutoCompleted EventType = "choices_auto_completed"
	EventPowerPhaseStarted    EventType = "power_phase_started"
	EventPowerCharged         EventType = "power_charged"
	EventPowersAutoCompleted  EventType = "powers_auto_completed"
	EventFlipStarted          EventType = "flip_started"
	EventFlipResult           EventType = "flip_result"
	EventGameCompleted        EventType = "game_completed"
)

// Completion reasons carried by game_completed.
const (
	ReasonScore       = "score"
	ReasonMaxRounds   = "max_rounds"
	ReasonDraw        = "draw"
	ReasonForfeit     = "forfeit"
	ReasonManual      = "manual"
	ReasonTimeout     = "timeout"
	ReasonSystemError = "system_error"
)

// Event is one entry of a room's ordered event stream. Seq increases by one
// per event of the room and At never goes backwards.
//
// To and Conn narrow delivery: an event with Conn set goes to that connection
// only, an event with To set goes to that player only, anything else is
// broadcast to the match.
type Event struct {
	MatchID string    `json:"matchId"`
	Type    EventType `json:"type"`
	Seq     uint64    `json:"seq"`
	At      int64     `json:"ts"`
	Payload any       `json:"payload,omitempty"`

	To   PlayerRef    `json:"-"`
	Conn network.Conn `json:"-"`
}

func (e Event) Directed() bool {
	return e.To != "" || e.Conn != nil
}

// Message wraps the event in the transport envelope.
func (e Event) Message() (network.Message, error) {
	return network.NewMessage(string(e.Type), e)
}

type RoomJoinedPayload struct {
	Role     string     `json:"role"`
	Side     *coin.Side `json:"side,omitempty"`
	Snapshot Snapshot   `json:"snapshot"`
}

type SidePayload struct {
	Side coin.Side `json:"side"`
}

type PlayerDisconnectedPayload struct {
	Side    coin.Side `json:"side"`
	GraceMs int64     `json:"graceMs"`
}

type RoomLockedPayload struct {
	Holder            PlayerRef `json:"holder"`
	Challenger        PlayerRef `json:"challenger"`
	DepositDeadlineMs int64     `json:"depositDeadlineMs"`
}

type DepositReceivedPayload struct {
	Side      coin.Side `json:"side"`
	AssetKind AssetKind `json:"assetKind"`
}

type DepositPendingPayload struct {
	WaitingFor []coin.Side `json:"waitingFor"`
}

type DepositTimeoutPayload struct {
	Holder              PlayerRef   `json:"holder"`
	Challenger          PlayerRef   `json:"challenger,omitempty"`
	ChallengerConnected bool        `json:"challengerConnected"`
	Missing             []coin.Side `json:"missing"`
}

type ChallengerReleasedPayload struct {
	Reason string `json:"reason"`
}

type CountdownPayload struct {
	N int `json:"n"`
}

type RoundStartedPayload struct {
	RoundNumber int       `json:"roundNumber"`
	Scores      Pair[int] `json:"scores"`
	DeadlineMs  int64     `json:"deadlineMs"`
}

type AutoCompletedPayload struct {
	Sides []coin.Side `json:"sides"`
}

type PowerPhasePayload struct {
	RoundNumber int   `json:"roundNumber"`
	DeadlineMs  int64 `json:"deadlineMs"`
}

type PowerChargedPayload struct {
	Side  coin.Side `json:"side"`
	Level float64   `json:"level"`
}

type FlipStartedPayload struct {
	Seed                uint64 `json:"seed"`
	EstimatedDurationMs int64  `json:"estimatedDurationMs"`
}

type FlipResultPayload struct {
	RoundNumber int             `json:"roundNumber"`
	Result      coin.Face       `json:"result"`
	Choices     Pair[coin.Face] `json:"choices"`
	Powers      Pair[float64]   `json:"powers"`
	Scores      Pair[int]       `json:"scores"`
	RoundWinner coin.Side       `json:"roundWinner"`
	Push        bool            `json:"push"`
	InfluenceA  float64         `json:"influenceA"`
	Draws       []float64       `json:"draws"`
}

type GameCompletedPayload struct {
	Winner      PlayerRef  `json:"winner,omitempty"`
	WinnerSide  *coin.Side `json:"winnerSide,omitempty"`
	FinalScores Pair[int]  `json:"finalScores"`
	Reason      string     `json:"reason"`
}

// MultiSink fans one event out to several sinks in order.
type MultiSink []EventSink

func (m MultiSink) Emit(ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ev)
		}
	}
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(ev Event) { f(ev) }
