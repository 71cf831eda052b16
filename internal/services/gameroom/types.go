package gameroom

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"coinflip/internal/game/coin"
	"coinflip/internal/network"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnauthorized      = errors.New("gameroom: address is not a participant of this match")
	ErrWrongPhase        = errors.New("gameroom: command not valid in current phase")
	ErrRoomNotFound      = errors.New("gameroom: room not found")
	ErrRoomClosed        = errors.New("gameroom: room closed")
	ErrMatchOver         = errors.New("gameroom: match already finished")
	ErrInvalidChoice     = errors.New("gameroom: invalid choice")
	ErrInvalidAsset      = errors.New("gameroom: invalid asset kind")
	ErrInvalidAddress    = errors.New("gameroom: invalid player address")
	ErrInvalidMatch      = errors.New("gameroom: invalid match")
	ErrDepositUnverified = errors.New("gameroom: deposit not found in escrow")
	ErrInternal          = errors.New("gameroom: internal error")
)

// PlayerRef is a wallet address in EIP-55 checksum form.
type PlayerRef string

// ParsePlayerRef validates a hex address and normalises its casing so the
// same wallet always maps to the same key.
func ParsePlayerRef(s string) (PlayerRef, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return PlayerRef(common.HexToAddress(s).Hex()), nil
}

func (p PlayerRef) Address() common.Address {
	return common.HexToAddress(string(p))
}

func (p PlayerRef) String() string { return string(p) }

// AssetKind is what a side puts in escrow.
type AssetKind string

const (
	AssetNFT     AssetKind = "nft"
	AssetPayment AssetKind = "payment"
)

func ParseAssetKind(s string) (AssetKind, error) {
	switch k := AssetKind(strings.ToLower(strings.TrimSpace(s))); k {
	case AssetNFT, AssetPayment:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAsset, s)
}

// expectedAsset is the asset each side has to escrow: the holder stakes the
// NFT, the challenger pays.
func expectedAsset(side coin.Side) AssetKind {
	if side == coin.SideA {
		return AssetNFT
	}
	return AssetPayment
}

// Participants are the two wallets of a match. Challenger may be empty while
// the challenger slot is open.
type Participants struct {
	Holder     PlayerRef `json:"holder"`
	Challenger PlayerRef `json:"challenger,omitempty"`
}

func (p Participants) Validate() error {
	if p.Holder == "" {
		return fmt.Errorf("%w: holder is required", ErrInvalidMatch)
	}
	if p.Challenger == p.Holder {
		return fmt.Errorf("%w: holder and challenger must differ", ErrInvalidMatch)
	}
	return nil
}

func (p Participants) Has(player PlayerRef) bool {
	return player != "" && (player == p.Holder || player == p.Challenger)
}

// Pair holds one value per side.
type Pair[T any] struct {
	A T `json:"a"`
	B T `json:"b"`
}

func pairOf[T any](v [2]T) Pair[T] {
	return Pair[T]{A: v[coin.SideA], B: v[coin.SideB]}
}

func (p Pair[T]) Get(side coin.Side) T {
	if side == coin.SideA {
		return p.A
	}
	return p.B
}

// MatchResult is what gets persisted once a match is terminal.
type MatchResult struct {
	MatchID    string    `json:"matchId"`
	Holder     PlayerRef `json:"holder"`
	Challenger PlayerRef `json:"challenger"`
	Winner     PlayerRef `json:"winner,omitempty"`
	Phase      Phase     `json:"phase"`
	Reason     string    `json:"reason"`
	Scores     Pair[int] `json:"scores"`
	Rounds     int       `json:"rounds"`
	FinishedAt time.Time `json:"finishedAt"`
}

// ParticipantSource answers who the two participants of a match are.
type ParticipantSource interface {
	Participants(ctx context.Context, matchID string) (Participants, error)
}

// ParticipantChain asks each source in order. A source that does not know the
// match passes to the next one; any other error stops the lookup.
type ParticipantChain []ParticipantSource

func (c ParticipantChain) Participants(ctx context.Context, matchID string) (Participants, error) {
	for _, src := range c {
		if src == nil {
			continue
		}
		p, err := src.Participants(ctx, matchID)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrRoomNotFound) {
			return Participants{}, err
		}
	}
	return Participants{}, fmt.Errorf("%w: %s", ErrRoomNotFound, matchID)
}

// EscrowVerifier reports whether a side's deposit is held in escrow.
type EscrowVerifier interface {
	DepositConfirmed(ctx context.Context, matchID string, player PlayerRef, kind AssetKind) (bool, error)
}

// ResultRecorder persists the final result of a match.
type ResultRecorder interface {
	RecordResult(ctx context.Context, result MatchResult) error
}

// EventSink receives every event a room produces, in order. Emit is called
// from the room's goroutine and must not block.
type EventSink interface {
	Emit(ev Event)
}

// Membership tracks which connections listen to which match.
type Membership interface {
	Join(matchID string, c network.Conn)
	Leave(matchID string, c network.Conn)
}

// StaticParticipants is a fixed in-memory ParticipantSource.
type StaticParticipants map[string]Participants

func (s StaticParticipants) Participants(_ context.Context, matchID string) (Participants, error) {
	p, ok := s[matchID]
	if !ok {
		return Participants{}, fmt.Errorf("%w: %s", ErrRoomNotFound, matchID)
	}
	return p, nil
}
