package gameroom

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	mrand "math/rand/v2"
	"sync"
	"time"

	"coinflip/internal/game/coin"
	"coinflip/internal/network"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	defaultSweepInterval = time.Minute
	tombstoneTTL         = 24 * time.Hour
)

// Options wires a Directory. Only Sink and Members are required.
type Options struct {
	Config       Config
	Store        RoomStore
	Sink         EventSink
	Members      Membership
	Participants ParticipantSource
	Escrow       EscrowVerifier
	Recorder     ResultRecorder
	Clock        clock.Clock
	// NewRand builds the entropy source of each room.
	NewRand       func() coin.Rand
	SweepInterval time.Duration
	Logger        *zap.Logger
}

// OpenRequest opens a room for an accepted offer.
type OpenRequest struct {
	MatchID         string       `json:"matchId"`
	Participants    Participants `json:"participants"`
	HolderDeposited bool         `json:"holderDeposited"`
}

// Directory creates, routes to and retires match rooms.
type Directory struct {
	cfg          Config
	store        RoomStore
	sink         EventSink
	members      Membership
	participants ParticipantSource
	escrow       EscrowVerifier
	recorder     ResultRecorder
	clock        clock.Clock
	newRand      func() coin.Rand
	sweepEvery   time.Duration
	log          *zap.Logger

	// Ids of retired matches, so a late attach cannot bring a finished match back.
	mu       sync.Mutex
	finished map[string]time.Time
}

func NewDirectory(opts Options) (*Directory, error) {
	if err := opts.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid room config: %w", err)
	}
	if opts.Sink == nil || opts.Members == nil {
		return nil, errors.New("gameroom: event sink and membership are required")
	}
	d := &Directory{
		cfg:          opts.Config,
		store:        opts.Store,
		sink:         opts.Sink,
		members:      opts.Members,
		participants: opts.Participants,
		escrow:       opts.Escrow,
		recorder:     opts.Recorder,
		clock:        opts.Clock,
		newRand:      opts.NewRand,
		sweepEvery:   opts.SweepInterval,
		log:          opts.Logger,
		finished:     make(map[string]time.Time),
	}
	if d.store == nil {
		d.store = NewMemoryStore()
	}
	if d.clock == nil {
		d.clock = clock.New()
	}
	if d.newRand == nil {
		d.newRand = newSeededRand
	}
	if d.sweepEvery <= 0 {
		d.sweepEvery = defaultSweepInterval
	}
	if d.log == nil {
		d.log = zap.NewNop()
	}
	d.log = d.log.Named("gameroom")
	return d, nil
}

func newSeededRand() coin.Rand {
	var seed [16]byte
	_, _ = rand.Read(seed[:])
	return mrand.New(mrand.NewPCG(binary.LittleEndian.Uint64(seed[:8]), binary.LittleEndian.Uint64(seed[8:])))
}

// Open creates the room of an accepted offer if it does not exist yet.
func (d *Directory) Open(ctx context.Context, req OpenRequest) (*MatchRoom, bool, error) {
	if req.MatchID == "" {
		return nil, false, fmt.Errorf("%w: match id is required", ErrInvalidMatch)
	}
	if err := req.Participants.Validate(); err != nil {
		return nil, false, err
	}
	if d.retired(req.MatchID) {
		return nil, false, ErrMatchOver
	}
	room, created := d.store.LoadOrStore(req.MatchID, func() *MatchRoom {
		return d.build(req.MatchID, req.Participants, req.HolderDeposited, true)
	})
	if created {
		go room.Run()
		d.log.Info("room opened from offer",
			zap.String("match", req.MatchID),
			zap.String("holder", req.Participants.Holder.String()),
			zap.String("challenger", req.Participants.Challenger.String()))
	}
	return room, created, nil
}

// Attach binds conn to the match. The first participant to attach to an
// unknown match creates its room; concurrent first attaches share one room.
func (d *Directory) Attach(ctx context.Context, matchID string, player PlayerRef, conn network.Conn) (Snapshot, error) {
	room, err := d.roomFor(ctx, matchID, player)
	if err != nil {
		return Snapshot{}, err
	}
	return room.Attach(ctx, player, conn)
}

func (d *Directory) roomFor(ctx context.Context, matchID string, player PlayerRef) (*MatchRoom, error) {
	if room, ok := d.store.Get(matchID); ok {
		return room, nil
	}
	if d.retired(matchID) {
		return nil, ErrMatchOver
	}
	if d.participants == nil || player == "" {
		return nil, ErrRoomNotFound
	}

	p, err := d.participants.Participants(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("lookup participants of %s: %w", matchID, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if !p.Has(player) {
		return nil, ErrUnauthorized
	}

	room, created := d.store.LoadOrStore(matchID, func() *MatchRoom {
		return d.build(matchID, p, false, false)
	})
	if created {
		go room.Run()
		d.log.Info("room created on first attach", zap.String("match", matchID), zap.String("by", player.String()))
	}
	return room, nil
}

func (d *Directory) build(matchID string, p Participants, holderDeposited, fromOffer bool) *MatchRoom {
	return newMatchRoom(roomParams{
		id:              matchID,
		participants:    p,
		holderDeposited: holderDeposited,
		fromOffer:       fromOffer,
		cfg:             d.cfg,
		clock:           d.clock,
		rng:             d.newRand(),
		sink:            d.sink,
		members:         d.members,
		source:          d.participants,
		recorder:        d.recorder,
		log:             d.log,
		onClosed:        d.retire,
	})
}

// retire is called by a room once its goroutine has exited.
func (d *Directory) retire(room *MatchRoom) {
	if room.IsFinished() {
		d.mu.Lock()
		d.finished[room.ID()] = d.clock.Now()
		d.mu.Unlock()
	}
	d.store.Delete(room.ID(), room)
	d.log.Info("room retired", zap.String("match", room.ID()), zap.Stringer("phase", room.Phase()))
}

func (d *Directory) retired(matchID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.finished[matchID]
	return ok
}

func (d *Directory) get(matchID string) (*MatchRoom, error) {
	room, ok := d.store.Get(matchID)
	if !ok {
		if d.retired(matchID) {
			return nil, ErrMatchOver
		}
		return nil, ErrRoomNotFound
	}
	return room, nil
}

func (d *Directory) Room(matchID string) (*MatchRoom, bool) {
	return d.store.Get(matchID)
}

func (d *Directory) Len() int { return d.store.Len() }

func (d *Directory) Detach(ctx context.Context, matchID string, player PlayerRef, conn network.Conn) error {
	room, err := d.get(matchID)
	if err != nil {
		return err
	}
	return room.Detach(ctx, player, conn)
}

// ConnLost reports a connection found dead while delivering to matchID.
func (d *Directory) ConnLost(matchID string, conn network.Conn) {
	if room, ok := d.store.Get(matchID); ok {
		room.ConnLost(conn)
	}
}

// SubmitDeposit checks escrow, when a verifier is configured, before the
// confirmation reaches the room.
func (d *Directory) SubmitDeposit(ctx context.Context, matchID string, player PlayerRef, kind AssetKind) (Ack, error) {
	room, err := d.get(matchID)
	if err != nil {
		return "", err
	}
	if d.escrow != nil {
		ok, err := d.escrow.DepositConfirmed(ctx, matchID, player, kind)
		if err != nil {
			return "", fmt.Errorf("verify deposit: %w", err)
		}
		if !ok {
			return "", ErrDepositUnverified
		}
	}
	return room.SubmitDeposit(ctx, player, kind)
}

func (d *Directory) SubmitChoice(ctx context.Context, matchID string, player PlayerRef, face coin.Face) (Ack, error) {
	room, err := d.get(matchID)
	if err != nil {
		return "", err
	}
	return room.SubmitChoice(ctx, player, face)
}

func (d *Directory) SubmitPower(ctx context.Context, matchID string, player PlayerRef, level float64) (Ack, error) {
	room, err := d.get(matchID)
	if err != nil {
		return "", err
	}
	return room.SubmitPower(ctx, player, level)
}

func (d *Directory) Forfeit(ctx context.Context, matchID string, player PlayerRef, reason string) (Ack, error) {
	room, err := d.get(matchID)
	if err != nil {
		if errors.Is(err, ErrMatchOver) {
			return AckDuplicate, nil
		}
		return "", err
	}
	return room.Forfeit(ctx, player, reason)
}

func (d *Directory) Snapshot(ctx context.Context, matchID string) (Snapshot, error) {
	room, err := d.get(matchID)
	if err != nil {
		return Snapshot{}, err
	}
	return room.Snapshot(ctx)
}

// Run sweeps rooms whose goroutine has exited and forgets old tombstones.
func (d *Directory) Run(ctx context.Context) error {
	d.log.Info("directory started")
	ticker := d.clock.Ticker(d.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.sweep()
		case <-ctx.Done():
			d.Close()
			return nil
		}
	}
}

func (d *Directory) sweep() {
	removed := 0
	d.store.Range(func(room *MatchRoom) bool {
		select {
		case <-room.Done():
			if d.store.Delete(room.ID(), room) {
				removed++
			}
		default:
		}
		return true
	})

	cutoff := d.clock.Now().Add(-tombstoneTTL)
	d.mu.Lock()
	for id, at := range d.finished {
		if at.Before(cutoff) {
			delete(d.finished, id)
		}
	}
	d.mu.Unlock()

	if removed > 0 {
		d.log.Info("swept stopped rooms", zap.Int("removed", removed))
	}
}

// Close stops every room and waits for their goroutines.
func (d *Directory) Close() {
	var rooms []*MatchRoom
	d.store.Range(func(room *MatchRoom) bool {
		rooms = append(rooms, room)
		room.Stop()
		return true
	})
	for _, room := range rooms {
		<-room.Done()
	}
}
