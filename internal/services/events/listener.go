package events

import (
	"context"
	"encoding/json"
	"time"

	"coinflip/internal/services/gameroom"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const openTimeout = 5 * time.Second

// Opener opens the room of an accepted offer.
type Opener interface {
	Open(ctx context.Context, req gameroom.OpenRequest) (*gameroom.MatchRoom, bool, error)
}

// ParticipantSaver remembers who plays a match, so a later first attach can
// find them.
type ParticipantSaver interface {
	SaveParticipants(ctx context.Context, matchID string, p gameroom.Participants) error
}

type OfferReply struct {
	MatchID string `json:"matchId,omitempty"`
	Created bool   `json:"created"`
	Error   string `json:"error,omitempty"`
}

// OfferListener opens rooms for offers accepted by the marketplace.
type OfferListener struct {
	conn   publisher
	rooms  Opener
	saver  ParticipantSaver
	log    *zap.Logger
	queue  string
	closer func() error
}

func NewOfferListener(conn publisher, rooms Opener, saver ParticipantSaver, log *zap.Logger) *OfferListener {
	if log == nil {
		log = zap.NewNop()
	}
	return &OfferListener{
		conn:  conn,
		rooms: rooms,
		saver: saver,
		log:   log.Named("offers"),
		queue: "coinflip-rooms",
	}
}

// Start subscribes in a queue group so each offer opens its room on one
// coordinator only.
func (l *OfferListener) Start(nc *nats.Conn) error {
	sub, err := nc.QueueSubscribe(SubjectOfferAccepted, l.queue, l.handle)
	if err != nil {
		return err
	}
	l.closer = sub.Unsubscribe
	l.log.Info("listening for accepted offers", zap.String("subject", SubjectOfferAccepted))
	return nil
}

func (l *OfferListener) Stop() {
	if l.closer != nil {
		if err := l.closer(); err != nil {
			l.log.Warn("unsubscribe failed", zap.Error(err))
		}
	}
}

func (l *OfferListener) handle(msg *nats.Msg) {
	reply := l.open(msg.Data)
	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(reply)
	if err := l.conn.Publish(msg.Reply, data); err != nil {
		l.log.Warn("reply failed", zap.String("match", reply.MatchID), zap.Error(err))
	}
}

func (l *OfferListener) open(data []byte) OfferReply {
	var req gameroom.CreateRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		l.log.Warn("malformed offer", zap.Error(err))
		return OfferReply{Error: "invalid payload"}
	}
	open, err := req.ToOpenRequest()
	if err != nil {
		l.log.Warn("rejected offer", zap.String("match", req.MatchID), zap.Error(err))
		return OfferReply{MatchID: req.MatchID, Error: err.Error()}
	}

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()
	if l.saver != nil {
		if err := l.saver.SaveParticipants(ctx, open.MatchID, open.Participants); err != nil {
			l.log.Warn("could not save participants", zap.String("match", open.MatchID), zap.Error(err))
		}
	}
	_, created, err := l.rooms.Open(ctx, open)
	if err != nil {
		l.log.Warn("open room failed", zap.String("match", open.MatchID), zap.Error(err))
		return OfferReply{MatchID: open.MatchID, Error: err.Error()}
	}
	l.log.Info("offer accepted", zap.String("match", open.MatchID), zap.Bool("created", created))
	return OfferReply{MatchID: open.MatchID, Created: created}
}
