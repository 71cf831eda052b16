package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"coinflip/internal/services/gameroom"

	"go.uber.org/zap"
)

const (
	subjectPrefix = "coinflip"
	// SubjectOfferAccepted carries gameroom.CreateRoomRequest payloads.
	SubjectOfferAccepted = subjectPrefix + ".offer.accepted"
)

// publisher is the slice of *nats.Conn used here.
type publisher interface {
	Publish(subject string, data []byte) error
}

// MatchSubject is where every broadcast event of a match is published.
func MatchSubject(matchID string, t gameroom.EventType) string {
	return fmt.Sprintf("%s.match.%s.%s", subjectPrefix, token(matchID), t)
}

// ResultSubject is where the final result of a match is published.
func ResultSubject(matchID string) string {
	return fmt.Sprintf("%s.result.%s", subjectPrefix, token(matchID))
}

// token makes an id safe to use as one subject token.
func token(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, id)
}

// Publisher mirrors room events and results onto the message bus for
// out-of-process consumers. It is an EventSink and a ResultRecorder.
type Publisher struct {
	conn publisher
	log  *zap.Logger
}

func NewPublisher(conn publisher, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{conn: conn, log: log.Named("events")}
}

// Emit publishes broadcast events. Events addressed to a single connection or
// player stay on the socket.
func (p *Publisher) Emit(ev gameroom.Event) {
	if ev.Directed() {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Error("cannot encode event", zap.String("match", ev.MatchID), zap.Error(err))
		return
	}
	if err := p.conn.Publish(MatchSubject(ev.MatchID, ev.Type), data); err != nil {
		p.log.Warn("publish failed", zap.String("match", ev.MatchID), zap.String("type", string(ev.Type)), zap.Error(err))
	}
}

func (p *Publisher) RecordResult(_ context.Context, res gameroom.MatchResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := p.conn.Publish(ResultSubject(res.MatchID), data); err != nil {
		return fmt.Errorf("publish result of %s: %w", res.MatchID, err)
	}
	return nil
}
