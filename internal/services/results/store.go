package results

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"coinflip/internal/services/gameroom"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyPrefix  = "coinflip:match:"
	recentKey  = "coinflip:results"
	recentCap  = 1000
	matchTTL   = 7 * 24 * time.Hour
	fieldHold  = "holder"
	fieldChal  = "challenger"
	fieldPhase = "phase"
)

// Store keeps match participants and final results in Redis. Each match is
// one hash; finished results are also pushed, newest first, onto a capped list.
type Store struct {
	rdb redis.Cmdable
	log *zap.Logger
}

func NewStore(rdb redis.Cmdable, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{rdb: rdb, log: log.Named("results")}
}

// Connect builds a client for addr and checks it answers.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return rdb, nil
}

func matchKey(matchID string) string { return keyPrefix + matchID }

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// SaveParticipants records who plays matchID. An existing holder is never
// overwritten.
func (s *Store) SaveParticipants(ctx context.Context, matchID string, p gameroom.Participants) error {
	if err := p.Validate(); err != nil {
		return err
	}
	key := matchKey(matchID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSetNX(ctx, key, fieldHold, p.Holder.String())
		if p.Challenger != "" {
			pipe.HSet(ctx, key, fieldChal, p.Challenger.String())
		}
		pipe.Expire(ctx, key, matchTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save participants of %s: %w", matchID, err)
	}
	return nil
}

// Participants implements gameroom.ParticipantSource.
func (s *Store) Participants(ctx context.Context, matchID string) (gameroom.Participants, error) {
	vals, err := s.rdb.HMGet(ctx, matchKey(matchID), fieldHold, fieldChal).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return gameroom.Participants{}, fmt.Errorf("read participants of %s: %w", matchID, err)
	}
	return participantsFrom(matchID, vals)
}

func participantsFrom(matchID string, vals []any) (gameroom.Participants, error) {
	var p gameroom.Participants
	if len(vals) > 0 {
		if h, ok := vals[0].(string); ok {
			p.Holder = gameroom.PlayerRef(h)
		}
	}
	if len(vals) > 1 {
		if c, ok := vals[1].(string); ok {
			p.Challenger = gameroom.PlayerRef(c)
		}
	}
	if p.Holder == "" {
		return gameroom.Participants{}, fmt.Errorf("%w: %s", gameroom.ErrRoomNotFound, matchID)
	}
	return p, nil
}

// RecordResult implements gameroom.ResultRecorder. Writing the same result
// twice leaves one list entry per write, so the room records once.
func (s *Store) RecordResult(ctx context.Context, res gameroom.MatchResult) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	key := matchKey(res.MatchID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, resultFields(res))
		pipe.Expire(ctx, key, matchTTL)
		pipe.LPush(ctx, recentKey, data)
		pipe.LTrim(ctx, recentKey, 0, recentCap-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store result of %s: %w", res.MatchID, err)
	}
	s.log.Debug("result stored", zap.String("match", res.MatchID), zap.String("reason", res.Reason))
	return nil
}

func resultFields(res gameroom.MatchResult) map[string]any {
	return map[string]any{
		fieldHold:    res.Holder.String(),
		fieldChal:    res.Challenger.String(),
		"winner":     res.Winner.String(),
		fieldPhase:   res.Phase.String(),
		"reason":     res.Reason,
		"scoreA":     strconv.Itoa(res.Scores.A),
		"scoreB":     strconv.Itoa(res.Scores.B),
		"rounds":     strconv.Itoa(res.Rounds),
		"finishedAt": res.FinishedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Recent returns up to n of the latest results, newest first.
func (s *Store) Recent(ctx context.Context, n int) ([]gameroom.MatchResult, error) {
	if n <= 0 {
		return nil, nil
	}
	if n > recentCap {
		n = recentCap
	}
	raw, err := s.rdb.LRange(ctx, recentKey, 0, int64(n-1)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read recent results: %w", err)
	}
	return decodeResults(raw, s.log), nil
}

func decodeResults(raw []string, log *zap.Logger) []gameroom.MatchResult {
	out := make([]gameroom.MatchResult, 0, len(raw))
	for _, item := range raw {
		var res gameroom.MatchResult
		if err := json.Unmarshal([]byte(item), &res); err != nil {
			log.Warn("skipping malformed result entry", zap.Error(err))
			continue
		}
		out = append(out, res)
	}
	return out
}
