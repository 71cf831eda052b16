package results

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"coinflip/internal/services/gameroom"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	holder     = gameroom.PlayerRef("0x1111111111111111111111111111111111111111")
	challenger = gameroom.PlayerRef("0x2222222222222222222222222222222222222222")
)

func sampleResult() gameroom.MatchResult {
	return gameroom.MatchResult{
		MatchID:    "m-1",
		Holder:     holder,
		Challenger: challenger,
		Winner:     holder,
		Phase:      gameroom.PhaseCompleted,
		Reason:     "score",
		Scores:     gameroom.Pair[int]{A: 3, B: 1},
		Rounds:     4,
		FinishedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestMatchKey(t *testing.T) {
	assert.Equal(t, "coinflip:match:abc", matchKey("abc"))
}

func TestParticipantsFrom(t *testing.T) {
	p, err := participantsFrom("m", []any{string(holder), string(challenger)})
	require.NoError(t, err)
	assert.Equal(t, holder, p.Holder)
	assert.Equal(t, challenger, p.Challenger)

	p, err = participantsFrom("m", []any{string(holder), nil})
	require.NoError(t, err)
	assert.Empty(t, p.Challenger)

	_, err = participantsFrom("m", []any{nil, nil})
	assert.ErrorIs(t, err, gameroom.ErrRoomNotFound)
}

func TestResultFields(t *testing.T) {
	f := resultFields(sampleResult())
	assert.Equal(t, string(holder), f["winner"])
	assert.Equal(t, "3", f["scoreA"])
	assert.Equal(t, "1", f["scoreB"])
	assert.Equal(t, "4", f["rounds"])
	assert.Equal(t, "2026-01-02T03:04:05Z", f["finishedAt"])
	assert.Equal(t, gameroom.PhaseCompleted.String(), f["phase"])
}

func TestDecodeResultsSkipsGarbage(t *testing.T) {
	good, err := json.Marshal(sampleResult())
	require.NoError(t, err)

	out := decodeResults([]string{string(good), "{not json"}, zap.NewNop())
	require.Len(t, out, 1)
	assert.Equal(t, "m-1", out[0].MatchID)
	assert.Equal(t, 3, out[0].Scores.A)
}

type fakeRecent struct {
	asked int
	list  []gameroom.MatchResult
	err   error
}

func (f *fakeRecent) Recent(_ context.Context, n int) ([]gameroom.MatchResult, error) {
	f.asked = n
	return f.list, f.err
}

func TestRecentEndpoint(t *testing.T) {
	src := &fakeRecent{list: []gameroom.MatchResult{sampleResult()}}
	mux := http.NewServeMux()
	RegisterHandlers(mux, src)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/results", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultRecent, src.asked)

	var got []gameroom.MatchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, holder, got[0].Winner)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/results?limit=5000", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, recentCap, src.asked)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/results?limit=-1", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	src.err = errors.New("down")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/results", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecentEndpointEmptyList(t *testing.T) {
	mux := http.NewServeMux()
	RegisterHandlers(mux, &fakeRecent{})

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/results", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}
