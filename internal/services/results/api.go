package results

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"coinflip/internal/services/gameroom"
)

const defaultRecent = 20

type recentReader interface {
	Recent(ctx context.Context, n int) ([]gameroom.MatchResult, error)
}

// RegisterHandlers mounts GET /results?limit=N.
func RegisterHandlers(mux *http.ServeMux, src recentReader) {
	mux.HandleFunc("GET /results", handleRecent(src))
}

func handleRecent(src recentReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultRecent
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n <= 0 {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "limit must be a positive integer"})
				return
			}
			limit = min(n, recentCap)
		}
		list, err := src.Recent(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "results unavailable"})
			return
		}
		if list == nil {
			list = []gameroom.MatchResult{}
		}
		writeJSON(w, http.StatusOK, list)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
