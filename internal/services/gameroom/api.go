package gameroom

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============================================================================
// API DTOs
// ============================================================================

// CreateRoomRequest is sent by the marketplace once an offer is accepted.
type CreateRoomRequest struct {
	MatchID         string `json:"matchId"`
	Holder          string `json:"holder"`
	Challenger      string `json:"challenger"`
	HolderDeposited bool   `json:"holderDeposited"`
}

type CreateRoomResponse struct {
	MatchID     string `json:"matchId"`
	Created     bool   `json:"created"`
	ServiceAddr string `json:"serviceAddr"`
}

type ForfeitRequest struct {
	Address string `json:"address"`
	Reason  string `json:"reason"`
}

// ToOpenRequest validates the addresses and mints a match id when none is given.
func (c CreateRoomRequest) ToOpenRequest() (OpenRequest, error) {
	holder, err := ParsePlayerRef(c.Holder)
	if err != nil {
		return OpenRequest{}, fmt.Errorf("holder: %w", err)
	}
	var challenger PlayerRef
	if c.Challenger != "" {
		if challenger, err = ParsePlayerRef(c.Challenger); err != nil {
			return OpenRequest{}, fmt.Errorf("challenger: %w", err)
		}
	}
	matchID := c.MatchID
	if matchID == "" {
		matchID = uuid.NewString()
	}
	return OpenRequest{
		MatchID:         matchID,
		Participants:    Participants{Holder: holder, Challenger: challenger},
		HolderDeposited: c.HolderDeposited,
	}, nil
}

// ============================================================================
// Routes
// ============================================================================

// RegisterHandlers mounts the room API on mux.
func RegisterHandlers(mux *http.ServeMux, dir *Directory, advertiseAddr string) {
	mux.HandleFunc("POST /rooms", handleCreateRoom(dir, advertiseAddr))
	mux.HandleFunc("GET /rooms/{id}", handleGetRoom(dir))
	mux.HandleFunc("POST /rooms/{id}/forfeit", handleForfeit(dir))
}

func handleCreateRoom(dir *Directory, advertiseAddr string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateRoomRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		open, err := req.ToOpenRequest()
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		room, created, err := dir.Open(r.Context(), open)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}

		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, CreateRoomResponse{
			MatchID:     room.ID(),
			Created:     created,
			ServiceAddr: advertiseAddr,
		})
	}
}

func handleGetRoom(dir *Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := dir.Snapshot(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleForfeit(dir *Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ForfeitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		player, err := ParsePlayerRef(req.Address)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		reason := req.Reason
		if reason == "" {
			reason = ReasonManual
		}

		ack, err := dir.Forfeit(r.Context(), r.PathValue("id"), player, reason)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		dir.log.Info("forfeit via api", zap.String("match", r.PathValue("id")), zap.String("ack", string(ack)))
		writeJSON(w, http.StatusAccepted, map[string]string{"status": string(ack)})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrMatchOver), errors.Is(err, ErrRoomClosed):
		return http.StatusGone
	case errors.Is(err, ErrInvalidMatch), errors.Is(err, ErrInvalidAddress):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
