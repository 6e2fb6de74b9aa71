package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/AdamBeresnev/bracket-engine/internal/bracket"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	MatchID string `json:"match_id,omitempty"`
	Round   int    `json:"round,omitempty"`
	Slot    int    `json:"slot,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	body := errorBody{Error: http.StatusText(status), Message: msg}
	if me, ok := bracket.AsMatchError(err); ok {
		body.Message = me.Error()
		if me.MatchID != nil {
			body.MatchID = me.MatchID.String()
		}
		body.Round = me.Round
		body.Slot = me.Slot
	} else if err != nil && status < http.StatusInternalServerError {
		body.Message = err.Error()
	}
	WriteJSON(w, status, body)
}

func InternalServerError(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	writeError(w, http.StatusInternalServerError, "Internal Server Error", nil)
}

func BadRequest(w http.ResponseWriter, msg string, err error) {
	if err != nil {
		slog.Warn("bad request", "message", msg, "error", err)
	} else {
		slog.Warn("bad request", "message", msg)
	}
	writeError(w, http.StatusBadRequest, msg, err)
}

func NotFound(w http.ResponseWriter, msg string, err error) {
	if err != nil {
		slog.Warn("not found", "message", msg, "error", err)
	} else {
		slog.Warn("not found", "message", msg)
	}
	writeError(w, http.StatusNotFound, msg, err)
}

func Conflict(w http.ResponseWriter, msg string, err error) {
	slog.Warn("conflict", "message", msg, "error", err)
	writeError(w, http.StatusConflict, msg, err)
}

func ServiceUnavailable(w http.ResponseWriter, msg string, err error) {
	slog.Error(msg, "error", err)
	w.Header().Set("Retry-After", "1")
	writeError(w, http.StatusServiceUnavailable, msg, nil)
}

// Error picks the response for an engine failure by its kind.
func Error(w http.ResponseWriter, msg string, err error, badRequest ...error) {
	for _, kind := range badRequest {
		if errors.Is(err, kind) {
			BadRequest(w, msg, err)
			return
		}
	}

	switch {
	case errors.Is(err, bracket.ErrNotFound):
		NotFound(w, msg, err)
	case errors.Is(err, bracket.ErrInvalidCapacity),
		errors.Is(err, bracket.ErrInvalidWinner),
		errors.Is(err, bracket.ErrInvalidSlot),
		errors.Is(err, bracket.ErrInvalidRound):
		BadRequest(w, msg, err)
	case errors.Is(err, bracket.ErrSlotConflict),
		errors.Is(err, bracket.ErrMatchNotReady),
		errors.Is(err, bracket.ErrRegistrationClosed),
		errors.Is(err, bracket.ErrTournamentFull),
		errors.Is(err, bracket.ErrStructuralInconsistency):
		Conflict(w, msg, err)
	case errors.Is(err, bracket.ErrStoreUnavailable):
		ServiceUnavailable(w, msg, err)
	default:
		InternalServerError(w, msg, err)
	}
}
