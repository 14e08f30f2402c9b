package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/MrWong99/ana/internal/gamelog"
	"github.com/MrWong99/ana/internal/observe"
	"github.com/MrWong99/ana/internal/turn"
)

// maxBodyBytes bounds a turn request body.
const maxBodyBytes = 64 << 10

type turnRequest struct {
	Command string `json:"command"`
}

type turnResponse struct {
	Command string `json:"command"`
	Reply   string `json:"reply"`
}

type turnsResponse struct {
	Turns []gamelog.Turn `json:"turns"`
}

type eventsResponse struct {
	Events []gamelog.Event `json:"events"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) handlePostTurn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "request body must be a JSON object with a command"})
		return
	}

	ctx := r.Context()
	if d := a.cfg.Server.TurnTimeout; d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	reply, err := a.service.ProcessCommand(ctx, r.PathValue("gameID"), req.Command)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(w, http.StatusOK, turnResponse{Command: req.Command, Reply: reply})
}

func (a *App) handleListTurns(w http.ResponseWriter, r *http.Request) {
	turns, err := a.service.Turns(r.Context(), r.PathValue("gameID"))
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, turnsResponse{Turns: turns})
}

func (a *App) handleListEvents(w http.ResponseWriter, r *http.Request) {
	count := 0
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "count must be an integer"})
			return
		}
		count = n
	}
	events, err := a.service.Events(r.Context(), r.PathValue("gameID"), count)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, eventsResponse{Events: events})
}

func (a *App) handleDeleteGame(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteGame(r.Context(), r.PathValue("gameID")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// writeError maps a service error to a status code. Only precondition
// failures are shown to the client; everything else gets a generic body.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, turn.ErrMissingInput) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	observe.Logger(ctx).Error("request failed", "err", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
