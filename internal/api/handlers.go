package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"strikeball/internal/match"
	"strikeball/internal/matchmaking"
	"strikeball/internal/sim"

	"github.com/go-chi/chi/v5"
)

// Handler methods for routerHandlers
// These are used by both the standalone router (for testing) and the full Server.

const maxInputBodyBytes = 4096

func (h *routerHandlers) handleQueueJoin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActorID       string `json:"actorId"`
		Rating        int    `json:"rating"`
		SessionHandle string `json:"sessionHandle"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	if req.ActorID == "" {
		writeError(w, "actorId is required", http.StatusBadRequest)
		return
	}
	if req.Rating < 0 {
		writeError(w, "rating must be non-negative", http.StatusBadRequest)
		return
	}

	if err := h.queue.Enqueue(req.ActorID, req.Rating, req.SessionHandle); err != nil {
		if errors.Is(err, matchmaking.ErrAlreadyQueued) {
			writeError(w, "Already queued", http.StatusConflict)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"queued":  true,
		"actorId": req.ActorID,
	})
}

func (h *routerHandlers) handleQueueLeave(w http.ResponseWriter, r *http.Request) {
	actorID := chi.URLParam(r, "actorID")
	removed := h.queue.Remove(actorID)
	if !removed {
		writeError(w, "Not in queue", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]bool{"removed": true})
}

func (h *routerHandlers) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"depth": h.queue.Len(),
	})
}

func (h *routerHandlers) handleListMatches(w http.ResponseWriter, r *http.Request) {
	ids := h.manager.MatchIDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, map[string]interface{}{
		"matches": ids,
	})
}

func (h *routerHandlers) handleMatchState(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")

	snap, err := h.manager.Snapshot(matchID)
	if err != nil {
		if errors.Is(err, match.ErrMatchNotFound) {
			writeError(w, "Match not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]interface{}{
		"matchId": snap.State.MatchID,
		"tick":    snap.State.Tick,
		"phase":   snap.State.Phase.String(),
		"score":   snap.State.Score,
		"actors":  snap.State.Actors,
		"ball":    snap.State.Ball,
		"hash":    snap.Hash,
	})
}

func (h *routerHandlers) handleMatchEvents(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")

	snap, err := h.manager.Snapshot(matchID)
	if err != nil {
		if errors.Is(err, match.ErrMatchNotFound) {
			writeError(w, "Match not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	from := parseTickParam(r, "from", 0)
	to := parseTickParam(r, "to", snap.State.Tick)

	events := make([]sim.DomainEvent, 0)
	for _, ev := range snap.Events {
		if ev.Tick >= from && ev.Tick <= to {
			events = append(events, ev)
		}
	}

	writeJSON(w, map[string]interface{}{
		"matchId": matchID,
		"from":    from,
		"to":      to,
		"events":  events,
	})
}

func (h *routerHandlers) handleSubmitInput(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")

	// Bound the body before decoding; input events are small
	r.Body = http.MaxBytesReader(w, r.Body, maxInputBodyBytes)

	var in sim.InputEvent
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&in); err != nil {
		writeError(w, "Invalid input payload", http.StatusBadRequest)
		return
	}

	verdict, err := h.manager.SubmitInput(matchID, in)
	if err != nil {
		if errors.Is(err, match.ErrMatchNotFound) {
			writeError(w, "Match not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	// Rejections are a normal protocol outcome, not an HTTP error
	writeJSON(w, map[string]interface{}{
		"accepted": verdict.Accepted,
		"reason":   verdict.Reason,
	})
}

func (h *routerHandlers) handleTerminateMatch(w http.ResponseWriter, r *http.Request) {
	matchID := chi.URLParam(r, "matchID")

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.Reason = ""
	}
	if req.Reason == "" {
		req.Reason = "operator"
	}

	if err := h.manager.Terminate(matchID, req.Reason); err != nil {
		if errors.Is(err, match.ErrMatchNotFound) {
			writeError(w, "Match not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]bool{"terminated": true})
}

func parseTickParam(r *http.Request, name string, fallback uint64) uint64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fallback
	}
	return v
}

// Helper functions (package-level for reuse)

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
