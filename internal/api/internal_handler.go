package api

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/controlplane"
)

// InternalHandler receives close notifications from the media engine.
type InternalHandler struct {
	CP     ControlPlane
	Secret string
}

// POST /internal/engine/events
func (h *InternalHandler) EngineEvent(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get("X-Internal-Auth")
	if h.Secret == "" || subtle.ConstantTimeCompare([]byte(got), []byte(h.Secret)) != 1 {
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var ev controlplane.EngineEvent
	if err := decodeJSON(w, r, &ev); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if ev.ID == "" {
		respondError(w, http.StatusBadRequest, "event id required")
		return
	}

	if err := h.CP.HandleEngineEvent(r.Context(), ev); err != nil {
		if errors.Is(err, controlplane.ErrUnknownEngineEvent) {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, r, err)
		return
	}
	zerolog.Ctx(r.Context()).Debug().Str("type", ev.Type).Str("id", ev.ID).Msg("engine event applied")
	w.WriteHeader(http.StatusNoContent)
}
