package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/cameras"
)

type DebugHandler struct {
	CP      ControlPlane
	Journal EventReader
}

type cameraDetail struct {
	cameras.Info
	Phase       cameras.Phase `json:"phase"`
	HasVideo    bool          `json:"hasVideo"`
	HasAudio    bool          `json:"hasAudio"`
	ViewerCount int           `json:"viewerCount"`
}

// GET /debug/cameras
func (h *DebugHandler) Cameras(w http.ResponseWriter, r *http.Request) {
	counts := make(map[string]int)
	for _, s := range h.CP.ListStreams() {
		counts[s.ID] = s.ViewerCount
	}

	infos := h.CP.Cameras()
	out := make([]cameraDetail, 0, len(infos))
	for _, info := range infos {
		out = append(out, cameraDetail{
			Info:        info,
			Phase:       info.Phase(),
			HasVideo:    info.HasVideo(),
			HasAudio:    info.HasAudio(),
			ViewerCount: counts[info.ID],
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// GET /debug/consumers
func (h *DebugHandler) Consumers(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.CP.Consumers())
}

// GET /debug/consumers/{id}/stats
func (h *DebugHandler) ConsumerStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.CP.ConsumerStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, st)
}

// GET /debug/events?camera=&limit=
func (h *DebugHandler) Events(w http.ResponseWriter, r *http.Request) {
	if h.Journal == nil {
		respondError(w, http.StatusServiceUnavailable, "event journal disabled")
		return
	}

	q := r.URL.Query()
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	evs, err := h.Journal.Recent(r.Context(), q.Get("camera"), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"events":    evs,
		"queriedAt": time.Now().UTC(),
	})
}
