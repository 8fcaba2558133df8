package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/controlplane"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/middleware"
)

// ViewerHandler serves the routes a browser player calls.
type ViewerHandler struct {
	CP ControlPlane
}

func (h *ViewerHandler) RtpCapabilities(w http.ResponseWriter, r *http.Request) {
	caps, err := h.CP.RtpCapabilities(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, caps)
}

func (h *ViewerHandler) CreateTransport(w http.ResponseWriter, r *http.Request) {
	t, err := h.CP.CreateViewerTransport(r.Context(), controlplane.ClientInfo{
		IP:        middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, t)
}

type connectRequest struct {
	TransportID    string          `json:"transportId"`
	DtlsParameters json.RawMessage `json:"dtlsParameters"`
}

func (h *ViewerHandler) ConnectTransport(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.CP.ConnectViewerTransport(r.Context(), req.TransportID, req.DtlsParameters); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"connected": true})
}

func (h *ViewerHandler) CloseTransport(w http.ResponseWriter, r *http.Request) {
	if err := h.CP.CloseViewerTransport(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type consumeRequest struct {
	TransportID     string          `json:"transportId"`
	ProducerID      string          `json:"producerId"`
	RtpCapabilities json.RawMessage `json:"rtpCapabilities"`
}

// Consume counts the caller as a viewer under its client IP.
func (h *ViewerHandler) Consume(w http.ResponseWriter, r *http.Request) {
	var req consumeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.CP.Consume(r.Context(), controlplane.ConsumeRequest{
		TransportID:     req.TransportID,
		ProducerID:      req.ProducerID,
		RtpCapabilities: req.RtpCapabilities,
		ViewerID:        middleware.ClientIP(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (h *ViewerHandler) CloseConsumer(w http.ResponseWriter, r *http.Request) {
	if err := h.CP.CloseConsumer(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
