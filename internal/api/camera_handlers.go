package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/cameras"
	"github.com/pravrilgreen/mediasoup-stream-test/internal/sfu"
)

type CameraHandler struct {
	CP ControlPlane
}

type createCameraRequest struct {
	Name string `json:"name"`
}

type createCameraResponse struct {
	ID    string           `json:"id"`
	Name  string           `json:"name"`
	Video cameras.Endpoint `json:"video"`
	Audio cameras.Endpoint `json:"audio"`
}

// POST /cameras/createPlainRtp
func (h *CameraHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createCameraRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	info, err := h.CP.CreateCamera(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, createCameraResponse{
		ID:    info.ID,
		Name:  info.Name,
		Video: info.Video,
		Audio: info.Audio,
	})
}

type produceRequest struct {
	Video *sfu.VideoParams `json:"video"`
	Audio *sfu.AudioParams `json:"audio"`
}

type producerPair struct {
	VideoID *string `json:"videoId"`
	AudioID *string `json:"audioId"`
}

// POST /cameras/{id}/produce
func (h *CameraHandler) Produce(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req produceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	ids, err := h.CP.Produce(r.Context(), id, cameras.ProduceRequest{Video: req.Video, Audio: req.Audio})
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":        id,
		"producers": producerPair{VideoID: nullable(ids.Video), AudioID: nullable(ids.Audio)},
	})
}

// GET /cameras/{id}/producers
func (h *CameraHandler) Producers(w http.ResponseWriter, r *http.Request) {
	ids, err := h.CP.GetProducers(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]*string{
		"videoProducerId": nullable(ids.Video),
		"audioProducerId": nullable(ids.Audio),
	})
}

// GET /cameras/{id}/viewers
func (h *CameraHandler) Viewers(w http.ResponseWriter, r *http.Request) {
	v, err := h.CP.ListViewers(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if v.ViewerIDs == nil {
		v.ViewerIDs = []string{}
	}
	respondJSON(w, http.StatusOK, v)
}

// GET /streams
func (h *CameraHandler) Streams(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.CP.ListStreams())
}

// POST /cameras/{id}/close
func (h *CameraHandler) Close(w http.ResponseWriter, r *http.Request) {
	if err := h.CP.CloseCamera(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
