package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/cameras"
)

const maxBodyBytes = 1 << 20

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// writeError maps the control plane error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var removed *cameras.RemovedError
	switch {
	case errors.As(err, &removed):
		respondJSON(w, http.StatusNotFound, map[string]string{
			"error":  "camera not found",
			"reason": removed.Reason,
		})
	case errors.Is(err, cameras.ErrCameraNotFound):
		respondError(w, http.StatusNotFound, "camera not found")
	case errors.Is(err, cameras.ErrTransportNotFound):
		respondError(w, http.StatusNotFound, "transport not found")
	case errors.Is(err, cameras.ErrConsumerNotFound):
		respondError(w, http.StatusNotFound, "consumer not found")
	case errors.Is(err, cameras.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found")
	case errors.Is(err, cameras.ErrIncompatible):
		respondError(w, http.StatusBadRequest, "cannot consume")
	case errors.Is(err, cameras.ErrEngineFailure):
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("media engine failure")
		respondError(w, http.StatusBadGateway, "media engine failure")
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON accepts an empty body as the zero value.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// nullable renders "" as JSON null.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
