package api

import (
	"net/http"

	"github.com/pravrilgreen/mediasoup-stream-test/internal/middleware"
)

func Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// WhoAmI echoes the identity the census would record for this caller.
func WhoAmI(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"ip": middleware.ClientIP(r),
		"ua": r.UserAgent(),
	})
}
