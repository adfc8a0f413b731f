package httpserver

import (
	"net/http"
	"time"

	"github.com/sketchsage/server/pkg/responders"
)

// health reports liveness. It deliberately avoids touching the database so a
// degraded store never takes the whole process out of the load balancer.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	responders.JSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": int(time.Since(serverStartTime).Seconds()),
		"backend":        h.cfg.Database.Backend,
	})
}
