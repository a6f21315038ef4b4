// internal/handler/admin_handler.go
package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/leadnurture/internal/service"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// AdminHandler serves template administration and health checks.
type AdminHandler struct {
	Service *service.CampaignService
	DB      Pinger
	Log     *zap.Logger
}

func (h *AdminHandler) ListTemplatesHandler(w http.ResponseWriter, r *http.Request) {
	tmpls := h.Service.ListTemplates()

	type summary struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name,omitempty"`
		Version     string `json:"version"`
		Steps       int    `json:"steps"`
	}
	out := make([]summary, 0, len(tmpls))
	for _, t := range tmpls {
		out = append(out, summary{Name: t.Name, DisplayName: t.DisplayName, Version: t.Version, Steps: len(t.Steps)})
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "templates": out})
}

func (h *AdminHandler) ReloadTemplatesHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.ReloadTemplates(); err != nil {
		h.Log.Error("❌ template reload failed", zap.Error(err))
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "count": len(h.Service.ListTemplates())})
}

func (h *AdminHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.DB.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "database unreachable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
