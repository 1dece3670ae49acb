package httpapi

import (
	"net/http"
	"os"

	"finanalyst/gateway"
)

// healthComponent is one entry in the health report.
type healthComponent struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// handleHealth reports per-component health. The endpoint returns 200 as
// long as the process can answer; degraded components are visible in the
// body and flip the top-level status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	components := map[string]healthComponent{
		"database":    s.checkDatabase(r),
		"blobstore":   s.checkFilesystem(s.config.BlobDir),
		"indexes":     s.checkFilesystem(s.config.IndexDir),
		"llm_gateway": s.checkGateway(),
	}

	overall := "healthy"
	for _, component := range components {
		if component.Status != "healthy" {
			overall = "degraded"
			break
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":     overall,
		"components": components,
	})
}

func (s *Server) checkDatabase(r *http.Request) healthComponent {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		return healthComponent{Status: "unhealthy", Detail: err.Error()}
	}
	return healthComponent{Status: "healthy"}
}

func (s *Server) checkFilesystem(dir string) healthComponent {
	info, err := os.Stat(dir)
	if err != nil {
		return healthComponent{Status: "unhealthy", Detail: err.Error()}
	}
	if !info.IsDir() {
		return healthComponent{Status: "unhealthy", Detail: "not a directory"}
	}
	return healthComponent{Status: "healthy"}
}

func (s *Server) checkGateway() healthComponent {
	if !s.gw.Healthy() {
		return healthComponent{Status: "unhealthy", Detail: "no backend configured"}
	}
	return healthComponent{Status: "healthy", Detail: string(s.modes.Settings().Mode)}
}

func (s *Server) handleLLMStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.modes.Status())
}

// handleLLMMode switches the active backend at runtime. The new settings
// persist, so the selection survives restarts.
func (s *Server) handleLLMMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode    string `json:"mode"`
		Model   string `json:"model"`
		BaseURL string `json:"base_url"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	settings := gateway.ModeSettings{
		Mode:    gateway.Mode(req.Mode),
		Model:   req.Model,
		BaseURL: req.BaseURL,
	}
	if settings.Model == "" {
		settings.Model = s.config.LLMModel
	}
	if settings.BaseURL == "" {
		settings.BaseURL = s.config.LLMBaseURL
	}

	if err := s.modes.SetMode(settings); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusOK, s.modes.Status())
}
