package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/agentdirectory/backend/internal/capabilities"
	"github.com/agentdirectory/backend/internal/directory"
)

type setCapabilitiesBody struct {
	Capabilities []string `json:"capabilities"`
	Description  *string  `json:"description"`
}

func (s *Server) handleSetCapabilities(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var body setCapabilitiesBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.metrics.RecordCapabilityWrite("invalid")
		writeFailure(w, http.StatusBadRequest, "capabilities must be an array")
		return
	}
	if body.Capabilities == nil {
		s.metrics.RecordCapabilityWrite("invalid")
		writeFailure(w, http.StatusBadRequest, "capabilities must be an array")
		return
	}

	// Point-in-time existence check against the directory: tags may only
	// be attached to registered agents.
	_, err := s.dir.Lookup(r.Context(), name)
	if errors.Is(err, directory.ErrNotFound) {
		s.metrics.RecordCapabilityWrite("unknown_agent")
		writeFailure(w, http.StatusNotFound, "Agent not found")
		return
	}
	if err != nil {
		s.metrics.RecordCapabilityWrite("error")
		s.logger.Error("capability write blocked, directory unavailable", "name", name, "err", err)
		writeFailure(w, http.StatusServiceUnavailable, "Directory lookup unavailable. Please try again later.")
		return
	}

	entry, err := s.caps.Set(name, body.Capabilities, body.Description)
	if errors.Is(err, capabilities.ErrNoValidCapabilities) {
		s.metrics.RecordCapabilityWrite("invalid")
		writeFailure(w, http.StatusBadRequest, "No valid capabilities")
		return
	}
	if err != nil {
		s.metrics.RecordCapabilityWrite("error")
		s.logger.Error("capability write failed", "name", name, "err", err)
		writeFailure(w, http.StatusInternalServerError, "Failed to save")
		return
	}

	s.metrics.RecordCapabilityWrite("ok")
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"agent":        name,
		"capabilities": entry.Capabilities,
		"description":  entry.Description,
	})
}

func (s *Server) handleGetCapabilities(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	entry, ok := s.caps.Get(name)
	if !ok {
		writeFailure(w, http.StatusNotFound, "No capabilities for this agent")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"agent":        name,
		"capabilities": entry.Capabilities,
		"description":  entry.Description,
		"updatedAt":    entry.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := q.Get("capability")
	if query == "" {
		query = q.Get("cap")
	}
	if query == "" {
		query = q.Get("q")
	}
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		writeFailure(w, http.StatusBadRequest, "Provide ?capability=X")
		return
	}

	matches := s.caps.Find(query)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"query":   query,
		"count":   len(matches),
		"agents":  matches,
	})
}

func (s *Server) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	hist := s.caps.Histogram()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"totalCapabilities": len(hist),
		"capabilities":      hist,
	})
}
