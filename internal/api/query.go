package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/agentdirectory/backend/internal/directory"
)

// lookupConcurrency bounds the per-name lookup fan-out in listings.
const lookupConcurrency = 8

type agentSummary struct {
	Name         string   `json:"name"`
	Platforms    []string `json:"platforms,omitempty"`
	URLs         []string `json:"urls,omitempty"`
	Registrant   string   `json:"registrant,omitempty"`
	RegisteredAt string   `json:"registeredAt,omitempty"`
	Error        string   `json:"error,omitempty"`
}

func summarize(rec *directory.Record) agentSummary {
	return agentSummary{
		Name:         rec.Name,
		Platforms:    rec.Platforms,
		URLs:         rec.URLs,
		Registrant:   rec.Registrant.Hex(),
		RegisteredAt: rec.RegisteredAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	count, err := s.dir.Count(r.Context())
	if err != nil {
		s.logger.Error("stats unavailable", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"registeredAgents":      count,
		"contractAddress":       s.contractAddr,
		"network":               s.network,
		"sponsoredRegistration": true,
	})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	rec, err := s.dir.Lookup(r.Context(), name)
	if errors.Is(err, directory.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Agent not found")
		return
	}
	if err != nil {
		s.logger.Error("lookup unavailable", "name", name, "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":         rec.Name,
		"platforms":    rec.Platforms,
		"urls":         rec.URLs,
		"registrant":   rec.Registrant.Hex(),
		"registeredAt": rec.RegisteredAt.UTC().Format(time.RFC3339),
		"lastActive":   rec.LastActive.UTC().Format(time.RFC3339),
	})
}

// parseLimit clamps the limit query parameter to (0, maxListLimit].
func parseLimit(r *http.Request) uint64 {
	limit := uint64(defaultListLimit)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return limit
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r)
	var offset uint64
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.ParseUint(raw, 10, 64); err == nil {
			offset = n
		}
	}

	total, err := s.dir.Count(r.Context())
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	names, err := s.dir.AgentNames(r.Context(), offset, limit)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}

	agents := s.fetchAgents(r, names)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"total":   total,
		"offset":  offset,
		"limit":   limit,
		"count":   len(agents),
		"agents":  agents,
	})
}

// fetchAgents resolves each name concurrently, preserving input order.
// A failed lookup yields a {name, error} placeholder rather than failing
// the whole listing.
func (s *Server) fetchAgents(r *http.Request, names []string) []agentSummary {
	agents := make([]agentSummary, len(names))
	sem := make(chan struct{}, lookupConcurrency)
	var wg sync.WaitGroup

	for i, name := range names {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, name string) {
			defer wg.Done()
			defer func() { <-sem }()

			rec, err := s.dir.Lookup(r.Context(), name)
			if err != nil {
				agents[i] = agentSummary{Name: name, Error: "Failed to fetch"}
				return
			}
			agents[i] = summarize(rec)
		}(i, name)
	}
	wg.Wait()
	return agents
}

func (s *Server) handleAgentsByPlatform(w http.ResponseWriter, r *http.Request) {
	platform := strings.ToLower(mux.Vars(r)["platform"])
	limit := parseLimit(r)

	total, err := s.dir.Count(r.Context())
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	names, err := s.dir.AgentNames(r.Context(), 0, total)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}

	matches := []agentSummary{}
	for _, name := range names {
		if uint64(len(matches)) >= limit {
			break
		}
		rec, err := s.dir.Lookup(r.Context(), name)
		if err != nil {
			continue
		}
		for _, p := range rec.Platforms {
			if strings.ToLower(p) == platform {
				matches = append(matches, summarize(rec))
				break
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"platform": platform,
		"count":    len(matches),
		"agents":   matches,
	})
}

func (s *Server) handlePlatforms(w http.ResponseWriter, r *http.Request) {
	total, err := s.dir.Count(r.Context())
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	names, err := s.dir.AgentNames(r.Context(), 0, total)
	if err != nil {
		writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}

	counts := make(map[string]int)
	for _, name := range names {
		rec, err := s.dir.Lookup(r.Context(), name)
		if err != nil {
			continue
		}
		for _, p := range rec.Platforms {
			counts[strings.ToLower(p)]++
		}
	}

	type platformCount struct {
		Platform   string `json:"platform"`
		AgentCount int    `json:"agentCount"`
	}
	platforms := make([]platformCount, 0, len(counts))
	for p, c := range counts {
		platforms = append(platforms, platformCount{Platform: p, AgentCount: c})
	}
	sort.Slice(platforms, func(i, j int) bool {
		if platforms[i].AgentCount != platforms[j].AgentCount {
			return platforms[i].AgentCount > platforms[j].AgentCount
		}
		return platforms[i].Platform < platforms[j].Platform
	})

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"totalPlatforms": len(platforms),
		"platforms":      platforms,
	})
}

func (s *Server) handleSupportedPlatforms(w http.ResponseWriter, _ *http.Request) {
	infos := s.platforms.Supported()
	names := make([]string, len(infos))
	notes := make(map[string]string, len(infos))
	for i, p := range infos {
		names[i] = p.Platform
		notes[p.Platform] = p.Note
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"platforms": names,
		"notes":     notes,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
