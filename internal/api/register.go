package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/agentdirectory/backend/internal/directory"
	"github.com/agentdirectory/backend/internal/registrar"
)

type claimBody struct {
	Platform string `json:"platform"`
	Handle   string `json:"handle"`
}

type sponsoredRegisterBody struct {
	Name      string      `json:"name"`
	Platforms []claimBody `json:"platforms"`
}

type legacyRegisterBody struct {
	MoltbookUsername string `json:"moltbook_username"`
}

// handleSponsoredRegister runs the full sponsored registration pipeline.
func (s *Server) handleSponsoredRegister(w http.ResponseWriter, r *http.Request) {
	var body sponsoredRegisterBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if body.Name == "" {
		writeFailure(w, http.StatusBadRequest, "Missing agent name")
		return
	}

	claims := make([]registrar.Claim, len(body.Platforms))
	for i, c := range body.Platforms {
		claims[i] = registrar.Claim{Platform: c.Platform, Handle: c.Handle}
	}

	s.runRegistration(w, r, registrar.Request{
		Name:   body.Name,
		Claims: claims,
		Caller: clientIP(r),
	})
}

// handleLegacyRegister rewrites the single-platform legacy body into a
// moltbook claim and runs the same pipeline.
func (s *Server) handleLegacyRegister(w http.ResponseWriter, r *http.Request) {
	var body legacyRegisterBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFailure(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if body.MoltbookUsername == "" {
		writeFailure(w, http.StatusBadRequest, "Missing moltbook_username")
		return
	}

	s.runRegistration(w, r, registrar.Request{
		Name:   body.MoltbookUsername,
		Claims: []registrar.Claim{{Platform: "moltbook", Handle: body.MoltbookUsername}},
		Caller: clientIP(r),
	})
}

func (s *Server) runRegistration(w http.ResponseWriter, r *http.Request, req registrar.Request) {
	res, err := s.pipeline.Register(r.Context(), req)
	if err != nil {
		s.writeRegistrationError(w, req.Name, err)
		return
	}

	payload := map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("%s registered successfully!", res.Name),
		"agent": map[string]interface{}{
			"name":      res.Name,
			"platforms": res.Platforms,
			"urls":      res.URLs,
		},
		"txHash":       res.TxHash,
		"blockNumber":  res.BlockNumber,
		"explorerUrl":  s.explorerTxURL + res.TxHash,
		"directoryUrl": s.directoryURL,
	}
	if len(res.Unverified) > 0 {
		payload["unverified"] = res.Unverified
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) writeRegistrationError(w http.ResponseWriter, name string, err error) {
	var (
		validation  *registrar.ValidationError
		conflict    *registrar.ConflictError
		rateLimited *registrar.RateLimitedError
		funding     *registrar.FundingError
		unavailable *registrar.UnavailableError
		chain       *registrar.ChainError
	)
	switch {
	case errors.As(err, &validation):
		writeFailure(w, http.StatusBadRequest, validation.Reason)
	case errors.As(err, &conflict):
		writeFailure(w, http.StatusConflict, conflict.Reason)
	case errors.As(err, &rateLimited):
		w.Header().Set("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds())))
		writeFailure(w, http.StatusTooManyRequests, rateLimited.Error())
	case errors.As(err, &funding):
		s.logger.Error("registration blocked by sponsor funding",
			"name", name, "balance_wei", funding.BalanceWei, "needed_wei", funding.NeededWei)
		writeFailure(w, http.StatusServiceUnavailable, funding.Error())
	case errors.As(err, &unavailable):
		s.logger.Error("registration unavailable", "name", name, "err", unavailable.Cause)
		writeFailure(w, http.StatusServiceUnavailable, unavailable.Error())
	case errors.Is(err, directory.ErrNoSponsor):
		s.logger.Error("sponsor wallet not configured")
		writeFailure(w, http.StatusInternalServerError, "Sponsor wallet not configured")
	case errors.As(err, &chain):
		s.logger.Error("registration chain failure", "name", name, "tx", chain.TxHash, "err", chain.Cause)
		body := map[string]interface{}{
			"success": false,
			"error":   chain.Error(),
		}
		if chain.TxHash != "" {
			body["txHash"] = chain.TxHash
		}
		writeJSON(w, http.StatusInternalServerError, body)
	default:
		s.logger.Error("registration failed", "name", name, "err", err)
		writeFailure(w, http.StatusInternalServerError, "Registration failed: "+err.Error())
	}
}
