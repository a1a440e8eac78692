package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/pagehost/internal/core"
	"github.com/edvin/pagehost/internal/model"
	"github.com/edvin/pagehost/internal/routing"
)

func (s *Server) handleRenewalRun(w http.ResponseWriter, r *http.Request) {
	res, err := s.renewal.RunNow(r.Context(), model.RenewalTriggerManual)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if res == nil {
		WriteError(w, http.StatusConflict, "a renewal run is already in flight")
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleCreateDomain(w http.ResponseWriter, r *http.Request) {
	var in core.CreateDomainInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	m, err := s.domains.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, m)
}

func (s *Server) handleUpdateDomain(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		WriteError(w, http.StatusBadRequest, "domain mapping id is required")
		return
	}

	var in core.UpdateDomainInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	m, err := s.domains.Update(r.Context(), id, in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, m)
}

func (s *Server) handleRemoveDomain(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		WriteError(w, http.StatusBadRequest, "domain mapping id is required")
		return
	}

	if err := s.domains.Remove(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleCreateRedirect(w http.ResponseWriter, r *http.Request) {
	var in core.CreateRedirectInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	redirect, err := s.redirects.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, redirect)
}

func (s *Server) handleRemoveRedirect(w http.ResponseWriter, r *http.Request) {
	source := strings.TrimSpace(chi.URLParam(r, "source"))
	if source == "" {
		WriteError(w, http.StatusBadRequest, "source domain is required")
		return
	}

	if err := s.redirects.Remove(r.Context(), source); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) handleVerifyDNS(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		WriteError(w, http.StatusBadRequest, "domain mapping id is required")
		return
	}

	res, err := s.domains.VerifyDNS(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, res)
}

func (s *Server) handleRequestSSL(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		WriteError(w, http.StatusBadRequest, "domain mapping id is required")
		return
	}

	issued, err := s.certs.RequestSSL(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, issued)
}

type setWeightsRequest struct {
	Weights []routing.AliasWeight `json:"weights"`
}

func (s *Server) handleSetWeights(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		WriteError(w, http.StatusBadRequest, "domain mapping id is required")
		return
	}

	var req setWeightsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	m, err := s.mappings.GetByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if m == nil {
		WriteError(w, http.StatusNotFound, "domain mapping "+id+" not found")
		return
	}

	if err := s.routing.SetWeights(r.Context(), m, req.Weights); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"domain": m.Domain, "weights": req.Weights})
}

func (s *Server) handleSelectVariant(w http.ResponseWriter, r *http.Request) {
	domain := strings.TrimSpace(r.URL.Query().Get("domain"))
	if domain == "" {
		WriteError(w, http.StatusBadRequest, "domain query parameter is required")
		return
	}

	sel, err := s.routing.SelectVariant(r.Context(), routing.Request{
		Domain:       domain,
		StickyCookie: r.URL.Query().Get("sticky"),
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, sel)
}

func (s *Server) handleWildcardStart(w http.ResponseWriter, r *http.Request) {
	start, err := s.wildcard.Start(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, start)
}

func (s *Server) handleWildcardComplete(w http.ResponseWriter, r *http.Request) {
	issued, err := s.wildcard.Complete(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, issued)
}

func (s *Server) handleWildcardCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.wildcard.Cancel(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "canceled"})
}

func (s *Server) handleWildcardPropagation(w http.ResponseWriter, r *http.Request) {
	prop, err := s.wildcard.Propagation(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, prop)
}

func (s *Server) handleWildcardInspect(w http.ResponseWriter, r *http.Request) {
	info, err := s.wildcard.Inspect()
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, info)
}

func (s *Server) handleWildcardDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.wildcard.DeleteCert(r.Context()); err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
