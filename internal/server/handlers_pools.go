package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/Ledger1-ai/crm-official-sub000/internal/server/middleware"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// Paging bounds for candidate and contact listings.
const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// ---- Request Helpers ----

// teamID returns the authenticated team or writes 401.
func (s *Server) teamID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	teamID, err := middleware.GetTeamID(r)
	if err != nil {
		s.errorResponse(w, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, false
	}
	return teamID, true
}

// pathID parses the {id} path value or writes 400.
func (s *Server) pathID(w http.ResponseWriter, r *http.Request, resource string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Sprintf("invalid %s id", resource))
		return uuid.Nil, false
	}
	return id, true
}

// decodeJSON reads a JSON body of at most s.maxUpload bytes into dst. An
// empty body is reported as io.EOF so callers can treat it as optional.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return err
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &types.ValidationError{Field: "body", Message: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit)}
		}
		return &types.ValidationError{Field: "body", Message: fmt.Sprintf("invalid JSON: %v", err)}
	}
	return nil
}

// page reads limit and offset query parameters.
func page(r *http.Request) (limit, offset int, err error) {
	limit = defaultPageSize
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 {
			return 0, 0, &types.ValidationError{Field: "limit", Message: "must be a positive integer"}
		}
		limit = min(limit, maxPageSize)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		offset, err = strconv.Atoi(v)
		if err != nil || offset < 0 {
			return 0, 0, &types.ValidationError{Field: "offset", Message: "must be a non-negative integer"}
		}
	}
	return limit, offset, nil
}

// ownedPool resolves {id} to a pool of the calling team, writing the error
// response when it cannot.
func (s *Server) ownedPool(w http.ResponseWriter, r *http.Request) (*types.Pool, bool) {
	teamID, ok := s.teamID(w, r)
	if !ok {
		return nil, false
	}
	poolID, ok := s.pathID(w, r, "pool")
	if !ok {
		return nil, false
	}
	pool, err := s.store.GetPool(r.Context(), teamID, poolID)
	if err != nil {
		s.failure(w, r, err)
		return nil, false
	}
	if pool == nil {
		s.failure(w, r, &types.NotFoundError{Resource: "pool", ID: poolID})
		return nil, false
	}
	return pool, true
}

// ---- Pool Handlers ----

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.teamID(w, r)
	if !ok {
		return
	}
	pools, err := s.store.ListPools(r.Context(), teamID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"pools": pools,
		"count": len(pools),
	})
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.teamID(w, r)
	if !ok {
		return
	}
	var req types.CreatePoolRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.failure(w, r, bodyRequired(err))
		return
	}
	if err := req.Validate(); err != nil {
		s.failure(w, r, err)
		return
	}
	pool, err := s.store.CreatePool(r.Context(), teamID, types.NewPool{Name: req.Name, Description: req.Description}, req.ICP)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, pool)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.teamID(w, r)
	if !ok {
		return
	}
	poolID, ok := s.pathID(w, r, "pool")
	if !ok {
		return
	}
	summary, err := s.store.GetPoolSummary(r.Context(), teamID, poolID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if summary == nil {
		s.failure(w, r, &types.NotFoundError{Resource: "pool", ID: poolID})
		return
	}
	s.jsonResponse(w, http.StatusOK, summary)
}

func (s *Server) handleDeletePool(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.teamID(w, r)
	if !ok {
		return
	}
	poolID, ok := s.pathID(w, r, "pool")
	if !ok {
		return
	}
	deleted, err := s.store.DeletePool(r.Context(), teamID, poolID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	if !deleted {
		s.failure(w, r, &types.NotFoundError{Resource: "pool", ID: poolID})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCandidates(w http.ResponseWriter, r *http.Request) {
	pool, ok := s.ownedPool(w, r)
	if !ok {
		return
	}
	limit, offset, err := page(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	candidates, err := s.store.ListCandidates(r.Context(), pool.ID, limit, offset)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"candidates": candidates,
		"count":      len(candidates),
		"limit":      limit,
		"offset":     offset,
	})
}

func (s *Server) handleListContacts(w http.ResponseWriter, r *http.Request) {
	pool, ok := s.ownedPool(w, r)
	if !ok {
		return
	}
	limit, offset, err := page(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	contacts, err := s.store.ListContacts(r.Context(), pool.ID, limit, offset)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"contacts": contacts,
		"count":    len(contacts),
		"limit":    limit,
		"offset":   offset,
	})
}

func (s *Server) handleListPoolJobs(w http.ResponseWriter, r *http.Request) {
	pool, ok := s.ownedPool(w, r)
	if !ok {
		return
	}
	jobs, err := s.store.ListJobs(r.Context(), pool.ID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// bodyRequired turns an empty body into a validation error.
func bodyRequired(err error) error {
	if errors.Is(err, io.EOF) {
		return &types.ValidationError{Field: "body", Message: "request body is required"}
	}
	return err
}
