package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/Ledger1-ai/crm-official-sub000/internal/autogen"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// enqueueRequest is the optional body of POST /pools/{id}/autogen.
type enqueueRequest struct {
	ICP *types.ICPConfig `json:"icp,omitempty"`
}

// handleCreateJob creates a pool and a QUEUED job for it.
func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.teamID(w, r)
	if !ok {
		return
	}
	var req types.CreateJobRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.failure(w, r, bodyRequired(err))
		return
	}
	job, err := s.orchestrator.CreateJob(r.Context(), teamID, &req)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, job)
}

// handleEnqueueJob queues another job for an existing pool, using the ICP in
// the body or the one stored on the pool.
func (s *Server) handleEnqueueJob(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.teamID(w, r)
	if !ok {
		return
	}
	poolID, ok := s.pathID(w, r, "pool")
	if !ok {
		return
	}
	var req enqueueRequest
	if err := s.decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		s.failure(w, r, err)
		return
	}
	job, err := s.orchestrator.Enqueue(r.Context(), teamID, poolID, req.ICP)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusCreated, job)
}

// handleRunJob starts a QUEUED job in the background. Repeating the call
// returns the job's current state without starting it again.
func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.teamID(w, r)
	if !ok {
		return
	}
	jobID, ok := s.pathID(w, r, "job")
	if !ok {
		return
	}
	job, err := s.orchestrator.Run(r.Context(), teamID, jobID)
	if err != nil {
		if errors.Is(err, autogen.ErrBusy) {
			w.Header().Set("Retry-After", "5")
		}
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusAccepted, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.teamID(w, r)
	if !ok {
		return
	}
	jobID, ok := s.pathID(w, r, "job")
	if !ok {
		return
	}
	job, err := s.orchestrator.Job(r.Context(), teamID, jobID)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, job)
}
