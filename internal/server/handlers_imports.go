package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// multipartOverhead leaves room for form fields and part headers on top of
// the file itself.
const multipartOverhead = 1 << 20

// handlePreview parses an uploaded CSV or XLSX and returns the dry-run diff
// against the target pool. It never writes.
//
// Form fields: file (required), poolId, or newPoolName plus optional
// newPoolDescription.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.teamID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.errorResponse(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.maxUpload))
			return
		}
		s.failure(w, r, &types.ValidationError{Field: "file", Message: "expected a multipart/form-data upload"})
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	target, err := previewTarget(r)
	if err != nil {
		s.failure(w, r, err)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.failure(w, r, &types.ValidationError{Field: "file", Message: "file is required"})
		return
	}
	defer file.Close()
	if header.Size > s.maxUpload {
		s.errorResponse(w, http.StatusRequestEntityTooLarge, fmt.Sprintf("upload exceeds %d bytes", s.maxUpload))
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		s.failure(w, r, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	preview, err := s.previewer.PreviewFile(r.Context(), teamID, target, header.Filename, data)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, preview)
}

// previewTarget reads the pool selection from the parsed form.
func previewTarget(r *http.Request) (types.PreviewTarget, error) {
	var target types.PreviewTarget
	if v := strings.TrimSpace(r.FormValue("poolId")); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return target, &types.ValidationError{Field: "poolId", Message: "invalid pool id"}
		}
		target.PoolID = &id
	}
	if name := r.FormValue("newPoolName"); strings.TrimSpace(name) != "" {
		target.NewPool = &types.NewPool{Name: name, Description: r.FormValue("newPoolDescription")}
	}
	return target, nil
}

// handleCommit applies the creates and updates of a preview.
func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	teamID, ok := s.teamID(w, r)
	if !ok {
		return
	}
	var req types.CommitRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.failure(w, r, bodyRequired(err))
		return
	}
	result, err := s.committer.Commit(r.Context(), teamID, &req)
	if err != nil {
		s.failure(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}
