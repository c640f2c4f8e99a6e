package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ledger1-ai/crm-official-sub000/internal/autogen"
	"github.com/Ledger1-ai/crm-official-sub000/internal/config"
	"github.com/Ledger1-ai/crm-official-sub000/internal/memstore"
	"github.com/Ledger1-ai/crm-official-sub000/internal/server/ratelimit"
	"github.com/Ledger1-ai/crm-official-sub000/internal/sourcing"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

const leadsCSV = `Company,Website,Email,Name,Title,Industry
Acme,acme.com,jane@acme.com,Jane Doe,CTO,Tech
Acme Inc,https://www.acme.com/about,bob@acme.com,Bob Stone,VP Sales,
`

// stubProvider returns the same companies on every call.
type stubProvider struct {
	companies []sourcing.SourcedCompany
}

func (p *stubProvider) Name() string { return types.SourceAgenticAI }

func (p *stubProvider) FindCandidates(context.Context, types.ICPConfig, sourcing.Quota) (*sourcing.Result, error) {
	return &sourcing.Result{Companies: p.companies, Queries: []string{"fintech companies"}}, nil
}

type testServer struct {
	store  *memstore.Store
	server *Server
	tokens *TeamTokens
	team   uuid.UUID
	token  string
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	store := memstore.New()
	agent := &stubProvider{companies: []sourcing.SourcedCompany{{
		Candidate: types.CandidateRecord{Domain: "globex.com", CompanyName: "Globex"},
		Contacts:  []types.ContactRecord{{FullName: "Hank Scorpio", Email: "hank@globex.com"}},
	}}}
	orch := autogen.New(store, store, agent, nil, autogen.Options{MaxConcurrentJobs: 2})

	if opts.RateLimit == nil {
		opts.RateLimit = &ratelimit.Config{Enabled: false}
	}
	tokens := testTokens(config.TokenConfig{TTLHours: 1})
	srv := New(store, orch, tokens.Validator(), opts)
	t.Cleanup(srv.Close)

	team := uuid.New()
	token, err := tokens.Issue(team, "ops@example.com")
	require.NoError(t, err)

	return &testServer{store: store, server: srv, tokens: tokens, team: team, token: token}
}

func (ts *testServer) tokenFor(t *testing.T, team uuid.UUID) string {
	t.Helper()
	token, err := ts.tokens.Issue(team, "")
	require.NoError(t, err)
	return token
}

func (ts *testServer) do(t *testing.T, method, path, token string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) doJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return ts.do(t, method, path, ts.token, body, "application/json")
}

func (ts *testServer) upload(t *testing.T, fields map[string]string, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return ts.do(t, http.MethodPost, "/imports/preview", ts.token, &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (ts *testServer) createPool(t *testing.T, name string) types.Pool {
	t.Helper()
	rec := ts.doJSON(t, http.MethodPost, "/pools", map[string]any{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[types.Pool](t, rec)
}

func TestHealth_NoAuth(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuth_Required(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.do(t, http.MethodGet, "/pools", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/pools", "not-a-token", nil, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, http.MethodGet, "/pools", ts.token, nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCORS_Preflight(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.do(t, http.MethodOptions, "/pools", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestPools_Lifecycle(t *testing.T) {
	ts := newTestServer(t, Options{})
	pool := ts.createPool(t, "  Fintech DACH ")
	assert.Equal(t, "Fintech DACH", pool.Name)
	assert.Equal(t, ts.team, pool.TeamID)

	rec := ts.doJSON(t, http.MethodGet, "/pools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listing := decode[struct {
		Pools []types.PoolSummary `json:"pools"`
		Count int                 `json:"count"`
	}](t, rec)
	require.Equal(t, 1, listing.Count)
	assert.Equal(t, pool.ID, listing.Pools[0].ID)
	assert.Nil(t, listing.Pools[0].LatestJob)

	rec = ts.doJSON(t, http.MethodGet, "/pools/"+pool.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[types.PoolSummary](t, rec)
	assert.Equal(t, 0, summary.CandidatesCount)

	// Another team cannot see or delete the pool.
	other := ts.tokenFor(t, uuid.New())
	rec = ts.do(t, http.MethodGet, "/pools/"+pool.ID.String(), other, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodDelete, "/pools/"+pool.ID.String(), other, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodGet, "/pools/"+pool.ID.String()+"/candidates", other, nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.doJSON(t, http.MethodDelete, "/pools/"+pool.ID.String(), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.doJSON(t, http.MethodGet, "/pools/"+pool.ID.String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreatePool_Validation(t *testing.T) {
	ts := newTestServer(t, Options{})
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"malformed", "{"},
		{"missing name", `{"description":"x"}`},
		{"blank name", `{"name":"   "}`},
		{"invalid icp", `{"name":"x","icp":{"providers":{},"limits":{"maxCompanies":1,"maxContactsPerCompany":1}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/pools", ts.token, strings.NewReader(tt.body), "application/json")
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestPoolRoutes_InvalidIDs(t *testing.T) {
	ts := newTestServer(t, Options{})
	for _, path := range []string{"/pools/nope", "/pools/nope/candidates", "/autogen/jobs/nope"} {
		rec := ts.doJSON(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
	rec := ts.doJSON(t, http.MethodGet, "/pools/"+uuid.NewString()+"/jobs", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImport_PreviewThenCommit(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.upload(t, map[string]string{"newPoolName": "Imported", "newPoolDescription": "Q3 list"}, "leads.csv", leadsCSV)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	preview := decode[types.Preview](t, rec)
	assert.Equal(t, types.PoolModeNew, preview.PoolMode)
	assert.Equal(t, 1, preview.Stats.Creates.Candidate)
	assert.Equal(t, 1, preview.Stats.Duplicates.Candidate)
	assert.Equal(t, 2, preview.Stats.Creates.Contact)

	// Previews do not write.
	assert.Empty(t, decode[struct {
		Pools []types.PoolSummary `json:"pools"`
	}](t, ts.doJSON(t, http.MethodGet, "/pools", nil)).Pools)

	rec = ts.doJSON(t, http.MethodPost, "/imports/commit", types.CommitRequest{
		NewPool: &types.NewPool{Name: preview.PoolName, Description: "Q3 list"},
		Creates: preview.Creates,
		Updates: preview.Updates,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[types.CommitResult](t, rec)
	assert.Equal(t, types.Counts{Candidates: 1, Contacts: 2}, result.Created)
	assert.Empty(t, result.Errors)

	rec = ts.doJSON(t, http.MethodGet, "/pools/"+result.PoolID.String()+"/contacts?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	contacts := decode[struct {
		Contacts []types.StoredContact `json:"contacts"`
		Limit    int                   `json:"limit"`
	}](t, rec)
	assert.Len(t, contacts.Contacts, 1)
	assert.Equal(t, 1, contacts.Limit)

	// The same file against the now populated pool creates nothing.
	rec = ts.upload(t, map[string]string{"poolId": result.PoolID.String()}, "leads.csv", leadsCSV)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	again := decode[types.Preview](t, rec)
	assert.Equal(t, types.PoolModeExisting, again.PoolMode)
	assert.Equal(t, types.KindCounts{}, again.Stats.Creates)
}

func TestPreview_Errors(t *testing.T) {
	ts := newTestServer(t, Options{MaxUploadBytes: 64})
	pool := ts.createPool(t, "Existing")

	tests := []struct {
		name     string
		fields   map[string]string
		filename string
		content  string
		want     int
	}{
		{"missing file", map[string]string{"newPoolName": "x"}, "", "", http.StatusBadRequest},
		{"missing target", nil, "leads.csv", "Domain\nacme.com\n", http.StatusBadRequest},
		{"both targets", map[string]string{"newPoolName": "x", "poolId": pool.ID.String()}, "leads.csv", "Domain\nacme.com\n", http.StatusBadRequest},
		{"bad pool id", map[string]string{"poolId": "nope"}, "leads.csv", "Domain\nacme.com\n", http.StatusBadRequest},
		{"unknown pool", map[string]string{"poolId": uuid.NewString()}, "leads.csv", "Domain\nacme.com\n", http.StatusNotFound},
		{"unsupported type", map[string]string{"newPoolName": "x"}, "leads.pdf", "Domain\nacme.com\n", http.StatusBadRequest},
		{"too large", map[string]string{"newPoolName": "x"}, "leads.csv", "Domain\n" + strings.Repeat("a.com\n", 20), http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.upload(t, tt.fields, tt.filename, tt.content)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}

	rec := ts.do(t, http.MethodPost, "/imports/preview", ts.token, strings.NewReader(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCommit_Errors(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.doJSON(t, http.MethodPost, "/imports/commit", map[string]any{"newPool": map[string]string{"name": "x"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.doJSON(t, http.MethodPost, "/imports/commit", types.CommitRequest{
		PoolID:  ptr(uuid.New()),
		Creates: types.EntrySet{Candidates: []types.CandidateEntry{{CandidateRecord: types.CandidateRecord{DedupeKey: "acme.com", Domain: "acme.com"}}}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAutogen_CreateRunAndPoll(t *testing.T) {
	ts := newTestServer(t, Options{})

	rec := ts.doJSON(t, http.MethodPost, "/autogen/jobs", map[string]any{
		"name":      "Fintech",
		"icp":       map[string]any{"industries": []string{"Fintech"}},
		"providers": map[string]bool{"agenticAI": true},
		"limits":    map[string]int{"maxCompanies": 5, "maxContactsPerCompany": 2},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	job := decode[types.AutogenJob](t, rec)
	assert.Equal(t, types.JobQueued, job.Status)

	// Only one active job per pool.
	rec = ts.doJSON(t, http.MethodPost, "/pools/"+job.PoolID.String()+"/autogen", nil)
	assert.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = ts.doJSON(t, http.MethodPost, "/autogen/jobs/"+job.ID.String()+"/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	ts.server.orchestrator.Wait()

	rec = ts.doJSON(t, http.MethodGet, "/autogen/jobs/"+job.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	done := decode[types.AutogenJob](t, rec)
	assert.Equal(t, types.JobSuccess, done.Status)
	require.NotNil(t, done.Counters)
	assert.Equal(t, types.Counts{Candidates: 1, Contacts: 1}, done.Counters.Created)

	// Running a finished job reports its state and starts nothing.
	rec = ts.doJSON(t, http.MethodPost, "/autogen/jobs/"+job.ID.String()+"/run", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, types.JobSuccess, decode[types.AutogenJob](t, rec).Status)

	rec = ts.doJSON(t, http.MethodGet, "/pools/"+job.PoolID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[types.PoolSummary](t, rec)
	assert.Equal(t, 1, summary.CandidatesCount)
	require.NotNil(t, summary.LatestJob)
	assert.Equal(t, types.JobSuccess, summary.LatestJob.Status)

	// A new job reuses the ICP stored on the pool.
	rec = ts.doJSON(t, http.MethodPost, "/pools/"+job.PoolID.String()+"/autogen", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	next := decode[types.AutogenJob](t, rec)
	assert.Equal(t, []string{"Fintech"}, next.ICP.Industries)

	rec = ts.doJSON(t, http.MethodGet, "/pools/"+job.PoolID.String()+"/jobs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	jobs := decode[struct {
		Jobs []types.AutogenJob `json:"jobs"`
	}](t, rec)
	require.Len(t, jobs.Jobs, 2)
	assert.Equal(t, next.ID, jobs.Jobs[0].ID)

	// Jobs are scoped to the team.
	rec = ts.do(t, http.MethodGet, "/autogen/jobs/"+job.ID.String(), ts.tokenFor(t, uuid.New()), nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAutogen_CreateJobValidation(t *testing.T) {
	ts := newTestServer(t, Options{})
	rec := ts.doJSON(t, http.MethodPost, "/autogen/jobs", map[string]any{
		"name":   "No providers",
		"limits": map[string]int{"maxCompanies": 5, "maxContactsPerCompany": 2},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.doJSON(t, http.MethodPost, "/autogen/jobs", map[string]any{
		"name":      "Too many",
		"providers": map[string]bool{"serp": true},
		"limits":    map[string]int{"maxCompanies": 500, "maxContactsPerCompany": 2},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.doJSON(t, http.MethodPost, "/autogen/jobs/"+uuid.NewString()+"/run", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimit_Exceeded(t *testing.T) {
	ts := newTestServer(t, Options{RateLimit: &ratelimit.Config{
		Enabled:       true,
		DefaultLimit:  2,
		DefaultWindow: time.Minute,
	}})

	for i := 0; i < 2; i++ {
		rec := ts.doJSON(t, http.MethodGet, "/pools", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}
	rec := ts.doJSON(t, http.MethodGet, "/pools", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "rate_limit_exceeded", body["error"])

	// Health stays reachable.
	rec = ts.do(t, http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&types.ValidationError{Field: "name", Message: "required"}, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", &types.NotFoundError{Resource: "pool"}), http.StatusNotFound},
		{&types.ConflictError{Resource: "pool", Message: "busy"}, http.StatusConflict},
		{&types.TransitionError{From: types.JobSuccess, To: types.JobRunning}, http.StatusConflict},
		{autogen.ErrBusy, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), tt.err.Error())
	}
}

func ptr[T any](v T) *T { return &v }
