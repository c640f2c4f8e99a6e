package sourcing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/api/customsearch/v1"
	"google.golang.org/api/option"

	"github.com/Ledger1-ai/crm-official-sub000/internal/dedupe"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// SearchResult is one organic search hit.
type SearchResult struct {
	Title   string
	Link    string
	Snippet string
}

// Searcher runs a keyword search and returns up to num results in rank order.
type Searcher interface {
	Search(ctx context.Context, query string, num int) ([]SearchResult, error)
}

// GoogleSearcher implements Searcher with the Custom Search JSON API.
type GoogleSearcher struct {
	svc *customsearch.Service
	cx  string
}

// NewGoogleSearcher creates a GoogleSearcher for search engine cx.
func NewGoogleSearcher(ctx context.Context, apiKey, cx string) (*GoogleSearcher, error) {
	if apiKey == "" || cx == "" {
		return nil, errors.New("search API key and engine id are required")
	}
	svc, err := customsearch.NewService(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create customsearch service: %w", err)
	}
	return &GoogleSearcher{svc: svc, cx: cx}, nil
}

// Search implements Searcher. The API returns at most 10 results per call.
func (g *GoogleSearcher) Search(ctx context.Context, query string, num int) ([]SearchResult, error) {
	num = max(1, min(num, 10))
	resp, err := g.svc.Cse.List().Cx(g.cx).Q(query).Num(int64(num)).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}
	out := make([]SearchResult, 0, len(resp.Items))
	for _, item := range resp.Items {
		out = append(out, SearchResult{Title: item.Title, Link: item.Link, Snippet: item.Snippet})
	}
	return out, nil
}

// Directory, social and news sites that rank for company queries but are
// not companies themselves.
var aggregatorDomains = map[string]bool{
	"linkedin.com": true, "crunchbase.com": true, "wikipedia.org": true,
	"glassdoor.com": true, "indeed.com": true, "facebook.com": true,
	"twitter.com": true, "x.com": true, "youtube.com": true,
	"instagram.com": true, "g2.com": true, "capterra.com": true,
	"zoominfo.com": true, "bloomberg.com": true, "forbes.com": true,
	"yelp.com": true, "clutch.co": true, "medium.com": true,
	"reddit.com": true, "github.com": true, "builtin.com": true,
	"techcrunch.com": true, "angel.co": true, "wellfound.com": true,
	"google.com": true,
}

// SERPOptions configures a SERPProvider.
type SERPOptions struct {
	// QPS is the sustained query rate (default 2).
	QPS float64
	// Concurrency bounds in-flight searches (default 3).
	Concurrency int
	// ResultsPerQuery is requested from the searcher (default 10).
	ResultsPerQuery int
	Logger          *zap.Logger
}

// SERPProvider derives keyword searches from the ICP and reads companies
// from the organic results.
type SERPProvider struct {
	searcher    Searcher
	limiter     *rate.Limiter
	concurrency int
	perQuery    int
	logger      *zap.Logger
}

// NewSERPProvider creates a SERPProvider.
func NewSERPProvider(searcher Searcher, opts SERPOptions) *SERPProvider {
	if opts.QPS <= 0 {
		opts.QPS = 2
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.ResultsPerQuery <= 0 {
		opts.ResultsPerQuery = 10
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &SERPProvider{
		searcher:    searcher,
		limiter:     rate.NewLimiter(rate.Limit(opts.QPS), 1),
		concurrency: opts.Concurrency,
		perQuery:    opts.ResultsPerQuery,
		logger:      opts.Logger,
	}
}

// Name implements Provider.
func (p *SERPProvider) Name() string { return types.SourceSERP }

type searchOutcome struct {
	results []SearchResult
	err     error
}

// FindCandidates implements Provider. It fails only when every company
// query fails; contact lookups are best effort.
func (p *SERPProvider) FindCandidates(ctx context.Context, icp types.ICPConfig, quota Quota) (*Result, error) {
	queries := CompanyQueries(icp)
	result := &Result{Queries: make([]string, 0, len(queries))}
	for _, q := range queries {
		result.Queries = append(result.Queries, q.Text)
	}
	if len(queries) == 0 {
		return result, nil
	}

	texts := make([]string, len(queries))
	for i, q := range queries {
		texts[i] = q.Text
	}
	outcomes := p.searchAll(ctx, texts, p.perQuery)

	var companies []SourcedCompany
	var firstErr error
	failed := 0
	for i, q := range queries {
		o := outcomes[i]
		if o.err != nil {
			failed++
			if firstErr == nil {
				firstErr = o.err
			}
			p.logger.Warn("serp query failed", zap.String("query", q.Text), zap.Error(o.err))
			continue
		}
		for rank, r := range o.results {
			if c, ok := companyFromResult(r, rank, q); ok {
				companies = append(companies, c)
			}
		}
	}
	if failed == len(queries) {
		return result, &ProviderError{Provider: p.Name(), Err: firstErr}
	}

	result.Companies = finalize(companies, icp, quota)
	if len(icp.JobTitles) > 0 && quota.ContactsPerCompany > 0 {
		result.Queries = append(result.Queries, p.findContacts(ctx, result.Companies, icp.JobTitles, quota.ContactsPerCompany)...)
	}

	p.logger.Info("serp sourcing finished",
		zap.Int("queries", len(queries)),
		zap.Int("failed_queries", failed),
		zap.Int("companies", len(result.Companies)),
		zap.Int("contacts", result.ContactCount()),
	)
	return result, nil
}

// searchAll runs queries with bounded concurrency under the rate limit and
// returns outcomes in query order.
func (p *SERPProvider) searchAll(ctx context.Context, queries []string, num int) []searchOutcome {
	outcomes := make([]searchOutcome, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, q := range queries {
		g.Go(func() error {
			if err := p.limiter.Wait(gctx); err != nil {
				outcomes[i].err = err
				return nil
			}
			outcomes[i].results, outcomes[i].err = p.searcher.Search(gctx, q, num)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// findContacts searches profile pages per company and attaches the people
// found. It returns the queries issued.
func (p *SERPProvider) findContacts(ctx context.Context, companies []SourcedCompany, titles []string, perCompany int) []string {
	queries := make([]string, len(companies))
	idx := make([]int, 0, len(companies))
	for i, c := range companies {
		name := c.Candidate.CompanyName
		if name == "" {
			name = c.Candidate.Domain
		}
		if q := ContactQuery(name, titles); q != "" {
			queries[i] = q
			idx = append(idx, i)
		}
	}
	issued := make([]string, 0, len(idx))
	batch := make([]string, 0, len(idx))
	for _, i := range idx {
		batch = append(batch, queries[i])
	}
	outcomes := p.searchAll(ctx, batch, min(10, perCompany*2))
	for n, i := range idx {
		issued = append(issued, queries[i])
		o := outcomes[n]
		if o.err != nil {
			p.logger.Warn("serp contact query failed", zap.String("domain", companies[i].Candidate.Domain), zap.Error(o.err))
			continue
		}
		var contacts []types.ContactRecord
		for _, r := range o.results {
			if ct, ok := contactFromProfile(r); ok {
				contacts = append(contacts, ct)
			}
		}
		companies[i].Contacts = capContacts(append(companies[i].Contacts, contacts...), perCompany)
	}
	return issued
}

// companyFromResult turns an organic hit into a company. The score decays
// with rank: 100 for the top hit, 5 less per position, never below 10.
func companyFromResult(r SearchResult, rank int, q CompanyQuery) (SourcedCompany, bool) {
	u, err := url.Parse(strings.TrimSpace(r.Link))
	if err != nil || u.Host == "" {
		return SourcedCompany{}, false
	}
	domain := dedupe.NormalizeDomain(u.Host)
	if domain == "" || aggregatorDomains[domain] {
		return SourcedCompany{}, false
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	score := float64(max(10, 100-5*rank))
	return SourcedCompany{
		Candidate: types.CandidateRecord{
			Domain:      domain,
			CompanyName: CompanyNameFromTitle(r.Title),
			HomepageURL: scheme + "://" + u.Host,
			Description: strings.Join(strings.Fields(r.Snippet), " "),
			Industry:    q.Industry,
			Score:       &score,
			SourceMeta:  types.SourceMeta{Provider: types.SourceSERP, Query: q.Text},
		},
		Query: q.Text,
	}, true
}

var titleSeparators = []string{" | ", " - ", " – ", " — ", ": ", " · "}

// CompanyNameFromTitle takes the leading segment of a page title, which is
// usually the brand ("Acme | Payments for SMBs").
func CompanyNameFromTitle(title string) string {
	title = strings.Join(strings.Fields(title), " ")
	cut := len(title)
	for _, sep := range titleSeparators {
		if i := strings.Index(title, sep); i > 0 && i < cut {
			cut = i
		}
	}
	return strings.TrimSpace(title[:cut])
}

// contactFromProfile parses "Jane Doe - CTO - Acme | LinkedIn" style titles.
func contactFromProfile(r SearchResult) (types.ContactRecord, bool) {
	u, err := url.Parse(r.Link)
	if err != nil || !strings.Contains(u.Path, "/in/") {
		return types.ContactRecord{}, false
	}
	title := strings.Join(strings.Fields(r.Title), " ")
	if i := strings.LastIndex(title, " | "); i > 0 {
		title = title[:i]
	}
	parts := strings.Split(title, " - ")
	if len(parts) == 1 {
		parts = strings.Split(title, " – ")
	}
	name := strings.TrimSpace(parts[0])
	if name == "" || strings.EqualFold(name, "linkedin") {
		return types.ContactRecord{}, false
	}
	rec := types.ContactRecord{FullName: name, ProfileURL: r.Link}
	if len(parts) > 1 {
		rec.Title = strings.TrimSpace(parts[1])
	}
	return rec, true
}
