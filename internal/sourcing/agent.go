package sourcing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ledger1-ai/crm-official-sub000/internal/fetch"
	"github.com/Ledger1-ai/crm-official-sub000/internal/llm"
	"github.com/Ledger1-ai/crm-official-sub000/internal/prompts"
	"github.com/Ledger1-ai/crm-official-sub000/internal/schemas"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

const promptFile = "sourcing.json"

// HomepageFetcher loads a company homepage for enrichment.
type HomepageFetcher interface {
	Homepage(ctx context.Context, url string) (*fetch.Homepage, error)
}

// AgentOptions configures an AgentProvider.
type AgentOptions struct {
	Tier llm.ModelTier
	// Homepages enables enrichment of companies the model left undescribed.
	Homepages HomepageFetcher
	// EnrichConcurrency bounds parallel homepage fetches (default 4).
	EnrichConcurrency int
	Logger            *zap.Logger
}

// AgentProvider asks an LLM to interpret the ICP and propose companies.
type AgentProvider struct {
	client    llm.Client
	tier      llm.ModelTier
	homepages HomepageFetcher
	enrichN   int
	logger    *zap.Logger
}

// NewAgentProvider creates an AgentProvider.
func NewAgentProvider(client llm.Client, opts AgentOptions) *AgentProvider {
	if opts.Tier == "" {
		opts.Tier = llm.TierStandard
	}
	if opts.EnrichConcurrency <= 0 {
		opts.EnrichConcurrency = 4
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &AgentProvider{
		client:    client,
		tier:      opts.Tier,
		homepages: opts.Homepages,
		enrichN:   opts.EnrichConcurrency,
		logger:    opts.Logger,
	}
}

// Name implements Provider.
func (p *AgentProvider) Name() string { return types.SourceAgenticAI }

type agentOutput struct {
	Companies []agentCompany `json:"companies"`
	Queries   []string       `json:"queries"`
}

type agentCompany struct {
	Name        string         `json:"name"`
	Domain      string         `json:"domain"`
	Description string         `json:"description"`
	Industry    string         `json:"industry"`
	TechStack   []string       `json:"techStack"`
	Score       *float64       `json:"score"`
	Contacts    []agentContact `json:"contacts"`
}

type agentContact struct {
	FullName   string `json:"fullName"`
	Title      string `json:"title"`
	Email      string `json:"email"`
	ProfileURL string `json:"profileUrl"`
}

// FindCandidates implements Provider.
func (p *AgentProvider) FindCandidates(ctx context.Context, icp types.ICPConfig, quota Quota) (*Result, error) {
	summary := DescribeICP(icp)
	result := &Result{Queries: []string{summary}}

	prompt, err := BuildAgentPrompt(icp, quota)
	if err != nil {
		return result, &ProviderError{Provider: p.Name(), Err: err}
	}

	raw, err := p.client.GenerateJSON(ctx, prompt, p.tier)
	if err != nil {
		return result, &ProviderError{Provider: p.Name(), Err: err}
	}
	if err := schemas.Validate(schemas.AgentCompanies, raw); err != nil {
		return result, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("invalid agent output: %w", err)}
	}

	var out agentOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return result, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("failed to decode agent output: %w", err)}
	}

	for _, q := range out.Queries {
		if q = strings.TrimSpace(q); q != "" {
			result.Queries = append(result.Queries, q)
		}
	}

	companies := make([]SourcedCompany, 0, len(out.Companies))
	for _, c := range out.Companies {
		companies = append(companies, c.toSourced(summary))
	}
	result.Companies = finalize(companies, icp, quota)

	p.enrich(ctx, result.Companies)

	p.logger.Info("agent sourcing finished",
		zap.Int("proposed", len(out.Companies)),
		zap.Int("kept", len(result.Companies)),
		zap.Int("contacts", result.ContactCount()),
	)
	return result, nil
}

func (c agentCompany) toSourced(query string) SourcedCompany {
	cand := types.CandidateRecord{
		Domain:      strings.TrimSpace(c.Domain),
		CompanyName: strings.Join(strings.Fields(c.Name), " "),
		Description: strings.TrimSpace(c.Description),
		Industry:    strings.Join(strings.Fields(c.Industry), " "),
		TechStack:   cleanTags(c.TechStack),
		SourceMeta:  types.SourceMeta{Provider: types.SourceAgenticAI, Query: query},
	}
	if c.Score != nil {
		cand.Score = clampScore(*c.Score)
	}
	contacts := make([]types.ContactRecord, 0, len(c.Contacts))
	for _, ct := range c.Contacts {
		contacts = append(contacts, types.ContactRecord{
			FullName:   ct.FullName,
			Title:      ct.Title,
			Email:      ct.Email,
			ProfileURL: strings.TrimSpace(ct.ProfileURL),
		})
	}
	return SourcedCompany{Candidate: cand, Contacts: contacts, Query: query}
}

// enrich fills missing descriptions and industries from company homepages.
// Failures only cost the enrichment.
func (p *AgentProvider) enrich(ctx context.Context, companies []SourcedCompany) {
	if p.homepages == nil {
		return
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.enrichN)
	for i := range companies {
		cand := &companies[i].Candidate
		if cand.Description != "" && cand.Industry != "" {
			continue
		}
		g.Go(func() error {
			hp, err := p.homepages.Homepage(gctx, cand.HomepageURL)
			if err != nil {
				p.logger.Debug("homepage enrichment failed", zap.String("domain", cand.Domain), zap.Error(err))
				return nil
			}
			description, industry := hp.Description, ""
			if (description == "" || cand.Industry == "") && hp.Text != "" {
				if d, ind, err := p.summarize(gctx, hp.Text); err == nil {
					if description == "" {
						description = d
					}
					industry = ind
				} else {
					p.logger.Debug("homepage summary failed", zap.String("domain", cand.Domain), zap.Error(err))
				}
			}
			if cand.Description == "" {
				cand.Description = description
			}
			if cand.Industry == "" {
				cand.Industry = industry
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (p *AgentProvider) summarize(ctx context.Context, text string) (string, string, error) {
	prompt, err := prompts.Render(promptFile, "describe-company", map[string]string{"Text": text})
	if err != nil {
		return "", "", err
	}
	raw, err := p.client.GenerateJSON(ctx, prompt, llm.TierLite)
	if err != nil {
		return "", "", err
	}
	if err := schemas.Validate(schemas.CompanySummary, raw); err != nil {
		return "", "", err
	}
	var out struct {
		Description string `json:"description"`
		Industry    string `json:"industry"`
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return "", "", err
	}
	return strings.TrimSpace(out.Description), strings.Join(strings.Fields(out.Industry), " "), nil
}

// BuildAgentPrompt renders the company discovery prompt for icp.
func BuildAgentPrompt(icp types.ICPConfig, quota Quota) (string, error) {
	return prompts.Render(promptFile, "find-companies", map[string]string{
		"Industries":         listOrAny(icp.Industries),
		"CompanySizes":       listOrAny(icp.CompanySizes),
		"Geographies":        listOrAny(icp.Geographies),
		"TechStack":          listOrAny(icp.TechStack),
		"JobTitles":          listOrAny(icp.JobTitles),
		"ExcludedDomains":    listOrNone(icp.ExcludedDomains),
		"Notes":              orNone(icp.Notes),
		"MaxCompanies":       strconv.Itoa(quota.Companies),
		"ContactsPerCompany": strconv.Itoa(quota.ContactsPerCompany),
	})
}

// DescribeICP is the audit string recorded for an agent run.
func DescribeICP(icp types.ICPConfig) string {
	parts := []string{"agent:"}
	add := func(label string, vals []string) {
		if len(vals) > 0 {
			parts = append(parts, label+"="+strings.Join(vals, "|"))
		}
	}
	add("industries", icp.Industries)
	add("sizes", icp.CompanySizes)
	add("geos", icp.Geographies)
	add("tech", icp.TechStack)
	add("titles", icp.JobTitles)
	return strings.Join(parts, " ")
}

func listOrAny(vals []string) string {
	if len(vals) == 0 {
		return "any"
	}
	return strings.Join(vals, ", ")
}

func listOrNone(vals []string) string {
	if len(vals) == 0 {
		return "none"
	}
	return strings.Join(vals, ", ")
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.Join(strings.Fields(t), " ")
		if t == "" || seen[strings.ToLower(t)] {
			continue
		}
		seen[strings.ToLower(t)] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
