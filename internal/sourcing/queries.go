package sourcing

import (
	"fmt"
	"strings"

	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// MaxCompanyQueries caps the query grid of one SERP run.
const MaxCompanyQueries = 12

// CompanyQuery is one generated company search and the ICP values behind it.
type CompanyQuery struct {
	Text     string
	Industry string
}

// CompanyQueries builds the industries x geographies x job titles grid of
// search phrases. Empty dimensions are omitted. With no industries, geos or
// titles, the tech stack is used instead.
func CompanyQueries(icp types.ICPConfig) []CompanyQuery {
	industries := orBlank(icp.Industries)
	geos := orBlank(icp.Geographies)
	titles := orBlank(icp.JobTitles)

	var out []CompanyQuery
	seen := make(map[string]bool)
	add := func(q CompanyQuery) bool {
		key := strings.ToLower(q.Text)
		if q.Text == "" || seen[key] {
			return true
		}
		seen[key] = true
		out = append(out, q)
		return len(out) < MaxCompanyQueries
	}

	tech := ""
	if len(icp.TechStack) > 0 {
		tech = "using " + icp.TechStack[0]
	}

	for _, industry := range industries {
		for _, geo := range geos {
			for _, title := range titles {
				if industry == "" && geo == "" && title == "" {
					continue
				}
				parts := []string{}
				if industry != "" {
					parts = append(parts, industry)
				}
				parts = append(parts, "companies")
				if geo != "" {
					parts = append(parts, "in "+geo)
				}
				if title != "" {
					parts = append(parts, title)
				}
				if tech != "" {
					parts = append(parts, tech)
				}
				if !add(CompanyQuery{Text: strings.Join(parts, " "), Industry: industry}) {
					return out
				}
			}
		}
	}

	if len(out) == 0 {
		for _, t := range icp.TechStack {
			if !add(CompanyQuery{Text: "companies using " + t}) {
				return out
			}
		}
	}
	return out
}

// ContactQuery builds the profile search for people with the ICP's titles at company.
func ContactQuery(company string, titles []string) string {
	if company == "" || len(titles) == 0 {
		return ""
	}
	quoted := make([]string, 0, len(titles))
	for _, t := range titles {
		quoted = append(quoted, fmt.Sprintf("%q", t))
	}
	return fmt.Sprintf("site:linkedin.com/in %q (%s)", company, strings.Join(quoted, " OR "))
}

func orBlank(vals []string) []string {
	if len(vals) == 0 {
		return []string{""}
	}
	return vals
}
