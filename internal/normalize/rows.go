package normalize

import (
	"fmt"
	"iter"
	"math"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Ledger1-ai/crm-official-sub000/internal/dedupe"
	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

var validate = validator.New()

// Row is one normalized data row. Candidate and Contact are nil when the row
// carries no company or person columns respectively.
type Row struct {
	Index     int
	Candidate *types.CandidateRecord
	Contact   *types.ContactRecord
	Errors    []string
}

// Corrupt reports whether the row failed validation.
func (r Row) Corrupt() bool {
	return len(r.Errors) > 0
}

// Dataset is a mapped table whose rows can be iterated any number of times.
type Dataset struct {
	table   *Table
	mapping *Mapping
}

// New maps the table's headers and returns a Dataset over its rows.
func New(t *Table) *Dataset {
	return &Dataset{table: t, mapping: MapColumns(t.Headers)}
}

// Mapping returns the column report.
func (d *Dataset) Mapping() types.ColumnMapping {
	return d.mapping.Report()
}

// Rows yields every non-blank data row in file order. Index is the zero-based
// position among data rows, so blank rows leave gaps rather than shifting later indexes.
func (d *Dataset) Rows() iter.Seq[Row] {
	return func(yield func(Row) bool) {
		for i, record := range d.table.Records {
			if isBlank(record) {
				continue
			}
			if !yield(d.normalizeRow(i, record)) {
				return
			}
		}
	}
}

func (d *Dataset) normalizeRow(index int, record []string) Row {
	row := Row{Index: index}
	m := d.mapping

	cand, candErrs := d.candidateFrom(record)
	row.Errors = append(row.Errors, candErrs...)

	contact := d.contactFrom(record)

	candidateKey := ""
	if cand != nil {
		candidateKey = dedupe.AssignCandidateKey(cand)
		if candidateKey == "" {
			row.Errors = append(row.Errors, "company has no resolvable domain or company name")
		}
	}

	if contact != nil {
		contact.CandidateKey = candidateKey
		if contact.Email != "" {
			if err := validate.Var(contact.Email, "email"); err != nil {
				row.Errors = append(row.Errors, fmt.Sprintf("invalid email %q", m.Value(record, FieldEmail)))
			}
		}
		switch {
		case candidateKey == "":
			row.Errors = append(row.Errors, "contact has no resolvable company (domain or company name)")
		case contact.Email == "" && contact.FullName == "":
			row.Errors = append(row.Errors, "contact has neither an email nor a name")
		}
		dedupe.AssignContactKey(contact)
	}

	if cand == nil && contact == nil {
		row.Errors = append(row.Errors, "row has no recognized lead fields")
	}

	if row.Corrupt() {
		return row
	}
	row.Candidate = cand
	row.Contact = contact
	return row
}

func (d *Dataset) candidateFrom(record []string) (*types.CandidateRecord, []string) {
	m := d.mapping
	var errs []string

	rawDomain := m.Value(record, FieldDomain)
	homepage := m.Value(record, FieldHomepageURL)
	company := strings.Join(strings.Fields(m.Value(record, FieldCompanyName)), " ")
	description := m.Value(record, FieldDescription)
	industry := strings.Join(strings.Fields(m.Value(record, FieldIndustry)), " ")
	tech := SplitList(m.Value(record, FieldTechStack))
	rawScore := m.Value(record, FieldScore)

	if rawDomain == "" && homepage == "" && company == "" && description == "" &&
		industry == "" && len(tech) == 0 && rawScore == "" {
		return nil, nil
	}

	rec := &types.CandidateRecord{
		CompanyName: company,
		HomepageURL: homepage,
		Description: description,
		Industry:    industry,
		TechStack:   tech,
		SourceMeta:  types.SourceMeta{Provider: types.SourceImport},
	}

	if rawDomain != "" {
		rec.Domain = dedupe.NormalizeDomain(rawDomain)
		if rec.Domain == "" {
			errs = append(errs, fmt.Sprintf("invalid domain %q", rawDomain))
		}
	} else if homepage != "" {
		rec.Domain = dedupe.NormalizeDomain(homepage)
	}

	if rawScore != "" {
		score, err := ParseScore(rawScore)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid score %q", rawScore))
		} else {
			rec.Score = &score
		}
	}

	return rec, errs
}

func (d *Dataset) contactFrom(record []string) *types.ContactRecord {
	m := d.mapping

	fullName := m.Value(record, FieldFullName)
	if fullName == "" {
		fullName = strings.TrimSpace(m.Value(record, FieldFirstName) + " " + m.Value(record, FieldLastName))
	}
	fullName = strings.Join(strings.Fields(fullName), " ")

	rec := &types.ContactRecord{
		FullName:   fullName,
		Title:      strings.Join(strings.Fields(m.Value(record, FieldTitle)), " "),
		Email:      dedupe.NormalizeEmail(strings.TrimPrefix(strings.ToLower(m.Value(record, FieldEmail)), "mailto:")),
		Phone:      m.Value(record, FieldPhone),
		ProfileURL: m.Value(record, FieldProfileURL),
	}
	if rec.FullName == "" && rec.Title == "" && rec.Email == "" && rec.Phone == "" && rec.ProfileURL == "" {
		return nil
	}
	return rec
}

// SplitList splits a tag cell on commas, semicolons, pipes or newlines and
// drops blanks and case-insensitive repeats.
func SplitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ';' || r == '|' || r == '\n'
	})
	var out []string
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.Join(strings.Fields(p), " ")
		if p == "" || seen[strings.ToLower(p)] {
			continue
		}
		seen[strings.ToLower(p)] = true
		out = append(out, p)
	}
	return out
}

// ParseScore accepts plain numbers and percentages ("87", "87.5", "87%").
func ParseScore(s string) (float64, error) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("score %q is not finite", s)
	}
	return v, nil
}
