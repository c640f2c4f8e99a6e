package normalize

import (
	"strings"
	"unicode"

	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

// Field is a canonical lead field name.
type Field string

// Canonical fields recognized in uploaded files.
const (
	FieldDomain      Field = "domain"
	FieldHomepageURL Field = "homepageUrl"
	FieldCompanyName Field = "companyName"
	FieldDescription Field = "description"
	FieldIndustry    Field = "industry"
	FieldTechStack   Field = "techStack"
	FieldScore       Field = "score"
	FieldFullName    Field = "fullName"
	FieldFirstName   Field = "firstName"
	FieldLastName    Field = "lastName"
	FieldTitle       Field = "title"
	FieldEmail       Field = "email"
	FieldPhone       Field = "phone"
	FieldProfileURL  Field = "profileUrl"
)

// synonyms maps canonical header spellings (see headerKey) to fields.
var synonyms = map[string]Field{
	"domain":        FieldDomain,
	"companydomain": FieldDomain,
	"websitedomain": FieldDomain,
	"rootdomain":    FieldDomain,
	"emaildomain":   FieldDomain,

	"website":        FieldHomepageURL,
	"homepage":       FieldHomepageURL,
	"homepageurl":    FieldHomepageURL,
	"url":            FieldHomepageURL,
	"websiteurl":     FieldHomepageURL,
	"companywebsite": FieldHomepageURL,
	"companyurl":     FieldHomepageURL,
	"web":            FieldHomepageURL,

	"company":          FieldCompanyName,
	"companyname":      FieldCompanyName,
	"organization":     FieldCompanyName,
	"organisation":     FieldCompanyName,
	"organizationname": FieldCompanyName,
	"org":              FieldCompanyName,
	"account":          FieldCompanyName,
	"accountname":      FieldCompanyName,
	"employer":         FieldCompanyName,

	"description":        FieldDescription,
	"companydescription": FieldDescription,
	"about":              FieldDescription,
	"summary":            FieldDescription,

	"industry": FieldIndustry,
	"sector":   FieldIndustry,
	"vertical": FieldIndustry,

	"techstack":    FieldTechStack,
	"technologies": FieldTechStack,
	"technology":   FieldTechStack,
	"stack":        FieldTechStack,
	"tech":         FieldTechStack,
	"tools":        FieldTechStack,

	"score":     FieldScore,
	"leadscore": FieldScore,
	"fitscore":  FieldScore,
	"icpscore":  FieldScore,

	"name":        FieldFullName,
	"fullname":    FieldFullName,
	"contactname": FieldFullName,
	"contact":     FieldFullName,
	"person":      FieldFullName,

	"firstname": FieldFirstName,
	"givenname": FieldFirstName,
	"first":     FieldFirstName,

	"lastname":   FieldLastName,
	"surname":    FieldLastName,
	"familyname": FieldLastName,
	"last":       FieldLastName,

	"title":        FieldTitle,
	"jobtitle":     FieldTitle,
	"position":     FieldTitle,
	"role":         FieldTitle,
	"contacttitle": FieldTitle,

	"email":        FieldEmail,
	"emailaddress": FieldEmail,
	"workemail":    FieldEmail,
	"contactemail": FieldEmail,
	"mail":         FieldEmail,

	"phone":        FieldPhone,
	"phonenumber":  FieldPhone,
	"mobile":       FieldPhone,
	"mobilephone":  FieldPhone,
	"telephone":    FieldPhone,
	"tel":          FieldPhone,
	"contactphone": FieldPhone,
	"directphone":  FieldPhone,

	"linkedin":        FieldProfileURL,
	"linkedinurl":     FieldProfileURL,
	"linkedinprofile": FieldProfileURL,
	"profile":         FieldProfileURL,
	"profileurl":      FieldProfileURL,
}

// headerKey lower-cases a header and drops everything but letters and digits,
// so "Company Name", "company_name" and "COMPANY-NAME" compare equal.
func headerKey(header string) string {
	var sb strings.Builder
	for _, r := range strings.ToLower(header) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// LookupField returns the canonical field for a header, if any.
func LookupField(header string) (Field, bool) {
	f, ok := synonyms[headerKey(header)]
	return f, ok
}

// Mapping records which column feeds each canonical field.
type Mapping struct {
	columns  map[Field]int
	used     []string
	unmapped []string
}

// MapColumns matches headers against the synonym table. When two headers map
// to the same field the first one wins and the rest are reported unmapped.
func MapColumns(headers []string) *Mapping {
	m := &Mapping{
		columns:  make(map[Field]int),
		used:     []string{},
		unmapped: []string{},
	}
	for i, h := range headers {
		if h == "" {
			continue
		}
		f, ok := LookupField(h)
		if !ok {
			m.unmapped = append(m.unmapped, h)
			continue
		}
		if _, taken := m.columns[f]; taken {
			m.unmapped = append(m.unmapped, h)
			continue
		}
		m.columns[f] = i
		m.used = append(m.used, h)
	}
	return m
}

// Has reports whether some column maps to f.
func (m *Mapping) Has(f Field) bool {
	_, ok := m.columns[f]
	return ok
}

// Value returns the trimmed cell for f, or "" when unmapped or out of range.
func (m *Mapping) Value(record []string, f Field) string {
	i, ok := m.columns[f]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

// Report returns the used/unmapped header lists.
func (m *Mapping) Report() types.ColumnMapping {
	return types.ColumnMapping{
		UsedColumns:     append([]string{}, m.used...),
		UnmappedColumns: append([]string{}, m.unmapped...),
	}
}
