// Package observability provides human-readable summaries for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/Ledger1-ai/crm-official-sub000/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for verbose mode
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stderr; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	for _, line := range strings.Split(content, "\n") {
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintPreview outputs the headline numbers of an import preview plus the
// first few corrupt rows.
func (p *Printer) PrintPreview(preview *types.Preview) {
	if preview == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Pool:     %s (%s)\n", preview.PoolName, preview.PoolMode)
	fmt.Fprintf(&sb, "Rows:     %d total, %d corrupt\n", preview.Stats.TotalRows, preview.Stats.CorruptRows)
	fmt.Fprintf(&sb, "Valid:    %d candidates, %d contacts\n", preview.Stats.ValidCandidates, preview.Stats.ValidContacts)
	fmt.Fprintf(&sb, "Creates:  %s\n", kindCounts(preview.Stats.Creates))
	fmt.Fprintf(&sb, "Updates:  %s\n", kindCounts(preview.Stats.Updates))
	fmt.Fprintf(&sb, "Dupes:    %s\n", kindCounts(preview.Stats.Duplicates))

	if len(preview.Mapping.UnmappedColumns) > 0 {
		fmt.Fprintf(&sb, "\nIgnored columns: %s\n", strings.Join(preview.Mapping.UnmappedColumns, ", "))
	}

	if len(preview.CorruptRows) > 0 {
		sb.WriteString("\nCorrupt rows:\n")
		count := min(len(preview.CorruptRows), maxItemsToShow)
		for i := 0; i < count; i++ {
			row := preview.CorruptRows[i]
			fmt.Fprintf(&sb, "  • row %d: %s\n", row.Index+1, strings.Join(row.Errors, "; "))
		}
		if len(preview.CorruptRows) > maxItemsToShow {
			fmt.Fprintf(&sb, "  ... and %d more\n", len(preview.CorruptRows)-maxItemsToShow)
		}
	}

	p.printBox("IMPORT PREVIEW", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintCommitResult outputs what a commit wrote and which records it skipped.
func (p *Printer) PrintCommitResult(result *types.CommitResult) {
	if result == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Pool:       %s\n", result.PoolID)
	fmt.Fprintf(&sb, "Created:    %s\n", counts(result.Created))
	fmt.Fprintf(&sb, "Updated:    %s\n", counts(result.Updated))
	fmt.Fprintf(&sb, "Unchanged:  %s\n", counts(result.Unchanged))

	writeIssues(&sb, "Stale", result.Stale)
	writeIssues(&sb, "Errors", result.Errors)

	p.printBox("COMMIT RESULT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintJob outputs an autogen job's state and, once finished, its counters.
func (p *Printer) PrintJob(job *types.AutogenJob) {
	if job == nil {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Job:     %s\n", job.ID)
	fmt.Fprintf(&sb, "Pool:    %s\n", job.PoolID)
	fmt.Fprintf(&sb, "Status:  %s\n", job.Status)
	if job.StartedAt != nil && job.FinishedAt != nil {
		fmt.Fprintf(&sb, "Took:    %s\n", job.FinishedAt.Sub(*job.StartedAt).Round(time.Millisecond))
	}
	if job.Error != "" {
		fmt.Fprintf(&sb, "Error:   %s\n", job.Error)
	}

	if c := job.Counters; c != nil {
		sb.WriteString("\nProviders:\n")
		names := make([]string, 0, len(c.Providers))
		for name := range c.Providers {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			pc := c.Providers[name]
			if !pc.Invoked {
				fmt.Fprintf(&sb, "  • %s: skipped\n", name)
				continue
			}
			fmt.Fprintf(&sb, "  • %s: %d candidates, %d contacts", name, pc.Candidates, pc.Contacts)
			if pc.Error != "" {
				fmt.Fprintf(&sb, " (%s)", pc.Error)
			}
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "\nCreated:    %s\n", counts(c.Created))
		fmt.Fprintf(&sb, "Updated:    %s\n", counts(c.Updated))
		fmt.Fprintf(&sb, "Unchanged:  %s\n", counts(c.Unchanged))
	}

	if len(job.Warnings) > 0 {
		sb.WriteString("\nWarnings:\n")
		for _, w := range job.Warnings {
			fmt.Fprintf(&sb, "  ⚠ %s\n", w)
		}
	}

	p.printBox("AUTOGEN JOB", strings.TrimSuffix(sb.String(), "\n"))
}

func kindCounts(c types.KindCounts) string {
	return fmt.Sprintf("%d candidates, %d contacts", c.Candidate, c.Contact)
}

func counts(c types.Counts) string {
	return fmt.Sprintf("%d candidates, %d contacts", c.Candidates, c.Contacts)
}

func writeIssues(sb *strings.Builder, label string, issues []types.RecordIssue) {
	if len(issues) == 0 {
		return
	}
	fmt.Fprintf(sb, "\n%s (%d):\n", label, len(issues))
	count := min(len(issues), maxItemsToShow)
	for i := 0; i < count; i++ {
		issue := issues[i]
		detail := issue.Reason
		if issue.Message != "" {
			detail = issue.Message
		}
		fmt.Fprintf(sb, "  • %s %s: %s\n", issue.Kind, issue.Key, detail)
	}
	if len(issues) > maxItemsToShow {
		fmt.Fprintf(sb, "  ... and %d more\n", len(issues)-maxItemsToShow)
	}
}
