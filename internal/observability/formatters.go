// Package observability provides formatted output utilities for verbose CLI mode.
package observability

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jonathan/blog-autopilot/internal/pipeline"
	"github.com/jonathan/blog-autopilot/internal/types"
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
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintJob outputs a human-readable summary of an accepted job.
func (p *Printer) PrintJob(job *types.Job) {
	if job == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Topic:    %s\n", job.Topic))
	sb.WriteString(fmt.Sprintf("Mode:     %s\n", job.Schedule.Mode))
	if job.Schedule.At != nil {
		sb.WriteString(fmt.Sprintf("At:       %s\n", job.Schedule.At.Format(time.RFC3339)))
	}
	if job.CronExpr != "" {
		sb.WriteString(fmt.Sprintf("Cron:     %s\n", job.CronExpr))
	}
	if len(job.Categories) > 0 {
		sb.WriteString(fmt.Sprintf("Categories: %s\n", strings.Join(job.Categories, ", ")))
	}
	if len(job.Tags) > 0 {
		sb.WriteString(fmt.Sprintf("Tags:     %s\n", strings.Join(job.Tags, ", ")))
	}

	p.printBox("ACCEPTED JOB", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintDraft outputs the state of a content draft after generation.
func (p *Printer) PrintDraft(draft *types.ContentDraft) {
	if draft == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Title:    %s\n", draft.Title))
	sb.WriteString(fmt.Sprintf("Slug:     %s\n", draft.Slug))
	sb.WriteString(fmt.Sprintf("Words:    %d\n", len(strings.Fields(draft.BodyHTML))))

	if len(draft.Outline) > 0 {
		sb.WriteString("\nOutline:\n")
		count := min(len(draft.Outline), maxItemsToShow)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %s\n", draft.Outline[i]))
		}
		if len(draft.Outline) > maxItemsToShow {
			sb.WriteString(fmt.Sprintf("  ... and %d more\n", len(draft.Outline)-maxItemsToShow))
		}
	}

	if len(draft.SEOKeywords) > 0 {
		keywords := strings.Join(draft.SEOKeywords, ", ")
		if len(keywords) > 45 {
			keywords = keywords[:42] + "..."
		}
		sb.WriteString(fmt.Sprintf("\nKeywords: %s\n", keywords))
	}

	if len(draft.Images) > 0 {
		sb.WriteString(fmt.Sprintf("Images:   %d selected\n", len(draft.Images)))
	}

	p.printBox("CONTENT DRAFT", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintVerdict outputs the quality gate result.
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) PrintVerdict(verdict *types.QualityVerdict) {
	if verdict == nil {
		return
	}
	if verdict.Passed && len(verdict.Issues) == 0 {
		fmt.Fprintf(p.out, "┌%s┐\n", strings.Repeat("─", boxWidth-2))
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, fmt.Sprintf("✅ QUALITY GATE PASSED (%.0f)", verdict.Score))
		fmt.Fprintf(p.out, "└%s┘\n", strings.Repeat("─", boxWidth-2))
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Score: %.0f\n\n", verdict.Score))
	for i, issue := range verdict.Issues {
		if len(issue) > 45 {
			issue = issue[:42] + "..."
		}
		sb.WriteString(fmt.Sprintf("⚠ %s\n", issue))
		if i < len(verdict.Issues)-1 {
			sb.WriteString("\n")
		}
	}
	if len(verdict.Suggestions) > 0 {
		sb.WriteString("\nSuggestions:\n")
		count := min(len(verdict.Suggestions), 3)
		for i := 0; i < count; i++ {
			sb.WriteString(fmt.Sprintf("  • %s\n", verdict.Suggestions[i]))
		}
	}

	title := "QUALITY GATE ISSUES"
	if !verdict.Passed {
		title = "QUALITY GATE VETO"
	}
	p.printBox(title, strings.TrimSuffix(sb.String(), "\n"))
}

// PrintResult outputs the terminal state of a run.
func (p *Printer) PrintResult(result *pipeline.RunResult) {
	if result == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Status:   %s\n", result.Status))
	if result.FailureKind != "" {
		sb.WriteString(fmt.Sprintf("Kind:     %s\n", result.FailureKind))
	}
	if result.Detail != "" {
		detail := result.Detail
		if len(detail) > 45 {
			detail = detail[:42] + "..."
		}
		sb.WriteString(fmt.Sprintf("Detail:   %s\n", detail))
	}
	if result.PostRef != nil {
		sb.WriteString(fmt.Sprintf("Post:     #%d (%s)\n", result.PostRef.PostID, result.PostRef.Status))
		if result.PostRef.URL != "" {
			sb.WriteString(fmt.Sprintf("URL:      %s\n", result.PostRef.URL))
		}
	}

	title := "RUN FAILED"
	switch result.Status {
	case types.RunSucceeded:
		title = "RUN SUCCEEDED"
	case types.RunReplayable:
		title = "RUN REPLAYABLE"
	}
	p.printBox(title, strings.TrimSuffix(sb.String(), "\n"))
}
