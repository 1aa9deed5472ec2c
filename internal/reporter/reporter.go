// Package reporter renders human-readable summaries of completed
// propagation runs.
package reporter

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cascadehq/cascade/internal/domain"
	"github.com/charmbracelet/lipgloss"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"
)

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	skipStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	headStyle = lipgloss.NewStyle().Bold(true)
)

// Summary renders the full post-run report: a status table followed
// by per-repo details.
func Summary(result *domain.RunResult) string {
	var b strings.Builder

	b.WriteString(headStyle.Render("CASCADE PROPAGATION SUMMARY"))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Change:   %s\n", truncate(result.ChangeDescription, 80))
	fmt.Fprintf(&b, "Duration: %s\n", result.Duration().Round(time.Second))
	fmt.Fprintf(&b, "Repos:    %d total, %d succeeded, %d failed\n\n",
		len(result.Repos), result.SuccessCount(), result.FailCount())

	WriteTable(&b, result)

	for _, repo := range result.Repos {
		b.WriteString("\n")
		b.WriteString(repoDetail(repo))
	}
	return b.String()
}

// WriteTable writes the compact per-repo status table.
func WriteTable(w io.Writer, result *domain.RunResult) {
	table := newTable([]string{"Repo", "Language", "Status", "Files", "Branch"}, w)
	for _, repo := range result.Repos {
		files := ""
		if len(repo.FilesChanged) > 0 {
			files = fmt.Sprintf("%d", len(repo.FilesChanged))
		}
		_ = table.Append([]string{
			repo.RepoName,
			repo.Language,
			statusCell(repo),
			files,
			repo.Branch,
		})
	}
	_ = table.Render()
}

func newTable(headers []string, w io.Writer) *tablewriter.Table {
	cfg := tablewriter.Config{
		Header: tw.CellConfig{
			Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
			Formatting: tw.CellFormatting{AutoFormat: tw.Off},
		},
		Row: tw.CellConfig{
			Alignment: tw.CellAlignment{Global: tw.AlignLeft},
		},
		MaxWidth: 100,
		Behavior: tw.Behavior{TrimSpace: tw.Off},
	}
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(cfg),
		tablewriter.WithHeader(headers),
		tablewriter.WithRenderer(renderer.NewBlueprint()),
		tablewriter.WithRendition(tw.Rendition{
			Symbols: tw.NewSymbols(tw.StyleMarkdown),
			Borders: tw.Border{Left: tw.On, Top: tw.Off, Right: tw.On, Bottom: tw.Off},
		}),
		tablewriter.WithRowAutoWrap(tw.WrapNone),
	)
}

func statusCell(repo *domain.RepoState) string {
	switch {
	case repo.Success():
		return okStyle.Render("OK")
	case repo.Status == domain.StatusSkipped:
		return skipStyle.Render("SKIP")
	default:
		return failStyle.Render("FAIL")
	}
}

func repoDetail(repo *domain.RepoState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s)\n", headStyle.Render(repo.RepoName), repo.Language)
	if repo.Branch != "" {
		fmt.Fprintf(&b, "  Branch: %s\n", repo.Branch)
	}
	if n := len(repo.FilesChanged); n > 0 {
		fmt.Fprintf(&b, "  Files changed: %d\n", n)
		for i, f := range repo.FilesChanged {
			if i == 5 {
				fmt.Fprintf(&b, "    ... and %d more\n", n-5)
				break
			}
			fmt.Fprintf(&b, "    - %s\n", f)
		}
	}
	if repo.TestPassed {
		b.WriteString("  Tests: passed\n")
	} else if repo.TestOutput != "" {
		fmt.Fprintf(&b, "  Tests: FAILED (retries: %d)\n", repo.RetriesUsed)
	}
	if repo.Error != "" {
		fmt.Fprintf(&b, "  Error: %s\n", truncate(repo.Error, 80))
	}
	if repo.ReviewSummary != "" {
		preview := strings.ReplaceAll(repo.ReviewSummary, "\n", " ")
		fmt.Fprintf(&b, "  Review: %s\n", truncate(preview, 100))
	}
	if repo.PRURL != "" {
		fmt.Fprintf(&b, "  PR: %s\n", repo.PRURL)
	}
	fmt.Fprintf(&b, "  Duration: %s\n", repo.Duration().Round(time.Second))
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
