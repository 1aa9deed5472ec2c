// Package detector scans repositories for schema drift between the
// source repo and its consumers. A consumer still referencing retired
// field names after the source has migrated is out of sync.
package detector

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/cascadehq/cascade/internal/config"
	"github.com/cascadehq/cascade/internal/domain"
)

// Default field patterns for the demo schema migration. Overridable
// via the drift section of cascade.yaml.
var (
	DefaultOldFields = []string{"first_name", "last_name", "author_first_name", "author_last_name"}
	DefaultNewFields = []string{"full_name", "author_name"}
)

var codeExtensions = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".jsx": true, ".tsx": true,
	".go": true, ".html": true, ".css": true,
	".json": true, ".yaml": true, ".yml": true, ".md": true, ".txt": true,
}

var skipDirs = map[string]bool{
	".git": true, "__pycache__": true, "node_modules": true,
	".pytest_cache": true, "venv": true, "vendor": true,
}

const maxRefsPerRepo = 30 // refs retained per repo in JSON payloads

// FieldRef is one occurrence of a tracked field name in a file.
type FieldRef struct {
	File  string `json:"file"`
	Line  int    `json:"line"`
	Field string `json:"field"`
	Text  string `json:"text"`
}

// RepoAnalysis is the scan result for one repo.
type RepoAnalysis struct {
	RepoName     string
	Role         string
	Language     string
	OldRefs      []FieldRef
	NewRefs      []FieldRef
	FilesScanned int
}

func (a *RepoAnalysis) HasOld() bool { return len(a.OldRefs) > 0 }
func (a *RepoAnalysis) HasNew() bool { return len(a.NewRefs) > 0 }

// AffectedFiles returns the sorted set of files with old-field refs.
func (a *RepoAnalysis) AffectedFiles() []string {
	seen := map[string]bool{}
	for _, r := range a.OldRefs {
		seen[r.File] = true
	}
	out := make([]string, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// DisplayStatus is context-aware: a consumer holding old refs is only
// "out_of_sync" once the source has actually migrated.
func (a *RepoAnalysis) DisplayStatus(sourceUpdated bool) string {
	if domain.Role(a.Role) == domain.RoleSource {
		if a.HasNew() && !a.HasOld() {
			return "updated"
		}
		return "original"
	}
	if sourceUpdated {
		switch {
		case a.HasOld():
			return "out_of_sync"
		case a.HasNew():
			return "synced"
		default:
			return "clean"
		}
	}
	if a.HasOld() {
		return "current"
	}
	return "clean"
}

// Payload builds the JSON shape served by the dashboard.
func (a *RepoAnalysis) Payload(sourceUpdated bool) map[string]any {
	capRefs := func(refs []FieldRef) []FieldRef {
		if len(refs) > maxRefsPerRepo {
			return refs[:maxRefsPerRepo]
		}
		return refs
	}
	return map[string]any{
		"name":            a.RepoName,
		"role":            a.Role,
		"language":        a.Language,
		"status":          a.DisplayStatus(sourceUpdated),
		"files_scanned":   a.FilesScanned,
		"old_field_count": len(a.OldRefs),
		"new_field_count": len(a.NewRefs),
		"affected_files":  a.AffectedFiles(),
		"old_refs":        capRefs(a.OldRefs),
		"new_refs":        capRefs(a.NewRefs),
	}
}

// DriftReport aggregates per-repo analyses into a verdict.
type DriftReport struct {
	Status        string // "in_sync" or "drift_detected"
	Analyses      []*RepoAnalysis
	ChangeSummary string
	AffectedCount int
	TotalOldRefs  int
}

// Drifted reports whether the source migrated ahead of its consumers.
func (r *DriftReport) Drifted() bool { return r.Status == "drift_detected" }

// Payload builds the JSON shape served by the dashboard.
func (r *DriftReport) Payload() map[string]any {
	repos := make([]map[string]any, 0, len(r.Analyses))
	for _, a := range r.Analyses {
		repos = append(repos, a.Payload(r.Drifted()))
	}
	return map[string]any{
		"status":         r.Status,
		"change_summary": r.ChangeSummary,
		"affected_count": r.AffectedCount,
		"total_old_refs": r.TotalOldRefs,
		"repos":          repos,
	}
}

// Detector scans configured repos for drift between field patterns.
type Detector struct {
	oldPatterns map[string]*regexp.Regexp
	newPatterns map[string]*regexp.Regexp
}

// New builds a detector for the given field sets. Empty slices fall
// back to the defaults.
func New(fields config.DriftFields) *Detector {
	oldFields := fields.OldFields
	if len(oldFields) == 0 {
		oldFields = DefaultOldFields
	}
	newFields := fields.NewFields
	if len(newFields) == 0 {
		newFields = DefaultNewFields
	}
	return &Detector{
		oldPatterns: compilePatterns(oldFields),
		newPatterns: compilePatterns(newFields),
	}
}

func compilePatterns(fields []string) map[string]*regexp.Regexp {
	out := make(map[string]*regexp.Regexp, len(fields))
	for _, f := range fields {
		out[f] = regexp.MustCompile(`\b` + regexp.QuoteMeta(f) + `\b`)
	}
	return out
}

// ScanRepo walks one repo's tree and records every tracked field
// reference. Unreadable files are skipped.
func (d *Detector) ScanRepo(repo config.Repo) *RepoAnalysis {
	analysis := &RepoAnalysis{
		RepoName: repo.Name,
		Role:     repo.Role,
		Language: repo.Language,
	}
	root := repo.ResolvedPath()
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return analysis
	}

	filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			if skipDirs[entry.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !codeExtensions[filepath.Ext(path)] {
			return nil
		}

		analysis.FilesScanned++
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}

		rel, _ := filepath.Rel(root, path)
		for i, line := range strings.Split(string(data), "\n") {
			for name, pat := range d.oldPatterns {
				if pat.MatchString(line) {
					analysis.OldRefs = append(analysis.OldRefs, newRef(rel, i+1, line, name))
				}
			}
			for name, pat := range d.newPatterns {
				if pat.MatchString(line) {
					analysis.NewRefs = append(analysis.NewRefs, newRef(rel, i+1, line, name))
				}
			}
		}
		return nil
	})

	return analysis
}

func newRef(file string, line int, text, field string) FieldRef {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) > 120 {
		trimmed = trimmed[:120]
	}
	return FieldRef{File: file, Line: line, Field: field, Text: trimmed}
}

// Detect scans every configured repo and compares field usage between
// source and consumers.
func (d *Detector) Detect(cfg *config.Cascade) *DriftReport {
	analyses := make([]*RepoAnalysis, 0, len(cfg.Repos))
	for _, r := range cfg.Repos {
		analyses = append(analyses, d.ScanRepo(r))
	}

	var source *RepoAnalysis
	var consumers []*RepoAnalysis
	for _, a := range analyses {
		if source == nil && domain.Role(a.Role) == domain.RoleSource {
			source = a
		} else {
			consumers = append(consumers, a)
		}
	}

	if source == nil {
		return &DriftReport{
			Status:        "in_sync",
			Analyses:      analyses,
			ChangeSummary: "No source repo configured",
		}
	}

	if !(source.HasNew() && !source.HasOld()) {
		return &DriftReport{
			Status:        "in_sync",
			Analyses:      analyses,
			ChangeSummary: "All repositories are using the same schema. No drift detected.",
		}
	}

	var affected []*RepoAnalysis
	totalOld := 0
	for _, c := range consumers {
		if c.HasOld() {
			affected = append(affected, c)
			totalOld += len(c.OldRefs)
		}
	}

	if len(affected) == 0 {
		return &DriftReport{
			Status:        "in_sync",
			Analyses:      analyses,
			ChangeSummary: "Source updated and all consumers are already in sync.",
		}
	}

	names := make([]string, 0, len(affected))
	for _, c := range affected {
		names = append(names, c.RepoName)
	}
	summary := fmt.Sprintf(
		"The source schema has been updated, but %d consumer repo(s) (%s) still reference the old fields (%d references).",
		len(affected), strings.Join(names, ", "), totalOld)

	return &DriftReport{
		Status:        "drift_detected",
		Analyses:      analyses,
		ChangeSummary: summary,
		AffectedCount: len(affected),
		TotalOldRefs:  totalOld,
	}
}
