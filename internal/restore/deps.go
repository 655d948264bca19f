// Package restore recovers a record's lost dependency edges. Evidence
// comes from backup snapshots of the record file and from the plan text;
// both sources are additive only, so the restorer never removes a
// dependency the record currently declares.
package restore

import (
	"regexp"
	"strings"

	"github.com/hanoibanhcuon/automaker/internal/domain"
	"github.com/hanoibanhcuon/automaker/internal/extract"
	"github.com/hanoibanhcuon/automaker/internal/recordstore"
)

var (
	// A dependencies label: optionally decorated (heading, bullet, quote),
	// optionally followed by an inline value after ':' or '='. Bare prose
	// mentioning "dependency" does not match.
	depsLabelRegex = regexp.MustCompile(`(?i)^[\s#>*-]*dependenc(?:y|ies)\s*(?:[:=]\s*(.*))?$`)
	bracketRegex   = regexp.MustCompile(`\[([^\]]*)\]`)
	idRegex        = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_-]*`)
	bulletRegex    = regexp.MustCompile(`^\s*[-*+]\s+(.+)$`)
	commentRegex   = regexp.MustCompile(`^\s*(?://|#|<!--)`)
)

// Evidence is the outcome of a dependency-restore analysis for one record.
// Candidates is the normalized union of backup and plan evidence minus the
// record's own id; Missing is the subset of candidates that are valid
// known ids the record no longer declares.
type Evidence struct {
	Candidates []string `json:"candidates"`
	Missing    []string `json:"missing"`
}

// Candidates combines independently gathered backup and plan dependency
// evidence into restore candidates. A pure set operation: trimmed,
// de-duplicated, self-references removed, insertion order preserved.
func Candidates(rec *domain.Record, knownIDs map[string]bool, backupDeps, planDeps []string) Evidence {
	seen := make(map[string]bool)
	ev := Evidence{Candidates: []string{}, Missing: []string{}}

	for _, id := range append(append([]string{}, backupDeps...), planDeps...) {
		id = strings.TrimSpace(id)
		if id == "" || id == rec.ID || seen[id] {
			continue
		}
		seen[id] = true
		ev.Candidates = append(ev.Candidates, id)

		if knownIDs[id] && !rec.HasDependency(id) {
			ev.Missing = append(ev.Missing, id)
		}
	}
	return ev
}

// BackupDeps unions the dependency arrays of a record's backup snapshots.
// Missing or corrupt backups contribute nothing: backups are best-effort
// evidence, never authoritative.
func BackupDeps(store *recordstore.Store, recordID string) []string {
	var deps []string
	for _, snapshot := range store.Backups(recordID) {
		deps = append(deps, snapshot.Dependencies...)
	}
	return deps
}

// PlanDeps scans plan text for declared dependencies: YAML frontmatter, a
// "dependencies" label followed by a bracketed or inline comma list, or a
// subsequent bulleted list terminated by a blank line, a comment line, or
// a non-bullet line.
func PlanDeps(text string) []string {
	if text == "" {
		return nil
	}

	fm, rest := extract.ParseFrontmatter([]byte(text))
	deps := append([]string{}, fm.Dependencies...)

	lines := strings.Split(string(rest), "\n")
	for i := 0; i < len(lines); i++ {
		matches := depsLabelRegex.FindStringSubmatch(lines[i])
		if matches == nil {
			continue
		}

		tail := strings.TrimSpace(matches[1])
		switch {
		case bracketRegex.MatchString(tail):
			deps = append(deps, splitIDs(bracketRegex.FindStringSubmatch(tail)[1])...)
		case tail != "":
			deps = append(deps, splitIDs(tail)...)
		default:
			// Bulleted list on the following lines.
			for j := i + 1; j < len(lines); j++ {
				line := lines[j]
				if strings.TrimSpace(line) == "" || commentRegex.MatchString(line) {
					break
				}
				bullet := bulletRegex.FindStringSubmatch(line)
				if bullet == nil {
					break
				}
				deps = append(deps, splitIDs(bullet[1])...)
			}
		}
	}
	return deps
}

func splitIDs(s string) []string {
	var ids []string
	for _, part := range strings.Split(s, ",") {
		if id := idRegex.FindString(part); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// MergeMissing merges restored dependencies into a record (union, not
// replace). An empty result clears the field entirely rather than writing
// an empty array.
func MergeMissing(rec *domain.Record, missing []string) {
	for _, id := range missing {
		if !rec.HasDependency(id) {
			rec.Dependencies = append(rec.Dependencies, id)
		}
	}
	if len(rec.Dependencies) == 0 {
		rec.Dependencies = nil
	}
}
