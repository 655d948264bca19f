// Package extract derives structured task lists from semi-structured plan
// text. Parsing is heuristic by design: agent output drifts between runs,
// so the extractor accepts several spellings and ignores everything it
// does not recognize. Callers treat an empty result as "no structured
// plan available", never as an error.
package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hanoibanhcuon/automaker/internal/domain"
)

var (
	// Task lines after marker stripping:
	//   T001: Add config loader | File: internal/config/config.go
	//   Task 7: Wire the store
	taskLineRegex = regexp.MustCompile(`(?i)^t(?:ask)?\s*(\d+)\s*:\s*(.+)$`)

	phaseRegex = regexp.MustCompile(`^##\s+(.+)$`)
	fenceRegex = regexp.MustCompile("^```\\s*(\\S*)")

	// Leading list decoration: bullets, ordered-list numbering, checkboxes,
	// in any sensible combination ("- [x] 1. T001: ...").
	bulletRegex   = regexp.MustCompile(`^\s*[-*+]\s+`)
	numberRegex   = regexp.MustCompile(`^\s*\d+[.)]\s+`)
	checkboxRegex = regexp.MustCompile(`^\s*\[([ xX~!])\]\s*`)

	fileLabelRegex = regexp.MustCompile(`(?i)^file\s*:\s*`)
)

// Tasks parses plan text into an ordered task list. If the text contains a
// fenced block labeled as a task list, only that block is scanned;
// otherwise the whole text is scanned line by line. Duplicate ids are kept
// as scanned.
func Tasks(text string) []domain.Task {
	lines := strings.Split(text, "\n")
	if block, ok := fencedTaskBlock(lines); ok {
		lines = block
	}
	return scanLines(lines)
}

// fencedTaskBlock returns the contents of the first fenced code block
// whose info string names a task list, e.g. ```tasks.
func fencedTaskBlock(lines []string) ([]string, bool) {
	start := -1
	for i, line := range lines {
		matches := fenceRegex.FindStringSubmatch(strings.TrimSpace(line))
		if matches == nil {
			continue
		}
		if start >= 0 {
			return lines[start+1 : i], true
		}
		if strings.Contains(strings.ToLower(matches[1]), "task") {
			start = i
		}
	}
	return nil, false
}

func scanLines(lines []string) []domain.Task {
	var tasks []domain.Task
	phase := ""

	for _, line := range lines {
		if matches := phaseRegex.FindStringSubmatch(strings.TrimSpace(line)); matches != nil {
			phase = strings.TrimSpace(matches[1])
			continue
		}

		rest, checked := stripMarkers(line)
		matches := taskLineRegex.FindStringSubmatch(rest)
		if matches == nil {
			continue
		}

		num, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}

		desc, filePath := splitFileField(matches[2])
		if desc == "" {
			continue
		}

		status := domain.TaskPending
		if checked {
			status = domain.TaskCompleted
		}

		tasks = append(tasks, domain.Task{
			ID:          domain.TaskID(num),
			Description: desc,
			FilePath:    filePath,
			Phase:       phase,
			Status:      status,
		})
	}

	return tasks
}

// stripMarkers removes leading bullet/numbering/checkbox decoration and
// reports whether a checked checkbox was present.
func stripMarkers(line string) (string, bool) {
	s := strings.TrimSpace(line)
	checked := false
	for {
		switch {
		case bulletRegex.MatchString(s):
			s = bulletRegex.ReplaceAllString(s, "")
		case numberRegex.MatchString(s):
			s = numberRegex.ReplaceAllString(s, "")
		case checkboxRegex.MatchString(s):
			m := checkboxRegex.FindStringSubmatch(s)
			if m[1] == "x" || m[1] == "X" {
				checked = true
			}
			s = checkboxRegex.ReplaceAllString(s, "")
		default:
			return s, checked
		}
	}
}

// splitFileField splits "description | File: path" into its parts. Segments
// other than the file label are folded back into the description.
func splitFileField(s string) (desc, filePath string) {
	parts := strings.Split(s, "|")
	var descParts []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if fileLabelRegex.MatchString(trimmed) {
			filePath = strings.TrimSpace(fileLabelRegex.ReplaceAllString(trimmed, ""))
			continue
		}
		if trimmed != "" {
			descParts = append(descParts, trimmed)
		}
	}
	return strings.Join(descParts, " | "), filePath
}
