package scheduler

import (
	"path"
	"regexp"
	"sort"
	"strings"
)

// Extraction is heuristic: it may both miss and invent file references,
// which is why conflicts only annotate a batch.
var (
	pathToken = regexp.MustCompile("[A-Za-z0-9_@./~+-]+")

	knownExtensions = map[string]bool{
		".go": true, ".mod": true, ".sum": true,
		".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".mjs": true,
		".py": true, ".rs": true, ".java": true, ".kt": true, ".rb": true,
		".c": true, ".h": true, ".cc": true, ".cpp": true, ".hpp": true, ".swift": true,
		".md": true, ".txt": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true,
		".ini": true, ".cfg": true, ".xml": true, ".html": true, ".css": true, ".scss": true,
		".sql": true, ".sh": true, ".proto": true, ".tf": true, ".lock": true,
	}
)

// ExtractFiles returns the normalized file references in text, sorted
// and deduplicated.
func ExtractFiles(text string) []string {
	seen := make(map[string]bool)
	for _, tok := range pathToken.FindAllString(text, -1) {
		if f, ok := normalizeFileRef(tok); ok {
			seen[f] = true
		}
	}
	return sortedKeys(seen)
}

func normalizeFileRef(tok string) (string, bool) {
	tok = strings.TrimRight(tok, ".-+")
	tok = strings.TrimPrefix(tok, "./")
	if tok == "" || strings.HasPrefix(tok, "~") || strings.Contains(tok, "..") {
		return "", false
	}

	ext := strings.ToLower(path.Ext(tok))
	if knownExtensions[ext] {
		return path.Clean(tok), true
	}
	if strings.Contains(tok, "/") && ext != "" && !strings.HasPrefix(tok, "/") {
		return path.Clean(tok), true
	}
	return "", false
}

// taskFiles merges declared files with those mentioned in the description.
func taskFiles(description string, declared []string) []string {
	seen := make(map[string]bool)
	for _, f := range ExtractFiles(description) {
		seen[f] = true
	}
	for _, f := range declared {
		if f = strings.TrimSpace(f); f != "" {
			seen[path.Clean(strings.TrimPrefix(f, "./"))] = true
		}
	}
	return sortedKeys(seen)
}

// annotateConflicts marks every pair of tasks that share a file and
// returns the number of conflicting pairs.
func annotateConflicts(tasks []RankedTask) int {
	pairs := 0
	for i := range tasks {
		for j := i + 1; j < len(tasks); j++ {
			shared := intersect(tasks[i].Files, tasks[j].Files)
			if len(shared) == 0 {
				continue
			}
			pairs++
			tasks[i].ConflictsWith = append(tasks[i].ConflictsWith, tasks[j].ID)
			tasks[j].ConflictsWith = append(tasks[j].ConflictsWith, tasks[i].ID)
			tasks[i].ConflictingFiles = union(tasks[i].ConflictingFiles, shared)
			tasks[j].ConflictingFiles = union(tasks[j].ConflictingFiles, shared)
		}
	}
	return pairs
}

// intersect expects both inputs sorted.
func intersect(a, b []string) []string {
	var out []string
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

func union(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	for _, s := range a {
		seen[s] = true
	}
	for _, s := range b {
		seen[s] = true
	}
	return sortedKeys(seen)
}

func sortedKeys(set map[string]bool) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
