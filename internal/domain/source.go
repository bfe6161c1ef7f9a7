package domain

import (
	"bytes"
	"fmt"
	"net/url"
	"path"
	"strings"
	"unicode/utf8"
)

// FileChange is one changed file of a pull request with its content at the
// head commit.
type FileChange struct {
	Path      string `json:"path"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch,omitempty"`
	Content   []byte `json:"-"`
	// Size is the full blob size; Content may be truncated above the
	// configured ceiling.
	Size int64 `json:"size"`
}

// PullRequest is what the fetch collaborator returns.
type PullRequest struct {
	Info  PullRequestInfo
	Files []FileChange
}

var languageByExt = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".cpp":   "cpp",
	".cc":    "cpp",
	".cxx":   "cpp",
	".c":     "c",
	".cs":    "csharp",
	".go":    "go",
	".rs":    "rust",
	".php":   "php",
	".rb":    "ruby",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".sh":    "bash",
	".bash":  "bash",
	".sql":   "sql",
	".html":  "html",
	".css":   "css",
	".json":  "json",
	".xml":   "xml",
	".yaml":  "yaml",
	".yml":   "yaml",
}

// DetectLanguage maps a path to a language name, "unknown" when the
// extension is not recognized.
func DetectLanguage(p string) string {
	if lang, ok := languageByExt[strings.ToLower(path.Ext(p))]; ok {
		return lang
	}
	return "unknown"
}

// IsAnalyzablePath reports whether the extension is one agents understand.
// XML is detected but not analyzed.
func IsAnalyzablePath(p string) bool {
	ext := strings.ToLower(path.Ext(p))
	if ext == ".xml" {
		return false
	}
	_, ok := languageByExt[ext]
	return ok
}

// IsBinary reports content that is not decodable text.
func IsBinary(content []byte) bool {
	head := content
	if len(head) > 8000 {
		head = head[:8000]
	}
	if bytes.IndexByte(head, 0) >= 0 {
		return true
	}
	if len(content) > len(head) {
		// a rune may straddle the head boundary
		for i := 0; i < utf8.UTFMax && len(head) > 0; i++ {
			if utf8.Valid(head) {
				return false
			}
			head = head[:len(head)-1]
		}
		return true
	}
	return !utf8.Valid(head)
}

// FileStats is context passed to agents alongside the file content.
type FileStats struct {
	TotalLines    int `json:"total_lines"`
	NonEmptyLines int `json:"non_empty_lines"`
	CommentLines  int `json:"comment_lines"`
	LongLines     int `json:"long_lines"`
	NestingDepth  int `json:"nesting_depth"`
}

var commentPrefixes = map[string][]string{
	"python": {"#"},
	"ruby":   {"#"},
	"bash":   {"#"},
	"yaml":   {"#"},
	"php":    {"//", "/*", "*", "#"},
	"sql":    {"--"},
}

func BuildFileStats(content string, language string) FileStats {
	var st FileStats
	if content == "" {
		return st
	}
	prefixes, ok := commentPrefixes[language]
	if !ok {
		prefixes = []string{"//", "/*", "*"}
	}
	depth := 0
	for _, line := range strings.Split(content, "\n") {
		st.TotalLines++
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		st.NonEmptyLines++
		if len(line) > 120 {
			st.LongLines++
		}
		for _, p := range prefixes {
			if strings.HasPrefix(trimmed, p) {
				st.CommentLines++
				break
			}
		}
		depth += strings.Count(line, "{") + strings.Count(line, "(")
		indent := (len(line) - len(strings.TrimLeft(line, " \t"))) / 4
		st.NestingDepth = max(st.NestingDepth, depth, indent)
		depth -= strings.Count(line, "}") + strings.Count(line, ")")
		if depth < 0 {
			depth = 0
		}
	}
	return st
}

// ParseRepoURL validates a GitHub repository URL and returns owner and name.
func ParseRepoURL(raw string) (owner, repo string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("invalid repository url: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", "", fmt.Errorf("invalid repository url: scheme must be http or https")
	}
	if !strings.EqualFold(u.Host, "github.com") && !strings.EqualFold(u.Host, "www.github.com") {
		return "", "", fmt.Errorf("invalid repository url: host must be github.com")
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid repository url: expected https://github.com/<owner>/<repo>")
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}
