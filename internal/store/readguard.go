package store

import (
	"fmt"
	"regexp"
	"strings"
)

// dangerousKeywordPattern matches write and session keywords at word
// boundaries so that e.g. "RESET" does not match "SET".
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|REPLACE|DROP|CREATE|ALTER|TRUNCATE|GRANT|REVOKE|RENAME|COPY|ATTACH|DETACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|HANDLER|LOCK|UNLOCK|PRAGMA|SET|INTO|OUTFILE|DUMPFILE)\b`,
)

// blockCommentPattern matches C-style block comments, including MySQL's
// /*! ... */ executable comments.
var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// stripSQLComments removes block comments and --/# line comments.
func stripSQLComments(query string) string {
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	var result strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		if idx := strings.Index(line, "#"); idx >= 0 {
			line = line[:idx]
		}
		result.WriteString(line)
		result.WriteByte('\n')
	}
	return result.String()
}

// checkReadOnly accepts a single SELECT or WITH statement and nothing else.
func checkReadOnly(query string) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return fmt.Errorf("empty query")
	}
	if strings.Contains(trimmed, ";") {
		return fmt.Errorf("query must not contain semicolons")
	}

	stripped := strings.TrimSpace(stripSQLComments(trimmed))
	upper := strings.ToUpper(stripped)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return fmt.Errorf("only SELECT/WITH queries are allowed")
	}
	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return fmt.Errorf("query contains disallowed keyword: %s", strings.ToUpper(match))
	}
	return nil
}
