// pkg/search/lucene.go

package search

import (
	"regexp"
	"strings"
)

// Reserved characters in the Lucene regexp syntax, including the optional
// operators OpenSearch enables by default.
const luceneReserved = `.?+*|{}[]()"\#@&<>~`

// EscapeLuceneRegex backslash-escapes every Lucene regexp metacharacter.
func EscapeLuceneRegex(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(luceneReserved, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var backslashRun = regexp.MustCompile(`\\+`)

// EscapePath normalizes every run of backslashes in a path to exactly count
// backslashes. Logs in the wild escape Windows paths anywhere between once
// and four times, so searches match on a normalized form instead.
func EscapePath(path string, count int) string {
	return backslashRun.ReplaceAllString(path, strings.Repeat(`\`, count))
}

var driveLetter = regexp.MustCompile(`^[A-Za-z]:[/\\]`)

// PathSep guesses the path separator convention used by a path.
func PathSep(path string) string {
	if strings.ContainsRune(path, '\\') || driveLetter.MatchString(path) {
		return `\`
	}
	return "/"
}

// IsAbsPath reports whether a path is absolute in either unix or windows
// notation, including drive-letter paths.
func IsAbsPath(path string) bool {
	if path == "" {
		return false
	}
	if path[0] == '/' || path[0] == '\\' {
		return true
	}
	return driveLetter.MatchString(path)
}

// BaseName returns the last path component, treating both separators as
// valid.
func BaseName(path string) string {
	if idx := strings.LastIndexAny(path, `/\`); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

var commandLineToken = regexp.MustCompile(`"[^"]*"|'[^']*'|\S+`)

// TokenizeCommandLine splits a command line into tokens, keeping quoted
// strings together.
func TokenizeCommandLine(commandLine string) []string {
	return commandLineToken.FindAllString(commandLine, -1)
}

// TrimUnescapedQuotes removes a single leading and trailing quote character
// unless the trailing one is backslash-escaped.
func TrimUnescapedQuotes(s string) string {
	if len(s) > 0 && (s[0] == '"' || s[0] == '\'') {
		s = s[1:]
	}
	if n := len(s); n > 0 && (s[n-1] == '"' || s[n-1] == '\'') {
		if n < 2 || s[n-2] != '\\' {
			s = s[:n-1]
		}
	}
	return s
}
