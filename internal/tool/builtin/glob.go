package builtin

import (
	"regexp"
	"strings"
)

// skipDirs are pruned during every recursive walk.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"dist":         true,
	"build":        true,
	"target":       true,
	".venv":        true,
	"venv":         true,
}

const resultLimit = 100

// globToRegex translates one glob into an anchored regex: "*" stays within a
// path segment, "**" crosses segments, "?" matches one non-slash character.
func globToRegex(glob string) string {
	var out strings.Builder
	out.WriteByte('^')
	for i := 0; i < len(glob); i++ {
		c := glob[i]
		switch {
		case c == '*':
			if i+1 < len(glob) && glob[i+1] == '*' {
				out.WriteString(".*")
				i++
			} else {
				out.WriteString("[^/]*")
			}
		case c == '?':
			out.WriteString("[^/]")
		case c == '.':
			out.WriteString(`\.`)
		case c == '\\' || c == '/':
			out.WriteByte('/')
		case strings.ContainsRune("()[]{}+^$|", rune(c)):
			out.WriteByte('\\')
			out.WriteByte(c)
		default:
			out.WriteByte(c)
		}
	}
	out.WriteByte('$')
	return out.String()
}

// expandBraceGlob expands the first {a,b,c} alternation only.
func expandBraceGlob(pattern string) []string {
	open := strings.IndexByte(pattern, '{')
	if open < 0 {
		return []string{pattern}
	}
	close := strings.IndexByte(pattern[open+1:], '}')
	if close < 0 {
		return []string{pattern}
	}
	close += open + 1
	if close <= open+1 {
		return []string{pattern}
	}

	parts := strings.Split(pattern[open+1:close], ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, pattern[:open]+p+pattern[close+1:])
	}
	return out
}

func compileGlobs(pattern string) ([]*regexp.Regexp, error) {
	var out []*regexp.Regexp
	for _, g := range expandBraceGlob(pattern) {
		re, err := regexp.Compile(globToRegex(g))
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

// matchAnyGlob matches a slash-normalized relative path; an empty filter
// matches everything.
func matchAnyGlob(globs []*regexp.Regexp, rel string) bool {
	rel = strings.ReplaceAll(rel, `\`, "/")
	if len(globs) == 0 {
		return true
	}
	for _, re := range globs {
		if re.MatchString(rel) {
			return true
		}
	}
	return false
}
