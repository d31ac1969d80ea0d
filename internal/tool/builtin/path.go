// Package builtin registers the default tool set: workspace-confined
// filesystem tools, small runtime helpers, and explicit placeholders for
// capabilities the local runtime refuses.
package builtin

import (
	"net/url"
	"path/filepath"
	"strings"

	"github.com/harunnryd/sekisho/internal/errors"
	"github.com/harunnryd/sekisho/internal/tool"
)

// NormalizeUnderRoot turns a path or file:// URI into an absolute path and
// confines it to the workspace root. file URIs get the localhost authority
// stripped, the Windows "/X:/" form unwrapped, and percent-escapes decoded.
func NormalizeUnderRoot(workspaceRoot, pathOrURI string) (string, error) {
	raw := pathOrURI
	if strings.HasPrefix(strings.ToLower(raw), "file://") {
		raw = raw[len("file://"):]
		raw = strings.TrimPrefix(raw, "localhost/")
		if len(raw) >= 3 && raw[0] == '/' && isAlpha(raw[1]) && raw[2] == ':' {
			raw = raw[1:]
		}
		if decoded, err := url.PathUnescape(raw); err == nil {
			raw = decoded
		}
	}

	p := filepath.FromSlash(raw)
	if workspaceRoot != "" && !filepath.IsAbs(p) {
		p = filepath.Join(workspaceRoot, p)
	}

	canon, err := canonicalize(p)
	if err != nil {
		return "", errors.Wrap(errors.ErrInvalidArguments, "invalid path")
	}

	if workspaceRoot != "" {
		root, err := canonicalize(workspaceRoot)
		if err != nil {
			return "", errors.Wrap(errors.ErrInternal, "invalid workspace root")
		}
		if canon != root && !strings.HasPrefix(canon, root+string(filepath.Separator)) {
			return "", errors.ErrOutsideWorkspace
		}
	}
	return canon, nil
}

// canonicalize resolves symlinks for the longest existing prefix and joins
// the rest back on, so paths that do not exist yet still normalize.
func canonicalize(p string) (string, error) {
	abs, err := filepath.Abs(p)
	if err != nil {
		return "", err
	}
	abs = filepath.Clean(abs)

	prefix := abs
	var rest []string
	for {
		resolved, err := filepath.EvalSymlinks(prefix)
		if err == nil {
			return filepath.Join(append([]string{resolved}, rest...)...), nil
		}
		parent := filepath.Dir(prefix)
		if parent == prefix {
			return abs, nil
		}
		rest = append([]string{filepath.Base(prefix)}, rest...)
		prefix = parent
	}
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// pathFailure maps a NormalizeUnderRoot error onto the tool-facing message.
func pathFailure(err error) tool.Result {
	if errors.IsCategory(err, errors.ErrOutsideWorkspace) {
		return tool.Failure("path is outside workspace root")
	}
	return tool.Failure("invalid path")
}
