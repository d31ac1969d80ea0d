package llamacpp

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/harunnryd/sekisho/internal/errors"
)

// modelIndex maps model ids onto .gguf paths under a root. A directory root
// yields one id per subdirectory (or the root's own name for files directly
// under it); a file root yields a single id named after the file.
type modelIndex struct {
	root      string
	rootIsDir bool
	pathsByID map[string]string
	ids       []string
}

func buildModelIndex(root string) *modelIndex {
	idx := &modelIndex{root: root, pathsByID: make(map[string]string)}
	if root == "" {
		return idx
	}

	info, err := os.Stat(root)
	if err != nil {
		return idx
	}

	if !info.IsDir() {
		id := basenameNoExt(root)
		if id != "" {
			idx.pathsByID[id] = root
			idx.ids = []string{id}
		}
		return idx
	}

	idx.rootIsDir = true
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".gguf") {
			return nil
		}

		relDir, err := filepath.Rel(root, filepath.Dir(path))
		if err != nil {
			return nil
		}
		id := filepath.ToSlash(relDir)
		if id == "." || id == "" {
			id = filepath.Base(root)
			if id == "" || id == "." {
				id = basenameNoExt(path)
			}
		}
		if id == "" {
			return nil
		}

		if cur, ok := idx.pathsByID[id]; !ok || preferModelFile(path, cur) {
			idx.pathsByID[id] = path
		}
		return nil
	})

	idx.ids = make([]string, 0, len(idx.pathsByID))
	for id := range idx.pathsByID {
		idx.ids = append(idx.ids, id)
	}
	sort.Strings(idx.ids)
	return idx
}

// preferModelFile picks the first shard of a split model, then the
// lexically smallest name for stability.
func preferModelFile(candidate, current string) bool {
	c1 := isFirstShard(candidate)
	c2 := isFirstShard(current)
	if c1 != c2 {
		return c1
	}
	return filepath.Base(candidate) < filepath.Base(current)
}

func isFirstShard(path string) bool {
	return strings.Contains(basenameNoExt(path), "-00001-of-")
}

func basenameNoExt(path string) string {
	base := filepath.Base(path)
	if ext := filepath.Ext(base); ext != "" {
		return strings.TrimSuffix(base, ext)
	}
	return base
}

func (idx *modelIndex) resolve(requestedModel string) (string, error) {
	if len(idx.ids) == 0 {
		return "", errors.Upstream("llama_cpp: missing model path")
	}

	// "any" picks the sole model when exactly one is indexed.
	if requestedModel == "any" && len(idx.ids) == 1 {
		return idx.pathsByID[idx.ids[0]], nil
	}

	if !idx.rootIsDir {
		only := idx.ids[0]
		if requestedModel != "" && requestedModel != only {
			return "", errors.Wrap(errors.ErrUnknownModel, "llama_cpp: unknown model")
		}
		return idx.pathsByID[only], nil
	}

	path, ok := idx.pathsByID[requestedModel]
	if !ok {
		return "", errors.Wrap(errors.ErrUnknownModel, "llama_cpp: unknown model")
	}
	return path, nil
}
