package builtin

import (
	"os"
	"path/filepath"

	"github.com/harunnryd/sekisho/internal/tool"
)

// Register installs the default tool set. An empty workspaceRoot confines
// filesystem tools to the current working directory.
func Register(reg *tool.Registry, workspaceRoot string) {
	if workspaceRoot == "" {
		if cwd, err := os.Getwd(); err == nil {
			workspaceRoot = cwd
		}
	}
	if canon, err := canonicalize(workspaceRoot); err == nil {
		workspaceRoot = canon
	}
	workspaceRoot = filepath.ToSlash(workspaceRoot)

	reg.Register(echoSchema, echoHandler)
	reg.Register(addSchema, addHandler)
	reg.Register(timeSchema, timeHandler)
	reg.Register(todowriteSchema, todowriteHandler)
	reg.Register(invalidSchema, invalidHandler)

	registerWithAliases(reg, readSchema, readHandler(workspaceRoot), "readFile", "read_file")
	registerWithAliases(reg, writeSchema, writeHandler(workspaceRoot), "writeFile")
	registerWithAliases(reg, editSchema, editHandler(workspaceRoot), "editFile")
	reg.Register(globSchema, globHandler(workspaceRoot))
	reg.Register(grepSchema, grepHandler(workspaceRoot))
	reg.Register(listSchema, listHandler(workspaceRoot))

	registerUnsupported(reg)
}

func registerWithAliases(reg *tool.Registry, schema tool.Schema, handler tool.Handler, aliases ...string) {
	reg.Register(schema, handler)
	for _, alias := range aliases {
		s := schema
		s.Name = alias
		reg.Register(s, handler)
	}
}
