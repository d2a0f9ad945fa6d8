package request

import "strings"

type toolSpec struct {
	category   Category
	operation  Operation
	argKeys    []string
	defaultArg string
}

var (
	fileRead   = toolSpec{CategoryFilesystem, OpRead, []string{"file_path", "path", "notebook_path"}, ""}
	fileSearch = toolSpec{CategoryFilesystem, OpRead, []string{"path", "directory"}, "."}
	fileWrite  = toolSpec{CategoryFilesystem, OpWrite, []string{"file_path", "path", "notebook_path"}, ""}
	shellExec  = toolSpec{CategoryShell, OpExecute, []string{"command", "cmd", "script"}, ""}
	netAccess  = toolSpec{CategoryNetwork, OpAccess, []string{"url", "uri", "host", "endpoint"}, ""}
	envAccess  = toolSpec{CategoryEnv, OpAccess, []string{"name", "var", "variable", "key"}, ""}
)

// toolAliases maps lower-cased tool names to their canonical access shape.
var toolAliases = map[string]toolSpec{
	"read":         fileRead,
	"read_file":    fileRead,
	"view":         fileRead,
	"list_files":   fileSearch,
	"ls":           fileSearch,
	"glob":         fileSearch,
	"grep":         fileSearch,
	"notebookread": fileRead,

	"write":        fileWrite,
	"write_file":   fileWrite,
	"edit":         fileWrite,
	"edit_file":    fileWrite,
	"multiedit":    fileWrite,
	"create_file":  fileWrite,
	"notebookedit": fileWrite,

	"bash":        shellExec,
	"shell":       shellExec,
	"execute":     shellExec,
	"run_command": shellExec,
	"exec":        shellExec,

	"webfetch":     netAccess,
	"web_fetch":    netAccess,
	"http_request": netAccess,
	"fetch":        netAccess,
	"curl":         netAccess,

	"getenv":   envAccess,
	"read_env": envAccess,
	"env":      envAccess,
}

var capabilitySpec = toolSpec{CategoryCapability, OpInvoke, nil, ""}

func lookup(tool string) (toolSpec, bool) {
	key := strings.ToLower(tool)
	if spec, ok := toolAliases[key]; ok {
		return spec, true
	}
	if strings.HasPrefix(key, "mcp__") {
		return capabilitySpec, true
	}
	return toolSpec{}, false
}
