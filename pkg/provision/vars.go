package provision

import (
	"bytes"
	"strings"
)

// Reserved variable names synthesized by the pipeline. Caller-supplied maps
// may override none of these; the pipeline writes them last.
const (
	VarPrimaryPort = "primaryPort"
	VarContainerID = "containerId"
	VarTimestamp   = "timestamp"
	VarToken       = "token"
)

// Render replaces every {{key}} placeholder present in vars. Placeholders
// for keys not in the map are left untouched.
func Render(s string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	for key, value := range vars {
		s = strings.ReplaceAll(s, "{{"+key+"}}", value)
	}
	return s
}

// isBinary reports whether data looks like binary content. Substitution
// only touches textual files; a NUL byte in the leading window marks the
// file as binary.
func isBinary(data []byte) bool {
	window := data
	if len(window) > 8192 {
		window = window[:8192]
	}
	return bytes.IndexByte(window, 0) >= 0
}
