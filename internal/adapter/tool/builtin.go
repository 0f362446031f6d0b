package tool

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"agentcore/internal/domain"
)

const maxReadBytes = 1 << 20

// Builtin tool IDs.
const (
	BuiltinEcho     = "echo"
	BuiltinReadFile = "read_file"
	BuiltinListDir  = "list_dir"
)

// RegisterBuiltins registers the named built-in tools. File tools are
// confined to sandboxRoot.
func RegisterBuiltins(r *Registry, names []string, sandboxRoot string) error {
	var sb *Sandbox
	for _, name := range names {
		switch name {
		case BuiltinEcho:
			if err := r.Register(echoDefinition(), echo); err != nil {
				return err
			}
		case BuiltinReadFile, BuiltinListDir:
			if sb == nil {
				var err error
				if sb, err = NewSandbox(sandboxRoot); err != nil {
					return domain.WrapOp("RegisterBuiltins", err)
				}
			}
			def, fn := readFileDefinition(), readFile(sb)
			if name == BuiltinListDir {
				def, fn = listDirDefinition(), listDir(sb)
			}
			if err := r.Register(def, fn); err != nil {
				return err
			}
		default:
			return domain.NewSubSystemError("tool", "RegisterBuiltins", domain.ErrNotFound, name)
		}
	}
	return nil
}

func echoDefinition() domain.ToolDefinition {
	return domain.ToolDefinition{
		ID:          BuiltinEcho,
		Name:        "Echo",
		Description: "Returns its message unchanged",
		Category:    "utility",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"message": map[string]any{"type": "string"}},
			"required":   []any{"message"},
		},
	}
}

func echo(_ context.Context, input any, _ domain.ToolContext) (any, error) {
	m, _ := input.(map[string]any)
	return m["message"], nil
}

func readFileDefinition() domain.ToolDefinition {
	return domain.ToolDefinition{
		ID:          BuiltinReadFile,
		Name:        "Read file",
		Description: "Reads a text file inside the workspace",
		Category:    "filesystem",
		Permissions: []string{"fs:read"},
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
			"required":   []any{"path"},
		},
	}
}

func readFile(sb *Sandbox) domain.ToolFunc {
	return func(_ context.Context, input any, tc domain.ToolContext) (any, error) {
		path, err := stringField(input, "path")
		if err != nil {
			return nil, err
		}
		resolved, err := sb.Resolve(tc.WorkingDirectory, path)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(resolved)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()

		data, err := io.ReadAll(io.LimitReader(f, maxReadBytes+1))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		if len(data) > maxReadBytes {
			return nil, fmt.Errorf("read %s: file exceeds %d bytes", path, maxReadBytes)
		}
		return string(data), nil
	}
}

func listDirDefinition() domain.ToolDefinition {
	return domain.ToolDefinition{
		ID:          BuiltinListDir,
		Name:        "List directory",
		Description: "Lists entries of a directory inside the workspace",
		Category:    "filesystem",
		Permissions: []string{"fs:read"},
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"path": map[string]any{"type": "string"}},
		},
	}
}

// DirEntry is one list_dir result row.
type DirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

func listDir(sb *Sandbox) domain.ToolFunc {
	return func(_ context.Context, input any, tc domain.ToolContext) (any, error) {
		path, err := stringField(input, "path")
		if err != nil {
			path = "."
		}
		resolved, err := sb.Resolve(tc.WorkingDirectory, path)
		if err != nil {
			return nil, err
		}
		entries, err := os.ReadDir(resolved)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", path, err)
		}
		out := make([]DirEntry, 0, len(entries))
		for _, e := range entries {
			row := DirEntry{Name: e.Name(), IsDir: e.IsDir()}
			if info, err := e.Info(); err == nil && !e.IsDir() {
				row.Size = info.Size()
			}
			out = append(out, row)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
		return out, nil
	}
}

func stringField(input any, key string) (string, error) {
	m, ok := input.(map[string]any)
	if !ok {
		return "", fmt.Errorf("'%s' is required", key)
	}
	s, ok := m[key].(string)
	if !ok || s == "" {
		return "", fmt.Errorf("'%s' is required", key)
	}
	return s, nil
}
