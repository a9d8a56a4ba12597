package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FilesystemTool gives workflows a workspace-scoped file store, e.g. for
// backup/export steps. Paths outside the root are rejected.
type FilesystemTool struct {
	Root string
}

func NewFilesystemTool(root string) *FilesystemTool {
	absRoot, _ := filepath.Abs(root)
	return &FilesystemTool{Root: absRoot}
}

func (f *FilesystemTool) Name() string {
	return "filesystem"
}

func (f *FilesystemTool) Description() string {
	return "Manage files in the local workspace: read, write, list, delete, and mkdir."
}

func (f *FilesystemTool) Execute(ctx context.Context, params map[string]any) (any, error) {
	command := stringParam(params, "command")
	filename := stringParam(params, "filename")
	content := stringParam(params, "content")

	if filename == "" {
		return nil, fmt.Errorf("filesystem requires a 'filename' parameter")
	}

	targetPath := filepath.Join(f.Root, filename)

	// Safety check: ensure targetPath is within f.Root
	rel, err := filepath.Rel(f.Root, targetPath)
	if err != nil || (len(rel) >= 2 && rel[:2] == "..") {
		return nil, fmt.Errorf("unsafe path attempt: %s", filename)
	}

	switch command {
	case "read":
		data, err := os.ReadFile(targetPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read file: %w", err)
		}
		return string(data), nil
	case "write":
		if err := os.MkdirAll(filepath.Dir(targetPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if err := os.WriteFile(targetPath, []byte(content), 0644); err != nil {
			return nil, fmt.Errorf("failed to write file: %w", err)
		}
		return fmt.Sprintf("Successfully wrote to %s", filename), nil
	case "list":
		entries, err := os.ReadDir(targetPath)
		if err != nil {
			return nil, fmt.Errorf("failed to list directory: %w", err)
		}
		var output string
		for _, entry := range entries {
			typeStr := "file"
			if entry.IsDir() {
				typeStr = "dir"
			}
			output += fmt.Sprintf("[%s] %s\n", typeStr, entry.Name())
		}
		if output == "" {
			return "Directory is empty", nil
		}
		return output, nil
	case "delete":
		if err := os.Remove(targetPath); err != nil {
			return nil, fmt.Errorf("failed to delete: %w", err)
		}
		return fmt.Sprintf("Successfully deleted %s", filename), nil
	case "mkdir":
		if err := os.MkdirAll(targetPath, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		return fmt.Sprintf("Successfully created directory %s", filename), nil
	default:
		return nil, fmt.Errorf("invalid command %q: use 'read', 'write', 'list', 'delete', or 'mkdir'", command)
	}
}
