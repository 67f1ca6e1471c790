package functions

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"parley/internal/entrypoint"
)

// ReadFile returns the read_file entry point. Paths are resolved inside root
// and may not escape it.
func ReadFile(root string) entrypoint.AnnotatedFunction {
	root = expandHome(root)
	return entrypoint.AnnotatedFunction{
		Name:        "read_file",
		Description: "Read a text file below the configured root directory",
		Arguments: []entrypoint.ArgumentAnnotation{
			entrypoint.Arg("path", entrypoint.String("File path relative to the root directory")),
			entrypoint.OptionalArg("max_bytes", entrypoint.Integer("Maximum number of bytes to return (default and cap 10000)")),
		},
		Implementation: entrypoint.MustReflect(func(ctx context.Context, path string, maxBytes int) (string, error) {
			return readFile(root, path, maxBytes)
		}),
	}
}

func readFile(root, path string, maxBytes int) (string, error) {
	if path == "" {
		return "", errors.New("path is required")
	}
	r, err := os.OpenRoot(root)
	if err != nil {
		return "", fmt.Errorf("opening root: %w", err)
	}
	defer r.Close()

	rel := filepath.Clean(strings.TrimPrefix(path, "/"))
	slog.Debug("read_file: reading", "root", root, "path", rel)

	f, err := r.Open(rel)
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	defer f.Close()

	limit := maxBytes
	if limit <= 0 || limit > maxOutputBytes {
		limit = maxOutputBytes
	}
	data, err := io.ReadAll(io.LimitReader(f, int64(limit)+1))
	if err != nil {
		return "", fmt.Errorf("reading file: %w", err)
	}
	slog.Debug("read_file: done", "path", rel, "bytes", len(data))
	return truncate(data, limit), nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
