// Package functions provides the built-in entry points exposed to the model.
package functions

import (
	"fmt"

	"parley/internal/entrypoint"
)

const maxOutputBytes = 10_000

type Config struct {
	// FileRoot confines read_file. read_file is not registered when empty.
	FileRoot string
	// Searcher backs web_search. web_search is not registered when nil.
	Searcher Searcher
	// Fetch enables fetch_url.
	Fetch bool
}

// Register adds the built-in entry points enabled by cfg to reg.
func Register(reg *entrypoint.Registry, cfg Config) error {
	fns := []entrypoint.AnnotatedFunction{CurrentTime()}
	if cfg.FileRoot != "" {
		fns = append(fns, ReadFile(cfg.FileRoot))
	}
	if cfg.Searcher != nil {
		fns = append(fns, WebSearch(cfg.Searcher))
	}
	if cfg.Fetch {
		fns = append(fns, FetchURL(nil))
	}
	for _, fn := range fns {
		if err := reg.Register("builtin."+fn.Name, fn); err != nil {
			return fmt.Errorf("registering %s: %w", fn.Name, err)
		}
	}
	return nil
}

func truncate(b []byte, limit int) string {
	if limit <= 0 || limit > maxOutputBytes {
		limit = maxOutputBytes
	}
	if len(b) > limit {
		return string(b[:limit]) + "\n... (truncated)"
	}
	return string(b)
}
