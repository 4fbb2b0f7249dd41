package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// SeedFile is the YAML bootstrap format for a tenant's settings tree. The
// nested tree is flattened to dot-delimited paths on load, so
//
//	domain_action:
//	  student.discharge:
//	    enabled: "true"
//
// becomes domain_action.student.discharge.enabled = "true".
type SeedFile struct {
	Tenant   string                 `yaml:"tenant"`
	Settings map[string]interface{} `yaml:"settings"`
}

// ResolvePathUnderBase resolves path relative to baseDir and returns an
// absolute path guaranteed to be under baseDir. Prevents traversal when the
// path is operator-supplied.
func ResolvePathUnderBase(baseDir, path string) (string, error) {
	dirAbs, err := filepath.Abs(filepath.Clean(baseDir))
	if err != nil {
		return "", fmt.Errorf("seed base directory: %w", err)
	}
	full := path
	if !filepath.IsAbs(path) {
		full = filepath.Join(dirAbs, path)
	}
	pathAbs, err := filepath.Abs(filepath.Clean(full))
	if err != nil {
		return "", fmt.Errorf("seed path: %w", err)
	}
	rel, err := filepath.Rel(dirAbs, pathAbs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("seed path outside base directory")
	}
	return pathAbs, nil
}

// LoadSeed reads a tenant seed file and writes every setting through the
// canonical-path-only Set. Returns the number of settings written.
func (s *Store) LoadSeed(ctx context.Context, path, baseDir string) (int, error) {
	if baseDir == "" {
		var err error
		baseDir, err = os.Getwd()
		if err != nil {
			return 0, fmt.Errorf("seed base directory: %w", err)
		}
	}
	safePath, err := ResolvePathUnderBase(baseDir, path)
	if err != nil {
		return 0, err
	}

	content, err := os.ReadFile(safePath)
	if err != nil {
		return 0, fmt.Errorf("reading seed file %s: %w", safePath, err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(content, &seed); err != nil {
		return 0, fmt.Errorf("parsing seed file %s: %w", safePath, err)
	}
	if seed.Tenant == "" {
		return 0, fmt.Errorf("seed file %s: tenant is required", safePath)
	}

	flat := map[string]string{}
	flatten("", seed.Settings, flat)

	paths := make([]string, 0, len(flat))
	for p := range flat {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if err := s.Set(ctx, seed.Tenant, p, flat[p]); err != nil {
			return 0, err
		}
	}

	log.Info().
		Str("tenant_id", seed.Tenant).
		Int("settings", len(flat)).
		Str("path", safePath).
		Msg("policy_seed_loaded")
	return len(flat), nil
}

func flatten(prefix string, node map[string]interface{}, out map[string]string) {
	for k, v := range node {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		switch val := v.(type) {
		case map[string]interface{}:
			flatten(path, val, out)
		case nil:
			// an empty node carries no setting
		default:
			out[path] = fmt.Sprintf("%v", val)
		}
	}
}
