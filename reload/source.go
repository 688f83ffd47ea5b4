package reload

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ruleforge/engine/domain"
)

// Source loads the full rule set it's responsible for, on demand.
type Source interface {
	Load(ctx context.Context) ([]domain.Rule, error)
}

// FileSource loads rules from YAML files matched by Globs. Each matched
// file must decode to a YAML sequence of rule records. Recursive walks
// every directory under each glob's directory component, matching the
// glob's base-name pattern against each file found.
type FileSource struct {
	Globs     []string
	Recursive bool
}

// Load implements Source.
func (s FileSource) Load(_ context.Context) ([]domain.Rule, error) {
	files, err := s.matchFiles()
	if err != nil {
		return nil, err
	}

	var rules []domain.Rule
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("reload: reading %s: %w", f, err)
		}
		var fileRules []domain.Rule
		if err := yaml.Unmarshal(data, &fileRules); err != nil {
			return nil, fmt.Errorf("reload: parsing %s: %w", f, err)
		}
		rules = append(rules, fileRules...)
	}
	return rules, nil
}

func (s FileSource) matchFiles() ([]string, error) {
	var files []string
	for _, g := range s.Globs {
		if !s.Recursive {
			matches, err := filepath.Glob(g)
			if err != nil {
				return nil, fmt.Errorf("reload: invalid glob %q: %w", g, err)
			}
			files = append(files, matches...)
			continue
		}

		dir := filepath.Dir(g)
		pattern := filepath.Base(g)
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if matched, _ := filepath.Match(pattern, filepath.Base(path)); matched {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("reload: walking %q: %w", dir, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Adapter is the narrow storage seam an AdapterSource reads its rule blob
// through — the same shape as the persistence package's Load, kept local
// so this package doesn't have to depend on a concrete implementation.
type Adapter interface {
	Load(ctx context.Context, key string) ([]byte, error)
}

// AdapterSource loads rules from a single key in a storage adapter. The
// stored value must decode to a YAML sequence of rule records.
type AdapterSource struct {
	Adapter Adapter
	Key     string
}

// Load implements Source.
func (s AdapterSource) Load(ctx context.Context) ([]domain.Rule, error) {
	data, err := s.Adapter.Load(ctx, s.Key)
	if err != nil {
		return nil, fmt.Errorf("reload: loading adapter key %q: %w", s.Key, err)
	}
	var rules []domain.Rule
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("reload: parsing adapter key %q: %w", s.Key, err)
	}
	return rules, nil
}
