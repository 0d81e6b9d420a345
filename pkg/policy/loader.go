package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/boxctl/pkg/engine"
)

// decoders maps a policy file extension to its parser. Raw .rego files are
// policies on their own; .json and .yaml files are definitions that carry
// the Rego source plus name, severity and enabled flag.
var decoders = map[string]func(path string, data []byte) (*Policy, error){
	".rego": decodeRego,
	".json": func(path string, data []byte) (*Policy, error) {
		return decodeDefinition(path, data, json.Unmarshal)
	},
	".yaml": func(path string, data []byte) (*Policy, error) {
		return decodeDefinition(path, data, yaml.Unmarshal)
	},
	".yml": func(path string, data []byte) (*Policy, error) {
		return decodeDefinition(path, data, yaml.Unmarshal)
	},
}

// Loader reads policies given with --policy.
type Loader struct {
	logger zerolog.Logger
}

// NewLoader creates a policy loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{logger: logger.With().Str("component", "policy-loader").Logger()}
}

// LoadFromPaths loads every path in order. A path is a policy file or a
// directory searched recursively. Within a directory, files load in lexical
// order and unreadable ones are skipped; a named file that fails is an error.
func (l *Loader) LoadFromPaths(ctx context.Context, paths []string) ([]Policy, error) {
	var policies []Policy
	for _, root := range paths {
		files, explicit, err := policyFiles(ctx, root)
		if err != nil {
			return nil, fmt.Errorf("failed to load from path %s: %w", root, err)
		}
		for _, path := range files {
			p, err := l.loadFromFile(path)
			switch {
			case err == nil:
				policies = append(policies, *p)
			case explicit:
				return nil, fmt.Errorf("failed to load from path %s: %w", root, err)
			default:
				l.logger.Warn().Err(err).Str("path", path).Msg("Skipping policy file")
			}
		}
	}

	l.logger.Debug().Int("policies", len(policies)).Strs("paths", paths).Msg("Loaded policies")
	return policies, nil
}

// policyFiles expands root into the policy files below it. explicit is true
// when root named a single file.
func policyFiles(ctx context.Context, root string) (files []string, explicit bool, err error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, false, err
	}
	if !info.IsDir() {
		return []string{root}, true, nil
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, ok := decoders[filepath.Ext(path)]; ok && !d.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, false, err
}

func (l *Loader) loadFromFile(path string) (*Policy, error) {
	decode, ok := decoders[filepath.Ext(path)]
	if !ok {
		return nil, fmt.Errorf("unsupported policy file: %s", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := decode(path, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p.Source = path

	l.logger.Debug().Str("path", path).Str("policy", p.Name).Msg("Loaded policy")
	return p, nil
}

// decodeRego names the policy after its file and takes the description from
// the leading comment block. Raw Rego policies warn.
func decodeRego(path string, data []byte) (*Policy, error) {
	return &Policy{
		Name:        baseName(path),
		Description: leadingComment(string(data)),
		Rego:        string(data),
		Severity:    engine.SeverityWarning,
		Enabled:     true,
	}, nil
}

func decodeDefinition(path string, data []byte, unmarshal func([]byte, interface{}) error) (*Policy, error) {
	p := Policy{Enabled: true, Severity: engine.SeverityWarning}
	if err := unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid policy definition: %w", err)
	}
	if p.Name == "" {
		p.Name = baseName(path)
	}
	if strings.TrimSpace(p.Rego) == "" {
		return nil, fmt.Errorf("policy %s has no rego source", p.Name)
	}
	return &p, nil
}

func baseName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// leadingComment joins the # lines before the first statement.
func leadingComment(src string) string {
	var parts []string
	for _, line := range strings.Split(src, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		text, ok := strings.CutPrefix(line, "#")
		if !ok {
			break
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, " ")
}
