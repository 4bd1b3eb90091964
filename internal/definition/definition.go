// Package definition loads workflow definitions from YAML files and Lua
// scripts and validates workflows before they are stored.
package definition

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/mpataki/textflow/internal/lua"
	"github.com/mpataki/textflow/internal/models"
)

// scriptTimeout bounds the evaluation of a single Lua definition.
const scriptTimeout = 5 * time.Second

type document struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Steps       []models.Step `yaml:"steps"`
}

// ParseYAML decodes a workflow document. Unknown keys are rejected.
func ParseYAML(data []byte) (*models.Workflow, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidWorkflow)
		}
		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}

	return &models.Workflow{
		Name:        doc.Name,
		Description: doc.Description,
		Steps:       doc.Steps,
	}, nil
}

// Loader reads definitions from disk. Lua scripts are evaluated with the
// registered action names available to them.
type Loader struct {
	actions []models.Action
	log     zerolog.Logger
}

func NewLoader(actions []models.Action, log zerolog.Logger) *Loader {
	return &Loader{actions: actions, log: log}
}

// Parse reads a .yaml, .yml or .lua definition. The name defaults to the
// file name without extension.
func (l *Loader) Parse(ctx context.Context, path string) (*models.Workflow, error) {
	if lua.IsScript(path) {
		ctx, cancel := context.WithTimeout(ctx, scriptTimeout)
		defer cancel()
		rt := lua.NewRuntime(l.actions, l.log)
		wf, err := rt.LoadFile(ctx, path)
		for _, msg := range rt.Logs() {
			l.log.Debug().Str("script", path).Msg(msg)
		}
		return wf, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	wf, err := ParseYAML(data)
	if err != nil {
		return nil, err
	}
	if wf.Name == "" {
		wf.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return wf, nil
}

// LoadAll reads every definition in dirs, keyed by workflow name. Later
// directories override earlier ones and missing directories are skipped.
func (l *Loader) LoadAll(ctx context.Context, dirs []string) (map[string]*models.Workflow, error) {
	workflows := make(map[string]*models.Workflow)

	for _, dir := range dirs {
		if err := l.loadFromDir(ctx, dir, workflows); err != nil {
			// Skip directories that don't exist
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
	}

	return workflows, nil
}

func (l *Loader) loadFromDir(ctx context.Context, dir string, workflows map[string]*models.Workflow) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !IsDefinition(entry.Name()) {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		wf, err := l.Parse(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}
		workflows[wf.Name] = wf
	}

	return nil
}

// IsDefinition reports whether name has a definition file extension.
func IsDefinition(name string) bool {
	switch filepath.Ext(name) {
	case ".yaml", ".yml", ".lua":
		return true
	}
	return false
}
