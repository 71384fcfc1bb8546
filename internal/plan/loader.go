package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/status"
)

// Format is the encoding of a plan file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf picks the format from a file extension; anything that is not
// .yaml or .yml is read as JSON.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads and validates a plan file. When the file carries no ID the
// file name without extension is used.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewFileNotFoundError(path)
		}
		return nil, errors.Wrap(errors.ErrCodeFileReadFailed, "failed to read plan file "+path, err)
	}

	format := FormatOf(path)
	p, err := Parse(data, format)
	if err != nil {
		return nil, errors.NewFileUnmarshalError(path, strings.ToUpper(string(format)), err)
	}
	if p.ID == "" {
		p.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("validate plan %s: %w", p.ID, err)
	}
	return p, nil
}

// Parse decodes a plan without validating it.
func Parse(data []byte, format Format) (*Plan, error) {
	var p Plan
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &p)
	default:
		err = json.Unmarshal(data, &p)
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Save writes a plan in the format implied by path.
func Save(p *Plan, path string) error {
	var data []byte
	var err error
	switch FormatOf(path) {
	case FormatYAML:
		data, err = yaml.Marshal(p)
	default:
		data, err = json.MarshalIndent(p, "", "  ")
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeFileMarshal, "failed to marshal plan", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(errors.ErrCodeFileWriteFailed, "failed to write plan file "+path, err)
	}
	return nil
}

// DirSource finds plan descriptions named <planID>.yaml, .yml or .json in
// a directory. It lets a status manager initialize plans on first load.
type DirSource struct {
	Dir string
}

var _ status.Source = DirSource{}

// Path returns the plan file for planID, or a file-not-found error.
func (s DirSource) Path(planID string) (string, error) {
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(s.Dir, planID+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", errors.NewFileNotFoundError(filepath.Join(s.Dir, planID+".{yaml,yml,json}"))
}

// Load returns the validated plan description for planID.
func (s DirSource) Load(planID string) (*Plan, error) {
	path, err := s.Path(planID)
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Seeds implements status.Source.
func (s DirSource) Seeds(_ context.Context, planID string) ([]status.Seed, error) {
	p, err := s.Load(planID)
	if err != nil {
		return nil, err
	}
	return p.Seeds(), nil
}
