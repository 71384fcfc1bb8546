package plan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/domain"
	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
)

const yamlPlan = `id: roadmap
title: Roadmap
tasks:
  - id: 1.1
    phase: "Phase 1: Foundation"
    description: Create the schema in internal/db/schema.sql
  - id: 1.10
    phase: "Phase 1: Foundation"
    description: Wire the store
    dependencies: [1.1]
    priority: HIGH
  - id: 2.1
    phase: "Phase 2: API"
    description: Add handlers
    dependencies: [1.10]
    files: [internal/api/handlers.go]
constraints:
  parallel:
    - [1, 2]
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFormatOf(t *testing.T) {
	tests := []struct {
		path string
		want Format
	}{
		{"plan.yaml", FormatYAML},
		{"plan.YML", FormatYAML},
		{"plan.json", FormatJSON},
		{"plan", FormatJSON},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatOf(tt.path))
		})
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeFile(t, t.TempDir(), "roadmap.yaml", yamlPlan)

	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "roadmap", p.ID)
	require.Len(t, p.Tasks, 3)
	// Unquoted numeric IDs keep their literal text.
	assert.Equal(t, domain.TaskID("1.10"), p.Tasks[1].ID)
	assert.Equal(t, []domain.TaskID{"1.10"}, p.Tasks[2].Dependencies)
	assert.Equal(t, "HIGH", p.Tasks[1].Priority)
	require.NotNil(t, p.Constraints)
	assert.True(t, p.Constraints.ArePhasesParallel(1, 2))
}

func TestLoad_JSONDefaultsIDToFileName(t *testing.T) {
	content := `{"tasks":[{"id":"1.1","phase":"Phase 1","description":"only task"}]}`
	path := writeFile(t, t.TempDir(), "single.json", content)

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "single", p.ID)
	assert.Nil(t, p.Constraints)
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(dir, "nope.yaml"))
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeFileNotFound))
	})

	t.Run("malformed JSON", func(t *testing.T) {
		path := writeFile(t, dir, "bad.json", "{not json")
		_, err := Load(path)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeFileUnmarshal))
	})

	t.Run("invalid graph", func(t *testing.T) {
		content := `{"tasks":[{"id":"1.1","phase":"Phase 1","description":"x","dependencies":["1.1"]}]}`
		path := writeFile(t, dir, "cycle.json", content)
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "validate plan cycle")
	})
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	original, err := Load(writeFile(t, dir, "roadmap.yaml", yamlPlan))
	require.NoError(t, err)

	for _, name := range []string{"copy.json", "copy.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, Save(original, path))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, original.Tasks, loaded.Tasks)
		})
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "roadmap.yaml", yamlPlan)
	src := DirSource{Dir: dir}

	seeds, err := src.Seeds(context.Background(), "roadmap")
	require.NoError(t, err)
	require.Len(t, seeds, 3)
	assert.Equal(t, domain.TaskID("1.1"), seeds[0].ID)

	_, err = src.Seeds(context.Background(), "other")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeFileNotFound))
}
