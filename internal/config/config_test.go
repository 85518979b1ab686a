package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "paw.yaml")
	require.NoError(t, os.WriteFile(path, []byte(strings.TrimSpace(contents)), 0o644))
	return path
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
llm:
  endpoint: http://localhost:8000/v1
  extra_bogus_field: true
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
llm:
  endpoint: http://localhost:8000/v1
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "file", cfg.Session.Backend)
	assert.Equal(t, 0.7, cfg.Branch.TokenUtilizationThreshold)
	assert.Equal(t, 20, cfg.Branch.UserTurnCountThreshold)
	assert.Equal(t, CurrentVersion, cfg.Version)
}

func TestLoadRequiresLLMEndpoint(t *testing.T) {
	path := writeConfig(t, `session:
  backend: file
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "llm.endpoint")
}

func TestLoadRequiresPostgresDSNWhenBackendIsPostgres(t *testing.T) {
	path := writeConfig(t, `
llm:
  endpoint: http://localhost:8000/v1
session:
  backend: postgres
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dsn")
}

func TestLoadRejectsUnknownRecallBackend(t *testing.T) {
	path := writeConfig(t, `
llm:
  endpoint: http://localhost:8000/v1
recall:
  backend: redis
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "recall.backend")
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(basePath, []byte(`
llm:
  model: included-model
`), 0o644))

	mainPath := filepath.Join(dir, "paw.yaml")
	require.NoError(t, os.WriteFile(mainPath, []byte(`
$include: base.yaml
llm:
  endpoint: http://localhost:8000/v1
`), 0o644))

	cfg, err := Load(mainPath)
	require.NoError(t, err)
	assert.Equal(t, "included-model", cfg.LLM.Model)
	assert.Equal(t, "http://localhost:8000/v1", cfg.LLM.Endpoint)
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("PAW_TEST_MODEL", "env-model")
	path := writeConfig(t, `
llm:
  endpoint: http://localhost:8000/v1
  model: ${PAW_TEST_MODEL}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-model", cfg.LLM.Model)
}

func TestValidateVersionRejectsNewerThanBuild(t *testing.T) {
	err := ValidateVersion(CurrentVersion + 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "newer than this build")
}

func TestJSONSchemaReflectsConfigFields(t *testing.T) {
	data, err := JSONSchema()
	require.NoError(t, err)
	assert.Contains(t, string(data), "llm")
	assert.Contains(t, string(data), "branch")
}
