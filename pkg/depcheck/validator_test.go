package depcheck

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/servicecore/pkg/config"
	"github.com/openfroyo/servicecore/pkg/imports"
)

func manifest() *config.RequirementsManifest {
	return &config.RequirementsManifest{
		Services: []config.Requirement{
			{
				Service: "vector_store",
				Packages: config.PackageSet{
					Required: []config.Package{{Module: "qdrant", Install: "go get github.com/qdrant/go-client"}},
					Optional: []config.Package{{Module: "gpu"}},
				},
				Env: config.EnvSet{
					Required: []string{"QDRANT_URL"},
					Optional: []string{"QDRANT_API_KEY"},
				},
			},
			{
				Service: "jira",
				Env:     config.EnvSet{Required: []string{"JIRA_TOKEN"}},
			},
		},
	}
}

func importer(t *testing.T, available ...string) *imports.Manager {
	t.Helper()
	m := imports.NewManager()
	for _, module := range available {
		require.NoError(t, m.Register(module, func(context.Context) (any, error) { return module, nil }))
	}
	require.NoError(t, m.Register("gpu", func(context.Context) (any, error) { return nil, errors.New("no device") }))
	return m
}

func env(vars map[string]string) Option {
	return WithEnvLookup(func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	})
}

func TestValidateAll_AllPresent(t *testing.T) {
	v, err := New(manifest(), importer(t, "qdrant"), env(map[string]string{
		"QDRANT_URL":     "http://localhost:6333",
		"QDRANT_API_KEY": "secret",
		"JIRA_TOKEN":     "token",
	}))
	require.NoError(t, err)

	res := v.ValidateAll(context.Background())
	assert.True(t, res.IsValid)
	assert.Empty(t, res.MissingRequired)
	require.Len(t, res.MissingOptional, 1)
	assert.Equal(t, "gpu", res.MissingOptional[0].Name)
	assert.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], `optional package "gpu"`)
	require.Len(t, res.Services, 2)
	assert.True(t, res.Services[0].Valid)
}

func TestValidateAll_ReportsMissingRequired(t *testing.T) {
	v, err := New(manifest(), importer(t), env(map[string]string{
		"QDRANT_URL": "",
	}))
	require.NoError(t, err)

	res := v.ValidateAll(context.Background())
	assert.False(t, res.IsValid)

	var names []string
	for _, item := range res.MissingRequired {
		names = append(names, item.Service+"/"+item.Name)
	}
	assert.Equal(t, []string{"vector_store/qdrant", "vector_store/QDRANT_URL", "jira/JIRA_TOKEN"}, names)

	assert.False(t, res.Services[0].Valid)
	assert.False(t, res.Services[1].Valid)
	assert.Len(t, res.MissingOptional, 2)
	assert.Len(t, res.Warnings, 2)
}

func TestValidateAll_EmptyManifest(t *testing.T) {
	v, err := New(nil, nil)
	require.NoError(t, err)

	res := v.ValidateAll(context.Background())
	assert.True(t, res.IsValid)
	assert.Empty(t, res.Services)
}

func TestValidateService(t *testing.T) {
	v, err := New(manifest(), importer(t, "qdrant"), env(map[string]string{"JIRA_TOKEN": "t"}))
	require.NoError(t, err)

	report, err := v.ValidateService(context.Background(), "jira")
	require.NoError(t, err)
	assert.True(t, report.Valid)

	report, err = v.ValidateService(context.Background(), "vector_store")
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.Len(t, report.MissingRequired, 1)
	assert.Equal(t, KindEnv, report.MissingRequired[0].Kind)

	_, err = v.ValidateService(context.Background(), "unknown")
	assert.Error(t, err)
}

func TestWithDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("JIRA_TOKEN=from-file\nQDRANT_URL=http://qdrant\n"), 0o600))

	v, err := New(manifest(), importer(t, "qdrant"), env(nil), WithDotEnv(path))
	require.NoError(t, err)

	res := v.ValidateAll(context.Background())
	assert.True(t, res.IsValid)

	_, exported := os.LookupEnv("JIRA_TOKEN")
	assert.False(t, exported, ".env values must not leak into the process")

	_, err = New(manifest(), nil, WithDotEnv(filepath.Join(t.TempDir(), "missing.env")))
	assert.Error(t, err)
}
