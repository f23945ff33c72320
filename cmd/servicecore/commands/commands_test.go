package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const servicesYAML = `
services:
  - name: pattern_service
    implementation: builtin.pattern
    dependencies: [config, cache]
  - name: cache
    implementation: builtin.cache
    dependencies: [config]
  - name: config
    implementation: builtin.config
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCommand("test", "none", "today")
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	path := writeFile(t, "services.yaml", servicesYAML)

	out, err := run(t, "validate", "-c", path)
	require.NoError(t, err)
	assert.Contains(t, out, "OK: 3 service(s) valid")
	assert.Contains(t, out, "config -> cache -> pattern_service")
}

func TestValidateCommand_ReportsProblemsAsJSON(t *testing.T) {
	path := writeFile(t, "services.yaml", `
services:
  - name: a
    implementation: builtin.a
    dependencies: [b]
  - name: b
    implementation: builtin.b
    dependencies: [a]
  - name: c
    implementation: builtin.c
    dependencies: [ghost]
`)

	out, err := run(t, "validate", "-c", path, "--json")
	require.Error(t, err)

	var got validateOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.False(t, got.Valid)
	assert.Equal(t, []string{"a", "b", "c"}, got.Services)
	require.Len(t, got.Problems, 1)
	assert.Contains(t, got.Problems[0], "ghost")
	assert.Contains(t, got.Problems[0], "a -> b -> a")
}

func TestGraphCommand(t *testing.T) {
	path := writeFile(t, "services.yaml", servicesYAML)

	out, err := run(t, "graph", "-c", path, "--json")
	require.NoError(t, err)
	var got graphOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []string{"config", "cache", "pattern_service"}, got.Order)
	assert.Equal(t, []string{"pattern_service", "cache", "config"}, got.Shutdown)
	assert.Equal(t, [][]string{{"config"}, {"cache"}, {"pattern_service"}}, got.Levels)

	out, err = run(t, "graph", "-c", path, "--dot")
	require.NoError(t, err)
	assert.Contains(t, out, `"pattern_service" -> "cache"`)
}

func TestDepsCommand(t *testing.T) {
	reqPath := writeFile(t, "requirements.yaml", `
services:
  - service: jira
    env:
      required: [SERVICECORE_CLI_TEST_TOKEN]
`)
	envPath := writeFile(t, ".env", "SERVICECORE_CLI_TEST_TOKEN=abc\n")

	out, err := run(t, "deps", "-r", reqPath)
	require.Error(t, err)
	assert.Contains(t, out, "export SERVICECORE_CLI_TEST_TOKEN=<value>  # jira")

	out, err = run(t, "deps", "-r", reqPath, "--env-file", envPath)
	require.NoError(t, err)
	assert.Contains(t, out, "jira")
	assert.NotContains(t, out, "export")

	_, err = run(t, "deps")
	assert.Error(t, err)
}

func TestRegisterPlugins_RejectsMalformedArg(t *testing.T) {
	_, err := run(t, "deps", "-r", writeFile(t, "r.yaml", "services: []\n"), "--plugin", "missing-path")
	assert.Error(t, err)
}
