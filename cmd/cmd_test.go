package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schemaYAML = `
name: acme
baseUrl: https://jobs.acme.example
urls: ["/engineering", "/sales"]
listSelector: li.job
listingLink: a
jobDataSelectors:
  jobName:
    selector: h1
  companyName:
    selector: .company
`

func writeFixture(t *testing.T) (cfgPath string) {
	t.Helper()
	dir := t.TempDir()
	schemaDir := filepath.Join(dir, "schemas")
	require.NoError(t, os.Mkdir(schemaDir, 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(schemaDir, "acme.yaml"), []byte(schemaYAML), 0o600))
	cfgPath = filepath.Join(dir, "config.yaml")
	cfg := "api:\n  base_url: https://api.example\nschemas:\n  dir: " + schemaDir + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))
	return cfgPath
}

func TestSchemasCommandListsSites(t *testing.T) {
	cfgPath := writeFixture(t)
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"schemas", "--config", cfgPath, "--env-file", ""})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Equal(t, "acme\tclick-more\thttps://jobs.acme.example\t/engineering,/sales\n", out.String())
}

func TestInvalidConfigFailsBeforeSubcommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("browser:\n  driver: lynx\n"), 0o600))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"schemas", "--config", cfgPath, "--env-file", ""})
	require.Error(t, root.ExecuteContext(context.Background()))
}

func TestLoadEnvFile(t *testing.T) {
	require.NoError(t, loadEnvFile(""))
	require.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("JOBCRAWLER_TEST_ENV_FILE=loaded\n"), 0o600))
	t.Setenv("JOBCRAWLER_TEST_ENV_FILE", "")
	require.NoError(t, os.Unsetenv("JOBCRAWLER_TEST_ENV_FILE"))
	require.NoError(t, loadEnvFile(path))
	assert.Equal(t, "loaded", os.Getenv("JOBCRAWLER_TEST_ENV_FILE"))
}

func TestResolveRuntimeWithoutConfig(t *testing.T) {
	_, err := resolveRuntime(context.Background())
	require.Error(t, err)
}
