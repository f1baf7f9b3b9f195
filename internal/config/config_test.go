package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setTestEnv sets environment variables for testing and restores the
// previous values on cleanup.
func setTestEnv(t *testing.T, envVars map[string]string) {
	t.Helper()

	original := make(map[string]string)
	for key := range envVars {
		original[key] = os.Getenv(key)
	}
	for key, value := range envVars {
		os.Setenv(key, value)
	}
	t.Cleanup(func() {
		for key, value := range original {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	})
}

// minimalValidEnv returns the minimum environment variables for a
// valid Config with the default fs Store backend.
func minimalValidEnv() map[string]string {
	return map[string]string{
		"HARNESS_MODEL_BASE_URL":        "https://api.example.com/v1",
		"HARNESS_MODEL_API_KEY":         "test-key",
		"HARNESS_SUITE_DEFINITION_PATH": "./testdata/suite.yaml",
		"HARNESS_SYNTAXCHECK_COMMAND":   "python3 -m py_compile",
	}
}

func TestLoad_WithValidConfig(t *testing.T) {
	env := minimalValidEnv()
	env["HARNESS_SERVER_HTTP_PORT"] = "8081"
	env["HARNESS_LOG_LEVEL"] = "debug"
	env["HARNESS_LOG_FORMAT"] = "console"
	setTestEnv(t, env)

	cfg, overlay, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Nil(t, overlay)

	assert.Equal(t, 8081, cfg.Server.HTTPPort)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, StoreBackendFS, cfg.Store.Backend)
}

func TestLoad_AppliesDefaults(t *testing.T) {
	setTestEnv(t, minimalValidEnv())

	cfg, _, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 9090, cfg.Server.MetricsPort)
	assert.Equal(t, int64(4), cfg.Coordinator.Concurrency)
	assert.Equal(t, int64(2), cfg.Evaluator.Concurrency)
	assert.Equal(t, 1, cfg.Queue.DefaultQueueSize)
	assert.Equal(t, "./data", cfg.Store.FSDir)
	assert.Equal(t, SyntaxCheckBackendSubprocess, cfg.SyntaxCheck.Backend)
	assert.Equal(t, VariantBackendStatic, cfg.Variant.Backend)
}

func TestLoad_MissingModelBaseURLFails(t *testing.T) {
	setTestEnv(t, map[string]string{
		"HARNESS_MODEL_API_KEY": "test-key",
	})

	_, _, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.base_url")
}

func TestLoad_MissingAPIKeyFailsUnlessVaultEnabled(t *testing.T) {
	setTestEnv(t, map[string]string{
		"HARNESS_MODEL_BASE_URL": "https://api.example.com/v1",
	})

	_, _, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model.api_key")
}

func TestLoad_VaultEnabledRequiresAddressAndToken(t *testing.T) {
	env := map[string]string{
		"HARNESS_MODEL_BASE_URL":        "https://api.example.com/v1",
		"HARNESS_SECRETS_VAULT_ENABLED": "true",
	}
	setTestEnv(t, env)

	_, _, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secrets.vault_address")
	assert.Contains(t, err.Error(), "secrets.vault_token")
}

func TestLoad_VaultEnabledSatisfied(t *testing.T) {
	env := map[string]string{
		"HARNESS_MODEL_BASE_URL":        "https://api.example.com/v1",
		"HARNESS_SECRETS_VAULT_ENABLED": "true",
		"HARNESS_SECRETS_VAULT_ADDRESS": "https://vault.internal:8200",
		"HARNESS_SECRETS_VAULT_TOKEN":   "s.abc123",
		"HARNESS_SUITE_DEFINITION_PATH": "./testdata/suite.yaml",
		"HARNESS_SYNTAXCHECK_COMMAND":   "python3 -m py_compile",
	}
	setTestEnv(t, env)

	cfg, _, err := Load("")
	require.NoError(t, err)
	assert.Empty(t, cfg.ModelClient.APIKey)
}

func TestLoad_MissingSuiteDefinitionPathFails(t *testing.T) {
	setTestEnv(t, map[string]string{
		"HARNESS_MODEL_BASE_URL": "https://api.example.com/v1",
		"HARNESS_MODEL_API_KEY":  "test-key",
	})

	_, _, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "suite.definition_path")
}

func TestValidate_RejectsUnknownStoreBackend(t *testing.T) {
	env := minimalValidEnv()
	env["HARNESS_STORE_BACKEND"] = "bogus"
	setTestEnv(t, env)

	_, _, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.backend")
}

func TestValidate_PostgresBackendRequiresURL(t *testing.T) {
	env := minimalValidEnv()
	env["HARNESS_STORE_BACKEND"] = "postgres"
	setTestEnv(t, env)

	_, _, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.postgres_url")
}

func TestValidate_ObjectBackendRequiresCredentials(t *testing.T) {
	env := minimalValidEnv()
	env["HARNESS_STORE_BACKEND"] = "object"
	env["HARNESS_STORE_OBJECT_BUCKET"] = "harness-artifacts"
	setTestEnv(t, env)

	_, _, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.object_access_key_id")
}

func TestValidate_DockerSyntaxCheckRequiresImage(t *testing.T) {
	env := minimalValidEnv()
	env["HARNESS_SYNTAXCHECK_BACKEND"] = "docker"
	setTestEnv(t, env)

	_, _, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntaxcheck.docker_image")
}

func TestValidate_WebhookEnabledRequiresURL(t *testing.T) {
	env := minimalValidEnv()
	env["HARNESS_NOTIFY_WEBHOOK_ENABLED"] = "true"
	setTestEnv(t, env)

	_, _, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notify.webhook_url")
}

func TestValidate_InvalidLogLevelFails(t *testing.T) {
	env := minimalValidEnv()
	env["HARNESS_LOG_LEVEL"] = "verbose"
	setTestEnv(t, env)

	_, _, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}

func TestValidate_AggregatesMultipleErrors(t *testing.T) {
	setTestEnv(t, map[string]string{
		"HARNESS_LOG_LEVEL":  "verbose",
		"HARNESS_LOG_FORMAT": "xml",
	})

	_, _, err := Load("")
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.GreaterOrEqual(t, len(verr.Errors), 3)
}

func TestLoad_WithFileOverlay(t *testing.T) {
	setTestEnv(t, minimalValidEnv())

	dir := t.TempDir()
	path := dir + "/harness.yaml"
	require.NoError(t, os.WriteFile(path, []byte(`
suite_filter: ["basics", "concurrency"]
batch_sizes: [5, 10, 20]
variants:
  - name: baseline
    doc_ref: docs/baseline.md
    size_bytes: 512
`), 0o644))

	cfg, overlay, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	require.NotNil(t, overlay)

	assert.Equal(t, []string{"basics", "concurrency"}, overlay.SuiteFilter)
	assert.Equal(t, []int{5, 10, 20}, overlay.BatchSizes)
	require.Len(t, overlay.Variants, 1)
	assert.Equal(t, "baseline", overlay.Variants[0].Name)
}

func TestLoad_MissingFileOverlayFails(t *testing.T) {
	setTestEnv(t, minimalValidEnv())

	_, _, err := Load("/nonexistent/harness.yaml")
	require.Error(t, err)
}
