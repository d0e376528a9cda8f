package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalogFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoadCatalogFile(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	path := writeCatalogFile(t, `
namespaces:
  - name: analytics
    owner: data-platform
    description: Warehouse models
sources:
  - name: analytics-db
    type: POSTGRESQL
    connection_url: postgresql://warehouse:5432/analytics
tags:
  - name: PII
    description: Personally identifiable information
namespace_aliases:
  postgres_prod: postgresql://warehouse
dataset_patterns:
  - namespace: postgresql://warehouse
    pattern: "{schema}.{table}"
    canonical: "analytics.{schema}.{table}"
`)

	file, err := LoadCatalogFile(path)
	require.NoError(t, err)

	require.Len(t, file.Namespaces, 1)
	assert.Equal(t, NamespaceSeed{Name: "analytics", Owner: "data-platform", Description: "Warehouse models"},
		file.Namespaces[0])
	require.Len(t, file.Sources, 1)
	assert.Equal(t, "postgresql://warehouse:5432/analytics", file.Sources[0].ConnectionURL)
	require.Len(t, file.Tags, 1)
	assert.Equal(t, "PII", file.Tags[0].Name)
	assert.Equal(t, map[string]string{"postgres_prod": "postgresql://warehouse"}, file.NamespaceAliases)
	require.Len(t, file.DatasetPatterns, 1)
	assert.Equal(t, "analytics.{schema}.{table}", file.DatasetPatterns[0].Canonical)
}

func TestLoadCatalogFile_Optional(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	missing, err := LoadCatalogFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, missing.Namespaces)
	assert.NotNil(t, missing.NamespaceAliases)

	empty, err := LoadCatalogFile(writeCatalogFile(t, ""))
	require.NoError(t, err)
	assert.Empty(t, empty.Sources)

	aliasesOnly, err := LoadCatalogFile(writeCatalogFile(t, "tags: []\n"))
	require.NoError(t, err)
	assert.NotNil(t, aliasesOnly.NamespaceAliases)
}

func TestLoadCatalogFile_Malformed(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	_, err := LoadCatalogFile(writeCatalogFile(t, "namespaces: [unterminated\n"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse catalog file")
}

func TestLoadCatalogFileFromEnv(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv(CatalogFilePathEnvVar, writeCatalogFile(t, "tags:\n  - name: gold\n"))

	file, err := LoadCatalogFileFromEnv()
	require.NoError(t, err)
	require.Len(t, file.Tags, 1)
	assert.Equal(t, "gold", file.Tags[0].Name)
}
