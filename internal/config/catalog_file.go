package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultCatalogFilePath is the default location of the catalog file.
const DefaultCatalogFilePath = ".catalog.yaml"

// CatalogFilePathEnvVar names the environment variable overriding the catalog file path.
const CatalogFilePathEnvVar = "CATALOG_CONFIG_PATH"

type (
	// CatalogFile is the startup catalog configuration: reference data seeded through the
	// regular upserts, and aliases applied to datasets during lineage ingestion.
	//
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	CatalogFile struct {
		Namespaces []NamespaceSeed `yaml:"namespaces"`
		Sources    []SourceSeed    `yaml:"sources"`
		Tags       []TagSeed       `yaml:"tags"`

		// NamespaceAliases maps tool-specific dataset namespaces to canonical namespaces.
		NamespaceAliases map[string]string `yaml:"namespace_aliases"`

		// DatasetPatterns rewrite dataset names. First match wins.
		DatasetPatterns []DatasetPattern `yaml:"dataset_patterns"`
	}

	// NamespaceSeed is a namespace created at startup.
	NamespaceSeed struct {
		Name        string `yaml:"name"`
		Owner       string `yaml:"owner"`
		Description string `yaml:"description"`
	}

	// SourceSeed is a source created at startup.
	//
	//nolint:tagliatelle // snake_case is intentional for YAML config files
	SourceSeed struct {
		Name          string `yaml:"name"`
		Type          string `yaml:"type"`
		ConnectionURL string `yaml:"connection_url"`
		Description   string `yaml:"description"`
	}

	// TagSeed is a tag created at startup.
	TagSeed struct {
		Name        string `yaml:"name"`
		Description string `yaml:"description"`
	}

	// DatasetPattern rewrites dataset names matching Pattern into Canonical. {var} captures
	// up to the next "/", {var*} captures the rest. An empty Namespace matches every namespace.
	DatasetPattern struct {
		Namespace string `yaml:"namespace"`
		Pattern   string `yaml:"pattern"`
		Canonical string `yaml:"canonical"`
	}
)

// LoadCatalogFile reads the catalog file at path.
//
// A missing or empty file yields an empty configuration: the catalog file is optional.
// Unreadable or malformed files are reported so a typo does not silently drop the seed.
func LoadCatalogFile(path string) (*CatalogFile, error) {
	file := &CatalogFile{NamespaceAliases: map[string]string{}}

	data, err := os.ReadFile(path) //nolint:gosec // path is from trusted config source
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Catalog file not found, continuing without seed data",
				slog.String("path", path))

			return file, nil
		}

		return nil, fmt.Errorf("failed to read catalog file %s: %w", path, err)
	}

	if len(data) == 0 {
		return file, nil
	}

	if err := yaml.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog file %s: %w", path, err)
	}

	if file.NamespaceAliases == nil {
		file.NamespaceAliases = map[string]string{}
	}

	return file, nil
}

// LoadCatalogFileFromEnv loads the catalog file named by CATALOG_CONFIG_PATH, falling back to
// ".catalog.yaml" in the working directory.
func LoadCatalogFileFromEnv() (*CatalogFile, error) {
	return LoadCatalogFile(GetEnvStr(CatalogFilePathEnvVar, DefaultCatalogFilePath))
}
