// Package aliasing rewrites dataset identities reported by different tools onto one canonical
// identity, so the same table seen by dbt, Airflow and Spark lands on one catalog dataset.
//
// Namespace aliases are exact matches on the dataset namespace. Dataset patterns then rewrite
// the dataset name within a namespace:
//
//	pattern:   "{schema}.{table}"
//	canonical: "analytics.{schema}.{table}"
//
// {var} captures any characters except "/", {var*} captures the rest including "/".
package aliasing

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/lineage-io/catalog/internal/catalog"
	"github.com/lineage-io/catalog/internal/config"
)

type (
	compiledPattern struct {
		namespace string
		regex     *regexp.Regexp
		canonical string
	}

	// Resolver maps dataset ids to canonical ids. It is immutable after construction and
	// safe for concurrent use. A nil Resolver resolves every id to itself.
	Resolver struct {
		namespaces map[string]string
		patterns   []compiledPattern
	}
)

// variableRegex matches {name} or {name*} in a pattern.
var variableRegex = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\*?\}`)

// compilePattern converts a pattern into an anchored regex with named groups.
//
// Pattern: "{schema}.{table}" → Regex: ^(?P<schema>[^/]+)\.(?P<table>[^/]+)$.
// Pattern: "/warehouse/{path*}" → Regex: ^/warehouse/(?P<path>.+)$.
func compilePattern(pattern string) (*regexp.Regexp, error) {
	result := regexp.QuoteMeta(pattern)

	for _, match := range variableRegex.FindAllStringSubmatch(pattern, -1) {
		fullMatch, name := match[0], match[1]

		group := "(?P<" + name + ">[^/]+)"
		if strings.HasSuffix(fullMatch, "*}") {
			group = "(?P<" + name + ">.+)"
		}

		result = strings.Replace(result, regexp.QuoteMeta(fullMatch), group, 1)
	}

	return regexp.Compile("^" + result + "$")
}

// NewResolver builds a resolver from the catalog file. Patterns with an empty pattern or
// canonical, or that fail to compile, are skipped with a warning.
func NewResolver(file *config.CatalogFile) *Resolver {
	r := &Resolver{namespaces: map[string]string{}}
	if file == nil {
		return r
	}

	for alias, canonical := range file.NamespaceAliases {
		alias, canonical = strings.TrimSpace(alias), strings.TrimSpace(canonical)
		if alias == "" || canonical == "" {
			slog.Warn("Skipping namespace alias with empty value", slog.String("alias", alias))

			continue
		}

		r.namespaces[alias] = canonical
	}

	for _, dp := range file.DatasetPatterns {
		pattern := strings.TrimSpace(dp.Pattern)
		canonical := strings.TrimSpace(dp.Canonical)

		if pattern == "" || canonical == "" {
			slog.Warn("Skipping dataset pattern with empty pattern or canonical",
				slog.String("pattern", pattern))

			continue
		}

		regex, err := compilePattern(pattern)
		if err != nil {
			slog.Warn("Skipping dataset pattern with invalid regex",
				slog.String("pattern", pattern),
				slog.String("error", err.Error()))

			continue
		}

		r.patterns = append(r.patterns, compiledPattern{
			namespace: strings.TrimSpace(dp.Namespace),
			regex:     regex,
			canonical: canonical,
		})
	}

	return r
}

// Len returns the number of aliases and patterns in effect.
func (r *Resolver) Len() int {
	if r == nil {
		return 0
	}

	return len(r.namespaces) + len(r.patterns)
}

// ResolveNamespace returns the canonical namespace for an alias, or namespace itself.
func (r *Resolver) ResolveNamespace(namespace string) string {
	if r == nil {
		return namespace
	}

	if canonical, ok := r.namespaces[namespace]; ok {
		return canonical
	}

	return namespace
}

// Resolve returns the canonical id of a dataset. The namespace alias is applied first and
// patterns are matched against the name within the resolved namespace.
func (r *Resolver) Resolve(id catalog.DatasetID) catalog.DatasetID {
	if r == nil {
		return id
	}

	id.Namespace = r.ResolveNamespace(id.Namespace)

	for _, cp := range r.patterns {
		if cp.namespace != "" && cp.namespace != id.Namespace {
			continue
		}

		match := cp.regex.FindStringSubmatch(id.Name)
		if match == nil {
			continue
		}

		name := cp.canonical

		for i, group := range cp.regex.SubexpNames() {
			if i == 0 || group == "" {
				continue
			}

			name = strings.ReplaceAll(name, "{"+group+"}", match[i])
			name = strings.ReplaceAll(name, "{"+group+"*}", match[i])
		}

		id.Name = name

		return id
	}

	return id
}
