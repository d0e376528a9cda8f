package canonicalization

import (
	"strings"
)

const (
	twoNamespaceParts = 2

	// UnknownSourceType is used for placeholder sources whose namespace carries no scheme.
	UnknownSourceType = "UNKNOWN"
)

// NormalizeNamespace rewrites a dataset namespace so equivalent spellings collapse onto one
// source: postgres -> postgresql, s3a/s3n -> s3, lowercase schemes, default ports removed.
// Strings without "://" pass through unchanged. The URL is split by hand because net/url
// would re-encode masked credentials.
//
// Examples:
//   - NormalizeNamespace("postgres://prod-db:5432") → "postgresql://prod-db"
//   - NormalizeNamespace("s3a://bucket") → "s3://bucket"
//   - NormalizeNamespace("bigquery") → "bigquery"
func NormalizeNamespace(namespace string) string {
	if !strings.Contains(namespace, "://") {
		return namespace
	}

	parts := strings.SplitN(namespace, "://", twoNamespaceParts)
	if len(parts) != twoNamespaceParts {
		return namespace
	}

	scheme := normalizeScheme(parts[0])

	return scheme + "://" + removeDefaultPort(scheme, parts[1])
}

// SourceForNamespace derives the placeholder source used when a lineage event references
// datasets without an explicit dataSource facet. The normalized namespace is both the source
// name and its connection URL; the type is the upper-cased scheme.
//
// Examples:
//   - SourceForNamespace("postgres://db:5432") → ("postgresql://db", "POSTGRESQL", "postgresql://db")
//   - SourceForNamespace("bigquery") → ("bigquery", "UNKNOWN", "bigquery")
func SourceForNamespace(namespace string) (string, string, string) {
	normalized := NormalizeNamespace(strings.TrimSpace(namespace))

	sourceType := UnknownSourceType
	if scheme, _, ok := strings.Cut(normalized, "://"); ok && scheme != "" {
		sourceType = strings.ToUpper(scheme)
	}

	return normalized, sourceType, normalized
}

func normalizeScheme(scheme string) string {
	switch strings.ToLower(scheme) {
	case "postgres":
		return "postgresql"
	case "s3a", "s3n":
		return "s3"
	default:
		return strings.ToLower(scheme)
	}
}

// removeDefaultPort strips the scheme's default port whether it ends the authority,
// precedes a path or precedes a query string.
func removeDefaultPort(scheme, remainder string) string {
	defaults := map[string]string{
		"postgresql": ":5432",
		"mysql":      ":3306",
		"mongodb":    ":27017",
		"redis":      ":6379",
		"kafka":      ":9092",
	}

	defaultPort, exists := defaults[scheme]
	if !exists {
		return remainder
	}

	for _, sep := range []string{"/", "?"} {
		if strings.Contains(remainder, defaultPort+sep) {
			return strings.Replace(remainder, defaultPort+sep, sep, 1)
		}
	}

	return strings.TrimSuffix(remainder, defaultPort)
}
