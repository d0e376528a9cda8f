// Package canonicalization derives content-addressed identities for catalog rows.
//
// Every function here is pure: equal inputs produce equal outputs on any process or machine.
// Callers rely on the store's ON CONFLICT upserts to collapse equal keys onto one row.
//
// Key functions:
//   - VersionKeyForJob: job version identity from namespace, name, location and context
//   - VersionKeyForDataset: dataset version identity from its field set and producing run
//   - Serialize + Checksum: canonical bytes and SHA-256 digest for job contexts and run args
package canonicalization

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// catalogNamespace scopes every UUIDv5 version key issued by the catalog.
var catalogNamespace = uuid.MustParse("6b1f5a4e-2f4d-5c6a-9e0b-3c1d7f8a2b90") //nolint: gochecknoglobals

type (
	// Field is the (name, type) pair that identifies a dataset field for versioning.
	Field struct {
		Name string
		Type string
	}
)

// Serialize renders a string map as canonical JSON: keys sorted byte-wise, no whitespace.
// A nil or empty map serializes to "{}".
//
// encoding/json sorts map keys and emits no insignificant whitespace, which is exactly the
// canonical form; HTML escaping is disabled so payloads such as SQL text are stored verbatim.
func Serialize(values map[string]string) (string, error) {
	if len(values) == 0 {
		return "{}", nil
	}

	var sb strings.Builder

	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(values); err != nil {
		return "", fmt.Errorf("failed to serialize: %w", err)
	}

	return strings.TrimSuffix(sb.String(), "\n"), nil
}

// Checksum returns the lowercase hex SHA-256 of a serialized payload.
// It is the unique key of job_contexts and run_args rows.
func Checksum(serialized string) string {
	return hashSHA256(serialized)
}

// VersionKeyForJob derives the job version key.
//
// Formula: UUIDv5(catalog, namespace ":" job ":" location ":" k1=v1,k2=v2) with context pairs
// sorted by key. Byte-identical job definitions collapse onto one version.
//
// Example:
//
//	VersionKeyForJob("ns1", "etl_job", "s3://code/v1", nil) == VersionKeyForJob("ns1", "etl_job", "s3://code/v1", map[string]string{})
func VersionKeyForJob(namespace, jobName, location string, context map[string]string) uuid.UUID {
	input := strings.Join([]string{namespace, jobName, location, joinPairs(context)}, ":")

	return uuid.NewSHA1(catalogNamespace, []byte(input))
}

// VersionKeyForDataset derives a dataset version key from the dataset identity, its field set
// (order-insensitive) and the producing run. runID may be empty for versions with no producer.
// Datasets sharing a source and physical name still get distinct keys through name.
func VersionKeyForDataset(namespace, name, sourceName, physicalName string, fields []Field, runID string) uuid.UUID {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.Name+":"+f.Type)
	}

	sort.Strings(parts)

	input := strings.Join([]string{namespace, name, sourceName, physicalName, strings.Join(parts, ","), runID}, ":")

	return uuid.NewSHA1(catalogNamespace, []byte(input))
}

// VersionKeyForExternalVersion maps a producer-supplied dataset version, such as a table format
// snapshot id, onto a version key scoped to the dataset. UUID-shaped versions are compared in
// canonical form, so casing does not matter.
func VersionKeyForExternalVersion(namespace, name, version string) uuid.UUID {
	if parsed, err := uuid.Parse(version); err == nil {
		version = parsed.String()
	}

	return uuid.NewSHA1(catalogNamespace, []byte(namespace+":"+name+"@"+version))
}

func joinPairs(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+values[k])
	}

	return strings.Join(pairs, ",")
}

func hashSHA256(input string) string {
	hash := sha256.Sum256([]byte(input))

	return hex.EncodeToString(hash[:])
}
