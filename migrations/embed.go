package main

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strconv"
)

//go:embed *.sql
var embeddedMigrations embed.FS

// 001_name.up.sql / 001_name.down.sql
var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

var (
	// ErrNoMigrations is returned when the source holds no migration files.
	ErrNoMigrations = errors.New("no migration files found")

	// ErrUnpairedMigration is returned when an up file has no down file or vice versa.
	ErrUnpairedMigration = errors.New("unpaired migration")

	// ErrSequenceGap is returned when sequence numbers do not run 001, 002, ... without gaps.
	ErrSequenceGap = errors.New("gap in migration sequence")
)

type (
	// EmbeddedMigrations lists and validates the migration files compiled into the binary.
	EmbeddedMigrations struct {
		fs fs.FS
	}

	// MigrationFile is a parsed migration filename.
	MigrationFile struct {
		Sequence  int
		Name      string
		Direction string
		Filename  string
	}
)

// NewEmbeddedMigrations wraps filesystem, or the embedded *.sql files when filesystem is nil.
func NewEmbeddedMigrations(filesystem fs.FS) *EmbeddedMigrations {
	if filesystem == nil {
		filesystem = embeddedMigrations
	}

	return &EmbeddedMigrations{fs: filesystem}
}

// FS exposes the migration source for golang-migrate's iofs driver.
func (e *EmbeddedMigrations) FS() fs.FS {
	return e.fs
}

// List returns the well-formed migration files in lexical order. Other files are ignored.
func (e *EmbeddedMigrations) List() ([]MigrationFile, error) {
	entries, err := fs.ReadDir(e.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	files := make([]MigrationFile, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		file, ok := parseMigrationFilename(entry.Name())
		if !ok {
			continue
		}

		files = append(files, file)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })

	return files, nil
}

// Validate checks that every migration has an up/down pair and that sequences start at 001 without gaps.
func (e *EmbeddedMigrations) Validate() error {
	files, err := e.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return ErrNoMigrations
	}

	pairs := make(map[string]map[string]bool)
	sequences := make(map[int]bool)

	for _, file := range files {
		key := fmt.Sprintf("%03d_%s", file.Sequence, file.Name)
		if pairs[key] == nil {
			pairs[key] = make(map[string]bool)
		}

		pairs[key][file.Direction] = true
		sequences[file.Sequence] = true
	}

	for key, directions := range pairs {
		if !directions["up"] {
			return fmt.Errorf("%w: %s has no up migration", ErrUnpairedMigration, key)
		}

		if !directions["down"] {
			return fmt.Errorf("%w: %s has no down migration", ErrUnpairedMigration, key)
		}
	}

	for seq := 1; seq <= len(sequences); seq++ {
		if !sequences[seq] {
			return fmt.Errorf("%w: missing %03d", ErrSequenceGap, seq)
		}
	}

	return nil
}

// LatestSequence returns the highest migration sequence available, or 0.
func (e *EmbeddedMigrations) LatestSequence() int {
	files, err := e.List()
	if err != nil {
		return 0
	}

	latest := 0

	for _, file := range files {
		latest = max(latest, file.Sequence)
	}

	return latest
}

func parseMigrationFilename(filename string) (MigrationFile, bool) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 { //nolint: mnd
		return MigrationFile{}, false
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return MigrationFile{}, false
	}

	return MigrationFile{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, true
}
