package catalog

import (
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLimit is applied when a list request asks for zero rows.
	DefaultLimit = 100

	// MaxLimit caps a single list page.
	MaxLimit = 1000
)

type (
	// NamespaceMeta is the mutable part of a namespace. An empty OwnerName keeps the current owner.
	NamespaceMeta struct {
		OwnerName   string `validate:"omitempty,max=255"`
		Description string
	}

	// SourceMeta describes a source.
	SourceMeta struct {
		Type          string `validate:"required,max=64"`
		ConnectionURL string `validate:"required"`
		Description   string
	}

	// TagMeta describes a tag.
	TagMeta struct {
		Description string
	}

	// FieldMeta is a field submitted with a dataset.
	FieldMeta struct {
		Name        string   `validate:"required,max=255"`
		Type        string   `validate:"required,max=255"`
		Description string
		Tags        []string `validate:"dive,required,max=255"`
	}

	// DatasetMeta is the input to a dataset upsert. Version overrides the derived version
	// key; RunID attributes the new version to the run that produced it.
	DatasetMeta struct {
		Type         DatasetType `validate:"omitempty,oneof=TABLE STREAM"`
		PhysicalName string      `validate:"required,max=1024"`
		SourceName   string      `validate:"required,max=1024"`
		Fields       []FieldMeta `validate:"dive"`
		Tags         []string    `validate:"dive,required,max=255"`
		Description  string
		Version      *uuid.UUID
		RunID        *uuid.UUID
	}

	// JobMeta is the input to a job upsert. Inputs and outputs reference datasets that are
	// expected to exist; unresolved references are skipped. RunID links an existing run to
	// the resulting job version.
	JobMeta struct {
		Type        JobType `validate:"omitempty,oneof=BATCH STREAM SERVICE"`
		Location    string  `validate:"omitempty,max=2048"`
		Context     map[string]string
		Inputs      []DatasetID `validate:"dive"`
		Outputs     []DatasetID `validate:"dive"`
		Description string
		RunID       *uuid.UUID
	}

	// RunMeta is the input to run creation. ID is optional; when set it must not exist yet.
	RunMeta struct {
		ID               *uuid.UUID
		Args             map[string]string
		NominalStartTime *time.Time
		NominalEndTime   *time.Time
	}

	// Page bounds a list query.
	Page struct {
		Limit  int `validate:"gte=0"`
		Offset int `validate:"gte=0"`
	}
)

// Normalized returns the page with the default limit applied and the limit capped.
func (p Page) Normalized() Page {
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}

	p.Limit = min(p.Limit, MaxLimit)

	return p
}

// TypeOrDefault returns the dataset type, defaulting to TABLE.
func (m DatasetMeta) TypeOrDefault() DatasetType {
	if m.Type == "" {
		return DatasetTypeTable
	}

	return m.Type
}

// TypeOrDefault returns the job type, defaulting to BATCH.
func (m JobMeta) TypeOrDefault() JobType {
	if m.Type == "" {
		return JobTypeBatch
	}

	return m.Type
}
