package store

import (
	"context"
	"path/filepath"
	"time"

	"github.com/KaramelBytes/equiplens-cli/internal/equipment"
)

// Dataset is a stored upload with its cached summary.
type Dataset struct {
	ID         int               `json:"id"`
	Owner      string            `json:"owner,omitempty"`
	Filename   string            `json:"filename"`
	UploadedAt time.Time         `json:"uploaded_at"`
	Summary    equipment.Summary `json:"summary"`

	dir string
}

// DatasetID implements analysis.Dataset.
func (d *Dataset) DatasetID() int { return d.ID }

// OriginalFilename implements analysis.Dataset.
func (d *Dataset) OriginalFilename() string { return d.Filename }

// DatasetSummary implements analysis.Dataset.
func (d *Dataset) DatasetSummary() equipment.Summary { return d.Summary }

// SourcePath is the stored copy of the uploaded CSV.
func (d *Dataset) SourcePath() string { return filepath.Join(d.dir, sourceFileName) }

// LoadTable re-reads the stored CSV leniently.
func (d *Dataset) LoadTable(ctx context.Context) ([]equipment.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return equipment.LoadTable(d.SourcePath())
}

func (d *Dataset) entry() Entry {
	return Entry{
		ID:             d.ID,
		Owner:          d.Owner,
		Filename:       d.Filename,
		UploadedAt:     d.UploadedAt,
		TotalEquipment: d.Summary.TotalEquipment,
	}
}
